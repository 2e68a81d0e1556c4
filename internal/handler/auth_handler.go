package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-exam-engine/internal/middleware"
	"github.com/stemsi/exstem-exam-engine/internal/response"
)

// AuthHandler exposes what the engine knows about the caller. Identities are
// issued elsewhere, so there is no login here.
type AuthHandler struct{}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler() *AuthHandler {
	return &AuthHandler{}
}

// Me godoc
// GET /api/v1/auth/me
// Returns the identity carried by the bearer token.
func (h *AuthHandler) Me(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	body := gin.H{
		"user_id": claims.UserID,
		"role":    claims.Role,
	}
	if claims.ExpiresAt != nil {
		body["expires_at"] = claims.ExpiresAt.Time
	}
	response.Success(c, http.StatusOK, body)
}
