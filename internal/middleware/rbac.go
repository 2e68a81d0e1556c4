package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-exam-engine/internal/response"
	"github.com/stemsi/exstem-exam-engine/internal/service"
)

// RequireStudent admits only student tokens.
func RequireStudent() gin.HandlerFunc {
	return requireRole(response.ErrStudentAccessOnly, service.RoleStudent)
}

// RequireStaff admits instructors and admins.
func RequireStaff() gin.HandlerFunc {
	return requireRole(response.ErrInstructorAccessOnly, service.RoleInstructor, service.RoleAdmin)
}

// RequireAdmin admits only admin tokens.
func RequireAdmin() gin.HandlerFunc {
	return requireRole(response.ErrForbidden, service.RoleAdmin)
}

func requireRole(denied response.ErrCode, roles ...service.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		for _, r := range roles {
			if claims.Role == r {
				c.Next()
				return
			}
		}

		response.AbortFail(c, http.StatusForbidden, denied)
	}
}
