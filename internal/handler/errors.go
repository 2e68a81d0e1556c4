package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-exam-engine/internal/response"
	"github.com/stemsi/exstem-exam-engine/internal/service"
)

// errorMapping pairs a service error with its HTTP status and API code.
type errorMapping struct {
	err    error
	status int
	code   response.ErrCode
}

// specificErrors is checked top-down before the category fallback.
var specificErrors = []errorMapping{
	{service.ErrNoActiveAttempt, http.StatusNotFound, response.ErrNoActiveAttempt},
	{service.ErrExamNotAvailable, http.StatusForbidden, response.ErrExamNotAvailable},
	{service.ErrMaxAttemptsExceeded, http.StatusForbidden, response.ErrMaxAttemptsExceeded},
	{service.ErrNotAttemptOwner, http.StatusForbidden, response.ErrNotAttemptOwner},
	{service.ErrNotExamAuthor, http.StatusForbidden, response.ErrNotExamAuthor},
	{service.ErrResultsHidden, http.StatusForbidden, response.ErrResultsHidden},
	{service.ErrTimeExpired, http.StatusBadRequest, response.ErrTimeExpired},
	{service.ErrExamLocked, http.StatusConflict, response.ErrExamLocked},
	{service.ErrQuestionLocked, http.StatusConflict, response.ErrQuestionLocked},
	{service.ErrQuestionNotApproved, http.StatusBadRequest, response.ErrQuestionNotApproved},
}

var categoryErrors = []errorMapping{
	{service.ErrNotFound, http.StatusNotFound, response.ErrNotFound},
	{service.ErrForbidden, http.StatusForbidden, response.ErrForbidden},
	{service.ErrInvalidState, http.StatusBadRequest, response.ErrInvalidState},
	{service.ErrInvalidInput, http.StatusBadRequest, response.ErrInvalidInput},
}

// failWithError writes the envelope for a service error. Anything outside the
// taxonomy is reported as an internal error; services have already logged it.
func failWithError(c *gin.Context, err error) {
	status, code := classify(err)
	response.Fail(c, status, code)
}

func classify(err error) (int, response.ErrCode) {
	if errors.Is(err, service.ErrInternal) {
		return http.StatusInternalServerError, response.ErrInternal
	}
	for _, m := range specificErrors {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	for _, m := range categoryErrors {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, response.ErrInternal
}
