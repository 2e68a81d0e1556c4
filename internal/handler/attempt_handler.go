package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-exam-engine/internal/middleware"
	"github.com/stemsi/exstem-exam-engine/internal/model"
	"github.com/stemsi/exstem-exam-engine/internal/repository"
	"github.com/stemsi/exstem-exam-engine/internal/response"
	"github.com/stemsi/exstem-exam-engine/internal/service"
	"github.com/stemsi/exstem-exam-engine/internal/validator"
)

// AttemptOperations is the attempt engine as seen by the HTTP and WebSocket layers.
type AttemptOperations interface {
	StartAttempt(ctx context.Context, examID uuid.UUID, userID int, meta model.ClientMeta) (*service.AttemptView, bool, error)
	GetCurrentAttempt(ctx context.Context, examID uuid.UUID, userID int) (*service.CurrentAttempt, error)
	RecordAnswer(ctx context.Context, attemptID uuid.UUID, userID int, in service.AnswerInput) (*model.AnswerSlot, error)
	ToggleFlag(ctx context.Context, attemptID uuid.UUID, userID, index int) (*model.AnswerSlot, error)
	RecordViolation(ctx context.Context, attemptID uuid.UUID, userID int, in service.ViolationInput) (*service.ViolationResult, error)
	Submit(ctx context.Context, attemptID uuid.UUID, userID int) (*service.SubmitResult, error)
	GetResult(ctx context.Context, attemptID uuid.UUID, actor service.Actor) (*service.AttemptResult, error)
	ForceSubmit(ctx context.Context, attemptID uuid.UUID, actor service.Actor) (*service.SubmitResult, error)
	ReviewAttempt(ctx context.Context, attemptID uuid.UUID, actor service.Actor, in service.ReviewInput) (*model.Attempt, error)
	ListAttempts(ctx context.Context, examID uuid.UUID, actor service.Actor, page, perPage int) ([]repository.AttemptSummary, int, error)
	SweepExpired(ctx context.Context) (int, error)
}

// AttemptHandler handles the student-facing attempt endpoints.
type AttemptHandler struct {
	attempts AttemptOperations
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(attempts AttemptOperations) *AttemptHandler {
	return &AttemptHandler{attempts: attempts}
}

// StartAttempt godoc
// POST /api/v1/attempts/start
// Creates a new attempt (201) or resumes the open one (200).
func (h *AttemptHandler) StartAttempt(c *gin.Context) {
	var req model.StartAttemptRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	examID, err := uuid.Parse(req.ExamID)
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	meta := model.ClientMeta{
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		Timezone:  req.Timezone,
	}
	view, created, err := h.attempts.StartAttempt(c.Request.Context(), examID, middleware.GetActor(c).UserID, meta)
	if err != nil {
		failWithError(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	response.Success(c, status, view)
}

// GetCurrentAttempt godoc
// GET /api/v1/attempts/current/:exam_id
// Returns the open attempt, or time_expired when the poll closed it.
func (h *AttemptHandler) GetCurrentAttempt(c *gin.Context) {
	examID, ok := uuidParam(c, "exam_id")
	if !ok {
		return
	}

	cur, err := h.attempts.GetCurrentAttempt(c.Request.Context(), examID, middleware.GetActor(c).UserID)
	if err != nil {
		failWithError(c, err)
		return
	}

	if cur.TimeExpired {
		response.Success(c, http.StatusOK, gin.H{
			"time_expired": true,
			"message":      cur.Message,
			"attempt_id":   cur.AttemptID,
		})
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"time_expired": false,
		"attempt":      cur.View.Attempt,
		"questions":    cur.View.Questions,
	})
}

// SubmitAnswer godoc
// PUT /api/v1/attempts/:id/answer
func (h *AttemptHandler) SubmitAnswer(c *gin.Context) {
	attemptID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	var req model.RecordAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	questionID, err := uuid.Parse(req.QuestionID)
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	slot, err := h.attempts.RecordAnswer(c.Request.Context(), attemptID, middleware.GetActor(c).UserID, service.AnswerInput{
		QuestionID:     questionID,
		SelectedOption: req.SelectedOption,
		TextAnswer:     req.TextAnswer,
		TimeSpent:      req.TimeSpent,
	})
	if err != nil {
		failWithError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"answer": slot})
}

// ToggleFlag godoc
// PUT /api/v1/attempts/:id/flag/:question_index
func (h *AttemptHandler) ToggleFlag(c *gin.Context) {
	attemptID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	index, err := strconv.Atoi(c.Param("question_index"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidInput)
		return
	}

	slot, err := h.attempts.ToggleFlag(c.Request.Context(), attemptID, middleware.GetActor(c).UserID, index)
	if err != nil {
		failWithError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"answer": slot})
}

// ReportViolation godoc
// POST /api/v1/attempts/:id/violations
func (h *AttemptHandler) ReportViolation(c *gin.Context) {
	attemptID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	var req model.ReportViolationRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	res, err := h.attempts.RecordViolation(c.Request.Context(), attemptID, middleware.GetActor(c).UserID, service.ViolationInput{
		Type:     req.Type,
		Severity: req.Severity,
	})
	if err != nil {
		failWithError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, res)
}

// SubmitAttempt godoc
// POST /api/v1/attempts/:id/submit
func (h *AttemptHandler) SubmitAttempt(c *gin.Context) {
	attemptID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	res, err := h.attempts.Submit(c.Request.Context(), attemptID, middleware.GetActor(c).UserID)
	if err != nil {
		failWithError(c, err)
		return
	}
	response.Success(c, http.StatusOK, res)
}

// GetResult godoc
// GET /api/v1/attempts/:id/result
// Filtered per role: students see correctness only when the exam allows it.
func (h *AttemptHandler) GetResult(c *gin.Context) {
	attemptID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	res, err := h.attempts.GetResult(c.Request.Context(), attemptID, middleware.GetActor(c))
	if err != nil {
		failWithError(c, err)
		return
	}
	response.Success(c, http.StatusOK, res)
}

// uuidParam parses a path parameter, writing the 400 itself on failure.
func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}
