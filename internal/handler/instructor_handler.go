package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-exam-engine/internal/middleware"
	"github.com/stemsi/exstem-exam-engine/internal/model"
	"github.com/stemsi/exstem-exam-engine/internal/repository"
	"github.com/stemsi/exstem-exam-engine/internal/response"
	"github.com/stemsi/exstem-exam-engine/internal/service"
	"github.com/stemsi/exstem-exam-engine/internal/validator"
)

// InstructorHandler handles attempt oversight for instructors and admins.
type InstructorHandler struct {
	attempts AttemptOperations
	log      zerolog.Logger
}

// NewInstructorHandler creates a new InstructorHandler.
func NewInstructorHandler(attempts AttemptOperations, log zerolog.Logger) *InstructorHandler {
	return &InstructorHandler{
		attempts: attempts,
		log:      log.With().Str("component", "instructor_handler").Logger(),
	}
}

// ForceSubmit godoc
// POST /api/v1/instructor/attempts/:id/force-submit
func (h *InstructorHandler) ForceSubmit(c *gin.Context) {
	attemptID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	res, err := h.attempts.ForceSubmit(c.Request.Context(), attemptID, middleware.GetActor(c))
	if err != nil {
		failWithError(c, err)
		return
	}
	response.Success(c, http.StatusOK, res)
}

// ReviewAttempt godoc
// PUT /api/v1/instructor/attempts/:id/review
// Annotates a closed attempt; never changes its score.
func (h *InstructorHandler) ReviewAttempt(c *gin.Context) {
	attemptID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	var req model.ReviewAttemptRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	in := service.ReviewInput{
		AdjustedScore: req.AdjustedScore,
		Notes:         req.Notes,
		SlotOverrides: make([]model.SlotOverride, 0, len(req.SlotOverrides)),
	}
	for _, o := range req.SlotOverrides {
		qid, err := uuid.Parse(o.QuestionID)
		if err != nil {
			response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
			return
		}
		in.SlotOverrides = append(in.SlotOverrides, model.SlotOverride{QuestionID: qid, Marks: o.Marks})
	}

	a, err := h.attempts.ReviewAttempt(c.Request.Context(), attemptID, middleware.GetActor(c), in)
	if err != nil {
		failWithError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"attempt_id": a.ID, "review": a.Review})
}

// ListAttempts godoc
// GET /api/v1/instructor/exams/:exam_id/attempts?page=1&per_page=20
func (h *InstructorHandler) ListAttempts(c *gin.Context) {
	examID, ok := uuidParam(c, "exam_id")
	if !ok {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "20"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	list, total, err := h.attempts.ListAttempts(c.Request.Context(), examID, middleware.GetActor(c), page, perPage)
	if err != nil {
		failWithError(c, err)
		return
	}
	if list == nil {
		list = []repository.AttemptSummary{}
	}

	response.SuccessWithPagination(c, http.StatusOK, gin.H{"attempts": list}, response.NewPagination(page, perPage, total))
}

// SweepExpired godoc
// POST /api/v1/admin/attempts/sweep-expired
// Closes every open attempt whose time ran out, without waiting for the cron tick.
func (h *InstructorHandler) SweepExpired(c *gin.Context) {
	closed, err := h.attempts.SweepExpired(c.Request.Context())
	if err != nil {
		failWithError(c, err)
		return
	}
	h.log.Info().Int("closed", closed).Int("actor_id", middleware.GetActor(c).UserID).Msg("Manual expiry sweep")
	response.Success(c, http.StatusOK, gin.H{"closed": closed})
}
