package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-exam-engine/internal/middleware"
	"github.com/stemsi/exstem-exam-engine/internal/model"
	"github.com/stemsi/exstem-exam-engine/internal/response"
	"github.com/stemsi/exstem-exam-engine/internal/service"
	"github.com/stemsi/exstem-exam-engine/internal/validator"
)

// ExamAuthoring is the exam and question authoring surface.
type ExamAuthoring interface {
	GetDefinition(ctx context.Context, examID uuid.UUID) (*model.ExamDefinition, error)
	CreateQuestion(ctx context.Context, actor service.Actor, req model.CreateQuestionRequest) (*model.Question, error)
	UpdateQuestion(ctx context.Context, actor service.Actor, id uuid.UUID, req model.CreateQuestionRequest) (*model.Question, error)
	SetQuestionStatus(ctx context.Context, actor service.Actor, id uuid.UUID, status model.QuestionStatus) error
	CreateExam(ctx context.Context, actor service.Actor, req model.CreateExamRequest) (*model.Exam, error)
	SetExamQuestions(ctx context.Context, actor service.Actor, examID uuid.UUID, ids []uuid.UUID) error
	PublishExam(ctx context.Context, actor service.Actor, examID uuid.UUID) (*model.ExamDefinition, error)
	SetExamStatus(ctx context.Context, actor service.Actor, examID uuid.UUID, status model.ExamStatus) error
}

// ExamHandler handles exam and question authoring endpoints.
type ExamHandler struct {
	exams ExamAuthoring
}

// NewExamHandler creates a new ExamHandler.
func NewExamHandler(exams ExamAuthoring) *ExamHandler {
	return &ExamHandler{exams: exams}
}

// ─── Questions ─────────────────────────────────────────────────────────

// CreateQuestion godoc
// POST /api/v1/instructor/questions
func (h *ExamHandler) CreateQuestion(c *gin.Context) {
	var req model.CreateQuestionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	q, err := h.exams.CreateQuestion(c.Request.Context(), middleware.GetActor(c), req)
	if err != nil {
		failWithError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"question": q})
}

// UpdateQuestion godoc
// PUT /api/v1/instructor/questions/:id
// Rejected once the question has been served in an attempt.
func (h *ExamHandler) UpdateQuestion(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	var req model.CreateQuestionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	q, err := h.exams.UpdateQuestion(c.Request.Context(), middleware.GetActor(c), id, req)
	if err != nil {
		failWithError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"question": q})
}

// SetQuestionStatus godoc
// PATCH /api/v1/instructor/questions/:id/status
func (h *ExamHandler) SetQuestionStatus(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	var req model.SetQuestionStatusRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.exams.SetQuestionStatus(c.Request.Context(), middleware.GetActor(c), id, model.QuestionStatus(req.Status)); err != nil {
		failWithError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"id": id, "status": req.Status})
}

// ─── Exams ─────────────────────────────────────────────────────────────

// CreateExam godoc
// POST /api/v1/instructor/exams
// Creates a new draft exam.
func (h *ExamHandler) CreateExam(c *gin.Context) {
	var req model.CreateExamRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	exam, err := h.exams.CreateExam(c.Request.Context(), middleware.GetActor(c), req)
	if err != nil {
		failWithError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"exam": exam})
}

// GetExam godoc
// GET /api/v1/instructor/exams/:exam_id
// Returns the exam with its full questions, correct answers included.
func (h *ExamHandler) GetExam(c *gin.Context) {
	examID, ok := uuidParam(c, "exam_id")
	if !ok {
		return
	}

	def, err := h.exams.GetDefinition(c.Request.Context(), examID)
	if err != nil {
		failWithError(c, err)
		return
	}
	actor := middleware.GetActor(c)
	if actor.Role != service.RoleAdmin && def.Exam.AuthorID != actor.UserID {
		response.Fail(c, http.StatusForbidden, response.ErrNotExamAuthor)
		return
	}
	response.Success(c, http.StatusOK, def)
}

// SetExamQuestions godoc
// PUT /api/v1/instructor/exams/:exam_id/questions
func (h *ExamHandler) SetExamQuestions(c *gin.Context) {
	examID, ok := uuidParam(c, "exam_id")
	if !ok {
		return
	}

	var req model.SetExamQuestionsRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	ids, err := validator.ParseUUIDs(req.QuestionIDs)
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	if err := h.exams.SetExamQuestions(c.Request.Context(), middleware.GetActor(c), examID, ids); err != nil {
		failWithError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"exam_id": examID, "question_ids": ids})
}

// PublishExam godoc
// POST /api/v1/instructor/exams/:exam_id/publish
// Publishes a draft exam and warms the definition cache.
func (h *ExamHandler) PublishExam(c *gin.Context) {
	examID, ok := uuidParam(c, "exam_id")
	if !ok {
		return
	}

	def, err := h.exams.PublishExam(c.Request.Context(), middleware.GetActor(c), examID)
	if err != nil {
		failWithError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"exam": def.Exam, "question_count": len(def.Questions)})
}

// SetExamStatus godoc
// PATCH /api/v1/instructor/exams/:exam_id/status
func (h *ExamHandler) SetExamStatus(c *gin.Context) {
	examID, ok := uuidParam(c, "exam_id")
	if !ok {
		return
	}

	var req model.SetExamStatusRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.exams.SetExamStatus(c.Request.Context(), middleware.GetActor(c), examID, model.ExamStatus(req.Status)); err != nil {
		failWithError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"exam_id": examID, "status": req.Status})
}
