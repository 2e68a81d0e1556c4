package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-exam-engine/internal/model"
	"github.com/stemsi/exstem-exam-engine/internal/repository"
)

// ExamStore is the persistence the exam service needs.
type ExamStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error)
	Create(ctx context.Context, e *model.Exam) error
	SetQuestions(ctx context.Context, examID uuid.UUID, questionIDs []uuid.UUID) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.ExamStatus) error
	ListPublishedIDs(ctx context.Context) ([]uuid.UUID, error)
}

// QuestionStore is the question catalog persistence.
type QuestionStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Question, error)
	ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Question, error)
	StatusByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]model.QuestionStatus, error)
	Create(ctx context.Context, q *model.Question) error
	Update(ctx context.Context, q *model.Question) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.QuestionStatus) error
}

// ExamCache stores assembled exam definitions. Get returns nil, nil on a miss.
type ExamCache interface {
	Get(ctx context.Context, examID uuid.UUID) (*model.ExamDefinition, error)
	Set(ctx context.Context, def *model.ExamDefinition) error
	Invalidate(ctx context.Context, examID uuid.UUID) error
}

// ExamService handles exam and question authoring, and serves exam
// definitions to the attempt engine through a read-through cache.
type ExamService struct {
	exams     ExamStore
	questions QuestionStore
	cache     ExamCache
	log       zerolog.Logger
	now       func() time.Time
}

// NewExamService creates a new ExamService.
func NewExamService(exams ExamStore, questions QuestionStore, cache ExamCache, log zerolog.Logger) *ExamService {
	return &ExamService{
		exams:     exams,
		questions: questions,
		cache:     cache,
		log:       log.With().Str("component", "exam_service").Logger(),
		now:       time.Now,
	}
}

// GetDefinition returns the exam with its questions in stored order.
func (s *ExamService) GetDefinition(ctx context.Context, examID uuid.UUID) (*model.ExamDefinition, error) {
	def, err := s.cache.Get(ctx, examID)
	if err != nil {
		s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Exam cache read failed, falling back to database")
	}
	if def != nil {
		return def, nil
	}

	def, err = s.loadDefinition(ctx, examID)
	if err != nil {
		return nil, err
	}
	if def.Exam.Status == model.ExamStatusPublished {
		if err := s.cache.Set(ctx, def); err != nil {
			s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Failed to cache exam definition")
		}
	}
	return def, nil
}

// PrewarmCache loads every published exam into the cache before traffic
// arrives. Individual failures are logged and skipped.
func (s *ExamService) PrewarmCache(ctx context.Context) (int, error) {
	ids, err := s.exams.ListPublishedIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list published exams: %w", err)
	}

	warmed := 0
	for _, id := range ids {
		def, err := s.loadDefinition(ctx, id)
		if err != nil {
			s.log.Warn().Err(err).Str("exam_id", id.String()).Msg("Failed to load exam for prewarm")
			continue
		}
		if err := s.cache.Set(ctx, def); err != nil {
			s.log.Warn().Err(err).Str("exam_id", id.String()).Msg("Failed to cache exam definition")
			continue
		}
		warmed++
	}
	return warmed, nil
}

func (s *ExamService) loadDefinition(ctx context.Context, examID uuid.UUID) (*model.ExamDefinition, error) {
	exam, err := s.exams.GetByID(ctx, examID)
	if err != nil {
		if errors.Is(err, repository.ErrExamNotFound) {
			return nil, ErrExamNotFound
		}
		s.log.Error().Err(err).Str("exam_id", examID.String()).Msg("Failed to load exam")
		return nil, fmt.Errorf("%w: get exam: %w", ErrInternal, err)
	}
	questions, err := s.questions.ListByExam(ctx, examID)
	if err != nil {
		s.log.Error().Err(err).Str("exam_id", examID.String()).Msg("Failed to load exam questions")
		return nil, fmt.Errorf("%w: list exam questions: %w", ErrInternal, err)
	}
	return &model.ExamDefinition{Exam: *exam, Questions: questions}, nil
}

// ─── Questions ─────────────────────────────────────────────────────────

// CreateQuestion validates and stores a new draft question.
func (s *ExamService) CreateQuestion(ctx context.Context, actor Actor, req model.CreateQuestionRequest) (*model.Question, error) {
	q, err := buildQuestion(req)
	if err != nil {
		return nil, err
	}
	q.AuthorID = actor.UserID
	q.Status = model.QuestionStatusDraft

	if err := s.questions.Create(ctx, q); err != nil {
		return nil, fmt.Errorf("create question: %w", err)
	}
	return q, nil
}

// UpdateQuestion replaces a question's content. Questions already served in
// an attempt are immutable.
func (s *ExamService) UpdateQuestion(ctx context.Context, actor Actor, id uuid.UUID, req model.CreateQuestionRequest) (*model.Question, error) {
	existing, err := s.getOwnedQuestion(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	q, err := buildQuestion(req)
	if err != nil {
		return nil, err
	}
	q.ID = existing.ID
	q.AuthorID = existing.AuthorID
	q.Status = existing.Status
	q.CreatedAt = existing.CreatedAt

	if err := s.questions.Update(ctx, q); err != nil {
		switch {
		case errors.Is(err, repository.ErrQuestionInUse):
			return nil, ErrQuestionLocked
		case errors.Is(err, repository.ErrQuestionNotFound):
			return nil, ErrQuestionNotFound
		}
		return nil, fmt.Errorf("update question: %w", err)
	}
	return q, nil
}

// SetQuestionStatus moves a question through draft, review, approved and archived.
func (s *ExamService) SetQuestionStatus(ctx context.Context, actor Actor, id uuid.UUID, status model.QuestionStatus) error {
	if _, err := s.getOwnedQuestion(ctx, actor, id); err != nil {
		return err
	}
	if err := s.questions.UpdateStatus(ctx, id, status); err != nil {
		if errors.Is(err, repository.ErrQuestionNotFound) {
			return ErrQuestionNotFound
		}
		return err
	}
	return nil
}

func (s *ExamService) getOwnedQuestion(ctx context.Context, actor Actor, id uuid.UUID) (*model.Question, error) {
	q, err := s.questions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrQuestionNotFound) {
			return nil, ErrQuestionNotFound
		}
		return nil, fmt.Errorf("get question: %w", err)
	}
	if actor.Role != RoleAdmin && q.AuthorID != actor.UserID {
		return nil, fmt.Errorf("%w: not the question author", ErrForbidden)
	}
	return q, nil
}

// buildQuestion turns an authoring request into a question, enforcing the
// per-type option rules. For choice questions exactly one option is correct
// and correct_answer_index, when given, must point at it.
func buildQuestion(req model.CreateQuestionRequest) (*model.Question, error) {
	q := &model.Question{
		Text:  req.Text,
		Type:  model.QuestionType(req.Type),
		Marks: req.Marks,
		NegativeMarking: model.NegativeMarking{
			Enabled:         req.NegativeMarking,
			PenaltyFraction: req.PenaltyFraction,
		},
		Options: make([]model.Option, len(req.Options)),
	}
	for i, o := range req.Options {
		q.Options[i] = model.Option{Text: o.Text, IsCorrect: o.IsCorrect}
	}

	if q.Marks <= 0 {
		return nil, fmt.Errorf("%w: marks must be positive", ErrInvalidQuestion)
	}
	if q.NegativeMarking.PenaltyFraction < 0 || q.NegativeMarking.PenaltyFraction > 1 {
		return nil, fmt.Errorf("%w: penalty fraction must be within [0, 1]", ErrInvalidQuestion)
	}

	if !q.Type.AutoScored() {
		if req.CorrectAnswerIndex != nil {
			return nil, fmt.Errorf("%w: %s questions have no correct option", ErrInvalidQuestion, q.Type)
		}
		q.NegativeMarking = model.NegativeMarking{}
		return q, nil
	}

	switch {
	case q.Type == model.QuestionTypeTrueFalse && len(q.Options) != 2:
		return nil, fmt.Errorf("%w: true/false questions need exactly 2 options", ErrInvalidQuestion)
	case len(q.Options) < 2:
		return nil, fmt.Errorf("%w: choice questions need at least 2 options", ErrInvalidQuestion)
	}

	correct := -1
	for i, o := range q.Options {
		if !o.IsCorrect {
			continue
		}
		if correct >= 0 {
			return nil, fmt.Errorf("%w: exactly one option must be correct", ErrInvalidQuestion)
		}
		correct = i
	}
	if correct < 0 {
		return nil, fmt.Errorf("%w: exactly one option must be correct", ErrInvalidQuestion)
	}
	if req.CorrectAnswerIndex != nil && *req.CorrectAnswerIndex != correct {
		return nil, fmt.Errorf("%w: correct_answer_index does not match the correct option", ErrInvalidQuestion)
	}
	q.CorrectAnswerIndex = &correct
	return q, nil
}

// ─── Exams ─────────────────────────────────────────────────────────────

// CreateExam stores a new draft exam owned by the actor.
func (s *ExamService) CreateExam(ctx context.Context, actor Actor, req model.CreateExamRequest) (*model.Exam, error) {
	if req.PassingMarks > req.TotalMarks {
		return nil, fmt.Errorf("%w: passing marks exceed total marks", ErrInvalidInput)
	}
	if req.StartDate != nil && req.EndDate != nil && !req.EndDate.After(*req.StartDate) {
		return nil, fmt.Errorf("%w: end date must be after start date", ErrInvalidInput)
	}

	maxAttempts := req.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	e := &model.Exam{
		Title:           req.Title,
		AuthorID:        actor.UserID,
		DurationMinutes: req.DurationMinutes,
		TotalMarks:      req.TotalMarks,
		PassingMarks:    req.PassingMarks,
		Settings: model.ExamSettings{
			RandomizeQuestions: req.RandomizeQuestions,
			MaxAttempts:        maxAttempts,
			ShowResults:        boolOr(req.ShowResults, true),
			ShowCorrectAnswers: req.ShowCorrectAnswers,
			TimeLimitEnforced:  boolOr(req.TimeLimitEnforced, true),
		},
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
		Status:      model.ExamStatusDraft,
		IsActive:    true,
		QuestionIDs: []uuid.UUID{},
	}

	if err := s.exams.Create(ctx, e); err != nil {
		return nil, fmt.Errorf("create exam: %w", err)
	}
	return e, nil
}

// SetExamQuestions replaces the exam's ordered question list. Rejected once
// any attempt exists, since attempts snapshot the list at creation.
func (s *ExamService) SetExamQuestions(ctx context.Context, actor Actor, examID uuid.UUID, ids []uuid.UUID) error {
	exam, err := s.getOwnedExam(ctx, actor, examID)
	if err != nil {
		return err
	}

	seen := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: question %s listed twice", ErrInvalidInput, id)
		}
		seen[id] = struct{}{}
	}

	statuses, err := s.questions.StatusByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("load question statuses: %w", err)
	}
	for _, id := range ids {
		st, ok := statuses[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrQuestionNotFound, id)
		}
		if exam.Status != model.ExamStatusDraft && st != model.QuestionStatusApproved {
			return ErrQuestionNotApproved
		}
	}

	if err := s.exams.SetQuestions(ctx, examID, ids); err != nil {
		switch {
		case errors.Is(err, repository.ErrExamHasAttempts):
			return ErrExamLocked
		case errors.Is(err, repository.ErrExamNotFound):
			return ErrExamNotFound
		}
		return fmt.Errorf("set exam questions: %w", err)
	}
	s.invalidate(ctx, examID)
	return nil
}

// PublishExam makes a draft exam available to students. Every question must
// be approved.
func (s *ExamService) PublishExam(ctx context.Context, actor Actor, examID uuid.UUID) (*model.ExamDefinition, error) {
	if _, err := s.getOwnedExam(ctx, actor, examID); err != nil {
		return nil, err
	}
	def, err := s.loadDefinition(ctx, examID)
	if err != nil {
		return nil, err
	}
	if def.Exam.Status != model.ExamStatusDraft {
		return nil, ErrExamNotDraft
	}
	if len(def.Questions) == 0 {
		return nil, fmt.Errorf("%w: exam has no questions", ErrInvalidInput)
	}

	sum := 0.0
	for _, q := range def.Questions {
		if q.Status != model.QuestionStatusApproved {
			return nil, ErrQuestionNotApproved
		}
		sum += q.Marks
	}
	if math.Abs(sum-def.Exam.TotalMarks) > 1e-9 {
		s.log.Warn().
			Str("exam_id", examID.String()).
			Float64("question_marks", sum).
			Float64("total_marks", def.Exam.TotalMarks).
			Msg("Question marks do not add up to exam total; total_marks stays authoritative")
	}

	if err := s.exams.UpdateStatus(ctx, examID, model.ExamStatusPublished); err != nil {
		return nil, fmt.Errorf("publish exam: %w", err)
	}
	def.Exam.Status = model.ExamStatusPublished
	def.Exam.UpdatedAt = s.now()

	if err := s.cache.Set(ctx, def); err != nil {
		s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Failed to warm exam cache")
	}
	s.log.Info().Str("exam_id", examID.String()).Int("questions", len(def.Questions)).Msg("Exam published")
	return def, nil
}

// SetExamStatus archives, suspends or reinstates a published exam. Drafts
// go live only through PublishExam.
func (s *ExamService) SetExamStatus(ctx context.Context, actor Actor, examID uuid.UUID, status model.ExamStatus) error {
	exam, err := s.getOwnedExam(ctx, actor, examID)
	if err != nil {
		return err
	}
	if exam.Status == model.ExamStatusDraft || exam.Status == model.ExamStatusArchived {
		return fmt.Errorf("%w: cannot move a %s exam to %s", ErrInvalidState, exam.Status, status)
	}
	if err := s.exams.UpdateStatus(ctx, examID, status); err != nil {
		return fmt.Errorf("update exam status: %w", err)
	}
	s.invalidate(ctx, examID)
	return nil
}

func (s *ExamService) getOwnedExam(ctx context.Context, actor Actor, examID uuid.UUID) (*model.Exam, error) {
	exam, err := s.exams.GetByID(ctx, examID)
	if err != nil {
		if errors.Is(err, repository.ErrExamNotFound) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("get exam: %w", err)
	}
	if err := authorizeStaff(actor, exam); err != nil {
		return nil, err
	}
	return exam, nil
}

func (s *ExamService) invalidate(ctx context.Context, examID uuid.UUID) {
	if err := s.cache.Invalidate(ctx, examID); err != nil {
		s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Failed to invalidate exam cache")
	}
}

// authorizeStaff admits admins and the instructor who authored the exam.
func authorizeStaff(actor Actor, exam *model.Exam) error {
	switch actor.Role {
	case RoleAdmin:
		return nil
	case RoleInstructor:
		if exam.AuthorID == actor.UserID {
			return nil
		}
		return ErrNotExamAuthor
	default:
		return ErrForbidden
	}
}

func boolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}
