package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-exam-engine/internal/config"
	"github.com/stemsi/exstem-exam-engine/internal/grading"
	"github.com/stemsi/exstem-exam-engine/internal/model"
	"github.com/stemsi/exstem-exam-engine/internal/repository"
)

// sweepBatchSize bounds how many expired attempts one sweep closes.
const sweepBatchSize = 500

// TimeExpiredMessage is shown when a read discovers the time limit ran out.
const TimeExpiredMessage = "Time limit exceeded. Your answers have been submitted automatically."

// AttemptStore is the attempt persistence the state machine runs on.
type AttemptStore interface {
	CreateOrResume(ctx context.Context, in repository.NewAttempt) (*model.Attempt, bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error)
	GetInProgress(ctx context.Context, examID uuid.UUID, userID int) (*model.Attempt, error)
	UpdateAnswer(ctx context.Context, attemptID uuid.UUID, u repository.AnswerUpdate) (*model.AnswerSlot, error)
	ToggleFlag(ctx context.Context, attemptID uuid.UUID, position int) (*model.AnswerSlot, error)
	UpdateTimeRemaining(ctx context.Context, attemptID uuid.UUID, seconds int) error
	Complete(ctx context.Context, attemptID uuid.UUID, fn func(a *model.Attempt) error) (*model.Attempt, error)
	RecordViolation(ctx context.Context, attemptID uuid.UUID, v model.Violation, flagThreshold int, suspend bool) (*repository.ViolationOutcome, error)
	SaveReview(ctx context.Context, attemptID uuid.UUID, review model.Review) (*model.Attempt, error)
	ListByExam(ctx context.Context, examID uuid.UUID, page, perPage int) ([]repository.AttemptSummary, int, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
}

// ExamProvider serves exam definitions to the state machine.
type ExamProvider interface {
	GetDefinition(ctx context.Context, examID uuid.UUID) (*model.ExamDefinition, error)
}

// EventPublisher receives completion outcomes and live monitor events.
type EventPublisher interface {
	PublishOutcome(ctx context.Context, outcome model.AttemptOutcome) error
	PublishMonitor(ctx context.Context, examID uuid.UUID, ev model.MonitorEvent) error
}

// ProctoringPolicy decides when violations flag or suspend an attempt.
type ProctoringPolicy struct {
	FlagThreshold   int
	SuspendSeverity int
}

// NewProctoringPolicy reads the policy from configuration.
func NewProctoringPolicy(cfg *config.Config) ProctoringPolicy {
	return ProctoringPolicy{
		FlagThreshold:   cfg.ProctorFlagThreshold,
		SuspendSeverity: cfg.ProctorSuspendSeverity,
	}
}

func (p ProctoringPolicy) suspends(severity int) bool {
	return p.SuspendSeverity > 0 && severity >= p.SuspendSeverity
}

// AttemptService is the attempt state machine: start, answer, flag, expire,
// complete, plus the proctoring and instructor operations around it.
type AttemptService struct {
	attempts AttemptStore
	exams    ExamProvider
	events   EventPublisher
	policy   ProctoringPolicy
	log      zerolog.Logger
	now      func() time.Time
	shuffle  func(n int, swap func(i, j int))
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(attempts AttemptStore, exams ExamProvider, events EventPublisher, policy ProctoringPolicy, log zerolog.Logger) *AttemptService {
	return &AttemptService{
		attempts: attempts,
		exams:    exams,
		events:   events,
		policy:   policy,
		log:      log.With().Str("component", "attempt_service").Logger(),
		now:      time.Now,
		shuffle:  rand.Shuffle,
	}
}

// ─── Views ─────────────────────────────────────────────────────────────

// AttemptView is an in-progress attempt with the questions a student sees,
// listed in slot order.
type AttemptView struct {
	Attempt   *model.Attempt             `json:"attempt"`
	Questions []model.QuestionForStudent `json:"questions"`
}

// CurrentAttempt is the result of polling the open attempt. When the poll
// discovers the time limit ran out, TimeExpired is set and View is nil.
type CurrentAttempt struct {
	TimeExpired bool         `json:"time_expired"`
	Message     string       `json:"message,omitempty"`
	AttemptID   *uuid.UUID   `json:"attempt_id,omitempty"`
	View        *AttemptView `json:"view,omitempty"`
}

// SubmitResult is returned to the student after completion.
type SubmitResult struct {
	AttemptID        uuid.UUID              `json:"attempt_id"`
	Status           model.AttemptStatus    `json:"status"`
	Method           model.SubmissionMethod `json:"method"`
	Score            model.Score            `json:"score"`
	Result           model.Result           `json:"result"`
	TimeSpentSeconds int                    `json:"time_spent"`
}

// AnswerInput is a validated answer submission.
type AnswerInput struct {
	QuestionID     uuid.UUID
	SelectedOption *int
	TextAnswer     *string
	TimeSpent      *int
}

// ViolationInput is a validated proctoring report.
type ViolationInput struct {
	Type     string
	Severity int
}

// ViolationResult is the attempt's proctoring state after a report.
type ViolationResult struct {
	AttemptID       uuid.UUID           `json:"attempt_id"`
	Status          model.AttemptStatus `json:"status"`
	TotalViolations int                 `json:"total_violations"`
	Flagged         bool                `json:"flagged"`
}

// ReviewInput is a validated review annotation.
type ReviewInput struct {
	AdjustedScore *float64
	Notes         *string
	SlotOverrides []model.SlotOverride
}

// ─── Start & read ──────────────────────────────────────────────────────

// StartAttempt creates a new attempt, or resumes the caller's open one. The
// bool result is true when a new attempt was created.
func (s *AttemptService) StartAttempt(ctx context.Context, examID uuid.UUID, userID int, meta model.ClientMeta) (*AttemptView, bool, error) {
	def, err := s.definition(ctx, examID, userID, "start attempt")
	if err != nil {
		return nil, false, err
	}
	if !def.Exam.IsAvailable(s.now()) {
		return nil, false, ErrExamNotAvailable
	}

	// An expired open attempt is closed first, then the start is retried once.
	for try := 0; try < 2; try++ {
		a, created, err := s.createOrResume(ctx, def, userID, meta)
		if err != nil {
			return nil, false, err
		}
		if !created && a.ExpiredAt(s.now()) {
			if err := s.expire(ctx, a.ID); err != nil {
				return nil, false, err
			}
			continue
		}

		if created {
			s.log.Info().
				Str("attempt_id", a.ID.String()).
				Str("exam_id", examID.String()).
				Int("user_id", userID).
				Int("attempt_number", a.AttemptNumber).
				Msg("Attempt started")
			s.publishMonitor(ctx, a, model.MonitorAttemptStarted, nil)
		} else {
			a.TimeRemainingSeconds = a.RemainingAt(s.now())
		}
		return &AttemptView{Attempt: a, Questions: studentQuestions(a, def)}, created, nil
	}
	return nil, false, fmt.Errorf("%w: attempt expired again while resuming", ErrInternal)
}

func (s *AttemptService) createOrResume(ctx context.Context, def *model.ExamDefinition, userID int, meta model.ClientMeta) (*model.Attempt, bool, error) {
	exam := def.Exam
	order := make([]uuid.UUID, len(exam.QuestionIDs))
	copy(order, exam.QuestionIDs)
	if exam.Settings.RandomizeQuestions {
		s.shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}

	maxAttempts := exam.Settings.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	a, created, err := s.attempts.CreateOrResume(ctx, repository.NewAttempt{
		ExamID:            exam.ID,
		UserID:            userID,
		MaxAttempts:       maxAttempts,
		DurationSeconds:   int(exam.Duration() / time.Second),
		TimeLimitEnforced: exam.Settings.TimeLimitEnforced,
		TotalMarks:        exam.TotalMarks,
		QuestionIDs:       order,
		ClientMeta:        meta,
		StartTime:         s.now(),
	})
	switch {
	case err == nil:
		return a, created, nil
	case errors.Is(err, repository.ErrAttemptLimitReached):
		return nil, false, ErrMaxAttemptsExceeded
	case errors.Is(err, repository.ErrAttemptConflict):
		// Lost a race the advisory lock should have prevented; the unique
		// index held, so the winner's attempt is the one to resume.
		a, err := s.attempts.GetInProgress(ctx, exam.ID, userID)
		if err != nil {
			return nil, false, s.internal(err, "resume after conflicting start", exam.ID, userID)
		}
		return a, false, nil
	default:
		return nil, false, s.internal(err, "create attempt", exam.ID, userID)
	}
}

// GetCurrentAttempt returns the caller's open attempt for an exam and runs the
// expiry check. An expired attempt is completed with method timeout and the
// result reports TimeExpired instead of attempt data.
func (s *AttemptService) GetCurrentAttempt(ctx context.Context, examID uuid.UUID, userID int) (*CurrentAttempt, error) {
	a, err := s.attempts.GetInProgress(ctx, examID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrAttemptNotFound) {
			return nil, ErrNoActiveAttempt
		}
		return nil, s.internal(err, "get current attempt", examID, userID)
	}

	now := s.now()
	if a.ExpiredAt(now) {
		if err := s.expire(ctx, a.ID); err != nil {
			return nil, err
		}
		return &CurrentAttempt{TimeExpired: true, Message: TimeExpiredMessage, AttemptID: &a.ID}, nil
	}

	a.TimeRemainingSeconds = a.RemainingAt(now)
	if err := s.attempts.UpdateTimeRemaining(ctx, a.ID, a.TimeRemainingSeconds); err != nil {
		s.log.Warn().Err(err).Str("attempt_id", a.ID.String()).Msg("Failed to persist time remaining")
	}

	def, err := s.definition(ctx, examID, userID, "current attempt")
	if err != nil {
		return nil, err
	}
	return &CurrentAttempt{View: &AttemptView{Attempt: a, Questions: studentQuestions(a, def)}}, nil
}

// ─── Mutations ─────────────────────────────────────────────────────────

// RecordAnswer overwrites the caller's answer for one question.
func (s *AttemptService) RecordAnswer(ctx context.Context, attemptID uuid.UUID, userID int, in AnswerInput) (*model.AnswerSlot, error) {
	a, err := s.openAttempt(ctx, attemptID, userID)
	if err != nil {
		return nil, err
	}

	slot := a.SlotByQuestion(in.QuestionID)
	if slot == nil {
		return nil, ErrQuestionNotInAttempt
	}
	if in.SelectedOption != nil {
		def, err := s.definition(ctx, a.ExamID, userID, "record answer")
		if err != nil {
			return nil, err
		}
		q, ok := def.QuestionByID()[in.QuestionID]
		if !ok {
			return nil, s.internal(grading.ErrMissingQuestion, "validate answer", a.ExamID, userID)
		}
		if *in.SelectedOption < 0 || *in.SelectedOption >= len(q.Options) {
			return nil, ErrInvalidOption
		}
	}

	timeSpent := slot.TimeSpentSeconds
	if in.TimeSpent != nil {
		timeSpent = *in.TimeSpent
	}

	updated, err := s.attempts.UpdateAnswer(ctx, attemptID, repository.AnswerUpdate{
		QuestionID:          in.QuestionID,
		SelectedOptionIndex: in.SelectedOption,
		TextAnswer:          in.TextAnswer,
		TimeSpentSeconds:    timeSpent,
		AnsweredAt:          s.now(),
	})
	if err != nil {
		return nil, s.mapWriteErr(err, "record answer", a)
	}
	return updated, nil
}

// ToggleFlag flips the review flag on the slot at index.
func (s *AttemptService) ToggleFlag(ctx context.Context, attemptID uuid.UUID, userID, index int) (*model.AnswerSlot, error) {
	a, err := s.openAttempt(ctx, attemptID, userID)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(a.Answers) {
		return nil, ErrInvalidIndex
	}

	slot, err := s.attempts.ToggleFlag(ctx, attemptID, a.Answers[index].Position)
	if err != nil {
		if errors.Is(err, repository.ErrSlotNotFound) {
			return nil, ErrInvalidIndex
		}
		return nil, s.mapWriteErr(err, "toggle flag", a)
	}
	return slot, nil
}

// RecordViolation stores a proctoring signal against the caller's open attempt.
func (s *AttemptService) RecordViolation(ctx context.Context, attemptID uuid.UUID, userID int, in ViolationInput) (*ViolationResult, error) {
	if in.Severity < 1 || in.Severity > 5 {
		return nil, fmt.Errorf("%w: severity must be between 1 and 5", ErrInvalidInput)
	}
	a, err := s.openAttempt(ctx, attemptID, userID)
	if err != nil {
		return nil, err
	}

	v := model.Violation{Type: in.Type, Severity: in.Severity, Timestamp: s.now()}
	suspend := s.policy.suspends(in.Severity)
	out, err := s.attempts.RecordViolation(ctx, attemptID, v, s.policy.FlagThreshold, suspend)
	if err != nil {
		return nil, s.mapWriteErr(err, "record violation", a)
	}

	res := &ViolationResult{
		AttemptID:       attemptID,
		Status:          out.Status,
		TotalViolations: out.TotalViolations,
		Flagged:         out.Flagged,
	}
	if out.Status == model.AttemptStatusSuspended {
		s.log.Warn().
			Str("attempt_id", attemptID.String()).
			Int("user_id", userID).
			Str("violation", in.Type).
			Int("severity", in.Severity).
			Msg("Attempt suspended by proctoring")
	}
	a.Status = out.Status
	s.publishMonitor(ctx, a, model.MonitorViolation, res)
	return res, nil
}

// Submit completes the caller's attempt. A submission arriving after the
// deadline is recorded as a timeout.
func (s *AttemptService) Submit(ctx context.Context, attemptID uuid.UUID, userID int) (*SubmitResult, error) {
	a, err := s.getAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if a.UserID != userID {
		return nil, ErrNotAttemptOwner
	}
	if a.Status != model.AttemptStatusInProgress {
		return nil, ErrAttemptNotActive
	}

	method := model.SubmissionManual
	if a.ExpiredAt(s.now()) {
		method = model.SubmissionTimeout
	}
	done, err := s.Complete(ctx, attemptID, method)
	if err != nil {
		return nil, err
	}
	return submitResult(done), nil
}

// ForceSubmit lets the exam's instructor or an admin close an open attempt.
func (s *AttemptService) ForceSubmit(ctx context.Context, attemptID uuid.UUID, actor Actor) (*SubmitResult, error) {
	a, err := s.getAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeStaffFor(ctx, actor, a.ExamID); err != nil {
		return nil, err
	}
	if a.Status != model.AttemptStatusInProgress {
		return nil, ErrAttemptNotActive
	}

	done, err := s.Complete(ctx, attemptID, model.SubmissionForceSubmit)
	if err != nil {
		return nil, err
	}
	s.log.Info().
		Str("attempt_id", attemptID.String()).
		Int("actor_id", actor.UserID).
		Msg("Attempt force-submitted")
	return submitResult(done), nil
}

// Complete closes an open attempt exactly once, scoring and grading it in the
// same transaction that flips its status. A second call observes
// ErrAttemptNotActive and never re-scores.
func (s *AttemptService) Complete(ctx context.Context, attemptID uuid.UUID, method model.SubmissionMethod) (*model.Attempt, error) {
	done, err := s.attempts.Complete(ctx, attemptID, func(a *model.Attempt) error {
		def, err := s.exams.GetDefinition(ctx, a.ExamID)
		if err != nil {
			return err
		}

		now := s.now()
		m := method
		a.EndTime = &now
		a.TimeRemainingSeconds = a.RemainingAt(now)
		a.Submission = model.Submission{
			SubmittedAt:   &now,
			AutoSubmitted: method != model.SubmissionManual,
			Method:        &m,
		}

		score, err := grading.Score(a, def.QuestionByID(), def.Exam.TotalMarks)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInternal, err)
		}
		a.Score = score
		a.Result = grading.Grade(score, &def.Exam)
		a.Status = method.TerminalStatus()
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrAttemptNotInProgress):
			return nil, ErrAttemptNotActive
		case errors.Is(err, repository.ErrAttemptNotFound):
			return nil, ErrAttemptNotFound
		case errors.Is(err, ErrInternal):
			s.log.Error().Err(err).Str("attempt_id", attemptID.String()).Msg("Scoring failed")
			return nil, err
		case errors.Is(err, ErrNotFound):
			return nil, err
		}
		s.log.Error().Err(err).Str("attempt_id", attemptID.String()).Msg("Completion failed")
		return nil, fmt.Errorf("%w: complete attempt: %w", ErrInternal, err)
	}

	s.log.Info().
		Str("attempt_id", done.ID.String()).
		Str("exam_id", done.ExamID.String()).
		Int("user_id", done.UserID).
		Str("method", string(method)).
		Int("percentage", done.Score.Percentage).
		Msg("Attempt completed")

	if err := s.events.PublishOutcome(ctx, outcomeOf(done)); err != nil {
		s.log.Error().Err(err).Str("attempt_id", done.ID.String()).Msg("Failed to enqueue attempt outcome")
	}
	s.publishMonitor(ctx, done, model.MonitorAttemptCompleted, submitResult(done))
	return done, nil
}

// SweepExpired closes every open attempt whose time limit has run out and
// returns how many it closed. Attempts closed concurrently are skipped.
func (s *AttemptService) SweepExpired(ctx context.Context) (int, error) {
	ids, err := s.attempts.ListExpired(ctx, s.now(), sweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("%w: list expired attempts: %w", ErrInternal, err)
	}

	closed := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return closed, ctx.Err()
		}
		if _, err := s.Complete(ctx, id, model.SubmissionTimeout); err != nil {
			if errors.Is(err, ErrAttemptNotActive) {
				continue
			}
			s.log.Error().Err(err).Str("attempt_id", id.String()).Msg("Failed to close expired attempt")
			continue
		}
		closed++
	}
	return closed, nil
}

// ─── Instructor & results ──────────────────────────────────────────────

// ReviewAttempt annotates a closed attempt. Score, result and status are
// never changed by a review.
func (s *AttemptService) ReviewAttempt(ctx context.Context, attemptID uuid.UUID, actor Actor, in ReviewInput) (*model.Attempt, error) {
	a, err := s.getAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	def, err := s.definition(ctx, a.ExamID, actor.UserID, "review attempt")
	if err != nil {
		return nil, err
	}
	if err := authorizeStaff(actor, &def.Exam); err != nil {
		return nil, err
	}
	if a.Status == model.AttemptStatusInProgress {
		return nil, ErrAttemptNotTerminal
	}

	if in.AdjustedScore != nil && (*in.AdjustedScore < 0 || *in.AdjustedScore > a.Score.Total) {
		return nil, fmt.Errorf("%w: adjusted score must be within [0, %v]", ErrInvalidInput, a.Score.Total)
	}
	questions := def.QuestionByID()
	for _, o := range in.SlotOverrides {
		if a.SlotByQuestion(o.QuestionID) == nil {
			return nil, ErrQuestionNotInAttempt
		}
		q, ok := questions[o.QuestionID]
		if !ok {
			return nil, s.internal(grading.ErrMissingQuestion, "review attempt", a.ExamID, a.UserID)
		}
		if o.Marks < 0 || o.Marks > q.Marks {
			return nil, fmt.Errorf("%w: override for %s must be within [0, %v]", ErrInvalidInput, o.QuestionID, q.Marks)
		}
	}

	now := s.now()
	reviewer := actor.UserID
	reviewed, err := s.attempts.SaveReview(ctx, attemptID, model.Review{
		AdjustedScore: in.AdjustedScore,
		Notes:         in.Notes,
		SlotOverrides: in.SlotOverrides,
		ReviewedBy:    &reviewer,
		ReviewedAt:    &now,
	})
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrAttemptIsActive):
			return nil, ErrAttemptNotTerminal
		case errors.Is(err, repository.ErrAttemptNotFound):
			return nil, ErrAttemptNotFound
		}
		return nil, s.internal(err, "save review", a.ExamID, a.UserID)
	}
	return reviewed, nil
}

// ListAttempts pages through an exam's attempts for its instructor or an admin.
func (s *AttemptService) ListAttempts(ctx context.Context, examID uuid.UUID, actor Actor, page, perPage int) ([]repository.AttemptSummary, int, error) {
	if err := s.authorizeStaffFor(ctx, actor, examID); err != nil {
		return nil, 0, err
	}
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	list, total, err := s.attempts.ListByExam(ctx, examID, page, perPage)
	if err != nil {
		return nil, 0, s.internal(err, "list attempts", examID, actor.UserID)
	}
	return list, total, nil
}

func (s *AttemptService) authorizeStaffFor(ctx context.Context, actor Actor, examID uuid.UUID) error {
	if !actor.Role.IsStaff() {
		return ErrForbidden
	}
	def, err := s.definition(ctx, examID, actor.UserID, "authorize staff")
	if err != nil {
		return err
	}
	return authorizeStaff(actor, &def.Exam)
}

// ─── Internal helpers ──────────────────────────────────────────────────

func (s *AttemptService) getAttempt(ctx context.Context, attemptID uuid.UUID) (*model.Attempt, error) {
	a, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, repository.ErrAttemptNotFound) {
			return nil, ErrAttemptNotFound
		}
		s.log.Error().Err(err).Str("attempt_id", attemptID.String()).Msg("Failed to load attempt")
		return nil, fmt.Errorf("%w: load attempt: %w", ErrInternal, err)
	}
	return a, nil
}

// openAttempt loads an attempt for a student mutation: the caller must own
// it, it must be in progress, and it must not have run out of time. An
// expired attempt is closed on the spot and ErrTimeExpired returned.
func (s *AttemptService) openAttempt(ctx context.Context, attemptID uuid.UUID, userID int) (*model.Attempt, error) {
	a, err := s.getAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if a.UserID != userID {
		return nil, ErrNotAttemptOwner
	}
	if a.Status != model.AttemptStatusInProgress {
		return nil, ErrAttemptNotActive
	}
	if a.ExpiredAt(s.now()) {
		if err := s.expire(ctx, a.ID); err != nil {
			return nil, err
		}
		return nil, ErrTimeExpired
	}
	return a, nil
}

// expire closes an attempt with method timeout. Losing the race to another
// closer is not an error: either way the attempt is no longer open.
func (s *AttemptService) expire(ctx context.Context, attemptID uuid.UUID) error {
	_, err := s.Complete(ctx, attemptID, model.SubmissionTimeout)
	if err != nil && !errors.Is(err, ErrAttemptNotActive) {
		return err
	}
	return nil
}

func (s *AttemptService) mapWriteErr(err error, op string, a *model.Attempt) error {
	switch {
	case errors.Is(err, repository.ErrAttemptNotInProgress):
		return ErrAttemptNotActive
	case errors.Is(err, repository.ErrAttemptNotFound):
		return ErrAttemptNotFound
	case errors.Is(err, repository.ErrSlotNotFound):
		return ErrQuestionNotInAttempt
	}
	return s.internal(err, op, a.ExamID, a.UserID)
}

// definition loads an exam definition. Faults that carry no category are
// logged and reported as ErrInternal.
func (s *AttemptService) definition(ctx context.Context, examID uuid.UUID, userID int, op string) (*model.ExamDefinition, error) {
	def, err := s.exams.GetDefinition(ctx, examID)
	if err == nil {
		return def, nil
	}
	if categorized(err) {
		return nil, err
	}
	return nil, s.internal(err, op, examID, userID)
}

// internal logs a fault with its context and returns an opaque Internal error.
func (s *AttemptService) internal(err error, op string, examID uuid.UUID, userID int) error {
	s.log.Error().Err(err).Str("op", op).Str("exam_id", examID.String()).Int("user_id", userID).Msg("Attempt operation failed")
	return fmt.Errorf("%w: %s: %w", ErrInternal, op, err)
}

func (s *AttemptService) publishMonitor(ctx context.Context, a *model.Attempt, typ model.MonitorEventType, data any) {
	ev := model.MonitorEvent{
		Type:      typ,
		AttemptID: a.ID,
		UserID:    a.UserID,
		Status:    a.Status,
		Data:      data,
		At:        s.now(),
	}
	if err := s.events.PublishMonitor(ctx, a.ExamID, ev); err != nil {
		s.log.Warn().Err(err).Str("attempt_id", a.ID.String()).Str("event", string(typ)).Msg("Failed to publish monitor event")
	}
}

func studentQuestions(a *model.Attempt, def *model.ExamDefinition) []model.QuestionForStudent {
	idx := def.QuestionByID()
	out := make([]model.QuestionForStudent, 0, len(a.Answers))
	for _, slot := range a.Answers {
		if q, ok := idx[slot.QuestionID]; ok {
			out = append(out, q.ForStudent())
		}
	}
	return out
}

func submitResult(a *model.Attempt) *SubmitResult {
	res := &SubmitResult{
		AttemptID:        a.ID,
		Status:           a.Status,
		Score:            a.Score,
		Result:           a.Result,
		TimeSpentSeconds: a.TimeSpentSeconds(),
	}
	if a.Submission.Method != nil {
		res.Method = *a.Submission.Method
	}
	return res
}

func outcomeOf(a *model.Attempt) model.AttemptOutcome {
	out := model.AttemptOutcome{
		AttemptID:  a.ID,
		ExamID:     a.ExamID,
		UserID:     a.UserID,
		Percentage: a.Score.Percentage,
		Passed:     a.Result.Passed != nil && *a.Result.Passed,
		Questions:  make([]model.QuestionOutcome, len(a.Answers)),
	}
	for i, slot := range a.Answers {
		out.Questions[i] = model.QuestionOutcome{
			QuestionID: slot.QuestionID,
			Answered:   slot.Answered(),
			Correct:    slot.IsCorrect != nil && *slot.IsCorrect,
		}
	}
	return out
}
