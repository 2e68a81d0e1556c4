package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-exam-engine/internal/model"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const attemptColumns = `id, exam_id, user_id, attempt_number, status, start_time, end_time,
	duration_seconds, time_limit_enforced, time_remaining_seconds,
	score_obtained, score_total, score_percentage, passed, grade,
	total_violations, proctoring_flagged,
	submitted_at, auto_submitted, submission_method,
	client_ip, client_user_agent, client_timezone,
	review_adjusted_score, review_notes, review_slot_overrides, reviewed_by, reviewed_at`

const slotColumns = `position, question_id, selected_option_index, text_answer, is_correct,
	marks_awarded, time_spent_seconds, flagged, visited, answered_at`

// NewAttempt carries everything needed to materialize a fresh attempt.
type NewAttempt struct {
	ExamID            uuid.UUID
	UserID            int
	MaxAttempts       int
	DurationSeconds   int
	TimeLimitEnforced bool
	TotalMarks        float64
	QuestionIDs       []uuid.UUID // slot order
	ClientMeta        model.ClientMeta
	StartTime         time.Time
}

// AnswerUpdate overwrites the student-controlled fields of one slot.
type AnswerUpdate struct {
	QuestionID          uuid.UUID
	SelectedOptionIndex *int
	TextAnswer          *string
	TimeSpentSeconds    int
	AnsweredAt          time.Time
}

// ViolationOutcome is the attempt's proctoring state after a violation was stored.
type ViolationOutcome struct {
	Status          model.AttemptStatus
	TotalViolations int
	Flagged         bool
}

// AttemptSummary is a row of the instructor attempt listing.
type AttemptSummary struct {
	ID               uuid.UUID               `json:"id"`
	UserID           int                     `json:"user_id"`
	AttemptNumber    int                     `json:"attempt_number"`
	Status           model.AttemptStatus     `json:"status"`
	StartTime        time.Time               `json:"start_time"`
	EndTime          *time.Time              `json:"end_time,omitempty"`
	Score            model.Score             `json:"score"`
	Result           model.Result            `json:"result"`
	TotalViolations  int                     `json:"total_violations"`
	Flagged          bool                    `json:"flagged"`
	SubmissionMethod *model.SubmissionMethod `json:"submission_method,omitempty"`
}

// AttemptRepository persists attempts, their answer slots and proctoring violations.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

// CreateOrResume runs the start-attempt check-then-act in one transaction,
// serialized per (exam, user) with a transaction-scoped advisory lock.
// The bool result is true when a new attempt was inserted.
func (r *AttemptRepository) CreateOrResume(ctx context.Context, in NewAttempt) (*model.Attempt, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	lockKey := fmt.Sprintf("attempt:%s:%d", in.ExamID, in.UserID)
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, lockKey); err != nil {
		return nil, false, fmt.Errorf("advisory lock: %w", err)
	}

	// Only closed attempts consume the allowance; the open one is resumed below.
	var total, closed int
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE status <> $3)
		 FROM attempts WHERE exam_id = $1 AND user_id = $2`,
		in.ExamID, in.UserID, model.AttemptStatusInProgress,
	).Scan(&total, &closed); err != nil {
		return nil, false, fmt.Errorf("count attempts: %w", err)
	}
	if closed >= in.MaxAttempts {
		return nil, false, ErrAttemptLimitReached
	}

	existing, err := loadAttempt(ctx, tx, `exam_id = $1 AND user_id = $2 AND status = $3`,
		in.ExamID, in.UserID, model.AttemptStatusInProgress)
	switch {
	case err == nil:
		if err := tx.Commit(ctx); err != nil {
			return nil, false, fmt.Errorf("commit: %w", err)
		}
		return existing, false, nil
	case !errors.Is(err, ErrAttemptNotFound):
		return nil, false, err
	}

	a := &model.Attempt{
		ExamID:               in.ExamID,
		UserID:               in.UserID,
		AttemptNumber:        total + 1,
		Status:               model.AttemptStatusInProgress,
		StartTime:            in.StartTime,
		DurationSeconds:      in.DurationSeconds,
		TimeLimitEnforced:    in.TimeLimitEnforced,
		TimeRemainingSeconds: in.DurationSeconds,
		Score:                model.Score{Total: in.TotalMarks},
		Proctoring:           model.Proctoring{Violations: []model.Violation{}},
		ClientMeta:           in.ClientMeta,
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO attempts (exam_id, user_id, attempt_number, status, start_time,
		                       duration_seconds, time_limit_enforced, time_remaining_seconds,
		                       score_total, client_ip, client_user_agent, client_timezone)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING id`,
		a.ExamID, a.UserID, a.AttemptNumber, a.Status, a.StartTime,
		a.DurationSeconds, a.TimeLimitEnforced, a.TimeRemainingSeconds,
		a.Score.Total, a.ClientMeta.IP, a.ClientMeta.UserAgent, a.ClientMeta.Timezone,
	).Scan(&a.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, false, ErrAttemptConflict
		}
		return nil, false, fmt.Errorf("insert attempt: %w", err)
	}

	a.Answers = make([]model.AnswerSlot, len(in.QuestionIDs))
	for i, qid := range in.QuestionIDs {
		a.Answers[i] = model.AnswerSlot{Position: i, QuestionID: qid}
	}
	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"attempt_answers"},
		[]string{"attempt_id", "position", "question_id"},
		pgx.CopyFromSlice(len(a.Answers), func(i int) ([]any, error) {
			return []any{a.ID, a.Answers[i].Position, a.Answers[i].QuestionID}, nil
		}),
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert answer slots: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("commit: %w", err)
	}
	return a, true, nil
}

// GetByID loads an attempt with its slots and violations.
func (r *AttemptRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error) {
	return loadAttempt(ctx, r.pool, `id = $1`, id)
}

// GetInProgress loads the open attempt of a user for an exam.
func (r *AttemptRepository) GetInProgress(ctx context.Context, examID uuid.UUID, userID int) (*model.Attempt, error) {
	return loadAttempt(ctx, r.pool, `exam_id = $1 AND user_id = $2 AND status = $3`,
		examID, userID, model.AttemptStatusInProgress)
}

// UpdateAnswer overwrites a single slot while the attempt is open. The attempt
// row is share-locked so a concurrent completion waits for this write (or
// this write observes the completion), while sibling slot updates proceed.
func (r *AttemptRepository) UpdateAnswer(ctx context.Context, attemptID uuid.UUID, u AnswerUpdate) (*model.AnswerSlot, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := requireInProgress(ctx, tx, attemptID, "FOR SHARE"); err != nil {
		return nil, err
	}

	slot, err := scanSlot(tx.QueryRow(ctx,
		`UPDATE attempt_answers
		 SET selected_option_index = $3, text_answer = $4, time_spent_seconds = $5,
		     visited = TRUE, answered_at = $6
		 WHERE attempt_id = $1 AND question_id = $2
		 RETURNING `+slotColumns,
		attemptID, u.QuestionID, u.SelectedOptionIndex, u.TextAnswer, u.TimeSpentSeconds, u.AnsweredAt,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, fmt.Errorf("update answer: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return slot, nil
}

// ToggleFlag flips the flagged marker of the slot at position.
func (r *AttemptRepository) ToggleFlag(ctx context.Context, attemptID uuid.UUID, position int) (*model.AnswerSlot, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := requireInProgress(ctx, tx, attemptID, "FOR SHARE"); err != nil {
		return nil, err
	}

	slot, err := scanSlot(tx.QueryRow(ctx,
		`UPDATE attempt_answers SET flagged = NOT flagged
		 WHERE attempt_id = $1 AND position = $2
		 RETURNING `+slotColumns,
		attemptID, position,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, fmt.Errorf("toggle flag: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return slot, nil
}

// UpdateTimeRemaining persists the countdown observed on a read.
func (r *AttemptRepository) UpdateTimeRemaining(ctx context.Context, attemptID uuid.UUID, seconds int) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE attempts SET time_remaining_seconds = $2, updated_at = NOW()
		 WHERE id = $1 AND status = $3`,
		attemptID, seconds, model.AttemptStatusInProgress)
	return err
}

// Complete closes an open attempt exactly once. The row is locked FOR UPDATE,
// fn mutates the loaded attempt (scoring, grading, submission), and the result
// is written back in the same transaction. A second caller blocks on the lock
// and then observes ErrAttemptNotInProgress.
func (r *AttemptRepository) Complete(ctx context.Context, attemptID uuid.UUID, fn func(a *model.Attempt) error) (*model.Attempt, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	a, err := loadAttemptLocked(ctx, tx, attemptID)
	if err != nil {
		return nil, err
	}
	if a.Status != model.AttemptStatusInProgress {
		return nil, ErrAttemptNotInProgress
	}

	if err := fn(a); err != nil {
		return nil, err
	}

	tag, err := tx.Exec(ctx,
		`UPDATE attempts
		 SET status = $2, end_time = $3, time_remaining_seconds = $4,
		     score_obtained = $5, score_total = $6, score_percentage = $7,
		     passed = $8, grade = $9,
		     submitted_at = $10, auto_submitted = $11, submission_method = $12,
		     updated_at = NOW()
		 WHERE id = $1 AND status = $13`,
		a.ID, a.Status, a.EndTime, a.TimeRemainingSeconds,
		a.Score.Obtained, a.Score.Total, a.Score.Percentage,
		a.Result.Passed, a.Result.Grade,
		a.Submission.SubmittedAt, a.Submission.AutoSubmitted, a.Submission.Method,
		model.AttemptStatusInProgress,
	)
	if err != nil {
		return nil, fmt.Errorf("update attempt: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return nil, ErrAttemptNotInProgress
	}

	positions := make([]int, len(a.Answers))
	correct := make([]*bool, len(a.Answers))
	marks := make([]float64, len(a.Answers))
	for i, s := range a.Answers {
		positions[i], correct[i], marks[i] = s.Position, s.IsCorrect, s.MarksAwarded
	}
	_, err = tx.Exec(ctx,
		`UPDATE attempt_answers AS aa
		 SET is_correct = v.is_correct, marks_awarded = v.marks
		 FROM UNNEST($2::int[], $3::bool[], $4::numeric[]) AS v(position, is_correct, marks)
		 WHERE aa.attempt_id = $1 AND aa.position = v.position`,
		a.ID, positions, correct, marks,
	)
	if err != nil {
		return nil, fmt.Errorf("update slot marks: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return a, nil
}

// RecordViolation stores a proctoring violation and updates the attempt's
// counters in one transaction. flagThreshold <= 0 never flags; suspend moves
// the attempt to SUSPENDED.
func (r *AttemptRepository) RecordViolation(ctx context.Context, attemptID uuid.UUID, v model.Violation, flagThreshold int, suspend bool) (*ViolationOutcome, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := requireInProgress(ctx, tx, attemptID, "FOR UPDATE"); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO proctoring_violations (attempt_id, violation_type, severity, recorded_at)
		 VALUES ($1, $2, $3, $4)`,
		attemptID, v.Type, v.Severity, v.Timestamp,
	); err != nil {
		return nil, fmt.Errorf("insert violation: %w", err)
	}

	out := &ViolationOutcome{}
	err = tx.QueryRow(ctx,
		`UPDATE attempts
		 SET total_violations = total_violations + 1,
		     proctoring_flagged = proctoring_flagged OR ($2 > 0 AND total_violations + 1 >= $2),
		     status = CASE WHEN $3 THEN $4 ELSE status END,
		     end_time = CASE WHEN $3 THEN $5 ELSE end_time END,
		     updated_at = NOW()
		 WHERE id = $1
		 RETURNING status, total_violations, proctoring_flagged`,
		attemptID, flagThreshold, suspend, model.AttemptStatusSuspended, v.Timestamp,
	).Scan(&out.Status, &out.TotalViolations, &out.Flagged)
	if err != nil {
		return nil, fmt.Errorf("update proctoring counters: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return out, nil
}

// SaveReview writes the review annotation of a closed attempt. Nothing else
// on the attempt is touched.
func (r *AttemptRepository) SaveReview(ctx context.Context, attemptID uuid.UUID, review model.Review) (*model.Attempt, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var status model.AttemptStatus
	err = tx.QueryRow(ctx, `SELECT status FROM attempts WHERE id = $1 FOR UPDATE`, attemptID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("lock attempt: %w", err)
	}
	if status == model.AttemptStatusInProgress {
		return nil, ErrAttemptIsActive
	}

	if _, err := tx.Exec(ctx,
		`UPDATE attempts
		 SET review_adjusted_score = $2, review_notes = $3, review_slot_overrides = $4,
		     reviewed_by = $5, reviewed_at = $6, updated_at = NOW()
		 WHERE id = $1`,
		attemptID, review.AdjustedScore, review.Notes, review.SlotOverrides, review.ReviewedBy, review.ReviewedAt,
	); err != nil {
		return nil, fmt.Errorf("save review: %w", err)
	}

	a, err := loadAttempt(ctx, tx, `id = $1`, attemptID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return a, nil
}

// ListByExam returns a page of attempts for an exam, newest first.
func (r *AttemptRepository) ListByExam(ctx context.Context, examID uuid.UUID, page, perPage int) ([]AttemptSummary, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM attempts WHERE exam_id = $1`, examID,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, attempt_number, status, start_time, end_time,
		        score_obtained, score_total, score_percentage, passed, grade,
		        total_violations, proctoring_flagged, submission_method
		 FROM attempts
		 WHERE exam_id = $1
		 ORDER BY start_time DESC
		 LIMIT $2 OFFSET $3`,
		examID, perPage, (page-1)*perPage,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	list := []AttemptSummary{}
	for rows.Next() {
		var s AttemptSummary
		if err := rows.Scan(&s.ID, &s.UserID, &s.AttemptNumber, &s.Status, &s.StartTime, &s.EndTime,
			&s.Score.Obtained, &s.Score.Total, &s.Score.Percentage, &s.Result.Passed, &s.Result.Grade,
			&s.TotalViolations, &s.Flagged, &s.SubmissionMethod); err != nil {
			return nil, 0, err
		}
		list = append(list, s)
	}
	return list, total, rows.Err()
}

// ListExpired returns open, time-limited attempts whose deadline is at or before now.
func (r *AttemptRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM attempts
		 WHERE status = $1 AND time_limit_enforced
		   AND start_time + make_interval(secs => duration_seconds) <= $2
		 ORDER BY start_time
		 LIMIT $3`,
		model.AttemptStatusInProgress, now, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ─── Internal helpers ──────────────────────────────────────────────────

func requireInProgress(ctx context.Context, tx pgx.Tx, attemptID uuid.UUID, lock string) error {
	var status model.AttemptStatus
	err := tx.QueryRow(ctx, `SELECT status FROM attempts WHERE id = $1 `+lock, attemptID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrAttemptNotFound
		}
		return fmt.Errorf("lock attempt: %w", err)
	}
	if status != model.AttemptStatusInProgress {
		return ErrAttemptNotInProgress
	}
	return nil
}

func loadAttemptLocked(ctx context.Context, tx pgx.Tx, attemptID uuid.UUID) (*model.Attempt, error) {
	a, err := scanAttempt(tx.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE id = $1 FOR UPDATE`, attemptID))
	if err != nil {
		return nil, err
	}
	return a, loadChildren(ctx, tx, a)
}

func loadAttempt(ctx context.Context, q querier, where string, args ...any) (*model.Attempt, error) {
	a, err := scanAttempt(q.QueryRow(ctx, `SELECT `+attemptColumns+` FROM attempts WHERE `+where, args...))
	if err != nil {
		return nil, err
	}
	return a, loadChildren(ctx, q, a)
}

func scanAttempt(row pgx.Row) (*model.Attempt, error) {
	a := &model.Attempt{}
	err := row.Scan(
		&a.ID, &a.ExamID, &a.UserID, &a.AttemptNumber, &a.Status, &a.StartTime, &a.EndTime,
		&a.DurationSeconds, &a.TimeLimitEnforced, &a.TimeRemainingSeconds,
		&a.Score.Obtained, &a.Score.Total, &a.Score.Percentage, &a.Result.Passed, &a.Result.Grade,
		&a.Proctoring.TotalViolations, &a.Proctoring.Flagged,
		&a.Submission.SubmittedAt, &a.Submission.AutoSubmitted, &a.Submission.Method,
		&a.ClientMeta.IP, &a.ClientMeta.UserAgent, &a.ClientMeta.Timezone,
		&a.Review.AdjustedScore, &a.Review.Notes, &a.Review.SlotOverrides, &a.Review.ReviewedBy, &a.Review.ReviewedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("scan attempt: %w", err)
	}
	return a, nil
}

func loadChildren(ctx context.Context, q querier, a *model.Attempt) error {
	rows, err := q.Query(ctx,
		`SELECT `+slotColumns+` FROM attempt_answers WHERE attempt_id = $1 ORDER BY position`, a.ID)
	if err != nil {
		return fmt.Errorf("query slots: %w", err)
	}
	a.Answers, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.AnswerSlot, error) {
		s, err := scanSlot(row)
		if err != nil {
			return model.AnswerSlot{}, err
		}
		return *s, nil
	})
	if err != nil {
		return fmt.Errorf("scan slots: %w", err)
	}

	rows, err = q.Query(ctx,
		`SELECT violation_type, severity, recorded_at
		 FROM proctoring_violations WHERE attempt_id = $1
		 ORDER BY recorded_at, id`, a.ID)
	if err != nil {
		return fmt.Errorf("query violations: %w", err)
	}
	a.Proctoring.Violations, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Violation, error) {
		var v model.Violation
		err := row.Scan(&v.Type, &v.Severity, &v.Timestamp)
		return v, err
	})
	if err != nil {
		return fmt.Errorf("scan violations: %w", err)
	}
	if a.Proctoring.Violations == nil {
		a.Proctoring.Violations = []model.Violation{}
	}
	return nil
}

func scanSlot(row pgx.Row) (*model.AnswerSlot, error) {
	s := &model.AnswerSlot{}
	err := row.Scan(&s.Position, &s.QuestionID, &s.SelectedOptionIndex, &s.TextAnswer, &s.IsCorrect,
		&s.MarksAwarded, &s.TimeSpentSeconds, &s.Flagged, &s.Visited, &s.AnsweredAt)
	if err != nil {
		return nil, err
	}
	return s, nil
}
