package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-exam-engine/internal/model"
)

// ExamRepository handles exam data access.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

// GetByID retrieves an exam and its ordered question ids.
func (r *ExamRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	e := &model.Exam{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, author_id, duration_minutes, total_marks, passing_marks,
		        randomize_questions, max_attempts, show_results, show_correct_answers, time_limit_enforced,
		        start_date, end_date, status, is_active, created_at, updated_at,
		        COALESCE((SELECT array_agg(question_id ORDER BY position)
		                  FROM exam_questions WHERE exam_id = exams.id), '{}')
		 FROM exams WHERE id = $1`, id,
	).Scan(&e.ID, &e.Title, &e.AuthorID, &e.DurationMinutes, &e.TotalMarks, &e.PassingMarks,
		&e.Settings.RandomizeQuestions, &e.Settings.MaxAttempts, &e.Settings.ShowResults,
		&e.Settings.ShowCorrectAnswers, &e.Settings.TimeLimitEnforced,
		&e.StartDate, &e.EndDate, &e.Status, &e.IsActive, &e.CreatedAt, &e.UpdatedAt,
		&e.QuestionIDs)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExamNotFound
		}
		return nil, err
	}
	return e, nil
}

// ListPublishedIDs returns the ids of active, published exams.
func (r *ExamRepository) ListPublishedIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM exams WHERE status = $1 AND is_active = TRUE`, model.ExamStatusPublished)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

// Create inserts a new exam.
func (r *ExamRepository) Create(ctx context.Context, e *model.Exam) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO exams (title, author_id, duration_minutes, total_marks, passing_marks,
		                    randomize_questions, max_attempts, show_results, show_correct_answers,
		                    time_limit_enforced, start_date, end_date, status, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 RETURNING id, created_at, updated_at`,
		e.Title, e.AuthorID, e.DurationMinutes, e.TotalMarks, e.PassingMarks,
		e.Settings.RandomizeQuestions, e.Settings.MaxAttempts, e.Settings.ShowResults, e.Settings.ShowCorrectAnswers,
		e.Settings.TimeLimitEnforced, e.StartDate, e.EndDate, e.Status, e.IsActive,
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
}

// SetQuestions replaces the ordered question list. The exam row is locked so
// that no attempt can be started while the list is checked and rewritten.
func (r *ExamRepository) SetQuestions(ctx context.Context, examID uuid.UUID, questionIDs []uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var hasAttempts bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM attempts WHERE exam_id = e.id)
		 FROM exams e WHERE e.id = $1 FOR UPDATE`, examID,
	).Scan(&hasAttempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrExamNotFound
		}
		return fmt.Errorf("lock exam: %w", err)
	}
	if hasAttempts {
		return ErrExamHasAttempts
	}

	if _, err := tx.Exec(ctx, `DELETE FROM exam_questions WHERE exam_id = $1`, examID); err != nil {
		return fmt.Errorf("clear exam questions: %w", err)
	}
	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"exam_questions"},
		[]string{"exam_id", "question_id", "position"},
		pgx.CopyFromSlice(len(questionIDs), func(i int) ([]any, error) {
			return []any{examID, questionIDs[i], i}, nil
		}),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("duplicate question in list: %w", err)
		}
		return fmt.Errorf("insert exam questions: %w", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE exams SET updated_at = NOW() WHERE id = $1`, examID); err != nil {
		return fmt.Errorf("touch exam: %w", err)
	}
	return tx.Commit(ctx)
}

// UpdateStatus changes the exam lifecycle status.
func (r *ExamRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.ExamStatus) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE exams SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update exam status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrExamNotFound
	}
	return nil
}
