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

const questionColumns = `q.id, q.author_id, q.text, q.question_type, q.options, q.correct_answer_index,
	q.marks, q.negative_marking_enabled, q.penalty_fraction, q.status, q.created_at, q.updated_at`

// QuestionRepository handles question catalog data access.
type QuestionRepository struct {
	pool *pgxpool.Pool
}

// NewQuestionRepository creates a new QuestionRepository.
func NewQuestionRepository(pool *pgxpool.Pool) *QuestionRepository {
	return &QuestionRepository{pool: pool}
}

// GetByID retrieves a question by id.
func (r *QuestionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Question, error) {
	q, err := scanQuestion(r.pool.QueryRow(ctx,
		`SELECT `+questionColumns+` FROM questions q WHERE q.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrQuestionNotFound
	}
	return q, err
}

// ListByExam retrieves the questions of an exam in the exam's stored order.
func (r *QuestionRepository) ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Question, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+questionColumns+`
		 FROM exam_questions eq
		 JOIN questions q ON q.id = eq.question_id
		 WHERE eq.exam_id = $1
		 ORDER BY eq.position`, examID,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Question, error) {
		q, err := scanQuestion(row)
		if err != nil {
			return model.Question{}, err
		}
		return *q, nil
	})
}

// StatusByIDs returns the workflow status of each existing question in ids.
func (r *QuestionRepository) StatusByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]model.QuestionStatus, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, status FROM questions WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[uuid.UUID]model.QuestionStatus, len(ids))
	for rows.Next() {
		var id uuid.UUID
		var st model.QuestionStatus
		if err := rows.Scan(&id, &st); err != nil {
			return nil, err
		}
		out[id] = st
	}
	return out, rows.Err()
}

// Create inserts a new question.
func (r *QuestionRepository) Create(ctx context.Context, q *model.Question) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO questions (author_id, text, question_type, options, correct_answer_index,
		                        marks, negative_marking_enabled, penalty_fraction, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id, created_at, updated_at`,
		q.AuthorID, q.Text, q.Type, q.Options, q.CorrectAnswerIndex,
		q.Marks, q.NegativeMarking.Enabled, q.NegativeMarking.PenaltyFraction, q.Status,
	).Scan(&q.ID, &q.CreatedAt, &q.UpdatedAt)
}

// Update replaces the content of a question that no attempt has served yet.
// The reference check and the write share one statement.
func (r *QuestionRepository) Update(ctx context.Context, q *model.Question) error {
	err := r.pool.QueryRow(ctx,
		`UPDATE questions
		 SET text = $2, question_type = $3, options = $4, correct_answer_index = $5,
		     marks = $6, negative_marking_enabled = $7, penalty_fraction = $8, updated_at = NOW()
		 WHERE id = $1
		   AND NOT EXISTS (SELECT 1 FROM attempt_answers WHERE question_id = $1)
		 RETURNING updated_at`,
		q.ID, q.Text, q.Type, q.Options, q.CorrectAnswerIndex,
		q.Marks, q.NegativeMarking.Enabled, q.NegativeMarking.PenaltyFraction,
	).Scan(&q.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := r.GetByID(ctx, q.ID); getErr != nil {
			return getErr
		}
		return ErrQuestionInUse
	}
	return err
}

// UpdateStatus moves a question through the authoring workflow.
func (r *QuestionRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.QuestionStatus) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE questions SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update question status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrQuestionNotFound
	}
	return nil
}

func scanQuestion(row pgx.Row) (*model.Question, error) {
	q := &model.Question{}
	err := row.Scan(&q.ID, &q.AuthorID, &q.Text, &q.Type, &q.Options, &q.CorrectAnswerIndex,
		&q.Marks, &q.NegativeMarking.Enabled, &q.NegativeMarking.PenaltyFraction, &q.Status,
		&q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return q, nil
}
