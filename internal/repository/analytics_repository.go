package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-exam-engine/internal/model"
)

// ExamDelta is the change one batch makes to an exam's aggregates.
type ExamDelta struct {
	Completed int
	Passed    int
	Sum       int64
	Highest   int
	Lowest    int
}

// QuestionDelta is the change one batch makes to a question's counters.
type QuestionDelta struct {
	Served   int
	Answered int
	Correct  int
}

// UserDelta is the change one batch makes to a user's aggregates.
type UserDelta struct {
	Completed int
	Passed    int
	Best      int
}

// AnalyticsDelta folds a batch of outcomes into per-row increments so each
// aggregate row is touched once per batch.
type AnalyticsDelta struct {
	Exams     map[uuid.UUID]*ExamDelta
	Questions map[uuid.UUID]*QuestionDelta
	Users     map[int]*UserDelta
}

// Aggregate builds the delta for a batch. Outcomes repeating an attempt ID
// count once.
func Aggregate(outcomes []model.AttemptOutcome) AnalyticsDelta {
	d := AnalyticsDelta{
		Exams:     make(map[uuid.UUID]*ExamDelta),
		Questions: make(map[uuid.UUID]*QuestionDelta),
		Users:     make(map[int]*UserDelta),
	}
	seen := make(map[uuid.UUID]struct{}, len(outcomes))

	for _, o := range outcomes {
		if _, dup := seen[o.AttemptID]; dup {
			continue
		}
		seen[o.AttemptID] = struct{}{}

		e, ok := d.Exams[o.ExamID]
		if !ok {
			e = &ExamDelta{Highest: o.Percentage, Lowest: o.Percentage}
			d.Exams[o.ExamID] = e
		}
		e.Completed++
		e.Sum += int64(o.Percentage)
		e.Highest = max(e.Highest, o.Percentage)
		e.Lowest = min(e.Lowest, o.Percentage)

		u, ok := d.Users[o.UserID]
		if !ok {
			u = &UserDelta{}
			d.Users[o.UserID] = u
		}
		u.Completed++
		u.Best = max(u.Best, o.Percentage)

		if o.Passed {
			e.Passed++
			u.Passed++
		}

		for _, q := range o.Questions {
			qd, ok := d.Questions[q.QuestionID]
			if !ok {
				qd = &QuestionDelta{}
				d.Questions[q.QuestionID] = qd
			}
			qd.Served++
			if q.Answered {
				qd.Answered++
			}
			if q.Correct {
				qd.Correct++
			}
		}
	}
	return d
}

// AnalyticsRepository maintains the exam, question, and user aggregates.
type AnalyticsRepository struct {
	pool *pgxpool.Pool
}

// NewAnalyticsRepository creates a new AnalyticsRepository.
func NewAnalyticsRepository(pool *pgxpool.Pool) *AnalyticsRepository {
	return &AnalyticsRepository{pool: pool}
}

// Apply folds a batch of outcomes into the aggregates in one transaction.
// Attempts already applied are skipped, so a requeued outcome is harmless.
// It returns how many outcomes were new.
func (r *AnalyticsRepository) Apply(ctx context.Context, outcomes []model.AttemptOutcome) (int, error) {
	if len(outcomes) == 0 {
		return 0, nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	ids := make([]uuid.UUID, len(outcomes))
	for i, o := range outcomes {
		ids[i] = o.AttemptID
	}
	rows, err := tx.Query(ctx,
		`INSERT INTO analytics_applied (attempt_id)
		 SELECT DISTINCT u.id FROM UNNEST($1::uuid[]) AS u (id)
		 ON CONFLICT (attempt_id) DO NOTHING
		 RETURNING attempt_id`, ids)
	if err != nil {
		return 0, fmt.Errorf("claim outcomes: %w", err)
	}
	fresh := make(map[uuid.UUID]struct{}, len(ids))
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		fresh[id] = struct{}{}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("claim outcomes: %w", err)
	}

	pending := make([]model.AttemptOutcome, 0, len(fresh))
	for _, o := range outcomes {
		if _, ok := fresh[o.AttemptID]; ok {
			pending = append(pending, o)
		}
	}
	if len(pending) == 0 {
		return 0, tx.Commit(ctx)
	}

	d := Aggregate(pending)
	if err := upsertExamStats(ctx, tx, d.Exams); err != nil {
		return 0, err
	}
	if err := upsertQuestionStats(ctx, tx, d.Questions); err != nil {
		return 0, err
	}
	if err := upsertUserStats(ctx, tx, d.Users); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return len(fresh), nil
}

func upsertExamStats(ctx context.Context, tx pgx.Tx, exams map[uuid.UUID]*ExamDelta) error {
	n := len(exams)
	ids := make([]uuid.UUID, 0, n)
	completed := make([]int32, 0, n)
	passed := make([]int32, 0, n)
	sums := make([]int64, 0, n)
	highest := make([]int32, 0, n)
	lowest := make([]int32, 0, n)
	for id, e := range exams {
		ids = append(ids, id)
		completed = append(completed, int32(e.Completed))
		passed = append(passed, int32(e.Passed))
		sums = append(sums, e.Sum)
		highest = append(highest, int32(e.Highest))
		lowest = append(lowest, int32(e.Lowest))
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO exam_stats AS s (exam_id, attempts_completed, attempts_passed,
		                             percentage_sum, highest_percentage, lowest_percentage)
		SELECT * FROM UNNEST($1::uuid[], $2::int[], $3::int[], $4::bigint[], $5::int[], $6::int[])
		ON CONFLICT (exam_id) DO UPDATE SET
			attempts_completed = s.attempts_completed + EXCLUDED.attempts_completed,
			attempts_passed    = s.attempts_passed + EXCLUDED.attempts_passed,
			percentage_sum     = s.percentage_sum + EXCLUDED.percentage_sum,
			highest_percentage = GREATEST(s.highest_percentage, EXCLUDED.highest_percentage),
			lowest_percentage  = LEAST(s.lowest_percentage, EXCLUDED.lowest_percentage),
			updated_at         = NOW()`,
		ids, completed, passed, sums, highest, lowest)
	if err != nil {
		return fmt.Errorf("upsert exam stats: %w", err)
	}
	return nil
}

func upsertQuestionStats(ctx context.Context, tx pgx.Tx, questions map[uuid.UUID]*QuestionDelta) error {
	if len(questions) == 0 {
		return nil
	}
	n := len(questions)
	ids := make([]uuid.UUID, 0, n)
	served := make([]int32, 0, n)
	answered := make([]int32, 0, n)
	correct := make([]int32, 0, n)
	for id, q := range questions {
		ids = append(ids, id)
		served = append(served, int32(q.Served))
		answered = append(answered, int32(q.Answered))
		correct = append(correct, int32(q.Correct))
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO question_stats AS s (question_id, times_served, times_answered, times_correct)
		SELECT * FROM UNNEST($1::uuid[], $2::int[], $3::int[], $4::int[])
		ON CONFLICT (question_id) DO UPDATE SET
			times_served   = s.times_served + EXCLUDED.times_served,
			times_answered = s.times_answered + EXCLUDED.times_answered,
			times_correct  = s.times_correct + EXCLUDED.times_correct,
			updated_at     = NOW()`,
		ids, served, answered, correct)
	if err != nil {
		return fmt.Errorf("upsert question stats: %w", err)
	}
	return nil
}

func upsertUserStats(ctx context.Context, tx pgx.Tx, users map[int]*UserDelta) error {
	n := len(users)
	ids := make([]int32, 0, n)
	completed := make([]int32, 0, n)
	passed := make([]int32, 0, n)
	best := make([]int32, 0, n)
	for id, u := range users {
		ids = append(ids, int32(id))
		completed = append(completed, int32(u.Completed))
		passed = append(passed, int32(u.Passed))
		best = append(best, int32(u.Best))
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO user_stats AS s (user_id, attempts_completed, attempts_passed, best_percentage)
		SELECT * FROM UNNEST($1::int[], $2::int[], $3::int[], $4::int[])
		ON CONFLICT (user_id) DO UPDATE SET
			attempts_completed = s.attempts_completed + EXCLUDED.attempts_completed,
			attempts_passed    = s.attempts_passed + EXCLUDED.attempts_passed,
			best_percentage    = GREATEST(s.best_percentage, EXCLUDED.best_percentage),
			updated_at         = NOW()`,
		ids, completed, passed, best)
	if err != nil {
		return fmt.Errorf("upsert user stats: %w", err)
	}
	return nil
}
