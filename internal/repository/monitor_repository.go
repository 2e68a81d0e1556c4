package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-exam-engine/internal/model"
)

// LiveAttempt is one open attempt as shown on the instructor monitor.
type LiveAttempt struct {
	AttemptID       uuid.UUID `json:"attempt_id"`
	UserID          int       `json:"user_id"`
	StartTime       time.Time `json:"start_time"`
	Answered        int       `json:"answered"`
	Flagged         int       `json:"flagged"`
	TotalViolations int       `json:"total_violations"`
	ProctorFlagged  bool      `json:"proctor_flagged"`
}

// MonitorRepository provides the snapshot half of the live exam monitor.
// Incremental updates arrive over the Redis monitor channel.
type MonitorRepository struct {
	pool *pgxpool.Pool
}

// NewMonitorRepository creates a new MonitorRepository.
func NewMonitorRepository(pool *pgxpool.Pool) *MonitorRepository {
	return &MonitorRepository{pool: pool}
}

// CountByStatus summarises an exam's attempts per status.
func (r *MonitorRepository) CountByStatus(ctx context.Context, examID uuid.UUID) (model.StatusCounts, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM attempts WHERE exam_id = $1 GROUP BY status`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(model.StatusCounts)
	for rows.Next() {
		var st model.AttemptStatus
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		counts[st] = n
	}
	return counts, rows.Err()
}

// ListLive returns the open attempts of an exam with answer progress.
func (r *MonitorRepository) ListLive(ctx context.Context, examID uuid.UUID) ([]LiveAttempt, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT a.id, a.user_id, a.start_time,
		        COUNT(aa.position) FILTER (WHERE aa.selected_option_index IS NOT NULL OR COALESCE(aa.text_answer, '') <> ''),
		        COUNT(aa.position) FILTER (WHERE aa.flagged),
		        a.total_violations, a.proctoring_flagged
		 FROM attempts a
		 LEFT JOIN attempt_answers aa ON aa.attempt_id = a.id
		 WHERE a.exam_id = $1 AND a.status = $2
		 GROUP BY a.id
		 ORDER BY a.start_time`,
		examID, model.AttemptStatusInProgress,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	live := []LiveAttempt{}
	for rows.Next() {
		var l LiveAttempt
		if err := rows.Scan(&l.AttemptID, &l.UserID, &l.StartTime, &l.Answered, &l.Flagged,
			&l.TotalViolations, &l.ProctorFlagged); err != nil {
			return nil, err
		}
		live = append(live, l)
	}
	return live, rows.Err()
}
