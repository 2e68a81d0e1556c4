package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-exam-engine/internal/model"
)

var auditColumns = []string{
	"request_id", "user_id", "role", "method", "route", "status", "latency_ms", "ip_hash", "recorded_at",
}

// AuditRepository writes the request audit trail.
type AuditRepository struct {
	pool *pgxpool.Pool
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

// CopyEntries bulk-loads entries with the COPY protocol.
func (r *AuditRepository) CopyEntries(ctx context.Context, entries []model.AuditEntry) (int64, error) {
	rows := make([][]any, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, auditRow(e))
	}
	return r.pool.CopyFrom(ctx, pgx.Identifier{"audit_log"}, auditColumns, pgx.CopyFromRows(rows))
}

// Insert writes a single entry.
func (r *AuditRepository) Insert(ctx context.Context, e model.AuditEntry) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO audit_log (request_id, user_id, role, method, route, status, latency_ms, ip_hash, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		auditRow(e)...,
	)
	return err
}

func auditRow(e model.AuditEntry) []any {
	var userID *int32
	if e.UserID != 0 {
		id := int32(e.UserID)
		userID = &id
	}
	return []any{
		e.RequestID, userID, e.Role, e.Method, e.Route,
		int32(e.Status), int32(e.LatencyMS), e.IPHash, e.RecordedAt,
	}
}
