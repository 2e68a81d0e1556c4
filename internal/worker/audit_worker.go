package worker

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-exam-engine/internal/config"
	"github.com/stemsi/exstem-exam-engine/internal/model"
)

// AuditStore persists audit entries.
type AuditStore interface {
	CopyEntries(ctx context.Context, entries []model.AuditEntry) (int64, error)
	Insert(ctx context.Context, e model.AuditEntry) error
}

// AuditWorker drains persist_audit_queue into audit_log.
type AuditWorker struct {
	store AuditStore
	queue Queue
	log   zerolog.Logger
}

func NewAuditWorker(store AuditStore, queue Queue, log zerolog.Logger) *AuditWorker {
	return &AuditWorker{
		store: store,
		queue: queue,
		log:   log.With().Str("component", "audit_worker").Logger(),
	}
}

// Start blocks until ctx is cancelled.
func (w *AuditWorker) Start(ctx context.Context) {
	w.log.Info().Msg("AuditWorker started")
	consume(ctx, w.queue, config.WorkerKey.PersistAuditQueue, w.log, w.flush)
	w.log.Info().Msg("AuditWorker stopped")
}

// flush attempts a bulk COPY, then row-by-row inserts, then requeue.
func (w *AuditWorker) flush(ctx context.Context, batch []model.AuditEntry) {
	if len(batch) == 0 {
		return
	}
	_, err := w.store.CopyEntries(ctx, batch)
	if err == nil {
		return
	}
	w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")

	failed := make([]model.AuditEntry, 0)
	for _, e := range batch {
		if err := w.store.Insert(ctx, e); err != nil {
			w.log.Error().Err(err).Str("request_id", e.RequestID).Msg("Insert failed, requeueing")
			failed = append(failed, e)
		}
	}
	requeue(ctx, w.queue, config.WorkerKey.PersistAuditQueue, w.log, failed)
}
