package worker

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-exam-engine/internal/config"
	"github.com/stemsi/exstem-exam-engine/internal/model"
)

// AnalyticsStore folds completion outcomes into the aggregate tables.
type AnalyticsStore interface {
	Apply(ctx context.Context, outcomes []model.AttemptOutcome) (int, error)
}

// AnalyticsWorker drains persist_outcomes_queue into exam, question, and
// user aggregates.
type AnalyticsWorker struct {
	store AnalyticsStore
	queue Queue
	log   zerolog.Logger
}

func NewAnalyticsWorker(store AnalyticsStore, queue Queue, log zerolog.Logger) *AnalyticsWorker {
	return &AnalyticsWorker{
		store: store,
		queue: queue,
		log:   log.With().Str("component", "analytics_worker").Logger(),
	}
}

// Start blocks until ctx is cancelled.
func (w *AnalyticsWorker) Start(ctx context.Context) {
	w.log.Info().Msg("AnalyticsWorker started")
	consume(ctx, w.queue, config.WorkerKey.PersistOutcomesQueue, w.log, w.flush)
	w.log.Info().Msg("AnalyticsWorker stopped")
}

// flush applies the batch in one transaction, falling back to one outcome at
// a time so a single bad row cannot hold back the rest. Outcomes that still
// fail are requeued.
func (w *AnalyticsWorker) flush(ctx context.Context, batch []model.AttemptOutcome) {
	if len(batch) == 0 {
		return
	}

	applied, err := w.store.Apply(ctx, batch)
	if err == nil {
		w.log.Debug().Int("batch", len(batch)).Int("applied", applied).Msg("Outcomes aggregated")
		return
	}
	w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk aggregate failed, using fallback")

	failed := make([]model.AttemptOutcome, 0)
	for _, o := range batch {
		if _, err := w.store.Apply(ctx, []model.AttemptOutcome{o}); err != nil {
			w.log.Error().Err(err).Str("attempt_id", o.AttemptID.String()).Msg("Aggregate failed, requeueing")
			failed = append(failed, o)
		}
	}
	requeue(ctx, w.queue, config.WorkerKey.PersistOutcomesQueue, w.log, failed)
}
