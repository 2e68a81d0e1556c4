package worker

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const sweepTimeout = 50 * time.Second

// ExpiredSweeper closes attempts whose time limit has passed.
type ExpiredSweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

// ExpirySweeper runs SweepExpired on a cron schedule. Reads still expire
// attempts lazily; the sweep only closes the ones nobody polls.
type ExpirySweeper struct {
	attempts ExpiredSweeper
	schedule string
	log      zerolog.Logger
}

func NewExpirySweeper(attempts ExpiredSweeper, schedule string, log zerolog.Logger) *ExpirySweeper {
	return &ExpirySweeper{
		attempts: attempts,
		schedule: schedule,
		log:      log.With().Str("component", "expiry_sweeper").Logger(),
	}
}

// Start schedules the sweep and blocks until ctx is cancelled, then waits
// for a running sweep to finish. An empty schedule disables the sweeper.
func (s *ExpirySweeper) Start(ctx context.Context) error {
	if s.schedule == "" {
		s.log.Info().Msg("Expiry sweeper disabled")
		return nil
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := c.AddFunc(s.schedule, func() { s.RunOnce(ctx) }); err != nil {
		return err
	}
	s.log.Info().Str("schedule", s.schedule).Msg("Expiry sweeper started")
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	s.log.Info().Msg("Expiry sweeper stopped")
	return nil
}

// RunOnce performs a single sweep and reports how many attempts it closed.
func (s *ExpirySweeper) RunOnce(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}
	sweepCtx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()

	closed, err := s.attempts.SweepExpired(sweepCtx)
	if err != nil {
		s.log.Error().Err(err).Int("closed", closed).Msg("Expiry sweep failed")
		return closed
	}
	if closed > 0 {
		s.log.Info().Int("closed", closed).Msg("Closed expired attempts")
	}
	return closed
}
