package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-exam-engine/internal/model"
	"github.com/stemsi/exstem-exam-engine/internal/repository"
)

// MonitorReader is the read side of the live exam monitor.
type MonitorReader interface {
	CountByStatus(ctx context.Context, examID uuid.UUID) (model.StatusCounts, error)
	ListLive(ctx context.Context, examID uuid.UUID) ([]repository.LiveAttempt, error)
}

// MonitorService builds the snapshot instructors see before live events arrive.
type MonitorService struct {
	monitor MonitorReader
	exams   ExamProvider
	log     zerolog.Logger
	now     func() time.Time
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(monitor MonitorReader, exams ExamProvider, log zerolog.Logger) *MonitorService {
	return &MonitorService{
		monitor: monitor,
		exams:   exams,
		log:     log.With().Str("component", "monitor_service").Logger(),
		now:     time.Now,
	}
}

// MonitorSnapshot is the state of an exam at the moment a monitor connects.
type MonitorSnapshot struct {
	ExamID  uuid.UUID                `json:"exam_id"`
	Counts  model.StatusCounts       `json:"counts"`
	Live    []repository.LiveAttempt `json:"live"`
	Flagged int                      `json:"flagged"`
	TakenAt time.Time                `json:"taken_at"`
}

// Authorize admits admins and the exam's author to its monitor.
func (s *MonitorService) Authorize(ctx context.Context, examID uuid.UUID, actor Actor) error {
	if !actor.Role.IsStaff() {
		return ErrForbidden
	}
	def, err := s.exams.GetDefinition(ctx, examID)
	if err != nil {
		if categorized(err) {
			return err
		}
		s.log.Error().Err(err).Str("exam_id", examID.String()).Msg("Failed to load exam for monitor")
		return fmt.Errorf("%w: load exam: %w", ErrInternal, err)
	}
	return authorizeStaff(actor, &def.Exam)
}

// Snapshot fetches status counts and live attempts in parallel. Counts are
// required; the live list is best-effort and left empty if it fails.
func (s *MonitorService) Snapshot(ctx context.Context, examID uuid.UUID) (*MonitorSnapshot, error) {
	var (
		counts   model.StatusCounts
		live     []repository.LiveAttempt
		countErr error
		liveErr  error
		wg       sync.WaitGroup
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		counts, countErr = s.monitor.CountByStatus(ctx, examID)
	}()
	go func() {
		defer wg.Done()
		live, liveErr = s.monitor.ListLive(ctx, examID)
	}()
	wg.Wait()

	if countErr != nil {
		s.log.Error().Err(countErr).Str("exam_id", examID.String()).Msg("Failed to count attempts")
		return nil, fmt.Errorf("%w: count attempts: %w", ErrInternal, countErr)
	}

	snap := &MonitorSnapshot{
		ExamID:  examID,
		Counts:  counts,
		Live:    []repository.LiveAttempt{},
		TakenAt: s.now(),
	}
	if liveErr != nil {
		s.log.Warn().Err(liveErr).Str("exam_id", examID.String()).Msg("Failed to list live attempts")
		return snap, nil
	}
	if live != nil {
		snap.Live = live
	}
	for _, l := range snap.Live {
		if l.ProctorFlagged {
			snap.Flagged++
		}
	}
	return snap, nil
}
