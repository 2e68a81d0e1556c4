package service

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-exam-engine/internal/model"
	"github.com/stemsi/exstem-exam-engine/internal/repository"
)

type stubMonitor struct {
	counts   model.StatusCounts
	live     []repository.LiveAttempt
	countErr error
	liveErr  error
}

func (s *stubMonitor) CountByStatus(_ context.Context, _ uuid.UUID) (model.StatusCounts, error) {
	return s.counts, s.countErr
}

func (s *stubMonitor) ListLive(_ context.Context, _ uuid.UUID) ([]repository.LiveAttempt, error) {
	return s.live, s.liveErr
}

func newMonitorFixture(t *testing.T, monitor *stubMonitor) (*MonitorService, *model.ExamDefinition) {
	t.Helper()
	f := newFixture(t, ProctoringPolicy{})
	def := f.addExam(10, 5, model.ExamSettings{}, choice(10, 0, 0))
	svc := NewMonitorService(monitor, f.exams, zerolog.New(io.Discard))
	svc.now = func() time.Time { return time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC) }
	return svc, def
}

func TestMonitorAuthorize(t *testing.T) {
	svc, def := newMonitorFixture(t, &stubMonitor{})
	ctx := context.Background()

	tests := []struct {
		name  string
		exam  uuid.UUID
		actor Actor
		want  error
	}{
		{"author", def.Exam.ID, Actor{UserID: instructorID, Role: RoleInstructor}, nil},
		{"admin", def.Exam.ID, Actor{UserID: 1, Role: RoleAdmin}, nil},
		{"other instructor", def.Exam.ID, Actor{UserID: instructorID + 1, Role: RoleInstructor}, ErrNotExamAuthor},
		{"student", def.Exam.ID, Actor{UserID: studentID, Role: RoleStudent}, ErrForbidden},
		{"unknown exam", uuid.New(), Actor{UserID: 1, Role: RoleAdmin}, ErrExamNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.Authorize(ctx, tt.exam, tt.actor)
			if tt.want == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestMonitorSnapshot(t *testing.T) {
	ctx := context.Background()

	t.Run("counts and flagged", func(t *testing.T) {
		monitor := &stubMonitor{
			counts: model.StatusCounts{model.AttemptStatusInProgress: 2, model.AttemptStatusCompleted: 5},
			live: []repository.LiveAttempt{
				{AttemptID: uuid.New(), UserID: studentID, ProctorFlagged: true},
				{AttemptID: uuid.New(), UserID: otherStudent},
			},
		}
		svc, def := newMonitorFixture(t, monitor)

		snap, err := svc.Snapshot(ctx, def.Exam.ID)
		if err != nil {
			t.Fatalf("Snapshot: %v", err)
		}
		if snap.Counts[model.AttemptStatusCompleted] != 5 || len(snap.Live) != 2 || snap.Flagged != 1 {
			t.Fatalf("snapshot = %+v", snap)
		}
		if snap.ExamID != def.Exam.ID || snap.TakenAt.IsZero() {
			t.Fatalf("snapshot header = %s %v", snap.ExamID, snap.TakenAt)
		}
	})

	t.Run("live list failure is tolerated", func(t *testing.T) {
		monitor := &stubMonitor{
			counts:  model.StatusCounts{model.AttemptStatusInProgress: 1},
			liveErr: errors.New("statement timeout"),
		}
		svc, def := newMonitorFixture(t, monitor)

		snap, err := svc.Snapshot(ctx, def.Exam.ID)
		if err != nil {
			t.Fatalf("Snapshot: %v", err)
		}
		if snap.Live == nil || len(snap.Live) != 0 {
			t.Fatalf("live = %#v, want empty slice", snap.Live)
		}
	})

	t.Run("count failure is internal", func(t *testing.T) {
		svc, def := newMonitorFixture(t, &stubMonitor{countErr: errors.New("connection reset")})

		if _, err := svc.Snapshot(ctx, def.Exam.ID); !errors.Is(err, ErrInternal) {
			t.Fatalf("got %v, want ErrInternal", err)
		}
	})
}
