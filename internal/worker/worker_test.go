package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-exam-engine/internal/config"
	"github.com/stemsi/exstem-exam-engine/internal/model"
)

// memoryQueue is an in-process stand-in for a Redis list.
type memoryQueue struct {
	mu     sync.Mutex
	items  map[string][]string
	pushed map[string][]string
}

func newMemoryQueue() *memoryQueue {
	return &memoryQueue{items: map[string][]string{}, pushed: map[string][]string{}}
}

func (q *memoryQueue) add(t *testing.T, key string, v any) {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	q.mu.Lock()
	q.items[key] = append(q.items[key], string(raw))
	q.mu.Unlock()
}

func (q *memoryQueue) len(key string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items[key])
}

func (q *memoryQueue) BLPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd {
	q.mu.Lock()
	key := keys[0]
	if list := q.items[key]; len(list) > 0 {
		q.items[key] = list[1:]
		q.mu.Unlock()
		return redis.NewStringSliceResult([]string{key, list[0]}, nil)
	}
	q.mu.Unlock()

	select {
	case <-ctx.Done():
		return redis.NewStringSliceResult(nil, ctx.Err())
	case <-time.After(5 * time.Millisecond):
		return redis.NewStringSliceResult(nil, redis.Nil)
	}
}

func (q *memoryQueue) RPush(ctx context.Context, key string, values ...any) *redis.IntCmd {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, v := range values {
		switch raw := v.(type) {
		case []byte:
			q.pushed[key] = append(q.pushed[key], string(raw))
		case string:
			q.pushed[key] = append(q.pushed[key], raw)
		}
	}
	return redis.NewIntResult(int64(len(q.pushed[key])), nil)
}

// cancelledCtx lets flush run without waiting out the requeue backoff.
func cancelledCtx() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

func outcome(pct int, passed bool) model.AttemptOutcome {
	return model.AttemptOutcome{
		AttemptID:  uuid.New(),
		ExamID:     uuid.New(),
		UserID:     501,
		Percentage: pct,
		Passed:     passed,
	}
}

// ─── Analytics ─────────────────────────────────────────────────────────

type fakeAnalytics struct {
	mu       sync.Mutex
	poisoned map[uuid.UUID]bool
	calls    [][]model.AttemptOutcome
	applied  []model.AttemptOutcome
}

func (s *fakeAnalytics) Apply(ctx context.Context, outcomes []model.AttemptOutcome) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, outcomes)
	for _, o := range outcomes {
		if s.poisoned[o.AttemptID] {
			return 0, errors.New("constraint violation")
		}
	}
	s.applied = append(s.applied, outcomes...)
	return len(outcomes), nil
}

func (s *fakeAnalytics) appliedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.applied)
}

func TestAnalyticsWorker_FallbackRequeuesOnlyFailures(t *testing.T) {
	good1, bad, good2 := outcome(80, true), outcome(20, false), outcome(55, true)
	store := &fakeAnalytics{poisoned: map[uuid.UUID]bool{bad.AttemptID: true}}
	queue := newMemoryQueue()
	w := NewAnalyticsWorker(store, queue, zerolog.Nop())

	w.flush(cancelledCtx(), []model.AttemptOutcome{good1, bad, good2})

	// One bulk call, then one per outcome.
	if len(store.calls) != 4 {
		t.Fatalf("Apply called %d times, want 4", len(store.calls))
	}
	if store.appliedCount() != 2 {
		t.Fatalf("applied = %d, want 2", store.appliedCount())
	}

	requeued := queue.pushed[config.WorkerKey.PersistOutcomesQueue]
	if len(requeued) != 1 {
		t.Fatalf("requeued %d items, want 1", len(requeued))
	}
	var got model.AttemptOutcome
	if err := json.Unmarshal([]byte(requeued[0]), &got); err != nil {
		t.Fatal(err)
	}
	if got.AttemptID != bad.AttemptID {
		t.Fatalf("requeued %s, want %s", got.AttemptID, bad.AttemptID)
	}
}

func TestAnalyticsWorker_DrainsOnShutdown(t *testing.T) {
	store := &fakeAnalytics{}
	queue := newMemoryQueue()
	key := config.WorkerKey.PersistOutcomesQueue
	for i := 0; i < 3; i++ {
		queue.add(t, key, outcome(10*i, i > 0))
	}
	queue.mu.Lock()
	queue.items[key] = append(queue.items[key], "{not json")
	queue.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewAnalyticsWorker(store, queue, zerolog.Nop()).Start(ctx)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for queue.len(key) > 0 {
		if time.Now().After(deadline) {
			t.Fatal("queue not consumed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	// The batch is below BatchSize and younger than BatchTimeout, so it is
	// still buffered; shutdown must flush it.
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}

	if store.appliedCount() != 3 {
		t.Fatalf("applied = %d, want 3", store.appliedCount())
	}
}

// ─── Audit ─────────────────────────────────────────────────────────────

type fakeAuditStore struct {
	copyErr  error
	failID   string
	inserted []model.AuditEntry
	copied   int
}

func (s *fakeAuditStore) CopyEntries(ctx context.Context, entries []model.AuditEntry) (int64, error) {
	if s.copyErr != nil {
		return 0, s.copyErr
	}
	s.copied += len(entries)
	return int64(len(entries)), nil
}

func (s *fakeAuditStore) Insert(ctx context.Context, e model.AuditEntry) error {
	if e.RequestID == s.failID {
		return errors.New("connection reset")
	}
	s.inserted = append(s.inserted, e)
	return nil
}

func TestAuditWorker_Flush(t *testing.T) {
	entries := []model.AuditEntry{
		{RequestID: "r1", Method: "POST", Route: "/api/v1/attempts/start", Status: 201},
		{RequestID: "r2", Method: "PUT", Route: "/api/v1/attempts/:id/answer", Status: 200},
		{RequestID: "r3", Method: "POST", Route: "/api/v1/attempts/:id/submit", Status: 400},
	}

	t.Run("copy succeeds", func(t *testing.T) {
		store := &fakeAuditStore{}
		queue := newMemoryQueue()
		NewAuditWorker(store, queue, zerolog.Nop()).flush(cancelledCtx(), entries)
		if store.copied != 3 || len(store.inserted) != 0 {
			t.Fatalf("copied=%d inserted=%d, want 3/0", store.copied, len(store.inserted))
		}
	})

	t.Run("copy fails", func(t *testing.T) {
		store := &fakeAuditStore{copyErr: errors.New("copy failed"), failID: "r2"}
		queue := newMemoryQueue()
		NewAuditWorker(store, queue, zerolog.Nop()).flush(cancelledCtx(), entries)

		if len(store.inserted) != 2 {
			t.Fatalf("inserted = %d, want 2", len(store.inserted))
		}
		requeued := queue.pushed[config.WorkerKey.PersistAuditQueue]
		if len(requeued) != 1 {
			t.Fatalf("requeued = %d, want 1", len(requeued))
		}
		var got model.AuditEntry
		if err := json.Unmarshal([]byte(requeued[0]), &got); err != nil {
			t.Fatal(err)
		}
		if got.RequestID != "r2" {
			t.Fatalf("requeued %q, want r2", got.RequestID)
		}
	})
}

// ─── Expiry sweeper ────────────────────────────────────────────────────

type fakeSweeper struct {
	mu     sync.Mutex
	runs   int
	closed int
	err    error
}

func (s *fakeSweeper) SweepExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs++
	return s.closed, s.err
}

func TestExpirySweeper(t *testing.T) {
	t.Run("run once", func(t *testing.T) {
		s := &fakeSweeper{closed: 4}
		if got := NewExpirySweeper(s, "@every 1m", zerolog.Nop()).RunOnce(context.Background()); got != 4 {
			t.Fatalf("RunOnce = %d, want 4", got)
		}
	})

	t.Run("cancelled context skips sweep", func(t *testing.T) {
		s := &fakeSweeper{closed: 4}
		NewExpirySweeper(s, "@every 1m", zerolog.Nop()).RunOnce(cancelledCtx())
		if s.runs != 0 {
			t.Fatalf("runs = %d, want 0", s.runs)
		}
	})

	t.Run("disabled", func(t *testing.T) {
		s := &fakeSweeper{}
		if err := NewExpirySweeper(s, "", zerolog.Nop()).Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}
	})

	t.Run("invalid schedule", func(t *testing.T) {
		s := &fakeSweeper{}
		if err := NewExpirySweeper(s, "every now and then", zerolog.Nop()).Start(context.Background()); err == nil {
			t.Fatal("Start accepted an invalid schedule")
		}
	})

	t.Run("scheduled", func(t *testing.T) {
		s := &fakeSweeper{closed: 1}
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- NewExpirySweeper(s, "@every 1s", zerolog.Nop()).Start(ctx) }()

		deadline := time.Now().Add(3 * time.Second)
		for {
			s.mu.Lock()
			runs := s.runs
			s.mu.Unlock()
			if runs > 0 {
				break
			}
			if time.Now().After(deadline) {
				t.Fatal("sweep never ran")
			}
			time.Sleep(20 * time.Millisecond)
		}
		cancel()
		if err := <-done; err != nil {
			t.Fatalf("Start: %v", err)
		}
	})
}
