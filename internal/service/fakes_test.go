package service

import (
	"context"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-exam-engine/internal/model"
	"github.com/stemsi/exstem-exam-engine/internal/repository"
)

// ─── Clock ─────────────────────────────────────────────────────────────

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// ─── Attempt store ─────────────────────────────────────────────────────

// memoryAttemptStore mirrors AttemptRepository's contract in memory. A single
// mutex stands in for the row locks and the advisory lock.
type memoryAttemptStore struct {
	mu            sync.Mutex
	attempts      map[uuid.UUID]*model.Attempt
	completeCalls int
}

func newMemoryAttemptStore() *memoryAttemptStore {
	return &memoryAttemptStore{attempts: make(map[uuid.UUID]*model.Attempt)}
}

func cloneAttempt(a *model.Attempt) *model.Attempt {
	c := *a
	c.Answers = append([]model.AnswerSlot(nil), a.Answers...)
	c.Proctoring.Violations = append([]model.Violation{}, a.Proctoring.Violations...)
	return &c
}

func (m *memoryAttemptStore) CreateOrResume(_ context.Context, in repository.NewAttempt) (*model.Attempt, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	total, closed := 0, 0
	var open *model.Attempt
	for _, a := range m.attempts {
		if a.ExamID != in.ExamID || a.UserID != in.UserID {
			continue
		}
		total++
		if a.Status == model.AttemptStatusInProgress {
			open = a
		} else {
			closed++
		}
	}
	if closed >= in.MaxAttempts {
		return nil, false, repository.ErrAttemptLimitReached
	}
	if open != nil {
		return cloneAttempt(open), false, nil
	}

	a := &model.Attempt{
		ID:                   uuid.New(),
		ExamID:               in.ExamID,
		UserID:               in.UserID,
		AttemptNumber:        total + 1,
		Status:               model.AttemptStatusInProgress,
		StartTime:            in.StartTime,
		DurationSeconds:      in.DurationSeconds,
		TimeLimitEnforced:    in.TimeLimitEnforced,
		TimeRemainingSeconds: in.DurationSeconds,
		Score:                model.Score{Total: in.TotalMarks},
		Proctoring:           model.Proctoring{Violations: []model.Violation{}},
		ClientMeta:           in.ClientMeta,
	}
	for i, qid := range in.QuestionIDs {
		a.Answers = append(a.Answers, model.AnswerSlot{Position: i, QuestionID: qid})
	}
	m.attempts[a.ID] = a
	return cloneAttempt(a), true, nil
}

func (m *memoryAttemptStore) GetByID(_ context.Context, id uuid.UUID) (*model.Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[id]
	if !ok {
		return nil, repository.ErrAttemptNotFound
	}
	return cloneAttempt(a), nil
}

func (m *memoryAttemptStore) GetInProgress(_ context.Context, examID uuid.UUID, userID int) (*model.Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.attempts {
		if a.ExamID == examID && a.UserID == userID && a.Status == model.AttemptStatusInProgress {
			return cloneAttempt(a), nil
		}
	}
	return nil, repository.ErrAttemptNotFound
}

func (m *memoryAttemptStore) openLocked(id uuid.UUID) (*model.Attempt, error) {
	a, ok := m.attempts[id]
	if !ok {
		return nil, repository.ErrAttemptNotFound
	}
	if a.Status != model.AttemptStatusInProgress {
		return nil, repository.ErrAttemptNotInProgress
	}
	return a, nil
}

func (m *memoryAttemptStore) UpdateAnswer(_ context.Context, id uuid.UUID, u repository.AnswerUpdate) (*model.AnswerSlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, err := m.openLocked(id)
	if err != nil {
		return nil, err
	}
	slot := a.SlotByQuestion(u.QuestionID)
	if slot == nil {
		return nil, repository.ErrSlotNotFound
	}
	answeredAt := u.AnsweredAt
	slot.SelectedOptionIndex = u.SelectedOptionIndex
	slot.TextAnswer = u.TextAnswer
	slot.TimeSpentSeconds = u.TimeSpentSeconds
	slot.Visited = true
	slot.AnsweredAt = &answeredAt
	out := *slot
	return &out, nil
}

func (m *memoryAttemptStore) ToggleFlag(_ context.Context, id uuid.UUID, position int) (*model.AnswerSlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, err := m.openLocked(id)
	if err != nil {
		return nil, err
	}
	for i := range a.Answers {
		if a.Answers[i].Position == position {
			a.Answers[i].Flagged = !a.Answers[i].Flagged
			out := a.Answers[i]
			return &out, nil
		}
	}
	return nil, repository.ErrSlotNotFound
}

func (m *memoryAttemptStore) UpdateTimeRemaining(_ context.Context, id uuid.UUID, seconds int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.attempts[id]; ok && a.Status == model.AttemptStatusInProgress {
		a.TimeRemainingSeconds = seconds
	}
	return nil
}

func (m *memoryAttemptStore) Complete(_ context.Context, id uuid.UUID, fn func(a *model.Attempt) error) (*model.Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, err := m.openLocked(id)
	if err != nil {
		return nil, err
	}
	work := cloneAttempt(a)
	m.completeCalls++
	if err := fn(work); err != nil {
		return nil, err
	}
	m.attempts[id] = work
	return cloneAttempt(work), nil
}

func (m *memoryAttemptStore) RecordViolation(_ context.Context, id uuid.UUID, v model.Violation, flagThreshold int, suspend bool) (*repository.ViolationOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, err := m.openLocked(id)
	if err != nil {
		return nil, err
	}
	a.Proctoring.Violations = append(a.Proctoring.Violations, v)
	a.Proctoring.TotalViolations++
	if flagThreshold > 0 && a.Proctoring.TotalViolations >= flagThreshold {
		a.Proctoring.Flagged = true
	}
	if suspend {
		ts := v.Timestamp
		a.Status = model.AttemptStatusSuspended
		a.EndTime = &ts
	}
	return &repository.ViolationOutcome{
		Status:          a.Status,
		TotalViolations: a.Proctoring.TotalViolations,
		Flagged:         a.Proctoring.Flagged,
	}, nil
}

func (m *memoryAttemptStore) SaveReview(_ context.Context, id uuid.UUID, review model.Review) (*model.Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[id]
	if !ok {
		return nil, repository.ErrAttemptNotFound
	}
	if a.Status == model.AttemptStatusInProgress {
		return nil, repository.ErrAttemptIsActive
	}
	a.Review = review
	return cloneAttempt(a), nil
}

func (m *memoryAttemptStore) ListByExam(_ context.Context, examID uuid.UUID, page, perPage int) ([]repository.AttemptSummary, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []repository.AttemptSummary
	for _, a := range m.attempts {
		if a.ExamID != examID {
			continue
		}
		all = append(all, repository.AttemptSummary{
			ID: a.ID, UserID: a.UserID, AttemptNumber: a.AttemptNumber, Status: a.Status,
			StartTime: a.StartTime, EndTime: a.EndTime, Score: a.Score, Result: a.Result,
			TotalViolations: a.Proctoring.TotalViolations, Flagged: a.Proctoring.Flagged,
			SubmissionMethod: a.Submission.Method,
		})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].StartTime.After(all[j].StartTime) })
	start := (page - 1) * perPage
	if start > len(all) {
		start = len(all)
	}
	end := min(start+perPage, len(all))
	return all[start:end], len(all), nil
}

func (m *memoryAttemptStore) ListExpired(_ context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []uuid.UUID
	for _, a := range m.attempts {
		if a.Status == model.AttemptStatusInProgress && a.ExpiredAt(now) && len(ids) < limit {
			ids = append(ids, a.ID)
		}
	}
	return ids, nil
}

func (m *memoryAttemptStore) stored(t *testing.T, id uuid.UUID) *model.Attempt {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[id]
	if !ok {
		t.Fatalf("attempt %s not stored", id)
	}
	return cloneAttempt(a)
}

func (m *memoryAttemptStore) countFor(examID uuid.UUID, userID int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.attempts {
		if a.ExamID == examID && a.UserID == userID {
			n++
		}
	}
	return n
}

// ─── Exam provider ─────────────────────────────────────────────────────

type staticExams struct {
	defs map[uuid.UUID]*model.ExamDefinition
}

func (s *staticExams) GetDefinition(_ context.Context, examID uuid.UUID) (*model.ExamDefinition, error) {
	def, ok := s.defs[examID]
	if !ok {
		return nil, ErrExamNotFound
	}
	return def, nil
}

// ─── Publisher ─────────────────────────────────────────────────────────

type recordingPublisher struct {
	mu       sync.Mutex
	outcomes []model.AttemptOutcome
	events   []model.MonitorEvent
}

func (p *recordingPublisher) PublishOutcome(_ context.Context, o model.AttemptOutcome) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outcomes = append(p.outcomes, o)
	return nil
}

func (p *recordingPublisher) PublishMonitor(_ context.Context, _ uuid.UUID, ev model.MonitorEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) outcomeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.outcomes)
}

// ─── Fixture ───────────────────────────────────────────────────────────

const (
	studentID    = 501
	otherStudent = 502
	instructorID = 77
)

type fixture struct {
	svc    *AttemptService
	store  *memoryAttemptStore
	exams  *staticExams
	events *recordingPublisher
	clock  *fakeClock
}

func newFixture(t *testing.T, policy ProctoringPolicy) *fixture {
	t.Helper()
	f := &fixture{
		store:  newMemoryAttemptStore(),
		exams:  &staticExams{defs: make(map[uuid.UUID]*model.ExamDefinition)},
		events: &recordingPublisher{},
		clock:  newFakeClock(),
	}
	f.svc = NewAttemptService(f.store, f.exams, f.events, policy, zerolog.New(io.Discard))
	f.svc.now = f.clock.Now
	return f
}

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }

func choice(marks float64, correct int, penalty float64) model.Question {
	return model.Question{
		ID:   uuid.New(),
		Type: model.QuestionTypeMultipleChoice,
		Options: []model.Option{
			{Text: "A", IsCorrect: correct == 0},
			{Text: "B", IsCorrect: correct == 1},
			{Text: "C", IsCorrect: correct == 2},
			{Text: "D", IsCorrect: correct == 3},
		},
		CorrectAnswerIndex: intPtr(correct),
		Marks:              marks,
		NegativeMarking:    model.NegativeMarking{Enabled: penalty > 0, PenaltyFraction: penalty},
		Status:             model.QuestionStatusApproved,
	}
}

// addExam registers a published 30-minute exam authored by instructorID.
func (f *fixture) addExam(total, passing float64, settings model.ExamSettings, questions ...model.Question) *model.ExamDefinition {
	if settings.MaxAttempts == 0 {
		settings.MaxAttempts = 1
	}
	def := &model.ExamDefinition{
		Exam: model.Exam{
			ID:              uuid.New(),
			Title:           "Physics midterm",
			AuthorID:        instructorID,
			DurationMinutes: 30,
			TotalMarks:      total,
			PassingMarks:    passing,
			Settings:        settings,
			Status:          model.ExamStatusPublished,
			IsActive:        true,
		},
		Questions: questions,
	}
	for _, q := range questions {
		def.Exam.QuestionIDs = append(def.Exam.QuestionIDs, q.ID)
	}
	f.exams.defs[def.Exam.ID] = def
	return def
}

func (f *fixture) start(t *testing.T, examID uuid.UUID, userID int) *model.Attempt {
	t.Helper()
	view, _, err := f.svc.StartAttempt(context.Background(), examID, userID, model.ClientMeta{IP: "10.0.0.1"})
	if err != nil {
		t.Fatalf("StartAttempt: %v", err)
	}
	return view.Attempt
}

func (f *fixture) answer(t *testing.T, a *model.Attempt, qid uuid.UUID, option int) {
	t.Helper()
	_, err := f.svc.RecordAnswer(context.Background(), a.ID, a.UserID, AnswerInput{QuestionID: qid, SelectedOption: intPtr(option)})
	if err != nil {
		t.Fatalf("RecordAnswer: %v", err)
	}
}

func timedExam() model.ExamSettings {
	return model.ExamSettings{MaxAttempts: 1, ShowResults: true, TimeLimitEnforced: true}
}
