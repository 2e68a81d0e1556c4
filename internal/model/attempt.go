package model

import (
	"time"

	"github.com/google/uuid"
)

// AttemptStatus enumerates attempt lifecycle states.
type AttemptStatus string

const (
	AttemptStatusInProgress AttemptStatus = "IN_PROGRESS"
	AttemptStatusCompleted  AttemptStatus = "COMPLETED"
	AttemptStatusAbandoned  AttemptStatus = "ABANDONED"
	AttemptStatusTimeout    AttemptStatus = "TIMEOUT"
	AttemptStatusSuspended  AttemptStatus = "SUSPENDED"
)

// IsTerminal reports whether no further transition may leave this status.
func (s AttemptStatus) IsTerminal() bool {
	return s != AttemptStatusInProgress
}

// SubmissionMethod records what caused an attempt to complete.
type SubmissionMethod string

const (
	SubmissionManual      SubmissionMethod = "manual"
	SubmissionTimeout     SubmissionMethod = "timeout"
	SubmissionForceSubmit SubmissionMethod = "force-submit"
)

// TerminalStatus maps a completion cause to the status persisted for it.
func (m SubmissionMethod) TerminalStatus() AttemptStatus {
	if m == SubmissionTimeout {
		return AttemptStatusTimeout
	}
	return AttemptStatusCompleted
}

// AnswerSlot is the student's state for one question of an attempt.
// Slots are materialized at attempt creation and never added or removed.
type AnswerSlot struct {
	Position            int        `json:"position"`
	QuestionID          uuid.UUID  `json:"question_id"`
	SelectedOptionIndex *int       `json:"selected_option_index,omitempty"`
	TextAnswer          *string    `json:"text_answer,omitempty"`
	IsCorrect           *bool      `json:"is_correct,omitempty"`
	MarksAwarded        float64    `json:"marks_awarded"`
	TimeSpentSeconds    int        `json:"time_spent_seconds"`
	Flagged             bool       `json:"flagged"`
	Visited             bool       `json:"visited"`
	AnsweredAt          *time.Time `json:"answered_at,omitempty"`
}

// Answered reports whether the student supplied any answer for the slot.
func (s *AnswerSlot) Answered() bool {
	return s.SelectedOptionIndex != nil || (s.TextAnswer != nil && *s.TextAnswer != "")
}

// Score is the marks outcome of a completed attempt.
type Score struct {
	Obtained   float64 `json:"obtained"`
	Total      float64 `json:"total"`
	Percentage int     `json:"percentage"`
}

// Result is the pass/fail and letter grade derived from a Score.
type Result struct {
	Passed *bool   `json:"passed,omitempty"`
	Grade  *string `json:"grade,omitempty"`
}

// Violation is a single proctoring signal raised during an attempt.
type Violation struct {
	Type      string    `json:"type"`
	Severity  int       `json:"severity"`
	Timestamp time.Time `json:"timestamp"`
}

// Proctoring aggregates the violations recorded against an attempt.
type Proctoring struct {
	Violations      []Violation `json:"violations"`
	TotalViolations int         `json:"total_violations"`
	Flagged         bool        `json:"flagged"`
}

// Submission describes how and when an attempt was closed.
type Submission struct {
	SubmittedAt   *time.Time        `json:"submitted_at,omitempty"`
	AutoSubmitted bool              `json:"auto_submitted"`
	Method        *SubmissionMethod `json:"method,omitempty"`
}

// ClientMeta is recorded verbatim from the start request.
type ClientMeta struct {
	IP        string `json:"ip"`
	UserAgent string `json:"user_agent"`
	Timezone  string `json:"timezone"`
}

// SlotOverride assigns reviewer marks to a manually graded slot.
type SlotOverride struct {
	QuestionID uuid.UUID `json:"question_id"`
	Marks      float64   `json:"marks"`
}

// Review is the post-hoc instructor annotation of a terminal attempt.
// It never changes Score or Result.
type Review struct {
	AdjustedScore *float64       `json:"adjusted_score,omitempty"`
	Notes         *string        `json:"notes,omitempty"`
	SlotOverrides []SlotOverride `json:"slot_overrides,omitempty"`
	ReviewedBy    *int           `json:"reviewed_by,omitempty"`
	ReviewedAt    *time.Time     `json:"reviewed_at,omitempty"`
}

// Attempt represents one student's single attempt at an exam.
type Attempt struct {
	ID                   uuid.UUID     `json:"id"`
	ExamID               uuid.UUID     `json:"exam_id"`
	UserID               int           `json:"user_id"`
	AttemptNumber        int           `json:"attempt_number"`
	Status               AttemptStatus `json:"status"`
	StartTime            time.Time     `json:"start_time"`
	EndTime              *time.Time    `json:"end_time,omitempty"`
	DurationSeconds      int           `json:"duration_seconds"`
	TimeLimitEnforced    bool          `json:"time_limit_enforced"`
	TimeRemainingSeconds int           `json:"time_remaining_seconds"`
	Answers              []AnswerSlot  `json:"answers"`
	Score                Score         `json:"score"`
	Result               Result        `json:"result"`
	Proctoring           Proctoring    `json:"proctoring"`
	Submission           Submission    `json:"submission"`
	ClientMeta           ClientMeta    `json:"client_meta"`
	Review               Review        `json:"review"`
}

// Deadline returns the instant the attempt's allotted time runs out.
func (a *Attempt) Deadline() time.Time {
	return a.StartTime.Add(time.Duration(a.DurationSeconds) * time.Second)
}

// RemainingAt returns the whole seconds left at now, floored at zero.
func (a *Attempt) RemainingAt(now time.Time) int {
	left := a.Deadline().Sub(now)
	if left <= 0 {
		return 0
	}
	return int(left / time.Second)
}

// ExpiredAt reports whether the time limit applies and has run out at now.
func (a *Attempt) ExpiredAt(now time.Time) bool {
	return a.TimeLimitEnforced && !now.Before(a.Deadline())
}

// SlotByQuestion returns the slot for questionID, or nil.
func (a *Attempt) SlotByQuestion(questionID uuid.UUID) *AnswerSlot {
	for i := range a.Answers {
		if a.Answers[i].QuestionID == questionID {
			return &a.Answers[i]
		}
	}
	return nil
}

// TimeSpentSeconds is the wall-clock duration of a closed attempt.
func (a *Attempt) TimeSpentSeconds() int {
	if a.EndTime == nil {
		return 0
	}
	return int(a.EndTime.Sub(a.StartTime) / time.Second)
}

// ─── Requests ──────────────────────────────────────────────────────────

// StartAttemptRequest is the payload for starting (or resuming) an attempt.
type StartAttemptRequest struct {
	ExamID   string `json:"exam_id" binding:"required,uuid"`
	Timezone string `json:"timezone" binding:"omitempty,max=64"`
}

// RecordAnswerRequest is the payload for answering one question.
type RecordAnswerRequest struct {
	QuestionID     string  `json:"question_id" binding:"required,uuid"`
	SelectedOption *int    `json:"selected_option" binding:"omitempty,min=0"`
	TextAnswer     *string `json:"text_answer" binding:"omitempty,max=10000"`
	TimeSpent      *int    `json:"time_spent" binding:"omitempty,min=0"`
}

// ReportViolationRequest is the payload for a proctoring signal.
type ReportViolationRequest struct {
	Type     string `json:"type" binding:"required,oneof=tab_switch window_blur fullscreen_exit multiple_faces no_face copy_paste right_click screenshot devtools_open"`
	Severity int    `json:"severity" binding:"required,min=1,max=5"`
}

// SlotOverrideRequest is a single reviewer mark in a review payload.
type SlotOverrideRequest struct {
	QuestionID string  `json:"question_id" binding:"required,uuid"`
	Marks      float64 `json:"marks"`
}

// ReviewAttemptRequest is the payload for annotating a terminal attempt.
type ReviewAttemptRequest struct {
	AdjustedScore *float64              `json:"adjusted_score" binding:"omitempty,min=0"`
	Notes         *string               `json:"notes" binding:"omitempty,max=5000"`
	SlotOverrides []SlotOverrideRequest `json:"slot_overrides" binding:"omitempty,dive"`
}

// ─── Downstream payloads ───────────────────────────────────────────────

// QuestionOutcome is the per-question part of an AttemptOutcome.
type QuestionOutcome struct {
	QuestionID uuid.UUID `json:"question_id"`
	Answered   bool      `json:"answered"`
	Correct    bool      `json:"correct"`
}

// AttemptOutcome is handed to the analytics aggregator after completion.
type AttemptOutcome struct {
	AttemptID  uuid.UUID         `json:"attempt_id"`
	ExamID     uuid.UUID         `json:"exam_id"`
	UserID     int               `json:"user_id"`
	Percentage int               `json:"percentage"`
	Passed     bool              `json:"passed"`
	Questions  []QuestionOutcome `json:"questions"`
}

// MonitorEventType names the live events published for instructors.
type MonitorEventType string

const (
	MonitorAttemptStarted   MonitorEventType = "attempt_started"
	MonitorAttemptCompleted MonitorEventType = "attempt_completed"
	MonitorViolation        MonitorEventType = "violation"
)

// MonitorEvent is published on the exam monitor channel.
type MonitorEvent struct {
	Type      MonitorEventType `json:"type"`
	AttemptID uuid.UUID        `json:"attempt_id"`
	UserID    int              `json:"user_id"`
	Status    AttemptStatus    `json:"status"`
	Data      any              `json:"data,omitempty"`
	At        time.Time        `json:"at"`
}

// StatusCounts summarises attempts of an exam by status.
type StatusCounts map[AttemptStatus]int
