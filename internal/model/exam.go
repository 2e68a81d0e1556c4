package model

import (
	"time"

	"github.com/google/uuid"
)

// ExamStatus enumerates the possible states of an exam.
type ExamStatus string

const (
	ExamStatusDraft     ExamStatus = "DRAFT"
	ExamStatusPublished ExamStatus = "PUBLISHED"
	ExamStatusArchived  ExamStatus = "ARCHIVED"
	ExamStatusSuspended ExamStatus = "SUSPENDED"
)

// ExamSettings holds the per-exam attempt policy.
type ExamSettings struct {
	RandomizeQuestions bool `json:"randomize_questions"`
	MaxAttempts        int  `json:"max_attempts"`
	ShowResults        bool `json:"show_results"`
	ShowCorrectAnswers bool `json:"show_correct_answers"`
	TimeLimitEnforced  bool `json:"time_limit_enforced"`
}

// Exam represents an exam entity.
type Exam struct {
	ID              uuid.UUID    `json:"id"`
	Title           string       `json:"title"`
	AuthorID        int          `json:"author_id"`
	DurationMinutes int          `json:"duration_minutes"`
	TotalMarks      float64      `json:"total_marks"`
	PassingMarks    float64      `json:"passing_marks"`
	QuestionIDs     []uuid.UUID  `json:"question_ids"`
	Settings        ExamSettings `json:"settings"`
	StartDate       *time.Time   `json:"start_date,omitempty"`
	EndDate         *time.Time   `json:"end_date,omitempty"`
	Status          ExamStatus   `json:"status"`
	IsActive        bool         `json:"is_active"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// IsAvailable reports whether students may start the exam at now.
// A missing schedule bound is unbounded on that side.
func (e *Exam) IsAvailable(now time.Time) bool {
	if !e.IsActive || e.Status != ExamStatusPublished {
		return false
	}
	if e.StartDate != nil && now.Before(*e.StartDate) {
		return false
	}
	if e.EndDate != nil && now.After(*e.EndDate) {
		return false
	}
	return true
}

// Duration returns the allotted time for one attempt.
func (e *Exam) Duration() time.Duration {
	return time.Duration(e.DurationMinutes) * time.Minute
}

// ExamDefinition is an exam together with its question set, as cached in Redis.
type ExamDefinition struct {
	Exam      Exam       `json:"exam"`
	Questions []Question `json:"questions"`
}

// QuestionByID indexes the definition's questions.
func (d *ExamDefinition) QuestionByID() map[uuid.UUID]*Question {
	idx := make(map[uuid.UUID]*Question, len(d.Questions))
	for i := range d.Questions {
		idx[d.Questions[i].ID] = &d.Questions[i]
	}
	return idx
}

// CreateExamRequest is the payload for creating a new exam.
type CreateExamRequest struct {
	Title              string     `json:"title" binding:"required,min=3,max=255"`
	DurationMinutes    int        `json:"duration_minutes" binding:"required,min=1,max=480"`
	TotalMarks         float64    `json:"total_marks" binding:"required,gt=0"`
	PassingMarks       float64    `json:"passing_marks" binding:"min=0,ltefield=TotalMarks"`
	RandomizeQuestions bool       `json:"randomize_questions"`
	MaxAttempts        int        `json:"max_attempts" binding:"omitempty,min=1,max=100"`
	ShowResults        *bool      `json:"show_results"`
	ShowCorrectAnswers bool       `json:"show_correct_answers"`
	TimeLimitEnforced  *bool      `json:"time_limit_enforced"`
	StartDate          *time.Time `json:"start_date" binding:"omitempty"`
	EndDate            *time.Time `json:"end_date" binding:"omitempty,gtfield=StartDate"`
}

// SetExamQuestionsRequest replaces the ordered question list of a draft exam.
type SetExamQuestionsRequest struct {
	QuestionIDs []string `json:"question_ids" binding:"required,min=1,dive,uuid"`
}

// SetExamStatusRequest archives, suspends, or reinstates a published exam.
type SetExamStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=PUBLISHED ARCHIVED SUSPENDED"`
}
