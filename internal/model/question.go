package model

import (
	"time"

	"github.com/google/uuid"
)

// QuestionType enumerates the supported question formats.
type QuestionType string

const (
	QuestionTypeMultipleChoice QuestionType = "MULTIPLE_CHOICE"
	QuestionTypeTrueFalse      QuestionType = "TRUE_FALSE"
	QuestionTypeFillBlank      QuestionType = "FILL_BLANK"
	QuestionTypeEssay          QuestionType = "ESSAY"
)

// AutoScored reports whether answers of this type are marked without a reviewer.
func (t QuestionType) AutoScored() bool {
	return t == QuestionTypeMultipleChoice || t == QuestionTypeTrueFalse
}

// QuestionStatus enumerates the authoring workflow states of a question.
type QuestionStatus string

const (
	QuestionStatusDraft    QuestionStatus = "DRAFT"
	QuestionStatusReview   QuestionStatus = "REVIEW"
	QuestionStatusApproved QuestionStatus = "APPROVED"
	QuestionStatusArchived QuestionStatus = "ARCHIVED"
)

// Option is one selectable answer of a choice question.
type Option struct {
	Text      string `json:"text"`
	IsCorrect bool   `json:"is_correct"`
}

// NegativeMarking controls the penalty applied to a wrong, non-empty answer.
type NegativeMarking struct {
	Enabled         bool    `json:"enabled"`
	PenaltyFraction float64 `json:"penalty_fraction"`
}

// Question represents a single catalog question.
type Question struct {
	ID                 uuid.UUID       `json:"id"`
	AuthorID           int             `json:"author_id"`
	Text               string          `json:"text"`
	Type               QuestionType    `json:"type"`
	Options            []Option        `json:"options"`
	CorrectAnswerIndex *int            `json:"correct_answer_index,omitempty"`
	Marks              float64         `json:"marks"`
	NegativeMarking    NegativeMarking `json:"negative_marking"`
	Status             QuestionStatus  `json:"status"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// QuestionForStudent is a question without correctness data, sent to students.
type QuestionForStudent struct {
	ID      uuid.UUID    `json:"id"`
	Text    string       `json:"text"`
	Type    QuestionType `json:"type"`
	Options []string     `json:"options,omitempty"`
	Marks   float64      `json:"marks"`
}

// ForStudent strips correctness data from the question.
func (q *Question) ForStudent() QuestionForStudent {
	opts := make([]string, len(q.Options))
	for i, o := range q.Options {
		opts[i] = o.Text
	}
	return QuestionForStudent{
		ID:      q.ID,
		Text:    q.Text,
		Type:    q.Type,
		Options: opts,
		Marks:   q.Marks,
	}
}

// OptionRequest is a single option in a question authoring payload.
type OptionRequest struct {
	Text      string `json:"text" binding:"required,min=1,max=1000"`
	IsCorrect bool   `json:"is_correct"`
}

// CreateQuestionRequest is the payload for adding a question to the catalog.
type CreateQuestionRequest struct {
	Text               string          `json:"text" binding:"required,min=1,max=5000"`
	Type               string          `json:"type" binding:"required,oneof=MULTIPLE_CHOICE TRUE_FALSE FILL_BLANK ESSAY"`
	Options            []OptionRequest `json:"options" binding:"omitempty,max=10,dive"`
	CorrectAnswerIndex *int            `json:"correct_answer_index" binding:"omitempty,min=0"`
	Marks              float64         `json:"marks" binding:"required,gt=0"`
	NegativeMarking    bool            `json:"negative_marking"`
	PenaltyFraction    float64         `json:"penalty_fraction" binding:"min=0,max=1"`
}

// SetQuestionStatusRequest moves a question through the authoring workflow.
type SetQuestionStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=DRAFT REVIEW APPROVED ARCHIVED"`
}
