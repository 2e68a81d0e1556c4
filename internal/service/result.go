package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-exam-engine/internal/model"
)

// ResultAnswer is one slot of a result view. Correctness fields are nil when
// the viewer may not see them.
type ResultAnswer struct {
	Position            int       `json:"position"`
	QuestionID          uuid.UUID `json:"question_id"`
	SelectedOptionIndex *int      `json:"selected_option_index,omitempty"`
	TextAnswer          *string   `json:"text_answer,omitempty"`
	Flagged             bool      `json:"flagged"`
	IsCorrect           *bool     `json:"is_correct,omitempty"`
	MarksAwarded        *float64  `json:"marks_awarded,omitempty"`
	CorrectAnswerIndex  *int      `json:"correct_answer_index,omitempty"`
}

// AttemptResult is the role-filtered view of a closed attempt.
type AttemptResult struct {
	AttemptID        uuid.UUID           `json:"attempt_id"`
	ExamID           uuid.UUID           `json:"exam_id"`
	UserID           int                 `json:"user_id"`
	AttemptNumber    int                 `json:"attempt_number"`
	Status           model.AttemptStatus `json:"status"`
	StartTime        time.Time           `json:"start_time"`
	EndTime          *time.Time          `json:"end_time,omitempty"`
	TimeSpentSeconds int                 `json:"time_spent"`
	Score            model.Score         `json:"score"`
	Result           model.Result        `json:"result"`
	Submission       model.Submission    `json:"submission"`
	Answers          []ResultAnswer      `json:"answers"`
	Proctoring       *model.Proctoring   `json:"proctoring,omitempty"`
	Review           *model.Review       `json:"review,omitempty"`
}

// GetResult returns a closed attempt filtered for the caller. The owning
// student sees it only when the exam shows results, and sees correctness only
// when the exam shows correct answers. The exam's instructor and admins see
// everything, including proctoring and review.
func (s *AttemptService) GetResult(ctx context.Context, attemptID uuid.UUID, actor Actor) (*AttemptResult, error) {
	a, err := s.getAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	def, err := s.definition(ctx, a.ExamID, actor.UserID, "get result")
	if err != nil {
		return nil, err
	}

	staff := actor.Role.IsStaff()
	if staff {
		if err := authorizeStaff(actor, &def.Exam); err != nil {
			return nil, err
		}
	} else if a.UserID != actor.UserID {
		return nil, ErrNotAttemptOwner
	}

	if a.Status == model.AttemptStatusInProgress {
		return nil, ErrAttemptNotTerminal
	}
	if !staff && !def.Exam.Settings.ShowResults {
		return nil, ErrResultsHidden
	}

	revealCorrect := staff || def.Exam.Settings.ShowCorrectAnswers
	questions := def.QuestionByID()

	res := &AttemptResult{
		AttemptID:        a.ID,
		ExamID:           a.ExamID,
		UserID:           a.UserID,
		AttemptNumber:    a.AttemptNumber,
		Status:           a.Status,
		StartTime:        a.StartTime,
		EndTime:          a.EndTime,
		TimeSpentSeconds: a.TimeSpentSeconds(),
		Score:            a.Score,
		Result:           a.Result,
		Submission:       a.Submission,
		Answers:          make([]ResultAnswer, len(a.Answers)),
	}
	for i, slot := range a.Answers {
		ra := ResultAnswer{
			Position:            slot.Position,
			QuestionID:          slot.QuestionID,
			SelectedOptionIndex: slot.SelectedOptionIndex,
			TextAnswer:          slot.TextAnswer,
			Flagged:             slot.Flagged,
		}
		if revealCorrect {
			marks := slot.MarksAwarded
			ra.IsCorrect = slot.IsCorrect
			ra.MarksAwarded = &marks
			if q, ok := questions[slot.QuestionID]; ok {
				ra.CorrectAnswerIndex = q.CorrectAnswerIndex
			}
		}
		res.Answers[i] = ra
	}

	if staff {
		proctoring := a.Proctoring
		review := a.Review
		res.Proctoring = &proctoring
		res.Review = &review
	}
	return res, nil
}
