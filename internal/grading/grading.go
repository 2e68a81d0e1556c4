// Package grading turns an attempt's answers into marks, a percentage, and a
// letter grade. Every function here is pure: no I/O, no clock.
package grading

import (
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-exam-engine/internal/model"
)

// ErrMissingQuestion means a slot points at a question absent from the catalog.
// Scoring cannot continue because the total would be wrong.
var ErrMissingQuestion = errors.New("answer slot references unknown question")

// breakpoint is an inclusive lower bound of a letter grade.
type breakpoint struct {
	min   int
	grade string
}

// gradeTable is checked top-down; the first bound the percentage reaches wins.
var gradeTable = []breakpoint{
	{97, "A+"},
	{93, "A"},
	{90, "A-"},
	{87, "B+"},
	{83, "B"},
	{80, "B-"},
	{77, "C+"},
	{73, "C"},
	{70, "C-"},
	{67, "D+"},
	{60, "D"},
}

// FailingGrade is returned below the lowest breakpoint.
const FailingGrade = "F"

// LetterGrade maps a percentage onto the fixed letter table.
func LetterGrade(percentage int) string {
	for _, b := range gradeTable {
		if percentage >= b.min {
			return b.grade
		}
	}
	return FailingGrade
}

// RoundMarks rounds marks to the two decimals they are stored with, so stored
// slot marks always add up to the stored obtained score.
func RoundMarks(v float64) float64 {
	return math.Round(v*100) / 100
}

// Percentage returns round(obtained / total × 100). A non-positive total yields 0.
func Percentage(obtained, total float64) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(obtained / total * 100))
}

// ScoreSlot marks a single slot against its question, setting IsCorrect and
// MarksAwarded. Non-choice types are left at zero for manual review.
func ScoreSlot(slot *model.AnswerSlot, q *model.Question) {
	slot.IsCorrect = nil
	slot.MarksAwarded = 0

	if !q.Type.AutoScored() || slot.SelectedOptionIndex == nil {
		return
	}

	correct := q.CorrectAnswerIndex != nil && *slot.SelectedOptionIndex == *q.CorrectAnswerIndex
	slot.IsCorrect = &correct
	if correct {
		slot.MarksAwarded = RoundMarks(q.Marks)
		return
	}
	if q.NegativeMarking.Enabled {
		slot.MarksAwarded = RoundMarks(-(q.Marks * q.NegativeMarking.PenaltyFraction))
	}
}

// Score marks every slot of the attempt and returns the attempt-level score.
// Individual slots may carry negative marks; the sum is floored at zero.
// total is the exam's authoritative totalMarks.
func Score(attempt *model.Attempt, questions map[uuid.UUID]*model.Question, total float64) (model.Score, error) {
	sum := 0.0
	for i := range attempt.Answers {
		slot := &attempt.Answers[i]
		q, ok := questions[slot.QuestionID]
		if !ok {
			return model.Score{}, fmt.Errorf("%w: question %s at position %d", ErrMissingQuestion, slot.QuestionID, slot.Position)
		}
		ScoreSlot(slot, q)
		sum += slot.MarksAwarded
	}

	obtained := math.Max(0, RoundMarks(sum))
	return model.Score{
		Obtained:   obtained,
		Total:      total,
		Percentage: Percentage(obtained, total),
	}, nil
}

// PassThreshold is the percentage an attempt must reach to pass the exam.
func PassThreshold(exam *model.Exam) int {
	return Percentage(exam.PassingMarks, exam.TotalMarks)
}

// Grade derives pass/fail and the letter grade from a computed score.
func Grade(score model.Score, exam *model.Exam) model.Result {
	passed := score.Percentage >= PassThreshold(exam)
	grade := LetterGrade(score.Percentage)
	return model.Result{Passed: &passed, Grade: &grade}
}
