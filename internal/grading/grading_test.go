package grading

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-exam-engine/internal/model"
)

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }

func choiceQuestion(marks float64, correct int, penalty float64) *model.Question {
	return &model.Question{
		ID:   uuid.New(),
		Type: model.QuestionTypeMultipleChoice,
		Options: []model.Option{
			{Text: "a", IsCorrect: correct == 0},
			{Text: "b", IsCorrect: correct == 1},
			{Text: "c", IsCorrect: correct == 2},
		},
		CorrectAnswerIndex: intPtr(correct),
		Marks:              marks,
		NegativeMarking:    model.NegativeMarking{Enabled: penalty > 0, PenaltyFraction: penalty},
		Status:             model.QuestionStatusApproved,
	}
}

func attemptFor(questions ...*model.Question) (*model.Attempt, map[uuid.UUID]*model.Question) {
	a := &model.Attempt{}
	idx := make(map[uuid.UUID]*model.Question, len(questions))
	for i, q := range questions {
		a.Answers = append(a.Answers, model.AnswerSlot{Position: i, QuestionID: q.ID})
		idx[q.ID] = q
	}
	return a, idx
}

func TestLetterGrade(t *testing.T) {
	tests := []struct {
		pct  int
		want string
	}{
		{0, "F"}, {59, "F"}, {60, "D"}, {66, "D"}, {67, "D+"}, {69, "D+"},
		{70, "C-"}, {72, "C-"}, {73, "C"}, {77, "C+"}, {80, "B-"}, {83, "B"},
		{87, "B+"}, {90, "A-"}, {93, "A"}, {96, "A"}, {97, "A+"}, {100, "A+"},
	}
	for _, tc := range tests {
		if got := LetterGrade(tc.pct); got != tc.want {
			t.Errorf("LetterGrade(%d) = %q, want %q", tc.pct, got, tc.want)
		}
	}
}

func TestLetterGradeMonotonic(t *testing.T) {
	order := []string{"F", "D", "D+", "C-", "C", "C+", "B-", "B", "B+", "A-", "A", "A+"}
	rank := make(map[string]int, len(order))
	for i, g := range order {
		rank[g] = i
	}

	prev := -1
	for pct := 0; pct <= 100; pct++ {
		r, ok := rank[LetterGrade(pct)]
		if !ok {
			t.Fatalf("unknown grade %q at %d", LetterGrade(pct), pct)
		}
		if r < prev {
			t.Fatalf("grade decreased at %d%%", pct)
		}
		prev = r
	}
}

func TestPercentage(t *testing.T) {
	tests := []struct {
		name            string
		obtained, total float64
		want            int
	}{
		{"half", 5, 10, 50},
		{"full", 10, 10, 100},
		{"rounds up at half", 1, 8, 13},
		{"rounds", 2, 3, 67},
		{"zero total", 3, 0, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Percentage(tc.obtained, tc.total); got != tc.want {
				t.Errorf("got %d, want %d", got, tc.want)
			}
		})
	}
}

func TestScoreSlot(t *testing.T) {
	tests := []struct {
		name      string
		question  *model.Question
		selected  *int
		text      *string
		marks     float64
		isCorrect *bool
	}{
		{name: "correct", question: choiceQuestion(5, 1, 0), selected: intPtr(1), marks: 5, isCorrect: boolPtr(true)},
		{name: "wrong no penalty", question: choiceQuestion(5, 1, 0), selected: intPtr(0), marks: 0, isCorrect: boolPtr(false)},
		{name: "wrong with penalty", question: choiceQuestion(4, 1, 0.25), selected: intPtr(2), marks: -1, isCorrect: boolPtr(false)},
		{name: "unanswered with penalty", question: choiceQuestion(4, 1, 0.25), marks: 0, isCorrect: nil},
		{
			name:     "essay is manual",
			question: &model.Question{ID: uuid.New(), Type: model.QuestionTypeEssay, Marks: 10},
			text:     strPtr("long answer"),
			marks:    0,
		},
		{
			name:     "fill blank is manual",
			question: &model.Question{ID: uuid.New(), Type: model.QuestionTypeFillBlank, Marks: 2},
			text:     strPtr("paris"),
			marks:    0,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			slot := &model.AnswerSlot{QuestionID: tc.question.ID, SelectedOptionIndex: tc.selected, TextAnswer: tc.text}
			ScoreSlot(slot, tc.question)

			if slot.MarksAwarded != tc.marks {
				t.Errorf("marks = %v, want %v", slot.MarksAwarded, tc.marks)
			}
			switch {
			case tc.isCorrect == nil && slot.IsCorrect != nil:
				t.Errorf("is_correct = %v, want unset", *slot.IsCorrect)
			case tc.isCorrect != nil && slot.IsCorrect == nil:
				t.Errorf("is_correct unset, want %v", *tc.isCorrect)
			case tc.isCorrect != nil && *slot.IsCorrect != *tc.isCorrect:
				t.Errorf("is_correct = %v, want %v", *slot.IsCorrect, *tc.isCorrect)
			}
		})
	}
}

func TestScore_OneRightOneWrong(t *testing.T) {
	q1, q2 := choiceQuestion(5, 0, 0), choiceQuestion(5, 2, 0)
	a, idx := attemptFor(q1, q2)
	a.Answers[0].SelectedOptionIndex = intPtr(0)
	a.Answers[1].SelectedOptionIndex = intPtr(1)

	score, err := Score(a, idx, 10)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if score.Obtained != 5 || score.Total != 10 || score.Percentage != 50 {
		t.Fatalf("unexpected score %+v", score)
	}

	res := Grade(score, &model.Exam{TotalMarks: 10, PassingMarks: 6})
	if *res.Passed || *res.Grade != "F" {
		t.Fatalf("unexpected result passed=%v grade=%s", *res.Passed, *res.Grade)
	}
}

func TestScore_AllRight(t *testing.T) {
	q1, q2 := choiceQuestion(5, 0, 0), choiceQuestion(5, 2, 0)
	a, idx := attemptFor(q1, q2)
	a.Answers[0].SelectedOptionIndex = intPtr(0)
	a.Answers[1].SelectedOptionIndex = intPtr(2)

	score, err := Score(a, idx, 10)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	res := Grade(score, &model.Exam{TotalMarks: 10, PassingMarks: 6})
	if score.Percentage != 100 || !*res.Passed || *res.Grade != "A+" {
		t.Fatalf("unexpected outcome %+v passed=%v grade=%s", score, *res.Passed, *res.Grade)
	}
}

func TestScore_FloorsAtZero(t *testing.T) {
	q1, q2, q3 := choiceQuestion(1, 0, 0), choiceQuestion(4, 0, 1), choiceQuestion(4, 0, 0.5)
	a, idx := attemptFor(q1, q2, q3)
	a.Answers[0].SelectedOptionIndex = intPtr(0) // +1
	a.Answers[1].SelectedOptionIndex = intPtr(1) // -4
	a.Answers[2].SelectedOptionIndex = intPtr(2) // -2

	score, err := Score(a, idx, 9)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if score.Obtained != 0 || score.Percentage != 0 {
		t.Fatalf("expected floor at zero, got %+v", score)
	}
	if a.Answers[1].MarksAwarded != -4 {
		t.Errorf("slot penalty should stay negative, got %v", a.Answers[1].MarksAwarded)
	}
}

func TestScore_NegativeSlotsReduceTotal(t *testing.T) {
	q1, q2 := choiceQuestion(5, 0, 0), choiceQuestion(5, 0, 0.2)
	a, idx := attemptFor(q1, q2)
	a.Answers[0].SelectedOptionIndex = intPtr(0)
	a.Answers[1].SelectedOptionIndex = intPtr(1)

	score, err := Score(a, idx, 10)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if score.Obtained != 4 || score.Percentage != 40 {
		t.Fatalf("unexpected score %+v", score)
	}
}

func TestScore_FractionalPenaltiesMatchStoredPrecision(t *testing.T) {
	third := 1.0 / 3
	q1, q2, q3, q4 := choiceQuestion(1, 0, third), choiceQuestion(1, 0, third), choiceQuestion(1, 0, third), choiceQuestion(2, 0, 0)
	a, idx := attemptFor(q1, q2, q3, q4)
	for i := range a.Answers {
		a.Answers[i].SelectedOptionIndex = intPtr(1)
	}
	a.Answers[3].SelectedOptionIndex = intPtr(0)

	score, err := Score(a, idx, 5)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	for i := 0; i < 3; i++ {
		if a.Answers[i].MarksAwarded != -0.33 {
			t.Errorf("slot %d marks = %v, want -0.33", i, a.Answers[i].MarksAwarded)
		}
	}
	if score.Obtained != 1.01 || score.Percentage != 20 {
		t.Fatalf("unexpected score %+v", score)
	}

	sum := 0.0
	for _, slot := range a.Answers {
		sum += slot.MarksAwarded
	}
	if RoundMarks(sum) != score.Obtained {
		t.Fatalf("slot marks add up to %v, obtained is %v", sum, score.Obtained)
	}
}

func TestScore_MissingQuestion(t *testing.T) {
	q1 := choiceQuestion(5, 0, 0)
	a, idx := attemptFor(q1)
	a.Answers = append(a.Answers, model.AnswerSlot{Position: 1, QuestionID: uuid.New()})

	_, err := Score(a, idx, 10)
	if !errors.Is(err, ErrMissingQuestion) {
		t.Fatalf("expected ErrMissingQuestion, got %v", err)
	}
}

func TestGrade_PassThreshold(t *testing.T) {
	exam := &model.Exam{TotalMarks: 30, PassingMarks: 20} // 67%
	tests := []struct {
		pct    int
		passed bool
	}{
		{66, false},
		{67, true},
		{100, true},
	}
	for _, tc := range tests {
		res := Grade(model.Score{Percentage: tc.pct, Total: 30}, exam)
		if *res.Passed != tc.passed {
			t.Errorf("pct %d: passed = %v, want %v", tc.pct, *res.Passed, tc.passed)
		}
	}
}

func boolPtr(v bool) *bool { return &v }
