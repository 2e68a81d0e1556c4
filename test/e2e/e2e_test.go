//go:build e2e
// +build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"
	"github.com/stemsi/exstem-exam-engine/internal/config"
	"github.com/stemsi/exstem-exam-engine/internal/model"
	"github.com/stemsi/exstem-exam-engine/internal/service"
)

const (
	defaultBaseURL = "http://localhost:8080/api/v1"
	instructorID   = 9001
	studentID      = 9002
	racerID        = 9004
	concurrency    = 6
)

var (
	baseURL         string
	dbURL           string
	instructorToken string
	studentToken    string
	otherToken      string
	racerToken      string
	questionIDs     []string
	examID          string
	attemptID       string
)

func TestMain(m *testing.M) {
	// Load .env if present (ignore error)
	_ = godotenv.Load("../../.env")

	baseURL = os.Getenv("BASE_URL")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	cfg := config.Load()
	dbURL = cfg.DatabaseURL

	if err := cleanup(); err != nil {
		fmt.Printf("Setup failed: %v\n", err)
		os.Exit(1)
	}

	// Tokens are signed with the server's secret, so JWT_SECRET must match.
	auth := service.NewAuthService(cfg)
	var err error
	if instructorToken, err = auth.GenerateToken(instructorID, service.RoleInstructor, time.Hour); err != nil {
		fmt.Printf("Token failed: %v\n", err)
		os.Exit(1)
	}
	studentToken, _ = auth.GenerateToken(studentID, service.RoleStudent, time.Hour)
	otherToken, _ = auth.GenerateToken(studentID+1, service.RoleStudent, time.Hour)
	racerToken, _ = auth.GenerateToken(racerID, service.RoleStudent, time.Hour)

	os.Exit(m.Run())
}

func cleanup() error {
	ctx := context.Background()
	conn, err := pgx.Connect(ctx, dbURL)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer conn.Close(ctx)

	// Order matters due to FK.
	stmts := []string{
		`DELETE FROM attempts WHERE exam_id IN (SELECT id FROM exams WHERE author_id = $1)`,
		`DELETE FROM exam_questions WHERE exam_id IN (SELECT id FROM exams WHERE author_id = $1)`,
		`DELETE FROM exams WHERE author_id = $1`,
		`DELETE FROM questions WHERE author_id = $1`,
	}
	for _, s := range stmts {
		if _, err := conn.Exec(ctx, s, instructorID); err != nil {
			return fmt.Errorf("cleanup: %w", err)
		}
	}
	return nil
}

func TestE2EFlow(t *testing.T) {
	// Step 1: Author two approved questions
	t.Run("CreateQuestions", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			reqBody := model.CreateQuestionRequest{
				Text:  fmt.Sprintf("What is %d+2?", i+2),
				Type:  "MULTIPLE_CHOICE",
				Marks: 5,
				Options: []model.OptionRequest{
					{Text: "3"}, {Text: "4", IsCorrect: i == 0}, {Text: "5", IsCorrect: i == 1},
				},
			}
			resp, err := do(http.MethodPost, "/instructor/questions", reqBody, instructorToken)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			if resp.StatusCode != http.StatusCreated {
				t.Fatalf("status %d: %s", resp.StatusCode, readBody(resp))
			}
			var body struct {
				Data struct {
					Question struct {
						ID string `json:"id"`
					} `json:"question"`
				} `json:"data"`
			}
			decodeJSON(t, resp, &body)
			questionIDs = append(questionIDs, body.Data.Question.ID)

			status := model.SetQuestionStatusRequest{Status: "APPROVED"}
			resp, err = do(http.MethodPatch, "/instructor/questions/"+body.Data.Question.ID+"/status", status, instructorToken)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			expectStatus(t, resp, http.StatusOK)
		}
	})

	// Step 2: Create, fill, and publish the exam
	t.Run("PublishExam", func(t *testing.T) {
		reqBody := model.CreateExamRequest{
			Title:           "E2E Arithmetic",
			DurationMinutes: 30,
			TotalMarks:      10,
			PassingMarks:    5,
			MaxAttempts:     1,
		}
		resp, err := do(http.MethodPost, "/instructor/exams", reqBody, instructorToken)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("status %d: %s", resp.StatusCode, readBody(resp))
		}
		var body struct {
			Data struct {
				Exam model.Exam `json:"exam"`
			} `json:"data"`
		}
		decodeJSON(t, resp, &body)
		examID = body.Data.Exam.ID.String()

		resp, err = do(http.MethodPut, "/instructor/exams/"+examID+"/questions",
			model.SetExamQuestionsRequest{QuestionIDs: questionIDs}, instructorToken)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		expectStatus(t, resp, http.StatusOK)

		resp, err = do(http.MethodPost, "/instructor/exams/"+examID+"/publish", nil, instructorToken)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		expectStatus(t, resp, http.StatusOK)
	})

	// Step 3: Start the attempt, then start again to resume it
	t.Run("StartAttempt", func(t *testing.T) {
		reqBody := model.StartAttemptRequest{ExamID: examID, Timezone: "Asia/Jakarta"}
		resp, err := do(http.MethodPost, "/attempts/start", reqBody, studentToken)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("status %d: %s", resp.StatusCode, readBody(resp))
		}
		var body struct {
			Data struct {
				Attempt struct {
					ID string `json:"id"`
				} `json:"attempt"`
			} `json:"data"`
		}
		decodeJSON(t, resp, &body)
		attemptID = body.Data.Attempt.ID

		resp, err = do(http.MethodPost, "/attempts/start", reqBody, studentToken)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		expectStatus(t, resp, http.StatusOK)
	})

	// Step 4: Answer both questions, one right and one wrong
	t.Run("AnswerQuestions", func(t *testing.T) {
		for _, qid := range questionIDs {
			opt := 1
			reqBody := model.RecordAnswerRequest{QuestionID: qid, SelectedOption: &opt}
			resp, err := do(http.MethodPut, "/attempts/"+attemptID+"/answer", reqBody, studentToken)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			expectStatus(t, resp, http.StatusOK)
		}
	})

	// Step 5: Another student cannot touch the attempt
	t.Run("ForeignStudentRejected", func(t *testing.T) {
		opt := 0
		reqBody := model.RecordAnswerRequest{QuestionID: questionIDs[0], SelectedOption: &opt}
		resp, err := do(http.MethodPut, "/attempts/"+attemptID+"/answer", reqBody, otherToken)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		expectStatus(t, resp, http.StatusForbidden)
	})

	// Step 6: Flag and report a violation
	t.Run("FlagAndViolation", func(t *testing.T) {
		resp, err := do(http.MethodPut, "/attempts/"+attemptID+"/flag/1", nil, studentToken)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		expectStatus(t, resp, http.StatusOK)

		resp, err = do(http.MethodPost, "/attempts/"+attemptID+"/violations",
			model.ReportViolationRequest{Type: "tab_switch", Severity: 2}, studentToken)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		expectStatus(t, resp, http.StatusCreated)
	})

	// Step 7: Submit and verify the score
	t.Run("Submit", func(t *testing.T) {
		resp, err := do(http.MethodPost, "/attempts/"+attemptID+"/submit", nil, studentToken)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status %d: %s", resp.StatusCode, readBody(resp))
		}
		var body struct {
			Data struct {
				Score model.Score `json:"score"`
			} `json:"data"`
		}
		decodeJSON(t, resp, &body)
		if body.Data.Score.Obtained != 5 || body.Data.Score.Percentage != 50 {
			t.Fatalf("score = %+v, want 5/10 (50%%)", body.Data.Score)
		}

		resp, err = do(http.MethodPost, "/attempts/"+attemptID+"/submit", nil, studentToken)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		expectStatus(t, resp, http.StatusBadRequest)
	})

	// Step 8: The single allowed attempt is used up
	t.Run("MaxAttemptsReached", func(t *testing.T) {
		resp, err := do(http.MethodPost, "/attempts/start", model.StartAttemptRequest{ExamID: examID}, studentToken)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		expectStatus(t, resp, http.StatusForbidden)
	})

	// Step 9: Result and instructor listing
	t.Run("ResultAndListing", func(t *testing.T) {
		resp, err := do(http.MethodGet, "/attempts/"+attemptID+"/result", nil, studentToken)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		expectStatus(t, resp, http.StatusOK)

		resp, err = do(http.MethodGet, "/instructor/exams/"+examID+"/attempts", nil, instructorToken)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status %d: %s", resp.StatusCode, readBody(resp))
		}
		var body struct {
			Data struct {
				Attempts []struct {
					ID string `json:"id"`
				} `json:"attempts"`
			} `json:"data"`
		}
		decodeJSON(t, resp, &body)
		if len(body.Data.Attempts) != 1 || body.Data.Attempts[0].ID != attemptID {
			t.Fatalf("attempts = %+v", body.Data.Attempts)
		}
	})

	// Step 10: Students cannot reach instructor routes
	t.Run("VerifyPermissionFails", func(t *testing.T) {
		resp, err := do(http.MethodPost, "/instructor/exams", nil, studentToken)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusForbidden {
			t.Errorf("Expected 403, got %d", resp.StatusCode)
		}
	})
}

func TestE2EConcurrentAttempts(t *testing.T) {
	var raceExamID, raceAttemptID string

	// Step 1: A fresh single-attempt exam with one approved question
	t.Run("PublishExam", func(t *testing.T) {
		qid := createApprovedQuestion(t, "What is 7+1?")
		raceExamID = createPublishedExam(t, "E2E Concurrency", []string{qid})
	})

	// Step 2: Simultaneous starts share one attempt
	t.Run("ConcurrentStart", func(t *testing.T) {
		type outcome struct {
			status int
			id     string
			err    error
		}
		results := make([]outcome, concurrency)
		var wg sync.WaitGroup
		for i := 0; i < concurrency; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				resp, err := do(http.MethodPost, "/attempts/start", model.StartAttemptRequest{ExamID: raceExamID}, racerToken)
				if err != nil {
					results[i].err = err
					return
				}
				defer resp.Body.Close()
				var body struct {
					Data struct {
						Attempt struct {
							ID string `json:"id"`
						} `json:"attempt"`
					} `json:"data"`
				}
				results[i].status = resp.StatusCode
				results[i].err = json.NewDecoder(resp.Body).Decode(&body)
				results[i].id = body.Data.Attempt.ID
			}(i)
		}
		wg.Wait()

		created := 0
		for i, r := range results {
			if r.err != nil {
				t.Fatalf("start %d: %v", i, r.err)
			}
			switch r.status {
			case http.StatusCreated:
				created++
			case http.StatusOK:
			default:
				t.Fatalf("start %d: status %d", i, r.status)
			}
			if raceAttemptID == "" {
				raceAttemptID = r.id
			}
			if r.id != raceAttemptID {
				t.Fatalf("start %d returned attempt %s, want %s", i, r.id, raceAttemptID)
			}
		}
		if created != 1 {
			t.Fatalf("%d starts created an attempt, want 1", created)
		}
		if n := countAttempts(t, raceExamID, racerID, "IN_PROGRESS"); n != 1 {
			t.Fatalf("%d IN_PROGRESS rows, want 1", n)
		}
	})

	// Step 3: Simultaneous submits close the attempt once
	t.Run("ConcurrentSubmit", func(t *testing.T) {
		type outcome struct {
			status int
			code   string
			err    error
		}
		results := make([]outcome, concurrency)
		var wg sync.WaitGroup
		for i := 0; i < concurrency; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				resp, err := do(http.MethodPost, "/attempts/"+raceAttemptID+"/submit", nil, racerToken)
				if err != nil {
					results[i].err = err
					return
				}
				defer resp.Body.Close()
				var body struct {
					Error *struct {
						Code string `json:"code"`
					} `json:"error"`
				}
				results[i].status = resp.StatusCode
				results[i].err = json.NewDecoder(resp.Body).Decode(&body)
				if body.Error != nil {
					results[i].code = body.Error.Code
				}
			}(i)
		}
		wg.Wait()

		graded := 0
		for i, r := range results {
			if r.err != nil {
				t.Fatalf("submit %d: %v", i, r.err)
			}
			switch {
			case r.status == http.StatusOK:
				graded++
			case r.status == http.StatusBadRequest && r.code == "INVALID_STATE":
			default:
				t.Fatalf("submit %d: status %d code %q", i, r.status, r.code)
			}
		}
		if graded != 1 {
			t.Fatalf("%d submits graded the attempt, want 1", graded)
		}
		if n := countAttempts(t, raceExamID, racerID, "COMPLETED"); n != 1 {
			t.Fatalf("%d COMPLETED rows, want 1", n)
		}
	})
}

// Helpers

func do(method, path string, body any, token string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		bodyReader = bytes.NewBuffer(jsonBytes)
	}

	req, err := http.NewRequest(method, baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	client := &http.Client{Timeout: 10 * time.Second}
	return client.Do(req)
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != want {
		t.Fatalf("status %d, want %d: %s", resp.StatusCode, want, readBody(resp))
	}
}

func readBody(resp *http.Response) string {
	b, _ := io.ReadAll(resp.Body)
	return string(b)
}

func decodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("json decode: %v", err)
	}
}

func createApprovedQuestion(t *testing.T, text string) string {
	t.Helper()
	reqBody := model.CreateQuestionRequest{
		Text:    text,
		Type:    "MULTIPLE_CHOICE",
		Marks:   10,
		Options: []model.OptionRequest{{Text: "8", IsCorrect: true}, {Text: "9"}},
	}
	resp, err := do(http.MethodPost, "/instructor/questions", reqBody, instructorToken)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status %d: %s", resp.StatusCode, readBody(resp))
	}
	var body struct {
		Data struct {
			Question struct {
				ID string `json:"id"`
			} `json:"question"`
		} `json:"data"`
	}
	decodeJSON(t, resp, &body)

	resp, err = do(http.MethodPatch, "/instructor/questions/"+body.Data.Question.ID+"/status",
		model.SetQuestionStatusRequest{Status: "APPROVED"}, instructorToken)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	expectStatus(t, resp, http.StatusOK)
	return body.Data.Question.ID
}

func createPublishedExam(t *testing.T, title string, questions []string) string {
	t.Helper()
	reqBody := model.CreateExamRequest{
		Title:           title,
		DurationMinutes: 30,
		TotalMarks:      10,
		PassingMarks:    5,
		MaxAttempts:     1,
	}
	resp, err := do(http.MethodPost, "/instructor/exams", reqBody, instructorToken)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status %d: %s", resp.StatusCode, readBody(resp))
	}
	var body struct {
		Data struct {
			Exam model.Exam `json:"exam"`
		} `json:"data"`
	}
	decodeJSON(t, resp, &body)
	id := body.Data.Exam.ID.String()

	resp, err = do(http.MethodPut, "/instructor/exams/"+id+"/questions",
		model.SetExamQuestionsRequest{QuestionIDs: questions}, instructorToken)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	expectStatus(t, resp, http.StatusOK)

	resp, err = do(http.MethodPost, "/instructor/exams/"+id+"/publish", nil, instructorToken)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	expectStatus(t, resp, http.StatusOK)
	return id
}

func countAttempts(t *testing.T, examID string, userID int, status string) int {
	t.Helper()
	ctx := context.Background()
	conn, err := pgx.Connect(ctx, dbURL)
	if err != nil {
		t.Fatalf("db connect: %v", err)
	}
	defer conn.Close(ctx)

	var n int
	err = conn.QueryRow(ctx,
		`SELECT COUNT(*) FROM attempts WHERE exam_id = $1 AND user_id = $2 AND status = $3`,
		examID, userID, status).Scan(&n)
	if err != nil {
		t.Fatalf("count attempts: %v", err)
	}
	return n
}
