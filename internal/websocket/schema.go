package websocket

import "encoding/json"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAnswer    Action = "answer"
	ActionFlag      Action = "flag"
	ActionViolation Action = "violation"
	ActionSubmit    Action = "submit"
	ActionPing      Action = "ping"
)

// RequestPayload is every client message. Only the fields of the named
// action are read.
type RequestPayload struct {
	Action Action `json:"action"`

	// answer
	QuestionID     string  `json:"question_id,omitempty"`
	SelectedOption *int    `json:"selected_option,omitempty"`
	TextAnswer     *string `json:"text_answer,omitempty"`
	TimeSpent      *int    `json:"time_spent,omitempty"`

	// flag
	Index *int `json:"index,omitempty"`

	// violation
	Type     string `json:"type,omitempty"`
	Severity int    `json:"severity,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventSaved             Event = "saved"
	EventFlagged           Event = "flagged"
	EventViolationRecorded Event = "violation_recorded"
	EventGraded            Event = "graded"
	EventExpired           Event = "expired"
	EventError             Event = "error"
	EventPong              Event = "pong"
)

// ResponsePayload wraps every server message.
type ResponsePayload struct {
	Event Event           `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ErrorResponse is sent when an action fails. Code carries the same value the
// HTTP API would return.
type ErrorResponse struct {
	Event Event  `json:"event"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error"`
}
