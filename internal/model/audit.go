package model

import "time"

// AuditEntry is one request record travelling through the audit queue.
// UserID is 0 for unauthenticated requests.
type AuditEntry struct {
	RequestID  string    `json:"request_id"`
	UserID     int       `json:"user_id,omitempty"`
	Role       string    `json:"role,omitempty"`
	Method     string    `json:"method"`
	Route      string    `json:"route"`
	Status     int       `json:"status"`
	LatencyMS  int64     `json:"latency_ms"`
	IPHash     string    `json:"ip_hash"`
	RecordedAt time.Time `json:"at"`
}
