package api

import "github.com/mattjoyce/threadgate/internal/thread"

// CreateThreadRequest is the JSON body for POST /threads.
type CreateThreadRequest struct {
	UserName     string `json:"user_name"`
	Referer      string `json:"referer,omitempty"`
	OperatorCode string `json:"operator_code,omitempty"`
}

// CreateThreadResponse is returned when a visitor thread is opened.
type CreateThreadResponse struct {
	ThreadID int64        `json:"thread_id"`
	State    thread.State `json:"state"`
	// Routed is true when the thread was opened with an operator code.
	Routed bool `json:"routed"`
}

// PendingThreadsResponse is returned by GET /threads/pending. Threads is
// always a JSON array.
type PendingThreadsResponse struct {
	OperatorID int64            `json:"operator_id,omitempty"`
	Threads    []thread.Summary `json:"threads"`
}

// ErrorResponse is returned on errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}
