package notify

import "time"

// Meta identifies one published message.
type Meta struct {
	ID            string    `json:"id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Producer      string    `json:"producer,omitempty"`
	Time          time.Time `json:"time"`
	// Type is the event name and version, e.g. thread.routed.v1.
	Type string `json:"type"`
}

// Envelope is the wire shape of every message.
type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

// ThreadRoutedV1 announces a thread opened with an operator code.
type ThreadRoutedV1 struct {
	ThreadID     int64     `json:"thread_id"`
	OperatorID   int64     `json:"operator_id"`
	OperatorCode string    `json:"operator_code"`
	UserName     string    `json:"user_name,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
