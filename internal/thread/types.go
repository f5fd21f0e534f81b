package thread

import (
	"fmt"
	"time"
)

// State is the lifecycle state of a chat thread.
type State string

const (
	StateQueue      State = "queue"
	StateWaiting    State = "waiting"
	StateChatting   State = "chatting"
	StateClosed     State = "closed"
	StateLoading    State = "loading"
	StateLeft       State = "left"
	StateInvitation State = "invitation"
)

var validStates = map[State]bool{
	StateQueue:      true,
	StateWaiting:    true,
	StateChatting:   true,
	StateClosed:     true,
	StateLoading:    true,
	StateLeft:       true,
	StateInvitation: true,
}

// ParseState validates a state name.
func ParseState(s string) (State, error) {
	st := State(s)
	if !validStates[st] {
		return "", fmt.Errorf("unknown thread state %q", s)
	}
	return st, nil
}

// Thread is the full persisted record of a visitor conversation.
type Thread struct {
	ID       int64
	State    State
	UserName string
	Remote   string
	Referer  string
	AgentID  int64
	// NextAgent is the operator the thread was routed to with an operator
	// code. Zero means the thread is not pre-assigned.
	NextAgent int64
	Created   time.Time
	Modified  time.Time
}

// Summary is one row of the pending threads list sent to operators.
type Summary struct {
	ID       int64     `json:"id"`
	State    State     `json:"state"`
	UserName string    `json:"user_name"`
	Remote   string    `json:"remote,omitempty"`
	Referer  string    `json:"referer,omitempty"`
	AgentID  int64     `json:"agent_id,omitempty"`
	Created  time.Time `json:"created"`
	Modified time.Time `json:"modified"`
}

// Summarize projects a thread into its list row. NextAgent is not exposed.
func (t *Thread) Summarize() Summary {
	return Summary{
		ID:       t.ID,
		State:    t.State,
		UserName: t.UserName,
		Remote:   t.Remote,
		Referer:  t.Referer,
		AgentID:  t.AgentID,
		Created:  t.Created,
		Modified: t.Modified,
	}
}
