package chat

import "time"

// Session captures a transient anonymous conversation.
type Session struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"createdAt"`
	LastActive time.Time `json:"lastActive"`
}

// State is the lifecycle of the request currently owned by a conversation.
type State string

const (
	StateIdle             State = "idle"
	StateAwaitingResponse State = "awaiting_response"
	StateStreaming        State = "streaming"
	StateComplete         State = "complete"
	StateError            State = "error"
)

// InFlight reports whether a request is still open in this state.
func (s State) InFlight() bool {
	return s == StateAwaitingResponse || s == StateStreaming
}
