package chat

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Message is one entry of a conversation. Insertion order is display order.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Streaming bool      `json:"streaming,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewMessage builds a message with a fresh identifier.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

// RenderedMessage pairs a message with its display HTML. HTML is only set
// for assistant messages; user text is shown as-is.
type RenderedMessage struct {
	Message
	HTML string `json:"html,omitempty"`
}

// RenderAll projects messages for display, rendering assistant content with
// render. It is recomputed on every call.
func RenderAll(messages []Message, render func(string) string) []RenderedMessage {
	out := make([]RenderedMessage, len(messages))
	for i, msg := range messages {
		out[i] = RenderedMessage{Message: msg}
		if msg.Role == RoleAssistant && render != nil {
			out[i].HTML = render(msg.Content)
		}
	}
	return out
}
