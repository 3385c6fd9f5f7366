package chat

import (
	"strings"
	"sync"

	"github.com/zhouzirui/mdchat/backend/internal/model/chat"
)

// Conversation owns the ordered message list of one session and the state of
// its single in-flight request.
type Conversation struct {
	mu        sync.Mutex
	messages  []chat.Message
	state     chat.State
	err       error
	streaming int
	closed    bool
}

// NewConversation returns an empty conversation in the idle state.
func NewConversation() *Conversation {
	return &Conversation{
		messages:  make([]chat.Message, 0, 16),
		state:     chat.StateIdle,
		streaming: -1,
	}
}

// Submit appends a user message and returns the full history to send to the
// completion endpoint. Blank input and submits during an open request are
// rejected without touching the message list.
func (c *Conversation) Submit(userText string) ([]chat.Message, error) {
	if strings.TrimSpace(userText) == "" {
		return nil, chat.ErrEmptyInput
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, chat.ErrSessionNotFound
	}
	if c.state.InFlight() {
		return nil, chat.ErrRequestInFlight
	}

	c.messages = append(c.messages, chat.NewMessage(chat.RoleUser, userText))
	c.state = chat.StateAwaitingResponse
	c.err = nil
	c.streaming = -1

	return c.snapshotLocked(), nil
}

// OnToken appends chunk to the assistant message being streamed, creating it
// on the first token. It returns the updated message, or false when there is
// no open request to apply the token to.
func (c *Conversation) OnToken(chunk string) (chat.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || !c.state.InFlight() {
		return chat.Message{}, false
	}

	if c.streaming < 0 {
		msg := chat.NewMessage(chat.RoleAssistant, "")
		msg.Streaming = true
		c.messages = append(c.messages, msg)
		c.streaming = len(c.messages) - 1
	}

	c.messages[c.streaming].Content += chunk
	c.state = chat.StateStreaming
	return c.messages[c.streaming], true
}

// OnStreamEnd marks the current assistant message as complete.
func (c *Conversation) OnStreamEnd() (chat.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || !c.state.InFlight() {
		return chat.Message{}, false
	}

	c.state = chat.StateComplete
	if c.streaming < 0 {
		return chat.Message{}, true
	}

	c.messages[c.streaming].Streaming = false
	msg := c.messages[c.streaming]
	c.streaming = -1
	return msg, true
}

// OnStreamError attaches err to the conversation and, when one exists, to
// the partially streamed assistant message.
func (c *Conversation) OnStreamError(err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || !c.state.InFlight() {
		return false
	}

	c.state = chat.StateError
	c.err = err
	if c.streaming >= 0 {
		c.messages[c.streaming].Streaming = false
		c.messages[c.streaming].Error = chat.DisplayError(err)
		c.streaming = -1
	}
	return true
}

// Close tears the conversation down. Callbacks arriving afterwards are dropped.
func (c *Conversation) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// Messages returns a copy of the message list.
func (c *Conversation) Messages() []chat.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// State returns the current request state.
func (c *Conversation) State() chat.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the error of the last failed request, if any.
func (c *Conversation) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Conversation) snapshotLocked() []chat.Message {
	copied := make([]chat.Message, len(c.messages))
	copy(copied, c.messages)
	return copied
}
