package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/mdchat/backend/internal/model/chat"
)

// ErrEmptyHistory is returned when there is nothing to send to the model.
var ErrEmptyHistory = errors.New("at least one message is required")

// Service streams completions for a conversation history through an eino chain.
type Service struct {
	chatModel model.BaseChatModel
	chain     compose.Runnable[map[string]any, *schema.Message]
	system    string
}

// NewService compiles the prompt chain around chatModel. When systemPrompt is
// non-empty it is sent ahead of the history on every request.
func NewService(ctx context.Context, chatModel model.BaseChatModel, systemPrompt string) (*Service, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("chat model is required")
	}

	templates := make([]schema.MessagesTemplate, 0, 2)
	if systemPrompt != "" {
		templates = append(templates, schema.SystemMessage("{system}"))
	}
	templates = append(templates, schema.MessagesPlaceholder("history", false))
	promptTemplate := prompt.FromMessages(schema.FString, templates...)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		chatModel: chatModel,
		chain:     runnable,
		system:    systemPrompt,
	}, nil
}

// Stream sends the full history to the model and returns its token stream.
// Failures to open the stream are reported as *chat.TransportError.
func (s *Service) Stream(ctx context.Context, history []chat.Message) (*schema.StreamReader[*schema.Message], error) {
	if len(history) == 0 {
		return nil, ErrEmptyHistory
	}

	stream, err := s.chain.Stream(ctx, s.buildChainInput(history))
	if err != nil {
		var transport *chat.TransportError
		if errors.As(err, &transport) {
			return nil, transport
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &chat.TransportError{Err: err}
	}
	return stream, nil
}

// Relay streams a completion for a caller-supplied history without keeping
// any state. Messages with unknown roles are rejected.
func (s *Service) Relay(ctx context.Context, messages []chat.Message) (*schema.StreamReader[*schema.Message], error) {
	for i, msg := range messages {
		if !msg.Role.Valid() {
			return nil, fmt.Errorf("invalid role %q at message %d", msg.Role, i)
		}
	}
	return s.Stream(ctx, messages)
}

func (s *Service) buildChainInput(history []chat.Message) map[string]any {
	input := map[string]any{
		"history": buildHistoryMessages(history),
	}
	if s.system != "" {
		input["system"] = s.system
	}
	return input
}

func buildHistoryMessages(messages []chat.Message) []*schema.Message {
	history := make([]*schema.Message, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(msg.Content))
		case chat.RoleAssistant:
			// Empty assistant turns are skipped; partial replies are kept.
			if msg.Content == "" {
				continue
			}
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		}
	}
	return history
}
