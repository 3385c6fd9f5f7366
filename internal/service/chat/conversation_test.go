package chat_test

import (
	"errors"
	"testing"

	model "github.com/zhouzirui/mdchat/backend/internal/model/chat"
	chat "github.com/zhouzirui/mdchat/backend/internal/service/chat"
)

func TestConversationLifecycle(t *testing.T) {
	conv := chat.NewConversation()
	if conv.State() != model.StateIdle {
		t.Fatalf("expected idle, got %s", conv.State())
	}

	history, err := conv.Submit("Hi")
	if err != nil {
		t.Fatalf("Submit err: %v", err)
	}
	if len(history) != 1 || conv.State() != model.StateAwaitingResponse {
		t.Fatalf("unexpected state after submit: %d messages, %s", len(history), conv.State())
	}

	conv.OnToken("Hel")
	if conv.State() != model.StateStreaming {
		t.Fatalf("expected streaming, got %s", conv.State())
	}
	msg, ok := conv.OnToken("lo")
	if !ok || msg.Content != "Hello" || !msg.Streaming {
		t.Fatalf("unexpected streaming message: %+v", msg)
	}

	msg, ok = conv.OnStreamEnd()
	if !ok || msg.Streaming {
		t.Fatalf("expected finished message, got %+v", msg)
	}
	if conv.State() != model.StateComplete {
		t.Fatalf("expected complete, got %s", conv.State())
	}

	messages := conv.Messages()
	if len(messages) != 2 || messages[1].Role != model.RoleAssistant {
		t.Fatalf("expected exactly one assistant message, got %+v", messages)
	}
}

func TestConversationDropsTokensWithoutRequest(t *testing.T) {
	conv := chat.NewConversation()
	if _, ok := conv.OnToken("stray"); ok {
		t.Fatal("token without a request must be dropped")
	}
	if len(conv.Messages()) != 0 {
		t.Fatal("stray token must not create a message")
	}
}

func TestConversationErrorWithoutTokens(t *testing.T) {
	conv := chat.NewConversation()
	if _, err := conv.Submit("hi"); err != nil {
		t.Fatalf("Submit err: %v", err)
	}

	if !conv.OnStreamError(&model.TransportError{Err: errors.New("refused")}) {
		t.Fatal("expected error to be recorded")
	}
	if conv.State() != model.StateError || conv.Err() == nil {
		t.Fatalf("expected error state, got %s", conv.State())
	}
	if len(conv.Messages()) != 1 {
		t.Fatal("no assistant message should be created on failure before the first token")
	}

	if _, err := conv.Submit("retry"); err != nil {
		t.Fatalf("error state must accept a new submit: %v", err)
	}
	if conv.Err() != nil {
		t.Fatal("new submit should clear the previous error")
	}
}

func TestConversationClose(t *testing.T) {
	conv := chat.NewConversation()
	if _, err := conv.Submit("hi"); err != nil {
		t.Fatalf("Submit err: %v", err)
	}
	conv.Close()

	if _, ok := conv.OnToken("late"); ok {
		t.Fatal("token after close must be dropped")
	}
	if conv.OnStreamError(errors.New("late")) {
		t.Fatal("error after close must be dropped")
	}
	if _, err := conv.Submit("again"); !errors.Is(err, model.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after close, got %v", err)
	}
}
