package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/mdchat/backend/internal/config"
	"github.com/zhouzirui/mdchat/backend/internal/model/chat"
)

type recordingModel struct {
	mu       sync.Mutex
	received []*schema.Message
	chunks   []string
	err      error
}

func (m *recordingModel) Generate(_ context.Context, input []*schema.Message, _ ...einoModel.Option) (*schema.Message, error) {
	m.record(input)
	if m.err != nil {
		return nil, m.err
	}
	return schema.AssistantMessage(strings.Join(m.chunks, ""), nil), nil
}

func (m *recordingModel) Stream(_ context.Context, input []*schema.Message, _ ...einoModel.Option) (*schema.StreamReader[*schema.Message], error) {
	m.record(input)
	if m.err != nil {
		return nil, m.err
	}
	msgs := make([]*schema.Message, 0, len(m.chunks))
	for _, chunk := range m.chunks {
		msgs = append(msgs, schema.AssistantMessage(chunk, nil))
	}
	return schema.StreamReaderFromArray(msgs), nil
}

func (m *recordingModel) record(input []*schema.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.received = append([]*schema.Message(nil), input...)
}

func drain(t *testing.T, stream *schema.StreamReader[*schema.Message]) string {
	t.Helper()
	defer stream.Close()

	var sb strings.Builder
	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return sb.String()
		}
		if err != nil {
			t.Fatalf("unexpected stream error: %v", err)
		}
		sb.WriteString(msg.Content)
	}
}

func TestServiceStreamSendsFullHistory(t *testing.T) {
	fake := &recordingModel{chunks: []string{"Hel", "lo"}}
	svc, err := NewService(context.Background(), fake, "be brief {not a var}")
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}

	history := []chat.Message{
		chat.NewMessage(chat.RoleUser, "hi"),
		chat.NewMessage(chat.RoleAssistant, "hello"),
		chat.NewMessage(chat.RoleUser, "use {braces}"),
	}

	stream, err := svc.Stream(context.Background(), history)
	if err != nil {
		t.Fatalf("Stream returned error: %v", err)
	}
	if got := drain(t, stream); got != "Hello" {
		t.Fatalf("expected Hello, got %q", got)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.received) != 4 {
		t.Fatalf("expected system + 3 history messages, got %d", len(fake.received))
	}
	if fake.received[0].Role != schema.System || fake.received[0].Content != "be brief {not a var}" {
		t.Fatalf("unexpected system message: %+v", fake.received[0])
	}
	if fake.received[3].Role != schema.User || fake.received[3].Content != "use {braces}" {
		t.Fatalf("user content must be passed verbatim, got %+v", fake.received[3])
	}
}

func TestServiceStreamWithoutSystemPrompt(t *testing.T) {
	fake := &recordingModel{chunks: []string{"ok"}}
	svc, err := NewService(context.Background(), fake, "")
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}

	stream, err := svc.Stream(context.Background(), []chat.Message{chat.NewMessage(chat.RoleUser, "ping")})
	if err != nil {
		t.Fatalf("Stream returned error: %v", err)
	}
	drain(t, stream)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.received) != 1 || fake.received[0].Role != schema.User {
		t.Fatalf("expected only the user message, got %+v", fake.received)
	}
}

func TestServiceStreamWrapsStartFailure(t *testing.T) {
	fake := &recordingModel{err: fmt.Errorf("dial tcp: connection refused")}
	svc, err := NewService(context.Background(), fake, "")
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}

	_, err = svc.Stream(context.Background(), []chat.Message{chat.NewMessage(chat.RoleUser, "ping")})
	var transport *chat.TransportError
	if !errors.As(err, &transport) {
		t.Fatalf("expected TransportError, got %v", err)
	}
}

func TestServiceStreamRejectsEmptyHistory(t *testing.T) {
	svc, err := NewService(context.Background(), &recordingModel{}, "")
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}
	if _, err := svc.Stream(context.Background(), nil); !errors.Is(err, ErrEmptyHistory) {
		t.Fatalf("expected ErrEmptyHistory, got %v", err)
	}
}

func TestRelayRejectsUnknownRole(t *testing.T) {
	svc, err := NewService(context.Background(), &recordingModel{}, "")
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}

	_, err = svc.Relay(context.Background(), []chat.Message{{Role: chat.Role("system"), Content: "x"}})
	if err == nil {
		t.Fatal("expected error for unknown role")
	}
}

func TestOpenAIChatModelStreamsDeltas(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, chunk := range []string{"Hel", "", "lo"} {
			fmt.Fprintf(w, "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"gpt-4o\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", chunk)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	m := newOpenAIChatModel(config.OpenAIConfig{APIKey: "test", BaseURL: server.URL, Model: "gpt-4o"}, server.Client())
	stream, err := m.Stream(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	if err != nil {
		t.Fatalf("Stream returned error: %v", err)
	}
	if got := drain(t, stream); got != "Hello" {
		t.Fatalf("expected Hello, got %q", got)
	}
}

func TestOpenAIChatModelReportsStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":{"message":"boom","type":"server_error"}}`)
	}))
	defer server.Close()

	m := newOpenAIChatModel(config.OpenAIConfig{APIKey: "test", BaseURL: server.URL, Model: "gpt-4o"}, server.Client())
	_, err := m.Stream(context.Background(), []*schema.Message{schema.UserMessage("hi")})

	var transport *chat.TransportError
	if !errors.As(err, &transport) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if transport.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", transport.StatusCode)
	}
}

func TestNewChatModelRequiresCredentials(t *testing.T) {
	_, err := NewChatModel(context.Background(), config.AIConfig{Provider: config.ProviderOpenAI}, nil)
	if err == nil {
		t.Fatal("expected error when api key is missing")
	}
}
