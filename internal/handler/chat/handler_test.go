package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/mdchat/backend/internal/markdown"
	"github.com/zhouzirui/mdchat/backend/internal/model/chat"
	chatservice "github.com/zhouzirui/mdchat/backend/internal/service/chat"
)

type staticCompleter struct {
	reply string
}

func (c staticCompleter) Stream(_ context.Context, _ []chat.Message) (*schema.StreamReader[*schema.Message], error) {
	return schema.StreamReaderFromArray([]*schema.Message{schema.AssistantMessage(c.reply, nil)}), nil
}

func setupRouter(completer chatservice.Completer) (*chi.Mux, *chatservice.Service) {
	chatSvc := chatservice.NewService(completer)
	handler := New(chatSvc, markdown.New())

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r, chatSvc
}

func decodeSession(t *testing.T, resp *httptest.ResponseRecorder) SessionResponse {
	t.Helper()
	var out SessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestCreateSession(t *testing.T) {
	r, _ := setupRouter(nil)

	req := httptest.NewRequest(http.MethodPost, "/sessions", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.Code)
	}
	body := decodeSession(t, resp)
	if body.Session.ID == "" {
		t.Fatal("expected session id")
	}
	if body.State != chat.StateIdle {
		t.Fatalf("expected idle state, got %s", body.State)
	}
	if body.Available {
		t.Fatal("expected available=false without a completer")
	}
}

func TestGetSessionRendersAssistantMessages(t *testing.T) {
	r, svc := setupRouter(staticCompleter{reply: "**bold** <script>alert(1)</script>"})
	session, _ := svc.CreateSession(context.Background())
	if err := svc.Submit(context.Background(), session.ID, "<b>hi</b>", nil); err != nil {
		t.Fatalf("Submit err: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/sessions/"+session.ID, nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	body := decodeSession(t, resp)
	if body.State != chat.StateComplete {
		t.Fatalf("expected complete state, got %s", body.State)
	}
	if len(body.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(body.Messages))
	}
	if body.Messages[0].HTML != "" || body.Messages[0].Content != "<b>hi</b>" {
		t.Fatalf("user message must not be rendered: %+v", body.Messages[0])
	}
	html := body.Messages[1].HTML
	if !strings.Contains(html, "<strong>bold</strong>") || strings.Contains(html, "<script") {
		t.Fatalf("unexpected assistant html: %s", html)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	r, _ := setupRouter(nil)

	req := httptest.NewRequest(http.MethodGet, "/sessions/missing", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestDeleteSession(t *testing.T) {
	r, svc := setupRouter(nil)
	session, _ := svc.CreateSession(context.Background())

	req := httptest.NewRequest(http.MethodDelete, "/sessions/"+session.ID, nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}

	req = httptest.NewRequest(http.MethodDelete, "/sessions/"+session.ID, nil)
	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", resp.Code)
	}
}
