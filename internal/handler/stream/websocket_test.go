package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/mdchat/backend/internal/markdown"
	chatservice "github.com/zhouzirui/mdchat/backend/internal/service/chat"
)

func setupWebSocket(t *testing.T, model *fakeModel) (*httptest.Server, *chatservice.Service) {
	t.Helper()
	chatSvc := chatservice.NewService(model)
	handler := NewWebSocketHandler(chatSvc, markdown.New(), []string{"*"}, zerolog.Nop())

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)
	return server, chatSvc
}

func dial(t *testing.T, server *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/sessions/" + sessionID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) StreamResponse {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev StreamResponse
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return ev
}

func TestWebSocketSubmit(t *testing.T) {
	server, svc := setupWebSocket(t, &fakeModel{chunks: []string{"# Hel", "lo"}})
	session, _ := svc.CreateSession(context.Background())
	conn := dial(t, server, session.ID)

	if ev := readEvent(t, conn); ev.Event != "connected" {
		t.Fatalf("expected connected event, got %+v", ev)
	}

	if err := conn.WriteJSON(map[string]string{"type": "submit", "content": "Hi"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	var got []string
	var last StreamResponse
	for last.Event != "end" {
		last = readEvent(t, conn)
		got = append(got, last.Event)
	}
	if strings.Join(got, ",") != "start,delta,delta,end" {
		t.Fatalf("unexpected events: %v", got)
	}
	if !strings.Contains(last.HTML, "<h1>Hello</h1>") {
		t.Fatalf("unexpected html: %s", last.HTML)
	}
}

func TestWebSocketRejectsEmptySubmit(t *testing.T) {
	server, svc := setupWebSocket(t, &fakeModel{})
	session, _ := svc.CreateSession(context.Background())
	conn := dial(t, server, session.ID)
	readEvent(t, conn)

	if err := conn.WriteJSON(map[string]string{"type": "submit", "content": " "}); err != nil {
		t.Fatalf("write: %v", err)
	}
	ev := readEvent(t, conn)
	if ev.Event != "error" || ev.Error == "" {
		t.Fatalf("expected error event, got %+v", ev)
	}
}

func TestWebSocketUnknownSession(t *testing.T) {
	server, _ := setupWebSocket(t, &fakeModel{})

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/sessions/missing/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 response, got %+v", resp)
	}
}
