package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/mdchat/backend/internal/config"
	"github.com/zhouzirui/mdchat/backend/internal/markdown"
	chatService "github.com/zhouzirui/mdchat/backend/internal/service/chat"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.RateLimit.RequestsPerSecond = 0

	router, err := NewRouter(cfg, zerolog.Nop(), chatService.NewService(nil), nil, markdown.New())
	if err != nil {
		t.Fatalf("NewRouter() error = %v", err)
	}
	return router
}

func TestRouterHealth(t *testing.T) {
	router := newTestRouter(t)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" || body["model"] != false {
		t.Fatalf("unexpected health body: %v", body)
	}
}

func TestRouterMountsRoutes(t *testing.T) {
	router := newTestRouter(t)

	cases := []struct {
		method string
		path   string
		body   string
		want   int
	}{
		{http.MethodGet, "/", "", http.StatusOK},
		{http.MethodGet, "/static/highlight.css", "", http.StatusOK},
		{http.MethodGet, "/metrics", "", http.StatusOK},
		{http.MethodPost, "/api/sessions", "", http.StatusCreated},
		{http.MethodGet, "/api/sessions/missing", "", http.StatusNotFound},
		{http.MethodPost, "/api/render", `{"markdown":"# hi"}`, http.StatusOK},
		{http.MethodPost, "/api/chat", `{"messages":[{"role":"user","content":"hi"}]}`, http.StatusServiceUnavailable},
	}

	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.path, strings.NewReader(tc.body))
		req.Header.Set("Content-Type", "application/json")
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)

		if resp.Code != tc.want {
			t.Fatalf("%s %s: expected %d, got %d (%s)", tc.method, tc.path, tc.want, resp.Code, resp.Body.String())
		}
	}
}

func TestRouterSecurityHeaders(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("expected security headers on every response")
	}
}
