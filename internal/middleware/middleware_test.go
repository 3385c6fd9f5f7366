package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

func TestLoggerRecordsRequest(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	handler := Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/sessions", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not json: %v (%q)", err, buf.String())
	}
	if entry["method"] != http.MethodPost || entry["path"] != "/api/sessions" {
		t.Fatalf("unexpected log fields: %v", entry)
	}
	if status, _ := entry["status"].(float64); int(status) != http.StatusCreated {
		t.Fatalf("expected status 201 in log, got %v", entry["status"])
	}
}

func TestLoggerKeepsFlusher(t *testing.T) {
	handler := Logger(zerolog.Nop())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if _, ok := w.(http.Flusher); !ok {
			t.Fatal("wrapped writer lost http.Flusher")
		}
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}

func TestRoutePatternLabel(t *testing.T) {
	var got string
	r := chi.NewRouter()
	r.Get("/api/sessions/{sessionID}", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		got = routePattern(req)
	})

	handler := Metrics(r)
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/sessions/abc", nil))

	if got != "/api/sessions/{sessionID}" {
		t.Fatalf("expected route pattern label, got %q", got)
	}
}

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))

	if resp.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("expected nosniff header")
	}
	if resp.Header().Get("Content-Security-Policy") == "" {
		t.Fatal("expected CSP on the page")
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/sessions/x", nil))
	if resp.Header().Get("Content-Security-Policy") != "" {
		t.Fatal("api responses should not carry the page CSP")
	}
}

func TestMaxBodySize(t *testing.T) {
	handler := MaxBodySize(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("short")))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected small body to pass, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("much longer than eight bytes")))
	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", resp.Code)
	}
}
