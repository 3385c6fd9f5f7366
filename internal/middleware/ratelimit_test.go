package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRateLimiterRejectsBurst(t *testing.T) {
	rl := NewRateLimiter(0.001, 2, zerolog.Nop())
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		codes = append(codes, resp.Code)
	}

	if codes[0] != http.StatusNoContent || codes[1] != http.StatusNoContent {
		t.Fatalf("burst should be allowed, got %v", codes)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after burst, got %v", codes)
	}

	// other clients have their own bucket
	req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected a fresh bucket for another ip, got %d", resp.Code)
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
	rl := NewRateLimiter(0, 0, zerolog.Nop())
	if got := rl.Middleware(next); got == nil {
		t.Fatal("expected handler")
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(1, 1, zerolog.Nop())
	now := time.Now()
	rl.limiterFor("10.0.0.1", now.Add(-time.Hour))
	rl.limiterFor("10.0.0.2", now)

	if remaining := rl.Cleanup(now); remaining != 1 {
		t.Fatalf("expected 1 visitor left, got %d", remaining)
	}
}
