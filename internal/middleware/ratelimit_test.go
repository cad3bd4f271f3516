package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestAllow_ExhaustsBucket(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	defer rl.Stop()

	if !rl.Allow("10.0.0.1") || !rl.Allow("10.0.0.1") {
		t.Fatal("Expected first two requests allowed")
	}
	if rl.Allow("10.0.0.1") {
		t.Error("Expected third request denied")
	}

	// Other clients have their own bucket
	if !rl.Allow("10.0.0.2") {
		t.Error("Expected fresh client allowed")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	defer rl.Stop()

	handler := RateLimitMiddleware(rl)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/checkout-sessions", nil)
	req.Header.Set("X-Real-IP", "10.0.0.1")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected 429, got %d", rec.Code)
	}
	// The advertised limit is the configured rate
	if got := rec.Header().Get("X-RateLimit-Limit"); got != "1" {
		t.Errorf("Unexpected X-RateLimit-Limit: %s", got)
	}
}

func TestClientKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.5:1234"
	if got := clientKey(req); got != "192.168.1.5:1234" {
		t.Errorf("Expected remote addr fallback, got %s", got)
	}

	req.Header.Set("X-Real-IP", "10.0.0.9")
	if got := clientKey(req); got != "10.0.0.9" {
		t.Errorf("Expected X-Real-IP, got %s", got)
	}

	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	if got := clientKey(req); got != "203.0.113.7" {
		t.Errorf("Expected X-Forwarded-For to win, got %s", got)
	}
}
