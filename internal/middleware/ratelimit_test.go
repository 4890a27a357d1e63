package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestLimiterStore_AllowAndCleanup(t *testing.T) {
	// allow 5 events immediately then the 6th should be rejected
	s := NewLimiterStore(5, 5, 100*time.Millisecond)
	defer s.Stop()

	key := "test@example.com"
	for i := 0; i < 5; i++ {
		if !s.Allow(key) {
			t.Fatalf("expected allow at iteration %d", i)
		}
	}

	if s.Allow(key) {
		t.Fatalf("expected limiter to block after burst consumed")
	}

	// other keys have their own budget
	if !s.Allow("other@example.com") {
		t.Fatalf("expected independent key to be allowed")
	}
}

func TestLimiterStore_StopTwice(t *testing.T) {
	s := NewLimiterStore(1, 1, time.Second)
	s.Stop()
	s.Stop()
}

func TestRateLimitHTTP(t *testing.T) {
	s := NewLimiterStore(1, 2, time.Minute)
	defer s.Stop()

	h := RateLimitHTTP(s, RemoteIP)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/login", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	if codes[0] != http.StatusNoContent || codes[1] != http.StatusNoContent {
		t.Fatalf("expected first two requests to pass, got %v", codes)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Fatalf("expected third request to be limited, got %d", codes[2])
	}
}
