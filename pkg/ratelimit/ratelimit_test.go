package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestLimiter(t *testing.T) {
	// rate.NewLimiter(10, 2) starts with 2 tokens in the bucket
	limiter := NewLimiter(10, 2)

	if !limiter.Allow("test-key") {
		t.Error("First request should be allowed")
	}
	if !limiter.Allow("test-key") {
		t.Error("Second request should be allowed")
	}
	if limiter.Allow("test-key") {
		t.Error("Third request should be rate limited")
	}

	// 10 req/s means one token refills every 100ms
	time.Sleep(150 * time.Millisecond)

	if !limiter.Allow("test-key") {
		t.Error("Request after waiting should be allowed")
	}
}

func TestLimiterIndependentKeys(t *testing.T) {
	limiter := NewLimiter(10, 1)

	if !limiter.Allow("host-a") {
		t.Error("host-a should be allowed")
	}
	if !limiter.Allow("host-b") {
		t.Error("host-b should have its own bucket")
	}
	if limiter.Allow("host-a") {
		t.Error("host-a should be limited")
	}
}

func TestMiddleware(t *testing.T) {
	limiter := NewLimiter(10, 2)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	middleware := limiter.Middleware(func(r *http.Request) string {
		return "test-key"
	})
	wrapped := middleware(handler)

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		wrapped.ServeHTTP(rr, httptest.NewRequest("GET", "/manifest", nil))
		if rr.Code != http.StatusOK {
			t.Errorf("Request %d: expected 200, got %d", i+1, rr.Code)
		}
	}

	rr := httptest.NewRecorder()
	wrapped.ServeHTTP(rr, httptest.NewRequest("GET", "/manifest", nil))
	if rr.Code != http.StatusTooManyRequests {
		t.Errorf("Expected 429, got %d", rr.Code)
	}
}

func TestCleanupOldLimiters(t *testing.T) {
	limiter := NewLimiter(10, 2)

	limiter.Allow("stale-key")
	time.Sleep(20 * time.Millisecond)
	limiter.Allow("fresh-key")

	limiter.CleanupOldLimiters(10 * time.Millisecond)

	limiter.mu.Lock()
	_, staleExists := limiter.limiters["stale-key"]
	_, freshExists := limiter.limiters["fresh-key"]
	limiter.mu.Unlock()

	if staleExists {
		t.Error("stale-key should have been cleaned up")
	}
	if !freshExists {
		t.Error("fresh-key should have been kept")
	}
}
