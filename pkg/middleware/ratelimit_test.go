package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/tenantgate/pkg/auth"
)

func TestRateLimiter_Allow(t *testing.T) {
	config := &RateLimitConfig{
		RequestsPerWindow: 10,
		WindowDuration:    time.Second,
		BurstSize:         2,
	}
	limiter := NewRateLimiter(config)
	ctx := context.Background()

	// Should allow initial requests up to limit + burst
	allowedCount := 0
	for i := 0; i < config.RequestsPerWindow+config.BurstSize+5; i++ {
		if ok, _ := limiter.Allow(ctx, "user"); ok {
			allowedCount++
		}
	}

	expected := config.RequestsPerWindow + config.BurstSize
	if allowedCount != expected {
		t.Errorf("Allowed %d requests, want %d", allowedCount, expected)
	}

	time.Sleep(time.Second)
	if ok, _ := limiter.Allow(ctx, "user"); !ok {
		t.Error("Should allow request after refill")
	}
}

func TestRateLimiter_KeepsPartialRefill(t *testing.T) {
	limiter := NewRateLimiter(&RateLimitConfig{
		RequestsPerWindow: 10,
		WindowDuration:    time.Second,
	})
	clock := time.Unix(1700000000, 0)
	limiter.now = func() time.Time { return clock }
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if ok, _ := limiter.Allow(ctx, "user"); !ok {
			t.Fatalf("request %d denied with a full bucket", i)
		}
	}
	if ok, _ := limiter.Allow(ctx, "user"); ok {
		t.Fatal("empty bucket allowed a request")
	}

	// 160ms refills 1.6 tokens.
	clock = clock.Add(160 * time.Millisecond)
	if ok, _ := limiter.Allow(ctx, "user"); !ok {
		t.Error("refilled token was not granted")
	}
	if ok, _ := limiter.Allow(ctx, "user"); ok {
		t.Error("a partial token must not grant a request")
	}

	// The 0.6 left over adds up with the next 50ms.
	clock = clock.Add(50 * time.Millisecond)
	if ok, _ := limiter.Allow(ctx, "user"); !ok {
		t.Error("fractional refill was dropped")
	}
}

func TestRateLimiter_Remaining(t *testing.T) {
	config := &RateLimitConfig{
		RequestsPerWindow: 10,
		WindowDuration:    time.Second,
		BurstSize:         2,
	}
	limiter := NewRateLimiter(config)
	ctx := context.Background()

	initial, err := limiter.Remaining(ctx, "user")
	if err != nil {
		t.Fatalf("Remaining: %v", err)
	}
	if initial != 12 {
		t.Errorf("Initial remaining = %d, want 12", initial)
	}

	limiter.Allow(ctx, "user")
	remaining, _ := limiter.Remaining(ctx, "user")
	if remaining != initial-1 {
		t.Errorf("After using 1 token, remaining = %d, want %d", remaining, initial-1)
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	limiter := NewRateLimiter(&RateLimitConfig{
		RequestsPerWindow: 10,
		WindowDuration:    100 * time.Millisecond,
		BurstSize:         2,
	})

	keys := []string{"user1", "user2", "user3"}
	for _, key := range keys {
		limiter.Allow(context.Background(), key)
	}
	if len(limiter.buckets) != len(keys) {
		t.Errorf("Expected %d buckets, got %d", len(keys), len(limiter.buckets))
	}

	time.Sleep(300 * time.Millisecond)
	limiter.Cleanup()

	if len(limiter.buckets) != 0 {
		t.Errorf("Expected 0 buckets after cleanup, got %d", len(limiter.buckets))
	}
}

func TestRateLimiter_Concurrency(t *testing.T) {
	limiter := NewRateLimiter(&RateLimitConfig{
		RequestsPerWindow: 50,
		WindowDuration:    time.Hour,
		BurstSize:         0,
	})

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := limiter.Allow(context.Background(), "shared"); ok {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 50 {
		t.Errorf("allowed = %d, want 50", allowed)
	}
}

func TestNewRateLimiter_NilConfig(t *testing.T) {
	limiter := NewRateLimiter(nil)
	if limiter.Config().RequestsPerWindow != DefaultRateLimitConfig().RequestsPerWindow {
		t.Error("nil config should fall back to the defaults")
	}
}

func TestPerUserRateLimitConfig(t *testing.T) {
	if PerUserRateLimitConfig().RequestsPerWindow <= DefaultRateLimitConfig().RequestsPerWindow {
		t.Error("User rate limit should be higher than the anonymous limit")
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		want       string
	}{
		{"remote addr", nil, "192.168.1.1:12345", "192.168.1.1"},
		{"remote addr without port", nil, "192.168.1.1", "192.168.1.1"},
		{"forwarded for", map[string]string{"X-Forwarded-For": "10.0.0.1, 10.0.0.2"}, "192.168.1.1:1", "10.0.0.1"},
		{"forwarded for with spaces", map[string]string{"X-Forwarded-For": "  10.0.0.9 "}, "192.168.1.1:1", "10.0.0.9"},
		{"real ip", map[string]string{"X-Real-IP": "10.0.0.3"}, "192.168.1.1:1", "10.0.0.3"},
		{"forwarded wins over real ip", map[string]string{"X-Forwarded-For": "10.0.0.1", "X-Real-IP": "10.0.0.3"}, "192.168.1.1:1", "10.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := getClientIP(req); got != tt.want {
				t.Errorf("getClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func tinyLimiter(n int) *RateLimiter {
	return NewRateLimiter(&RateLimitConfig{RequestsPerWindow: n, WindowDuration: time.Minute})
}

func TestRateLimitMiddleware_Anonymous(t *testing.T) {
	m := NewRateLimitMiddleware(tinyLimiter(100), tinyLimiter(2))
	limited := 0
	m.SetOnLimited(func() { limited++ })
	handler := m.Handler(okHandler())

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, rec.Code)
		}
		if rec.Header().Get("X-RateLimit-Limit") != "2" {
			t.Errorf("X-RateLimit-Limit = %q, want 2", rec.Header().Get("X-RateLimit-Limit"))
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	for _, header := range []string{"Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining"} {
		if rec.Header().Get(header) == "" {
			t.Errorf("Header %s should be set", header)
		}
	}
	if rec.Header().Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", rec.Header().Get("Content-Type"))
	}
	if retry, _ := strconv.Atoi(rec.Header().Get("Retry-After")); retry <= 0 {
		t.Errorf("Retry-After should be positive, got %q", rec.Header().Get("Retry-After"))
	}
	if limited != 1 {
		t.Errorf("onLimited called %d times, want 1", limited)
	}

	// A different address has its own bucket.
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.2:12345"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("other client status = %d, want 200", rec.Code)
	}
}

func TestRateLimitMiddleware_AuthenticatedUsesUserLimiter(t *testing.T) {
	userLimiter := tinyLimiter(1)
	handler := NewRateLimitMiddleware(userLimiter, tinyLimiter(100)).Handler(okHandler())

	send := func(userID uuid.UUID) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UserID: userID}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	alice, bob := uuid.New(), uuid.New()
	if code := send(alice); code != http.StatusOK {
		t.Errorf("first request = %d, want 200", code)
	}
	if code := send(alice); code != http.StatusTooManyRequests {
		t.Errorf("second request = %d, want 429", code)
	}
	if code := send(bob); code != http.StatusOK {
		t.Errorf("other user = %d, want 200", code)
	}

	if _, ok := userLimiter.buckets["user:"+alice.String()]; !ok {
		t.Error("expected a bucket keyed by user id")
	}
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(ctx context.Context, key string) (bool, error) {
	return false, errors.New("connection refused")
}

func (brokenLimiter) Remaining(ctx context.Context, key string) (int, error) {
	return 0, errors.New("connection refused")
}

func (brokenLimiter) Config() *RateLimitConfig {
	return DefaultRateLimitConfig()
}

func TestRateLimitMiddleware_LimiterFailure(t *testing.T) {
	m := NewRateLimitMiddleware(brokenLimiter{}, brokenLimiter{})
	handler := m.Handler(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("fail open: status = %d, want 200", rec.Code)
	}

	m.SetFailOpen(false)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("fail closed: status = %d, want 503", rec.Code)
	}
}
