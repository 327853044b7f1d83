package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupDistributedLimiter(t *testing.T, perWindow int) (*DistributedRateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	limiter := NewDistributedRateLimiter(client, &RateLimitConfig{
		RequestsPerWindow: perWindow,
		WindowDuration:    time.Minute,
	}, "")
	return limiter, mr
}

func TestDistributedRateLimiter_Allow(t *testing.T) {
	limiter, mr := setupDistributedLimiter(t, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := limiter.Allow(ctx, "ip:10.0.0.1")
		require.NoError(t, err)
		assert.True(t, allowed, "request %d", i)
	}

	allowed, err := limiter.Allow(ctx, "ip:10.0.0.1")
	require.NoError(t, err)
	assert.False(t, allowed)

	assert.True(t, mr.Exists("tenantgate:ratelimit:ip:10.0.0.1"))
	assert.Equal(t, time.Minute, mr.TTL("tenantgate:ratelimit:ip:10.0.0.1"))

	mr.FastForward(time.Minute + time.Second)
	allowed, err = limiter.Allow(ctx, "ip:10.0.0.1")
	require.NoError(t, err)
	assert.True(t, allowed, "window reset after expiry")
}

func TestDistributedRateLimiter_WindowWithoutExpiryIsRepaired(t *testing.T) {
	limiter, mr := setupDistributedLimiter(t, 3)
	ctx := context.Background()

	// A counter left behind without an expiry, already over the limit.
	require.NoError(t, mr.Set("tenantgate:ratelimit:user:stuck", "10"))
	require.Equal(t, time.Duration(0), mr.TTL("tenantgate:ratelimit:user:stuck"))

	allowed, err := limiter.Allow(ctx, "user:stuck")
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, time.Minute, mr.TTL("tenantgate:ratelimit:user:stuck"))

	mr.FastForward(time.Minute + time.Second)
	allowed, err = limiter.Allow(ctx, "user:stuck")
	require.NoError(t, err)
	assert.True(t, allowed, "the repaired window expires like any other")
}

func TestDistributedRateLimiter_WindowIsNotExtended(t *testing.T) {
	limiter, mr := setupDistributedLimiter(t, 10)
	ctx := context.Background()

	_, err := limiter.Allow(ctx, "user:b")
	require.NoError(t, err)
	mr.FastForward(30 * time.Second)
	_, err = limiter.Allow(ctx, "user:b")
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, mr.TTL("tenantgate:ratelimit:user:b"))
}

func TestDistributedRateLimiter_RemainingAndReset(t *testing.T) {
	limiter, _ := setupDistributedLimiter(t, 5)
	ctx := context.Background()

	remaining, err := limiter.Remaining(ctx, "user:a")
	require.NoError(t, err)
	assert.Equal(t, 5, remaining, "unknown key has the full quota")

	for i := 0; i < 7; i++ {
		_, err := limiter.Allow(ctx, "user:a")
		require.NoError(t, err)
	}
	remaining, err = limiter.Remaining(ctx, "user:a")
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)

	ttl, err := limiter.TTL(ctx, "user:a")
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.NoError(t, limiter.Reset(ctx, "user:a"))
	remaining, err = limiter.Remaining(ctx, "user:a")
	require.NoError(t, err)
	assert.Equal(t, 5, remaining)
}

func TestDistributedRateLimiter_RedisDown(t *testing.T) {
	limiter, mr := setupDistributedLimiter(t, 5)
	mr.Close()

	_, err := limiter.Allow(context.Background(), "user:a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis error")
}

func TestRateLimitMiddleware_DistributedRetryAfter(t *testing.T) {
	limiter, mr := setupDistributedLimiter(t, 1)
	handler := NewRateLimitMiddleware(limiter, limiter).Handler(okHandler())

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.1.1.1:4000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	require.Equal(t, http.StatusOK, send().Code)

	mr.FastForward(20 * time.Second)
	rec := send()
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "40", rec.Header().Get("Retry-After"), "Retry-After follows the key's TTL")
}
