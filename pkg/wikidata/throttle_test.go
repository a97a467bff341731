package wikidata

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncerrors "github.com/Ramsey-B/lily/pkg/errors"
	"github.com/Ramsey-B/lily/pkg/redis"
)

type fakeLimiter struct {
	allow    bool
	retryIn  time.Duration
	err      error
	blocked  time.Duration
	allowed  int
	blockKey string
}

func (f *fakeLimiter) Allow(_ context.Context, _ string, _ int64, _ time.Duration) (*redis.RateLimitResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.allowed++
	return &redis.RateLimitResult{Allowed: f.allow, RetryIn: f.retryIn}, nil
}

func (f *fakeLimiter) BlockFor(_ context.Context, key string, d time.Duration) error {
	f.blockKey = key
	f.blocked = d
	return nil
}

func emptyPage(hits *atomic.Int32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/sparql-results+json")
		_, _ = w.Write([]byte(`{"results":{"bindings":[]}}`))
	}
}

func TestClientRateLimit(t *testing.T) {
	ctx := context.Background()
	budget := RateLimit{Requests: 5, Window: time.Minute}

	t.Run("should refuse the query when the budget is spent", func(t *testing.T) {
		var hits atomic.Int32
		limiter := &fakeLimiter{allow: false, retryIn: 12 * time.Second}
		client := newTestClient(t, emptyPage(&hits), time.Second).WithRateLimit(limiter, budget)

		_, err := client.FetchPage(ctx, 500, 0)

		syncErr, ok := syncerrors.As(err)
		require.True(t, ok)
		assert.Equal(t, http.StatusTooManyRequests, syncErr.StatusCode())
		assert.Contains(t, syncErr.Message, "12s")
		assert.Equal(t, int32(0), hits.Load())
	})

	t.Run("should query when the budget allows", func(t *testing.T) {
		var hits atomic.Int32
		limiter := &fakeLimiter{allow: true}
		client := newTestClient(t, emptyPage(&hits), time.Second).WithRateLimit(limiter, budget)

		_, err := client.FetchPage(ctx, 500, 0)

		require.NoError(t, err)
		assert.Equal(t, int32(1), hits.Load())
		assert.Equal(t, 1, limiter.allowed)
	})

	t.Run("should query anyway when the limiter fails", func(t *testing.T) {
		var hits atomic.Int32
		limiter := &fakeLimiter{err: errors.New("redis down")}
		client := newTestClient(t, emptyPage(&hits), time.Second).WithRateLimit(limiter, budget)

		_, err := client.FetchPage(ctx, 500, 0)

		require.NoError(t, err)
		assert.Equal(t, int32(1), hits.Load())
	})

	t.Run("should skip the limiter when no budget is configured", func(t *testing.T) {
		var hits atomic.Int32
		limiter := &fakeLimiter{allow: false}
		client := newTestClient(t, emptyPage(&hits), time.Second).WithRateLimit(limiter, RateLimit{})

		_, err := client.FetchPage(ctx, 500, 0)

		require.NoError(t, err)
		assert.Equal(t, 0, limiter.allowed)
	})

	t.Run("should block the bucket for the Retry-After of a 429", func(t *testing.T) {
		limiter := &fakeLimiter{allow: true}
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "42")
			http.Error(w, "slow down", http.StatusTooManyRequests)
		}, time.Second).WithRateLimit(limiter, budget)

		_, err := client.FetchPage(ctx, 500, 0)

		require.Error(t, err)
		assert.Equal(t, ThrottleKey, limiter.blockKey)
		assert.Equal(t, 42*time.Second, limiter.blocked)
	})

	t.Run("should fall back when a 429 has no Retry-After", func(t *testing.T) {
		limiter := &fakeLimiter{allow: true}
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "slow down", http.StatusTooManyRequests)
		}, time.Second).WithRateLimit(limiter, RateLimit{Requests: 5, Window: time.Minute, RetryAfterFallback: 90 * time.Second})

		_, err := client.FetchPage(ctx, 500, 0)

		require.Error(t, err)
		assert.Equal(t, 90*time.Second, limiter.blocked)
	})

	t.Run("should share the budget through redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		rc, err := redis.Dial(mr.Addr(), "", 0, testLogger())
		require.NoError(t, err)
		t.Cleanup(func() { _ = rc.Close() })

		var hits atomic.Int32
		limiter := redis.NewRateLimiter(rc, "test:")
		first := newTestClient(t, emptyPage(&hits), time.Second).WithRateLimit(limiter, RateLimit{Requests: 1, Window: time.Minute})
		second := newTestClient(t, emptyPage(&hits), time.Second).WithRateLimit(limiter, RateLimit{Requests: 1, Window: time.Minute})

		_, err = first.FetchPage(ctx, 500, 0)
		require.NoError(t, err)

		_, err = second.FetchPage(ctx, 500, 0)
		syncErr, ok := syncerrors.As(err)
		require.True(t, ok)
		assert.Equal(t, http.StatusTooManyRequests, syncErr.StatusCode())
		assert.Equal(t, int32(1), hits.Load())
	})
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("should read seconds", func(t *testing.T) {
		d, ok := ParseRetryAfter("30", now)
		assert.True(t, ok)
		assert.Equal(t, 30*time.Second, d)
	})

	t.Run("should read an HTTP date", func(t *testing.T) {
		d, ok := ParseRetryAfter("Wed, 01 May 2024 12:01:00 GMT", now)
		assert.True(t, ok)
		assert.Equal(t, time.Minute, d)
	})

	t.Run("should reject empty, past and garbage values", func(t *testing.T) {
		for _, value := range []string{"", "0", "-5", "Wed, 01 May 2024 11:00:00 GMT", "soon"} {
			_, ok := ParseRetryAfter(value, now)
			assert.False(t, ok, value)
		}
	})
}
