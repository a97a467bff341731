package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter(t *testing.T) {
	ctx := context.Background()

	t.Run("should allow up to the limit inside the window", func(t *testing.T) {
		client, _ := newTestClient(t)
		limiter := NewRateLimiter(client, "test:")

		first, err := limiter.Allow(ctx, "source", 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, first.Allowed)
		assert.Equal(t, int64(1), first.Remaining)

		second, err := limiter.Allow(ctx, "source", 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, second.Allowed)
		assert.Equal(t, int64(0), second.Remaining)

		third, err := limiter.Allow(ctx, "source", 2, time.Minute)
		require.NoError(t, err)
		assert.False(t, third.Allowed)
		assert.Greater(t, third.RetryIn, time.Duration(0))
		assert.LessOrEqual(t, third.RetryIn, time.Minute)
	})

	t.Run("should keep keys independent", func(t *testing.T) {
		client, _ := newTestClient(t)
		limiter := NewRateLimiter(client, "test:")

		res, err := limiter.Allow(ctx, "a", 1, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed)

		res, err = limiter.Allow(ctx, "b", 1, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	})

	t.Run("should reject a blocked key until the block expires", func(t *testing.T) {
		client, mr := newTestClient(t)
		limiter := NewRateLimiter(client, "test:")

		require.NoError(t, limiter.BlockFor(ctx, "source", 30*time.Second))

		blocked, ttl, err := limiter.IsBlocked(ctx, "source")
		require.NoError(t, err)
		assert.True(t, blocked)
		assert.Equal(t, 30*time.Second, ttl)

		res, err := limiter.Allow(ctx, "source", 10, time.Minute)
		require.NoError(t, err)
		assert.False(t, res.Allowed)
		assert.Equal(t, 30*time.Second, res.RetryIn)

		mr.FastForward(31 * time.Second)

		res, err = limiter.Allow(ctx, "source", 10, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	})

	t.Run("should clear the window and block on reset", func(t *testing.T) {
		client, _ := newTestClient(t)
		limiter := NewRateLimiter(client, "test:")

		_, err := limiter.Allow(ctx, "source", 1, time.Minute)
		require.NoError(t, err)
		require.NoError(t, limiter.BlockFor(ctx, "source", time.Minute))

		require.NoError(t, limiter.Reset(ctx, "source"))

		res, err := limiter.Allow(ctx, "source", 1, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	})

	t.Run("should ignore a non-positive block", func(t *testing.T) {
		client, _ := newTestClient(t)
		limiter := NewRateLimiter(client, "test:")

		require.NoError(t, limiter.BlockFor(ctx, "source", 0))

		blocked, _, err := limiter.IsBlocked(ctx, "source")
		require.NoError(t, err)
		assert.False(t, blocked)
	})
}
