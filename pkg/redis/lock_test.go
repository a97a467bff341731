package redis

import (
	"context"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := Dial(mr.Addr(), "", 0, ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestLocker(t *testing.T) {
	ctx := context.Background()

	t.Run("should allow one holder at a time", func(t *testing.T) {
		client, _ := newTestClient(t)
		locker := NewLocker(client, "test:")

		lock, err := locker.AcquireAs(ctx, "sync", "owner-1", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, "owner-1", lock.Owner())

		_, err = locker.AcquireAs(ctx, "sync", "owner-2", time.Minute)
		assert.ErrorIs(t, err, ErrLockNotAcquired)

		holder, err := locker.Holder(ctx, "sync")
		require.NoError(t, err)
		assert.Equal(t, "owner-1", holder)
	})

	t.Run("should only release or extend when owned", func(t *testing.T) {
		client, mr := newTestClient(t)
		locker := NewLocker(client, "")

		_, err := locker.AcquireAs(ctx, "sync", "owner-1", time.Minute)
		require.NoError(t, err)

		foreign := locker.Lock("sync", "owner-2", time.Minute)
		assert.ErrorIs(t, foreign.Release(ctx), ErrLockNotHeld)
		assert.ErrorIs(t, foreign.Extend(ctx, time.Hour), ErrLockNotHeld)

		own := locker.Lock("sync", "owner-1", time.Minute)
		require.NoError(t, own.Extend(ctx, time.Hour))
		assert.Equal(t, time.Hour, mr.TTL("lock:sync"))

		require.NoError(t, own.Release(ctx))
		holder, err := locker.Holder(ctx, "sync")
		require.NoError(t, err)
		assert.Equal(t, "", holder)
	})

	t.Run("should free the lock after its ttl", func(t *testing.T) {
		client, mr := newTestClient(t)
		locker := NewLocker(client, "")

		_, err := locker.AcquireAs(ctx, "sync", "owner-1", time.Second)
		require.NoError(t, err)
		mr.FastForward(2 * time.Second)

		_, err = locker.AcquireAs(ctx, "sync", "owner-2", time.Second)
		assert.NoError(t, err)
	})
}
