package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func setupLease(t *testing.T, ttl time.Duration) (*SweepLease, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewSweepLease(client, zaptest.NewLogger(t), "retention:sweep:lease", ttl), mr
}

func TestSweepLeaseAcquire(t *testing.T) {
	ctx := context.Background()

	t.Run("second acquire fails while held", func(t *testing.T) {
		lease, _ := setupLease(t, time.Minute)

		release, acquired, err := lease.Acquire(ctx)
		require.NoError(t, err)
		require.True(t, acquired)

		_, acquired, err = lease.Acquire(ctx)
		require.NoError(t, err)
		assert.False(t, acquired)

		require.NoError(t, release(ctx))

		_, acquired, err = lease.Acquire(ctx)
		require.NoError(t, err)
		assert.True(t, acquired)
	})

	t.Run("lease expires after its TTL", func(t *testing.T) {
		lease, mr := setupLease(t, time.Minute)

		_, acquired, err := lease.Acquire(ctx)
		require.NoError(t, err)
		require.True(t, acquired)

		mr.FastForward(2 * time.Minute)

		_, acquired, err = lease.Acquire(ctx)
		require.NoError(t, err)
		assert.True(t, acquired, "an expired lease is free for the taking")
	})

	t.Run("stale holder cannot release the new holder's lease", func(t *testing.T) {
		lease, mr := setupLease(t, time.Minute)

		staleRelease, acquired, err := lease.Acquire(ctx)
		require.NoError(t, err)
		require.True(t, acquired)

		mr.FastForward(2 * time.Minute)

		_, acquired, err = lease.Acquire(ctx)
		require.NoError(t, err)
		require.True(t, acquired)

		require.NoError(t, staleRelease(ctx))

		// The new holder's lease is still in place.
		_, acquired, err = lease.Acquire(ctx)
		require.NoError(t, err)
		assert.False(t, acquired)
	})
}
