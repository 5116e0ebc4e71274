package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the lease key only when the caller still owns it, so
// an expired lease taken over by another sweep is never released by the
// original holder.
var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	end
	return 0
`)

// SweepLease makes retention sweeps mutually exclusive across engine
// instances using a Redis SET NX lock with a TTL. The TTL bounds how long a
// crashed holder can block the next sweep.
type SweepLease struct {
	client *redis.Client
	logger *zap.Logger
	key    string
	ttl    time.Duration
}

// NewSweepLease creates a lease on the given key.
func NewSweepLease(client *redis.Client, logger *zap.Logger, key string, ttl time.Duration) *SweepLease {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &SweepLease{client: client, logger: logger, key: key, ttl: ttl}
}

// Acquire attempts to take the lease without blocking. When the lease is
// already held it returns acquired=false and the caller aborts.
func (l *SweepLease) Acquire(ctx context.Context) (func(context.Context) error, bool, error) {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	l.logger.Debug("sweep lease acquired",
		zap.String("key", l.key),
		zap.Duration("ttl", l.ttl))

	release := func(ctx context.Context) error {
		deleted, err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Int()
		if err != nil {
			return err
		}
		if deleted == 0 {
			l.logger.Warn("sweep lease expired before release", zap.String("key", l.key))
		}
		return nil
	}
	return release, true, nil
}
