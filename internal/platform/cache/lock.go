package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultLockTTL   = 10 * time.Second
	lockRetryDelay   = 25 * time.Millisecond
	unlockCallBudget = 2 * time.Second
)

// releaseScript deletes the lock only while it still holds our token, so an
// expired lock taken over by another holder is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker is a distributed keyed lock built on SET NX PX. Locks expire after
// ttl so a crashed holder cannot block a key forever.
type Locker struct {
	cache *Cache
	ttl   time.Duration
}

// Locker returns a distributed locker backed by this cache. ttl <= 0 uses 10s.
func (c *Cache) Locker(ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &Locker{cache: c, ttl: ttl}
}

// Lock blocks until key is held or ctx ends.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := l.cache.Key("lock", key)
	token := uuid.NewString()

	for {
		ok, err := l.cache.Client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(lockRetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("acquire lock %s: %w", key, ctx.Err())
		case <-timer.C:
		}
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true

		// The caller's context may already be done when unlocking.
		ctx, cancel := context.WithTimeout(context.Background(), unlockCallBudget)
		defer cancel()
		if err := releaseScript.Run(ctx, l.cache.Client, []string{redisKey}, token).Err(); err != nil {
			slog.Warn("failed to release lock", "key", key, "error", err)
		}
	}, nil
}
