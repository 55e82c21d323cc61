package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const lockKeyPrefix = "wawa:lock:"

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var ErrLockTimeout = errors.New("lock wait timed out")

// RedisLocker is a single-instance SET NX lock. Each holder writes a random token and only
// that token can release the key.
type RedisLocker struct {
	client       redis.UniversalClient
	pollInterval time.Duration
	maxWait      time.Duration
}

func NewRedisLocker(client redis.UniversalClient, maxWait time.Duration) *RedisLocker {
	if maxWait <= 0 {
		maxWait = 5 * time.Second
	}
	return &RedisLocker{client: client, pollInterval: 25 * time.Millisecond, maxWait: maxWait}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	redisKey := lockKeyPrefix + key
	token := uuid.NewString()
	deadline := time.Now().Add(l.maxWait)

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("set lock: %w", err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.pollInterval):
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// The caller's context may already be cancelled by the time the lock is released.
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err(); err != nil {
				slog.Default().WarnContext(ctx, "failed to release lock",
					"module", "cache",
					"lock_key", key,
					"error", err,
				)
			}
		})
	}, nil
}
