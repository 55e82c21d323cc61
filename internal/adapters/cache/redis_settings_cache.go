package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/domain"
)

const settingsKeyPrefix = "wawa:settings:"

// RedisSettingsCache shares decoded settings between instances. Misses and read errors
// both fall through to the repository.
type RedisSettingsCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisSettingsCache(client redis.UniversalClient, ttl time.Duration) *RedisSettingsCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisSettingsCache{client: client, ttl: ttl}
}

func (c *RedisSettingsCache) Get(ctx context.Context, key domain.SettingsKey) (domain.Settings, bool) {
	raw, err := c.client.Get(ctx, settingsKeyPrefix+string(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Default().WarnContext(ctx, "settings cache read failed",
				"module", "cache",
				"settings_key", string(key),
				"error", err,
			)
		}
		return nil, false
	}
	value, err := domain.DecodeSettings(key, raw)
	if err != nil {
		// A stale shape from an older release; drop it and reload.
		c.Invalidate(ctx, key)
		return nil, false
	}
	return value, true
}

func (c *RedisSettingsCache) Set(ctx context.Context, value domain.Settings) {
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, settingsKeyPrefix+string(value.Key()), raw, c.ttl).Err(); err != nil {
		slog.Default().WarnContext(ctx, "settings cache write failed",
			"module", "cache",
			"settings_key", string(value.Key()),
			"error", err,
		)
	}
}

func (c *RedisSettingsCache) Invalidate(ctx context.Context, key domain.SettingsKey) {
	if err := c.client.Del(ctx, settingsKeyPrefix+string(key)).Err(); err != nil {
		slog.Default().WarnContext(ctx, "settings cache invalidate failed",
			"module", "cache",
			"settings_key", string(key),
			"error", err,
		)
	}
}
