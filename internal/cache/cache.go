package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// KPICache caches serialized KPI responses in Redis with per-bucket TTLs. It
// is an explicit external collaborator: a nil *KPICache disables caching and
// every method is a no-op on it.
type KPICache struct {
	rdb        *redis.Client
	prefix     string
	ttls       map[string]time.Duration
	defaultTTL time.Duration
	log        zerolog.Logger
}

func New(rdb *redis.Client, prefix string, ttls map[string]time.Duration, defaultTTL time.Duration, log zerolog.Logger) *KPICache {
	if prefix == "" {
		prefix = "kpi"
	}
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}
	return &KPICache{
		rdb:        rdb,
		prefix:     prefix,
		ttls:       ttls,
		defaultTTL: defaultTTL,
		log:        log,
	}
}

// Get unmarshals the cached value for key into dest. The boolean reports a
// hit; cache errors are logged and treated as misses so the caller always
// recomputes.
func (c *KPICache) Get(ctx context.Context, key string, dest any) bool {
	if c == nil || c.rdb == nil {
		return false
	}
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn().Err(err).Str("key", key).Msg("cache read failed")
		}
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache entry corrupt")
		return false
	}
	return true
}

// Set stores value under key with the TTL for the given time bucket.
func (c *KPICache) Set(ctx context.Context, key string, value any, timeBucket string) {
	if c == nil || c.rdb == nil {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache marshal failed")
		return
	}
	if err := c.rdb.Set(ctx, key, raw, c.ttlFor(timeBucket)).Err(); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
}

// InvalidateAll deletes every key under the cache prefix and returns how many
// were removed.
func (c *KPICache) InvalidateAll(ctx context.Context) (int64, error) {
	if c == nil || c.rdb == nil {
		return 0, nil
	}

	var deleted int64
	iter := c.rdb.Scan(ctx, 0, c.prefix+":*", 100).Iterator()
	for iter.Next(ctx) {
		n, err := c.rdb.Del(ctx, iter.Val()).Result()
		if err != nil {
			return deleted, err
		}
		deleted += n
	}
	if err := iter.Err(); err != nil {
		return deleted, err
	}
	return deleted, nil
}

// Prefix returns the key namespace of this cache.
func (c *KPICache) Prefix() string {
	if c == nil {
		return ""
	}
	return c.prefix
}

func (c *KPICache) ttlFor(timeBucket string) time.Duration {
	if ttl, ok := c.ttls[timeBucket]; ok {
		return ttl
	}
	return c.defaultTTL
}
