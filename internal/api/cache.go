package api

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/refill-risk-engine/internal/domain"
)

// ArtifactCache is a two-tier read-through cache for pipeline artifacts.
// Lookups hit the in-process LRU first and fall back to Redis when a client
// is configured. Redis failures degrade to the local tier only.
type ArtifactCache struct {
	local      *expirable.LRU[string, []byte]
	redis      *redis.Client
	defaultTTL time.Duration
	log        *logrus.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// NewArtifactCache creates a cache from the application cache config. The
// Redis tier is optional and only wired when enabled in config.
func NewArtifactCache(cfg *domain.CacheConfig, log *logrus.Logger) (*ArtifactCache, error) {
	ttl := cfg.DefaultTTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	cache := &ArtifactCache{
		local:      expirable.NewLRU[string, []byte](cfg.LocalSize, nil, ttl),
		defaultTTL: ttl,
		log:        log,
	}

	if cfg.RedisEnabled {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		opts.PoolSize = cfg.PoolSize
		opts.PoolTimeout = cfg.PoolTimeout

		client := redis.NewClient(opts)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		cache.redis = client
	}

	return cache, nil
}

// Get retrieves a cached artifact and unmarshals it into out.
func (c *ArtifactCache) Get(ctx context.Context, key string, out any) bool {
	if data, ok := c.local.Get(key); ok {
		if err := json.Unmarshal(data, out); err == nil {
			c.hits.Add(1)
			return true
		}
		c.local.Remove(key)
	}

	if c.redis != nil {
		val, err := c.redis.Get(ctx, key).Result()
		if err == nil {
			if err := json.Unmarshal([]byte(val), out); err == nil {
				c.local.Add(key, []byte(val))
				c.hits.Add(1)
				return true
			}
			c.redis.Del(ctx, key)
		} else if err != redis.Nil {
			c.log.WithError(err).Warn("Redis cache lookup failed")
		}
	}

	c.misses.Add(1)
	return false
}

// Set stores an artifact in both tiers.
func (c *ArtifactCache) Set(ctx context.Context, key string, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		c.log.WithError(err).Warn("Failed to marshal cache value")
		return
	}

	c.local.Add(key, data)

	if c.redis != nil {
		if err := c.redis.Set(ctx, key, data, c.defaultTTL).Err(); err != nil {
			c.log.WithError(err).Warn("Redis cache write failed")
		}
	}
}

// Invalidate removes a key from both tiers.
func (c *ArtifactCache) Invalidate(ctx context.Context, key string) {
	c.local.Remove(key)
	if c.redis != nil {
		if err := c.redis.Del(ctx, key).Err(); err != nil {
			c.log.WithError(err).Warn("Redis cache invalidation failed")
		}
	}
}

// Stats returns hit and miss counters.
func (c *ArtifactCache) Stats() map[string]any {
	return map[string]any{
		"hits":        c.hits.Load(),
		"misses":      c.misses.Load(),
		"local_items": c.local.Len(),
		"redis_tier":  c.redis != nil,
	}
}

// Close releases the Redis connection if one was configured.
func (c *ArtifactCache) Close() error {
	if c.redis != nil {
		return c.redis.Close()
	}
	return nil
}

func snapshotCacheKey(id string) string { return "snapshot:" + id }
func metricsCacheKey(id string) string  { return "metrics:" + id }
func riskCacheKey(id string) string     { return "risk:" + id }
