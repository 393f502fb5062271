package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is a byte cache with per-entry TTL.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Locker hands out exclusive leases that expire after ttl.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Unlock(ctx context.Context, key, token string) error
}

type Config struct {
	Backend string // "memory", "redis" or "none"
	Prefix  string
	// CleanupInterval is how often the memory backend sweeps expired entries.
	CleanupInterval time.Duration
}

// New returns the cache for cfg.Backend, or nil for "none".
func New(cfg Config, redisClient *redis.Client) Cache {
	switch cfg.Backend {
	case "none":
		return nil
	case "redis":
		return NewRedisCache(redisClient, RedisConfig{
			Prefix: cfg.Prefix,
		})
	default:
		return NewMemoryCache(cfg.CleanupInterval)
	}
}

// NewLocker returns a Redis locker when a client is available, an in-process one otherwise.
func NewLocker(cfg Config, redisClient *redis.Client) Locker {
	if cfg.Backend == "redis" && redisClient != nil {
		return NewRedisLocker(redisClient, RedisConfig{Prefix: cfg.Prefix})
	}
	return NewMemoryLocker()
}
