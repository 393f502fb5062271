package cache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"wayfarer-planner/internal/metrics"
	"wayfarer-planner/pkg/logging"
)

// LoggingCache wraps a Cache with logging + metrics.
type LoggingCache struct {
	inner Cache
	tier  string
}

// NewLoggingCache returns a cache that logs and records lookups under tier.
func NewLoggingCache(inner Cache, tier string) Cache {
	return &LoggingCache{inner: inner, tier: tier}
}

func (c *LoggingCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	value, ok, err := c.inner.Get(ctx, key)
	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0

	result := "miss"
	if err != nil {
		result = "error"
	} else if ok {
		result = "hit"
	}
	metrics.ItineraryLookupsTotal.WithLabelValues(c.tier, result).Inc()

	fields := []zap.Field{
		zap.String("cache_tier", c.tier),
		zap.String("cache_key", key),
		zap.String("cache_result", result), // hit | miss | error
		zap.Float64("latency_ms", latencyMs),
	}

	logger := logging.L(ctx)
	if err != nil {
		logger.Error("cache_get", append(fields, zap.Error(err))...)
	} else {
		logger.Debug("cache_get", fields...)
	}

	return value, ok, err
}

func (c *LoggingCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	err := c.inner.Set(ctx, key, value, ttl)
	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0

	fields := []zap.Field{
		zap.String("cache_tier", c.tier),
		zap.String("cache_key", key),
		zap.Int("bytes", len(value)),
		zap.Duration("ttl", ttl),
		zap.Float64("latency_ms", latencyMs),
	}

	logger := logging.L(ctx)
	if err != nil {
		logger.Error("cache_set", append(fields, zap.Error(err))...)
	} else {
		logger.Debug("cache_set", fields...)
	}

	return err
}

func (c *LoggingCache) Delete(ctx context.Context, key string) error {
	err := c.inner.Delete(ctx, key)
	if err != nil {
		logging.L(ctx).Error("cache_delete",
			zap.String("cache_tier", c.tier),
			zap.String("cache_key", key),
			zap.Error(err),
		)
	}
	return err
}
