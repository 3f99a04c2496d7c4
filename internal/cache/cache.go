// Package cache stores rendered aggregation results for a short time so repeated
// dashboard requests do not rescan the trades table.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Aidin1998/perpstats/internal/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Cache is a JSON value store with per-entry expiry.
type Cache interface {
	// Get decodes the value stored under key into dst and reports whether it was found.
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Close() error
}

// New builds the cache selected by cfg.Driver.
func New(cfg config.CacheConfig, logger *zap.Logger) (Cache, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemory(), nil
	case "redis":
		return NewRedis(&redis.Options{Addr: cfg.Address, Password: cfg.Password, DB: cfg.DB}), nil
	case "none":
		return Noop{}, nil
	default:
		return nil, fmt.Errorf("unknown cache driver %q", cfg.Driver)
	}
}

// Remember returns the cached value for key when present, otherwise computes it with fn
// and caches the result. Cache failures are logged and never fail the call.
func Remember[T any](ctx context.Context, c Cache, logger *zap.Logger, key string, ttl time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	var cached T
	if c != nil && ttl > 0 {
		ok, err := c.Get(ctx, key, &cached)
		if err != nil {
			logger.Debug("cache get failed", zap.String("key", key), zap.Error(err))
		} else if ok {
			return cached, nil
		}
	}
	v, err := fn(ctx)
	if err != nil {
		return v, err
	}
	if c != nil && ttl > 0 {
		if err := c.Set(ctx, key, v, ttl); err != nil {
			logger.Debug("cache set failed", zap.String("key", key), zap.Error(err))
		}
	}
	return v, nil
}

// Noop never stores anything.
type Noop struct{}

func (Noop) Get(context.Context, string, any) (bool, error)        { return false, nil }
func (Noop) Set(context.Context, string, any, time.Duration) error { return nil }
func (Noop) Close() error                                          { return nil }

func encode(value any) ([]byte, error) {
	b, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("cache encode: %w", err)
	}
	return b, nil
}

func decode(b []byte, dst any) error {
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("cache decode: %w", err)
	}
	return nil
}
