package cache

import (
	"context"
	"time"

	apperrors "github.com/r973356237/AlphaWorker/internal/errors"
)

// Cacher defines the cache operations the worker needs. The generator
// uses it to keep data-field catalog pages warm between runs.
type Cacher interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, expiration time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Config represents cache configuration
type Config struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// New creates a cache instance based on configuration. Redis when
// enabled and reachable, otherwise the in-memory fallback.
func New(cfg *Config) (Cacher, error) {
	if cfg != nil && cfg.Enabled {
		redisCache, err := NewRedisCache(cfg)
		if err != nil {
			return nil, apperrors.WrapError(err, apperrors.ErrCodeCacheConnection, "failed to connect to cache backend")
		}
		return redisCache, nil
	}
	return NewMemoryCache(0), nil
}
