package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/adlens-io/adlens/internal/config"
)

// Backend names accepted by ADLENS_CACHE_BACKEND.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

var (
	// ErrUnknownBackend is returned for an unsupported cache backend name.
	ErrUnknownBackend = errors.New("unknown cache backend")

	// ErrRedisURLEmpty is returned when the redis backend is selected without a URL.
	ErrRedisURLEmpty = errors.New("REDIS_URL cannot be empty when the redis cache backend is selected")
)

// Config selects and sizes the ephemeral cache backend.
type Config struct {
	Backend     string
	MaxEntries  int
	RedisURL    string
	RedisPrefix string
	RedisMaxAge time.Duration
}

// LoadConfig loads cache configuration from environment variables with fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		Backend:     strings.ToLower(config.GetEnvStr("ADLENS_CACHE_BACKEND", BackendMemory)),
		MaxEntries:  config.GetEnvInt("ADLENS_CACHE_MAX_ENTRIES", DefaultMaxEntries),
		RedisURL:    config.GetEnvStr("REDIS_URL", ""),
		RedisPrefix: config.GetEnvStr("ADLENS_CACHE_REDIS_PREFIX", defaultRedisPrefix),
		RedisMaxAge: config.GetEnvDuration("ADLENS_CACHE_REDIS_MAX_AGE", defaultRedisMaxAge),
	}
}

// Validate checks if the cache configuration is valid.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory:
		if c.MaxEntries <= 0 {
			return ErrInvalidSize
		}
	case BackendRedis:
		if strings.TrimSpace(c.RedisURL) == "" {
			return ErrRedisURLEmpty
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.Backend)
	}

	return nil
}

// New builds the configured cache backend. The returned close function releases
// backend connections and is never nil.
func New(ctx context.Context, cfg *Config, logger *slog.Logger) (Cache, func() error, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	if cfg.Backend == BackendRedis {
		client, err := Connect(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}

		opts := []RedisCacheOption{WithRedisPrefix(cfg.RedisPrefix), WithRedisMaxAge(cfg.RedisMaxAge)}
		if logger != nil {
			opts = append(opts, WithRedisLogger(logger))
		}

		return NewRedisCache(client, opts...), client.Close, nil
	}

	c, err := NewLRUCache(cfg.MaxEntries)
	if err != nil {
		return nil, nil, err
	}

	return c, func() error { return nil }, nil
}
