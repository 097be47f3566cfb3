package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/adlens-io/adlens/internal/config"
)

const (
	defaultRedisPrefix = "adlens:cache:"
	defaultRedisMaxAge = 24 * time.Hour
	redisOpTimeout     = 2 * time.Second
	redisScanCount     = 100
)

var _ Cache = (*RedisCache)(nil)

type (
	// RedisCache is a Cache shared by every service replica.
	//
	// Keys carry a hard expiry (maxAge) well beyond any endpoint TTL so the shared
	// tier stays bounded while expired-but-present entries remain available to the
	// fallback cascade. Redis failures are logged and reported as misses.
	RedisCache struct {
		client *redis.Client
		prefix string
		maxAge time.Duration
		logger *slog.Logger
	}

	// RedisCacheOption configures optional RedisCache behavior.
	RedisCacheOption func(*RedisCache)
)

// WithRedisPrefix sets the key namespace.
func WithRedisPrefix(prefix string) RedisCacheOption {
	return func(c *RedisCache) {
		c.prefix = prefix
	}
}

// WithRedisMaxAge sets the hard expiry applied to every key.
func WithRedisMaxAge(maxAge time.Duration) RedisCacheOption {
	return func(c *RedisCache) {
		c.maxAge = maxAge
	}
}

// WithRedisLogger sets the logger used for backend failures.
func WithRedisLogger(logger *slog.Logger) RedisCacheOption {
	return func(c *RedisCache) {
		c.logger = logger
	}
}

// Connect initializes a Redis client from redis:// URL or host:port input.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client

	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}

		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}

// NewRedisCache wraps an established client.
func NewRedisCache(client *redis.Client, opts ...RedisCacheOption) *RedisCache {
	c := &RedisCache{
		client: client,
		prefix: defaultRedisPrefix,
		maxAge: defaultRedisMaxAge,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Get returns the entry stored under key.
func (c *RedisCache) Get(ctx context.Context, key Key) (Entry, bool) {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	raw, err := c.client.Get(ctx, c.prefix+key.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false
	}

	if err != nil {
		c.logger.Warn("Redis cache read failed", slog.String("error", err.Error()))

		return Entry{}, false
	}

	return c.decode(raw)
}

// Set stores payload under key stamped with at.
func (c *RedisCache) Set(ctx context.Context, key Key, payload json.RawMessage, at time.Time) {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	raw, err := json.Marshal(Entry{Key: key, Payload: payload, CachedAt: at})
	if err != nil {
		c.logger.Warn("Redis cache encode failed", slog.String("error", err.Error()))

		return
	}

	if err := c.client.Set(ctx, c.prefix+key.String(), raw, c.maxAge).Err(); err != nil {
		c.logger.Warn("Redis cache write failed", slog.String("error", err.Error()))
	}
}

// Freshest scans the scope's keys and returns the most recently stored entry.
func (c *RedisCache) Freshest(ctx context.Context, storeID, endpoint, scopeID string) (Entry, bool) {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	pattern := c.prefix + escapeGlob(scopePrefix(storeID, endpoint, scopeID)) + "*"

	var (
		best  Entry
		found bool
	)

	iter := c.client.Scan(ctx, 0, pattern, redisScanCount).Iterator()
	for iter.Next(ctx) {
		raw, err := c.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue
		}

		e, ok := c.decode(raw)
		if !ok || !e.Key.inScope(storeID, endpoint, scopeID) {
			continue
		}

		if !found || e.CachedAt.After(best.CachedAt) {
			best, found = e, true
		}
	}

	if err := iter.Err(); err != nil {
		c.logger.Warn("Redis cache scan failed", slog.String("error", err.Error()))
	}

	return best, found
}

func (c *RedisCache) decode(raw []byte) (Entry, bool) {
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		c.logger.Warn("Redis cache entry is corrupt", slog.String("error", err.Error()))

		return Entry{}, false
	}

	return e, true
}

// escapeGlob escapes the characters SCAN MATCH treats as patterns.
func escapeGlob(s string) string {
	var b strings.Builder

	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}

		b.WriteRune(r)
	}

	return b.String()
}
