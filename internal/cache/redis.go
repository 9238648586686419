package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"genrouter/internal/core"
)

// DefaultRedisPrefix namespaces completion keys in a shared Redis.
const DefaultRedisPrefix = "genrouter:completion:"

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is the Redis connection URL (e.g., "redis://localhost:6379" or "redis://:password@host:6379/0")
	URL string
	// Prefix is prepended to every fingerprint (defaults to DefaultRedisPrefix)
	Prefix string
	// TTL applies when Set is called without one (defaults to DefaultTTL)
	TTL time.Duration
}

// RedisCache implements ResponseCache using Redis for distributed storage.
// SET replaces the whole value atomically, which gives per-key linearizability.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisCache creates a new Redis-based cache and verifies the connection.
func NewRedisCache(cfg RedisConfig) (*RedisCache, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	c := newRedisCache(client, cfg)
	slog.Info("redis response cache connected", "prefix", c.prefix, "ttl", c.ttl)
	return c, nil
}

// NewRedisCacheWithClient wraps an existing client. The caller keeps ownership
// of connection setup; Close still closes the client.
func NewRedisCacheWithClient(client redis.UniversalClient, cfg RedisConfig) *RedisCache {
	return newRedisCache(client, cfg)
}

func newRedisCache(client redis.UniversalClient, cfg RedisConfig) *RedisCache {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Get retrieves a completion from Redis.
func (c *RedisCache) Get(ctx context.Context, fingerprint string) (*core.Completion, bool, error) {
	data, err := c.client.Get(ctx, c.prefix+fingerprint).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get completion from redis: %w", err)
	}
	return decodeEntry(data, c.now())
}

// Set stores a completion in Redis with an expiry.
func (c *RedisCache) Set(ctx context.Context, fingerprint string, completion *core.Completion, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}
	data, err := encodeEntry(fingerprint, completion, ttl, c.now())
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, c.prefix+fingerprint, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set completion in redis: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
