package cache

import (
	"fmt"
	"time"
)

// Config selects and configures a cache backend.
type Config struct {
	// Type is "memory" (default), "redis" or "none"
	Type       string
	TTL        time.Duration
	MaxEntries int
	RedisURL   string
	RedisKey   string
}

// New builds the configured backend. A nil cache with a nil error means
// caching is disabled.
func New(cfg Config) (ResponseCache, error) {
	switch cfg.Type {
	case "", "memory", "local":
		return NewMemoryCache(MemoryConfig{TTL: cfg.TTL, MaxEntries: cfg.MaxEntries}), nil
	case "redis":
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("redis cache requires a URL")
		}
		return NewRedisCache(RedisConfig{URL: cfg.RedisURL, Prefix: cfg.RedisKey, TTL: cfg.TTL})
	case "none", "disabled":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown cache type: %s", cfg.Type)
	}
}
