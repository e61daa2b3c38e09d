package domain

import (
	"context"
	"time"
)

// Cache defines the ephemeral key/value store shared by the request path.
// Keys are scoped per instance; an empty scope is rejected.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, scope string, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, scope string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, scope string, key string) error

	// IncrementCounter atomically increments a counter and returns the new value.
	// The counter resets once window has elapsed since its first increment.
	IncrementCounter(ctx context.Context, scope string, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `mapstructure:"type" validate:"oneof=memory redis"`

	LocalMaxSize int           `mapstructure:"localmaxsize"`
	LocalTTL     time.Duration `mapstructure:"localttl"`

	RedisAddr     string `mapstructure:"redisaddr"`
	RedisPassword string `mapstructure:"redispassword"`
	RedisDB       int    `mapstructure:"redisdb"`

	// EnableTwoPhase checks the local LRU before Redis.
	EnableTwoPhase bool `mapstructure:"enabletwophase"`
}

// Cache keys used across packages.
const (
	CacheKeyBlockedIP    = "blocked_ip:"
	CacheKeyAlertCounter = "fraud_alerts"
)
