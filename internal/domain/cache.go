package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
// All methods require tenantID for strict multi-tenancy isolation.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, tenantID string, key string) error

	// GetReport retrieves a finished analysis report. Returns ErrNotFound on a miss.
	GetReport(ctx context.Context, tenantID string, reportID string) (*Report, error)

	// SetReport stores a finished analysis report until ttl elapses.
	SetReport(ctx context.Context, tenantID string, report *Report, ttl time.Duration) error

	Ping(ctx context.Context) error
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `json:"type" yaml:"type" envconfig:"TYPE" validate:"oneof=memory redis"`

	LocalMaxSize int           `json:"localMaxSize" yaml:"local_max_size" envconfig:"LOCAL_MAX_SIZE"`
	LocalTTL     time.Duration `json:"localTtl" yaml:"local_ttl" envconfig:"LOCAL_TTL"`

	RedisAddr     string `json:"redisAddr" yaml:"redis_addr" envconfig:"REDIS_ADDR"`
	RedisPassword string `json:"-" yaml:"redis_password" envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `json:"redisDb" yaml:"redis_db" envconfig:"REDIS_DB"`

	// EnableTwoPhase checks the local LRU before Redis.
	EnableTwoPhase bool `json:"enableTwoPhase" yaml:"enable_two_phase" envconfig:"TWO_PHASE"`
}
