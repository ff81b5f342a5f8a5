package kv

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"
)

// Provider selects the key-value store implementation.
type Provider string

const (
	ProviderRedis  Provider = "redis"
	ProviderMemory Provider = "memory"
)

// ErrKeyNotFound is returned by Get for a missing or expired key.
var ErrKeyNotFound = errors.New("key not found")

// Config selects and configures the store.
type Config struct {
	Provider Provider `envconfig:"KV_PROVIDER" default:"memory"`
	// Redis settings, used with ProviderRedis
	RedisAddr         string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword     string        `envconfig:"REDIS_PASSWORD"`
	RedisDB           int           `envconfig:"REDIS_DB" default:"0"`
	RedisMaxRetries   int           `envconfig:"REDIS_MAX_RETRIES" default:"3"`
	RedisDialTimeout  time.Duration `envconfig:"REDIS_DIAL_TIMEOUT" default:"5s"`
	RedisReadTimeout  time.Duration `envconfig:"REDIS_READ_TIMEOUT" default:"3s"`
	RedisWriteTimeout time.Duration `envconfig:"REDIS_WRITE_TIMEOUT" default:"3s"`
	RedisPoolSize     int           `envconfig:"REDIS_POOL_SIZE" default:"10"`
}

// Store keeps string values with an optional expiration.
type Store interface {
	// Get returns ErrKeyNotFound for a missing key.
	Get(ctx context.Context, key string) (string, error)
	// Set stores value under key. Zero expiration means no expiration.
	Set(ctx context.Context, key, value string, expiration time.Duration) error
	Ping(ctx context.Context) error
	io.Closer
}
