package redis

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"
	rclient "github.com/redis/go-redis/v9"

	"github.com/pure-golang/sendgrid/kv"
)

var _ kv.Store = (*Client)(nil)

// Client is a kv.Store backed by Redis.
type Client struct {
	rdb    *rclient.Client
	cfg    Config
	logger *slog.Logger

	mx     sync.Mutex
	closed bool
}

// NewDefault fills zero settings with defaults and connects.
func NewDefault(cfg Config) (*Client, error) {
	return Connect(context.Background(), cfg.withDefaults())
}

// Connect creates a client and checks the connection with PING.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	logger := slog.Default().WithGroup("redis")
	logger.Debug("connecting to redis", "addr", cfg.Addr)

	client := &Client{
		rdb: rclient.NewClient(&rclient.Options{
			Addr:            cfg.Addr,
			Password:        cfg.Password,
			DB:              cfg.DB,
			MaxRetries:      cfg.MaxRetries,
			MinRetryBackoff: cfg.MinRetryBackoff,
			MaxRetryBackoff: cfg.MaxRetryBackoff,
			DialTimeout:     cfg.DialTimeout,
			ReadTimeout:     cfg.ReadTimeout,
			WriteTimeout:    cfg.WriteTimeout,
			PoolSize:        cfg.PoolSize,
		}),
		cfg:    cfg,
		logger: logger,
	}

	if err := client.Ping(ctx); err != nil {
		_ = client.rdb.Close()
		return nil, err
	}

	logger.Info("connected to redis", "addr", cfg.Addr)
	return client, nil
}

func (c *Client) Ping(ctx context.Context) error {
	ctx, span := startSpan(ctx, "Ping", "", c.cfg.DB)
	defer span.End()

	err := c.rdb.Ping(ctx).Err()
	recordError(span, err)
	return errors.Wrap(err, "failed to ping redis")
}

func (c *Client) Get(ctx context.Context, key string) (string, error) {
	ctx, span := startSpan(ctx, "Get", key, c.cfg.DB)
	defer span.End()

	val, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, rclient.Nil) {
		recordError(span, kv.ErrKeyNotFound)
		return "", kv.ErrKeyNotFound
	}
	if err != nil {
		recordError(span, err)
		return "", errors.Wrapf(err, "failed to get key %q", key)
	}

	recordError(span, nil)
	return val, nil
}

func (c *Client) Set(ctx context.Context, key, value string, expiration time.Duration) error {
	ctx, span := startSpan(ctx, "Set", key, c.cfg.DB)
	defer span.End()

	err := c.rdb.Set(ctx, key, value, expiration).Err()
	recordError(span, err)
	return errors.Wrapf(err, "failed to set key %q", key)
}

// Close is idempotent.
func (c *Client) Close() error {
	c.mx.Lock()
	defer c.mx.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if err := c.rdb.Close(); err != nil {
		return errors.Wrap(err, "failed to close redis connection")
	}
	c.logger.Debug("redis connection closed")
	return nil
}
