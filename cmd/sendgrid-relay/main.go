// Command sendgrid-relay accepts mail over HTTP and sends it through SendGrid.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"github.com/pure-golang/sendgrid/env"
	httpclient "github.com/pure-golang/sendgrid/httpclient/std"
	"github.com/pure-golang/sendgrid/httpserver/middleware"
	httpserver "github.com/pure-golang/sendgrid/httpserver/std"
	"github.com/pure-golang/sendgrid/kv"
	"github.com/pure-golang/sendgrid/kv/memory"
	"github.com/pure-golang/sendgrid/kv/redis"
	"github.com/pure-golang/sendgrid/logger"
	"github.com/pure-golang/sendgrid/mail/sendgrid"
	"github.com/pure-golang/sendgrid/metrics"
	"github.com/pure-golang/sendgrid/relay"
	"github.com/pure-golang/sendgrid/tracing"
	"github.com/pure-golang/sendgrid/tracing/otlp"
)

type config struct {
	Logger     logger.Config
	SendGrid   sendgrid.Config
	HTTPClient httpclient.Config
	Server     httpserver.Config
	Metrics    metrics.Config
	Tracing    otlp.Config
	KV         kv.Config
	Relay      relayConfig
}

type relayConfig struct {
	StatusTTL time.Duration `envconfig:"RELAY_STATUS_TTL" default:"24h"`
}

func main() {
	if err := run(); err != nil {
		slog.Error("sendgrid-relay stopped", "error", err.Error())
		os.Exit(1)
	}
}

func run() error {
	var cfg config
	if err := env.InitConfig(&cfg.Logger, &cfg.SendGrid, &cfg.HTTPClient, &cfg.Server, &cfg.Metrics, &cfg.Tracing, &cfg.KV, &cfg.Relay); err != nil {
		return errors.Wrap(err, "failed to load config")
	}

	logger.InitDefault(cfg.Logger)
	log := slog.Default()

	if cfg.Tracing.Enabled() {
		provider, err := tracing.Init(otlp.NewProviderBuilder(cfg.Tracing))
		if err != nil {
			logger.WithErr(log, err).Warn("tracing disabled")
		}
		defer closeWithLog(log, "tracing", provider.Close)
	}

	m, err := metrics.InitDefault(cfg.Metrics)
	if err != nil {
		return err
	}
	defer closeWithLog(log, "metrics", m.Close)

	client := httpclient.New(cfg.HTTPClient)
	sender := sendgrid.NewSender(cfg.SendGrid, &sendgrid.SenderOptions{
		Logger:      log.WithGroup("sendgrid"),
		Client:      client,
		AsyncClient: httpclient.NewAsync(client, cfg.HTTPClient, &httpclient.AsyncOptions{Logger: log}),
	})

	store, err := newStore(cfg.KV)
	if err != nil {
		closeWithLog(log, "sender", sender.Close)
		return err
	}
	defer closeWithLog(log, "kv", store.Close)

	relayHandler := relay.NewHandler(sender, &relay.HandlerOptions{
		Store:     store,
		StatusTTL: cfg.Relay.StatusTTL,
	})
	server := httpserver.New(cfg.Server, middleware.Monitoring(middleware.Recovery(relayHandler)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	log.Info("sendgrid-relay started",
		"metrics_addr", m.Addr(),
		"tracing", cfg.Tracing.Enabled(),
	)

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			closeWithLog(log, "sender", sender.Close)
			closeWithLog(log, "relay", relayHandler.Close)
			return err
		}
	}

	closeWithLog(log, "webserver", server.Close)
	// Delivers what is still in flight.
	closeWithLog(log, "sender", sender.Close)
	// Writes the final dispatch states before the store is closed.
	closeWithLog(log, "relay", relayHandler.Close)

	return nil
}

func newStore(cfg kv.Config) (kv.Store, error) {
	switch cfg.Provider {
	case kv.ProviderRedis:
		store, err := redis.NewDefault(redis.Config{
			Addr:         cfg.RedisAddr,
			Password:     cfg.RedisPassword,
			DB:           cfg.RedisDB,
			MaxRetries:   cfg.RedisMaxRetries,
			DialTimeout:  cfg.RedisDialTimeout,
			ReadTimeout:  cfg.RedisReadTimeout,
			WriteTimeout: cfg.RedisWriteTimeout,
			PoolSize:     cfg.RedisPoolSize,
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to init redis store")
		}
		return store, nil
	case kv.ProviderMemory, "":
		return memory.NewStore(), nil
	default:
		return nil, errors.Errorf("unknown kv provider: %s", cfg.Provider)
	}
}

func closeWithLog(log *slog.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logger.WithErr(log, err).Error("failed to close", "component", name)
	}
}
