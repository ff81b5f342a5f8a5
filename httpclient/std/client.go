package std

import (
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	"github.com/pure-golang/sendgrid/httpclient"
	"github.com/pure-golang/sendgrid/httpclient/middleware"
)

var (
	_ httpclient.Doer      = (*Client)(nil)
	_ httpclient.AsyncDoer = (*AsyncClient)(nil)
)

type Config struct {
	Timeout     time.Duration `envconfig:"HTTP_CLIENT_TIMEOUT" default:"30s"`
	MaxInFlight int64         `envconfig:"HTTP_CLIENT_MAX_IN_FLIGHT" default:"64"`
}

// DefaultConfig mirrors the envconfig defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:     30 * time.Second,
		MaxInFlight: 64,
	}
}

// Client is a blocking client on top of net/http with monitoring transport.
type Client struct {
	client *http.Client
}

func New(c Config) *Client {
	return &Client{
		client: &http.Client{
			Timeout:   c.Timeout,
			Transport: middleware.Monitoring(http.DefaultTransport),
		},
	}
}

func (c *Client) Do(req *http.Request) (*http.Response, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "http request failed")
	}
	return resp, nil
}

// AsyncOptions contains options for creating an AsyncClient.
type AsyncOptions struct {
	Logger *slog.Logger
}

// AsyncClient runs every request on its own goroutine.
// At most Config.MaxInFlight requests are on the wire at once.
type AsyncClient struct {
	doer   httpclient.Doer
	sem    *semaphore.Weighted
	logger *slog.Logger

	wg     sync.WaitGroup
	mx     sync.RWMutex
	closed bool
}

func NewAsync(doer httpclient.Doer, c Config, options *AsyncOptions) *AsyncClient {
	if options == nil {
		options = &AsyncOptions{}
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default().WithGroup("httpclient")
	}
	maxInFlight := c.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = 1
	}

	return &AsyncClient{
		doer:   doer,
		sem:    semaphore.NewWeighted(maxInFlight),
		logger: logger,
	}
}

// DoAsync never blocks. done is called exactly once.
func (c *AsyncClient) DoAsync(req *http.Request, done func(httpclient.Response)) {
	done = middleware.Recovery(c.logger, done)

	c.mx.RLock()
	if c.closed {
		c.mx.RUnlock()
		go done(httpclient.Response{Err: errors.New("client is closed")})
		return
	}
	c.wg.Add(1)
	c.mx.RUnlock()

	id := uuid.NewString()
	go func() {
		defer c.wg.Done()

		log := c.logger.With("dispatch_id", id, "url", req.URL.Redacted())
		if err := c.sem.Acquire(req.Context(), 1); err != nil {
			log.Warn("request dropped before dispatch", "error", err.Error())
			done(httpclient.Response{Err: errors.Wrap(err, "wait for in-flight slot")})
			return
		}

		start := time.Now()
		resp := c.do(req)
		c.sem.Release(1)

		log.Debug("request completed",
			"status", resp.StatusCode,
			"duration", time.Since(start).String(),
			"failed", resp.Err != nil,
		)
		done(resp)
	}()
}

func (c *AsyncClient) do(req *http.Request) httpclient.Response {
	resp, err := c.doer.Do(req)
	if err != nil {
		return httpclient.Response{Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return httpclient.Response{
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Err:        errors.Wrap(err, "failed to read response body"),
		}
	}

	return httpclient.Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}
}

// Close stops accepting requests and waits for in-flight ones.
func (c *AsyncClient) Close() error {
	c.mx.Lock()
	if c.closed {
		c.mx.Unlock()
		return nil
	}
	c.closed = true
	c.mx.Unlock()

	c.wg.Wait()
	return nil
}
