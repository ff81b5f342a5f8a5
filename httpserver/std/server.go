package std

import (
	"context"
	stdErr "errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/pure-golang/sendgrid/httpserver"
)

const ShutdownTimeout = 15 * time.Second

var _ httpserver.RunableProvider = (*Server)(nil)

type Config struct {
	Host        string        `envconfig:"WEBSERVER_HOST"`
	Port        int           `envconfig:"WEBSERVER_PORT" default:"8080"`
	TLSCertPath string        `envconfig:"WEBSERVER_TLS_CERT_PATH"`
	TLSKeyPath  string        `envconfig:"WEBSERVER_TLS_KEY_PATH"`
	ReadTimeout time.Duration `envconfig:"WEBSERVER_READ_TIMEOUT" default:"30s"`
}

type Server struct {
	logger *slog.Logger
	server *http.Server
	config Config

	mx       sync.Mutex
	listener net.Listener
	ready    chan struct{}
}

func New(c Config, h http.Handler) *Server {
	logger := slog.Default().WithGroup("webserver")

	return &Server{
		server: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", c.Host, c.Port),
			Handler:           h,
			ReadTimeout:       c.ReadTimeout,
			ReadHeaderTimeout: 10 * time.Second, // Prevent Slowloris attacks
			ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelError),
		},
		logger: logger,
		config: c,
		ready:  make(chan struct{}),
	}
}

// Start listens and serves until Close. It returns nil after a graceful close.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen %s", s.server.Addr)
	}

	s.mx.Lock()
	s.listener = ln
	close(s.ready)
	s.mx.Unlock()

	s.logger.Info("server starting", slog.String("addr", ln.Addr().String()))

	if s.config.TLSCertPath == "" {
		err = s.server.Serve(ln)
	} else {
		err = s.server.ServeTLS(ln, s.config.TLSCertPath, s.config.TLSKeyPath)
	}

	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return errors.Wrap(err, "serve failed")
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound address, empty before Start.
func (s *Server) Addr() string {
	s.mx.Lock()
	defer s.mx.Unlock()

	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	err := s.server.Shutdown(ctx)
	if err != nil {
		err = stdErr.Join(err, errors.Wrap(s.server.Close(), "failed to close server"))
	}

	s.logger.Info("server closed")

	return errors.Wrap(err, "server shutdown failed")
}

func (s *Server) Run() {
	go func() {
		if err := s.Start(); err != nil {
			s.logger.Error("webserver crashed", "error", err.Error())
		}
	}()
}
