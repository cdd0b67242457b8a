// Package api provides the HTTP REST and websocket server.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/good-yellow-bee/sentinel/internal/api/alerts"
	"github.com/good-yellow-bee/sentinel/internal/api/detections"
	"github.com/good-yellow-bee/sentinel/internal/api/health"
	"github.com/good-yellow-bee/sentinel/internal/api/middleware"
	"github.com/good-yellow-bee/sentinel/internal/api/rules"
	"github.com/good-yellow-bee/sentinel/internal/api/ws"
	"github.com/good-yellow-bee/sentinel/internal/hub"
	"github.com/good-yellow-bee/sentinel/internal/ratelimit"
)

// Config contains HTTP API server configuration.
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	// JWTSecret enables bearer token identity. Empty means every caller is
	// anonymous.
	JWTSecret []byte
	JWTIssuer string
	RateLimit middleware.RateLimitConfig
	WS        ws.Config
	Verbose   bool
}

// SetDefaults applies default values for missing configuration.
func (c *Config) SetDefaults() {
	if c.Address == "" {
		c.Address = ":8080"
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 15 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 15 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}

// Service is everything the HTTP layer needs from the alert service.
type Service interface {
	alerts.Service
	rules.Service
	detections.Service
}

// Deps are the collaborators the server routes to.
type Deps struct {
	Service Service
	Hub     *hub.Hub
	// Limiter enables request rate limiting when non-nil.
	Limiter ratelimit.Limiter
	Logger  *zap.Logger
}

// Server is the HTTP API server.
type Server struct {
	config        *Config
	deps          Deps
	server        *http.Server
	healthHandler *health.Handler
	logger        *zap.Logger

	mu       sync.Mutex
	listener net.Listener
}

// New creates a new API server.
func New(cfg *Config, deps Deps) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if deps.Service == nil {
		return nil, fmt.Errorf("service is required")
	}
	if deps.Hub == nil {
		return nil, fmt.Errorf("hub is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	cfg.SetDefaults()

	s := &Server{
		config:        cfg,
		deps:          deps,
		healthHandler: health.NewHandler(),
		logger:        deps.Logger.With(zap.String("component", "api")),
	}

	s.server = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.setupRouter(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Run starts the HTTP server and blocks until context is canceled. Open
// websocket clients are closed on shutdown.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Address, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP API listening", zap.String("address", ln.Addr().String()))
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		err := s.server.Shutdown(shutdownCtx)
		// Hijacked websocket connections are not tracked by Shutdown.
		s.deps.Hub.CloseAll()
		return err
	case err := <-errChan:
		s.deps.Hub.CloseAll()
		return err
	}
}

// Address returns the bound listen address once Run has started, else the
// configured one.
func (s *Server) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Address
}

// RegisterHealthChecker adds a health checker to the server.
func (s *Server) RegisterHealthChecker(c health.Checker) {
	if s.healthHandler != nil {
		s.healthHandler.RegisterChecker(c)
	}
}
