// Package natsserver runs an in-process NATS server so a single sentinel
// node can use the NATS bus without external infrastructure.
package natsserver

import (
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"go.uber.org/zap"
)

// Config holds configuration for the embedded NATS server.
type Config struct {
	Host string
	// Port to listen on. -1 picks a random free port.
	Port       int
	MaxPayload int32
	// MaxPendingBytes bounds buffered data per slow consumer before the
	// server disconnects it.
	MaxPendingBytes int64
	ReadyTimeout    time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "127.0.0.1",
		Port:            4222,
		MaxPayload:      1024 * 1024,
		MaxPendingBytes: 64 * 1024 * 1024,
		ReadyTimeout:    5 * time.Second,
	}
}

// Server wraps an embedded NATS server.
type Server struct {
	ns     *server.Server
	logger *zap.Logger
}

// Start creates and starts an embedded NATS server and waits until it
// accepts connections.
func Start(cfg Config, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 5 * time.Second
	}
	if cfg.MaxPendingBytes <= 0 {
		cfg.MaxPendingBytes = 64 * 1024 * 1024
	}

	opts := &server.Options{
		Host:          cfg.Host,
		Port:          cfg.Port,
		NoLog:         true,
		NoSigs:        true,
		MaxPayload:    cfg.MaxPayload,
		WriteDeadline: 10 * time.Second,
		MaxPending:    cfg.MaxPendingBytes,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create NATS server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(cfg.ReadyTimeout) {
		ns.Shutdown()
		return nil, fmt.Errorf("NATS server not ready after %s", cfg.ReadyTimeout)
	}

	s := &Server{ns: ns, logger: logger.With(zap.String("component", "natsserver"))}
	s.logger.Info("embedded NATS server started", zap.String("url", s.ClientURL()))
	return s, nil
}

// ClientURL returns the URL clients should connect to.
func (s *Server) ClientURL() string {
	return s.ns.ClientURL()
}

// NumClients returns the number of connected clients.
func (s *Server) NumClients() int {
	return s.ns.NumClients()
}

// NumSubscriptions returns total active subscriptions.
func (s *Server) NumSubscriptions() uint32 {
	return s.ns.NumSubscriptions()
}

// Shutdown stops the server and disconnects every client.
func (s *Server) Shutdown() {
	s.ns.Shutdown()
	s.ns.WaitForShutdown()
	s.logger.Info("embedded NATS server shut down")
}
