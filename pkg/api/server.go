package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/marmos91/kioaccess/internal/logger"
	"github.com/marmos91/kioaccess/pkg/access"
)

// Server serves the HTTP API.
//
// Stream responses hold their handle until the client disconnects, so Stop
// should run before the adapter's Shutdown.
type Server struct {
	server       *http.Server
	config       APIConfig
	shutdownOnce sync.Once
}

// NewServer creates a stopped server. Call Start to begin serving.
func NewServer(config APIConfig, a *access.Adapter) *Server {
	config.applyDefaults()

	return &Server{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", config.Port),
			Handler:           NewRouter(a),
			ReadTimeout:       config.ReadTimeout,
			ReadHeaderTimeout: config.ReadTimeout,
			WriteTimeout:      config.WriteTimeout,
			IdleTimeout:       config.IdleTimeout,
		},
		config: config,
	}
}

// Start listens on the configured port and blocks until ctx is cancelled or
// the listener fails. Cancellation triggers a graceful stop bounded to 5s.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("API server failed: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info("API server listening", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("API server shutdown signal received")
		// ctx is already done; give the drain its own deadline.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("API server failed: %w", err)
	}
}

// Stop shuts the server down gracefully. Safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		logger.Debug("API server shutdown initiated")

		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("API server shutdown error: %w", err)
			logger.Error("API server shutdown error", logger.KeyError, err)
			return
		}
		logger.Info("API server stopped gracefully")
	})
	return shutdownErr
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.config.Port
}
