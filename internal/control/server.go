package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// Server runs the control router on its own listener.
type Server struct {
	srv    *http.Server
	ln     net.Listener
	logger *slog.Logger
}

// Start listens on addr and serves in a goroutine (non-blocking).
func Start(addr string, handler http.Handler, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("control: listen %s: %w", addr, err)
	}

	s := &Server{
		srv: &http.Server{
			Handler:      handler,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		ln:     ln,
		logger: logger,
	}

	logger.Info("control: server listening",
		"address", ln.Addr().String(),
		"endpoints", []string{"/health", "/readiness", "/stats", "/rebind", "/metrics"},
	)

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("control: server failed", "error", err)
		}
	}()

	return s, nil
}

// Addr returns the bound address.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
