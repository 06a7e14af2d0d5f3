// Package server accepts TCP connections and runs the HTTP/1.1 request loop
// on each of them.
package server

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"webrs/internal/config"
	"webrs/internal/dispatch"
	"webrs/internal/encoding"
	"webrs/internal/metrics"
)

// Server owns the listener, the handler registry and the set of live
// connections.
type Server struct {
	cfg        config.ServerConfig
	dispatcher *dispatch.Dispatcher
	negotiator *encoding.Negotiator
	logger     *slog.Logger
	metrics    *metrics.Collector

	mu       sync.Mutex
	running  bool
	listener net.Listener
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
}

// New creates a server. negotiator and m may be nil.
func New(cfg config.ServerConfig, d *dispatch.Dispatcher, negotiator *encoding.Negotiator, logger *slog.Logger, m *metrics.Collector) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:        cfg,
		dispatcher: d,
		negotiator: negotiator,
		logger:     logger,
		metrics:    m,
		conns:      make(map[net.Conn]struct{}),
	}
}

// Register mounts a capability below /api.
func (s *Server) Register(c dispatch.Capability) {
	s.dispatcher.Registry().Register(c)
	s.logger.Debug("Registered handler", "prefix", c.Prefix)
}

// ListenAndServe binds the configured host:port and serves until Stop or ctx
// cancellation.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until Stop or ctx cancellation. It returns
// nil when stopped and the accept error otherwise.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.running = true
	s.mu.Unlock()

	s.logger.Info("Server listening", "addr", ln.Addr().String(), "handlers", s.dispatcher.Registry().Len())

	stop := context.AfterFunc(ctx, s.Stop)
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if !s.isRunning() {
				return nil
			}
			var ne net.Error
			if stderrors.As(err, &ne) && ne.Timeout() {
				s.logger.Warn("Accept timed out", "error", err)
				continue
			}
			s.Stop()
			return fmt.Errorf("accept failed: %w", err)
		}

		if !s.track(conn) {
			conn.Close()
			return nil
		}
		go func() {
			defer s.untrack(conn)
			s.serveConn(conn)
		}()
	}
}

// track records conn as in flight unless the server has stopped.
func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	s.wg.Done()
}

func (s *Server) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Stop stops accepting connections. Connections already being served run
// to completion.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	if s.listener != nil {
		if err := s.listener.Close(); err != nil {
			s.logger.Warn("Failed to close listener", "error", err)
		}
	}
	s.logger.Info("Server stopped accepting connections")
}

// Shutdown stops the server and waits for in-flight connections. When ctx
// expires first the remaining connections are closed and ctx.Err is returned.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Server shut down successfully")
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		n := len(s.conns)
		for conn := range s.conns {
			conn.Close()
		}
		s.mu.Unlock()
		s.logger.Warn("Shutdown deadline reached, closed open connections", "count", n)
		return ctx.Err()
	}
}

// Addr returns the bound listener address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Running reports whether the server is accepting connections.
func (s *Server) Running() bool {
	return s.isRunning()
}
