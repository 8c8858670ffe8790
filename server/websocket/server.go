// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package websocket

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/absmach/routemq/session"
	"github.com/gorilla/websocket"
)

// Transport names connections accepted by this server.
const Transport = "websocket"

// ConnectionHandler turns an accepted connection into a running client.
type ConnectionHandler interface {
	HandleConnection(conn net.Conn, transport string) (*session.Client, error)
}

// Admitter decides whether a remote address may open a connection.
type Admitter interface {
	Allow(addr net.Addr) bool
}

type Config struct {
	Address         string
	Path            string
	ShutdownTimeout time.Duration
	Admitter        Admitter
}

type Server struct {
	config   Config
	handler  ConnectionHandler
	logger   *slog.Logger
	server   *http.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
	connCtx  context.Context
	cancel   context.CancelFunc
}

func New(cfg Config, h ConnectionHandler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Path == "" {
		cfg.Path = "/routemq"
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	connCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:  cfg,
		handler: h,
		logger:  logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		connCtx: connCtx,
		cancel:  cancel,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Path, s.handleWebSocket)

	s.server = &http.Server{
		Addr:              cfg.Address,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler returns the upgrade handler, for mounting on another mux.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Addr returns the listener address once Listen has bound it.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) Listen(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info("websocket_server_starting",
		slog.String("addr", listener.Addr().String()),
		slog.String("path", s.config.Path))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.cancel()
		return err
	case <-ctx.Done():
		s.logger.Info("websocket_server_shutdown_initiated")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		err := s.server.Shutdown(shutdownCtx)

		// Hijacked connections are not tracked by http.Server.
		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-shutdownCtx.Done():
			s.logger.Warn("websocket_server_shutdown_timeout, forcing connection closure")
			s.cancel()
			<-done
		}
		s.cancel()

		if err != nil {
			s.logger.Error("websocket_server_shutdown_error", slog.String("error", err.Error()))
			return err
		}
		s.logger.Info("websocket_server_stopped")
		return nil
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Registered before the upgrade hijacks the connection, while Shutdown
	// still tracks the request.
	s.wg.Add(1)
	defer s.wg.Done()

	if s.config.Admitter != nil && !s.config.Admitter.Allow(remoteAddr(r.RemoteAddr)) {
		s.logger.Warn("websocket_connection_rate_limited", slog.String("remote_addr", r.RemoteAddr))
		http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket_upgrade_failed", slog.String("error", err.Error()))
		return
	}

	s.logger.Debug("websocket_connection_accepted", slog.String("remote_addr", r.RemoteAddr))

	c, err := s.handler.HandleConnection(newConn(ws, r.RemoteAddr), Transport)
	if err != nil {
		s.logger.Debug("websocket_connection_rejected", slog.String("error", err.Error()))
		return
	}

	select {
	case <-c.Done():
	case <-s.connCtx.Done():
		c.Close()
		<-c.Done()
	}
}
