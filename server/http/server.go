// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package http exposes publishing and topic administration over HTTP for
// producers that do not hold a broker connection.
package http

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/absmach/routemq/broker"
	"github.com/absmach/routemq/packets"
	"github.com/absmach/routemq/topics"
	"github.com/google/uuid"
)

// Broker is the subset of the broker the bridge drives.
type Broker interface {
	DeclareTopic(ctx context.Context, name, route string) (bool, error)
	DeleteTopic(ctx context.Context, name string) error
	Publish(ctx context.Context, publisher uuid.UUID, msg *packets.Message) ([]string, error)
	Topics() []broker.TopicInfo
}

type Config struct {
	Address         string
	ShutdownTimeout time.Duration
	TLSConfig       *tls.Config
}

type Server struct {
	config Config
	broker Broker
	logger *slog.Logger
	server *http.Server

	mu       sync.Mutex
	listener net.Listener
}

func New(cfg Config, b Broker, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	s := &Server{
		config: cfg,
		broker: b,
		logger: logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /publish", s.handlePublish)
	mux.HandleFunc("GET /topics", s.handleListTopics)
	mux.HandleFunc("POST /topics", s.handleDeclareTopic)
	mux.HandleFunc("DELETE /topics/{name}", s.handleDeleteTopic)

	s.server = &http.Server{
		Addr:              cfg.Address,
		Handler:           mux,
		TLSConfig:         cfg.TLSConfig,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler returns the bridge's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Addr returns the listener address once Listen has bound it.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) Listen(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Address, err)
	}
	if s.config.TLSConfig != nil {
		listener = tls.NewListener(listener, s.config.TLSConfig)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info("http_bridge_starting", slog.String("addr", listener.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("http_bridge_shutdown_initiated")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http_bridge_shutdown_error", slog.String("error", err.Error()))
			return err
		}

		s.logger.Info("http_bridge_stopped")
		return nil
	}
}

type publishRequest struct {
	Route string `json:"route"`
	Data  []byte `json:"data"`
}

// PublishResponse lists the topics that stored the message.
type PublishResponse struct {
	ID     string   `json:"id"`
	Topics []string `json:"topics"`
}

type declareRequest struct {
	Name  string `json:"name"`
	Route string `json:"route"`
}

// DeclareResponse reports whether the topic was newly created.
type DeclareResponse struct {
	Name    string `json:"name"`
	Route   string `json:"route"`
	Created bool   `json:"created"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.logger.Warn("http_publish_invalid_request", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request: %w", err))
		return
	}

	msg := &packets.Message{ID: uuid.Must(uuid.NewV7()), Route: req.Route, Data: req.Data}

	s.logger.Debug("http_publish",
		slog.String("route", req.Route),
		slog.Int("data_size", len(req.Data)))

	// Bridge publishes share one rate-limit bucket.
	accepted, err := s.broker.Publish(r.Context(), uuid.Nil, msg)
	if err != nil {
		s.logger.Debug("http_publish_failed", slog.String("error", err.Error()))
		writeError(w, statusFor(err), err)
		return
	}

	writeJSON(w, http.StatusOK, PublishResponse{ID: msg.ID.String(), Topics: accepted})
}

func (s *Server) handleListTopics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.broker.Topics())
}

func (s *Server) handleDeclareTopic(w http.ResponseWriter, r *http.Request) {
	var req declareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request: %w", err))
		return
	}

	created, err := s.broker.DeclareTopic(r.Context(), req.Name, req.Route)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, DeclareResponse{Name: req.Name, Route: req.Route, Created: created})
}

func (s *Server) handleDeleteTopic(w http.ResponseWriter, r *http.Request) {
	if err := s.broker.DeleteTopic(r.Context(), r.PathValue("name")); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, topics.ErrInvalidName),
		errors.Is(err, topics.ErrInvalidRoute),
		errors.Is(err, topics.ErrInvalidPattern):
		return http.StatusBadRequest
	case errors.Is(err, broker.ErrNoMatchingTopic),
		errors.Is(err, broker.ErrTopicNotFound):
		return http.StatusNotFound
	case errors.Is(err, broker.ErrTopicConflict), errors.Is(err, broker.ErrTopicDeleting):
		return http.StatusConflict
	case errors.Is(err, broker.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, broker.ErrShuttingDown),
		errors.Is(err, broker.ErrNotReady):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
