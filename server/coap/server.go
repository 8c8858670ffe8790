// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package coap lets constrained devices publish over CoAP. The route is
// carried in a "route" URI query option and the body is the message data.
package coap

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/absmach/routemq/broker"
	"github.com/absmach/routemq/packets"
	"github.com/absmach/routemq/topics"
	"github.com/google/uuid"
	piondtls "github.com/pion/dtls/v3"
	"github.com/plgd-dev/go-coap/v3/dtls"
	"github.com/plgd-dev/go-coap/v3/message/codes"
	"github.com/plgd-dev/go-coap/v3/mux"
	"github.com/plgd-dev/go-coap/v3/net"
	"github.com/plgd-dev/go-coap/v3/options"
	"github.com/plgd-dev/go-coap/v3/udp"
)

const (
	publishPath = "/publish"
	healthPath  = "/health"
	routeQuery  = "route="
)

var errMissingRoute = errors.New("route query option is required")

// Publisher is the broker operation the bridge needs.
type Publisher interface {
	Publish(ctx context.Context, publisher uuid.UUID, msg *packets.Message) ([]string, error)
}

// Config holds the CoAP server configuration.
type Config struct {
	Address         string
	ShutdownTimeout time.Duration

	// TLSConfig switches the listener to DTLS. Its certificates and client
	// CA pool are reused for the DTLS handshake.
	TLSConfig *tls.Config
}

// Server is a CoAP publish bridge.
type Server struct {
	config Config
	broker Publisher
	logger *slog.Logger
	mux    *mux.Router

	mu   sync.Mutex
	addr string
}

// New creates a new CoAP server.
func New(cfg Config, b Publisher, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config: cfg,
		broker: b,
		logger: logger,
		mux:    mux.NewRouter(),
	}

	s.mux.Handle(publishPath, mux.HandlerFunc(s.handlePublish))
	s.mux.Handle(healthPath, mux.HandlerFunc(s.handleHealth))

	return s
}

// Addr returns the bound address once Listen has started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Listen starts the CoAP server and blocks until the context is cancelled.
func (s *Server) Listen(ctx context.Context) error {
	if s.config.TLSConfig != nil {
		return s.listenDTLS(ctx)
	}
	return s.listenUDP(ctx)
}

func (s *Server) listenUDP(ctx context.Context) error {
	conn, err := net.NewListenUDP("udp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to create UDP listener: %w", err)
	}
	s.setAddr(conn.LocalAddr().String())

	server := udp.NewServer(options.WithMux(s.mux))

	errCh := make(chan error, 1)
	go func() {
		if err := server.Serve(conn); err != nil {
			errCh <- err
		}
	}()

	s.logger.Info("coap_udp_server_started", slog.String("addr", s.Addr()))

	select {
	case err := <-errCh:
		return fmt.Errorf("CoAP UDP server error: %w", err)
	case <-ctx.Done():
		server.Stop()
		s.logger.Info("coap_udp_server_stopped")
		return nil
	}
}

func (s *Server) listenDTLS(ctx context.Context) error {
	cfg := dtlsConfig(s.config.TLSConfig)
	isMTLS := cfg.ClientAuth == piondtls.RequireAndVerifyClientCert

	listener, err := net.NewDTLSListener("udp", s.config.Address, cfg)
	if err != nil {
		return fmt.Errorf("failed to create DTLS listener: %w", err)
	}
	s.setAddr(listener.Addr().String())

	server := dtls.NewServer(options.WithMux(s.mux))

	errCh := make(chan error, 1)
	go func() {
		if err := server.Serve(listener); err != nil {
			errCh <- err
		}
	}()

	s.logger.Info("coap_dtls_server_started",
		slog.String("addr", s.Addr()),
		slog.Bool("mtls", isMTLS))

	select {
	case err := <-errCh:
		return fmt.Errorf("CoAP DTLS server error: %w", err)
	case <-ctx.Done():
		server.Stop()
		listener.Close()
		s.logger.Info("coap_dtls_server_stopped")
		return nil
	}
}

func (s *Server) setAddr(addr string) {
	s.mu.Lock()
	s.addr = addr
	s.mu.Unlock()
}

func (s *Server) handlePublish(w mux.ResponseWriter, r *mux.Message) {
	if r.Code() != codes.POST {
		s.sendResponse(w, r, codes.MethodNotAllowed, "publish requires POST")
		return
	}

	// A request without queries fails the route lookup below.
	queries, _ := r.Options().Queries()
	route, err := routeFromQueries(queries)
	if err != nil {
		s.sendResponse(w, r, codes.BadRequest, err.Error())
		return
	}

	data, err := r.ReadBody()
	if err != nil {
		s.logger.Warn("coap_publish_read_body_error", slog.String("error", err.Error()))
		s.sendResponse(w, r, codes.BadRequest, fmt.Sprintf("failed to read body: %v", err))
		return
	}

	msg := &packets.Message{ID: uuid.Must(uuid.NewV7()), Route: route, Data: data}

	s.logger.Debug("coap_publish",
		slog.String("route", route),
		slog.Int("data_size", len(data)))

	accepted, err := s.broker.Publish(r.Context(), uuid.Nil, msg)
	if err != nil {
		s.logger.Debug("coap_publish_failed", slog.String("error", err.Error()))
		s.sendResponse(w, r, codeFor(err), err.Error())
		return
	}

	s.sendResponse(w, r, codes.Changed, strings.Join(accepted, ","))
}

func (s *Server) handleHealth(w mux.ResponseWriter, r *mux.Message) {
	s.sendResponse(w, r, codes.Content, "healthy")
}

func (s *Server) sendResponse(w mux.ResponseWriter, r *mux.Message, code codes.Code, body string) {
	resp := w.Conn().AcquireMessage(r.Context())
	defer w.Conn().ReleaseMessage(resp)
	resp.SetCode(code)
	resp.SetToken(r.Token())
	resp.SetBody(bytes.NewReader([]byte(body)))
	if err := w.Conn().WriteMessage(resp); err != nil {
		s.logger.Error("coap_send_response_error", slog.String("error", err.Error()))
	}
}

// routeFromQueries picks the first "route=" URI query.
func routeFromQueries(queries []string) (string, error) {
	for _, q := range queries {
		if route, ok := strings.CutPrefix(q, routeQuery); ok {
			if route == "" {
				return "", errMissingRoute
			}
			return route, nil
		}
	}
	return "", errMissingRoute
}

func codeFor(err error) codes.Code {
	switch {
	case errors.Is(err, topics.ErrInvalidRoute):
		return codes.BadRequest
	case errors.Is(err, broker.ErrNoMatchingTopic):
		return codes.NotFound
	case errors.Is(err, broker.ErrRateLimited),
		errors.Is(err, broker.ErrShuttingDown),
		errors.Is(err, broker.ErrNotReady):
		return codes.ServiceUnavailable
	default:
		return codes.InternalServerError
	}
}

// dtlsConfig carries the certificates and client verification mode of a
// TLS configuration over to DTLS.
func dtlsConfig(c *tls.Config) *piondtls.Config {
	cfg := &piondtls.Config{
		Certificates: c.Certificates,
		ClientCAs:    c.ClientCAs,
	}
	switch c.ClientAuth {
	case tls.RequestClientCert:
		cfg.ClientAuth = piondtls.RequestClientCert
	case tls.RequireAnyClientCert:
		cfg.ClientAuth = piondtls.RequireAnyClientCert
	case tls.VerifyClientCertIfGiven:
		cfg.ClientAuth = piondtls.VerifyClientCertIfGiven
	case tls.RequireAndVerifyClientCert:
		cfg.ClientAuth = piondtls.RequireAndVerifyClientCert
	default:
		cfg.ClientAuth = piondtls.NoClientCert
	}
	return cfg
}
