// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package broker owns the registry of connected clients and declared topics
// and routes every payload a client sends.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/absmach/routemq/broker/events"
	"github.com/absmach/routemq/broker/router"
	"github.com/absmach/routemq/broker/webhook"
	"github.com/absmach/routemq/dispatcher"
	"github.com/absmach/routemq/queue"
	"github.com/absmach/routemq/ratelimit"
	"github.com/absmach/routemq/session"
	"github.com/absmach/routemq/storage"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/absmach/routemq/broker"

// Transport names reported in connection events and metrics.
const (
	TransportTCP       = "tcp"
	TransportWebSocket = "websocket"
)

// Config holds broker settings.
type Config struct {
	InstanceID string

	// Client is the template applied to every accepted connection.
	// Client.MaxConcurrency is the default prefetch.
	Client session.Config

	Policy        string // dispatcher.PolicyRoundRobin or dispatcher.PolicyRandom
	BackoffMin    time.Duration
	BackoffMax    time.Duration
	MaxDeliveries int
}

type clientEntry struct {
	client    *session.Client
	transport string
	subs      map[string]struct{}
}

// Broker is the registry of live clients and declared topics.
type Broker struct {
	cfg    Config
	store  storage.Store
	logger *slog.Logger
	tracer trace.Tracer
	stats  *Stats

	metrics  Metrics
	notifier webhook.Notifier
	limiter  *ratelimit.Manager

	// mu guards clients, topics and the router contents. It is never held
	// while calling into a client that may call back through HandleDisconnect.
	mu      sync.RWMutex
	clients map[uuid.UUID]*clientEntry
	topics  map[string]*queue.Topic
	router  *router.TrieRouter
	closing bool
	// deleting holds names whose stored state is still being removed.
	deleting map[string]struct{}

	ready     atomic.Bool
	closeOnce sync.Once
}

// New creates a broker over st. Call Start to restore declared topics.
func New(cfg Config, st storage.Store, logger *slog.Logger) (*Broker, error) {
	if st == nil {
		return nil, fmt.Errorf("storage cannot be nil")
	}
	if _, err := dispatcher.NewPolicy[queue.Consumer](cfg.Policy); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Broker{
		cfg:     cfg,
		store:   st,
		logger:  logger,
		tracer:  otel.Tracer(tracerName),
		stats:   NewStats(),
		metrics: nopMetrics{},
		clients:  make(map[uuid.UUID]*clientEntry),
		topics:   make(map[string]*queue.Topic),
		router:   router.NewRouter(),
		deleting: make(map[string]struct{}),
	}, nil
}

// SetMetrics installs the metrics sink. Call before Start.
func (b *Broker) SetMetrics(m Metrics) {
	if m == nil {
		m = nopMetrics{}
	}
	b.metrics = m
}

// SetNotifier installs the webhook notifier. Call before Start.
func (b *Broker) SetNotifier(n webhook.Notifier) {
	b.notifier = n
}

// SetRateLimiter installs the publish rate limiter. Call before Start.
func (b *Broker) SetRateLimiter(m *ratelimit.Manager) {
	b.limiter = m
}

// Stats returns the broker statistics.
func (b *Broker) Stats() *Stats {
	return b.stats
}

// Start restores every persisted topic declaration and its pending messages.
func (b *Broker) Start(ctx context.Context) error {
	recs, err := b.store.Topics().List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list topics: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, rec := range recs {
		if _, ok := b.topics[rec.Name]; ok {
			continue
		}
		t, err := b.startTopic(ctx, rec.Name, rec.Route)
		if err != nil {
			return fmt.Errorf("failed to restore topic %s: %w", rec.Name, err)
		}
		b.topics[rec.Name] = t
		b.router.Add(rec.Route, rec.Name)
		b.metrics.RecordTopicDeclared()
	}

	b.ready.Store(true)
	b.logger.Info("broker started", slog.Int("topics", len(recs)))
	return nil
}

// startTopic builds and starts a topic. Caller holds b.mu.
func (b *Broker) startTopic(ctx context.Context, name, route string) (*queue.Topic, error) {
	policy, err := dispatcher.NewPolicy[queue.Consumer](b.cfg.Policy)
	if err != nil {
		return nil, err
	}

	t, err := queue.NewTopic(queue.Config{
		Name:          name,
		Route:         route,
		Messages:      b.store.Messages(),
		DeadLetters:   b.store.DeadLetters(),
		Policy:        policy,
		BackoffMin:    b.cfg.BackoffMin,
		BackoffMax:    b.cfg.BackoffMax,
		MaxDeliveries: b.cfg.MaxDeliveries,
		Observer:      b,
		Logger:        b.logger,
	})
	if err != nil {
		return nil, err
	}
	if err := t.Start(ctx); err != nil {
		t.Dispose()
		return nil, err
	}
	return t, nil
}

// Ready returns nil once topics are restored and until Close.
func (b *Broker) Ready() error {
	b.mu.RLock()
	closing := b.closing
	b.mu.RUnlock()

	if closing {
		return ErrShuttingDown
	}
	if !b.ready.Load() {
		return ErrNotReady
	}
	return nil
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// TopicCount returns the number of declared topics.
func (b *Broker) TopicCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics)
}

// Topic returns the declared topic called name.
func (b *Broker) Topic(name string) (*queue.Topic, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.topics[name]
	return t, ok
}

// HandleConnection registers conn as a new client and starts its loops.
// The returned client is done once the connection is gone.
func (b *Broker) HandleConnection(conn net.Conn, transport string) (*session.Client, error) {
	c := session.New(conn, b, b.cfg.Client, b.logger)

	b.mu.Lock()
	if b.closing {
		b.mu.Unlock()
		conn.Close()
		return nil, ErrShuttingDown
	}
	b.clients[c.ID()] = &clientEntry{
		client:    c,
		transport: transport,
		subs:      make(map[string]struct{}),
	}
	b.mu.Unlock()

	b.stats.connected()
	b.metrics.RecordConnection(transport)
	c.Start()

	b.logger.Debug("client connected",
		slog.String("client_id", c.ID().String()),
		slog.String("remote", c.RemoteAddr()),
		slog.String("transport", transport))
	b.notify(events.ClientConnected{
		ClientID:   c.ID().String(),
		Transport:  transport,
		RemoteAddr: c.RemoteAddr(),
	})

	return c, nil
}

// Close disposes every topic and disconnects every client. Stored messages
// are kept for the next Start. Close is idempotent.
func (b *Broker) Close() error {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closing = true
		clients := make([]*session.Client, 0, len(b.clients))
		for _, e := range b.clients {
			clients = append(clients, e.client)
		}
		topics := make([]*queue.Topic, 0, len(b.topics))
		for _, t := range b.topics {
			topics = append(topics, t)
		}
		b.mu.Unlock()

		// Topics first, so failing their tickets does not spend delivery
		// attempts on a shutdown.
		for _, t := range topics {
			t.Dispose()
		}
		for _, c := range clients {
			c.Close()
		}

		b.logger.Info("broker stopped",
			slog.Int("clients", len(clients)),
			slog.Int("topics", len(topics)))
	})
	return nil
}

func (b *Broker) notify(ev events.Event) {
	if b.notifier == nil {
		return
	}
	if err := b.notifier.Notify(context.Background(), ev); err != nil {
		b.logger.Debug("webhook notify failed",
			slog.String("event_type", ev.Type()),
			slog.String("error", err.Error()))
	}
}
