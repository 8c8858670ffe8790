// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/absmach/routemq/broker/events"
	"github.com/absmach/routemq/config"
	"github.com/absmach/routemq/topics"
	"github.com/sony/gobreaker"
)

// Drop policies applied when the event queue is full.
const (
	DropOldest = "oldest"
	DropNewest = "newest"
)

var _ Notifier = (*GenericNotifier)(nil)

// GenericNotifier implements webhook notifications with a worker pool and a
// circuit breaker per endpoint.
type GenericNotifier struct {
	cfg       config.WebhookConfig
	brokerID  string
	endpoints []endpoint
	queue     chan job
	sender    Sender
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type endpoint struct {
	name         string
	url          string
	eventFilters map[string]bool
	topicFilters []string
	headers      map[string]string
	timeout      time.Duration
	retry        config.RetryConfig
	breaker      *gobreaker.CircuitBreaker
}

type job struct {
	event    events.Event
	endpoint *endpoint
	attempt  int
}

// NewNotifier creates a notifier and starts its workers.
func NewNotifier(cfg config.WebhookConfig, brokerID string, sender Sender, logger *slog.Logger) (*GenericNotifier, error) {
	if sender == nil {
		return nil, ErrNilSender
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}

	endpoints := make([]endpoint, 0, len(cfg.Endpoints))
	for _, ep := range cfg.Endpoints {
		filters := make(map[string]bool, len(ep.Events))
		for _, typ := range ep.Events {
			filters[typ] = true
		}

		timeout := cfg.Defaults.Timeout
		if ep.Timeout > 0 {
			timeout = ep.Timeout
		}
		retry := cfg.Defaults.Retry
		if ep.Retry != nil {
			retry = *ep.Retry
		}

		endpoints = append(endpoints, endpoint{
			name:         ep.Name,
			url:          ep.URL,
			eventFilters: filters,
			topicFilters: ep.TopicFilters,
			headers:      ep.Headers,
			timeout:      timeout,
			retry:        retry,
			breaker:      newBreaker(ep.Name, cfg.Defaults.CircuitBreaker, logger),
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	n := &GenericNotifier{
		cfg:       cfg,
		brokerID:  brokerID,
		endpoints: endpoints,
		queue:     make(chan job, cfg.QueueSize),
		sender:    sender,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}

	for i := 0; i < cfg.Workers; i++ {
		n.wg.Add(1)
		go n.worker()
	}

	logger.Info("webhook notifier started",
		slog.Int("workers", cfg.Workers),
		slog.Int("queue_size", cfg.QueueSize),
		slog.Int("endpoints", len(endpoints)))

	return n, nil
}

func newBreaker(name string, cfg config.CircuitBreakerConfig, logger *slog.Logger) *gobreaker.CircuitBreaker {
	threshold := uint32(max(cfg.FailureThreshold, 1))
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("webhook circuit breaker state changed",
				slog.String("endpoint", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
}

// Notify queues ev for every endpoint whose filters accept it.
func (n *GenericNotifier) Notify(_ context.Context, ev events.Event) error {
	if n.ctx.Err() != nil {
		return ErrClosed
	}
	if pc, ok := ev.(events.PayloadCarrier); ok && !n.cfg.IncludePayload {
		ev = pc.WithoutPayload()
	}

	for i := range n.endpoints {
		ep := &n.endpoints[i]
		if !ep.accepts(ev) {
			continue
		}
		n.push(job{event: ev, endpoint: ep})
	}

	return nil
}

func (n *GenericNotifier) push(j job) {
	select {
	case n.queue <- j:
		return
	default:
	}

	if n.cfg.DropPolicy == DropOldest {
		select {
		case <-n.queue:
		default:
		}
		select {
		case n.queue <- j:
			return
		default:
		}
	}

	n.logger.Error("webhook queue full, event dropped",
		slog.String("event_type", j.event.Type()),
		slog.String("endpoint", j.endpoint.name))
}

// accepts reports whether the endpoint's event and topic filters let ev through.
// Topic filters only apply to events that name a topic.
func (ep *endpoint) accepts(ev events.Event) bool {
	if len(ep.eventFilters) > 0 && !ep.eventFilters[ev.Type()] {
		return false
	}
	if ev.Topic() == "" || len(ep.topicFilters) == 0 {
		return true
	}
	for _, f := range ep.topicFilters {
		if topics.Match(ev.Topic(), f) {
			return true
		}
	}
	return false
}

func (n *GenericNotifier) worker() {
	defer n.wg.Done()

	for {
		select {
		case j := <-n.queue:
			n.process(j)
		case <-n.ctx.Done():
			n.drain()
			return
		}
	}
}

// drain sends whatever is still queued once, without retries.
func (n *GenericNotifier) drain() {
	for {
		select {
		case j := <-n.queue:
			j.attempt = j.endpoint.retry.MaxAttempts
			n.process(j)
		default:
			return
		}
	}
}

func (n *GenericNotifier) process(j job) {
	_, err := j.endpoint.breaker.Execute(func() (any, error) {
		return nil, n.send(j)
	})
	if err == nil {
		return
	}

	if j.attempt >= j.endpoint.retry.MaxAttempts-1 || n.ctx.Err() != nil {
		n.logger.Error("webhook delivery failed",
			slog.String("endpoint", j.endpoint.name),
			slog.String("event_type", j.event.Type()),
			slog.Int("attempts", j.attempt+1),
			slog.String("error", err.Error()))
		return
	}

	j.attempt++
	delay := retryDelay(j.attempt, j.endpoint.retry)
	n.logger.Debug("webhook delivery failed, retrying",
		slog.String("endpoint", j.endpoint.name),
		slog.String("event_type", j.event.Type()),
		slog.Int("attempt", j.attempt),
		slog.Duration("retry_after", delay),
		slog.String("error", err.Error()))

	time.AfterFunc(delay, func() {
		if n.ctx.Err() != nil {
			return
		}
		select {
		case n.queue <- j:
		default:
			n.logger.Error("failed to requeue event for retry",
				slog.String("endpoint", j.endpoint.name),
				slog.String("event_type", j.event.Type()))
		}
	})
}

func (n *GenericNotifier) send(j job) error {
	payload, err := json.Marshal(events.Wrap(j.event, n.brokerID))
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), j.endpoint.timeout)
	defer cancel()

	if err := n.sender.Send(ctx, j.endpoint.url, j.endpoint.headers, payload); err != nil {
		return err
	}

	n.logger.Debug("webhook delivered",
		slog.String("endpoint", j.endpoint.name),
		slog.String("event_type", j.event.Type()))
	return nil
}

// retryDelay is InitialInterval * Multiplier^attempt, capped at MaxInterval.
func retryDelay(attempt int, cfg config.RetryConfig) time.Duration {
	delay := float64(cfg.InitialInterval) * math.Pow(cfg.Multiplier, float64(attempt))
	if cfg.MaxInterval > 0 && delay > float64(cfg.MaxInterval) {
		delay = float64(cfg.MaxInterval)
	}
	return time.Duration(delay)
}

// Close stops accepting events and waits up to ShutdownTimeout for the
// workers to flush the queue.
func (n *GenericNotifier) Close() error {
	n.cancel()

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		n.logger.Info("webhook notifier stopped")
	case <-time.After(n.cfg.ShutdownTimeout):
		n.logger.Warn("webhook notifier shutdown timeout, some events may be lost",
			slog.Int("queue_depth", len(n.queue)))
	}

	return nil
}
