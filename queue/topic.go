// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package queue implements per-topic durable delivery with at-least-once
// redelivery.
//
// A message moves Pending -> InFlight -> Acked, or back to Pending on a
// nack or a lost consumer. It stays in the message store until it is acked
// or dead-lettered.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/absmach/routemq/dispatcher"
	"github.com/absmach/routemq/internal/fifo"
	"github.com/absmach/routemq/packets"
	"github.com/absmach/routemq/session"
	"github.com/absmach/routemq/storage"
	"github.com/google/uuid"
)

// Default backoff bounds used while no consumer is available.
const (
	DefaultBackoffMin = time.Millisecond
	DefaultBackoffMax = 500 * time.Millisecond
)

// Consumer is a subscribed client able to take deliveries.
type Consumer interface {
	dispatcher.Subscriber
	Enqueue(p *packets.Serialized, h session.StatusHandler) (*session.Ticket, error)
}

var (
	_ Consumer              = (*session.Client)(nil)
	_ session.StatusHandler = (*Topic)(nil)
)

// Config configures a Topic.
type Config struct {
	Name  string
	Route string

	Messages    storage.MessageStore
	DeadLetters storage.DeadLetterStore // optional

	Policy        dispatcher.Policy[Consumer] // nil means round robin
	BackoffMin    time.Duration
	BackoffMax    time.Duration
	MaxDeliveries int // 0 means unbounded

	Observer Observer
	Logger   *slog.Logger
}

// Topic is a named, route-matched durable queue with its own subscriber set
// and a single dispatch goroutine.
type Topic struct {
	name  string
	route string

	store       storage.MessageStore
	deadLetters storage.DeadLetterStore
	consumers   *dispatcher.Dispatcher[Consumer]
	work        *fifo.Queue[uuid.UUID]

	backoffMin    time.Duration
	backoffMax    time.Duration
	maxDeliveries int

	observer Observer
	logger   *slog.Logger

	// intake excludes OnMessage against Dispose, so no message is persisted
	// after Dispose returns.
	intake   sync.RWMutex
	started  bool
	disposed atomic.Bool

	// mu guards inflight and attempts. Lock order is Topic.mu then the
	// consumer's own lock.
	mu       sync.Mutex
	inflight map[uuid.UUID]*session.Ticket
	attempts map[uuid.UUID]int

	ctx         context.Context
	cancel      context.CancelFunc
	done        chan struct{}
	disposeOnce sync.Once
}

// NewTopic creates a topic. Call Start before publishing to it.
func NewTopic(cfg Config) (*Topic, error) {
	if cfg.Name == "" || cfg.Route == "" || cfg.Messages == nil {
		return nil, ErrInvalidConfig
	}
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = DefaultBackoffMin
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = DefaultBackoffMax
	}
	if cfg.BackoffMax < cfg.BackoffMin {
		cfg.BackoffMax = cfg.BackoffMin
	}
	if cfg.MaxDeliveries < 0 {
		return nil, ErrInvalidConfig
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Topic{
		name:          cfg.Name,
		route:         cfg.Route,
		store:         cfg.Messages,
		deadLetters:   cfg.DeadLetters,
		consumers:     dispatcher.New(cfg.Policy),
		work:          fifo.New[uuid.UUID](),
		backoffMin:    cfg.BackoffMin,
		backoffMax:    cfg.BackoffMax,
		maxDeliveries: cfg.MaxDeliveries,
		observer:      cfg.Observer,
		logger:        cfg.Logger.With(slog.String("topic", cfg.Name)),
		inflight:      make(map[uuid.UUID]*session.Ticket),
		attempts:      make(map[uuid.UUID]int),
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
	}, nil
}

// Name returns the topic name.
func (t *Topic) Name() string { return t.name }

// Route returns the route pattern.
func (t *Topic) Route() string { return t.route }

// Start recovers every stored message onto the work queue in storage order
// and then starts the dispatch loop. Calling Start twice is a no-op.
func (t *Topic) Start(ctx context.Context) error {
	t.intake.Lock()
	defer t.intake.Unlock()

	if t.disposed.Load() {
		return ErrTopicDisposed
	}
	if t.started {
		return nil
	}

	ids, err := t.store.List(ctx, t.name)
	if err != nil {
		return fmt.Errorf("failed to load pending messages: %w", err)
	}
	for _, id := range ids {
		if err := t.work.Push(id); err != nil {
			return ErrTopicDisposed
		}
	}
	if len(ids) > 0 {
		t.logger.Info("recovered pending messages", slog.Int("count", len(ids)))
	}

	t.started = true
	go t.run()
	return nil
}

// OnMessage persists a topic-scoped copy of msg and queues it for delivery.
// It never waits for a consumer.
func (t *Topic) OnMessage(ctx context.Context, msg *packets.Message) (uuid.UUID, error) {
	t.intake.RLock()
	defer t.intake.RUnlock()

	if t.disposed.Load() {
		return uuid.Nil, ErrTopicDisposed
	}
	if !t.started {
		return uuid.Nil, ErrTopicNotStarted
	}

	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, err
	}
	rec := &storage.Message{
		ID:        id,
		Topic:     t.name,
		Route:     msg.Route,
		Data:      msg.Data,
		CreatedAt: time.Now().UTC(),
	}
	if err := t.store.Add(ctx, rec); err != nil {
		return uuid.Nil, fmt.Errorf("failed to persist message: %w", err)
	}
	if err := t.work.Push(id); err != nil {
		return uuid.Nil, ErrTopicDisposed
	}
	return id, nil
}

// ClientSubscribed adds c to the consumer set.
func (t *Topic) ClientSubscribed(c Consumer) bool {
	return t.consumers.Add(c)
}

// ClientUnsubscribed removes the consumer with id. Its in-flight deliveries
// resolve through its own ack, nack or close.
func (t *Topic) ClientUnsubscribed(id uuid.UUID) bool {
	return t.consumers.Remove(id)
}

// Subscribers returns the number of subscribed consumers.
func (t *Topic) Subscribers() int { return t.consumers.Len() }

// Pending returns the number of ids waiting for dispatch.
func (t *Topic) Pending() int { return t.work.Len() }

// InFlight returns the number of deliveries awaiting ack or nack.
func (t *Topic) InFlight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inflight)
}

// OnStatusChanged resolves a delivery: an ack deletes the message, a nack
// queues it again at the tail or dead-letters it once the delivery ceiling
// is reached.
func (t *Topic) OnStatusChanged(id uuid.UUID, ack bool) {
	t.mu.Lock()
	delete(t.inflight, id)
	deliveries := t.attempts[id]
	if ack {
		delete(t.attempts, id)
	}
	t.mu.Unlock()

	// Resolution must outlive disposal.
	ctx := context.Background()

	if ack {
		t.observer.Acked(t.name)
		if err := t.store.Delete(ctx, t.name, id); err != nil {
			t.logger.Error("failed to delete acked message",
				slog.String("message_id", id.String()),
				slog.String("error", err.Error()))
		}
		return
	}

	t.observer.Nacked(t.name)
	if t.disposed.Load() {
		// Failed by Dispose: the message stays stored and is recovered on
		// the next Start without spending a delivery attempt.
		return
	}
	if t.maxDeliveries > 0 && deliveries >= t.maxDeliveries {
		t.deadLetter(ctx, id, deliveries, "max deliveries exceeded")
		return
	}
	if err := t.work.Push(id); err != nil {
		// Disposed: the message stays stored and is recovered on the next Start.
		return
	}
}

// Dispose stops intake and the dispatch loop and fails every outstanding
// ticket. Deliveries still queued on a consumer are dropped unsent. Failed
// messages remain stored. Dispose is idempotent.
func (t *Topic) Dispose() {
	t.disposeOnce.Do(func() {
		t.intake.Lock()
		t.disposed.Store(true)
		started := t.started
		t.intake.Unlock()

		t.cancel()
		t.work.Close()
		if started {
			<-t.done
		}

		t.mu.Lock()
		tickets := make([]*session.Ticket, 0, len(t.inflight))
		for _, tk := range t.inflight {
			tickets = append(tickets, tk)
		}
		t.inflight = make(map[uuid.UUID]*session.Ticket)
		t.mu.Unlock()

		for _, tk := range tickets {
			tk.Fail()
		}
		t.logger.Debug("topic disposed", slog.Int("failed_tickets", len(tickets)))
	})
}

// Disposed reports whether Dispose was called.
func (t *Topic) Disposed() bool { return t.disposed.Load() }

// Purge deletes every stored message of the topic.
func (t *Topic) Purge(ctx context.Context) error {
	if err := t.store.DeleteTopic(ctx, t.name); err != nil {
		return fmt.Errorf("failed to purge topic: %w", err)
	}
	t.mu.Lock()
	t.attempts = make(map[uuid.UUID]int)
	t.mu.Unlock()
	return nil
}

func (t *Topic) run() {
	defer close(t.done)

	for {
		id, err := t.work.Pop(t.ctx)
		if err != nil {
			return
		}

		msg, err := t.store.Get(t.ctx, t.name, id)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			// Acked through a race, nothing to send.
			continue
		case err != nil:
			if t.ctx.Err() != nil {
				return
			}
			t.logger.Error("failed to load message",
				slog.String("message_id", id.String()),
				slog.String("error", err.Error()))
			_ = t.work.Push(id)
			if !t.sleep(t.backoffMax) {
				return
			}
			continue
		}

		p, err := packets.Encode(&packets.TopicMessage{
			ID:    msg.ID,
			Topic: t.name,
			Route: msg.Route,
			Data:  msg.Data,
		})
		if err != nil {
			t.deadLetter(context.Background(), id, 0, "encode failed: "+err.Error())
			continue
		}

		if err := t.SendToNextAvailableClient(p); err != nil {
			p.Release()
			if errors.Is(err, ErrTopicDisposed) {
				return
			}
			t.logger.Error("delivery failed, requeueing",
				slog.String("message_id", id.String()),
				slog.String("error", err.Error()))
			_ = t.work.Push(id)
		}
	}
}

// SendToNextAvailableClient hands p to the next available consumer, waiting
// with bounded doubling backoff while there is none. A consumer closing or
// filling up between selection and enqueue is retried with another. On
// success the consumer owns p; on error the caller does.
func (t *Topic) SendToNextAvailableClient(p *packets.Serialized) error {
	delay := t.backoffMin
	for {
		if t.ctx.Err() != nil {
			return ErrTopicDisposed
		}

		c, ok := t.consumers.NextAvailable()
		if !ok {
			if !t.sleep(delay) {
				return ErrTopicDisposed
			}
			delay = min(delay*2, t.backoffMax)
			continue
		}
		delay = t.backoffMin

		err := t.enqueue(c, p)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, session.ErrChannelClosed), errors.Is(err, session.ErrConcurrencyLimit):
			continue
		default:
			return err
		}
	}
}

func (t *Topic) enqueue(c Consumer, p *packets.Serialized) error {
	id := p.ID()

	t.mu.Lock()
	defer t.mu.Unlock()

	tk, err := c.Enqueue(p, t)
	if err != nil {
		return err
	}
	t.inflight[id] = tk
	t.attempts[id]++
	t.observer.Dispatched(t.name, t.attempts[id] > 1)
	return nil
}

func (t *Topic) deadLetter(ctx context.Context, id uuid.UUID, deliveries int, reason string) {
	t.mu.Lock()
	delete(t.attempts, id)
	t.mu.Unlock()

	msg, err := t.store.Get(ctx, t.name, id)
	if err != nil {
		return
	}
	dl := &storage.DeadLetter{
		Message:    *msg,
		Deliveries: deliveries,
		Reason:     reason,
		FailedAt:   time.Now().UTC(),
	}
	if t.deadLetters != nil {
		if err := t.deadLetters.Add(ctx, dl); err != nil {
			t.logger.Error("failed to store dead letter, keeping message",
				slog.String("message_id", id.String()),
				slog.String("error", err.Error()))
			_ = t.work.Push(id)
			return
		}
	}
	if err := t.store.Delete(ctx, t.name, id); err != nil {
		t.logger.Error("failed to delete dead-lettered message",
			slog.String("message_id", id.String()),
			slog.String("error", err.Error()))
	}
	t.observer.DeadLettered(dl)
	t.logger.Warn("message dead-lettered",
		slog.String("message_id", id.String()),
		slog.Int("deliveries", deliveries),
		slog.String("reason", reason))
}

// sleep waits d or until disposal. It reports whether the topic is still live.
func (t *Topic) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-t.ctx.Done():
		return false
	}
}
