// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/absmach/routemq/broker/events"
	"github.com/absmach/routemq/packets"
	"github.com/absmach/routemq/queue"
	"github.com/absmach/routemq/session"
	"github.com/absmach/routemq/storage"
	"github.com/absmach/routemq/topics"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DeclareTopic creates a topic bound to route and persists the declaration.
// Declaring an existing topic with the same route is a no-op that reports
// created=false; a different route is ErrTopicConflict. A name whose
// deletion has not finished yet is ErrTopicDeleting.
func (b *Broker) DeclareTopic(ctx context.Context, name, route string) (bool, error) {
	if err := topics.ValidateName(name); err != nil {
		return false, err
	}
	if err := topics.ValidatePattern(route); err != nil {
		return false, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closing {
		return false, ErrShuttingDown
	}
	if _, ok := b.deleting[name]; ok {
		return false, ErrTopicDeleting
	}
	if t, ok := b.topics[name]; ok {
		if t.Route() == route {
			return false, nil
		}
		return false, ErrTopicConflict
	}

	rec := &storage.Topic{Name: name, Route: route, CreatedAt: time.Now().UTC()}
	if err := b.store.Topics().Save(ctx, rec); err != nil {
		return false, fmt.Errorf("failed to persist topic: %w", err)
	}

	t, err := b.startTopic(ctx, name, route)
	if err != nil {
		if derr := b.store.Topics().Delete(ctx, name); derr != nil {
			b.logger.Error("failed to roll back topic declaration",
				slog.String("topic", name),
				slog.String("error", derr.Error()))
		}
		return false, err
	}

	b.topics[name] = t
	b.router.Add(route, name)
	b.metrics.RecordTopicDeclared()
	b.logger.Info("topic declared", slog.String("topic", name), slog.String("route", route))
	b.notify(events.TopicDeclared{Name: name, Route: route})

	return true, nil
}

// DeleteTopic disposes the topic, drops its stored messages and removes the
// declaration. Subscribers are detached; their in-flight deliveries fail.
func (b *Broker) DeleteTopic(ctx context.Context, name string) error {
	b.mu.Lock()
	t, ok := b.topics[name]
	if !ok {
		b.mu.Unlock()
		return ErrTopicNotFound
	}
	delete(b.topics, name)
	b.deleting[name] = struct{}{}
	b.router.Remove(t.Route(), name)
	detached := 0
	for _, e := range b.clients {
		if _, ok := e.subs[name]; ok {
			delete(e.subs, name)
			detached++
		}
	}
	b.mu.Unlock()

	t.Dispose()

	var errs []error
	if err := t.Purge(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := b.store.Topics().Delete(ctx, name); err != nil && !errors.Is(err, storage.ErrNotFound) {
		errs = append(errs, fmt.Errorf("failed to delete topic declaration: %w", err))
	}

	b.mu.Lock()
	delete(b.deleting, name)
	b.mu.Unlock()

	for i := 0; i < detached; i++ {
		b.metrics.RecordSubscriptionRemoved()
	}
	b.metrics.RecordTopicDeleted()
	b.logger.Info("topic deleted", slog.String("topic", name), slog.Int("detached", detached))
	b.notify(events.TopicDeleted{Name: name})

	return errors.Join(errs...)
}

// Subscribe adds c to the subscriber set of topic name. Subscribing twice is
// a no-op.
func (b *Broker) Subscribe(c *session.Client, name string) error {
	b.mu.Lock()
	t, ok := b.topics[name]
	if !ok {
		b.mu.Unlock()
		return ErrTopicNotFound
	}
	e, ok := b.clients[c.ID()]
	if !ok {
		b.mu.Unlock()
		return ErrClientNotFound
	}
	added := t.ClientSubscribed(c)
	e.subs[name] = struct{}{}
	b.mu.Unlock()

	if added {
		b.metrics.RecordSubscriptionAdded()
		b.notify(events.SubscriptionCreated{ClientID: c.ID().String(), TopicName: name})
	}
	return nil
}

// Unsubscribe removes c from topic name. Deliveries already in flight to c
// resolve through its own ack, nack or disconnect.
func (b *Broker) Unsubscribe(c *session.Client, name string) error {
	b.mu.Lock()
	t, ok := b.topics[name]
	if !ok {
		b.mu.Unlock()
		return ErrTopicNotFound
	}
	removed := t.ClientUnsubscribed(c.ID())
	if e, ok := b.clients[c.ID()]; ok {
		delete(e.subs, name)
	}
	b.mu.Unlock()

	if !removed {
		return ErrNotSubscribed
	}
	b.metrics.RecordSubscriptionRemoved()
	b.notify(events.SubscriptionRemoved{ClientID: c.ID().String(), TopicName: name})
	return nil
}

// Publish hands msg to every topic whose pattern matches its route and
// returns the names of the topics that accepted it. Each topic persists its
// own copy before Publish returns.
func (b *Broker) Publish(ctx context.Context, publisher uuid.UUID, msg *packets.Message) ([]string, error) {
	if !b.limiter.AllowPublish(publisher) {
		return nil, ErrRateLimited
	}
	if err := topics.ValidateRoute(msg.Route); err != nil {
		return nil, err
	}

	start := time.Now()
	ctx, span := b.tracer.Start(ctx, "publish",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("routemq.route", msg.Route),
			attribute.Int("routemq.data_size", len(msg.Data)),
		))
	defer span.End()

	b.mu.RLock()
	names := b.router.Match(msg.Route)
	targets := make([]*queue.Topic, 0, len(names))
	for _, name := range names {
		if t, ok := b.topics[name]; ok {
			targets = append(targets, t)
		}
	}
	b.mu.RUnlock()

	accepted := make([]string, 0, len(targets))
	var errs []error
	for _, t := range targets {
		if _, err := t.OnMessage(ctx, msg); err != nil {
			if errors.Is(err, queue.ErrTopicDisposed) {
				// Deleted while routing.
				continue
			}
			errs = append(errs, fmt.Errorf("topic %s: %w", t.Name(), err))
			continue
		}
		accepted = append(accepted, t.Name())
	}
	span.SetAttributes(attribute.Int("routemq.topics", len(accepted)))

	switch {
	case len(errs) > 0:
		err := errors.Join(append([]error{ErrPartiallyRouted}, errs...)...)
		span.RecordError(err)
		span.SetStatus(codes.Error, ErrPartiallyRouted.Error())
		b.stats.publishErrors.Add(1)
		b.metrics.RecordError("publish")
		return accepted, err
	case len(accepted) == 0:
		span.SetStatus(codes.Error, ErrNoMatchingTopic.Error())
		return nil, ErrNoMatchingTopic
	}

	b.stats.published.Add(1)
	b.metrics.RecordPublish(len(msg.Data), float64(time.Since(start).Microseconds())/1000)
	return accepted, nil
}

// TopicInfo describes a declared topic.
type TopicInfo struct {
	Name        string `json:"name"`
	Route       string `json:"route"`
	Pending     int    `json:"pending"`
	InFlight    int    `json:"in_flight"`
	Subscribers int    `json:"subscribers"`
}

// Topics lists declared topics ordered by name.
func (b *Broker) Topics() []TopicInfo {
	b.mu.RLock()
	infos := make([]TopicInfo, 0, len(b.topics))
	for _, t := range b.topics {
		infos = append(infos, TopicInfo{
			Name:        t.Name(),
			Route:       t.Route(),
			Pending:     t.Pending(),
			InFlight:    t.InFlight(),
			Subscribers: t.Subscribers(),
		})
	}
	b.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}
