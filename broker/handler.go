// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"context"
	"errors"
	"log/slog"

	"github.com/absmach/routemq/broker/events"
	"github.com/absmach/routemq/packets"
	"github.com/absmach/routemq/queue"
	"github.com/absmach/routemq/session"
	"github.com/absmach/routemq/storage"
	"github.com/absmach/routemq/topics"
)

var (
	_ session.Handler         = (*Broker)(nil)
	_ session.TrafficObserver = (*Broker)(nil)
	_ queue.Observer          = (*Broker)(nil)
)

// HandlePayload routes one payload received from c. Requests are answered
// with Ok or Error carrying the request id; Ack and Nack are not answered.
func (b *Broker) HandlePayload(c *session.Client, p packets.Payload) {
	b.stats.payloadsReceived.Add(1)
	b.metrics.RecordPayloadReceived(p.Kind())

	ctx := context.Background()
	var err error

	switch p := p.(type) {
	case *packets.Ack:
		c.OnPayloadAckReceived(p.ID)
		return
	case *packets.Nack:
		c.OnPayloadNackReceived(p.ID)
		return
	case *packets.Message:
		_, err = b.Publish(ctx, c.ID(), p)
	case *packets.SubscribeTopic:
		err = b.Subscribe(c, p.Topic)
	case *packets.UnsubscribeTopic:
		err = b.Unsubscribe(c, p.Topic)
	case *packets.TopicDeclare:
		_, err = b.DeclareTopic(ctx, p.Topic, p.Route)
	case *packets.TopicDelete:
		err = b.DeleteTopic(ctx, p.Topic)
	case *packets.ConfigureClient:
		err = c.SetMaxConcurrency(int(p.Prefetch))
	default:
		b.stats.protocolErrors.Add(1)
		b.metrics.RecordError("unexpected_kind")
		err = ErrUnexpectedKind
	}

	if err != nil {
		level := slog.LevelDebug
		if !isClientError(err) {
			level = slog.LevelWarn
		}
		b.logger.Log(ctx, level, "request failed",
			slog.String("client_id", c.ID().String()),
			slog.String("kind", p.Kind().String()),
			slog.String("error", err.Error()))
		b.reply(c, &packets.Error{ID: p.CorrelationID(), Message: err.Error()})
		return
	}
	b.reply(c, &packets.Ok{ID: p.CorrelationID()})
}

func (b *Broker) reply(c *session.Client, p packets.Payload) {
	s, err := packets.Encode(p)
	if err != nil {
		b.logger.Error("failed to encode reply",
			slog.String("kind", p.Kind().String()),
			slog.String("error", err.Error()))
		return
	}
	if err := c.EnqueueFireAndForget(s); err != nil {
		s.Release()
	}
}

// HandleDisconnect removes c from the registry and from every topic it
// subscribed to. Its failed tickets have already been requeued by their
// topics.
func (b *Broker) HandleDisconnect(c *session.Client) {
	b.mu.Lock()
	e, ok := b.clients[c.ID()]
	if ok {
		delete(b.clients, c.ID())
		for name := range e.subs {
			if t, ok := b.topics[name]; ok {
				t.ClientUnsubscribed(c.ID())
			}
		}
	}
	closing := b.closing
	b.mu.Unlock()

	if !ok {
		return
	}

	for range e.subs {
		b.metrics.RecordSubscriptionRemoved()
	}
	b.limiter.OnClientDisconnect(c.ID())
	b.stats.disconnected()
	b.metrics.RecordDisconnection()

	reason := "normal"
	if closing {
		reason = "shutdown"
	}
	b.logger.Debug("client disconnected",
		slog.String("client_id", c.ID().String()),
		slog.String("reason", reason),
		slog.Int("subscriptions", len(e.subs)))
	b.notify(events.ClientDisconnected{
		ClientID:   c.ID().String(),
		RemoteAddr: c.RemoteAddr(),
		Reason:     reason,
	})
}

// FrameReceived implements session.TrafficObserver.
func (b *Broker) FrameReceived(_ *session.Client, size int) {
	b.stats.bytesReceived.Add(uint64(size))
	b.metrics.RecordBytesReceived(size)
}

// FrameSent implements session.TrafficObserver.
func (b *Broker) FrameSent(_ *session.Client, kind packets.Kind, size int) {
	b.stats.payloadsSent.Add(1)
	b.stats.bytesSent.Add(uint64(size))
	b.metrics.RecordPayloadSent(kind, size)
}

// Dispatched implements queue.Observer.
func (b *Broker) Dispatched(topic string, redelivery bool) {
	b.stats.dispatched.Add(1)
	if redelivery {
		b.stats.redelivered.Add(1)
	}
	b.metrics.Dispatched(topic, redelivery)
}

// Acked implements queue.Observer.
func (b *Broker) Acked(topic string) {
	b.stats.acked.Add(1)
	b.metrics.Acked(topic)
}

// Nacked implements queue.Observer.
func (b *Broker) Nacked(topic string) {
	b.stats.nacked.Add(1)
	b.metrics.Nacked(topic)
}

// DeadLettered implements queue.Observer.
func (b *Broker) DeadLettered(dl *storage.DeadLetter) {
	b.stats.deadLettered.Add(1)
	b.metrics.DeadLettered(dl)
	b.logger.Warn("message dead-lettered",
		slog.String("topic", dl.Message.Topic),
		slog.String("message_id", dl.Message.ID.String()),
		slog.Int("deliveries", dl.Deliveries),
		slog.String("reason", dl.Reason))
	b.notify(events.MessageDeadLettered{
		MessageID:  dl.Message.ID.String(),
		TopicName:  dl.Message.Topic,
		Route:      dl.Message.Route,
		Deliveries: dl.Deliveries,
		Reason:     dl.Reason,
		DataSize:   len(dl.Message.Data),
		Data:       dl.Message.Data,
	})
}

// isClientError reports errors caused by the request rather than the broker.
func isClientError(err error) bool {
	return errors.Is(err, ErrNoMatchingTopic) ||
		errors.Is(err, ErrTopicNotFound) ||
		errors.Is(err, ErrTopicConflict) ||
		errors.Is(err, ErrTopicDeleting) ||
		errors.Is(err, ErrNotSubscribed) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrUnexpectedKind) ||
		errors.Is(err, topics.ErrInvalidName) ||
		errors.Is(err, topics.ErrInvalidRoute) ||
		errors.Is(err, topics.ErrInvalidPattern) ||
		errors.Is(err, session.ErrInvalidConcurrency)
}
