// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package otel

import (
	"context"
	"fmt"

	"github.com/absmach/routemq/packets"
	"github.com/absmach/routemq/queue"
	"github.com/absmach/routemq/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope of broker metrics.
const MeterName = "routemq"

var _ queue.Observer = (*Metrics)(nil)

// Metrics holds OpenTelemetry metric instruments for the broker.
type Metrics struct {
	meter metric.Meter

	// Counters
	connectionsTotal    metric.Int64Counter
	disconnectionsTotal metric.Int64Counter
	payloadsReceived    metric.Int64Counter
	payloadsSent        metric.Int64Counter
	bytesReceived       metric.Int64Counter
	bytesSent           metric.Int64Counter
	dispatched          metric.Int64Counter
	redeliveries        metric.Int64Counter
	acks                metric.Int64Counter
	nacks               metric.Int64Counter
	deadLetters         metric.Int64Counter
	errorsTotal         metric.Int64Counter

	// UpDownCounters (Gauges)
	connectionsCurrent  metric.Int64UpDownCounter
	subscriptionsActive metric.Int64UpDownCounter
	topicsDeclared      metric.Int64UpDownCounter

	// Histograms
	messageSize     metric.Int64Histogram
	publishDuration metric.Float64Histogram
}

// NewMetrics creates instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsWithProvider(otel.GetMeterProvider())
}

// NewMetricsWithProvider creates instruments on mp.
func NewMetricsWithProvider(mp metric.MeterProvider) (*Metrics, error) {
	m := &Metrics{meter: mp.Meter(MeterName)}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.connectionsTotal, "routemq.connections.total", "Total number of client connections"},
		{&m.disconnectionsTotal, "routemq.disconnections.total", "Total number of client disconnections"},
		{&m.payloadsReceived, "routemq.payloads.received.total", "Total payloads received from clients"},
		{&m.payloadsSent, "routemq.payloads.sent.total", "Total payloads sent to clients"},
		{&m.bytesReceived, "routemq.bytes.received.total", "Total bytes received"},
		{&m.bytesSent, "routemq.bytes.sent.total", "Total bytes sent"},
		{&m.dispatched, "routemq.deliveries.total", "Total topic messages handed to subscribers"},
		{&m.redeliveries, "routemq.redeliveries.total", "Total deliveries of a previously delivered message"},
		{&m.acks, "routemq.acks.total", "Total deliveries acknowledged"},
		{&m.nacks, "routemq.nacks.total", "Total deliveries rejected or lost"},
		{&m.deadLetters, "routemq.dead_letters.total", "Total messages moved to the dead-letter store"},
		{&m.errorsTotal, "routemq.errors.total", "Total errors by type"},
	}
	for _, c := range counters {
		inst, err := m.meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
		*c.dst = inst
	}

	var err error
	m.connectionsCurrent, err = m.meter.Int64UpDownCounter(
		"routemq.connections.current",
		metric.WithDescription("Current number of active connections"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create connectionsCurrent gauge: %w", err)
	}

	m.subscriptionsActive, err = m.meter.Int64UpDownCounter(
		"routemq.subscriptions.active",
		metric.WithDescription("Number of active topic subscriptions"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscriptionsActive gauge: %w", err)
	}

	m.topicsDeclared, err = m.meter.Int64UpDownCounter(
		"routemq.topics.declared",
		metric.WithDescription("Number of declared topics"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create topicsDeclared gauge: %w", err)
	}

	m.messageSize, err = m.meter.Int64Histogram(
		"routemq.message.size.bytes",
		metric.WithDescription("Published message data size distribution"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create messageSize histogram: %w", err)
	}

	m.publishDuration, err = m.meter.Float64Histogram(
		"routemq.publish.duration.ms",
		metric.WithDescription("Publish processing duration in milliseconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create publishDuration histogram: %w", err)
	}

	return m, nil
}

// RecordConnection records a new connection.
func (m *Metrics) RecordConnection(transport string) {
	ctx := context.Background()
	m.connectionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("transport", transport)))
	m.connectionsCurrent.Add(ctx, 1)
}

// RecordDisconnection records a disconnection.
func (m *Metrics) RecordDisconnection() {
	ctx := context.Background()
	m.disconnectionsTotal.Add(ctx, 1)
	m.connectionsCurrent.Add(ctx, -1)
}

// RecordBytesReceived records the size of one inbound frame.
func (m *Metrics) RecordBytesReceived(size int) {
	m.bytesReceived.Add(context.Background(), int64(size))
}

// RecordPayloadReceived records one decoded payload.
func (m *Metrics) RecordPayloadReceived(kind packets.Kind) {
	m.payloadsReceived.Add(context.Background(), 1, metric.WithAttributes(attribute.String("kind", kind.String())))
}

// RecordPayloadSent records one written frame.
func (m *Metrics) RecordPayloadSent(kind packets.Kind, size int) {
	ctx := context.Background()
	m.payloadsSent.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind.String())))
	m.bytesSent.Add(ctx, int64(size))
}

// RecordPublish records an accepted publish and how long routing took.
func (m *Metrics) RecordPublish(size int, durationMs float64) {
	ctx := context.Background()
	m.messageSize.Record(ctx, int64(size))
	m.publishDuration.Record(ctx, durationMs)
}

// RecordSubscriptionAdded records a new subscription.
func (m *Metrics) RecordSubscriptionAdded() {
	m.subscriptionsActive.Add(context.Background(), 1)
}

// RecordSubscriptionRemoved records a subscription removal.
func (m *Metrics) RecordSubscriptionRemoved() {
	m.subscriptionsActive.Add(context.Background(), -1)
}

// RecordTopicDeclared records a topic declaration.
func (m *Metrics) RecordTopicDeclared() {
	m.topicsDeclared.Add(context.Background(), 1)
}

// RecordTopicDeleted records a topic deletion.
func (m *Metrics) RecordTopicDeleted() {
	m.topicsDeclared.Add(context.Background(), -1)
}

// RecordError records an error by type.
func (m *Metrics) RecordError(errorType string) {
	m.errorsTotal.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("type", errorType),
	))
}

// Dispatched implements queue.Observer.
func (m *Metrics) Dispatched(topic string, redelivery bool) {
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("topic", topic))
	m.dispatched.Add(ctx, 1, attrs)
	if redelivery {
		m.redeliveries.Add(ctx, 1, attrs)
	}
}

// Acked implements queue.Observer.
func (m *Metrics) Acked(topic string) {
	m.acks.Add(context.Background(), 1, metric.WithAttributes(attribute.String("topic", topic)))
}

// Nacked implements queue.Observer.
func (m *Metrics) Nacked(topic string) {
	m.nacks.Add(context.Background(), 1, metric.WithAttributes(attribute.String("topic", topic)))
}

// DeadLettered implements queue.Observer.
func (m *Metrics) DeadLettered(dl *storage.DeadLetter) {
	m.deadLetters.Add(context.Background(), 1, metric.WithAttributes(attribute.String("topic", dl.Message.Topic)))
}
