// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"sync/atomic"
	"time"
)

// Stats tracks broker counters.
type Stats struct {
	startTime time.Time

	// Connection stats
	totalConnections   atomic.Uint64
	currentConnections atomic.Int64

	// Payload stats
	payloadsReceived atomic.Uint64
	payloadsSent     atomic.Uint64
	bytesReceived    atomic.Uint64
	bytesSent        atomic.Uint64

	// Delivery stats
	published    atomic.Uint64
	dispatched   atomic.Uint64
	redelivered  atomic.Uint64
	acked        atomic.Uint64
	nacked       atomic.Uint64
	deadLettered atomic.Uint64

	// Error stats
	protocolErrors atomic.Uint64
	publishErrors  atomic.Uint64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Uptime             time.Duration `json:"uptime"`
	TotalConnections   uint64        `json:"total_connections"`
	CurrentConnections int64         `json:"current_connections"`
	PayloadsReceived   uint64        `json:"payloads_received"`
	PayloadsSent       uint64        `json:"payloads_sent"`
	BytesReceived      uint64        `json:"bytes_received"`
	BytesSent          uint64        `json:"bytes_sent"`
	Published          uint64        `json:"published"`
	Dispatched         uint64        `json:"dispatched"`
	Redelivered        uint64        `json:"redelivered"`
	Acked              uint64        `json:"acked"`
	Nacked             uint64        `json:"nacked"`
	DeadLettered       uint64        `json:"dead_lettered"`
	ProtocolErrors     uint64        `json:"protocol_errors"`
	PublishErrors      uint64        `json:"publish_errors"`
}

// NewStats creates a new Stats instance.
func NewStats() *Stats {
	return &Stats{startTime: time.Now()}
}

// Snapshot returns the current counter values.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Uptime:             time.Since(s.startTime),
		TotalConnections:   s.totalConnections.Load(),
		CurrentConnections: s.currentConnections.Load(),
		PayloadsReceived:   s.payloadsReceived.Load(),
		PayloadsSent:       s.payloadsSent.Load(),
		BytesReceived:      s.bytesReceived.Load(),
		BytesSent:          s.bytesSent.Load(),
		Published:          s.published.Load(),
		Dispatched:         s.dispatched.Load(),
		Redelivered:        s.redelivered.Load(),
		Acked:              s.acked.Load(),
		Nacked:             s.nacked.Load(),
		DeadLettered:       s.deadLettered.Load(),
		ProtocolErrors:     s.protocolErrors.Load(),
		PublishErrors:      s.publishErrors.Load(),
	}
}

func (s *Stats) connected() {
	s.totalConnections.Add(1)
	s.currentConnections.Add(1)
}

func (s *Stats) disconnected() {
	s.currentConnections.Add(-1)
}
