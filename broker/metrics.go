// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"github.com/absmach/routemq/packets"
	"github.com/absmach/routemq/queue"
	"github.com/absmach/routemq/storage"
)

// Metrics receives broker instrumentation. It is implemented by the
// OpenTelemetry instruments in server/otel.
type Metrics interface {
	queue.Observer

	RecordConnection(transport string)
	RecordDisconnection()
	RecordBytesReceived(size int)
	RecordPayloadReceived(kind packets.Kind)
	RecordPayloadSent(kind packets.Kind, size int)
	RecordPublish(size int, durationMs float64)
	RecordSubscriptionAdded()
	RecordSubscriptionRemoved()
	RecordTopicDeclared()
	RecordTopicDeleted()
	RecordError(errorType string)
}

type nopMetrics struct{}

func (nopMetrics) Dispatched(string, bool)             {}
func (nopMetrics) Acked(string)                        {}
func (nopMetrics) Nacked(string)                       {}
func (nopMetrics) DeadLettered(*storage.DeadLetter)    {}
func (nopMetrics) RecordConnection(string)             {}
func (nopMetrics) RecordDisconnection()                {}
func (nopMetrics) RecordBytesReceived(int)             {}
func (nopMetrics) RecordPayloadReceived(packets.Kind)  {}
func (nopMetrics) RecordPayloadSent(packets.Kind, int) {}
func (nopMetrics) RecordPublish(int, float64)          {}
func (nopMetrics) RecordSubscriptionAdded()            {}
func (nopMetrics) RecordSubscriptionRemoved()          {}
func (nopMetrics) RecordTopicDeclared()                {}
func (nopMetrics) RecordTopicDeleted()                 {}
func (nopMetrics) RecordError(string)                  {}
