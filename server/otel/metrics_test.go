// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package otel

import (
	"context"
	"testing"

	"github.com/absmach/routemq/packets"
	"github.com/absmach/routemq/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, r *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, r.Collect(context.Background(), &rm))

	sums := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if s, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range s.DataPoints {
					sums[m.Name] += dp.Value
				}
			}
		}
	}
	return sums
}

func TestMetricsRecord(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background())

	m, err := NewMetricsWithProvider(mp)
	require.NoError(t, err)

	m.RecordConnection("tcp")
	m.RecordConnection("websocket")
	m.RecordDisconnection()
	m.RecordBytesReceived(40)
	m.RecordPayloadReceived(packets.KindMessage)
	m.RecordPayloadSent(packets.KindTopicMessage, 60)
	m.RecordPublish(10, 0.5)
	m.Dispatched("T", false)
	m.Dispatched("T", true)
	m.Acked("T")
	m.Nacked("T")
	m.DeadLettered(&storage.DeadLetter{Message: storage.Message{Topic: "T"}})
	m.RecordSubscriptionAdded()
	m.RecordTopicDeclared()
	m.RecordError("decode")

	got := collect(t, reader)
	assert.Equal(t, int64(2), got["routemq.connections.total"])
	assert.Equal(t, int64(1), got["routemq.connections.current"])
	assert.Equal(t, int64(40), got["routemq.bytes.received.total"])
	assert.Equal(t, int64(1), got["routemq.payloads.received.total"])
	assert.Equal(t, int64(1), got["routemq.payloads.sent.total"])
	assert.Equal(t, int64(60), got["routemq.bytes.sent.total"])
	assert.Equal(t, int64(2), got["routemq.deliveries.total"])
	assert.Equal(t, int64(1), got["routemq.redeliveries.total"])
	assert.Equal(t, int64(1), got["routemq.acks.total"])
	assert.Equal(t, int64(1), got["routemq.nacks.total"])
	assert.Equal(t, int64(1), got["routemq.dead_letters.total"])
	assert.Equal(t, int64(1), got["routemq.subscriptions.active"])
	assert.Equal(t, int64(1), got["routemq.topics.declared"])
	assert.Equal(t, int64(1), got["routemq.errors.total"])
}
