// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap(t *testing.T) {
	env := Wrap(TopicDeclared{Name: "orders", Route: "shop/orders"}, "routemq-1")

	assert.Equal(t, TypeTopicDeclared, env.EventType)
	assert.Equal(t, "routemq-1", env.BrokerID)
	assert.NotEmpty(t, env.EventID)
	assert.NotEmpty(t, env.Timestamp)

	raw, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "topic.declared", decoded["event_type"])
	data := decoded["data"].(map[string]any)
	assert.Equal(t, "orders", data["name"])
	assert.Equal(t, "shop/orders", data["route"])
}

func TestEventTopics(t *testing.T) {
	cases := []struct {
		ev    Event
		typ   string
		topic string
	}{
		{ClientConnected{ClientID: "c"}, TypeClientConnected, ""},
		{ClientDisconnected{ClientID: "c"}, TypeClientDisconnected, ""},
		{TopicDeclared{Name: "t"}, TypeTopicDeclared, "t"},
		{TopicDeleted{Name: "t"}, TypeTopicDeleted, "t"},
		{SubscriptionCreated{TopicName: "t"}, TypeSubscriptionCreated, "t"},
		{SubscriptionRemoved{TopicName: "t"}, TypeSubscriptionRemoved, "t"},
		{MessageDeadLettered{TopicName: "t"}, TypeMessageDeadLettered, "t"},
	}
	for _, c := range cases {
		assert.Equal(t, c.typ, c.ev.Type())
		assert.Equal(t, c.topic, c.ev.Topic())
	}
}

func TestWithoutPayload(t *testing.T) {
	ev := MessageDeadLettered{TopicName: "t", Data: []byte("secret"), DataSize: 6}

	stripped := ev.WithoutPayload().(MessageDeadLettered)
	assert.Nil(t, stripped.Data)
	assert.Equal(t, 6, stripped.DataSize)
	assert.Equal(t, []byte("secret"), ev.Data)
}
