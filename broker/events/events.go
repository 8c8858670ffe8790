// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event type constants.
const (
	TypeClientConnected     = "client.connected"
	TypeClientDisconnected  = "client.disconnected"
	TypeTopicDeclared       = "topic.declared"
	TypeTopicDeleted        = "topic.deleted"
	TypeSubscriptionCreated = "subscription.created"
	TypeSubscriptionRemoved = "subscription.removed"
	TypeMessageDeadLettered = "message.dead_lettered"
)

// Event is the common interface for all webhook events.
type Event interface {
	// Type returns the event type identifier (e.g., "client.connected").
	Type() string

	// Topic returns the topic name the event concerns, empty for client events.
	Topic() string
}

// PayloadCarrier is implemented by events that may embed message data.
type PayloadCarrier interface {
	Event
	WithoutPayload() Event
}

// Envelope is the common wrapper for all webhook events.
type Envelope struct {
	EventType string `json:"event_type"`
	EventID   string `json:"event_id"`
	Timestamp string `json:"timestamp"`
	BrokerID  string `json:"broker_id"`
	Data      Event  `json:"data"`
}

// Wrap wraps the event in an envelope with a fresh id and the current time.
func Wrap(e Event, brokerID string) *Envelope {
	return &Envelope{
		EventType: e.Type(),
		EventID:   uuid.New().String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		BrokerID:  brokerID,
		Data:      e,
	}
}

// MarshalJSON serializes the envelope to JSON.
func (e *Envelope) MarshalJSON() ([]byte, error) {
	type plain Envelope
	return json.Marshal((*plain)(e))
}

// ClientConnected is emitted when a client connection is accepted.
type ClientConnected struct {
	ClientID   string `json:"client_id"`
	Transport  string `json:"transport"` // "tcp" or "websocket"
	RemoteAddr string `json:"remote_addr"`
}

func (e ClientConnected) Type() string  { return TypeClientConnected }
func (e ClientConnected) Topic() string { return "" }

// ClientDisconnected is emitted when a client goes away.
type ClientDisconnected struct {
	ClientID   string `json:"client_id"`
	RemoteAddr string `json:"remote_addr"`
	Reason     string `json:"reason"` // "normal", "error" or "shutdown"
}

func (e ClientDisconnected) Type() string  { return TypeClientDisconnected }
func (e ClientDisconnected) Topic() string { return "" }

// TopicDeclared is emitted when a new topic is created.
type TopicDeclared struct {
	Name  string `json:"name"`
	Route string `json:"route"`
}

func (e TopicDeclared) Type() string  { return TypeTopicDeclared }
func (e TopicDeclared) Topic() string { return e.Name }

// TopicDeleted is emitted when a topic and its stored messages are removed.
type TopicDeleted struct {
	Name string `json:"name"`
}

func (e TopicDeleted) Type() string  { return TypeTopicDeleted }
func (e TopicDeleted) Topic() string { return e.Name }

// SubscriptionCreated is emitted when a client subscribes to a topic.
type SubscriptionCreated struct {
	ClientID  string `json:"client_id"`
	TopicName string `json:"topic"`
}

func (e SubscriptionCreated) Type() string  { return TypeSubscriptionCreated }
func (e SubscriptionCreated) Topic() string { return e.TopicName }

// SubscriptionRemoved is emitted when a client unsubscribes from a topic.
type SubscriptionRemoved struct {
	ClientID  string `json:"client_id"`
	TopicName string `json:"topic"`
}

func (e SubscriptionRemoved) Type() string  { return TypeSubscriptionRemoved }
func (e SubscriptionRemoved) Topic() string { return e.TopicName }

// MessageDeadLettered is emitted when a message exhausts its delivery attempts.
type MessageDeadLettered struct {
	MessageID  string `json:"message_id"`
	TopicName  string `json:"topic"`
	Route      string `json:"route"`
	Deliveries int    `json:"deliveries"`
	Reason     string `json:"reason"`
	DataSize   int    `json:"data_size"`
	Data       []byte `json:"data,omitempty"` // base64 in JSON
}

func (e MessageDeadLettered) Type() string  { return TypeMessageDeadLettered }
func (e MessageDeadLettered) Topic() string { return e.TopicName }

// WithoutPayload returns a copy with the message data removed.
func (e MessageDeadLettered) WithoutPayload() Event {
	e.Data = nil
	return e
}
