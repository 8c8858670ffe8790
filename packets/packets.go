// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package packets defines the payload kinds exchanged between clients and
// the broker and their wire encoding.
package packets

import (
	"errors"
	"fmt"

	"github.com/absmach/routemq/codec"
	"github.com/google/uuid"
)

// ErrUnknownKind is returned when a frame carries an unknown payload tag.
var ErrUnknownKind = errors.New("unknown payload kind")

// Kind is the payload-type tag leading every frame.
type Kind int32

// Payload kinds. Values are part of the wire format.
const (
	KindMessage Kind = iota + 1
	KindTopicMessage
	KindAck
	KindNack
	KindOk
	KindError
	KindSubscribeTopic
	KindUnsubscribeTopic
	KindTopicDeclare
	KindTopicDelete
	KindConfigureClient
)

var kindNames = map[Kind]string{
	KindMessage:          "Message",
	KindTopicMessage:     "TopicMessage",
	KindAck:              "Ack",
	KindNack:             "Nack",
	KindOk:               "Ok",
	KindError:            "Error",
	KindSubscribeTopic:   "SubscribeTopic",
	KindUnsubscribeTopic: "UnsubscribeTopic",
	KindTopicDeclare:     "TopicDeclare",
	KindTopicDelete:      "TopicDelete",
	KindConfigureClient:  "ConfigureClient",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int32(k))
}

// RequiresConfirmation reports whether payloads of this kind are tracked
// until the receiver acks or nacks them.
func (k Kind) RequiresConfirmation() bool {
	return k == KindTopicMessage
}

// Payload is a decoded, typed frame.
type Payload interface {
	Kind() Kind
	// CorrelationID identifies the payload; replies carry the id of the
	// request they answer.
	CorrelationID() uuid.UUID

	encode(w *codec.Writer)
	decode(r *codec.Reader) error
}

// Message is published by a client and routed to every matching topic.
type Message struct {
	ID    uuid.UUID
	Route string
	Data  []byte
}

// TopicMessage is a topic-scoped copy of a Message delivered to a subscriber.
type TopicMessage struct {
	ID    uuid.UUID
	Topic string
	Route string
	Data  []byte
}

// Ack confirms a TopicMessage was consumed.
type Ack struct {
	ID uuid.UUID
}

// Nack rejects a TopicMessage; it is redelivered.
type Nack struct {
	ID uuid.UUID
}

// Ok is the positive reply to a request.
type Ok struct {
	ID uuid.UUID
}

// Error is the negative reply to a request.
type Error struct {
	ID      uuid.UUID
	Message string
}

// SubscribeTopic attaches the sender to a topic's subscriber set.
type SubscribeTopic struct {
	ID    uuid.UUID
	Topic string
}

// UnsubscribeTopic detaches the sender from a topic.
type UnsubscribeTopic struct {
	ID    uuid.UUID
	Topic string
}

// TopicDeclare creates a topic bound to a route pattern.
type TopicDeclare struct {
	ID    uuid.UUID
	Topic string
	Route string
}

// TopicDelete removes a topic and its pending messages.
type TopicDelete struct {
	ID    uuid.UUID
	Topic string
}

// ConfigureClient sets how many unacknowledged deliveries the sender accepts.
type ConfigureClient struct {
	ID       uuid.UUID
	Prefetch int32
}

func (p *Message) Kind() Kind          { return KindMessage }
func (p *TopicMessage) Kind() Kind     { return KindTopicMessage }
func (p *Ack) Kind() Kind              { return KindAck }
func (p *Nack) Kind() Kind             { return KindNack }
func (p *Ok) Kind() Kind               { return KindOk }
func (p *Error) Kind() Kind            { return KindError }
func (p *SubscribeTopic) Kind() Kind   { return KindSubscribeTopic }
func (p *UnsubscribeTopic) Kind() Kind { return KindUnsubscribeTopic }
func (p *TopicDeclare) Kind() Kind     { return KindTopicDeclare }
func (p *TopicDelete) Kind() Kind      { return KindTopicDelete }
func (p *ConfigureClient) Kind() Kind  { return KindConfigureClient }

func (p *Message) CorrelationID() uuid.UUID          { return p.ID }
func (p *TopicMessage) CorrelationID() uuid.UUID     { return p.ID }
func (p *Ack) CorrelationID() uuid.UUID              { return p.ID }
func (p *Nack) CorrelationID() uuid.UUID             { return p.ID }
func (p *Ok) CorrelationID() uuid.UUID               { return p.ID }
func (p *Error) CorrelationID() uuid.UUID            { return p.ID }
func (p *SubscribeTopic) CorrelationID() uuid.UUID   { return p.ID }
func (p *UnsubscribeTopic) CorrelationID() uuid.UUID { return p.ID }
func (p *TopicDeclare) CorrelationID() uuid.UUID     { return p.ID }
func (p *TopicDelete) CorrelationID() uuid.UUID      { return p.ID }
func (p *ConfigureClient) CorrelationID() uuid.UUID  { return p.ID }

// New returns an empty payload of the given kind.
func New(k Kind) (Payload, error) {
	switch k {
	case KindMessage:
		return &Message{}, nil
	case KindTopicMessage:
		return &TopicMessage{}, nil
	case KindAck:
		return &Ack{}, nil
	case KindNack:
		return &Nack{}, nil
	case KindOk:
		return &Ok{}, nil
	case KindError:
		return &Error{}, nil
	case KindSubscribeTopic:
		return &SubscribeTopic{}, nil
	case KindUnsubscribeTopic:
		return &UnsubscribeTopic{}, nil
	case KindTopicDeclare:
		return &TopicDeclare{}, nil
	case KindTopicDelete:
		return &TopicDelete{}, nil
	case KindConfigureClient:
		return &ConfigureClient{}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, int32(k))
	}
}
