// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package storage defines the durable state of the broker: accepted topic
// messages, topic declarations and dead letters.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Common errors.
var (
	ErrNotFound = errors.New("not found")
	ErrClosed   = errors.New("store closed")
)

// Store is the composite storage interface providing access to all storage backends.
type Store interface {
	// Messages returns the per-topic message store.
	Messages() MessageStore

	// Topics returns the topic declaration store.
	Topics() TopicStore

	// DeadLetters returns the dead-letter store.
	DeadLetters() DeadLetterStore

	// Close closes all storage backends.
	Close() error
}

// Message is a topic-scoped copy of a published message. It is stored
// from the moment a topic accepts it until a subscriber acks it.
type Message struct {
	ID        uuid.UUID `json:"id"`
	Topic     string    `json:"topic"`
	Route     string    `json:"route"`
	Data      []byte    `json:"data"`
	CreatedAt time.Time `json:"created_at"`
}

// Topic is a persisted topic declaration.
type Topic struct {
	Name      string    `json:"name"`
	Route     string    `json:"route"`
	CreatedAt time.Time `json:"created_at"`
}

// DeadLetter is a message that exceeded its delivery ceiling.
type DeadLetter struct {
	Message    Message   `json:"message"`
	Deliveries int       `json:"deliveries"`
	Reason     string    `json:"reason"`
	FailedAt   time.Time `json:"failed_at"`
}

// MessageStore holds pending messages per topic.
type MessageStore interface {
	// Add persists msg. Adding an existing id overwrites it.
	Add(ctx context.Context, msg *Message) error

	// Delete removes a message. Deleting a missing id is not an error.
	Delete(ctx context.Context, topic string, id uuid.UUID) error

	// Get returns the message or ErrNotFound.
	Get(ctx context.Context, topic string, id uuid.UUID) (*Message, error)

	// List returns the ids stored for topic in insertion order.
	List(ctx context.Context, topic string) ([]uuid.UUID, error)

	// DeleteTopic removes every message of topic.
	DeleteTopic(ctx context.Context, topic string) error
}

// TopicStore holds topic declarations so they survive restarts.
type TopicStore interface {
	Save(ctx context.Context, t *Topic) error
	Delete(ctx context.Context, name string) error
	List(ctx context.Context) ([]*Topic, error)
}

// DeadLetterStore holds messages that were given up on.
type DeadLetterStore interface {
	Add(ctx context.Context, dl *DeadLetter) error
	List(ctx context.Context, topic string) ([]*DeadLetter, error)
}
