// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"github.com/absmach/routemq/storage"
)

var _ storage.Store = (*Store)(nil)

// Store is the composite in-memory store.
type Store struct {
	messages    *MessageStore
	topics      *TopicStore
	deadLetters *DeadLetterStore
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		messages:    NewMessageStore(),
		topics:      NewTopicStore(),
		deadLetters: NewDeadLetterStore(),
	}
}

// Messages returns the message store.
func (s *Store) Messages() storage.MessageStore {
	return s.messages
}

// Topics returns the topic store.
func (s *Store) Topics() storage.TopicStore {
	return s.topics
}

// DeadLetters returns the dead-letter store.
func (s *Store) DeadLetters() storage.DeadLetterStore {
	return s.deadLetters
}

// Close closes all stores (no-op for memory).
func (s *Store) Close() error {
	return nil
}
