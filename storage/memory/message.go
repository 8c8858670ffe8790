// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"sync"

	"github.com/absmach/routemq/storage"
	"github.com/google/uuid"
)

var _ storage.MessageStore = (*MessageStore)(nil)

// topicLog keeps insertion order. Deleted ids stay in order until enough of
// them pile up to be worth compacting.
type topicLog struct {
	order   []uuid.UUID
	msgs    map[uuid.UUID]*storage.Message
	removed int
}

// MessageStore is an in-memory implementation of storage.MessageStore.
type MessageStore struct {
	mu     sync.RWMutex
	topics map[string]*topicLog
}

// NewMessageStore creates a new in-memory message store.
func NewMessageStore() *MessageStore {
	return &MessageStore{topics: make(map[string]*topicLog)}
}

// Add stores a copy of msg.
func (s *MessageStore) Add(_ context.Context, msg *storage.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tl, ok := s.topics[msg.Topic]
	if !ok {
		tl = &topicLog{msgs: make(map[uuid.UUID]*storage.Message)}
		s.topics[msg.Topic] = tl
	}
	if _, exists := tl.msgs[msg.ID]; !exists {
		tl.order = append(tl.order, msg.ID)
	}
	tl.msgs[msg.ID] = copyMessage(msg)
	return nil
}

// Delete removes a message.
func (s *MessageStore) Delete(_ context.Context, topic string, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tl, ok := s.topics[topic]
	if !ok {
		return nil
	}
	if _, ok := tl.msgs[id]; !ok {
		return nil
	}
	delete(tl.msgs, id)
	tl.removed++
	if tl.removed > 32 && tl.removed*2 > len(tl.order) {
		tl.compact()
	}
	return nil
}

// Get returns a copy of the stored message.
func (s *MessageStore) Get(_ context.Context, topic string, id uuid.UUID) (*storage.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tl, ok := s.topics[topic]
	if !ok {
		return nil, storage.ErrNotFound
	}
	msg, ok := tl.msgs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyMessage(msg), nil
}

// List returns the live ids of topic in insertion order.
func (s *MessageStore) List(_ context.Context, topic string) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tl, ok := s.topics[topic]
	if !ok {
		return nil, nil
	}
	ids := make([]uuid.UUID, 0, len(tl.msgs))
	for _, id := range tl.order {
		if _, ok := tl.msgs[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// DeleteTopic drops every message of topic.
func (s *MessageStore) DeleteTopic(_ context.Context, topic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.topics, topic)
	return nil
}

func (tl *topicLog) compact() {
	order := make([]uuid.UUID, 0, len(tl.msgs))
	for _, id := range tl.order {
		if _, ok := tl.msgs[id]; ok {
			order = append(order, id)
		}
	}
	tl.order = order
	tl.removed = 0
}

func copyMessage(m *storage.Message) *storage.Message {
	cp := *m
	if m.Data != nil {
		cp.Data = append([]byte(nil), m.Data...)
	}
	return &cp
}
