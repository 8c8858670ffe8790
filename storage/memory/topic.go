// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/absmach/routemq/storage"
)

var (
	_ storage.TopicStore      = (*TopicStore)(nil)
	_ storage.DeadLetterStore = (*DeadLetterStore)(nil)
)

// TopicStore is an in-memory implementation of storage.TopicStore.
type TopicStore struct {
	mu     sync.RWMutex
	topics map[string]storage.Topic
}

// NewTopicStore creates a new in-memory topic store.
func NewTopicStore() *TopicStore {
	return &TopicStore{topics: make(map[string]storage.Topic)}
}

// Save stores or replaces a declaration.
func (s *TopicStore) Save(_ context.Context, t *storage.Topic) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topics[t.Name] = *t
	return nil
}

// Delete removes a declaration.
func (s *TopicStore) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.topics, name)
	return nil
}

// List returns every declaration sorted by name.
func (s *TopicStore) List(_ context.Context) ([]*storage.Topic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ret := make([]*storage.Topic, 0, len(s.topics))
	for _, t := range s.topics {
		t := t
		ret = append(ret, &t)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].Name < ret[j].Name })
	return ret, nil
}

// DeadLetterStore is an in-memory implementation of storage.DeadLetterStore.
type DeadLetterStore struct {
	mu      sync.RWMutex
	letters map[string][]storage.DeadLetter
}

// NewDeadLetterStore creates a new in-memory dead-letter store.
func NewDeadLetterStore() *DeadLetterStore {
	return &DeadLetterStore{letters: make(map[string][]storage.DeadLetter)}
}

// Add appends a dead letter.
func (s *DeadLetterStore) Add(_ context.Context, dl *storage.DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *dl
	cp.Message = *copyMessage(&dl.Message)
	s.letters[dl.Message.Topic] = append(s.letters[dl.Message.Topic], cp)
	return nil
}

// List returns the dead letters of topic in insertion order.
func (s *DeadLetterStore) List(_ context.Context, topic string) ([]*storage.DeadLetter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src := s.letters[topic]
	ret := make([]*storage.DeadLetter, len(src))
	for i := range src {
		dl := src[i]
		ret[i] = &dl
	}
	return ret, nil
}
