// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package badger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/absmach/routemq/storage"
	"github.com/dgraph-io/badger/v4"
)

var (
	_ storage.TopicStore      = (*TopicStore)(nil)
	_ storage.DeadLetterStore = (*DeadLetterStore)(nil)
)

const (
	topicPrefix      = "topic/"
	deadLetterPrefix = "dlq/"
)

// TopicStore implements storage.TopicStore using BadgerDB.
type TopicStore struct {
	db *badger.DB
}

// NewTopicStore creates a new BadgerDB topic store.
func NewTopicStore(db *badger.DB) *TopicStore {
	return &TopicStore{db: db}
}

// Save stores or replaces a declaration.
func (s *TopicStore) Save(_ context.Context, t *storage.Topic) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal topic: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(topicPrefix+t.Name), data)
	})
}

// Delete removes a declaration.
func (s *TopicStore) Delete(_ context.Context, name string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(topicPrefix + name))
	})
}

// List returns every declaration in key order.
func (s *TopicStore) List(_ context.Context) ([]*storage.Topic, error) {
	var topics []*storage.Topic
	err := iterateJSON(s.db, []byte(topicPrefix), func(val []byte) error {
		var t storage.Topic
		if err := json.Unmarshal(val, &t); err != nil {
			return err
		}
		topics = append(topics, &t)
		return nil
	})
	return topics, err
}

// DeadLetterStore implements storage.DeadLetterStore using BadgerDB.
type DeadLetterStore struct {
	db *badger.DB
}

// NewDeadLetterStore creates a new BadgerDB dead-letter store.
func NewDeadLetterStore(db *badger.DB) *DeadLetterStore {
	return &DeadLetterStore{db: db}
}

// Add stores a dead letter under its message id.
func (s *DeadLetterStore) Add(_ context.Context, dl *storage.DeadLetter) error {
	data, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}
	key := deadLetterPrefix + dl.Message.Topic + "/" + dl.Message.ID.String()
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

// List returns the dead letters of topic in id order.
func (s *DeadLetterStore) List(_ context.Context, topic string) ([]*storage.DeadLetter, error) {
	var letters []*storage.DeadLetter
	err := iterateJSON(s.db, []byte(deadLetterPrefix+topic+"/"), func(val []byte) error {
		var dl storage.DeadLetter
		if err := json.Unmarshal(val, &dl); err != nil {
			return err
		}
		letters = append(letters, &dl)
		return nil
	})
	return letters, err
}

func iterateJSON(db *badger.DB, prefix []byte, fn func(val []byte) error) error {
	return db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := it.Item().Value(fn); err != nil {
				return fmt.Errorf("failed to unmarshal %s: %w", it.Item().Key(), err)
			}
		}
		return nil
	})
}
