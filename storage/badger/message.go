// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/absmach/routemq/storage"
	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

var _ storage.MessageStore = (*MessageStore)(nil)

const messagePrefix = "msg/"

// MessageStore implements storage.MessageStore using BadgerDB.
type MessageStore struct {
	db *badger.DB
}

// NewMessageStore creates a new BadgerDB message store.
func NewMessageStore(db *badger.DB) *MessageStore {
	return &MessageStore{db: db}
}

func messageTopicPrefix(topic string) []byte {
	return []byte(messagePrefix + topic + "/")
}

func messageKey(topic string, id uuid.UUID) []byte {
	return []byte(messagePrefix + topic + "/" + id.String())
}

// Add stores msg as JSON.
func (m *MessageStore) Add(_ context.Context, msg *storage.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	return m.db.Update(func(txn *badger.Txn) error {
		return txn.Set(messageKey(msg.Topic, msg.ID), data)
	})
}

// Get retrieves a message.
func (m *MessageStore) Get(_ context.Context, topic string, id uuid.UUID) (*storage.Message, error) {
	var msg *storage.Message

	err := m.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(messageKey(topic, id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return storage.ErrNotFound
			}
			return err
		}

		return item.Value(func(val []byte) error {
			msg = &storage.Message{}
			return json.Unmarshal(val, msg)
		})
	})
	if err != nil {
		return nil, err
	}

	return msg, nil
}

// Delete removes a message.
func (m *MessageStore) Delete(_ context.Context, topic string, id uuid.UUID) error {
	return m.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(messageKey(topic, id))
	})
}

// List returns the ids of topic in key order.
func (m *MessageStore) List(ctx context.Context, topic string) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	prefix := messageTopicPrefix(topic)

	err := m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			key := it.Item().Key()
			id, err := uuid.ParseBytes(key[len(prefix):])
			if err != nil {
				return fmt.Errorf("invalid message key %q: %w", key, err)
			}
			ids = append(ids, id)
		}
		return nil
	})

	return ids, err
}

// DeleteTopic removes all messages of topic.
func (m *MessageStore) DeleteTopic(_ context.Context, topic string) error {
	return deleteByPrefix(m.db, messageTopicPrefix(topic))
}

// deleteByPrefix removes every key under prefix. Deletes go through a
// WriteBatch, which commits in as many transactions as needed, so a large
// backlog never exceeds a single transaction's size limit.
func deleteByPrefix(db *badger.DB, prefix []byte) error {
	var keys [][]byte
	err := db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	wb := db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			return fmt.Errorf("failed to delete %q: %w", key, err)
		}
	}
	return wb.Flush()
}
