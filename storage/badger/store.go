// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package badger

import (
	"sync"
	"time"

	"github.com/absmach/routemq/storage"
	"github.com/dgraph-io/badger/v4"
)

var _ storage.Store = (*Store)(nil)

// DefaultGCInterval is how often the value log is garbage collected.
const DefaultGCInterval = 5 * time.Minute

// Store is the composite BadgerDB store implementing all storage interfaces.
//
// Key layout:
//   - msg/{topic}/{id}   pending message, ids are UUIDv7 so key order is time order
//   - topic/{name}       topic declaration
//   - dlq/{topic}/{id}   dead letter
type Store struct {
	db *badger.DB

	messages    *MessageStore
	topics      *TopicStore
	deadLetters *DeadLetterStore

	gcStopCh chan struct{}
	gcDone   chan struct{}
	closed   bool
	mu       sync.Mutex
}

// Config holds BadgerDB configuration.
type Config struct {
	Dir        string // Directory for BadgerDB data
	SyncWrites bool
	GCInterval time.Duration
	InMemory   bool // tests only
}

// New creates a new BadgerDB-backed store.
func New(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Dir)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil
	opts.SyncWrites = cfg.SyncWrites
	opts.NumVersionsToKeep = 1
	opts.NumCompactors = 2
	opts.NumLevelZeroTables = 5
	opts.NumLevelZeroTablesStall = 15

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	interval := cfg.GCInterval
	if interval <= 0 {
		interval = DefaultGCInterval
	}

	s := &Store{
		db:          db,
		messages:    NewMessageStore(db),
		topics:      NewTopicStore(db),
		deadLetters: NewDeadLetterStore(db),
		gcStopCh:    make(chan struct{}),
		gcDone:      make(chan struct{}),
	}

	go s.runGC(interval, cfg.InMemory)

	return s, nil
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

// Close stops GC and closes the database. It is idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.gcStopCh)
	<-s.gcDone

	return s.db.Close()
}

// runGC runs value log garbage collection periodically. In-memory databases
// have no value log.
func (s *Store) runGC(interval time.Duration, inMemory bool) {
	defer close(s.gcDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if inMemory {
				continue
			}
			// ErrNoRewrite just means nothing was worth reclaiming.
			_ = s.db.RunValueLogGC(0.5)
		case <-s.gcStopCh:
			// Skip a final GC, running it during close can corrupt the vlog.
			return
		}
	}
}
