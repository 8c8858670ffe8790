// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// pendingOp is a request waiting for its Ok or Error reply.
type pendingOp struct {
	id   uuid.UUID
	done chan struct{}
	err  error
}

// pendingStore correlates replies with outstanding requests.
type pendingStore struct {
	mu      sync.Mutex
	pending map[uuid.UUID]*pendingOp
}

func newPendingStore() *pendingStore {
	return &pendingStore{pending: make(map[uuid.UUID]*pendingOp)}
}

// add registers a new pending operation.
func (ps *pendingStore) add(id uuid.UUID) *pendingOp {
	op := &pendingOp{id: id, done: make(chan struct{})}
	ps.mu.Lock()
	ps.pending[id] = op
	ps.mu.Unlock()
	return op
}

// complete resolves the operation for id. Replies nobody waits for are
// ignored.
func (ps *pendingStore) complete(id uuid.UUID, err error) bool {
	ps.mu.Lock()
	op, exists := ps.pending[id]
	if exists {
		delete(ps.pending, id)
	}
	ps.mu.Unlock()

	if !exists {
		return false
	}
	op.err = err
	close(op.done)
	return true
}

// remove drops an operation without completing it.
func (ps *pendingStore) remove(id uuid.UUID) {
	ps.mu.Lock()
	delete(ps.pending, id)
	ps.mu.Unlock()
}

// clear fails every pending operation.
func (ps *pendingStore) clear(err error) {
	ps.mu.Lock()
	pending := ps.pending
	ps.pending = make(map[uuid.UUID]*pendingOp)
	ps.mu.Unlock()

	for _, op := range pending {
		op.err = err
		close(op.done)
	}
}

func (ps *pendingStore) count() int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return len(ps.pending)
}

// wait blocks until the reply arrives, ctx ends or timeout elapses.
func (op *pendingOp) wait(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-op.done:
		return op.err
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrTimeout
	}
}
