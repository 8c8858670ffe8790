// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package dispatcher selects the next subscriber able to accept a delivery.
package dispatcher

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Subscriber is the capacity view of a connected client.
type Subscriber interface {
	ID() uuid.UUID
	ReachedMaxConcurrency() bool
	IsClosed() bool
}

// Available reports whether s can take another delivery.
func Available[S Subscriber](s S) bool {
	return !s.IsClosed() && !s.ReachedMaxConcurrency()
}

// Dispatcher holds the subscribers of one topic. Reads work on an immutable
// snapshot, so NextAvailable never blocks Add or Remove.
type Dispatcher[S Subscriber] struct {
	mu       sync.Mutex // serializes writers
	snapshot atomic.Pointer[[]S]
	policy   Policy[S]
}

// New returns a dispatcher using p, or RoundRobin when p is nil.
func New[S Subscriber](p Policy[S]) *Dispatcher[S] {
	if p == nil {
		p = NewRoundRobin[S]()
	}
	d := &Dispatcher[S]{policy: p}
	empty := []S{}
	d.snapshot.Store(&empty)
	return d
}

// Add registers s. It returns false if a subscriber with the same id is
// already present.
func (d *Dispatcher[S]) Add(s S) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	cur := *d.snapshot.Load()
	for _, e := range cur {
		if e.ID() == s.ID() {
			return false
		}
	}
	next := make([]S, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, s)
	d.snapshot.Store(&next)
	return true
}

// Remove unregisters the subscriber with id. It returns false if absent.
func (d *Dispatcher[S]) Remove(id uuid.UUID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	cur := *d.snapshot.Load()
	for i, e := range cur {
		if e.ID() != id {
			continue
		}
		next := make([]S, 0, len(cur)-1)
		next = append(next, cur[:i]...)
		next = append(next, cur[i+1:]...)
		d.snapshot.Store(&next)
		return true
	}
	return false
}

// Len returns the number of registered subscribers.
func (d *Dispatcher[S]) Len() int {
	return len(*d.snapshot.Load())
}

// Subscribers returns the current snapshot. Callers must not modify it.
func (d *Dispatcher[S]) Subscribers() []S {
	return *d.snapshot.Load()
}

// NextAvailable returns a subscriber that is open and below its concurrency
// limit, or false if there is none.
func (d *Dispatcher[S]) NextAvailable() (S, bool) {
	return d.policy.Next(*d.snapshot.Load())
}
