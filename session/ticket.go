// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// StatusHandler observes the outcome of a delivery. It is handed to the
// client at enqueue time so the ticket never points back at its issuer's
// owner.
type StatusHandler interface {
	OnStatusChanged(id uuid.UUID, ack bool)
}

// StatusHandlerFunc adapts a function to StatusHandler.
type StatusHandlerFunc func(id uuid.UUID, ack bool)

// OnStatusChanged calls f.
func (f StatusHandlerFunc) OnStatusChanged(id uuid.UUID, ack bool) { f(id, ack) }

// Ticket tracks one in-flight delivery. It resolves exactly once.
type Ticket struct {
	id      uuid.UUID
	handler StatusHandler
	owner   *Client

	resolved atomic.Bool
	acked    atomic.Bool
	done     chan struct{}
}

func newTicket(id uuid.UUID, h StatusHandler, owner *Client) *Ticket {
	return &Ticket{
		id:      id,
		handler: h,
		owner:   owner,
		done:    make(chan struct{}),
	}
}

// ID returns the id of the tracked payload.
func (t *Ticket) ID() uuid.UUID { return t.id }

// Done is closed once the ticket resolves.
func (t *Ticket) Done() <-chan struct{} { return t.done }

// Acked reports whether the ticket resolved with an ack.
func (t *Ticket) Acked() bool { return t.acked.Load() }

// Fail detaches the ticket from its client and resolves it as a nack.
// It is a no-op if the ticket already resolved.
func (t *Ticket) Fail() {
	if t.owner != nil {
		t.owner.forget(t)
	}
	t.resolve(false)
}

func (t *Ticket) resolve(ack bool) bool {
	if !t.resolved.CompareAndSwap(false, true) {
		return false
	}
	t.acked.Store(ack)
	close(t.done)
	if t.handler != nil {
		t.handler.OnStatusChanged(t.id, ack)
	}
	return true
}
