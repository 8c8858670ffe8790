// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import "sync/atomic"

// State represents the client connection state.
type State uint32

// Client states.
const (
	StateConnected State = iota
	StateDisconnected
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// stateManager handles atomic state transitions.
type stateManager struct {
	state atomic.Uint32
}

func (sm *stateManager) get() State {
	return State(sm.state.Load())
}

// transition attempts to transition from expected to new state.
// Returns true if successful.
func (sm *stateManager) transition(from, to State) bool {
	return sm.state.CompareAndSwap(uint32(from), uint32(to))
}

func (sm *stateManager) isConnected() bool {
	return sm.get() == StateConnected
}
