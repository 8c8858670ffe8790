// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package dispatcher

import (
	"errors"
	"math/rand/v2"
	"sync/atomic"
)

// Policy names accepted by NewPolicy.
const (
	PolicyRoundRobin = "round_robin"
	PolicyRandom     = "random"
)

// ErrUnknownPolicy is returned by NewPolicy for an unrecognized name.
var ErrUnknownPolicy = errors.New("unknown dispatch policy")

// Policy picks one available subscriber from a snapshot.
type Policy[S Subscriber] interface {
	Next(subs []S) (S, bool)
}

// NewPolicy builds the policy registered under name. An empty name selects
// round robin.
func NewPolicy[S Subscriber](name string) (Policy[S], error) {
	switch name {
	case "", PolicyRoundRobin:
		return NewRoundRobin[S](), nil
	case PolicyRandom:
		return Random[S]{}, nil
	default:
		return nil, ErrUnknownPolicy
	}
}

// RoundRobin rotates a cursor over the snapshot, skipping subscribers that
// are closed or saturated. Every available subscriber is picked within one
// full rotation.
type RoundRobin[S Subscriber] struct {
	cursor atomic.Uint64
}

// NewRoundRobin returns a round robin policy.
func NewRoundRobin[S Subscriber]() *RoundRobin[S] {
	return &RoundRobin[S]{}
}

// Next implements Policy.
func (r *RoundRobin[S]) Next(subs []S) (S, bool) {
	var zero S
	n := len(subs)
	if n == 0 {
		return zero, false
	}
	start := r.cursor.Load()
	for i := 0; i < n; i++ {
		idx := (start + uint64(i)) % uint64(n)
		if s := subs[idx]; Available(s) {
			r.cursor.Store(idx + 1)
			return s, true
		}
	}
	return zero, false
}

// Random starts at a random offset and probes linearly.
type Random[S Subscriber] struct{}

// Next implements Policy.
func (Random[S]) Next(subs []S) (S, bool) {
	var zero S
	n := len(subs)
	if n == 0 {
		return zero, false
	}
	start := rand.IntN(n)
	for i := 0; i < n; i++ {
		if s := subs[(start+i)%n]; Available(s) {
			return s, true
		}
	}
	return zero, false
}
