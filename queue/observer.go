// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package queue

import "github.com/absmach/routemq/storage"

// Observer receives delivery lifecycle notifications. Implementations must
// not block; they are called from the dispatch loop and from client
// goroutines.
type Observer interface {
	// Dispatched is called when a message is handed to a consumer.
	Dispatched(topic string, redelivery bool)
	Acked(topic string)
	Nacked(topic string)
	DeadLettered(dl *storage.DeadLetter)
}

type nopObserver struct{}

func (nopObserver) Dispatched(string, bool)          {}
func (nopObserver) Acked(string)                     {}
func (nopObserver) Nacked(string)                    {}
func (nopObserver) DeadLettered(*storage.DeadLetter) {}
