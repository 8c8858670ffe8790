// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"sync/atomic"

	"github.com/absmach/routemq/packets"
	"github.com/google/uuid"
)

// Delivery is a message handed to this client by one of its subscribed
// topics. Every delivery must be settled with Ack or Nack; unsettled
// deliveries count against the prefetch limit and are redelivered to
// another subscriber when the connection closes.
type Delivery struct {
	ID    uuid.UUID
	Topic string
	Route string
	Data  []byte

	client  *Client
	settled atomic.Bool
}

// Ack confirms the delivery so the broker deletes the message.
func (d *Delivery) Ack() error {
	return d.settle(&packets.Ack{ID: d.ID})
}

// Nack rejects the delivery so the broker redelivers it.
func (d *Delivery) Nack() error {
	return d.settle(&packets.Nack{ID: d.ID})
}

func (d *Delivery) settle(p packets.Payload) error {
	if !d.settled.CompareAndSwap(false, true) {
		return ErrAlreadySettled
	}
	return d.client.send(p)
}
