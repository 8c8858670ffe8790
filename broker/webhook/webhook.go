// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package webhook

import (
	"context"
	"errors"

	"github.com/absmach/routemq/broker/events"
)

var (
	// ErrClosed is returned by Notify after Close.
	ErrClosed = errors.New("webhook notifier is closed")
	// ErrNilSender is returned when a notifier is built without a sender.
	ErrNilSender = errors.New("sender cannot be nil")
)

// Notifier sends webhook notifications asynchronously.
type Notifier interface {
	// Notify queues an event for every matching endpoint without blocking.
	Notify(ctx context.Context, event events.Event) error

	// Close stops the workers, giving queued events ShutdownTimeout to flush.
	Close() error
}

// Sender delivers a serialized envelope to one endpoint.
type Sender interface {
	Send(ctx context.Context, url string, headers map[string]string, payload []byte) error
}
