// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package session

import "errors"

var (
	// ErrChannelClosed is returned when enqueuing on a closed client.
	ErrChannelClosed = errors.New("channel closed")

	// ErrConcurrencyLimit is returned when a confirmable payload would push
	// the client past its maximum number of outstanding deliveries.
	ErrConcurrencyLimit = errors.New("max concurrency reached")

	// ErrDuplicateTicket is returned when a payload id is already in flight
	// on the client.
	ErrDuplicateTicket = errors.New("payload already in flight")

	// ErrInvalidConcurrency is returned for a max concurrency below 1.
	ErrInvalidConcurrency = errors.New("max concurrency must be at least 1")
)
