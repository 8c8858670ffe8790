// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"errors"
	"fmt"

	"github.com/absmach/routemq/packets"
)

// Client errors.
var (
	// Configuration errors.
	ErrEmptyAddress    = errors.New("broker address cannot be empty")
	ErrInvalidPrefetch = errors.New("prefetch must be at least 1")

	// Connection errors.
	ErrNotConnected   = errors.New("client not connected")
	ErrConnectFailed  = errors.New("connection failed")
	ErrConnectionLost = errors.New("connection lost")
	ErrClientClosed   = errors.New("client has been closed")

	// Operation errors.
	ErrTimeout          = errors.New("operation timed out")
	ErrAlreadySettled   = errors.New("delivery already acknowledged")
	ErrUnexpectedPacket = errors.New("unexpected payload kind")
)

// BrokerError is the Error reply the broker sent for a request.
type BrokerError struct {
	Op      packets.Kind
	Message string
}

// Error implements the error interface.
func (e *BrokerError) Error() string {
	return fmt.Sprintf("%s rejected by broker: %s", e.Op, e.Message)
}
