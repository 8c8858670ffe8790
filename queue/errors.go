// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package queue

import "errors"

// Topic errors.
var (
	ErrTopicDisposed   = errors.New("topic disposed")
	ErrTopicNotStarted = errors.New("topic not started")
	ErrInvalidConfig   = errors.New("invalid topic config")
)
