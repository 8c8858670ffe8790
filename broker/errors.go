// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package broker

import "errors"

// Errors reported to clients as Error replies. None of them closes the
// connection.
var (
	ErrNoMatchingTopic = errors.New("no topic matches route")
	ErrTopicNotFound   = errors.New("topic not found")
	ErrTopicConflict   = errors.New("topic already declared with a different route")
	ErrTopicDeleting   = errors.New("topic is still being deleted")
	ErrNotSubscribed   = errors.New("not subscribed to topic")
	ErrRateLimited     = errors.New("publish rate limit exceeded")
	ErrUnexpectedKind  = errors.New("unexpected payload kind")
	ErrClientNotFound  = errors.New("client not registered")
	ErrShuttingDown    = errors.New("broker is shutting down")
	ErrNotReady        = errors.New("broker has not restored its topics yet")
	ErrPartiallyRouted = errors.New("message was not accepted by every matching topic")
)
