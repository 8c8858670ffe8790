// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package bufpool pools the byte buffers used to encode outbound frames.
package bufpool

import (
	"bytes"
	"sync"
)

// Buffers grown past this capacity are left to the GC so a single large
// frame does not pin memory in the pool.
const maxPooledCap = 256 * 1024

var pool = sync.Pool{New: func() any { return new(bytes.Buffer) }}

// Get returns an empty buffer.
func Get() *bytes.Buffer {
	b := pool.Get().(*bytes.Buffer)
	b.Reset()
	return b
}

// Put returns b to the pool. b must not be used afterwards.
func Put(b *bytes.Buffer) {
	if b == nil || b.Cap() > maxPooledCap {
		return
	}
	pool.Put(b)
}
