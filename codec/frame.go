// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package codec implements the length-prefixed framing and the field level
// encoding used on the wire.
//
// Every frame is laid out as
//
//	[int32 N][int32 kind]\n[field]\n[field]\n...
//
// where N counts the bytes following the length header and all integers are
// little-endian. Strings are newline terminated, blobs are length-prefixed
// and carry no trailing delimiter.
package codec

import (
	"encoding/binary"
	"fmt"
)

const (
	// HeaderSize is the size of the frame length prefix.
	HeaderSize = 4

	// DefaultMaxFrameSize bounds a single frame, header included.
	DefaultMaxFrameSize = 4 * 1024 * 1024

	defaultInitialSize = 4096
)

// FrameBuffer reassembles frames from an arbitrary byte stream.
// Invariant: r <= w <= len(buf). It is not safe for concurrent use; each
// connection owns exactly one.
type FrameBuffer struct {
	buf      []byte
	r        int
	w        int
	maxFrame int
}

// NewFrameBuffer creates a buffer that accepts frames of at most maxFrame
// bytes including the header. maxFrame <= 0 selects DefaultMaxFrameSize.
func NewFrameBuffer(initial, maxFrame int) *FrameBuffer {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameSize
	}
	if initial <= 0 {
		initial = defaultInitialSize
	}
	if initial > maxFrame {
		initial = maxFrame
	}
	return &FrameBuffer{
		buf:      make([]byte, initial),
		maxFrame: maxFrame,
	}
}

// Len returns the number of unread bytes.
func (b *FrameBuffer) Len() int {
	return b.w - b.r
}

// Cap returns the current capacity of the backing region.
func (b *FrameBuffer) Cap() int {
	return len(b.buf)
}

// Write appends chunk, compacting or growing the buffer as needed.
// It never fails; oversized frames are rejected by TryReadFrame.
func (b *FrameBuffer) Write(chunk []byte) (int, error) {
	if len(chunk) == 0 {
		return 0, nil
	}
	if b.r > len(b.buf)/2 {
		b.compact()
	}
	if len(b.buf)-b.w < len(chunk) {
		b.compact()
		if len(b.buf)-b.w < len(chunk) {
			b.grow(b.w + len(chunk))
		}
	}
	n := copy(b.buf[b.w:], chunk)
	b.w += n
	return n, nil
}

// TryReadFrame extracts one complete frame. ok is false when more bytes are
// needed; in that case nothing is consumed. The returned slice is a fresh
// copy of the header and body.
func (b *FrameBuffer) TryReadFrame() (frame []byte, ok bool, err error) {
	if b.Len() < HeaderSize {
		return nil, false, nil
	}
	n := int(int32(binary.LittleEndian.Uint32(b.buf[b.r:])))
	if n <= 0 || n > b.maxFrame-HeaderSize {
		return nil, false, fmt.Errorf("%w: %d", ErrInvalidFrameLength, n)
	}
	total := HeaderSize + n
	if b.Len() < total {
		return nil, false, nil
	}

	frame = make([]byte, total)
	copy(frame, b.buf[b.r:b.r+total])
	b.r += total
	if b.r == b.w {
		b.r, b.w = 0, 0
	}
	return frame, true, nil
}

func (b *FrameBuffer) compact() {
	if b.r == 0 {
		return
	}
	n := copy(b.buf, b.buf[b.r:b.w])
	b.r = 0
	b.w = n
}

func (b *FrameBuffer) grow(need int) {
	size := len(b.buf) * 2
	if size == 0 {
		size = defaultInitialSize
	}
	for size < need {
		size *= 2
	}
	buf := make([]byte, size)
	copy(buf, b.buf[b.r:b.w])
	b.w -= b.r
	b.r = 0
	b.buf = buf
}
