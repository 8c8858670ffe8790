// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package packets

import (
	"bytes"
	"fmt"
	"sync/atomic"

	"github.com/absmach/routemq/codec"
	"github.com/absmach/routemq/internal/bufpool"
	"github.com/google/uuid"
)

// Serialized is a complete encoded frame ready to be written to a socket.
// It is backed by a pooled buffer and must be released exactly once, after
// it has been written or abandoned.
type Serialized struct {
	kind     Kind
	id       uuid.UUID
	buf      *bytes.Buffer
	frame    []byte
	released atomic.Bool
}

// Encode serializes p into a pooled frame.
func Encode(p Payload) (*Serialized, error) {
	buf := bufpool.Get()
	w := codec.NewWriter(buf, int32(p.Kind()))
	p.encode(w)
	frame, err := w.Finish()
	if err != nil {
		bufpool.Put(buf)
		return nil, fmt.Errorf("encode %s: %w", p.Kind(), err)
	}
	return &Serialized{
		kind:  p.Kind(),
		id:    p.CorrelationID(),
		buf:   buf,
		frame: frame,
	}, nil
}

// Kind returns the payload kind.
func (s *Serialized) Kind() Kind { return s.kind }

// ID returns the payload correlation id.
func (s *Serialized) ID() uuid.UUID { return s.id }

// Bytes returns the frame including its length header. The slice is only
// valid until Release.
func (s *Serialized) Bytes() []byte { return s.frame }

// Len returns the frame size in bytes.
func (s *Serialized) Len() int { return len(s.frame) }

// Release returns the backing buffer to the pool. Extra calls are no-ops.
func (s *Serialized) Release() {
	if s == nil || !s.released.CompareAndSwap(false, true) {
		return
	}
	buf := s.buf
	s.buf = nil
	s.frame = nil
	bufpool.Put(buf)
}

// Decode parses one complete frame as returned by codec.FrameBuffer.
func Decode(frame []byte) (Payload, error) {
	r, err := codec.NewReader(frame)
	if err != nil {
		return nil, err
	}
	tag, err := r.ReadInt()
	if err != nil {
		return nil, err
	}
	p, err := New(Kind(tag))
	if err != nil {
		return nil, err
	}
	if err := p.decode(r); err != nil {
		return nil, fmt.Errorf("decode %s: %w", p.Kind(), err)
	}
	return p, nil
}
