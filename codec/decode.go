// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// Reader decodes fields from one complete frame in the order they were
// written.
type Reader struct {
	frame []byte
	off   int
}

// NewReader validates the frame header and positions the reader on the
// kind tag.
func NewReader(frame []byte) (*Reader, error) {
	if len(frame) < HeaderSize {
		return nil, ErrTruncated
	}
	n := int(int32(binary.LittleEndian.Uint32(frame)))
	if n <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidFrameLength, n)
	}
	if n != len(frame)-HeaderSize {
		return nil, fmt.Errorf("%w: header says %d, frame has %d", ErrTruncated, n, len(frame)-HeaderSize)
	}
	return &Reader{frame: frame, off: HeaderSize}, nil
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.frame) - r.off
}

// ReadUUID reads 16 raw bytes and the delimiter.
func (r *Reader) ReadUUID() (uuid.UUID, error) {
	var id uuid.UUID
	b, err := r.next(len(id))
	if err != nil {
		return id, err
	}
	copy(id[:], b)
	return id, r.delimiter()
}

// ReadInt reads a little-endian int32 and the delimiter.
func (r *Reader) ReadInt() (int32, error) {
	b, err := r.next(4)
	if err != nil {
		return 0, err
	}
	v := int32(binary.LittleEndian.Uint32(b))
	return v, r.delimiter()
}

// ReadString reads bytes up to and including the newline terminator.
func (r *Reader) ReadString() (string, error) {
	i := bytes.IndexByte(r.frame[r.off:], Delimiter)
	if i < 0 {
		return "", ErrTruncated
	}
	s := string(r.frame[r.off : r.off+i])
	r.off += i + 1
	return s, nil
}

// ReadBlob reads a length-prefixed byte slice. The result is a copy.
func (r *Reader) ReadBlob() ([]byte, error) {
	b, err := r.next(4)
	if err != nil {
		return nil, err
	}
	n := int(int32(binary.LittleEndian.Uint32(b)))
	if n < 0 {
		return nil, fmt.Errorf("%w: negative blob length %d", ErrTruncated, n)
	}
	data, err := r.next(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, data)
	return out, nil
}

func (r *Reader) next(n int) ([]byte, error) {
	if n > r.Remaining() {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrTruncated, n, r.Remaining())
	}
	b := r.frame[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *Reader) delimiter() error {
	b, err := r.next(1)
	if err != nil {
		return err
	}
	if b[0] != Delimiter {
		return ErrInvalidDelimiter
	}
	return nil
}
