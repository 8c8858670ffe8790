// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"encoding/binary"
	"strings"

	"github.com/google/uuid"
)

// Delimiter follows every field except blobs. It only aids debugging.
const Delimiter = '\n'

// Writer encodes the fields of a single frame into buf. The first error is
// sticky and returned by Finish.
type Writer struct {
	buf *bytes.Buffer
	err error
}

// NewWriter resets buf, reserves the frame header and writes the kind tag.
func NewWriter(buf *bytes.Buffer, kind int32) *Writer {
	buf.Reset()
	var hdr [HeaderSize]byte
	buf.Write(hdr[:])
	w := &Writer{buf: buf}
	w.PutInt(kind)
	return w
}

// PutUUID writes 16 raw bytes.
func (w *Writer) PutUUID(id uuid.UUID) {
	if w.err != nil {
		return
	}
	w.buf.Write(id[:])
	w.buf.WriteByte(Delimiter)
}

// PutInt writes a little-endian int32.
func (w *Writer) PutInt(v int32) {
	if w.err != nil {
		return
	}
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	w.buf.Write(b[:])
	w.buf.WriteByte(Delimiter)
}

// PutString writes s followed by the newline terminator.
func (w *Writer) PutString(s string) {
	if w.err != nil {
		return
	}
	if strings.IndexByte(s, Delimiter) >= 0 {
		w.err = ErrInvalidString
		return
	}
	w.buf.WriteString(s)
	w.buf.WriteByte(Delimiter)
}

// PutBlob writes a length-prefixed byte slice.
func (w *Writer) PutBlob(data []byte) {
	if w.err != nil {
		return
	}
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(len(data)))
	w.buf.Write(b[:])
	w.buf.Write(data)
}

// Finish back-patches the frame header and returns the encoded frame,
// which aliases the writer's buffer.
func (w *Writer) Finish() ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}
	frame := w.buf.Bytes()
	binary.LittleEndian.PutUint32(frame[:HeaderSize], uint32(len(frame)-HeaderSize))
	return frame, nil
}
