// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package codec

import "errors"

var (
	// ErrInvalidFrameLength is returned when a frame header carries a
	// non-positive length or one larger than the frame limit.
	ErrInvalidFrameLength = errors.New("invalid frame length")

	// ErrTruncated is returned when a field read runs past the end of a frame.
	ErrTruncated = errors.New("truncated frame")

	// ErrInvalidString is returned when a string field contains a newline.
	ErrInvalidString = errors.New("string field must not contain a newline")

	// ErrInvalidDelimiter is returned when a field is not followed by a newline.
	ErrInvalidDelimiter = errors.New("missing field delimiter")
)
