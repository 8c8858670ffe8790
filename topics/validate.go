// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package topics

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// MaxNameLength bounds topic names.
const MaxNameLength = 255

// Validation errors.
var (
	ErrInvalidName    = errors.New("invalid topic name")
	ErrInvalidRoute   = errors.New("invalid route: contains wildcards or illegal characters")
	ErrInvalidPattern = errors.New("invalid route pattern")
)

// ValidateName checks a topic name. Names are single opaque levels.
func ValidateName(name string) error {
	if name == "" || len(name) > MaxNameLength {
		return ErrInvalidName
	}
	if strings.ContainsAny(name, "/+#\n\x00") || !utf8.ValidString(name) {
		return ErrInvalidName
	}
	return nil
}

// ValidateRoute checks a publish route: no wildcards.
func ValidateRoute(route string) error {
	if route == "" || !utf8.ValidString(route) {
		return ErrInvalidRoute
	}
	if strings.ContainsAny(route, "+#\n\x00") {
		return ErrInvalidRoute
	}
	return nil
}

// ValidatePattern checks a topic route pattern. Wildcards must occupy a
// whole level and '#' must be the last level.
func ValidatePattern(pattern string) error {
	if pattern == "" || !utf8.ValidString(pattern) {
		return ErrInvalidPattern
	}
	if strings.ContainsAny(pattern, "\n\x00") {
		return ErrInvalidPattern
	}

	levels := strings.Split(pattern, Separator)
	for i, l := range levels {
		switch {
		case l == MultiLevel:
			if i != len(levels)-1 {
				return ErrInvalidPattern
			}
		case l == SingleLevel:
		case strings.ContainsAny(l, "+#"):
			return ErrInvalidPattern
		}
	}
	return nil
}
