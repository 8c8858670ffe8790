// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package topics matches publish routes against topic patterns.
//
// Routes and patterns are '/' separated levels. A pattern level '+' matches
// exactly one route level and a trailing '#' matches the parent level and
// everything below it.
package topics

import "strings"

// Wildcards.
const (
	SingleLevel = "+"
	MultiLevel  = "#"
	Separator   = "/"
)

// Match reports whether route matches pattern.
func Match(route, pattern string) bool {
	if pattern == "" || route == "" {
		return false
	}
	if pattern == route {
		return true
	}

	patternLevels := strings.Split(pattern, Separator)
	routeLevels := strings.Split(route, Separator)

	for i, p := range patternLevels {
		if p == MultiLevel {
			return true
		}
		if i >= len(routeLevels) {
			return false
		}
		if p == SingleLevel {
			continue
		}
		if p != routeLevels[i] {
			return false
		}
	}

	return len(patternLevels) == len(routeLevels)
}

// IsWildcard reports whether pattern contains a wildcard level.
func IsWildcard(pattern string) bool {
	return strings.Contains(pattern, SingleLevel) || strings.Contains(pattern, MultiLevel)
}
