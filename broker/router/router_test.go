// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package router

import (
	"fmt"
	"sync"
	"testing"

	"github.com/absmach/routemq/topics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExactMatch(t *testing.T) {
	r := NewRouter()
	r.Add("sensor/temperature", "temps")

	assert.Equal(t, []string{"temps"}, r.Match("sensor/temperature"))
	assert.Empty(t, r.Match("sensor/humidity"))
	assert.Empty(t, r.Match(""))
}

func TestMultipleTopicsSamePattern(t *testing.T) {
	r := NewRouter()
	r.Add("orders", "billing")
	r.Add("orders", "shipping")
	r.Add("orders", "billing")

	assert.ElementsMatch(t, []string{"billing", "shipping"}, r.Match("orders"))
	assert.Equal(t, 2, r.Len())
}

func TestWildcards(t *testing.T) {
	r := NewRouter()
	r.Add("sensor/+/temperature", "plus")
	r.Add("sensor/#", "hash")
	r.Add("#", "all")

	cases := []struct {
		route string
		want  []string
	}{
		{"sensor/room1/temperature", []string{"plus", "hash", "all"}},
		{"sensor/room1/humidity", []string{"hash", "all"}},
		{"sensor", []string{"hash", "all"}},
		{"sensor/temperature", []string{"hash", "all"}},
		{"other", []string{"all"}},
	}
	for _, c := range cases {
		assert.ElementsMatch(t, c.want, r.Match(c.route), c.route)
	}
}

func TestRemovePrunes(t *testing.T) {
	r := NewRouter()
	r.Add("a/b/c", "x")
	r.Add("a/b", "y")

	assert.False(t, r.Remove("a/b/c", "nope"))
	assert.False(t, r.Remove("a/z", "x"))
	require.True(t, r.Remove("a/b/c", "x"))
	assert.Empty(t, r.Match("a/b/c"))
	assert.Equal(t, []string{"y"}, r.Match("a/b"))

	require.True(t, r.Remove("a/b", "y"))
	assert.Empty(t, r.root.children)
	assert.Equal(t, 0, r.Len())
}

// The trie must agree with the reference matcher for every pattern.
func TestAgreesWithMatcher(t *testing.T) {
	patterns := []string{"a", "a/b", "a/+", "a/#", "+/b", "+/+", "#", "a/+/c", "+/b/#", "a//b"}
	routes := []string{"a", "b", "a/b", "a/c", "b/b", "a/b/c", "a/x/c", "x/b/y/z", "a//b", "a/b/c/d"}

	r := NewRouter()
	for _, p := range patterns {
		r.Add(p, p)
	}

	for _, route := range routes {
		var want []string
		for _, p := range patterns {
			if topics.Match(route, p) {
				want = append(want, p)
			}
		}
		assert.ElementsMatch(t, want, r.Match(route), route)
	}
}

func TestConcurrentAccess(t *testing.T) {
	r := NewRouter()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				name := fmt.Sprintf("t%d-%d", i, j)
				r.Add("devices/+/state", name)
				r.Match("devices/d1/state")
				r.Remove("devices/+/state", name)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, r.Len())
}

func BenchmarkMatch(b *testing.B) {
	r := NewRouter()
	for i := 0; i < 1000; i++ {
		r.Add(fmt.Sprintf("devices/%d/+", i), fmt.Sprintf("t%d", i))
	}
	r.Add("devices/#", "all")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r.Match("devices/500/state")
	}
}
