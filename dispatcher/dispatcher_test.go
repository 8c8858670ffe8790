// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package dispatcher

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSub struct {
	id        uuid.UUID
	saturated atomic.Bool
	closed    atomic.Bool
}

func newFakeSub() *fakeSub { return &fakeSub{id: uuid.New()} }

func (f *fakeSub) ID() uuid.UUID               { return f.id }
func (f *fakeSub) ReachedMaxConcurrency() bool { return f.saturated.Load() }
func (f *fakeSub) IsClosed() bool              { return f.closed.Load() }

func TestAddRemove(t *testing.T) {
	d := New[*fakeSub](nil)
	a, b := newFakeSub(), newFakeSub()

	assert.True(t, d.Add(a))
	assert.True(t, d.Add(b))
	assert.False(t, d.Add(a), "duplicate add")
	assert.Equal(t, 2, d.Len())

	assert.True(t, d.Remove(a.ID()))
	assert.False(t, d.Remove(a.ID()))
	assert.Equal(t, []*fakeSub{b}, d.Subscribers())
}

func TestNextAvailableEmpty(t *testing.T) {
	for _, name := range []string{PolicyRoundRobin, PolicyRandom} {
		p, err := NewPolicy[*fakeSub](name)
		require.NoError(t, err)
		_, ok := New(p).NextAvailable()
		assert.False(t, ok, name)
	}
}

func TestRoundRobinRotates(t *testing.T) {
	d := New[*fakeSub](nil)
	subs := []*fakeSub{newFakeSub(), newFakeSub(), newFakeSub()}
	for _, s := range subs {
		d.Add(s)
	}

	for round := 0; round < 3; round++ {
		for _, want := range subs {
			got, ok := d.NextAvailable()
			require.True(t, ok)
			assert.Equal(t, want.ID(), got.ID())
		}
	}
}

func TestRoundRobinSkipsUnavailable(t *testing.T) {
	d := New[*fakeSub](nil)
	a, b, c := newFakeSub(), newFakeSub(), newFakeSub()
	d.Add(a)
	d.Add(b)
	d.Add(c)

	b.saturated.Store(true)
	c.closed.Store(true)
	for i := 0; i < 4; i++ {
		got, ok := d.NextAvailable()
		require.True(t, ok)
		assert.Equal(t, a.ID(), got.ID())
	}

	a.saturated.Store(true)
	_, ok := d.NextAvailable()
	assert.False(t, ok)

	b.saturated.Store(false)
	got, ok := d.NextAvailable()
	require.True(t, ok)
	assert.Equal(t, b.ID(), got.ID())
}

func TestRoundRobinNoStarvation(t *testing.T) {
	d := New[*fakeSub](nil)
	subs := make([]*fakeSub, 5)
	for i := range subs {
		subs[i] = newFakeSub()
		d.Add(subs[i])
	}

	counts := map[uuid.UUID]int{}
	for i := 0; i < 500; i++ {
		s, ok := d.NextAvailable()
		require.True(t, ok)
		counts[s.ID()]++
	}
	for _, s := range subs {
		assert.Equal(t, 100, counts[s.ID()])
	}
}

func TestRandomPicksOnlyAvailable(t *testing.T) {
	p, err := NewPolicy[*fakeSub](PolicyRandom)
	require.NoError(t, err)
	d := New(p)
	a, b := newFakeSub(), newFakeSub()
	d.Add(a)
	d.Add(b)
	a.closed.Store(true)

	for i := 0; i < 50; i++ {
		got, ok := d.NextAvailable()
		require.True(t, ok)
		assert.Equal(t, b.ID(), got.ID())
	}
}

func TestRandomReachesEverySubscriber(t *testing.T) {
	d := New[*fakeSub](Random[*fakeSub]{})
	subs := []*fakeSub{newFakeSub(), newFakeSub(), newFakeSub()}
	for _, s := range subs {
		d.Add(s)
	}
	seen := map[uuid.UUID]bool{}
	for i := 0; i < 1000 && len(seen) < len(subs); i++ {
		s, ok := d.NextAvailable()
		require.True(t, ok)
		seen[s.ID()] = true
	}
	assert.Len(t, seen, len(subs))
}

func TestUnknownPolicy(t *testing.T) {
	_, err := NewPolicy[*fakeSub]("weighted")
	assert.ErrorIs(t, err, ErrUnknownPolicy)
}

func TestConcurrentMutationDuringSelection(t *testing.T) {
	d := New[*fakeSub](nil)
	stable := newFakeSub()
	d.Add(stable)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			s := newFakeSub()
			d.Add(s)
			d.Remove(s.ID())
		}
	}()

	for i := 0; i < 10000; i++ {
		s, ok := d.NextAvailable()
		require.True(t, ok)
		require.NotNil(t, s)
	}
	close(stop)
	wg.Wait()
	assert.Equal(t, 1, d.Len())
}
