// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package fifo

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushPopOrder(t *testing.T) {
	q := New[int]()
	for i := 0; i < 200; i++ {
		require.NoError(t, q.Push(i))
	}
	assert.Equal(t, 200, q.Len())

	for i := 0; i < 200; i++ {
		v, err := q.Pop(context.Background())
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}
	assert.Equal(t, 0, q.Len())
}

func TestPopBlocksUntilPush(t *testing.T) {
	q := New[string]()
	got := make(chan string, 1)
	go func() {
		v, err := q.Pop(context.Background())
		if err == nil {
			got <- v
		}
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Push("a"))

	select {
	case v := <-got:
		assert.Equal(t, "a", v)
	case <-time.After(time.Second):
		t.Fatal("pop did not wake up")
	}
}

func TestPopContextCancel(t *testing.T) {
	q := New[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Pop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCloseUnblocksAndRejects(t *testing.T) {
	q := New[int]()
	require.NoError(t, q.Push(1))
	require.NoError(t, q.Push(2))

	errCh := make(chan error, 1)
	q2 := New[int]()
	go func() {
		_, err := q2.Pop(context.Background())
		errCh <- err
	}()
	time.Sleep(10 * time.Millisecond)
	q2.Close()
	assert.ErrorIs(t, <-errCh, ErrClosed)

	rest := q.Close()
	assert.Equal(t, []int{1, 2}, rest)
	assert.Nil(t, q.Close())
	assert.True(t, q.Closed())
	assert.ErrorIs(t, q.Push(3), ErrClosed)

	_, err := q.Pop(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestConcurrentProducers(t *testing.T) {
	q := New[int]()
	const producers, per = 8, 500

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < per; i++ {
				_ = q.Push(i)
			}
		}()
	}

	seen := 0
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for seen < producers*per {
		_, err := q.Pop(ctx)
		require.NoError(t, err)
		seen++
	}
	wg.Wait()
	_, ok := q.TryPop()
	assert.False(t, ok)
}
