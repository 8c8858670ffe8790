// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package storagetest holds behavior tests shared by every storage backend.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/absmach/routemq/storage"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run exercises a fresh store returned by newStore for every subtest.
func Run(t *testing.T, newStore func(t *testing.T) storage.Store) {
	t.Run("MessageLifecycle", func(t *testing.T) { testMessageLifecycle(t, newStore(t)) })
	t.Run("MessageOrder", func(t *testing.T) { testMessageOrder(t, newStore(t)) })
	t.Run("TopicIsolation", func(t *testing.T) { testTopicIsolation(t, newStore(t)) })
	t.Run("DeleteTopic", func(t *testing.T) { testDeleteTopic(t, newStore(t)) })
	t.Run("DeleteLargeTopic", func(t *testing.T) { testDeleteLargeTopic(t, newStore(t)) })
	t.Run("Topics", func(t *testing.T) { testTopics(t, newStore(t)) })
	t.Run("DeadLetters", func(t *testing.T) { testDeadLetters(t, newStore(t)) })
}

func newMessage(topic string) *storage.Message {
	return &storage.Message{
		ID:        uuid.Must(uuid.NewV7()),
		Topic:     topic,
		Route:     "sensors/1",
		Data:      []byte("payload"),
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
}

func testMessageLifecycle(t *testing.T, s storage.Store) {
	ctx := context.Background()
	ms := s.Messages()
	msg := newMessage("t")

	require.NoError(t, ms.Add(ctx, msg))

	got, err := ms.Get(ctx, "t", msg.ID)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, got.ID)
	assert.Equal(t, msg.Route, got.Route)
	assert.Equal(t, msg.Data, got.Data)
	assert.True(t, msg.CreatedAt.Equal(got.CreatedAt))

	require.NoError(t, ms.Delete(ctx, "t", msg.ID))
	_, err = ms.Get(ctx, "t", msg.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// Deleting twice is fine.
	assert.NoError(t, ms.Delete(ctx, "t", msg.ID))

	_, err = ms.Get(ctx, "missing", uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testMessageOrder(t *testing.T, s storage.Store) {
	ctx := context.Background()
	ms := s.Messages()

	var want []uuid.UUID
	for i := 0; i < 100; i++ {
		msg := newMessage("ordered")
		want = append(want, msg.ID)
		require.NoError(t, ms.Add(ctx, msg))
	}
	// Remove every third to check gaps are skipped.
	var kept []uuid.UUID
	for i, id := range want {
		if i%3 == 0 {
			require.NoError(t, ms.Delete(ctx, "ordered", id))
			continue
		}
		kept = append(kept, id)
	}

	ids, err := ms.List(ctx, "ordered")
	require.NoError(t, err)
	assert.Equal(t, kept, ids)
}

func testTopicIsolation(t *testing.T, s storage.Store) {
	ctx := context.Background()
	ms := s.Messages()

	a, b := newMessage("a"), newMessage("ab")
	require.NoError(t, ms.Add(ctx, a))
	require.NoError(t, ms.Add(ctx, b))

	ids, err := ms.List(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{a.ID}, ids)

	_, err = ms.Get(ctx, "a", b.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testDeleteTopic(t *testing.T, s storage.Store) {
	ctx := context.Background()
	ms := s.Messages()

	for i := 0; i < 5; i++ {
		require.NoError(t, ms.Add(ctx, newMessage("gone")))
	}
	other := newMessage("kept")
	require.NoError(t, ms.Add(ctx, other))

	require.NoError(t, ms.DeleteTopic(ctx, "gone"))

	ids, err := ms.List(ctx, "gone")
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = ms.List(ctx, "kept")
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{other.ID}, ids)
}

func testDeleteLargeTopic(t *testing.T, s storage.Store) {
	ctx := context.Background()
	ms := s.Messages()

	const backlog = 2000
	for i := 0; i < backlog; i++ {
		require.NoError(t, ms.Add(ctx, newMessage("backlog")))
	}
	other := newMessage("kept")
	require.NoError(t, ms.Add(ctx, other))

	ids, err := ms.List(ctx, "backlog")
	require.NoError(t, err)
	require.Len(t, ids, backlog)

	require.NoError(t, ms.DeleteTopic(ctx, "backlog"))

	ids, err = ms.List(ctx, "backlog")
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = ms.List(ctx, "kept")
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{other.ID}, ids)
}

func testTopics(t *testing.T, s storage.Store) {
	ctx := context.Background()
	ts := s.Topics()

	require.NoError(t, ts.Save(ctx, &storage.Topic{Name: "b", Route: "b/#"}))
	require.NoError(t, ts.Save(ctx, &storage.Topic{Name: "a", Route: "a/+"}))
	require.NoError(t, ts.Save(ctx, &storage.Topic{Name: "a", Route: "a/+/x"}))

	list, err := ts.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].Name)
	assert.Equal(t, "a/+/x", list[0].Route)
	assert.Equal(t, "b", list[1].Name)

	require.NoError(t, ts.Delete(ctx, "a"))
	list, err = ts.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "b", list[0].Name)
}

func testDeadLetters(t *testing.T, s storage.Store) {
	ctx := context.Background()
	ds := s.DeadLetters()

	first, second := newMessage("t"), newMessage("t")
	require.NoError(t, ds.Add(ctx, &storage.DeadLetter{Message: *first, Deliveries: 3, Reason: "max deliveries"}))
	require.NoError(t, ds.Add(ctx, &storage.DeadLetter{Message: *second, Deliveries: 4}))

	list, err := ds.List(ctx, "t")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].Message.ID)
	assert.Equal(t, 3, list[0].Deliveries)
	assert.Equal(t, "max deliveries", list[0].Reason)
	assert.Equal(t, second.ID, list[1].Message.ID)

	list, err = ds.List(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, list)
}
