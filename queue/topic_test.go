// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package queue_test

import (
	"context"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/absmach/routemq/dispatcher"
	"github.com/absmach/routemq/packets"
	"github.com/absmach/routemq/queue"
	"github.com/absmach/routemq/session"
	"github.com/absmach/routemq/storage"
	"github.com/absmach/routemq/storage/memory"
	"github.com/absmach/routemq/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const quiet = 50 * time.Millisecond

type recordingObserver struct {
	mu           sync.Mutex
	dispatched   int
	redelivered  int
	acked        int
	nacked       int
	deadLettered []*storage.DeadLetter
}

func (o *recordingObserver) Dispatched(_ string, redelivery bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dispatched++
	if redelivery {
		o.redelivered++
	}
}

func (o *recordingObserver) Acked(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.acked++
}

func (o *recordingObserver) Nacked(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.nacked++
}

func (o *recordingObserver) DeadLettered(dl *storage.DeadLetter) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.deadLettered = append(o.deadLettered, dl)
}

func newTopic(t *testing.T, store storage.Store, mutate ...func(*queue.Config)) *queue.Topic {
	t.Helper()
	cfg := queue.Config{
		Name:        "T",
		Route:       "r",
		Messages:    store.Messages(),
		DeadLetters: store.DeadLetters(),
		BackoffMin:  time.Millisecond,
		BackoffMax:  10 * time.Millisecond,
		Logger:      testutil.Logger(),
	}
	for _, m := range mutate {
		m(&cfg)
	}
	topic, err := queue.NewTopic(cfg)
	require.NoError(t, err)
	t.Cleanup(topic.Dispose)
	return topic
}

func publish(t *testing.T, topic *queue.Topic, data string) uuid.UUID {
	t.Helper()
	id, err := topic.OnMessage(context.Background(), &packets.Message{ID: uuid.New(), Route: "r", Data: []byte(data)})
	require.NoError(t, err)
	return id
}

func storedIDs(t *testing.T, store storage.Store) []uuid.UUID {
	t.Helper()
	ids, err := store.Messages().List(context.Background(), "T")
	require.NoError(t, err)
	return ids
}

func TestNewTopicValidation(t *testing.T) {
	store := memory.New()
	_, err := queue.NewTopic(queue.Config{Route: "r", Messages: store.Messages()})
	assert.ErrorIs(t, err, queue.ErrInvalidConfig)
	_, err = queue.NewTopic(queue.Config{Name: "T", Route: "r"})
	assert.ErrorIs(t, err, queue.ErrInvalidConfig)
	_, err = queue.NewTopic(queue.Config{Name: "T", Route: "r", Messages: store.Messages(), MaxDeliveries: -1})
	assert.ErrorIs(t, err, queue.ErrInvalidConfig)
}

func TestOnMessageBeforeStart(t *testing.T) {
	topic := newTopic(t, memory.New())
	_, err := topic.OnMessage(context.Background(), &packets.Message{Route: "r"})
	assert.ErrorIs(t, err, queue.ErrTopicNotStarted)
}

func TestOnMessagePersistsWithoutSubscribers(t *testing.T) {
	store := memory.New()
	topic := newTopic(t, store)
	require.NoError(t, topic.Start(context.Background()))

	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		ids = append(ids, publish(t, topic, "m"))
	}
	assert.Equal(t, ids, storedIDs(t, store))
	assert.Equal(t, 0, topic.InFlight())
}

func TestSequentialDeliveryWithNack(t *testing.T) {
	store := memory.New()
	topic := newTopic(t, store)
	require.NoError(t, topic.Start(context.Background()))

	id1 := publish(t, topic, "m1")
	id2 := publish(t, topic, "m2")
	id3 := publish(t, topic, "m3")

	c, p := testutil.Pipe(t, nil, session.Config{MaxConcurrency: 1})
	require.True(t, topic.ClientSubscribed(c))

	d := p.NextTopicMessage(t)
	assert.Equal(t, id1, d.ID)
	assert.Equal(t, "T", d.Topic)
	assert.Equal(t, "r", d.Route)
	assert.Equal(t, []byte("m1"), d.Data)
	p.ExpectNone(t, quiet)
	p.Send(t, &packets.Ack{ID: id1})

	d = p.NextTopicMessage(t)
	assert.Equal(t, id2, d.ID)
	p.ExpectNone(t, quiet)
	p.Send(t, &packets.Nack{ID: id2})

	d = p.NextTopicMessage(t)
	assert.Equal(t, id3, d.ID)
	p.ExpectNone(t, quiet)
	p.Send(t, &packets.Ack{ID: id3})

	d = p.NextTopicMessage(t)
	assert.Equal(t, id2, d.ID, "nacked message is redelivered after the rest")
	assert.Equal(t, []byte("m2"), d.Data)
	p.Send(t, &packets.Ack{ID: id2})

	require.Eventually(t, func() bool { return len(storedIDs(t, store)) == 0 }, time.Second, 5*time.Millisecond)
}

func TestDisconnectRedeliversToAnotherSubscriber(t *testing.T) {
	store := memory.New()
	topic := newTopic(t, store)
	require.NoError(t, topic.Start(context.Background()))

	id := publish(t, topic, "payload")

	first, firstPeer := testutil.Pipe(t, nil, session.Config{MaxConcurrency: 1})
	topic.ClientSubscribed(first)
	assert.Equal(t, id, firstPeer.NextTopicMessage(t).ID)
	assert.Equal(t, 1, topic.InFlight())

	second, secondPeer := testutil.Pipe(t, nil, session.Config{MaxConcurrency: 1})
	topic.ClientSubscribed(second)

	// Drop the connection without ack or nack.
	require.NoError(t, firstPeer.Close())

	d := secondPeer.NextTopicMessage(t)
	assert.Equal(t, id, d.ID)
	assert.Equal(t, []uuid.UUID{id}, storedIDs(t, store), "message stays stored until acked")

	secondPeer.Send(t, &packets.Ack{ID: id})
	require.Eventually(t, func() bool { return len(storedIDs(t, store)) == 0 }, time.Second, 5*time.Millisecond)
}

func TestUnsubscribeKeepsInFlight(t *testing.T) {
	store := memory.New()
	topic := newTopic(t, store)
	require.NoError(t, topic.Start(context.Background()))
	id := publish(t, topic, "x")

	c, p := testutil.Pipe(t, nil, session.Config{MaxConcurrency: 1})
	topic.ClientSubscribed(c)
	assert.Equal(t, id, p.NextTopicMessage(t).ID)

	require.True(t, topic.ClientUnsubscribed(c.ID()))
	assert.Equal(t, 1, c.Outstanding())
	assert.Equal(t, 0, topic.Subscribers())

	p.Send(t, &packets.Ack{ID: id})
	require.Eventually(t, func() bool { return len(storedIDs(t, store)) == 0 }, time.Second, 5*time.Millisecond)
}

func TestRecoveryPreservesStoredOrder(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		id := uuid.Must(uuid.NewV7())
		ids = append(ids, id)
		require.NoError(t, store.Messages().Add(ctx, &storage.Message{ID: id, Topic: "T", Route: "r", Data: []byte{byte(i)}}))
	}

	topic := newTopic(t, store)
	require.NoError(t, topic.Start(ctx))
	require.NoError(t, topic.Start(ctx), "second start is a no-op")
	fresh := publish(t, topic, "new")

	c, p := testutil.Pipe(t, nil, session.Config{MaxConcurrency: 1})
	topic.ClientSubscribed(c)
	for _, want := range append(ids, fresh) {
		d := p.NextTopicMessage(t)
		assert.Equal(t, want, d.ID)
		p.Send(t, &packets.Ack{ID: d.ID})
	}
}

func TestSkipsMessagesAlreadyRemoved(t *testing.T) {
	store := memory.New()
	topic := newTopic(t, store)
	require.NoError(t, topic.Start(context.Background()))

	gone := publish(t, topic, "gone")
	require.NoError(t, store.Messages().Delete(context.Background(), "T", gone))
	kept := publish(t, topic, "kept")

	c, p := testutil.Pipe(t, nil, session.Config{MaxConcurrency: 4})
	topic.ClientSubscribed(c)
	assert.Equal(t, kept, p.NextTopicMessage(t).ID)
	p.ExpectNone(t, quiet)
}

func TestDisposeFailsInFlightAndKeepsMessages(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	topic, err := queue.NewTopic(queue.Config{
		Name:       "T",
		Route:      "r",
		Messages:   store.Messages(),
		BackoffMax: 10 * time.Millisecond,
		Logger:     testutil.Logger(),
	})
	require.NoError(t, err)
	require.NoError(t, topic.Start(ctx))
	id := publish(t, topic, "x")

	c, p := testutil.Pipe(t, nil, session.Config{MaxConcurrency: 1})
	topic.ClientSubscribed(c)
	assert.Equal(t, id, p.NextTopicMessage(t).ID)
	assert.Equal(t, 1, c.Outstanding())

	topic.Dispose()
	topic.Dispose()
	assert.True(t, topic.Disposed())
	assert.Equal(t, 0, c.Outstanding())
	assert.Equal(t, 0, topic.InFlight())
	assert.Equal(t, []uuid.UUID{id}, storedIDs(t, store))

	_, err = topic.OnMessage(ctx, &packets.Message{Route: "r"})
	assert.ErrorIs(t, err, queue.ErrTopicDisposed)
	assert.ErrorIs(t, topic.Start(ctx), queue.ErrTopicDisposed)

	next := newTopic(t, store)
	require.NoError(t, next.Start(ctx))
	next.ClientSubscribed(c)
	d := p.NextTopicMessage(t)
	assert.Equal(t, id, d.ID)
	p.Send(t, &packets.Ack{ID: id})
	require.Eventually(t, func() bool { return len(storedIDs(t, store)) == 0 }, time.Second, 5*time.Millisecond)
}

func TestDisposeWithoutStart(t *testing.T) {
	topic := newTopic(t, memory.New())
	topic.Dispose()
	assert.True(t, topic.Disposed())
}

func TestPurge(t *testing.T) {
	store := memory.New()
	topic := newTopic(t, store)
	require.NoError(t, topic.Start(context.Background()))
	publish(t, topic, "a")
	publish(t, topic, "b")

	topic.Dispose()
	require.NoError(t, topic.Purge(context.Background()))
	assert.Empty(t, storedIDs(t, store))
}

func TestMaxDeliveriesDeadLetters(t *testing.T) {
	store := memory.New()
	obs := &recordingObserver{}
	topic := newTopic(t, store, func(c *queue.Config) {
		c.MaxDeliveries = 2
		c.Observer = obs
	})
	require.NoError(t, topic.Start(context.Background()))
	id := publish(t, topic, "poison")

	c, p := testutil.Pipe(t, nil, session.Config{MaxConcurrency: 1})
	topic.ClientSubscribed(c)

	for i := 0; i < 2; i++ {
		d := p.NextTopicMessage(t)
		assert.Equal(t, id, d.ID)
		p.Send(t, &packets.Nack{ID: id})
	}
	p.ExpectNone(t, quiet)

	require.Eventually(t, func() bool {
		obs.mu.Lock()
		defer obs.mu.Unlock()
		return len(obs.deadLettered) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, storedIDs(t, store))
	letters, err := store.DeadLetters().List(context.Background(), "T")
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, id, letters[0].Message.ID)
	assert.Equal(t, 2, letters[0].Deliveries)
	assert.Equal(t, []byte("poison"), letters[0].Message.Data)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, 2, obs.dispatched)
	assert.Equal(t, 1, obs.redelivered)
	assert.Equal(t, 2, obs.nacked)
	assert.Len(t, obs.deadLettered, 1)
}

func TestRandomPolicyDelivers(t *testing.T) {
	store := memory.New()
	topic := newTopic(t, store, func(c *queue.Config) {
		p, err := dispatcher.NewPolicy[queue.Consumer](dispatcher.PolicyRandom)
		require.NoError(t, err)
		c.Policy = p
	})
	require.NoError(t, topic.Start(context.Background()))
	id := publish(t, topic, "x")

	c, p := testutil.Pipe(t, nil, session.Config{})
	topic.ClientSubscribed(c)
	assert.Equal(t, id, p.NextTopicMessage(t).ID)
}

func TestAtLeastOnceUnderNacksAndDisconnects(t *testing.T) {
	const total = 40
	store := memory.New()
	topic := newTopic(t, store)
	require.NoError(t, topic.Start(context.Background()))

	want := map[uuid.UUID]bool{}
	for i := 0; i < total; i++ {
		want[publish(t, topic, "m")] = true
	}

	var (
		mu    sync.Mutex
		acked = map[uuid.UUID]bool{}
	)
	stop := make(chan struct{})
	var wg sync.WaitGroup

	consume := func(p *testutil.Peer, dropAfter int) {
		defer wg.Done()
		seen := 0
		for {
			select {
			case <-stop:
				return
			case <-p.Done():
				return
			case pl := <-p.Payloads():
				tm, ok := pl.(*packets.TopicMessage)
				if !ok {
					continue
				}
				seen++
				if dropAfter > 0 && seen == dropAfter {
					p.Close()
					return
				}
				if rand.IntN(4) == 0 {
					_ = p.Write(&packets.Nack{ID: tm.ID})
					continue
				}
				mu.Lock()
				acked[tm.ID] = true
				mu.Unlock()
				_ = p.Write(&packets.Ack{ID: tm.ID})
			}
		}
	}

	for i := 0; i < 3; i++ {
		c, p := testutil.Pipe(t, nil, session.Config{MaxConcurrency: 1 + i})
		topic.ClientSubscribed(c)
		dropAfter := 0
		if i == 0 {
			dropAfter = 5
		}
		wg.Add(1)
		go consume(p, dropAfter)
	}

	require.Eventually(t, func() bool {
		return len(storedIDs(t, store)) == 0
	}, 10*time.Second, 10*time.Millisecond)
	close(stop)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, want, acked)
}
