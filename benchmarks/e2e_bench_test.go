// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package benchmarks

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/absmach/routemq/broker"
	"github.com/absmach/routemq/client"
	"github.com/absmach/routemq/server/tcp"
	"github.com/absmach/routemq/session"
	"github.com/absmach/routemq/storage"
	"github.com/absmach/routemq/storage/badger"
	"github.com/absmach/routemq/storage/memory"
	"github.com/absmach/routemq/testutil"
)

// BenchmarkConnectionEstablishment measures connection throughput.
func BenchmarkConnectionEstablishment(b *testing.B) {
	server := startTestBroker(b, memory.New())

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		c := dial(b, server.Addr(), nil)
		c.Close()
	}
}

// BenchmarkConnectionEstablishment_Parallel measures concurrent connection throughput.
func BenchmarkConnectionEstablishment_Parallel(b *testing.B) {
	server := startTestBroker(b, memory.New())

	b.ResetTimer()
	b.ReportAllocs()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			c, err := client.Dial(context.Background(), server.Addr(), nil)
			if err != nil {
				b.Errorf("Failed to connect: %v", err)
				continue
			}
			c.Close()
		}
	})
}

// BenchmarkMessageThroughput_EndToEnd measures publish to ack latency with a
// growing number of competing subscribers on one topic.
func BenchmarkMessageThroughput_EndToEnd(b *testing.B) {
	for _, subs := range []int{1, 4, 16} {
		b.Run(fmt.Sprintf("%d_subscribers", subs), func(b *testing.B) {
			runThroughput(b, memory.New(), subs, 1)
		})
	}
}

// BenchmarkMessageThroughput_Prefetch measures the effect of allowing more
// unacknowledged deliveries per subscriber.
func BenchmarkMessageThroughput_Prefetch(b *testing.B) {
	for _, prefetch := range []int{1, 8, 64} {
		b.Run(fmt.Sprintf("prefetch_%d", prefetch), func(b *testing.B) {
			runThroughput(b, memory.New(), 1, prefetch)
		})
	}
}

// BenchmarkMessageThroughput_Badger measures the durable store path.
func BenchmarkMessageThroughput_Badger(b *testing.B) {
	st, err := badger.New(badger.Config{Dir: b.TempDir()})
	if err != nil {
		b.Fatalf("Failed to open store: %v", err)
	}
	b.Cleanup(func() { st.Close() })
	runThroughput(b, st, 1, 8)
}

// BenchmarkFanOut measures publishing a route matched by many topics.
func BenchmarkFanOut(b *testing.B) {
	for _, topics := range []int{1, 10, 50} {
		b.Run(fmt.Sprintf("%d_topics", topics), func(b *testing.B) {
			ctx := context.Background()
			server := startTestBroker(b, memory.New())

			var acked atomic.Int64
			opts := client.NewOptions().
				SetPrefetch(64).
				SetOnMessage(func(d *client.Delivery) {
					if d.Ack() == nil {
						acked.Add(1)
					}
				})
			sub := dial(b, server.Addr(), opts)
			for i := 0; i < topics; i++ {
				name := fmt.Sprintf("fan-%d", i)
				must(b, sub.DeclareTopic(ctx, name, "fan/#"))
				must(b, sub.Subscribe(ctx, name))
			}
			pub := dial(b, server.Addr(), nil)

			b.ResetTimer()
			b.ReportAllocs()

			for i := 0; i < b.N; i++ {
				must(b, pub.Publish(ctx, "fan/out", []byte("payload")))
			}
			waitFor(b, &acked, int64(b.N*topics))
		})
	}
}

// BenchmarkWildcardRouting measures publishes against many declared
// patterns of which few match.
func BenchmarkWildcardRouting(b *testing.B) {
	ctx := context.Background()
	server := startTestBroker(b, memory.New())

	admin := dial(b, server.Addr(), nil)
	for i := 0; i < 500; i++ {
		must(b, admin.DeclareTopic(ctx, fmt.Sprintf("sensor-%d", i), fmt.Sprintf("sensors/%d/+/temp", i)))
	}
	must(b, admin.DeclareTopic(ctx, "all-temps", "sensors/+/+/temp"))

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		must(b, admin.Publish(ctx, fmt.Sprintf("sensors/%d/kitchen/temp", i%500), []byte("21.5")))
	}
}

func runThroughput(b *testing.B, st storage.Store, subs, prefetch int) {
	ctx := context.Background()
	server := startTestBroker(b, st)

	var acked atomic.Int64
	admin := dial(b, server.Addr(), nil)
	must(b, admin.DeclareTopic(ctx, "bench", "bench/#"))

	for i := 0; i < subs; i++ {
		opts := client.NewOptions().
			SetPrefetch(prefetch).
			SetOnMessage(func(d *client.Delivery) {
				if d.Ack() == nil {
					acked.Add(1)
				}
			})
		c := dial(b, server.Addr(), opts)
		must(b, c.Subscribe(ctx, "bench"))
	}

	payload := make([]byte, 256)

	b.ResetTimer()
	b.ReportAllocs()
	b.SetBytes(int64(len(payload)))

	var wg sync.WaitGroup
	publishers := 4
	per := b.N / publishers
	for p := 0; p < publishers; p++ {
		n := per
		if p == 0 {
			n += b.N % publishers
		}
		pub := dial(b, server.Addr(), nil)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < n; i++ {
				if err := pub.Publish(ctx, "bench/item", payload); err != nil {
					b.Errorf("publish: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
	waitFor(b, &acked, int64(b.N))
}

// Helper functions

type testServer struct {
	server *tcp.Server
}

func (s *testServer) Addr() string { return s.server.Addr().String() }

func startTestBroker(tb testing.TB, st storage.Store) *testServer {
	tb.Helper()

	br, err := broker.New(broker.Config{
		InstanceID: "bench",
		Client:     session.Config{MaxConcurrency: 1},
		BackoffMin: time.Millisecond,
		BackoffMax: 10 * time.Millisecond,
	}, st, testutil.Logger())
	if err != nil {
		tb.Fatalf("Failed to create broker: %v", err)
	}
	if err := br.Start(context.Background()); err != nil {
		tb.Fatalf("Failed to start broker: %v", err)
	}

	server := tcp.New(tcp.Config{Address: "127.0.0.1:0", Logger: testutil.Logger()}, br)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = server.Listen(ctx)
	}()
	tb.Cleanup(func() {
		br.Close()
		cancel()
		<-done
	})

	deadline := time.Now().Add(2 * time.Second)
	for server.Addr() == nil {
		if time.Now().After(deadline) {
			tb.Fatal("server did not start")
		}
		time.Sleep(time.Millisecond)
	}
	return &testServer{server: server}
}

func dial(tb testing.TB, addr string, opts *client.Options) *client.Client {
	tb.Helper()
	if opts == nil {
		opts = client.NewOptions()
	}
	opts.SetLogger(testutil.Logger())
	c, err := client.Dial(context.Background(), addr, opts)
	if err != nil {
		tb.Fatalf("Failed to connect: %v", err)
	}
	tb.Cleanup(func() { c.Close() })
	return c
}

func must(tb testing.TB, err error) {
	tb.Helper()
	if err != nil {
		tb.Fatal(err)
	}
}

func waitFor(tb testing.TB, counter *atomic.Int64, want int64) {
	tb.Helper()
	deadline := time.Now().Add(30 * time.Second)
	for counter.Load() < want {
		if time.Now().After(deadline) {
			tb.Fatalf("acked %d of %d", counter.Load(), want)
		}
		time.Sleep(time.Millisecond)
	}
}
