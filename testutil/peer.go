// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides a raw wire peer for exercising the broker in
// tests without the full client library.
package testutil

import (
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/absmach/routemq/codec"
	"github.com/absmach/routemq/packets"
	"github.com/absmach/routemq/session"
	"github.com/stretchr/testify/require"
)

// DefaultWait bounds how long Next waits for a payload.
const DefaultWait = 2 * time.Second

// Peer is the far end of a connection. It decodes every frame it receives.
type Peer struct {
	conn     net.Conn
	payloads chan packets.Payload
	done     chan struct{}
}

// NewPeer starts reading from conn.
func NewPeer(conn net.Conn) *Peer {
	p := &Peer{
		conn:     conn,
		payloads: make(chan packets.Payload, 4096),
		done:     make(chan struct{}),
	}
	go p.readLoop()
	return p
}

func (p *Peer) readLoop() {
	defer close(p.done)

	fb := codec.NewFrameBuffer(0, 0)
	buf := make([]byte, 4096)
	for {
		n, err := p.conn.Read(buf)
		if n > 0 {
			_, _ = fb.Write(buf[:n])
			for {
				frame, ok, ferr := fb.TryReadFrame()
				if ferr != nil || !ok {
					break
				}
				if pl, derr := packets.Decode(frame); derr == nil {
					p.payloads <- pl
				}
			}
		}
		if err != nil {
			return
		}
	}
}

// Conn returns the underlying connection.
func (p *Peer) Conn() net.Conn { return p.conn }

// Done is closed when the connection reaches EOF.
func (p *Peer) Done() <-chan struct{} { return p.done }

// Close closes the connection.
func (p *Peer) Close() error { return p.conn.Close() }

// Payloads streams decoded payloads. Use it from helper goroutines where
// Next cannot fail the test.
func (p *Peer) Payloads() <-chan packets.Payload { return p.payloads }

// Write encodes and writes pl.
func (p *Peer) Write(pl packets.Payload) error {
	s, err := packets.Encode(pl)
	if err != nil {
		return err
	}
	defer s.Release()
	_, err = p.conn.Write(s.Bytes())
	return err
}

// Send encodes and writes pl, failing the test on error.
func (p *Peer) Send(t testing.TB, pl packets.Payload) {
	t.Helper()
	require.NoError(t, p.Write(pl))
}

// Next waits for the next payload.
func (p *Peer) Next(t testing.TB) packets.Payload {
	t.Helper()
	select {
	case pl := <-p.payloads:
		return pl
	case <-time.After(DefaultWait):
		t.Fatal("timed out waiting for payload")
		return nil
	}
}

// Request sends pl and waits for the Ok or Error answering it. Deliveries
// arriving in between are not expected on a request-only peer.
func (p *Peer) Request(t testing.TB, pl packets.Payload) packets.Payload {
	t.Helper()
	p.Send(t, pl)
	reply := p.Next(t)
	require.Equal(t, pl.CorrelationID(), reply.CorrelationID(), "reply to %s", pl.Kind())
	return reply
}

// RequireOk sends pl and requires an Ok reply.
func (p *Peer) RequireOk(t testing.TB, pl packets.Payload) {
	t.Helper()
	reply := p.Request(t, pl)
	if e, ok := reply.(*packets.Error); ok {
		t.Fatalf("%s failed: %s", pl.Kind(), e.Message)
	}
	require.IsType(t, &packets.Ok{}, reply)
}

// RequireError sends pl and returns the message of the Error reply.
func (p *Peer) RequireError(t testing.TB, pl packets.Payload) string {
	t.Helper()
	reply := p.Request(t, pl)
	e, ok := reply.(*packets.Error)
	require.True(t, ok, "expected Error reply to %s, got %s", pl.Kind(), reply.Kind())
	return e.Message
}

// NextTopicMessage waits for the next payload and requires a delivery.
func (p *Peer) NextTopicMessage(t testing.TB) *packets.TopicMessage {
	t.Helper()
	pl := p.Next(t)
	tm, ok := pl.(*packets.TopicMessage)
	require.True(t, ok, "expected TopicMessage, got %s", pl.Kind())
	return tm
}

// ExpectNone fails if a payload arrives within d.
func (p *Peer) ExpectNone(t testing.TB, d time.Duration) {
	t.Helper()
	select {
	case pl := <-p.payloads:
		t.Fatalf("unexpected payload %s %s", pl.Kind(), pl.CorrelationID())
	case <-time.After(d):
	}
}

// AckHandler feeds Ack and Nack payloads back into the client. It stands in
// for the broker's payload router.
type AckHandler struct{}

// HandlePayload implements session.Handler.
func (AckHandler) HandlePayload(c *session.Client, p packets.Payload) {
	switch p := p.(type) {
	case *packets.Ack:
		c.OnPayloadAckReceived(p.ID)
	case *packets.Nack:
		c.OnPayloadNackReceived(p.ID)
	}
}

// HandleDisconnect implements session.Handler.
func (AckHandler) HandleDisconnect(*session.Client) {}

// Pipe starts a session client over net.Pipe and returns it with its peer.
// Both ends are closed and drained on cleanup.
func Pipe(t testing.TB, h session.Handler, cfg session.Config) (*session.Client, *Peer) {
	t.Helper()
	if h == nil {
		h = AckHandler{}
	}
	local, remote := net.Pipe()
	c := session.New(local, h, cfg, Logger())
	p := NewPeer(remote)
	c.Start()
	t.Cleanup(func() {
		c.Close()
		remote.Close()
		<-c.Done()
		<-p.Done()
	})
	return c, p
}

// Logger discards output.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
