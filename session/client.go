// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package session implements the per-connection client gateway: one
// receive loop turning socket bytes into payloads, one send loop writing
// queued frames in order, and the table of deliveries awaiting ack/nack.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/absmach/routemq/codec"
	"github.com/absmach/routemq/internal/fifo"
	"github.com/absmach/routemq/packets"
	"github.com/google/uuid"
)

// Defaults applied by New for zero config values.
const (
	DefaultMaxConcurrency = 1
	DefaultReadBufferSize = 32 * 1024
	DefaultWriteTimeout   = 30 * time.Second
)

// Handler receives the events produced by a client's receive loop.
type Handler interface {
	// HandlePayload is called from the receive loop for every decoded frame.
	HandlePayload(c *Client, p packets.Payload)
	// HandleDisconnect is called exactly once when the client closes.
	HandleDisconnect(c *Client)
}

// TrafficObserver is optionally implemented by a Handler to observe frames.
type TrafficObserver interface {
	FrameReceived(c *Client, size int)
	FrameSent(c *Client, kind packets.Kind, size int)
}

// Config holds per-client settings.
type Config struct {
	MaxConcurrency int
	MaxFrameSize   int
	ReadBufferSize int
	ReadTimeout    time.Duration // idle timeout, 0 disables
	WriteTimeout   time.Duration
}

// Client owns one connection. All exported methods are safe for concurrent
// use.
type Client struct {
	id      uuid.UUID
	conn    net.Conn
	cfg     Config
	handler Handler
	traffic TrafficObserver
	logger  *slog.Logger

	frames   *codec.FrameBuffer
	outbound *fifo.Queue[*packets.Serialized]

	// mu guards tickets and serializes enqueue against close.
	mu             sync.Mutex
	tickets        map[uuid.UUID]*Ticket
	maxConcurrency atomic.Int32
	closed         atomic.Bool
	closeOnce      sync.Once
	closeErr       error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}
}

// New wraps conn. Call Start to run the loops.
func New(conn net.Conn, h Handler, cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = DefaultReadBufferSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	id := uuid.New()
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		id:       id,
		conn:     conn,
		cfg:      cfg,
		handler:  h,
		logger:   logger.With(slog.String("client_id", id.String())),
		frames:   codec.NewFrameBuffer(cfg.ReadBufferSize, cfg.MaxFrameSize),
		outbound: fifo.New[*packets.Serialized](),
		tickets:  make(map[uuid.UUID]*Ticket),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	if t, ok := h.(TrafficObserver); ok {
		c.traffic = t
	}
	c.maxConcurrency.Store(int32(cfg.MaxConcurrency))
	return c
}

// Start launches the receive and send loops.
func (c *Client) Start() {
	c.wg.Add(2)
	go c.receiveLoop()
	go c.sendLoop()
	go func() {
		c.wg.Wait()
		close(c.done)
	}()
}

// Done is closed once both loops have exited.
func (c *Client) Done() <-chan struct{} { return c.done }

// ID returns the client identity.
func (c *Client) ID() uuid.UUID { return c.id }

// RemoteAddr returns the peer address.
func (c *Client) RemoteAddr() string {
	if addr := c.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// IsClosed reports whether Close has been called.
func (c *Client) IsClosed() bool { return c.closed.Load() }

// MaxConcurrency returns the configured number of outstanding deliveries.
func (c *Client) MaxConcurrency() int { return int(c.maxConcurrency.Load()) }

// SetMaxConcurrency changes the prefetch limit. Deliveries already in flight
// are not affected.
func (c *Client) SetMaxConcurrency(n int) error {
	if n < 1 {
		return ErrInvalidConcurrency
	}
	c.maxConcurrency.Store(int32(n))
	return nil
}

// Outstanding returns the number of unresolved tickets.
func (c *Client) Outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tickets)
}

// ReachedMaxConcurrency reports whether the client cannot take more
// confirmable payloads.
func (c *Client) ReachedMaxConcurrency() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tickets) >= c.MaxConcurrency()
}

// Enqueue queues p for transmission. For confirmable kinds a ticket is
// registered with h as its status observer. On success the client owns p;
// on error the caller keeps ownership.
func (c *Client) Enqueue(p *packets.Serialized, h StatusHandler) (*Ticket, error) {
	if !p.Kind().RequiresConfirmation() {
		return nil, c.EnqueueFireAndForget(p)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return nil, ErrChannelClosed
	}
	if len(c.tickets) >= c.MaxConcurrency() {
		return nil, ErrConcurrencyLimit
	}
	if _, ok := c.tickets[p.ID()]; ok {
		return nil, ErrDuplicateTicket
	}
	if err := c.outbound.Push(p); err != nil {
		return nil, ErrChannelClosed
	}
	t := newTicket(p.ID(), h, c)
	c.tickets[p.ID()] = t
	return t, nil
}

// EnqueueFireAndForget queues p without delivery tracking.
func (c *Client) EnqueueFireAndForget(p *packets.Serialized) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return ErrChannelClosed
	}
	if err := c.outbound.Push(p); err != nil {
		return ErrChannelClosed
	}
	return nil
}

// OnPayloadAckReceived resolves the ticket for id as consumed. Unknown ids
// are ignored.
func (c *Client) OnPayloadAckReceived(id uuid.UUID) {
	if t := c.take(id); t != nil {
		t.resolve(true)
	}
}

// OnPayloadNackReceived resolves the ticket for id as rejected. Unknown ids
// are ignored.
func (c *Client) OnPayloadNackReceived(id uuid.UUID) {
	if t := c.take(id); t != nil {
		t.resolve(false)
	}
}

// Close terminates the client. It is idempotent: the queue is completed,
// outstanding tickets are nacked, the socket is closed and the handler is
// notified exactly once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed.Store(true)
		pending := c.outbound.Close()
		tickets := c.tickets
		c.tickets = make(map[uuid.UUID]*Ticket)
		c.mu.Unlock()

		c.cancel()
		for _, p := range pending {
			p.Release()
		}
		for _, t := range tickets {
			t.resolve(false)
		}
		if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			c.closeErr = err
		}

		c.logger.Debug("client closed",
			slog.String("remote", c.RemoteAddr()),
			slog.Int("failed_tickets", len(tickets)))

		if c.handler != nil {
			c.handler.HandleDisconnect(c)
		}
	})
	return c.closeErr
}

func (c *Client) take(id uuid.UUID) *Ticket {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tickets[id]
	if !ok {
		return nil
	}
	delete(c.tickets, id)
	return t
}

func (c *Client) tracking(id uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.tickets[id]
	return ok
}

func (c *Client) forget(t *Ticket) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.tickets[t.id]; ok && cur == t {
		delete(c.tickets, t.id)
	}
}

func (c *Client) receiveLoop() {
	defer c.wg.Done()

	buf := make([]byte, c.cfg.ReadBufferSize)
	for !c.closed.Load() {
		if c.cfg.ReadTimeout > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		}
		n, err := c.conn.Read(buf)
		if n > 0 {
			_, _ = c.frames.Write(buf[:n])
			if derr := c.drainFrames(); derr != nil {
				c.logger.Warn("protocol error, closing client", slog.String("error", derr.Error()))
				c.Close()
				return
			}
		}
		if err != nil {
			if !c.closed.Load() && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				c.logger.Debug("read failed", slog.String("error", err.Error()))
			}
			c.Close()
			return
		}
		if n == 0 {
			c.Close()
			return
		}
	}
}

func (c *Client) drainFrames() error {
	for {
		frame, ok, err := c.frames.TryReadFrame()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		p, err := packets.Decode(frame)
		if err != nil {
			return err
		}
		if c.traffic != nil {
			c.traffic.FrameReceived(c, len(frame))
		}
		if c.handler != nil {
			c.handler.HandlePayload(c, p)
		}
		if c.closed.Load() {
			return nil
		}
	}
}

func (c *Client) sendLoop() {
	defer c.wg.Done()

	for {
		p, err := c.outbound.Pop(c.ctx)
		if err != nil {
			return
		}
		kind, size := p.Kind(), p.Len()
		if kind.RequiresConfirmation() && !c.tracking(p.ID()) {
			// Ticket failed while queued; its issuer has taken the message back.
			p.Release()
			continue
		}
		if err := c.write(p.Bytes()); err != nil {
			id := p.ID()
			p.Release()
			if !c.closed.Load() {
				c.logger.Warn("send failed, closing client",
					slog.String("kind", kind.String()),
					slog.String("error", err.Error()))
			}
			if kind.RequiresConfirmation() {
				if t := c.take(id); t != nil {
					t.resolve(false)
				}
			}
			c.Close()
			return
		}
		p.Release()
		if c.traffic != nil {
			c.traffic.FrameSent(c, kind, size)
		}
	}
}

func (c *Client) write(b []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	n, err := c.conn.Write(b)
	if err != nil {
		return err
	}
	if n < len(b) {
		return io.ErrShortWrite
	}
	return nil
}
