// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package client is a Go client for the RouteMQ wire protocol.
package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/absmach/routemq/codec"
	"github.com/absmach/routemq/internal/fifo"
	"github.com/absmach/routemq/packets"
	"github.com/google/uuid"
)

// Client is a thread-safe connection to a broker.
type Client struct {
	opts   *Options
	logger *slog.Logger
	state  stateManager

	conn    net.Conn
	writeMu sync.Mutex

	pending    *pendingStore
	deliveries *fifo.Queue[*Delivery]

	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup
	done      chan struct{}
}

// Dial connects to the broker at addr.
func Dial(ctx context.Context, addr string, opts *Options) (*Client, error) {
	if addr == "" {
		return nil, ErrEmptyAddress
	}
	if opts == nil {
		opts = NewOptions()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts.applyDefaults()

	dialCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()

	var (
		conn net.Conn
		err  error
	)
	if opts.TLSConfig != nil {
		d := &tls.Dialer{Config: opts.TLSConfig}
		conn, err = d.DialContext(dialCtx, "tcp", addr)
	} else {
		var d net.Dialer
		conn, err = d.DialContext(dialCtx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}

	c, err := NewWithConn(conn, opts)
	if err != nil {
		conn.Close()
		return nil, err
	}

	if opts.Prefetch > 0 {
		if err := c.Configure(ctx, opts.Prefetch); err != nil {
			c.Close()
			return nil, err
		}
	}
	return c, nil
}

// NewWithConn runs the client over an established connection. Prefetch is
// not sent; call Configure.
func NewWithConn(conn net.Conn, opts *Options) (*Client, error) {
	if opts == nil {
		opts = NewOptions()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts.applyDefaults()

	c := &Client{
		opts:       opts,
		logger:     opts.Logger,
		conn:       conn,
		pending:    newPendingStore(),
		deliveries: fifo.New[*Delivery](),
		done:       make(chan struct{}),
	}

	c.wg.Add(2)
	go c.readLoop()
	go c.deliverLoop()
	go func() {
		c.wg.Wait()
		close(c.done)
	}()
	return c, nil
}

// Done is closed once the client has fully stopped.
func (c *Client) Done() <-chan struct{} { return c.done }

// State returns the current client state.
func (c *Client) State() State { return c.state.get() }

// IsConnected returns true if the client is connected.
func (c *Client) IsConnected() bool { return c.state.isConnected() }

// Publish sends data with the given route. It returns once the broker has
// stored the message in every matching topic.
func (c *Client) Publish(ctx context.Context, route string, data []byte) error {
	return c.request(ctx, &packets.Message{ID: uuid.Must(uuid.NewV7()), Route: route, Data: data})
}

// Subscribe attaches this connection to a topic's subscriber set.
func (c *Client) Subscribe(ctx context.Context, topic string) error {
	return c.request(ctx, &packets.SubscribeTopic{ID: uuid.New(), Topic: topic})
}

// Unsubscribe detaches this connection from a topic.
func (c *Client) Unsubscribe(ctx context.Context, topic string) error {
	return c.request(ctx, &packets.UnsubscribeTopic{ID: uuid.New(), Topic: topic})
}

// DeclareTopic creates a topic bound to a route pattern. Declaring an
// existing topic with the same pattern succeeds.
func (c *Client) DeclareTopic(ctx context.Context, topic, pattern string) error {
	return c.request(ctx, &packets.TopicDeclare{ID: uuid.New(), Topic: topic, Route: pattern})
}

// DeleteTopic removes a topic and its pending messages.
func (c *Client) DeleteTopic(ctx context.Context, topic string) error {
	return c.request(ctx, &packets.TopicDelete{ID: uuid.New(), Topic: topic})
}

// Configure sets how many unacknowledged deliveries this connection accepts.
func (c *Client) Configure(ctx context.Context, prefetch int) error {
	if prefetch < 1 {
		return ErrInvalidPrefetch
	}
	return c.request(ctx, &packets.ConfigureClient{ID: uuid.New(), Prefetch: int32(prefetch)})
}

// Close disconnects from the broker and waits for the client to stop.
// Unsettled deliveries are redelivered by the broker to other subscribers.
// Close must not be called from OnMessage.
func (c *Client) Close() error {
	c.shutdown(StateClosed, ErrClientClosed)
	<-c.done
	return c.closeErr
}

func (c *Client) request(ctx context.Context, p packets.Payload) error {
	if !c.state.isConnected() {
		return ErrNotConnected
	}

	op := c.pending.add(p.CorrelationID())
	if err := c.send(p); err != nil {
		c.pending.remove(op.id)
		return err
	}

	if err := op.wait(ctx, c.opts.RequestTimeout); err != nil {
		c.pending.remove(op.id)
		var be *BrokerError
		if errors.As(err, &be) {
			be.Op = p.Kind()
		}
		return err
	}
	return nil
}

func (c *Client) send(p packets.Payload) error {
	if !c.state.isConnected() {
		return ErrNotConnected
	}

	s, err := packets.Encode(p)
	if err != nil {
		return err
	}
	defer s.Release()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	if _, err := c.conn.Write(s.Bytes()); err != nil {
		c.connectionLost(err)
		return fmt.Errorf("%w: %w", ErrConnectionLost, err)
	}
	return nil
}

func (c *Client) readLoop() {
	defer c.wg.Done()

	frames := codec.NewFrameBuffer(c.opts.ReadBufferSize, c.opts.MaxFrameSize)
	buf := make([]byte, c.opts.ReadBufferSize)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			_, _ = frames.Write(buf[:n])
			if derr := c.drain(frames); derr != nil {
				c.connectionLost(derr)
				return
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = ErrConnectionLost
			}
			c.connectionLost(err)
			return
		}
	}
}

func (c *Client) drain(frames *codec.FrameBuffer) error {
	for {
		frame, ok, err := frames.TryReadFrame()
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
		c.handlePayload(p)
	}
}

func (c *Client) handlePayload(p packets.Payload) {
	switch p := p.(type) {
	case *packets.Ok:
		c.pending.complete(p.ID, nil)
	case *packets.Error:
		c.pending.complete(p.ID, &BrokerError{Message: p.Message})
	case *packets.TopicMessage:
		d := &Delivery{ID: p.ID, Topic: p.Topic, Route: p.Route, Data: p.Data, client: c}
		if c.opts.OnMessage == nil {
			c.logger.Warn("delivery without message handler, rejecting",
				slog.String("topic", p.Topic),
				slog.String("id", p.ID.String()))
			_ = d.Nack()
			return
		}
		_ = c.deliveries.Push(d)
	default:
		c.logger.Warn("unexpected payload from broker", slog.String("kind", p.Kind().String()))
	}
}

func (c *Client) deliverLoop() {
	defer c.wg.Done()

	for {
		d, err := c.deliveries.Pop(context.Background())
		if err != nil {
			return
		}
		c.opts.OnMessage(d)
	}
}

// connectionLost tears the client down after a transport failure.
func (c *Client) connectionLost(err error) {
	if !c.shutdown(StateDisconnected, ErrConnectionLost) {
		return
	}
	c.logger.Debug("connection lost", slog.String("error", err.Error()))
	if c.opts.OnConnectionLost != nil {
		go c.opts.OnConnectionLost(err)
	}
}

// shutdown closes the connection once and reports whether this call did it.
func (c *Client) shutdown(to State, pendingErr error) bool {
	first := false
	c.closeOnce.Do(func() {
		first = true
		c.state.transition(StateConnected, to)
		if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			c.closeErr = err
		}
		c.pending.clear(pendingErr)
		c.deliveries.Close()
	})
	return first
}
