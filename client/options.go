// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"crypto/tls"
	"log/slog"
	"time"
)

// Default values.
const (
	DefaultDialTimeout    = 10 * time.Second
	DefaultWriteTimeout   = 5 * time.Second
	DefaultRequestTimeout = 10 * time.Second
	DefaultReadBufferSize = 4096
	DefaultMaxFrameSize   = 16 << 20
)

// Options configures the client.
type Options struct {
	// Connection
	TLSConfig      *tls.Config   // TLS configuration (nil for plain TCP)
	DialTimeout    time.Duration // Timeout for the connection attempt
	WriteTimeout   time.Duration // Timeout for a single frame write
	RequestTimeout time.Duration // Timeout waiting for Ok or Error
	ReadBufferSize int
	MaxFrameSize   int

	// Prefetch is sent as ConfigureClient right after connecting when
	// greater than zero.
	Prefetch int

	// Callbacks
	OnMessage        func(*Delivery) // Called for every delivery, one at a time
	OnConnectionLost func(error)     // Called once when the connection drops

	Logger *slog.Logger
}

// NewOptions creates Options with sensible defaults.
func NewOptions() *Options {
	return &Options{
		DialTimeout:    DefaultDialTimeout,
		WriteTimeout:   DefaultWriteTimeout,
		RequestTimeout: DefaultRequestTimeout,
		ReadBufferSize: DefaultReadBufferSize,
		MaxFrameSize:   DefaultMaxFrameSize,
	}
}

// SetTLSConfig sets the TLS configuration.
func (o *Options) SetTLSConfig(cfg *tls.Config) *Options {
	o.TLSConfig = cfg
	return o
}

// SetRequestTimeout sets how long requests wait for a reply.
func (o *Options) SetRequestTimeout(d time.Duration) *Options {
	o.RequestTimeout = d
	return o
}

// SetPrefetch sets the number of unacknowledged deliveries to accept.
func (o *Options) SetPrefetch(n int) *Options {
	o.Prefetch = n
	return o
}

// SetOnMessage sets the delivery callback.
func (o *Options) SetOnMessage(fn func(*Delivery)) *Options {
	o.OnMessage = fn
	return o
}

// SetOnConnectionLost sets the connection lost callback.
func (o *Options) SetOnConnectionLost(fn func(error)) *Options {
	o.OnConnectionLost = fn
	return o
}

// SetLogger sets the logger.
func (o *Options) SetLogger(l *slog.Logger) *Options {
	o.Logger = l
	return o
}

func (o *Options) applyDefaults() {
	if o.DialTimeout <= 0 {
		o.DialTimeout = DefaultDialTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	if o.ReadBufferSize <= 0 {
		o.ReadBufferSize = DefaultReadBufferSize
	}
	if o.MaxFrameSize <= 0 {
		o.MaxFrameSize = DefaultMaxFrameSize
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Validate checks the options.
func (o *Options) Validate() error {
	if o.Prefetch < 0 {
		return ErrInvalidPrefetch
	}
	return nil
}
