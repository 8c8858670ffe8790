// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package ratelimit

import (
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// IPRateLimiter manages rate limiting for IP addresses (connection layer).
// Used to limit connection attempts per IP to prevent DoS attacks.
type IPRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*ipEntry
	rate     rate.Limit
	burst    int
	cleanup  time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

type ipEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewIPRateLimiter creates a new IP-based rate limiter.
// rate is connections per second, burst is the burst allowance.
func NewIPRateLimiter(r float64, burst int, cleanupInterval time.Duration) *IPRateLimiter {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}
	l := &IPRateLimiter{
		limiters: make(map[string]*ipEntry),
		rate:     rate.Limit(r),
		burst:    burst,
		cleanup:  cleanupInterval,
		stopCh:   make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Allow checks if a connection from the given IP address is allowed.
// Returns true if the connection is allowed, false if rate limited.
func (l *IPRateLimiter) Allow(addr net.Addr) bool {
	ip := extractIP(addr)
	if ip == "" {
		return true // Allow if we can't extract IP
	}

	l.mu.Lock()
	entry, exists := l.limiters[ip]
	if !exists {
		entry = &ipEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[ip] = entry
	}
	entry.lastSeen = time.Now()
	limiter := entry.limiter
	l.mu.Unlock()

	return limiter.Allow()
}

func (l *IPRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(l.cleanup)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.removeStale(time.Now().Add(-l.cleanup * 2))
		case <-l.stopCh:
			return
		}
	}
}

func (l *IPRateLimiter) removeStale(threshold time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for ip, entry := range l.limiters {
		if entry.lastSeen.Before(threshold) {
			delete(l.limiters, ip)
		}
	}
}

// Stop stops the cleanup goroutine. It is idempotent.
func (l *IPRateLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// ClientRateLimiter limits publishes per connected client.
type ClientRateLimiter struct {
	mu       sync.Mutex
	limiters map[uuid.UUID]*rate.Limiter
	rate     rate.Limit
	burst    int
}

// NewClientRateLimiter creates a new client-based rate limiter.
func NewClientRateLimiter(r float64, burst int) *ClientRateLimiter {
	return &ClientRateLimiter{
		limiters: make(map[uuid.UUID]*rate.Limiter),
		rate:     rate.Limit(r),
		burst:    burst,
	}
}

// AllowPublish checks if a publish from the given client is allowed.
func (l *ClientRateLimiter) AllowPublish(clientID uuid.UUID) bool {
	l.mu.Lock()
	limiter, exists := l.limiters[clientID]
	if !exists {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[clientID] = limiter
	}
	l.mu.Unlock()

	return limiter.Allow()
}

// RemoveClient removes the limiter of a disconnected client.
func (l *ClientRateLimiter) RemoveClient(clientID uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.limiters, clientID)
}

// extractIP extracts the IP address from a net.Addr.
func extractIP(addr net.Addr) string {
	if addr == nil {
		return ""
	}

	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.IP.String()
	case *net.UDPAddr:
		return a.IP.String()
	default:
		host, _, err := net.SplitHostPort(addr.String())
		if err != nil {
			return addr.String()
		}
		return host
	}
}

// Config holds rate limiting configuration.
type Config struct {
	Enabled         bool
	ConnectionRate  float64 // connections per second per IP, 0 disables
	ConnectionBurst int
	PublishRate     float64 // publishes per second per client, 0 disables
	PublishBurst    int
	CleanupInterval time.Duration
}

// Manager coordinates all rate limiters. A nil or disabled Manager allows
// everything.
type Manager struct {
	ip     *IPRateLimiter
	client *ClientRateLimiter
}

// NewManager creates a new rate limit manager.
func NewManager(cfg Config) *Manager {
	m := &Manager{}
	if !cfg.Enabled {
		return m
	}
	if cfg.ConnectionRate > 0 {
		m.ip = NewIPRateLimiter(cfg.ConnectionRate, cfg.ConnectionBurst, cfg.CleanupInterval)
	}
	if cfg.PublishRate > 0 {
		m.client = NewClientRateLimiter(cfg.PublishRate, cfg.PublishBurst)
	}
	return m
}

// Allow checks if a new connection from addr is allowed. It is used by the
// TCP and WebSocket servers.
func (m *Manager) Allow(addr net.Addr) bool {
	if m == nil || m.ip == nil {
		return true
	}
	return m.ip.Allow(addr)
}

// AllowPublish checks if a publish from the given client is allowed.
func (m *Manager) AllowPublish(clientID uuid.UUID) bool {
	if m == nil || m.client == nil {
		return true
	}
	return m.client.AllowPublish(clientID)
}

// OnClientDisconnect cleans up rate limiters for a disconnected client.
func (m *Manager) OnClientDisconnect(clientID uuid.UUID) {
	if m == nil || m.client == nil {
		return
	}
	m.client.RemoveClient(clientID)
}

// Stop stops the rate limiter manager and cleans up resources.
func (m *Manager) Stop() {
	if m != nil && m.ip != nil {
		m.ip.Stop()
	}
}
