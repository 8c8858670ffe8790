// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package health

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type mockBroker struct {
	readyErr error
	clients  int
	topics   int
}

func (m *mockBroker) Ready() error     { return m.readyErr }
func (m *mockBroker) ClientCount() int { return m.clients }
func (m *mockBroker) TopicCount() int  { return m.topics }

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAddrWithoutListener(t *testing.T) {
	server := New(Config{}, &mockBroker{}, discard())
	if server.Addr() != "" {
		t.Fatalf("expected empty address before listen, got %q", server.Addr())
	}
}

func TestHealthEndpoint(t *testing.T) {
	server := New(Config{}, &mockBroker{}, discard())

	tests := []struct {
		name           string
		method         string
		expectedStatus int
	}{
		{name: "GET request returns healthy", method: http.MethodGet, expectedStatus: http.StatusOK},
		{name: "POST request not allowed", method: http.MethodPost, expectedStatus: http.StatusMethodNotAllowed},
		{name: "PUT request not allowed", method: http.MethodPut, expectedStatus: http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "http://test/health", nil)
			rec := httptest.NewRecorder()

			server.handleHealth(rec, req)

			if rec.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, rec.Code)
			}
			if tt.expectedStatus != http.StatusOK {
				return
			}

			var response HealthResponse
			if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if response.Status != "healthy" {
				t.Errorf("expected status %q, got %q", "healthy", response.Status)
			}
		})
	}
}

func TestReadyEndpoint(t *testing.T) {
	tests := []struct {
		name           string
		broker         Broker
		method         string
		expectedStatus int
		expectedReady  bool
		expectedReason string
	}{
		{
			name:           "broker nil - not ready",
			method:         http.MethodGet,
			expectedStatus: http.StatusServiceUnavailable,
			expectedReason: "broker not initialized",
		},
		{
			name:           "broker ready",
			broker:         &mockBroker{},
			method:         http.MethodGet,
			expectedStatus: http.StatusOK,
			expectedReady:  true,
		},
		{
			name:           "broker shutting down",
			broker:         &mockBroker{readyErr: errors.New("broker is shutting down")},
			method:         http.MethodGet,
			expectedStatus: http.StatusServiceUnavailable,
			expectedReason: "broker is shutting down",
		},
		{
			name:           "POST request not allowed",
			broker:         &mockBroker{},
			method:         http.MethodPost,
			expectedStatus: http.StatusMethodNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := New(Config{}, tt.broker, discard())

			req := httptest.NewRequest(tt.method, "http://test/ready", nil)
			rec := httptest.NewRecorder()

			server.handleReady(rec, req)

			if rec.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, rec.Code)
			}
			if tt.expectedStatus == http.StatusMethodNotAllowed {
				return
			}

			var response ReadyResponse
			if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if tt.expectedReady && response.Status != "ready" {
				t.Errorf("expected ready status, got %q", response.Status)
			}
			if !tt.expectedReady && response.Status != "not_ready" {
				t.Errorf("expected not_ready status, got %q", response.Status)
			}
			if tt.expectedReason != "" && response.Details != tt.expectedReason {
				t.Errorf("expected details %q, got %q", tt.expectedReason, response.Details)
			}
		})
	}
}

func TestStatusEndpoint(t *testing.T) {
	server := New(Config{InstanceID: "routemq-1"}, &mockBroker{clients: 3, topics: 2}, discard())

	req := httptest.NewRequest(http.MethodGet, "http://test/status", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var response StatusResponse
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.InstanceID != "routemq-1" {
		t.Errorf("expected instance id %q, got %q", "routemq-1", response.InstanceID)
	}
	if response.Clients != 3 || response.Topics != 2 {
		t.Errorf("expected 3 clients and 2 topics, got %d and %d", response.Clients, response.Topics)
	}
}

func TestContentTypeHeaders(t *testing.T) {
	server := New(Config{}, &mockBroker{}, discard())

	for _, path := range []string{"/health", "/ready", "/status"} {
		t.Run(path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "http://test"+path, nil)
			rec := httptest.NewRecorder()

			server.Handler().ServeHTTP(rec, req)

			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("expected Content-Type application/json, got %q", ct)
			}
		})
	}
}

func TestListenShutdown(t *testing.T) {
	server := New(Config{Address: "127.0.0.1:0", ShutdownTimeout: time.Second}, &mockBroker{}, discard())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- server.Listen(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for server.Addr() == "" && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if server.Addr() == "" {
		t.Fatal("server did not start listening")
	}

	resp, err := http.Get("http://" + server.Addr() + "/health")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("listen returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down")
	}
}
