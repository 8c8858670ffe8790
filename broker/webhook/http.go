// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// UserAgent is sent with every webhook request.
const UserAgent = "RouteMQ-Broker/1.0"

// HTTPSender implements the Sender interface for HTTP webhooks.
type HTTPSender struct {
	client *http.Client
}

// NewHTTPSender creates a new HTTP webhook sender. Per-request deadlines come
// from the context; the client timeout only caps runaway requests.
func NewHTTPSender() *HTTPSender {
	return &HTTPSender{
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Send POSTs payload as JSON and treats any non-2xx status as a failure.
func (s *HTTPSender) Send(ctx context.Context, url string, headers map[string]string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned non-2xx status: %d", resp.StatusCode)
	}

	return nil
}
