// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/absmach/routemq/broker"
	"github.com/absmach/routemq/session"
	"github.com/absmach/routemq/storage/memory"
	"github.com/absmach/routemq/testutil"
	"github.com/absmach/routemq/topics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBroker(t *testing.T) *broker.Broker {
	t.Helper()

	b, err := broker.New(broker.Config{
		InstanceID: "http-test",
		Client:     session.Config{MaxConcurrency: 1},
		BackoffMin: time.Millisecond,
		BackoffMax: 10 * time.Millisecond,
	}, memory.New(), testutil.Logger())
	require.NoError(t, err)
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() { b.Close() })

	return b
}

func newBridge(t *testing.T) (*broker.Broker, *httptest.Server) {
	t.Helper()

	b := newBroker(t)
	srv := httptest.NewServer(New(Config{}, b, testutil.Logger()).Handler())
	t.Cleanup(srv.Close)

	return b, srv
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	return resp
}

func TestDeclareTopic(t *testing.T) {
	_, srv := newBridge(t)

	cases := []struct {
		desc   string
		body   any
		status int
	}{
		{"new topic", declareRequest{Name: "temps", Route: "sensors/+/temp"}, http.StatusCreated},
		{"same route again", declareRequest{Name: "temps", Route: "sensors/+/temp"}, http.StatusOK},
		{"different route", declareRequest{Name: "temps", Route: "sensors/#"}, http.StatusConflict},
		{"invalid name", declareRequest{Name: "bad/name", Route: "a/b"}, http.StatusBadRequest},
		{"invalid pattern", declareRequest{Name: "other", Route: "a/#/b"}, http.StatusBadRequest},
		{"malformed body", "not an object", http.StatusBadRequest},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			resp := doJSON(t, http.MethodPost, srv.URL+"/topics", tc.body)
			assert.Equal(t, tc.status, resp.StatusCode)
		})
	}
}

func TestPublish(t *testing.T) {
	b, srv := newBridge(t)

	_, err := b.DeclareTopic(context.Background(), "temps", "sensors/+/temp")
	require.NoError(t, err)
	_, err = b.DeclareTopic(context.Background(), "all", "sensors/#")
	require.NoError(t, err)

	resp := doJSON(t, http.MethodPost, srv.URL+"/publish", publishRequest{Route: "sensors/kitchen/temp", Data: []byte("21.5")})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out PublishResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.NotEmpty(t, out.ID)
	assert.ElementsMatch(t, []string{"temps", "all"}, out.Topics)

	resp = doJSON(t, http.MethodPost, srv.URL+"/publish", publishRequest{Route: "lights/kitchen", Data: []byte("on")})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, srv.URL+"/publish", publishRequest{Route: "sensors/+/temp"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var e errorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
	assert.NotEmpty(t, e.Error)
}

func TestListAndDeleteTopics(t *testing.T) {
	b, srv := newBridge(t)

	for name, route := range map[string]string{"b-topic": "b/#", "a-topic": "a/+"} {
		_, err := b.DeclareTopic(context.Background(), name, route)
		require.NoError(t, err)
	}

	resp := doJSON(t, http.MethodGet, srv.URL+"/topics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list []broker.TopicInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list, 2)
	assert.Equal(t, "a-topic", list[0].Name)
	assert.Equal(t, "a/+", list[0].Route)
	assert.Equal(t, "b-topic", list[1].Name)

	resp = doJSON(t, http.MethodDelete, srv.URL+"/topics/a-topic", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	_, ok := b.Topic("a-topic")
	assert.False(t, ok)

	resp = doJSON(t, http.MethodDelete, srv.URL+"/topics/a-topic", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMethodNotAllowed(t *testing.T) {
	_, srv := newBridge(t)

	resp := doJSON(t, http.MethodGet, srv.URL+"/publish", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{topics.ErrInvalidRoute, http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", topics.ErrInvalidName), http.StatusBadRequest},
		{broker.ErrNoMatchingTopic, http.StatusNotFound},
		{broker.ErrTopicConflict, http.StatusConflict},
		{broker.ErrTopicDeleting, http.StatusConflict},
		{broker.ErrRateLimited, http.StatusTooManyRequests},
		{broker.ErrShuttingDown, http.StatusServiceUnavailable},
		{broker.ErrNotReady, http.StatusServiceUnavailable},
		{errors.New("disk full"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.status, statusFor(tc.err), tc.err.Error())
	}
}

func TestListenShutdown(t *testing.T) {
	b := newBroker(t)
	server := New(Config{Address: "127.0.0.1:0", ShutdownTimeout: time.Second}, b, testutil.Logger())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- server.Listen(ctx) }()

	require.Eventually(t, func() bool { return server.Addr() != "" }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + server.Addr() + "/topics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Listen did not return after cancel")
	}
}
