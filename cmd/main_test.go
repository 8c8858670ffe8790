// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/absmach/routemq/config"
	"github.com/absmach/routemq/pkg/tls/tlstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(config.LogConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info("hidden")
	logger.Warn("shown", "key", "value")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "shown", entry["msg"])
	assert.Equal(t, "value", entry["key"])
	assert.False(t, newLogger(config.LogConfig{}, &buf).Enabled(context.Background(), slog.LevelDebug))
	assert.True(t, newLogger(config.LogConfig{Level: "debug"}, &buf).Enabled(context.Background(), slog.LevelDebug))
}

func TestNewStore(t *testing.T) {
	st, err := newStore(config.StorageConfig{Type: "memory"})
	require.NoError(t, err)
	require.NoError(t, st.Close())

	st, err = newStore(config.StorageConfig{Type: "badger", BadgerDir: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, st.Close())

	_, err = newStore(config.StorageConfig{Type: "redis"})
	assert.Error(t, err)
}

func TestLoadTLS(t *testing.T) {
	cfg, err := loadTLS(config.ServerConfig{})
	require.NoError(t, err)
	assert.Nil(t, cfg)

	certs := tlstest.Generate(t)
	cfg, err = loadTLS(config.ServerConfig{
		TLSEnabled:    true,
		TLSCertFile:   certs.ServerCertFile,
		TLSKeyFile:    certs.ServerKeyFile,
		TLSCAFile:     certs.CAFile,
		TLSClientAuth: "require",
	})
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.NotNil(t, cfg.ClientCAs)

	_, err = loadTLS(config.ServerConfig{TLSEnabled: true, TLSCertFile: "missing.crt", TLSKeyFile: "missing.key"})
	assert.Error(t, err)
}
