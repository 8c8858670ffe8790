// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the broker.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Client    ClientConfig    `yaml:"client"`
	Delivery  DeliveryConfig  `yaml:"delivery"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Log       LogConfig       `yaml:"log"`
	Storage   StorageConfig   `yaml:"storage"`
	Webhook   WebhookConfig   `yaml:"webhook"`
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	TCPAddr         string        `yaml:"tcp_addr"`
	TLSCertFile     string        `yaml:"tls_cert_file"`
	TLSKeyFile      string        `yaml:"tls_key_file"`
	TLSCAFile       string        `yaml:"tls_ca_file"`     // CA certificate for client verification
	TLSClientAuth   string        `yaml:"tls_client_auth"` // "none", "request", or "require"
	WSAddr          string        `yaml:"ws_addr"`
	WSPath          string        `yaml:"ws_path"`
	HealthAddr      string        `yaml:"health_addr"`
	HTTPAddr        string        `yaml:"http_addr"`    // publish and topic admin bridge
	CoAPAddr        string        `yaml:"coap_addr"`    // UDP publish bridge
	MetricsAddr     string        `yaml:"metrics_addr"` // OTLP gRPC endpoint
	TCPMaxConn      int           `yaml:"tcp_max_connections"`
	TCPKeepAlive    time.Duration `yaml:"tcp_keepalive"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	TLSEnabled      bool          `yaml:"tls_enabled"`
	WSEnabled       bool          `yaml:"ws_enabled"`
	HealthEnabled   bool          `yaml:"health_enabled"`
	HTTPEnabled     bool          `yaml:"http_enabled"`
	CoAPEnabled     bool          `yaml:"coap_enabled"`
	CoAPDTLS        bool          `yaml:"coap_dtls"` // reuses the TLS certificates
	MetricsEnabled  bool          `yaml:"metrics_enabled"`

	// OpenTelemetry configuration
	OtelServiceName     string  `yaml:"otel_service_name"`
	OtelServiceVersion  string  `yaml:"otel_service_version"`
	OtelTracesEnabled   bool    `yaml:"otel_traces_enabled"`
	OtelMetricsEnabled  bool    `yaml:"otel_metrics_enabled"`
	OtelTraceSampleRate float64 `yaml:"otel_trace_sample_rate"` // 0.0 to 1.0
}

// ClientConfig holds per-connection settings.
type ClientConfig struct {
	// Prefetch applied until the client sends ConfigureClient.
	DefaultPrefetch int           `yaml:"default_prefetch"`
	MaxFrameSize    int           `yaml:"max_frame_size"`
	ReadBufferSize  int           `yaml:"read_buffer_size"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"` // 0 disables
	WriteTimeout    time.Duration `yaml:"write_timeout"`
}

// DeliveryConfig holds topic delivery settings.
type DeliveryConfig struct {
	Policy     string        `yaml:"policy"` // round_robin, random
	BackoffMin time.Duration `yaml:"backoff_min"`
	BackoffMax time.Duration `yaml:"backoff_max"`

	// Deliveries before a message is dead-lettered. 0 retries forever.
	MaxDeliveries int `yaml:"max_deliveries"`
}

// RateLimitConfig holds rate limiting settings. Rates are per second.
type RateLimitConfig struct {
	Enabled         bool          `yaml:"enabled"`
	ConnectionRate  float64       `yaml:"connection_rate"` // per IP
	ConnectionBurst int           `yaml:"connection_burst"`
	PublishRate     float64       `yaml:"publish_rate"` // per client
	PublishBurst    int           `yaml:"publish_burst"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// StorageConfig holds storage backend configuration.
type StorageConfig struct {
	Type string `yaml:"type"` // memory, badger

	// BadgerDB settings
	BadgerDir        string        `yaml:"badger_dir"`
	BadgerSyncWrites bool          `yaml:"badger_sync_writes"`
	BadgerGCInterval time.Duration `yaml:"badger_gc_interval"`
}

// WebhookConfig holds webhook notification configuration.
type WebhookConfig struct {
	Enabled         bool              `yaml:"enabled"`
	QueueSize       int               `yaml:"queue_size"`
	DropPolicy      string            `yaml:"drop_policy"`      // "oldest" or "newest"
	Workers         int               `yaml:"workers"`          // Number of worker goroutines
	IncludePayload  bool              `yaml:"include_payload"`  // Include message data in dead-letter events
	ShutdownTimeout time.Duration     `yaml:"shutdown_timeout"` // Graceful shutdown timeout
	Defaults        WebhookDefaults   `yaml:"defaults"`
	Endpoints       []WebhookEndpoint `yaml:"endpoints"`
}

// WebhookDefaults holds default settings for webhook endpoints.
type WebhookDefaults struct {
	Timeout        time.Duration        `yaml:"timeout"`
	Retry          RetryConfig          `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// RetryConfig holds retry configuration for webhook delivery.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	Multiplier      float64       `yaml:"multiplier"`
}

// CircuitBreakerConfig holds circuit breaker configuration.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
}

// WebhookEndpoint defines a single webhook endpoint configuration.
type WebhookEndpoint struct {
	Name         string            `yaml:"name"`
	URL          string            `yaml:"url"`
	Events       []string          `yaml:"events"`        // Event type filter (empty = all)
	TopicFilters []string          `yaml:"topic_filters"` // Topic name filter (empty = all)
	Headers      map[string]string `yaml:"headers"`
	Timeout      time.Duration     `yaml:"timeout,omitempty"` // Override default
	Retry        *RetryConfig      `yaml:"retry,omitempty"`   // Override default
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			TCPAddr:         ":7070",
			TCPMaxConn:      10000,
			TCPKeepAlive:    15 * time.Second,
			TLSEnabled:      false,
			TLSClientAuth:   "none",
			WSAddr:          ":7071",
			WSPath:          "/routemq",
			WSEnabled:       false,
			HealthAddr:      ":8081",
			HealthEnabled:   true,
			HTTPAddr:        ":8080",
			HTTPEnabled:     false,
			CoAPAddr:        ":5683",
			CoAPEnabled:     false,
			MetricsAddr:     "localhost:4317",
			MetricsEnabled:  false,
			ShutdownTimeout: 30 * time.Second,

			OtelServiceName:     "routemq",
			OtelServiceVersion:  "1.0.0",
			OtelMetricsEnabled:  true,
			OtelTracesEnabled:   false,
			OtelTraceSampleRate: 0.1,
		},
		Client: ClientConfig{
			DefaultPrefetch: 1,
			MaxFrameSize:    4 * 1024 * 1024,
			ReadBufferSize:  32 * 1024,
			IdleTimeout:     0,
			WriteTimeout:    30 * time.Second,
		},
		Delivery: DeliveryConfig{
			Policy:        "round_robin",
			BackoffMin:    time.Millisecond,
			BackoffMax:    500 * time.Millisecond,
			MaxDeliveries: 0,
		},
		RateLimit: RateLimitConfig{
			Enabled:         false,
			ConnectionRate:  10,
			ConnectionBurst: 20,
			PublishRate:     1000,
			PublishBurst:    2000,
			CleanupInterval: time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Storage: StorageConfig{
			Type:             "badger",
			BadgerDir:        "/tmp/routemq/data",
			BadgerGCInterval: 5 * time.Minute,
		},
		Webhook: WebhookConfig{
			Enabled:         false,
			QueueSize:       10000,
			DropPolicy:      "oldest",
			Workers:         5,
			IncludePayload:  false,
			ShutdownTimeout: 30 * time.Second,
			Defaults: WebhookDefaults{
				Timeout: 5 * time.Second,
				Retry: RetryConfig{
					MaxAttempts:     3,
					InitialInterval: 1 * time.Second,
					MaxInterval:     30 * time.Second,
					Multiplier:      2.0,
				},
				CircuitBreaker: CircuitBreakerConfig{
					FailureThreshold: 5,
					ResetTimeout:     60 * time.Second,
				},
			},
			Endpoints: []WebhookEndpoint{},
		},
	}
}

// Load loads configuration from a YAML file.
// If the file doesn't exist, returns default configuration.
func Load(filename string) (*Config, error) {
	if filename == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.TCPAddr == "" {
		return fmt.Errorf("server.tcp_addr cannot be empty")
	}
	if c.Server.TCPMaxConn < 0 {
		return fmt.Errorf("server.tcp_max_connections cannot be negative")
	}
	if c.Server.TLSEnabled {
		if c.Server.TLSCertFile == "" {
			return fmt.Errorf("server.tls_cert_file required when TLS is enabled")
		}
		if c.Server.TLSKeyFile == "" {
			return fmt.Errorf("server.tls_key_file required when TLS is enabled")
		}

		validClientAuth := map[string]bool{"none": true, "request": true, "require": true}
		if !validClientAuth[c.Server.TLSClientAuth] {
			return fmt.Errorf("server.tls_client_auth must be one of: none, request, require")
		}

		if (c.Server.TLSClientAuth == "request" || c.Server.TLSClientAuth == "require") && c.Server.TLSCAFile == "" {
			return fmt.Errorf("server.tls_ca_file required when tls_client_auth is '%s'", c.Server.TLSClientAuth)
		}
	}
	if c.Server.WSEnabled && (c.Server.WSAddr == "" || c.Server.WSPath == "") {
		return fmt.Errorf("server.ws_addr and server.ws_path required when websocket is enabled")
	}
	if c.Server.HTTPEnabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr required when the http bridge is enabled")
	}
	if c.Server.CoAPEnabled && c.Server.CoAPAddr == "" {
		return fmt.Errorf("server.coap_addr required when the coap bridge is enabled")
	}
	if c.Server.CoAPDTLS && !c.Server.TLSEnabled {
		return fmt.Errorf("server.coap_dtls requires server.tls_enabled")
	}

	if c.Client.DefaultPrefetch < 1 {
		return fmt.Errorf("client.default_prefetch must be at least 1")
	}
	if c.Client.MaxFrameSize < 1024 {
		return fmt.Errorf("client.max_frame_size must be at least 1KB")
	}
	if c.Client.ReadBufferSize < 512 {
		return fmt.Errorf("client.read_buffer_size must be at least 512 bytes")
	}
	if c.Client.WriteTimeout < time.Second {
		return fmt.Errorf("client.write_timeout must be at least 1 second")
	}

	validPolicies := map[string]bool{"round_robin": true, "random": true}
	if !validPolicies[c.Delivery.Policy] {
		return fmt.Errorf("delivery.policy must be one of: round_robin, random")
	}
	if c.Delivery.BackoffMin <= 0 || c.Delivery.BackoffMax < c.Delivery.BackoffMin {
		return fmt.Errorf("delivery.backoff_min must be positive and not above delivery.backoff_max")
	}
	if c.Delivery.MaxDeliveries < 0 {
		return fmt.Errorf("delivery.max_deliveries cannot be negative")
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.ConnectionRate <= 0 || c.RateLimit.ConnectionBurst < 1 {
			return fmt.Errorf("ratelimit.connection_rate and ratelimit.connection_burst must be positive")
		}
		if c.RateLimit.PublishRate <= 0 || c.RateLimit.PublishBurst < 1 {
			return fmt.Errorf("ratelimit.publish_rate and ratelimit.publish_burst must be positive")
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("log.format must be one of: text, json")
	}

	validStorage := map[string]bool{"memory": true, "badger": true}
	if !validStorage[c.Storage.Type] {
		return fmt.Errorf("storage.type must be one of: memory, badger")
	}

	if c.Storage.Type == "badger" && c.Storage.BadgerDir == "" {
		return fmt.Errorf("storage.badger_dir required when type is badger")
	}

	if c.Server.MetricsEnabled {
		if c.Server.OtelServiceName == "" {
			return fmt.Errorf("server.otel_service_name cannot be empty when metrics enabled")
		}
		if c.Server.OtelTraceSampleRate < 0.0 || c.Server.OtelTraceSampleRate > 1.0 {
			return fmt.Errorf("server.otel_trace_sample_rate must be between 0.0 and 1.0")
		}
	}

	if c.Webhook.Enabled {
		if c.Webhook.QueueSize < 100 {
			return fmt.Errorf("webhook.queue_size must be at least 100")
		}
		if c.Webhook.DropPolicy != "oldest" && c.Webhook.DropPolicy != "newest" {
			return fmt.Errorf("webhook.drop_policy must be 'oldest' or 'newest'")
		}
		if c.Webhook.Workers < 1 {
			return fmt.Errorf("webhook.workers must be at least 1")
		}
		if c.Webhook.ShutdownTimeout < time.Second {
			return fmt.Errorf("webhook.shutdown_timeout must be at least 1 second")
		}
		if c.Webhook.Defaults.Timeout < time.Second {
			return fmt.Errorf("webhook.defaults.timeout must be at least 1 second")
		}
		if c.Webhook.Defaults.Retry.MaxAttempts < 1 {
			return fmt.Errorf("webhook.defaults.retry.max_attempts must be at least 1")
		}
		if c.Webhook.Defaults.Retry.Multiplier < 1.0 {
			return fmt.Errorf("webhook.defaults.retry.multiplier must be at least 1.0")
		}
		if c.Webhook.Defaults.CircuitBreaker.FailureThreshold < 1 {
			return fmt.Errorf("webhook.defaults.circuit_breaker.failure_threshold must be at least 1")
		}

		for i, endpoint := range c.Webhook.Endpoints {
			if endpoint.Name == "" {
				return fmt.Errorf("webhook.endpoints[%d].name cannot be empty", i)
			}
			if endpoint.URL == "" {
				return fmt.Errorf("webhook.endpoints[%d].url cannot be empty", i)
			}
		}
	}

	return nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
