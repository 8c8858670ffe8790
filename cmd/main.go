// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/absmach/routemq/broker"
	"github.com/absmach/routemq/broker/webhook"
	"github.com/absmach/routemq/config"
	routetls "github.com/absmach/routemq/pkg/tls"
	"github.com/absmach/routemq/ratelimit"
	"github.com/absmach/routemq/server/coap"
	"github.com/absmach/routemq/server/health"
	httpserver "github.com/absmach/routemq/server/http"
	"github.com/absmach/routemq/server/otel"
	"github.com/absmach/routemq/server/tcp"
	"github.com/absmach/routemq/server/websocket"
	"github.com/absmach/routemq/session"
	"github.com/absmach/routemq/storage"
	"github.com/absmach/routemq/storage/badger"
	"github.com/absmach/routemq/storage/memory"
	"golang.org/x/sync/errgroup"
)

const version = "0.1.0"

func main() {
	configFile := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log, os.Stdout)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		slog.Error("Broker stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	instanceID, err := os.Hostname()
	if err != nil || instanceID == "" {
		instanceID = "routemq"
	}

	slog.Info("Starting RouteMQ broker", "version", version, "instance_id", instanceID)
	slog.Info("Configuration loaded",
		"tcp_listener", cfg.Server.TCPAddr,
		"tls_enabled", cfg.Server.TLSEnabled,
		"ws_enabled", cfg.Server.WSEnabled,
		"health_enabled", cfg.Server.HealthEnabled,
		"http_enabled", cfg.Server.HTTPEnabled,
		"coap_enabled", cfg.Server.CoAPEnabled,
		"metrics_enabled", cfg.Server.MetricsEnabled,
		"storage", cfg.Storage.Type,
		"log_level", cfg.Log.Level)

	store, err := newStore(cfg.Storage)
	if err != nil {
		return err
	}
	defer store.Close()

	b, err := broker.New(broker.Config{
		InstanceID: instanceID,
		Client: session.Config{
			MaxConcurrency: cfg.Client.DefaultPrefetch,
			MaxFrameSize:   cfg.Client.MaxFrameSize,
			ReadBufferSize: cfg.Client.ReadBufferSize,
			ReadTimeout:    cfg.Client.IdleTimeout,
			WriteTimeout:   cfg.Client.WriteTimeout,
		},
		Policy:        cfg.Delivery.Policy,
		BackoffMin:    cfg.Delivery.BackoffMin,
		BackoffMax:    cfg.Delivery.BackoffMax,
		MaxDeliveries: cfg.Delivery.MaxDeliveries,
	}, store, logger)
	if err != nil {
		return fmt.Errorf("failed to create broker: %w", err)
	}
	defer b.Close()

	if cfg.Server.MetricsEnabled {
		shutdown, err := otel.InitProvider(cfg.Server, instanceID)
		if err != nil {
			return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := shutdown(ctx); err != nil {
				slog.Error("OpenTelemetry shutdown failed", "error", err)
			}
		}()
		slog.Info("OpenTelemetry initialized", "endpoint", cfg.Server.MetricsAddr)

		if cfg.Server.OtelMetricsEnabled {
			m, err := otel.NewMetrics()
			if err != nil {
				return fmt.Errorf("failed to create metrics: %w", err)
			}
			b.SetMetrics(m)
			slog.Info("OTel metrics enabled")
		}
		if cfg.Server.OtelTracesEnabled {
			slog.Info("Distributed tracing enabled", "sample_rate", cfg.Server.OtelTraceSampleRate)
		}
	} else {
		slog.Info("OpenTelemetry disabled")
	}

	if cfg.Webhook.Enabled {
		wh, err := webhook.NewNotifier(cfg.Webhook, instanceID, webhook.NewHTTPSender(), logger)
		if err != nil {
			return fmt.Errorf("failed to initialize webhooks: %w", err)
		}
		defer wh.Close()
		b.SetNotifier(wh)
		slog.Info("Webhooks enabled",
			"endpoints", len(cfg.Webhook.Endpoints),
			"workers", cfg.Webhook.Workers,
			"queue_size", cfg.Webhook.QueueSize)
	} else {
		slog.Info("Webhooks disabled")
	}

	var limiter *ratelimit.Manager
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.NewManager(ratelimit.Config{
			Enabled:         true,
			ConnectionRate:  cfg.RateLimit.ConnectionRate,
			ConnectionBurst: cfg.RateLimit.ConnectionBurst,
			PublishRate:     cfg.RateLimit.PublishRate,
			PublishBurst:    cfg.RateLimit.PublishBurst,
			CleanupInterval: cfg.RateLimit.CleanupInterval,
		})
		defer limiter.Stop()
		b.SetRateLimiter(limiter)
		slog.Info("Rate limiting enabled",
			"connection_rate", cfg.RateLimit.ConnectionRate,
			"publish_rate", cfg.RateLimit.PublishRate)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := b.Start(ctx); err != nil {
		return fmt.Errorf("failed to start broker: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	tlsCfg, err := loadTLS(cfg.Server)
	if err != nil {
		return err
	}
	tcpServer := tcp.New(tcp.Config{
		Address:         cfg.Server.TCPAddr,
		TLSConfig:       tlsCfg,
		Logger:          logger,
		Admitter:        limiter,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		TCPKeepAlive:    cfg.Server.TCPKeepAlive,
		MaxConnections:  cfg.Server.TCPMaxConn,
	}, b)
	g.Go(func() error {
		slog.Info("Starting TCP server", "address", cfg.Server.TCPAddr, "security", routetls.SecurityStatus(tlsCfg))
		return tcpServer.Listen(gctx)
	})

	if cfg.Server.WSEnabled {
		wsServer := websocket.New(websocket.Config{
			Address:         cfg.Server.WSAddr,
			Path:            cfg.Server.WSPath,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
			Admitter:        limiter,
		}, b, logger)
		g.Go(func() error {
			slog.Info("Starting WebSocket server", "address", cfg.Server.WSAddr, "path", cfg.Server.WSPath)
			return wsServer.Listen(gctx)
		})
	}

	if cfg.Server.HealthEnabled {
		healthServer := health.New(health.Config{
			Address:         cfg.Server.HealthAddr,
			InstanceID:      instanceID,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
		}, b, logger)
		g.Go(func() error {
			slog.Info("Starting health check server", "address", cfg.Server.HealthAddr)
			return healthServer.Listen(gctx)
		})
	}

	if cfg.Server.HTTPEnabled {
		httpServer := httpserver.New(httpserver.Config{
			Address:         cfg.Server.HTTPAddr,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
			TLSConfig:       tlsCfg,
		}, b, logger)
		g.Go(func() error {
			slog.Info("Starting HTTP bridge", "address", cfg.Server.HTTPAddr)
			return httpServer.Listen(gctx)
		})
	}

	if cfg.Server.CoAPEnabled {
		coapCfg := coap.Config{
			Address:         cfg.Server.CoAPAddr,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
		}
		if cfg.Server.CoAPDTLS {
			coapCfg.TLSConfig = tlsCfg
		}
		coapServer := coap.New(coapCfg, b, logger)
		g.Go(func() error {
			slog.Info("Starting CoAP bridge", "address", cfg.Server.CoAPAddr, "dtls", cfg.Server.CoAPDTLS)
			return coapServer.Listen(gctx)
		})
	}

	// Disconnecting clients lets the listeners drain without waiting out
	// their shutdown timeout.
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down broker")
		return b.Close()
	})

	err = g.Wait()
	slog.Info("Broker stopped", "stats", b.Stats().Snapshot())
	return err
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	logLevel := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel})
	}
	return slog.New(handler)
}

func newStore(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case "memory":
		slog.Info("Using in-memory storage")
		return memory.New(), nil
	case "badger":
		st, err := badger.New(badger.Config{
			Dir:        cfg.BadgerDir,
			SyncWrites: cfg.BadgerSyncWrites,
			GCInterval: cfg.BadgerGCInterval,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize BadgerDB storage: %w", err)
		}
		slog.Info("Using BadgerDB persistent storage", "dir", cfg.BadgerDir)
		return st, nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

func loadTLS(cfg config.ServerConfig) (*tls.Config, error) {
	if !cfg.TLSEnabled {
		return nil, nil
	}
	c, err := routetls.LoadTLSConfig(routetls.Config{
		CertFile:   cfg.TLSCertFile,
		KeyFile:    cfg.TLSKeyFile,
		CAFile:     cfg.TLSCAFile,
		ClientAuth: cfg.TLSClientAuth,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build TCP TLS configuration: %w", err)
	}
	return c, nil
}
