// Command relay starts the portal → CRM lead relay.
//
// It accepts lead webhooks from Property Finder (POST /webhook), Bayut
// (POST /webhook/bayut) and Dubizzle (POST /webhook/dubizzle), enriches them
// from the portal's read API where one exists, and writes a person, a deal
// and an audit note to Pipedrive. Liveness is served at GET / and
// GET /health/live, readiness at GET /health/ready.
//
// Usage:
//
//	go run ./cmd/relay [-config configs/relay.yaml] [-env .env]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Adithya-Monish-Kumar-K/lead-relay/internal/audit"
	"github.com/Adithya-Monish-Kumar-K/lead-relay/internal/crm"
	"github.com/Adithya-Monish-Kumar-K/lead-relay/internal/pipeline"
	"github.com/Adithya-Monish-Kumar-K/lead-relay/internal/portal"
	"github.com/Adithya-Monish-Kumar-K/lead-relay/internal/portal/atlas"
	"github.com/Adithya-Monish-Kumar-K/lead-relay/internal/portal/bayut"
	"github.com/Adithya-Monish-Kumar-K/lead-relay/internal/portal/dubizzle"
	"github.com/Adithya-Monish-Kumar-K/lead-relay/internal/relay/handler"
	"github.com/Adithya-Monish-Kumar-K/lead-relay/internal/relay/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/lead-relay/internal/relay/router"
	"github.com/Adithya-Monish-Kumar-K/lead-relay/internal/upstream"
	"github.com/Adithya-Monish-Kumar-K/lead-relay/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/lead-relay/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/lead-relay/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/lead-relay/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/lead-relay/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/lead-relay/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/lead-relay/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/lead-relay/pkg/redis"
)

// main loads configuration, connects the optional Redis, Kafka and
// PostgreSQL backends, wires the pipeline and starts the HTTP server.
// SIGINT/SIGTERM drains in-flight requests and flushes the audit buffer.
func main() {
	configPath := flag.String("config", "configs/relay.yaml", "path to config file")
	envPath := flag.String("env", ".env", "path to an optional .env file")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", *envPath, err)
		os.Exit(1)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting lead relay", "port", cfg.Server.Port)

	m := metrics.New(nil)
	if cfg.Metrics.Enabled {
		shutdownMetrics := m.Serve(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}
	checker := health.NewChecker()

	var sinks []audit.Sink
	if cfg.Audit.Enabled("http") {
		sinks = append(sinks, audit.NewHTTPSink(cfg.Audit.Endpoint, &http.Client{
			Timeout:   10 * time.Second,
			Transport: middleware.OutboundMetrics(m, "audit", nil),
		}))
	}
	if cfg.Audit.Enabled("kafka") {
		producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Audit.Topic)
		defer producer.Close()
		checker.Register("kafka", health.PingCheck(producer.Ping, true))
		sinks = append(sinks, audit.NewKafkaSink(producer))
		slog.Info("kafka audit sink enabled", "topic", cfg.Audit.Topic)
	}
	if cfg.Audit.Enabled("postgres") {
		db, err := postgres.New(cfg.Postgres)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		sink := audit.NewPostgresSink(db)
		if err := sink.EnsureSchema(context.Background()); err != nil {
			slog.Error("failed to prepare audit schema", "error", err)
			os.Exit(1)
		}
		checker.Register("postgres", health.PingCheck(db.Ping, true))
		sinks = append(sinks, sink)
		slog.Info("postgres audit sink enabled")
	}
	var auditLog *audit.Logger
	if len(sinks) > 0 {
		auditLog = audit.NewLogger(sinks, audit.Config{
			BufferSize:    cfg.Audit.BufferSize,
			BatchSize:     cfg.Audit.BatchSize,
			FlushInterval: cfg.Audit.FlushInterval,
		}, m)
		auditLog.Start(context.Background())
	}

	var locker pipeline.Locker = pipeline.NewMemoryLocker(cfg.Pipeline.LockWait)
	if cfg.Redis.Enabled {
		rdb, err := redis.NewClient(cfg.Redis)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer rdb.Close()
		checker.Register("redis", health.PingCheck(rdb.Ping, false))
		locker = pipeline.NewRedisLocker(rdb, cfg.Pipeline.LockTTL, cfg.Pipeline.LockWait)
		slog.Info("redis locker enabled", "addr", cfg.Redis.Addr)
	}

	fieldKeys, err := crm.NewFieldKeys(cfg.CRM.CustomFields)
	if err != nil {
		slog.Error("invalid crm.customFields", "error", err)
		os.Exit(1)
	}
	crmClient := crm.NewClient(cfg.CRM.Endpoint(), cfg.CRM.APIToken, outboundClient(m, auditLog, "crm", cfg.CRM.Timeout))

	var enricher portal.Enricher
	if cfg.Atlas.APIKey != "" && cfg.Atlas.APISecret != "" {
		upstreamHTTP := outboundClient(m, auditLog, "upstream", cfg.Atlas.Timeout)
		tokens := upstream.NewTokenCache(&upstream.CredentialSource{
			BaseURL:    cfg.Atlas.BaseURL,
			APIKey:     cfg.Atlas.APIKey,
			APISecret:  cfg.Atlas.APISecret,
			HTTPClient: upstreamHTTP,
		}, upstream.WithRefreshHook(func(err error) {
			status := "ok"
			if err != nil {
				status = "error"
			}
			m.TokenRefreshesTotal.WithLabelValues(status).Inc()
		}))
		enricher = upstream.NewClient(cfg.Atlas.BaseURL, tokens, upstreamHTTP)
	} else {
		slog.Warn("atlas api credentials not set, property finder leads use the webhook payload only")
	}

	adapters := router.Adapters{
		Atlas: atlas.New(atlas.Config{
			WebhookSecret:   cfg.Atlas.WebhookSecret,
			DefaultName:     cfg.Atlas.DefaultName,
			DefaultCurrency: cfg.CRM.DefaultCurrency,
		}, enricher),
		Bayut: bayut.New(bayut.Config{
			DefaultName:     cfg.Bayut.DefaultName,
			DefaultCurrency: cfg.CRM.DefaultCurrency,
		}),
		Dubizzle: dubizzle.New(dubizzle.Config{
			SigningSecret:   cfg.Dubizzle.SigningSecret,
			DefaultName:     cfg.Dubizzle.DefaultName,
			DefaultCurrency: cfg.CRM.DefaultCurrency,
		}),
	}
	if cfg.Dubizzle.SigningSecret == "" {
		slog.Warn("dubizzle signing secret not set, /webhook/dubizzle will reject every request")
	}

	p := pipeline.New(crmClient, fieldKeys, locker, m, pipeline.Options{
		PipelineID:     cfg.CRM.PipelineID,
		EnrichAttempts: cfg.Pipeline.EnrichAttempts,
		EnrichBackoff:  cfg.Pipeline.EnrichBackoff,
	})
	h := handler.New(p, auditLog)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	limiter := ratelimit.New(cfg.Server.RateLimit.Burst, cfg.Server.RateLimit.Window)
	go limiter.Run(ctx, 5*time.Minute)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router.New(h, adapters, checker, m, limiter),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()
	slog.Info("lead relay listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	auditLog.Close()
	slog.Info("lead relay stopped")
}

// outboundClient builds an http.Client whose calls are counted under target
// and, when auditing is on, recorded in the audit trail.
func outboundClient(m *metrics.Metrics, auditLog *audit.Logger, target string, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: audit.Transport(auditLog, target, middleware.OutboundMetrics(m, target, nil)),
	}
}
