// Command gateway runs the signed request gateway: an HTTP front door
// that authenticates HMAC-signed requests, enforces per-key daily
// limits, validates brick parameters, and dispatches to the installed
// capability handlers.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	_ "github.com/lib/pq" // Postgres driver

	"github.com/brickfoundry/gateway/pkg/api"
	"github.com/brickfoundry/gateway/pkg/auth"
	"github.com/brickfoundry/gateway/pkg/brick"
	"github.com/brickfoundry/gateway/pkg/bricks"
	"github.com/brickfoundry/gateway/pkg/config"
	"github.com/brickfoundry/gateway/pkg/credentials"
	"github.com/brickfoundry/gateway/pkg/gateway"
	"github.com/brickfoundry/gateway/pkg/idempotency"
	"github.com/brickfoundry/gateway/pkg/metering"
	"github.com/brickfoundry/gateway/pkg/observability"
	"github.com/brickfoundry/gateway/pkg/quota"
	"github.com/brickfoundry/gateway/pkg/reliability"
	"github.com/brickfoundry/gateway/pkg/schema"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "gateway:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// The signing secret comes through the credentials seam so deployments
	// can swap the source without touching the pipeline wiring.
	var secretSource credentials.SecretSource = credentials.EnvSecretSource{Var: "GATEWAY_SECRET"}
	secret, err := secretSource.Secret()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics, err := observability.NewProvider(ctx, observability.Config{
		ServiceName:    "gateway",
		ServiceVersion: version,
		OTLPEndpoint:   cfg.OTELEndpoint,
		Insecure:       true,
	})
	if err != nil {
		return err
	}
	defer metrics.Shutdown(context.Background())

	var db *sql.DB
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("pinging database: %w", err)
		}
	}

	// Quota store: Redis when configured, otherwise process-local.
	var quotaStore quota.Store
	if cfg.RedisAddr != "" {
		quotaStore = quota.NewRedisStore(cfg.RedisAddr, os.Getenv("REDIS_PASSWORD"), 0)
		logger.Info("quota store", "backend", "redis", "addr", cfg.RedisAddr)
	} else {
		quotaStore = quota.NewMemoryStore()
		logger.Info("quota store", "backend", "memory")
	}

	// Idempotency store: Postgres when configured.
	var idemStore idempotency.Store
	if db != nil {
		idemStore = idempotency.NewPostgresStore(db, cfg.IdempotencyTTL)
		logger.Info("idempotency store", "backend", "postgres")
	} else {
		idemStore = idempotency.NewMemoryStore(cfg.IdempotencyTTL)
		logger.Info("idempotency store", "backend", "memory")
	}
	cache := idempotency.NewCache(idemStore, cfg.IdempotencyTTL)

	var meter metering.Meter
	if db != nil {
		meter = metering.NewPostgresMeter(db)
	} else {
		meter = metering.NewMemoryMeter()
	}

	limits, err := config.LoadLimitsProfile(cfg.LimitsFile, cfg.DailyLimit)
	if err != nil {
		return err
	}

	exec := reliability.NewExecutor(reliability.Policy{
		MaxAttempts:      cfg.RetryMaxAttempts,
		BaseDelay:        cfg.RetryBaseDelay,
		MaxDelay:         cfg.RetryMaxDelay,
		BreakerThreshold: cfg.BreakerThreshold,
		BreakerCooldown:  cfg.BreakerCooldown,
	}, logger).WithMetrics(metrics)
	exec.SetBudget(bricks.DepSummarizer, reliability.NewBudget(cfg.SummaryBudget))

	resolver := loadConnections(logger)

	// Dependency clients. The loopback backend serves dev and test
	// deployments; production builds replace it at this seam.
	backend := bricks.NewLoopback()

	registry := brick.NewRegistry()
	validator := schema.NewValidator()
	descriptors := append(
		bricks.NewGmail(backend, backend, exec, resolver, meter).Descriptors(),
		bricks.NewCalendar(backend, exec, resolver).Descriptors()...,
	)
	for _, desc := range descriptors {
		if err := registry.Register(desc); err != nil {
			return err
		}
		if err := validator.Register(desc.Name, desc.InputSchema); err != nil {
			return err
		}
		logger.Info("brick registered", "name", desc.Name, "version", desc.Version)
	}

	gw := gateway.New(
		auth.NewVerifier(secret, cfg.ClockSkew),
		limits,
		quotaStore,
		validator,
		brick.NewDispatcher(registry, cfg.DispatchTimeout),
		cache,
		api.NewFormatter(),
		metrics,
		logger,
	)

	srv := gateway.NewServer(gateway.ServerConfig{
		Addr:         cfg.Addr,
		ReadTimeout:  cfg.DispatchTimeout,
		WriteTimeout: cfg.DispatchTimeout,
		BurstRPS:     20,
		Burst:        40,
	}, gw, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		return srv.Shutdown(context.Background())
	}
}

// version is stamped at build time via -ldflags.
var version = "dev"

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// loadConnections provisions the static connection table from
// GATEWAY_CONNECTIONS, a comma-separated list of entries in the form
// id:provider[:accountHint].
func loadConnections(logger *slog.Logger) *credentials.StaticResolver {
	resolver := credentials.NewStaticResolver()
	raw := os.Getenv("GATEWAY_CONNECTIONS")
	if raw == "" {
		return resolver
	}
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), ":", 3)
		if parts[0] == "" {
			continue
		}
		ref := &credentials.Reference{ConnectionID: parts[0], Provider: "gmail"}
		if len(parts) > 1 {
			ref.Provider = parts[1]
		}
		if len(parts) > 2 {
			ref.AccountHint = parts[2]
		}
		resolver.Add(ref)
		logger.Info("connection provisioned", "connection_id", ref.ConnectionID, "provider", ref.Provider)
	}
	return resolver
}
