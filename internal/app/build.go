package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ent0n29/parlance/internal/capability"
	"github.com/ent0n29/parlance/internal/config"
	"github.com/ent0n29/parlance/internal/connections"
	"github.com/ent0n29/parlance/internal/health"
	"github.com/ent0n29/parlance/internal/httpapi"
	"github.com/ent0n29/parlance/internal/observability"
	"github.com/ent0n29/parlance/internal/router"
	"github.com/ent0n29/parlance/internal/session"
)

const (
	sessionJanitorInterval    = time.Minute
	connectionJanitorInterval = time.Minute
)

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Sessions *session.Manager
	Registry *connections.Registry
	Monitor  *health.Monitor
	Metrics  *observability.Metrics
	// Store is "postgres" or "in-memory".
	Store string

	// Cleanup should be called on shutdown to release external resources (DB pool, Kafka writer).
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	var closers []func() error
	cleanup := func() error {
		var errs []string
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				errs = append(errs, err.Error())
			}
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}
	fail := func(err error) (*BuildResult, error) {
		_ = cleanup()
		return nil, err
	}

	var pool *pgxpool.Pool
	storeMode := "in-memory"
	if url := strings.TrimSpace(cfg.DatabaseURL); url != "" {
		p, err := pgxpool.New(ctx, url)
		if err != nil {
			return fail(fmt.Errorf("connect postgres: %w", err))
		}
		closers = append(closers, func() error { p.Close(); return nil })
		if err := p.Ping(ctx); err != nil {
			return fail(fmt.Errorf("ping postgres: %w", err))
		}
		pool = p
		storeMode = "postgres"
	}

	sessionStore, err := session.NewStore(ctx, pool)
	if err != nil {
		return fail(fmt.Errorf("session store init failed: %w", err))
	}
	closers = append(closers, sessionStore.Close)

	connStore, err := connections.NewStore(ctx, pool)
	if err != nil {
		return fail(fmt.Errorf("connection store init failed: %w", err))
	}
	closers = append(closers, connStore.Close)

	healthStore, err := health.NewStore(ctx, pool)
	if err != nil {
		return fail(fmt.Errorf("health store init failed: %w", err))
	}
	closers = append(closers, healthStore.Close)

	var sinks []health.Sink
	if len(cfg.HealthKafkaBrokers) > 0 {
		sink := health.NewKafkaSink(cfg.HealthKafkaBrokers, cfg.HealthKafkaTopic)
		closers = append(closers, sink.Close)
		sinks = append(sinks, sink)
	}

	pair, err := capability.NewPair(capability.Config{
		Mode:           cfg.CapabilityMode,
		SpecializedURL: cfg.CapabilitySpecializedURL,
		GeneralURL:     cfg.CapabilityGeneralURL,
		Timeout:        cfg.CapabilityTimeout,
	})
	if err != nil {
		return fail(fmt.Errorf("capability init failed: %w", err))
	}

	hub := httpapi.NewHub()
	registry := connections.NewRegistry(connStore, hub, connections.Options{
		TTL:     cfg.ConnectionTTL,
		Logger:  logger.With("component", "connections"),
		Metrics: metrics,
	})

	sessions := session.NewManager(sessionStore, cfg.SessionTTL, nil, logger.With("component", "session"))
	sessions.SetExpireHook(func(removed int) {
		metrics.SessionEvents.WithLabelValues("expired").Add(float64(removed))
	})

	monitor := health.NewMonitor(pair, health.Options{
		Interval:     cfg.HealthCheckInterval,
		ProbeTimeout: cfg.HealthProbeTimeout,
		Store:        healthStore,
		Sinks:        sinks,
		Broadcaster:  registry,
		Logger:       logger.With("component", "health"),
		Metrics:      metrics,
	})
	if err := monitor.Restore(ctx); err != nil {
		logger.Warn("restore health verdict failed", "error", err)
	}

	failover := capability.NewFailover(pair, monitor, monitor, metrics, logger.With("component", "capability"))
	rt := router.New(sessions, failover, router.Options{
		Logger:  logger.With("component", "router"),
		Metrics: metrics,
	})

	api := httpapi.New(cfg, httpapi.Deps{
		Sessions: sessions,
		Registry: registry,
		Hub:      hub,
		Router:   rt,
		Monitor:  monitor,
		Metrics:  metrics,
		Logger:   logger.With("component", "httpapi"),
	})

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Sessions: sessions,
		Registry: registry,
		Monitor:  monitor,
		Metrics:  metrics,
		Store:    storeMode,
		Cleanup:  cleanup,
	}, nil
}

// Start launches the background jobs: both janitors and the health monitor.
// They stop when ctx is cancelled.
func (b *BuildResult) Start(ctx context.Context) {
	b.Sessions.StartJanitor(ctx, sessionJanitorInterval)
	b.Registry.StartJanitor(ctx, connectionJanitorInterval)
	b.Monitor.Start(ctx)
}
