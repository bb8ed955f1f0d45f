package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/tablepulse/internal/adapter/httpserver"
	"github.com/pscheid92/tablepulse/internal/adapter/metrics"
	"github.com/pscheid92/tablepulse/internal/adapter/nats"
	"github.com/pscheid92/tablepulse/internal/adapter/postgres"
	"github.com/pscheid92/tablepulse/internal/adapter/redis"
	"github.com/pscheid92/tablepulse/internal/app"
	"github.com/pscheid92/tablepulse/internal/auth"
	"github.com/pscheid92/tablepulse/internal/broadcast"
	"github.com/pscheid92/tablepulse/internal/domain"
	"github.com/pscheid92/tablepulse/internal/platform/config"
	"github.com/pscheid92/tablepulse/internal/platform/logging"
	"github.com/pscheid92/tablepulse/internal/ratelimit"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

type relaySetup struct {
	relay   domain.EventRelay
	checks  []httpserver.HealthCheck
	cleanup func()
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupDB(cfg *config.Config, m *metrics.StorageMetrics) *pgxpool.Pool {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL, m)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	version, err := postgres.Migrate(ctx, pool)
	if err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("Database schema ready", "version", version)

	return pool
}

// setupRelay picks the cross-instance event relay. Every backend delivers into
// the same local registry; only redis and nats reach other instances.
func setupRelay(ctx context.Context, cfg *config.Config, m *metrics.RelayMetrics, sm *metrics.StorageMetrics) relaySetup {
	switch cfg.RelayBackend {
	case config.RelayRedis:
		client, err := redis.NewClient(ctx, cfg.RedisURL, sm)
		if err != nil {
			slog.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		return relaySetup{
			relay: redis.NewRelay(client, m),
			checks: []httpserver.HealthCheck{{
				Name:  "redis",
				Check: func(ctx context.Context) error { return client.Ping(ctx).Err() },
			}},
			cleanup: func() { _ = client.Close() },
		}

	case config.RelayNATS:
		nc, err := nats.Connect(cfg.NatsURL)
		if err != nil {
			slog.Error("Failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		return relaySetup{
			relay: nats.NewRelay(nc, m),
			checks: []httpserver.HealthCheck{{
				Name: "nats",
				Check: func(context.Context) error {
					if !nc.IsConnected() {
						return errors.New("nats connection is " + nc.Status().String())
					}
					return nil
				},
			}},
			cleanup: nc.Close,
		}

	default:
		return relaySetup{relay: broadcast.NewLocalRelay(), cleanup: func() {}}
	}
}

// sweepLimiter drops expired rate-limit windows once per window length.
func sweepLimiter(ctx context.Context, limiter *ratelimit.Limiter, clock clockwork.Clock, every time.Duration) {
	ticker := clock.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if n := limiter.Sweep(); n > 0 {
				slog.Debug("Swept rate limit windows", "removed", n, "remaining", limiter.Len())
			}
		}
	}
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "relay", cfg.RelayBackend)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	promRegistry := metrics.NewRegistry()
	streamMetrics := metrics.NewStreamMetrics(promRegistry)
	relayMetrics := metrics.NewRelayMetrics(promRegistry)
	httpMetrics := metrics.NewHTTPMetrics(promRegistry)
	storageMetrics := metrics.NewStorageMetrics(promRegistry)

	pool := setupDB(cfg, storageMetrics)
	defer pool.Close()

	relay := setupRelay(ctx, cfg, relayMetrics, storageMetrics)
	defer relay.cleanup()

	validator := auth.NewValidator(
		postgres.NewSessionRepo(pool),
		postgres.NewUserRepo(pool),
		postgres.NewTenantRepo(pool),
		auth.Config{CookieName: cfg.SessionCookieName, Secret: cfg.SessionSecret, Clock: clock},
	)

	registry := broadcast.NewRegistry(broadcast.Options{
		Clock:                   clock,
		MaxConnectionsPerTenant: cfg.MaxConnectionsPerTenant,
		OnTenantEmpty: func(tenantID uuid.UUID) {
			slog.Debug("Tenant group emptied", "tenant_id", tenantID)
		},
		Metrics: streamMetrics,
	})
	supervisor := broadcast.NewSupervisor(registry, clock, cfg.HeartbeatInterval, cfg.HeartbeatTimeout, streamMetrics)
	limiter := ratelimit.New(cfg.MessageRateLimit, cfg.MessageRateWindow, clock)

	scheduleSvc := app.NewScheduleService(postgres.NewScheduleRepo(pool), relay.relay, cfg.SlotLayout(), clock)

	checks := append([]httpserver.HealthCheck{{
		Name:  "postgres",
		Check: func(ctx context.Context) error { return pool.Ping(ctx) },
	}}, relay.checks...)

	srv := httpserver.NewServer(cfg, httpserver.Deps{
		Schedule:       scheduleSvc,
		Validator:      validator,
		Registry:       registry,
		Limiter:        limiter,
		Clock:          clock,
		StreamMetrics:  streamMetrics,
		HTTPMetrics:    httpMetrics,
		MetricsHandler: metrics.Handler(promRegistry),
		HealthChecks:   checks,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := relay.relay.Run(gctx, registry); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		supervisor.Run(gctx)
		return nil
	})
	g.Go(func() error {
		sweepLimiter(gctx, limiter, clock, cfg.MessageRateWindow)
		return nil
	})
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}
		registry.Stop()
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped")
}
