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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"

	"github.com/Lain-inrae/galaxy/internal/adapter/eventpublisher"
	"github.com/Lain-inrae/galaxy/internal/adapter/galaxyapi"
	"github.com/Lain-inrae/galaxy/internal/adapter/httpserver"
	"github.com/Lain-inrae/galaxy/internal/adapter/postgres"
	"github.com/Lain-inrae/galaxy/internal/adapter/redis"
	"github.com/Lain-inrae/galaxy/internal/app"
	"github.com/Lain-inrae/galaxy/internal/config"
	"github.com/Lain-inrae/galaxy/internal/domain"
	"github.com/Lain-inrae/galaxy/internal/events"
	"github.com/Lain-inrae/galaxy/internal/platform/logging"
)

const (
	setupTimeout       = 10 * time.Second
	initialLoadTimeout = 15 * time.Second
	shutdownTimeout    = 10 * time.Second
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupDB(cfg *config.Config) *pgxpool.Pool {
	ctx, cancel := context.WithTimeout(context.Background(), setupTimeout)
	defer cancel()

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := postgres.RunMigrationsWithLock(ctx, pool); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	return pool
}

func runGracefulShutdown(srv *httpserver.Server, bus *events.Bus, sub *redis.Subscription) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		if sub != nil {
			sub.Close()
		}
		bus.Drain()

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.Init(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port)

	pool := setupDB(cfg)
	defer pool.Close()

	var (
		redisClient *redis.Client
		userEvents  *redis.UserEvents
	)
	if cfg.RedisURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), setupTimeout)
		client, err := redis.NewClient(ctx, cfg.RedisURL)
		cancel()
		if err != nil {
			slog.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		redisClient = client
		userEvents = redis.NewUserEvents(client)
		defer func() { _ = redisClient.Close() }()
	} else {
		slog.Info("REDIS_URL not set, user-change events stay instance-local")
	}

	bus := events.NewBus(events.WithClock(clock))

	historyRepo := postgres.NewHistoryRepo(pool)
	historyStore := app.NewHistoryStore(historyRepo)
	historyStore.Register(bus)

	publisher := eventpublisher.New(bus, userEvents, clock)
	apiClient := galaxyapi.NewClient(cfg.GalaxyAPIURL, cfg.GalaxyAPIKey, cfg.GalaxyAPITimeout)
	sessionStore := app.NewSessionStore(apiClient, publisher, clock)

	// Peer logins refresh the local history caches, not the local session.
	var peerSub *redis.Subscription
	if userEvents != nil {
		peerSub = userEvents.Subscribe(context.Background(), func(ctx context.Context, event domain.UserChanged) {
			if err := bus.PublishUserChanged(ctx, event.User); err != nil {
				slog.Warn("Failed to relay peer user change", "error", err)
			}
		})
	}

	healthChecks := []httpserver.HealthCheck{
		{Name: "postgres", Check: pool.Ping},
	}
	if redisClient != nil {
		healthChecks = append(healthChecks, httpserver.HealthCheck{Name: "redis", Check: redisClient.Ping})
	}

	srv := httpserver.NewServer(cfg, sessionStore, historyStore, healthChecks)

	// Best-effort initial session refresh; a failure just leaves the user unset.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), initialLoadTimeout)
		defer cancel()
		sessionStore.LoadUser(ctx)
	}()

	done := runGracefulShutdown(srv, bus, peerSub)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
