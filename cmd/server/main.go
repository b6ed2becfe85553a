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

	"github.com/citysense/citysense/internal/app"
	"github.com/citysense/citysense/internal/config"
	"github.com/citysense/citysense/internal/database"
	"github.com/citysense/citysense/internal/domain"
	"github.com/citysense/citysense/internal/logging"
	"github.com/citysense/citysense/internal/realtime"
	"github.com/citysense/citysense/internal/redis"
	"github.com/citysense/citysense/internal/server"
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
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	if err := database.RunMigrations(ctx, pool); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}
	return pool
}

func runGracefulShutdown(srv *server.Server, cancel context.CancelFunc) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		cancel()
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

	registry := realtime.NewRegistry()
	broadcaster := realtime.NewBroadcaster(registry, clock)
	publisher := realtime.NewPublisher(broadcaster, domain.DefaultCategoryRoles(), clock)

	alertRepo := database.NewAlertRepo(pool)
	sensorRepo := database.NewSensorRepo(pool)
	metricRepo := database.NewMetricRepo(pool)
	identityRepo := database.NewIdentityRepo(pool)

	dispatcher := realtime.NewDispatcher(registry, broadcaster, alertRepo, sensorRepo, metricRepo, clock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		client, err := redis.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			slog.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer func() { _ = client.Close() }()
		redisClient = client

		relay := redis.NewEventRelay(client, broadcaster)
		broadcaster.SetRelay(relay)
		go relay.Run(ctx)
		slog.Info("Cross-instance event relay enabled")
	}

	healthTicker := app.NewHealthTicker(sensorRepo, alertRepo, publisher, clock, cfg.HealthInterval)
	go healthTicker.Run(ctx)

	srv := server.NewServer(cfg, server.Deps{
		Registry:    registry,
		Broadcaster: broadcaster,
		Dispatcher:  dispatcher,
		Publisher:   publisher,
		Identity:    identityRepo,
		Alerts:      alertRepo,
		Sensors:     sensorRepo,
		Metrics:     metricRepo,
		Pool:        pool,
		RedisClient: redisClient,
		Clock:       clock,
	})

	done := runGracefulShutdown(srv, cancel)

	slog.Info("Server starting", "port", cfg.Port)
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
