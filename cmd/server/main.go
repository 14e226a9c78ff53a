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
	goredis "github.com/redis/go-redis/v9"

	"github.com/intern-cubit/trackerApp-sub002/internal/auth"
	"github.com/intern-cubit/trackerApp-sub002/internal/command"
	"github.com/intern-cubit/trackerApp-sub002/internal/config"
	"github.com/intern-cubit/trackerApp-sub002/internal/database"
	"github.com/intern-cubit/trackerApp-sub002/internal/domain"
	"github.com/intern-cubit/trackerApp-sub002/internal/identity"
	"github.com/intern-cubit/trackerApp-sub002/internal/ingest"
	"github.com/intern-cubit/trackerApp-sub002/internal/logging"
	"github.com/intern-cubit/trackerApp-sub002/internal/notify"
	"github.com/intern-cubit/trackerApp-sub002/internal/redis"
	"github.com/intern-cubit/trackerApp-sub002/internal/registry"
	"github.com/intern-cubit/trackerApp-sub002/internal/server"
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

func setupRedis(ctx context.Context, cfg *config.Config) *goredis.Client {
	client, err := redis.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

func runGracefulShutdown(srv *server.Server, sweeper *command.Sweeper, reg *registry.Registry) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		sweeper.Stop()
		reg.Stop()

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port)

	pool := setupDB(cfg)
	defer pool.Close()

	redisClient := setupRedis(context.Background(), cfg)
	defer func() { _ = redisClient.Close() }()

	deviceRepo := database.NewDeviceRepo(pool)
	commandRepo := database.NewCommandRepo(pool)
	locationRepo := database.NewLocationRepo(pool)
	notificationRepo := database.NewNotificationRepo(pool)

	presence := redis.NewPresenceStore(redisClient)
	reportLimiter := redis.NewReportRateLimiter(redisClient, clock, cfg.ReportBurst, cfg.ReportRatePerMinute)

	resolver := identity.NewResolver(deviceRepo, clock, cfg.ActivationValidity)
	verifier := auth.NewVerifier(cfg.TokenSigningKey, clock)

	// The fanout wraps the registry, and the registry's presence callbacks
	// publish through the fanout. The callbacks only fire once sessions
	// bind, well after both are constructed.
	var events *notify.Fanout

	publishPresence := func(deviceID uuid.UUID, online bool) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		now := clock.Now()
		var err error
		if online {
			err = presence.SetOnline(ctx, deviceID, now)
		} else {
			err = presence.SetOffline(ctx, deviceID, now)
		}
		if err != nil {
			slog.Warn("Presence update failed", "device_id", deviceID.String(), "online", online, "error", err)
		}

		device, err := deviceRepo.GetByID(ctx, deviceID)
		if err != nil || device.OwnerID == nil {
			return
		}
		events.Publish(*device.OwnerID, domain.EventDeviceStatus, map[string]any{
			"deviceId": deviceID.String(),
			"online":   online,
			"at":       now.UTC(),
		})
	}

	reg := registry.New(
		func(deviceID uuid.UUID) { publishPresence(deviceID, true) },
		func(deviceID uuid.UUID) { publishPresence(deviceID, false) },
	)
	events = notify.NewFanout(reg)

	manager := command.NewManager(deviceRepo, commandRepo, reg, events, clock, cfg.CommandTimeout, cfg.CommandMaxRetries)
	sweeper := command.NewSweeper(manager, clock, cfg.SweepInterval)
	sweeper.Start()

	pipeline := ingest.NewPipeline(resolver, locationRepo, notificationRepo, events, reportLimiter, clock)

	srv := server.NewServer(cfg, resolver, manager, pipeline, reg, locationRepo, verifier, pool, redisClient)

	done := runGracefulShutdown(srv, sweeper, reg)

	slog.Info("Server starting", "port", cfg.Port)
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
