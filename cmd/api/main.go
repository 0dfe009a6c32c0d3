// Package main is the entry point for the carpool API server.
// Its sole responsibility is wiring dependencies together and starting the server.
// No business logic belongs here.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/redis/go-redis/v9"

	"github.com/pkordes/carpool/backend/internal/config"
	"github.com/pkordes/carpool/backend/internal/domain"
	"github.com/pkordes/carpool/backend/internal/geofence"
	"github.com/pkordes/carpool/backend/internal/handler"
	"github.com/pkordes/carpool/backend/internal/ingest"
	"github.com/pkordes/carpool/backend/internal/middleware"
	"github.com/pkordes/carpool/backend/internal/notify"
	"github.com/pkordes/carpool/backend/internal/realtime"
	"github.com/pkordes/carpool/backend/internal/repo"
	"github.com/pkordes/carpool/backend/internal/service"
	"github.com/pkordes/carpool/backend/internal/tracking"
	"github.com/pkordes/carpool/backend/migrations"
)

func main() {
	// --- Config -----------------------------------------------------------
	cfg, err := config.Load()
	if err != nil {
		// Use plain stderr before the logger is configured.
		slog.Error("configuration error", "error", err)
		os.Exit(1)
	}

	// --- Logger -----------------------------------------------------------
	var logLevel slog.Level
	if err := logLevel.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Database ---------------------------------------------------------
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("create database pool: %w", err)
	}
	defer pool.Close()

	// Verify the DB is reachable before accepting traffic.
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	logger.Info("database connection established")

	if cfg.RunMigrations {
		if err := migrate(ctx, pool, logger); err != nil {
			return err
		}
	}

	// --- Realtime fan-out and tracking markers ------------------------------
	// With Redis every instance shares one event bus and one marker set;
	// without it both stay in process.
	var (
		broker  realtime.Broker
		markers tracking.MarkerStore
		deduper notify.Deduper
		rdb     *redis.Client
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse REDIS_URL: %w", err)
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		broker = realtime.NewRedisBroker(rdb, logger)
		markers = tracking.NewRedisMarkerStore(rdb)
		deduper = notify.NewRedisDeduper(rdb, notify.DedupeTTL)
		logger.Info("redis connection established")
	} else {
		broker = realtime.NewMemoryBroker(logger)
		markers = tracking.NewMemoryMarkerStore()
		deduper = notify.NewMemoryDeduper(notify.DedupeTTL)
	}
	defer broker.Close()

	// --- Repositories -----------------------------------------------------
	sessionRepo := repo.NewSessionRepo(pool)
	routeRepo := repo.NewRouteRepo(pool)
	stopRepo := repo.NewSessionStopRepo(pool)
	memberRepo := repo.NewMembershipRepo(pool)
	pointRepo := repo.NewMeetingPointRepo(pool)
	locationRepo := repo.NewLocationRepo(pool)
	ratingRepo := repo.NewRatingRepo(pool)
	deviceRepo := repo.NewDeviceRepo(pool)

	// --- Tracking ---------------------------------------------------------
	var locations tracking.LocationWriter = locationRepo
	if len(cfg.KafkaBrokers) > 0 {
		kw := ingest.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kw.Close()
		locations = ingest.NewKafkaPublisher(locationRepo, kw, logger)
		logger.Info("mirroring positions to kafka", "brokers", cfg.KafkaBrokers, "topic", kw.Topic)
	}
	manager := tracking.NewManager(tracking.ManagerConfig{
		Markers:  markers,
		Writer:   locations,
		Options:  tracking.Options{MinInterval: cfg.TrackingMinInterval, MinDistance: cfg.TrackingMinDistance},
		Logger:   logger,
		Owner:    instanceID(),
		LeaseTTL: cfg.TrackingLeaseTTL,
	})
	defer manager.Shutdown()

	resumed, err := manager.Recover(ctx, sessionRepo.GetByID)
	if err != nil {
		// Markers stay in place; the lease sweep in Run retries.
		logger.Error("tracking recovery failed", "error", err)
	} else {
		logger.Info("tracking recovered", "resumed", resumed, "owner", manager.Owner())
	}
	go manager.Run(ctx, sessionRepo.GetByID)

	// --- Change feed ------------------------------------------------------
	listener := realtime.NewPGListener(pool, broker, logger)
	if rdb != nil {
		// Only one instance should forward NOTIFY into the shared bus.
		listener = listener.Exclusive()
	}
	go func() { _ = listener.Run(ctx) }()

	// --- Services ---------------------------------------------------------
	validator := geofence.NewValidator(cfg.GeofenceThreshold)
	sessions := service.NewSessionService(sessionRepo, routeRepo, stopRepo, memberRepo, manager, cfg.MaxPassengers, logger)

	available := realtime.NewAvailableSessionsView(sessions.LoadAvailable)
	if err := available.Refresh(ctx); err != nil {
		logger.Warn("available sessions view not loaded; serving from the database", "error", err)
	}
	for _, table := range []string{domain.TableTripSessions, domain.TablePassengerSessions} {
		if _, err := realtime.Watch(ctx, broker, realtime.TableTopic(table), available, logger); err != nil {
			return fmt.Errorf("watch %s: %w", table, err)
		}
	}
	sessions.WithAvailable(available)

	// --- Notifications ----------------------------------------------------
	var pusher notify.Pusher = notify.LogPusher{Log: logger}
	if cfg.FCMEndpoint != "" {
		pusher = notify.NewFCMPusher(cfg.FCMEndpoint, cfg.FCMKey)
	}
	hook := notify.NewHook(sessionRepo, deviceRepo, pusher, broker, deduper, logger)
	if _, err := realtime.Watch(ctx, broker, hook.Topic(), hook, logger); err != nil {
		return fmt.Errorf("watch new passengers: %w", err)
	}

	// --- Router -----------------------------------------------------------
	srvHandlers := handler.NewServer(handler.Services{
		Sessions:  sessions,
		Members:   service.NewMembershipService(sessionRepo, routeRepo, memberRepo, pointRepo, validator, cfg.MaxPassengers, logger),
		Routes:    service.NewRouteService(routeRepo, validator),
		CheckIns:  service.NewCheckInService(sessionRepo, stopRepo, cfg.EnforceStopOrder),
		Ratings:   service.NewRatingService(sessionRepo, memberRepo, ratingRepo),
		Locations: service.NewLocationService(sessionRepo, locationRepo, manager),
		Devices:   service.NewDeviceService(deviceRepo),
	}, broker, logger)

	router := srvHandlers.Router(handler.RouterConfig{
		Verifier:     middleware.NewVerifier([]byte(cfg.JWTSecret)),
		CORSOrigins:  cfg.CORSOrigins,
		MaxBodyBytes: cfg.MaxBodyBytes,
		Ready:        pool.Ping,
	})

	// --- HTTP Server ------------------------------------------------------
	// WriteTimeout is left to the handlers: session sockets are long-lived
	// and set their own per-frame write deadlines.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down server")

	// Give in-flight requests up to ShutdownTimeout to complete.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// instanceID names this process in tracking markers: the hostname for
// operators, plus a random suffix so a restarted pod never reuses a lease.
func instanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "carpool"
	}
	return host + "-" + uuid.NewString()[:8]
}

// migrate applies the embedded goose migrations through a database/sql
// handle sharing the pgx pool.
func migrate(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, migrations.FS)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	logger.Info("migrations applied", "count", len(results))
	return nil
}
