package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/meridianops/stockflow-backend/internal/catalog"
	"github.com/meridianops/stockflow-backend/internal/cron"
	"github.com/meridianops/stockflow-backend/internal/locations"
	"github.com/meridianops/stockflow-backend/internal/picking"
	"github.com/meridianops/stockflow-backend/internal/reservations"
	"github.com/meridianops/stockflow-backend/internal/stock"
	"github.com/meridianops/stockflow-backend/pkg/config"
	"github.com/meridianops/stockflow-backend/pkg/db"
	"github.com/meridianops/stockflow-backend/pkg/logger"
	"github.com/meridianops/stockflow-backend/pkg/metrics"
	"github.com/meridianops/stockflow-backend/pkg/migrate"
	"github.com/meridianops/stockflow-backend/pkg/redis"
)

const sweepLockName = "reservation-sweep"

func main() {
	logg := logger.New(logger.Options{ServiceName: "sweep-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "sweep-worker"

	logg = logger.New(logger.Options{
		ServiceName: "sweep-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	gormDB := dbClient.DB()
	catalogRepo := catalog.NewRepository(gormDB)
	locationsRepo := locations.NewRepository(gormDB)

	locationsSvc, err := locations.NewService(locationsRepo)
	if err != nil {
		logg.Error(context.Background(), "failed to create locations service", err)
		os.Exit(1)
	}
	if _, err := locationsSvc.EnsureDefaultLocation(context.Background()); err != nil {
		logg.Error(context.Background(), "failed to ensure default location", err)
		os.Exit(1)
	}

	stockRepo := stock.NewRepository(gormDB)
	stockSvc, err := stock.NewService(dbClient, stockRepo, locationsRepo, catalogRepo, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create stock service", err)
		os.Exit(1)
	}

	engine, err := picking.NewEngine(cfg.Picking, locationsRepo, stockRepo, stockSvc)
	if err != nil {
		logg.Error(context.Background(), "failed to create picking engine", err)
		os.Exit(1)
	}

	reservationsSvc, err := reservations.NewService(dbClient, reservations.NewRepository(gormDB), engine, stockSvc, cfg.Reservations, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create reservations service", err)
		os.Exit(1)
	}

	metricsCollector := metrics.NewWorkerJobMetrics(prometheus.DefaultRegisterer)

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(sweepLockName), cfg.Sweep.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create sweep lock", err)
		os.Exit(1)
	}

	expiryJob, err := cron.NewReservationExpiryJob(cron.ReservationExpiryJobParams{
		Logger:       logg,
		Reservations: reservationsSvc,
		BatchLimit:   cfg.Sweep.BatchLimit,
		Metrics:      metricsCollector,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reservation expiry job", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(expiryJob),
		Lock:     lock,
		Metrics:  metricsCollector,
		Interval: cfg.Sweep.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create sweep service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting sweep worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "sweep worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "sweep worker shutting down gracefully")
}
