package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pelias_geocoder/internal/adapters/storage"
	"pelias_geocoder/internal/events"
	"pelias_geocoder/internal/geocode/batch"
	"pelias_geocoder/internal/geocode/cache"
	"pelias_geocoder/internal/geocode/client"
	"pelias_geocoder/internal/geocode/export"
	"pelias_geocoder/internal/geocode/provider"
	"pelias_geocoder/internal/geocode/repository"
	"pelias_geocoder/internal/geocoding"
	"pelias_geocoder/internal/scheduler"
	"pelias_geocoder/platform/config"
	"pelias_geocoder/platform/db"
	"pelias_geocoder/platform/logger"
	"pelias_geocoder/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting geocode worker", "env", cfg.Env, "queue", cfg.GetAsynqQueueName())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()

	eventBus := events.NewInMemoryBus(log)
	defer eventBus.Wait()

	val := validator.New()
	providers := provider.NewFileSource(cfg.GetProvidersFile(), val)

	clientOpts := []client.Option{
		client.WithRetryTimeout(cfg.GetRetryTimeout()),
		client.WithHTTPClient(&http.Client{Timeout: cfg.GetHTTPTimeout()}),
	}
	responseCache, err := cache.New(cfg, cfg.GetRedisTLSInsecure())
	if err != nil {
		log.Error("failed to initialize response cache", "error", err)
		panic("failed to initialize response cache: " + err.Error())
	}
	if responseCache != nil {
		defer func() { _ = responseCache.Close() }()
		clientOpts = append(clientOpts, client.WithCache(responseCache))
	}

	repo := repository.NewRepository(pool)
	svcOpts := []geocoding.Option{
		geocoding.WithRunStore(repo),
		geocoding.WithEventBus(eventBus),
	}

	var exports scheduler.ExportRemover
	if cfg.IsMinIOEnabled() {
		storageSvc, err := storage.NewMinIOService(cfg)
		if err != nil {
			log.Error("failed to initialize storage service", "error", err)
			panic("failed to initialize storage service: " + err.Error())
		}
		publisher := export.NewPublisher(storageSvc, cfg.GetMinioBucketExports())
		if err := withRetry(ctx, log, "ensure exports bucket", 5, 2*time.Second, func() error {
			return publisher.EnsureBucket(ctx)
		}); err != nil {
			log.Error("failed to ensure storage bucket exists", "error", err, "bucket", cfg.GetMinioBucketExports())
			panic("failed to ensure storage bucket exists: " + err.Error())
		}
		svcOpts = append(svcOpts, geocoding.WithExporter(publisher))
		exports = publisher
	} else {
		log.Warn("MINIO_ENDPOINT not configured; runs are not exported")
	}

	runner := batch.NewRunner(providers, log, clientOpts...)
	defer func() { _ = runner.Close() }()
	svc := geocoding.NewService(providers, runner, log, svcOpts...)

	cleanup := scheduler.NewRunCleanup(
		repo,
		exports,
		log,
		cfg.GetRunCleanupInterval(),
		cfg.GetRunRetentionSucceeded(),
		cfg.GetRunRetentionFailed(),
	)
	go cleanup.Run(ctx)

	worker, err := scheduler.NewWorker(cfg, svc, log)
	if err != nil {
		log.Error("failed to initialize geocode worker", "error", err)
		panic("failed to initialize geocode worker: " + err.Error())
	}

	worker.Run(ctx)
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return errors.New(name + ": invalid retry attempts")
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
