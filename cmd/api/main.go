package main

import (
	"context"
	"errors"
	"fmt"
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
	apphttp "pelias_geocoder/internal/http"
	"pelias_geocoder/internal/http/router"
	"pelias_geocoder/internal/scheduler"
	"pelias_geocoder/migrations"
	"pelias_geocoder/platform/config"
	"pelias_geocoder/platform/db"
	"pelias_geocoder/platform/logger"
	"pelias_geocoder/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize structured logger
	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	var pool *pgxpool.Pool
	if cfg.GetDatabaseURL() != "" {
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
		log.Info("database connection established")

		if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
			return db.RunMigrations(ctx, pool, migrations.FS)
		}); err != nil {
			log.Error("failed to run database migrations", "error", err)
			panic("failed to run database migrations: " + err.Error())
		}
		log.Info("database migrations complete")
	} else {
		log.Warn("DATABASE_URL not configured; batch runs disabled")
	}

	eventBus := events.NewInMemoryBus(log)
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
		if err := withRetry(ctx, log, "response cache ping", 3, time.Second, func() error {
			return responseCache.Ping(ctx)
		}); err != nil {
			log.Error("failed to reach response cache", "error", err)
			panic("failed to reach response cache: " + err.Error())
		}
		clientOpts = append(clientOpts, client.WithCache(responseCache))
		log.Info("response cache enabled", "ttl", cfg.GetCacheTTL())
	}
	runner := batch.NewRunner(providers, log, clientOpts...)
	defer func() { _ = runner.Close() }()

	svcOpts := []geocoding.Option{geocoding.WithEventBus(eventBus)}
	if pool != nil {
		svcOpts = append(svcOpts, geocoding.WithRunStore(repository.NewRepository(pool)))

		enqueuer, closeEnqueuer := initBatchEnqueuer(cfg, log)
		if closeEnqueuer != nil {
			defer closeEnqueuer()
			svcOpts = append(svcOpts, geocoding.WithEnqueuer(enqueuer))
		}
	}
	if publisher := initPublisher(ctx, cfg, log); publisher != nil {
		svcOpts = append(svcOpts, geocoding.WithExporter(publisher))
	}

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	geocodingModule := geocoding.NewModule(geocoding.NewService(providers, runner, log, svcOpts...))

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config:   cfg,
		Logger:   log,
		EventBus: eventBus,
		Modules:  []apphttp.Module{geocodingModule},
	}
	if pool != nil {
		app.Health = pool
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router.New(app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		panic("server error: " + err.Error())
	}
	eventBus.Wait()
}

func initBatchEnqueuer(cfg config.SchedulerConfig, log *logger.Logger) (scheduler.BatchEnqueuer, func()) {
	if cfg.GetRedisURL() == "" {
		log.Warn("REDIS_URL not configured; batch submission disabled")
		return nil, nil
	}

	batchClient, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize batch queue client", "error", err)
		return nil, nil
	}

	return batchClient, func() {
		_ = batchClient.Close()
	}
}

func initPublisher(ctx context.Context, cfg config.MinIOConfig, log *logger.Logger) *export.Publisher {
	if !cfg.IsMinIOEnabled() {
		log.Warn("MINIO_ENDPOINT not configured; exports disabled")
		return nil
	}

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
	log.Info("storage service initialized", "exportsBucket", cfg.GetMinioBucketExports())
	return publisher
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
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
