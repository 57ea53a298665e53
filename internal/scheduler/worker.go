package scheduler

import (
	"context"
	"errors"
	"fmt"

	"pelias_geocoder/platform/config"
	"pelias_geocoder/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// RunExecutor executes a persisted batch run.
type RunExecutor interface {
	ExecuteRun(ctx context.Context, runID uuid.UUID) error
}

// ErrPermanent marks executor errors that must not be retried.
var ErrPermanent = errors.New("permanent failure")

type Worker struct {
	server   *asynq.Server
	mux      *asynq.ServeMux
	executor RunExecutor
	log      *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, executor RunExecutor, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 1
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	return newWorker(server, executor, log), nil
}

func newWorker(server *asynq.Server, executor RunExecutor, log *logger.Logger) *Worker {
	mux := asynq.NewServeMux()
	w := &Worker{
		server:   server,
		mux:      mux,
		executor: executor,
		log:      log,
	}

	mux.HandleFunc(TaskGeocodeBatch, w.handleGeocodeBatch)

	return w
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}

func (w *Worker) handleGeocodeBatch(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseGeocodeBatchPayload(task)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	runID, err := uuid.Parse(payload.RunID)
	if err != nil {
		return fmt.Errorf("invalid run id %q: %w", payload.RunID, asynq.SkipRetry)
	}

	ctx = context.WithValue(ctx, logger.RunIDKey, runID.String())
	if err := w.executor.ExecuteRun(ctx, runID); err != nil {
		w.log.WithContext(ctx).Error("geocode batch failed", "error", err)
		if errors.Is(err, ErrPermanent) {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}
	return nil
}
