package scheduler

import (
	"context"
	"time"

	"pelias_geocoder/platform/logger"
)

const (
	defaultRunCleanupInterval    = time.Hour
	defaultSucceededRunRetention = 30 * 24 * time.Hour
	defaultFailedRunRetention    = 7 * 24 * time.Hour
)

// RunPurger deletes finished runs and returns the export keys they held.
type RunPurger interface {
	DeleteFinishedRunsBefore(ctx context.Context, succeededBefore, failedBefore time.Time) (int64, []string, error)
}

// ExportRemover deletes exported run files.
type ExportRemover interface {
	Remove(ctx context.Context, key string) error
}

// RunCleanup periodically removes old finished geocode runs.
type RunCleanup struct {
	repo               RunPurger
	exports            ExportRemover
	log                *logger.Logger
	interval           time.Duration
	succeededRetention time.Duration
	failedRetention    time.Duration
	now                func() time.Time
}

// NewRunCleanup creates the cleanup loop. exports may be nil when exports are
// not configured.
func NewRunCleanup(repo RunPurger, exports ExportRemover, log *logger.Logger, interval, succeededRetention, failedRetention time.Duration) *RunCleanup {
	if interval <= 0 {
		interval = defaultRunCleanupInterval
	}
	if succeededRetention <= 0 {
		succeededRetention = defaultSucceededRunRetention
	}
	if failedRetention <= 0 {
		failedRetention = defaultFailedRunRetention
	}

	return &RunCleanup{
		repo:               repo,
		exports:            exports,
		log:                log,
		interval:           interval,
		succeededRetention: succeededRetention,
		failedRetention:    failedRetention,
		now:                time.Now,
	}
}

func (c *RunCleanup) Run(ctx context.Context) {
	if c == nil || c.repo == nil {
		return
	}

	c.cleanup(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.cleanup(ctx)
		}
	}
}

func (c *RunCleanup) cleanup(ctx context.Context) {
	now := c.now()
	succeededBefore := now.Add(-c.succeededRetention)
	failedBefore := now.Add(-c.failedRetention)

	deleted, keys, err := c.repo.DeleteFinishedRunsBefore(ctx, succeededBefore, failedBefore)
	if err != nil {
		c.log.Warn("geocode run cleanup failed", "error", err)
		return
	}

	if c.exports != nil {
		for _, key := range keys {
			if err := c.exports.Remove(ctx, key); err != nil {
				c.log.Warn("geocode export cleanup failed", "key", key, "error", err)
			}
		}
	}

	if deleted > 0 {
		c.log.Info("geocode run cleanup deleted finished runs", "deleted", deleted)
	}
}
