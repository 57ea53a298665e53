package scheduler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"pelias_geocoder/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

type recordingExecutor struct {
	runs []uuid.UUID
	err  error
}

func (e *recordingExecutor) ExecuteRun(_ context.Context, runID uuid.UUID) error {
	e.runs = append(e.runs, runID)
	return e.err
}

func TestGeocodeBatchPayloadRoundTrip(t *testing.T) {
	task, err := NewGeocodeBatchTask(GeocodeBatchPayload{RunID: "abc"})
	if err != nil {
		t.Fatal(err)
	}
	if task.Type() != TaskGeocodeBatch {
		t.Fatalf("unexpected task type %q", task.Type())
	}

	payload, err := ParseGeocodeBatchPayload(task)
	if err != nil {
		t.Fatal(err)
	}
	if payload.RunID != "abc" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestHandleGeocodeBatch(t *testing.T) {
	exec := &recordingExecutor{}
	w := newWorker(nil, exec, logger.Discard())
	runID := uuid.New()

	task, _ := NewGeocodeBatchTask(GeocodeBatchPayload{RunID: runID.String()})
	if err := w.handleGeocodeBatch(context.Background(), task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(exec.runs) != 1 || exec.runs[0] != runID {
		t.Fatalf("expected executor to run %s, got %v", runID, exec.runs)
	}
}

func TestHandleGeocodeBatch_InvalidRunIDSkipsRetry(t *testing.T) {
	w := newWorker(nil, &recordingExecutor{}, logger.Discard())

	task, _ := NewGeocodeBatchTask(GeocodeBatchPayload{RunID: "not-a-uuid"})
	err := w.handleGeocodeBatch(context.Background(), task)
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
}

func TestHandleGeocodeBatch_PermanentErrorSkipsRetry(t *testing.T) {
	w := newWorker(nil, &recordingExecutor{err: fmt.Errorf("provider gone: %w", ErrPermanent)}, logger.Discard())

	task, _ := NewGeocodeBatchTask(GeocodeBatchPayload{RunID: uuid.NewString()})
	if err := w.handleGeocodeBatch(context.Background(), task); !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
}

func TestHandleGeocodeBatch_TransientErrorRetries(t *testing.T) {
	w := newWorker(nil, &recordingExecutor{err: errors.New("db down")}, logger.Discard())

	task, _ := NewGeocodeBatchTask(GeocodeBatchPayload{RunID: uuid.NewString()})
	err := w.handleGeocodeBatch(context.Background(), task)
	if err == nil || errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected retryable error, got %v", err)
	}
}

type fakePurger struct {
	succeededBefore time.Time
	failedBefore    time.Time
}

func (p *fakePurger) DeleteFinishedRunsBefore(_ context.Context, succeededBefore, failedBefore time.Time) (int64, []string, error) {
	p.succeededBefore = succeededBefore
	p.failedBefore = failedBefore
	return 3, []string{"runs/a.geojson", "runs/b.geojson"}, nil
}

type fakeRemover struct {
	removed []string
}

func (r *fakeRemover) Remove(_ context.Context, key string) error {
	r.removed = append(r.removed, key)
	if key == "runs/a.geojson" {
		return errors.New("already gone")
	}
	return nil
}

func TestRunCleanup_Retention(t *testing.T) {
	purger := &fakePurger{}
	remover := &fakeRemover{}
	c := NewRunCleanup(purger, remover, logger.Discard(), 0, 24*time.Hour, 48*time.Hour)
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.cleanup(context.Background())

	if !purger.succeededBefore.Equal(now.Add(-24 * time.Hour)) {
		t.Fatalf("unexpected succeeded cutoff %s", purger.succeededBefore)
	}
	if !purger.failedBefore.Equal(now.Add(-48 * time.Hour)) {
		t.Fatalf("unexpected failed cutoff %s", purger.failedBefore)
	}
	if len(remover.removed) != 2 {
		t.Fatalf("expected both exports removed, got %v", remover.removed)
	}
	if c.interval != defaultRunCleanupInterval {
		t.Fatalf("expected default interval, got %s", c.interval)
	}
}
