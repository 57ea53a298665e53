package events

import (
	"bytes"
	"context"
	"testing"

	"pelias_geocoder/platform/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeBatchLog(t *testing.T) {
	var buf bytes.Buffer
	bus := NewInMemoryBus(logger.NewWithWriter("production", &buf))
	runID := uuid.New()

	require.NoError(t, bus.PublishSync(context.Background(), BatchQueued{
		BaseEvent: NewBaseEvent(),
		RunID:     runID,
		Provider:  "local",
		Operation: "search",
		Items:     3,
	}))
	require.NoError(t, bus.PublishSync(context.Background(), BatchFinished{
		BaseEvent: NewBaseEvent(),
		RunID:     runID,
		Provider:  "local",
		Operation: "search",
		Status:    "failed",
		Error:     "provider unreachable",
	}))

	out := buf.String()
	assert.Contains(t, out, "geocode run queued")
	assert.Contains(t, out, "geocode run failed")
	assert.Contains(t, out, runID.String())
	assert.Contains(t, out, "provider unreachable")
}
