package events

import (
	"context"

	platformevents "pelias_geocoder/platform/events"
	"pelias_geocoder/platform/logger"
)

// InMemoryBus is the process-local bus shared by the binaries.
type InMemoryBus = platformevents.InMemoryBus

// NewInMemoryBus creates a bus with the batch audit subscribers registered.
func NewInMemoryBus(log *logger.Logger) *InMemoryBus {
	bus := platformevents.NewInMemoryBus(log)
	SubscribeBatchLog(bus, log)
	return bus
}

// SubscribeBatchLog logs every queued and finished batch run.
func SubscribeBatchLog(bus Bus, log *logger.Logger) {
	if log == nil {
		log = logger.Discard()
	}
	bus.Subscribe(BatchQueued{}.EventName(), HandlerFunc(func(_ context.Context, e Event) error {
		evt, ok := e.(BatchQueued)
		if !ok {
			return nil
		}
		log.Info("geocode run queued",
			"runId", evt.RunID,
			"provider", evt.Provider,
			"operation", evt.Operation,
			"items", evt.Items,
		)
		return nil
	}))
	bus.Subscribe(BatchFinished{}.EventName(), HandlerFunc(func(_ context.Context, e Event) error {
		evt, ok := e.(BatchFinished)
		if !ok {
			return nil
		}
		attrs := []any{
			"runId", evt.RunID,
			"provider", evt.Provider,
			"operation", evt.Operation,
			"status", evt.Status,
			"written", evt.Written,
			"failed", evt.Failed,
		}
		if evt.ExportKey != "" {
			attrs = append(attrs, "exportKey", evt.ExportKey)
		}
		if evt.Error != "" {
			log.Warn("geocode run failed", append(attrs, "error", evt.Error)...)
			return nil
		}
		log.Info("geocode run finished", attrs...)
		return nil
	}))
}
