// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"pelias_geocoder/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// =============================================================================
// Geocoding Domain Events
// =============================================================================

// BatchQueued is published when a batch run has been stored and enqueued.
type BatchQueued struct {
	BaseEvent
	RunID     uuid.UUID  `json:"runId"`
	Provider  string     `json:"provider"`
	Operation string     `json:"operation"`
	Items     int        `json:"items"`
	CreatedBy *uuid.UUID `json:"createdBy,omitempty"`
}

func (e BatchQueued) EventName() string { return "geocode.batch.queued" }

// BatchFinished is published when a worker has closed a run.
type BatchFinished struct {
	BaseEvent
	RunID     uuid.UUID `json:"runId"`
	Provider  string    `json:"provider"`
	Operation string    `json:"operation"`
	Status    string    `json:"status"`
	Written   int       `json:"written"`
	Failed    int       `json:"failed"`
	ExportKey string    `json:"exportKey,omitempty"`
	Error     string    `json:"error,omitempty"`
}

func (e BatchFinished) EventName() string { return "geocode.batch.finished" }
