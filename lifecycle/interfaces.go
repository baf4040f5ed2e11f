// Package lifecycle records and dispatches the state transitions of a
// co-simulation party: commands received, transitions taken, runs finished.
package lifecycle

import (
	"context"
	"time"
)

// EventObserver is notified of lifecycle events.
type EventObserver interface {
	// OnEvent is called synchronously, in priority order.
	OnEvent(ctx context.Context, event *Event) error

	// ID returns the unique identifier for this observer
	ID() string

	// EventTypes returns the types of events this observer wants to receive.
	// An empty slice means every type.
	EventTypes() []EventType

	// Priority returns the priority of this observer (higher = called first)
	Priority() int
}

// EventStore persists lifecycle events for later inspection.
type EventStore interface {
	Store(ctx context.Context, event *Event) error
	Get(ctx context.Context, eventID string) (*Event, error)
	Query(ctx context.Context, criteria *QueryCriteria) ([]*Event, error)
}

// Event is one lifecycle occurrence.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Source    string         `json:"source"`
	Timestamp time.Time      `json:"timestamp"`
	Phase     Phase          `json:"phase"`
	Status    EventStatus    `json:"status"`
	From      string         `json:"from,omitempty"`
	To        string         `json:"to,omitempty"`
	Message   string         `json:"message,omitempty"`
	Error     string         `json:"error,omitempty"`
	Duration  *time.Duration `json:"duration,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// EventType defines the type of lifecycle event
type EventType string

const (
	EventTypeStateChanged      EventType = "state.changed"
	EventTypeCommandReceived   EventType = "command.received"
	EventTypeCommandRejected   EventType = "command.rejected"
	EventTypeRunCompleted      EventType = "run.completed"
	EventTypeRunFailed         EventType = "run.failed"
	EventTypeReportingFailed   EventType = "reporting.failed"
	EventTypeResourcesReleased EventType = "resources.released"
)

// Phase is the part of the party's life an event belongs to.
type Phase string

const (
	PhaseInitialization Phase = "initialization"
	PhaseRunning        Phase = "running"
	PhaseFinalization   Phase = "finalization"
)

// EventStatus represents the status of an event
type EventStatus string

const (
	EventStatusStarted   EventStatus = "started"
	EventStatusCompleted EventStatus = "completed"
	EventStatusFailed    EventStatus = "failed"
)

// QueryCriteria selects stored events. Zero fields match everything.
type QueryCriteria struct {
	EventTypes []EventType `json:"event_types,omitempty"`
	Sources    []string    `json:"sources,omitempty"`
	Since      *time.Time  `json:"since,omitempty"`
	Limit      int         `json:"limit,omitempty"`
}

// EventMetrics counts dispatcher activity.
type EventMetrics struct {
	TotalEvents    int64               `json:"total_events"`
	EventsByType   map[EventType]int64 `json:"events_by_type"`
	ObserverErrors int64               `json:"observer_errors"`
	ObserverPanics int64               `json:"observer_panics"`
	LastEventTime  time.Time           `json:"last_event_time"`
}
