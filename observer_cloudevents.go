package cosim

import (
	"fmt"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// CloudEvent is an alias for the CloudEvents Event type for convenience
type CloudEvent = cloudevents.Event

// NewCloudEvent creates a CloudEvent with a time-ordered ID, JSON data and
// the given extension attributes.
func NewCloudEvent(eventType, source string, data any, metadata map[string]any) cloudevents.Event {
	event := cloudevents.NewEvent()
	event.SetID(NewEventID())
	event.SetSource(source)
	event.SetType(eventType)
	event.SetTime(time.Now())
	event.SetSpecVersion(cloudevents.VersionV1)

	if data != nil {
		_ = event.SetData(cloudevents.ApplicationJSON, data)
	}
	for key, value := range metadata {
		event.SetExtension(key, value)
	}
	return event
}

// NewEventID returns a UUIDv7, falling back to v4.
func NewEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}

// ValidateCloudEvent checks the required CloudEvents attributes of event.
func ValidateCloudEvent(event cloudevents.Event) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("CloudEvent validation failed: %w", err)
	}
	return nil
}

// CycleProgress is the data of a cycle or flush completion event.
type CycleProgress struct {
	RunID          string  `json:"run_id"`
	Cycle          int     `json:"cycle"`
	StartStep      int64   `json:"start_step"`
	RequestedSteps int     `json:"requested_steps"`
	ActualSteps    int     `json:"actual_steps"`
	RemainingSteps int64   `json:"remaining_steps"`
	Time           float64 `json:"time"`
}

// RunSummary is the data of run started, completed and failed events.
type RunSummary struct {
	RunID           string  `json:"run_id"`
	Requested       float64 `json:"requested_length"`
	Achieved        float64 `json:"achieved_length"`
	Steps           int64   `json:"steps"`
	Cycles          int     `json:"cycles"`
	Flushed         bool    `json:"flushed"`
	Error           string  `json:"error,omitempty"`
	Fault           Fault   `json:"fault,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
}
