// Package cosim coordinates independently stepped simulation engines so that
// they advance in lock-step over fixed synchronization windows, exchanging
// coupling updates through transformation stages.
package cosim

import (
	"context"
	"slices"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// Observer is notified of run events. Events use the CloudEvents format so
// they can be forwarded to external systems unchanged.
type Observer interface {
	// OnEvent is called synchronously from the orchestrator loop, between
	// cycles. Observers should return quickly.
	OnEvent(ctx context.Context, event cloudevents.Event) error

	// ObserverID returns a unique identifier used for registration tracking.
	ObserverID() string
}

// ObserverInfo describes a registered observer.
type ObserverInfo struct {
	ID           string    `json:"id"`
	EventTypes   []string  `json:"eventTypes"`
	RegisteredAt time.Time `json:"registeredAt"`
}

// Event types emitted by the orchestrator, in reverse domain notation.
const (
	EventTypeRunStarted     = "com.cosim.run.started"
	EventTypeCycleCompleted = "com.cosim.cycle.completed"
	EventTypeFlushCompleted = "com.cosim.flush.completed"
	EventTypeRunCompleted   = "com.cosim.run.completed"
	EventTypeRunFailed      = "com.cosim.run.failed"
)

type observerRegistration struct {
	observer     Observer
	eventTypes   map[string]bool
	registeredAt time.Time
	order        int
}

// Subject fans run events out to registered observers in registration order.
// Observer errors and panics are logged and never interrupt the run.
type Subject struct {
	mu        sync.RWMutex
	observers map[string]*observerRegistration
	next      int
	logger    Logger
}

// NewSubject creates an empty subject.
func NewSubject(logger Logger) *Subject {
	if logger == nil {
		logger = NopLogger()
	}
	return &Subject{observers: make(map[string]*observerRegistration), logger: logger}
}

// RegisterObserver adds an observer. With no eventTypes it receives every event.
func (s *Subject) RegisterObserver(observer Observer, eventTypes ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	types := make(map[string]bool, len(eventTypes))
	for _, t := range eventTypes {
		types[t] = true
	}
	s.observers[observer.ObserverID()] = &observerRegistration{
		observer:     observer,
		eventTypes:   types,
		registeredAt: time.Now(),
		order:        s.next,
	}
	s.next++
	s.logger.Debug("Observer registered", "observerID", observer.ObserverID(), "eventTypes", eventTypes)
	return nil
}

// UnregisterObserver removes an observer. It is idempotent.
func (s *Subject) UnregisterObserver(observer Observer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.observers, observer.ObserverID())
	return nil
}

// NotifyObservers validates event and delivers it to every interested observer.
func (s *Subject) NotifyObservers(ctx context.Context, event cloudevents.Event) error {
	if event.Time().IsZero() {
		event.SetTime(time.Now())
	}
	if err := ValidateCloudEvent(event); err != nil {
		s.logger.Error("Invalid CloudEvent", "eventType", event.Type(), "error", err)
		return err
	}

	for _, reg := range s.ordered() {
		if len(reg.eventTypes) > 0 && !reg.eventTypes[event.Type()] {
			continue
		}
		s.deliver(ctx, reg, event)
	}
	return nil
}

func (s *Subject) deliver(ctx context.Context, reg *observerRegistration, event cloudevents.Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Observer panicked", "observerID", reg.observer.ObserverID(), "event", event.Type(), "panic", r)
		}
	}()
	if err := reg.observer.OnEvent(ctx, event); err != nil {
		s.logger.Error("Observer error", "observerID", reg.observer.ObserverID(), "event", event.Type(), "error", err)
	}
}

func (s *Subject) ordered() []*observerRegistration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	regs := make([]*observerRegistration, 0, len(s.observers))
	for _, reg := range s.observers {
		regs = append(regs, reg)
	}
	slices.SortFunc(regs, func(a, b *observerRegistration) int { return a.order - b.order })
	return regs
}

// GetObservers returns the registered observers.
func (s *Subject) GetObservers() []ObserverInfo {
	regs := s.ordered()
	info := make([]ObserverInfo, 0, len(regs))
	for _, reg := range regs {
		types := make([]string, 0, len(reg.eventTypes))
		for t := range reg.eventTypes {
			types = append(types, t)
		}
		info = append(info, ObserverInfo{ID: reg.observer.ObserverID(), EventTypes: types, RegisteredAt: reg.registeredAt})
	}
	return info
}

// FunctionalObserver adapts a function to Observer.
type FunctionalObserver struct {
	id      string
	handler func(ctx context.Context, event cloudevents.Event) error
}

// NewFunctionalObserver creates an observer backed by handler.
func NewFunctionalObserver(id string, handler func(ctx context.Context, event cloudevents.Event) error) Observer {
	return &FunctionalObserver{id: id, handler: handler}
}

func (f *FunctionalObserver) OnEvent(ctx context.Context, event cloudevents.Event) error {
	return f.handler(ctx, event)
}

func (f *FunctionalObserver) ObserverID() string { return f.id }
