package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Static errors for lifecycle package
var (
	ErrEventCannotBeNil    = errors.New("event cannot be nil")
	ErrObserverCannotBeNil = errors.New("observer cannot be nil")
	ErrEventNotFound       = errors.New("event not found")
)

// Dispatcher delivers lifecycle events to observers, highest priority first,
// and keeps them in a store. Observer failures are counted, never returned.
type Dispatcher struct {
	mu        sync.RWMutex
	observers map[string]EventObserver
	store     EventStore
	metrics   EventMetrics
}

// NewDispatcher creates a dispatcher backed by store. A nil store keeps the
// most recent DefaultStoreCapacity events in memory.
func NewDispatcher(store EventStore) *Dispatcher {
	if store == nil {
		store = NewStore(DefaultStoreCapacity)
	}
	return &Dispatcher{
		observers: make(map[string]EventObserver),
		store:     store,
		metrics:   EventMetrics{EventsByType: make(map[EventType]int64)},
	}
}

// Dispatch stamps event, stores it and notifies interested observers.
func (d *Dispatcher) Dispatch(ctx context.Context, event *Event) error {
	if event == nil {
		return ErrEventCannotBeNil
	}
	if event.ID == "" {
		event.ID = newEventID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if err := d.store.Store(ctx, event); err != nil {
		return fmt.Errorf("store lifecycle event: %w", err)
	}

	d.mu.Lock()
	d.metrics.TotalEvents++
	d.metrics.EventsByType[event.Type]++
	d.metrics.LastEventTime = event.Timestamp
	d.mu.Unlock()

	for _, observer := range d.Observers() {
		if !wants(observer, event.Type) {
			continue
		}
		d.notify(ctx, observer, event)
	}
	return nil
}

func (d *Dispatcher) notify(ctx context.Context, observer EventObserver, event *Event) {
	defer func() {
		if r := recover(); r != nil {
			d.mu.Lock()
			d.metrics.ObserverPanics++
			d.mu.Unlock()
		}
	}()
	if err := observer.OnEvent(ctx, event); err != nil {
		d.mu.Lock()
		d.metrics.ObserverErrors++
		d.mu.Unlock()
	}
}

func wants(observer EventObserver, t EventType) bool {
	types := observer.EventTypes()
	return len(types) == 0 || slices.Contains(types, t)
}

// RegisterObserver registers an observer, replacing one with the same ID.
func (d *Dispatcher) RegisterObserver(observer EventObserver) error {
	if observer == nil {
		return ErrObserverCannotBeNil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers[observer.ID()] = observer
	return nil
}

// UnregisterObserver removes an observer; unknown IDs are ignored.
func (d *Dispatcher) UnregisterObserver(observerID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.observers, observerID)
}

// Observers returns the registered observers, highest priority first, ties
// broken by ID.
func (d *Dispatcher) Observers() []EventObserver {
	d.mu.RLock()
	observers := slices.Collect(maps.Values(d.observers))
	d.mu.RUnlock()

	slices.SortFunc(observers, func(a, b EventObserver) int {
		if a.Priority() != b.Priority() {
			return b.Priority() - a.Priority()
		}
		switch {
		case a.ID() < b.ID():
			return -1
		case a.ID() > b.ID():
			return 1
		}
		return 0
	})
	return observers
}

// Store returns the backing event store.
func (d *Dispatcher) Store() EventStore { return d.store }

// Metrics returns a snapshot of the dispatcher counters.
func (d *Dispatcher) Metrics() EventMetrics {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m := d.metrics
	m.EventsByType = maps.Clone(d.metrics.EventsByType)
	return m
}

func newEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}

// BasicObserver adapts a callback to EventObserver.
type BasicObserver struct {
	id         string
	eventTypes []EventType
	priority   int
	callback   func(context.Context, *Event) error
}

// NewBasicObserver creates a new basic observer
func NewBasicObserver(id string, eventTypes []EventType, priority int, callback func(context.Context, *Event) error) *BasicObserver {
	return &BasicObserver{
		id:         id,
		eventTypes: eventTypes,
		priority:   priority,
		callback:   callback,
	}
}

func (o *BasicObserver) OnEvent(ctx context.Context, event *Event) error {
	if o.callback != nil {
		return o.callback(ctx, event)
	}
	return nil
}

func (o *BasicObserver) ID() string { return o.id }

func (o *BasicObserver) EventTypes() []EventType { return o.eventTypes }

func (o *BasicObserver) Priority() int { return o.priority }
