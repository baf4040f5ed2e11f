package lifecycle

import (
	"context"
	"slices"
	"sync"
)

// DefaultStoreCapacity bounds the in-memory store.
const DefaultStoreCapacity = 1024

// Store keeps the most recent events in memory, oldest evicted first.
type Store struct {
	mu       sync.RWMutex
	capacity int
	events   []*Event
	byID     map[string]*Event
}

// NewStore creates a store holding at most capacity events.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultStoreCapacity
	}
	return &Store{capacity: capacity, byID: make(map[string]*Event)}
}

// Store appends event, evicting the oldest one when full.
func (s *Store) Store(_ context.Context, event *Event) error {
	if event == nil {
		return ErrEventCannotBeNil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.events) == s.capacity {
		delete(s.byID, s.events[0].ID)
		s.events = slices.Delete(s.events, 0, 1)
	}
	s.events = append(s.events, event)
	s.byID[event.ID] = event
	return nil
}

// Get retrieves a specific event by ID
func (s *Store) Get(_ context.Context, eventID string) (*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	event, ok := s.byID[eventID]
	if !ok {
		return nil, ErrEventNotFound
	}
	return event, nil
}

// Query returns matching events in the order they were stored. With a
// Limit, the most recent matches are kept.
func (s *Store) Query(_ context.Context, criteria *QueryCriteria) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Event
	for _, e := range s.events {
		if criteria != nil {
			if len(criteria.EventTypes) > 0 && !slices.Contains(criteria.EventTypes, e.Type) {
				continue
			}
			if len(criteria.Sources) > 0 && !slices.Contains(criteria.Sources, e.Source) {
				continue
			}
			if criteria.Since != nil && e.Timestamp.Before(*criteria.Since) {
				continue
			}
		}
		out = append(out, e)
	}
	if criteria != nil && criteria.Limit > 0 && len(out) > criteria.Limit {
		out = out[len(out)-criteria.Limit:]
	}
	return out, nil
}
