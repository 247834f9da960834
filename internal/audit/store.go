package audit

import (
	"context"
	"errors"
	"slices"
	"sync"

	id "bloodlink/pkg/domain"
)

// Sink accepts events for persistence or forwarding. The concrete stores can
// also be read back.
type Sink interface {
	Append(ctx context.Context, event Event) error
}

// InMemoryStore keeps events in append order.
type InMemoryStore struct {
	mu     sync.RWMutex
	events []Event
	limit  int
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

// NewBoundedInMemoryStore keeps only the newest limit events.
func NewBoundedInMemoryStore(limit int) *InMemoryStore {
	return &InMemoryStore{limit: max(limit, 1)}
}

func (s *InMemoryStore) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	if s.limit > 0 && len(s.events) > s.limit {
		s.events = slices.Delete(s.events, 0, len(s.events)-s.limit)
	}
	return nil
}

// ListBySubject returns events for subjectID, including pledges where it was
// the donor.
func (s *InMemoryStore) ListBySubject(_ context.Context, subjectID id.ID) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Event
	for _, e := range s.events {
		if e.SubjectID == subjectID || (e.DonorID != nil && *e.DonorID == subjectID) {
			out = append(out, e)
		}
	}
	return out, nil
}

// ListRecent returns at most limit events, most recent last.
func (s *InMemoryStore) ListRecent(_ context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := max(len(s.events)-limit, 0)
	return slices.Clone(s.events[start:]), nil
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}

// Fanout appends to every sink and joins their errors.
type Fanout []Sink

func (f Fanout) Append(ctx context.Context, event Event) error {
	var errs []error
	for _, sink := range f {
		if err := sink.Append(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
