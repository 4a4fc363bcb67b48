package feedback

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/onnwee/lostfound/internal/signal"
)

// Store persists feedback events.
type Store interface {
	// Append stores e, or returns ErrDuplicateEvent for a repeated (match, user).
	Append(ctx context.Context, e Event) error
	// ListSince returns events created at or after since, oldest first.
	// A positive limit keeps the newest limit events.
	ListSince(ctx context.Context, since time.Time, limit int) ([]Event, error)
	// ListByExperiment returns every event tagged with experimentID, oldest first.
	ListByExperiment(ctx context.Context, experimentID string) ([]Event, error)
}

// InMemoryStore is a Store for development and tests.
type InMemoryStore struct {
	mu     sync.RWMutex
	events []Event
	seen   map[string]struct{}
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{seen: make(map[string]struct{})}
}

// Append implements Store.
func (s *InMemoryStore) Append(ctx context.Context, e Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.seen[e.key()]; dup {
		return ErrDuplicateEvent
	}
	s.seen[e.key()] = struct{}{}
	s.events = append(s.events, copyEvent(e))
	return nil
}

// ListSince implements Store.
func (s *InMemoryStore) ListSince(ctx context.Context, since time.Time, limit int) ([]Event, error) {
	return s.filter(ctx, limit, func(e Event) bool { return !e.CreatedAt.Before(since) })
}

// ListByExperiment implements Store.
func (s *InMemoryStore) ListByExperiment(ctx context.Context, experimentID string) ([]Event, error) {
	return s.filter(ctx, 0, func(e Event) bool { return e.ExperimentID == experimentID })
}

func (s *InMemoryStore) filter(ctx context.Context, limit int, keep func(Event) bool) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]Event, 0)
	for _, e := range s.events {
		if keep(e) {
			out = append(out, copyEvent(e))
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func copyEvent(e Event) Event {
	cp := e
	if e.Signals != nil {
		cp.Signals = make(map[signal.Name]float64, len(e.Signals))
		for k, v := range e.Signals {
			cp.Signals[k] = v
		}
	}
	return cp
}
