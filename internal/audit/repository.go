package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository stores audit entries in append order.
type Repository interface {
	// Record validates entry, chains it to the latest stored entry and
	// returns the stored copy.
	Record(ctx context.Context, entry LogEntry) (*Entry, error)

	// Query returns matching entries newest first. Empty filter fields
	// match everything; limit 0 means no limit.
	Query(ctx context.Context, filter Filter, limit int) ([]*Entry, error)

	// Chain returns every entry oldest first, for Verify.
	Chain(ctx context.Context) ([]*Entry, error)
}

// Filter narrows Query.
type Filter struct {
	EntityType string
	EntityID   string
	Actor      string
}

func (f Filter) matches(e *Entry) bool {
	return (f.EntityType == "" || e.EntityType == f.EntityType) &&
		(f.EntityID == "" || e.EntityID == f.EntityID) &&
		(f.Actor == "" || e.Actor == f.Actor)
}

func newEntry(entry LogEntry, now time.Time) *Entry {
	return &Entry{
		ID:         uuid.NewString(),
		Actor:      entry.Actor,
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		Action:     entry.Action,
		Outcome:    entry.Outcome,
		Status:     entry.Status,
		RequestID:  entry.RequestID,
		IPAddress:  entry.IPAddress,
		CreatedAt:  now.UTC(),
	}
}

// InMemoryRepository keeps entries in a slice. Used for development and
// tests.
type InMemoryRepository struct {
	mu      sync.RWMutex
	entries []*Entry
	now     func() time.Time
}

// NewInMemoryRepository creates an empty InMemoryRepository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{now: time.Now}
}

// Record appends entry to the chain.
func (r *InMemoryRepository) Record(_ context.Context, entry LogEntry) (*Entry, error) {
	if err := entry.Validate(); err != nil {
		return nil, err
	}
	e := newEntry(entry, r.now())

	r.mu.Lock()
	prev := ""
	if n := len(r.entries); n > 0 {
		prev = r.entries[n-1].Hash
	}
	seal(e, prev)
	r.entries = append(r.entries, e)
	r.mu.Unlock()

	out := *e
	return &out, nil
}

// Query returns copies of matching entries, newest first.
func (r *InMemoryRepository) Query(_ context.Context, filter Filter, limit int) ([]*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Entry, 0)
	for i := len(r.entries) - 1; i >= 0; i-- {
		if !filter.matches(r.entries[i]) {
			continue
		}
		e := *r.entries[i]
		out = append(out, &e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Chain returns copies of every entry, oldest first.
func (r *InMemoryRepository) Chain(context.Context) ([]*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Entry, len(r.entries))
	for i, e := range r.entries {
		c := *e
		out[i] = &c
	}
	return out, nil
}
