package experiment

import (
	"context"
	"sort"
	"sync"
)

// Repository persists experiments.
type Repository interface {
	Create(ctx context.Context, e *Experiment) error
	Get(ctx context.Context, id string) (*Experiment, error)
	// Update replaces the stored status and timestamps of e.
	Update(ctx context.Context, e *Experiment) error
	List(ctx context.Context) ([]*Experiment, error)
}

// InMemoryRepository is a Repository for development and tests.
type InMemoryRepository struct {
	mu          sync.RWMutex
	experiments map[string]*Experiment
}

// NewInMemoryRepository creates an empty repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{experiments: make(map[string]*Experiment)}
}

func (r *InMemoryRepository) Create(_ context.Context, e *Experiment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.experiments[e.ID] = clone(e)
	return nil
}

func (r *InMemoryRepository) Get(_ context.Context, id string) (*Experiment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.experiments[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(e), nil
}

func (r *InMemoryRepository) Update(_ context.Context, e *Experiment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.experiments[e.ID]; !ok {
		return ErrNotFound
	}
	r.experiments[e.ID] = clone(e)
	return nil
}

func (r *InMemoryRepository) List(_ context.Context) ([]*Experiment, error) {
	r.mu.RLock()
	out := make([]*Experiment, 0, len(r.experiments))
	for _, e := range r.experiments {
		out = append(out, clone(e))
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func clone(e *Experiment) *Experiment {
	cp := *e
	cp.Control = e.Control.Clone()
	cp.Treatment = e.Treatment.Clone()
	if e.StartedAt != nil {
		t := *e.StartedAt
		cp.StartedAt = &t
	}
	if e.ConcludedAt != nil {
		t := *e.ConcludedAt
		cp.ConcludedAt = &t
	}
	return &cp
}
