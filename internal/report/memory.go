package report

import (
	"context"
	"sort"
	"sync"
)

// InMemoryStore is a Store backed by a map. Used in development mode and tests.
type InMemoryStore struct {
	mu      sync.RWMutex
	reports map[string]*Report
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{reports: make(map[string]*Report)}
}

// Put stores a copy of r, replacing any report with the same ID.
func (s *InMemoryStore) Put(r *Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.reports[r.ID] = &cp
}

// SetStatus changes the status of a stored report.
func (s *InMemoryStore) SetStatus(id string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[id]
	if !ok {
		return ErrNotFound
	}
	r.Status = status
	return nil
}

// GetReport returns a copy of the report with the given ID.
func (s *InMemoryStore) GetReport(ctx context.Context, id string) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reports[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

// QueryCandidates returns open reports of q.Type inside the bounding box and
// time range, ordered by ID.
func (s *InMemoryStore) QueryCandidates(ctx context.Context, q CandidateQuery) ([]*Report, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Report, 0)
	for _, r := range s.reports {
		if r.Type != q.Type || !r.Matchable() || r.Location == nil {
			continue
		}
		if r.OccurredAt.Before(q.From) || r.OccurredAt.After(q.To) {
			continue
		}
		if !q.BBox.Contains(*r.Location) {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
