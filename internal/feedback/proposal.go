package feedback

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/onnwee/lostfound/internal/ranking"
	"github.com/onnwee/lostfound/internal/signal"
)

var (
	// ErrProposalNotFound is returned when a proposal does not exist.
	ErrProposalNotFound = errors.New("weight proposal not found")

	// ErrProposalNotPending is returned when promoting or rejecting a
	// proposal that was already decided.
	ErrProposalNotPending = errors.New("weight proposal is not pending")
)

// ProposalStatus is the review state of a proposal.
type ProposalStatus string

const (
	ProposalPending  ProposalStatus = "pending"
	ProposalPromoted ProposalStatus = "promoted"
	ProposalRejected ProposalStatus = "rejected"
)

// Proposal is a learned weight vector awaiting review. It is never applied
// to live ranking until promoted.
type Proposal struct {
	ID           string                  `json:"id"`
	Base         ranking.WeightVector    `json:"base"`
	Proposed     ranking.WeightVector    `json:"proposed"`
	Correlations map[signal.Name]float64 `json:"correlations"`
	TrainAUC     float64                 `json:"train_auc"`
	HoldoutAUC   float64                 `json:"holdout_auc"`
	BaselineAUC  float64                 `json:"baseline_auc"` // base weights on the held-out set
	TrainSize    int                     `json:"train_size"`
	HoldoutSize  int                     `json:"holdout_size"`
	Status       ProposalStatus          `json:"status"`
	RejectReason string                  `json:"reject_reason,omitempty"`
	CreatedAt    time.Time               `json:"created_at"`
	DecidedAt    *time.Time              `json:"decided_at,omitempty"`
}

// ProposalStore persists proposals.
type ProposalStore interface {
	Save(ctx context.Context, p *Proposal) error
	Get(ctx context.Context, id string) (*Proposal, error)
	// UpdateStatus moves a pending proposal to status. Deciding an already
	// decided proposal returns ErrProposalNotPending.
	UpdateStatus(ctx context.Context, id string, status ProposalStatus, reason string, at time.Time) error
	// List returns proposals newest first.
	List(ctx context.Context, limit int) ([]*Proposal, error)
}

// InMemoryProposalStore is a ProposalStore for development and tests.
type InMemoryProposalStore struct {
	mu        sync.RWMutex
	proposals map[string]*Proposal
}

// NewInMemoryProposalStore creates an empty store.
func NewInMemoryProposalStore() *InMemoryProposalStore {
	return &InMemoryProposalStore{proposals: make(map[string]*Proposal)}
}

// Save implements ProposalStore.
func (s *InMemoryProposalStore) Save(_ context.Context, p *Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proposals[p.ID] = cloneProposal(p)
	return nil
}

// Get implements ProposalStore.
func (s *InMemoryProposalStore) Get(_ context.Context, id string) (*Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.proposals[id]
	if !ok {
		return nil, ErrProposalNotFound
	}
	return cloneProposal(p), nil
}

// UpdateStatus implements ProposalStore.
func (s *InMemoryProposalStore) UpdateStatus(_ context.Context, id string, status ProposalStatus, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.proposals[id]
	if !ok {
		return ErrProposalNotFound
	}
	if p.Status != ProposalPending {
		return fmt.Errorf("%w: %s is %s", ErrProposalNotPending, id, p.Status)
	}
	p.Status = status
	p.RejectReason = reason
	decided := at
	p.DecidedAt = &decided
	return nil
}

// List implements ProposalStore.
func (s *InMemoryProposalStore) List(_ context.Context, limit int) ([]*Proposal, error) {
	s.mu.RLock()
	out := make([]*Proposal, 0, len(s.proposals))
	for _, p := range s.proposals {
		out = append(out, cloneProposal(p))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneProposal(p *Proposal) *Proposal {
	cp := *p
	cp.Base = p.Base.Clone()
	cp.Proposed = p.Proposed.Clone()
	cp.Correlations = make(map[signal.Name]float64, len(p.Correlations))
	for k, v := range p.Correlations {
		cp.Correlations[k] = v
	}
	if p.DecidedAt != nil {
		t := *p.DecidedAt
		cp.DecidedAt = &t
	}
	return &cp
}
