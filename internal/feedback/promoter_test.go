package feedback

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/onnwee/lostfound/internal/ranking"
	"github.com/onnwee/lostfound/internal/signal"
)

func pendingProposal(id string, proposed ranking.WeightVector, holdout, baseline float64) *Proposal {
	return &Proposal{
		ID:           id,
		Base:         ranking.DefaultWeights(),
		Proposed:     proposed,
		Correlations: map[signal.Name]float64{},
		HoldoutAUC:   holdout,
		BaselineAUC:  baseline,
		Status:       ProposalPending,
		CreatedAt:    t0,
	}
}

// nudged moves 0.05 of normalized weight from text to geo.
func nudged() ranking.WeightVector {
	w := ranking.DefaultWeights().Normalized()
	w.Weights[signal.Text] -= 0.05
	w.Weights[signal.Geo] += 0.05
	w.Version = 2
	return w
}

func newPromoterFixture(t *testing.T) (*Promoter, *InMemoryProposalStore, *ranking.Registry, *ranking.InMemorySnapshotStore) {
	t.Helper()
	proposals := NewInMemoryProposalStore()
	registry, err := ranking.NewRegistry(ranking.DefaultWeights(), nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	snapshots := ranking.NewInMemorySnapshotStore()
	return NewPromoter(proposals, registry, snapshots, 0.1, nil), proposals, registry, snapshots
}

func TestPromoter_Promote(t *testing.T) {
	ctx := context.Background()
	promoter, proposals, registry, snapshots := newPromoterFixture(t)
	_ = proposals.Save(ctx, pendingProposal("p1", nudged(), 0.8, 0.7))

	v, err := promoter.Promote(ctx, "p1")
	if err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if v.Version != 2 {
		t.Errorf("published version = %d, want 2", v.Version)
	}
	if active := registry.Active(); active.Version != 2 || !active.Equal(nudged()) {
		t.Errorf("registry not updated: %s", active)
	}
	stored, err := snapshots.Load(ctx)
	if err != nil || stored.Version != 2 {
		t.Errorf("snapshot = %v, %v; want version 2", stored, err)
	}
	p, _ := proposals.Get(ctx, "p1")
	if p.Status != ProposalPromoted || p.DecidedAt == nil {
		t.Errorf("proposal status = %s, decided_at = %v", p.Status, p.DecidedAt)
	}

	if _, err := promoter.Promote(ctx, "p1"); !errors.Is(err, ErrProposalNotPending) {
		t.Errorf("second promote: expected ErrProposalNotPending, got %v", err)
	}
}

func TestPromoter_RejectsInvalid(t *testing.T) {
	far := ranking.WeightVector{Weights: map[signal.Name]float64{signal.Geo: 1}}
	tests := []struct {
		name     string
		proposal *Proposal
		want     error
	}{
		{"worse on holdout", pendingProposal("p", nudged(), 0.6, 0.7), ErrProposalWorse},
		{"too far from base", pendingProposal("p", far, 0.9, 0.7), ErrDeltaExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			promoter, proposals, registry, snapshots := newPromoterFixture(t)
			_ = proposals.Save(ctx, tt.proposal)

			if _, err := promoter.Promote(ctx, "p"); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if registry.Active().Version != 1 {
				t.Error("registry changed on rejected proposal")
			}
			if _, err := snapshots.Load(ctx); !errors.Is(err, ranking.ErrNoSnapshot) {
				t.Error("snapshot written for rejected proposal")
			}
			p, _ := proposals.Get(ctx, "p")
			if p.Status != ProposalRejected || p.RejectReason == "" {
				t.Errorf("status = %s, reason = %q", p.Status, p.RejectReason)
			}
		})
	}
}

func TestPromoter_ChecksActiveVector(t *testing.T) {
	ctx := context.Background()
	promoter, proposals, registry, _ := newPromoterFixture(t)

	// An admin moved the live weights far from the proposal's base.
	moved := ranking.WeightVector{
		Version: 5,
		Weights: map[signal.Name]float64{signal.Text: 1, signal.Geo: 0.01},
		Source:  ranking.SourceAdmin,
	}
	if err := registry.Publish(moved); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	_ = proposals.Save(ctx, pendingProposal("p1", nudged(), 0.8, 0.7))

	if _, err := promoter.Promote(ctx, "p1"); !errors.Is(err, ErrDeltaExceeded) {
		t.Fatalf("expected ErrDeltaExceeded, got %v", err)
	}
	if registry.Active().Version != 5 {
		t.Error("registry changed")
	}
}

func TestPromoter_VersionFollowsActive(t *testing.T) {
	ctx := context.Background()
	promoter, proposals, registry, _ := newPromoterFixture(t)

	bumped := ranking.DefaultWeights()
	bumped.Version = 7
	_ = registry.Publish(bumped)
	_ = proposals.Save(ctx, pendingProposal("p1", nudged(), 0.8, 0.8))

	v, err := promoter.Promote(ctx, "p1")
	if err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if v.Version != 8 {
		t.Errorf("version = %d, want 8", v.Version)
	}
}

func TestPromoter_NotFoundAndReject(t *testing.T) {
	ctx := context.Background()
	promoter, proposals, _, _ := newPromoterFixture(t)

	if _, err := promoter.Promote(ctx, "missing"); !errors.Is(err, ErrProposalNotFound) {
		t.Errorf("expected ErrProposalNotFound, got %v", err)
	}

	_ = proposals.Save(ctx, pendingProposal("p1", nudged(), 0.8, 0.7))
	if err := promoter.Reject(ctx, "p1", "reviewer declined"); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	p, _ := proposals.Get(ctx, "p1")
	if p.Status != ProposalRejected || p.RejectReason != "reviewer declined" {
		t.Errorf("status = %s, reason = %q", p.Status, p.RejectReason)
	}
	if err := promoter.Reject(ctx, "p1", "again"); !errors.Is(err, ErrProposalNotPending) {
		t.Errorf("expected ErrProposalNotPending, got %v", err)
	}
}

func TestInMemoryProposalStore_List(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryProposalStore()
	for i, id := range []string{"a", "b", "c"} {
		p := pendingProposal(id, nudged(), 0.8, 0.7)
		p.CreatedAt = t0.Add(time.Duration(i) * time.Hour)
		_ = s.Save(ctx, p)
	}

	list, err := s.List(ctx, 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].ID != "c" || list[1].ID != "b" {
		t.Errorf("unexpected order: %v", []string{list[0].ID, list[1].ID})
	}

	// Returned proposals are copies.
	list[0].Proposed.Weights[signal.Geo] = 99
	again, _ := s.Get(ctx, "c")
	if again.Proposed.Get(signal.Geo) == 99 {
		t.Error("store shares weight maps with callers")
	}

	if err := s.UpdateStatus(ctx, "missing", ProposalPromoted, "", t0); !errors.Is(err, ErrProposalNotFound) {
		t.Errorf("expected ErrProposalNotFound, got %v", err)
	}
}
