package feedback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/lostfound/internal/ranking"
)

// Promoter applies reviewed proposals to the live registry.
type Promoter struct {
	proposals ProposalStore
	registry  *ranking.Registry
	snapshots ranking.SnapshotStore // optional; replicas pick the vector up from here
	maxDelta  float64
	logger    *slog.Logger
	now       func() time.Time

	mu sync.Mutex
}

// NewPromoter creates a Promoter. snapshots may be nil for single-replica use.
func NewPromoter(proposals ProposalStore, registry *ranking.Registry, snapshots ranking.SnapshotStore, maxDelta float64, logger *slog.Logger) *Promoter {
	if logger == nil {
		logger = slog.Default()
	}
	if maxDelta <= 0 {
		maxDelta = DefaultMaxDelta
	}
	return &Promoter{
		proposals: proposals,
		registry:  registry,
		snapshots: snapshots,
		maxDelta:  maxDelta,
		logger:    logger,
		now:       time.Now,
	}
}

// Promote validates a pending proposal and publishes it as the next global
// version. A proposal that fails validation is marked rejected and the
// validation error is returned.
func (p *Promoter) Promote(ctx context.Context, id string) (ranking.WeightVector, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	prop, err := p.proposals.Get(ctx, id)
	if err != nil {
		return ranking.WeightVector{}, err
	}
	if prop.Status != ProposalPending {
		return ranking.WeightVector{}, fmt.Errorf("%w: %s is %s", ErrProposalNotPending, id, prop.Status)
	}

	active := p.registry.Active()
	verr := ValidateProposal(prop, p.maxDelta)
	if verr == nil {
		// The live vector may have moved since the proposal was learned.
		if d := active.MaxDelta(prop.Proposed); d > p.maxDelta+deltaTolerance {
			verr = fmt.Errorf("%w: %.4f from active version %d", ErrDeltaExceeded, d, active.Version)
		}
	}
	if verr != nil {
		if err := p.proposals.UpdateStatus(ctx, id, ProposalRejected, verr.Error(), p.now().UTC()); err != nil {
			return ranking.WeightVector{}, errors.Join(verr, err)
		}
		p.logger.WarnContext(ctx, "weight proposal rejected",
			"proposal_id", id,
			"reason", verr.Error())
		return ranking.WeightVector{}, verr
	}

	next := prop.Proposed.Clone()
	next.Version = active.Version + 1
	next.Source = ranking.SourceLearner
	next.UpdatedAt = p.now().UTC()

	if p.snapshots != nil {
		if err := p.snapshots.Save(ctx, next); err != nil {
			return ranking.WeightVector{}, fmt.Errorf("failed to save weight snapshot: %w", err)
		}
	}
	if err := p.registry.Publish(next); err != nil {
		return ranking.WeightVector{}, fmt.Errorf("failed to publish weights: %w", err)
	}
	if err := p.proposals.UpdateStatus(ctx, id, ProposalPromoted, "", next.UpdatedAt); err != nil {
		return next, fmt.Errorf("weights published but proposal status not updated: %w", err)
	}

	p.logger.InfoContext(ctx, "weight proposal promoted",
		"proposal_id", id,
		"version", next.Version,
		"weights", next.String())
	return next, nil
}

// Reject marks a pending proposal rejected without applying it.
func (p *Promoter) Reject(ctx context.Context, id, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.proposals.UpdateStatus(ctx, id, ProposalRejected, reason, p.now().UTC()); err != nil {
		return err
	}
	p.logger.InfoContext(ctx, "weight proposal rejected by reviewer",
		"proposal_id", id,
		"reason", reason)
	return nil
}
