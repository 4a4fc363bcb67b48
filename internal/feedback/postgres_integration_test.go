//go:build integration

package feedback

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/lostfound/internal/db/dbtest"
	"github.com/onnwee/lostfound/internal/ranking"
	"github.com/onnwee/lostfound/internal/signal"
)

func TestPostgresStore_Integration(t *testing.T) {
	conn := dbtest.Postgres(t)
	ctx := context.Background()
	s := NewPostgresStore(conn)

	base := time.Now().UTC().Truncate(time.Millisecond)
	e1 := Event{
		ID: uuid.NewString(), MatchID: "m-1", SourceID: "s", CandidateID: "c-1", UserID: "alice",
		Accepted: true, Signals: map[signal.Name]float64{signal.Geo: 0.6, signal.Time: 0.9}, CreatedAt: base,
	}
	e2 := Event{
		ID: uuid.NewString(), MatchID: "m-2", SourceID: "s", CandidateID: "c-2", UserID: "alice",
		ExperimentID: "exp-1", Variant: "treatment", Signals: map[signal.Name]float64{}, CreatedAt: base.Add(time.Minute),
	}

	for _, e := range []Event{e1, e2} {
		if err := s.Append(ctx, e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	dup := e1
	dup.ID = uuid.NewString()
	if err := s.Append(ctx, dup); !errors.Is(err, ErrDuplicateEvent) {
		t.Errorf("expected ErrDuplicateEvent, got %v", err)
	}

	all, err := s.ListSince(ctx, base.Add(-time.Hour), 0)
	if err != nil {
		t.Fatalf("ListSince: %v", err)
	}
	if len(all) != 2 || all[0].ID != e1.ID {
		t.Fatalf("ListSince returned %d events", len(all))
	}
	if all[0].Signals[signal.Time] != 0.9 || !all[0].Accepted {
		t.Errorf("event not round-tripped: %+v", all[0])
	}

	limited, _ := s.ListSince(ctx, base.Add(-time.Hour), 1)
	if len(limited) != 1 || limited[0].ID != e2.ID {
		t.Errorf("limit should keep the newest event, got %+v", limited)
	}

	tagged, err := s.ListByExperiment(ctx, "exp-1")
	if err != nil {
		t.Fatalf("ListByExperiment: %v", err)
	}
	if len(tagged) != 1 || tagged[0].Variant != "treatment" {
		t.Errorf("ListByExperiment returned %+v", tagged)
	}
}

func TestPostgresProposalStore_Integration(t *testing.T) {
	conn := dbtest.Postgres(t)
	ctx := context.Background()
	s := NewPostgresProposalStore(conn)

	created := time.Now().UTC().Truncate(time.Millisecond)
	proposed := ranking.DefaultWeights().Normalized()
	proposed.Version = 2
	proposed.Source = ranking.SourceLearner
	p := &Proposal{
		ID:           uuid.NewString(),
		Base:         ranking.DefaultWeights(),
		Proposed:     proposed,
		Correlations: map[signal.Name]float64{signal.Geo: 0.42},
		TrainAUC:     0.81,
		HoldoutAUC:   0.79,
		BaselineAUC:  0.75,
		TrainSize:    80,
		HoldoutSize:  20,
		Status:       ProposalPending,
		CreatedAt:    created,
	}
	if err := s.Save(ctx, p); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Get(ctx, p.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.Proposed.Equal(proposed) || got.Proposed.Version != 2 || got.Correlations[signal.Geo] != 0.42 {
		t.Errorf("proposal not round-tripped: %+v", got)
	}
	if got.Status != ProposalPending || got.DecidedAt != nil {
		t.Errorf("status = %s, decided_at = %v", got.Status, got.DecidedAt)
	}

	if err := s.UpdateStatus(ctx, p.ID, ProposalPromoted, "", created.Add(time.Minute)); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if err := s.UpdateStatus(ctx, p.ID, ProposalRejected, "late", created); !errors.Is(err, ErrProposalNotPending) {
		t.Errorf("expected ErrProposalNotPending, got %v", err)
	}
	if err := s.UpdateStatus(ctx, uuid.NewString(), ProposalRejected, "", created); !errors.Is(err, ErrProposalNotFound) {
		t.Errorf("expected ErrProposalNotFound, got %v", err)
	}
	if _, err := s.Get(ctx, "not-a-uuid"); !errors.Is(err, ErrProposalNotFound) {
		t.Errorf("expected ErrProposalNotFound, got %v", err)
	}

	list, err := s.List(ctx, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].Status != ProposalPromoted || list[0].DecidedAt == nil {
		t.Errorf("List returned %+v", list)
	}
}
