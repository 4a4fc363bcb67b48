package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/lostfound/internal/feedback"
	"github.com/onnwee/lostfound/internal/ranking"
	"github.com/onnwee/lostfound/internal/signal"
)

type weightFixture struct {
	handlers  *WeightHandlers
	proposals *feedback.InMemoryProposalStore
	events    *feedback.InMemoryStore
	registry  *ranking.Registry
}

func newWeightFixture(t *testing.T) *weightFixture {
	t.Helper()
	registry, err := ranking.NewRegistry(ranking.DefaultWeights(), nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	proposals := feedback.NewInMemoryProposalStore()
	events := feedback.NewInMemoryStore()
	learner := feedback.NewLearner(events, proposals, feedback.LearnerConfig{MinSamples: 10}, nil)
	promoter := feedback.NewPromoter(proposals, registry, ranking.NewInMemorySnapshotStore(), 0.1, nil)
	return &weightFixture{
		handlers:  NewWeightHandlers(learner, promoter, proposals, registry),
		proposals: proposals,
		events:    events,
		registry:  registry,
	}
}

// geoHeavy moves 0.05 of normalized weight from text to geo.
func geoHeavy() ranking.WeightVector {
	w := ranking.DefaultWeights().Normalized()
	w.Weights[signal.Text] -= 0.05
	w.Weights[signal.Geo] += 0.05
	w.Version = 2
	return w
}

func (f *weightFixture) savePending(t *testing.T, id string, proposed ranking.WeightVector, holdout, baseline float64, created time.Time) {
	t.Helper()
	err := f.proposals.Save(context.Background(), &feedback.Proposal{
		ID:           id,
		Base:         ranking.DefaultWeights(),
		Proposed:     proposed,
		Correlations: map[signal.Name]float64{},
		HoldoutAUC:   holdout,
		BaselineAUC:  baseline,
		Status:       feedback.ProposalPending,
		CreatedAt:    created,
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
}

func TestCreateProposal_InsufficientFeedback(t *testing.T) {
	f := newWeightFixture(t)
	w := httptest.NewRecorder()
	f.handlers.CreateProposal(w, httptest.NewRequest(http.MethodPost, "/api/v1/admin/weights/proposals", nil))

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422 (%s)", w.Code, w.Body.String())
	}
	if code := errorCode(t, w.Body.Bytes()); code != ErrCodeInsufficientFeedback {
		t.Errorf("code = %s", code)
	}
}

func TestCreateProposal_LearnsFromFeedback(t *testing.T) {
	f := newWeightFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()
	// Accepted matches are close on the map; rejected ones are not.
	for i := 0; i < 40; i++ {
		accepted := i%2 == 0
		geoScore, textScore := 0.2, 0.5
		if accepted {
			geoScore = 0.9
		}
		err := f.events.Append(ctx, feedback.Event{
			ID:          fmt.Sprintf("ev-%d", i),
			MatchID:     fmt.Sprintf("m-%d", i),
			SourceID:    "lost-1",
			CandidateID: "found-1",
			UserID:      "u-1",
			Accepted:    accepted,
			Signals:     map[signal.Name]float64{signal.Geo: geoScore, signal.Text: textScore},
			CreatedAt:   now.Add(-time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	w := httptest.NewRecorder()
	f.handlers.CreateProposal(w, httptest.NewRequest(http.MethodPost, "/api/v1/admin/weights/proposals", nil))
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (%s)", w.Code, w.Body.String())
	}
	var p feedback.Proposal
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Status != feedback.ProposalPending || p.Base.Version != 1 {
		t.Errorf("proposal = %+v", p)
	}
	if f.registry.Active().Version != 1 {
		t.Error("creating a proposal must not change live weights")
	}
}

func TestListProposals(t *testing.T) {
	f := newWeightFixture(t)
	base := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	f.savePending(t, "p-old", geoHeavy(), 0.8, 0.7, base)
	f.savePending(t, "p-new", geoHeavy(), 0.8, 0.7, base.Add(time.Hour))

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantIDs    []string
	}{
		{"default limit", "", http.StatusOK, []string{"p-new", "p-old"}},
		{"limited", "?limit=1", http.StatusOK, []string{"p-new"}},
		{"zero limit", "?limit=0", http.StatusBadRequest, nil},
		{"too large", "?limit=500", http.StatusBadRequest, nil},
		{"not a number", "?limit=all", http.StatusBadRequest, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			f.handlers.ListProposals(w, httptest.NewRequest(http.MethodGet, "/api/v1/admin/weights/proposals"+tt.query, nil))
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantIDs == nil {
				return
			}
			var resp ProposalsResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Count != len(tt.wantIDs) {
				t.Fatalf("count = %d, want %d", resp.Count, len(tt.wantIDs))
			}
			for i, id := range tt.wantIDs {
				if resp.Proposals[i].ID != id {
					t.Errorf("proposal %d = %s, want %s", i, resp.Proposals[i].ID, id)
				}
			}
		})
	}
}

func TestPromoteProposal(t *testing.T) {
	created := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name        string
		id          string
		holdout     float64
		wantStatus  int
		wantCode    string
		wantVersion int64
	}{
		{"promoted", "p-1", 0.8, http.StatusOK, "", 2},
		{"worse on holdout", "p-1", 0.6, http.StatusUnprocessableEntity, ErrCodeProposalRejected, 1},
		{"unknown proposal", "p-missing", 0.8, http.StatusNotFound, ErrCodeNotFound, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newWeightFixture(t)
			f.savePending(t, "p-1", geoHeavy(), tt.holdout, 0.7, created)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/weights/proposals/"+tt.id+"/promote", nil)
			w := serveRoute("POST /api/v1/admin/weights/proposals/{id}/promote", f.handlers.PromoteProposal, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.wantStatus, w.Body.String())
			}
			if tt.wantCode != "" {
				if code := errorCode(t, w.Body.Bytes()); code != tt.wantCode {
					t.Errorf("code = %s, want %s", code, tt.wantCode)
				}
			}
			if v := f.registry.Active().Version; v != tt.wantVersion {
				t.Errorf("active version = %d, want %d", v, tt.wantVersion)
			}
		})
	}
}

func TestPromoteProposal_Twice(t *testing.T) {
	f := newWeightFixture(t)
	f.savePending(t, "p-1", geoHeavy(), 0.8, 0.7, time.Now())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/weights/proposals/p-1/promote", nil)
	if w := serveRoute("POST /api/v1/admin/weights/proposals/{id}/promote", f.handlers.PromoteProposal, req); w.Code != http.StatusOK {
		t.Fatalf("first promote status = %d", w.Code)
	}
	req = httptest.NewRequest(http.MethodPost, "/api/v1/admin/weights/proposals/p-1/promote", nil)
	w := serveRoute("POST /api/v1/admin/weights/proposals/{id}/promote", f.handlers.PromoteProposal, req)
	if w.Code != http.StatusConflict {
		t.Errorf("second promote status = %d, want 409", w.Code)
	}
}

func TestRejectProposal(t *testing.T) {
	f := newWeightFixture(t)
	f.savePending(t, "p-1", geoHeavy(), 0.8, 0.7, time.Now())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/weights/proposals/p-1/reject", strings.NewReader(`{}`))
	w := serveRoute("POST /api/v1/admin/weights/proposals/{id}/reject", f.handlers.RejectProposal, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing reason status = %d, want 400", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/admin/weights/proposals/p-1/reject", strings.NewReader(`{"reason":"seasonal noise"}`))
	w = serveRoute("POST /api/v1/admin/weights/proposals/{id}/reject", f.handlers.RejectProposal, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", w.Code, w.Body.String())
	}
	var p feedback.Proposal
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Status != feedback.ProposalRejected || p.RejectReason != "seasonal noise" {
		t.Errorf("proposal = %+v", p)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/admin/weights/proposals/p-1", nil)
	w = serveRoute("GET /api/v1/admin/weights/proposals/{id}", f.handlers.GetProposal, req)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"status":"rejected"`) {
		t.Errorf("get after reject: %d %s", w.Code, w.Body.String())
	}
}
