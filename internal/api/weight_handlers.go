package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/onnwee/lostfound/internal/feedback"
	"github.com/onnwee/lostfound/internal/middleware"
	"github.com/onnwee/lostfound/internal/ranking"
)

// Proposal listing bounds.
const (
	defaultProposalLimit = 20
	maxProposalLimit     = 100
)

// ProposalLearner learns a proposal from recorded feedback.
type ProposalLearner interface {
	Propose(ctx context.Context, base ranking.WeightVector) (*feedback.Proposal, error)
}

// ProposalPromoter applies or discards a pending proposal.
type ProposalPromoter interface {
	Promote(ctx context.Context, id string) (ranking.WeightVector, error)
	Reject(ctx context.Context, id, reason string) error
}

// ActiveWeights returns the globally active vector.
type ActiveWeights interface {
	Active() ranking.WeightVector
}

// RejectProposalRequest is the body of the reject endpoint.
type RejectProposalRequest struct {
	Reason string `json:"reason" validate:"required,max=512"`
}

// ProposalsResponse wraps a proposal listing.
type ProposalsResponse struct {
	Count     int                  `json:"count"`
	Proposals []*feedback.Proposal `json:"proposals"`
}

// WeightHandlers serves the admin weight-learning workflow.
type WeightHandlers struct {
	learner   ProposalLearner
	promoter  ProposalPromoter
	proposals feedback.ProposalStore
	active    ActiveWeights
}

// NewWeightHandlers creates a new WeightHandlers instance.
func NewWeightHandlers(learner ProposalLearner, promoter ProposalPromoter, proposals feedback.ProposalStore, active ActiveWeights) *WeightHandlers {
	return &WeightHandlers{
		learner:   learner,
		promoter:  promoter,
		proposals: proposals,
		active:    active,
	}
}

// CreateProposal handles POST /api/v1/admin/weights/proposals. The proposal
// is learned against the active vector and left pending.
func (h *WeightHandlers) CreateProposal(w http.ResponseWriter, r *http.Request) {
	p, err := h.learner.Propose(r.Context(), h.active.Active())
	if err != nil {
		writeDomainError(w, r, "propose_weights", err)
		return
	}
	w.Header().Set("Location", "/api/v1/admin/weights/proposals/"+p.ID)
	writeJSON(w, r, http.StatusCreated, p)
}

// ListProposals handles GET /api/v1/admin/weights/proposals?limit=N.
func (h *WeightHandlers) ListProposals(w http.ResponseWriter, r *http.Request) {
	limit := defaultProposalLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxProposalLimit {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "limit must be between 1 and 100")
			return
		}
		limit = n
	}
	list, err := h.proposals.List(r.Context(), limit)
	if err != nil {
		writeDomainError(w, r, "list_proposals", err)
		return
	}
	writeJSON(w, r, http.StatusOK, ProposalsResponse{Count: len(list), Proposals: list})
}

// GetProposal handles GET /api/v1/admin/weights/proposals/{id}.
func (h *WeightHandlers) GetProposal(w http.ResponseWriter, r *http.Request) {
	p, err := h.proposals.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, "get_proposal", err)
		return
	}
	writeJSON(w, r, http.StatusOK, p)
}

// PromoteProposal handles POST /api/v1/admin/weights/proposals/{id}/promote
// and returns the newly active vector.
func (h *WeightHandlers) PromoteProposal(w http.ResponseWriter, r *http.Request) {
	wv, err := h.promoter.Promote(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, "promote_proposal", err)
		return
	}
	writeJSON(w, r, http.StatusOK, wv)
}

// RejectProposal handles POST /api/v1/admin/weights/proposals/{id}/reject.
func (h *WeightHandlers) RejectProposal(w http.ResponseWriter, r *http.Request) {
	var req RejectProposalRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id := r.PathValue("id")
	if err := h.promoter.Reject(r.Context(), id, req.Reason); err != nil {
		writeDomainError(w, r, "reject_proposal", err)
		return
	}
	p, err := h.proposals.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, "get_proposal", err)
		return
	}
	writeJSON(w, r, http.StatusOK, p)
}
