package api

import (
	"context"
	"net/http"

	"github.com/onnwee/lostfound/internal/feedback"
	"github.com/onnwee/lostfound/internal/matching"
	"github.com/onnwee/lostfound/internal/middleware"
	"github.com/onnwee/lostfound/internal/ranking"
)

// MatchService is the slice of the matching service the handlers call.
type MatchService interface {
	RankForItem(ctx context.Context, sourceID string, opts matching.RankOptions) ([]matching.MatchResult, error)
	GetActiveWeights(ctx context.Context, experimentID, userID string) (ranking.WeightVector, error)
	RecordFeedback(ctx context.Context, matchID string, accepted bool, userID string) (*feedback.Event, error)
}

// FeedbackRequest is the body of POST /api/v1/feedback. UserID is only
// read for unauthenticated callers; a bearer token's subject wins.
type FeedbackRequest struct {
	MatchID  string `json:"match_id" validate:"required,max=128"`
	Accepted *bool  `json:"accepted" validate:"required"`
	UserID   string `json:"user_id,omitempty" validate:"omitempty,max=128"`
}

// MatchesResponse wraps a ranked candidate list.
type MatchesResponse struct {
	SourceID string                 `json:"source_id"`
	Count    int                    `json:"count"`
	Matches  []matching.MatchResult `json:"matches"`
}

// MatchHandlers serves ranking, feedback and active weight lookups.
type MatchHandlers struct {
	service MatchService
}

// NewMatchHandlers creates a new MatchHandlers instance.
func NewMatchHandlers(service MatchService) *MatchHandlers {
	return &MatchHandlers{service: service}
}

// requestUser prefers the authenticated subject over a caller-supplied id.
func requestUser(r *http.Request, fallback string) string {
	if id := middleware.GetUserID(r.Context()); id != "" {
		return id
	}
	return fallback
}

// RankMatches handles GET /api/v1/reports/{id}/matches.
func (h *MatchHandlers) RankMatches(w http.ResponseWriter, r *http.Request) {
	sourceID := r.PathValue("id")
	if sourceID == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "report id is required")
		return
	}
	q := r.URL.Query()
	opts := matching.RankOptions{
		ExperimentID: q.Get("experiment_id"),
		UserID:       requestUser(r, q.Get("user_id")),
	}

	results, err := h.service.RankForItem(r.Context(), sourceID, opts)
	if err != nil {
		writeDomainError(w, r, "rank_for_item", err)
		return
	}
	writeJSON(w, r, http.StatusOK, MatchesResponse{SourceID: sourceID, Count: len(results), Matches: results})
}

// RecordFeedback handles POST /api/v1/feedback.
func (h *MatchHandlers) RecordFeedback(w http.ResponseWriter, r *http.Request) {
	var req FeedbackRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	userID := requestUser(r, req.UserID)
	if userID == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "user_id is required without a bearer token")
		return
	}

	ev, err := h.service.RecordFeedback(r.Context(), req.MatchID, *req.Accepted, userID)
	if err != nil {
		writeDomainError(w, r, "record_feedback", err)
		return
	}
	writeJSON(w, r, http.StatusCreated, ev)
}

// ActiveWeights handles GET /api/v1/weights. With experiment_id it returns
// the variant vector the given user would be ranked with.
func (h *MatchHandlers) ActiveWeights(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	wv, err := h.service.GetActiveWeights(r.Context(), q.Get("experiment_id"), requestUser(r, q.Get("user_id")))
	if err != nil {
		writeDomainError(w, r, "get_active_weights", err)
		return
	}
	writeJSON(w, r, http.StatusOK, wv)
}
