package api

import (
	"context"
	"net/http"

	"github.com/onnwee/lostfound/internal/experiment"
	"github.com/onnwee/lostfound/internal/middleware"
	"github.com/onnwee/lostfound/internal/ranking"
	"github.com/onnwee/lostfound/internal/signal"
)

// ExperimentService is the slice of the experiment engine the handlers call.
type ExperimentService interface {
	Create(ctx context.Context, name string, control, treatment ranking.WeightVector, split float64) (*experiment.Experiment, error)
	Get(ctx context.Context, id string) (*experiment.Experiment, error)
	List(ctx context.Context) ([]*experiment.Experiment, error)
	Start(ctx context.Context, id string) (*experiment.Experiment, error)
	Conclude(ctx context.Context, id string) (*experiment.Experiment, error)
	AssignVariant(ctx context.Context, userID, experimentID string) (experiment.Assignment, error)
	Analyze(ctx context.Context, id string) (*experiment.Analysis, error)
}

// CreateExperimentRequest is the body of POST /api/v1/admin/experiments.
// An omitted control arm runs against the active global vector.
type CreateExperimentRequest struct {
	Name         string             `json:"name" validate:"required,max=128"`
	Control      map[string]float64 `json:"control,omitempty" validate:"omitempty,dive,keys,required,endkeys,gte=0"`
	Treatment    map[string]float64 `json:"treatment" validate:"required,min=1,dive,keys,required,endkeys,gte=0"`
	TrafficSplit *float64           `json:"traffic_split" validate:"required,gte=0,lte=1"`
}

// ExperimentsResponse wraps an experiment listing.
type ExperimentsResponse struct {
	Count       int                      `json:"count"`
	Experiments []*experiment.Experiment `json:"experiments"`
}

// ExperimentHandlers serves experiment lifecycle and analysis.
type ExperimentHandlers struct {
	engine ExperimentService
	active ActiveWeights
}

// NewExperimentHandlers creates a new ExperimentHandlers instance.
func NewExperimentHandlers(engine ExperimentService, active ActiveWeights) *ExperimentHandlers {
	return &ExperimentHandlers{engine: engine, active: active}
}

func adminVector(weights map[string]float64) ranking.WeightVector {
	wv := ranking.WeightVector{Weights: make(map[signal.Name]float64, len(weights)), Source: ranking.SourceAdmin}
	for name, v := range weights {
		wv.Weights[signal.Name(name)] = v
	}
	return wv
}

// CreateExperiment handles POST /api/v1/admin/experiments. The experiment
// starts in draft.
func (h *ExperimentHandlers) CreateExperiment(w http.ResponseWriter, r *http.Request) {
	var req CreateExperimentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	control := h.active.Active()
	if len(req.Control) > 0 {
		control = adminVector(req.Control)
	}

	exp, err := h.engine.Create(r.Context(), req.Name, control, adminVector(req.Treatment), *req.TrafficSplit)
	if err != nil {
		writeDomainError(w, r, "create_experiment", err)
		return
	}
	w.Header().Set("Location", "/api/v1/admin/experiments/"+exp.ID)
	writeJSON(w, r, http.StatusCreated, exp)
}

// ListExperiments handles GET /api/v1/admin/experiments.
func (h *ExperimentHandlers) ListExperiments(w http.ResponseWriter, r *http.Request) {
	list, err := h.engine.List(r.Context())
	if err != nil {
		writeDomainError(w, r, "list_experiments", err)
		return
	}
	writeJSON(w, r, http.StatusOK, ExperimentsResponse{Count: len(list), Experiments: list})
}

// GetExperiment handles GET /api/v1/admin/experiments/{id}.
func (h *ExperimentHandlers) GetExperiment(w http.ResponseWriter, r *http.Request) {
	exp, err := h.engine.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, "get_experiment", err)
		return
	}
	writeJSON(w, r, http.StatusOK, exp)
}

// StartExperiment handles POST /api/v1/admin/experiments/{id}/start.
func (h *ExperimentHandlers) StartExperiment(w http.ResponseWriter, r *http.Request) {
	exp, err := h.engine.Start(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, "start_experiment", err)
		return
	}
	writeJSON(w, r, http.StatusOK, exp)
}

// ConcludeExperiment handles POST /api/v1/admin/experiments/{id}/conclude.
func (h *ExperimentHandlers) ConcludeExperiment(w http.ResponseWriter, r *http.Request) {
	exp, err := h.engine.Conclude(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, "conclude_experiment", err)
		return
	}
	writeJSON(w, r, http.StatusOK, exp)
}

// Assignment handles GET /api/v1/experiments/{id}/assignment?user_id=.
func (h *ExperimentHandlers) Assignment(w http.ResponseWriter, r *http.Request) {
	userID := requestUser(r, r.URL.Query().Get("user_id"))
	if userID == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "user_id is required without a bearer token")
		return
	}
	a, err := h.engine.AssignVariant(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, "assign_variant", err)
		return
	}
	writeJSON(w, r, http.StatusOK, a)
}

// Analysis handles GET /api/v1/experiments/{id}/analysis.
func (h *ExperimentHandlers) Analysis(w http.ResponseWriter, r *http.Request) {
	a, err := h.engine.Analyze(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, "analyze_experiment", err)
		return
	}
	writeJSON(w, r, http.StatusOK, a)
}
