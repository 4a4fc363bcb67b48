package experiment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/lostfound/internal/feedback"
	"github.com/onnwee/lostfound/internal/ranking"
)

// Engine manages experiment lifecycle, assignment and interaction tracking.
type Engine struct {
	repo     Repository
	feedback feedback.Store
	logger   *slog.Logger
	now      func() time.Time

	// transitions serialises read-modify-write of experiment status.
	transitions sync.Mutex
}

// NewEngine creates an Engine.
func NewEngine(repo Repository, store feedback.Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{repo: repo, feedback: store, logger: logger, now: time.Now}
}

// Create validates and stores a new draft experiment.
func (e *Engine) Create(ctx context.Context, name string, control, treatment ranking.WeightVector, split float64) (*Experiment, error) {
	exp := &Experiment{
		ID:           uuid.NewString(),
		Name:         name,
		Status:       StatusDraft,
		Control:      control.Clone(),
		Treatment:    treatment.Clone(),
		TrafficSplit: split,
		CreatedAt:    e.now().UTC(),
	}
	if err := exp.Validate(); err != nil {
		return nil, err
	}
	if err := e.repo.Create(ctx, exp); err != nil {
		return nil, err
	}
	e.logger.InfoContext(ctx, "experiment created",
		"experiment_id", exp.ID,
		"name", exp.Name,
		"traffic_split", exp.TrafficSplit)
	return exp, nil
}

// Get returns an experiment by ID.
func (e *Engine) Get(ctx context.Context, id string) (*Experiment, error) {
	return e.repo.Get(ctx, id)
}

// List returns all experiments, oldest first.
func (e *Engine) List(ctx context.Context) ([]*Experiment, error) {
	return e.repo.List(ctx)
}

// Start moves a draft experiment to running.
func (e *Engine) Start(ctx context.Context, id string) (*Experiment, error) {
	return e.transition(ctx, id, StatusRunning)
}

// Conclude moves a running experiment to concluded. Experiments never
// conclude on their own.
func (e *Engine) Conclude(ctx context.Context, id string) (*Experiment, error) {
	return e.transition(ctx, id, StatusConcluded)
}

func (e *Engine) transition(ctx context.Context, id string, next Status) (*Experiment, error) {
	e.transitions.Lock()
	defer e.transitions.Unlock()

	exp, err := e.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	prev := exp.Status
	if err := exp.transition(next, e.now().UTC()); err != nil {
		return nil, err
	}
	if err := e.repo.Update(ctx, exp); err != nil {
		return nil, err
	}
	e.logger.InfoContext(ctx, "experiment status changed",
		"experiment_id", id,
		"from", prev,
		"to", next)
	return exp, nil
}

// AssignVariant returns the user's variant for a stored experiment of any status.
func (e *Engine) AssignVariant(ctx context.Context, userID, experimentID string) (Assignment, error) {
	exp, err := e.repo.Get(ctx, experimentID)
	if err != nil {
		return Assignment{}, err
	}
	return Assignment{
		UserID:       userID,
		ExperimentID: experimentID,
		Variant:      AssignVariant(userID, experimentID, exp.TrafficSplit),
	}, nil
}

// Resolution is the weight vector an experiment selects for a request.
type Resolution struct {
	ExperimentID string
	Variant      Variant
	Weights      ranking.WeightVector
}

// Resolve picks the weights for a ranking request. ok is false when the
// experiment does not exist or is not running, in which case callers use
// the global vector. Without a user the control vector is used.
func (e *Engine) Resolve(ctx context.Context, experimentID, userID string) (res Resolution, ok bool, err error) {
	exp, err := e.repo.Get(ctx, experimentID)
	if errors.Is(err, ErrNotFound) {
		return Resolution{}, false, nil
	}
	if err != nil {
		return Resolution{}, false, err
	}
	if exp.Status != StatusRunning {
		return Resolution{}, false, nil
	}

	variant := VariantControl
	if userID != "" {
		variant = AssignVariant(userID, experimentID, exp.TrafficSplit)
	}
	return Resolution{ExperimentID: exp.ID, Variant: variant, Weights: exp.Weights(variant)}, true, nil
}

// TrackInteraction appends an experiment-tagged event. The experiment must
// be running and the event's variant must be the user's assignment.
func (e *Engine) TrackInteraction(ctx context.Context, ev feedback.Event) error {
	exp, err := e.repo.Get(ctx, ev.ExperimentID)
	if err != nil {
		return err
	}
	if exp.Status != StatusRunning {
		return fmt.Errorf("%w: %s is %s", ErrNotRunning, exp.ID, exp.Status)
	}
	want := AssignVariant(ev.UserID, exp.ID, exp.TrafficSplit)
	if Variant(ev.Variant) != want {
		return fmt.Errorf("%w: got %q, user is in %q", ErrVariantMismatch, ev.Variant, want)
	}
	return e.feedback.Append(ctx, ev)
}
