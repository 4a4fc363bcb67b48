// Package experiment runs A/B tests between two ranking weight vectors.
// Users are bucketed by a pure hash of (user, experiment), so assignments
// are never stored and concurrent first assignments cannot disagree.
package experiment

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/onnwee/lostfound/internal/ranking"
)

var (
	ErrNotFound          = errors.New("experiment not found")
	ErrInvalidExperiment = errors.New("invalid experiment")
	ErrInvalidTransition = errors.New("invalid experiment status transition")
	ErrNotRunning        = errors.New("experiment is not running")
	ErrVariantMismatch   = errors.New("variant does not match user assignment")
)

// Status is the lifecycle state of an experiment.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusRunning   Status = "running"
	StatusConcluded Status = "concluded"
)

// Variant names one arm of an experiment.
type Variant string

const (
	VariantControl   Variant = "control"
	VariantTreatment Variant = "treatment"
)

// Valid reports whether v is control or treatment.
func (v Variant) Valid() bool {
	return v == VariantControl || v == VariantTreatment
}

// Experiment compares a control and a treatment weight vector.
type Experiment struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status Status `json:"status"`

	Control   ranking.WeightVector `json:"control"`
	Treatment ranking.WeightVector `json:"treatment"`

	// TrafficSplit is the fraction of users assigned to treatment.
	TrafficSplit float64 `json:"traffic_split"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	ConcludedAt *time.Time `json:"concluded_at,omitempty"`
}

// Validate checks name, split and both weight vectors.
func (e *Experiment) Validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidExperiment)
	}
	if e.TrafficSplit < 0 || e.TrafficSplit > 1 {
		return fmt.Errorf("%w: traffic split %v must be in [0, 1]", ErrInvalidExperiment, e.TrafficSplit)
	}
	if err := e.Control.Validate(); err != nil {
		return fmt.Errorf("%w: control: %w", ErrInvalidExperiment, err)
	}
	if err := e.Treatment.Validate(); err != nil {
		return fmt.Errorf("%w: treatment: %w", ErrInvalidExperiment, err)
	}
	return nil
}

// Weights returns the vector for v.
func (e *Experiment) Weights(v Variant) ranking.WeightVector {
	if v == VariantTreatment {
		return e.Treatment
	}
	return e.Control
}

// transition moves e to next, or fails with ErrInvalidTransition. Only
// draft→running and running→concluded are allowed.
func (e *Experiment) transition(next Status, at time.Time) error {
	switch {
	case e.Status == StatusDraft && next == StatusRunning:
		e.StartedAt = &at
	case e.Status == StatusRunning && next == StatusConcluded:
		e.ConcludedAt = &at
	default:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.Status, next)
	}
	e.Status = next
	return nil
}

// Assignment is a user's derived variant in an experiment.
type Assignment struct {
	UserID       string  `json:"user_id"`
	ExperimentID string  `json:"experiment_id"`
	Variant      Variant `json:"variant"`
}

// AssignVariant buckets userID into a variant of experimentID. The result
// depends only on its inputs: sha256 of "user:experiment", the first eight
// bytes taken as a big-endian integer, mod 10000, compared against split.
func AssignVariant(userID, experimentID string, split float64) Variant {
	if bucket(userID, experimentID) < split {
		return VariantTreatment
	}
	return VariantControl
}

// bucket maps the pair to [0, 1) in steps of 1/10000.
func bucket(userID, experimentID string) float64 {
	hash := sha256.Sum256([]byte(userID + ":" + experimentID))
	return float64(binary.BigEndian.Uint64(hash[:8])%10000) / 10000
}
