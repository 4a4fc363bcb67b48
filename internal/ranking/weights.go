package ranking

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/onnwee/lostfound/internal/signal"
)

// Sources of a weight vector.
const (
	SourceDefault     = "default"
	SourceCalibration = "calibration"
	SourceLearner     = "learner"
	SourceAdmin       = "admin"
)

var (
	// ErrInvalidWeights is returned when a weight vector fails validation.
	ErrInvalidWeights = errors.New("invalid weight vector")

	// ErrStaleVersion is returned when publishing a version that is not newer
	// than the active one.
	ErrStaleVersion = errors.New("weight version is not newer than active version")
)

// WeightVector maps signals to non-negative weights. Values are treated as
// immutable once published; use Clone before modifying.
type WeightVector struct {
	Version   int64                   `json:"version" cbor:"1,keyasint"`
	Weights   map[signal.Name]float64 `json:"weights" cbor:"2,keyasint"`
	UpdatedAt time.Time               `json:"updated_at" cbor:"3,keyasint"`
	Source    string                  `json:"source" cbor:"4,keyasint"`
}

// DefaultWeights returns the documented baseline. The weights sum to 1.2;
// Fuse renormalizes over whichever subset is available.
func DefaultWeights() WeightVector {
	return WeightVector{
		Version: 1,
		Weights: map[signal.Name]float64{
			signal.Text:       0.30,
			signal.Image:      0.25,
			signal.Geo:        0.25,
			signal.Time:       0.20,
			signal.Attributes: 0.20,
		},
		Source: SourceDefault,
	}
}

// Get returns the weight for name, 0 when absent.
func (w WeightVector) Get(name signal.Name) float64 {
	return w.Weights[name]
}

// Clone returns a deep copy.
func (w WeightVector) Clone() WeightVector {
	out := w
	out.Weights = make(map[signal.Name]float64, len(w.Weights))
	for k, v := range w.Weights {
		out.Weights[k] = v
	}
	return out
}

// Validate checks that every weight is finite and non-negative, every name is
// a known signal, and at least one weight is positive.
func (w WeightVector) Validate() error {
	if len(w.Weights) == 0 {
		return fmt.Errorf("%w: no weights", ErrInvalidWeights)
	}
	var total float64
	for name, v := range w.Weights {
		if !signal.Known(name) {
			return fmt.Errorf("%w: unknown signal %q", ErrInvalidWeights, name)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("%w: %s weight %v must be finite and non-negative", ErrInvalidWeights, name, v)
		}
		total += v
	}
	if total <= 0 {
		return fmt.Errorf("%w: all weights are zero", ErrInvalidWeights)
	}
	return nil
}

// Sum returns the total of all weights.
func (w WeightVector) Sum() float64 {
	var total float64
	for _, v := range w.Weights {
		total += v
	}
	return total
}

// Normalized returns a copy scaled so the weights sum to 1. A vector with
// zero total is returned unchanged.
func (w WeightVector) Normalized() WeightVector {
	out := w.Clone()
	total := w.Sum()
	if total <= 0 {
		return out
	}
	for k, v := range out.Weights {
		out.Weights[k] = v / total
	}
	return out
}

// MaxDelta returns the largest absolute change of any normalized weight
// between w and other, over every known signal.
func (w WeightVector) MaxDelta(other WeightVector) float64 {
	a, b := w.Normalized(), other.Normalized()
	var maxDelta float64
	for _, name := range signal.Names() {
		if d := math.Abs(a.Get(name) - b.Get(name)); d > maxDelta {
			maxDelta = d
		}
	}
	return maxDelta
}

// Equal reports whether both vectors carry the same weights, ignoring
// metadata.
func (w WeightVector) Equal(other WeightVector) bool {
	for _, name := range signal.Names() {
		if w.Get(name) != other.Get(name) {
			return false
		}
	}
	return true
}

// String renders the weights in signal order, for logs.
func (w WeightVector) String() string {
	names := make([]string, 0, len(w.Weights))
	for name := range w.Weights {
		names = append(names, string(name))
	}
	sort.Strings(names)
	s := fmt.Sprintf("v%d{", w.Version)
	for i, n := range names {
		if i > 0 {
			s += " "
		}
		s += fmt.Sprintf("%s=%.3f", n, w.Weights[signal.Name(n)])
	}
	return s + "}"
}
