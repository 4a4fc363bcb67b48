// Package signal computes per-pair similarity signals between a source report
// and a candidate. A provider that cannot compute its signal returns an
// unavailable Score; absence is a value, never an error.
package signal

import "math"

// Name identifies a signal.
type Name string

const (
	Text       Name = "text"
	Image      Name = "image"
	Geo        Name = "geo"
	Time       Name = "time"
	Attributes Name = "attributes"
)

// Names returns every signal in the fixed order used for breakdowns.
func Names() []Name {
	return []Name{Text, Image, Geo, Time, Attributes}
}

// Known reports whether n is a recognised signal name.
func Known(n Name) bool {
	switch n {
	case Text, Image, Geo, Time, Attributes:
		return true
	}
	return false
}

// Reason explains why a signal is unavailable.
type Reason string

const (
	ReasonMissingData Reason = "missing_data"
	ReasonDisabled    Reason = "disabled"
	ReasonTimeout     Reason = "timeout"
	ReasonCancelled   Reason = "cancelled"
)

// Measurement is the raw quantity a score was derived from, kept for explanations.
type Measurement struct {
	Value  float64 `json:"value"`
	Unit   string  `json:"unit"`
	Detail string  `json:"detail,omitempty"`
}

// Score is either Available with a Value in [0,1], or unavailable with a Reason.
// Construct it with Available or Unavailable.
type Score struct {
	Name      Name        `json:"name"`
	Value     float64     `json:"value"`
	Available bool        `json:"available"`
	Raw       Measurement `json:"raw"`
	Reason    Reason      `json:"reason,omitempty"`
}

// Available returns a computed score clamped to [0,1].
func Available(name Name, value float64, raw Measurement) Score {
	return Score{Name: name, Value: clamp01(value), Available: true, Raw: raw}
}

// Unavailable returns a score that carries no value.
func Unavailable(name Name, reason Reason) Score {
	return Score{Name: name, Reason: reason}
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
