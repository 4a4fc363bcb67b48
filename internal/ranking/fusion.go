package ranking

import (
	"github.com/onnwee/lostfound/internal/signal"
)

// Contribution is one available signal's share of a fused score.
type Contribution struct {
	Name         signal.Name `json:"name"`
	Weight       float64     `json:"weight"` // renormalized over available signals
	Value        float64     `json:"value"`
	Contribution float64     `json:"contribution"` // Weight * Value
}

// Fusion is the result of combining a pair's signal scores.
type Fusion struct {
	Score         float64        `json:"score"`
	LowConfidence bool           `json:"low_confidence"`
	Contributions []Contribution `json:"contributions"`
}

// Fuse drops unavailable signals, renormalizes the remaining positive weights
// to sum to 1 and returns the weighted sum, clamped to [0,1]. With no
// weighted signal available the score is 0 and LowConfidence is set.
// Contributions follow the order of scores.
func Fuse(scores []signal.Score, w WeightVector) Fusion {
	var total float64
	for _, s := range scores {
		if s.Available {
			if wi := w.Get(s.Name); wi > 0 {
				total += wi
			}
		}
	}
	if total == 0 {
		return Fusion{LowConfidence: true, Contributions: []Contribution{}}
	}

	contributions := make([]Contribution, 0, len(scores))
	var score float64
	for _, s := range scores {
		wi := w.Get(s.Name)
		if !s.Available || wi <= 0 {
			continue
		}
		share := wi / total
		c := share * s.Value
		score += c
		contributions = append(contributions, Contribution{
			Name:         s.Name,
			Weight:       share,
			Value:        s.Value,
			Contribution: c,
		})
	}

	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return Fusion{Score: score, Contributions: contributions}
}
