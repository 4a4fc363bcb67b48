package matching

import (
	"fmt"
	"sort"
	"strings"

	"github.com/onnwee/lostfound/internal/ranking"
	"github.com/onnwee/lostfound/internal/signal"
)

const lowConfidenceExplanation = "Low confidence: no comparable evidence was available for this pair."

// explain summarises the two largest contributions with the raw
// measurements behind them.
func explain(f ranking.Fusion, scores []signal.Score) string {
	if f.LowConfidence || len(f.Contributions) == 0 {
		return lowConfidenceExplanation
	}

	raw := make(map[signal.Name]signal.Measurement, len(scores))
	for _, s := range scores {
		raw[s.Name] = s.Raw
	}

	top := append([]ranking.Contribution(nil), f.Contributions...)
	sort.SliceStable(top, func(i, j int) bool {
		return top[i].Contribution > top[j].Contribution
	})
	if len(top) > 2 {
		top = top[:2]
	}

	parts := make([]string, 0, len(top))
	for _, c := range top {
		parts = append(parts, fmt.Sprintf("%s (%.0f%% of score)", describe(c.Name, c.Value, raw[c.Name]), shareOf(c, f.Score)))
	}
	return fmt.Sprintf("Match score %.2f, driven by %s.", f.Score, strings.Join(parts, " and "))
}

func shareOf(c ranking.Contribution, total float64) float64 {
	if total <= 0 {
		return 0
	}
	return 100 * c.Contribution / total
}

func describe(name signal.Name, value float64, m signal.Measurement) string {
	switch name {
	case signal.Geo:
		return fmt.Sprintf("reported %.1f km apart", m.Value)
	case signal.Time:
		if m.Value < 48 {
			return fmt.Sprintf("occurred %.0f hours apart", m.Value)
		}
		return fmt.Sprintf("occurred %.1f days apart", m.Value/24)
	case signal.Text:
		return fmt.Sprintf("similar descriptions (cosine %.2f)", m.Value)
	case signal.Image:
		if m.Unit == "hamming_bits" {
			return fmt.Sprintf("similar photos (%s differ)", m.Detail)
		}
		return fmt.Sprintf("similar photos (cosine %.2f)", m.Value)
	case signal.Attributes:
		if m.Detail != "" && m.Value > 0 {
			return fmt.Sprintf("matching attributes (%s)", m.Detail)
		}
		return "no matching attributes"
	default:
		return fmt.Sprintf("%s %.2f", name, value)
	}
}
