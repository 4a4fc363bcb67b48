// Package matching ranks candidate reports for a source report and records
// user verdicts on the matches it issues.
package matching

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/lostfound/internal/ranking"
	"github.com/onnwee/lostfound/internal/signal"
)

var (
	// ErrSourceNotFound is returned when the source report does not exist.
	ErrSourceNotFound = errors.New("source report not found")

	// ErrMatchNotFound is returned when feedback references a match that was
	// never issued or has expired from the ledger.
	ErrMatchNotFound = errors.New("match not found")

	// ErrInvalidFeedback is returned for feedback without a match or user.
	ErrInvalidFeedback = errors.New("invalid feedback")
)

// matchNamespace scopes match IDs derived with UUIDv5.
var matchNamespace = uuid.MustParse("6f1d2a8e-3c4b-5e7f-9a0b-1c2d3e4f5a6b")

// RankOptions selects the weights for a ranking call.
type RankOptions struct {
	ExperimentID string
	// UserID drives variant assignment; defaults to the source owner.
	UserID string
}

// MatchResult is one ranked candidate. It is created per call and never
// mutated afterwards.
type MatchResult struct {
	MatchID            string                 `json:"match_id"`
	SourceID           string                 `json:"source_id"`
	CandidateID        string                 `json:"candidate_id"`
	Score              float64                `json:"score"`
	LowConfidence      bool                   `json:"low_confidence"`
	Signals            []signal.Score         `json:"signals"`
	Contributions      []ranking.Contribution `json:"contributions"`
	Explanation        string                 `json:"explanation"`
	DistanceKm         *float64               `json:"distance_km,omitempty"`
	CandidateCreatedAt time.Time              `json:"candidate_created_at"`
	RankedAt           time.Time              `json:"ranked_at"`
	WeightsVersion     int64                  `json:"weights_version"`
	UserID             string                 `json:"user_id,omitempty"`
	ExperimentID       string                 `json:"experiment_id,omitempty"`
	Variant            string                 `json:"variant,omitempty"`
}

// AvailableSignals returns the values of every available signal, keyed by
// name, as recorded with feedback.
func (m MatchResult) AvailableSignals() map[signal.Name]float64 {
	out := make(map[signal.Name]float64, len(m.Signals))
	for _, s := range m.Signals {
		if s.Available {
			out[s.Name] = s.Value
		}
	}
	return out
}

// matchID is stable for a pair ranked under the same weights and variant,
// so re-ranking does not mint new IDs for identical evidence.
func matchID(sourceID, candidateID string, version int64, experimentID, variant string) string {
	key := strings.Join([]string{sourceID, candidateID, strconv.FormatInt(version, 10), experimentID, variant}, "|")
	return uuid.NewSHA1(matchNamespace, []byte(key)).String()
}
