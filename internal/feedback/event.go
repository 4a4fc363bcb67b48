// Package feedback records accept/reject verdicts on issued matches and
// learns weight proposals from them offline.
package feedback

import (
	"errors"
	"fmt"
	"time"

	"github.com/onnwee/lostfound/internal/signal"
)

var (
	// ErrDuplicateEvent is returned when a user already gave a verdict on a match.
	ErrDuplicateEvent = errors.New("feedback already recorded for this match and user")

	// ErrInvalidEvent is returned when an event is missing required fields.
	ErrInvalidEvent = errors.New("invalid feedback event")
)

// Event is one user's verdict on a match. Events are append-only.
type Event struct {
	ID           string                  `json:"id"`
	MatchID      string                  `json:"match_id"`
	SourceID     string                  `json:"source_id"`
	CandidateID  string                  `json:"candidate_id"`
	UserID       string                  `json:"user_id"`
	Accepted     bool                    `json:"accepted"`
	ExperimentID string                  `json:"experiment_id,omitempty"`
	Variant      string                  `json:"variant,omitempty"`
	Signals      map[signal.Name]float64 `json:"signals"` // available signal values at ranking time
	CreatedAt    time.Time               `json:"created_at"`
}

// Validate checks required fields.
func (e Event) Validate() error {
	switch {
	case e.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidEvent)
	case e.MatchID == "":
		return fmt.Errorf("%w: missing match id", ErrInvalidEvent)
	case e.UserID == "":
		return fmt.Errorf("%w: missing user id", ErrInvalidEvent)
	case e.ExperimentID != "" && e.Variant == "":
		return fmt.Errorf("%w: experiment event without variant", ErrInvalidEvent)
	}
	return nil
}

// key identifies the (match, user) pair that may hold only one verdict.
func (e Event) key() string {
	return e.MatchID + "\x00" + e.UserID
}
