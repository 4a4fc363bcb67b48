// Package audit keeps a tamper-evident trail of administrative changes to
// ranking weights and experiments.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Entity types.
const (
	EntityWeightProposal = "weight_proposal"
	EntityExperiment     = "experiment"
)

// Actions.
const (
	ActionCreateProposal     = "create_proposal"
	ActionPromoteProposal    = "promote_proposal"
	ActionRejectProposal     = "reject_proposal"
	ActionCreateExperiment   = "create_experiment"
	ActionStartExperiment    = "start_experiment"
	ActionConcludeExperiment = "conclude_experiment"
)

// Outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

var (
	ErrInvalidEntry = errors.New("invalid audit entry")
	// ErrChainBroken is returned by Verify when an entry does not link to
	// its predecessor or its hash does not match its contents.
	ErrChainBroken = errors.New("audit hash chain broken")
)

var validActions = map[string]string{
	ActionCreateProposal:     EntityWeightProposal,
	ActionPromoteProposal:    EntityWeightProposal,
	ActionRejectProposal:     EntityWeightProposal,
	ActionCreateExperiment:   EntityExperiment,
	ActionStartExperiment:    EntityExperiment,
	ActionConcludeExperiment: EntityExperiment,
}

// Entry is one recorded administrative action.
type Entry struct {
	ID         string    `json:"id"`
	Actor      string    `json:"actor"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Action     string    `json:"action"`
	Outcome    string    `json:"outcome"`
	Status     int       `json:"status"`
	RequestID  string    `json:"request_id,omitempty"`
	IPAddress  string    `json:"ip_address,omitempty"`
	CreatedAt  time.Time `json:"created_at"`

	PreviousHash string `json:"previous_hash"`
	Hash         string `json:"hash"`
}

// LogEntry is the caller-supplied part of an Entry.
type LogEntry struct {
	Actor      string
	EntityType string
	EntityID   string
	Action     string
	Outcome    string
	Status     int
	RequestID  string
	IPAddress  string
}

// Validate checks required fields and that the action belongs to the
// entity type.
func (e LogEntry) Validate() error {
	want, ok := validActions[e.Action]
	switch {
	case !ok:
		return fmt.Errorf("%w: unknown action %q", ErrInvalidEntry, e.Action)
	case e.EntityType != want:
		return fmt.Errorf("%w: action %s does not apply to %s", ErrInvalidEntry, e.Action, e.EntityType)
	case e.Outcome != OutcomeSuccess && e.Outcome != OutcomeFailure:
		return fmt.Errorf("%w: outcome %q", ErrInvalidEntry, e.Outcome)
	}
	return nil
}

// computeHash digests every stored field of e together with the hash of the
// entry before it.
func computeHash(e *Entry) string {
	fields := []string{
		e.ID, e.Actor, e.EntityType, e.EntityID, e.Action, e.Outcome,
		fmt.Sprint(e.Status), e.RequestID, e.IPAddress,
		e.CreatedAt.UTC().Format(time.RFC3339Nano), e.PreviousHash,
	}
	sum := sha256.Sum256([]byte(strings.Join(fields, "\x1f")))
	return hex.EncodeToString(sum[:])
}

// seal links e to prev and fills in its hash.
func seal(e *Entry, prev string) {
	e.PreviousHash = prev
	e.Hash = computeHash(e)
}

// Verify walks entries oldest first and reports the first break.
func Verify(entries []*Entry) error {
	prev := ""
	for i, e := range entries {
		if e.PreviousHash != prev {
			return fmt.Errorf("%w: entry %d (%s) does not link to its predecessor", ErrChainBroken, i, e.ID)
		}
		if computeHash(e) != e.Hash {
			return fmt.Errorf("%w: entry %d (%s) was modified", ErrChainBroken, i, e.ID)
		}
		prev = e.Hash
	}
	return nil
}
