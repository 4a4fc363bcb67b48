// Package report defines lost/found reports as the matching engine reads them
// and the store contract used to load them.
package report

import (
	"errors"
	"strings"
	"time"

	"github.com/onnwee/lostfound/internal/geo"
)

// Type distinguishes lost reports from found reports.
type Type string

const (
	TypeLost  Type = "lost"
	TypeFound Type = "found"
)

// Opposite returns the type a report of type t is matched against.
func (t Type) Opposite() Type {
	if t == TypeLost {
		return TypeFound
	}
	return TypeLost
}

// Valid reports whether t is lost or found.
func (t Type) Valid() bool {
	return t == TypeLost || t == TypeFound
}

// Status is the lifecycle state of a report.
type Status string

const (
	StatusOpen     Status = "open"
	StatusResolved Status = "resolved"
	StatusRemoved  Status = "removed"
)

// Terminal reports whether the report can no longer be matched.
func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusRemoved
}

var (
	// ErrNotFound is returned when a report does not exist.
	ErrNotFound = errors.New("report not found")

	// ErrInvalidQuery is returned when a candidate query is malformed.
	ErrInvalidQuery = errors.New("invalid candidate query")
)

// Attributes are the optional categorical descriptors of an item.
type Attributes struct {
	Color string `json:"color,omitempty"`
	Brand string `json:"brand,omitempty"`
	Model string `json:"model,omitempty"`
}

// ImageFeatures are produced by the vision service. Either field may be empty.
type ImageFeatures struct {
	Hash      []byte    `json:"hash,omitempty"`      // perceptual hash, bit length = len*8
	Embedding []float64 `json:"embedding,omitempty"` // deep image embedding
}

// Empty reports whether neither a hash nor an embedding is present.
func (f *ImageFeatures) Empty() bool {
	return f == nil || (len(f.Hash) == 0 && len(f.Embedding) == 0)
}

// Report is an immutable, published lost or found report.
// TextEmbedding and Image are nil when the NLP or vision service is disabled
// or has not processed the report yet.
type Report struct {
	ID            string         `json:"id"`
	OwnerID       string         `json:"owner_id"`
	Type          Type           `json:"type"`
	Status        Status         `json:"status"`
	Category      string         `json:"category,omitempty"`
	Attributes    Attributes     `json:"attributes"`
	Description   string         `json:"description,omitempty"`
	Language      string         `json:"language,omitempty"`
	Location      *geo.Point     `json:"location,omitempty"`
	OccurredAt    time.Time      `json:"occurred_at"`
	TextEmbedding []float64      `json:"text_embedding,omitempty"`
	Image         *ImageFeatures `json:"image,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Matchable reports whether r can appear as a candidate.
func (r *Report) Matchable() bool {
	return !r.Status.Terminal()
}

// CategoricalValues returns category, color, brand and model normalized for
// comparison, keyed by attribute name. Blank values are omitted.
func (r *Report) CategoricalValues() map[string]string {
	out := make(map[string]string, 4)
	add := func(key, v string) {
		v = strings.ToLower(strings.Join(strings.Fields(v), " "))
		if v != "" {
			out[key] = v
		}
	}
	add("category", r.Category)
	add("color", r.Attributes.Color)
	add("brand", r.Attributes.Brand)
	add("model", r.Attributes.Model)
	return out
}
