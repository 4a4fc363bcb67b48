package report

import (
	"context"
	"fmt"
	"time"

	"github.com/onnwee/lostfound/internal/geo"
)

// CandidateQuery is the coarse geo-temporal window sent to the store.
type CandidateQuery struct {
	Type Type
	BBox geo.BBox
	From time.Time
	To   time.Time
}

// Validate checks the query is usable.
func (q CandidateQuery) Validate() error {
	if !q.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidQuery, q.Type)
	}
	if q.To.Before(q.From) {
		return fmt.Errorf("%w: time range ends before it starts", ErrInvalidQuery)
	}
	if q.BBox.MinLat > q.BBox.MaxLat {
		return fmt.Errorf("%w: bounding box latitude inverted", ErrInvalidQuery)
	}
	return nil
}

// Store is the report store collaborator. QueryCandidates returns an empty
// slice, not an error, when nothing falls inside the window. Implementations
// must return reports with their location and timestamps even when
// embeddings or image features are null.
type Store interface {
	GetReport(ctx context.Context, id string) (*Report, error)
	QueryCandidates(ctx context.Context, q CandidateQuery) ([]*Report, error)
}
