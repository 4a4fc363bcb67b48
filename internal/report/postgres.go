package report

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/onnwee/lostfound/internal/geo"
	"github.com/onnwee/lostfound/internal/tracing"
)

const reportColumns = `
	id, owner_id, type, status, category, color, brand, model,
	description, language, lat, lng, occurred_at,
	text_embedding, image_hash, image_embedding, created_at`

// PostgresStore reads reports from the reports table owned by the report service.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(db *sql.DB, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{db: db, logger: logger}
}

// GetReport loads a single report by ID.
func (s *PostgresStore) GetReport(ctx context.Context, id string) (r *Report, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "reports", tracing.DBOperationQuery)
	defer func() { endSpan(ignoreNotFound(err)) }()

	query := `SELECT ` + reportColumns + ` FROM reports WHERE id = $1`
	r, err = scanReport(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report %s: %w", id, err)
	}
	return r, nil
}

// QueryCandidates returns open reports of q.Type inside the window.
// Rows without a location are skipped by the bounding-box predicate.
func (s *PostgresStore) QueryCandidates(ctx context.Context, q CandidateQuery) (out []*Report, err error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	ctx, endSpan := tracing.StartDBSpan(ctx, "reports", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	lngPredicate := `lng BETWEEN $4 AND $5`
	if q.BBox.CrossesAntimeridian() {
		lngPredicate = `(lng >= $4 OR lng <= $5)`
	}

	query := `SELECT ` + reportColumns + `
		FROM reports
		WHERE type = $1
		  AND status = 'open'
		  AND lat IS NOT NULL AND lng IS NOT NULL
		  AND lat BETWEEN $2 AND $3
		  AND ` + lngPredicate + `
		  AND occurred_at BETWEEN $6 AND $7
		ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query,
		string(q.Type),
		q.BBox.MinLat, q.BBox.MaxLat,
		q.BBox.MinLng, q.BBox.MaxLng,
		q.From, q.To,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidates: %w", err)
	}
	defer rows.Close()

	out = make([]*Report, 0)
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate candidates: %w", err)
	}

	s.logger.DebugContext(ctx, "candidate query completed",
		"type", q.Type,
		"rows", len(out))
	return out, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanReport(row rowScanner) (*Report, error) {
	var (
		r                             Report
		typ, status                   string
		category, color, brand, model sql.NullString
		description, language         sql.NullString
		lat, lng                      sql.NullFloat64
		textEmbedding, imageEmbedding pq.Float64Array
		imageHash                     []byte
	)

	err := row.Scan(
		&r.ID, &r.OwnerID, &typ, &status,
		&category, &color, &brand, &model,
		&description, &language, &lat, &lng, &r.OccurredAt,
		&textEmbedding, &imageHash, &imageEmbedding, &r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.Type = Type(typ)
	r.Status = Status(status)
	r.Category = category.String
	r.Attributes = Attributes{Color: color.String, Brand: brand.String, Model: model.String}
	r.Description = description.String
	r.Language = language.String
	if lat.Valid && lng.Valid {
		r.Location = &geo.Point{Lat: lat.Float64, Lng: lng.Float64}
	}
	if len(textEmbedding) > 0 {
		r.TextEmbedding = []float64(textEmbedding)
	}
	if len(imageHash) > 0 || len(imageEmbedding) > 0 {
		r.Image = &ImageFeatures{Hash: imageHash, Embedding: []float64(imageEmbedding)}
		if len(imageEmbedding) == 0 {
			r.Image.Embedding = nil
		}
	}
	return &r, nil
}

func ignoreNotFound(err error) error {
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}
