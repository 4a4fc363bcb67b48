package feedback

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/onnwee/lostfound/internal/signal"
	"github.com/onnwee/lostfound/internal/tracing"
)

const eventColumns = `id, match_id, source_id, candidate_id, user_id, accepted,
	experiment_id, variant, signals, created_at`

// PostgresStore persists events in the feedback_events table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Append inserts e. The (match_id, user_id) constraint turns repeats into
// ErrDuplicateEvent.
func (s *PostgresStore) Append(ctx context.Context, e Event) (err error) {
	if err := e.Validate(); err != nil {
		return err
	}
	ctx, endSpan := tracing.StartDBSpan(ctx, "feedback_events", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	signals, err := json.Marshal(e.Signals)
	if err != nil {
		return fmt.Errorf("failed to encode signals: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO feedback_events (`+eventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (match_id, user_id) DO NOTHING`,
		e.ID, e.MatchID, e.SourceID, e.CandidateID, e.UserID, e.Accepted,
		nullString(e.ExperimentID), nullString(e.Variant), signals, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append feedback event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to append feedback event: %w", err)
	}
	if n == 0 {
		return ErrDuplicateEvent
	}
	return nil
}

// ListSince implements Store.
func (s *PostgresStore) ListSince(ctx context.Context, since time.Time, limit int) (out []Event, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "feedback_events", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	if limit <= 0 {
		return s.list(ctx, `SELECT `+eventColumns+` FROM feedback_events
			WHERE created_at >= $1
			ORDER BY created_at, id`, since)
	}
	return s.list(ctx, `SELECT `+eventColumns+` FROM (
			SELECT * FROM feedback_events
			WHERE created_at >= $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		) newest
		ORDER BY created_at, id`, since, limit)
}

// ListByExperiment implements Store.
func (s *PostgresStore) ListByExperiment(ctx context.Context, experimentID string) (out []Event, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "feedback_events", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	return s.list(ctx, `SELECT `+eventColumns+` FROM feedback_events
		WHERE experiment_id = $1
		ORDER BY created_at, id`, experimentID)
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list feedback events: %w", err)
	}
	defer rows.Close()

	out := make([]Event, 0)
	for rows.Next() {
		var (
			e                     Event
			experimentID, variant sql.NullString
			signals               []byte
		)
		if err := rows.Scan(&e.ID, &e.MatchID, &e.SourceID, &e.CandidateID, &e.UserID, &e.Accepted,
			&experimentID, &variant, &signals, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan feedback event: %w", err)
		}
		e.ExperimentID = experimentID.String
		e.Variant = variant.String
		e.Signals = map[signal.Name]float64{}
		if len(signals) > 0 {
			if err := json.Unmarshal(signals, &e.Signals); err != nil {
				return nil, fmt.Errorf("failed to decode signals for event %s: %w", e.ID, err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate feedback events: %w", err)
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
