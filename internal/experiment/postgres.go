package experiment

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/onnwee/lostfound/internal/tracing"
)

const experimentColumns = `id, name, status, control, treatment, traffic_split,
	created_at, started_at, concluded_at`

// PostgresRepository stores experiments in the experiments table with
// weight vectors as JSONB.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a PostgresRepository.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, e *Experiment) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "experiments", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	control, treatment, err := encodeVariants(e)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO experiments (`+experimentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.Name, string(e.Status), control, treatment, e.TrafficSplit,
		e.CreatedAt, e.StartedAt, e.ConcludedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create experiment: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (e *Experiment, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "experiments", tracing.DBOperationQuery)
	defer func() {
		if errors.Is(err, ErrNotFound) {
			endSpan(nil)
			return
		}
		endSpan(err)
	}()

	if _, parseErr := uuid.Parse(id); parseErr != nil {
		return nil, ErrNotFound
	}
	e, err = scanExperiment(r.db.QueryRowContext(ctx,
		`SELECT `+experimentColumns+` FROM experiments WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get experiment %s: %w", id, err)
	}
	return e, nil
}

func (r *PostgresRepository) Update(ctx context.Context, e *Experiment) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "experiments", tracing.DBOperationUpdate)
	defer func() { endSpan(err) }()

	res, err := r.db.ExecContext(ctx, `
		UPDATE experiments
		SET status = $2, started_at = $3, concluded_at = $4
		WHERE id = $1`,
		e.ID, string(e.Status), e.StartedAt, e.ConcludedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update experiment %s: %w", e.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update experiment %s: %w", e.ID, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) List(ctx context.Context) (out []*Experiment, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "experiments", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	rows, err := r.db.QueryContext(ctx, `SELECT `+experimentColumns+` FROM experiments ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list experiments: %w", err)
	}
	defer rows.Close()

	out = make([]*Experiment, 0)
	for rows.Next() {
		e, err := scanExperiment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan experiment: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExperiment(row rowScanner) (*Experiment, error) {
	var (
		e                  Experiment
		status             string
		control, treatment []byte
		started, concluded sql.NullTime
	)
	if err := row.Scan(&e.ID, &e.Name, &status, &control, &treatment, &e.TrafficSplit,
		&e.CreatedAt, &started, &concluded); err != nil {
		return nil, err
	}
	e.Status = Status(status)
	if err := json.Unmarshal(control, &e.Control); err != nil {
		return nil, fmt.Errorf("decode control weights: %w", err)
	}
	if err := json.Unmarshal(treatment, &e.Treatment); err != nil {
		return nil, fmt.Errorf("decode treatment weights: %w", err)
	}
	if started.Valid {
		e.StartedAt = &started.Time
	}
	if concluded.Valid {
		e.ConcludedAt = &concluded.Time
	}
	return &e, nil
}

func encodeVariants(e *Experiment) (control, treatment []byte, err error) {
	if control, err = json.Marshal(e.Control); err != nil {
		return nil, nil, fmt.Errorf("encode control weights: %w", err)
	}
	if treatment, err = json.Marshal(e.Treatment); err != nil {
		return nil, nil, fmt.Errorf("encode treatment weights: %w", err)
	}
	return control, treatment, nil
}
