package feedback

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/lostfound/internal/tracing"
)

const proposalColumns = `id, base, proposed, correlations, train_auc, holdout_auc,
	baseline_auc, train_size, holdout_size, status, reject_reason, created_at, decided_at`

// PostgresProposalStore persists proposals in the weight_proposals table.
type PostgresProposalStore struct {
	db *sql.DB
}

// NewPostgresProposalStore creates a PostgresProposalStore.
func NewPostgresProposalStore(db *sql.DB) *PostgresProposalStore {
	return &PostgresProposalStore{db: db}
}

// Save inserts p.
func (s *PostgresProposalStore) Save(ctx context.Context, p *Proposal) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "weight_proposals", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	base, err := json.Marshal(p.Base)
	if err != nil {
		return fmt.Errorf("failed to encode base weights: %w", err)
	}
	proposed, err := json.Marshal(p.Proposed)
	if err != nil {
		return fmt.Errorf("failed to encode proposed weights: %w", err)
	}
	correlations, err := json.Marshal(p.Correlations)
	if err != nil {
		return fmt.Errorf("failed to encode correlations: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO weight_proposals (`+proposalColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		p.ID, base, proposed, correlations, p.TrainAUC, p.HoldoutAUC,
		p.BaselineAUC, p.TrainSize, p.HoldoutSize, string(p.Status),
		nullString(p.RejectReason), p.CreatedAt, p.DecidedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save weight proposal: %w", err)
	}
	return nil
}

// Get loads a proposal by ID.
func (s *PostgresProposalStore) Get(ctx context.Context, id string) (p *Proposal, err error) {
	if _, parseErr := uuid.Parse(id); parseErr != nil {
		return nil, ErrProposalNotFound
	}
	ctx, endSpan := tracing.StartDBSpan(ctx, "weight_proposals", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	row := s.db.QueryRowContext(ctx, `SELECT `+proposalColumns+` FROM weight_proposals WHERE id = $1`, id)
	p, err = scanProposal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProposalNotFound
	}
	return p, err
}

// UpdateStatus decides a pending proposal. The status guard in the WHERE
// clause keeps concurrent promoters from deciding twice.
func (s *PostgresProposalStore) UpdateStatus(ctx context.Context, id string, status ProposalStatus, reason string, at time.Time) (err error) {
	if _, parseErr := uuid.Parse(id); parseErr != nil {
		return ErrProposalNotFound
	}
	ctx, endSpan := tracing.StartDBSpan(ctx, "weight_proposals", tracing.DBOperationUpdate)
	defer func() { endSpan(err) }()

	res, err := s.db.ExecContext(ctx, `
		UPDATE weight_proposals
		SET status = $2, reject_reason = $3, decided_at = $4
		WHERE id = $1 AND status = 'pending'`,
		id, string(status), nullString(reason), at)
	if err != nil {
		return fmt.Errorf("failed to update weight proposal: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update weight proposal: %w", err)
	}
	if n > 0 {
		return nil
	}

	var current string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM weight_proposals WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrProposalNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read weight proposal status: %w", err)
	}
	return fmt.Errorf("%w: %s is %s", ErrProposalNotPending, id, current)
}

// List returns proposals newest first.
func (s *PostgresProposalStore) List(ctx context.Context, limit int) (out []*Proposal, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "weight_proposals", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	query := `SELECT ` + proposalColumns + ` FROM weight_proposals ORDER BY created_at DESC, id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list weight proposals: %w", err)
	}
	defer rows.Close()

	out = make([]*Proposal, 0)
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate weight proposals: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProposal(row rowScanner) (*Proposal, error) {
	var (
		p                            Proposal
		base, proposed, correlations []byte
		status                       string
		reason                       sql.NullString
		decidedAt                    sql.NullTime
	)
	err := row.Scan(&p.ID, &base, &proposed, &correlations, &p.TrainAUC, &p.HoldoutAUC,
		&p.BaselineAUC, &p.TrainSize, &p.HoldoutSize, &status, &reason, &p.CreatedAt, &decidedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan weight proposal: %w", err)
	}
	if err := json.Unmarshal(base, &p.Base); err != nil {
		return nil, fmt.Errorf("failed to decode base weights: %w", err)
	}
	if err := json.Unmarshal(proposed, &p.Proposed); err != nil {
		return nil, fmt.Errorf("failed to decode proposed weights: %w", err)
	}
	if err := json.Unmarshal(correlations, &p.Correlations); err != nil {
		return nil, fmt.Errorf("failed to decode correlations: %w", err)
	}
	p.Status = ProposalStatus(status)
	p.RejectReason = reason.String
	if decidedAt.Valid {
		t := decidedAt.Time
		p.DecidedAt = &t
	}
	return &p, nil
}
