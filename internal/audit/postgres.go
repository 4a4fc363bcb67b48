package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/onnwee/lostfound/internal/tracing"
)

// chainLockKey serializes appends so two writers cannot chain to the same
// predecessor.
const chainLockKey = 0x6c6f7374

const entryColumns = `id, actor, entity_type, entity_id, action, outcome, status,
	request_id, ip_address, created_at, previous_hash, hash`

// PostgresRepository stores entries in the audit_log table.
type PostgresRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresRepository creates a PostgresRepository.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db, now: time.Now}
}

// Record implements Repository.
func (r *PostgresRepository) Record(ctx context.Context, entry LogEntry) (out *Entry, err error) {
	if err := entry.Validate(); err != nil {
		return nil, err
	}
	ctx, endSpan := tracing.StartDBSpan(ctx, "audit_log", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin audit transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, chainLockKey); err != nil {
		return nil, fmt.Errorf("failed to lock audit chain: %w", err)
	}
	var prev string
	err = tx.QueryRowContext(ctx, `SELECT hash FROM audit_log ORDER BY seq DESC LIMIT 1`).Scan(&prev)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to read audit chain head: %w", err)
	}

	// Postgres stores microseconds; truncate so the hash survives a reload.
	e := newEntry(entry, r.now().Truncate(time.Microsecond))
	seal(e, prev)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_log (`+entryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		e.ID, e.Actor, e.EntityType, e.EntityID, e.Action, e.Outcome, e.Status,
		nullString(e.RequestID), nullString(e.IPAddress), e.CreatedAt, e.PreviousHash, e.Hash,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert audit entry: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit audit entry: %w", err)
	}
	return e, nil
}

// Query implements Repository.
func (r *PostgresRepository) Query(ctx context.Context, filter Filter, limit int) (out []*Entry, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "audit_log", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	query := `SELECT ` + entryColumns + ` FROM audit_log WHERE 1=1`
	var args []any
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		query += ` AND ` + column + ` = $` + strconv.Itoa(len(args))
	}
	add("entity_type", filter.EntityType)
	add("entity_id", filter.EntityID)
	add("actor", filter.Actor)
	query += ` ORDER BY seq DESC`
	if limit > 0 {
		args = append(args, limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}
	return r.list(ctx, query, args...)
}

// Chain implements Repository.
func (r *PostgresRepository) Chain(ctx context.Context) (out []*Entry, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "audit_log", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()
	return r.list(ctx, `SELECT `+entryColumns+` FROM audit_log ORDER BY seq`)
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]*Entry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	out := make([]*Entry, 0)
	for rows.Next() {
		var (
			e                    Entry
			requestID, ipAddress sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Actor, &e.EntityType, &e.EntityID, &e.Action, &e.Outcome, &e.Status,
			&requestID, &ipAddress, &e.CreatedAt, &e.PreviousHash, &e.Hash); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.RequestID = requestID.String
		e.IPAddress = ipAddress.String
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit log: %w", err)
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
