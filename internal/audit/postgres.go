package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// advisoryLockKey serializes Append across every daemon instance sharing the
// database.
const advisoryLockKey = int64(7_304_118_262)

const entryColumns = `idx, ts, request_id, action, record_id, record_type, actor, outcome, ledger_ref, data_hash, prev_hash, hash`

// PostgresLog persists the journal in the audit_log table. The genesis row
// is inserted by migration 002.
type PostgresLog struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresLog creates a PostgresLog backed by the given pool.
func NewPostgresLog(pool *pgxpool.Pool, logger *zap.Logger) *PostgresLog {
	return &PostgresLog{pool: pool, logger: logger}
}

// Append implements Log. The tail read and insert run in one transaction
// holding a transaction-scoped advisory lock.
func (l *PostgresLog) Append(ctx context.Context, ev Event) (*Entry, error) {
	dh, err := dataHash(ev.Data)
	if err != nil {
		return nil, err
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	prev := &Entry{}
	if err := tx.QueryRow(ctx,
		"SELECT idx, hash FROM audit_log ORDER BY idx DESC LIMIT 1",
	).Scan(&prev.Index, &prev.Hash); err != nil {
		return nil, fmt.Errorf("read audit tail: %w", err)
	}

	e := newEntry(ev, prev, dh)
	// Postgres keeps microseconds; truncate before hashing so Verify
	// recomputes the same value from the stored row.
	e.Timestamp = e.Timestamp.Truncate(time.Microsecond)
	e.Hash = hashEntry(e)

	if _, err := tx.Exec(ctx,
		`INSERT INTO audit_log (`+entryColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		e.Index, e.Timestamp, e.RequestID, string(e.Action), e.RecordID, e.RecordType,
		e.Actor, e.Outcome, e.LedgerRef, e.DataHash, e.PrevHash, e.Hash,
	); err != nil {
		return nil, fmt.Errorf("insert audit entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit audit tx: %w", err)
	}

	l.logger.Debug("audit entry appended",
		zap.Int64("idx", e.Index),
		zap.String("action", string(e.Action)),
		zap.String("record_id", e.RecordID),
	)
	return e, nil
}

// Get implements Log.
func (l *PostgresLog) Get(ctx context.Context, index int64) (*Entry, error) {
	rows, err := l.pool.Query(ctx, `SELECT `+entryColumns+` FROM audit_log WHERE idx = $1`, index)
	if err != nil {
		return nil, fmt.Errorf("get audit entry %d: %w", index, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrEntryNotFound
	}
	return scanEntry(rows)
}

// Len implements Log.
func (l *PostgresLog) Len(ctx context.Context) (int64, error) {
	var n int64
	if err := l.pool.QueryRow(ctx, "SELECT COUNT(*) FROM audit_log").Scan(&n); err != nil {
		return 0, fmt.Errorf("count audit entries: %w", err)
	}
	return n, nil
}

// List implements Log.
func (l *PostgresLog) List(ctx context.Context, f Filter) ([]*Entry, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT `+entryColumns+` FROM audit_log
		WHERE ($1 = '' OR record_id = $1)
		  AND ($2 = '' OR action = $2)
		ORDER BY idx DESC
		LIMIT $3 OFFSET $4`,
		f.RecordID, string(f.Action), f.limit(), f.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Verify implements Log. It streams all rows ordered by idx.
func (l *PostgresLog) Verify(ctx context.Context) error {
	rows, err := l.pool.Query(ctx, `SELECT `+entryColumns+` FROM audit_log ORDER BY idx ASC`)
	if err != nil {
		return fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var prev *Entry
	for rows.Next() {
		curr, err := scanEntry(rows)
		if err != nil {
			return err
		}
		if prev == nil {
			if err := verifyGenesis(curr); err != nil {
				return err
			}
		} else if err := verifyLink(prev, curr); err != nil {
			return err
		}
		prev = curr
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if prev == nil {
		return errors.New("audit log has no genesis entry")
	}
	return nil
}

// Root implements Log.
func (l *PostgresLog) Root(ctx context.Context) (string, error) {
	var hash string
	if err := l.pool.QueryRow(ctx,
		"SELECT hash FROM audit_log ORDER BY idx DESC LIMIT 1",
	).Scan(&hash); err != nil {
		return "", fmt.Errorf("get audit root: %w", err)
	}
	return hash, nil
}

func scanEntry(rows pgx.Rows) (*Entry, error) {
	e := &Entry{}
	var action string
	if err := rows.Scan(
		&e.Index, &e.Timestamp, &e.RequestID, &action, &e.RecordID, &e.RecordType,
		&e.Actor, &e.Outcome, &e.LedgerRef, &e.DataHash, &e.PrevHash, &e.Hash,
	); err != nil {
		return nil, fmt.Errorf("scan audit row: %w", err)
	}
	e.Action = Action(action)
	e.Timestamp = e.Timestamp.UTC()
	return e, nil
}
