package commitment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/ArthaIntegrity/internal/digest"
)

// PostgresStore persists commitments in the commitments table.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore backed by the given pool.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const selectColumns = `
	record_id, record_type, status, digest, ledger_ref, committed_at,
	followup_digest, followup_ledger_ref, followup_committed_at,
	version, created_at, updated_at`

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Record, error) {
	rows, err := s.db.Query(ctx, `SELECT `+selectColumns+` FROM commitments WHERE record_id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("query commitment %s: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return scanRecord(rows)
}

// Create implements Store. Concurrent creators race on the primary key; the
// loser reads back the winner's row.
func (s *PostgresStore) Create(ctx context.Context, r *Record) (*Record, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	_, err := s.db.Exec(ctx, `
		INSERT INTO commitments (
			record_id, record_type, status, digest, ledger_ref, committed_at,
			followup_digest, followup_ledger_ref, followup_committed_at,
			version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, $10, $10)
		ON CONFLICT (record_id) DO NOTHING`,
		r.RecordID, string(r.RecordType), string(r.Status),
		digestBytes(r.Digest), nullString(r.LedgerRef), r.CommittedAt,
		digestBytes(r.FollowupDigest), nullString(r.FollowupLedgerRef), r.FollowupCommittedAt,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert commitment %s: %w", r.RecordID, err)
	}
	return s.Get(ctx, r.RecordID)
}

// Update implements Store.
func (s *PostgresStore) Update(ctx context.Context, r *Record) error {
	if err := r.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	tag, err := s.db.Exec(ctx, `
		UPDATE commitments SET
			status = $2, digest = $3, ledger_ref = $4, committed_at = $5,
			followup_digest = $6, followup_ledger_ref = $7, followup_committed_at = $8,
			version = version + 1, updated_at = $9
		WHERE record_id = $1 AND version = $10`,
		r.RecordID, string(r.Status),
		digestBytes(r.Digest), nullString(r.LedgerRef), r.CommittedAt,
		digestBytes(r.FollowupDigest), nullString(r.FollowupLedgerRef), r.FollowupCommittedAt,
		now, r.Version,
	)
	if err != nil {
		return fmt.Errorf("update commitment %s: %w", r.RecordID, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.Get(ctx, r.RecordID); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return ErrVersionConflict
	}

	r.Version++
	r.UpdatedAt = now
	return nil
}

// ListByStatus implements Store.
func (s *PostgresStore) ListByStatus(ctx context.Context, status Status, after string, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+selectColumns+` FROM commitments
		WHERE status = $1 AND record_id > $2
		ORDER BY record_id
		LIMIT $3`, string(status), after, limit)
	if err != nil {
		return nil, fmt.Errorf("list commitments: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// scanRecord reads one row in selectColumns order.
func scanRecord(rows pgx.Rows) (*Record, error) {
	var (
		r                      Record
		rt, status             string
		dig, followupDig       []byte
		ledgerRef, followupRef *string
	)
	if err := rows.Scan(
		&r.RecordID, &rt, &status, &dig, &ledgerRef, &r.CommittedAt,
		&followupDig, &followupRef, &r.FollowupCommittedAt,
		&r.Version, &r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("scan commitment: %w", err)
	}

	r.RecordType = digest.RecordType(rt)
	r.Status = Status(status)
	var err error
	if r.Digest, err = digestFromBytes(dig); err != nil {
		return nil, fmt.Errorf("commitment %s digest: %w", r.RecordID, err)
	}
	if r.FollowupDigest, err = digestFromBytes(followupDig); err != nil {
		return nil, fmt.Errorf("commitment %s followup digest: %w", r.RecordID, err)
	}
	if ledgerRef != nil {
		r.LedgerRef = *ledgerRef
	}
	if followupRef != nil {
		r.FollowupLedgerRef = *followupRef
	}
	return &r, nil
}

func digestBytes(d *digest.Digest) []byte {
	if d == nil {
		return nil
	}
	return d[:]
}

func digestFromBytes(b []byte) (*digest.Digest, error) {
	if b == nil {
		return nil, nil
	}
	if len(b) != digest.Size {
		return nil, fmt.Errorf("expected %d bytes, got %d", digest.Size, len(b))
	}
	var d digest.Digest
	copy(d[:], b)
	return &d, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
