package sor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/ArthaIntegrity/internal/digest"
)

// PostgresReader reads the JSONB documents of the lending back office:
// loans(loan_id, json_data), kyc(user_id, json_data) and
// repayments(repayment_id, loan_id, json_data).
type PostgresReader struct {
	db *pgxpool.Pool
}

// NewPostgresReader creates a PostgresReader backed by the given pool.
func NewPostgresReader(db *pgxpool.Pool) *PostgresReader {
	return &PostgresReader{db: db}
}

var documentQueries = map[digest.RecordType]string{
	digest.RecordTypeLoan:     `SELECT json_data FROM loans WHERE loan_id = $1`,
	digest.RecordTypeIdentity: `SELECT json_data FROM kyc WHERE user_id = $1`,
}

// ReadRecord implements Reader.
func (r *PostgresReader) ReadRecord(ctx context.Context, id string, rt digest.RecordType) (digest.Fields, error) {
	doc, err := r.document(ctx, rt, id)
	if err != nil {
		return nil, err
	}
	return Canonicalize(rt, doc), nil
}

// ReadFollowup implements Reader. When the loan document does not carry a
// repayment total, the loan's repayment rows are summed.
func (r *PostgresReader) ReadFollowup(ctx context.Context, id string) (digest.Fields, error) {
	doc, err := r.document(ctx, digest.RecordTypeLoan, id)
	if err != nil {
		return nil, err
	}
	f := CanonicalizeFollowup(doc)
	if f["repayment_amount"] != nil {
		return f, nil
	}

	var (
		total  string
		lastAt *time.Time
		n      int
	)
	err = r.db.QueryRow(ctx, `
		SELECT COALESCE(SUM((json_data->>'amount')::numeric), 0)::text,
		       MAX((json_data->>'paid_at')::timestamptz),
		       COUNT(*)
		FROM repayments WHERE loan_id = $1`, id,
	).Scan(&total, &lastAt, &n)
	if err != nil {
		return nil, fmt.Errorf("sum repayments of %s: %w", id, err)
	}
	if n == 0 {
		return f, nil
	}

	f["repayment_amount"] = total
	if f["repaid_at"] == nil && lastAt != nil {
		f["repaid_at"] = lastAt.UTC()
	}
	return f, nil
}

func (r *PostgresReader) document(ctx context.Context, rt digest.RecordType, id string) (map[string]any, error) {
	query, ok := documentQueries[rt]
	if !ok {
		return nil, &digest.InvalidRecordError{RecordType: rt, Reason: "unknown record type"}
	}

	var raw []byte
	if err := r.db.QueryRow(ctx, query, id).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s %s: %w", rt, id, ErrRecordNotFound)
		}
		return nil, fmt.Errorf("read %s %s: %w", rt, id, err)
	}
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	return DecodeDocument(raw)
}

// DecodeDocument parses a JSON record document. Numbers stay json.Number
// so decimal values reach the digest without a float round trip.
func DecodeDocument(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}
