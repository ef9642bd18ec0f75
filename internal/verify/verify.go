// Package verify recomputes a record's digest from the system of record and
// compares it with the digest pinned on the ledger at commit time.
//
// Verification is read-only and takes no locks. A ledger that cannot be
// reached yields NOT_FOUND_ON_LEDGER, never MISMATCH.
package verify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmerrifield20/ArthaIntegrity/internal/commitment"
	"github.com/jmerrifield20/ArthaIntegrity/internal/digest"
	"github.com/jmerrifield20/ArthaIntegrity/internal/ledger"
	"github.com/jmerrifield20/ArthaIntegrity/internal/sor"
	"go.uber.org/zap"
)

// Verdict is the outcome of a verification.
type Verdict string

const (
	VerdictMatch            Verdict = "MATCH"
	VerdictMismatch         Verdict = "MISMATCH"
	VerdictNotCommitted     Verdict = "NOT_COMMITTED"
	VerdictNotFoundOnLedger Verdict = "NOT_FOUND_ON_LEDGER"
)

// ErrUnavailable marks a check that could not read its ledger entry.
var ErrUnavailable = errors.New("ledger entry unavailable")

// severity orders verdicts when folding the followup check into the result.
var severity = map[Verdict]int{
	VerdictMatch:            0,
	VerdictNotFoundOnLedger: 1,
	VerdictMismatch:         2,
}

// Check is the comparison of one committed digest.
type Check struct {
	Verdict         Verdict `json:"verdict"`
	LedgerRef       string  `json:"ledger_ref"`
	LedgerDigest    string  `json:"ledger_digest,omitempty"`
	CurrentDigest   string  `json:"current_digest,omitempty"`
	LocalDigest     string  `json:"local_digest,omitempty"`
	LocalConsistent bool    `json:"local_consistent"`
	Reason          string  `json:"reason,omitempty"`
	// Err is set when the ledger entry could not be read.
	Err error `json:"-"`
}

// Result is the outcome of Engine.Verify.
type Result struct {
	RecordID   string            `json:"record_id"`
	RecordType digest.RecordType `json:"record_type,omitempty"`
	Status     commitment.Status `json:"status"`
	// Verdict folds the commit check and, when present, the followup check.
	Verdict   Verdict   `json:"verdict"`
	Commit    *Check    `json:"commit,omitempty"`
	Followup  *Check    `json:"followup,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Commitments is the read side of the commitment state machine.
type Commitments interface {
	Get(ctx context.Context, id string) (*commitment.Record, error)
}

// Engine verifies committed records.
type Engine struct {
	commitments Commitments
	records     sor.Reader
	ledger      ledger.Client
	logger      *zap.Logger
}

// NewEngine creates an Engine.
func NewEngine(commitments Commitments, records sor.Reader, client ledger.Client, logger *zap.Logger) *Engine {
	return &Engine{commitments: commitments, records: records, ledger: client, logger: logger}
}

// Verify checks record id. An error is returned only when local state or the
// system of record cannot be read; every ledger outcome is a verdict.
func (e *Engine) Verify(ctx context.Context, id string) (*Result, error) {
	rec, err := e.commitments.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load commitment %s: %w", id, err)
	}

	res := &Result{
		RecordID:   id,
		RecordType: rec.RecordType,
		Status:     rec.Status,
		CheckedAt:  time.Now().UTC(),
	}
	if rec.Status == commitment.StatusNotCommitted {
		res.Verdict = VerdictNotCommitted
		return res, nil
	}

	res.Commit, err = e.checkCommit(ctx, rec)
	if err != nil {
		return nil, err
	}
	res.Verdict = res.Commit.Verdict

	if rec.Status == commitment.StatusFollowupCommitted {
		res.Followup, err = e.checkFollowup(ctx, rec)
		if err != nil {
			return nil, err
		}
		if severity[res.Followup.Verdict] > severity[res.Verdict] {
			res.Verdict = res.Followup.Verdict
		}
	}

	fields := []zap.Field{
		zap.String("record_id", id),
		zap.String("record_type", string(rec.RecordType)),
		zap.String("verdict", string(res.Verdict)),
	}
	switch res.Verdict {
	case VerdictMismatch:
		e.logger.Warn("integrity mismatch", fields...)
	case VerdictNotFoundOnLedger:
		e.logger.Info("ledger entry unavailable during verification", fields...)
	default:
		e.logger.Debug("record verified", fields...)
	}
	return res, nil
}

func (e *Engine) checkCommit(ctx context.Context, rec *commitment.Record) (*Check, error) {
	current, reason, err := e.recompute(ctx, rec.RecordID, func(ctx context.Context) (digest.Digest, error) {
		fields, err := e.records.ReadRecord(ctx, rec.RecordID, rec.RecordType)
		if err != nil {
			return digest.Digest{}, err
		}
		return digest.Compute(rec.RecordType, fields)
	})
	if err != nil {
		return nil, err
	}
	return e.compare(ctx, rec.RecordID, ledger.KindCommit, rec.LedgerRef, rec.Digest, current, reason), nil
}

func (e *Engine) checkFollowup(ctx context.Context, rec *commitment.Record) (*Check, error) {
	current, reason, err := e.recompute(ctx, rec.RecordID, func(ctx context.Context) (digest.Digest, error) {
		fields, err := e.records.ReadFollowup(ctx, rec.RecordID)
		if err != nil {
			return digest.Digest{}, err
		}
		return digest.ComputeFollowup(fields)
	})
	if err != nil {
		return nil, err
	}
	return e.compare(ctx, rec.RecordID, ledger.KindFollowup, rec.FollowupLedgerRef, rec.FollowupDigest, current, reason), nil
}

// recompute returns the current digest, or a non-empty reason when the
// current record can no longer produce one.
func (e *Engine) recompute(ctx context.Context, id string, fn func(context.Context) (digest.Digest, error)) (*digest.Digest, string, error) {
	d, err := fn(ctx)
	var invalid *digest.InvalidRecordError
	switch {
	case err == nil:
		return &d, "", nil
	case errors.As(err, &invalid):
		return nil, "current record cannot be canonicalized: " + invalid.Error(), nil
	case errors.Is(err, sor.ErrRecordNotFound):
		return nil, "record no longer exists in the system of record", nil
	}
	return nil, "", fmt.Errorf("read record %s: %w", id, err)
}

func (e *Engine) compare(ctx context.Context, id string, kind ledger.EntryKind, ref string, local *digest.Digest, current *digest.Digest, reason string) *Check {
	c := &Check{LedgerRef: ref}
	if local != nil {
		c.LocalDigest = local.Hex()
	}
	if current != nil {
		c.CurrentDigest = current.Hex()
	}

	payload, err := e.ledger.FetchByRef(ctx, ref)
	if err != nil {
		c.Verdict = VerdictNotFoundOnLedger
		c.Reason = err.Error()
		c.Err = fmt.Errorf("%w: %w", ErrUnavailable, err)
		return c
	}

	env, err := ledger.DecodeEnvelope(payload)
	if err != nil {
		c.Verdict = VerdictMismatch
		c.Reason = "ledger entry is not a commitment envelope: " + err.Error()
		return c
	}
	if env.RecordID != id || env.Kind != kind {
		c.Verdict = VerdictMismatch
		c.Reason = fmt.Sprintf("ledger entry is a %s envelope for record %s", env.Kind, env.RecordID)
		return c
	}

	onLedger, _ := env.DigestValue()
	c.LedgerDigest = onLedger.Hex()
	c.LocalConsistent = local != nil && *local == onLedger

	switch {
	case current == nil:
		c.Verdict = VerdictMismatch
		c.Reason = reason
	case *current == onLedger:
		c.Verdict = VerdictMatch
	default:
		c.Verdict = VerdictMismatch
		c.Reason = "current record digest differs from the committed digest"
	}
	return c
}
