// Package proof projects a stored commitment into the data a certificate
// renderer needs. It reads local state only and never calls the ledger.
package proof

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmerrifield20/ArthaIntegrity/internal/commitment"
	"github.com/jmerrifield20/ArthaIntegrity/internal/digest"
)

// ErrNotCommitted is returned for a record that has no commitment yet.
var ErrNotCommitted = errors.New("record is not committed")

// Payload is the certificate data of a committed record.
type Payload struct {
	RecordID            string            `json:"record_id"`
	RecordType          digest.RecordType `json:"record_type"`
	Status              commitment.Status `json:"status"`
	DigestHex           string            `json:"digest_hex"`
	LedgerRef           string            `json:"ledger_ref"`
	CommittedAt         time.Time         `json:"committed_at"`
	FollowupDigestHex   string            `json:"followup_digest_hex,omitempty"`
	FollowupLedgerRef   string            `json:"followup_ledger_ref,omitempty"`
	FollowupCommittedAt *time.Time        `json:"followup_committed_at,omitempty"`
	ChainName           string            `json:"chain_name,omitempty"`
}

// Commitments is the read side of the commitment state machine.
type Commitments interface {
	Get(ctx context.Context, id string) (*commitment.Record, error)
}

// Builder builds proof payloads.
type Builder struct {
	commitments Commitments
	chainName   string
}

// NewBuilder creates a Builder. chainName is copied into every payload so a
// reader knows which ledger to check the refs against.
func NewBuilder(commitments Commitments, chainName string) *Builder {
	return &Builder{commitments: commitments, chainName: chainName}
}

// Build returns the payload for record id, or ErrNotCommitted.
func (b *Builder) Build(ctx context.Context, id string) (*Payload, error) {
	rec, err := b.commitments.Get(ctx, id)
	if errors.Is(err, commitment.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", id, ErrNotCommitted)
	}
	if err != nil {
		return nil, fmt.Errorf("load commitment %s: %w", id, err)
	}
	if rec.Status == commitment.StatusNotCommitted {
		return nil, fmt.Errorf("%s: %w", id, ErrNotCommitted)
	}
	return FromRecord(rec, b.chainName), nil
}

// FromRecord projects a committed record.
func FromRecord(rec *commitment.Record, chainName string) *Payload {
	p := &Payload{
		RecordID:          rec.RecordID,
		RecordType:        rec.RecordType,
		Status:            rec.Status,
		LedgerRef:         rec.LedgerRef,
		FollowupLedgerRef: rec.FollowupLedgerRef,
		ChainName:         chainName,
	}
	if rec.Digest != nil {
		p.DigestHex = rec.Digest.Hex()
	}
	if rec.CommittedAt != nil {
		p.CommittedAt = rec.CommittedAt.UTC()
	}
	if rec.FollowupDigest != nil {
		p.FollowupDigestHex = rec.FollowupDigest.Hex()
	}
	if rec.FollowupCommittedAt != nil {
		t := rec.FollowupCommittedAt.UTC()
		p.FollowupCommittedAt = &t
	}
	return p
}
