package commitment

import (
	"errors"
	"fmt"
	"time"

	"github.com/jmerrifield20/ArthaIntegrity/internal/digest"
)

// Status is the lifecycle state of a commitment. Transitions are forward only:
// NOT_COMMITTED -> COMMITTED -> FOLLOWUP_COMMITTED.
type Status string

const (
	StatusNotCommitted      Status = "NOT_COMMITTED"
	StatusCommitted         Status = "COMMITTED"
	StatusFollowupCommitted Status = "FOLLOWUP_COMMITTED"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusNotCommitted, StatusCommitted, StatusFollowupCommitted:
		return true
	}
	return false
}

// Record is the locally persisted commitment state of one business record.
type Record struct {
	RecordID            string            `json:"record_id"`
	RecordType          digest.RecordType `json:"record_type"`
	Status              Status            `json:"status"`
	Digest              *digest.Digest    `json:"digest,omitempty"`
	LedgerRef           string            `json:"ledger_ref,omitempty"`
	CommittedAt         *time.Time        `json:"committed_at,omitempty"`
	FollowupDigest      *digest.Digest    `json:"followup_digest,omitempty"`
	FollowupLedgerRef   string            `json:"followup_ledger_ref,omitempty"`
	FollowupCommittedAt *time.Time        `json:"followup_committed_at,omitempty"`
	// Version is bumped by every successful Store.Update and guards
	// concurrent writers with compare-and-set.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// newRecord returns the implicit NOT_COMMITTED state of an unseen record.
func newRecord(id string, rt digest.RecordType) *Record {
	return &Record{RecordID: id, RecordType: rt, Status: StatusNotCommitted}
}

// Validate checks the state invariants of r.
func (r *Record) Validate() error {
	if r.RecordID == "" {
		return errors.New("record_id is required")
	}
	if !r.RecordType.Valid() {
		return fmt.Errorf("unknown record_type %q", r.RecordType)
	}

	committed := r.Digest != nil && r.LedgerRef != "" && r.CommittedAt != nil
	followup := r.FollowupDigest != nil && r.FollowupLedgerRef != "" && r.FollowupCommittedAt != nil
	noFollowup := r.FollowupDigest == nil && r.FollowupLedgerRef == "" && r.FollowupCommittedAt == nil

	switch r.Status {
	case StatusNotCommitted:
		if r.Digest != nil || r.LedgerRef != "" || r.CommittedAt != nil || !noFollowup {
			return fmt.Errorf("%s record %s carries commitment data", r.Status, r.RecordID)
		}
	case StatusCommitted:
		if !committed {
			return fmt.Errorf("%s record %s lacks digest, ledger_ref or committed_at", r.Status, r.RecordID)
		}
		if !noFollowup {
			return fmt.Errorf("%s record %s carries followup data", r.Status, r.RecordID)
		}
	case StatusFollowupCommitted:
		if r.RecordType != digest.RecordTypeLoan {
			return fmt.Errorf("%s is only valid for %s records", r.Status, digest.RecordTypeLoan)
		}
		if !committed || !followup {
			return fmt.Errorf("%s record %s is missing commitment data", r.Status, r.RecordID)
		}
	default:
		return fmt.Errorf("unknown status %q", r.Status)
	}
	return nil
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	c := *r
	if r.Digest != nil {
		d := *r.Digest
		c.Digest = &d
	}
	if r.CommittedAt != nil {
		t := *r.CommittedAt
		c.CommittedAt = &t
	}
	if r.FollowupDigest != nil {
		d := *r.FollowupDigest
		c.FollowupDigest = &d
	}
	if r.FollowupCommittedAt != nil {
		t := *r.FollowupCommittedAt
		c.FollowupCommittedAt = &t
	}
	return &c
}
