package commitment

import (
	"errors"
	"fmt"

	"github.com/jmerrifield20/ArthaIntegrity/internal/digest"
)

var (
	// ErrNotFound is returned by a Store when no row exists for a record id.
	ErrNotFound = errors.New("commitment not found")
	// ErrVersionConflict is returned by Store.Update when the stored version
	// no longer matches the caller's.
	ErrVersionConflict = errors.New("commitment version conflict")
	// ErrConflict matches every state-machine misuse error.
	ErrConflict = errors.New("commitment state conflict")
)

// AlreadyCommittedError is returned by Commit when the record has left
// NOT_COMMITTED. Existing holds the stored state, including its ledger ref.
type AlreadyCommittedError struct {
	Existing *Record
}

func (e *AlreadyCommittedError) Error() string {
	return fmt.Sprintf("record %s already %s (ledger_ref %s)", e.Existing.RecordID, e.Existing.Status, e.Existing.LedgerRef)
}

func (e *AlreadyCommittedError) Is(target error) bool { return target == ErrConflict }

// InvalidTransitionError is returned when an operation is not allowed from
// the record's current status or type.
type InvalidTransitionError struct {
	RecordID   string
	RecordType digest.RecordType
	From       Status
	To         Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("record %s (%s): cannot move from %s to %s", e.RecordID, e.RecordType, e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrConflict }

// Steps reported by CommitFailedError.
const (
	StepLock    = "lock"
	StepLoad    = "load"
	StepEncode  = "encode"
	StepPublish = "publish"
	StepPersist = "persist"
)

// CommitFailedError is returned when a commit could not complete. The record
// is left in the state it had before the attempt.
type CommitFailedError struct {
	RecordID string
	Step     string
	Err      error
}

func (e *CommitFailedError) Error() string {
	return fmt.Sprintf("commit %s failed at %s: %v", e.RecordID, e.Step, e.Err)
}

func (e *CommitFailedError) Unwrap() error { return e.Err }
