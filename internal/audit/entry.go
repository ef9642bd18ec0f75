// Package audit keeps a local append-only journal of every integrity action:
// commits, followups, verifications and proof requests.
//
// The journal is hash chained. The first entry is a well-known genesis entry
// whose Hash equals GenesisHash (64 hex zeros); every later entry records the
// hash of its predecessor, so rewriting history breaks Verify.
//
// Implementations:
//   - MemoryLog: in-process, for tests and development.
//   - PostgresLog: durable, appends serialized with an advisory lock.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"
)

// GenesisHash is the hash of the genesis entry.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Action names the journaled operation.
type Action string

const (
	ActionGenesis      Action = "genesis"
	ActionCommit       Action = "commit"
	ActionFollowup     Action = "followup"
	ActionCommitFailed Action = "commit_failed"
	ActionVerify       Action = "verify"
	ActionProof        Action = "proof"
)

// SystemActor is recorded when no operator identity is known.
const SystemActor = "integrity-system"

// ErrEntryNotFound is returned by Get for an index outside the journal.
var ErrEntryNotFound = errors.New("audit entry not found")

// Event is what callers append.
type Event struct {
	Action     Action
	RecordID   string
	RecordType string
	Actor      string
	// Outcome is the verdict of a verification or the status after a commit.
	Outcome   string
	LedgerRef string
	// Data is JSON-marshalled; only its SHA-256 is journaled.
	Data any
}

// Entry is one journaled event.
type Entry struct {
	Index      int64     `json:"index"`
	Timestamp  time.Time `json:"timestamp"`
	RequestID  string    `json:"request_id,omitempty"`
	Action     Action    `json:"action"`
	RecordID   string    `json:"record_id,omitempty"`
	RecordType string    `json:"record_type,omitempty"`
	Actor      string    `json:"actor"`
	Outcome    string    `json:"outcome,omitempty"`
	LedgerRef  string    `json:"ledger_ref,omitempty"`
	DataHash   string    `json:"data_hash"`
	PrevHash   string    `json:"prev_hash"`
	Hash       string    `json:"hash"`
}

// ChainError reports the first entry at which Verify found the chain broken.
type ChainError struct {
	Index  int64
	Reason string
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("audit chain broken at index %d: %s", e.Index, e.Reason)
}

// hashEntry hashes every field of e except Hash. Each field is length
// prefixed so no choice of field contents can collide with another.
func hashEntry(e *Entry) string {
	h := sha256.New()
	for _, f := range []string{
		strconv.FormatInt(e.Index, 10),
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		e.RequestID,
		string(e.Action),
		e.RecordID,
		e.RecordType,
		e.Actor,
		e.Outcome,
		e.LedgerRef,
		e.DataHash,
		e.PrevHash,
	} {
		writeField(h, f)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeField(w io.Writer, s string) {
	fmt.Fprintf(w, "%d:%s|", len(s), s)
}

// dataHash returns the hex SHA-256 of the JSON encoding of data.
func dataHash(data any) (string, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshal event data: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// verifyLink checks curr against its predecessor.
func verifyLink(prev, curr *Entry) error {
	if curr.Index != prev.Index+1 {
		return &ChainError{Index: curr.Index, Reason: fmt.Sprintf("index follows %d", prev.Index)}
	}
	if curr.PrevHash != prev.Hash {
		return &ChainError{Index: curr.Index, Reason: "prev_hash does not match predecessor"}
	}
	if curr.Hash != hashEntry(curr) {
		return &ChainError{Index: curr.Index, Reason: "entry hash does not match contents"}
	}
	return nil
}

func verifyGenesis(e *Entry) error {
	if e.Index != 0 || e.Hash != GenesisHash {
		return &ChainError{Index: e.Index, Reason: "genesis entry has wrong hash"}
	}
	return nil
}
