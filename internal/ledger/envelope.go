package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"
	"github.com/jmerrifield20/ArthaIntegrity/internal/digest"
)

// EnvelopeVersion is the current payload layout.
const EnvelopeVersion = 1

// EntryKind distinguishes the initial commitment from a followup.
type EntryKind string

const (
	KindCommit   EntryKind = "commit"
	KindFollowup EntryKind = "followup"
)

// Envelope is the payload published for every commitment.
type Envelope struct {
	Version     int               `json:"version"`
	Kind        EntryKind         `json:"kind"`
	RecordID    string            `json:"record_id"`
	RecordType  digest.RecordType `json:"record_type"`
	Digest      string            `json:"digest"`
	CommittedAt time.Time         `json:"committed_at"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// EncodeEnvelope serializes e as RFC 8785 canonical JSON, so the published
// bytes do not depend on struct field order or map iteration.
func EncodeEnvelope(e *Envelope) ([]byte, error) {
	if e.Version == 0 {
		e.Version = EnvelopeVersion
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize envelope: %w", err)
	}
	return out, nil
}

// DecodeEnvelope parses a ledger payload.
func DecodeEnvelope(payload []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if e.Version != EnvelopeVersion {
		return nil, fmt.Errorf("unsupported envelope version %d", e.Version)
	}
	if e.RecordID == "" {
		return nil, errors.New("envelope has no record_id")
	}
	if _, err := digest.ParseHex(e.Digest); err != nil {
		return nil, fmt.Errorf("envelope digest: %w", err)
	}
	return &e, nil
}

// DigestValue returns the parsed digest carried by the envelope.
func (e *Envelope) DigestValue() (digest.Digest, error) {
	return digest.ParseHex(e.Digest)
}
