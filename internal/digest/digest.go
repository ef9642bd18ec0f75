// Package digest canonicalizes business records into a deterministic byte
// string and hashes it with SHA-256.
//
// Each record type has a fixed, versioned schema that dictates field order and
// value encoding. Numbers are rendered with a fixed scale, timestamps in UTC
// ISO-8601 and absent optional fields with an explicit marker, so two logically
// equal records always produce the same digest.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Size is the length in bytes of a record digest.
const Size = sha256.Size

// RecordType identifies the kind of business record a digest was computed over.
type RecordType string

const (
	RecordTypeLoan     RecordType = "LOAN"
	RecordTypeIdentity RecordType = "IDENTITY"
)

// Valid reports whether t is one of the known record types.
func (t RecordType) Valid() bool {
	return t == RecordTypeLoan || t == RecordTypeIdentity
}

// ParseRecordType accepts the canonical upper-case name or its lower-case form.
func ParseRecordType(s string) (RecordType, error) {
	t := RecordType(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown record type %q", s)
	}
	return t, nil
}

// Fields is the field mapping read from the system of record. Iteration order
// is irrelevant: the schema of the record type fixes the canonical order.
type Fields map[string]any

// Digest is the SHA-256 of a canonicalized record.
type Digest [Size]byte

// Hex returns the lower-case hex encoding of d.
func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}

func (d Digest) String() string { return d.Hex() }

// IsZero reports whether d is the all-zero digest.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// MarshalText implements encoding.TextMarshaler.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := ParseHex(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseHex decodes a 64-character hex digest.
func ParseHex(s string) (Digest, error) {
	var d Digest
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return d, fmt.Errorf("decode digest: %w", err)
	}
	if len(raw) != Size {
		return d, fmt.Errorf("digest must be %d bytes, got %d", Size, len(raw))
	}
	copy(d[:], raw)
	return d, nil
}

// InvalidRecordError is returned when a record cannot be canonicalized because
// a required field is missing or a value is malformed.
type InvalidRecordError struct {
	RecordType RecordType
	Field      string
	Reason     string
}

func (e *InvalidRecordError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid %s record: %s", e.RecordType, e.Reason)
	}
	return fmt.Sprintf("invalid %s record: field %q %s", e.RecordType, e.Field, e.Reason)
}

// Compute canonicalizes fields according to the schema of rt and returns the
// SHA-256 of the canonical form.
func Compute(rt RecordType, fields Fields) (Digest, error) {
	s, ok := schemas[rt]
	if !ok {
		return Digest{}, &InvalidRecordError{RecordType: rt, Reason: "unknown record type"}
	}
	return s.digest(fields)
}

// ComputeFollowup digests the repayment fields of a loan. The followup schema
// is distinct from the loan schema so the two digests can never collide.
func ComputeFollowup(fields Fields) (Digest, error) {
	return loanRepaymentSchema.digest(fields)
}

// Canonical returns the canonical byte string Compute hashes.
func Canonical(rt RecordType, fields Fields) ([]byte, error) {
	s, ok := schemas[rt]
	if !ok {
		return nil, &InvalidRecordError{RecordType: rt, Reason: "unknown record type"}
	}
	return s.canonical(fields)
}

// CanonicalFollowup returns the canonical byte string ComputeFollowup hashes.
func CanonicalFollowup(fields Fields) ([]byte, error) {
	return loanRepaymentSchema.canonical(fields)
}

func (s *schema) digest(fields Fields) (Digest, error) {
	b, err := s.canonical(fields)
	if err != nil {
		return Digest{}, err
	}
	return sha256.Sum256(b), nil
}

// canonical renders the header line followed by one line per schema field.
// Present values are length-prefixed ("name=<len>:<value>"); absent values are
// written as "name=-" so that absent and empty never encode the same way.
func (s *schema) canonical(fields Fields) ([]byte, error) {
	var b strings.Builder
	b.WriteString(canonicalPrefix)
	b.WriteString(s.name)
	b.WriteByte('\n')

	for _, f := range s.fields {
		raw, present := fields[f.name]
		if present && raw == nil {
			present = false
		}
		if !present {
			if f.required {
				return nil, &InvalidRecordError{RecordType: s.recordType, Field: f.name, Reason: "is required"}
			}
			b.WriteString(f.name)
			b.WriteString("=-\n")
			continue
		}

		v, err := f.normalize(raw)
		if err != nil {
			return nil, &InvalidRecordError{RecordType: s.recordType, Field: f.name, Reason: err.Error()}
		}
		b.WriteString(f.name)
		b.WriteByte('=')
		b.WriteString(strconv.Itoa(len(v)))
		b.WriteByte(':')
		b.WriteString(v)
		b.WriteByte('\n')
	}
	return []byte(b.String()), nil
}
