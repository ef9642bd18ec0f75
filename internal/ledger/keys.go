package ledger

import (
	"fmt"
	"strings"

	"github.com/jmerrifield20/ArthaIntegrity/internal/digest"
)

// Key prefixes route entries to streams. They match the keys the platform has
// always published under, so historical entries stay addressable.
const (
	KeyPrefixLoan      = "loan_"
	KeyPrefixRepayment = "repayment_"
	KeyPrefixIdentity  = "kyc_"
)

// CommitKey returns the ledger key of the initial commitment of a record.
func CommitKey(rt digest.RecordType, recordID string) string {
	if rt == digest.RecordTypeIdentity {
		return KeyPrefixIdentity + recordID
	}
	return KeyPrefixLoan + recordID
}

// FollowupKey returns the ledger key of a loan's repayment commitment.
func FollowupKey(recordID string) string {
	return KeyPrefixRepayment + recordID
}

// Streams names the ledger streams each key prefix is published to.
type Streams struct {
	Loan      string
	Repayment string
	Identity  string
}

// DefaultStreams returns the stream names used by the platform.
func DefaultStreams() Streams {
	return Streams{
		Loan:      "loan_storage",
		Repayment: "loan_repayments",
		Identity:  "kyc_storage",
	}
}

// ForKey returns the stream for key.
func (s Streams) ForKey(key string) (string, error) {
	switch {
	case strings.HasPrefix(key, KeyPrefixRepayment):
		return s.Repayment, nil
	case strings.HasPrefix(key, KeyPrefixLoan):
		return s.Loan, nil
	case strings.HasPrefix(key, KeyPrefixIdentity):
		return s.Identity, nil
	}
	return "", &RejectedError{Op: "route", Message: fmt.Sprintf("no stream for key %q", key)}
}

// All returns every configured stream, in lookup order.
func (s Streams) All() []string {
	return []string{s.Loan, s.Repayment, s.Identity}
}

// Resolve maps a stream alias (loan, repayment, identity) or a configured
// stream name to the stream name.
func (s Streams) Resolve(name string) (string, error) {
	switch name {
	case "loan", s.Loan:
		return s.Loan, nil
	case "repayment", s.Repayment:
		return s.Repayment, nil
	case "identity", s.Identity:
		return s.Identity, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStream, name)
}
