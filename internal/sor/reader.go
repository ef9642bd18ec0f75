// Package sor reads business records from the lending system of record and
// maps them onto the canonical field names the digest schemas expect.
package sor

import (
	"context"
	"errors"

	"github.com/jmerrifield20/ArthaIntegrity/internal/digest"
)

// ErrRecordNotFound is returned when the system of record has no such record.
var ErrRecordNotFound = errors.New("record not found in system of record")

// Reader reads the current field values of a record. Every read is fresh.
type Reader interface {
	// ReadRecord returns the canonical fields of the record. Schema fields
	// the source does not carry are present with a nil value.
	ReadRecord(ctx context.Context, id string, rt digest.RecordType) (digest.Fields, error)
	// ReadFollowup returns the repayment fields of a loan.
	ReadFollowup(ctx context.Context, id string) (digest.Fields, error)
}

// aliases lists, per canonical field, the source document keys tried after
// the canonical name itself.
var aliases = map[digest.RecordType]map[string][]string{
	digest.RecordTypeLoan: {
		"borrower":      {"borrower_phone", "user_id"},
		"lender":        {"lender_phone", "lender_id"},
		"tenure_months": {"tenure"},
		"disbursed_at":  {"disbursement_date"},
	},
	digest.RecordTypeIdentity: {
		"full_name":       {"name"},
		"document_number": {"citizenship_number", "document_no"},
		"date_of_birth":   {"dob"},
		"id_verified":     {"is_verified"},
		"face_match":      {"face_match_score"},
	},
}

var followupAliases = map[string][]string{
	"repayment_amount": {"total_repaid"},
	"repaid_at":        {"fully_repaid_at"},
}

// Canonicalize projects a raw source document onto the canonical field set
// of rt. An explicit null in the source is kept as nil.
func Canonicalize(rt digest.RecordType, doc map[string]any) digest.Fields {
	return project(digest.FieldNames(rt), aliases[rt], doc)
}

// CanonicalizeFollowup projects a raw loan document onto the repayment fields.
func CanonicalizeFollowup(doc map[string]any) digest.Fields {
	return project(digest.FollowupFieldNames(), followupAliases, doc)
}

func project(names []string, alt map[string][]string, doc map[string]any) digest.Fields {
	out := make(digest.Fields, len(names))
	for _, name := range names {
		out[name] = lookup(doc, name, alt[name])
	}
	return out
}

func lookup(doc map[string]any, name string, alt []string) any {
	if v, ok := doc[name]; ok {
		return v
	}
	for _, a := range alt {
		if v, ok := doc[a]; ok {
			return v
		}
	}
	return nil
}
