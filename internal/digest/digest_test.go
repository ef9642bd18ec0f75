package digest_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jmerrifield20/ArthaIntegrity/internal/digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loanFields() digest.Fields {
	return digest.Fields{
		"amount":   50000,
		"borrower": "A",
		"lender":   "B",
	}
}

func TestCompute_deterministic(t *testing.T) {
	d1, err := digest.Compute(digest.RecordTypeLoan, loanFields())
	require.NoError(t, err)
	d2, err := digest.Compute(digest.RecordTypeLoan, loanFields())
	require.NoError(t, err)

	assert.Equal(t, d1, d2)
	assert.Len(t, d1.Hex(), 64)
}

func TestCompute_stableAcrossProcesses(t *testing.T) {
	got, err := digest.Canonical(digest.RecordTypeLoan, loanFields())
	require.NoError(t, err)

	want := "artha-integrity/v1/LOAN\n" +
		"amount=8:50000.00\n" +
		"borrower=1:A\n" +
		"lender=1:B\n" +
		"interest_rate=-\n" +
		"tenure_months=-\n" +
		"purpose=-\n" +
		"disbursed_at=-\n"
	assert.Equal(t, want, string(got))
}

func TestCompute_numericRepresentationsAgree(t *testing.T) {
	variants := []any{50000, int64(50000), 50000.0, "50000", "50000.00", " 50000.0 ", json.Number("50000"), uint32(50000)}

	base, err := digest.Compute(digest.RecordTypeLoan, loanFields())
	require.NoError(t, err)

	for _, v := range variants {
		f := loanFields()
		f["amount"] = v
		got, err := digest.Compute(digest.RecordTypeLoan, f)
		require.NoError(t, err, "amount %v (%T)", v, v)
		assert.Equal(t, base, got, "amount %v (%T)", v, v)
	}
}

func TestCompute_timestampRepresentationsAgree(t *testing.T) {
	ts := time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC)
	variants := []any{
		ts,
		ts.In(time.FixedZone("NPT", 5*3600+45*60)),
		"2025-03-01T10:30:00Z",
		"2025-03-01T16:15:00+05:45",
		"2025-03-01T10:30:00.000000", // naive isoformat is UTC
	}

	var first digest.Digest
	for i, v := range variants {
		f := loanFields()
		f["disbursed_at"] = v
		got, err := digest.Compute(digest.RecordTypeLoan, f)
		require.NoError(t, err, "variant %d", i)
		if i == 0 {
			first = got
			continue
		}
		assert.Equal(t, first, got, "variant %d (%v)", i, v)
	}
}

func TestCompute_sensitivity(t *testing.T) {
	base, err := digest.Compute(digest.RecordTypeLoan, loanFields())
	require.NoError(t, err)

	tests := []struct {
		name  string
		field string
		value any
	}{
		{"amount", "amount", 50001},
		{"borrower", "borrower", "A2"},
		{"lender", "lender", "C"},
		{"optional set", "purpose", "school fees"},
		{"optional empty string", "purpose", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := loanFields()
			f[tc.field] = tc.value
			got, err := digest.Compute(digest.RecordTypeLoan, f)
			require.NoError(t, err)
			assert.NotEqual(t, base, got)
		})
	}
}

func TestCompute_absentDiffersFromEmpty(t *testing.T) {
	absent := loanFields()
	explicitNil := loanFields()
	explicitNil["purpose"] = nil
	empty := loanFields()
	empty["purpose"] = ""

	dAbsent, err := digest.Compute(digest.RecordTypeLoan, absent)
	require.NoError(t, err)
	dNil, err := digest.Compute(digest.RecordTypeLoan, explicitNil)
	require.NoError(t, err)
	dEmpty, err := digest.Compute(digest.RecordTypeLoan, empty)
	require.NoError(t, err)

	assert.Equal(t, dAbsent, dNil, "explicit null and missing key are both absent")
	assert.NotEqual(t, dAbsent, dEmpty)
}

func TestCompute_fieldBoundariesCannotShift(t *testing.T) {
	a := loanFields()
	a["borrower"] = "AB"
	a["lender"] = "C"
	b := loanFields()
	b["borrower"] = "A"
	b["lender"] = "BC"

	da, err := digest.Compute(digest.RecordTypeLoan, a)
	require.NoError(t, err)
	db, err := digest.Compute(digest.RecordTypeLoan, b)
	require.NoError(t, err)
	assert.NotEqual(t, da, db)
}

func TestCompute_unknownFieldsIgnored(t *testing.T) {
	f := loanFields()
	f["status"] = "REPAID"
	f["ai_suggestion"] = "APPROVE"

	got, err := digest.Compute(digest.RecordTypeLoan, f)
	require.NoError(t, err)
	want, err := digest.Compute(digest.RecordTypeLoan, loanFields())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestCompute_invalidRecord(t *testing.T) {
	tests := []struct {
		name  string
		rt    digest.RecordType
		mut   func(digest.Fields)
		field string
	}{
		{"missing amount", digest.RecordTypeLoan, func(f digest.Fields) { delete(f, "amount") }, "amount"},
		{"null lender", digest.RecordTypeLoan, func(f digest.Fields) { f["lender"] = nil }, "lender"},
		{"amount not a number", digest.RecordTypeLoan, func(f digest.Fields) { f["amount"] = "fifty" }, "amount"},
		{"fractional tenure", digest.RecordTypeLoan, func(f digest.Fields) { f["tenure_months"] = 12.5 }, "tenure_months"},
		{"bad timestamp", digest.RecordTypeLoan, func(f digest.Fields) { f["disbursed_at"] = "yesterday" }, "disbursed_at"},
		{"unknown type", digest.RecordType("CAR"), func(digest.Fields) {}, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := loanFields()
			tc.mut(f)
			_, err := digest.Compute(tc.rt, f)

			var invalid *digest.InvalidRecordError
			require.True(t, errors.As(err, &invalid), "got %v", err)
			assert.Equal(t, tc.field, invalid.Field)
		})
	}
}

func TestCompute_identity(t *testing.T) {
	f := digest.Fields{
		"user_id":         "9800000001",
		"full_name":       "Sita Sharma",
		"document_number": "27-01-75-01234",
		"date_of_birth":   "1995-04-12",
		"id_verified":     true,
		"face_match":      0.8731,
		"location_ok":     "true",
	}
	c, err := digest.Canonical(digest.RecordTypeIdentity, f)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(c), "artha-integrity/v1/IDENTITY\n"))
	assert.Contains(t, string(c), "face_match=6:0.8731\n")
	assert.Contains(t, string(c), "location_ok=4:true\n")
	assert.Contains(t, string(c), "verified_at=-\n")

	loanD, err := digest.Compute(digest.RecordTypeLoan, loanFields())
	require.NoError(t, err)
	idD, err := digest.Compute(digest.RecordTypeIdentity, f)
	require.NoError(t, err)
	assert.NotEqual(t, loanD, idD)
}

func TestComputeFollowup(t *testing.T) {
	f := digest.Fields{"repayment_amount": "52500.5", "repaid_at": "2025-09-01T00:00:00Z"}
	d1, err := digest.ComputeFollowup(f)
	require.NoError(t, err)

	f["repayment_amount"] = 52500.50
	d2, err := digest.ComputeFollowup(f)
	require.NoError(t, err)
	assert.Equal(t, d1, d2)

	_, err = digest.ComputeFollowup(digest.Fields{"repayment_amount": 1})
	var invalid *digest.InvalidRecordError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "repaid_at", invalid.Field)
}

func TestCompute_rejectsNonDecimalAmounts(t *testing.T) {
	for _, v := range []any{
		"0x1F4",
		"0o764",
		"0b111110100",
		"0x1f4p0",
		"1/2",
		"1e1000000",
		"1e1000",
		".5",
		"5.",
		"1_000",
		"",
		json.Number("0x1F4"),
	} {
		t.Run(fmt.Sprint(v), func(t *testing.T) {
			f := loanFields()
			f["amount"] = v
			_, err := digest.Compute(digest.RecordTypeLoan, f)

			var invalid *digest.InvalidRecordError
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, "amount", invalid.Field)
		})
	}
}

func TestCompute_acceptsExponentForm(t *testing.T) {
	plain, err := digest.Compute(digest.RecordTypeLoan, loanFields())
	require.NoError(t, err)

	f := loanFields()
	f["amount"] = "5E4"
	d, err := digest.Compute(digest.RecordTypeLoan, f)
	require.NoError(t, err)
	assert.Equal(t, plain, d)
}

func TestParseHex_roundTrip(t *testing.T) {
	d, err := digest.Compute(digest.RecordTypeLoan, loanFields())
	require.NoError(t, err)

	parsed, err := digest.ParseHex(d.Hex())
	require.NoError(t, err)
	assert.Equal(t, d, parsed)

	_, err = digest.ParseHex("abcd")
	assert.Error(t, err)
}

func TestParseRecordType(t *testing.T) {
	rt, err := digest.ParseRecordType("loan")
	require.NoError(t, err)
	assert.Equal(t, digest.RecordTypeLoan, rt)

	_, err = digest.ParseRecordType("vehicle")
	assert.Error(t, err)
}
