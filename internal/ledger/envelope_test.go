package ledger_test

import (
	"testing"
	"time"

	"github.com/jmerrifield20/ArthaIntegrity/internal/digest"
	"github.com/jmerrifield20/ArthaIntegrity/internal/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEnvelope() *ledger.Envelope {
	d, _ := digest.Compute(digest.RecordTypeLoan, digest.Fields{
		"amount": "100.00", "borrower": "555-0100", "lender": "L-7",
	})
	return &ledger.Envelope{
		Kind:        ledger.KindCommit,
		RecordID:    "LN-1",
		RecordType:  digest.RecordTypeLoan,
		Digest:      d.Hex(),
		CommittedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Metadata:    map[string]string{"source": "origination", "actor": "ops"},
	}
}

func TestEnvelope_encodeIsCanonical(t *testing.T) {
	a := sampleEnvelope()
	b := sampleEnvelope()
	b.Metadata = map[string]string{"actor": "ops", "source": "origination"}

	ea, err := ledger.EncodeEnvelope(a)
	require.NoError(t, err)
	eb, err := ledger.EncodeEnvelope(b)
	require.NoError(t, err)

	assert.Equal(t, ea, eb)
	assert.Equal(t, ledger.EnvelopeVersion, a.Version)
	// RFC 8785 orders members lexicographically.
	assert.Regexp(t, `^\{"committed_at":.*"version":1\}$`, string(ea))
}

func TestEnvelope_roundTripCarriesDigest(t *testing.T) {
	env := sampleEnvelope()
	payload, err := ledger.EncodeEnvelope(env)
	require.NoError(t, err)

	got, err := ledger.DecodeEnvelope(payload)
	require.NoError(t, err)
	assert.Equal(t, "LN-1", got.RecordID)
	assert.Equal(t, digest.RecordTypeLoan, got.RecordType)
	assert.True(t, got.CommittedAt.Equal(env.CommittedAt))

	d, err := got.DigestValue()
	require.NoError(t, err)
	assert.Equal(t, env.Digest, d.Hex())
}

func TestDecodeEnvelope_rejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":      `garbage`,
		"wrong version": `{"version":9,"record_id":"LN-1","digest":"00"}`,
		"no record id":  `{"version":1,"digest":"` + zeroHex() + `"}`,
		"bad digest":    `{"version":1,"record_id":"LN-1","digest":"xyz"}`,
		"short digest":  `{"version":1,"record_id":"LN-1","digest":"abcd"}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ledger.DecodeEnvelope([]byte(payload))
			assert.Error(t, err)
		})
	}
}

func zeroHex() string {
	var d digest.Digest
	return d.Hex()
}
