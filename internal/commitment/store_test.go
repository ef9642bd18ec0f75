package commitment_test

import (
	"context"
	"testing"
	"time"

	"github.com/jmerrifield20/ArthaIntegrity/internal/commitment"
	"github.com/jmerrifield20/ArthaIntegrity/internal/digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func committedRecord(id string, d digest.Digest) *commitment.Record {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return &commitment.Record{
		RecordID:    id,
		RecordType:  digest.RecordTypeLoan,
		Status:      commitment.StatusCommitted,
		Digest:      &d,
		LedgerRef:   "ref-" + id,
		CommittedAt: &at,
	}
}

func TestMemoryStore_createIsInsertIfAbsent(t *testing.T) {
	ctx := context.Background()
	s := commitment.NewMemoryStore()

	first, err := s.Create(ctx, &commitment.Record{RecordID: "LN-1", RecordType: digest.RecordTypeLoan, Status: commitment.StatusNotCommitted})
	require.NoError(t, err)
	assert.False(t, first.CreatedAt.IsZero())

	second, err := s.Create(ctx, &commitment.Record{RecordID: "LN-1", RecordType: digest.RecordTypeIdentity, Status: commitment.StatusNotCommitted})
	require.NoError(t, err)
	assert.Equal(t, digest.RecordTypeLoan, second.RecordType, "existing row must win")
}

func TestMemoryStore_updateIsCompareAndSet(t *testing.T) {
	ctx := context.Background()
	s := commitment.NewMemoryStore()

	rec, err := s.Create(ctx, &commitment.Record{RecordID: "LN-1", RecordType: digest.RecordTypeLoan, Status: commitment.StatusNotCommitted})
	require.NoError(t, err)
	stale := rec.Clone()

	c := committedRecord("LN-1", loanDigest(t, "1"))
	c.Version = rec.Version
	require.NoError(t, s.Update(ctx, c))
	assert.Equal(t, int64(1), c.Version)

	stale.Status = commitment.StatusCommitted
	stale.Digest = c.Digest
	stale.LedgerRef = "other"
	stale.CommittedAt = c.CommittedAt
	assert.ErrorIs(t, s.Update(ctx, stale), commitment.ErrVersionConflict)

	got, err := s.Get(ctx, "LN-1")
	require.NoError(t, err)
	assert.Equal(t, "ref-LN-1", got.LedgerRef)
}

func TestMemoryStore_updateRejectsInvalidState(t *testing.T) {
	ctx := context.Background()
	s := commitment.NewMemoryStore()
	_, err := s.Create(ctx, &commitment.Record{RecordID: "LN-1", RecordType: digest.RecordTypeLoan, Status: commitment.StatusNotCommitted})
	require.NoError(t, err)

	// COMMITTED without a ledger ref is unrepresentable.
	d := loanDigest(t, "1")
	now := time.Now()
	err = s.Update(ctx, &commitment.Record{
		RecordID: "LN-1", RecordType: digest.RecordTypeLoan, Status: commitment.StatusCommitted,
		Digest: &d, CommittedAt: &now,
	})
	assert.Error(t, err)
}

func TestMemoryStore_getReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := commitment.NewMemoryStore()
	_, err := s.Create(ctx, committedRecord("LN-1", loanDigest(t, "1")))
	require.NoError(t, err)

	got, err := s.Get(ctx, "LN-1")
	require.NoError(t, err)
	got.Digest[0] ^= 0xff
	got.LedgerRef = "tampered"

	again, err := s.Get(ctx, "LN-1")
	require.NoError(t, err)
	assert.Equal(t, loanDigest(t, "1"), *again.Digest)
	assert.Equal(t, "ref-LN-1", again.LedgerRef)
}

func TestMemoryStore_listByStatusPages(t *testing.T) {
	ctx := context.Background()
	s := commitment.NewMemoryStore()
	for _, id := range []string{"LN-3", "LN-1", "LN-2"} {
		_, err := s.Create(ctx, committedRecord(id, loanDigest(t, "1")))
		require.NoError(t, err)
	}
	_, err := s.Create(ctx, &commitment.Record{RecordID: "LN-0", RecordType: digest.RecordTypeLoan, Status: commitment.StatusNotCommitted})
	require.NoError(t, err)

	page, err := s.ListByStatus(ctx, commitment.StatusCommitted, "", 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "LN-1", page[0].RecordID)
	assert.Equal(t, "LN-2", page[1].RecordID)

	page, err = s.ListByStatus(ctx, commitment.StatusCommitted, "LN-2", 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "LN-3", page[0].RecordID)
}

func TestMemoryStore_getMissing(t *testing.T) {
	_, err := commitment.NewMemoryStore().Get(context.Background(), "nope")
	assert.ErrorIs(t, err, commitment.ErrNotFound)
}
