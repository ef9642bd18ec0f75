package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrUnknownStream is returned when a listing names a stream that is not
// configured.
var ErrUnknownStream = errors.New("unknown ledger stream")

// Explorer is the read-only browsing surface of a ledger. MultiChainClient
// and MemoryLedger implement it.
type Explorer interface {
	// ListEntries returns entries of stream, newest first.
	ListEntries(ctx context.Context, stream string, offset, limit int) (*EntryPage, error)

	// EntryDetail returns the entry identified by ref with its confirmation
	// depth.
	EntryDetail(ctx context.Context, ref string) (*EntryInfo, error)

	// StreamCounts returns the number of items in each configured stream.
	StreamCounts(ctx context.Context) (*StreamCounts, error)
}

// EntryInfo describes one ledger entry as seen by a reader.
type EntryInfo struct {
	Ref           string          `json:"ref"`
	Stream        string          `json:"stream"`
	Key           string          `json:"key"`
	Confirmations int             `json:"confirmations"`
	BlockTime     *time.Time      `json:"block_time,omitempty"`
	Publisher     string          `json:"publisher,omitempty"`
	Envelope      *Envelope       `json:"envelope,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
}

// EntryPage is one page of a stream listing.
type EntryPage struct {
	Stream  string       `json:"stream"`
	Total   int          `json:"total"`
	Offset  int          `json:"offset"`
	Limit   int          `json:"limit"`
	Entries []*EntryInfo `json:"entries"`
}

// StreamCounts holds per-stream item totals.
type StreamCounts struct {
	Loans      int `json:"loans"`
	Repayments int `json:"repayments"`
	Identities int `json:"identities"`
}

// describePayload attaches the decoded envelope, or the raw JSON for entries
// that predate the envelope layout.
func describePayload(info *EntryInfo, payload []byte) {
	if env, err := DecodeEnvelope(payload); err == nil {
		info.Envelope = env
		return
	}
	if json.Valid(payload) {
		info.Data = json.RawMessage(payload)
	}
}

// pageWindow maps a newest-first (offset, limit) window onto the
// oldest-first index range [start, end) of a stream holding total items.
func pageWindow(total, offset, limit int) (start, end int) {
	end = total - offset
	if end <= 0 {
		return 0, 0
	}
	start = end - limit
	if start < 0 {
		start = 0
	}
	return start, end
}
