package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// GenesisHash is the well-known hash of the genesis entry. Every subsequent
// entry chains from it.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Entry is a single item stored by MemoryLedger.
type Entry struct {
	Index       int       `json:"index"`
	Timestamp   time.Time `json:"timestamp"`
	Key         string    `json:"key"`
	Payload     []byte    `json:"payload"`
	PayloadHash string    `json:"payload_hash"`
	PrevHash    string    `json:"prev_hash"`
	Hash        string    `json:"hash"` // doubles as the entry reference
}

// hashEntry computes a deterministic SHA-256 over an entry's fields.
// It must never be called on the genesis entry.
func hashEntry(e *Entry) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%s|%s|%s",
		e.Index, e.Timestamp.Format(time.RFC3339Nano),
		e.Key, e.PayloadHash, e.PrevHash,
	)
	return hex.EncodeToString(h.Sum(nil))
}

func sha256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// MemoryLedger is an in-memory, thread-safe Client. Entries form a hash
// chain, so the store mirrors the append-only, tamper-evident behavior of a
// real node. Useful for tests and single-process development deployments.
type MemoryLedger struct {
	mu      sync.RWMutex
	entries []*Entry
	byRef   map[string]*Entry
	byKey   map[string][]*Entry
	streams Streams
	now     func() time.Time
}

// NewMemoryLedger creates a MemoryLedger initialised with the genesis entry.
func NewMemoryLedger() *MemoryLedger {
	genesis := &Entry{
		Index:       0,
		Timestamp:   time.Now().UTC(),
		PayloadHash: GenesisHash,
		PrevHash:    GenesisHash,
		Hash:        GenesisHash,
	}
	return &MemoryLedger{
		entries: []*Entry{genesis},
		byRef:   make(map[string]*Entry),
		byKey:   make(map[string][]*Entry),
		streams: DefaultStreams(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Publish implements Client.
func (l *MemoryLedger) Publish(ctx context.Context, key string, payload []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &TransientError{Op: "publish", Err: err}
	}
	if key == "" {
		return "", &RejectedError{Op: "publish", Message: "empty key"}
	}
	if len(payload) == 0 {
		return "", &RejectedError{Op: "publish", Message: "empty payload"}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	prev := l.entries[len(l.entries)-1]
	entry := &Entry{
		Index:       len(l.entries),
		Timestamp:   l.now(),
		Key:         key,
		Payload:     append([]byte(nil), payload...),
		PayloadHash: sha256Hex(payload),
		PrevHash:    prev.Hash,
	}
	entry.Hash = hashEntry(entry)

	l.entries = append(l.entries, entry)
	l.byRef[entry.Hash] = entry
	l.byKey[key] = append(l.byKey[key], entry)
	return entry.Hash, nil
}

// FetchLatest implements Client.
func (l *MemoryLedger) FetchLatest(ctx context.Context, key string) ([]byte, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", &TransientError{Op: "fetch_latest", Err: err}
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	items := l.byKey[key]
	if len(items) == 0 {
		return nil, "", fmt.Errorf("key %q: %w", key, ErrNotFound)
	}
	latest := items[len(items)-1]
	return append([]byte(nil), latest.Payload...), latest.Hash, nil
}

// FetchByRef implements Client.
func (l *MemoryLedger) FetchByRef(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, &TransientError{Op: "fetch_by_ref", Err: err}
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	e, ok := l.byRef[ref]
	if !ok {
		return nil, fmt.Errorf("ref %q: %w", ref, ErrNotFound)
	}
	return append([]byte(nil), e.Payload...), nil
}

// Count returns the number of entries published under key.
func (l *MemoryLedger) Count(key string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.byKey[key])
}

// Len returns the total number of entries, including genesis.
func (l *MemoryLedger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Verify walks the chain and checks that all hashes are consistent.
func (l *MemoryLedger) Verify(_ context.Context) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for i, curr := range l.entries {
		if i == 0 {
			if curr.Hash != GenesisHash {
				return fmt.Errorf("genesis entry has wrong hash: got %q", curr.Hash)
			}
			continue
		}

		prev := l.entries[i-1]
		if curr.PrevHash != prev.Hash {
			return fmt.Errorf("hash chain broken at index %d", curr.Index)
		}
		if curr.PayloadHash != sha256Hex(curr.Payload) {
			return fmt.Errorf("entry %d payload does not match its hash", curr.Index)
		}
		if curr.Hash != hashEntry(curr) {
			return fmt.Errorf("entry %d has invalid hash", curr.Index)
		}
	}
	return nil
}

// Root returns the hash of the most recent entry.
func (l *MemoryLedger) Root() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.entries[len(l.entries)-1].Hash
}

// entryInfo builds the explorer view of e. Confirmations count e and every
// entry appended after it. Caller holds l.mu.
func (l *MemoryLedger) entryInfo(e *Entry, stream string) *EntryInfo {
	at := e.Timestamp
	info := &EntryInfo{
		Ref:           e.Hash,
		Stream:        stream,
		Key:           e.Key,
		Confirmations: len(l.entries) - e.Index,
		BlockTime:     &at,
	}
	describePayload(info, e.Payload)
	return info
}

// streamEntries returns the entries routed to stream, oldest first. Caller
// holds l.mu.
func (l *MemoryLedger) streamEntries(stream string) []*Entry {
	var out []*Entry
	for _, e := range l.entries[1:] {
		if s, err := l.streams.ForKey(e.Key); err == nil && s == stream {
			out = append(out, e)
		}
	}
	return out
}

// ListEntries implements Explorer.
func (l *MemoryLedger) ListEntries(_ context.Context, stream string, offset, limit int) (*EntryPage, error) {
	stream, err := l.streams.Resolve(stream)
	if err != nil {
		return nil, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	items := l.streamEntries(stream)
	page := &EntryPage{Stream: stream, Total: len(items), Offset: offset, Limit: limit, Entries: []*EntryInfo{}}
	start, end := pageWindow(len(items), offset, limit)
	for i := end - 1; i >= start; i-- {
		page.Entries = append(page.Entries, l.entryInfo(items[i], stream))
	}
	return page, nil
}

// EntryDetail implements Explorer.
func (l *MemoryLedger) EntryDetail(_ context.Context, ref string) (*EntryInfo, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	e, ok := l.byRef[ref]
	if !ok {
		return nil, fmt.Errorf("ref %q: %w", ref, ErrNotFound)
	}
	stream, _ := l.streams.ForKey(e.Key)
	return l.entryInfo(e, stream), nil
}

// StreamCounts implements Explorer.
func (l *MemoryLedger) StreamCounts(_ context.Context) (*StreamCounts, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return &StreamCounts{
		Loans:      len(l.streamEntries(l.streams.Loan)),
		Repayments: len(l.streamEntries(l.streams.Repayment)),
		Identities: len(l.streamEntries(l.streams.Identity)),
	}, nil
}
