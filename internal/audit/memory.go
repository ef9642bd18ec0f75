package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLog is an in-memory, thread-safe Log.
type MemoryLog struct {
	mu      sync.RWMutex
	entries []*Entry
}

// NewMemoryLog creates a MemoryLog holding only the genesis entry.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{entries: []*Entry{genesisEntry(time.Now().UTC())}}
}

func genesisEntry(at time.Time) *Entry {
	return &Entry{
		Index:     0,
		Timestamp: at,
		Action:    ActionGenesis,
		Actor:     SystemActor,
		DataHash:  GenesisHash,
		PrevHash:  GenesisHash,
		Hash:      GenesisHash,
	}
}

// Append implements Log.
func (l *MemoryLog) Append(_ context.Context, ev Event) (*Entry, error) {
	dh, err := dataHash(ev.Data)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	prev := l.entries[len(l.entries)-1]
	e := newEntry(ev, prev, dh)
	l.entries = append(l.entries, e)
	c := *e
	return &c, nil
}

func newEntry(ev Event, prev *Entry, dh string) *Entry {
	actor := ev.Actor
	if actor == "" {
		actor = SystemActor
	}
	e := &Entry{
		Index:      prev.Index + 1,
		Timestamp:  time.Now().UTC(),
		RequestID:  uuid.NewString(),
		Action:     ev.Action,
		RecordID:   ev.RecordID,
		RecordType: ev.RecordType,
		Actor:      actor,
		Outcome:    ev.Outcome,
		LedgerRef:  ev.LedgerRef,
		DataHash:   dh,
		PrevHash:   prev.Hash,
	}
	e.Hash = hashEntry(e)
	return e
}

// Get implements Log.
func (l *MemoryLog) Get(_ context.Context, index int64) (*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if index < 0 || index >= int64(len(l.entries)) {
		return nil, ErrEntryNotFound
	}
	c := *l.entries[index]
	return &c, nil
}

// Len implements Log.
func (l *MemoryLog) Len(_ context.Context) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return int64(len(l.entries)), nil
}

// List implements Log.
func (l *MemoryLog) List(_ context.Context, f Filter) ([]*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	limit := f.limit()
	skipped := 0
	var out []*Entry
	for i := len(l.entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := l.entries[i]
		if !f.matches(e) {
			continue
		}
		if skipped < f.Offset {
			skipped++
			continue
		}
		c := *e
		out = append(out, &c)
	}
	return out, nil
}

// Verify implements Log.
func (l *MemoryLog) Verify(_ context.Context) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for i, curr := range l.entries {
		if i == 0 {
			if err := verifyGenesis(curr); err != nil {
				return err
			}
			continue
		}
		if err := verifyLink(l.entries[i-1], curr); err != nil {
			return err
		}
	}
	return nil
}

// Root implements Log.
func (l *MemoryLog) Root(_ context.Context) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.entries[len(l.entries)-1].Hash, nil
}
