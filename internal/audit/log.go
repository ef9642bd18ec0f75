package audit

import "context"

// Log is the append-only audit journal.
type Log interface {
	// Append chains a new entry after the current tip.
	Append(ctx context.Context, ev Event) (*Entry, error)
	// Get returns the entry at a zero-based index or ErrEntryNotFound.
	Get(ctx context.Context, index int64) (*Entry, error)
	// Len returns the number of entries, genesis included.
	Len(ctx context.Context) (int64, error)
	// List returns entries newest first.
	List(ctx context.Context, f Filter) ([]*Entry, error)
	// Verify walks the whole chain. It returns a *ChainError on the first
	// inconsistency.
	Verify(ctx context.Context) error
	// Root returns the hash of the tip.
	Root(ctx context.Context) (string, error)
}

// Filter narrows List.
type Filter struct {
	RecordID string
	Action   Action
	Limit    int
	Offset   int
}

func (f Filter) limit() int {
	switch {
	case f.Limit <= 0:
		return 50
	case f.Limit > 500:
		return 500
	}
	return f.Limit
}

func (f Filter) matches(e *Entry) bool {
	if f.RecordID != "" && e.RecordID != f.RecordID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	return true
}
