package commitment

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store persists commitment records. Implementations must make Update a
// compare-and-set on Record.Version.
type Store interface {
	// Get returns the record for id or ErrNotFound.
	Get(ctx context.Context, id string) (*Record, error)
	// Create inserts r if no row exists for r.RecordID and returns the stored
	// row, which is the pre-existing one when the insert lost.
	Create(ctx context.Context, r *Record) (*Record, error)
	// Update writes r if the stored version equals r.Version, then bumps
	// r.Version. It returns ErrVersionConflict otherwise.
	Update(ctx context.Context, r *Record) error
	// ListByStatus returns up to limit records with the given status whose
	// id sorts after the cursor, ordered by id.
	ListByStatus(ctx context.Context, status Status, after string, limit int) ([]*Record, error)
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	now     func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

// Create implements Store.
func (s *MemoryStore) Create(_ context.Context, r *Record) (*Record, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[r.RecordID]; ok {
		return existing.Clone(), nil
	}
	stored := r.Clone()
	stored.Version = 0
	stored.CreatedAt = s.now()
	stored.UpdatedAt = stored.CreatedAt
	s.records[r.RecordID] = stored
	return stored.Clone(), nil
}

// Update implements Store.
func (s *MemoryStore) Update(_ context.Context, r *Record) error {
	if err := r.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.records[r.RecordID]
	if !ok {
		return ErrNotFound
	}
	if existing.Version != r.Version {
		return ErrVersionConflict
	}

	stored := r.Clone()
	stored.Version = r.Version + 1
	stored.CreatedAt = existing.CreatedAt
	stored.UpdatedAt = s.now()
	s.records[r.RecordID] = stored

	r.Version = stored.Version
	r.UpdatedAt = stored.UpdatedAt
	return nil
}

// ListByStatus implements Store.
func (s *MemoryStore) ListByStatus(_ context.Context, status Status, after string, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Record
	for id, r := range s.records {
		if r.Status == status && id > after {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecordID < out[j].RecordID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
