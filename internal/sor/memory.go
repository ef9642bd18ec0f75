package sor

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/jmerrifield20/ArthaIntegrity/internal/digest"
)

// MemoryReader is an in-process system of record holding raw documents.
type MemoryReader struct {
	mu   sync.RWMutex
	docs map[digest.RecordType]map[string]map[string]any
}

// NewMemoryReader creates an empty MemoryReader.
func NewMemoryReader() *MemoryReader {
	return &MemoryReader{docs: map[digest.RecordType]map[string]map[string]any{
		digest.RecordTypeLoan:     {},
		digest.RecordTypeIdentity: {},
	}}
}

// Put stores or replaces the source document of a record.
func (r *MemoryReader) Put(rt digest.RecordType, id string, doc map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.docs[rt] == nil {
		r.docs[rt] = make(map[string]map[string]any)
	}
	r.docs[rt][id] = maps.Clone(doc)
}

// Delete removes a record.
func (r *MemoryReader) Delete(rt digest.RecordType, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.docs[rt], id)
}

// Set updates one field of a stored document.
func (r *MemoryReader) Set(rt digest.RecordType, id, field string, value any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[rt][id]
	if !ok {
		return fmt.Errorf("%s %s: %w", rt, id, ErrRecordNotFound)
	}
	doc[field] = value
	return nil
}

// ReadRecord implements Reader.
func (r *MemoryReader) ReadRecord(_ context.Context, id string, rt digest.RecordType) (digest.Fields, error) {
	doc, err := r.get(rt, id)
	if err != nil {
		return nil, err
	}
	return Canonicalize(rt, doc), nil
}

// ReadFollowup implements Reader.
func (r *MemoryReader) ReadFollowup(_ context.Context, id string) (digest.Fields, error) {
	doc, err := r.get(digest.RecordTypeLoan, id)
	if err != nil {
		return nil, err
	}
	return CanonicalizeFollowup(doc), nil
}

func (r *MemoryReader) get(rt digest.RecordType, id string) (map[string]any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.docs[rt][id]
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", rt, id, ErrRecordNotFound)
	}
	return maps.Clone(doc), nil
}
