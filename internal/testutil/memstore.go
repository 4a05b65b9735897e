package testutil

import (
	"context"
	"sort"
	"sync"

	"github.com/roach88/crosstx/internal/entity"
	"github.com/roach88/crosstx/internal/record"
)

// MemoryStore is an in-memory record store usable as either the primary
// or the secondary store in tests.
//
// Records are deep-copied on the way in and out, so callers cannot alias
// stored state.
//
// Thread-safety: all methods are safe for concurrent use.
type MemoryStore struct {
	mu       sync.Mutex
	records  map[entity.Kind]map[string]record.Object
	disabled bool
	calls    []Call
}

// Call is one recorded store invocation.
type Call struct {
	Op       string
	Kind     entity.Kind
	EntityID string
}

// NewMemoryStore creates an empty, enabled store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[entity.Kind]map[string]record.Object)}
}

func (s *MemoryStore) Upsert(_ context.Context, kind entity.Kind, id string, obj record.Object) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Op: "upsert", Kind: kind, EntityID: id})
	if s.records[kind] == nil {
		s.records[kind] = make(map[string]record.Object)
	}
	s.records[kind][id] = obj.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, kind entity.Kind, id string) (record.Object, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.records[kind][id]
	if !ok {
		return nil, false, nil
	}
	return obj.Clone(), true, nil
}

func (s *MemoryStore) Delete(_ context.Context, kind entity.Kind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Op: "delete", Kind: kind, EntityID: id})
	delete(s.records[kind], id)
	return nil
}

func (s *MemoryStore) Count(_ context.Context, kind entity.Kind) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.records[kind])), nil
}

// Enabled reports whether the store is switched on. Only meaningful when
// the store stands in for the secondary.
func (s *MemoryStore) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.disabled
}

// SetEnabled toggles the store.
func (s *MemoryStore) SetEnabled(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disabled = !on
}

// IDs returns the stored IDs of kind in sorted order.
func (s *MemoryStore) IDs(kind entity.Kind) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.records[kind]))
	for id := range s.records[kind] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Calls returns every mutating call made so far, in order.
func (s *MemoryStore) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}
