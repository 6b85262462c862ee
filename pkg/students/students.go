package students

import (
	"sync"
)

// Record is a known student as resolved from a scanned id.
type Record struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	Details map[string]string `json:"details,omitempty"`
}

// Validator resolves a scanned id to a known student. It is supplied by the
// surrounding application; the relay subsystem only calls it synchronously
// before emitting or accepting a scan event.
type Validator interface {
	Validate(id string) (*Record, bool)
}

// Store is the plain create/read/update/delete surface of the student
// record collaborator. Persistence itself lives outside this subsystem.
type Store interface {
	Validator
	Create(rec Record) error
	Update(rec Record) error
	Delete(id string) error
	List() []Record
}

// MemoryStore is an in-memory Store used by the demo binaries and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// Validate implements Validator.
func (s *MemoryStore) Validate(id string) (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, false
	}
	return &rec, true
}

// Create adds a record, overwriting any existing one with the same id.
func (s *MemoryStore) Create(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec
	return nil
}

// Update replaces the record with the same id.
func (s *MemoryStore) Update(rec Record) error {
	return s.Create(rec)
}

// Delete removes the record with the given id, if any.
func (s *MemoryStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

// List returns all records.
func (s *MemoryStore) List() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	return out
}
