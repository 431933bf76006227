// Package docstore holds the document metadata paired with vector ids in an
// index. The store is an in-memory map with CSV persistence, so saved files
// stay inspectable with ordinary text tooling.
package docstore

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrNotFound is returned when no record exists for the requested id.
var ErrNotFound = errors.New("docstore: record not found")

// Record is the metadata kept for a single vector id.
type Record struct {
	// SourceID identifies the originating document.
	SourceID string

	// Title is the document title.
	Title string

	// Section names the part of the document this record covers.
	Section string

	// Snippet is a short text excerpt. It may contain commas, quotes and
	// newlines; persistence preserves it verbatim.
	Snippet string
}

// Store maps vector ids to their metadata records. All methods are safe for
// concurrent use.
type Store struct {
	mu      sync.RWMutex
	records map[uint64]Record
}

// New creates an empty metadata store.
func New() *Store {
	return &Store{
		records: make(map[uint64]Record),
	}
}

// Put inserts or replaces the record for the given id.
func (s *Store) Put(id uint64, record Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[id] = record
}

// Get returns the record for the given id, or ErrNotFound.
func (s *Store) Get(id uint64) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[id]
	if !ok {
		return Record{}, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}

	return record, nil
}

// Has reports whether a record exists for the given id.
func (s *Store) Has(id uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.records[id]

	return ok
}

// Delete removes the record for the given id. Deleting a missing id is a
// no-op.
func (s *Store) Delete(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, id)
}

// Count returns the number of records in the store.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.records)
}

// IDs returns all ids with a record, in ascending order.
func (s *Store) IDs() []uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]uint64, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return ids
}

// snapshot copies the record map under the read lock.
func (s *Store) snapshot() map[uint64]Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make(map[uint64]Record, len(s.records))
	for id, record := range s.records {
		records[id] = record
	}

	return records
}

// replace swaps in a fully loaded record map.
func (s *Store) replace(records map[uint64]Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = records
}
