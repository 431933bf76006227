// Package index provides the backend contract shared by all vector index
// implementations, together with the algorithm kind tag and the error types
// surfaced by backend operations.
package index

import (
	"encoding/gob"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("k must be positive")

	// ErrUntrainedIndex is returned when vectors are inserted into a backend
	// that requires training before insertion.
	ErrUntrainedIndex = errors.New("index must be trained before inserting vectors")

	// ErrEmptyIndex is returned when a search is performed on an index that
	// contains no vectors.
	ErrEmptyIndex = errors.New("index contains no vectors")

	// ErrIDCountMismatch is returned when the number of supplied identifiers
	// does not match the number of vectors.
	ErrIDCountMismatch = errors.New("identifier count does not match vector count")
)

// ErrDimensionMismatch indicates a vector/query dimensionality mismatch.
type ErrDimensionMismatch struct {
	Expected int // Expected dimensions
	Actual   int // Actual dimensions
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// ErrInvalidDimension indicates an invalid configured dimension.
type ErrInvalidDimension struct {
	Dimension int
}

func (e *ErrInvalidDimension) Error() string {
	return fmt.Sprintf("invalid dimension: %d", e.Dimension)
}

// ErrDuplicateID indicates an attempt to reuse an identifier that is already
// present in the index.
type ErrDuplicateID struct {
	ID uint64
}

func (e *ErrDuplicateID) Error() string {
	return fmt.Sprintf("duplicate identifier: %d", e.ID)
}

// Kind identifies a concrete index algorithm. The kind is persisted in the
// header of serialized index files so that loading never has to guess the
// backend type.
type Kind uint8

const (
	// KindFlat is the exhaustive exact-search backend.
	KindFlat Kind = 1
	// KindHNSW is the hierarchical navigable small-world graph backend.
	KindHNSW Kind = 2
	// KindIVF is the inverted-file backend with a learned coarse quantizer.
	KindIVF Kind = 3
)

// String returns a string representation of the Kind.
func (k Kind) String() string {
	switch k {
	case KindFlat:
		return "flat"
	case KindHNSW:
		return "hnsw"
	case KindIVF:
		return "ivf"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Valid reports whether k names a known algorithm.
func (k Kind) Valid() bool {
	return k == KindFlat || k == KindHNSW || k == KindIVF
}

// ParseKind maps an algorithm name to its Kind. Matching is
// case-insensitive. Unknown names return an error so the caller can decide
// on a fallback.
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "flat":
		return KindFlat, nil
	case "hnsw":
		return KindHNSW, nil
	case "ivf":
		return KindIVF, nil
	default:
		return 0, fmt.Errorf("unknown index algorithm: %q", name)
	}
}

// SearchResult represents a single nearest-neighbor match.
type SearchResult struct {
	// ID is the identifier of the matched vector.
	ID uint64

	// Distance is the distance between the query vector and the matched vector.
	Distance float32
}

// Backend is the contract implemented by every index algorithm.
//
// Backends are not safe for concurrent use; the owning facade serializes
// access. Serialization via the gob interfaces must round-trip losslessly:
// a decoded backend returns identical search results for identical queries.
type Backend interface {
	gob.GobEncoder
	gob.GobDecoder

	// Kind returns the algorithm tag of this backend.
	Kind() Kind

	// Dimension returns the fixed vector dimensionality.
	Dimension() int

	// Size returns the number of vectors currently indexed.
	Size() int

	// Trained reports whether the backend is ready to accept insertions.
	Trained() bool

	// Train prepares the backend for insertion using a representative
	// sample. Backends that need no training succeed immediately; backends
	// that are already trained succeed without retraining.
	Train(samples [][]float32) error

	// Insert adds vectors to the index and returns their identifiers.
	// If ids is nil, sequential identifiers starting at the current size are
	// assigned. The batch is all-or-nothing: validation failures leave the
	// index unchanged.
	Insert(vectors [][]float32, ids []uint64) ([]uint64, error)

	// Search returns up to k nearest neighbors of query ordered by ascending
	// distance.
	Search(query []float32, k int) ([]SearchResult, error)

	// IDs returns all identifiers currently present in the index.
	IDs() []uint64
}

// AssignIDs validates an identifier batch and returns the identifiers to
// assign, one per vector. A nil ids slice triggers sequential assignment
// starting at the current size; explicit identifiers are checked for
// duplicates both against the index (via has) and within the batch. The
// sequential counter is only advanced once validation can no longer fail.
func AssignIDs(has func(uint64) bool, nextID *uint64, count int, ids []uint64, size uint64) ([]uint64, error) {
	if ids != nil && len(ids) != count {
		return nil, ErrIDCountMismatch
	}

	assigned := make([]uint64, count)
	if ids == nil {
		if *nextID < size {
			*nextID = size
		}
		for i := range assigned {
			assigned[i] = *nextID + uint64(i)
		}
	} else {
		copy(assigned, ids)
	}

	seen := make(map[uint64]struct{}, len(assigned))
	for _, id := range assigned {
		if has(id) {
			return nil, &ErrDuplicateID{ID: id}
		}
		if _, ok := seen[id]; ok {
			return nil, &ErrDuplicateID{ID: id}
		}
		seen[id] = struct{}{}
	}

	if ids == nil {
		*nextID += uint64(len(assigned))
	}

	return assigned, nil
}

// ValidateDimension checks a configured dimension at construction time.
func ValidateDimension(dimension int) error {
	if dimension <= 0 {
		return &ErrInvalidDimension{Dimension: dimension}
	}
	return nil
}

// ValidateVector checks a single vector against the configured dimension.
func ValidateVector(dimension int, v []float32) error {
	if len(v) != dimension {
		return &ErrDimensionMismatch{Expected: dimension, Actual: len(v)}
	}
	return nil
}

// ValidateVectors checks every vector of a batch against the configured
// dimension before any mutation takes place.
func ValidateVectors(dimension int, vectors [][]float32) error {
	for _, v := range vectors {
		if err := ValidateVector(dimension, v); err != nil {
			return err
		}
	}
	return nil
}
