// Package flat provides an exhaustive exact-search index. Every query is
// compared against all stored vectors, so results are always the true k
// nearest neighbors at O(n*d) cost per query.
package flat

import (
	"container/heap"
	"slices"

	"github.com/vecdex/vecdex/distance"
	"github.com/vecdex/vecdex/index"
	"github.com/vecdex/vecdex/internal/queue"
)

// Compile-time check to ensure Flat satisfies the backend interface.
var _ index.Backend = (*Flat)(nil)

// Options contains configuration options for the flat index.
type Options struct {
	// Metric is the distance metric used for vector comparison.
	Metric distance.Metric
}

// DefaultOptions contains the default configuration options for the flat index.
var DefaultOptions = Options{
	Metric: distance.MetricL2,
}

// Flat is an exact-search index over raw stored vectors.
// It requires no training and is ready for insertion at construction.
type Flat struct {
	dimension int
	opts      Options
	distFunc  distance.Func

	ids     []uint64
	vectors [][]float32
	byID    map[uint64]uint32 // identifier -> position in ids/vectors
	nextID  uint64
}

// New creates a new flat index with the given dimension.
func New(dimension int, optFns ...func(o *Options)) (*Flat, error) {
	if err := index.ValidateDimension(dimension); err != nil {
		return nil, err
	}

	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	distFunc, err := distance.Provider(opts.Metric)
	if err != nil {
		return nil, err
	}

	return &Flat{
		dimension: dimension,
		opts:      opts,
		distFunc:  distFunc,
		byID:      make(map[uint64]uint32),
	}, nil
}

// Empty returns an uninitialized flat index suitable as a gob decode target.
func Empty() *Flat {
	return &Flat{}
}

// Kind returns the algorithm tag of this backend.
func (f *Flat) Kind() index.Kind { return index.KindFlat }

// Dimension returns the fixed vector dimensionality.
func (f *Flat) Dimension() int { return f.dimension }

// Size returns the number of vectors currently indexed.
func (f *Flat) Size() int { return len(f.ids) }

// Trained always reports true: exhaustive search needs no training pass.
func (f *Flat) Trained() bool { return true }

// Train is a no-op for the flat index.
func (f *Flat) Train(samples [][]float32) error { return nil }

// IDs returns all identifiers currently present in the index.
func (f *Flat) IDs() []uint64 {
	return slices.Clone(f.ids)
}

// Vector returns a copy of the stored vector for the given identifier.
func (f *Flat) Vector(id uint64) ([]float32, bool) {
	pos, ok := f.byID[id]
	if !ok {
		return nil, false
	}
	return slices.Clone(f.vectors[pos]), true
}

// Metric returns the configured distance metric.
func (f *Flat) Metric() distance.Metric { return f.opts.Metric }

// Insert adds vectors to the index. See index.Backend for the identifier
// assignment and all-or-nothing batch semantics.
func (f *Flat) Insert(vectors [][]float32, ids []uint64) ([]uint64, error) {
	has := func(id uint64) bool { _, ok := f.byID[id]; return ok }
	assigned, err := index.AssignIDs(has, &f.nextID, len(vectors), ids, uint64(len(f.ids)))
	if err != nil {
		return nil, err
	}
	if err := index.ValidateVectors(f.dimension, vectors); err != nil {
		return nil, err
	}

	for i, v := range vectors {
		f.byID[assigned[i]] = uint32(len(f.ids))
		f.ids = append(f.ids, assigned[i])
		f.vectors = append(f.vectors, slices.Clone(v))
	}

	return assigned, nil
}

// Search returns the true k nearest neighbors of query in ascending distance
// order.
func (f *Flat) Search(query []float32, k int) ([]index.SearchResult, error) {
	if k <= 0 {
		return nil, index.ErrInvalidK
	}
	if len(f.ids) == 0 {
		return nil, index.ErrEmptyIndex
	}
	if err := index.ValidateVector(f.dimension, query); err != nil {
		return nil, err
	}

	// Max-heap of the best k candidates seen so far.
	top := &queue.PriorityQueue{Order: true}
	heap.Init(top)

	for pos, v := range f.vectors {
		d := f.distFunc(query, v)

		if top.Len() < k {
			heap.Push(top, &queue.PriorityQueueItem{Node: uint32(pos), Distance: d})
			continue
		}

		worst, _ := top.Top().(*queue.PriorityQueueItem)
		if d < worst.Distance {
			heap.Pop(top)
			heap.Push(top, &queue.PriorityQueueItem{Node: uint32(pos), Distance: d})
		}
	}

	results := make([]index.SearchResult, top.Len())
	for i := top.Len() - 1; i >= 0; i-- {
		item, _ := heap.Pop(top).(*queue.PriorityQueueItem)
		results[i] = index.SearchResult{ID: f.ids[item.Node], Distance: item.Distance}
	}

	return results, nil
}
