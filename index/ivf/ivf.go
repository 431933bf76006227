// Package ivf provides an inverted-file index. Vector space is partitioned
// into clusters by a k-means-learned coarse quantizer; queries only scan a
// bounded number of the closest clusters, trading recall for speed.
//
// The index must be trained on a representative sample before any insertion.
package ivf

import (
	"container/heap"
	"errors"
	"math/rand"
	"slices"

	"github.com/vecdex/vecdex/distance"
	"github.com/vecdex/vecdex/index"
	"github.com/vecdex/vecdex/internal/kmeans"
	"github.com/vecdex/vecdex/internal/queue"
)

// Compile-time check to ensure IVF satisfies the backend interface.
var _ index.Backend = (*IVF)(nil)

// ErrInsufficientSamples is returned when training is attempted with fewer
// samples than clusters.
var ErrInsufficientSamples = errors.New("not enough training samples for the configured cluster count")

// Options contains configuration options for the inverted-file index.
type Options struct {
	// NumLists is the number of clusters the vector space is partitioned
	// into.
	NumLists int

	// NumProbes is the number of clusters examined per query. Zero selects
	// the default of NumLists/10, with a floor of one cluster.
	NumProbes int

	// TrainingIterations bounds the k-means training passes.
	TrainingIterations int

	// Metric is the distance metric used for vector comparison.
	Metric distance.Metric

	// Seed drives centroid initialization during training.
	Seed int64
}

// DefaultOptions contains the default configuration options for the
// inverted-file index.
var DefaultOptions = Options{
	NumLists:           100,
	NumProbes:          0, // NumLists/10
	TrainingIterations: 25,
	Metric:             distance.MetricL2,
	Seed:               1,
}

// Entry is a vector stored in an inverted list.
type Entry struct {
	ID     uint64
	Vector []float32
}

// IVF is the inverted-file index.
type IVF struct {
	dimension int
	opts      Options
	distFunc  distance.Func

	trained   bool
	centroids []float32 // Flattened NumLists * dimension
	lists     [][]Entry

	size   int
	byID   map[uint64]struct{}
	nextID uint64
}

// New creates a new inverted-file index with the given dimension.
func New(dimension int, optFns ...func(o *Options)) (*IVF, error) {
	if err := index.ValidateDimension(dimension); err != nil {
		return nil, err
	}

	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.NumLists < 1 {
		opts.NumLists = DefaultOptions.NumLists
	}
	if opts.NumProbes < 1 {
		opts.NumProbes = max(1, opts.NumLists/10)
	}
	if opts.NumProbes > opts.NumLists {
		opts.NumProbes = opts.NumLists
	}
	if opts.TrainingIterations < 1 {
		opts.TrainingIterations = DefaultOptions.TrainingIterations
	}

	distFunc, err := distance.Provider(opts.Metric)
	if err != nil {
		return nil, err
	}

	return &IVF{
		dimension: dimension,
		opts:      opts,
		distFunc:  distFunc,
		byID:      make(map[uint64]struct{}),
	}, nil
}

// Empty returns an uninitialized inverted-file index suitable as a gob
// decode target.
func Empty() *IVF {
	return &IVF{}
}

// Kind returns the algorithm tag of this backend.
func (iv *IVF) Kind() index.Kind { return index.KindIVF }

// Dimension returns the fixed vector dimensionality.
func (iv *IVF) Dimension() int { return iv.dimension }

// Size returns the number of vectors currently indexed.
func (iv *IVF) Size() int { return iv.size }

// Trained reports whether the coarse quantizer has been learned.
func (iv *IVF) Trained() bool { return iv.trained }

// NumProbes returns the number of clusters examined per query.
func (iv *IVF) NumProbes() int { return iv.opts.NumProbes }

// IDs returns all identifiers currently present in the index.
func (iv *IVF) IDs() []uint64 {
	ids := make([]uint64, 0, iv.size)
	for _, list := range iv.lists {
		for _, e := range list {
			ids = append(ids, e.ID)
		}
	}
	return ids
}

// Train learns the coarse quantizer from a representative sample. Training
// an already trained index succeeds without retraining.
func (iv *IVF) Train(samples [][]float32) error {
	if iv.trained {
		return nil
	}
	if err := index.ValidateVectors(iv.dimension, samples); err != nil {
		return err
	}
	if len(samples) < iv.opts.NumLists {
		return ErrInsufficientSamples
	}

	flat := make([]float32, 0, len(samples)*iv.dimension)
	for _, s := range samples {
		flat = append(flat, s...)
	}

	rng := rand.New(rand.NewSource(iv.opts.Seed))
	centroids := kmeans.Train(flat, iv.dimension, iv.opts.NumLists, iv.distFunc, iv.opts.TrainingIterations, rng)
	if centroids == nil {
		return ErrInsufficientSamples
	}

	iv.centroids = centroids
	iv.lists = make([][]Entry, iv.opts.NumLists)
	iv.trained = true

	return nil
}

// Insert adds vectors to their closest inverted lists. Inserting before
// training fails with index.ErrUntrainedIndex and performs no mutation.
func (iv *IVF) Insert(vectors [][]float32, ids []uint64) ([]uint64, error) {
	if !iv.trained {
		return nil, index.ErrUntrainedIndex
	}

	has := func(id uint64) bool { _, ok := iv.byID[id]; return ok }
	assigned, err := index.AssignIDs(has, &iv.nextID, len(vectors), ids, uint64(iv.size))
	if err != nil {
		return nil, err
	}
	if err := index.ValidateVectors(iv.dimension, vectors); err != nil {
		return nil, err
	}

	for i, v := range vectors {
		list := kmeans.AssignPartition(v, iv.centroids, iv.dimension, iv.distFunc)
		iv.lists[list] = append(iv.lists[list], Entry{ID: assigned[i], Vector: slices.Clone(v)})
		iv.byID[assigned[i]] = struct{}{}
		iv.size++
	}

	return assigned, nil
}

// Search scans the NumProbes closest clusters and returns up to k nearest
// neighbors of query ordered by ascending distance.
func (iv *IVF) Search(query []float32, k int) ([]index.SearchResult, error) {
	if k <= 0 {
		return nil, index.ErrInvalidK
	}
	if iv.size == 0 {
		return nil, index.ErrEmptyIndex
	}
	if err := index.ValidateVector(iv.dimension, query); err != nil {
		return nil, err
	}

	probes := kmeans.FindClosestCentroids(query, iv.centroids, iv.dimension, iv.opts.NumProbes, iv.distFunc)

	// Max-heap of the best k candidates across the probed lists. The heap
	// tracks positions in the scratch id slice.
	top := &queue.PriorityQueue{Order: true}
	heap.Init(top)
	scratch := make([]uint64, 0, k*2)

	for _, list := range probes {
		for _, e := range iv.lists[list] {
			d := iv.distFunc(query, e.Vector)

			if top.Len() < k {
				scratch = append(scratch, e.ID)
				heap.Push(top, &queue.PriorityQueueItem{Node: uint32(len(scratch) - 1), Distance: d})
				continue
			}

			worst, _ := top.Top().(*queue.PriorityQueueItem)
			if d < worst.Distance {
				heap.Pop(top)
				scratch = append(scratch, e.ID)
				heap.Push(top, &queue.PriorityQueueItem{Node: uint32(len(scratch) - 1), Distance: d})
			}
		}
	}

	results := make([]index.SearchResult, top.Len())
	for i := top.Len() - 1; i >= 0; i-- {
		item, _ := heap.Pop(top).(*queue.PriorityQueueItem)
		results[i] = index.SearchResult{ID: scratch[item.Node], Distance: item.Distance}
	}

	return results, nil
}
