package vecdex

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/vecdex/vecdex/accel"
	"github.com/vecdex/vecdex/docstore"
	"github.com/vecdex/vecdex/index"
	"github.com/vecdex/vecdex/index/flat"
	"github.com/vecdex/vecdex/index/hnsw"
	"github.com/vecdex/vecdex/index/ivf"
	"github.com/vecdex/vecdex/persistence"
)

// SearchResult is a single nearest neighbor hit.
type SearchResult = index.SearchResult

// VectorIndex is the high-level similarity search index. It owns exactly one
// backend at a time, guards it with a single mutex, and survives accelerator
// or configuration failures by falling back to the plain flat backend.
//
// All methods are safe for concurrent use. Operations serialize on the
// internal lock, so a long search blocks a concurrent insert; this keeps the
// invariants simple at the cost of parallelism inside a single index.
type VectorIndex struct {
	mu      sync.Mutex
	opts    options
	backend index.Backend

	// dimension is the configured dimensionality, fixed at construction.
	// Load rejects files with a different dimension against this, not
	// against the current backend.
	dimension int

	// known tracks every id ever inserted into this index instance,
	// including ids restored by Load. Used for orphan reporting.
	known *roaring64.Bitmap

	accelerated bool

	logger  *Logger
	metrics MetricsCollector
}

// New creates a VectorIndex with the given dimension.
func New(dimension int, optFns ...Option) (*VectorIndex, error) {
	opts := options{
		algorithm:        index.KindFlat,
		compression:      persistence.CompressionNone,
		logger:           NoopLogger(),
		metricsCollector: NoopMetricsCollector{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.device == nil {
		opts.device = accel.DefaultDevice()
	}

	v := &VectorIndex{
		opts:      opts,
		dimension: dimension,
		known:     roaring64.New(),
		logger:    opts.logger,
		metrics:   opts.metricsCollector,
	}

	kind := opts.algorithm
	if opts.algorithmName != "" {
		parsed, err := index.ParseKind(opts.algorithmName)
		if err != nil {
			v.logger.LogAlgorithmFallback(context.Background(), opts.algorithmName, err)
			parsed = index.KindFlat
		}
		kind = parsed
	}

	backend, err := v.newBackend(kind, dimension)
	if err != nil {
		return nil, translateError(err)
	}
	v.backend = backend

	if opts.accelerate {
		v.tryAccelerate(context.Background())
	}

	return v, nil
}

func (v *VectorIndex) newBackend(kind index.Kind, dimension int) (index.Backend, error) {
	switch kind {
	case index.KindHNSW:
		hnswOptions := append([]func(*hnsw.Options){func(o *hnsw.Options) {
			o.Metric = v.opts.metric
		}}, v.opts.hnswOptions...)

		return hnsw.New(dimension, hnswOptions...)
	case index.KindIVF:
		ivfOptions := append([]func(*ivf.Options){func(o *ivf.Options) {
			o.Metric = v.opts.metric
		}}, v.opts.ivfOptions...)

		return ivf.New(dimension, ivfOptions...)
	default:
		return flat.New(dimension, func(o *flat.Options) {
			o.Metric = v.opts.metric
		})
	}
}

// tryAccelerate swaps the backend for an accelerated mirror. On any failure
// the current backend stays in place and a warning is logged. Caller must
// hold the lock or have exclusive access.
func (v *VectorIndex) tryAccelerate(ctx context.Context) {
	adapter, err := accel.Mirror(v.opts.device, v.backend)
	if err != nil {
		v.logger.LogAcceleratorFallback(ctx, v.opts.device.Name(), err)
		v.accelerated = false
		return
	}

	v.backend = adapter
	v.accelerated = true
}

// Train prepares the index for insertion using a representative sample of
// vectors. Backends that need no training (flat, HNSW) succeed immediately;
// training an already trained index succeeds without retraining.
func (v *VectorIndex) Train(ctx context.Context, samples [][]float32) error {
	start := time.Now()

	v.mu.Lock()
	err := v.backend.Train(samples)
	v.mu.Unlock()

	err = translateError(err)
	v.metrics.RecordTrain(len(samples), time.Since(start), err)
	v.logger.LogTrain(ctx, len(samples), time.Since(start), err)

	return err
}

// Insert adds vectors to the index and returns their identifiers. If ids is
// nil, sequential identifiers are assigned. The batch is all-or-nothing:
// any validation failure leaves the index unchanged.
func (v *VectorIndex) Insert(ctx context.Context, vectors [][]float32, ids []uint64) ([]uint64, error) {
	start := time.Now()

	v.mu.Lock()
	assigned, err := v.backend.Insert(vectors, ids)
	if err == nil {
		for _, id := range assigned {
			v.known.Add(id)
		}
	}
	v.mu.Unlock()

	err = translateError(err)
	v.metrics.RecordInsert(len(vectors), time.Since(start), err)
	v.logger.LogInsert(ctx, len(vectors), err)

	if err != nil {
		return nil, err
	}

	return assigned, nil
}

// Search returns up to k nearest neighbors of query, ordered by ascending
// distance. Searching an empty index returns index.ErrEmptyIndex.
func (v *VectorIndex) Search(ctx context.Context, query []float32, k int) ([]SearchResult, error) {
	start := time.Now()

	v.mu.Lock()
	results, err := v.backend.Search(query, k)
	v.mu.Unlock()

	err = translateError(err)
	v.metrics.RecordSearch(k, time.Since(start), err)
	v.logger.LogSearch(ctx, k, len(results), err)

	if err != nil {
		return nil, err
	}

	return results, nil
}

// Size returns the number of vectors currently indexed.
func (v *VectorIndex) Size() int {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.backend.Size()
}

// Dimension returns the fixed vector dimensionality of the index.
func (v *VectorIndex) Dimension() int {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.backend.Dimension()
}

// Trained reports whether the index is ready to accept insertions.
func (v *VectorIndex) Trained() bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.backend.Trained()
}

// Algorithm returns the kind of the active backend.
func (v *VectorIndex) Algorithm() index.Kind {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.backend.Kind()
}

// Accelerated reports whether the accelerated mirror is active.
func (v *VectorIndex) Accelerated() bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.accelerated
}

// IDs returns all identifiers currently in the index, in ascending order.
func (v *VectorIndex) IDs() []uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.backend.IDs()
}

// Contains reports whether the id has ever been inserted into this index.
func (v *VectorIndex) Contains(id uint64) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.known.Contains(id)
}

// Save writes the index to a file at path. A saved index is always trained:
// loading it back yields an index ready for insertion. The write is atomic,
// so a crash mid-save leaves any previous file intact.
func (v *VectorIndex) Save(ctx context.Context, path string) error {
	start := time.Now()

	v.mu.Lock()
	size := v.backend.Size()
	err := persistence.Save(path, v.backend, v.opts.compression)
	v.mu.Unlock()

	v.metrics.RecordSave(time.Since(start), err)
	v.logger.LogSave(ctx, path, size, err)

	return err
}

// Load replaces the index contents with the file at path. The swap is
// all-or-nothing: on any error, including a file whose dimension differs
// from the configured one, the previous contents remain usable. If the
// index was constructed with WithAccelerator, the mirror is re-attempted on
// the loaded data.
func (v *VectorIndex) Load(ctx context.Context, path string) error {
	start := time.Now()

	v.mu.Lock()
	size, err := v.loadLocked(ctx, path)
	v.mu.Unlock()

	v.metrics.RecordLoad(time.Since(start), err)
	v.logger.LogLoad(ctx, path, size, err)

	if err != nil {
		return fmt.Errorf("load index: %w", err)
	}

	return nil
}

func (v *VectorIndex) loadLocked(ctx context.Context, path string) (int, error) {
	backend, err := persistence.Load(path)
	if err != nil {
		return 0, err
	}

	if backend.Dimension() != v.dimension {
		return 0, &ErrDimensionMismatch{Expected: v.dimension, Actual: backend.Dimension()}
	}

	v.backend = backend
	v.accelerated = false
	v.known.Clear()
	for _, id := range backend.IDs() {
		v.known.Add(id)
	}
	if v.opts.accelerate {
		v.tryAccelerate(ctx)
	}

	return backend.Size(), nil
}

// Orphans returns the ids present in the index that have no record in the
// metadata store. A non-empty result means index and metadata went out of
// sync, typically from saving one but not the other.
func (v *VectorIndex) Orphans(docs *docstore.Store) []uint64 {
	v.mu.Lock()
	ids := v.backend.IDs()
	v.mu.Unlock()

	var orphans []uint64
	for _, id := range ids {
		if !docs.Has(id) {
			orphans = append(orphans, id)
		}
	}

	return orphans
}
