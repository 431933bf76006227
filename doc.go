// Package vecdex provides an embedded vector similarity search index for Go.
//
// A VectorIndex wraps one of three interchangeable backends behind a single
// thread-safe facade:
//
//   - Flat: exact brute-force search, 100% recall
//   - HNSW: graph-based approximate search for larger datasets
//   - IVF: inverted-file search with coarse quantization, requires training
//
// An optional accelerator mirrors the flat backend onto SIMD kernels and
// falls back to the plain CPU path when unavailable, so the same code runs
// everywhere.
//
// # Quick Start
//
//	ctx := context.Background()
//
//	idx, err := vecdex.New(128,
//	    vecdex.WithAlgorithm(index.KindHNSW),
//	    vecdex.WithLogger(vecdex.NewTextLogger(slog.LevelInfo)),
//	)
//	if err != nil {
//	    panic(err)
//	}
//
//	ids, err := idx.Insert(ctx, vectors, nil)
//	results, err := idx.Search(ctx, query, 10)
//
// IVF indexes must be trained on a representative sample before insertion:
//
//	idx, _ := vecdex.New(128, vecdex.WithAlgorithm(index.KindIVF))
//	if err := idx.Train(ctx, sample); err != nil { ... }
//
// # Persistence
//
// Save writes the index to a single file with a checksummed header naming
// the algorithm; Load restores it, picking the right backend from the header
// alone. A saved index is always trained. For durable remote copies,
// SaveSnapshot and LoadSnapshot move the index and its metadata store
// through a blobstore.Store (local disk, S3, MinIO).
//
// # Metadata
//
// The docstore package pairs vector ids with document metadata and persists
// it as CSV next to the index file. The two are saved separately; Orphans
// reports ids that lost their metadata.
package vecdex
