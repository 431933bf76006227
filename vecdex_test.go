package vecdex

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vecdex/vecdex/blobstore"
	"github.com/vecdex/vecdex/docstore"
	"github.com/vecdex/vecdex/index"
	"github.com/vecdex/vecdex/index/hnsw"
	"github.com/vecdex/vecdex/index/ivf"
	"github.com/vecdex/vecdex/persistence"
)

func generateRandomVectors(num, dimension int, seed int64) [][]float32 {
	r := rand.New(rand.NewSource(seed))

	vectors := make([][]float32, num)
	for i := range vectors {
		vectors[i] = make([]float32, dimension)
		for j := range vectors[i] {
			vectors[i][j] = r.Float32()
		}
	}

	return vectors
}

// fakeDevice lets tests force both accelerator paths.
type fakeDevice struct {
	name      string
	available bool
}

func (d fakeDevice) Name() string    { return d.name }
func (d fakeDevice) Available() bool { return d.available }

func TestNew(t *testing.T) {
	t.Run("DefaultIsFlat", func(t *testing.T) {
		idx, err := New(8)
		require.NoError(t, err)
		assert.Equal(t, index.KindFlat, idx.Algorithm())
		assert.True(t, idx.Trained())
	})

	t.Run("ByKind", func(t *testing.T) {
		idx, err := New(8, WithAlgorithm(index.KindHNSW))
		require.NoError(t, err)
		assert.Equal(t, index.KindHNSW, idx.Algorithm())
	})

	t.Run("ByName", func(t *testing.T) {
		idx, err := New(8, WithAlgorithmName("IVF"))
		require.NoError(t, err)
		assert.Equal(t, index.KindIVF, idx.Algorithm())
		assert.False(t, idx.Trained())
	})

	t.Run("UnknownNameFallsBackToFlat", func(t *testing.T) {
		idx, err := New(8, WithAlgorithmName("annoy"))
		require.NoError(t, err)
		assert.Equal(t, index.KindFlat, idx.Algorithm())
	})

	t.Run("InvalidDimension", func(t *testing.T) {
		_, err := New(0)
		var invalid *ErrInvalidDimension
		assert.ErrorAs(t, err, &invalid)
	})
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("InsertAndSearch", func(t *testing.T) {
		idx, err := New(8)
		require.NoError(t, err)

		vectors := generateRandomVectors(50, 8, 1)
		ids, err := idx.Insert(ctx, vectors, nil)
		require.NoError(t, err)
		require.Len(t, ids, 50)
		assert.Equal(t, 50, idx.Size())

		results, err := idx.Search(ctx, vectors[7], 1)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, ids[7], results[0].ID)
	})

	t.Run("IVFRequiresTraining", func(t *testing.T) {
		idx, err := New(8, WithAlgorithm(index.KindIVF), WithIVFOptions(func(o *ivf.Options) {
			o.NumLists = 4
		}))
		require.NoError(t, err)

		_, err = idx.Insert(ctx, generateRandomVectors(10, 8, 2), nil)
		assert.ErrorIs(t, err, ErrUntrained)

		require.NoError(t, idx.Train(ctx, generateRandomVectors(40, 8, 3)))
		assert.True(t, idx.Trained())

		_, err = idx.Insert(ctx, generateRandomVectors(10, 8, 4), nil)
		assert.NoError(t, err)
	})

	t.Run("DimensionMismatch", func(t *testing.T) {
		idx, err := New(8)
		require.NoError(t, err)

		_, err = idx.Insert(ctx, [][]float32{make([]float32, 5)}, nil)

		var mismatch *ErrDimensionMismatch
		require.ErrorAs(t, err, &mismatch)
		assert.Equal(t, 8, mismatch.Expected)
		assert.Equal(t, 5, mismatch.Actual)
		assert.Equal(t, 0, idx.Size())
	})

	t.Run("DuplicateIDLeavesIndexUnchanged", func(t *testing.T) {
		idx, err := New(8)
		require.NoError(t, err)

		_, err = idx.Insert(ctx, generateRandomVectors(3, 8, 5), []uint64{1, 2, 3})
		require.NoError(t, err)

		_, err = idx.Insert(ctx, generateRandomVectors(2, 8, 6), []uint64{4, 2})

		var dup *ErrDuplicateID
		require.ErrorAs(t, err, &dup)
		assert.Equal(t, uint64(2), dup.ID)
		assert.Equal(t, 3, idx.Size())
		assert.False(t, idx.Contains(4))
	})

	t.Run("SearchEmptyIndex", func(t *testing.T) {
		idx, err := New(8)
		require.NoError(t, err)

		_, err = idx.Search(ctx, make([]float32, 8), 5)
		assert.ErrorIs(t, err, index.ErrEmptyIndex)
	})

	t.Run("InvalidK", func(t *testing.T) {
		idx, err := New(8)
		require.NoError(t, err)

		_, err = idx.Insert(ctx, generateRandomVectors(1, 8, 7), nil)
		require.NoError(t, err)

		_, err = idx.Search(ctx, make([]float32, 8), 0)
		assert.ErrorIs(t, err, ErrInvalidK)
	})
}

func TestConcurrentInsertAndSearch(t *testing.T) {
	ctx := context.Background()

	idx, err := New(8)
	require.NoError(t, err)

	const (
		workers      = 8
		perWorker    = 50
		totalVectors = workers * perWorker
	)

	var wg sync.WaitGroup
	errs := make([]error, workers)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()

			vectors := generateRandomVectors(perWorker, 8, int64(w))
			ids := make([]uint64, perWorker)
			for i := range ids {
				ids[i] = uint64(w*perWorker + i)
			}

			if _, err := idx.Insert(ctx, vectors, ids); err != nil {
				errs[w] = err
				return
			}

			// Interleave searches with other writers.
			for i := 0; i < 10; i++ {
				if _, err := idx.Search(ctx, vectors[i], 3); err != nil {
					errs[w] = err
					return
				}
			}
		}(w)
	}

	wg.Wait()

	for w, err := range errs {
		require.NoError(t, err, "worker %d", w)
	}

	assert.Equal(t, totalVectors, idx.Size())

	for id := uint64(0); id < totalVectors; id++ {
		require.True(t, idx.Contains(id), "id %d", id)
	}
}

func TestSaveLoad(t *testing.T) {
	ctx := context.Background()

	algorithms := []struct {
		name   string
		optFns []Option
	}{
		{name: "Flat"},
		{name: "HNSW", optFns: []Option{
			WithAlgorithm(index.KindHNSW),
			WithHNSWOptions(func(o *hnsw.Options) { o.EFSearch = 100 }),
		}},
		{name: "IVF", optFns: []Option{
			WithAlgorithm(index.KindIVF),
			WithIVFOptions(func(o *ivf.Options) { o.NumLists = 4 }),
		}},
	}

	for _, tc := range algorithms {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "index.vdx")

			idx, err := New(8, tc.optFns...)
			require.NoError(t, err)

			if !idx.Trained() {
				require.NoError(t, idx.Train(ctx, generateRandomVectors(40, 8, 10)))
			}

			_, err = idx.Insert(ctx, generateRandomVectors(100, 8, 11), nil)
			require.NoError(t, err)

			require.NoError(t, idx.Save(ctx, path))

			restored, err := New(8, tc.optFns...)
			require.NoError(t, err)
			require.NoError(t, restored.Load(ctx, path))

			assert.Equal(t, idx.Algorithm(), restored.Algorithm())
			assert.Equal(t, idx.Size(), restored.Size())
			assert.True(t, restored.Trained())

			// A reloaded index answers queries identically.
			for _, query := range generateRandomVectors(10, 8, 12) {
				want, err := idx.Search(ctx, query, 5)
				require.NoError(t, err)
				got, err := restored.Search(ctx, query, 5)
				require.NoError(t, err)
				assert.Equal(t, want, got)
			}
		})
	}

	t.Run("LoadFailureLeavesIndexUsable", func(t *testing.T) {
		idx, err := New(8)
		require.NoError(t, err)

		_, err = idx.Insert(ctx, generateRandomVectors(10, 8, 13), nil)
		require.NoError(t, err)

		err = idx.Load(ctx, filepath.Join(t.TempDir(), "missing.vdx"))
		require.Error(t, err)

		assert.Equal(t, 10, idx.Size())
		_, err = idx.Search(ctx, make([]float32, 8), 3)
		assert.NoError(t, err)
	})

	t.Run("DimensionMismatchLeavesIndexUsable", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "index.vdx")

		wide, err := New(16)
		require.NoError(t, err)
		_, err = wide.Insert(ctx, generateRandomVectors(5, 16, 15), nil)
		require.NoError(t, err)
		require.NoError(t, wide.Save(ctx, path))

		idx, err := New(8)
		require.NoError(t, err)
		_, err = idx.Insert(ctx, generateRandomVectors(3, 8, 16), nil)
		require.NoError(t, err)

		err = idx.Load(ctx, path)
		var mismatch *ErrDimensionMismatch
		require.ErrorAs(t, err, &mismatch)
		assert.Equal(t, 8, mismatch.Expected)
		assert.Equal(t, 16, mismatch.Actual)

		// The previous contents survive the rejected load.
		assert.Equal(t, 8, idx.Dimension())
		assert.Equal(t, 3, idx.Size())
		for id := uint64(0); id < 3; id++ {
			assert.True(t, idx.Contains(id))
		}
		results, err := idx.Search(ctx, make([]float32, 8), 3)
		require.NoError(t, err)
		assert.Len(t, results, 3)
	})

	t.Run("Compression", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "index.vdx")

		idx, err := New(8, WithCompression(persistence.CompressionZstd))
		require.NoError(t, err)

		_, err = idx.Insert(ctx, generateRandomVectors(20, 8, 14), nil)
		require.NoError(t, err)
		require.NoError(t, idx.Save(ctx, path))

		restored, err := New(8)
		require.NoError(t, err)
		require.NoError(t, restored.Load(ctx, path))
		assert.Equal(t, 20, restored.Size())
	})
}

func TestAccelerator(t *testing.T) {
	ctx := context.Background()

	t.Run("MirrorsFlatBackend", func(t *testing.T) {
		idx, err := New(8,
			WithAccelerator(),
			WithDevice(fakeDevice{name: "test-simd", available: true}),
		)
		require.NoError(t, err)
		assert.True(t, idx.Accelerated())

		vectors := generateRandomVectors(50, 8, 20)
		_, err = idx.Insert(ctx, vectors, nil)
		require.NoError(t, err)

		results, err := idx.Search(ctx, vectors[3], 1)
		require.NoError(t, err)
		assert.Equal(t, uint64(3), results[0].ID)
	})

	t.Run("UnavailableDeviceFallsBack", func(t *testing.T) {
		idx, err := New(8,
			WithAccelerator(),
			WithDevice(fakeDevice{name: "test-simd", available: false}),
		)
		require.NoError(t, err)
		assert.False(t, idx.Accelerated())

		// Searches still work on the CPU backend.
		vectors := generateRandomVectors(10, 8, 21)
		_, err = idx.Insert(ctx, vectors, nil)
		require.NoError(t, err)

		_, err = idx.Search(ctx, vectors[0], 1)
		assert.NoError(t, err)
	})

	t.Run("UnsupportedBackendFallsBack", func(t *testing.T) {
		idx, err := New(8,
			WithAlgorithm(index.KindHNSW),
			WithAccelerator(),
			WithDevice(fakeDevice{name: "test-simd", available: true}),
		)
		require.NoError(t, err)
		assert.False(t, idx.Accelerated())
	})

	t.Run("SavedFormIsPortable", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "index.vdx")

		accelerated, err := New(8,
			WithAccelerator(),
			WithDevice(fakeDevice{name: "test-simd", available: true}),
		)
		require.NoError(t, err)
		require.True(t, accelerated.Accelerated())

		vectors := generateRandomVectors(30, 8, 22)
		_, err = accelerated.Insert(ctx, vectors, nil)
		require.NoError(t, err)
		require.NoError(t, accelerated.Save(ctx, path))

		// A host without the accelerator loads the same file.
		plain, err := New(8)
		require.NoError(t, err)
		require.NoError(t, plain.Load(ctx, path))
		assert.False(t, plain.Accelerated())
		assert.Equal(t, 30, plain.Size())

		// Distances come from different kernels, so compare ids and allow
		// float rounding on the distances.
		for _, query := range generateRandomVectors(5, 8, 23) {
			want, err := accelerated.Search(ctx, query, 3)
			require.NoError(t, err)
			got, err := plain.Search(ctx, query, 3)
			require.NoError(t, err)

			require.Len(t, got, len(want))
			for i := range want {
				assert.Equal(t, want[i].ID, got[i].ID)
				assert.InDelta(t, want[i].Distance, got[i].Distance, 1e-4)
			}
		}
	})

	t.Run("LoadReattachesAccelerator", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "index.vdx")

		idx, err := New(8,
			WithAccelerator(),
			WithDevice(fakeDevice{name: "test-simd", available: true}),
		)
		require.NoError(t, err)

		_, err = idx.Insert(ctx, generateRandomVectors(10, 8, 24), nil)
		require.NoError(t, err)
		require.NoError(t, idx.Save(ctx, path))

		require.NoError(t, idx.Load(ctx, path))
		assert.True(t, idx.Accelerated())
	})
}

func TestOrphans(t *testing.T) {
	ctx := context.Background()

	idx, err := New(8)
	require.NoError(t, err)

	meta := docstore.New()

	ids, err := idx.Insert(ctx, generateRandomVectors(5, 8, 30), nil)
	require.NoError(t, err)

	for _, id := range ids[:3] {
		meta.Put(id, docstore.Record{SourceID: fmt.Sprintf("doc-%d", id)})
	}

	orphans := idx.Orphans(meta)
	assert.Equal(t, []uint64{ids[3], ids[4]}, orphans)

	meta.Put(ids[3], docstore.Record{})
	meta.Put(ids[4], docstore.Record{})
	assert.Empty(t, idx.Orphans(meta))
}

func TestSnapshot(t *testing.T) {
	ctx := context.Background()

	t.Run("RoundTrip", func(t *testing.T) {
		store := blobstore.NewMemoryStore()

		idx, err := New(8)
		require.NoError(t, err)

		meta := docstore.New()

		ids, err := idx.Insert(ctx, generateRandomVectors(20, 8, 40), nil)
		require.NoError(t, err)
		for _, id := range ids {
			meta.Put(id, docstore.Record{SourceID: fmt.Sprintf("doc-%d", id), Snippet: "text, with commas"})
		}

		require.NoError(t, idx.SaveSnapshot(ctx, store, "snapshots/v1", meta))

		restoredIdx, err := New(8)
		require.NoError(t, err)
		restoredMeta := docstore.New()

		require.NoError(t, restoredIdx.LoadSnapshot(ctx, store, "snapshots/v1", restoredMeta))

		assert.Equal(t, 20, restoredIdx.Size())
		assert.Equal(t, 20, restoredMeta.Count())
		assert.Empty(t, restoredIdx.Orphans(restoredMeta))
	})

	t.Run("MissingSnapshotLeavesIndexUsable", func(t *testing.T) {
		store := blobstore.NewMemoryStore()

		idx, err := New(8)
		require.NoError(t, err)

		_, err = idx.Insert(ctx, generateRandomVectors(5, 8, 41), nil)
		require.NoError(t, err)

		err = idx.LoadSnapshot(ctx, store, "snapshots/nope", nil)
		require.Error(t, err)
		assert.Equal(t, 5, idx.Size())
	})

	t.Run("DimensionMismatchLeavesIndexUsable", func(t *testing.T) {
		store := blobstore.NewMemoryStore()

		wide, err := New(16)
		require.NoError(t, err)
		_, err = wide.Insert(ctx, generateRandomVectors(5, 16, 43), nil)
		require.NoError(t, err)
		require.NoError(t, wide.SaveSnapshot(ctx, store, "snapshots/wide", nil))

		idx, err := New(8)
		require.NoError(t, err)
		_, err = idx.Insert(ctx, generateRandomVectors(5, 8, 44), nil)
		require.NoError(t, err)

		err = idx.LoadSnapshot(ctx, store, "snapshots/wide", nil)
		var mismatch *ErrDimensionMismatch
		require.ErrorAs(t, err, &mismatch)
		assert.Equal(t, 8, mismatch.Expected)
		assert.Equal(t, 16, mismatch.Actual)

		assert.Equal(t, 8, idx.Dimension())
		assert.Equal(t, 5, idx.Size())
	})

	t.Run("IndexOnly", func(t *testing.T) {
		store := blobstore.NewMemoryStore()

		idx, err := New(8)
		require.NoError(t, err)

		_, err = idx.Insert(ctx, generateRandomVectors(5, 8, 42), nil)
		require.NoError(t, err)

		require.NoError(t, idx.SaveSnapshot(ctx, store, "snapshots/v1", nil))

		names, err := store.List(ctx, "snapshots/")
		require.NoError(t, err)
		assert.Equal(t, []string{"snapshots/v1.vdx"}, names)
	})
}

func TestMetricsCollector(t *testing.T) {
	ctx := context.Background()

	collector := &BasicMetricsCollector{}

	idx, err := New(8, WithMetricsCollector(collector))
	require.NoError(t, err)

	_, err = idx.Insert(ctx, generateRandomVectors(10, 8, 50), nil)
	require.NoError(t, err)

	_, err = idx.Search(ctx, make([]float32, 8), 3)
	require.NoError(t, err)

	_, err = idx.Search(ctx, make([]float32, 8), 0)
	require.Error(t, err)

	stats := collector.GetStats()
	assert.Equal(t, int64(1), stats.InsertCount)
	assert.Equal(t, int64(10), stats.InsertVectors)
	assert.Equal(t, int64(2), stats.SearchCount)
	assert.Equal(t, int64(1), stats.SearchErrors)
}
