package accel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vecdex/vecdex/distance"
	"github.com/vecdex/vecdex/index"
	"github.com/vecdex/vecdex/index/flat"
	"github.com/vecdex/vecdex/index/hnsw"
)

// fakeDevice lets tests force both the available and the unavailable path
// regardless of the host CPU.
type fakeDevice struct {
	name      string
	available bool
}

func (d fakeDevice) Name() string    { return d.name }
func (d fakeDevice) Available() bool { return d.available }

func newFlat(t *testing.T, dimension int) *flat.Flat {
	t.Helper()
	f, err := flat.New(dimension)
	require.NoError(t, err)
	return f
}

func TestMirror(t *testing.T) {
	t.Run("Unavailable", func(t *testing.T) {
		_, err := Mirror(fakeDevice{name: "none"}, newFlat(t, 4))
		assert.ErrorIs(t, err, ErrUnavailable)
	})

	t.Run("UnsupportedKind", func(t *testing.T) {
		h, err := hnsw.New(4)
		require.NoError(t, err)

		_, err = Mirror(fakeDevice{name: "test", available: true}, h)
		assert.ErrorIs(t, err, ErrUnsupportedIndex)
	})

	t.Run("UnsupportedMetric", func(t *testing.T) {
		f, err := flat.New(4, func(o *flat.Options) { o.Metric = distance.MetricCosine })
		require.NoError(t, err)

		_, err = Mirror(fakeDevice{name: "test", available: true}, f)
		assert.ErrorIs(t, err, ErrUnsupportedMetric)
	})

	t.Run("CopiesExistingVectors", func(t *testing.T) {
		f := newFlat(t, 3)
		_, err := f.Insert([][]float32{{1, 0, 0}, {0, 1, 0}}, []uint64{7, 9})
		require.NoError(t, err)

		a, err := Mirror(fakeDevice{name: "test", available: true}, f)
		require.NoError(t, err)
		assert.Equal(t, 2, a.Size())
		assert.ElementsMatch(t, []uint64{7, 9}, a.IDs())
	})
}

func TestAdapterSearch(t *testing.T) {
	f := newFlat(t, 4)
	_, err := f.Insert([][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{1, 0, 0, 0.01},
	}, nil)
	require.NoError(t, err)

	a, err := Mirror(fakeDevice{name: "test", available: true}, f)
	require.NoError(t, err)

	t.Run("MatchesCPUOrdering", func(t *testing.T) {
		results, err := a.Search([]float32{1, 0, 0, 0}, 2)
		require.NoError(t, err)
		require.Len(t, results, 2)

		assert.Equal(t, uint64(0), results[0].ID)
		assert.InDelta(t, 0.0, results[0].Distance, 1e-6)
		assert.Equal(t, uint64(2), results[1].ID)
		assert.InDelta(t, 0.0001, results[1].Distance, 1e-6)
	})

	t.Run("Empty", func(t *testing.T) {
		empty, err := Mirror(fakeDevice{name: "test", available: true}, newFlat(t, 4))
		require.NoError(t, err)

		_, err = empty.Search([]float32{1, 0, 0, 0}, 1)
		assert.ErrorIs(t, err, index.ErrEmptyIndex)
	})

	t.Run("DimensionMismatch", func(t *testing.T) {
		_, err := a.Search([]float32{1, 0}, 1)
		assert.IsType(t, &index.ErrDimensionMismatch{}, err)
	})
}

func TestAdapterInsert(t *testing.T) {
	a, err := Mirror(fakeDevice{name: "test", available: true}, newFlat(t, 2))
	require.NoError(t, err)

	ids, err := a.Insert([][]float32{{1, 0}, {0, 1}}, nil)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 1}, ids)

	_, err = a.Insert([][]float32{{1, 1}}, []uint64{0})
	assert.IsType(t, &index.ErrDuplicateID{}, err)
}

func TestSerializedFormIsPortable(t *testing.T) {
	f := newFlat(t, 3)
	_, err := f.Insert([][]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}, nil)
	require.NoError(t, err)

	a, err := Mirror(fakeDevice{name: "test", available: true}, f)
	require.NoError(t, err)

	data, err := a.GobEncode()
	require.NoError(t, err)

	// The blob decodes as a plain flat index with identical results.
	restored := flat.Empty()
	require.NoError(t, restored.GobDecode(data))
	assert.Equal(t, a.Size(), restored.Size())

	query := []float32{0.5, 0.5, 0}
	want, err := restored.Search(query, 3)
	require.NoError(t, err)
	got, err := a.Search(query, 3)
	require.NoError(t, err)

	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].ID, got[i].ID)
		assert.InDelta(t, want[i].Distance, got[i].Distance, 1e-5)
	}
}
