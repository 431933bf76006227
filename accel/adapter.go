package accel

import (
	"container/heap"

	"github.com/viterin/vek/vek32"

	"github.com/vecdex/vecdex/index"
	"github.com/vecdex/vecdex/index/flat"
	"github.com/vecdex/vecdex/internal/queue"
)

// Compile-time check to ensure Adapter satisfies the backend interface.
var _ index.Backend = (*Adapter)(nil)

// Adapter is the accelerator-resident form of a flat index. Vectors live in
// a single row-major buffer so that searches reduce to batched dot-product
// kernels; squared row norms are kept alongside to turn dot products into
// squared L2 distances.
type Adapter struct {
	device    Device
	dimension int

	ids    []uint64
	byID   map[uint64]uint32
	nextID uint64

	data  []float32 // Row-major device buffer, Size * dimension
	norms []float32 // Squared L2 norm per row
}

// Device returns the device this adapter runs on.
func (a *Adapter) Device() Device { return a.device }

// Kind reports the mirrored algorithm, not a separate accelerator kind:
// persisted files stay portable across CPU and accelerator variants.
func (a *Adapter) Kind() index.Kind { return index.KindFlat }

// Dimension returns the fixed vector dimensionality.
func (a *Adapter) Dimension() int { return a.dimension }

// Size returns the number of vectors currently indexed.
func (a *Adapter) Size() int { return len(a.ids) }

// Trained always reports true, matching the mirrored flat index.
func (a *Adapter) Trained() bool { return true }

// Train is a no-op, matching the mirrored flat index.
func (a *Adapter) Train(samples [][]float32) error { return nil }

// IDs returns all identifiers currently present in the index.
func (a *Adapter) IDs() []uint64 {
	ids := make([]uint64, len(a.ids))
	copy(ids, a.ids)
	return ids
}

func (a *Adapter) append(id uint64, v []float32) {
	a.byID[id] = uint32(len(a.ids))
	a.ids = append(a.ids, id)
	a.data = append(a.data, v...)
	row := a.data[len(a.data)-a.dimension:]
	a.norms = append(a.norms, vek32.Dot(row, row))
}

// Insert adds vectors to the device buffer. Semantics match the flat index.
func (a *Adapter) Insert(vectors [][]float32, ids []uint64) ([]uint64, error) {
	has := func(id uint64) bool { _, ok := a.byID[id]; return ok }
	assigned, err := index.AssignIDs(has, &a.nextID, len(vectors), ids, uint64(len(a.ids)))
	if err != nil {
		return nil, err
	}
	if err := index.ValidateVectors(a.dimension, vectors); err != nil {
		return nil, err
	}

	for i, v := range vectors {
		a.append(assigned[i], v)
	}

	return assigned, nil
}

// Search runs a batched exact scan over the device buffer using the
// expansion ||x - q||^2 = ||x||^2 - 2*x.q + ||q||^2.
func (a *Adapter) Search(query []float32, k int) ([]index.SearchResult, error) {
	if k <= 0 {
		return nil, index.ErrInvalidK
	}
	if len(a.ids) == 0 {
		return nil, index.ErrEmptyIndex
	}
	if err := index.ValidateVector(a.dimension, query); err != nil {
		return nil, err
	}

	qNorm := vek32.Dot(query, query)

	top := &queue.PriorityQueue{Order: true}
	heap.Init(top)

	for pos := range a.ids {
		row := a.data[pos*a.dimension : (pos+1)*a.dimension]
		d := a.norms[pos] - 2*vek32.Dot(row, query) + qNorm
		if d < 0 {
			d = 0 // Guard against negative values from float rounding
		}

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
		results[i] = index.SearchResult{ID: a.ids[item.Node], Distance: item.Distance}
	}

	return results, nil
}

// CPU copies the device-resident index back into a portable flat index.
func (a *Adapter) CPU() (*flat.Flat, error) {
	f, err := flat.New(a.dimension)
	if err != nil {
		return nil, err
	}

	if len(a.ids) > 0 {
		vectors := make([][]float32, len(a.ids))
		for pos := range a.ids {
			row := a.data[pos*a.dimension : (pos+1)*a.dimension]
			vectors[pos] = append([]float32(nil), row...)
		}
		if _, err := f.Insert(vectors, a.ids); err != nil {
			return nil, err
		}
	}

	return f, nil
}

// GobEncode serializes the portable CPU form; the device layout is never
// persisted.
func (a *Adapter) GobEncode() ([]byte, error) {
	f, err := a.CPU()
	if err != nil {
		return nil, err
	}
	return f.GobEncode()
}

// GobDecode restores from the portable CPU form and re-uploads to the
// default device.
func (a *Adapter) GobDecode(data []byte) error {
	f := flat.Empty()
	if err := f.GobDecode(data); err != nil {
		return err
	}

	dev := a.device
	if dev == nil {
		dev = DefaultDevice()
	}

	mirrored, err := Mirror(dev, f)
	if err != nil {
		return err
	}
	*a = *mirrored

	return nil
}
