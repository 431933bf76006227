// Package hnsw provides a hierarchical navigable small world graph index.
// Search is approximate with sub-linear expected cost; graph connectivity
// and construction breadth are fixed at construction time.
package hnsw

import (
	"container/heap"
	"math"
	"math/rand"
	"slices"

	"github.com/vecdex/vecdex/distance"
	"github.com/vecdex/vecdex/index"
	"github.com/vecdex/vecdex/internal/queue"
)

// Compile-time check to ensure HNSW satisfies the backend interface.
var _ index.Backend = (*HNSW)(nil)

// Node represents a node in the HNSW graph. Connections hold positions in
// the node slice, one list per layer; the external identifier only appears
// in search results.
type Node struct {
	ID          uint64     // External identifier
	Vector      []float32  // Stored vector
	Layer       int        // Top layer of the node
	Connections [][]uint32 // Links to other nodes, indexed by layer
}

// Options represents the options for configuring HNSW.
type Options struct {
	// M specifies the number of established connections for every new element
	// during construction. Higher M works better on datasets with high
	// intrinsic dimensionality and/or high recall requirements.
	M int

	// EFConstruction is the size of the dynamic candidate list while
	// building the graph. Larger values improve graph quality at the cost of
	// construction time.
	EFConstruction int

	// EFSearch is the size of the dynamic candidate list during search.
	// Larger values improve recall at the cost of search time. Searches with
	// k > EFSearch widen the list to k.
	EFSearch int

	// Heuristic selects the neighbour-selection strategy: the heuristic
	// algorithm (true) or naive closest-first selection (false).
	Heuristic bool

	// Metric is the distance metric used for vector comparison.
	Metric distance.Metric

	// Seed drives layer assignment. Fixed by default so that repeated builds
	// over the same input produce the same graph.
	Seed int64
}

// DefaultOptions contains the default configuration options for HNSW.
var DefaultOptions = Options{
	M:              32,
	EFConstruction: 64,
	EFSearch:       64,
	Heuristic:      true,
	Metric:         distance.MetricL2,
	Seed:           1,
}

// HNSW is the hierarchical navigable small world graph.
type HNSW struct {
	dimension int
	opts      Options
	mmax      int     // Max connections per node per layer
	mmax0     int     // Max connections on layer 0
	ml        float64 // Normalization factor for layer generation
	ep        uint32  // Position of the entry point node
	maxLevel  int     // Current top layer of the graph

	nodes  []*Node
	byID   map[uint64]uint32
	nextID uint64

	distFunc distance.Func
	rng      *rand.Rand
}

// New creates a new HNSW index with the given dimension.
func New(dimension int, optFns ...func(o *Options)) (*HNSW, error) {
	if err := index.ValidateDimension(dimension); err != nil {
		return nil, err
	}

	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.M < 2 {
		// M == 1 would make the layer normalization factor divide by zero.
		opts.M = 2
	}
	if opts.EFConstruction < opts.M {
		opts.EFConstruction = opts.M
	}
	if opts.EFSearch < 1 {
		opts.EFSearch = DefaultOptions.EFSearch
	}

	distFunc, err := distance.Provider(opts.Metric)
	if err != nil {
		return nil, err
	}

	return &HNSW{
		dimension: dimension,
		opts:      opts,
		mmax:      opts.M,
		mmax0:     2 * opts.M,
		ml:        1 / logM(opts.M),
		byID:      make(map[uint64]uint32),
		distFunc:  distFunc,
		rng:       rand.New(rand.NewSource(opts.Seed)),
	}, nil
}

// Empty returns an uninitialized HNSW index suitable as a gob decode target.
func Empty() *HNSW {
	return &HNSW{}
}

// Kind returns the algorithm tag of this backend.
func (h *HNSW) Kind() index.Kind { return index.KindHNSW }

// Dimension returns the fixed vector dimensionality.
func (h *HNSW) Dimension() int { return h.dimension }

// Size returns the number of vectors currently indexed.
func (h *HNSW) Size() int { return len(h.nodes) }

// Trained always reports true: graph construction needs no training pass.
func (h *HNSW) Trained() bool { return true }

// Train is a no-op for the HNSW index.
func (h *HNSW) Train(samples [][]float32) error { return nil }

// IDs returns all identifiers currently present in the index.
func (h *HNSW) IDs() []uint64 {
	ids := make([]uint64, len(h.nodes))
	for i, n := range h.nodes {
		ids[i] = n.ID
	}
	return ids
}

// Insert adds vectors to the graph. See index.Backend for the identifier
// assignment and all-or-nothing batch semantics.
func (h *HNSW) Insert(vectors [][]float32, ids []uint64) ([]uint64, error) {
	has := func(id uint64) bool { _, ok := h.byID[id]; return ok }
	assigned, err := index.AssignIDs(has, &h.nextID, len(vectors), ids, uint64(len(h.nodes)))
	if err != nil {
		return nil, err
	}
	if err := index.ValidateVectors(h.dimension, vectors); err != nil {
		return nil, err
	}

	for i, v := range vectors {
		h.insert(assigned[i], v)
	}

	return assigned, nil
}

// insert adds a single pre-validated vector to the graph.
func (h *HNSW) insert(id uint64, v []float32) {
	pos := uint32(len(h.nodes))

	node := &Node{
		ID:     id,
		Vector: slices.Clone(v),
		Layer:  h.randomLayer(),
	}
	node.Connections = make([][]uint32, node.Layer+1)

	if len(h.nodes) == 0 {
		h.nodes = append(h.nodes, node)
		h.byID[id] = pos
		h.ep = pos
		h.maxLevel = node.Layer
		return
	}

	// Greedy descent through layers above the node's top layer gives the
	// entry point for the link phase.
	currPos, currDist := h.descend(node.Vector, node.Layer)

	for level := min(node.Layer, h.maxLevel); level >= 0; level-- {
		topCandidates := &queue.PriorityQueue{}
		h.searchLayer(node.Vector, &queue.PriorityQueueItem{Node: currPos, Distance: currDist}, topCandidates, h.opts.EFConstruction, level)

		if h.opts.Heuristic {
			h.selectNeighboursHeuristic(topCandidates, h.opts.M, false)
		} else {
			h.selectNeighboursSimple(topCandidates, h.opts.M)
		}

		node.Connections[level] = make([]uint32, topCandidates.Len())
		for i := topCandidates.Len() - 1; i >= 0; i-- {
			candidate, _ := heap.Pop(topCandidates).(*queue.PriorityQueueItem)
			node.Connections[level][i] = candidate.Node
		}

		// The closest found neighbour seeds the next layer down.
		if len(node.Connections[level]) > 0 {
			currPos = node.Connections[level][0]
			currDist = h.distFunc(node.Vector, h.nodes[currPos].Vector)
		}
	}

	h.nodes = append(h.nodes, node)
	h.byID[id] = pos

	// Link the neighbour nodes back to the new node, making it reachable.
	for level := min(node.Layer, h.maxLevel); level >= 0; level-- {
		for _, neighbour := range node.Connections[level] {
			h.link(neighbour, pos, level)
		}
	}

	if node.Layer > h.maxLevel {
		h.ep = pos
		h.maxLevel = node.Layer
	}
}

func logM(m int) float64 {
	return math.Log(float64(m))
}

func (h *HNSW) randomLayer() int {
	return int(math.Floor(-math.Log(h.rng.Float64()) * h.ml))
}

// descend walks greedily from the entry point down to targetLayer+1 and
// returns the best starting position for the layers below.
func (h *HNSW) descend(v []float32, targetLayer int) (uint32, float32) {
	currPos := h.ep
	currDist := h.distFunc(h.nodes[currPos].Vector, v)

	for level := h.nodes[h.ep].Layer; level > targetLayer; level-- {
		changed := true
		for changed {
			changed = false

			curr := h.nodes[currPos]
			if level >= len(curr.Connections) {
				continue
			}
			for _, neighbour := range curr.Connections[level] {
				d := h.distFunc(h.nodes[neighbour].Vector, v)
				if d < currDist {
					currPos = neighbour
					currDist = d
					changed = true
				}
			}
		}
	}

	return currPos, currDist
}

// Search returns up to k approximate nearest neighbors of query ordered by
// ascending distance.
func (h *HNSW) Search(query []float32, k int) ([]index.SearchResult, error) {
	if k <= 0 {
		return nil, index.ErrInvalidK
	}
	if len(h.nodes) == 0 {
		return nil, index.ErrEmptyIndex
	}
	if err := index.ValidateVector(h.dimension, query); err != nil {
		return nil, err
	}

	ef := h.opts.EFSearch
	if ef < k {
		ef = k
	}

	currPos, currDist := h.descend(query, 0)

	topCandidates := &queue.PriorityQueue{}
	h.searchLayer(query, &queue.PriorityQueueItem{Node: currPos, Distance: currDist}, topCandidates, ef, 0)

	for topCandidates.Len() > k {
		_ = heap.Pop(topCandidates)
	}

	results := make([]index.SearchResult, topCandidates.Len())
	for i := topCandidates.Len() - 1; i >= 0; i-- {
		item, _ := heap.Pop(topCandidates).(*queue.PriorityQueueItem)
		results[i] = index.SearchResult{ID: h.nodes[item.Node].ID, Distance: item.Distance}
	}

	return results, nil
}

// link connects first -> second on the given level, pruning back to the
// connection budget when the neighbour list overflows.
func (h *HNSW) link(first, second uint32, level int) {
	maxConnections := h.mmax
	// The bottom layer allows double the connections.
	if level == 0 {
		maxConnections = h.mmax0
	}

	node := h.nodes[first]
	if level >= len(node.Connections) {
		return
	}
	node.Connections[level] = append(node.Connections[level], second)

	if len(node.Connections[level]) <= maxConnections {
		return
	}

	topCandidates := &queue.PriorityQueue{}
	heap.Init(topCandidates)

	for _, id := range node.Connections[level] {
		heap.Push(topCandidates, &queue.PriorityQueueItem{
			Node:     id,
			Distance: h.distFunc(node.Vector, h.nodes[id].Vector),
		})
	}

	if h.opts.Heuristic {
		h.selectNeighboursHeuristic(topCandidates, maxConnections, true)
	} else {
		h.selectNeighboursSimple(topCandidates, maxConnections)
	}

	// Drain the min-heap back into the slice. The reversed loop leaves the
	// connections worst-first; graph traversal never relies on their order.
	node.Connections[level] = make([]uint32, maxConnections)
	for i := maxConnections - 1; i >= 0; i-- {
		item, _ := heap.Pop(topCandidates).(*queue.PriorityQueueItem)
		node.Connections[level][i] = item.Node
	}
}

// searchLayer expands the candidate front on a single layer until no
// candidate can improve the current top-ef result set.
func (h *HNSW) searchLayer(q []float32, ep *queue.PriorityQueueItem, topCandidates *queue.PriorityQueue, ef int, level int) {
	visited := make(map[uint32]struct{}, ef*4)
	visited[ep.Node] = struct{}{}

	candidates := &queue.PriorityQueue{}
	heap.Init(candidates)
	heap.Push(candidates, &queue.PriorityQueueItem{Node: ep.Node, Distance: ep.Distance})

	topCandidates.Order = true // max-heap over the running result set
	heap.Init(topCandidates)
	heap.Push(topCandidates, &queue.PriorityQueueItem{Node: ep.Node, Distance: ep.Distance})

	for candidates.Len() > 0 {
		lowerBound := topCandidates.Top().(*queue.PriorityQueueItem).Distance

		candidate, _ := heap.Pop(candidates).(*queue.PriorityQueueItem)
		if candidate.Distance > lowerBound {
			break
		}

		node := h.nodes[candidate.Node]
		if level >= len(node.Connections) {
			continue
		}

		for _, n := range node.Connections[level] {
			if _, ok := visited[n]; ok {
				continue
			}
			visited[n] = struct{}{}

			d := h.distFunc(q, h.nodes[n].Vector)
			topDistance := topCandidates.Top().(*queue.PriorityQueueItem).Distance

			switch {
			case topCandidates.Len() < ef:
				heap.Push(topCandidates, &queue.PriorityQueueItem{Node: n, Distance: d})
				heap.Push(candidates, &queue.PriorityQueueItem{Node: n, Distance: d})
			case topDistance > d:
				heap.Pop(topCandidates)
				heap.Push(topCandidates, &queue.PriorityQueueItem{Node: n, Distance: d})
				heap.Push(candidates, &queue.PriorityQueueItem{Node: n, Distance: d})
			}
		}
	}
}

// selectNeighboursSimple keeps the M closest candidates.
func (h *HNSW) selectNeighboursSimple(topCandidates *queue.PriorityQueue, m int) {
	for topCandidates.Len() > m {
		_ = heap.Pop(topCandidates)
	}
}

// selectNeighboursHeuristic keeps up to M candidates preferring diversity:
// a candidate is skipped when it lies closer to an already kept neighbour
// than to the new node.
func (h *HNSW) selectNeighboursHeuristic(topCandidates *queue.PriorityQueue, m int, order bool) {
	if topCandidates.Len() < m {
		return
	}

	newCandidates := &queue.PriorityQueue{}
	tmpCandidates := &queue.PriorityQueue{Order: order}
	heap.Init(tmpCandidates)

	items := make([]*queue.PriorityQueueItem, 0, m)

	if !order {
		newCandidates.Order = order
		heap.Init(newCandidates)

		for topCandidates.Len() > 0 {
			item, _ := heap.Pop(topCandidates).(*queue.PriorityQueueItem)
			heap.Push(newCandidates, item)
		}
	} else {
		newCandidates = topCandidates
	}

	for newCandidates.Len() > 0 {
		if len(items) >= m {
			break
		}

		item, _ := heap.Pop(newCandidates).(*queue.PriorityQueueItem)
		hit := true

		for _, v := range items {
			if h.distFunc(h.nodes[v.Node].Vector, h.nodes[item.Node].Vector) < item.Distance {
				hit = false
				break
			}
		}

		if hit {
			items = append(items, item)
		} else {
			heap.Push(tmpCandidates, item)
		}
	}

	for len(items) < m && tmpCandidates.Len() > 0 {
		item, _ := heap.Pop(tmpCandidates).(*queue.PriorityQueueItem)
		items = append(items, item)
	}

	for _, item := range items {
		heap.Push(topCandidates, item)
	}
}
