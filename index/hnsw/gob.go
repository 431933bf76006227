package hnsw

import (
	"bytes"
	"encoding/gob"
	"math/rand"

	"github.com/vecdex/vecdex/distance"
)

// Compile time checks to ensure HNSW satisfies the gob interfaces.
var (
	_ gob.GobEncoder = (*HNSW)(nil)
	_ gob.GobDecoder = (*HNSW)(nil)
)

// GobEncode serializes the graph.
func (h *HNSW) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	encoder := gob.NewEncoder(&buf)

	if err := encoder.Encode(h.dimension); err != nil {
		return nil, err
	}

	if err := encoder.Encode(h.opts); err != nil {
		return nil, err
	}

	if err := encoder.Encode(h.ep); err != nil {
		return nil, err
	}

	if err := encoder.Encode(h.maxLevel); err != nil {
		return nil, err
	}

	if err := encoder.Encode(h.nodes); err != nil {
		return nil, err
	}

	if err := encoder.Encode(h.nextID); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// GobDecode restores the graph, rebuilding the derived state that is not
// persisted (identifier lookup, distance function, layer generator).
func (h *HNSW) GobDecode(data []byte) error {
	decoder := gob.NewDecoder(bytes.NewBuffer(data))

	if err := decoder.Decode(&h.dimension); err != nil {
		return err
	}

	if err := decoder.Decode(&h.opts); err != nil {
		return err
	}

	if err := decoder.Decode(&h.ep); err != nil {
		return err
	}

	if err := decoder.Decode(&h.maxLevel); err != nil {
		return err
	}

	if err := decoder.Decode(&h.nodes); err != nil {
		return err
	}

	if err := decoder.Decode(&h.nextID); err != nil {
		return err
	}

	distFunc, err := distance.Provider(h.opts.Metric)
	if err != nil {
		return err
	}
	h.distFunc = distFunc

	h.mmax = h.opts.M
	h.mmax0 = 2 * h.opts.M
	h.ml = 1 / logM(h.opts.M)
	h.rng = rand.New(rand.NewSource(h.opts.Seed))

	h.byID = make(map[uint64]uint32, len(h.nodes))
	for pos, n := range h.nodes {
		h.byID[n.ID] = uint32(pos)
	}

	return nil
}
