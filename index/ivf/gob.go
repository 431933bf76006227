package ivf

import (
	"bytes"
	"encoding/gob"

	"github.com/vecdex/vecdex/distance"
)

// Compile time checks to ensure IVF satisfies the gob interfaces.
var (
	_ gob.GobEncoder = (*IVF)(nil)
	_ gob.GobDecoder = (*IVF)(nil)
)

// GobEncode serializes the inverted-file index, including the learned
// quantizer.
func (iv *IVF) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	encoder := gob.NewEncoder(&buf)

	if err := encoder.Encode(iv.dimension); err != nil {
		return nil, err
	}

	if err := encoder.Encode(iv.opts); err != nil {
		return nil, err
	}

	if err := encoder.Encode(iv.trained); err != nil {
		return nil, err
	}

	if err := encoder.Encode(iv.centroids); err != nil {
		return nil, err
	}

	if err := encoder.Encode(iv.lists); err != nil {
		return nil, err
	}

	if err := encoder.Encode(iv.nextID); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// GobDecode restores the inverted-file index and rebuilds the identifier
// set and distance function.
func (iv *IVF) GobDecode(data []byte) error {
	decoder := gob.NewDecoder(bytes.NewBuffer(data))

	if err := decoder.Decode(&iv.dimension); err != nil {
		return err
	}

	if err := decoder.Decode(&iv.opts); err != nil {
		return err
	}

	if err := decoder.Decode(&iv.trained); err != nil {
		return err
	}

	if err := decoder.Decode(&iv.centroids); err != nil {
		return err
	}

	if err := decoder.Decode(&iv.lists); err != nil {
		return err
	}

	if err := decoder.Decode(&iv.nextID); err != nil {
		return err
	}

	distFunc, err := distance.Provider(iv.opts.Metric)
	if err != nil {
		return err
	}
	iv.distFunc = distFunc

	iv.size = 0
	iv.byID = make(map[uint64]struct{})
	for _, list := range iv.lists {
		for _, e := range list {
			iv.byID[e.ID] = struct{}{}
			iv.size++
		}
	}

	return nil
}
