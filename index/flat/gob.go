package flat

import (
	"bytes"
	"encoding/gob"

	"github.com/vecdex/vecdex/distance"
)

// Compile time checks to ensure Flat satisfies the gob interfaces.
var (
	_ gob.GobEncoder = (*Flat)(nil)
	_ gob.GobDecoder = (*Flat)(nil)
)

// GobEncode serializes the flat index.
func (f *Flat) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	encoder := gob.NewEncoder(&buf)

	if err := encoder.Encode(f.dimension); err != nil {
		return nil, err
	}

	if err := encoder.Encode(f.opts); err != nil {
		return nil, err
	}

	if err := encoder.Encode(f.ids); err != nil {
		return nil, err
	}

	if err := encoder.Encode(f.vectors); err != nil {
		return nil, err
	}

	if err := encoder.Encode(f.nextID); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// GobDecode restores the flat index, rebuilding the identifier lookup and
// distance function from the serialized state.
func (f *Flat) GobDecode(data []byte) error {
	decoder := gob.NewDecoder(bytes.NewBuffer(data))

	if err := decoder.Decode(&f.dimension); err != nil {
		return err
	}

	if err := decoder.Decode(&f.opts); err != nil {
		return err
	}

	if err := decoder.Decode(&f.ids); err != nil {
		return err
	}

	if err := decoder.Decode(&f.vectors); err != nil {
		return err
	}

	if err := decoder.Decode(&f.nextID); err != nil {
		return err
	}

	distFunc, err := distance.Provider(f.opts.Metric)
	if err != nil {
		return err
	}
	f.distFunc = distFunc

	f.byID = make(map[uint64]uint32, len(f.ids))
	for pos, id := range f.ids {
		f.byID[id] = uint32(pos)
	}

	return nil
}
