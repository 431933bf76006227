package persistence

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"

	"github.com/vecdex/vecdex/index"
	"github.com/vecdex/vecdex/index/flat"
	"github.com/vecdex/vecdex/index/hnsw"
	"github.com/vecdex/vecdex/index/ivf"
)

// Encode writes the backend to w in the vecdex file format.
func Encode(w io.Writer, backend index.Backend, compression Compression) error {
	if !compression.Valid() {
		return fmt.Errorf("unknown compression codec: %d", compression)
	}

	payload, err := backend.GobEncode()
	if err != nil {
		return fmt.Errorf("encode backend: %w", err)
	}

	compressed, err := compress(payload, compression)
	if err != nil {
		return fmt.Errorf("compress payload: %w", err)
	}

	header := FileHeader{
		Magic:       MagicNumber,
		Version:     Version,
		Kind:        uint8(backend.Kind()),
		Compression: uint8(compression),
		Dimension:   uint32(backend.Dimension()),
		VectorCount: uint64(backend.Size()),
		PayloadLen:  uint64(len(compressed)),
		Checksum:    crc32.ChecksumIEEE(compressed),
	}

	if err := binary.Write(w, binary.LittleEndian, &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := w.Write(compressed); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}

	return nil
}

// Decode reads a backend from r, validating the header and payload
// checksum and reconstructing the backend named by the algorithm tag.
func Decode(r io.Reader) (index.Backend, error) {
	var header FileHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	if header.Magic != MagicNumber {
		return nil, ErrInvalidMagic
	}
	if header.Version != Version {
		return nil, ErrUnsupportedVersion
	}

	compressed := make([]byte, header.PayloadLen)
	if _, err := io.ReadFull(r, compressed); err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}

	if actual := crc32.ChecksumIEEE(compressed); actual != header.Checksum {
		return nil, &ErrChecksumMismatch{Expected: header.Checksum, Actual: actual}
	}

	payload, err := decompress(compressed, Compression(header.Compression))
	if err != nil {
		return nil, fmt.Errorf("decompress payload: %w", err)
	}

	var backend index.Backend
	switch index.Kind(header.Kind) {
	case index.KindFlat:
		backend = flat.Empty()
	case index.KindHNSW:
		backend = hnsw.Empty()
	case index.KindIVF:
		backend = ivf.Empty()
	default:
		return nil, ErrInvalidKind
	}

	if err := backend.GobDecode(payload); err != nil {
		return nil, fmt.Errorf("decode backend: %w", err)
	}

	if backend.Dimension() != int(header.Dimension) || backend.Size() != int(header.VectorCount) {
		return nil, ErrCorruptPayload
	}

	return backend, nil
}

// Save writes the backend to a file at path. The write is atomic from a
// concurrent reader's perspective: the payload goes to a temporary file in
// the same directory which is fsynced and renamed over the target, so the
// path always holds either the previous file or the complete new one.
func Save(path string, backend index.Backend, compression Compression) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	// Best effort cleanup on any failure path.
	defer func() {
		if tmpPath != "" {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := Encode(tmp, backend, compression); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	tmpPath = ""

	return nil
}

// Load reads a backend from the file at path.
func Load(path string) (index.Backend, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()

	return Decode(f)
}

// EncodeToBytes serializes the backend into a byte slice, the form used for
// blob-store snapshots.
func EncodeToBytes(backend index.Backend, compression Compression) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, backend, compression); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeFromBytes reconstructs a backend from a serialized byte slice.
func DecodeFromBytes(data []byte) (index.Backend, error) {
	return Decode(bytes.NewReader(data))
}
