// Package persistence reads and writes the vecdex index file format: a
// fixed binary header carrying the algorithm tag, dimension and vector
// count, followed by a checksummed (and optionally compressed) payload with
// the backend state. The algorithm tag in the header — not type probing —
// decides which backend is reconstructed on load.
package persistence

import (
	"errors"
	"fmt"
)

const (
	// MagicNumber identifies vecdex index files (ASCII: "VDX1").
	MagicNumber = 0x56445831

	// Version is the current file format version (v1.0).
	Version = 0x00010000

	// headerSize is the fixed encoded size of FileHeader in bytes.
	headerSize = 40
)

var (
	// ErrInvalidMagic is returned when a file does not start with the vecdex
	// magic number.
	ErrInvalidMagic = errors.New("invalid magic number")

	// ErrUnsupportedVersion is returned for files written by an unknown
	// format version.
	ErrUnsupportedVersion = errors.New("unsupported format version")

	// ErrInvalidKind is returned when the header names an unknown algorithm.
	ErrInvalidKind = errors.New("invalid index kind")

	// ErrCorruptPayload is returned when the decoded backend does not match
	// the header it was stored under.
	ErrCorruptPayload = errors.New("corrupt index payload")
)

// ErrChecksumMismatch is returned when payload verification fails.
type ErrChecksumMismatch struct {
	Expected uint32
	Actual   uint32
}

func (e *ErrChecksumMismatch) Error() string {
	return fmt.Sprintf("checksum mismatch: expected 0x%08x, got 0x%08x", e.Expected, e.Actual)
}

// FileHeader is the fixed-size header at the start of every index file.
type FileHeader struct {
	Magic       uint32  // MagicNumber
	Version     uint32  // File format version
	Kind        uint8   // Algorithm tag (index.Kind)
	Compression uint8   // Payload compression codec
	Padding     [2]byte // Reserved, must be zero
	Dimension   uint32  // Vector dimensionality
	VectorCount uint64  // Total number of vectors
	PayloadLen  uint64  // Length of the (compressed) payload in bytes
	Checksum    uint32  // CRC32 (IEEE) of the payload bytes
	Reserved    [4]byte // Future use
}
