// Package accel mirrors a CPU-resident index onto a SIMD accelerator: the
// vectors are copied into a contiguous device buffer and searches run batch
// kernels over it. Mirroring is best effort — when the device is missing or
// the index kind has no accelerated implementation, callers fall back to the
// CPU backend.
//
// Only the flat index mirrors; graph traversal and cluster probing do not
// batch well enough to benefit. Serialized state is always the portable CPU
// form, never the device layout.
package accel

import (
	"errors"

	"golang.org/x/sys/cpu"

	"github.com/vecdex/vecdex/distance"
	"github.com/vecdex/vecdex/index"
	"github.com/vecdex/vecdex/index/flat"
)

var (
	// ErrUnavailable is returned when no accelerator device is present.
	ErrUnavailable = errors.New("accelerator unavailable")

	// ErrUnsupportedIndex is returned when the index kind has no
	// accelerator implementation.
	ErrUnsupportedIndex = errors.New("index kind not supported on accelerator")

	// ErrUnsupportedMetric is returned when the configured metric has no
	// accelerated kernel.
	ErrUnsupportedMetric = errors.New("metric not supported on accelerator")
)

// Device describes an accelerator the adapter can target.
type Device interface {
	// Name identifies the device in logs.
	Name() string

	// Available reports whether the device can be used on this host.
	Available() bool
}

// simdDevice targets the host CPU's wide vector units.
type simdDevice struct{}

func (simdDevice) Name() string { return "simd" }

func (simdDevice) Available() bool {
	return cpu.X86.HasAVX2 || cpu.ARM64.HasASIMD
}

// DefaultDevice returns the SIMD device for the host CPU.
func DefaultDevice() Device {
	return simdDevice{}
}

// Mirror copies a CPU backend onto the device and returns the
// accelerator-resident equivalent. On success the caller must drop its
// reference to the CPU backend: the adapter owns the only live copy.
func Mirror(device Device, backend index.Backend) (*Adapter, error) {
	if device == nil {
		device = DefaultDevice()
	}
	if !device.Available() {
		return nil, ErrUnavailable
	}

	f, ok := backend.(*flat.Flat)
	if !ok {
		return nil, ErrUnsupportedIndex
	}
	if f.Metric() != distance.MetricL2 {
		return nil, ErrUnsupportedMetric
	}

	a := &Adapter{
		device:    device,
		dimension: f.Dimension(),
		byID:      make(map[uint64]uint32),
	}

	for _, id := range f.IDs() {
		v, ok := f.Vector(id)
		if !ok {
			continue
		}
		a.append(id, v)
	}
	a.nextID = uint64(a.Size())

	return a, nil
}
