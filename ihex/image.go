package ihex

import (
	"errors"
	"fmt"
	"sort"
)

// ErrInvalidRecord is wrapped by every record-level parse error.
var ErrInvalidRecord = errors.New("invalid hex record")

// OverlapError reports an address written twice, within one file or by a merge.
type OverlapError struct {
	Address uint32
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("address 0x%08X written more than once", e.Address)
}

// StartSegment is the CS:IP pair of a Start Segment Address record.
type StartSegment struct {
	CS uint16
	IP uint16
}

// Image is a sparse memory image.
type Image struct {
	data map[uint32]byte

	// StartSegment is set by a type 03 record
	StartSegment *StartSegment

	// StartLinear is set by a type 05 record
	StartLinear *uint32
}

// New returns an empty image.
func New() *Image {
	return &Image{data: make(map[uint32]byte)}
}

// Len returns the number of bytes present in the image.
func (img *Image) Len() int {
	return len(img.data)
}

// At returns the byte at addr and whether it is present.
func (img *Image) At(addr uint32) (byte, bool) {
	b, ok := img.data[addr]
	return b, ok
}

// Set writes data starting at addr. Writing an address that is already
// present is an *OverlapError and leaves the image unchanged.
func (img *Image) Set(addr uint32, data []byte) error {
	for i := range data {
		a := addr + uint32(i)
		if a < addr {
			return fmt.Errorf("data at 0x%08X exceeds the 32-bit address space", addr)
		}
		if _, ok := img.data[a]; ok {
			return &OverlapError{Address: a}
		}
	}
	for i, b := range data {
		img.data[addr+uint32(i)] = b
	}
	return nil
}

// Bounds returns the lowest and highest present addresses.
// ok is false for an empty image.
func (img *Image) Bounds() (lo, hi uint32, ok bool) {
	if len(img.data) == 0 {
		return 0, 0, false
	}
	lo, hi = ^uint32(0), 0
	for a := range img.data {
		lo = min(lo, a)
		hi = max(hi, a)
	}
	return lo, hi, true
}

// Merge copies every byte of other into img. Overlapping addresses are an
// *OverlapError and leave img unchanged. Start addresses of other are
// taken over when img has none.
func (img *Image) Merge(other *Image) error {
	addrs := make([]uint32, 0, len(other.data))
	for a := range other.data {
		if _, ok := img.data[a]; ok {
			addrs = append(addrs, a)
		}
	}
	if len(addrs) > 0 {
		sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
		return &OverlapError{Address: addrs[0]}
	}

	for a, b := range other.data {
		img.data[a] = b
	}
	if img.StartSegment == nil {
		img.StartSegment = other.StartSegment
	}
	if img.StartLinear == nil {
		img.StartLinear = other.StartLinear
	}
	return nil
}

// Bytes returns the window [start, end] (end inclusive) as a flat binary,
// with absent bytes set to pad.
//
// Example:
//
//	bl, err := img.Bytes(0x2000, 0x9FFF, 0x00) // 32768 bytes
func (img *Image) Bytes(start, end uint32, pad byte) ([]byte, error) {
	if end < start {
		return nil, fmt.Errorf("window end 0x%08X is before start 0x%08X", end, start)
	}

	out := make([]byte, int64(end)-int64(start)+1)
	if pad != 0 {
		for i := range out {
			out[i] = pad
		}
	}
	for a, b := range img.data {
		if a >= start && a <= end {
			out[a-start] = b
		}
	}
	return out, nil
}
