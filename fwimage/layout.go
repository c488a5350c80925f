package fwimage

import "fmt"

// Container format constants.
const (
	// HeaderLen is the size of the image header (deviceID + 3 versions)
	HeaderLen = 16

	// SignatureLen is the size of a raw (r, s) ECDSA P-256 signature
	SignatureLen = 64

	// MagicLen is the size of the leading magic number
	MagicLen = 4
)

// Magic identifies an update image file ("BLOB").
var Magic = [MagicLen]byte{0x42, 0x4C, 0x4F, 0x42}

// Default flash geometry of the Secalot token.
const (
	// DefaultChunkLen is the size of one load-chunk payload
	DefaultChunkLen = 128

	// DefaultFirmwareChunks covers the firmware + filesystem window
	DefaultFirmwareChunks = 1664

	// DefaultBootloaderChunks covers the bootloader window
	DefaultBootloaderChunks = 256

	// DefaultBootloaderStart is the first bootloader flash address
	DefaultBootloaderStart = 0x00002000

	// DefaultBootloaderEnd is the last bootloader flash address (inclusive)
	DefaultBootloaderEnd = 0x00009FFF

	// DefaultFirmwareStart is the first firmware flash address
	DefaultFirmwareStart = 0x0000C000

	// DefaultFirmwareEnd is the last firmware flash address (inclusive).
	// The filesystem occupies the tail of this window.
	DefaultFirmwareEnd = 0x0003FFFF

	// DefaultFileSystemStart is the first filesystem flash address
	DefaultFileSystemStart = 0x00038000
)

// Layout describes the flash geometry an update image is built for.
// The codec and the frame builder only use the byte counts; the address
// windows are consumed by the hex loader when an image is assembled.
type Layout struct {
	// ChunkLen is the number of bytes carried by one load-chunk frame
	ChunkLen int `yaml:"chunkLength"`

	// FirmwareChunks is the number of chunks in the firmware blob
	FirmwareChunks int `yaml:"firmwareChunks"`

	// BootloaderChunks is the number of chunks in the bootloader blob
	BootloaderChunks int `yaml:"bootloaderChunks"`

	// BootloaderStart and BootloaderEnd bound the bootloader window (inclusive)
	BootloaderStart uint32 `yaml:"bootloaderStart"`
	BootloaderEnd   uint32 `yaml:"bootloaderEnd"`

	// FirmwareStart and FirmwareEnd bound the firmware + filesystem window (inclusive)
	FirmwareStart uint32 `yaml:"firmwareStart"`
	FirmwareEnd   uint32 `yaml:"firmwareEnd"`
}

// DefaultLayout returns the geometry of the production token.
func DefaultLayout() Layout {
	return Layout{
		ChunkLen:         DefaultChunkLen,
		FirmwareChunks:   DefaultFirmwareChunks,
		BootloaderChunks: DefaultBootloaderChunks,
		BootloaderStart:  DefaultBootloaderStart,
		BootloaderEnd:    DefaultBootloaderEnd,
		FirmwareStart:    DefaultFirmwareStart,
		FirmwareEnd:      DefaultFirmwareEnd,
	}
}

// FirmwareSize returns the exact firmware blob length in bytes.
func (l Layout) FirmwareSize() int {
	return l.ChunkLen * l.FirmwareChunks
}

// BootloaderSize returns the exact bootloader blob length in bytes.
func (l Layout) BootloaderSize() int {
	return l.ChunkLen * l.BootloaderChunks
}

// ImageSize returns the total container length in bytes.
func (l Layout) ImageSize() int {
	return MagicLen + HeaderLen + 2*SignatureLen + l.FirmwareSize() + l.BootloaderSize()
}

// Validate checks that the layout is self-consistent: chunk sizes must fit in
// a short APDU and each address window must match its blob size exactly.
func (l Layout) Validate() error {
	if l.ChunkLen <= 0 || l.ChunkLen > 255 {
		return fmt.Errorf("chunk length %d out of range 1-255", l.ChunkLen)
	}
	if l.FirmwareChunks <= 0 {
		return fmt.Errorf("firmware chunk count must be positive, got %d", l.FirmwareChunks)
	}
	if l.BootloaderChunks <= 0 {
		return fmt.Errorf("bootloader chunk count must be positive, got %d", l.BootloaderChunks)
	}
	if err := checkWindow("bootloader", l.BootloaderStart, l.BootloaderEnd, l.BootloaderSize()); err != nil {
		return err
	}
	if err := checkWindow("firmware", l.FirmwareStart, l.FirmwareEnd, l.FirmwareSize()); err != nil {
		return err
	}
	if l.BootloaderStart <= l.FirmwareEnd && l.FirmwareStart <= l.BootloaderEnd {
		return fmt.Errorf("bootloader window 0x%08X-0x%08X overlaps firmware window 0x%08X-0x%08X",
			l.BootloaderStart, l.BootloaderEnd, l.FirmwareStart, l.FirmwareEnd)
	}
	return nil
}

func checkWindow(name string, start, end uint32, size int) error {
	if end < start {
		return fmt.Errorf("%s window end 0x%08X is before start 0x%08X", name, end, start)
	}
	if got := int64(end) - int64(start) + 1; got != int64(size) {
		return fmt.Errorf("%s window 0x%08X-0x%08X spans %d bytes, blob is %d bytes",
			name, start, end, got, size)
	}
	return nil
}
