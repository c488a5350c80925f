package fwimage

import (
	"encoding/binary"
	"fmt"
)

// Header is the lightweight inspection view of an update image: the 16 bytes
// that follow the magic number. All fields are big-endian on disk.
type Header struct {
	// DeviceID identifies the hardware revision the image targets
	DeviceID uint32

	// FirmwareVersion is the version of the firmware part of the firmware blob
	FirmwareVersion uint32

	// FileSystemVersion is the version of the filesystem part of the firmware blob
	FileSystemVersion uint32

	// BootloaderVersion is the version of the bootloader blob
	BootloaderVersion uint32
}

// Bytes returns the 16-byte wire form of the header.
func (h Header) Bytes() []byte {
	b := make([]byte, HeaderLen)
	binary.BigEndian.PutUint32(b[0:4], h.DeviceID)
	binary.BigEndian.PutUint32(b[4:8], h.FirmwareVersion)
	binary.BigEndian.PutUint32(b[8:12], h.FileSystemVersion)
	binary.BigEndian.PutUint32(b[12:16], h.BootloaderVersion)
	return b
}

// String implements fmt.Stringer.
func (h Header) String() string {
	return fmt.Sprintf("device=0x%X fw=0x%X fs=0x%X bl=0x%X",
		h.DeviceID, h.FirmwareVersion, h.FileSystemVersion, h.BootloaderVersion)
}

// ParseHeader decodes a 16-byte header.
func ParseHeader(b []byte) (Header, error) {
	if len(b) != HeaderLen {
		return Header{}, fmt.Errorf("%w: header is %d bytes, expected %d", ErrInvalidImage, len(b), HeaderLen)
	}
	return Header{
		DeviceID:          binary.BigEndian.Uint32(b[0:4]),
		FirmwareVersion:   binary.BigEndian.Uint32(b[4:8]),
		FileSystemVersion: binary.BigEndian.Uint32(b[8:12]),
		BootloaderVersion: binary.BigEndian.Uint32(b[12:16]),
	}, nil
}

// Signature is a raw ECDSA P-256 signature: r then s, each a 32-byte
// big-endian integer. The codec treats it as opaque bytes.
type Signature [SignatureLen]byte

// UpdateImage is a complete, decoded update container.
// Once encoded it is never mutated.
type UpdateImage struct {
	Header

	// FirmwareSignature covers FirmwareDomain(Header) || Firmware
	FirmwareSignature Signature

	// BootloaderSignature covers BootloaderDomain(Header) || Bootloader
	BootloaderSignature Signature

	// Firmware is the firmware + filesystem blob
	Firmware []byte

	// Bootloader is the bootloader blob
	Bootloader []byte
}

// Region identifies one of the two independently signed flash regions.
// The numeric values are the image-type tags of the signature domains.
type Region uint32

const (
	// RegionBootloader is the bootloader flash region
	RegionBootloader Region = 1

	// RegionFirmware is the firmware + filesystem flash region
	RegionFirmware Region = 2
)

func (r Region) String() string {
	switch r {
	case RegionBootloader:
		return "bootloader"
	case RegionFirmware:
		return "firmware"
	default:
		return fmt.Sprintf("region(%d)", uint32(r))
	}
}

// FirmwareDomain returns the signed prefix of the firmware region:
// imageType(2) || deviceID || firmwareVersion || fileSystemVersion || bootloaderVersion.
func FirmwareDomain(h Header) []byte {
	b := make([]byte, 4, 4+HeaderLen)
	binary.BigEndian.PutUint32(b, uint32(RegionFirmware))
	return append(b, h.Bytes()...)
}

// BootloaderDomain returns the signed prefix of the bootloader region:
// imageType(1) || deviceID || bootloaderVersion.
func BootloaderDomain(h Header) []byte {
	b := make([]byte, 12)
	binary.BigEndian.PutUint32(b[0:4], uint32(RegionBootloader))
	binary.BigEndian.PutUint32(b[4:8], h.DeviceID)
	binary.BigEndian.PutUint32(b[8:12], h.BootloaderVersion)
	return b
}
