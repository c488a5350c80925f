package protocol

import "fmt"

// DeviceInfo is the live state of a token, returned by Get Device Info.
// It is never persisted.
type DeviceInfo struct {
	// DeviceID is the hardware revision identifier
	DeviceID uint32

	// SerialNumber is the per-device serial number
	SerialNumber uint32

	// FirmwareVersion is the version of the installed firmware
	FirmwareVersion uint32

	// FileSystemVersion is the version of the installed filesystem
	FileSystemVersion uint32

	// BootloaderVersion is the version of the installed bootloader
	BootloaderVersion uint32

	// FileSystemUpdateInProgress is set while a filesystem rewrite has not
	// been committed; an interrupted clean update leaves it set
	FileSystemUpdateInProgress bool

	// FirmwareIsBootable is cleared when the firmware region needs to be
	// (re)written before the device can start it
	FirmwareIsBootable bool

	// BootloaderIsBootable is cleared when a bootloader write was interrupted
	BootloaderIsBootable bool
}

// String implements fmt.Stringer.
func (d DeviceInfo) String() string {
	return fmt.Sprintf("device=0x%X serial=%08x fw=0x%X fs=0x%X bl=0x%X fsUpdate=%t fwBootable=%t blBootable=%t",
		d.DeviceID, d.SerialNumber, d.FirmwareVersion, d.FileSystemVersion, d.BootloaderVersion,
		d.FileSystemUpdateInProgress, d.FirmwareIsBootable, d.BootloaderIsBootable)
}
