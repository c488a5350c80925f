package updater

import "fmt"

// Mode is the program the token is currently running. The two modes guard
// each other's flash region: only the bootloader writes the firmware region
// and only the firmware writes the bootloader region.
type Mode int

const (
	// ModeBootloader: the bootloader is running and accepts firmware frames
	ModeBootloader Mode = iota + 1

	// ModeFirmware: the firmware is running and accepts bootloader frames
	// through the control applet
	ModeFirmware
)

// String implements fmt.Stringer.
func (m Mode) String() string {
	switch m {
	case ModeBootloader:
		return "bootloader"
	case ModeFirmware:
		return "firmware"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Other returns the mode a switch command leads to.
func (m Mode) Other() Mode {
	switch m {
	case ModeBootloader:
		return ModeFirmware
	case ModeFirmware:
		return ModeBootloader
	default:
		return m
	}
}

// Valid reports whether m is one of the two defined modes.
func (m Mode) Valid() bool {
	return m == ModeBootloader || m == ModeFirmware
}
