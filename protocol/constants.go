package protocol

// APDU header layout.
const (
	// HeaderSize is the size of a command header: CLA(1) + INS(1) + P1(1) + P2(1)
	HeaderSize = 4

	// MaxDataSize is the largest payload a short APDU can carry
	MaxDataSize = 255

	// StatusWordSize is the size of the trailing SW1 SW2 of every response
	StatusWordSize = 2
)

// Class bytes.
const (
	// ClaISO is the interindustry class used for SELECT
	ClaISO = 0x00

	// ClaProprietary is the class of all update commands
	ClaProprietary = 0x80
)

// Instruction codes. These match the token firmware opcode table and must
// stay stable.
const (
	// InsSelect selects an applet by AID
	InsSelect = 0xA4

	// InsGetDeviceInfo returns the 23-byte device info
	InsGetDeviceInfo = 0x00

	// InsSwitchToFirmware makes the bootloader start the firmware
	InsSwitchToFirmware = 0x01

	// InsSetImageInfo announces the header and signature of the image to load
	InsSetImageInfo = 0x02

	// InsLoadChunk writes the next ChunkLen bytes of the image
	InsLoadChunk = 0x03

	// InsCommit finalizes the loaded image
	InsCommit = 0x04

	// InsSwitchToBootloader makes the firmware restart into the bootloader
	InsSwitchToBootloader = 0x05

	// InsEnableManufacturerBootloader re-enables the chip vendor bootloader
	InsEnableManufacturerBootloader = 0x80
)

// Select parameters.
const (
	// SelectByName is P1 for selection by DF name (AID)
	SelectByName = 0x04
)

// Commit parameters (P2).
const (
	// CommitKeepFileSystem commits without touching the filesystem
	CommitKeepFileSystem = 0x00

	// CommitCleanFileSystem reinstantiates a clean filesystem on commit
	CommitCleanFileSystem = 0x01
)

// ControlAppletAID is the AID of the firmware applet that accepts update
// control commands ("BLDRAPPLET").
var ControlAppletAID = []byte{0x42, 0x4C, 0x44, 0x52, 0x41, 0x50, 0x50, 0x4C, 0x45, 0x54}

// Status words per ISO 7816-4.
const (
	// StatusSuccess indicates the command completed normally
	StatusSuccess = 0x9000

	// StatusWrongLength indicates Lc or the payload length is wrong
	StatusWrongLength = 0x6700

	// StatusSecurityNotSatisfied indicates a signature or key check failed
	StatusSecurityNotSatisfied = 0x6982

	// StatusConditionsNotSatisfied indicates the command is not allowed in the current state
	StatusConditionsNotSatisfied = 0x6985

	// StatusWrongData indicates the payload is invalid
	StatusWrongData = 0x6A80

	// StatusFileNotFound indicates the selected applet does not exist
	StatusFileNotFound = 0x6A82

	// StatusWrongP1P2 indicates invalid parameters
	StatusWrongP1P2 = 0x6B00

	// StatusInsNotSupported indicates an unknown instruction
	StatusInsNotSupported = 0x6D00

	// StatusClaNotSupported indicates an unknown class
	StatusClaNotSupported = 0x6E00

	// StatusUnknown indicates an unspecified device error
	StatusUnknown = 0x6F00
)

// Response data sizes.
const (
	// DeviceInfoSize is the data size of the Get Device Info response
	// 5 x uint32 + 3 x bool
	DeviceInfoSize = 23

	// BootloaderImageInfoPrefix is deviceID(4) + bootloaderVersion(4)
	BootloaderImageInfoPrefix = 8
)
