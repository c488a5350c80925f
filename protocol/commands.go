package protocol

import (
	"fmt"
)

// Command is one complete command APDU:
//
//	[CLA][INS][P1][P2] or [CLA][INS][P1][P2][Lc][DATA...]
//
// Commands are built once and never modified afterwards.
type Command []byte

// Ins returns the instruction byte.
func (c Command) Ins() byte {
	if len(c) < HeaderSize {
		return 0
	}
	return c[1]
}

// Data returns the command payload, or nil for header-only commands.
func (c Command) Data() []byte {
	if len(c) <= HeaderSize {
		return nil
	}
	return c[HeaderSize+1:]
}

// buildCommand assembles an APDU. The Lc byte is only present when data is
// non-empty.
func buildCommand(cla, ins, p1, p2 byte, data []byte) (Command, error) {
	if len(data) > MaxDataSize {
		return nil, fmt.Errorf("data length %d exceeds maximum %d bytes", len(data), MaxDataSize)
	}

	if len(data) == 0 {
		return Command{cla, ins, p1, p2}, nil
	}

	cmd := make(Command, 0, HeaderSize+1+len(data))
	cmd = append(cmd, cla, ins, p1, p2, byte(len(data)))
	cmd = append(cmd, data...)
	return cmd, nil
}

// BuildSelectControlAppletCmd constructs the SELECT of the update control
// applet. Required before any other command while the device runs its firmware.
//
// Frame structure:
//
//	[00][A4][04][00][0A][BLDRAPPLET]
func BuildSelectControlAppletCmd() (Command, error) {
	return buildCommand(ClaISO, InsSelect, SelectByName, 0x00, ControlAppletAID)
}

// BuildGetDeviceInfoCmd constructs a Get Device Info command.
//
// Frame structure:
//
//	[80][00][00][00]
func BuildGetDeviceInfoCmd() (Command, error) {
	return buildCommand(ClaProprietary, InsGetDeviceInfo, 0x00, 0x00, nil)
}

// BuildSwitchToFirmwareCmd constructs the mode switch sent to the bootloader.
//
// Frame structure:
//
//	[80][01][00][00]
func BuildSwitchToFirmwareCmd() (Command, error) {
	return buildCommand(ClaProprietary, InsSwitchToFirmware, 0x00, 0x00, nil)
}

// BuildSwitchToBootloaderCmd constructs the mode switch sent to the firmware
// (after selecting the control applet).
//
// Frame structure:
//
//	[80][05][00][00]
func BuildSwitchToBootloaderCmd() (Command, error) {
	return buildCommand(ClaProprietary, InsSwitchToBootloader, 0x00, 0x00, nil)
}

// BuildSetImageInfoCmd constructs a Set Image Info command carrying the
// region header followed by its signature.
//
// Frame structure:
//
//	[80][02][00][00][Lc][INFO...][SIGNATURE(64)]
func BuildSetImageInfoCmd(info []byte, signature []byte) (Command, error) {
	if len(info) == 0 {
		return nil, fmt.Errorf("image info cannot be empty")
	}
	if len(signature) == 0 {
		return nil, fmt.Errorf("signature cannot be empty")
	}

	data := make([]byte, 0, len(info)+len(signature))
	data = append(data, info...)
	data = append(data, signature...)
	return buildCommand(ClaProprietary, InsSetImageInfo, 0x00, 0x00, data)
}

// BuildLoadChunkCmd constructs a Load Chunk command. The device keeps its
// own chunk counter, so chunks must be sent in order.
//
// Frame structure:
//
//	[80][03][00][00][Lc][CHUNK...]
func BuildLoadChunkCmd(chunk []byte) (Command, error) {
	if len(chunk) == 0 {
		return nil, fmt.Errorf("chunk cannot be empty")
	}
	return buildCommand(ClaProprietary, InsLoadChunk, 0x00, 0x00, chunk)
}

// BuildCommitCmd constructs a Commit command. cleanFileSystem sets P2 to
// CommitCleanFileSystem.
//
// Frame structure:
//
//	[80][04][00][P2]
func BuildCommitCmd(cleanFileSystem bool) (Command, error) {
	p2 := byte(CommitKeepFileSystem)
	if cleanFileSystem {
		p2 = CommitCleanFileSystem
	}
	return buildCommand(ClaProprietary, InsCommit, 0x00, p2, nil)
}

// BuildEnableManufacturerBootloaderCmd constructs the command that re-enables
// the chip vendor bootloader. Only the firmware accepts it.
//
// Frame structure:
//
//	[80][80][00][00]
func BuildEnableManufacturerBootloaderCmd() (Command, error) {
	return buildCommand(ClaProprietary, InsEnableManufacturerBootloader, 0x00, 0x00, nil)
}

// mustBuild is used for header-only commands that cannot fail.
func mustBuild(cmd Command, err error) Command {
	if err != nil {
		panic(err)
	}
	return cmd
}
