package protocol

import (
	"encoding/binary"
	"fmt"
)

// ParseResponse splits a response APDU into its data and status word.
//
// Response structure:
//
//	[DATA...][SW1][SW2]
func ParseResponse(raw []byte) (statusWord uint16, data []byte, err error) {
	if len(raw) < StatusWordSize {
		return 0, nil, fmt.Errorf("%w: response too short: got %d bytes, minimum is %d",
			ErrInvalidResponse, len(raw), StatusWordSize)
	}

	n := len(raw) - StatusWordSize
	statusWord = binary.BigEndian.Uint16(raw[n:])
	if n > 0 {
		data = raw[:n]
	}
	return statusWord, data, nil
}

// CheckResponse parses raw and returns its data if the status word is
// StatusSuccess, or a *ProtocolError naming operation otherwise.
func CheckResponse(operation string, raw []byte) ([]byte, error) {
	sw, data, err := ParseResponse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", operation, err)
	}
	if sw != StatusSuccess {
		return nil, &ProtocolError{Operation: operation, StatusWord: sw}
	}
	return data, nil
}

// ParseDeviceInfo parses the Get Device Info response data.
//
// Data format (DeviceInfoSize bytes, big-endian):
//
//	[DEVICE_ID(4)][SERIAL(4)][FW_VER(4)][FS_VER(4)][BL_VER(4)][FS_UPDATE(1)][FW_BOOTABLE(1)][BL_BOOTABLE(1)]
//
// Any non-zero flag byte reads as true.
func ParseDeviceInfo(data []byte) (*DeviceInfo, error) {
	if len(data) != DeviceInfoSize {
		return nil, fmt.Errorf("%w: invalid data length for Get Device Info response: got %d bytes, expected %d",
			ErrInvalidResponse, len(data), DeviceInfoSize)
	}

	return &DeviceInfo{
		DeviceID:                   binary.BigEndian.Uint32(data[0:4]),
		SerialNumber:               binary.BigEndian.Uint32(data[4:8]),
		FirmwareVersion:            binary.BigEndian.Uint32(data[8:12]),
		FileSystemVersion:          binary.BigEndian.Uint32(data[12:16]),
		BootloaderVersion:          binary.BigEndian.Uint32(data[16:20]),
		FileSystemUpdateInProgress: data[20] != 0,
		FirmwareIsBootable:         data[21] != 0,
		BootloaderIsBootable:       data[22] != 0,
	}, nil
}

// EncodeDeviceInfo is the inverse of ParseDeviceInfo. Devices and test
// doubles use it to build responses.
func EncodeDeviceInfo(d *DeviceInfo) []byte {
	b := make([]byte, DeviceInfoSize)
	binary.BigEndian.PutUint32(b[0:4], d.DeviceID)
	binary.BigEndian.PutUint32(b[4:8], d.SerialNumber)
	binary.BigEndian.PutUint32(b[8:12], d.FirmwareVersion)
	binary.BigEndian.PutUint32(b[12:16], d.FileSystemVersion)
	binary.BigEndian.PutUint32(b[16:20], d.BootloaderVersion)
	b[20] = boolByte(d.FileSystemUpdateInProgress)
	b[21] = boolByte(d.FirmwareIsBootable)
	b[22] = boolByte(d.BootloaderIsBootable)
	return b
}

// StatusResponse builds a data-less response carrying sw.
func StatusResponse(sw uint16) []byte {
	return binary.BigEndian.AppendUint16(nil, sw)
}

// DataResponse builds a response carrying data followed by sw.
func DataResponse(data []byte, sw uint16) []byte {
	out := make([]byte, 0, len(data)+StatusWordSize)
	out = append(out, data...)
	return binary.BigEndian.AppendUint16(out, sw)
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}
