package ihex

import (
	"bufio"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// Record types.
const (
	RecordData                   = 0x00
	RecordEOF                    = 0x01
	RecordExtendedSegmentAddress = 0x02
	RecordStartSegmentAddress    = 0x03
	RecordExtendedLinearAddress  = 0x04
	RecordStartLinearAddress     = 0x05
)

// MinimumRecordLength is the shortest record in hex characters after the
// colon: length(2) + offset(4) + type(2) + checksum(2).
const MinimumRecordLength = 10

// Parse parses an Intel HEX file from the given file path.
//
// Example:
//
//	img, err := ihex.Parse("bootloader.hex")
//	if err != nil {
//	    log.Fatal(err)
//	}
func Parse(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	img, err := ParseReader(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// ParseReader parses Intel HEX records from any io.Reader. Parsing stops at
// the End Of File record; a missing one is accepted.
//
// Example:
//
//	img, err := ihex.ParseReader(strings.NewReader(":0400000001020304F2\n:00000001FF\n"))
func ParseReader(r io.Reader) (*Image, error) {
	img := New()
	scanner := bufio.NewScanner(r)

	var base uint32
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines
		if line == "" {
			continue
		}

		rec, err := parseRecord(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}

		switch rec.kind {
		case RecordData:
			if err := img.Set(base+uint32(rec.offset), rec.data); err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNum, err)
			}
		case RecordEOF:
			return img, nil
		case RecordExtendedSegmentAddress:
			base = uint32(binary.BigEndian.Uint16(rec.data)) << 4
		case RecordExtendedLinearAddress:
			base = uint32(binary.BigEndian.Uint16(rec.data)) << 16
		case RecordStartSegmentAddress:
			img.StartSegment = &StartSegment{
				CS: binary.BigEndian.Uint16(rec.data[0:2]),
				IP: binary.BigEndian.Uint16(rec.data[2:4]),
			}
		case RecordStartLinearAddress:
			eip := binary.BigEndian.Uint32(rec.data)
			img.StartLinear = &eip
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return img, nil
}

type record struct {
	kind   byte
	offset uint16
	data   []byte
}

// parseRecord decodes and checks one record line.
//
// Record format:
//
//	:[LL][AAAA][TT][DD...][CC]
func parseRecord(line string) (*record, error) {
	if line[0] != ':' {
		return nil, fmt.Errorf("%w: record must start with ':'", ErrInvalidRecord)
	}
	line = line[1:]

	if len(line) < MinimumRecordLength {
		return nil, fmt.Errorf("%w: record too short: got %d characters, minimum is %d",
			ErrInvalidRecord, len(line), MinimumRecordLength)
	}

	raw, err := hex.DecodeString(line)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid hex data: %v", ErrInvalidRecord, err)
	}

	dataLen := int(raw[0])
	if len(raw) != dataLen+5 {
		return nil, fmt.Errorf("%w: data length mismatch: got %d bytes, expected %d",
			ErrInvalidRecord, len(raw)-5, dataLen)
	}

	if sum := checksum(raw[:len(raw)-1]); sum != raw[len(raw)-1] {
		return nil, fmt.Errorf("%w: checksum mismatch: got 0x%02X, expected 0x%02X",
			ErrInvalidRecord, raw[len(raw)-1], sum)
	}

	rec := &record{
		kind:   raw[3],
		offset: binary.BigEndian.Uint16(raw[1:3]),
		data:   raw[4 : 4+dataLen],
	}

	want := -1
	switch rec.kind {
	case RecordData:
	case RecordEOF:
		want = 0
	case RecordExtendedSegmentAddress, RecordExtendedLinearAddress:
		want = 2
	case RecordStartSegmentAddress, RecordStartLinearAddress:
		want = 4
	default:
		return nil, fmt.Errorf("%w: unknown record type 0x%02X", ErrInvalidRecord, rec.kind)
	}
	if want >= 0 && dataLen != want {
		return nil, fmt.Errorf("%w: record type 0x%02X must carry %d bytes, got %d",
			ErrInvalidRecord, rec.kind, want, dataLen)
	}

	return rec, nil
}

// checksum returns the two's complement of the byte sum.
func checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return ^sum + 1
}
