// Package ihex parses Intel HEX files into sparse memory images.
//
// # File Format
//
// Each record is one line:
//
//	:[LL][AAAA][TT][DD...][CC]
//
// where LL is the data length, AAAA the 16-bit offset, TT the record type
// and CC the two's complement of the sum of all other bytes. Supported
// record types:
//
//	00 Data
//	01 End Of File
//	02 Extended Segment Address (base = value << 4)
//	03 Start Segment Address (CS:IP)
//	04 Extended Linear Address (base = value << 16)
//	05 Start Linear Address (EIP)
//
// # Usage
//
//	fw, err := ihex.Parse("firmware.hex")
//	fs, err := ihex.Parse("filesystem.hex")
//	if err := fw.Merge(fs); err != nil {
//	    // the two images write the same address
//	}
//	blob, err := fw.Bytes(0xC000, 0x3FFFF, 0x00)
//
// Bytes cuts an inclusive address window out of the image, filling gaps
// with a padding byte and ignoring data outside the window.
package ihex
