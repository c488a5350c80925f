// Package fwimage encodes, decodes and signs Secalot update images.
//
// # Container Format
//
// An update image is a flat binary file with a fixed layout:
//
//	[MAGIC(4)][HEADER(16)][FW_SIG(64)][BL_SIG(64)][FIRMWARE(N)][BOOTLOADER(M)]
//
// Where:
//   - MAGIC = "BLOB" (0x424C4F42)
//   - HEADER = deviceID, firmwareVersion, fileSystemVersion, bootloaderVersion (4 x uint32, big-endian)
//   - FW_SIG, BL_SIG = raw ECDSA P-256 signatures, r || s, 32 bytes each
//   - N = ChunkLen x FirmwareChunks (212992 bytes by default)
//   - M = ChunkLen x BootloaderChunks (32768 bytes by default)
//
// Sizes come from a Layout value, so a different memory map is a
// configuration change.
//
// # Signatures
//
// Each region is signed independently over a domain-separated prefix
// followed by the blob:
//
//	firmware:   uint32(2) || deviceID || fwVer || fsVer || blVer || FIRMWARE
//	bootloader: uint32(1) || deviceID || blVer || BOOTLOADER
//
// The codec never checks signature content; the device does.
//
// # Usage
//
//	codec := fwimage.NewCodec(fwimage.DefaultLayout())
//
//	signer, err := fwimage.NewSigner(scalar)
//	img := &fwimage.UpdateImage{Header: hdr, Firmware: fw, Bootloader: bl}
//	if err := signer.SignImage(img); err != nil {
//	    log.Fatal(err)
//	}
//	data, err := codec.Marshal(img)
//
// Inspect the target of a file without reading the blobs:
//
//	hdr, err := fwimage.ReadHeaderFile("update.bin")
package fwimage
