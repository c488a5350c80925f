package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/moffa90/go-secalot/fwimage"
)

// FrameSet holds the ordered command sequences for both flash regions of one
// update image. Frames must be sent in order and never interleaved: each one
// is an atomic flash-write step that assumes its predecessors succeeded.
type FrameSet struct {
	// Firmware is Set Image Info, FirmwareChunks x Load Chunk, Commit.
	// Only the bootloader can execute it.
	Firmware []Command

	// Bootloader is Set Image Info, BootloaderChunks x Load Chunk, Commit.
	// Only the firmware can execute it.
	Bootloader []Command
}

// BuildFrames turns a decoded image into its command frames.
//
// The firmware Set Image Info carries the full 16-byte header and the
// firmware signature; its Commit sets CommitCleanFileSystem when
// cleanFileSystem is requested. The bootloader Set Image Info carries
// deviceID || bootloaderVersion and the bootloader signature; its Commit
// never cleans the filesystem.
//
// Example:
//
//	frames, err := protocol.BuildFrames(img, fwimage.DefaultLayout(), false)
//	fmt.Println(len(frames.Firmware), len(frames.Bootloader)) // 1666 258
func BuildFrames(img *fwimage.UpdateImage, layout fwimage.Layout, cleanFileSystem bool) (*FrameSet, error) {
	if img == nil {
		return nil, fmt.Errorf("image cannot be nil")
	}
	if layout.ChunkLen <= 0 || layout.ChunkLen > MaxDataSize {
		return nil, fmt.Errorf("chunk length %d out of range 1-%d", layout.ChunkLen, MaxDataSize)
	}
	if got, want := len(img.Firmware), layout.FirmwareSize(); got != want {
		return nil, &fwimage.BlobSizeError{Region: fwimage.RegionFirmware, Got: got, Want: want}
	}
	if got, want := len(img.Bootloader), layout.BootloaderSize(); got != want {
		return nil, &fwimage.BlobSizeError{Region: fwimage.RegionBootloader, Got: got, Want: want}
	}

	fw, err := buildRegion(img.Header.Bytes(), img.FirmwareSignature[:], img.Firmware, layout.ChunkLen, cleanFileSystem)
	if err != nil {
		return nil, fmt.Errorf("firmware frames: %w", err)
	}

	blInfo := make([]byte, BootloaderImageInfoPrefix)
	binary.BigEndian.PutUint32(blInfo[0:4], img.DeviceID)
	binary.BigEndian.PutUint32(blInfo[4:8], img.BootloaderVersion)

	bl, err := buildRegion(blInfo, img.BootloaderSignature[:], img.Bootloader, layout.ChunkLen, false)
	if err != nil {
		return nil, fmt.Errorf("bootloader frames: %w", err)
	}

	return &FrameSet{Firmware: fw, Bootloader: bl}, nil
}

// buildRegion produces Set Image Info, one Load Chunk per chunkLen bytes of
// blob, then Commit.
func buildRegion(info, signature, blob []byte, chunkLen int, clean bool) ([]Command, error) {
	chunks := len(blob) / chunkLen
	frames := make([]Command, 0, chunks+2)

	setInfo, err := BuildSetImageInfoCmd(info, signature)
	if err != nil {
		return nil, err
	}
	frames = append(frames, setInfo)

	for i := 0; i < chunks; i++ {
		cmd, err := BuildLoadChunkCmd(blob[i*chunkLen : (i+1)*chunkLen])
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", i, err)
		}
		frames = append(frames, cmd)
	}

	frames = append(frames, mustBuild(BuildCommitCmd(clean)))
	return frames, nil
}
