// Package builder assembles signed update images from Intel HEX sources.
//
// The bootloader hex is cut to the bootloader window of the layout. The
// firmware and filesystem hex files are merged (they must not write the same
// address) and cut to the firmware window. Gaps are padded with 0x00 and
// data outside the windows is dropped.
package builder

import (
	"fmt"

	"github.com/moffa90/go-secalot/fwimage"
	"github.com/moffa90/go-secalot/ihex"
)

// Padding fills addresses no hex record writes.
const Padding = 0x00

// Sources are the parsed hex images an update is built from.
type Sources struct {
	Bootloader *ihex.Image
	Firmware   *ihex.Image
	FileSystem *ihex.Image
}

// Blobs cuts the flash windows of layout out of src.
func Blobs(layout fwimage.Layout, src Sources) (firmware, bootloader []byte, err error) {
	if err := layout.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid layout: %w", err)
	}
	if src.Bootloader == nil || src.Firmware == nil || src.FileSystem == nil {
		return nil, nil, fmt.Errorf("bootloader, firmware and filesystem images are all required")
	}

	bootloader, err = src.Bootloader.Bytes(layout.BootloaderStart, layout.BootloaderEnd, Padding)
	if err != nil {
		return nil, nil, fmt.Errorf("bootloader window: %w", err)
	}

	merged := ihex.New()
	if err := merged.Merge(src.Firmware); err != nil {
		return nil, nil, fmt.Errorf("firmware image: %w", err)
	}
	if err := merged.Merge(src.FileSystem); err != nil {
		return nil, nil, fmt.Errorf("merge filesystem into firmware: %w", err)
	}

	firmware, err = merged.Bytes(layout.FirmwareStart, layout.FirmwareEnd, Padding)
	if err != nil {
		return nil, nil, fmt.Errorf("firmware window: %w", err)
	}
	return firmware, bootloader, nil
}

// Build assembles and signs an update image.
//
// Example:
//
//	img, err := builder.Build(header, fwimage.DefaultLayout(), signer, builder.Sources{
//	    Bootloader: bl, Firmware: fw, FileSystem: fs,
//	})
//	err = fwimage.WriteFile("update.blob", fwimage.DefaultLayout(), img)
func Build(h fwimage.Header, layout fwimage.Layout, signer *fwimage.Signer, src Sources) (*fwimage.UpdateImage, error) {
	if signer == nil {
		return nil, fmt.Errorf("signer cannot be nil")
	}

	firmware, bootloader, err := Blobs(layout, src)
	if err != nil {
		return nil, err
	}

	img := &fwimage.UpdateImage{
		Header:     h,
		Firmware:   firmware,
		Bootloader: bootloader,
	}
	if err := signer.SignImage(img); err != nil {
		return nil, fmt.Errorf("sign image: %w", err)
	}
	return img, nil
}

// BuildFiles parses the three hex files and builds the image.
func BuildFiles(h fwimage.Header, layout fwimage.Layout, signer *fwimage.Signer, blPath, fwPath, fsPath string) (*fwimage.UpdateImage, error) {
	var src Sources
	for _, f := range []struct {
		path string
		dst  **ihex.Image
	}{
		{blPath, &src.Bootloader},
		{fwPath, &src.Firmware},
		{fsPath, &src.FileSystem},
	} {
		img, err := ihex.Parse(f.path)
		if err != nil {
			return nil, err
		}
		*f.dst = img
	}
	return Build(h, layout, signer, src)
}
