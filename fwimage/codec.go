package fwimage

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
)

// Codec encodes and decodes update images for one flash layout.
//
// Codec is safe for concurrent use.
type Codec struct {
	layout Layout
}

// NewCodec creates a codec for the given layout.
//
// Example:
//
//	codec := fwimage.NewCodec(fwimage.DefaultLayout())
//	img, err := codec.Decode(f)
func NewCodec(layout Layout) *Codec {
	return &Codec{layout: layout}
}

// Layout returns the geometry the codec was built with.
func (c *Codec) Layout() Layout {
	return c.layout
}

// Encode writes the container in its fixed order: magic, header, firmware
// signature, bootloader signature, firmware blob, bootloader blob.
// Both blobs must match the layout sizes exactly; nothing is written otherwise.
func (c *Codec) Encode(w io.Writer, img *UpdateImage) error {
	if img == nil {
		return fmt.Errorf("image cannot be nil")
	}
	if err := c.checkBlobs(img); err != nil {
		return err
	}

	bw := bufio.NewWriter(w)
	parts := [][]byte{
		Magic[:],
		img.Header.Bytes(),
		img.FirmwareSignature[:],
		img.BootloaderSignature[:],
		img.Firmware,
		img.Bootloader,
	}
	for _, p := range parts {
		if _, err := bw.Write(p); err != nil {
			return fmt.Errorf("write image: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write image: %w", err)
	}
	return nil
}

// Marshal returns the encoded container.
func (c *Codec) Marshal(img *UpdateImage) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(c.layout.ImageSize())
	if err := c.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeHeader reads the magic number and the 16-byte header only.
// Signatures and blobs are not read, so this is cheap to call for
// "what does this file target" inspection.
func (c *Codec) DecodeHeader(r io.Reader) (Header, error) {
	if err := readMagic(r); err != nil {
		return Header{}, err
	}
	buf := make([]byte, HeaderLen)
	if err := readSection(r, buf, "header"); err != nil {
		return Header{}, err
	}
	return ParseHeader(buf)
}

// Decode reads a complete update image. It fails with ErrInvalidImage if the
// stream ends before the full required length. Bytes after the bootloader
// blob are not read.
func (c *Codec) Decode(r io.Reader) (*UpdateImage, error) {
	h, err := c.DecodeHeader(r)
	if err != nil {
		return nil, err
	}

	img := &UpdateImage{
		Header:     h,
		Firmware:   make([]byte, c.layout.FirmwareSize()),
		Bootloader: make([]byte, c.layout.BootloaderSize()),
	}

	if err := readSection(r, img.FirmwareSignature[:], "firmware signature"); err != nil {
		return nil, err
	}
	if err := readSection(r, img.BootloaderSignature[:], "bootloader signature"); err != nil {
		return nil, err
	}
	if err := readSection(r, img.Firmware, "firmware blob"); err != nil {
		return nil, err
	}
	if err := readSection(r, img.Bootloader, "bootloader blob"); err != nil {
		return nil, err
	}

	return img, nil
}

// Unmarshal decodes a complete update image from memory.
func (c *Codec) Unmarshal(data []byte) (*UpdateImage, error) {
	return c.Decode(bytes.NewReader(data))
}

func (c *Codec) checkBlobs(img *UpdateImage) error {
	if got, want := len(img.Firmware), c.layout.FirmwareSize(); got != want {
		return &BlobSizeError{Region: RegionFirmware, Got: got, Want: want}
	}
	if got, want := len(img.Bootloader), c.layout.BootloaderSize(); got != want {
		return &BlobSizeError{Region: RegionBootloader, Got: got, Want: want}
	}
	return nil
}

func readMagic(r io.Reader) error {
	var magic [MagicLen]byte
	if err := readSection(r, magic[:], "magic"); err != nil {
		return err
	}
	if magic != Magic {
		return fmt.Errorf("%w: bad magic 0x%X", ErrInvalidImage, magic[:])
	}
	return nil
}

func readSection(r io.Reader, buf []byte, name string) error {
	if _, err := io.ReadFull(r, buf); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return fmt.Errorf("%w: truncated %s", ErrInvalidImage, name)
		}
		return fmt.Errorf("read %s: %w", name, err)
	}
	return nil
}

var defaultCodec = NewCodec(DefaultLayout())

// Decode reads a complete update image using the default layout.
func Decode(r io.Reader) (*UpdateImage, error) {
	return defaultCodec.Decode(r)
}

// DecodeHeader reads the header of an update image.
func DecodeHeader(r io.Reader) (Header, error) {
	return defaultCodec.DecodeHeader(r)
}

// Encode writes an update image using the default layout.
func Encode(w io.Writer, img *UpdateImage) error {
	return defaultCodec.Encode(w, img)
}

// ReadFile decodes the update image stored at path.
//
// Example:
//
//	img, err := fwimage.ReadFile("secalot-update.bin", fwimage.DefaultLayout())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(img.Header)
func ReadFile(path string, layout Layout) (*UpdateImage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return NewCodec(layout).Decode(bufio.NewReader(f))
}

// ReadHeaderFile decodes only the header of the update image stored at path.
func ReadHeaderFile(path string) (Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return DecodeHeader(f)
}

// WriteFile encodes img and writes it to path.
func WriteFile(path string, layout Layout, img *UpdateImage) error {
	data, err := NewCodec(layout).Marshal(img)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}
