// Command prepare-update builds a signed Secalot update image from Intel HEX
// files.
package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/moffa90/go-secalot/builder"
	"github.com/moffa90/go-secalot/config"
	"github.com/moffa90/go-secalot/fwimage"
)

var version = "dev"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "prepare-update",
		Usage:   "prepare a Secalot firmware update file",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML configuration file with the flash layout"},
			&cli.StringFlag{Name: "dev-id", Aliases: []string{"devID"}, Usage: "device ID (hex)", Required: true},
			&cli.StringFlag{Name: "fw-ver", Aliases: []string{"fwVer"}, Usage: "firmware version (hex)", Required: true},
			&cli.StringFlag{Name: "fs-ver", Aliases: []string{"fsVer"}, Usage: "filesystem version (hex)", Required: true},
			&cli.StringFlag{Name: "bl-ver", Aliases: []string{"blVer"}, Usage: "bootloader version (hex)", Required: true},
			&cli.StringFlag{Name: "private-key", Aliases: []string{"privateKey"}, Usage: "P-256 private scalar signing the image (64 hex characters)", Required: true},
			&cli.StringFlag{Name: "bl-hex", Aliases: []string{"blHexFile"}, Usage: "bootloader Intel HEX file", Required: true},
			&cli.StringFlag{Name: "fw-hex", Aliases: []string{"fwHexFile"}, Usage: "firmware Intel HEX file", Required: true},
			&cli.StringFlag{Name: "fs-hex", Aliases: []string{"fsHexFile"}, Usage: "filesystem Intel HEX file", Required: true},
			&cli.StringFlag{Name: "output", Aliases: []string{"o", "outputFile"}, Usage: "update file to write", Required: true},
		},
		Action: prepare,
	}
}

func prepare(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}

	h, err := headerFromFlags(c)
	if err != nil {
		return err
	}

	scalar, err := fwimage.ParseSigningKey(c.String("private-key"))
	if err != nil {
		return fmt.Errorf("--private-key: %w", err)
	}
	signer, err := fwimage.NewSigner(scalar)
	if err != nil {
		return fmt.Errorf("--private-key: %w", err)
	}

	fmt.Println("Generating firmware...")
	img, err := builder.BuildFiles(h, cfg.Layout, signer, c.String("bl-hex"), c.String("fw-hex"), c.String("fs-hex"))
	if err != nil {
		return err
	}
	if err := fwimage.WriteFile(c.String("output"), cfg.Layout, img); err != nil {
		return err
	}
	fmt.Println("Done.")
	return nil
}

func headerFromFlags(c *cli.Context) (fwimage.Header, error) {
	var h fwimage.Header
	for _, f := range []struct {
		name string
		dst  *uint32
	}{
		{"dev-id", &h.DeviceID},
		{"fw-ver", &h.FirmwareVersion},
		{"fs-ver", &h.FileSystemVersion},
		{"bl-ver", &h.BootloaderVersion},
	} {
		v, err := parseDword(c.String(f.name))
		if err != nil {
			return fwimage.Header{}, fmt.Errorf("--%s: %w", f.name, err)
		}
		*f.dst = v
	}
	return h, nil
}

// parseDword parses a hexadecimal value that must fit in 32 bits. The 0x
// prefix is optional.
func parseDword(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			return 0, fmt.Errorf("the value should fit in 4 bytes")
		}
		return 0, fmt.Errorf("invalid hex value %q", s)
	}
	return uint32(v), nil
}
