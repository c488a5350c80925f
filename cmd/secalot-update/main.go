// Command secalot-update inspects and updates a Secalot token over PC/SC.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"

	"github.com/moffa90/go-secalot/config"
	"github.com/moffa90/go-secalot/fwimage"
	"github.com/moffa90/go-secalot/pcsc"
	"github.com/moffa90/go-secalot/policy"
	"github.com/moffa90/go-secalot/updater"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	imageFlag := &cli.StringFlag{Name: "image", Aliases: []string{"i"}, Usage: "update image file", Required: true}

	return &cli.App{
		Name:    "secalot-update",
		Usage:   "inspect and update Secalot tokens",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML configuration file"},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "log every exchange"},
			&cli.StringFlag{Name: "metrics-textfile", Usage: "write update metrics to this file in Prometheus text format"},
		},
		Commands: []*cli.Command{
			{
				Name:   "device-info",
				Usage:  "print the state of the connected token",
				Action: deviceInfo,
			},
			{
				Name:  "image-info",
				Usage: "print the header of an update image",
				Flags: []cli.Flag{
					imageFlag,
					&cli.StringFlag{Name: "public-key", Usage: "verify the signatures with this uncompressed P-256 key (hex)"},
				},
				Action: imageInfo,
			},
			{
				Name:   "switch",
				Usage:  "switch the token between firmware and bootloader mode",
				Action: switchMode,
			},
			{
				Name:  "upload",
				Usage: "apply an update image to the token",
				Flags: []cli.Flag{
					imageFlag,
					&cli.BoolFlag{Name: "clean-fs", Usage: "erase the filesystem while updating"},
				},
				Action: upload,
			},
			{
				Name:   "enable-manufacturer-bootloader",
				Usage:  "re-enable the chip vendor bootloader",
				Action: enableManufacturerBootloader,
			},
		},
	}
}

// session bundles what every device command needs.
type session struct {
	cfg      config.Config
	hub      *pcsc.Hub
	updater  *updater.Updater
	registry *prometheus.Registry
	textfile string
}

func openSession(c *cli.Context, extra ...updater.Option) (*session, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}

	hub, err := pcsc.Open(cfg.PCSCSocket)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	opts := append(cfg.UpdaterOptions(),
		updater.WithLogger(newLogger(c.Bool("verbose"))),
		updater.WithMetrics(reg),
	)
	opts = append(opts, extra...)

	return &session{
		cfg:      cfg,
		hub:      hub,
		updater:  updater.New(hub, opts...),
		registry: reg,
		textfile: c.String("metrics-textfile"),
	}, nil
}

func (s *session) close() {
	_ = s.updater.Close()
	_ = s.hub.Close()
	if s.textfile != "" {
		if err := prometheus.WriteToTextfile(s.textfile, s.registry); err != nil {
			fmt.Fprintln(os.Stderr, "Warning: write metrics:", err)
		}
	}
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func deviceInfo(c *cli.Context) error {
	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.close()

	info, err := s.updater.DeviceInfo(c.Context)
	if err != nil {
		return err
	}

	fmt.Printf("Mode:                  %s\n", s.updater.Mode())
	fmt.Printf("Device ID:             0x%08X\n", info.DeviceID)
	fmt.Printf("Serial number:         %08x\n", info.SerialNumber)
	fmt.Printf("Firmware version:      0x%08X\n", info.FirmwareVersion)
	fmt.Printf("Filesystem version:    0x%08X\n", info.FileSystemVersion)
	fmt.Printf("Bootloader version:    0x%08X\n", info.BootloaderVersion)
	fmt.Printf("FS update in progress: %t\n", info.FileSystemUpdateInProgress)
	fmt.Printf("Firmware bootable:     %t\n", info.FirmwareIsBootable)
	fmt.Printf("Bootloader bootable:   %t\n", info.BootloaderIsBootable)
	return nil
}

func imageInfo(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}

	path := c.String("image")
	if c.String("public-key") == "" {
		h, err := fwimage.ReadHeaderFile(path)
		if err != nil {
			return err
		}
		printHeader(h)
		return nil
	}

	raw, err := hex.DecodeString(strings.TrimPrefix(c.String("public-key"), "0x"))
	if err != nil {
		return fmt.Errorf("invalid public key: %w", err)
	}
	pub, err := fwimage.ParsePublicKey(raw)
	if err != nil {
		return err
	}

	img, err := fwimage.ReadFile(path, cfg.Layout)
	if err != nil {
		return err
	}
	printHeader(img.Header)
	if err := fwimage.VerifyImage(pub, img); err != nil {
		return err
	}
	fmt.Println("Signatures:            valid")
	return nil
}

func printHeader(h fwimage.Header) {
	fmt.Printf("Device ID:             0x%08X\n", h.DeviceID)
	fmt.Printf("Firmware version:      0x%08X\n", h.FirmwareVersion)
	fmt.Printf("Filesystem version:    0x%08X\n", h.FileSystemVersion)
	fmt.Printf("Bootloader version:    0x%08X\n", h.BootloaderVersion)
}

func switchMode(c *cli.Context) error {
	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.close()

	mode, err := s.updater.SwitchMode(c.Context)
	if err != nil {
		return err
	}
	fmt.Printf("Token is now in %s mode\n", mode)
	return nil
}

func upload(c *cli.Context) error {
	s, err := openSession(c, updater.WithProgressCallback(printProgress))
	if err != nil {
		return err
	}
	defer s.close()

	img, err := fwimage.ReadFile(c.String("image"), s.cfg.Layout)
	if err != nil {
		return err
	}

	err = s.updater.Update(c.Context, img, c.Bool("clean-fs"))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return describeRejection(err)
	}
	fmt.Println("Update complete")
	return nil
}

// describeRejection turns a policy rejection into the message shown to the
// operator. Other errors pass through.
func describeRejection(err error) error {
	reason, ok := policy.ReasonOf(err)
	if !ok {
		return err
	}
	msg := reason.Message()
	if reason.NeedsClean() {
		msg += " Run again with --clean-fs."
	}
	return errors.New(msg)
}

func printProgress(p updater.Progress) {
	switch p.Phase {
	case updater.PhaseLoading:
		fmt.Fprintf(os.Stderr, "\r%-10s %s %4d/%-4d %5.1f%%", p.Phase, p.Region, p.CurrentFrame, p.TotalFrames, p.Percentage)
	case updater.PhaseComplete:
		fmt.Fprintf(os.Stderr, "\r%-10s %5.1f%% in %s", p.Phase, p.Percentage, p.ElapsedTime.Round(time.Millisecond))
	default:
		fmt.Fprintf(os.Stderr, "\r%-10s %5.1f%%", p.Phase, p.Percentage)
	}
}

func enableManufacturerBootloader(c *cli.Context) error {
	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.close()

	if err := s.updater.EnableManufacturerBootloader(c.Context); err != nil {
		return err
	}
	fmt.Println("Manufacturer bootloader enabled")
	return nil
}
