// Package config loads the updater settings from YAML and the environment.
//
//	device:
//	  firmwareReader: "Secalot Secalot Dongle"
//	  bootloaderReader: "Secalot Secalot Bootloader"
//	  layout:
//	    chunkLength: 128
//	    firmwareChunks: 1664
//	    bootloaderChunks: 256
//	    bootloaderStart: 0x2000
//	    bootloaderEnd: 0x9FFF
//	    firmwareStart: 0xC000
//	    firmwareEnd: 0x3FFFF
//	transport:
//	  pcscSocket: /run/pcscd/pcscd.comm
//	  pollInterval: 100ms
//	  settleDelay: 500ms
//
// Every key is optional; missing keys keep their defaults. The environment
// variables SECALOT_PCSC_SOCKET, SECALOT_POLL_INTERVAL and
// SECALOT_SETTLE_DELAY override the file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/moffa90/go-secalot/fwimage"
	"github.com/moffa90/go-secalot/pcsc"
	"github.com/moffa90/go-secalot/updater"
)

// Environment variables applied on top of the file.
const (
	EnvPCSCSocket   = "SECALOT_PCSC_SOCKET"
	EnvPollInterval = "SECALOT_POLL_INTERVAL"
	EnvSettleDelay  = "SECALOT_SETTLE_DELAY"
)

// Config is the resolved updater configuration.
type Config struct {
	Layout           fwimage.Layout
	FirmwareReader   string
	BootloaderReader string
	PCSCSocket       string
	PollInterval     time.Duration
	SettleDelay      time.Duration
}

// File is the YAML document layout.
type File struct {
	Device    DeviceSection    `yaml:"device"`
	Transport TransportSection `yaml:"transport"`
}

type DeviceSection struct {
	FirmwareReader   string         `yaml:"firmwareReader"`
	BootloaderReader string         `yaml:"bootloaderReader"`
	Layout           *LayoutSection `yaml:"layout"`
}

type LayoutSection struct {
	ChunkLen         int     `yaml:"chunkLength"`
	FirmwareChunks   int     `yaml:"firmwareChunks"`
	BootloaderChunks int     `yaml:"bootloaderChunks"`
	BootloaderStart  *uint32 `yaml:"bootloaderStart"`
	BootloaderEnd    *uint32 `yaml:"bootloaderEnd"`
	FirmwareStart    *uint32 `yaml:"firmwareStart"`
	FirmwareEnd      *uint32 `yaml:"firmwareEnd"`
}

type TransportSection struct {
	PCSCSocket   string         `yaml:"pcscSocket"`
	PollInterval *time.Duration `yaml:"pollInterval"`
	SettleDelay  *time.Duration `yaml:"settleDelay"`
}

// Default returns the configuration of the production token.
func Default() Config {
	return Config{
		Layout:           fwimage.DefaultLayout(),
		FirmwareReader:   updater.DefaultFirmwareReader,
		BootloaderReader: updater.DefaultBootloaderReader,
		PCSCSocket:       pcsc.DefaultSocket,
		PollInterval:     100 * time.Millisecond,
		SettleDelay:      500 * time.Millisecond,
	}
}

// Load reads the file at path, merges it over the defaults and applies the
// environment. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		parsed, err := Parse(data)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", path, err)
		}
		Merge(&cfg, parsed)
	}

	if err := ApplyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes a YAML document. Unknown keys are an error.
func Parse(data []byte) (File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return File{}, fmt.Errorf("parse config: %w", err)
	}
	return f, nil
}

// Merge copies the keys present in src into dst.
func Merge(dst *Config, src File) {
	if src.Device.FirmwareReader != "" {
		dst.FirmwareReader = src.Device.FirmwareReader
	}
	if src.Device.BootloaderReader != "" {
		dst.BootloaderReader = src.Device.BootloaderReader
	}
	if l := src.Device.Layout; l != nil {
		if l.ChunkLen != 0 {
			dst.Layout.ChunkLen = l.ChunkLen
		}
		if l.FirmwareChunks != 0 {
			dst.Layout.FirmwareChunks = l.FirmwareChunks
		}
		if l.BootloaderChunks != 0 {
			dst.Layout.BootloaderChunks = l.BootloaderChunks
		}
		if l.BootloaderStart != nil {
			dst.Layout.BootloaderStart = *l.BootloaderStart
		}
		if l.BootloaderEnd != nil {
			dst.Layout.BootloaderEnd = *l.BootloaderEnd
		}
		if l.FirmwareStart != nil {
			dst.Layout.FirmwareStart = *l.FirmwareStart
		}
		if l.FirmwareEnd != nil {
			dst.Layout.FirmwareEnd = *l.FirmwareEnd
		}
	}
	if src.Transport.PCSCSocket != "" {
		dst.PCSCSocket = src.Transport.PCSCSocket
	}
	if src.Transport.PollInterval != nil {
		dst.PollInterval = *src.Transport.PollInterval
	}
	if src.Transport.SettleDelay != nil {
		dst.SettleDelay = *src.Transport.SettleDelay
	}
}

// ApplyEnvOverrides applies the SECALOT_* environment variables.
func ApplyEnvOverrides(cfg *Config) error {
	if socket := strings.TrimSpace(os.Getenv(EnvPCSCSocket)); socket != "" {
		cfg.PCSCSocket = socket
	}
	for _, o := range []struct {
		name string
		dst  *time.Duration
	}{
		{EnvPollInterval, &cfg.PollInterval},
		{EnvSettleDelay, &cfg.SettleDelay},
	} {
		raw := strings.TrimSpace(os.Getenv(o.name))
		if raw == "" {
			continue
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", o.name, err)
		}
		*o.dst = d
	}
	return nil
}

// Validate checks the layout and the transport settings.
func (c Config) Validate() error {
	if err := c.Layout.Validate(); err != nil {
		return fmt.Errorf("layout: %w", err)
	}
	if c.FirmwareReader == "" || c.BootloaderReader == "" {
		return fmt.Errorf("reader name prefixes must not be empty")
	}
	if strings.HasPrefix(c.FirmwareReader, c.BootloaderReader) || strings.HasPrefix(c.BootloaderReader, c.FirmwareReader) {
		return fmt.Errorf("reader prefixes %q and %q must not overlap", c.FirmwareReader, c.BootloaderReader)
	}
	if c.PollInterval < 0 || c.SettleDelay < 0 {
		return fmt.Errorf("poll interval and settle delay must not be negative")
	}
	return nil
}

// UpdaterOptions returns the updater options this configuration implies.
func (c Config) UpdaterOptions() []updater.Option {
	return []updater.Option{
		updater.WithLayout(c.Layout),
		updater.WithReaderNames(c.FirmwareReader, c.BootloaderReader),
		updater.WithPollInterval(c.PollInterval),
		updater.WithSettleDelay(c.SettleDelay),
	}
}
