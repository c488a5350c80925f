package updater

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/moffa90/go-secalot/fwimage"
)

// Default reader name prefixes of the Secalot token.
const (
	DefaultFirmwareReader   = "Secalot Secalot Dongle"
	DefaultBootloaderReader = "Secalot Secalot Bootloader"
)

// Config holds the updater configuration.
type Config struct {
	// ProgressCallback is called during updates to report progress (optional)
	ProgressCallback ProgressCallback

	// Logger is used for logging operations (optional)
	Logger Logger

	// Registerer receives the updater metrics (optional)
	Registerer prometheus.Registerer

	// Layout is the flash geometry frames are built for
	Layout fwimage.Layout

	// FirmwareReader is the reader name prefix of a token in firmware mode
	FirmwareReader string

	// BootloaderReader is the reader name prefix of a token in bootloader mode
	BootloaderReader string

	// PollInterval is the pause between reader list polls while the token
	// re-enumerates after a mode switch
	PollInterval time.Duration

	// SettleDelay is waited after the target reader appears, before connecting
	SettleDelay time.Duration
}

// defaultConfig returns the default configuration.
func defaultConfig() Config {
	return Config{
		Layout:           fwimage.DefaultLayout(),
		FirmwareReader:   DefaultFirmwareReader,
		BootloaderReader: DefaultBootloaderReader,
		PollInterval:     100 * time.Millisecond,
		SettleDelay:      500 * time.Millisecond,
	}
}

// Option is a functional option for configuring the Updater.
type Option func(*Config)

// WithProgressCallback sets a callback function to track update progress.
//
// Example:
//
//	u := updater.New(hub,
//	    updater.WithProgressCallback(func(p updater.Progress) {
//	        fmt.Printf("%.1f%% complete\n", p.Percentage)
//	    }),
//	)
func WithProgressCallback(callback ProgressCallback) Option {
	return func(c *Config) {
		c.ProgressCallback = callback
	}
}

// WithLogger sets a logger for the updater operations.
//
// Example:
//
//	u := updater.New(hub, updater.WithLogger(slog.Default()))
func WithLogger(logger Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithMetrics registers the updater metrics with reg.
//
// Example:
//
//	u := updater.New(hub, updater.WithMetrics(prometheus.DefaultRegisterer))
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registerer = reg
	}
}

// WithLayout sets the flash geometry. The layout is not validated here;
// invalid geometry surfaces when frames are built.
func WithLayout(layout fwimage.Layout) Option {
	return func(c *Config) {
		c.Layout = layout
	}
}

// WithReaderNames sets the reader name prefixes identifying each mode.
// Empty values keep the current prefix.
//
// Example:
//
//	u := updater.New(hub, updater.WithReaderNames("Secalot Secalot Dongle", "Secalot Secalot Bootloader"))
func WithReaderNames(firmware, bootloader string) Option {
	return func(c *Config) {
		if firmware != "" {
			c.FirmwareReader = firmware
		}
		if bootloader != "" {
			c.BootloaderReader = bootloader
		}
	}
}

// WithPollInterval sets the reader poll interval used while waiting for the
// token to re-enumerate. Zero polls without pausing.
func WithPollInterval(interval time.Duration) Option {
	return func(c *Config) {
		if interval >= 0 {
			c.PollInterval = interval
		}
	}
}

// WithSettleDelay sets the pause between the target reader appearing and
// connecting to it.
func WithSettleDelay(delay time.Duration) Option {
	return func(c *Config) {
		if delay >= 0 {
			c.SettleDelay = delay
		}
	}
}
