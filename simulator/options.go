package simulator

import (
	"crypto/ecdsa"

	"github.com/moffa90/go-secalot/fwimage"
	"github.com/moffa90/go-secalot/protocol"
	"github.com/moffa90/go-secalot/updater"
)

// Option configures a Token.
type Option func(*Token)

// WithDeviceInfo sets the initial device state.
func WithDeviceInfo(info protocol.DeviceInfo) Option {
	return func(t *Token) {
		t.info = info
	}
}

// WithMode sets the program the token starts in.
func WithMode(mode updater.Mode) Option {
	return func(t *Token) {
		if mode.Valid() {
			t.mode = mode
		}
	}
}

// WithLayout sets the flash geometry.
func WithLayout(layout fwimage.Layout) Option {
	return func(t *Token) {
		t.layout = layout
	}
}

// WithPublicKey makes the token verify both region signatures on commit.
func WithPublicKey(pub *ecdsa.PublicKey) Option {
	return func(t *Token) {
		t.publicKey = pub
	}
}

// WithReplugPolls sets how many reader polls the token stays invisible for
// after a mode switch.
func WithReplugPolls(n int) Option {
	return func(t *Token) {
		if n >= 0 {
			t.replugPolls = n
		}
	}
}

// WithReaderNames sets the reader name prefixes of both modes.
func WithReaderNames(firmware, bootloader string) Option {
	return func(t *Token) {
		t.firmwareReader = firmware
		t.bootloaderReader = bootloader
	}
}
