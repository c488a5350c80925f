package fwimage

import (
	"strings"
	"testing"
)

func TestDefaultLayoutSizes(t *testing.T) {
	l := DefaultLayout()

	if got := l.FirmwareSize(); got != 212992 {
		t.Errorf("FirmwareSize() = %d, want 212992", got)
	}
	if got := l.BootloaderSize(); got != 32768 {
		t.Errorf("BootloaderSize() = %d, want 32768", got)
	}
	if got, want := l.ImageSize(), 4+16+64+64+212992+32768; got != want {
		t.Errorf("ImageSize() = %d, want %d", got, want)
	}
	if err := l.Validate(); err != nil {
		t.Errorf("Validate() error: %v", err)
	}
}

func TestLayoutValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(l *Layout)
		errMsg string
	}{
		{
			name:   "zero chunk length",
			mutate: func(l *Layout) { l.ChunkLen = 0 },
			errMsg: "chunk length",
		},
		{
			name:   "chunk too large for short APDU",
			mutate: func(l *Layout) { l.ChunkLen = 256 },
			errMsg: "chunk length",
		},
		{
			name:   "no firmware chunks",
			mutate: func(l *Layout) { l.FirmwareChunks = 0 },
			errMsg: "firmware chunk count",
		},
		{
			name:   "bootloader window too small",
			mutate: func(l *Layout) { l.BootloaderEnd = 0x8FFF },
			errMsg: "bootloader window",
		},
		{
			name:   "firmware window reversed",
			mutate: func(l *Layout) { l.FirmwareEnd = l.FirmwareStart - 1 },
			errMsg: "before start",
		},
		{
			name: "overlapping windows",
			mutate: func(l *Layout) {
				l.BootloaderStart = 0xC000
				l.BootloaderEnd = 0x13FFF
			},
			errMsg: "overlaps",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := DefaultLayout()
			tt.mutate(&l)
			err := l.Validate()
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.errMsg)
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("error = %v, want substring %q", err, tt.errMsg)
			}
		})
	}
}
