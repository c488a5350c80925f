package simulator

import (
	"errors"
	"testing"

	"github.com/moffa90/go-secalot/fwimage"
	"github.com/moffa90/go-secalot/protocol"
	"github.com/moffa90/go-secalot/updater"
)

func tinyLayout() fwimage.Layout {
	return fwimage.Layout{
		ChunkLen:         2,
		FirmwareChunks:   2,
		BootloaderChunks: 1,
		BootloaderStart:  0x0,
		BootloaderEnd:    0x1,
		FirmwareStart:    0x10,
		FirmwareEnd:      0x13,
	}
}

func connect(t *testing.T, tok *Token) updater.Card {
	t.Helper()
	readers, err := tok.Readers()
	if err != nil || len(readers) != 1 {
		t.Fatalf("Readers() = %v, %v", readers, err)
	}
	card, err := tok.Connect(readers[0])
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	return card
}

func status(t *testing.T, card updater.Card, cmd protocol.Command) uint16 {
	t.Helper()
	resp, err := card.Transmit(cmd)
	if err != nil {
		t.Fatalf("Transmit() error = %v", err)
	}
	sw, _, err := protocol.ParseResponse(resp)
	if err != nil {
		t.Fatalf("ParseResponse() error = %v", err)
	}
	return sw
}

func TestFirmwareModeRequiresApplet(t *testing.T) {
	tok := New(WithLayout(tinyLayout()))
	card := connect(t, tok)

	if got := status(t, card, mustCmd(protocol.BuildGetDeviceInfoCmd())); got != protocol.StatusClaNotSupported {
		t.Errorf("get info before select: SW = 0x%04X", got)
	}
	if got := status(t, card, mustCmd(protocol.BuildSelectControlAppletCmd())); got != protocol.StatusSuccess {
		t.Fatalf("select: SW = 0x%04X", got)
	}

	resp, err := card.Transmit(mustCmd(protocol.BuildGetDeviceInfoCmd()))
	if err != nil {
		t.Fatal(err)
	}
	data, err := protocol.CheckResponse("get device info", resp)
	if err != nil {
		t.Fatal(err)
	}
	info, err := protocol.ParseDeviceInfo(data)
	if err != nil {
		t.Fatal(err)
	}
	if *info != tok.Info() {
		t.Errorf("info = %v, want %v", info, tok.Info())
	}
}

func TestBootloaderModeCommands(t *testing.T) {
	tok := New(WithLayout(tinyLayout()), WithMode(updater.ModeBootloader))
	card := connect(t, tok)

	tests := []struct {
		name string
		cmd  func() (protocol.Command, error)
		want uint16
	}{
		{"get info without select", protocol.BuildGetDeviceInfoCmd, protocol.StatusSuccess},
		{"select has no applet", protocol.BuildSelectControlAppletCmd, protocol.StatusFileNotFound},
		{"switch to bootloader", protocol.BuildSwitchToBootloaderCmd, protocol.StatusInsNotSupported},
		{"manufacturer bootloader", protocol.BuildEnableManufacturerBootloaderCmd, protocol.StatusInsNotSupported},
		{"chunk without image info", func() (protocol.Command, error) { return protocol.BuildLoadChunkCmd([]byte{1, 2}) }, protocol.StatusConditionsNotSatisfied},
		{"commit without image info", func() (protocol.Command, error) { return protocol.BuildCommitCmd(false) }, protocol.StatusConditionsNotSatisfied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := tt.cmd()
			if err != nil {
				t.Fatal(err)
			}
			if got := status(t, card, cmd); got != tt.want {
				t.Errorf("SW = 0x%04X, want 0x%04X", got, tt.want)
			}
		})
	}
}

func TestSwitchReenumerates(t *testing.T) {
	tok := New(WithLayout(tinyLayout()), WithReplugPolls(2))
	card := connect(t, tok)
	status(t, card, mustCmd(protocol.BuildSelectControlAppletCmd()))

	if got := status(t, card, mustCmd(protocol.BuildSwitchToBootloaderCmd())); got != protocol.StatusSuccess {
		t.Fatalf("switch: SW = 0x%04X", got)
	}
	if tok.Mode() != updater.ModeBootloader {
		t.Errorf("Mode() = %v", tok.Mode())
	}

	if _, err := card.Transmit(mustCmd(protocol.BuildGetDeviceInfoCmd())); !errors.Is(err, ErrCardRemoved) {
		t.Errorf("old connection: error = %v, want ErrCardRemoved", err)
	}

	for i := 0; i < 2; i++ {
		if readers, _ := tok.Readers(); len(readers) != 0 {
			t.Fatalf("poll %d: readers = %v during replug", i, readers)
		}
	}
	readers, _ := tok.Readers()
	if len(readers) != 1 || readers[0] != updater.DefaultBootloaderReader+" 00 00" {
		t.Errorf("readers after replug = %v", readers)
	}
}

func TestSwitchRequiresBootableTarget(t *testing.T) {
	info := New().Info()
	info.FirmwareIsBootable = false
	tok := New(WithLayout(tinyLayout()), WithMode(updater.ModeBootloader), WithDeviceInfo(info))
	card := connect(t, tok)

	if got := status(t, card, mustCmd(protocol.BuildSwitchToFirmwareCmd())); got != protocol.StatusConditionsNotSatisfied {
		t.Errorf("SW = 0x%04X, want 0x%04X", got, protocol.StatusConditionsNotSatisfied)
	}
	if tok.Mode() != updater.ModeBootloader {
		t.Errorf("Mode() = %v", tok.Mode())
	}
}

func TestFirmwareWrite(t *testing.T) {
	tok := New(WithLayout(tinyLayout()), WithMode(updater.ModeBootloader))
	card := connect(t, tok)
	sig := make([]byte, fwimage.SignatureLen)

	wrong := fwimage.Header{DeviceID: 9, FirmwareVersion: 2, FileSystemVersion: 1, BootloaderVersion: 1}
	if got := status(t, card, mustCmd(protocol.BuildSetImageInfoCmd(wrong.Bytes(), sig))); got != protocol.StatusWrongData {
		t.Errorf("foreign device: SW = 0x%04X", got)
	}

	h := fwimage.Header{DeviceID: 1, FirmwareVersion: 2, FileSystemVersion: 1, BootloaderVersion: 1}
	if got := status(t, card, mustCmd(protocol.BuildSetImageInfoCmd(h.Bytes(), sig))); got != protocol.StatusSuccess {
		t.Fatalf("set info: SW = 0x%04X", got)
	}
	if tok.Info().FirmwareIsBootable {
		t.Error("firmware still bootable after set image info")
	}

	status(t, card, mustCmd(protocol.BuildLoadChunkCmd([]byte{1, 2})))
	if got := status(t, card, mustCmd(protocol.BuildCommitCmd(false))); got != protocol.StatusConditionsNotSatisfied {
		t.Errorf("early commit: SW = 0x%04X", got)
	}
	status(t, card, mustCmd(protocol.BuildLoadChunkCmd([]byte{3, 4})))
	if got := status(t, card, mustCmd(protocol.BuildLoadChunkCmd([]byte{5, 6}))); got != protocol.StatusWrongData {
		t.Errorf("extra chunk: SW = 0x%04X", got)
	}
	if got := status(t, card, mustCmd(protocol.BuildCommitCmd(false))); got != protocol.StatusSuccess {
		t.Fatalf("commit: SW = 0x%04X", got)
	}

	info := tok.Info()
	if info.FirmwareVersion != 2 || !info.FirmwareIsBootable {
		t.Errorf("info after commit = %v", info)
	}
	if string(tok.Firmware()) != "\x01\x02\x03\x04" {
		t.Errorf("Firmware() = % x", tok.Firmware())
	}
}

func TestFailFrameIsConsumed(t *testing.T) {
	tok := New(WithLayout(tinyLayout()))
	card := connect(t, tok)
	status(t, card, mustCmd(protocol.BuildSelectControlAppletCmd()))

	tok.FailFrame(fwimage.RegionBootloader, 0, protocol.StatusUnknown)
	info := make([]byte, protocol.BootloaderImageInfoPrefix)
	info[3] = 1
	info[7] = 2
	sig := make([]byte, fwimage.SignatureLen)

	if got := status(t, card, mustCmd(protocol.BuildSetImageInfoCmd(info, sig))); got != protocol.StatusUnknown {
		t.Errorf("injected: SW = 0x%04X", got)
	}
	if tok.Info().BootloaderVersion != 1 {
		t.Error("failed frame changed the token")
	}
	if got := status(t, card, mustCmd(protocol.BuildSetImageInfoCmd(info, sig))); got != protocol.StatusSuccess {
		t.Errorf("retry: SW = 0x%04X", got)
	}
	if got := tok.Info(); got.BootloaderVersion != 2 || got.BootloaderIsBootable {
		t.Errorf("info after bootloader image info = %v", got)
	}
}

func TestFailListReaders(t *testing.T) {
	tok := New()
	tok.FailListReaders(1)
	if _, err := tok.Readers(); !errors.Is(err, ErrListReaders) {
		t.Errorf("Readers() error = %v, want ErrListReaders", err)
	}
	if readers, err := tok.Readers(); err != nil || len(readers) != 1 {
		t.Errorf("Readers() = %v, %v", readers, err)
	}
}

func mustCmd(cmd protocol.Command, err error) protocol.Command {
	if err != nil {
		panic(err)
	}
	return cmd
}
