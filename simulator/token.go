// Package simulator provides an in-memory Secalot token for tests and
// demonstrations.
//
// A Token behaves like the real device as seen through a reader hub: it runs
// either its bootloader or its firmware, answers the update command set,
// writes only the flash region the running program may write, keeps the
// crash-recovery flags reported by Get Device Info, and disappears from the
// reader list for a few polls after every mode switch. Faults can be
// injected at any frame.
//
// Example:
//
//	tok := simulator.New(simulator.WithDeviceInfo(info))
//	u := updater.New(tok, updater.WithPollInterval(0), updater.WithSettleDelay(0))
//	err := u.Update(ctx, img, false)
package simulator

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/moffa90/go-secalot/fwimage"
	"github.com/moffa90/go-secalot/protocol"
	"github.com/moffa90/go-secalot/updater"
)

// ErrCardRemoved is returned by connections opened before a mode switch.
var ErrCardRemoved = errors.New("card removed")

// ErrListReaders is returned by Readers while list failures are injected.
var ErrListReaders = errors.New("list readers failed")

// Token is a simulated dual-mode token. It implements updater.Hub.
// Token is safe for concurrent use.
type Token struct {
	mu sync.Mutex

	layout           fwimage.Layout
	info             protocol.DeviceInfo
	mode             updater.Mode
	publicKey        *ecdsa.PublicKey
	firmwareReader   string
	bootloaderReader string
	replugPolls      int

	firmwareFlash   []byte
	bootloaderFlash []byte

	// generation changes whenever the token re-enumerates
	generation  int
	hiddenPolls int
	listErrors  int
	selected    bool
	pending     *pendingWrite
	faults      []fault

	commands     []protocol.Command
	cleanCommits int
}

type pendingWrite struct {
	region    fwimage.Region
	header    fwimage.Header
	signature fwimage.Signature
	data      []byte
	chunks    int
}

type fault struct {
	region fwimage.Region
	index  int
	sw     uint16
}

// New creates a token in firmware mode with both programs bootable.
func New(opts ...Option) *Token {
	t := &Token{
		layout: fwimage.DefaultLayout(),
		info: protocol.DeviceInfo{
			DeviceID:             1,
			SerialNumber:         0x00C0FFEE,
			FirmwareVersion:      1,
			FileSystemVersion:    1,
			BootloaderVersion:    1,
			FirmwareIsBootable:   true,
			BootloaderIsBootable: true,
		},
		mode:             updater.ModeFirmware,
		firmwareReader:   updater.DefaultFirmwareReader,
		bootloaderReader: updater.DefaultBootloaderReader,
		replugPolls:      2,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.firmwareFlash = make([]byte, t.layout.FirmwareSize())
	t.bootloaderFlash = make([]byte, t.layout.BootloaderSize())
	return t
}

// Readers implements updater.Hub. The list is empty while the token
// re-enumerates after a mode switch.
func (t *Token) Readers() ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.listErrors > 0 {
		t.listErrors--
		return nil, ErrListReaders
	}
	if t.hiddenPolls > 0 {
		t.hiddenPolls--
		return nil, nil
	}
	return []string{t.readerName()}, nil
}

// Connect implements updater.Hub.
func (t *Token) Connect(reader string) (updater.Card, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.hiddenPolls > 0 || reader != t.readerName() {
		return nil, fmt.Errorf("reader %q not found", reader)
	}
	t.selected = false
	return &conn{token: t, generation: t.generation}, nil
}

func (t *Token) readerName() string {
	if t.mode == updater.ModeBootloader {
		return t.bootloaderReader + " 00 00"
	}
	return t.firmwareReader + " 00 00"
}

// Info returns the current device state.
func (t *Token) Info() protocol.DeviceInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.info
}

// Mode returns the program the token is running.
func (t *Token) Mode() updater.Mode {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mode
}

// Firmware returns a copy of the firmware region.
func (t *Token) Firmware() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return bytes.Clone(t.firmwareFlash)
}

// Bootloader returns a copy of the bootloader region.
func (t *Token) Bootloader() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return bytes.Clone(t.bootloaderFlash)
}

// Commands returns every command received, in order.
func (t *Token) Commands() []protocol.Command {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]protocol.Command(nil), t.commands...)
}

// CleanCommits returns how many firmware commits cleaned the filesystem.
func (t *Token) CleanCommits() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cleanCommits
}

// FailFrame makes the index-th frame (0 is Set Image Info) of the next
// write of region fail with sw. The frame has no effect on the token.
func (t *Token) FailFrame(region fwimage.Region, index int, sw uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.faults = append(t.faults, fault{region: region, index: index, sw: sw})
}

// FailListReaders makes the next n Readers calls fail.
func (t *Token) FailListReaders(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listErrors = n
}

// PowerCycle reboots the token: an unfinished write is lost and the token
// starts its firmware if bootable, its bootloader otherwise.
func (t *Token) PowerCycle() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.pending = nil
	next := updater.ModeFirmware
	if !t.info.FirmwareIsBootable {
		next = updater.ModeBootloader
	}
	t.reenumerate(next)
}

func (t *Token) reenumerate(mode updater.Mode) {
	t.mode = mode
	t.selected = false
	t.pending = nil
	t.generation++
	t.hiddenPolls = t.replugPolls
}

// conn is one reader connection.
type conn struct {
	token      *Token
	generation int
	closed     bool
}

func (c *conn) Transmit(cmd []byte) ([]byte, error) {
	t := c.token
	t.mu.Lock()
	defer t.mu.Unlock()

	if c.closed {
		return nil, errors.New("connection closed")
	}
	if c.generation != t.generation {
		return nil, ErrCardRemoved
	}

	t.commands = append(t.commands, bytes.Clone(cmd))
	return t.handle(cmd), nil
}

func (c *conn) Close() error {
	c.token.mu.Lock()
	defer c.token.mu.Unlock()
	c.closed = true
	return nil
}

// handle executes one command APDU and returns the response APDU.
func (t *Token) handle(cmd []byte) []byte {
	if len(cmd) < protocol.HeaderSize {
		return protocol.StatusResponse(protocol.StatusWrongLength)
	}
	cla, ins, p2 := cmd[0], cmd[1], cmd[3]

	var data []byte
	if len(cmd) > protocol.HeaderSize {
		lc := int(cmd[protocol.HeaderSize])
		data = cmd[protocol.HeaderSize+1:]
		if len(data) != lc {
			return protocol.StatusResponse(protocol.StatusWrongLength)
		}
	}

	if cla == protocol.ClaISO && ins == protocol.InsSelect {
		if t.mode == updater.ModeFirmware && bytes.Equal(data, protocol.ControlAppletAID) {
			t.selected = true
			return protocol.StatusResponse(protocol.StatusSuccess)
		}
		return protocol.StatusResponse(protocol.StatusFileNotFound)
	}

	if cla != protocol.ClaProprietary {
		return protocol.StatusResponse(protocol.StatusClaNotSupported)
	}
	if t.mode == updater.ModeFirmware && !t.selected {
		return protocol.StatusResponse(protocol.StatusClaNotSupported)
	}

	switch ins {
	case protocol.InsGetDeviceInfo:
		return protocol.DataResponse(protocol.EncodeDeviceInfo(&t.info), protocol.StatusSuccess)
	case protocol.InsSwitchToFirmware:
		return t.switchTo(updater.ModeFirmware)
	case protocol.InsSwitchToBootloader:
		return t.switchTo(updater.ModeBootloader)
	case protocol.InsSetImageInfo:
		return t.setImageInfo(data)
	case protocol.InsLoadChunk:
		return t.loadChunk(data)
	case protocol.InsCommit:
		return t.commit(p2 == protocol.CommitCleanFileSystem)
	case protocol.InsEnableManufacturerBootloader:
		if t.mode != updater.ModeFirmware {
			return protocol.StatusResponse(protocol.StatusInsNotSupported)
		}
		return protocol.StatusResponse(protocol.StatusSuccess)
	default:
		return protocol.StatusResponse(protocol.StatusInsNotSupported)
	}
}

func (t *Token) switchTo(target updater.Mode) []byte {
	if t.mode.Other() != target {
		return protocol.StatusResponse(protocol.StatusInsNotSupported)
	}
	if target == updater.ModeFirmware && !t.info.FirmwareIsBootable {
		return protocol.StatusResponse(protocol.StatusConditionsNotSatisfied)
	}
	if target == updater.ModeBootloader && !t.info.BootloaderIsBootable {
		return protocol.StatusResponse(protocol.StatusConditionsNotSatisfied)
	}
	t.reenumerate(target)
	return protocol.StatusResponse(protocol.StatusSuccess)
}

// writableRegion is the region the running program may write.
func (t *Token) writableRegion() fwimage.Region {
	if t.mode == updater.ModeBootloader {
		return fwimage.RegionFirmware
	}
	return fwimage.RegionBootloader
}

// injected consumes a fault registered for the index-th frame of region.
func (t *Token) injected(region fwimage.Region, index int) (uint16, bool) {
	for i, f := range t.faults {
		if f.region == region && f.index == index {
			t.faults = append(t.faults[:i], t.faults[i+1:]...)
			return f.sw, true
		}
	}
	return 0, false
}

func (t *Token) setImageInfo(data []byte) []byte {
	region := t.writableRegion()
	if sw, ok := t.injected(region, 0); ok {
		return protocol.StatusResponse(sw)
	}

	w := &pendingWrite{region: region}
	switch region {
	case fwimage.RegionFirmware:
		if len(data) != fwimage.HeaderLen+fwimage.SignatureLen {
			return protocol.StatusResponse(protocol.StatusWrongLength)
		}
		h, _ := fwimage.ParseHeader(data[:fwimage.HeaderLen])
		if h.DeviceID != t.info.DeviceID || h.BootloaderVersion != t.info.BootloaderVersion {
			return protocol.StatusResponse(protocol.StatusWrongData)
		}
		w.header = h
		copy(w.signature[:], data[fwimage.HeaderLen:])
		w.data = make([]byte, 0, t.layout.FirmwareSize())

		t.info.FirmwareIsBootable = false
		if h.FileSystemVersion != t.info.FileSystemVersion {
			t.info.FileSystemUpdateInProgress = true
		}

	case fwimage.RegionBootloader:
		if len(data) != protocol.BootloaderImageInfoPrefix+fwimage.SignatureLen {
			return protocol.StatusResponse(protocol.StatusWrongLength)
		}
		deviceID := binary.BigEndian.Uint32(data[0:4])
		if deviceID != t.info.DeviceID {
			return protocol.StatusResponse(protocol.StatusWrongData)
		}
		w.header = fwimage.Header{DeviceID: deviceID, BootloaderVersion: binary.BigEndian.Uint32(data[4:8])}
		copy(w.signature[:], data[protocol.BootloaderImageInfoPrefix:])
		w.data = make([]byte, 0, t.layout.BootloaderSize())

		// The in-progress bootloader version is recorded immediately so an
		// interrupted write can only be resumed with the same version.
		t.info.BootloaderVersion = w.header.BootloaderVersion
		t.info.BootloaderIsBootable = false
		t.info.FirmwareIsBootable = false
	}

	t.pending = w
	return protocol.StatusResponse(protocol.StatusSuccess)
}

func (t *Token) chunkLimit(region fwimage.Region) int {
	if region == fwimage.RegionBootloader {
		return t.layout.BootloaderChunks
	}
	return t.layout.FirmwareChunks
}

func (t *Token) loadChunk(data []byte) []byte {
	w := t.pending
	if w == nil {
		return protocol.StatusResponse(protocol.StatusConditionsNotSatisfied)
	}
	if sw, ok := t.injected(w.region, w.chunks+1); ok {
		return protocol.StatusResponse(sw)
	}
	if len(data) != t.layout.ChunkLen {
		return protocol.StatusResponse(protocol.StatusWrongLength)
	}
	if w.chunks >= t.chunkLimit(w.region) {
		return protocol.StatusResponse(protocol.StatusWrongData)
	}

	w.data = append(w.data, data...)
	w.chunks++
	return protocol.StatusResponse(protocol.StatusSuccess)
}

func (t *Token) commit(clean bool) []byte {
	w := t.pending
	if w == nil {
		return protocol.StatusResponse(protocol.StatusConditionsNotSatisfied)
	}
	if sw, ok := t.injected(w.region, w.chunks+1); ok {
		return protocol.StatusResponse(sw)
	}
	if w.chunks != t.chunkLimit(w.region) {
		return protocol.StatusResponse(protocol.StatusConditionsNotSatisfied)
	}

	if t.publicKey != nil {
		domain := fwimage.FirmwareDomain(w.header)
		if w.region == fwimage.RegionBootloader {
			domain = fwimage.BootloaderDomain(w.header)
		}
		if !fwimage.Verify(t.publicKey, domain, w.data, w.signature) {
			t.pending = nil
			return protocol.StatusResponse(protocol.StatusSecurityNotSatisfied)
		}
	}

	switch w.region {
	case fwimage.RegionFirmware:
		if t.info.FileSystemUpdateInProgress && !clean {
			return protocol.StatusResponse(protocol.StatusConditionsNotSatisfied)
		}
		copy(t.firmwareFlash, w.data)
		t.info.FirmwareVersion = w.header.FirmwareVersion
		t.info.FileSystemVersion = w.header.FileSystemVersion
		t.info.FileSystemUpdateInProgress = false
		t.info.FirmwareIsBootable = true
		if clean {
			t.cleanCommits++
		}

	case fwimage.RegionBootloader:
		copy(t.bootloaderFlash, w.data)
		t.info.BootloaderIsBootable = true
	}

	t.pending = nil
	return protocol.StatusResponse(protocol.StatusSuccess)
}
