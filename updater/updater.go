package updater

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/moffa90/go-secalot/fwimage"
	"github.com/moffa90/go-secalot/policy"
	"github.com/moffa90/go-secalot/protocol"
)

// Updater drives one Secalot token through mode switches and flash writes.
//
// Operations on one Updater are serialized: at most one update is in flight
// per device. Independent devices are updated by independent Updaters.
type Updater struct {
	hub     Hub
	config  Config
	metrics *metrics

	mu       sync.Mutex
	card     Card
	reader   string
	mode     Mode
	selected bool

	// progress spans a whole Update; nil for standalone LoadFrames calls
	progress *tracker
}

type tracker struct {
	start time.Time
	done  int
	total int
}

// New creates a new Updater for the tokens reachable through hub.
//
// Example:
//
//	hub, _ := pcsc.Open(pcsc.DefaultSocket)
//	u := updater.New(hub,
//	    updater.WithProgressCallback(progressFunc),
//	    updater.WithLogger(slog.Default()),
//	)
//	defer u.Close()
func New(hub Hub, opts ...Option) *Updater {
	if hub == nil {
		panic("hub cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Updater{
		hub:     hub,
		config:  cfg,
		metrics: newMetrics(cfg.Registerer),
	}
}

// Open locates the token and connects to it. A token in bootloader mode is
// preferred when both readers are present. Open is implied by the other
// operations.
func (u *Updater) Open(ctx context.Context) (Mode, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if err := u.ensureOpen(ctx); err != nil {
		return 0, err
	}
	return u.mode, nil
}

// Mode returns the mode of the connected token, or 0 when not connected.
func (u *Updater) Mode() Mode {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.mode
}

// Reader returns the name of the connected reader.
func (u *Updater) Reader() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.reader
}

// Close disconnects from the token.
func (u *Updater) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.disconnect()
}

// DeviceInfo queries the live device state.
func (u *Updater) DeviceInfo(ctx context.Context) (*protocol.DeviceInfo, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if err := u.ensureOpen(ctx); err != nil {
		return nil, err
	}
	return u.deviceInfo()
}

// SwitchMode sends the mode-switch command, disconnects and waits until the
// token re-enumerates in the other mode. There is no built-in timeout: the
// wait ends when the token returns or ctx is done.
func (u *Updater) SwitchMode(ctx context.Context) (Mode, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if err := u.ensureOpen(ctx); err != nil {
		return 0, err
	}
	if err := u.switchMode(ctx); err != nil {
		return 0, err
	}
	return u.mode, nil
}

// LoadFrames sends frames of region in order. The token must be in the mode
// that can write region: bootloader mode for the firmware region, firmware
// mode for the bootloader region. The first failing frame aborts the load
// with a *FrameError. ctx is checked between frames, never during one.
func (u *Updater) LoadFrames(ctx context.Context, region fwimage.Region, frames []protocol.Command) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if err := u.ensureOpen(ctx); err != nil {
		return err
	}
	return u.loadFrames(ctx, region, frames)
}

// EnableManufacturerBootloader re-enables the chip vendor bootloader. Only
// the firmware accepts it; in bootloader mode a *ModeError is returned.
func (u *Updater) EnableManufacturerBootloader(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if err := u.ensureOpen(ctx); err != nil {
		return err
	}
	if u.mode != ModeFirmware {
		return &ModeError{Operation: "enable manufacturer bootloader", Required: ModeFirmware, Current: u.mode}
	}
	if err := u.selectApplet(); err != nil {
		return err
	}

	cmd, err := protocol.BuildEnableManufacturerBootloaderCmd()
	if err != nil {
		return err
	}
	if _, err := u.exchange("enable manufacturer bootloader", cmd); err != nil {
		return err
	}

	u.logInfo("manufacturer bootloader enabled", "reader", u.reader)
	return nil
}

// Update applies img to the token:
//  1. Locate the token and read its device info
//  2. Check the image against the device with policy.Check
//  3. Execute Plan: load each region in the mode that can write it,
//     switching modes in between
//  4. Leave the token in firmware mode
//
// A policy rejection returns a *policy.NotSuitableError before any frame is
// sent. Any other failure leaves the token in the state produced by its last
// successful frame; re-running Update with the same image resumes safely.
//
// Example:
//
//	img, _ := fwimage.ReadFile("update.blob", fwimage.DefaultLayout())
//	err := u.Update(ctx, img, false)
func (u *Updater) Update(ctx context.Context, img *fwimage.UpdateImage, cleanFileSystem bool) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if img == nil {
		return fmt.Errorf("image cannot be nil")
	}

	result := resultFailed
	defer func() { u.metrics.updateDone(result) }()

	startTime := time.Now()
	u.reportProgress(Progress{Phase: PhaseConnecting})

	frames, err := protocol.BuildFrames(img, u.config.Layout, cleanFileSystem)
	if err != nil {
		return fmt.Errorf("build frames: %w", err)
	}

	if err := u.ensureOpen(ctx); err != nil {
		return err
	}

	u.reportProgress(Progress{Phase: PhaseChecking, ElapsedTime: time.Since(startTime)})

	info, err := u.deviceInfo()
	if err != nil {
		return fmt.Errorf("get device info: %w", err)
	}

	u.logDebug("device info", "mode", u.mode.String(), "info", info.String())
	u.logDebug("image info", "header", img.Header.String(), "clean_fs", cleanFileSystem)

	if err := policy.Check(img.Header, *info, cleanFileSystem); err != nil {
		result = resultRejected
		if r, ok := policy.ReasonOf(err); ok {
			u.logError("update rejected", "reason", r.String(), "message", r.Message())
		}
		return err
	}

	steps, err := Plan(u.mode, *info, img.Header)
	if err != nil {
		return err
	}

	total := 0
	for _, s := range steps {
		if s.Action == ActionLoad {
			total += len(regionFrames(frames, s.Region))
		}
	}
	u.progress = &tracker{start: startTime, total: total}
	defer func() { u.progress = nil }()

	u.logInfo("update started", "mode", u.mode.String(), "steps", len(steps), "frames", total)

	for i, s := range steps {
		u.logDebug("executing step", "step", i+1, "steps", len(steps), "action", s.String())

		switch s.Action {
		case ActionLoad:
			if err := u.loadFrames(ctx, s.Region, regionFrames(frames, s.Region)); err != nil {
				return fmt.Errorf("load %s: %w", s.Region, err)
			}
		case ActionSwitch:
			if u.mode.Other() != s.Target {
				return fmt.Errorf("step %d: cannot switch from %s to %s", i+1, u.mode, s.Target)
			}
			if err := u.switchMode(ctx); err != nil {
				return fmt.Errorf("switch to %s: %w", s.Target, err)
			}
		default:
			return fmt.Errorf("step %d: unknown action %d", i+1, s.Action)
		}
	}

	result = resultSuccess
	u.reportProgress(Progress{
		Phase:       PhaseComplete,
		Percentage:  100,
		ElapsedTime: time.Since(startTime),
	})
	u.logInfo("update complete",
		"device_id", fmt.Sprintf("0x%X", img.DeviceID),
		"firmware_version", fmt.Sprintf("0x%X", img.FirmwareVersion),
		"bootloader_version", fmt.Sprintf("0x%X", img.BootloaderVersion),
		"elapsed", time.Since(startTime).String(),
	)
	return nil
}

func regionFrames(frames *protocol.FrameSet, region fwimage.Region) []protocol.Command {
	if region == fwimage.RegionBootloader {
		return frames.Bootloader
	}
	return frames.Firmware
}

// ensureOpen connects to the token unless already connected.
func (u *Updater) ensureOpen(ctx context.Context) error {
	if u.card != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	readers, err := u.hub.Readers()
	if err != nil {
		return fmt.Errorf("%w: list readers: %w", ErrDeviceUnavailable, err)
	}

	reader, mode, ok := u.findReader(readers)
	if !ok {
		return fmt.Errorf("%w: no reader matching %q or %q",
			ErrDeviceUnavailable, u.config.BootloaderReader, u.config.FirmwareReader)
	}
	return u.connect(reader, mode)
}

// findReader picks the bootloader reader when present, else the firmware reader.
func (u *Updater) findReader(readers []string) (string, Mode, bool) {
	for _, mode := range []Mode{ModeBootloader, ModeFirmware} {
		prefix := u.prefix(mode)
		for _, r := range readers {
			if strings.HasPrefix(r, prefix) {
				return r, mode, true
			}
		}
	}
	return "", 0, false
}

func (u *Updater) prefix(mode Mode) string {
	if mode == ModeBootloader {
		return u.config.BootloaderReader
	}
	return u.config.FirmwareReader
}

func (u *Updater) connect(reader string, mode Mode) error {
	card, err := u.hub.Connect(reader)
	if err != nil {
		return fmt.Errorf("%w: connect %q: %w", ErrDeviceUnavailable, reader, err)
	}

	u.card = card
	u.reader = reader
	u.mode = mode
	u.selected = false

	u.logDebug("connected", "reader", reader, "mode", mode.String())
	return nil
}

func (u *Updater) disconnect() error {
	if u.card == nil {
		return nil
	}

	err := u.card.Close()
	u.card = nil
	u.reader = ""
	u.mode = 0
	u.selected = false
	return err
}

// selectApplet selects the control applet once per firmware-mode connection.
func (u *Updater) selectApplet() error {
	if u.mode != ModeFirmware || u.selected {
		return nil
	}

	cmd, err := protocol.BuildSelectControlAppletCmd()
	if err != nil {
		return err
	}
	if _, err := u.exchange("select control applet", cmd); err != nil {
		return err
	}
	u.selected = true
	return nil
}

func (u *Updater) deviceInfo() (*protocol.DeviceInfo, error) {
	if err := u.selectApplet(); err != nil {
		return nil, err
	}

	cmd, err := protocol.BuildGetDeviceInfoCmd()
	if err != nil {
		return nil, err
	}

	data, err := u.exchange("get device info", cmd)
	if err != nil {
		return nil, err
	}
	return protocol.ParseDeviceInfo(data)
}

func (u *Updater) switchMode(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	from := u.mode
	target := from.Other()

	var cmd protocol.Command
	var err error
	switch from {
	case ModeFirmware:
		if err := u.selectApplet(); err != nil {
			return err
		}
		cmd, err = protocol.BuildSwitchToBootloaderCmd()
	case ModeBootloader:
		cmd, err = protocol.BuildSwitchToFirmwareCmd()
	default:
		return fmt.Errorf("cannot switch from %s", from)
	}
	if err != nil {
		return err
	}

	if _, err := u.exchange("switch to "+target.String(), cmd); err != nil {
		return err
	}

	if err := u.disconnect(); err != nil {
		u.logDebug("disconnect after switch", "error", err)
	}

	u.logInfo("switching mode, waiting for device to re-enumerate", "from", from.String(), "to", target.String())
	u.reportProgress(u.trackedProgress(Progress{Phase: PhaseSwitching, Mode: target}))

	start := time.Now()
	reader, err := u.waitForReader(ctx, u.prefix(target))
	if err != nil {
		return fmt.Errorf("wait for %s reader: %w", target, err)
	}
	if err := sleepContext(ctx, u.config.SettleDelay); err != nil {
		return err
	}
	u.metrics.switched(target, time.Since(start).Seconds())

	if err := u.connect(reader, target); err != nil {
		return err
	}
	u.logInfo("mode switched", "mode", target.String(), "reader", reader)
	return nil
}

// waitForReader blocks until a reader named with prefix is attached.
// List failures are tolerated; the hub is expected to recover on the next poll.
func (u *Updater) waitForReader(ctx context.Context, prefix string) (string, error) {
	if w, ok := u.hub.(ReaderWaiter); ok {
		return w.WaitForReader(ctx, prefix)
	}

	limiter := rate.NewLimiter(rate.Every(u.config.PollInterval), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			return "", fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
		}

		readers, err := u.hub.Readers()
		if err != nil {
			u.logDebug("list readers failed during replug wait", "error", err)
			continue
		}
		for _, r := range readers {
			if strings.HasPrefix(r, prefix) {
				return r, nil
			}
		}
	}
}

func (u *Updater) loadFrames(ctx context.Context, region fwimage.Region, frames []protocol.Command) error {
	required := ModeBootloader
	if region == fwimage.RegionBootloader {
		required = ModeFirmware
	}
	if u.mode != required {
		return &ModeError{Operation: "load " + region.String(), Required: required, Current: u.mode}
	}
	if err := u.selectApplet(); err != nil {
		return err
	}

	start := time.Now()
	label := region.String()
	total := len(frames)

	u.logInfo("loading image", "region", label, "frames", total)

	for i, frame := range frames {
		if err := ctx.Err(); err != nil {
			return &FrameError{Region: region, Index: i, Total: total, Err: err}
		}

		if _, err := u.exchange(frameOperation(frame), frame); err != nil {
			u.metrics.frameFailed(label)
			u.logError("frame failed", "region", label, "index", i, "error", err)
			return &FrameError{Region: region, Index: i, Total: total, Err: err}
		}
		u.metrics.frameSent(label)

		p := Progress{
			Phase:        PhaseLoading,
			Region:       region,
			CurrentFrame: i + 1,
			TotalFrames:  total,
			Percentage:   float64(i+1) / float64(total) * 100,
			ElapsedTime:  time.Since(start),
		}
		if u.progress != nil {
			u.progress.done++
		}
		u.reportProgress(u.trackedProgress(p))
	}

	u.logInfo("image loaded", "region", label, "elapsed", time.Since(start).String())
	return nil
}

// trackedProgress rewrites p relative to the running Update, if any.
func (u *Updater) trackedProgress(p Progress) Progress {
	if u.progress == nil {
		return p
	}
	if u.progress.total > 0 {
		// Switches are not counted; the final switch leaves the bar just below 100.
		p.Percentage = float64(u.progress.done) / float64(u.progress.total) * 99
	}
	p.ElapsedTime = time.Since(u.progress.start)
	return p
}

func frameOperation(frame protocol.Command) string {
	switch frame.Ins() {
	case protocol.InsSetImageInfo:
		return "set image info"
	case protocol.InsLoadChunk:
		return "load chunk"
	case protocol.InsCommit:
		return "commit"
	default:
		return fmt.Sprintf("command 0x%02X", frame.Ins())
	}
}

// exchange transmits cmd and checks the status word. A transport failure
// drops the connection.
func (u *Updater) exchange(operation string, cmd protocol.Command) ([]byte, error) {
	if u.card == nil {
		return nil, fmt.Errorf("%s: %w", operation, ErrDeviceUnavailable)
	}

	resp, err := u.card.Transmit(cmd)
	if err != nil {
		// The card is gone or the reader was reset; the next operation
		// locates the token again.
		if cerr := u.disconnect(); cerr != nil {
			u.logDebug("disconnect after transport error", "error", cerr)
		}
		return nil, fmt.Errorf("%s: %w: %w", operation, protocol.ErrInvalidResponse, err)
	}
	return protocol.CheckResponse(operation, resp)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// reportProgress calls the progress callback if configured.
func (u *Updater) reportProgress(progress Progress) {
	if u.config.ProgressCallback != nil {
		u.config.ProgressCallback(progress)
	}
}

// logDebug logs a debug message if a logger is configured.
func (u *Updater) logDebug(msg string, keysAndValues ...interface{}) {
	if u.config.Logger != nil {
		u.config.Logger.Debug(msg, keysAndValues...)
	}
}

// logInfo logs an info message if a logger is configured.
func (u *Updater) logInfo(msg string, keysAndValues ...interface{}) {
	if u.config.Logger != nil {
		u.config.Logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if a logger is configured.
func (u *Updater) logError(msg string, keysAndValues ...interface{}) {
	if u.config.Logger != nil {
		u.config.Logger.Error(msg, keysAndValues...)
	}
}
