package updater

import (
	"time"

	"github.com/moffa90/go-secalot/fwimage"
)

// Update phases reported through Progress.Phase.
const (
	PhaseConnecting = "connecting"
	PhaseChecking   = "checking"
	PhaseLoading    = "loading"
	PhaseSwitching  = "switching"
	PhaseComplete   = "complete"
)

// Progress contains information about the update progress.
// Passed to ProgressCallback during update operations.
type Progress struct {
	// Phase describes the current operation phase:
	//   "connecting" - Locating the token and opening its reader
	//   "checking"   - Reading device info and validating the image
	//   "loading"    - Sending the frames of Region
	//   "switching"  - Waiting for the token to re-enumerate in Mode
	//   "complete"   - Operation completed successfully
	Phase string

	// Region is the flash region being loaded (PhaseLoading only)
	Region fwimage.Region

	// Mode is the mode being switched to (PhaseSwitching only)
	Mode Mode

	// CurrentFrame is the number of frames of Region sent so far
	CurrentFrame int

	// TotalFrames is the number of frames of Region
	TotalFrames int

	// Percentage is the completion percentage (0.0 to 100.0). Within Update
	// it covers every frame of the plan; for a bare LoadFrames call it covers
	// that frame sequence only.
	Percentage float64

	// ElapsedTime is the time elapsed since the operation started
	ElapsedTime time.Duration
}

// ProgressCallback is called periodically during an update to report progress.
// Implementations should return quickly to avoid blocking the frame exchange.
//
// Example:
//
//	u := updater.New(hub,
//	    updater.WithProgressCallback(func(p updater.Progress) {
//	        fmt.Printf("[%s] %.1f%% - %s frame %d/%d\n",
//	            p.Phase, p.Percentage, p.Region, p.CurrentFrame, p.TotalFrames)
//	    }),
//	)
type ProgressCallback func(Progress)

// Logger is an optional logging interface that can be provided to the updater.
// *slog.Logger satisfies it.
//
// Example:
//
//	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
//	u := updater.New(hub, updater.WithLogger(logger))
type Logger interface {
	// Debug logs a debug message with optional key-value pairs
	Debug(msg string, keysAndValues ...interface{})

	// Info logs an info message with optional key-value pairs
	Info(msg string, keysAndValues ...interface{})

	// Error logs an error message with optional key-value pairs
	Error(msg string, keysAndValues ...interface{})
}
