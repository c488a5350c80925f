package updater

import (
	"errors"
	"fmt"

	"github.com/moffa90/go-secalot/fwimage"
)

// ErrDeviceUnavailable is returned when no reader matching a token mode is
// attached or its card cannot be opened. The operator may retry.
var ErrDeviceUnavailable = errors.New("device unavailable")

// FrameError identifies the frame whose exchange failed. The whole frame
// sequence of the region must be restarted; the device keeps its own chunk
// counter and cannot resume mid-sequence.
type FrameError struct {
	Region fwimage.Region
	Index  int
	Total  int
	Err    error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("%s frame %d/%d: %v", e.Region, e.Index+1, e.Total, e.Err)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// ModeError indicates an operation that the token cannot perform in its
// current mode.
type ModeError struct {
	Operation string
	Required  Mode
	Current   Mode
}

func (e *ModeError) Error() string {
	return fmt.Sprintf("%s requires %s mode, device is in %s mode", e.Operation, e.Required, e.Current)
}
