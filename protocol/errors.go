package protocol

import (
	"errors"
	"fmt"
)

// ErrInvalidResponse is returned when the device or the transport violates
// the protocol: a non-success status word, a truncated response or a
// response of the wrong size.
var ErrInvalidResponse = errors.New("invalid device response")

// ProtocolError represents a non-success status word returned by the device.
type ProtocolError struct {
	// Operation is the command that failed
	Operation string

	// StatusWord is SW1 SW2 of the response
	StatusWord uint16
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s failed: %s (0x%04X)", e.Operation, StatusName(e.StatusWord), e.StatusWord)
}

// Is reports ErrInvalidResponse.
func (e *ProtocolError) Is(target error) bool {
	return target == ErrInvalidResponse
}

// IsProtocolError returns true if err is or wraps a ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// StatusName returns a human-readable name for a status word.
func StatusName(sw uint16) string {
	switch sw {
	case StatusSuccess:
		return "success"
	case StatusWrongLength:
		return "wrong length"
	case StatusSecurityNotSatisfied:
		return "security status not satisfied"
	case StatusConditionsNotSatisfied:
		return "conditions of use not satisfied"
	case StatusWrongData:
		return "wrong data"
	case StatusFileNotFound:
		return "applet not found"
	case StatusWrongP1P2:
		return "wrong parameters"
	case StatusInsNotSupported:
		return "instruction not supported"
	case StatusClaNotSupported:
		return "class not supported"
	case StatusUnknown:
		return "unknown error"
	default:
		return fmt.Sprintf("unknown status word 0x%04X", sw)
	}
}
