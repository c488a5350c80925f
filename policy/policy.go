// Package policy decides whether an update image may be applied to a device.
//
// Check is pure: it looks only at the image header, the live device state
// and whether the operator asked for the filesystem to be cleaned. Rules are
// evaluated in a fixed order and the first violated rule is reported, so the
// operator always sees the most fundamental problem first.
package policy

import (
	"errors"
	"fmt"

	"github.com/moffa90/go-secalot/fwimage"
	"github.com/moffa90/go-secalot/protocol"
)

// Reason identifies the rule an image failed. Values are stable and start at 1.
type Reason int

const (
	// WrongDevice: the image targets a different hardware revision
	WrongDevice Reason = iota + 1

	// FirmwareDowngrade: the image firmware is older than the installed one
	FirmwareDowngrade

	// BootloaderDowngrade: the image bootloader is older than the installed one
	BootloaderDowngrade

	// FileSystemDowngrade: the image filesystem is older than the installed one
	FileSystemDowngrade

	// FileSystemUpgradeNeedsWipe: a newer filesystem requires cleaning
	FileSystemUpgradeNeedsWipe

	// InterruptedWipeMustResume: a previous clean update never committed
	InterruptedWipeMustResume

	// InterruptedUpdateMustResumeSameImage: a previous bootloader write left
	// the firmware unbootable and only the same bootloader version may resume
	InterruptedUpdateMustResumeSameImage
)

// String returns the short identifier of the reason.
func (r Reason) String() string {
	switch r {
	case WrongDevice:
		return "wrong device"
	case FirmwareDowngrade:
		return "firmware downgrade"
	case BootloaderDowngrade:
		return "bootloader downgrade"
	case FileSystemDowngrade:
		return "filesystem downgrade"
	case FileSystemUpgradeNeedsWipe:
		return "filesystem upgrade needs wipe"
	case InterruptedWipeMustResume:
		return "interrupted wipe must resume"
	case InterruptedUpdateMustResumeSameImage:
		return "interrupted update must resume with same image"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// Message returns the operator-facing explanation of the reason. Reasons
// that are resolved by cleaning the filesystem report NeedsClean.
func (r Reason) Message() string {
	switch r {
	case WrongDevice:
		return "This update is targeting a different device version."
	case FirmwareDowngrade, BootloaderDowngrade, FileSystemDowngrade:
		return "A downgrade can not be performed."
	case FileSystemUpgradeNeedsWipe:
		return "This update can only be applied together with cleaning a file system."
	case InterruptedWipeMustResume:
		return "An update performed on this device was interrupted while cleaning a file system."
	case InterruptedUpdateMustResumeSameImage:
		return "Previous update was interrupted. Please continue with the exact same update image file."
	default:
		return "The update image is not suitable for this device."
	}
}

// NeedsClean reports whether retrying with filesystem cleaning resolves r.
func (r Reason) NeedsClean() bool {
	return r == FileSystemUpgradeNeedsWipe || r == InterruptedWipeMustResume
}

// ErrNotSuitable is matched by every *NotSuitableError.
var ErrNotSuitable = errors.New("update image not suitable")

// NotSuitableError reports the first rule an image failed.
type NotSuitableError struct {
	Reason Reason
}

func (e *NotSuitableError) Error() string {
	return fmt.Sprintf("update image not suitable: %s (reason %d)", e.Reason, int(e.Reason))
}

// Is reports ErrNotSuitable.
func (e *NotSuitableError) Is(target error) bool {
	return target == ErrNotSuitable
}

// ReasonOf extracts the reason code from err, if it carries one.
func ReasonOf(err error) (Reason, bool) {
	var nse *NotSuitableError
	if errors.As(err, &nse) {
		return nse.Reason, true
	}
	return 0, false
}

// Check returns nil if img may be applied to dev, or a *NotSuitableError
// naming the first violated rule.
//
// Example:
//
//	if err := policy.Check(img.Header, *info, false); err != nil {
//	    if reason, ok := policy.ReasonOf(err); ok {
//	        fmt.Println(reason.Message())
//	    }
//	}
func Check(img fwimage.Header, dev protocol.DeviceInfo, cleanFileSystem bool) error {
	if r := firstViolation(img, dev, cleanFileSystem); r != 0 {
		return &NotSuitableError{Reason: r}
	}
	return nil
}

func firstViolation(img fwimage.Header, dev protocol.DeviceInfo, clean bool) Reason {
	switch {
	case img.DeviceID != dev.DeviceID:
		return WrongDevice
	case img.FirmwareVersion < dev.FirmwareVersion:
		return FirmwareDowngrade
	case img.BootloaderVersion < dev.BootloaderVersion:
		return BootloaderDowngrade
	case img.FileSystemVersion < dev.FileSystemVersion:
		return FileSystemDowngrade
	case !clean && img.FileSystemVersion > dev.FileSystemVersion:
		return FileSystemUpgradeNeedsWipe
	case !clean && dev.FileSystemUpdateInProgress:
		return InterruptedWipeMustResume
	case img.BootloaderVersion != dev.BootloaderVersion && !dev.FirmwareIsBootable:
		return InterruptedUpdateMustResumeSameImage
	}
	return 0
}
