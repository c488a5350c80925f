package policy

import (
	"errors"
	"fmt"
	"testing"

	"github.com/moffa90/go-secalot/fwimage"
	"github.com/moffa90/go-secalot/protocol"
)

func baseline() (fwimage.Header, protocol.DeviceInfo) {
	img := fwimage.Header{DeviceID: 1, FirmwareVersion: 5, FileSystemVersion: 2, BootloaderVersion: 3}
	dev := protocol.DeviceInfo{
		DeviceID:             1,
		FirmwareVersion:      5,
		FileSystemVersion:    2,
		BootloaderVersion:    3,
		FirmwareIsBootable:   true,
		BootloaderIsBootable: true,
	}
	return img, dev
}

func TestCheckRules(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(img *fwimage.Header, dev *protocol.DeviceInfo)
		clean bool
		want  Reason
	}{
		{name: "identical versions", edit: func(*fwimage.Header, *protocol.DeviceInfo) {}},
		{name: "firmware upgrade", edit: func(img *fwimage.Header, _ *protocol.DeviceInfo) { img.FirmwareVersion = 6 }},
		{name: "bootloader upgrade", edit: func(img *fwimage.Header, _ *protocol.DeviceInfo) { img.BootloaderVersion = 4 }},
		{
			name: "wrong device",
			edit: func(img *fwimage.Header, _ *protocol.DeviceInfo) { img.DeviceID = 2 },
			want: WrongDevice,
		},
		{
			name: "firmware downgrade",
			edit: func(img *fwimage.Header, _ *protocol.DeviceInfo) { img.FirmwareVersion = 4 },
			want: FirmwareDowngrade,
		},
		{
			name: "bootloader downgrade",
			edit: func(img *fwimage.Header, _ *protocol.DeviceInfo) { img.BootloaderVersion = 2 },
			want: BootloaderDowngrade,
		},
		{
			name: "filesystem downgrade",
			edit: func(img *fwimage.Header, _ *protocol.DeviceInfo) { img.FileSystemVersion = 1 },
			want: FileSystemDowngrade,
		},
		{
			name:  "filesystem downgrade even with clean",
			edit:  func(img *fwimage.Header, _ *protocol.DeviceInfo) { img.FileSystemVersion = 1 },
			clean: true,
			want:  FileSystemDowngrade,
		},
		{
			name: "filesystem upgrade without clean",
			edit: func(img *fwimage.Header, dev *protocol.DeviceInfo) {
				img.FileSystemVersion = 3
				dev.FileSystemVersion = 2
			},
			want: FileSystemUpgradeNeedsWipe,
		},
		{
			name: "filesystem upgrade with clean",
			edit: func(img *fwimage.Header, _ *protocol.DeviceInfo) {
				img.FileSystemVersion = 3
			},
			clean: true,
		},
		{
			name: "interrupted wipe without clean",
			edit: func(_ *fwimage.Header, dev *protocol.DeviceInfo) { dev.FileSystemUpdateInProgress = true },
			want: InterruptedWipeMustResume,
		},
		{
			name:  "interrupted wipe resumed with clean",
			edit:  func(_ *fwimage.Header, dev *protocol.DeviceInfo) { dev.FileSystemUpdateInProgress = true },
			clean: true,
		},
		{
			name: "interrupted bootloader write with new bootloader",
			edit: func(img *fwimage.Header, dev *protocol.DeviceInfo) {
				img.BootloaderVersion = 4
				dev.FirmwareIsBootable = false
			},
			want: InterruptedUpdateMustResumeSameImage,
		},
		{
			name: "interrupted bootloader write resumed with same version",
			edit: func(_ *fwimage.Header, dev *protocol.DeviceInfo) { dev.FirmwareIsBootable = false },
		},
		{
			name: "bootloader not bootable is not a policy failure",
			edit: func(_ *fwimage.Header, dev *protocol.DeviceInfo) { dev.BootloaderIsBootable = false },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, dev := baseline()
			tt.edit(&img, &dev)

			err := Check(img, dev, tt.clean)
			if tt.want == 0 {
				if err != nil {
					t.Fatalf("Check() = %v, want nil", err)
				}
				return
			}

			got, ok := ReasonOf(err)
			if !ok {
				t.Fatalf("Check() = %v, want reason %v", err, tt.want)
			}
			if got != tt.want {
				t.Errorf("reason = %v, want %v", got, tt.want)
			}
			if !errors.Is(err, ErrNotSuitable) {
				t.Error("error should match ErrNotSuitable")
			}
		})
	}
}

// Every combination of violations must report the lowest-numbered rule,
// with and without a filesystem clean.
func TestCheckFirstRuleWins(t *testing.T) {
	type violation func(img *fwimage.Header, dev *protocol.DeviceInfo)

	// Entry i violates exactly rule i+1 when applied alone to the baseline
	// with clean=false. Rule 7 uses a bootloader upgrade so it does not also
	// trip rule 3.
	violations := []violation{
		func(img *fwimage.Header, _ *protocol.DeviceInfo) { img.DeviceID = 9 },
		func(img *fwimage.Header, _ *protocol.DeviceInfo) { img.FirmwareVersion = 1 },
		func(_ *fwimage.Header, dev *protocol.DeviceInfo) { dev.BootloaderVersion = 10 },
		func(_ *fwimage.Header, dev *protocol.DeviceInfo) { dev.FileSystemVersion = 10 },
		func(img *fwimage.Header, _ *protocol.DeviceInfo) { img.FileSystemVersion = 20 },
		func(_ *fwimage.Header, dev *protocol.DeviceInfo) { dev.FileSystemUpdateInProgress = true },
		func(img *fwimage.Header, dev *protocol.DeviceInfo) {
			img.BootloaderVersion = 30
			dev.FirmwareIsBootable = false
		},
	}
	if len(violations) != int(InterruptedUpdateMustResumeSameImage) {
		t.Fatalf("%d violations for %d rules", len(violations), InterruptedUpdateMustResumeSameImage)
	}

	for _, clean := range []bool{false, true} {
		for mask := 1; mask < 1<<len(violations); mask++ {
			img, dev := baseline()
			for i := len(violations) - 1; i >= 0; i-- {
				if mask&(1<<i) != 0 {
					violations[i](&img, &dev)
				}
			}

			want := expectedReason(img, dev, clean)
			t.Run(fmt.Sprintf("clean=%t/mask=%07b", clean, mask), func(t *testing.T) {
				got, ok := ReasonOf(Check(img, dev, clean))
				if want == 0 {
					if ok {
						t.Fatalf("reason = %v, want none", got)
					}
					return
				}
				if !ok || got != want {
					t.Errorf("reason = %v, want %v", got, want)
				}
			})
		}
	}
}

// expectedReason evaluates each rule independently and returns the lowest
// one that is violated. A clean request satisfies rules 5 and 6.
func expectedReason(img fwimage.Header, dev protocol.DeviceInfo, clean bool) Reason {
	checks := []bool{
		img.DeviceID != dev.DeviceID,
		img.FirmwareVersion < dev.FirmwareVersion,
		img.BootloaderVersion < dev.BootloaderVersion,
		img.FileSystemVersion < dev.FileSystemVersion,
		!clean && img.FileSystemVersion > dev.FileSystemVersion,
		!clean && dev.FileSystemUpdateInProgress,
		img.BootloaderVersion != dev.BootloaderVersion && !dev.FirmwareIsBootable,
	}
	for i, violated := range checks {
		if violated {
			return Reason(i + 1)
		}
	}
	return 0
}

func TestCheckIsPure(t *testing.T) {
	img, dev := baseline()
	img.DeviceID = 7
	before := dev

	for i := 0; i < 3; i++ {
		if r, _ := ReasonOf(Check(img, dev, false)); r != WrongDevice {
			t.Fatalf("call %d: reason = %v, want %v", i, r, WrongDevice)
		}
	}
	if dev != before {
		t.Error("Check modified the device info")
	}
}

func TestReasonMessages(t *testing.T) {
	tests := []struct {
		reason     Reason
		message    string
		needsClean bool
	}{
		{WrongDevice, "This update is targeting a different device version.", false},
		{FirmwareDowngrade, "A downgrade can not be performed.", false},
		{BootloaderDowngrade, "A downgrade can not be performed.", false},
		{FileSystemDowngrade, "A downgrade can not be performed.", false},
		{FileSystemUpgradeNeedsWipe, "This update can only be applied together with cleaning a file system.", true},
		{InterruptedWipeMustResume, "An update performed on this device was interrupted while cleaning a file system.", true},
		{InterruptedUpdateMustResumeSameImage, "Previous update was interrupted. Please continue with the exact same update image file.", false},
	}

	for _, tt := range tests {
		t.Run(tt.reason.String(), func(t *testing.T) {
			if got := tt.reason.Message(); got != tt.message {
				t.Errorf("Message() = %q, want %q", got, tt.message)
			}
			if got := tt.reason.NeedsClean(); got != tt.needsClean {
				t.Errorf("NeedsClean() = %t, want %t", got, tt.needsClean)
			}
		})
	}

	if got := Reason(42).String(); got != "reason(42)" {
		t.Errorf("String() of unknown reason = %q", got)
	}
}

func TestNotSuitableError(t *testing.T) {
	err := fmt.Errorf("upload: %w", &NotSuitableError{Reason: FileSystemUpgradeNeedsWipe})

	if !errors.Is(err, ErrNotSuitable) {
		t.Error("wrapped error should match ErrNotSuitable")
	}
	if r, ok := ReasonOf(err); !ok || r != FileSystemUpgradeNeedsWipe {
		t.Errorf("ReasonOf() = %v, %t", r, ok)
	}
	if _, ok := ReasonOf(errors.New("other")); ok {
		t.Error("ReasonOf(other) reported a reason")
	}
}
