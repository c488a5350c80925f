package updater

import (
	"strings"
	"testing"

	"github.com/moffa90/go-secalot/fwimage"
	"github.com/moffa90/go-secalot/protocol"
)

func TestPlan(t *testing.T) {
	bootable := protocol.DeviceInfo{BootloaderVersion: 1, FirmwareIsBootable: true, BootloaderIsBootable: true}
	unbootableBL := bootable
	unbootableBL.BootloaderIsBootable = false

	tests := []struct {
		name  string
		start Mode
		dev   protocol.DeviceInfo
		blVer uint32
		want  string
	}{
		{
			name:  "bootloader start, same bootloader",
			start: ModeBootloader,
			dev:   bootable,
			blVer: 1,
			want:  "load firmware, switch to firmware",
		},
		{
			name:  "bootloader start, new bootloader",
			start: ModeBootloader,
			dev:   bootable,
			blVer: 2,
			want:  "switch to firmware, load bootloader, switch to bootloader, load firmware, switch to firmware",
		},
		{
			name:  "bootloader start ignores bootable flag",
			start: ModeBootloader,
			dev:   unbootableBL,
			blVer: 1,
			want:  "load firmware, switch to firmware",
		},
		{
			name:  "firmware start, same bootloader",
			start: ModeFirmware,
			dev:   bootable,
			blVer: 1,
			want:  "switch to bootloader, load firmware, switch to firmware",
		},
		{
			name:  "firmware start, new bootloader",
			start: ModeFirmware,
			dev:   bootable,
			blVer: 2,
			want:  "load bootloader, switch to bootloader, load firmware, switch to firmware",
		},
		{
			name:  "firmware start, bootloader not bootable",
			start: ModeFirmware,
			dev:   unbootableBL,
			blVer: 1,
			want:  "load bootloader, switch to bootloader, load firmware, switch to firmware",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			steps, err := Plan(tt.start, tt.dev, fwimage.Header{BootloaderVersion: tt.blVer})
			if err != nil {
				t.Fatalf("Plan() error = %v", err)
			}

			names := make([]string, len(steps))
			for i, s := range steps {
				names[i] = s.String()
			}
			if got := strings.Join(names, ", "); got != tt.want {
				t.Errorf("Plan() = %s, want %s", got, tt.want)
			}

			last := steps[len(steps)-1]
			if last.Action != ActionSwitch || last.Target != ModeFirmware {
				t.Errorf("last step = %v, want switch to firmware", last)
			}
		})
	}
}

// Every switch in a plan leads away from the mode the previous steps left,
// and every load happens in the mode that can write its region.
func TestPlanIsExecutable(t *testing.T) {
	for _, start := range []Mode{ModeBootloader, ModeFirmware} {
		for _, blVer := range []uint32{1, 2} {
			for _, blBootable := range []bool{true, false} {
				dev := protocol.DeviceInfo{BootloaderVersion: 1, BootloaderIsBootable: blBootable}
				steps, err := Plan(start, dev, fwimage.Header{BootloaderVersion: blVer})
				if err != nil {
					t.Fatalf("Plan(%v) error = %v", start, err)
				}

				mode := start
				for _, s := range steps {
					switch s.Action {
					case ActionSwitch:
						if s.Target != mode.Other() {
							t.Fatalf("%v: switch to %v from %v", start, s.Target, mode)
						}
						mode = s.Target
					case ActionLoad:
						if s.Region == fwimage.RegionFirmware && mode != ModeBootloader ||
							s.Region == fwimage.RegionBootloader && mode != ModeFirmware {
							t.Fatalf("%v: load %v in %v mode", start, s.Region, mode)
						}
					}
				}
			}
		}
	}
}

func TestPlanInvalidMode(t *testing.T) {
	if _, err := Plan(Mode(0), protocol.DeviceInfo{}, fwimage.Header{}); err == nil {
		t.Error("Plan(Mode(0)) succeeded, want error")
	}
}

func TestMode(t *testing.T) {
	tests := []struct {
		mode  Mode
		str   string
		other Mode
		valid bool
	}{
		{ModeBootloader, "bootloader", ModeFirmware, true},
		{ModeFirmware, "firmware", ModeBootloader, true},
		{Mode(7), "mode(7)", Mode(7), false},
	}

	for _, tt := range tests {
		t.Run(tt.str, func(t *testing.T) {
			if got := tt.mode.String(); got != tt.str {
				t.Errorf("String() = %q, want %q", got, tt.str)
			}
			if got := tt.mode.Other(); got != tt.other {
				t.Errorf("Other() = %v, want %v", got, tt.other)
			}
			if got := tt.mode.Valid(); got != tt.valid {
				t.Errorf("Valid() = %t, want %t", got, tt.valid)
			}
		})
	}
}
