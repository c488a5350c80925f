package updater

import (
	"fmt"

	"github.com/moffa90/go-secalot/fwimage"
	"github.com/moffa90/go-secalot/protocol"
)

// Action is the kind of a plan step.
type Action int

const (
	// ActionLoad sends the frame sequence of Step.Region
	ActionLoad Action = iota + 1

	// ActionSwitch switches the token to Step.Target and waits for it to return
	ActionSwitch
)

// Step is one stage of an update.
type Step struct {
	Action Action
	Region fwimage.Region
	Target Mode
}

func (s Step) String() string {
	switch s.Action {
	case ActionLoad:
		return "load " + s.Region.String()
	case ActionSwitch:
		return "switch to " + s.Target.String()
	default:
		return fmt.Sprintf("step(%d)", int(s.Action))
	}
}

func loadStep(region fwimage.Region) Step {
	return Step{Action: ActionLoad, Region: region}
}

func switchStep(target Mode) Step {
	return Step{Action: ActionSwitch, Target: target}
}

// Plan returns the steps that bring a token running start, in state dev, to
// the versions of img. It assumes policy.Check already accepted the pair.
//
// A bootloader region write is planned when the versions differ; when the
// token runs its firmware, an unbootable bootloader is rewritten too. The
// firmware region is always written and the token always ends in firmware
// mode.
//
// Re-running a plan after an interruption converges: steps whose versions
// already match are skipped.
func Plan(start Mode, dev protocol.DeviceInfo, img fwimage.Header) ([]Step, error) {
	blDiffers := dev.BootloaderVersion != img.BootloaderVersion

	switch start {
	case ModeBootloader:
		var steps []Step
		if blDiffers {
			steps = append(steps,
				switchStep(ModeFirmware),
				loadStep(fwimage.RegionBootloader),
				switchStep(ModeBootloader),
			)
		}
		return append(steps,
			loadStep(fwimage.RegionFirmware),
			switchStep(ModeFirmware),
		), nil

	case ModeFirmware:
		var steps []Step
		if blDiffers || !dev.BootloaderIsBootable {
			steps = append(steps, loadStep(fwimage.RegionBootloader))
		}
		return append(steps,
			switchStep(ModeBootloader),
			loadStep(fwimage.RegionFirmware),
			switchStep(ModeFirmware),
		), nil

	default:
		return nil, fmt.Errorf("cannot plan update from %s", start)
	}
}
