// Package gpio binds the chamber controller to gpiochip lines on Linux.
//
// A YAML device profile maps the controller's logical signal and actuator
// names to chip line offsets, so the wiring of a specific cabinet lives in
// configuration rather than code. Open requests every line up front and
// returns a chamber.Devices table; on non-Linux platforms Open returns a
// descriptive error.
package gpio

import (
	"bytes"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/avena-robotics/avena-commons-sub002/chamber"
)

// DefaultChip is the gpiochip used when the profile does not name one.
const DefaultChip = "gpiochip0"

// requiredInputs are the signals a profile must map.
var requiredInputs = []chamber.Signal{
	chamber.SignalChamberOpen,
	chamber.SignalPartitionUp,
	chamber.SignalPartitionDown,
	chamber.SignalLockLocked,
	chamber.SignalLockUnlocked,
	chamber.SignalMotorFault,
}

// Line describes one gpiochip line assignment.
type Line struct {
	// Line is the chip line offset.
	Line int `yaml:"line"`
	// ActiveLow inverts the electrical level; the controller always sees the
	// logical value.
	ActiveLow bool `yaml:"active_low"`
}

// Outputs maps the actuator lines.
type Outputs struct {
	// Lock drives the service gate lock relay; active means locked.
	Lock *Line `yaml:"lock"`
	// PartitionUpDrive energizes the raise contactor.
	PartitionUpDrive *Line `yaml:"partition_up_drive"`
	// PartitionDownDrive energizes the lower contactor.
	PartitionDownDrive *Line `yaml:"partition_down_drive"`
	// FaultReset pulses the drive's fault reset input. Optional; without it a
	// reset request is a no-op for drives that clear on their own.
	FaultReset *Line `yaml:"fault_reset"`
}

// Indicator maps the status lamp channels. All three must be present for the
// indicator to be offered to the controller.
type Indicator struct {
	Red   *Line `yaml:"red"`
	Green *Line `yaml:"green"`
	Blue  *Line `yaml:"blue"`
}

// Profile is the YAML device profile for one chamber cabinet.
type Profile struct {
	// Chip names the gpiochip device. Defaults to gpiochip0.
	Chip string `yaml:"chip"`

	// Inputs maps each required signal name to its line.
	Inputs map[string]Line `yaml:"inputs"`

	// Presence maps optional presence sensor names to their lines.
	Presence map[string]Line `yaml:"presence"`

	// Outputs maps the actuator lines.
	Outputs Outputs `yaml:"outputs"`

	// Indicator maps the optional status lamp. Nil disables indication.
	Indicator *Indicator `yaml:"indicator"`

	// Timeouts carries confirmation timeout overrides in seconds, passed
	// through to the controller configuration, which validates them.
	Timeouts map[string]float64 `yaml:"timeouts"`
}

// LoadProfile reads and parses a device profile file.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read device profile: %w", err)
	}

	profile, err := ParseProfile(data)
	if err != nil {
		return nil, fmt.Errorf("device profile %s: %w", path, err)
	}

	return profile, nil
}

// ParseProfile parses a device profile, rejecting unknown fields so wiring
// typos fail loudly instead of leaving a line unmapped.
func ParseProfile(data []byte) (*Profile, error) {
	var profile Profile

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&profile); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}

	if profile.Chip == "" {
		profile.Chip = DefaultChip
	}

	if err := profile.validate(); err != nil {
		return nil, err
	}

	return &profile, nil
}

func (p *Profile) validate() error {
	for _, sig := range requiredInputs {
		if _, ok := p.Inputs[string(sig)]; !ok {
			return fmt.Errorf("missing input mapping for %s", sig)
		}
	}

	if p.Outputs.Lock == nil {
		return fmt.Errorf("missing output mapping for lock")
	}
	if p.Outputs.PartitionUpDrive == nil || p.Outputs.PartitionDownDrive == nil {
		return fmt.Errorf("missing output mapping for partition drive")
	}

	if p.Indicator != nil {
		if p.Indicator.Red == nil || p.Indicator.Green == nil || p.Indicator.Blue == nil {
			return fmt.Errorf("indicator requires red, green and blue lines")
		}
	}

	return p.checkLineConflicts()
}

// checkLineConflicts rejects a line offset assigned to more than one role.
func (p *Profile) checkLineConflicts() error {
	used := make(map[int]string)

	claim := func(name string, line *Line) error {
		if line == nil {
			return nil
		}
		if prev, taken := used[line.Line]; taken {
			return fmt.Errorf("line %d assigned to both %s and %s", line.Line, prev, name)
		}
		used[line.Line] = name
		return nil
	}

	for name, line := range p.Inputs {
		l := line
		if err := claim(name, &l); err != nil {
			return err
		}
	}
	for name, line := range p.Presence {
		l := line
		if err := claim(name, &l); err != nil {
			return err
		}
	}

	if err := claim("lock", p.Outputs.Lock); err != nil {
		return err
	}
	if err := claim("partition_up_drive", p.Outputs.PartitionUpDrive); err != nil {
		return err
	}
	if err := claim("partition_down_drive", p.Outputs.PartitionDownDrive); err != nil {
		return err
	}
	if err := claim("fault_reset", p.Outputs.FaultReset); err != nil {
		return err
	}

	if p.Indicator != nil {
		if err := claim("indicator red", p.Indicator.Red); err != nil {
			return err
		}
		if err := claim("indicator green", p.Indicator.Green); err != nil {
			return err
		}
		if err := claim("indicator blue", p.Indicator.Blue); err != nil {
			return err
		}
	}

	return nil
}

// PresenceNames returns the profile's presence sensor names in sorted order,
// ready for chamber.WithPresenceSignals.
func (p *Profile) PresenceNames() []string {
	if len(p.Presence) == 0 {
		return nil
	}

	names := make([]string, 0, len(p.Presence))
	for name := range p.Presence {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}
