//go:build linux

package gpio

import (
	"fmt"
	"sync"
	"time"

	"github.com/warthog618/go-gpiocdev"

	"github.com/avena-robotics/avena-commons-sub002/chamber"
)

// faultResetPulse is how long the drive's fault reset input is held active.
const faultResetPulse = 100 * time.Millisecond

// Hardware owns the requested gpiochip lines of one chamber cabinet. It
// implements the controller's actuator capabilities itself and hands out
// signal readers through Devices.
type Hardware struct {
	chip *gpiocdev.Chip

	mu     sync.Mutex
	lines  []*gpiocdev.Line
	closed bool

	inputs   map[chamber.Signal]*gpiocdev.Line
	presence map[string]*gpiocdev.Line

	lock       *gpiocdev.Line
	upDrive    *gpiocdev.Line
	downDrive  *gpiocdev.Line
	faultReset *gpiocdev.Line

	red   *gpiocdev.Line
	green *gpiocdev.Line
	blue  *gpiocdev.Line
}

var (
	_ chamber.LockActuator      = (*Hardware)(nil)
	_ chamber.PartitionActuator = (*Hardware)(nil)
	_ chamber.IndicatorActuator = (*Hardware)(nil)
)

// Open requests every line the profile maps and returns the Hardware holding
// them. Outputs start de-energized. On any request failure the lines already
// held are released.
func Open(profile *Profile) (*Hardware, error) {
	if profile == nil {
		return nil, fmt.Errorf("device profile is nil")
	}
	if err := profile.validate(); err != nil {
		return nil, err
	}

	chipName := profile.Chip
	if chipName == "" {
		chipName = DefaultChip
	}

	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", chipName, err)
	}

	hw := &Hardware{
		chip:     chip,
		inputs:   make(map[chamber.Signal]*gpiocdev.Line),
		presence: make(map[string]*gpiocdev.Line),
	}

	fail := func(err error) (*Hardware, error) {
		_ = hw.Close()
		return nil, err
	}

	for _, sig := range requiredInputs {
		line, err := hw.requestInput(string(sig), profile.Inputs[string(sig)])
		if err != nil {
			return fail(err)
		}
		hw.inputs[sig] = line
	}

	for name, assignment := range profile.Presence {
		line, err := hw.requestInput("presence "+name, assignment)
		if err != nil {
			return fail(err)
		}
		hw.presence[name] = line
	}

	if hw.lock, err = hw.requestOutput("lock", *profile.Outputs.Lock); err != nil {
		return fail(err)
	}
	if hw.upDrive, err = hw.requestOutput("partition_up_drive", *profile.Outputs.PartitionUpDrive); err != nil {
		return fail(err)
	}
	if hw.downDrive, err = hw.requestOutput("partition_down_drive", *profile.Outputs.PartitionDownDrive); err != nil {
		return fail(err)
	}
	if profile.Outputs.FaultReset != nil {
		if hw.faultReset, err = hw.requestOutput("fault_reset", *profile.Outputs.FaultReset); err != nil {
			return fail(err)
		}
	}

	if profile.Indicator != nil {
		if hw.red, err = hw.requestOutput("indicator red", *profile.Indicator.Red); err != nil {
			return fail(err)
		}
		if hw.green, err = hw.requestOutput("indicator green", *profile.Indicator.Green); err != nil {
			return fail(err)
		}
		if hw.blue, err = hw.requestOutput("indicator blue", *profile.Indicator.Blue); err != nil {
			return fail(err)
		}
	}

	return hw, nil
}

// requestInput requests an input line with pull-down, matching the cabinet's
// optocoupler modules which drive the line high when active.
func (hw *Hardware) requestInput(name string, assignment Line) (*gpiocdev.Line, error) {
	opts := []gpiocdev.LineReqOption{gpiocdev.AsInput, gpiocdev.WithPullDown}
	if assignment.ActiveLow {
		opts = append(opts, gpiocdev.AsActiveLow)
	}

	line, err := hw.chip.RequestLine(assignment.Line, opts...)
	if err != nil {
		return nil, fmt.Errorf("request %s line %d: %w", name, assignment.Line, err)
	}

	hw.lines = append(hw.lines, line)

	return line, nil
}

func (hw *Hardware) requestOutput(name string, assignment Line) (*gpiocdev.Line, error) {
	opts := []gpiocdev.LineReqOption{gpiocdev.AsOutput(0)}
	if assignment.ActiveLow {
		opts = append(opts, gpiocdev.AsActiveLow)
	}

	line, err := hw.chip.RequestLine(assignment.Line, opts...)
	if err != nil {
		return nil, fmt.Errorf("request %s line %d: %w", name, assignment.Line, err)
	}

	hw.lines = append(hw.lines, line)

	return line, nil
}

// Devices returns a device table backed by the requested lines, ready for
// chamber.NewController. The indicator is offered only when the profile maps
// one.
func (hw *Hardware) Devices() *chamber.Devices {
	signals := make(map[chamber.Signal]chamber.SignalReader, len(hw.inputs))
	for sig, line := range hw.inputs {
		signals[sig] = reader(line)
	}

	presence := make(map[string]chamber.SignalReader, len(hw.presence))
	for name, line := range hw.presence {
		presence[name] = reader(line)
	}

	devs := &chamber.Devices{
		Signals:   signals,
		Presence:  presence,
		Lock:      hw,
		Partition: hw,
	}
	if hw.red != nil {
		devs.Indicator = hw
	}

	return devs
}

func reader(line *gpiocdev.Line) chamber.SignalReader {
	return chamber.SignalReaderFunc(func() (bool, error) {
		v, err := line.Value()
		if err != nil {
			return false, fmt.Errorf("read line %d: %w", line.Offset(), err)
		}

		return v != 0, nil
	})
}

// SetLock drives the gate lock relay; locked energizes the line.
func (hw *Hardware) SetLock(state chamber.LockState) error {
	hw.mu.Lock()
	defer hw.mu.Unlock()

	v := 0
	if state == chamber.LockLocked {
		v = 1
	}

	if err := hw.lock.SetValue(v); err != nil {
		return fmt.Errorf("set lock %s: %w", state, err)
	}

	return nil
}

// Move energizes the contactor for the given direction. The opposite
// contactor must drop out first; both energized would short the drive. speed
// is ignored, the contactor drive runs at rated speed.
func (hw *Hardware) Move(dir chamber.PartitionDirection, speed float64) error {
	hw.mu.Lock()
	defer hw.mu.Unlock()

	var engage, release *gpiocdev.Line
	switch dir {
	case chamber.DirectionUp:
		engage, release = hw.upDrive, hw.downDrive
	case chamber.DirectionDown:
		engage, release = hw.downDrive, hw.upDrive
	default:
		return fmt.Errorf("invalid partition direction %d", dir)
	}

	if err := release.SetValue(0); err != nil {
		return fmt.Errorf("release opposite drive: %w", err)
	}
	if err := engage.SetValue(1); err != nil {
		return fmt.Errorf("engage %s drive: %w", dir, err)
	}

	return nil
}

// Stop de-energizes both partition contactors.
func (hw *Hardware) Stop() error {
	hw.mu.Lock()
	defer hw.mu.Unlock()

	if err := hw.upDrive.SetValue(0); err != nil {
		return fmt.Errorf("release up drive: %w", err)
	}
	if err := hw.downDrive.SetValue(0); err != nil {
		return fmt.Errorf("release down drive: %w", err)
	}

	return nil
}

// ResetFault pulses the drive's fault reset input without blocking the
// control cycle. Profiles without a fault_reset line make this a no-op for
// drives that clear on their own.
func (hw *Hardware) ResetFault() error {
	hw.mu.Lock()
	defer hw.mu.Unlock()

	if hw.faultReset == nil {
		return nil
	}

	if err := hw.faultReset.SetValue(1); err != nil {
		return fmt.Errorf("assert fault reset: %w", err)
	}

	time.AfterFunc(faultResetPulse, func() {
		hw.mu.Lock()
		defer hw.mu.Unlock()

		if hw.closed {
			return
		}
		_ = hw.faultReset.SetValue(0)
	})

	return nil
}

// SetColor drives the indicator lamp channels. Mixed colors energize more
// than one channel.
func (hw *Hardware) SetColor(color chamber.IndicatorColor) error {
	hw.mu.Lock()
	defer hw.mu.Unlock()

	if hw.red == nil {
		return nil
	}

	r, g, b := colorChannels(color)
	if err := hw.red.SetValue(r); err != nil {
		return fmt.Errorf("set red channel: %w", err)
	}
	if err := hw.green.SetValue(g); err != nil {
		return fmt.Errorf("set green channel: %w", err)
	}
	if err := hw.blue.SetValue(b); err != nil {
		return fmt.Errorf("set blue channel: %w", err)
	}

	return nil
}

func colorChannels(color chamber.IndicatorColor) (r, g, b int) {
	switch color {
	case chamber.ColorRed:
		return 1, 0, 0
	case chamber.ColorGreen:
		return 0, 1, 0
	case chamber.ColorBlue:
		return 0, 0, 1
	case chamber.ColorWhite:
		return 1, 1, 1
	case chamber.ColorYellow:
		return 1, 1, 0
	case chamber.ColorMagenta:
		return 1, 0, 1
	default:
		return 0, 0, 0
	}
}

// Close halts the partition drive, turns the indicator off and releases every
// line and the chip. The lock keeps its commanded level until its request is
// released.
func (hw *Hardware) Close() error {
	hw.mu.Lock()
	defer hw.mu.Unlock()

	if hw.closed {
		return nil
	}
	hw.closed = true

	var errs []error

	outputs := []*gpiocdev.Line{hw.upDrive, hw.downDrive, hw.faultReset, hw.red, hw.green, hw.blue}
	for _, out := range outputs {
		if out == nil {
			continue
		}
		if err := out.SetValue(0); err != nil {
			errs = append(errs, err)
		}
	}

	for _, line := range hw.lines {
		if err := line.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if err := hw.chip.Close(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}

	return nil
}
