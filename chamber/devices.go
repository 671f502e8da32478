package chamber

import "fmt"

// Signal names a boolean input read by the controller each cycle.
type Signal string

// Required input signals. Every device table must provide a reader for each.
const (
	// SignalChamberOpen reports whether the service gate is physically open.
	SignalChamberOpen Signal = "chamber_open"
	// SignalPartitionUp reports whether the partition is at its raised limit.
	SignalPartitionUp Signal = "partition_up"
	// SignalPartitionDown reports whether the partition is at its lowered limit.
	SignalPartitionDown Signal = "partition_down"
	// SignalLockLocked reports the lock relay's locked confirmation contact.
	SignalLockLocked Signal = "lock_locked"
	// SignalLockUnlocked reports the lock relay's unlocked confirmation contact.
	SignalLockUnlocked Signal = "lock_unlocked"
	// SignalMotorFault reports a latched fault from the partition drive.
	SignalMotorFault Signal = "motor_fault"
)

// requiredSignals lists the signals a device table must provide, in the order
// they are validated and refreshed.
var requiredSignals = []Signal{
	SignalChamberOpen,
	SignalPartitionUp,
	SignalPartitionDown,
	SignalLockLocked,
	SignalLockUnlocked,
	SignalMotorFault,
}

// LockState represents the commanded or confirmed posture of the service gate
// lock.
type LockState uint8

const (
	// LockUnlocked releases the service gate to the external actor.
	LockUnlocked LockState = iota
	// LockLocked secures the service gate against the external actor.
	LockLocked
)

// String returns string representation of the lock state.
func (s LockState) String() string {
	if s == LockLocked {
		return "locked"
	}
	return "unlocked"
}

// PartitionDirection selects the travel direction of the internal partition.
type PartitionDirection uint8

const (
	// DirectionUp raises the partition, opening the chamber to the production
	// mechanism.
	DirectionUp PartitionDirection = iota
	// DirectionDown lowers the partition, isolating the chamber from the
	// production mechanism.
	DirectionDown
)

// String returns string representation of the direction.
func (d PartitionDirection) String() string {
	if d == DirectionDown {
		return "down"
	}
	return "up"
}

// IndicatorColor selects the color of the optional status indicator.
type IndicatorColor uint8

const (
	ColorOff IndicatorColor = iota
	ColorRed
	ColorGreen
	ColorBlue
	ColorWhite
	ColorYellow
	ColorMagenta
)

// String returns string representation of the indicator color.
func (c IndicatorColor) String() string {
	switch c {
	case ColorRed:
		return "red"
	case ColorGreen:
		return "green"
	case ColorBlue:
		return "blue"
	case ColorWhite:
		return "white"
	case ColorYellow:
		return "yellow"
	case ColorMagenta:
		return "magenta"
	default:
		return "off"
	}
}

// SignalReader reads one boolean input signal.
//
// Implementations are resolved once at construction; the controller never
// dispatches on signal names at cycle time.
type SignalReader interface {
	Read() (bool, error)
}

// SignalReaderFunc adapts a function to the SignalReader interface.
type SignalReaderFunc func() (bool, error)

// Read implements SignalReader.
func (f SignalReaderFunc) Read() (bool, error) { return f() }

// LockActuator drives the service gate lock relay.
type LockActuator interface {
	SetLock(state LockState) error
}

// PartitionActuator drives the internal partition motor.
type PartitionActuator interface {
	// Move starts travel in the given direction. speed is a fraction of the
	// drive's rated speed in (0, 1]; bindings without speed control ignore it.
	Move(dir PartitionDirection, speed float64) error
	// Stop halts travel.
	Stop() error
	// ResetFault clears a latched drive fault.
	ResetFault() error
}

// IndicatorActuator drives an optional status indicator lamp.
type IndicatorActuator interface {
	SetColor(color IndicatorColor) error
}

// Devices bundles the hardware capabilities the controller drives. It is the
// seam between the interlock logic and a concrete binding (GPIO lines, a
// simulator, a test fake).
type Devices struct {
	// Signals maps each required input signal to its reader.
	Signals map[Signal]SignalReader

	// Presence maps optional presence sensor names (for example
	// "product_present") to their readers. The controller reads only the names
	// listed in its configuration.
	Presence map[string]SignalReader

	// Lock drives the service gate lock.
	Lock LockActuator

	// Partition drives the internal partition.
	Partition PartitionActuator

	// Indicator drives the status lamp. Optional; nil disables indication.
	Indicator IndicatorActuator
}

// validate checks that every required capability is present and that a reader
// exists for each configured presence signal name.
func (d *Devices) validate(presenceNames []string) error {
	if d == nil {
		return ErrNilDevices
	}

	for _, sig := range requiredSignals {
		if d.Signals[sig] == nil {
			return fmt.Errorf("%w: %s", ErrMissingSignal, sig)
		}
	}

	for _, name := range presenceNames {
		if d.Presence[name] == nil {
			return fmt.Errorf("%w: presence signal %s", ErrMissingSignal, name)
		}
	}

	if d.Lock == nil {
		return fmt.Errorf("%w: lock", ErrMissingActuator)
	}
	if d.Partition == nil {
		return fmt.Errorf("%w: partition", ErrMissingActuator)
	}

	return nil
}
