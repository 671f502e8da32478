// Package sim provides a software model of a transfer chamber for development
// and integration testing without hardware.
//
// Chamber implements every device capability the interlock controller drives:
// the partition travels over a configurable time while a move is commanded,
// the lock relay confirms after a configurable delay, and the service gate,
// presence sensors and motor faults are scripted by the test. All methods are
// safe for concurrent use, so a Chamber can sit under a running controller
// while a test manipulates it.
package sim

import (
	"sync"
	"time"

	"github.com/avena-robotics/avena-commons-sub002/chamber"
)

const (
	defaultTravelTime = 2 * time.Second
	defaultLockDelay  = 100 * time.Millisecond
)

// Chamber is a time-driven model of the physical transfer chamber.
//
// The partition position advances between 0 (lowered limit) and 1 (raised
// limit) whenever a move is commanded; limit switches activate at the ends of
// travel. The lock confirmation contacts open during the relay's travel delay
// and close on the commanded side afterwards.
type Chamber struct {
	mu  sync.Mutex
	now func() time.Time

	travelTime time.Duration
	lockDelay  time.Duration

	// partition drive
	position   float64
	direction  int // -1 lowering, 0 stopped, +1 raising
	speed      float64
	lastUpdate time.Time
	motorFault bool

	// lock relay
	lockCmd chamber.LockState
	lockAt  time.Time

	gateOpen bool
	presence map[string]bool
	color    chamber.IndicatorColor
}

var (
	_ chamber.LockActuator      = (*Chamber)(nil)
	_ chamber.PartitionActuator = (*Chamber)(nil)
	_ chamber.IndicatorActuator = (*Chamber)(nil)
)

// Option configures a simulated chamber.
type Option func(*Chamber)

// WithTravelTime sets the full partition travel time at rated speed.
// Non-positive values are ignored. The default is 2s.
func WithTravelTime(d time.Duration) Option {
	return func(c *Chamber) {
		if d > 0 {
			c.travelTime = d
		}
	}
}

// WithLockDelay sets the lock relay confirmation delay. Negative values are
// ignored. The default is 100ms.
func WithLockDelay(d time.Duration) Option {
	return func(c *Chamber) {
		if d >= 0 {
			c.lockDelay = d
		}
	}
}

// WithNowFunc overrides the model's time source. Intended for tests that step
// time manually.
func WithNowFunc(now func() time.Time) Option {
	return func(c *Chamber) {
		if now != nil {
			c.now = now
		}
	}
}

// WithPresenceSignals registers presence sensors, all initially absent.
func WithPresenceSignals(names ...string) Option {
	return func(c *Chamber) {
		for _, name := range names {
			c.presence[name] = false
		}
	}
}

// WithGateOpen sets the initial service gate position.
func WithGateOpen(open bool) Option {
	return func(c *Chamber) {
		c.gateOpen = open
	}
}

// WithPartitionRaised starts the partition at its raised limit instead of the
// lowered one.
func WithPartitionRaised() Option {
	return func(c *Chamber) {
		c.position = 1
	}
}

// NewChamber creates a simulated chamber: gate closed, partition at the
// lowered limit, lock confirmed unlocked, no faults.
func NewChamber(opts ...Option) *Chamber {
	c := &Chamber{
		now:        time.Now,
		travelTime: defaultTravelTime,
		lockDelay:  defaultLockDelay,
		lockCmd:    chamber.LockUnlocked,
		presence:   make(map[string]bool),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.lastUpdate = c.now()
	// the initial lock posture is already confirmed
	c.lockAt = c.lastUpdate.Add(-c.lockDelay)

	return c
}

// Devices returns a device table backed by the model, indicator included.
func (c *Chamber) Devices() *chamber.Devices {
	signals := map[chamber.Signal]chamber.SignalReader{
		chamber.SignalChamberOpen: c.readerFunc(func() bool {
			return c.gateOpen
		}),
		chamber.SignalPartitionUp: c.readerFunc(func() bool {
			return c.position >= 1
		}),
		chamber.SignalPartitionDown: c.readerFunc(func() bool {
			return c.position <= 0
		}),
		chamber.SignalLockLocked: c.readerFunc(func() bool {
			locked, _ := c.lockContacts()
			return locked
		}),
		chamber.SignalLockUnlocked: c.readerFunc(func() bool {
			_, unlocked := c.lockContacts()
			return unlocked
		}),
		chamber.SignalMotorFault: c.readerFunc(func() bool {
			return c.motorFault
		}),
	}

	presence := make(map[string]chamber.SignalReader, len(c.presence))
	for name := range c.presence {
		presence[name] = c.presenceReader(name)
	}

	return &chamber.Devices{
		Signals:   signals,
		Presence:  presence,
		Lock:      c,
		Partition: c,
		Indicator: c,
	}
}

// readerFunc wraps a state probe so every read settles the motion model first.
func (c *Chamber) readerFunc(probe func() bool) chamber.SignalReader {
	return chamber.SignalReaderFunc(func() (bool, error) {
		c.mu.Lock()
		defer c.mu.Unlock()

		c.advance()

		return probe(), nil
	})
}

func (c *Chamber) presenceReader(name string) chamber.SignalReader {
	return chamber.SignalReaderFunc(func() (bool, error) {
		c.mu.Lock()
		defer c.mu.Unlock()

		return c.presence[name], nil
	})
}

// advance settles the partition position up to the current time.
// The caller must hold c.mu.
func (c *Chamber) advance() {
	now := c.now()
	dt := now.Sub(c.lastUpdate)
	c.lastUpdate = now

	if dt <= 0 || c.direction == 0 || c.motorFault {
		return
	}

	c.position += c.speed * float64(c.direction) * (float64(dt) / float64(c.travelTime))
	if c.position > 1 {
		c.position = 1
	}
	if c.position < 0 {
		c.position = 0
	}
}

// lockContacts reports the confirmation contacts; both open while the relay is
// in travel. The caller must hold c.mu.
func (c *Chamber) lockContacts() (locked, unlocked bool) {
	if c.now().Sub(c.lockAt) < c.lockDelay {
		return false, false
	}

	return c.lockCmd == chamber.LockLocked, c.lockCmd == chamber.LockUnlocked
}

// SetLock commands the lock relay; the confirmation contact follows after the
// configured delay. Re-commanding the current posture does not restart the
// delay.
func (c *Chamber) SetLock(state chamber.LockState) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lockCmd == state {
		return nil
	}

	c.lockCmd = state
	c.lockAt = c.now()

	return nil
}

// Move starts partition travel. A latched motor fault blocks motion until it
// is reset.
func (c *Chamber) Move(dir chamber.PartitionDirection, speed float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.advance()

	if speed <= 0 || speed > 1 {
		speed = 1
	}
	c.speed = speed

	if dir == chamber.DirectionDown {
		c.direction = -1
	} else {
		c.direction = 1
	}

	return nil
}

// Stop halts partition travel.
func (c *Chamber) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.advance()
	c.direction = 0

	return nil
}

// ResetFault clears a latched motor fault. Motion commanded before the fault
// resumes from the reset, not from the injection.
func (c *Chamber) ResetFault() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.advance()
	c.motorFault = false

	return nil
}

// SetColor records the indicator color.
func (c *Chamber) SetColor(color chamber.IndicatorColor) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.color = color

	return nil
}

// --- test controls ---

// OpenGate opens the service gate.
func (c *Chamber) OpenGate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gateOpen = true
}

// CloseGate closes the service gate.
func (c *Chamber) CloseGate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gateOpen = false
}

// SetPresence sets a presence sensor reading.
func (c *Chamber) SetPresence(name string, present bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.presence[name] = present
}

// InjectMotorFault latches a motor fault, freezing partition motion until
// ResetFault clears it.
func (c *Chamber) InjectMotorFault() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.advance()
	c.motorFault = true
}

// --- observers ---

// Position returns the partition position in [0, 1]; 0 is the lowered limit.
func (c *Chamber) Position() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.advance()

	return c.position
}

// GateOpen reports the service gate position.
func (c *Chamber) GateOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.gateOpen
}

// Moving reports whether the partition drive is commanded to move.
func (c *Chamber) Moving() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.direction != 0 && !c.motorFault
}

// Color returns the most recent indicator color.
func (c *Chamber) Color() chamber.IndicatorColor {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.color
}

// Faulted reports whether a motor fault is latched.
func (c *Chamber) Faulted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.motorFault
}
