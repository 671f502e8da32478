package chamber

import (
	"sync"
	"testing"
	"time"

	"github.com/avena-robotics/avena-commons-sub002/logger"
)

// fakeRig is an in-memory device table with settable input signals and
// recorded actuator commands. It stands in for a hardware binding in
// controller tests.
type fakeRig struct {
	mu sync.Mutex

	signals   map[Signal]bool
	presence  map[string]bool
	readErr   map[Signal]error
	panicRead map[Signal]bool

	lockCmds   []LockState
	moveDirs   []PartitionDirection
	moveSpeeds []float64
	stopCount  int
	resetCount int
	colors     []IndicatorColor

	lockErr error
	moveErr error
}

var (
	_ LockActuator      = (*fakeRig)(nil)
	_ PartitionActuator = (*fakeRig)(nil)
	_ IndicatorActuator = (*fakeRig)(nil)
)

func newFakeRig(presenceNames ...string) *fakeRig {
	rig := &fakeRig{
		signals:   make(map[Signal]bool, len(requiredSignals)),
		presence:  make(map[string]bool, len(presenceNames)),
		readErr:   make(map[Signal]error),
		panicRead: make(map[Signal]bool),
	}

	for _, name := range presenceNames {
		rig.presence[name] = false
	}

	return rig
}

// devices builds a complete device table backed by the rig, indicator included.
func (r *fakeRig) devices() *Devices {
	signals := make(map[Signal]SignalReader, len(requiredSignals))
	for _, sig := range requiredSignals {
		signals[sig] = r.reader(sig)
	}

	presence := make(map[string]SignalReader, len(r.presence))
	for name := range r.presence {
		presence[name] = r.presenceReader(name)
	}

	return &Devices{
		Signals:   signals,
		Presence:  presence,
		Lock:      r,
		Partition: r,
		Indicator: r,
	}
}

func (r *fakeRig) reader(sig Signal) SignalReader {
	return SignalReaderFunc(func() (bool, error) {
		r.mu.Lock()
		defer r.mu.Unlock()

		if r.panicRead[sig] {
			panic("wiring fault on " + string(sig))
		}
		if err := r.readErr[sig]; err != nil {
			return false, err
		}

		return r.signals[sig], nil
	})
}

func (r *fakeRig) presenceReader(name string) SignalReader {
	return SignalReaderFunc(func() (bool, error) {
		r.mu.Lock()
		defer r.mu.Unlock()

		return r.presence[name], nil
	})
}

func (r *fakeRig) set(sig Signal, v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals[sig] = v
}

func (r *fakeRig) setPresence(name string, v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.presence[name] = v
}

func (r *fakeRig) failRead(sig Signal, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.readErr, sig)
		return
	}
	r.readErr[sig] = err
}

func (r *fakeRig) panicOnRead(sig Signal, on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.panicRead[sig] = on
}

// confirmLock sets the confirmation contacts to report the given posture.
func (r *fakeRig) confirmLock(state LockState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals[SignalLockLocked] = state == LockLocked
	r.signals[SignalLockUnlocked] = state == LockUnlocked
}

// setPartition sets both limit switches at once.
func (r *fakeRig) setPartition(up, down bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals[SignalPartitionUp] = up
	r.signals[SignalPartitionDown] = down
}

func (r *fakeRig) SetLock(state LockState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.lockErr != nil {
		return r.lockErr
	}
	r.lockCmds = append(r.lockCmds, state)

	return nil
}

func (r *fakeRig) Move(dir PartitionDirection, speed float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.moveErr != nil {
		return r.moveErr
	}
	r.moveDirs = append(r.moveDirs, dir)
	r.moveSpeeds = append(r.moveSpeeds, speed)

	return nil
}

func (r *fakeRig) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopCount++

	return nil
}

// ResetFault clears the latched fault bit, like a real drive reset input.
func (r *fakeRig) ResetFault() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetCount++
	r.signals[SignalMotorFault] = false

	return nil
}

func (r *fakeRig) SetColor(color IndicatorColor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.colors = append(r.colors, color)

	return nil
}

func (r *fakeRig) lastLock() (LockState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.lockCmds) == 0 {
		return LockUnlocked, false
	}

	return r.lockCmds[len(r.lockCmds)-1], true
}

func (r *fakeRig) lastMove() (PartitionDirection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.moveDirs) == 0 {
		return DirectionUp, false
	}

	return r.moveDirs[len(r.moveDirs)-1], true
}

func (r *fakeRig) moves() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.moveDirs)
}

func (r *fakeRig) stops() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.stopCount
}

func (r *fakeRig) resets() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.resetCount
}

func (r *fakeRig) indicatorColors() []IndicatorColor {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]IndicatorColor(nil), r.colors...)
}

// manualClock is a settable time source for watchdog deadline tests.
type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func newManualClock() *manualClock {
	return &manualClock{t: time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.t
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// newTestController creates a controller over the rig with a quiet logger and
// any extra options.
func newTestController(t *testing.T, rig *fakeRig, opts ...Option) *Controller {
	t.Helper()

	defaults := []Option{WithLogger(logger.NewNop())}

	cfg, err := NewConfig(append(defaults, opts...)...)
	if err != nil {
		t.Fatalf("newTestController config: %v", err)
	}

	c, err := NewController(rig.devices(), cfg)
	if err != nil {
		t.Fatalf("newTestController: %v", err)
	}

	return c
}

// driveTo walks the controller along the normal operating sequence until it
// reaches the target state. The rig starts with the gate closed and the
// partition at its lowered limit.
func driveTo(t *testing.T, c *Controller, rig *fakeRig, target State) {
	t.Helper()

	steps := map[State]func(){
		UnknownState: func() {},
		InitErrorState: func() {
			rig.set(SignalChamberOpen, true)
			c.Cycle()
			rig.set(SignalChamberOpen, false)
		},
		BlockedOpeningState: func() {
			c.Cycle()
		},
		BlockedOpenedState: func() {
			driveTo(t, c, rig, BlockedOpeningState)
			rig.confirmLock(LockLocked)
			rig.setPartition(true, false)
			c.Cycle()
		},
		BlockedOpenConveyorMovingState: func() {
			driveTo(t, c, rig, BlockedOpenedState)
			mustSubmit(t, c, CommandBlockChamber)
			c.Cycle()
		},
		BlockedClosingState: func() {
			driveTo(t, c, rig, BlockedOpenedState)
			mustSubmit(t, c, CommandPartitionDown)
			c.Cycle()
		},
		BlockedClosedState: func() {
			driveTo(t, c, rig, BlockedClosingState)
			rig.setPartition(false, true)
			c.Cycle()
		},
		ReleasedClosedState: func() {
			driveTo(t, c, rig, BlockedClosedState)
			mustSubmit(t, c, CommandUnblockForClient)
			c.Cycle()
			rig.confirmLock(LockUnlocked)
		},
		ReleasedOpenState: func() {
			driveTo(t, c, rig, ReleasedClosedState)
			rig.set(SignalChamberOpen, true)
			c.Cycle()
		},
	}

	step, ok := steps[target]
	if !ok {
		t.Fatalf("driveTo: no route to state %v", target)
	}

	step()

	if c.State() != target {
		t.Fatalf("driveTo: reached %v, want %v", c.State(), target)
	}
}

func mustSubmit(t *testing.T, c *Controller, name string) *Ticket {
	t.Helper()

	ticket, err := c.Submit(name)
	if err != nil {
		t.Fatalf("submit %s: %v", name, err)
	}

	return ticket
}
