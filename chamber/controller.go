package chamber

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/avena-robotics/avena-commons-sub002/internal/util"
	"github.com/avena-robotics/avena-commons-sub002/logger"
	"github.com/avena-robotics/avena-commons-sub002/watchdog"
)

// Controller is the interlock state machine for one transfer chamber.
//
// Once per cycle it refreshes the sensor snapshot, checks the safety
// invariant, consumes pending commands, drives the actuators, registers
// confirmation watchdogs, and performs state transitions.
//
// Cycle must be driven by exactly one goroutine with serialized,
// non-overlapping invocations; a Runner provides that schedule. Submit,
// SubmitAndWait, Query, State and WaitState are safe to call from any
// goroutine.
type Controller struct {
	cfg     *Config
	logger  logger.Logger
	metrics *Metrics

	devices   *Devices
	sensors   *sensorBank
	inbox     *Inbox
	watchdogs *watchdog.Supervisor
	states    *stateMgr

	// snap holds the snapshot of the most recent cycle for queries and
	// watchdog predicates.
	snap atomic.Pointer[SensorSnapshot]

	// commandedLock is the lock posture most recently written to the lock
	// actuator, as opposed to the confirmed sensor reading.
	commandedLock LockState

	// presenceIndex maps presence signal names to their snapshot index.
	presenceIndex map[string]int

	closed atomic.Bool
}

// NewController creates an interlock controller for the given device table.
// A nil cfg uses the default configuration. The controller starts in the
// unknown state; the first cycle begins initialization.
func NewController(devices *Devices, cfg *Config) (*Controller, error) {
	if cfg == nil {
		var err error
		cfg, err = NewConfig()
		if err != nil {
			return nil, err
		}
	}

	if err := devices.validate(cfg.PresenceSignals()); err != nil {
		return nil, err
	}

	l := cfg.Logger()

	c := &Controller{
		cfg:           cfg,
		logger:        l,
		metrics:       &Metrics{},
		devices:       devices,
		presenceIndex: make(map[string]int, len(cfg.PresenceSignals())),
	}

	for i, name := range cfg.PresenceSignals() {
		c.presenceIndex[name] = i
	}

	c.sensors = newSensorBank(devices, cfg.PresenceSignals(), l, c.metrics)
	c.watchdogs = watchdog.New(watchdog.WithLogger(l), watchdog.WithNowFunc(cfg.now))

	c.inbox = NewInbox(l)
	c.inbox.metrics = c.metrics
	c.inbox.now = cfg.now

	c.states = newStateMgr(l, cfg.handlers...)
	if devices.Indicator != nil {
		c.states.AddHandler(c.indicateState)
	}

	// queries answered before the first cycle see all-false readings
	c.snap.Store(&SensorSnapshot{Presence: make([]bool, len(cfg.PresenceSignals()))})

	return c, nil
}

// State returns the current interlock state.
func (c *Controller) State() State {
	return c.states.State()
}

// WaitState blocks until the interlock state reaches the given state or ctx is
// done.
func (c *Controller) WaitState(ctx context.Context, state State) error {
	return c.states.WaitState(ctx, state)
}

// AddStateChangeHandler registers handlers invoked on every state change.
//
// Note: handlers run in blocking mode from the control cycle.
func (c *Controller) AddStateChangeHandler(handlers ...StateChangeHandler) {
	c.states.AddHandler(handlers...)
}

// Snapshot returns a copy of the most recent sensor snapshot.
func (c *Controller) Snapshot() SensorSnapshot {
	snap := *c.snap.Load()
	snap.Presence = util.CloneSlice(snap.Presence, 0)
	return snap
}

// Metrics returns the controller's metric counters.
func (c *Controller) Metrics() *Metrics {
	return c.metrics
}

// Inbox returns the controller's command inbox.
//
// External callers should prefer Submit and SubmitAndWait, which validate the
// command name first.
func (c *Controller) Inbox() *Inbox {
	return c.inbox
}

// Submit registers a request for the named command from any goroutine.
// A request for a name that is already pending attaches to the existing
// ticket, so duplicates share one completion.
//
// ErrUnknownCommand is returned for names outside the command vocabulary.
func (c *Controller) Submit(name string) (*Ticket, error) {
	if !IsCommand(name) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}

	ticket, _ := c.inbox.Submit(name)
	if ticket == nil {
		return nil, ErrInboxClosed
	}

	return ticket, nil
}

// SubmitAndWait submits the named command and blocks until it completes, the
// timeout elapses, or ctx is done. A timed-out wait leaves the command
// pending.
func (c *Controller) SubmitAndWait(ctx context.Context, name string, timeout time.Duration) (Result, error) {
	if !IsCommand(name) {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}

	return c.inbox.SubmitAndWait(ctx, name, timeout)
}

// Query answers an instantaneous question from the most recent sensor
// snapshot without changing any state.
//
// Recognized queries return 0 or 1: "is_chamber_open", and "is_<name>" for
// each configured presence signal. Unrecognized queries return
// QueryUnknownAnswer.
func (c *Controller) Query(name string) int {
	snap := c.snap.Load()

	if name == QueryChamberOpen {
		return boolAnswer(snap.ChamberOpen)
	}

	if rest, ok := strings.CutPrefix(name, "is_"); ok {
		if idx, known := c.presenceIndex[rest]; known && idx < len(snap.Presence) {
			return boolAnswer(snap.Presence[idx])
		}
	}

	c.logger.Debug("unrecognized query", "query", name)

	return QueryUnknownAnswer
}

func boolAnswer(v bool) int {
	if v {
		return 1
	}
	return 0
}

// Close rejects future command submissions, releases every waiting submitter,
// halts the partition drive, and turns off the indicator. It does not stop a
// Runner; stop the Runner first.
func (c *Controller) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}

	c.logger.Info("chamber controller closing", "state", c.State())
	c.inbox.Close()
	c.stopPartition()

	if c.devices.Indicator != nil {
		if err := c.devices.Indicator.SetColor(ColorOff); err != nil {
			c.logger.Error("indicator off failed", "error", err)
		}
	}
}

// --- control cycle ---

// Cycle runs one evaluation of the interlock state machine.
//
// It never panics and never returns an error: sensor failures, actuator
// failures and guard panics are logged and the cycle completes. Invocations
// must be serialized by the caller.
func (c *Controller) Cycle() {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic recovered in control cycle", "state", c.State(), "panic", r)
			c.metrics.incCycleErrCount()
		}
	}()

	if c.closed.Load() {
		return
	}

	snap := c.sensors.refresh()
	c.snap.Store(&snap)
	c.metrics.incCycleCount()

	st := c.states.State()

	c.checkSafety(st, &snap)

	// the maintenance override pre-empts the main branch in every
	// non-maintenance state
	if !st.IsMaintenance() && c.inbox.Take(CommandMaintenanceEnable) {
		c.enterMaintenance(st)
	} else {
		c.dispatch(st, &snap)
	}

	c.watchdogs.Evaluate()
}

// checkSafety verifies the interlock invariant: the service gate must not be
// open while commanded locked. A violation is logged exactly once per cycle
// and operation continues.
func (c *Controller) checkSafety(st State, snap *SensorSnapshot) {
	if st == InitErrorState || st.IsMaintenance() {
		return
	}

	if snap.ChamberOpen && c.commandedLock == LockLocked {
		c.logger.Error("service gate open while commanded locked",
			"state", st, "error", ErrSafetyViolation)
		c.metrics.incSafetyViolationCount()
	}
}

func (c *Controller) dispatch(st State, snap *SensorSnapshot) {
	switch st {
	case UnknownState:
		// initialization starts on the first cycle without waiting a tick
		c.setState(InitializingState)
		c.stepInitializing(snap)
	case InitializingState:
		c.stepInitializing(snap)
	case InitErrorState:
		c.stepInitError()
	case ReleasedOpenState:
		c.stepReleasedOpen(snap)
	case ReleasedClosedState:
		c.stepReleasedClosed(snap)
	case BlockedOpeningState:
		c.stepBlockedOpening(snap)
	case BlockedOpenedState:
		c.stepBlockedOpened(snap)
	case BlockedClosingState:
		c.stepBlockedClosing(snap)
	case BlockedClosedState:
		c.stepBlockedClosed(snap)
	case BlockedOpenConveyorMovingState:
		c.stepConveyorMoving(snap)
	case EnablingMaintenanceState:
		c.setState(MaintenanceState)
	case MaintenanceState:
		c.stepMaintenance(snap)
	case DisablingMaintenanceState:
		c.stepDisablingMaintenance(snap)
	}
}

// stepInitializing drives the chamber to its safe baseline posture: gate
// locked, partition up.
func (c *Controller) stepInitializing(snap *SensorSnapshot) {
	if snap.ChamberOpen {
		c.logger.Error("initialization failed, service gate open", "error", ErrInitFailed)
		c.setState(InitErrorState)
		c.completeIfPending(CommandInitialize, CompletionError, "service gate open during initialization")
		return
	}

	c.setLock(LockLocked)
	c.registerLockWatchdog(LockLocked)

	if !snap.PartitionUp {
		c.movePartition(DirectionUp)
		c.registerPartitionWatchdog(DirectionUp)
	}

	c.setState(BlockedOpeningState)
}

// stepInitError answers initialize requests with an error; only the
// maintenance override or a process restart leaves this state.
func (c *Controller) stepInitError() {
	c.completeIfPending(CommandInitialize, CompletionError, "controller in init-error state, restart required")
}

func (c *Controller) stepBlockedOpening(snap *SensorSnapshot) {
	if !snap.PartitionUp {
		return
	}

	c.stopPartition()
	c.setState(BlockedOpenedState)
	// the request may have been taken in BlockedClosed; complete it by name
	c.inbox.Complete(CommandPartitionUp, CompletionSuccess, "")
}

func (c *Controller) stepBlockedOpened(snap *SensorSnapshot) {
	c.completeIfPending(CommandInitialize, CompletionSuccess, "")

	switch {
	case c.inbox.Take(CommandBlockChamber):
		c.setState(BlockedOpenConveyorMovingState)
		c.inbox.Complete(CommandBlockChamber, CompletionSuccess, "")

	case c.inbox.Take(CommandPartitionDown):
		c.movePartition(DirectionDown)
		c.registerPartitionWatchdog(DirectionDown)
		c.setState(BlockedClosingState)
		// partition_down completes once the lowered limit confirms
	}
}

func (c *Controller) stepBlockedClosing(snap *SensorSnapshot) {
	if snap.MotorFault {
		// a stall at the end of travel latches the fault; treat the close as
		// done, reset the drive, and report the fault
		c.logger.Error("partition motor fault during close", "error", ErrMotorFault)
		c.stopPartition()
		c.resetMotorFault()
		c.setState(BlockedClosedState)
		c.inbox.Complete(CommandPartitionDown, CompletionSuccess, "motor fault during close, drive reset")
		return
	}

	if snap.PartitionDown {
		c.stopPartition()
		c.setState(BlockedClosedState)
		c.inbox.Complete(CommandPartitionDown, CompletionSuccess, "")
	}
}

func (c *Controller) stepBlockedClosed(snap *SensorSnapshot) {
	switch {
	case c.inbox.Take(CommandPartitionUp):
		c.movePartition(DirectionUp)
		c.registerPartitionWatchdog(DirectionUp)
		c.setState(BlockedOpeningState)
		// partition_up completes once the raised limit confirms

	case c.inbox.Take(CommandUnblockForClient):
		c.setLock(LockUnlocked)
		c.registerLockWatchdog(LockUnlocked)
		c.setState(ReleasedClosedState)
		c.inbox.Complete(CommandUnblockForClient, CompletionSuccess, "")

	case snap.MotorFault:
		c.logger.Error("partition motor fault while closed", "error", ErrMotorFault)
		c.resetMotorFault()
	}
}

func (c *Controller) stepConveyorMoving(snap *SensorSnapshot) {
	if c.inbox.Take(CommandUnblockChamber) {
		c.setState(BlockedOpenedState)
		c.inbox.Complete(CommandUnblockChamber, CompletionSuccess, "")
	}
}

func (c *Controller) stepReleasedClosed(snap *SensorSnapshot) {
	if snap.ChamberOpen {
		c.setState(ReleasedOpenState)
		c.registerGateClosedWatchdog()
		return
	}

	if c.inbox.Take(CommandBlockForClient) {
		c.setLock(LockLocked)
		c.registerLockWatchdog(LockLocked)
		c.setState(BlockedClosedState)
		c.inbox.Complete(CommandBlockForClient, CompletionSuccess, "")
	}
}

func (c *Controller) stepReleasedOpen(snap *SensorSnapshot) {
	if !snap.ChamberOpen {
		c.setState(ReleasedClosedState)
	}
}

// enterMaintenance releases both sides for servicing. The pass through
// EnablingMaintenance and the landing in Maintenance happen within one cycle.
func (c *Controller) enterMaintenance(prev State) {
	c.logger.Warn("maintenance override engaged", "prev_state", prev)

	c.movePartition(DirectionUp)
	c.setLock(LockUnlocked)

	c.setState(EnablingMaintenanceState)
	c.setState(MaintenanceState)

	c.inbox.Complete(CommandMaintenanceEnable, CompletionSuccess, "")
}

// stepMaintenance begins restoring the operational posture when asked. The
// disable request is only peeked here; it completes once the posture confirms.
func (c *Controller) stepMaintenance(snap *SensorSnapshot) {
	if !c.inbox.Peek(CommandMaintenanceDisable) {
		return
	}

	c.movePartition(DirectionUp)
	c.setLock(LockLocked)
	c.registerPartitionWatchdog(DirectionUp)
	c.registerLockWatchdog(LockLocked)

	c.setState(DisablingMaintenanceState)
}

func (c *Controller) stepDisablingMaintenance(snap *SensorSnapshot) {
	if !snap.PartitionUp || !snap.LockConfirmedIs(LockLocked) {
		return
	}

	if c.inbox.Take(CommandMaintenanceDisable) {
		c.setState(BlockedOpenedState)
		c.inbox.Complete(CommandMaintenanceDisable, CompletionSuccess, "")
	}
}

// --- effects ---

// setState transitions the interlock state, counting the transition.
func (c *Controller) setState(newState State) {
	if c.states.State() == newState {
		return
	}

	c.states.Set(newState)
	c.metrics.incTransitionCount()
}

func (c *Controller) setLock(state LockState) {
	c.commandedLock = state

	if err := c.devices.Lock.SetLock(state); err != nil {
		c.logger.Error("lock command failed", "lock", state, "error", err)
		c.metrics.incActuatorErrCount()
		return
	}

	c.logger.Debug("lock commanded", "lock", state)
}

func (c *Controller) movePartition(dir PartitionDirection) {
	if err := c.devices.Partition.Move(dir, c.cfg.PartitionSpeed()); err != nil {
		c.logger.Error("partition move failed", "direction", dir, "error", err)
		c.metrics.incActuatorErrCount()
		return
	}

	c.logger.Debug("partition commanded", "direction", dir)
}

func (c *Controller) stopPartition() {
	if err := c.devices.Partition.Stop(); err != nil {
		c.logger.Error("partition stop failed", "error", err)
		c.metrics.incActuatorErrCount()
	}
}

func (c *Controller) resetMotorFault() {
	if err := c.devices.Partition.ResetFault(); err != nil {
		c.logger.Error("motor fault reset failed", "error", err)
		c.metrics.incActuatorErrCount()
		return
	}

	c.metrics.incMotorFaultResetCount()
}

// completeIfPending completes the named command only if it is pending and not
// yet taken.
func (c *Controller) completeIfPending(name string, status CompletionStatus, message string) {
	if c.inbox.Take(name) {
		c.inbox.Complete(name, status, message)
	}
}

// indicateState drives the status lamp on every transition. Registered only
// when the device table has an indicator.
func (c *Controller) indicateState(_ State, newState State) {
	if err := c.devices.Indicator.SetColor(indicatorColor(newState)); err != nil {
		c.logger.Error("indicator update failed", "state", newState, "error", err)
		c.metrics.incActuatorErrCount()
	}
}

func indicatorColor(st State) IndicatorColor {
	switch st {
	case UnknownState, InitializingState:
		return ColorBlue
	case InitErrorState:
		return ColorMagenta
	case ReleasedOpenState, ReleasedClosedState:
		return ColorGreen
	case BlockedOpeningState, BlockedClosingState, BlockedOpenConveyorMovingState:
		return ColorRed
	case BlockedOpenedState, BlockedClosedState:
		return ColorWhite
	case EnablingMaintenanceState, MaintenanceState, DisablingMaintenanceState:
		return ColorYellow
	default:
		return ColorOff
	}
}

// --- watchdog registrations ---

func (c *Controller) registerLockWatchdog(want LockState) {
	name := TimeoutGateLockedConfirmed
	timeout := c.cfg.Timeouts().GateLockedConfirmed
	if want == LockUnlocked {
		name = TimeoutGateUnlockedConfirmed
		timeout = c.cfg.Timeouts().GateUnlockedConfirmed
	}

	c.register(func() bool {
		return c.snap.Load().LockConfirmedIs(want)
	}, timeout, name)
}

func (c *Controller) registerPartitionWatchdog(dir PartitionDirection) {
	name := TimeoutPartitionOpenReached
	timeout := c.cfg.Timeouts().PartitionOpenReached
	if dir == DirectionDown {
		name = TimeoutPartitionCloseReached
		timeout = c.cfg.Timeouts().PartitionCloseReached
	}

	c.register(func() bool {
		snap := c.snap.Load()
		if dir == DirectionDown {
			return snap.PartitionDown
		}
		return snap.PartitionUp
	}, timeout, name)
}

func (c *Controller) registerGateClosedWatchdog() {
	c.register(func() bool {
		return !c.snap.Load().ChamberOpen
	}, c.cfg.Timeouts().GateClosedConfirmed, TimeoutGateClosedConfirmed)
}

func (c *Controller) register(predicate func() bool, timeout time.Duration, name string) {
	st := c.states.State()
	c.watchdogs.Register(predicate, timeout, name,
		watchdog.WithOnTimeout(func() { c.metrics.incWatchdogTimeoutCount() }),
		watchdog.WithMetadata(map[string]any{"state": st.String(), "error": ErrConfirmationTimeout}),
	)
}

// Watchdogs returns the controller's confirmation supervisor for observation.
func (c *Controller) Watchdogs() *watchdog.Supervisor {
	return c.watchdogs
}
