package chamber

import (
	"github.com/avena-robotics/avena-commons-sub002/internal/util"
	"github.com/avena-robotics/avena-commons-sub002/logger"
)

// SensorSnapshot is a consistent view of every input signal, captured once at
// the start of each control cycle. All guard decisions within a cycle read the
// same snapshot.
type SensorSnapshot struct {
	// ChamberOpen reports whether the service gate is physically open.
	ChamberOpen bool
	// PartitionUp reports whether the partition is at its raised limit.
	PartitionUp bool
	// PartitionDown reports whether the partition is at its lowered limit.
	PartitionDown bool
	// LockConfirmed is the confirmed lock posture, or nil while neither
	// confirmation contact is active (lock in mid-travel or confirmation
	// unavailable).
	LockConfirmed *LockState
	// MotorFault reports a latched fault from the partition drive.
	MotorFault bool
	// Presence holds the configured presence sensor readings, in configuration
	// order.
	Presence []bool
}

// LockConfirmedIs reports whether the lock confirmation matches state.
// It returns false while the confirmation is nil.
func (s *SensorSnapshot) LockConfirmedIs(state LockState) bool {
	return s.LockConfirmed != nil && *s.LockConfirmed == state
}

// rawReadings retains the last successfully read value of each signal so a
// transient read failure carries the previous value forward for that signal
// only.
type rawReadings struct {
	chamberOpen   bool
	partitionUp   bool
	partitionDown bool
	lockLocked    bool
	lockUnlocked  bool
	motorFault    bool
	presence      []bool
}

// sensorBank reads the device table into SensorSnapshot values.
type sensorBank struct {
	devices       *Devices
	presenceNames []string
	logger        logger.Logger
	metrics       *Metrics
	raw           rawReadings
}

func newSensorBank(devices *Devices, presenceNames []string, l logger.Logger, m *Metrics) *sensorBank {
	return &sensorBank{
		devices:       devices,
		presenceNames: presenceNames,
		logger:        l,
		metrics:       m,
		raw: rawReadings{
			presence: make([]bool, len(presenceNames)),
		},
	}
}

// refresh reads every configured signal exactly once and returns a new
// snapshot. A failed read logs the error and keeps the previous value of that
// signal; refresh itself never fails.
func (b *sensorBank) refresh() SensorSnapshot {
	b.raw.chamberOpen = b.read(SignalChamberOpen, b.raw.chamberOpen)
	b.raw.partitionUp = b.read(SignalPartitionUp, b.raw.partitionUp)
	b.raw.partitionDown = b.read(SignalPartitionDown, b.raw.partitionDown)
	b.raw.lockLocked = b.read(SignalLockLocked, b.raw.lockLocked)
	b.raw.lockUnlocked = b.read(SignalLockUnlocked, b.raw.lockUnlocked)
	b.raw.motorFault = b.read(SignalMotorFault, b.raw.motorFault)

	for i, name := range b.presenceNames {
		b.raw.presence[i] = b.readPresence(name, b.raw.presence[i])
	}

	snap := SensorSnapshot{
		ChamberOpen:   b.raw.chamberOpen,
		PartitionUp:   b.raw.partitionUp,
		PartitionDown: b.raw.partitionDown,
		MotorFault:    b.raw.motorFault,
		Presence:      util.CloneSlice(b.raw.presence, 0),
	}

	switch {
	case b.raw.lockLocked && b.raw.lockUnlocked:
		// contradictory confirmation contacts; treat as unconfirmed
		b.logger.Warn("lock confirmation contacts disagree, treating lock state as unconfirmed")
	case b.raw.lockLocked:
		state := LockLocked
		snap.LockConfirmed = &state
	case b.raw.lockUnlocked:
		state := LockUnlocked
		snap.LockConfirmed = &state
	}

	return snap
}

func (b *sensorBank) read(sig Signal, prev bool) bool {
	val, err := b.devices.Signals[sig].Read()
	if err != nil {
		b.logger.Error("sensor read failed, keeping previous value", "signal", sig, "prev", prev, "error", err)
		b.metrics.incSensorReadErrCount()
		return prev
	}
	return val
}

func (b *sensorBank) readPresence(name string, prev bool) bool {
	val, err := b.devices.Presence[name].Read()
	if err != nil {
		b.logger.Error("presence sensor read failed, keeping previous value", "signal", name, "prev", prev, "error", err)
		b.metrics.incSensorReadErrCount()
		return prev
	}
	return val
}
