package chamber

import (
	"sync/atomic"
)

// Metrics contains atomic counters for a chamber controller.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type Metrics struct {
	// CycleCount indicates the number of completed control cycles.
	CycleCount atomic.Uint64
	// TransitionCount indicates the number of interlock state transitions.
	TransitionCount atomic.Uint64

	// CommandSubmitCount indicates the number of accepted command submissions.
	CommandSubmitCount atomic.Uint64
	// CommandSuccessCount indicates the number of commands completed successfully.
	CommandSuccessCount atomic.Uint64
	// CommandErrorCount indicates the number of commands completed with an error.
	CommandErrorCount atomic.Uint64
	// CommandPendingGauge indicates the number of commands currently pending.
	CommandPendingGauge atomic.Int64

	// SafetyViolationCount indicates the number of cycles that observed an
	// unsafe sensor combination.
	SafetyViolationCount atomic.Uint64
	// WatchdogTimeoutCount indicates the number of fired confirmation deadlines.
	WatchdogTimeoutCount atomic.Uint64
	// MotorFaultResetCount indicates the number of partition drive fault resets.
	MotorFaultResetCount atomic.Uint64
	// SensorReadErrCount indicates the number of failed sensor reads.
	SensorReadErrCount atomic.Uint64
	// ActuatorErrCount indicates the number of failed actuator commands.
	ActuatorErrCount atomic.Uint64
	// CycleErrCount indicates the number of cycles that recovered from an
	// internal error.
	CycleErrCount atomic.Uint64
}

func (m *Metrics) incCycleCount() {
	m.CycleCount.Add(1)
}

func (m *Metrics) incTransitionCount() {
	m.TransitionCount.Add(1)
}

func (m *Metrics) incCommandSubmitCount() {
	m.CommandSubmitCount.Add(1)
}

func (m *Metrics) incCommandSuccessCount() {
	m.CommandSuccessCount.Add(1)
}

func (m *Metrics) incCommandErrorCount() {
	m.CommandErrorCount.Add(1)
}

func (m *Metrics) incCommandPendingGauge() {
	m.CommandPendingGauge.Add(1)
}

func (m *Metrics) decCommandPendingGauge() {
	m.CommandPendingGauge.Add(-1)
}

func (m *Metrics) incSafetyViolationCount() {
	m.SafetyViolationCount.Add(1)
}

func (m *Metrics) incWatchdogTimeoutCount() {
	m.WatchdogTimeoutCount.Add(1)
}

func (m *Metrics) incMotorFaultResetCount() {
	m.MotorFaultResetCount.Add(1)
}

func (m *Metrics) incSensorReadErrCount() {
	m.SensorReadErrCount.Add(1)
}

func (m *Metrics) incActuatorErrCount() {
	m.ActuatorErrCount.Add(1)
}

func (m *Metrics) incCycleErrCount() {
	m.CycleErrCount.Add(1)
}
