package chamber

import "errors"

var (
	// ErrNilDevices indicates that no device table was provided to the controller.
	ErrNilDevices = errors.New("device table is nil")

	// ErrMissingSignal indicates that the device table lacks a reader for a
	// required input signal.
	ErrMissingSignal = errors.New("missing required signal reader")

	// ErrMissingActuator indicates that the device table lacks a required
	// actuator (lock or partition drive).
	ErrMissingActuator = errors.New("missing required actuator")

	// ErrInvalidConfig indicates that a configuration option was rejected at
	// construction time.
	ErrInvalidConfig = errors.New("invalid configuration")
)

var (
	// ErrUnknownCommand indicates that a submitted command name is not part of
	// the command vocabulary.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrCommandTimeout indicates that a submitted command did not complete
	// within the caller's wait budget. The command itself stays pending.
	ErrCommandTimeout = errors.New("command wait timed out")

	// ErrInboxClosed indicates that the command inbox no longer accepts
	// submissions.
	ErrInboxClosed = errors.New("command inbox closed")
)

var (
	// ErrSafetyViolation indicates a sensor combination that must never occur,
	// such as the service gate reading open while its lock is commanded locked.
	ErrSafetyViolation = errors.New("safety violation")

	// ErrMotorFault indicates that the partition drive reported a fault.
	ErrMotorFault = errors.New("partition motor fault")

	// ErrConfirmationTimeout indicates that an expected hardware confirmation
	// did not arrive within its deadline.
	ErrConfirmationTimeout = errors.New("confirmation timeout")

	// ErrInitFailed indicates that initialization could not determine or reach
	// a safe baseline posture.
	ErrInitFailed = errors.New("initialization failed")
)

var (
	// ErrNilController indicates that a nil Controller was provided.
	ErrNilController = errors.New("controller is nil")

	// ErrRunnerStarted indicates the cycle runner is already running.
	ErrRunnerStarted = errors.New("runner already started")

	// ErrRunnerStopped indicates the cycle runner is not running.
	ErrRunnerStopped = errors.New("runner not running")
)
