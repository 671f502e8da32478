package mqttlink

import "errors"

var (
	// ErrNilController indicates that no controller was provided to the bridge.
	ErrNilController = errors.New("controller is nil")

	// ErrNilClient indicates that no MQTT client was provided to the bridge.
	ErrNilClient = errors.New("mqtt client is nil")

	// ErrInvalidPrefix indicates a topic prefix that is empty or contains MQTT
	// wildcard characters.
	ErrInvalidPrefix = errors.New("invalid topic prefix")

	// ErrBridgeStarted indicates the bridge is already running.
	ErrBridgeStarted = errors.New("bridge already started")

	// ErrBridgeStopped indicates the bridge is not running.
	ErrBridgeStopped = errors.New("bridge not running")

	// ErrBrokerTimeout indicates the broker did not acknowledge an operation
	// within its wait budget.
	ErrBrokerTimeout = errors.New("broker acknowledgement timeout")
)
