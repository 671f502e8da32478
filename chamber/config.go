package chamber

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/avena-robotics/avena-commons-sub002/logger"
)

// Names of the configurable confirmation timeouts.
const (
	// TimeoutPartitionOpenReached bounds how long the partition may take to
	// reach its raised limit after an open command.
	TimeoutPartitionOpenReached = "partition_open_reached"
	// TimeoutPartitionCloseReached bounds how long the partition may take to
	// reach its lowered limit after a close command.
	TimeoutPartitionCloseReached = "partition_close_reached"
	// TimeoutGateLockedConfirmed bounds how long the lock may take to confirm
	// locked after a lock command.
	TimeoutGateLockedConfirmed = "gate_locked_confirmed"
	// TimeoutGateUnlockedConfirmed bounds how long the lock may take to confirm
	// unlocked after an unlock command.
	TimeoutGateUnlockedConfirmed = "gate_unlocked_confirmed"
	// TimeoutGateClosedConfirmed bounds how long the service gate may stay open
	// once the external actor has access.
	TimeoutGateClosedConfirmed = "gate_closed_confirmed"
)

// TimeoutConfig holds the confirmation deadlines registered with the watchdog
// supervisor.
type TimeoutConfig struct {
	// PartitionOpenReached defaults to 10s.
	PartitionOpenReached time.Duration
	// PartitionCloseReached defaults to 10s.
	PartitionCloseReached time.Duration
	// GateLockedConfirmed defaults to 3s.
	GateLockedConfirmed time.Duration
	// GateUnlockedConfirmed defaults to 3s.
	GateUnlockedConfirmed time.Duration
	// GateClosedConfirmed defaults to 30s.
	GateClosedConfirmed time.Duration
}

func defaultTimeouts() TimeoutConfig {
	return TimeoutConfig{
		PartitionOpenReached:  10 * time.Second,
		PartitionCloseReached: 10 * time.Second,
		GateLockedConfirmed:   3 * time.Second,
		GateUnlockedConfirmed: 3 * time.Second,
		GateClosedConfirmed:   30 * time.Second,
	}
}

// Config represents the configuration parameters for a chamber controller.
type Config struct {
	mu sync.RWMutex

	// cycleInterval defines the period of the control cycle when the
	// controller is driven by a Runner. It should be between 10ms and 5s.
	// Defaults to 100ms.
	cycleInterval time.Duration

	// partitionSpeed is the speed fraction passed to the partition actuator,
	// in (0, 1]. Bindings without speed control ignore it.
	// Defaults to 1.0.
	partitionSpeed float64

	// presenceSignals lists the optional presence sensor names read each cycle,
	// in order. Defaults to none.
	presenceSignals []string

	// timeouts holds the confirmation deadlines, after overrides.
	timeouts TimeoutConfig

	// overrides collects timeout overrides in seconds, validated once all
	// options are applied so warnings go to the configured logger.
	overrides map[string]float64

	// handlers are invoked on every interlock state change.
	handlers []StateChangeHandler

	// now is the controller's time source.
	now func() time.Time

	// logger provides a logger instance for controller events and errors.
	logger logger.Logger
}

// NewConfig creates a controller configuration with default values, then
// applies the provided options.
//
// Malformed timeout overrides never fail construction: each one logs a warning
// and the built-in default is kept. All other invalid options return an error.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := &Config{
		cycleInterval:  100 * time.Millisecond,
		partitionSpeed: 1.0,
		timeouts:       defaultTimeouts(),
		overrides:      make(map[string]float64),
		now:            time.Now,
		logger:         logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return cfg, err
		}
	}

	cfg.applyTimeoutOverrides()

	return cfg, nil
}

// applyTimeoutOverrides validates the collected overrides against the known
// timeout names. Invalid values and unknown names log a warning and leave the
// default unchanged.
func (cfg *Config) applyTimeoutOverrides() {
	targets := map[string]*time.Duration{
		TimeoutPartitionOpenReached:  &cfg.timeouts.PartitionOpenReached,
		TimeoutPartitionCloseReached: &cfg.timeouts.PartitionCloseReached,
		TimeoutGateLockedConfirmed:   &cfg.timeouts.GateLockedConfirmed,
		TimeoutGateUnlockedConfirmed: &cfg.timeouts.GateUnlockedConfirmed,
		TimeoutGateClosedConfirmed:   &cfg.timeouts.GateClosedConfirmed,
	}

	for name, seconds := range cfg.overrides {
		target, known := targets[name]
		if !known {
			cfg.logger.Warn("unknown timeout override ignored", "name", name, "value", seconds)
			continue
		}

		if seconds <= 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
			cfg.logger.Warn("invalid timeout override, keeping default",
				"name", name, "value", seconds, "default", *target)
			continue
		}

		*target = time.Duration(seconds * float64(time.Second))
	}
}

// CycleInterval returns the configured control cycle period.
func (cfg *Config) CycleInterval() time.Duration {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.cycleInterval
}

// PartitionSpeed returns the configured partition speed fraction.
func (cfg *Config) PartitionSpeed() float64 {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.partitionSpeed
}

// PresenceSignals returns the configured presence sensor names, in order.
func (cfg *Config) PresenceSignals() []string {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.presenceSignals
}

// Timeouts returns the confirmation deadlines after overrides.
func (cfg *Config) Timeouts() TimeoutConfig {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.timeouts
}

// Logger returns the configured logger instance.
func (cfg *Config) Logger() logger.Logger {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.logger
}

// Option represents a functional option for configuring a Config.
type Option interface {
	apply(*Config) error
}

type optFunc struct {
	name      string
	applyFunc func(*Config) error
}

func (o *optFunc) apply(cfg *Config) error { return o.applyFunc(cfg) }

func newOptFunc(name string, f func(*Config) error) *optFunc {
	return &optFunc{
		name:      name,
		applyFunc: f,
	}
}

// WithLogger sets the logger instance used by the controller and its
// subsystems.
//
// The default is the package-level logger.
func WithLogger(l logger.Logger) Option {
	return newOptFunc("WithLogger", func(cfg *Config) error {
		if l == nil {
			return fmt.Errorf("%w: logger is nil", ErrInvalidConfig)
		}

		cfg.logger = l

		return nil
	})
}

// WithCycleInterval sets the control cycle period used by the Runner.
// It should be between 10 milliseconds and 5 seconds.
//
// The default is 100 milliseconds.
func WithCycleInterval(interval time.Duration) Option {
	return newOptFunc("WithCycleInterval", func(cfg *Config) error {
		if interval < 10*time.Millisecond || interval > 5*time.Second {
			return fmt.Errorf("%w: cycle interval %v out of range [10ms, 5s]", ErrInvalidConfig, interval)
		}

		cfg.cycleInterval = interval

		return nil
	})
}

// WithPartitionSpeed sets the speed fraction passed to the partition actuator.
// It should be in (0, 1].
//
// The default is 1.0.
func WithPartitionSpeed(speed float64) Option {
	return newOptFunc("WithPartitionSpeed", func(cfg *Config) error {
		if speed <= 0 || speed > 1 || math.IsNaN(speed) {
			return fmt.Errorf("%w: partition speed %v out of range (0, 1]", ErrInvalidConfig, speed)
		}

		cfg.partitionSpeed = speed

		return nil
	})
}

// WithPresenceSignals sets the ordered presence sensor names read each cycle.
// Each name must be unique and non-empty; the device table must provide a
// reader for each.
//
// The default is no presence sensors.
func WithPresenceSignals(names ...string) Option {
	return newOptFunc("WithPresenceSignals", func(cfg *Config) error {
		seen := make(map[string]struct{}, len(names))
		for _, name := range names {
			if name == "" {
				return fmt.Errorf("%w: empty presence signal name", ErrInvalidConfig)
			}
			if _, dup := seen[name]; dup {
				return fmt.Errorf("%w: duplicate presence signal %q", ErrInvalidConfig, name)
			}
			seen[name] = struct{}{}
		}

		cfg.presenceSignals = append([]string(nil), names...)

		return nil
	})
}

// WithStateChangeHandler registers a handler invoked on every interlock state
// change. Multiple handlers run in registration order.
//
// Note: handlers run in blocking mode from the control cycle.
func WithStateChangeHandler(handler StateChangeHandler) Option {
	return newOptFunc("WithStateChangeHandler", func(cfg *Config) error {
		if handler == nil {
			return fmt.Errorf("%w: state change handler is nil", ErrInvalidConfig)
		}

		cfg.handlers = append(cfg.handlers, handler)

		return nil
	})
}

// WithNowFunc overrides the controller's time source. Intended for tests.
func WithNowFunc(now func() time.Time) Option {
	return newOptFunc("WithNowFunc", func(cfg *Config) error {
		if now == nil {
			return fmt.Errorf("%w: now func is nil", ErrInvalidConfig)
		}

		cfg.now = now

		return nil
	})
}

// WithTimeoutOverrides merges named timeout overrides, in seconds.
//
// Recognized names are partition_open_reached, partition_close_reached,
// gate_locked_confirmed, gate_unlocked_confirmed and gate_closed_confirmed.
// A non-positive, NaN, infinite, or unknown-name override logs a warning and
// keeps the built-in default; it never fails construction.
func WithTimeoutOverrides(overrides map[string]float64) Option {
	return newOptFunc("WithTimeoutOverrides", func(cfg *Config) error {
		for name, seconds := range overrides {
			cfg.overrides[name] = seconds
		}

		return nil
	})
}

// WithPartitionOpenTimeout overrides the partition_open_reached deadline.
// Non-positive values log a warning and keep the default.
func WithPartitionOpenTimeout(d time.Duration) Option {
	return withTimeout(TimeoutPartitionOpenReached, d)
}

// WithPartitionCloseTimeout overrides the partition_close_reached deadline.
// Non-positive values log a warning and keep the default.
func WithPartitionCloseTimeout(d time.Duration) Option {
	return withTimeout(TimeoutPartitionCloseReached, d)
}

// WithGateLockedTimeout overrides the gate_locked_confirmed deadline.
// Non-positive values log a warning and keep the default.
func WithGateLockedTimeout(d time.Duration) Option {
	return withTimeout(TimeoutGateLockedConfirmed, d)
}

// WithGateUnlockedTimeout overrides the gate_unlocked_confirmed deadline.
// Non-positive values log a warning and keep the default.
func WithGateUnlockedTimeout(d time.Duration) Option {
	return withTimeout(TimeoutGateUnlockedConfirmed, d)
}

// WithGateClosedTimeout overrides the gate_closed_confirmed deadline.
// Non-positive values log a warning and keep the default.
func WithGateClosedTimeout(d time.Duration) Option {
	return withTimeout(TimeoutGateClosedConfirmed, d)
}

func withTimeout(name string, d time.Duration) Option {
	return newOptFunc("WithTimeout:"+name, func(cfg *Config) error {
		cfg.overrides[name] = d.Seconds()

		return nil
	})
}
