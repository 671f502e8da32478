// Package chamber implements the safety-interlock controller for a two-sided
// product-transfer chamber: a lockable service gate facing an external actor
// and a motorized internal partition facing a production mechanism.
//
// The controller guarantees that the two sides are never simultaneously
// accessible in an unsafe combination, drives the lock and partition actuators
// in response to named commands, and detects hardware faults through
// confirmation watchdogs (see the watchdog package).
//
// Key Features:
//   - Interlock State Machine: An enumerated-state controller evaluated once
//     per cycle; transitions happen only inside Cycle.
//   - Sensor Snapshot: All input signals are read exactly once per cycle into
//     an immutable snapshot, so every guard decision within a cycle observes
//     the same values.
//   - Command Inbox: Asynchronously arriving named commands are handed off to
//     the single-threaded control cycle, with one success/error completion
//     delivered back per command.
//   - Confirmation Watchdogs: Every actuator command registers a bounded-time
//     expectation that the hardware confirms the change; expirations are
//     logged and counted but never force a transition.
//   - Device Capabilities: Hardware access goes through small interfaces
//     resolved once at construction (see Devices); bindings exist for GPIO
//     lines, a software simulator, and test fakes.
//
// Construction and Operation:
//   - Create a Config with NewConfig and the desired options.
//   - Create a Controller with NewController and a Devices table.
//   - Drive it either by calling Cycle from your own serialized scheduler, or
//     by starting a Runner, which cycles at the configured interval.
//
// Commands and Queries:
//   - Submit or SubmitAndWait sends one of the named commands (see the
//     Command constants); duplicates of a pending command share one
//     completion.
//   - Query answers instantaneous sensor questions ("is_chamber_open",
//     "is_<presence signal>") from the latest snapshot.
//
// Usage Example:
//
//	func main() {
//	    cfg, err := chamber.NewConfig(
//	        chamber.WithCycleInterval(100*time.Millisecond),
//	        chamber.WithPresenceSignals("product_present"),
//	        chamber.WithTimeoutOverrides(map[string]float64{
//	            "partition_open_reached": 15.0,
//	        }),
//	    )
//	    // ... handle error ...
//
//	    ctrl, err := chamber.NewController(devices, cfg)
//	    // ... handle error ...
//	    defer ctrl.Close()
//
//	    runner, err := chamber.NewRunner(ctrl)
//	    // ... handle error ...
//	    _ = runner.Start(ctx)
//	    defer runner.Stop()
//
//	    result, err := ctrl.SubmitAndWait(ctx, chamber.CommandInitialize, 30*time.Second)
//	    // ... handle error ...
//	}
//
// Concurrency:
//   - Cycle invocations must be serialized (the Runner guarantees this).
//   - Submit, SubmitAndWait, Query, State, WaitState and the metric counters
//     are safe from any goroutine.
//   - Peek and Take on the inbox belong to the cycle goroutine only.
package chamber
