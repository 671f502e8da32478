package chamber

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/avena-robotics/avena-commons-sub002/logger"
)

// State represents the interlock posture of the transfer chamber.
type State uint32

// Interlock states of the transfer chamber.
const (
	// UnknownState is the startup state before any initialization attempt.
	UnknownState State = iota
	// InitializingState indicates the controller is driving the hardware to a
	// safe baseline posture.
	InitializingState
	// InitErrorState indicates initialization failed; only maintenance mode can
	// leave it.
	InitErrorState
	// ReleasedOpenState indicates the service gate is unlocked for the external
	// actor and currently open.
	ReleasedOpenState
	// ReleasedClosedState indicates the service gate is unlocked for the
	// external actor and currently closed.
	ReleasedClosedState
	// BlockedOpeningState indicates the gate is locked and the partition is
	// being raised.
	BlockedOpeningState
	// BlockedOpenedState indicates the gate is locked and the partition is up.
	BlockedOpenedState
	// BlockedClosingState indicates the gate is locked and the partition is
	// being lowered.
	BlockedClosingState
	// BlockedClosedState indicates the gate is locked and the partition is
	// down; the chamber is isolated from both sides.
	BlockedClosedState
	// BlockedOpenConveyorMovingState indicates the gate is locked, the
	// partition is up, and the production mechanism is transferring product.
	BlockedOpenConveyorMovingState
	// EnablingMaintenanceState is the transient pass-through into maintenance
	// mode.
	EnablingMaintenanceState
	// MaintenanceState suspends all interlock logic for servicing.
	MaintenanceState
	// DisablingMaintenanceState restores a safe posture before leaving
	// maintenance mode.
	DisablingMaintenanceState
)

// IsUnknown returns if the state is the startup state.
func (s State) IsUnknown() bool { return s == UnknownState }

// IsBlocked returns if the state belongs to the blocked family, in which the
// service gate is commanded locked.
func (s State) IsBlocked() bool {
	switch s {
	case BlockedOpeningState, BlockedOpenedState, BlockedClosingState, BlockedClosedState, BlockedOpenConveyorMovingState:
		return true
	default:
		return false
	}
}

// IsReleased returns if the state belongs to the released family, in which the
// service gate is unlocked for the external actor.
func (s State) IsReleased() bool {
	return s == ReleasedOpenState || s == ReleasedClosedState
}

// IsMaintenance returns if the state belongs to the maintenance family,
// including the transitions into and out of it.
func (s State) IsMaintenance() bool {
	switch s {
	case EnablingMaintenanceState, MaintenanceState, DisablingMaintenanceState:
		return true
	default:
		return false
	}
}

// String returns string representation of the state.
func (s State) String() string {
	switch s {
	case UnknownState:
		return "unknown"
	case InitializingState:
		return "initializing"
	case InitErrorState:
		return "init-error"
	case ReleasedOpenState:
		return "released-open"
	case ReleasedClosedState:
		return "released-closed"
	case BlockedOpeningState:
		return "blocked-opening"
	case BlockedOpenedState:
		return "blocked-opened"
	case BlockedClosingState:
		return "blocked-closing"
	case BlockedClosedState:
		return "blocked-closed"
	case BlockedOpenConveyorMovingState:
		return "blocked-open-conveyor-moving"
	case EnablingMaintenanceState:
		return "enabling-maintenance"
	case MaintenanceState:
		return "maintenance"
	case DisablingMaintenanceState:
		return "disabling-maintenance"
	default:
		return "invalid"
	}
}

// StateChangeHandler is a function type invoked when the interlock state
// changes.
//
// Note: the handler is invoked in blocking mode from the control cycle. Take
// care with long-running implementations.
//
// The handler function receives two arguments:
//   - prevState: The previous interlock state.
//   - newState: The current interlock state.
type StateChangeHandler func(prevState State, newState State)

// stateMgr holds the current interlock state.
//
// Transitions happen only on the control-cycle goroutine, but the current
// state can be observed from any goroutine, and WaitState allows goroutines to
// block until a desired state is reached.
type stateMgr struct {
	mu       sync.Mutex
	cond     *sync.Cond
	state    atomic.Uint32
	logger   logger.Logger
	handlers []StateChangeHandler
}

func newStateMgr(l logger.Logger, handlers ...StateChangeHandler) *stateMgr {
	mgr := &stateMgr{
		logger:   l,
		handlers: append([]StateChangeHandler(nil), handlers...),
	}
	mgr.state.Store(uint32(UnknownState))
	mgr.cond = sync.NewCond(&mgr.mu)

	return mgr
}

// State returns the current interlock state.
func (mgr *stateMgr) State() State {
	return State(mgr.state.Load())
}

// AddHandler adds one or more StateChangeHandler functions to be invoked on
// state changes.
func (mgr *stateMgr) AddHandler(handlers ...StateChangeHandler) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	mgr.handlers = append(mgr.handlers, handlers...)
}

// Set transitions to newState, invoking the registered handlers.
// It is a no-op when newState equals the current state.
func (mgr *stateMgr) Set(newState State) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	prevState := mgr.State()
	if prevState == newState {
		return
	}

	// change state BEFORE handlers run so observers of State() and the
	// handlers agree on the current state
	mgr.state.Store(uint32(newState))
	mgr.cond.Broadcast()

	mgr.logger.Info("interlock state changed", "prev_state", prevState, "new_state", newState)
	mgr.invokeHandlers(prevState, newState)
}

// WaitState waits for the interlock state to reach the specified state or until
// the context is done.
// It returns nil if the desired state is reached, or an error if the context is
// canceled or times out.
func (mgr *stateMgr) WaitState(ctx context.Context, state State) error {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	if mgr.State() == state {
		return nil
	}

	stopFunc := context.AfterFunc(ctx, func() {
		mgr.cond.Broadcast()
	})
	defer stopFunc()

	for mgr.State() != state {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			mgr.cond.Wait()
		}
	}

	return nil
}

// invokeHandlers invokes all registered StateChangeHandler functions with the
// previous and new states. Handler panics are contained.
func (mgr *stateMgr) invokeHandlers(prevState State, newState State) {
	for _, handler := range mgr.handlers {
		if handler == nil {
			continue
		}

		func() {
			defer func() {
				if r := recover(); r != nil {
					mgr.logger.Error("panic in state change handler", "panic", r)
				}
			}()
			handler(prevState, newState)
		}()
	}
}
