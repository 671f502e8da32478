package chamber

import (
	"context"
	"sync/atomic"

	"github.com/avena-robotics/avena-commons-sub002/logger"
	"github.com/avena-robotics/avena-commons-sub002/task"
)

const cycleTaskName = "interlockCycle"

// Runner drives a Controller's cycle on a fixed schedule.
//
// It guarantees the serialized, non-overlapping invocation the controller
// requires: one managed goroutine runs every cycle, with panic protection from
// the task manager underneath the controller's own recovery.
type Runner struct {
	controller *Controller
	logger     logger.Logger

	mgr     *task.Manager
	cancel  context.CancelFunc
	running atomic.Bool
}

// NewRunner creates a runner for the given controller. The cycle period comes
// from the controller's configuration.
func NewRunner(controller *Controller) (*Runner, error) {
	if controller == nil {
		return nil, ErrNilController
	}

	return &Runner{
		controller: controller,
		logger:     controller.logger,
	}, nil
}

// Controller returns the driven controller.
func (r *Runner) Controller() *Controller {
	return r.controller
}

// Running reports whether the runner is currently cycling.
func (r *Runner) Running() bool {
	return r.running.Load()
}

// Start begins cycling. The first cycle runs before Start returns, so
// initialization is underway once it does. Start fails if the runner is
// already running.
func (r *Runner) Start(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrRunnerStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.mgr = task.NewManager(runCtx, r.logger)

	interval := r.controller.cfg.CycleInterval()
	r.logger.Info("interlock cycle starting", "interval", interval)

	_, err := r.mgr.StartInterval(cycleTaskName, func() bool {
		r.controller.Cycle()
		return true
	}, interval, true)
	if err != nil {
		cancel()
		r.running.Store(false)
		return err
	}

	return nil
}

// Stop halts cycling and waits for the in-flight cycle to finish. The
// controller itself stays usable; Start may be called again.
func (r *Runner) Stop() error {
	if !r.running.CompareAndSwap(true, false) {
		return ErrRunnerStopped
	}

	r.mgr.Stop()
	r.cancel()
	r.mgr.Wait()

	r.logger.Info("interlock cycle stopped")

	return nil
}
