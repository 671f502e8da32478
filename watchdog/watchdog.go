// Package watchdog provides deadline supervision for expected hardware
// confirmations.
//
// A Supervisor holds a set of registered expectations. Each expectation pairs a
// predicate ("the lock reports locked") with a deadline. The owner calls
// Evaluate once per control cycle: expectations whose predicate has become true
// are discharged silently, while expectations whose deadline has passed fire
// exactly once (log plus optional callback) and are removed. A fired
// expectation is never resurrected.
//
// Firing is advisory. The Supervisor never changes any state of its own accord;
// reacting to a timeout is entirely up to the registered callback and the
// owning control loop.
package watchdog

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/avena-robotics/avena-commons-sub002/logger"
)

// Handle identifies a registered expectation. The zero value is never issued.
type Handle uint64

type entry struct {
	id        Handle
	predicate func() bool
	deadline  time.Time
	desc      string
	onTimeout func()
	meta      map[string]any
}

// Supervisor tracks confirmation deadlines for in-flight hardware commands.
//
// Registration and evaluation are safe for concurrent use, although the
// intended usage is single-threaded: the owning control loop registers
// expectations and calls Evaluate from the same goroutine.
type Supervisor struct {
	mu      sync.Mutex
	entries []*entry
	nextID  atomic.Uint64
	logger  logger.Logger
	now     func() time.Time
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the logger used to report fired expectations.
func WithLogger(l logger.Logger) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithNowFunc overrides the time source. Intended for tests.
func WithNowFunc(now func() time.Time) Option {
	return func(s *Supervisor) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a Supervisor with no registered expectations.
func New(opts ...Option) *Supervisor {
	s := &Supervisor{
		logger: logger.GetLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EntryOption configures a single expectation at registration time.
type EntryOption func(*entry)

// WithOnTimeout sets a callback invoked once if the expectation fires.
func WithOnTimeout(fn func()) EntryOption {
	return func(e *entry) {
		e.onTimeout = fn
	}
}

// WithMetadata attaches key-value context that is logged when the expectation
// fires.
func WithMetadata(meta map[string]any) EntryOption {
	return func(e *entry) {
		e.meta = meta
	}
}

// Register adds an expectation that predicate becomes true within timeout,
// measured from now. desc names the awaited confirmation in log output.
//
// Registering is non-blocking and never coalesces entries; callers that replace
// an expectation should Cancel the old handle first.
func (s *Supervisor) Register(predicate func() bool, timeout time.Duration, desc string, opts ...EntryOption) Handle {
	e := &entry{
		id:        Handle(s.nextID.Add(1)),
		predicate: predicate,
		deadline:  s.now().Add(timeout),
		desc:      desc,
	}
	for _, opt := range opts {
		opt(e)
	}

	s.mu.Lock()
	s.entries = append(s.entries, e)
	s.mu.Unlock()

	return e.id
}

// Evaluate walks all registered expectations in registration order.
// Satisfied expectations are removed silently; overdue ones fire exactly once
// and are removed. Expectations that are neither stay registered.
//
// Deadline resolution is bounded by how often Evaluate is called; there are no
// independent timers.
func (s *Supervisor) Evaluate() {
	now := s.now()

	s.mu.Lock()
	pending := s.entries
	s.entries = nil
	s.mu.Unlock()

	var keep []*entry
	var fired []*entry
	for _, e := range pending {
		if s.confirmed(e) {
			continue
		}
		if now.Before(e.deadline) {
			keep = append(keep, e)
			continue
		}
		fired = append(fired, e)
	}

	s.mu.Lock()
	// entries registered by callbacks of a previous Evaluate, or concurrently,
	// were appended to the reset slice; keep them after the surviving ones.
	s.entries = append(keep, s.entries...)
	s.mu.Unlock()

	for _, e := range fired {
		s.fire(e)
	}
}

// confirmed runs the predicate with panic protection. A panicking predicate
// counts as unconfirmed.
func (s *Supervisor) confirmed(e *entry) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in watchdog predicate", "desc", e.desc, "panic", r)
			ok = false
		}
	}()

	return e.predicate()
}

func (s *Supervisor) fire(e *entry) {
	fields := []any{"desc", e.desc, "deadline", e.deadline}
	for k, v := range e.meta {
		fields = append(fields, k, v)
	}
	s.logger.Warn("confirmation not received in time", fields...)

	if e.onTimeout == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in watchdog timeout callback", "desc", e.desc, "panic", r)
		}
	}()

	e.onTimeout()
}

// Cancel removes the expectation with the given handle before it confirms or
// fires. It reports whether the handle was still registered.
func (s *Supervisor) Cancel(h Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, e := range s.entries {
		if e.id == h {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Active reports whether the expectation with the given handle is still
// registered.
func (s *Supervisor) Active(h Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entries {
		if e.id == h {
			return true
		}
	}
	return false
}

// Len returns the number of registered expectations.
func (s *Supervisor) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.entries)
}
