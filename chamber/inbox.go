package chamber

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/avena-robotics/avena-commons-sub002/internal/pool"
	"github.com/avena-robotics/avena-commons-sub002/logger"
)

// CompletionStatus classifies how a command finished.
type CompletionStatus uint8

const (
	// CompletionSuccess indicates the command reached its goal.
	CompletionSuccess CompletionStatus = iota
	// CompletionError indicates the command finished without reaching its goal.
	CompletionError
)

// String returns string representation of the completion status.
func (s CompletionStatus) String() string {
	if s == CompletionError {
		return "error"
	}
	return "success"
}

// Result is the completion outcome delivered to command submitters.
type Result struct {
	// Status classifies the outcome.
	Status CompletionStatus
	// Message carries a human-readable explanation, primarily for errors.
	Message string
}

// Ticket represents one submitted command. All submitters of the same command
// name share a single ticket while it is pending.
type Ticket struct {
	name        string
	submittedAt time.Time
	done        chan struct{}
	result      Result
}

// Name returns the command name the ticket tracks.
func (t *Ticket) Name() string { return t.name }

// SubmittedAt returns the submission time of the first submitter.
func (t *Ticket) SubmittedAt() time.Time { return t.submittedAt }

// Done returns a channel that is closed when the command completes.
func (t *Ticket) Done() <-chan struct{} { return t.done }

// Result returns the completion outcome. ok is false while the command is
// still pending.
func (t *Ticket) Result() (result Result, ok bool) {
	select {
	case <-t.done:
		return t.result, true
	default:
		return Result{}, false
	}
}

// inboxEntry tracks one pending command name.
type inboxEntry struct {
	ticket *Ticket
	taken  atomic.Bool
}

// Inbox collects named command requests for the control cycle.
//
// Submit and Complete are safe for concurrent use from any goroutine. Peek and
// Take are intended for the control-cycle goroutine only.
//
// At most one instance of a command name is live at a time: submitting a name
// that is already pending attaches the caller to the existing ticket instead
// of queueing a second instance.
type Inbox struct {
	pending *xsync.MapOf[string, *inboxEntry]
	logger  logger.Logger
	metrics *Metrics
	now     func() time.Time
	closed  atomic.Bool
}

// NewInbox creates an empty Inbox. A nil logger falls back to the package
// default logger.
func NewInbox(l logger.Logger) *Inbox {
	if l == nil {
		l = logger.GetLogger()
	}
	return &Inbox{
		pending: xsync.NewMapOf[string, *inboxEntry](),
		logger:  l,
		metrics: &Metrics{},
		now:     time.Now,
	}
}

// Submit registers a request for the named command and returns its ticket.
//
// isNew reports whether this call created the pending instance; when the name
// is already pending the existing ticket is returned and isNew is false, so
// duplicate submissions share one completion.
//
// A nil ticket is returned after the inbox has been closed.
func (ib *Inbox) Submit(name string) (ticket *Ticket, isNew bool) {
	if ib.closed.Load() {
		return nil, false
	}

	entry := &inboxEntry{
		ticket: &Ticket{
			name:        name,
			submittedAt: ib.now(),
			done:        make(chan struct{}),
		},
	}

	actual, loaded := ib.pending.LoadOrStore(name, entry)
	if loaded {
		ib.logger.Debug("command already pending, attaching to existing ticket", "command", name)
		return actual.ticket, false
	}

	// a concurrent Close may have missed the entry stored above
	if ib.closed.Load() {
		ib.Complete(name, CompletionError, "command inbox closed")
		return nil, false
	}

	ib.metrics.incCommandSubmitCount()
	ib.metrics.incCommandPendingGauge()
	ib.logger.Debug("command submitted", "command", name)

	return entry.ticket, true
}

// Peek reports whether the named command is pending and not yet taken.
// It never consumes the request.
func (ib *Inbox) Peek(name string) bool {
	entry, ok := ib.pending.Load(name)
	return ok && !entry.taken.Load()
}

// Take consumes the pending request for the named command. It reports whether
// this call consumed it; subsequent calls return false until the command is
// completed and submitted again.
//
// Taking does not discharge the ticket: submitters stay attached until
// Complete delivers the outcome.
func (ib *Inbox) Take(name string) bool {
	entry, ok := ib.pending.Load(name)
	if !ok {
		return false
	}
	return entry.taken.CompareAndSwap(false, true)
}

// Complete finishes the named command, delivering the result to every waiter
// and clearing all residual state for the name. It reports whether a pending
// instance existed.
func (ib *Inbox) Complete(name string, status CompletionStatus, message string) bool {
	entry, ok := ib.pending.LoadAndDelete(name)
	if !ok {
		return false
	}

	entry.ticket.result = Result{Status: status, Message: message}
	close(entry.ticket.done)

	ib.metrics.decCommandPendingGauge()
	if status == CompletionSuccess {
		ib.metrics.incCommandSuccessCount()
	} else {
		ib.metrics.incCommandErrorCount()
	}

	ib.logger.Debug("command completed", "command", name, "status", status, "message", message)

	return true
}

// SubmitAndWait submits the named command and blocks until it completes, the
// timeout elapses, or ctx is done. A timed-out wait leaves the command
// pending; only the submission's wait is abandoned.
func (ib *Inbox) SubmitAndWait(ctx context.Context, name string, timeout time.Duration) (Result, error) {
	ticket, _ := ib.Submit(name)
	if ticket == nil {
		return Result{}, ErrInboxClosed
	}

	timer := pool.AcquireTimer(timeout)
	defer pool.ReleaseTimer(timer)

	select {
	case <-ticket.done:
		return ticket.result, nil
	case <-timer.C:
		return Result{}, ErrCommandTimeout
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Len returns the number of pending command names.
func (ib *Inbox) Len() int {
	return ib.pending.Size()
}

// Close rejects future submissions and completes every pending command with an
// error so no waiter blocks forever.
func (ib *Inbox) Close() {
	if !ib.closed.CompareAndSwap(false, true) {
		return
	}

	ib.pending.Range(func(name string, _ *inboxEntry) bool {
		ib.Complete(name, CompletionError, "command inbox closed")
		return true
	})
}
