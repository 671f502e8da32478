// Package mqttlink bridges a chamber controller to an MQTT broker.
//
// The bridge subscribes to a command topic and a query topic under a
// configurable prefix, forwards commands to the controller's inbox, and
// publishes exactly one result per inbound request. Interlock state
// transitions are published as retained events so late subscribers always see
// the current state, and a retained availability payload marks the bridge
// online and offline.
//
// State change notifications arrive on the controller's cycle goroutine, so
// the bridge only enqueues them there; a dedicated task drains the queue and
// talks to the broker. Commands run on one task each because a command can
// take many cycles to complete.
package mqttlink

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/avena-robotics/avena-commons-sub002/chamber"
	"github.com/avena-robotics/avena-commons-sub002/internal/queue"
	"github.com/avena-robotics/avena-commons-sub002/logger"
	"github.com/avena-robotics/avena-commons-sub002/task"
)

const (
	defaultTopicPrefix    = "chamber"
	defaultQoS            = byte(1)
	defaultCommandTimeout = 30 * time.Second
)

// Bridge connects one chamber controller to one MQTT client.
//
// Create it with New, then Start and Stop it around the controller's Runner
// lifetime. The zero value is not usable.
type Bridge struct {
	ctrl   *chamber.Controller
	client Client
	logger logger.Logger

	prefix         string
	qos            byte
	commandTimeout time.Duration

	mu     sync.Mutex // guards mgr, runCtx, cancel
	mgr    *task.Manager
	runCtx context.Context
	cancel context.CancelFunc

	events   queue.Queue[*StateEvent]
	eventSig chan struct{}
	running  atomic.Bool
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithTopicPrefix sets the topic prefix all bridge topics live under.
// The prefix must be non-empty, without MQTT wildcards and without a leading
// or trailing slash. The default is "chamber".
func WithTopicPrefix(prefix string) Option {
	return func(b *Bridge) {
		b.prefix = prefix
	}
}

// WithQoS sets the MQTT quality of service for every publish and subscribe,
// in [0, 2]. The default is 1.
func WithQoS(qos byte) Option {
	return func(b *Bridge) {
		if qos <= 2 {
			b.qos = qos
		}
	}
}

// WithCommandTimeout bounds how long the bridge waits for a forwarded command
// to complete before publishing a timeout result. The default is 30s.
func WithCommandTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.commandTimeout = d
		}
	}
}

// WithLogger sets the logger used for bridge events and errors.
func WithLogger(l logger.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.logger = l
		}
	}
}

// New creates a Bridge for the given controller and client and registers its
// state change handler with the controller. The handler stays registered for
// the controller's lifetime but only queues events while the bridge runs.
func New(ctrl *chamber.Controller, client Client, opts ...Option) (*Bridge, error) {
	if ctrl == nil {
		return nil, ErrNilController
	}
	if client == nil {
		return nil, ErrNilClient
	}

	b := &Bridge{
		ctrl:           ctrl,
		client:         client,
		logger:         logger.GetLogger(),
		prefix:         defaultTopicPrefix,
		qos:            defaultQoS,
		commandTimeout: defaultCommandTimeout,
		events:         queue.NewLockFree[*StateEvent](),
		eventSig:       make(chan struct{}, 1),
	}

	for _, opt := range opts {
		opt(b)
	}

	if err := validatePrefix(b.prefix); err != nil {
		return nil, err
	}

	ctrl.AddStateChangeHandler(b.onStateChange)

	return b, nil
}

func validatePrefix(prefix string) error {
	switch {
	case prefix == "":
		return fmt.Errorf("%w: empty", ErrInvalidPrefix)
	case strings.ContainsAny(prefix, "+#"):
		return fmt.Errorf("%w: wildcard in %q", ErrInvalidPrefix, prefix)
	case strings.HasPrefix(prefix, "/") || strings.HasSuffix(prefix, "/"):
		return fmt.Errorf("%w: leading or trailing slash in %q", ErrInvalidPrefix, prefix)
	}

	return nil
}

// Start subscribes to the command and query topics, marks the bridge online
// and publishes the current interlock state retained. ctx bounds the lifetime
// of the bridge's tasks; canceling it aborts in-flight command waits.
func (b *Bridge) Start(ctx context.Context) error {
	if !b.running.CompareAndSwap(false, true) {
		return ErrBridgeStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	mgr := task.NewManager(runCtx, b.logger)

	b.mu.Lock()
	b.mgr, b.runCtx, b.cancel = mgr, runCtx, cancel
	b.mu.Unlock()

	fail := func(err error) error {
		cancel()
		mgr.Stop()
		mgr.Wait()

		b.mu.Lock()
		b.mgr, b.runCtx, b.cancel = nil, nil, nil
		b.mu.Unlock()

		b.running.Store(false)

		return err
	}

	if err := mgr.Start("statePublisher", func() bool {
		select {
		case <-runCtx.Done():
			return false
		case <-b.eventSig:
			b.publishPendingStates()
			return true
		}
	}); err != nil {
		return fail(err)
	}

	if err := b.client.Publish(TopicOnline(b.prefix), b.qos, true, OnlinePayload(true)); err != nil {
		return fail(fmt.Errorf("publish online status: %w", err))
	}

	initial := &StateEvent{State: b.ctrl.State().String(), Timestamp: timestamp(time.Now())}
	if err := b.publishState(initial); err != nil {
		return fail(fmt.Errorf("publish initial state: %w", err))
	}

	if err := b.client.Subscribe(TopicCommand(b.prefix), b.qos, b.handleCommand); err != nil {
		return fail(fmt.Errorf("subscribe commands: %w", err))
	}

	if err := b.client.Subscribe(TopicQuery(b.prefix), b.qos, b.handleQuery); err != nil {
		if uerr := b.client.Unsubscribe(TopicCommand(b.prefix)); uerr != nil {
			b.logger.Warn("unsubscribe during start rollback", "error", uerr)
		}

		return fail(fmt.Errorf("subscribe queries: %w", err))
	}

	b.logger.Info("mqtt bridge started", "prefix", b.prefix, "qos", b.qos)

	return nil
}

// Stop unsubscribes from the inbound topics, aborts in-flight command waits,
// flushes queued state events and marks the bridge offline. The MQTT client
// itself stays open; its owner closes it.
func (b *Bridge) Stop() error {
	if !b.running.CompareAndSwap(true, false) {
		return ErrBridgeStopped
	}

	if err := b.client.Unsubscribe(TopicCommand(b.prefix), TopicQuery(b.prefix)); err != nil {
		b.logger.Warn("unsubscribe on stop", "error", err)
	}

	b.mu.Lock()
	mgr, cancel := b.mgr, b.cancel
	b.mgr, b.runCtx, b.cancel = nil, nil, nil
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if mgr != nil {
		mgr.Stop()
		mgr.Wait()
	}

	b.publishPendingStates()

	if err := b.client.Publish(TopicOnline(b.prefix), b.qos, true, OnlinePayload(false)); err != nil {
		b.logger.Warn("publish offline status", "error", err)
	}

	b.logger.Info("mqtt bridge stopped", "prefix", b.prefix)

	return nil
}

// Running reports whether the bridge is started.
func (b *Bridge) Running() bool {
	return b.running.Load()
}

// session returns the current task manager and run context, or nils when the
// bridge is stopped.
func (b *Bridge) session() (*task.Manager, context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.mgr, b.runCtx
}

// onStateChange runs on the controller's cycle goroutine and must not block.
func (b *Bridge) onStateChange(prevState chamber.State, newState chamber.State) {
	if !b.running.Load() {
		return
	}

	b.events.Enqueue(&StateEvent{
		State:     newState.String(),
		PrevState: prevState.String(),
		Timestamp: timestamp(time.Now()),
	})

	select {
	case b.eventSig <- struct{}{}:
	default:
	}
}

func (b *Bridge) publishPendingStates() {
	for {
		event, ok := b.events.Dequeue()
		if !ok {
			return
		}

		if err := b.publishState(event); err != nil {
			b.logger.Error("publish state event", "state", event.State, "error", err)
		}
	}
}

func (b *Bridge) publishState(event *StateEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return b.client.Publish(TopicState(b.prefix), b.qos, true, payload)
}

// handleCommand parses one inbound command request and hands it to a task so
// the client's receive loop is never blocked by a multi-cycle command.
func (b *Bridge) handleCommand(_ string, payload []byte) {
	received := time.Now()

	var req CommandRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		b.logger.Warn("malformed command payload", "error", err)
		b.publishResult(CommandResult{
			ID:      uuid.NewString(),
			Status:  chamber.CompletionError.String(),
			Message: "malformed command payload",
		})

		return
	}

	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	if req.Command == "" {
		b.publishResult(CommandResult{
			ID:      req.ID,
			Status:  chamber.CompletionError.String(),
			Message: "missing command name",
		})

		return
	}

	mgr, runCtx := b.session()
	if mgr == nil {
		b.logger.Warn("command dropped, bridge not running", "command", req.Command, "id", req.ID)
		return
	}

	err := mgr.Start("command:"+req.Command, func() bool {
		b.finishCommand(runCtx, req, received)
		return false
	})
	if err != nil {
		b.publishResult(CommandResult{
			ID:        req.ID,
			Command:   req.Command,
			Status:    chamber.CompletionError.String(),
			Message:   "bridge shutting down",
			ElapsedMS: time.Since(received).Milliseconds(),
		})
	}
}

// finishCommand forwards one request to the controller, waits for its
// completion and publishes the result.
func (b *Bridge) finishCommand(ctx context.Context, req CommandRequest, received time.Time) {
	result, err := b.ctrl.SubmitAndWait(ctx, req.Command, b.commandTimeout)

	out := CommandResult{
		ID:        req.ID,
		Command:   req.Command,
		ElapsedMS: time.Since(received).Milliseconds(),
	}

	if err != nil {
		out.Status = chamber.CompletionError.String()
		out.Message = err.Error()
	} else {
		out.Status = result.Status.String()
		out.Message = result.Message
	}

	b.publishResult(out)
}

func (b *Bridge) publishResult(result CommandResult) {
	payload, err := json.Marshal(result)
	if err != nil {
		b.logger.Error("marshal command result", "id", result.ID, "error", err)
		return
	}

	if err := b.client.Publish(TopicResult(b.prefix), b.qos, false, payload); err != nil {
		b.logger.Error("publish command result",
			"id", result.ID, "command", result.Command, "error", err)
	}
}

// handleQuery answers one inbound query from the latest sensor snapshot.
// Queries never mutate controller state, so they are answered inline.
func (b *Bridge) handleQuery(_ string, payload []byte) {
	var req QueryRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		b.logger.Warn("malformed query payload", "error", err)
		return
	}

	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	reply := QueryReply{
		ID:     req.ID,
		Query:  req.Query,
		Answer: b.ctrl.Query(req.Query),
	}

	out, err := json.Marshal(reply)
	if err != nil {
		b.logger.Error("marshal query reply", "id", reply.ID, "error", err)
		return
	}

	if err := b.client.Publish(TopicQueryReply(b.prefix), b.qos, false, out); err != nil {
		b.logger.Error("publish query reply", "id", reply.ID, "query", reply.Query, "error", err)
	}
}
