package mqttlink

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/avena-robotics/avena-commons-sub002/chamber"
	"github.com/avena-robotics/avena-commons-sub002/logger"
	"github.com/avena-robotics/avena-commons-sub002/sim"
)

// bridgeRig wires a bridge to a controller over a simulated chamber and a
// recording client. Tests drive the control cycle themselves.
type bridgeRig struct {
	model  *sim.Chamber
	ctrl   *chamber.Controller
	client *RecorderClient
	bridge *Bridge
}

func newBridgeRig(t *testing.T, opts ...Option) *bridgeRig {
	t.Helper()

	model := sim.NewChamber(
		sim.WithTravelTime(30*time.Millisecond),
		sim.WithLockDelay(0),
		sim.WithPresenceSignals("carrier"),
	)

	cfg, err := chamber.NewConfig(
		chamber.WithLogger(logger.NewNop()),
		chamber.WithPresenceSignals("carrier"),
	)
	require.NoError(t, err)

	ctrl, err := chamber.NewController(model.Devices(), cfg)
	require.NoError(t, err)

	client := NewRecorderClient()

	bridge, err := New(ctrl, client, append([]Option{WithLogger(logger.NewNop())}, opts...)...)
	require.NoError(t, err)

	t.Cleanup(func() {
		if bridge.Running() {
			_ = bridge.Stop()
		}
		ctrl.Close()
	})

	return &bridgeRig{model: model, ctrl: ctrl, client: client, bridge: bridge}
}

func (r *bridgeRig) start(t *testing.T) {
	t.Helper()
	require.NoError(t, r.bridge.Start(context.Background()))
}

// cycleUntil runs control cycles until cond holds.
func (r *bridgeRig) cycleUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for {
		r.ctrl.Cycle()
		if cond() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// coldStart cycles the controller from Unknown to BlockedOpened.
func (r *bridgeRig) coldStart(t *testing.T) {
	t.Helper()
	r.cycleUntil(t, "cold start", func() bool {
		return r.ctrl.State() == chamber.BlockedOpenedState
	})
}

func (r *bridgeRig) deliver(t *testing.T, topic, payload string) {
	t.Helper()
	require.NoError(t, r.client.Deliver(topic, []byte(payload)))
}

func (r *bridgeRig) results(t *testing.T) []CommandResult {
	t.Helper()

	msgs := r.client.PublishedTo(TopicResult(r.bridge.prefix))
	out := make([]CommandResult, 0, len(msgs))
	for _, msg := range msgs {
		var res CommandResult
		require.NoError(t, json.Unmarshal(msg.Payload, &res))
		out = append(out, res)
	}

	return out
}

// waitResults cycles the controller until n results were published.
func (r *bridgeRig) waitResults(t *testing.T, n int) []CommandResult {
	t.Helper()

	r.cycleUntil(t, "command results", func() bool {
		return len(r.client.PublishedTo(TopicResult(r.bridge.prefix))) >= n
	})

	return r.results(t)
}

// waitResultsIdle waits for n results without running any control cycles.
func (r *bridgeRig) waitResultsIdle(t *testing.T, n int) []CommandResult {
	t.Helper()

	require.Eventually(t, func() bool {
		return len(r.client.PublishedTo(TopicResult(r.bridge.prefix))) >= n
	}, 2*time.Second, 5*time.Millisecond)

	return r.results(t)
}

func (r *bridgeRig) stateEvents(t *testing.T) []StateEvent {
	t.Helper()

	msgs := r.client.PublishedTo(TopicState(r.bridge.prefix))
	out := make([]StateEvent, 0, len(msgs))
	for _, msg := range msgs {
		require.True(t, msg.Retained, "state events must be retained")

		var event StateEvent
		require.NoError(t, json.Unmarshal(msg.Payload, &event))
		out = append(out, event)
	}

	return out
}

func (r *bridgeRig) replies(t *testing.T) []QueryReply {
	t.Helper()

	msgs := r.client.PublishedTo(TopicQueryReply(r.bridge.prefix))
	out := make([]QueryReply, 0, len(msgs))
	for _, msg := range msgs {
		var reply QueryReply
		require.NoError(t, json.Unmarshal(msg.Payload, &reply))
		out = append(out, reply)
	}

	return out
}

func decodeOnline(t *testing.T, msg PublishedMessage) bool {
	t.Helper()

	var status struct {
		Online bool `json:"online"`
	}
	require.NoError(t, json.Unmarshal(msg.Payload, &status))

	return status.Online
}

func TestNewBridge(t *testing.T) {
	require := require.New(t)

	t.Run("Nil Controller", func(t *testing.T) {
		_, err := New(nil, NewRecorderClient())
		require.ErrorIs(err, ErrNilController)
	})

	t.Run("Nil Client", func(t *testing.T) {
		rig := newBridgeRig(t)
		_, err := New(rig.ctrl, nil)
		require.ErrorIs(err, ErrNilClient)
	})

	t.Run("Invalid Prefix", func(t *testing.T) {
		rig := newBridgeRig(t)

		for _, prefix := range []string{"", "cell/+", "cell/#", "/cell", "cell/"} {
			_, err := New(rig.ctrl, rig.client, WithTopicPrefix(prefix))
			require.ErrorIs(err, ErrInvalidPrefix, "prefix %q", prefix)
		}
	})

	t.Run("Defaults", func(t *testing.T) {
		rig := newBridgeRig(t)
		require.Equal("chamber", rig.bridge.prefix)
		require.Equal(byte(1), rig.bridge.qos)
		require.Equal(30*time.Second, rig.bridge.commandTimeout)
		require.False(rig.bridge.Running())
	})

	t.Run("Options Applied", func(t *testing.T) {
		rig := newBridgeRig(t, WithTopicPrefix("cell/7"), WithQoS(0), WithCommandTimeout(time.Second))
		require.Equal("cell/7", rig.bridge.prefix)
		require.Equal(byte(0), rig.bridge.qos)
		require.Equal(time.Second, rig.bridge.commandTimeout)
	})

	t.Run("Invalid QoS Keeps Default", func(t *testing.T) {
		rig := newBridgeRig(t, WithQoS(3))
		require.Equal(byte(1), rig.bridge.qos)
	})
}

func TestBridgeStartStop(t *testing.T) {
	require := require.New(t)
	rig := newBridgeRig(t)

	rig.start(t)
	require.True(rig.bridge.Running())
	require.ErrorIs(rig.bridge.Start(context.Background()), ErrBridgeStarted)

	require.True(rig.client.Subscribed(TopicCommand("chamber")))
	require.True(rig.client.Subscribed(TopicQuery("chamber")))

	online, ok := rig.client.LastPublished(TopicOnline("chamber"))
	require.True(ok)
	require.True(online.Retained)
	require.True(decodeOnline(t, online))

	// the pre-cycle posture is retained for late subscribers
	events := rig.stateEvents(t)
	require.Len(events, 1)
	require.Equal("unknown", events[0].State)
	require.Empty(events[0].PrevState)

	require.NoError(rig.bridge.Stop())
	require.False(rig.bridge.Running())
	require.ErrorIs(rig.bridge.Stop(), ErrBridgeStopped)

	require.False(rig.client.Subscribed(TopicCommand("chamber")))
	require.False(rig.client.Subscribed(TopicQuery("chamber")))

	online, ok = rig.client.LastPublished(TopicOnline("chamber"))
	require.True(ok)
	require.True(online.Retained)
	require.False(decodeOnline(t, online))

	// a stopped bridge can be started again
	rig.start(t)
	online, _ = rig.client.LastPublished(TopicOnline("chamber"))
	require.True(decodeOnline(t, online))
}

func TestBridgeStartSubscribeFailure(t *testing.T) {
	require := require.New(t)
	rig := newBridgeRig(t)

	brokenSub := errors.New("broker rejected subscription")
	rig.client.FailSubscribes(brokenSub)

	err := rig.bridge.Start(context.Background())
	require.ErrorIs(err, brokenSub)
	require.False(rig.bridge.Running())

	rig.client.FailSubscribes(nil)
	rig.start(t)
	require.True(rig.bridge.Running())
}

func TestBridgeTopicPrefix(t *testing.T) {
	require := require.New(t)
	rig := newBridgeRig(t, WithTopicPrefix("cell/7"))

	rig.start(t)

	require.True(rig.client.Subscribed("cell/7/command"))
	require.True(rig.client.Subscribed("cell/7/query"))

	_, ok := rig.client.LastPublished("cell/7/online")
	require.True(ok)
	_, ok = rig.client.LastPublished("cell/7/state")
	require.True(ok)
}

func TestBridgeQoSApplied(t *testing.T) {
	require := require.New(t)
	rig := newBridgeRig(t, WithQoS(2))

	rig.start(t)

	online, ok := rig.client.LastPublished(TopicOnline("chamber"))
	require.True(ok)
	require.Equal(byte(2), online.QoS)

	// a synchronous reject inherits the configured QoS as well
	rig.deliver(t, TopicCommand("chamber"), `not json`)

	result, ok := rig.client.LastPublished(TopicResult("chamber"))
	require.True(ok)
	require.Equal(byte(2), result.QoS)
	require.False(result.Retained)
}

func TestBridgeCommandRoundTrip(t *testing.T) {
	require := require.New(t)
	rig := newBridgeRig(t)

	rig.start(t)
	rig.coldStart(t)

	rig.deliver(t, TopicCommand("chamber"), `{"id":"cmd-1","command":"block_chamber"}`)

	results := rig.waitResults(t, 1)
	require.Len(results, 1)
	require.Equal("cmd-1", results[0].ID)
	require.Equal("block_chamber", results[0].Command)
	require.Equal("success", results[0].Status)
	require.Empty(results[0].Message)
	require.GreaterOrEqual(results[0].ElapsedMS, int64(0))

	require.Equal(chamber.BlockedOpenConveyorMovingState, rig.ctrl.State())

	msg, ok := rig.client.LastPublished(TopicResult("chamber"))
	require.True(ok)
	require.Equal(byte(1), msg.QoS)
	require.False(msg.Retained)
}

func TestBridgeCommandGeneratedID(t *testing.T) {
	require := require.New(t)
	rig := newBridgeRig(t)

	rig.start(t)
	rig.coldStart(t)

	rig.deliver(t, TopicCommand("chamber"), `{"command":"initialize"}`)

	results := rig.waitResults(t, 1)
	require.Equal("initialize", results[0].Command)
	require.Equal("success", results[0].Status)

	_, err := uuid.Parse(results[0].ID)
	require.NoError(err, "missing request IDs are filled with a generated UUID")
}

func TestBridgeCommandRejects(t *testing.T) {
	require := require.New(t)

	t.Run("Unknown Command", func(t *testing.T) {
		rig := newBridgeRig(t)
		rig.start(t)
		rig.coldStart(t)

		rig.deliver(t, TopicCommand("chamber"), `{"id":"u1","command":"warp_factor"}`)

		results := rig.waitResultsIdle(t, 1)
		require.Equal("u1", results[0].ID)
		require.Equal("warp_factor", results[0].Command)
		require.Equal("error", results[0].Status)
		require.Contains(results[0].Message, "unknown command")
	})

	t.Run("Malformed Payload", func(t *testing.T) {
		rig := newBridgeRig(t)
		rig.start(t)

		rig.deliver(t, TopicCommand("chamber"), `{"id":`)

		results := rig.results(t)
		require.Len(results, 1)
		require.NotEmpty(results[0].ID)
		require.Equal("error", results[0].Status)
		require.Contains(results[0].Message, "malformed")
	})

	t.Run("Missing Name", func(t *testing.T) {
		rig := newBridgeRig(t)
		rig.start(t)

		rig.deliver(t, TopicCommand("chamber"), `{"id":"m1"}`)

		results := rig.results(t)
		require.Len(results, 1)
		require.Equal("m1", results[0].ID)
		require.Equal("error", results[0].Status)
		require.Contains(results[0].Message, "missing command name")
	})
}

// A wait that expires publishes a timeout result but leaves the request
// pending in the controller's inbox.
func TestBridgeCommandTimeout(t *testing.T) {
	require := require.New(t)
	rig := newBridgeRig(t, WithCommandTimeout(40*time.Millisecond))

	rig.start(t)
	rig.coldStart(t)

	// no further cycles run, so the request is never taken
	rig.deliver(t, TopicCommand("chamber"), `{"id":"t1","command":"partition_down"}`)

	results := rig.waitResultsIdle(t, 1)
	require.Equal("t1", results[0].ID)
	require.Equal("error", results[0].Status)
	require.Contains(results[0].Message, "command wait timed out")
	require.GreaterOrEqual(results[0].ElapsedMS, int64(40))

	require.True(rig.ctrl.Inbox().Peek(chamber.CommandPartitionDown),
		"a timed-out wait must not withdraw the request")
}

// Requests with distinct IDs for the same command name share one completion
// but each gets its own result.
func TestBridgeDuplicateCommandRequests(t *testing.T) {
	require := require.New(t)
	rig := newBridgeRig(t)

	rig.start(t)
	rig.coldStart(t)

	rig.deliver(t, TopicCommand("chamber"), `{"id":"dup-a","command":"initialize"}`)
	rig.deliver(t, TopicCommand("chamber"), `{"id":"dup-b","command":"initialize"}`)

	results := rig.waitResults(t, 2)
	require.Len(results, 2)

	ids := map[string]bool{}
	for _, res := range results {
		require.Equal("initialize", res.Command)
		require.Equal("success", res.Status)
		ids[res.ID] = true
	}
	require.True(ids["dup-a"])
	require.True(ids["dup-b"])
}

func TestBridgeQueries(t *testing.T) {
	require := require.New(t)

	t.Run("Chamber Open", func(t *testing.T) {
		rig := newBridgeRig(t)
		rig.start(t)
		rig.ctrl.Cycle()

		rig.deliver(t, TopicQuery("chamber"), `{"id":"q1","query":"is_chamber_open"}`)

		replies := rig.replies(t)
		require.Len(replies, 1)
		require.Equal("q1", replies[0].ID)
		require.Equal("is_chamber_open", replies[0].Query)
		require.Equal(0, replies[0].Answer)
	})

	t.Run("Presence", func(t *testing.T) {
		rig := newBridgeRig(t)
		rig.start(t)
		rig.ctrl.Cycle()

		rig.deliver(t, TopicQuery("chamber"), `{"id":"q1","query":"is_carrier"}`)

		rig.model.SetPresence("carrier", true)
		rig.ctrl.Cycle()

		rig.deliver(t, TopicQuery("chamber"), `{"id":"q2","query":"is_carrier"}`)

		replies := rig.replies(t)
		require.Len(replies, 2)
		require.Equal(0, replies[0].Answer)
		require.Equal(1, replies[1].Answer)
	})

	t.Run("Unrecognized", func(t *testing.T) {
		rig := newBridgeRig(t)
		rig.start(t)
		rig.ctrl.Cycle()

		rig.deliver(t, TopicQuery("chamber"), `{"id":"q1","query":"is_dragon"}`)

		replies := rig.replies(t)
		require.Len(replies, 1)
		require.Equal(-1, replies[0].Answer)
	})

	t.Run("Generated ID", func(t *testing.T) {
		rig := newBridgeRig(t)
		rig.start(t)
		rig.ctrl.Cycle()

		rig.deliver(t, TopicQuery("chamber"), `{"query":"is_chamber_open"}`)

		replies := rig.replies(t)
		require.Len(replies, 1)

		_, err := uuid.Parse(replies[0].ID)
		require.NoError(err)
	})

	t.Run("Malformed Payload", func(t *testing.T) {
		rig := newBridgeRig(t)
		rig.start(t)
		rig.ctrl.Cycle()

		rig.deliver(t, TopicQuery("chamber"), `{"query":`)

		require.Empty(rig.replies(t), "malformed queries are dropped")
	})
}

func TestBridgeStateEvents(t *testing.T) {
	require := require.New(t)
	rig := newBridgeRig(t)

	rig.start(t)
	rig.cycleUntil(t, "retained blocked-opened event", func() bool {
		events := rig.stateEvents(t)
		return len(events) > 0 && events[len(events)-1].State == "blocked-opened"
	})

	events := rig.stateEvents(t)
	require.Len(events, 4)

	wantStates := []string{"unknown", "initializing", "blocked-opening", "blocked-opened"}
	wantPrev := []string{"", "unknown", "initializing", "blocked-opening"}
	for i, event := range events {
		require.Equal(wantStates[i], event.State)
		require.Equal(wantPrev[i], event.PrevState)

		_, err := time.Parse(time.RFC3339Nano, event.Timestamp)
		require.NoError(err)
	}
}

// Events raised before the publisher task drains them still go out during
// Stop, after which the bridge reports offline.
func TestBridgeStopPublishesOffline(t *testing.T) {
	require := require.New(t)
	rig := newBridgeRig(t)

	rig.start(t)
	rig.coldStart(t)

	require.NoError(rig.bridge.Stop())

	events := rig.stateEvents(t)
	require.Equal("blocked-opened", events[len(events)-1].State)

	online, ok := rig.client.LastPublished(TopicOnline("chamber"))
	require.True(ok)
	require.False(decodeOnline(t, online))

	// transitions after Stop are not reported
	count := len(rig.stateEvents(t))
	_, err := rig.ctrl.Submit(chamber.CommandBlockChamber)
	require.NoError(err)
	rig.ctrl.Cycle()
	require.Equal(chamber.BlockedOpenConveyorMovingState, rig.ctrl.State())
	require.Len(rig.stateEvents(t), count)
}
