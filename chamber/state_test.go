package chamber

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/avena-robotics/avena-commons-sub002/logger"
)

func TestStateString(t *testing.T) {
	require := require.New(t)

	cases := map[State]string{
		UnknownState:                   "unknown",
		InitializingState:              "initializing",
		InitErrorState:                 "init-error",
		ReleasedOpenState:              "released-open",
		ReleasedClosedState:            "released-closed",
		BlockedOpeningState:            "blocked-opening",
		BlockedOpenedState:             "blocked-opened",
		BlockedClosingState:            "blocked-closing",
		BlockedClosedState:             "blocked-closed",
		BlockedOpenConveyorMovingState: "blocked-open-conveyor-moving",
		EnablingMaintenanceState:       "enabling-maintenance",
		MaintenanceState:               "maintenance",
		DisablingMaintenanceState:      "disabling-maintenance",
	}

	for st, want := range cases {
		require.Equal(want, st.String())
	}

	require.Equal("invalid", State(99).String())
}

func TestStateClassification(t *testing.T) {
	require := require.New(t)

	require.True(UnknownState.IsUnknown())
	require.False(InitializingState.IsUnknown())

	blocked := []State{
		BlockedOpeningState, BlockedOpenedState, BlockedClosingState,
		BlockedClosedState, BlockedOpenConveyorMovingState,
	}
	for _, st := range blocked {
		require.True(st.IsBlocked(), "state %v", st)
		require.False(st.IsReleased(), "state %v", st)
		require.False(st.IsMaintenance(), "state %v", st)
	}

	released := []State{ReleasedOpenState, ReleasedClosedState}
	for _, st := range released {
		require.True(st.IsReleased(), "state %v", st)
		require.False(st.IsBlocked(), "state %v", st)
	}

	maintenance := []State{EnablingMaintenanceState, MaintenanceState, DisablingMaintenanceState}
	for _, st := range maintenance {
		require.True(st.IsMaintenance(), "state %v", st)
		require.False(st.IsBlocked(), "state %v", st)
		require.False(st.IsReleased(), "state %v", st)
	}
}

func TestStateMgr(t *testing.T) {
	require := require.New(t)

	t.Run("Initial State", func(t *testing.T) {
		mgr := newStateMgr(logger.NewNop())
		require.Equal(UnknownState, mgr.State())
	})

	t.Run("Set And Handlers", func(t *testing.T) {
		changeCount := 0
		var gotPrev, gotNew State

		mgr := newStateMgr(logger.NewNop(), func(prev, next State) {
			changeCount++
			gotPrev, gotNew = prev, next
		})

		mgr.Set(InitializingState)
		require.Equal(InitializingState, mgr.State())
		require.Equal(1, changeCount)
		require.Equal(UnknownState, gotPrev)
		require.Equal(InitializingState, gotNew)

		// no-op transition when already in the state
		mgr.Set(InitializingState)
		require.Equal(1, changeCount)

		mgr.Set(BlockedOpeningState)
		require.Equal(2, changeCount)
		require.Equal(InitializingState, gotPrev)
		require.Equal(BlockedOpeningState, gotNew)
	})

	t.Run("AddHandler", func(t *testing.T) {
		mgr := newStateMgr(logger.NewNop())

		changeCount := 0
		mgr.AddHandler(func(prev, next State) { changeCount++ })

		mgr.Set(InitializingState)
		require.Equal(1, changeCount)
	})

	t.Run("Handler Panic Contained", func(t *testing.T) {
		ml := logger.NewMockLogger()
		ml.On("Info", mock.Anything, mock.Anything)
		ml.On("Error", mock.Anything, mock.Anything)

		laterHandlerRan := false
		mgr := newStateMgr(ml,
			func(prev, next State) { panic("bad handler") },
			func(prev, next State) { laterHandlerRan = true },
		)

		require.NotPanics(func() { mgr.Set(InitializingState) })
		require.Equal(InitializingState, mgr.State())
		require.True(laterHandlerRan)
		ml.AssertCalled(t, "Error", "panic in state change handler", mock.Anything)
	})

	t.Run("WaitState Immediate", func(t *testing.T) {
		mgr := newStateMgr(logger.NewNop())
		mgr.Set(MaintenanceState)

		require.NoError(mgr.WaitState(context.Background(), MaintenanceState))
	})

	t.Run("WaitState Blocks Until Set", func(t *testing.T) {
		mgr := newStateMgr(logger.NewNop())

		go func() {
			time.Sleep(20 * time.Millisecond)
			mgr.Set(BlockedOpenedState)
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		require.NoError(mgr.WaitState(ctx, BlockedOpenedState))
		require.Equal(BlockedOpenedState, mgr.State())
	})

	t.Run("WaitState Context Expired", func(t *testing.T) {
		mgr := newStateMgr(logger.NewNop())

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		err := mgr.WaitState(ctx, MaintenanceState)
		require.ErrorIs(err, context.DeadlineExceeded)
	})
}
