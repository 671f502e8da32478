package chamber

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/avena-robotics/avena-commons-sub002/logger"
)

func TestInboxSubmit(t *testing.T) {
	require := require.New(t)

	t.Run("New Command", func(t *testing.T) {
		ib := NewInbox(logger.NewNop())

		ticket, isNew := ib.Submit(CommandInitialize)
		require.NotNil(ticket)
		require.True(isNew)
		require.Equal(CommandInitialize, ticket.Name())
		require.False(ticket.SubmittedAt().IsZero())
		require.Equal(1, ib.Len())

		_, ok := ticket.Result()
		require.False(ok)
	})

	t.Run("Duplicate Attaches To Existing Ticket", func(t *testing.T) {
		ib := NewInbox(logger.NewNop())

		first, isNew := ib.Submit(CommandBlockForClient)
		require.True(isNew)

		second, isNew := ib.Submit(CommandBlockForClient)
		require.False(isNew)
		require.Same(first, second)
		require.Equal(1, ib.Len())
		require.Equal(uint64(1), ib.metrics.CommandSubmitCount.Load())
	})

	t.Run("Duplicate After Take Still Attaches", func(t *testing.T) {
		ib := NewInbox(logger.NewNop())

		first, _ := ib.Submit(CommandPartitionUp)
		require.True(ib.Take(CommandPartitionUp))

		// taken but not completed: late submitters join the in-flight request
		second, isNew := ib.Submit(CommandPartitionUp)
		require.False(isNew)
		require.Same(first, second)
	})
}

func TestInboxPeekTakeComplete(t *testing.T) {
	require := require.New(t)

	t.Run("Lifecycle", func(t *testing.T) {
		ib := NewInbox(logger.NewNop())

		require.False(ib.Peek(CommandPartitionDown))
		require.False(ib.Take(CommandPartitionDown))

		ticket, _ := ib.Submit(CommandPartitionDown)
		require.True(ib.Peek(CommandPartitionDown))

		require.True(ib.Take(CommandPartitionDown))
		require.False(ib.Peek(CommandPartitionDown), "taken command should not peek as pending")
		require.False(ib.Take(CommandPartitionDown), "second take must fail")

		require.True(ib.Complete(CommandPartitionDown, CompletionSuccess, ""))
		require.Equal(0, ib.Len())

		result, ok := ticket.Result()
		require.True(ok)
		require.Equal(CompletionSuccess, result.Status)

		// completing again is a no-op
		require.False(ib.Complete(CommandPartitionDown, CompletionSuccess, ""))
	})

	t.Run("Resubmit After Complete Creates New Instance", func(t *testing.T) {
		ib := NewInbox(logger.NewNop())

		first, _ := ib.Submit(CommandInitialize)
		ib.Complete(CommandInitialize, CompletionError, "not ready")

		second, isNew := ib.Submit(CommandInitialize)
		require.True(isNew)
		require.NotSame(first, second)
	})

	t.Run("Complete Delivers To Every Waiter", func(t *testing.T) {
		ib := NewInbox(logger.NewNop())

		ticket, _ := ib.Submit(CommandUnblockChamber)

		const waiters = 5
		tickets := make([]*Ticket, waiters)
		for i := range tickets {
			dup, isNew := ib.Submit(CommandUnblockChamber)
			require.False(isNew)
			tickets[i] = dup
		}

		results := make([]Result, waiters)

		var wg sync.WaitGroup
		wg.Add(waiters)
		for i, dup := range tickets {
			go func(i int, dup *Ticket) {
				defer wg.Done()
				<-dup.Done()
				results[i], _ = dup.Result()
			}(i, dup)
		}

		ib.Complete(CommandUnblockChamber, CompletionError, "conveyor jammed")
		wg.Wait()

		for i := 0; i < waiters; i++ {
			require.Equal(CompletionError, results[i].Status)
			require.Equal("conveyor jammed", results[i].Message)
		}

		result, ok := ticket.Result()
		require.True(ok)
		require.Equal(CompletionError, result.Status)
	})

	t.Run("Metrics", func(t *testing.T) {
		ib := NewInbox(logger.NewNop())

		ib.Submit(CommandInitialize)
		ib.Submit(CommandPartitionUp)
		require.Equal(int64(2), ib.metrics.CommandPendingGauge.Load())

		ib.Complete(CommandInitialize, CompletionSuccess, "")
		ib.Complete(CommandPartitionUp, CompletionError, "timeout")

		require.Equal(int64(0), ib.metrics.CommandPendingGauge.Load())
		require.Equal(uint64(1), ib.metrics.CommandSuccessCount.Load())
		require.Equal(uint64(1), ib.metrics.CommandErrorCount.Load())
	})
}

func TestInboxSubmitAndWait(t *testing.T) {
	require := require.New(t)

	t.Run("Completes", func(t *testing.T) {
		ib := NewInbox(logger.NewNop())

		go func() {
			time.Sleep(20 * time.Millisecond)
			ib.Complete(CommandBlockChamber, CompletionSuccess, "")
		}()

		result, err := ib.SubmitAndWait(context.Background(), CommandBlockChamber, 2*time.Second)
		require.NoError(err)
		require.Equal(CompletionSuccess, result.Status)
		require.Equal(0, ib.Len())
	})

	t.Run("Timeout Leaves Command Pending", func(t *testing.T) {
		ib := NewInbox(logger.NewNop())

		_, err := ib.SubmitAndWait(context.Background(), CommandBlockChamber, 30*time.Millisecond)
		require.ErrorIs(err, ErrCommandTimeout)

		// the wait was abandoned, not the command
		require.True(ib.Peek(CommandBlockChamber))
		require.Equal(1, ib.Len())
	})

	t.Run("Context Canceled", func(t *testing.T) {
		ib := NewInbox(logger.NewNop())

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := ib.SubmitAndWait(ctx, CommandBlockChamber, time.Second)
		require.ErrorIs(err, context.Canceled)
	})
}

func TestInboxClose(t *testing.T) {
	require := require.New(t)

	t.Run("Completes Pending With Error", func(t *testing.T) {
		ib := NewInbox(logger.NewNop())

		ticket, _ := ib.Submit(CommandInitialize)
		ib.Close()

		result, ok := ticket.Result()
		require.True(ok)
		require.Equal(CompletionError, result.Status)
		require.Equal("command inbox closed", result.Message)
		require.Equal(0, ib.Len())
	})

	t.Run("Rejects New Submissions", func(t *testing.T) {
		ib := NewInbox(logger.NewNop())
		ib.Close()

		ticket, isNew := ib.Submit(CommandInitialize)
		require.Nil(ticket)
		require.False(isNew)

		_, err := ib.SubmitAndWait(context.Background(), CommandInitialize, time.Second)
		require.ErrorIs(err, ErrInboxClosed)
	})

	t.Run("Idempotent", func(t *testing.T) {
		ib := NewInbox(logger.NewNop())
		ib.Close()
		require.NotPanics(func() { ib.Close() })
	})
}
