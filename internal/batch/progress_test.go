package batch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestControlToken_CheckpointPassesWhileRunning(t *testing.T) {
	tok := newControlToken()
	require.NoError(t, tok.checkpoint(context.Background(), "b1"))
}

func TestControlToken_CancelSurfacesAtCheckpoint(t *testing.T) {
	tok := newControlToken()
	tok.cancel("stop it")

	err := tok.checkpoint(context.Background(), "b1")
	require.Error(t, err)
	assert.True(t, IsErrorType(err, ErrorTypeCancelled))
	assert.Contains(t, err.Error(), "stop it")
}

func TestControlToken_PauseBlocksUntilResume(t *testing.T) {
	tok := newControlToken()
	tok.pause()

	released := make(chan error, 1)
	go func() {
		released <- tok.checkpoint(context.Background(), "b1")
	}()

	select {
	case <-released:
		t.Fatal("checkpoint returned while paused")
	case <-time.After(100 * time.Millisecond):
	}

	tok.resume()
	select {
	case err := <-released:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("checkpoint did not return after resume")
	}
}

func TestControlToken_CancelWhilePausedUnblocks(t *testing.T) {
	tok := newControlToken()
	tok.pause()

	released := make(chan error, 1)
	go func() {
		released <- tok.checkpoint(context.Background(), "b1")
	}()

	time.Sleep(50 * time.Millisecond)
	tok.cancel("shutting down")

	select {
	case err := <-released:
		assert.True(t, IsErrorType(err, ErrorTypeCancelled))
	case <-time.After(time.Second):
		t.Fatal("checkpoint did not observe cancel while paused")
	}
}

func TestControlToken_CheckpointHonorsContextWhilePaused(t *testing.T) {
	tok := newControlToken()
	tok.pause()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := tok.checkpoint(ctx, "b1")
	require.Error(t, err)
	assert.True(t, IsErrorType(err, ErrorTypeCancelled))
}

func TestTracker_RegisterRejectsDuplicate(t *testing.T) {
	tr := NewTracker()
	_, err := tr.register("b1", 4)
	require.NoError(t, err)

	_, err = tr.register("b1", 4)
	require.Error(t, err)
	assert.True(t, IsErrorType(err, ErrorTypeOrchestration))

	tr.unregister("b1")
	_, err = tr.register("b1", 4)
	require.NoError(t, err)
}

func TestTracker_ProgressAndTokenLiveAndDieTogether(t *testing.T) {
	tr := NewTracker()
	st, err := tr.register("b1", 4)
	require.NoError(t, err)

	snap, ok := tr.Progress("b1")
	require.True(t, ok)
	assert.Equal(t, "b1", snap.BatchID)
	assert.True(t, tr.Cancel("b1", "test"))
	assert.True(t, st.token.isCancelled())

	tr.unregister("b1")
	_, ok = tr.Progress("b1")
	assert.False(t, ok)
	assert.False(t, tr.Cancel("b1", "test"), "control must vanish with the progress entry")
	assert.False(t, tr.Pause("b1"))
	assert.False(t, tr.Resume("b1"))
}

func TestTracker_MutateReturnsSnapshot(t *testing.T) {
	tr := NewTracker()
	st, err := tr.register("b1", 4)
	require.NoError(t, err)

	snap := tr.mutate(st, func(p *BatchProgress) {
		p.TotalUnits = 7
		p.Status = StatusInProgress
	})
	assert.Equal(t, 7, snap.TotalUnits)
	assert.Equal(t, StatusInProgress, snap.Status)

	// Later mutation does not alter the earlier snapshot.
	tr.mutate(st, func(p *BatchProgress) { p.TotalUnits = 9 })
	assert.Equal(t, 7, snap.TotalUnits)
}

func TestTracker_CancelAll(t *testing.T) {
	tr := NewTracker()
	a, err := tr.register("a", 4)
	require.NoError(t, err)
	b, err := tr.register("b", 4)
	require.NoError(t, err)

	tr.CancelAll("shutdown")
	assert.True(t, a.token.isCancelled())
	assert.True(t, b.token.isCancelled())
	assert.ElementsMatch(t, []string{"a", "b"}, tr.ActiveBatchIDs())
}
