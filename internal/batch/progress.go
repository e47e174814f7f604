package batch

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// controlToken is the cancellation and pause gate shared between the
// orchestrator goroutine running a batch and external control calls. The
// pause gate is a channel that is closed while the batch is running and
// replaced with an open one while paused.
type controlToken struct {
	mu        sync.Mutex
	cancelled bool
	reason    string
	paused    bool
	gate      chan struct{}
}

func newControlToken() *controlToken {
	gate := make(chan struct{})
	close(gate)
	return &controlToken{gate: gate}
}

func (t *controlToken) cancel(reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled {
		return
	}
	t.cancelled = true
	t.reason = reason
	if t.paused {
		// Unblock anyone parked on the gate so they observe the cancel.
		t.paused = false
		close(t.gate)
	}
}

func (t *controlToken) pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled || t.paused {
		return
	}
	t.paused = true
	t.gate = make(chan struct{})
}

func (t *controlToken) resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.paused {
		return
	}
	t.paused = false
	close(t.gate)
}

// checkpoint blocks while paused and returns a cancelled error once the token
// has been cancelled. Called between pipeline stages and between sub-batches.
func (t *controlToken) checkpoint(ctx context.Context, batchID string) error {
	for {
		t.mu.Lock()
		if t.cancelled {
			reason := t.reason
			t.mu.Unlock()
			return newCancelledError(batchID, reason)
		}
		gate := t.gate
		t.mu.Unlock()

		select {
		case <-gate:
		case <-ctx.Done():
			return newCancelledError(batchID, ctx.Err().Error())
		}

		t.mu.Lock()
		stillPaused := t.paused
		done := t.cancelled
		reason := t.reason
		t.mu.Unlock()
		if done {
			return newCancelledError(batchID, reason)
		}
		if !stillPaused {
			return nil
		}
	}
}

func (t *controlToken) isCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// batchState pairs a batch's live progress with its control token. The pair
// is created together at registration and removed together at cleanup, so a
// batch can never have one without the other.
type batchState struct {
	progress BatchProgress
	token    *controlToken
	events   chan ProgressEvent
}

// Tracker owns the live state of every in-flight batch.
type Tracker struct {
	mu     sync.Mutex
	active map[string]*batchState
}

func NewTracker() *Tracker {
	return &Tracker{active: make(map[string]*batchState)}
}

// register creates the progress/token pair for a batch. Fails if the batch is
// already running.
func (tr *Tracker) register(batchID string, eventBuffer int) (*batchState, error) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if _, ok := tr.active[batchID]; ok {
		return nil, NewPipelineError(ErrorTypeOrchestration,
			fmt.Sprintf("batch %s is already running", batchID), nil)
	}
	st := &batchState{
		progress: BatchProgress{
			BatchID:   batchID,
			Status:    StatusPending,
			Phase:     PhaseValidating,
			UpdatedAt: time.Now(),
		},
		token:  newControlToken(),
		events: make(chan ProgressEvent, eventBuffer),
	}
	tr.active[batchID] = st
	return st, nil
}

func (tr *Tracker) unregister(batchID string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	delete(tr.active, batchID)
}

func (tr *Tracker) get(batchID string) (*batchState, bool) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	st, ok := tr.active[batchID]
	return st, ok
}

// Progress returns a snapshot of a running batch, or false if the batch is
// not active.
func (tr *Tracker) Progress(batchID string) (BatchProgress, bool) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	st, ok := tr.active[batchID]
	if !ok {
		return BatchProgress{}, false
	}
	return st.progress, true
}

// ActiveBatchIDs lists the ids of batches currently in flight.
func (tr *Tracker) ActiveBatchIDs() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	ids := make([]string, 0, len(tr.active))
	for id := range tr.active {
		ids = append(ids, id)
	}
	return ids
}

// Cancel requests cancellation of a running batch. The batch observes the
// request at its next checkpoint; no-op if the batch is not active.
func (tr *Tracker) Cancel(batchID, reason string) bool {
	st, ok := tr.get(batchID)
	if !ok {
		return false
	}
	st.token.cancel(reason)
	return true
}

// Pause suspends a running batch at its next checkpoint.
func (tr *Tracker) Pause(batchID string) bool {
	st, ok := tr.get(batchID)
	if !ok {
		return false
	}
	st.token.pause()
	return true
}

// Resume releases a paused batch.
func (tr *Tracker) Resume(batchID string) bool {
	st, ok := tr.get(batchID)
	if !ok {
		return false
	}
	st.token.resume()
	return true
}

// CancelAll cancels every active batch, used on shutdown.
func (tr *Tracker) CancelAll(reason string) {
	tr.mu.Lock()
	states := make([]*batchState, 0, len(tr.active))
	for _, st := range tr.active {
		states = append(states, st)
	}
	tr.mu.Unlock()
	for _, st := range states {
		st.token.cancel(reason)
	}
}

// mutate applies fn to the batch's progress under the tracker lock and
// returns the resulting snapshot.
func (tr *Tracker) mutate(st *batchState, fn func(p *BatchProgress)) BatchProgress {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	fn(&st.progress)
	st.progress.UpdatedAt = time.Now()
	return st.progress
}
