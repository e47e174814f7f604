package limiter

import (
	"container/list"
	"context"
	"sync"
)

// Semaphore bounds the number of concurrent in-flight operations (provider
// calls, sub-batches). Waiters are admitted strictly in FIFO order: a freed
// slot is handed directly to the longest-waiting caller instead of going
// through a shared counter, so concurrent acquirers can never both observe
// "slot available" and overshoot the limit.
type Semaphore struct {
	mu      sync.Mutex
	active  int
	max     int
	waiters *list.List // of chan struct{}
}

func NewSemaphore(maxConcurrent int) *Semaphore {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Semaphore{
		max:     maxConcurrent,
		waiters: list.New(),
	}
}

// Acquire blocks until a slot is available or ctx is done.
func (s *Semaphore) Acquire(ctx context.Context) error {
	s.mu.Lock()
	if s.active < s.max && s.waiters.Len() == 0 {
		s.active++
		s.mu.Unlock()
		return nil
	}

	ready := make(chan struct{})
	elem := s.waiters.PushBack(ready)
	s.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		select {
		case <-ready:
			// Slot was handed over concurrently with cancellation; give it back.
			s.mu.Unlock()
			s.Release()
		default:
			s.waiters.Remove(elem)
			s.mu.Unlock()
		}
		return ctx.Err()
	}
}

// Release returns a slot, waking the longest-waiting acquirer if any.
// Calling Release without a matching Acquire is a no-op.
func (s *Semaphore) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == 0 {
		return
	}
	if front := s.waiters.Front(); front != nil {
		// Hand the slot directly to the next waiter; active count is unchanged.
		s.waiters.Remove(front)
		close(front.Value.(chan struct{}))
		return
	}
	s.active--
}

// Execute acquires a slot, runs fn and releases on all paths.
func (s *Semaphore) Execute(ctx context.Context, fn func() error) error {
	if err := s.Acquire(ctx); err != nil {
		return err
	}
	defer s.Release()
	return fn()
}

// ActiveCount reports the number of slots currently held.
func (s *Semaphore) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// WaitingCount reports the number of callers parked in Acquire.
func (s *Semaphore) WaitingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waiters.Len()
}
