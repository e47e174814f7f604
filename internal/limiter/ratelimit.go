package limiter

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// tokenBucket is a continuously refilling bucket. Token levels are float64 so
// sub-integer partial refills accumulate correctly between polls.
type tokenBucket struct {
	capacity   float64
	refillRate float64 // tokens per second
	tokens     float64
	lastRefill time.Time
}

func newTokenBucket(capacityPerMinute int, now time.Time) *tokenBucket {
	c := float64(capacityPerMinute)
	return &tokenBucket{
		capacity:   c,
		refillRate: c / 60.0,
		tokens:     c,
		lastRefill: now,
	}
}

func (b *tokenBucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
}

func (b *tokenBucket) tryConsume(n float64, now time.Time) bool {
	b.refill(now)
	if b.tokens < n {
		return false
	}
	b.tokens -= n
	return true
}

func (b *tokenBucket) refund(n float64) {
	b.tokens += n
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
}

// waitTime reports how long until n tokens are available, without consuming.
func (b *tokenBucket) waitTime(n float64, now time.Time) time.Duration {
	b.refill(now)
	if b.tokens >= n {
		return 0
	}
	missing := n - b.tokens
	return time.Duration(missing / b.refillRate * float64(time.Second))
}

// RateLimiterConfig configures per-provider request and token ceilings.
// TokensPerMinute <= 0 disables the token bucket (character-billed providers).
type RateLimiterConfig struct {
	RequestsPerMinute int
	TokensPerMinute   int
}

type pendingAcquire struct {
	tokens int
	ready  chan error
}

// RateLimiter enforces requests-per-minute and tokens-per-minute ceilings for
// one provider. Both buckets are treated atomically as a unit: when the token
// bucket rejects, the request-bucket consumption is refunded. Blocked Acquire
// calls queue up and are flushed in submission order as capacity refills.
type RateLimiter struct {
	mu       sync.Mutex
	requests *tokenBucket
	tokens   *tokenBucket // nil when disabled
	pending  *list.List   // of *pendingAcquire

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.RequestsPerMinute < 1 {
		cfg.RequestsPerMinute = 1
	}
	now := time.Now()
	rl := &RateLimiter{
		requests: newTokenBucket(cfg.RequestsPerMinute, now),
		pending:  list.New(),
		stopCh:   make(chan struct{}),
	}
	if cfg.TokensPerMinute > 0 {
		rl.tokens = newTokenBucket(cfg.TokensPerMinute, now)
	}
	go rl.flushLoop()
	return rl
}

// TryConsume attempts to consume one request plus estimatedTokens without
// blocking. estimatedTokens == 0 only exercises the request bucket.
func (rl *RateLimiter) TryConsume(estimatedTokens int) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.tryConsumeLocked(estimatedTokens, time.Now())
}

func (rl *RateLimiter) tryConsumeLocked(estimatedTokens int, now time.Time) bool {
	if !rl.requests.tryConsume(1, now) {
		return false
	}
	if rl.tokens != nil && estimatedTokens > 0 {
		if !rl.tokens.tryConsume(float64(estimatedTokens), now) {
			rl.requests.refund(1)
			return false
		}
	}
	return true
}

// WaitTime estimates how long until a request with estimatedTokens could be
// admitted. The figure is computed with a provisional consume-then-refund and
// is for estimation only; it does not reserve capacity.
func (rl *RateLimiter) WaitTime(estimatedTokens int) time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	reqWait := rl.requests.waitTime(1, now)
	var tokWait time.Duration
	if rl.tokens != nil && estimatedTokens > 0 {
		tokWait = rl.tokens.waitTime(float64(estimatedTokens), now)
	}
	if tokWait > reqWait {
		return tokWait
	}
	return reqWait
}

// Acquire blocks until capacity for one request plus estimatedTokens is
// available, in submission order, or until ctx is done.
func (rl *RateLimiter) Acquire(ctx context.Context, estimatedTokens int) error {
	rl.mu.Lock()
	if rl.pending.Len() == 0 && rl.tryConsumeLocked(estimatedTokens, time.Now()) {
		rl.mu.Unlock()
		return nil
	}
	req := &pendingAcquire{tokens: estimatedTokens, ready: make(chan error, 1)}
	elem := rl.pending.PushBack(req)
	rl.mu.Unlock()

	select {
	case err := <-req.ready:
		return err
	case <-ctx.Done():
		rl.mu.Lock()
		select {
		case err := <-req.ready:
			rl.mu.Unlock()
			return err
		default:
			rl.pending.Remove(elem)
			rl.mu.Unlock()
		}
		return ctx.Err()
	}
}

// Close stops the background flush loop.
func (rl *RateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// flushLoop periodically admits queued acquire requests as capacity frees.
func (rl *RateLimiter) flushLoop() {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			rl.flushPending()
		}
	}
}

func (rl *RateLimiter) flushPending() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for front := rl.pending.Front(); front != nil; front = rl.pending.Front() {
		req := front.Value.(*pendingAcquire)
		if !rl.tryConsumeLocked(req.tokens, now) {
			return
		}
		rl.pending.Remove(front)
		req.ready <- nil
	}
}
