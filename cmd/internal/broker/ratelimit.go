package broker

import (
	"context"
	"sync"
	"time"
)

// RateLimiter gates the background AI call rate. Acquire blocks until an
// admission slot is available within the trailing window; waiting is a bounded
// suspension, never an error. Only context cancellation aborts a waiter.
//
// Ordinary message traffic is never routed through this; it exists solely for
// the orchestrator's external AI calls.
type RateLimiter interface {
	Acquire(ctx context.Context) error
}

// SlidingWindowLimiter admits at most maxCalls within any trailing window.
//
// The decision (prune + count + record) runs under one mutex so concurrent
// acquirers can never both take the same slot; the wait itself happens outside
// the lock and the decision is re-checked afterwards.
type SlidingWindowLimiter struct {
	mu     sync.Mutex
	calls  []time.Time
	max    int
	window time.Duration

	metrics *Metrics

	// Injectable for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewSlidingWindowLimiter constructs a limiter with safe defaults when inputs
// are invalid.
func NewSlidingWindowLimiter(maxCalls int, window time.Duration, metrics *Metrics) *SlidingWindowLimiter {
	if maxCalls <= 0 {
		maxCalls = 14
	}
	if window <= 0 {
		window = 60 * time.Second
	}
	return &SlidingWindowLimiter{
		calls:   make([]time.Time, 0, maxCalls+1),
		max:     maxCalls,
		window:  window,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
		sleep:   sleepCtx,
	}
}

// Acquire blocks until the caller is admitted or ctx is done.
func (l *SlidingWindowLimiter) Acquire(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		l.mu.Lock()
		now := l.now()
		l.prune(now)

		if len(l.calls) < l.max {
			l.calls = append(l.calls, now)
			l.mu.Unlock()
			return nil
		}

		// Window is full: wait until the oldest admission ages out, then
		// contend for the freed slot again.
		wait := l.window - now.Sub(l.calls[0])
		l.mu.Unlock()

		if wait <= 0 {
			continue
		}
		if l.metrics != nil {
			l.metrics.RateLimitWaits.Inc()
		}
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// prune drops admissions older than the trailing window. Callers hold l.mu.
func (l *SlidingWindowLimiter) prune(now time.Time) {
	cut := now.Add(-l.window)
	dst := l.calls[:0]
	for _, t := range l.calls {
		if t.After(cut) {
			dst = append(dst, t)
		}
	}
	l.calls = dst
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
