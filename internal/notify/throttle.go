package notify

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Throttler implements token bucket rate limiting
type Throttler struct {
	rate       float64 // tokens per second
	bucketSize float64 // max tokens
	tokens     float64 // current tokens
	lastUpdate time.Time
	mu         sync.Mutex
}

// NewThrottler creates a new throttler
func NewThrottler(ratePerMinute int, bucketSize int) *Throttler {
	if ratePerMinute <= 0 {
		ratePerMinute = 30 // default 30 per minute
	}
	if bucketSize <= 0 {
		bucketSize = ratePerMinute
	}

	return &Throttler{
		rate:       float64(ratePerMinute) / 60.0,
		bucketSize: float64(bucketSize),
		tokens:     float64(bucketSize),
		lastUpdate: time.Now(),
	}
}

// Allow takes a token if one is available
func (t *Throttler) Allow() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.refill()

	if t.tokens >= 1 {
		t.tokens--
		return true
	}
	return false
}

// Wait blocks until a token is available or ctx is done
func (t *Throttler) Wait(ctx context.Context) error {
	for {
		if t.Allow() {
			return nil
		}
		timer := time.NewTimer(t.GetRetryAfter())
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// GetRetryAfter returns the time until the next token is available
func (t *Throttler) GetRetryAfter() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.refill()
	if t.tokens >= 1 {
		return 0
	}

	needed := 1 - t.tokens
	seconds := needed / t.rate
	return time.Duration(seconds * float64(time.Second))
}

// refill adds tokens based on elapsed time
func (t *Throttler) refill() {
	now := time.Now()
	elapsed := now.Sub(t.lastUpdate).Seconds()
	t.lastUpdate = now

	t.tokens += t.rate * elapsed
	if t.tokens > t.bucketSize {
		t.tokens = t.bucketSize
	}
}

// GetTokens returns the current number of tokens
func (t *Throttler) GetTokens() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.refill()
	return t.tokens
}

// ThrottledSink rate-limits an inner sink and bounds every send with a timeout.
type ThrottledSink struct {
	inner     Sink
	throttler *Throttler
	timeout   time.Duration
}

// NewThrottledSink wraps inner. A zero timeout disables the bound.
func NewThrottledSink(inner Sink, ratePerMinute int, timeout time.Duration) *ThrottledSink {
	return &ThrottledSink{
		inner:     inner,
		throttler: NewThrottler(ratePerMinute, ratePerMinute),
		timeout:   timeout,
	}
}

// Send waits for a token, then delivers n within the timeout. The inner
// send may keep running after a timeout; its result is discarded.
func (s *ThrottledSink) Send(ctx context.Context, n Notification) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	if err := s.throttler.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for send slot: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- s.inner.Send(ctx, n)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("send %s to %s: %w", n.Kind, n.TenantID, ctx.Err())
	}
}
