package ratelimit

import (
	"context"
	"math/rand/v2"
	"time"
)

// Limiter paces calls to an upstream API, optionally adding random jitter so
// bursts of workers do not hit the remote side in lockstep.
// It is safe for concurrent use by multiple goroutines.
type Limiter struct {
	ticker   *time.Ticker
	interval time.Duration
	jitter   float64
}

// NewLimiter returns a limiter allowing rps calls per second. jitter is the
// fraction (0..1) of the interval randomly added after each tick.
// A non-positive rps yields a limiter that never blocks.
func NewLimiter(rps float64, jitter float64) *Limiter {
	jitter = min(max(jitter, 0), 1)
	if rps <= 0 {
		return &Limiter{jitter: jitter}
	}

	interval := time.Duration(float64(time.Second) / rps)
	return &Limiter{
		ticker:   time.NewTicker(interval),
		interval: interval,
		jitter:   jitter,
	}
}

// Wait blocks until the next call is allowed or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil || l.ticker == nil {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.ticker.C:
	}

	extra := l.extraDelay()
	if extra <= 0 {
		return nil
	}

	t := time.NewTimer(extra)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// extraDelay draws from [-jitter, +jitter] of the interval. The ticker already
// enforces the minimum spacing, so negative draws collapse to zero.
func (l *Limiter) extraDelay() time.Duration {
	if l.jitter == 0 {
		return 0
	}
	factor := rand.Float64()*2 - 1
	return time.Duration(float64(l.interval) * l.jitter * factor)
}

// Stop releases the underlying ticker.
func (l *Limiter) Stop() {
	if l != nil && l.ticker != nil {
		l.ticker.Stop()
	}
}
