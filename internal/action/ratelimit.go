package action

import (
	"context"
	"sync"
	"time"

	"matrixbot/internal/clock"
)

// Limiter is a token bucket pacing outbound actions, keeping a burst of
// commands under the homeserver's M_LIMIT_EXCEEDED threshold.
type Limiter struct {
	mu       sync.Mutex
	clock    clock.Clock
	tokens   float64
	max      float64
	rate     float64 // tokens per second
	lastTime time.Time
}

// NewLimiter allows burst actions at once and refills at perMinute. It
// returns nil, meaning unthrottled, when either value is not positive.
func NewLimiter(burst int, perMinute float64, clk clock.Clock) *Limiter {
	if burst <= 0 || perMinute <= 0 {
		return nil
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Limiter{
		clock:    clk,
		tokens:   float64(burst),
		max:      float64(burst),
		rate:     perMinute / 60.0,
		lastTime: clk.Now(),
	}
}

// Wait blocks until a token is available or ctx is done. A nil Limiter
// never blocks.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	for {
		l.mu.Lock()
		now := l.clock.Now()
		l.tokens += now.Sub(l.lastTime).Seconds() * l.rate
		if l.tokens > l.max {
			l.tokens = l.max
		}
		l.lastTime = now

		if l.tokens >= 1.0 {
			l.tokens -= 1.0
			l.mu.Unlock()
			return nil
		}

		wait := time.Duration((1.0 - l.tokens) / l.rate * float64(time.Second))
		l.mu.Unlock()

		if err := ctx.Err(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.clock.After(wait):
		}
	}
}
