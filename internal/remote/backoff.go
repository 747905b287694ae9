package remote

import (
	"math/rand"
	"sync"
	"time"
)

// ExponentialBackoff yields growing reconnect delays with symmetric jitter.
type ExponentialBackoff struct {
	initial time.Duration
	max     time.Duration
	factor  float64
	jitter  float64

	mu       sync.Mutex
	current  time.Duration
	attempts int
}

// NewExponentialBackoff creates a backoff. Out-of-range arguments fall back to defaults.
func NewExponentialBackoff(initial, max time.Duration, factor, jitter float64) *ExponentialBackoff {
	if initial <= 0 {
		initial = time.Second
	}
	if max <= 0 {
		max = time.Minute
	}
	if factor <= 1 {
		factor = 2.0
	}
	if jitter < 0 || jitter > 1 {
		jitter = 0.1
	}
	return &ExponentialBackoff{
		initial: initial,
		max:     max,
		factor:  factor,
		jitter:  jitter,
		current: initial,
	}
}

// DefaultBackoff returns the feed reconnect policy: 500ms doubling up to 30s, 10% jitter.
func DefaultBackoff() *ExponentialBackoff {
	return NewExponentialBackoff(500*time.Millisecond, 30*time.Second, 2.0, 0.1)
}

// Next returns the next delay and advances the schedule.
func (b *ExponentialBackoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	duration := b.current
	if b.jitter > 0 {
		jitterRange := float64(duration) * b.jitter
		duration = time.Duration(float64(duration) + (rand.Float64()*2-1)*jitterRange)
	}

	b.attempts++
	b.current = time.Duration(float64(b.current) * b.factor)
	if b.current > b.max {
		b.current = b.max
	}
	return duration
}

// Reset returns the schedule to its initial delay.
func (b *ExponentialBackoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = b.initial
	b.attempts = 0
}

// Attempts returns the number of delays handed out since the last reset.
func (b *ExponentialBackoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}
