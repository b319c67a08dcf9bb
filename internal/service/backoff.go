// internal/service/backoff.go
package service

import (
	"math"
	"math/rand"
	"time"
)

// Backoff computes exponential delays with jitter. The dispatcher uses it to
// stretch the idle-poll interval when the queue stays empty.
type Backoff struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Factor    float64
	Jitter    float64
}

func DefaultBackoff() *Backoff {
	return &Backoff{
		BaseDelay: time.Second,
		MaxDelay:  30 * time.Second,
		Factor:    2.0,
		Jitter:    0.1,
	}
}

func (b *Backoff) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(b.BaseDelay) * math.Pow(b.Factor, float64(attempt))
	if delay > float64(b.MaxDelay) {
		delay = float64(b.MaxDelay)
	}

	if b.Jitter > 0 {
		jitterRange := delay * b.Jitter
		delay += (rand.Float64() * 2 * jitterRange) - jitterRange
	}

	if delay < float64(100*time.Millisecond) {
		delay = float64(100 * time.Millisecond)
	}
	return time.Duration(delay)
}
