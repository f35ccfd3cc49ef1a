package routing

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff is a capped exponential retry policy with jitter.
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	Jitter      float64 // fraction of the delay, e.g. 0.2 for ±20%
	MaxAttempts int
}

// DefaultBackoff is used when the engine is built without a policy.
var DefaultBackoff = Backoff{
	Base:        500 * time.Millisecond,
	Max:         30 * time.Second,
	Jitter:      0.2,
	MaxAttempts: 5,
}

// Delay returns the wait before retry number attempt (1-based):
// Base * 2^(attempt-1), capped at Max, then jittered.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Max
	if f := float64(b.Base) * math.Pow(2, float64(attempt-1)); f < float64(b.Max) {
		d = time.Duration(f)
	}
	if b.Jitter > 0 {
		spread := float64(d) * b.Jitter
		d += time.Duration(spread * (rand.Float64()*2 - 1))
	}
	if d < 0 {
		d = 0
	}
	return d
}
