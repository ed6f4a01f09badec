package resilience

import (
	"math/rand/v2"
	"time"
)

// jitterWindow is the width of the uniform random spread added to each
// exponential delay. Jitter is added before the cap is applied, so a delay
// riding the cap comes out exactly at MaxBackoff.
const jitterWindow = 500 * time.Millisecond

// maxShift bounds the exponent so the shift cannot overflow a Duration.
const maxShift = 32

// Backoff computes the delay schedule between attempts:
//
//	delay(i) = min(base * 2^i + jitter, max)
//
// where i is the zero-based index of the attempt that just failed and
// jitter is uniform in [0, jitterWindow).
type Backoff struct {
	Base time.Duration
	Max  time.Duration

	// randInt64N stands in for rand.Int64N in tests.
	randInt64N func(int64) int64
}

func NewBackoff(base, max time.Duration) Backoff {
	if base <= 0 {
		base = time.Second
	}
	if max <= 0 {
		max = 8 * time.Second
	}
	return Backoff{Base: base, Max: max}
}

// Delay returns the wait before attempt index+1.
func (b Backoff) Delay(index int) time.Duration {
	if index < 0 {
		index = 0
	}
	if index > maxShift {
		index = maxShift
	}
	d := b.Base << uint(index)
	if d <= 0 || d > b.Max {
		// Shift overflowed or already beyond the cap; jitter cannot
		// bring it back under.
		return b.Max
	}
	d += b.jitter()
	if d > b.Max {
		return b.Max
	}
	return d
}

func (b Backoff) jitter() time.Duration {
	n := b.randInt64N
	if n == nil {
		n = rand.Int64N
	}
	return time.Duration(n(int64(jitterWindow)))
}
