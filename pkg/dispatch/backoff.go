package dispatch

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes retry delays for rate limited attempts.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter time.Duration

	rand func() float64
}

// Delay returns how long to wait before retrying after the given 1-based attempt.
// An explicit retry-after hint is used as is.
func (b Backoff) Delay(attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		return retryAfter
	}
	if attempt < 1 {
		attempt = 1
	}

	d := b.Base
	for i := 1; i < attempt; i++ {
		if (b.Max > 0 && d >= b.Max) || d > math.MaxInt64/2 {
			break
		}
		d *= 2
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}

	if b.Jitter > 0 {
		r := b.rand
		if r == nil {
			r = rand.Float64
		}
		d += time.Duration(r() * float64(b.Jitter))
	}
	return d
}
