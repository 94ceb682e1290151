// Package ratelimit provides the token buckets that pace outbound provider calls.
//
// Buckets never block. Callers refused by TryTake decide how long to wait.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// TokenBucket is a refilling token bucket safe for concurrent use
type TokenBucket struct {
	limiter *rate.Limiter
	now     func() time.Time
}

// NewTokenBucket creates a full bucket holding capacity tokens and refilling
// at ratePerSec
func NewTokenBucket(ratePerSec float64, capacity int) *TokenBucket {
	return newTokenBucket(ratePerSec, capacity, time.Now)
}

func newTokenBucket(ratePerSec float64, capacity int, now func() time.Time) *TokenBucket {
	if capacity <= 0 {
		capacity = 1
	}
	if ratePerSec < 0 {
		ratePerSec = 0
	}
	return &TokenBucket{
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), capacity),
		now:     now,
	}
}

// TryTake refills the bucket for the elapsed time and takes cost tokens if
// enough are available
func (b *TokenBucket) TryTake(cost int) bool {
	return b.limiter.AllowN(b.now(), cost)
}

// Registry hands out one bucket per provider name so that concurrent runs
// targeting the same provider share a budget
type Registry struct {
	mu      sync.Mutex
	buckets map[string]*TokenBucket
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{buckets: make(map[string]*TokenBucket)}
}

// Bucket returns the bucket for name, creating it with the given limits on first use
func (r *Registry) Bucket(name string, ratePerSec float64, capacity int) *TokenBucket {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.buckets[name]; ok {
		return b
	}
	b := NewTokenBucket(ratePerSec, capacity)
	r.buckets[name] = b
	return b
}
