package ratelimit

import (
	"sync"
	"time"
)

// Bucket is a token bucket limiter. Tokens refill continuously at rate per
// second up to burst.
type Bucket struct {
	rate   float64
	burst  float64
	tokens float64
	last   time.Time
	mu     sync.Mutex
}

func NewBucket(rate float64, burst int) *Bucket {
	return &Bucket{
		rate:   rate,
		burst:  float64(burst),
		tokens: float64(burst),
		last:   time.Now(),
	}
}

// Allow reports whether one event may proceed now.
func (b *Bucket) Allow() bool {
	return b.TakeN(1)
}

// TakeN consumes n tokens if available.
func (b *Bucket) TakeN(n int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.tokens += now.Sub(b.last).Seconds() * b.rate
	b.last = now
	if b.tokens > b.burst {
		b.tokens = b.burst
	}

	if b.tokens < float64(n) {
		return false
	}
	b.tokens -= float64(n)
	return true
}
