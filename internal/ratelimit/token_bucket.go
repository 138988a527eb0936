package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket limits events to an integer rate (events/sec) with a burst
// capacity equal to the rate. Refill is computed in nanoseconds against the
// provided Clock so tests can drive it deterministically.
type TokenBucket struct {
	mu sync.Mutex

	clock Clock

	rate int64 // events/sec; also the bucket capacity

	availableNanos int64 // one event costs 1e9 nanos
	last           time.Time
}

const nanosPerToken = int64(time.Second)

// NewTokenBucket returns a bucket that starts full. A rate <= 0 disables
// limiting (Allow always succeeds).
func NewTokenBucket(clock Clock, rate int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	return &TokenBucket{
		clock:          clock,
		rate:           rate,
		availableNanos: rate * nanosPerToken,
		last:           clock.Now(),
	}
}

// Allow consumes one token if available.
func (b *TokenBucket) Allow() bool {
	if b.rate <= 0 {
		return true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()

	if b.availableNanos < nanosPerToken {
		return false
	}
	b.availableNanos -= nanosPerToken
	return true
}

func (b *TokenBucket) refillLocked() {
	now := b.clock.Now()
	if now.Before(b.last) {
		// Time went backwards; re-anchor without refilling.
		b.last = now
		return
	}

	elapsed := now.Sub(b.last).Nanoseconds()
	b.last = now
	if elapsed <= 0 {
		return
	}

	capacity := b.rate * nanosPerToken

	// rate tokens/sec == rate nanos per elapsed nanosecond. Clamp before the
	// multiplication can overflow.
	if elapsed > capacity/b.rate {
		b.availableNanos = capacity
		return
	}

	b.availableNanos += elapsed * b.rate
	if b.availableNanos > capacity {
		b.availableNanos = capacity
	}
}
