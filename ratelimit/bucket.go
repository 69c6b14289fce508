// Package ratelimit provides the leaky-bucket limiter shared by the
// Agent Message Bus's per-agent delivery throttle (§4.5) and the Event
// Bus's per-channel notifier gate (§4.9).
package ratelimit

import (
	"sync"
	"time"
)

// Bucket is a leaky bucket refilled continuously (rather than in
// discrete ticks) so a burst right after a quiet period isn't unfairly
// penalized.
type Bucket struct {
	mu         sync.Mutex
	perMinute  int
	tokens     float64
	maxTokens  float64
	lastRefill time.Time
}

// New returns a Bucket allowing perMinute events per minute. A
// non-positive perMinute defaults to 10, the spec's default for both
// the message bus and the notifier.
func New(perMinute int) *Bucket {
	if perMinute <= 0 {
		perMinute = 10
	}
	return &Bucket{
		perMinute:  perMinute,
		tokens:     float64(perMinute),
		maxTokens:  float64(perMinute),
		lastRefill: time.Now(),
	}
}

// Allow consumes one token if available, refilling based on elapsed
// time first. Returns false when the bucket is empty.
func (b *Bucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.lastRefill = now

	b.tokens += elapsed * (float64(b.perMinute) / 60.0)
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}
