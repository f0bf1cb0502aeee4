package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Eviction pacing for idle buckets.
const (
	sweepEvery = time.Minute
	idleAfter  = 10 * time.Minute
)

// MemoryLimiter is the default Limiter: one token bucket per key, held in
// process memory. Suited to a single renga instance; coordinated
// deployments substitute their own Limiter.
type MemoryLimiter struct {
	rate  float64 // tokens refilled per second
	burst float64 // bucket capacity

	mu      sync.Mutex
	buckets map[string]*tokenBucket

	closeOnce sync.Once
	closed    chan struct{}
}

// tokenBucket tracks the remaining allowance for one key. Refill happens
// lazily on access, so idle buckets cost nothing until the sweeper drops
// them.
type tokenBucket struct {
	remaining float64
	seenAt    time.Time
}

// NewMemoryLimiter returns a limiter refilling rate tokens per second per
// key, capped at burst. A sweeper goroutine evicts buckets idle for
// idleAfter; Close stops it.
func NewMemoryLimiter(rate float64, burst int) *MemoryLimiter {
	l := &MemoryLimiter{
		rate:    rate,
		burst:   float64(burst),
		buckets: make(map[string]*tokenBucket),
		closed:  make(chan struct{}),
	}
	go l.sweep()
	return l
}

// Allow spends one token from key's bucket. A key seen for the first time
// starts with a full bucket, so a new client's initial burst passes.
func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b, ok := l.buckets[key]
	if !ok {
		l.buckets[key] = &tokenBucket{remaining: l.burst - 1, seenAt: now}
		return true, nil
	}

	b.remaining += now.Sub(b.seenAt).Seconds() * l.rate
	if b.remaining > l.burst {
		b.remaining = l.burst
	}
	b.seenAt = now

	if b.remaining < 1 {
		return false, nil
	}
	b.remaining--
	return true, nil
}

// Close stops the sweeper. Idempotent.
func (l *MemoryLimiter) Close() error {
	l.closeOnce.Do(func() { close(l.closed) })
	return nil
}

func (l *MemoryLimiter) sweep() {
	ticker := time.NewTicker(sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-l.closed:
			return
		case <-ticker.C:
			l.dropIdle(time.Now().Add(-idleAfter))
		}
	}
}

func (l *MemoryLimiter) dropIdle(cutoff time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key, b := range l.buckets {
		if b.seenAt.Before(cutoff) {
			delete(l.buckets, key)
		}
	}
}
