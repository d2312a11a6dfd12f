// Package ratelimit provides a simple in-memory token-bucket rate limiter.
// The gateway wires it in as HTTP middleware, one bucket per client IP, so a
// single noisy caller cannot drain the upstream API quota for everyone else.
package ratelimit

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Limiter is a single token-bucket rate limiter.
type Limiter struct {
	mu     sync.Mutex
	clk    clock.Clock
	rate   float64 // tokens added per second
	burst  float64 // maximum token capacity
	tokens float64 // current token count
	last   time.Time
}

// New creates a Limiter allowing ratePerSecond requests/s with a burst
// capacity. If burst <= 0, it defaults to ratePerSecond (no extra burst).
func New(ratePerSecond, burst float64) *Limiter {
	return NewWithClock(ratePerSecond, burst, clock.New())
}

// NewWithClock is New with an injected clock, for tests.
func NewWithClock(ratePerSecond, burst float64, clk clock.Clock) *Limiter {
	if burst <= 0 {
		burst = ratePerSecond
	}
	l := &Limiter{
		clk:    clk,
		rate:   ratePerSecond,
		burst:  burst,
		tokens: burst,
	}
	l.last = clk.Now()
	return l
}

// Allow consumes one token and returns true if the request is permitted.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clk.Now()
	elapsed := now.Sub(l.last).Seconds()
	l.tokens += elapsed * l.rate
	if l.tokens > l.burst {
		l.tokens = l.burst
	}
	l.last = now

	if l.tokens >= 1.0 {
		l.tokens--
		return true
	}
	return false
}

// Store maintains per-key Limiter instances. Keys are client IPs; every
// bucket shares the same rate and burst.
type Store struct {
	mu       sync.RWMutex
	clk      clock.Clock
	limiters map[string]*Limiter
	rate     float64
	burst    float64
}

// NewStore creates a Store whose per-key limiters share the same rate/burst.
func NewStore(ratePerSecond, burst float64) *Store {
	return NewStoreWithClock(ratePerSecond, burst, clock.New())
}

// NewStoreWithClock is NewStore with an injected clock, for tests.
func NewStoreWithClock(ratePerSecond, burst float64, clk clock.Clock) *Store {
	return &Store{
		clk:      clk,
		limiters: make(map[string]*Limiter),
		rate:     ratePerSecond,
		burst:    burst,
	}
}

// Allow checks (and creates if needed) the limiter for key.
func (s *Store) Allow(key string) bool {
	// Fast path — limiter already exists.
	s.mu.RLock()
	l, ok := s.limiters[key]
	s.mu.RUnlock()
	if ok {
		return l.Allow()
	}

	// Slow path — create new limiter.
	s.mu.Lock()
	defer s.mu.Unlock()
	// Double-check after acquiring write lock.
	if l, ok = s.limiters[key]; ok {
		return l.Allow()
	}
	l = NewWithClock(s.rate, s.burst, s.clk)
	s.limiters[key] = l
	return l.Allow()
}
