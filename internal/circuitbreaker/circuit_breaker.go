// Package circuitbreaker guards the upstream gist API. After too many
// consecutive fetch failures the circuit opens and calls are rejected
// without touching the network until a cooldown elapses; the first call
// after the cooldown probes the upstream, closing the circuit on success
// and reopening it on failure.
//
// State transitions:
//
//	Closed   → Open     when consecutive failures ≥ failureThreshold
//	Open     → HalfOpen after the cooldown elapses
//	HalfOpen → Closed   when the probe call succeeds
//	HalfOpen → Open     when the probe call fails
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// State represents the circuit's current state.
type State int

const (
	// StateClosed — normal operation; fetches pass through.
	StateClosed State = iota
	// StateOpen — the upstream is considered down; fetches are rejected immediately.
	StateOpen
	// StateHalfOpen — the cooldown elapsed; the next fetch probes the upstream.
	StateHalfOpen
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a fetch is rejected because the circuit is open.
var ErrCircuitOpen = errors.New("circuit breaker open")

// CircuitBreaker tracks consecutive upstream failures.
type CircuitBreaker struct {
	mu               sync.Mutex
	state            State
	failureCount     int
	failureThreshold int
	cooldown         time.Duration
	openUntil        time.Time
}

// New creates a CircuitBreaker that opens after failureThreshold consecutive
// failures and stays open for cooldown. Defaults are applied for
// zero/negative values: failureThreshold=5, cooldown=30s.
func New(failureThreshold int, cooldown time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{
		state:            StateClosed,
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
	}
}

// State returns the current state, transitioning Open→HalfOpen if the
// cooldown has elapsed.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.resolveState()
}

// resolveState must be called with cb.mu held.
func (cb *CircuitBreaker) resolveState() State {
	if cb.state == StateOpen && time.Now().After(cb.openUntil) {
		cb.state = StateHalfOpen
	}
	return cb.state
}

// Allow reports whether a fetch should proceed (circuit is Closed or
// HalfOpen). It returns false while the circuit is Open.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.resolveState() != StateOpen
}

// RecordSuccess notifies the breaker that a fetch succeeded. A success in
// HalfOpen closes the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case StateHalfOpen:
		cb.state = StateClosed
		cb.failureCount = 0
	case StateClosed:
		cb.failureCount = 0
	}
}

// RecordFailure notifies the breaker that a fetch failed.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.failureThreshold {
			cb.state = StateOpen
			cb.openUntil = time.Now().Add(cb.cooldown)
		}
	case StateHalfOpen:
		cb.state = StateOpen
		cb.openUntil = time.Now().Add(cb.cooldown)
	}
}
