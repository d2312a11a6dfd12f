package cache

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

type memoryEntry[V any] struct {
	value      V
	insertedAt time.Time
}

// Memory is a thread-safe in-memory key-value store with TTL expiration.
// Entries are never evicted for size; they leave the store only by expiring
// under a Get, by an explicit Remove or Clear, or through the janitor.
type Memory[V any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	clk     clock.Clock
	entries map[string]memoryEntry[V]
}

// NewMemory creates a store whose entries live for ttl. The TTL is fixed for
// the store's lifetime. A non-positive ttl makes every entry expire on its
// first read.
func NewMemory[V any](ttl time.Duration) *Memory[V] {
	return NewMemoryWithClock[V](ttl, clock.New())
}

// NewMemoryWithClock is NewMemory with an injected clock, for tests that
// need to control time.
func NewMemoryWithClock[V any](ttl time.Duration, clk clock.Clock) *Memory[V] {
	return &Memory[V]{
		ttl:     ttl,
		clk:     clk,
		entries: make(map[string]memoryEntry[V]),
	}
}

// Get returns the value stored for key, or false if the key is missing or
// its entry has outlived the TTL. An expired entry is removed on the spot,
// so Get is also the store's cleanup path.
func (m *Memory[V]) Get(key string) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var zero V
	entry, ok := m.entries[key]
	if !ok {
		return zero, false
	}
	if m.expired(entry, m.clk.Now()) {
		delete(m.entries, key)
		return zero, false
	}
	return entry.value, true
}

// Set stores value under key with the current timestamp, overwriting any
// previous entry. It never fails and never evicts other entries.
func (m *Memory[V]) Set(key string, value V) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = memoryEntry[V]{
		value:      value,
		insertedAt: m.clk.Now(),
	}
}

// Remove deletes the entry for key. Removing an absent key is a no-op.
func (m *Memory[V]) Remove(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
}

// Clear removes every entry and returns how many were stored, expired ones
// included.
func (m *Memory[V]) Clear() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.entries)
	m.entries = make(map[string]memoryEntry[V])
	return n
}

// Stats counts valid and expired entries at the instant of the call. Unlike
// Get it removes nothing: an expired entry keeps showing up here until a Get
// reads it or the store is cleared.
func (m *Memory[V]) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Stats{
		TotalEntries: len(m.entries),
		TTLSeconds:   int(m.ttl.Seconds()),
	}
	now := m.clk.Now()
	for _, entry := range m.entries {
		if m.expired(entry, now) {
			stats.ExpiredEntries++
		} else {
			stats.ValidEntries++
		}
	}
	return stats
}

// StartJanitor sweeps expired entries every interval until ctx is canceled.
// The sweep is memory hygiene only; Get and Stats behave the same with or
// without it.
func (m *Memory[V]) StartJanitor(ctx context.Context, interval time.Duration) {
	ticker := m.clk.Ticker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.removeExpired()
			}
		}
	}()
}

func (m *Memory[V]) removeExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clk.Now()
	n := 0
	for key, entry := range m.entries {
		if m.expired(entry, now) {
			delete(m.entries, key)
			n++
		}
	}
	return n
}

// An entry is expired once its age reaches the TTL, which for a non-positive
// TTL is immediately.
func (m *Memory[V]) expired(entry memoryEntry[V], now time.Time) bool {
	return now.Sub(entry.insertedAt) >= m.ttl
}
