// Package replaycache de-duplicates mandate nonces within their validity
// window. Reserve is an atomic compare-and-set: exactly one caller wins a
// race for a given nonce.
//
// Entries are retained for the mandate TTL plus an equal grace period to
// defend against clock skew between issuers and the kernel.
package replaycache

import (
	"context"
	"sync"
	"time"
)

// Cache reserves single-use nonces.
type Cache interface {
	// Reserve records the nonce and returns true if it was not already
	// present and unexpired; returns false on collision. ttl is derived
	// from the mandate's expiration time.
	Reserve(ctx context.Context, nonce string, ttl time.Duration) (bool, error)
}

// Memory is an in-process Cache. It does not survive restarts; deploy it
// only behind a fail-closed startup hold that refuses mandates issued
// before process start, or use the Redis cache for durability.
type Memory struct {
	mu      sync.Mutex
	entries map[string]time.Time // nonce -> eviction deadline
	clock   func() time.Time
}

// NewMemory creates an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]time.Time),
		clock:   time.Now,
	}
}

// WithClock overrides the clock for testing.
func (m *Memory) WithClock(clock func() time.Time) *Memory {
	m.clock = clock
	return m
}

// Reserve implements Cache.
func (m *Memory) Reserve(_ context.Context, nonce string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	if deadline, ok := m.entries[nonce]; ok && now.Before(deadline) {
		return false, nil
	}

	// Retain for ttl + grace (grace == ttl).
	m.entries[nonce] = now.Add(2 * ttl)
	m.purgeLocked(now)
	return true, nil
}

// purgeLocked drops expired entries. Called under the lock on every
// reservation; the map stays bounded by the number of live mandates.
func (m *Memory) purgeLocked(now time.Time) {
	for n, deadline := range m.entries {
		if !now.Before(deadline) {
			delete(m.entries, n)
		}
	}
}

// Len reports the number of live reservations.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
