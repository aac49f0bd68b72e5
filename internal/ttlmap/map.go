package ttlmap

import (
	"hash/maphash"
	"sync"
	"time"
)

// Map is a concurrent map with per-key expiration. Values are returned as
// snapshots; mutating a returned value does not affect the cache.
type Map[K comparable, V any] struct {
	shards [shardCount]mapShard[K, V]
	seed   maphash.Seed
	now    func() time.Time
}

type mapShard[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]mapEntry[V]
}

type mapEntry[V any] struct {
	value    V
	expireAt time.Time
}

// MapOption configures a Map.
type MapOption[K comparable, V any] func(*Map[K, V])

// WithMapClock overrides the time source, for tests.
func WithMapClock[K comparable, V any](now func() time.Time) MapOption[K, V] {
	return func(m *Map[K, V]) {
		m.now = now
	}
}

// NewMap creates an empty Map.
func NewMap[K comparable, V any](opts ...MapOption[K, V]) *Map[K, V] {
	m := &Map[K, V]{
		seed: maphash.MakeSeed(),
		now:  time.Now,
	}
	for i := range m.shards {
		m.shards[i].entries = make(map[K]mapEntry[V])
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Map[K, V]) shard(k K) *mapShard[K, V] {
	h := maphash.Comparable(m.seed, k)
	return &m.shards[h&(shardCount-1)]
}

// Insert stores v under k with the given deadline, replacing any previous
// value.
func (m *Map[K, V]) Insert(k K, v V, expireAt time.Time) {
	s := m.shard(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[k] = mapEntry[V]{value: v, expireAt: expireAt}
}

// Get returns the value under k. The boolean is false if the key is absent
// or expired; expired entries are removed.
func (m *Map[K, V]) Get(k K) (V, bool) {
	s := m.shard(k)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[k]
	if !ok {
		var zero V
		return zero, false
	}
	if m.now().After(e.expireAt) {
		delete(s.entries, k)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Erase removes k, returning true if it was present (expired or not).
func (m *Map[K, V]) Erase(k K) bool {
	s := m.shard(k)
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.entries[k]
	delete(s.entries, k)
	return ok
}

// UpdateExpiration refreshes the deadline for k. Returns false if the key is
// absent or already expired.
func (m *Map[K, V]) UpdateExpiration(k K, expireAt time.Time) bool {
	s := m.shard(k)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[k]
	if !ok || m.now().After(e.expireAt) {
		delete(s.entries, k)
		return false
	}
	e.expireAt = expireAt
	s.entries[k] = e
	return true
}
