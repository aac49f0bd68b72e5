package ttlmap

import (
	"hash/maphash"
	"sync"
	"time"
)

// shardCount is the number of independently locked shards. Must be a power
// of two.
const shardCount = 64

// MultiMap is a concurrent multimap with per-key expiration. Each key holds
// a deduplicated set of values sharing a single deadline.
type MultiMap[K comparable, V comparable] struct {
	shards [shardCount]multiShard[K, V]
	seed   maphash.Seed
	now    func() time.Time
}

type multiShard[K comparable, V comparable] struct {
	mu      sync.Mutex
	entries map[K]*multiEntry[V]
}

type multiEntry[V comparable] struct {
	values   map[V]struct{}
	expireAt time.Time
}

// MultiMapOption configures a MultiMap.
type MultiMapOption[K comparable, V comparable] func(*MultiMap[K, V])

// WithMultiMapClock overrides the time source, for tests.
func WithMultiMapClock[K comparable, V comparable](now func() time.Time) MultiMapOption[K, V] {
	return func(m *MultiMap[K, V]) {
		m.now = now
	}
}

// NewMultiMap creates an empty MultiMap.
func NewMultiMap[K comparable, V comparable](opts ...MultiMapOption[K, V]) *MultiMap[K, V] {
	m := &MultiMap[K, V]{
		seed: maphash.MakeSeed(),
		now:  time.Now,
	}
	for i := range m.shards {
		m.shards[i].entries = make(map[K]*multiEntry[V])
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MultiMap[K, V]) shard(k K) *multiShard[K, V] {
	h := maphash.Comparable(m.seed, k)
	return &m.shards[h&(shardCount-1)]
}

// live returns the entry for k if present and unexpired, deleting it
// otherwise. Callers must hold the shard lock.
func (m *MultiMap[K, V]) live(s *multiShard[K, V], k K) *multiEntry[V] {
	e, ok := s.entries[k]
	if !ok {
		return nil
	}
	if m.now().After(e.expireAt) {
		delete(s.entries, k)
		return nil
	}
	return e
}

// Insert adds v to the set under k, creating the key if needed, and sets the
// key's deadline to expireAt. Returns true if v was not already present.
func (m *MultiMap[K, V]) Insert(k K, v V, expireAt time.Time) bool {
	s := m.shard(k)
	s.mu.Lock()
	defer s.mu.Unlock()

	e := m.live(s, k)
	if e == nil {
		e = &multiEntry[V]{values: make(map[V]struct{}, 1)}
		s.entries[k] = e
	}
	e.expireAt = expireAt
	if _, exists := e.values[v]; exists {
		return false
	}
	e.values[v] = struct{}{}
	return true
}

// InsertOrAssign ensures v is present under k and refreshes the key's
// deadline. Returns true if v was newly inserted; applying it twice yields
// the same final state with the second call returning false.
func (m *MultiMap[K, V]) InsertOrAssign(k K, v V, expireAt time.Time) bool {
	return m.Insert(k, v, expireAt)
}

// EraseKey removes k and every value under it, returning the number of
// values removed.
func (m *MultiMap[K, V]) EraseKey(k K) int {
	s := m.shard(k)
	s.mu.Lock()
	defer s.mu.Unlock()

	e := m.live(s, k)
	if e == nil {
		return 0
	}
	n := len(e.values)
	delete(s.entries, k)
	return n
}

// Erase removes the single (k, v) entry. The key is removed entirely when
// its value set becomes empty. Returns true if the value was present.
func (m *MultiMap[K, V]) Erase(k K, v V) bool {
	s := m.shard(k)
	s.mu.Lock()
	defer s.mu.Unlock()

	e := m.live(s, k)
	if e == nil {
		return false
	}
	if _, exists := e.values[v]; !exists {
		return false
	}
	delete(e.values, v)
	if len(e.values) == 0 {
		delete(s.entries, k)
	}
	return true
}

// Contains reports whether k is present and unexpired.
func (m *MultiMap[K, V]) Contains(k K) bool {
	s := m.shard(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	return m.live(s, k) != nil
}

// ContainsValue reports whether the (k, v) pair is present and unexpired.
func (m *MultiMap[K, V]) ContainsValue(k K, v V) bool {
	s := m.shard(k)
	s.mu.Lock()
	defer s.mu.Unlock()

	e := m.live(s, k)
	if e == nil {
		return false
	}
	_, exists := e.values[v]
	return exists
}

// Count returns the number of values under k, zero if absent or expired.
func (m *MultiMap[K, V]) Count(k K) int {
	s := m.shard(k)
	s.mu.Lock()
	defer s.mu.Unlock()

	e := m.live(s, k)
	if e == nil {
		return 0
	}
	return len(e.values)
}

// Find returns a snapshot of the values under k. The boolean is false if the
// key is absent or expired.
func (m *MultiMap[K, V]) Find(k K) ([]V, bool) {
	s := m.shard(k)
	s.mu.Lock()
	defer s.mu.Unlock()

	e := m.live(s, k)
	if e == nil {
		return nil, false
	}
	out := make([]V, 0, len(e.values))
	for v := range e.values {
		out = append(out, v)
	}
	return out, true
}

// UpdateExpiration sets the deadline shared by every value under k. Used by
// readers to refresh the TTL after a successful authoritative re-read.
// Returns false if the key is absent or already expired.
func (m *MultiMap[K, V]) UpdateExpiration(k K, expireAt time.Time) bool {
	s := m.shard(k)
	s.mu.Lock()
	defer s.mu.Unlock()

	e := m.live(s, k)
	if e == nil {
		return false
	}
	e.expireAt = expireAt
	return true
}
