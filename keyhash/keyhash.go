// Package keyhash provides low-overhead key hashing and a sharded
// concurrent map for state keyed by log site or task identity.
//
// Keys are hashed with xxhash64 and spread over a power-of-two number of
// shards, each guarded by its own RWMutex, so concurrent writers only
// contend when their keys land in the same shard.
package keyhash

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// DefaultShards is the shard count used when NewMap is given n <= 0.
const DefaultShards = 64

// Sum returns the 64-bit xxhash of key.
func Sum(key string) uint64 {
	return xxhash.Sum64String(key)
}

// SumBytes returns the 64-bit xxhash of b.
func SumBytes(b []byte) uint64 {
	return xxhash.Sum64(b)
}

// Map is a concurrent map from string keys to V.
type Map[V any] struct {
	shards []shard[V]
	mask   uint64
}

type shard[V any] struct {
	mu sync.RWMutex
	m  map[string]V

	// keep neighbouring shard locks off the same cache line
	_ [40]byte
}

// NewMap creates a Map with n shards rounded up to a power of two.
func NewMap[V any](n int) *Map[V] {
	if n <= 0 {
		n = DefaultShards
	}
	size := 1
	for size < n {
		size <<= 1
	}

	m := &Map[V]{
		shards: make([]shard[V], size),
		mask:   uint64(size - 1),
	}
	for i := range m.shards {
		m.shards[i].m = make(map[string]V)
	}
	return m
}

func (m *Map[V]) shardFor(key string) *shard[V] {
	return &m.shards[Sum(key)&m.mask]
}

// Load returns the value stored under key.
func (m *Map[V]) Load(key string) (V, bool) {
	s := m.shardFor(key)
	s.mu.RLock()
	v, ok := s.m[key]
	s.mu.RUnlock()
	return v, ok
}

// LoadOrCreate returns the value under key, calling create to build and
// store one if absent. create runs at most once per missing key and under
// the shard lock, so it must be cheap and must not touch the map. loaded
// reports whether the value already existed.
func (m *Map[V]) LoadOrCreate(key string, create func() V) (v V, loaded bool) {
	s := m.shardFor(key)

	s.mu.RLock()
	v, ok := s.m[key]
	s.mu.RUnlock()
	if ok {
		return v, true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok = s.m[key]; ok {
		return v, true
	}
	v = create()
	s.m[key] = v
	return v, false
}

// Store sets the value for key.
func (m *Map[V]) Store(key string, v V) {
	s := m.shardFor(key)
	s.mu.Lock()
	s.m[key] = v
	s.mu.Unlock()
}

// Delete removes key.
func (m *Map[V]) Delete(key string) {
	s := m.shardFor(key)
	s.mu.Lock()
	delete(s.m, key)
	s.mu.Unlock()
}

// Range calls fn for every entry until fn returns false. Each shard is
// snapshotted before fn runs, so fn may call back into the map. Entries
// added or removed during Range may or may not be visited.
func (m *Map[V]) Range(fn func(key string, v V) bool) {
	type entry struct {
		k string
		v V
	}
	var buf []entry
	for i := range m.shards {
		s := &m.shards[i]

		buf = buf[:0]
		s.mu.RLock()
		for k, v := range s.m {
			buf = append(buf, entry{k, v})
		}
		s.mu.RUnlock()

		for _, e := range buf {
			if !fn(e.k, e.v) {
				return
			}
		}
	}
}

// Len returns the number of entries. It is exact only when no writer is
// active.
func (m *Map[V]) Len() int {
	n := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.RLock()
		n += len(s.m)
		s.mu.RUnlock()
	}
	return n
}
