package taurus

import (
	"sync"
)

// Mutexmap is simply a generic map protected by a sync.RWMutex.
// The backends keep their live connection sets in one,
// since accept, reader and service goroutines all touch them.
type Mutexmap[K comparable, V any] struct {
	mut sync.RWMutex
	m   map[K]V
}

// NewMutexmap creates a new mutex-protected map.
func NewMutexmap[K comparable, V any]() *Mutexmap[K, V] {
	return &Mutexmap[K, V]{
		m: make(map[K]V),
	}
}

// Set a single key to value val.
func (m *Mutexmap[K, V]) Set(key K, val V) {
	m.mut.Lock()
	m.m[key] = val
	m.mut.Unlock()
}

// Del deletes key from the map. Returns new size.
func (m *Mutexmap[K, V]) Del(key K) (newSz int) {
	m.mut.Lock()
	delete(m.m, key)
	newSz = len(m.m)
	m.mut.Unlock()
	return
}

// GetMapReset returns the underlying map and
// resets the internal map by re-allocating it anew.
func (m *Mutexmap[K, V]) GetMapReset() (mm map[K]V) {
	m.mut.Lock()
	mm = m.m
	m.m = make(map[K]V)
	m.mut.Unlock()
	return
}
