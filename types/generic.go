// Package types holds small generic containers and the service scaffolding
// shared by the long running parts of the tool.
package types

import (
	"sync"

	"golang.org/x/exp/constraints"
	"golang.org/x/exp/slices"
)

// Map[K,V] is a generic thread safe map
type Map[K constraints.Ordered, V any] struct {
	m    map[K]V
	lock *sync.RWMutex
}

// NewMap[K,V] creates an empty Map
func NewMap[K constraints.Ordered, V any]() *Map[K, V] {
	return &Map[K, V]{
		m:    make(map[K]V),
		lock: new(sync.RWMutex),
	}
}

func (s *Map[K, V]) Get(key K) (V, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	val, ok := s.m[key]
	return val, ok
}

func (s *Map[K, V]) Add(key K, val V) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.m[key] = val
}

// GetOrAdd returns the value of key, storing the result of create first
// when the key is missing. The boolean is true when the value existed.
func (s *Map[K, V]) GetOrAdd(key K, create func() V) (V, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if val, ok := s.m[key]; ok {
		return val, true
	}
	val := create()
	s.m[key] = val
	return val, false
}

func (s *Map[K, V]) Exists(key K) bool {
	s.lock.RLock()
	defer s.lock.RUnlock()
	_, ok := s.m[key]
	return ok
}

func (s *Map[K, V]) Size() int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return len(s.m)
}

// Keys in ascending order
func (s *Map[K, V]) Keys() []K {
	s.lock.RLock()
	keys := make([]K, 0, len(s.m))
	for k := range s.m {
		keys = append(keys, k)
	}
	s.lock.RUnlock()
	slices.Sort(keys)
	return keys
}
