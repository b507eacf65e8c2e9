// Package util has small helpers shared by the commands and the services
package util

import (
	"sync"
)

// Counter is a thread safe monotonic natural number counter
type Counter struct {
	counter int
	mtx     *sync.Mutex
}

// NewCounter instantiates Counter
func NewCounter() *Counter {
	return &Counter{
		counter: 0,
		mtx:     new(sync.Mutex),
	}
}

// Next returns the current value and increments it
func (id *Counter) Next() int {
	id.mtx.Lock()
	defer id.mtx.Unlock()

	cur := id.counter
	id.counter++
	return cur
}

// Value returns the current value without incrementing
func (id *Counter) Value() int {
	id.mtx.Lock()
	defer id.mtx.Unlock()
	return id.counter
}

// Reset resets the counter to 0
func (id *Counter) Reset() {
	id.mtx.Lock()
	defer id.mtx.Unlock()
	id.counter = 0
}
