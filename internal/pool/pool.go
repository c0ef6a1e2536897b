// Package pool provides a typed wrapper around sync.Pool.
package pool

import "sync"

// Pool hands out reusable values of type T. Callers reset a value before
// putting it back.
type Pool[T any] struct {
	internal sync.Pool
}

// New creates a Pool that calls newFn when it has nothing to reuse.
func New[T any](newFn func() T) *Pool[T] {
	return &Pool[T]{
		internal: sync.Pool{
			New: func() any {
				return newFn()
			},
		},
	}
}

// Get returns a pooled value or a fresh one.
func (p *Pool[T]) Get() T {
	return p.internal.Get().(T)
}

// Put makes item available to later Get calls.
func (p *Pool[T]) Put(item T) {
	p.internal.Put(item)
}
