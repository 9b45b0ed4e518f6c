// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package pool

import "sync"

// ObjectPool is a generic object pool.
type ObjectPool[T any] interface {
	Get() T
	Put(T)
}

// SyncPool wraps sync.Pool for generic usage.
type SyncPool[T any] struct {
	pool *sync.Pool
}

// NewSyncPool creates a new SyncPool with a creator function.
func NewSyncPool[T any](creator func() T) *SyncPool[T] {
	return &SyncPool[T]{
		pool: &sync.Pool{New: func() any { return creator() }},
	}
}

func (sp *SyncPool[T]) Get() T {
	return sp.pool.Get().(T)
}

func (sp *SyncPool[T]) Put(obj T) {
	sp.pool.Put(obj)
}

// SlicePool hands out slices of a fixed capacity. Slices are returned with
// length zero; Put drops slices whose capacity no longer matches.
type SlicePool[T any] struct {
	size int
	sp   *SyncPool[*[]T]
}

// NewSlicePool creates a pool of slices with capacity size.
func NewSlicePool[T any](size int) *SlicePool[T] {
	if size <= 0 {
		size = 1
	}
	return &SlicePool[T]{
		size: size,
		sp: NewSyncPool(func() *[]T {
			s := make([]T, 0, size)
			return &s
		}),
	}
}

// Size is the capacity of slices handed out by the pool.
func (p *SlicePool[T]) Size() int { return p.size }

func (p *SlicePool[T]) Get() *[]T {
	s := p.sp.Get()
	*s = (*s)[:0]
	return s
}

func (p *SlicePool[T]) Put(s *[]T) {
	if s == nil || cap(*s) != p.size {
		return
	}
	var zero T
	full := (*s)[:cap(*s)]
	for i := range full {
		full[i] = zero
	}
	p.sp.Put(s)
}

var _ ObjectPool[*[]int] = (*SlicePool[int])(nil)
