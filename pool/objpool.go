// File: pool/objpool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

import (
	"sync"
	"sync/atomic"
)

// SyncPool is a typed sync.Pool that counts how many values it had to
// create, which the debug probes report.
type SyncPool[T any] struct {
	pool  sync.Pool
	reset func(T)
	made  atomic.Int64
}

// NewSyncPool builds a pool around newFn. reset, when not nil, runs on
// every value handed back through Put.
func NewSyncPool[T any](newFn func() T, reset func(T)) *SyncPool[T] {
	p := &SyncPool[T]{reset: reset}
	p.pool.New = func() any {
		p.made.Add(1)
		return newFn()
	}
	return p
}

// Get returns a pooled value or a new one.
func (p *SyncPool[T]) Get() T { return p.pool.Get().(T) }

// Put recycles v.
func (p *SyncPool[T]) Put(v T) {
	if p.reset != nil {
		p.reset(v)
	}
	p.pool.Put(v)
}

// Allocated is the number of values created since the pool was built.
func (p *SyncPool[T]) Allocated() int64 { return p.made.Load() }
