// Package pool implements the per-location object pool that recycles
// heap-allocated event payloads and factory outputs instead of letting
// the garbage collector reclaim them, per spec.md's "no GC for user
// data" non-goal.
//
// Grounded directly on src/libraries/JANA/Topology/JPool.h: a pool
// keeps one LocalPool per location (NUMA domain, core, whatever the
// active LocalityStrategy resolves to), each with its own mutex and
// slice of available items. Items are lazily allocated up to a
// per-location limit; a "strict" pool refuses Get past that limit
// while an "elastic" pool allocates past it and simply never recycles
// the overflow.
package pool

import (
	"sync"

	"github.com/oriys/jana2go/internal/janaerr"
)

// Lifecycle lets a pooled item run setup/teardown hooks on
// acquisition and release, mirroring JPool<T>::configure_item and
// release_item.
type Lifecycle[T any] interface {
	Configure(item T)
	Release(item T)
}

// NoopLifecycle is a Lifecycle that does nothing, for plain-data
// payload types with no setup/teardown needs.
type NoopLifecycle[T any] struct{}

func (NoopLifecycle[T]) Configure(T) {}
func (NoopLifecycle[T]) Release(T)   {}

type localPool[T any] struct {
	mu        sync.Mutex
	available []T
	allocated int
}

// Pool is a generic, per-location object pool. Elastic pools allocate
// new items past their per-location limit instead of blocking or
// failing; strict pools return ResourceExhausted once a location's
// limit is reached and no recycled item is available.
type Pool[T any] struct {
	name      string
	newItem   func() T
	lifecycle Lifecycle[T]
	limit     int
	elastic   bool

	locals []*localPool[T]
}

// Config configures a new Pool.
type Config[T any] struct {
	Name       string
	NLocations int
	Limit      int // max items retained per location; 0 means unlimited
	Elastic    bool
	New        func() T
	Lifecycle  Lifecycle[T] // optional, defaults to NoopLifecycle
}

// New constructs a Pool per Config.
func New[T any](cfg Config[T]) *Pool[T] {
	lifecycle := cfg.Lifecycle
	if lifecycle == nil {
		lifecycle = NoopLifecycle[T]{}
	}
	nloc := cfg.NLocations
	if nloc < 1 {
		nloc = 1
	}
	p := &Pool[T]{
		name:      cfg.Name,
		newItem:   cfg.New,
		lifecycle: lifecycle,
		limit:     cfg.Limit,
		elastic:   cfg.Elastic,
		locals:    make([]*localPool[T], nloc),
	}
	for i := range p.locals {
		p.locals[i] = &localPool[T]{}
	}
	return p
}

// Name returns the pool's identifying name, used in metrics labels.
func (p *Pool[T]) Name() string { return p.name }

func (p *Pool[T]) local(location int) *localPool[T] {
	return p.locals[location%len(p.locals)]
}

// Get acquires one item from location's local pool, allocating a new
// one if none is available and the location is under its limit (or
// the pool is elastic). Returns ResourceExhausted for a strict pool
// at its limit with nothing recycled.
func (p *Pool[T]) Get(location int) (T, error) {
	lp := p.local(location)
	lp.mu.Lock()
	if n := len(lp.available); n > 0 {
		item := lp.available[n-1]
		lp.available = lp.available[:n-1]
		lp.mu.Unlock()
		p.lifecycle.Configure(item)
		return item, nil
	}
	if p.limit > 0 && lp.allocated >= p.limit && !p.elastic {
		lp.mu.Unlock()
		var zero T
		return zero, janaerr.New(janaerr.KindResourceExhausted,
			"pool "+p.name+" exhausted at its configured limit")
	}
	lp.allocated++
	lp.mu.Unlock()

	item := p.newItem()
	p.lifecycle.Configure(item)
	return item, nil
}

// GetMany acquires up to count items, returning as many as were
// available/allocatable. For a strict pool this may return fewer than
// count with no error if the location's limit was reached partway
// through, mirroring JPool<T>::pop's best-effort semantics.
func (p *Pool[T]) GetMany(location, count int) []T {
	out := make([]T, 0, count)
	for i := 0; i < count; i++ {
		item, err := p.Get(location)
		if err != nil {
			break
		}
		out = append(out, item)
	}
	return out
}

// Put returns item to location's local pool for reuse, running the
// Release lifecycle hook first.
func (p *Pool[T]) Put(location int, item T) {
	p.lifecycle.Release(item)
	lp := p.local(location)
	lp.mu.Lock()
	defer lp.mu.Unlock()
	if p.limit > 0 && len(lp.available) >= p.limit {
		// Retained set already full (reachable when an elastic pool
		// allocated past its limit): drop the item and let the GC
		// reclaim it rather than growing unbounded.
		lp.allocated--
		return
	}
	lp.available = append(lp.available, item)
}

// PutMany returns a batch of items to location's local pool.
func (p *Pool[T]) PutMany(location int, items []T) {
	for _, item := range items {
		p.Put(location, item)
	}
}

// Available reports how many items are currently sitting recycled (not
// in use) at location, for the pool_available_items gauge.
func (p *Pool[T]) Available(location int) int {
	lp := p.local(location)
	lp.mu.Lock()
	defer lp.mu.Unlock()
	return len(lp.available)
}

// Allocated reports the total number of items ever allocated at
// location (in use or recycled).
func (p *Pool[T]) Allocated(location int) int {
	lp := p.local(location)
	lp.mu.Lock()
	defer lp.mu.Unlock()
	return lp.allocated
}

// NLocations returns the number of per-location sub-pools.
func (p *Pool[T]) NLocations() int { return len(p.locals) }
