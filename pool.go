package douki

import (
	"sync/atomic"
)

// Owner is an explicit ownership token for a Pool. A pool is bound to the
// first owner that borrows from it; only that owner may borrow afterwards.
// Create one Owner per scheduling context, e.g. the simulation loop, and pass
// it along rather than sharing it between goroutines.
type Owner struct {
	id uint64
}

var ownerSeq atomic.Uint64

// NewOwner returns a fresh, unique token.
func NewOwner() Owner {
	return Owner{id: ownerSeq.Add(1)}
}

// IsZero reports whether o is the unset token.
func (o Owner) IsZero() bool { return o.id == 0 }

// Pool recycles instances of T for a single owning context. Borrow is
// lock-free and must only be called by the bound owner. Return may be called
// from anywhere: the owner puts items straight back on the free list, while
// everyone else hands them over through a bounded channel that the owner
// drains on its next Borrow.
type Pool[T any] struct {
	newFn   func() *T
	resetFn func(*T)
	metrics *Metrics
	returns chan *T
	name    string
	free    []*T
	cap     int
	owner   atomic.Uint64
}

// NewPool creates a pool.
//
// Parameters:
//   - name: Label used for metrics.
//   - capacity: Maximum number of idle instances kept on the free list.
//   - queueCapacity: Maximum number of foreign returns awaiting a drain.
//     Returns beyond that are left to the garbage collector.
//   - newFn: Allocates a fresh instance when the free list is empty.
//   - resetFn: Clears an instance before reuse. May be nil.
//   - m: Metrics sink. May be nil.
func NewPool[T any](name string, capacity, queueCapacity int, newFn func() *T, resetFn func(*T), m *Metrics) *Pool[T] {
	return &Pool[T]{
		name:    name,
		newFn:   newFn,
		resetFn: resetFn,
		metrics: m,
		returns: make(chan *T, queueCapacity),
		free:    make([]*T, 0, min(capacity, 64)),
		cap:     capacity,
	}
}

// Borrow hands out an instance. The first call binds the pool to o; a later
// call with a different owner is a contract violation and panics.
func (p *Pool[T]) Borrow(o Owner) *T {
	if o.IsZero() {
		panic("douki: pool " + p.name + ": borrow with zero owner")
	}
	if !p.owner.CompareAndSwap(0, o.id) && p.owner.Load() != o.id {
		panic("douki: pool " + p.name + ": borrow from a non-owning context")
	}
	p.drain()
	p.metrics.poolOp(p.name, "borrow")
	if n := len(p.free); n > 0 {
		item := p.free[n-1]
		p.free[n-1] = nil
		p.free = p.free[:n-1]
		return item
	}
	return p.newFn()
}

// Return gives item back. It never blocks.
func (p *Pool[T]) Return(o Owner, item *T) {
	if item == nil {
		return
	}
	if bound := p.owner.Load(); bound != 0 && bound == o.id {
		p.put(item)
		p.metrics.poolOp(p.name, "return_local")
		return
	}
	select {
	case p.returns <- item:
		p.metrics.poolOp(p.name, "return_queued")
	default:
		p.metrics.poolOp(p.name, "return_dropped")
	}
}

// Owner returns the bound owner, if any.
func (p *Pool[T]) Owner() (Owner, bool) {
	id := p.owner.Load()
	return Owner{id: id}, id != 0
}

// Idle is the number of instances on the free list. Only the owner may call it.
func (p *Pool[T]) Idle() int { return len(p.free) }

// Pending is the number of foreign returns awaiting a drain.
func (p *Pool[T]) Pending() int { return len(p.returns) }

// drain moves at most the number of queued returns observed on entry back
// onto the free list, so concurrent returners cannot keep the owner busy.
func (p *Pool[T]) drain() int {
	n := len(p.returns)
	moved := 0
	for range n {
		select {
		case item := <-p.returns:
			p.put(item)
			moved++
		default:
			p.metrics.poolDrained(p.name, moved)
			return moved
		}
	}
	p.metrics.poolDrained(p.name, moved)
	return moved
}

func (p *Pool[T]) put(item *T) {
	if p.resetFn != nil {
		p.resetFn(item)
	}
	if len(p.free) < p.cap {
		p.free = append(p.free, item)
	}
}
