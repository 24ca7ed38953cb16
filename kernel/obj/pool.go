package obj

import "github.com/HTRMC/Graphene-Kernel/kernel"

// Pool is a fixed-capacity arena of T, tracked by an in-use bitmap,
// generalizing the teacher's per-kind bitmap-pool pattern
// (kernel/mem/pmm/allocator) from physical frames to object kinds.
// proc.Manager allocates threads and processes from instances of it; the
// other object kinds (address spaces, endpoints, IRQ objects, I/O-port
// objects, capability tables) are not allocated from a Pool.
//
// Exhaustion is a normal, non-fatal failure (spec §9): Acquire returns
// ErrPoolExhausted rather than panicking.
type Pool[T any] struct {
	items  []T
	inUse  []bool
	hint   int
}

// ErrPoolExhausted is returned by Acquire when every slot in the pool is
// currently reserved.
var ErrPoolExhausted = &kernel.Error{Module: "obj", Message: "pool exhausted"}

// NewPool builds a Pool with the given fixed capacity.
func NewPool[T any](capacity int) *Pool[T] {
	return &Pool[T]{
		items: make([]T, capacity),
		inUse: make([]bool, capacity),
	}
}

// Capacity returns the total number of slots in the pool.
func (p *Pool[T]) Capacity() int { return len(p.items) }

// InUse returns the number of currently reserved slots.
func (p *Pool[T]) InUse() int {
	n := 0
	for _, used := range p.inUse {
		if used {
			n++
		}
	}
	return n
}

// Acquire reserves a free slot and returns its index and a pointer to the
// zero-valued T stored there. The caller is responsible for initializing
// the value pointed to before use.
func (p *Pool[T]) Acquire() (int, *T, *kernel.Error) {
	for i := 0; i < len(p.inUse); i++ {
		idx := (p.hint + i) % len(p.inUse)
		if !p.inUse[idx] {
			p.inUse[idx] = true
			p.hint = idx + 1
			var zero T
			p.items[idx] = zero
			return idx, &p.items[idx], nil
		}
	}
	return -1, nil, ErrPoolExhausted
}

// Release marks slot as free again. Releasing an already-free slot is a
// no-op.
func (p *Pool[T]) Release(slot int) {
	if slot < 0 || slot >= len(p.inUse) {
		return
	}
	p.inUse[slot] = false
}

// At returns a pointer to the slot's value regardless of reservation state.
// Callers that need to distinguish a live slot from a stale one must check
// InUseAt first.
func (p *Pool[T]) At(slot int) *T {
	if slot < 0 || slot >= len(p.items) {
		return nil
	}
	return &p.items[slot]
}

// InUseAt reports whether slot is currently reserved.
func (p *Pool[T]) InUseAt(slot int) bool {
	if slot < 0 || slot >= len(p.inUse) {
		return false
	}
	return p.inUse[slot]
}
