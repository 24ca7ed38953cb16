package sched

import "math"

// IdleVruntime is the fixed vruntime of the idle thread (spec §4.6 "Idle":
// "its vruntime is fixed at the maximum so it is never picked while any
// other thread is ready").
const IdleVruntime = uint64(math.MaxUint64)

// Entity holds the scheduler-owned fields of a runnable thread (spec §3
// "Thread": "scheduler fields {vruntime, nice, remaining slice, quantum}").
// A thread embeds Entity and implements Schedulable to participate in the
// run queue.
type Entity struct {
	Vruntime       uint64
	Nice           int8
	RemainingSlice uint64
	Quantum        uint64
	NeedsResched   bool

	index int // heap.Interface bookkeeping, maintained by runQueue
}

// Schedulable is the surface the scheduler needs from a thread. proc.Thread
// implements this by embedding Entity and returning &entity from
// SchedEntity, keeping kernel/sched free of any import on kernel/proc.
type Schedulable interface {
	SchedEntity() *Entity
}

// AdvanceVruntime applies one tick of delta real-time units to e's
// vruntime, weighted by its nice value (spec §4.6 "Ordering": "the running
// thread's vruntime advances by delta·(W₀/w(nice))").
func (e *Entity) AdvanceVruntime(delta uint64) {
	e.Vruntime += delta * baseWeight / uint64(Weight(e.Nice))
}

// ResetSlice sets RemainingSlice back to Quantum, for use when a thread is
// scheduled onto the CPU.
func (e *Entity) ResetSlice() { e.RemainingSlice = e.Quantum }
