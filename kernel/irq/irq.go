// Package irq implements per-line IRQ objects and their wait queues (spec
// §3 "IRQ object", §4.10): exactly one object per hardware line, a pending
// counter, and FIFO delivery to a single blocked receiver at a time.
//
// Programming a real 8259 pair or local APIC is an external collaborator
// (spec §1 "Out of scope: legacy/APIC controller programming") — this
// package only needs something satisfying arch.InterruptController's
// Mask/Unmask/EOI surface, which it calls at the points spec §4.10 names.
package irq

import (
	"github.com/HTRMC/Graphene-Kernel/kernel"
	"github.com/HTRMC/Graphene-Kernel/kernel/arch"
	"github.com/HTRMC/Graphene-Kernel/kernel/obj"
	"github.com/HTRMC/Graphene-Kernel/kernel/sched"
)

// MaxLines is the number of hardware IRQ lines the kernel tracks (spec §9
// "Pool sizing": "16 IRQ objects").
const MaxLines = 16

var (
	// ErrLineOutOfRange is returned for a line number outside [0, MaxLines).
	ErrLineOutOfRange = &kernel.Error{Module: "irq", Message: "irq line out of range"}
	// ErrLineExists is returned by Create when the line already has an object.
	ErrLineExists = &kernel.Error{Module: "irq", Message: "irq line already has an object"}
	// ErrLineEmpty is returned by Line when no object has been created for that line.
	ErrLineEmpty = &kernel.Error{Module: "irq", Message: "no irq object on that line"}
)

// Line is the per-hardware-line object (spec §3 "IRQ object"): a pending
// count and a FIFO of blocked receivers. sched.WaitQueue holds the bare
// Schedulable interface here, unlike kernel/ipc's endpoint queues, because
// an IRQ wakeup carries no payload — irq_wait's return value is just "an
// event happened".
type Line struct {
	Hdr obj.Header

	Number  uint8
	pending uint32
	waiters sched.WaitQueue[sched.Schedulable]
}

// Header satisfies capability.Object so a capability can reference an IRQ line.
func (l *Line) Header() *obj.Header { return &l.Hdr }

// Pending reports the line's current unconsumed-event count.
func (l *Line) Pending() uint32 { return l.pending }

// WaitResult reports how Wait resolved an irq_wait call.
type WaitResult int

const (
	// WaitImmediate means a pending event was already available and consumed.
	WaitImmediate WaitResult = iota
	// WaitBlocked means the caller must park thread and block it.
	WaitBlocked
)

// Wait implements irq_wait's blocking half (spec §4.10 "Wait contract"):
// decrements the pending count if nonzero, else parks thread on the line's
// wait queue.
func (l *Line) Wait(thread sched.Schedulable) WaitResult {
	if l.pending > 0 {
		l.pending--
		return WaitImmediate
	}
	l.waiters.Enqueue(thread)
	return WaitBlocked
}

// RemoveWaiter cancels a specific thread's parked irq_wait (spec §5
// "Cancellation": a destroyed process's threads are pulled off every wait
// queue they're on).
func (l *Line) RemoveWaiter(thread sched.Schedulable) bool {
	return l.waiters.Remove(thread)
}

// Ack implements irq_ack (spec §4.10): re-enables the line at the active
// controller.
func (l *Line) Ack(controller arch.InterruptController) {
	controller.EOI(l.Number)
}

// Table owns the fixed set of per-line IRQ objects (spec §3 "IRQ object":
// "exactly one IRQ object per line; creating a second on the same line
// fails").
type Table struct {
	lines [MaxLines]*Line
}

// NewTable returns a table with no lines yet registered.
func NewTable() *Table { return &Table{} }

// Create installs a new Line object for the given hardware IRQ number.
func (t *Table) Create(number uint8) (*Line, *kernel.Error) {
	if int(number) >= MaxLines {
		return nil, ErrLineOutOfRange
	}
	if t.lines[number] != nil {
		return nil, ErrLineExists
	}
	l := &Line{Hdr: obj.Header{Type: obj.TypeIrq}, Number: number}
	t.lines[number] = l
	return l, nil
}

// Line returns the object registered for number, or ErrLineEmpty if none exists.
func (t *Table) Line(number uint8) (*Line, *kernel.Error) {
	if int(number) >= MaxLines {
		return nil, ErrLineOutOfRange
	}
	l := t.lines[number]
	if l == nil {
		return nil, ErrLineEmpty
	}
	return l, nil
}

// Deliver implements the in-kernel interrupt entry's IRQ half (spec §4.10:
// "looks up the object; if none, EOI and return; else increment pending
// count, wake one receiver (if any)"). If a receiver was woken it consumes
// the event immediately, so the pending count nets back to what it was
// before delivery plus any events still queued for a future waiter.
// Returns the woken thread, or nil if none was waiting.
func (t *Table) Deliver(controller arch.InterruptController, number uint8) sched.Schedulable {
	if int(number) >= MaxLines || t.lines[number] == nil {
		controller.EOI(number)
		return nil
	}
	l := t.lines[number]
	l.pending++
	if w, ok := l.waiters.Dequeue(); ok {
		l.pending--
		return w
	}
	return nil
}
