// Package ksync provides the single-CPU critical-section primitive used to
// protect run queues, wait queues and pool bitmaps. Because this design has
// exactly one CPU (spec §5 non-goal: SMP), mutual exclusion never needs a
// real spinlock — disabling interrupts around the critical section is
// sufficient, generalizing the yieldFn seam of the teacher's
// kernel/sync.Spinlock to an explicit interrupts-off region.
package ksync

import "github.com/HTRMC/Graphene-Kernel/kernel/arch"

// CriticalSection disables interrupts, runs fn, then restores the interrupt
// flag to whatever it was before the call (so nested critical sections
// compose correctly).
func CriticalSection(a arch.Arch, fn func()) {
	wasEnabled := a.InterruptsEnabled()
	a.DisableInterrupts()
	defer func() {
		if wasEnabled {
			a.EnableInterrupts()
		}
	}()
	fn()
}
