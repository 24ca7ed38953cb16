// Package proc implements thread and process lifecycle management (spec
// §3 "Thread"/"Process", §4.7): control blocks, kernel-stack ownership,
// wait queues, and process destruction with reparenting to the kernel
// process.
package proc

import (
	"github.com/HTRMC/Graphene-Kernel/kernel/arch"
	"github.com/HTRMC/Graphene-Kernel/kernel/ipc"
	"github.com/HTRMC/Graphene-Kernel/kernel/mem/pmm"
	"github.com/HTRMC/Graphene-Kernel/kernel/obj"
	"github.com/HTRMC/Graphene-Kernel/kernel/sched"
)

// KernelStackSize is the fixed size of every thread's owned kernel stack
// (spec §3 "kernel stack (16 KiB)").
const KernelStackSize = 16 * 1024

// ThreadState is one of the states in a thread's lifecycle (spec §3
// "Thread"). Zombie is terminal: a zombie thread is never re-scheduled.
type ThreadState uint8

const (
	ThreadReady ThreadState = iota
	ThreadRunning
	ThreadBlocked
	ThreadZombie
)

// ThreadFlag is a bit in Thread.Flags (spec §3 "flags {kernel_thread,
// idle, needs_resched, in_syscall}"). needs_resched lives on the embedded
// sched.Entity instead, since kernel/sched owns preemption decisions.
type ThreadFlag uint8

const (
	FlagKernelThread ThreadFlag = 1 << iota
	FlagIdle
	FlagInSyscall
)

// Thread is a control block, not a running goroutine: every field here is
// plain data that a syscall handler, scheduler tick, or test mutates
// directly. sched.Entity is embedded so *Thread satisfies sched.Schedulable
// without kernel/sched importing this package.
type Thread struct {
	Hdr obj.Header
	sched.Entity

	// slot is this thread's index in Manager.threads, cached at acquisition
	// so destroyThread can return it to the pool.
	slot int

	TID     int
	State   ThreadState
	Process *Process // weak: the thread never outlives its process logically, but doesn't own it

	KernelStack []byte
	kstackFrame pmm.Frame
	UserSP      uintptr
	SavedCtx    *arch.Context

	Flags      ThreadFlag
	EntryAddr  uintptr
	InitialArg uint64

	// ReplyEndpoint is the per-thread implicit reply channel cap_call waits
	// on for the callee's reply, created lazily on first use (design decision:
	// reply delivery identity).
	ReplyEndpoint *ipc.Endpoint

	// ReplySlot caches the slot in the thread's own process capability
	// table that references ReplyEndpoint, so repeated cap_call syscalls
	// don't re-insert a fresh capability every time. -1 means unset.
	ReplySlot int

	// Pending holds a blocked syscall's continuation state (e.g. the
	// destination buffer a parked cap_recv will fill once a sender
	// delivers). Its concrete type belongs to kernel/syscall; it is opaque
	// here so this package never imports the dispatcher that imports it.
	Pending any

	// Cancel, if set, pulls t off whatever wait queue Pending parked it on
	// (an ipc.Endpoint's sender/receiver queue, an irq.Line's waiters) —
	// installed by the same syscall handler that set Pending, cleared once
	// the wait resolves normally. DestroyProcess calls it for every
	// zombified thread (spec §5 cancellation: "process destruction") so a
	// later delivery to that queue can never hand an event to a zombie.
	Cancel func()
}

// SchedEntity satisfies sched.Schedulable.
func (t *Thread) SchedEntity() *sched.Entity { return &t.Entity }

// KernelStackTop returns the initial stack pointer for this thread's kernel
// stack: the highest address in the buffer, since the stack grows down from
// there. This is what SavedCtx.SP is seeded with at creation and what a
// scheduler switching onto this thread hands to arch.Arch.SetKernelStack.
func (t *Thread) KernelStackTop() uintptr {
	return t.kstackFrame.Address() + uintptr(KernelStackSize)
}

// Header satisfies capability.Object so a capability can reference a thread
// directly (e.g. a "thread control" capability used by a supervisor).
func (t *Thread) Header() *obj.Header { return &t.Hdr }
