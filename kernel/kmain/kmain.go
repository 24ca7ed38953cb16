// Package kmain assembles every subsystem into one runnable kernel (spec §2
// "Data flow") and drives its main loop: dispatch a syscall, deliver an
// IRQ, or tick the clock, then walk whatever threads that action woke back
// onto the run queue before picking the next thread to run. It is the
// analogue of the teacher's own kmain.Kmain wiring entry point, split out
// of the base kernel package specifically because kernel/proc, kernel/irq,
// and kernel/syscall all import kernel for kernel.Error and so cannot
// themselves be imported by it.
package kmain

import (
	"fmt"

	"github.com/HTRMC/Graphene-Kernel/kernel"
	"github.com/HTRMC/Graphene-Kernel/kernel/arch"
	"github.com/HTRMC/Graphene-Kernel/kernel/boot"
	"github.com/HTRMC/Graphene-Kernel/kernel/capability"
	"github.com/HTRMC/Graphene-Kernel/kernel/console"
	"github.com/HTRMC/Graphene-Kernel/kernel/elf"
	"github.com/HTRMC/Graphene-Kernel/kernel/irq"
	"github.com/HTRMC/Graphene-Kernel/kernel/kfmt/early"
	"github.com/HTRMC/Graphene-Kernel/kernel/ksync"
	"github.com/HTRMC/Graphene-Kernel/kernel/mem/heap"
	"github.com/HTRMC/Graphene-Kernel/kernel/mem/pmm"
	"github.com/HTRMC/Graphene-Kernel/kernel/mem/vmm"
	"github.com/HTRMC/Graphene-Kernel/kernel/proc"
	"github.com/HTRMC/Graphene-Kernel/kernel/sched"
	"github.com/HTRMC/Graphene-Kernel/kernel/syscall"
)

// Config sizes the finite pools and default scheduling parameters every
// subsystem is built with (spec §9 "Pool sizing" suggested defaults).
type Config struct {
	// MaxThreads and MaxProcesses size proc.Manager's backing pools.
	MaxThreads   int
	MaxProcesses int
	// IdleQuantum is the (irrelevant, since idle is never enqueued) quantum
	// stamped on the idle thread's scheduler entity.
	IdleQuantum uint64
}

// DefaultConfig returns the suggested pool sizes and scheduling defaults
// (spec §9).
func DefaultConfig() Config {
	return Config{
		MaxThreads:   256,
		MaxProcesses: 64,
		IdleQuantum:  0,
	}
}

// CPU holds the single core's transient scheduling state: which thread is
// on-CPU right now. Graphene has exactly one of these (spec §1 Non-goals:
// "SMP"), but keeping it as its own value rather than a field on Kernel
// directly leaves room for the per-CPU block a future SMP redesign would need.
type CPU struct {
	Current *proc.Thread
}

// Kernel is every subsystem wired together: the frame allocator and paging
// engine backing every address space, the process/thread manager, the IRQ
// table, the syscall dispatcher that ties capability lookups to all of the
// above, the run-queue scheduler, and the boot console every panic and log
// line writes through.
type Kernel struct {
	Config Config

	Alloc  *pmm.Allocator
	Engine *vmm.Engine
	Heap   *heap.Heap

	Manager    *proc.Manager
	IRQTable   *irq.Table
	Dispatcher *syscall.Dispatcher
	Scheduler  *sched.Scheduler
	Console    *console.Console
	Log        *early.Logger
	Panicker   *kernel.Panicker

	Arch       arch.Arch
	Controller arch.InterruptController

	cpu CPU
}

// New wires a Kernel from a bootloader-supplied memory map and module list
// (spec §2 "Data flow": "bootloader → PFA init → ASM init → Heap init →
// Object pools init → process-subsystem init → syscall/scheduler init →
// module loader constructs user processes → scheduler starts"), constructing
// each in that order: pmm.New is PFA init, vmm.NewEngine is ASM init, then
// heap.New, then proc.NewManager's pools. The raw page-table adoption step is
// internal to vmm.NewEngine and proc.Manager's own address-space
// construction; New's job is strictly sequencing the subsystems above them.
func New(info boot.Info, a arch.Arch, controller arch.InterruptController, cfg Config) (*Kernel, *kernel.Error) {
	alloc, err := pmm.New(info)
	if err != nil {
		return nil, err
	}
	engine := vmm.NewEngine(alloc, a)
	kheap := heap.New(alloc)

	manager, err := proc.NewManager(alloc, engine, cfg.MaxThreads, cfg.MaxProcesses)
	if err != nil {
		return nil, err
	}

	idle, err := manager.NewThread(manager.Kernel, 0, 0, 0, cfg.IdleQuantum)
	if err != nil {
		return nil, err
	}
	idle.Flags |= proc.FlagIdle

	irqTable := irq.NewTable()
	cons := console.New()

	k := &Kernel{
		Config:     cfg,
		Alloc:      alloc,
		Engine:     engine,
		Heap:       kheap,
		Manager:    manager,
		IRQTable:   irqTable,
		Scheduler:  sched.New(idle),
		Console:    cons,
		Log:        early.New(cons),
		Arch:       a,
		Controller: controller,
	}
	k.Dispatcher = &syscall.Dispatcher{
		Manager:    manager,
		IRQTable:   irqTable,
		Controller: controller,
		Arch:       a,
		Console:    cons,
		Heap:       kheap,
	}
	k.Panicker = kernel.NewPanicker(k.Log, a)

	for _, mod := range info.Modules {
		if _, err := k.loadModule(mod); err != nil {
			return nil, err
		}
	}

	return k, nil
}

// LoadModule loads one additional bootloader-style module after New has
// already run, enqueueing its main thread. Used by hosts that stage modules
// incrementally rather than handing every one to New's boot.Info up front.
func (k *Kernel) LoadModule(mod boot.Module) (*proc.Process, *kernel.Error) {
	return k.loadModule(mod)
}

// loadModule is the shared body of New's boot-time module list and the
// public LoadModule: build the process via kernel/elf, insert a MemoryObject
// capability over the process's own raw image into its own table (spec §6's
// process_create names an "image_cap" argument, which has to come from
// somewhere — a process holding its own image can respawn or clone itself by
// passing this same slot back to process_create), and enqueue its main thread.
func (k *Kernel) loadModule(mod boot.Module) (*proc.Process, *kernel.Error) {
	p, err := elf.LoadModule(k.Manager, mod)
	if err != nil {
		return nil, err
	}
	if _, err := p.Capabilities.Insert(syscall.NewMemoryObject(mod.Data), capability.Read|capability.Write|capability.Execute); err != nil {
		return nil, err
	}
	k.Log.Printf("kmain: loaded module %q as pid %d, %d thread(s)\n", mod.Name, p.PID, len(p.Threads))
	for _, t := range p.Threads {
		k.Scheduler.Enqueue(t)
	}
	return p, nil
}

// applyOutcome walks the wake chain a Dispatch or Resume call produced
// (spec §4.11's Outcome.Woken protocol): every woken thread has its own
// blocked syscall completed via Resume, and — unless that thread exited,
// immediately re-blocked on something else, or its process was destroyed
// out from under it — is moved back onto the run queue. Resume can itself
// report further woken threads (a reply delivery waking a call's original
// sender, say), so the walk recurses rather than assuming one level of
// fanout. The zombie check is defense in depth alongside proc.Thread.Cancel
// tearing down wait-queue membership on destroy: a thread with state=zombie
// must never reach the run queue (spec §8).
func (k *Kernel) applyOutcome(t *proc.Thread, o syscall.Outcome) {
	for _, w := range o.Woken {
		wo := k.Dispatcher.Resume(w)
		k.applyOutcome(w, wo)
		if !wo.Exited && !wo.Blocked && w.State != proc.ThreadZombie {
			k.Scheduler.Enqueue(w)
		}
	}
}

// HandleSyscall runs t's trapped syscall to completion or to its first
// block point, applies any wake chain it produced, and reports whether t
// itself remains runnable right now (false if it blocked or exited). The
// dispatch and its wake-chain walk run with interrupts disabled (spec §5),
// since both touch capability tables, wait queues and the run queue that an
// interrupt handler could otherwise observe half-updated.
func (k *Kernel) HandleSyscall(t *proc.Thread, frame *arch.TrapFrame) bool {
	var o syscall.Outcome
	ksync.CriticalSection(k.Arch, func() {
		o = k.Dispatcher.Dispatch(t, frame)
		k.applyOutcome(t, o)
	})
	return !o.Blocked && !o.Exited
}

// HandleIRQ implements the in-kernel interrupt entry's IRQ half (spec
// §4.10): look up the delivery target, complete its parked irq_wait, and
// fold in any resulting wake chain. Returns the woken thread, which is
// already back on the run queue unless its resumed syscall blocked again
// or exited, or nil if nothing was waiting.
func (k *Kernel) HandleIRQ(number uint8) *proc.Thread {
	var t *proc.Thread
	ksync.CriticalSection(k.Arch, func() {
		woken := k.IRQTable.Deliver(k.Controller, number)
		var ok bool
		t, ok = woken.(*proc.Thread)
		if !ok {
			return
		}
		wo := k.Dispatcher.Resume(t)
		k.applyOutcome(t, wo)
		if !wo.Exited && !wo.Blocked {
			k.Scheduler.Enqueue(t)
		}
	})
	return t
}

// isUserMode reports whether a trapped context was executing at ring 3, via
// the CS selector's requested privilege level (its low two bits).
func isUserMode(cs uint16) bool { return cs&0x3 == 3 }

// HandleFault implements spec §7's exception policy for a trap that is not
// itself the syscall vector: a user-mode exception is logged, its whole
// process (every thread) is zombified with exit code -1, and the caller is
// left to reschedule — exactly like a thread that called process_exit
// itself. A kernel-mode exception (CS.RPL == 0, including an unhandled page
// fault while running kernel code) is unrecoverable on a single-CPU system,
// so it goes straight to Panicker instead of returning.
func (k *Kernel) HandleFault(t *proc.Thread, frame *arch.TrapFrame) {
	ksync.CriticalSection(k.Arch, func() {
		exc := arch.Exception(frame.Vector)
		if !isUserMode(frame.CS) {
			k.Panicker.Panic(&kernel.Error{
				Module:  "fault",
				Message: fmt.Sprintf("unhandled kernel-mode %s (vector %d, error code %#x)", exc, frame.Vector, frame.ErrorCode),
			})
			return
		}
		k.Log.Printf("fault: pid %d tid %d hit %s (vector %d, error code %#x); process zombified\n",
			t.Process.PID, t.TID, exc, frame.Vector, frame.ErrorCode)
		k.Manager.DestroyProcess(t.Process, -1)
	})
}

// Tick advances the currently running thread's accounting by delta ticks
// (spec §4.6 "Ordering") and reports whether it should now be preempted.
func (k *Kernel) Tick(delta uint64) bool {
	var preempt bool
	ksync.CriticalSection(k.Arch, func() {
		k.Scheduler.Tick(delta)
		preempt = k.Scheduler.ShouldPreempt()
	})
	return preempt
}

// Schedule performs one pick (spec §4.6 "Picking"), reinserting the
// outgoing thread if it is still runnable, and records the result as the
// CPU's new current thread. runnable is the caller's judgment of the
// outgoing thread's lifecycle state (not runnable once blocked or zombie).
// When the pick actually changes who is running, it drives the same
// arch.Arch calls a real backend needs: SwitchContext between the two
// threads' saved contexts (design decision #4, resolving the "TSS
// kernel-stack updates across syscall preemption" Open Question) and
// SetKernelStack so a later trap into the newly current thread lands on its
// own kernel stack rather than its predecessor's. If the newly picked
// thread belongs to a different process than the one that was running,
// LoadPageTableRoot writes the new process's root to CR3, implicitly
// flushing the whole TLB (spec §4.2: "switching address spaces writes CR3").
func (k *Kernel) Schedule(runnable bool) *proc.Thread {
	var t *proc.Thread
	ksync.CriticalSection(k.Arch, func() {
		var outgoing sched.Schedulable
		outgoingThread := k.cpu.Current
		if outgoingThread != nil {
			outgoing = outgoingThread
		}
		next := k.Scheduler.Schedule(outgoing, runnable)
		t, _ = asThread(next)
		if t != nil && t != outgoingThread {
			var oldCtx *arch.Context
			if outgoingThread != nil {
				oldCtx = outgoingThread.SavedCtx
			}
			if outgoingThread == nil || t.Process != outgoingThread.Process {
				k.Arch.LoadPageTableRoot(t.Process.AddressSpace.Root().Address())
			}
			k.Arch.SwitchContext(oldCtx, t.SavedCtx)
			k.Arch.SetKernelStack(t.KernelStackTop())
		}
		k.cpu.Current = t
	})
	return t
}

// Current returns the thread the CPU is presently running, or nil before
// the first Schedule call.
func (k *Kernel) Current() *proc.Thread { return k.cpu.Current }

func asThread(s sched.Schedulable) (*proc.Thread, bool) {
	if s == nil {
		return nil, false
	}
	t, ok := s.(*proc.Thread)
	return t, ok && t != nil
}
