// Package arch defines the narrow seam between the portable kernel core and
// architecture-specific machinery: context switching, ring transitions, port
// I/O, TLB/CR3 management and interrupt-controller EOI. Every method the
// portable core needs from the hardware is expressed as an interface here so
// that the exact same call sequence a real x86_64 backend would drive can be
// exercised, deterministically, by the in-process Sim implementation.
package arch

// Context is an opaque saved-execution-state token. The portable core never
// inspects its fields; it only threads Context values through SwitchContext.
type Context struct {
	// SP is the saved stack pointer within the owning thread's kernel
	// stack buffer.
	SP uintptr

	// Entry and Arg record the trampoline target for a context that has
	// never been switched into, mirroring the "initial saved-context"
	// construction described for thread creation.
	Entry func(arg uint64)
	Arg   uint64
}

// Arch is the hardware-facing interface the portable kernel core calls
// through. A real backend implements it with inline assembly stubs; Sim
// implements it entirely in Go for hosted testing.
type Arch interface {
	// EnableInterrupts and DisableInterrupts toggle the CPU's interrupt
	// flag. DisableInterrupts is used to protect the run queue, wait
	// queues and pool bitmaps, which are never accessed concurrently on
	// this single-CPU design.
	EnableInterrupts()
	DisableInterrupts()
	InterruptsEnabled() bool

	// Halt stops instruction execution until the next interrupt. Used by
	// the idle thread and by kernel panics.
	Halt()

	// SwitchContext performs a callee-saved context switch from old to
	// new. A nil old performs the one-way "load context" used for the
	// very first switch.
	SwitchContext(old, new *Context)

	// EnterUser transitions to ring 3 at the given entry point and user
	// stack pointer, passing arg in the ABI-standard argument register.
	// It never returns on a real backend; Sim records the transition and
	// returns so tests can assert on it.
	EnterUser(ip, sp uintptr, arg uint64)

	// SetKernelStack updates the task-state-segment's ring-0 stack
	// pointer, consulted whenever a ring-3 thread traps back into the
	// kernel.
	SetKernelStack(sp uintptr)

	// InvalidatePage flushes a single TLB entry.
	InvalidatePage(vaddr uintptr)

	// LoadPageTableRoot writes the root page-table's physical address to
	// CR3, implicitly flushing the entire TLB.
	LoadPageTableRoot(root uintptr)

	// ActivePageTableRoot returns the physical address of the
	// currently-loaded page-table root.
	ActivePageTableRoot() uintptr

	// InPort and OutPort perform port-mapped I/O of the given width in
	// bytes (1, 2 or 4).
	InPort(port uint16, width int) (uint32, error)
	OutPort(port uint16, val uint32, width int) error
}

// Exception enumerates the closed set of x86 exception vectors the core
// requires handlers for.
type Exception uint8

// Exception vectors, matching the x86 architectural assignment.
const (
	ExDivide             Exception = 0
	ExDebug              Exception = 1
	ExNMI                Exception = 2
	ExBreakpoint         Exception = 3
	ExOverflow           Exception = 4
	ExBoundRange         Exception = 5
	ExInvalidOpcode      Exception = 6
	ExDeviceNotAvailable Exception = 7
	ExDoubleFault        Exception = 8
	ExInvalidTSS         Exception = 10
	ExSegmentNotPresent  Exception = 11
	ExStackFault         Exception = 12
	ExGeneralProtection  Exception = 13
	ExPageFault          Exception = 14
	ExAlignmentCheck     Exception = 17
	ExMachineCheck       Exception = 18
	ExSIMDFloatingPoint  Exception = 19
	ExVirtualization     Exception = 20
	ExControlProtection  Exception = 21
)

// String names the exception, for panic messages and fault logging. Vectors
// outside the closed set spec §6 names (reserved/Intel-future vectors) all
// render as "reserved exception", without the vector number, rather than
// panicking on an unknown value.
func (e Exception) String() string {
	switch e {
	case ExDivide:
		return "divide error"
	case ExDebug:
		return "debug exception"
	case ExNMI:
		return "non-maskable interrupt"
	case ExBreakpoint:
		return "breakpoint"
	case ExOverflow:
		return "overflow"
	case ExBoundRange:
		return "bound range exceeded"
	case ExInvalidOpcode:
		return "invalid opcode"
	case ExDeviceNotAvailable:
		return "device not available"
	case ExDoubleFault:
		return "double fault"
	case ExInvalidTSS:
		return "invalid TSS"
	case ExSegmentNotPresent:
		return "segment not present"
	case ExStackFault:
		return "stack fault"
	case ExGeneralProtection:
		return "general protection fault"
	case ExPageFault:
		return "page fault"
	case ExAlignmentCheck:
		return "alignment check"
	case ExMachineCheck:
		return "machine check"
	case ExSIMDFloatingPoint:
		return "SIMD floating point exception"
	case ExVirtualization:
		return "virtualization exception"
	case ExControlProtection:
		return "control protection exception"
	default:
		return "reserved exception"
	}
}

// SyscallVector is the single software-interrupt vector registered DPL=3 for
// the syscall ABI.
const SyscallVector = 0x80

// TrapFrame is the uniform frame pushed by the hardware plus the entry stub
// for every exception, IRQ and syscall trap.
type TrapFrame struct {
	// GPRs holds the general purpose registers pushed by the entry stub,
	// indexed by Reg.
	GPRs [16]uint64

	Vector    uint8
	ErrorCode uint64

	// Saved user (or kernel, for a kernel-mode fault) execution state.
	RIP    uintptr
	CS     uint16
	RFlags uint64
	RSP    uintptr
	SS     uint16
}

// Reg indexes TrapFrame.GPRs using the syscall ABI's argument ordering.
type Reg int

// Register slots, following the System V AMD64 argument order used by the
// syscall ABI: return value/request number, then six arguments.
const (
	RegReturn Reg = iota
	RegArg0
	RegArg1
	RegArg2
	RegArg3
	RegArg4
	RegArg5
)

// InterruptController is the two alternative EOI-capable controller
// abstractions the core can be wired against: a legacy master/slave 8259 PIC
// pair, or a local APIC.
type InterruptController interface {
	Mask(irq uint8)
	Unmask(irq uint8)
	EOI(irq uint8)
}
