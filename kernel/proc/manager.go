package proc

import (
	"github.com/HTRMC/Graphene-Kernel/kernel"
	"github.com/HTRMC/Graphene-Kernel/kernel/arch"
	"github.com/HTRMC/Graphene-Kernel/kernel/capability"
	"github.com/HTRMC/Graphene-Kernel/kernel/mem"
	"github.com/HTRMC/Graphene-Kernel/kernel/mem/pmm"
	"github.com/HTRMC/Graphene-Kernel/kernel/mem/vmm"
	"github.com/HTRMC/Graphene-Kernel/kernel/obj"
	"github.com/HTRMC/Graphene-Kernel/kernel/sched"
)

var (
	// ErrThreadLimit is returned when a process's owned thread set is at MaxThreadsPerProcess.
	ErrThreadLimit = &kernel.Error{Module: "proc", Message: "process thread limit reached"}
	// ErrNoKernelProcess is returned if a Manager operation runs before the kernel process exists.
	ErrNoKernelProcess = &kernel.Error{Module: "proc", Message: "kernel process not yet initialized"}
)

// stackFrames is the number of contiguous physical frames backing one
// thread's kernel stack.
var stackFrames = uint64(KernelStackSize / int(mem.PageSize))

// Manager owns the finite pools every process and thread comes from (spec
// §9 "Pool sizing": 256 threads, 64 processes are the suggested defaults)
// plus the identity counters and the well-known kernel process (PID 0)
// that dying processes reparent to (spec §4.7 "Destruction").
type Manager struct {
	alloc  *pmm.Allocator
	engine *vmm.Engine

	threads   *obj.Pool[Thread]
	processes *obj.Pool[Process]

	nextTID int
	nextPID int

	Kernel *Process
}

// NewManager builds a Manager and its kernel process. maxThreads and
// maxProcesses size the backing pools (design parameters, spec §9).
func NewManager(alloc *pmm.Allocator, engine *vmm.Engine, maxThreads, maxProcesses int) (*Manager, *kernel.Error) {
	m := &Manager{
		alloc:     alloc,
		engine:    engine,
		threads:   obj.NewPool[Thread](maxThreads),
		processes: obj.NewPool[Process](maxProcesses),
	}
	kern, err := m.newProcessLocked("kernel", nil, FlagKernelProcess)
	if err != nil {
		return nil, err
	}
	kern.PID = KernelPID
	m.Kernel = kern
	return m, nil
}

// newProcessLocked builds a process struct without requiring m.Kernel to
// already exist, used once by NewManager to create the kernel process
// itself; every other caller goes through NewProcess.
func (m *Manager) newProcessLocked(name string, parent *Process, flags ProcessFlag) (*Process, *kernel.Error) {
	if len(name) > MaxNameLen {
		name = name[:MaxNameLen]
	}
	slot, p, err := m.processes.Acquire()
	if err != nil {
		return nil, err
	}
	as, err := vmm.NewAddressSpace(m.engine, m.alloc)
	if err != nil {
		m.processes.Release(slot)
		return nil, err
	}
	*p = Process{
		Hdr:          obj.Header{Type: obj.TypeProcess},
		slot:         slot,
		PID:          m.nextPID,
		Name:         name,
		State:        ProcessRunning,
		AddressSpace: as,
		Capabilities: capability.New(),
		Flags:        flags,
	}
	m.nextPID++
	if parent != nil {
		parent.addChild(p)
	}
	return p, nil
}

// Allocator returns the frame allocator backing this Manager's address
// spaces and kernel stacks, for callers (the module loader) that need to
// write physical frame contents directly.
func (m *Manager) Allocator() *pmm.Allocator { return m.alloc }

// NewProcess implements process_create (spec §4.7 "Process creation"):
// allocate a process struct, construct its address space and capability
// table, and link it to parent (defaulting to the kernel process).
func (m *Manager) NewProcess(name string, parent *Process, flags ProcessFlag) (*Process, *kernel.Error) {
	if parent == nil {
		if m.Kernel == nil {
			return nil, ErrNoKernelProcess
		}
		parent = m.Kernel
	}
	return m.newProcessLocked(name, parent, flags)
}

// NewThread implements thread_create (spec §3 "Thread", §4.7): allocates a
// control block, a 16 KiB kernel stack, and registers it with owner.
func (m *Manager) NewThread(owner *Process, entry uintptr, arg uint64, nice int8, quantum uint64) (*Thread, *kernel.Error) {
	if len(owner.Threads) >= MaxThreadsPerProcess {
		return nil, ErrThreadLimit
	}
	frame, err := m.alloc.AllocFrames(stackFrames)
	if err != nil {
		return nil, err
	}
	slot, t, err := m.threads.Acquire()
	if err != nil {
		m.alloc.FreeFrameRun(frame, stackFrames)
		return nil, err
	}
	*t = Thread{
		Hdr:         obj.Header{Type: obj.TypeThread},
		slot:        slot,
		Entity:      sched.Entity{Nice: nice, Quantum: quantum, RemainingSlice: quantum},
		TID:         m.nextTID,
		State:       ThreadReady,
		Process:     owner,
		KernelStack: m.alloc.BytesAt(frame.Address(), KernelStackSize),
		kstackFrame: frame,
		EntryAddr:   entry,
		InitialArg:  arg,
		ReplySlot:   -1,
	}
	// SavedCtx starts out as the "initial saved-context" arch.Context itself
	// documents: a stack pointer at the top of the freshly allocated kernel
	// stack and nothing switched into yet, so the first SwitchContext onto
	// this thread is the one-way "load context" case (nil old).
	t.SavedCtx = &arch.Context{SP: t.KernelStackTop(), Arg: arg}
	if owner.Flags&FlagKernelProcess != 0 {
		t.Flags |= FlagKernelThread
	}
	m.nextTID++
	if !owner.addThread(t) {
		// Unreachable: the length check above already guarantees room, but
		// stay defensive against future callers of addThread bypassing it.
		m.threads.Release(slot)
		m.alloc.FreeFrameRun(frame, stackFrames)
		return nil, ErrThreadLimit
	}
	return t, nil
}

// destroyThread reclaims a single thread's resources and returns it to the pool.
func (m *Manager) destroyThread(t *Thread) {
	if t.Cancel != nil {
		t.Cancel()
		t.Cancel = nil
	}
	t.State = ThreadZombie
	m.alloc.FreeFrameRun(t.kstackFrame, stackFrames)
	m.threads.Release(t.slot)
}

// ExitThread implements thread_exit (spec §6 "thread_exit"): marks t zombie
// and reclaims its kernel stack. t stays in its process's thread list until
// the whole process is destroyed; the scheduler is responsible for never
// picking a zombie thread again.
func (m *Manager) ExitThread(t *Thread) {
	m.destroyThread(t)
}

// DestroyProcess implements process destruction (spec §4.7): mark every
// thread zombie, reparent children to the kernel process, destroy the
// capability table (unref every slot) and address space, and return the
// process (and its threads) to their pools.
func (m *Manager) DestroyProcess(p *Process, exitCode int) {
	p.State = ProcessZombie
	p.ExitCode = exitCode

	for _, t := range p.Threads {
		m.destroyThread(t)
	}
	p.Threads = nil

	for _, c := range p.Children {
		c.Parent = m.Kernel
		if m.Kernel != nil {
			m.Kernel.Children = append(m.Kernel.Children, c)
		}
	}
	p.Children = nil

	if p.Capabilities != nil {
		for i := 0; i < capability.Capacity; i++ {
			if p.Capabilities.InUse(i) {
				p.Capabilities.Delete(i)
			}
		}
	}

	if p.AddressSpace != nil {
		p.AddressSpace.Destroy()
	}

	if p.Parent != nil {
		p.Parent.removeChild(p)
	}

	m.processes.Release(p.slot)
}
