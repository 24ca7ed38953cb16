package proc

import (
	"testing"

	"github.com/HTRMC/Graphene-Kernel/kernel/arch"
	"github.com/HTRMC/Graphene-Kernel/kernel/boot"
	"github.com/HTRMC/Graphene-Kernel/kernel/mem/pmm"
	"github.com/HTRMC/Graphene-Kernel/kernel/mem/vmm"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	info := boot.Info{
		MemoryMap: []boot.MemoryRegion{
			{PhysAddr: 0, Length: 0x100000, Type: boot.RegionReserved},
			{PhysAddr: 0x100000, Length: 0x8000000 - 0x100000, Type: boot.RegionUsable},
		},
	}
	alloc, err := pmm.New(info)
	if err != nil {
		t.Fatalf("unexpected error building allocator: %v", err)
	}
	engine := vmm.NewEngine(alloc, arch.NewSim())
	m, kerr := NewManager(alloc, engine, 64, 16)
	if kerr != nil {
		t.Fatalf("unexpected error building manager: %v", kerr)
	}
	return m
}

func TestNewManagerCreatesKernelProcess(t *testing.T) {
	m := testManager(t)
	if m.Kernel == nil {
		t.Fatal("expected a kernel process to exist")
	}
	if m.Kernel.PID != KernelPID {
		t.Fatalf("expected kernel process PID %d, got %d", KernelPID, m.Kernel.PID)
	}
	if m.Kernel.Flags&FlagKernelProcess == 0 {
		t.Fatal("expected the kernel process to carry FlagKernelProcess")
	}
}

func TestNewProcessDefaultsParentToKernel(t *testing.T) {
	m := testManager(t)
	p, err := m.NewProcess("child", nil, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Parent != m.Kernel {
		t.Fatal("expected a process with no explicit parent to be reparented to the kernel process")
	}
	if p.AddressSpace == nil || p.Capabilities == nil {
		t.Fatal("expected process creation to construct an address space and capability table")
	}
	found := false
	for _, c := range m.Kernel.Children {
		if c == p {
			found = true
		}
	}
	if !found {
		t.Fatal("expected the kernel process to list the new process as a child")
	}
}

func TestNewThreadAllocatesKernelStack(t *testing.T) {
	m := testManager(t)
	p, _ := m.NewProcess("proc", nil, 0)

	th, err := m.NewThread(p, 0x400000, 42, 0, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(th.KernelStack) != KernelStackSize {
		t.Fatalf("expected a %d-byte kernel stack, got %d", KernelStackSize, len(th.KernelStack))
	}
	if th.Process != p {
		t.Fatal("expected the thread's process pointer to be set")
	}
	if len(p.Threads) != 1 || p.Threads[0] != th {
		t.Fatal("expected the process to own the new thread")
	}
	if th.State != ThreadReady {
		t.Fatal("expected a freshly created thread to start ready")
	}
	if th.SavedCtx == nil {
		t.Fatal("expected a freshly created thread to have an initial saved context")
	}
	if th.SavedCtx.SP != th.KernelStackTop() {
		t.Fatalf("expected the initial saved SP to equal the kernel stack top, got %#x want %#x", th.SavedCtx.SP, th.KernelStackTop())
	}
	if th.SavedCtx.Arg != 42 {
		t.Fatalf("expected the initial saved context to carry the thread's argument, got %d", th.SavedCtx.Arg)
	}
}

func TestNewThreadEnforcesPerProcessLimit(t *testing.T) {
	m := testManager(t)
	p, _ := m.NewProcess("proc", nil, 0)

	for i := 0; i < MaxThreadsPerProcess; i++ {
		if _, err := m.NewThread(p, 0x400000, 0, 0, 10); err != nil {
			t.Fatalf("unexpected error creating thread %d: %v", i, err)
		}
	}
	if _, err := m.NewThread(p, 0x400000, 0, 0, 10); err != ErrThreadLimit {
		t.Fatalf("expected ErrThreadLimit at the 65th thread, got %v", err)
	}
}

func TestDestroyProcessZombiesThreads(t *testing.T) {
	m := testManager(t)
	p, _ := m.NewProcess("proc", nil, 0)
	th, _ := m.NewThread(p, 0x400000, 0, 0, 10)

	m.DestroyProcess(p, -1)

	if th.State != ThreadZombie {
		t.Fatalf("expected the thread to become zombie, got %v", th.State)
	}
	if p.State != ProcessZombie {
		t.Fatalf("expected the process to become zombie, got %v", p.State)
	}
	if p.ExitCode != -1 {
		t.Fatalf("expected exit code -1, got %d", p.ExitCode)
	}
	for _, c := range m.Kernel.Children {
		if c == p {
			t.Fatal("expected the destroyed process to be unlinked from its parent")
		}
	}
}

func TestDestroyProcessReparentsChildrenToKernel(t *testing.T) {
	m := testManager(t)
	parent, _ := m.NewProcess("parent", nil, 0)
	child, _ := m.NewProcess("child", parent, 0)

	m.DestroyProcess(parent, 0)

	if child.Parent != m.Kernel {
		t.Fatalf("expected the child to be reparented to the kernel process, got %v", child.Parent)
	}
	found := false
	for _, c := range m.Kernel.Children {
		if c == child {
			found = true
		}
	}
	if !found {
		t.Fatal("expected the kernel process to list the reparented child")
	}
}

// TestDestroyProcessReturnsSlotsToPools guards against pool exhaustion: if
// DestroyProcess/destroyThread ever stopped releasing the process/thread
// pool slots they acquired, this loop would fail with ErrPoolExhausted well
// before running twice the pool's capacity worth of create+destroy cycles.
func TestDestroyProcessReturnsSlotsToPools(t *testing.T) {
	m := testManager(t)

	for i := 0; i < m.processes.Capacity()*2; i++ {
		p, err := m.NewProcess("proc", nil, 0)
		if err != nil {
			t.Fatalf("iteration %d: unexpected error creating process: %v", i, err)
		}
		if _, err := m.NewThread(p, 0x400000, 0, 0, 10); err != nil {
			t.Fatalf("iteration %d: unexpected error creating thread: %v", i, err)
		}
		m.DestroyProcess(p, 0)
	}
}

func TestDestroyProcessUnrefsCapabilities(t *testing.T) {
	m := testManager(t)
	p, _ := m.NewProcess("proc", nil, 0)
	th, _ := m.NewThread(p, 0x400000, 0, 0, 10)

	slot, err := p.Capabilities.Insert(th, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if th.Hdr.Refcount != 1 {
		t.Fatalf("expected inserting a capability to ref the thread, got refcount %d", th.Hdr.Refcount)
	}

	m.DestroyProcess(p, 0)

	if th.Hdr.Refcount != 0 {
		t.Fatalf("expected destroying the process to unref its capabilities, got refcount %d", th.Hdr.Refcount)
	}
	if p.Capabilities.InUse(slot) {
		t.Fatal("expected the capability slot to be cleared")
	}
}
