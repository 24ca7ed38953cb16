package proc

import (
	"github.com/HTRMC/Graphene-Kernel/kernel/capability"
	"github.com/HTRMC/Graphene-Kernel/kernel/mem/vmm"
	"github.com/HTRMC/Graphene-Kernel/kernel/obj"
)

// MaxNameLen is the largest a process's name may be (spec §3 "Process":
// "name (≤32 bytes)").
const MaxNameLen = 32

// MaxThreadsPerProcess bounds a process's owned thread set (spec §3
// "Process": "thread set (≤64)").
const MaxThreadsPerProcess = 64

// ProcessState is one of the states in a process's lifecycle (spec §3 "Process").
type ProcessState uint8

const (
	ProcessRunning ProcessState = iota
	ProcessStopped
	ProcessZombie
)

// ProcessFlag is a bit in Process.Flags (spec §3 "Process": "flags {kernel,
// init, driver}").
type ProcessFlag uint8

const (
	FlagKernelProcess ProcessFlag = 1 << iota
	FlagInit
	FlagDriver
)

// KernelPID is the reserved identity of the always-present kernel process
// (spec §4.7: "reparented to the kernel process (PID 0)").
const KernelPID = 0

// Process is a process control block (spec §3 "Process"). It owns its
// address space and capability table 1:1; destroying it destroys both.
type Process struct {
	Hdr obj.Header

	// slot is this process's index in Manager.processes, cached at
	// acquisition so DestroyProcess can return it to the pool.
	slot int

	PID   int
	Name  string
	State ProcessState

	AddressSpace *vmm.AddressSpace
	Capabilities *capability.Table

	Threads  []*Thread
	Parent   *Process // weak
	Children []*Process

	ExitCode int
	Flags    ProcessFlag
}

// Header satisfies capability.Object so a capability can reference a process.
func (p *Process) Header() *obj.Header { return &p.Hdr }

// addThread registers t as belonging to p, enforcing MaxThreadsPerProcess.
func (p *Process) addThread(t *Thread) bool {
	if len(p.Threads) >= MaxThreadsPerProcess {
		return false
	}
	p.Threads = append(p.Threads, t)
	t.Process = p
	return true
}

// removeThread unregisters t from p's thread set, if present.
func (p *Process) removeThread(t *Thread) {
	for i, cur := range p.Threads {
		if cur == t {
			p.Threads = append(p.Threads[:i], p.Threads[i+1:]...)
			return
		}
	}
}

// addChild links c under p as a parent, replacing any prior parent link.
func (p *Process) addChild(c *Process) {
	c.Parent = p
	p.Children = append(p.Children, c)
}

// removeChild unlinks c from p's children set, if present.
func (p *Process) removeChild(c *Process) {
	for i, cur := range p.Children {
		if cur == c {
			p.Children = append(p.Children[:i], p.Children[i+1:]...)
			return
		}
	}
}
