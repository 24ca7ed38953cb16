package arch

import "fmt"

// Sim is an in-process software model of Arch. It never executes real
// machine code; it records the calls the portable core makes to it so that
// tests can assert on the exact sequence a real backend would receive.
type Sim struct {
	interruptsEnabled bool
	halted            bool
	activeRoot        uintptr
	kernelStackTop    uintptr

	// ports models a 64K port-mapped I/O space.
	ports [1 << 16]uint32

	// SwitchCount and EnterUserCount record how many times the
	// corresponding methods were invoked, for test assertions.
	SwitchCount    int
	EnterUserCount int
	InvalidateLog  []uintptr

	lastEntered *Context
}

// NewSim returns a Sim with interrupts enabled, matching the state the core
// runs in outside of interrupt handlers (spec §5).
func NewSim() *Sim {
	return &Sim{interruptsEnabled: true}
}

func (s *Sim) EnableInterrupts()      { s.interruptsEnabled = true }
func (s *Sim) DisableInterrupts()     { s.interruptsEnabled = false }
func (s *Sim) InterruptsEnabled() bool { return s.interruptsEnabled }

// Halt marks the simulated CPU as halted. Halted is cleared by the next call
// to SwitchContext or EnterUser, mirroring a real halt being woken by an
// interrupt.
func (s *Sim) Halt() { s.halted = true }

// Halted reports whether the simulated CPU is currently halted.
func (s *Sim) Halted() bool { return s.halted }

func (s *Sim) SwitchContext(old, new *Context) {
	s.halted = false
	s.SwitchCount++
	s.lastEntered = new
}

func (s *Sim) EnterUser(ip, sp uintptr, arg uint64) {
	s.halted = false
	s.EnterUserCount++
}

func (s *Sim) SetKernelStack(sp uintptr) { s.kernelStackTop = sp }

// KernelStackTop returns the most recently installed kernel stack pointer.
func (s *Sim) KernelStackTop() uintptr { return s.kernelStackTop }

func (s *Sim) InvalidatePage(vaddr uintptr) {
	s.InvalidateLog = append(s.InvalidateLog, vaddr)
}

func (s *Sim) LoadPageTableRoot(root uintptr) { s.activeRoot = root }

func (s *Sim) ActivePageTableRoot() uintptr { return s.activeRoot }

func (s *Sim) InPort(port uint16, width int) (uint32, error) {
	if err := checkWidth(width); err != nil {
		return 0, err
	}
	return s.ports[port] & widthMask(width), nil
}

func (s *Sim) OutPort(port uint16, val uint32, width int) error {
	if err := checkWidth(width); err != nil {
		return err
	}
	s.ports[port] = val & widthMask(width)
	return nil
}

func checkWidth(width int) error {
	switch width {
	case 1, 2, 4:
		return nil
	default:
		return fmt.Errorf("arch: unsupported port width %d", width)
	}
}

func widthMask(width int) uint32 {
	switch width {
	case 1:
		return 0xff
	case 2:
		return 0xffff
	default:
		return 0xffffffff
	}
}

var _ Arch = (*Sim)(nil)

// SimController is an in-process software model of InterruptController,
// standing in for either of the two real controller abstractions (spec §1:
// "legacy/APIC controller programming"). It only records the calls made to
// it; a hosted test or the host simulator entrypoint asserts on Masked/EOId
// directly rather than observing any hardware side effect.
type SimController struct {
	masked map[uint8]bool
	EOId   []uint8
}

// NewSimController returns a controller with every line unmasked.
func NewSimController() *SimController {
	return &SimController{masked: make(map[uint8]bool)}
}

func (c *SimController) Mask(irq uint8)   { c.masked[irq] = true }
func (c *SimController) Unmask(irq uint8) { c.masked[irq] = false }
func (c *SimController) EOI(irq uint8)    { c.EOId = append(c.EOId, irq) }

// Masked reports whether irq is currently masked.
func (c *SimController) Masked(irq uint8) bool { return c.masked[irq] }

var _ InterruptController = (*SimController)(nil)
