package irq

import "github.com/HTRMC/Graphene-Kernel/kernel/arch"

// 8259 PIC command and data port assignments (master at 0x20/0x21, slave
// cascaded through the master's line 2 at 0xA0/0xA1) and the non-specific
// EOI command byte, per the standard PC/AT wiring.
const (
	picMasterCommand = 0x20
	picMasterData    = 0x21
	picSlaveCommand  = 0xA0
	picSlaveData     = 0xA1

	picEOI = 0x20
)

// LegacyPIC drives a master+slave 8259 pair through port-mapped I/O (spec
// §4.15's "legacy ... controller programming", the first of the two
// alternative arch.InterruptController backends). Lines 0-7 belong to the
// master, 8-15 to the slave; masking and unmasking only ever touches the
// owning controller's data port, but a slave line's EOI must also be
// acknowledged at the master, since the master only knows the slave exists
// as "something on line 2".
type LegacyPIC struct {
	port arch.Arch

	masterMask uint8
	slaveMask  uint8
}

// NewLegacyPIC returns a LegacyPIC with every line masked, matching the
// state a kernel finds the pair in immediately after the BIOS/bootloader
// remap sequence and before any driver has asked for a specific line.
func NewLegacyPIC(a arch.Arch) *LegacyPIC {
	p := &LegacyPIC{port: a, masterMask: 0xff, slaveMask: 0xff}
	p.port.OutPort(picMasterData, uint32(p.masterMask), 1)
	p.port.OutPort(picSlaveData, uint32(p.slaveMask), 1)
	return p
}

// Mask disables delivery of a single line by setting its bit in the owning
// controller's interrupt mask register.
func (p *LegacyPIC) Mask(irqNum uint8) {
	if irqNum < 8 {
		p.masterMask |= 1 << irqNum
		p.port.OutPort(picMasterData, uint32(p.masterMask), 1)
		return
	}
	p.slaveMask |= 1 << (irqNum - 8)
	p.port.OutPort(picSlaveData, uint32(p.slaveMask), 1)
}

// Unmask re-enables a single line.
func (p *LegacyPIC) Unmask(irqNum uint8) {
	if irqNum < 8 {
		p.masterMask &^= 1 << irqNum
		p.port.OutPort(picMasterData, uint32(p.masterMask), 1)
		return
	}
	p.slaveMask &^= 1 << (irqNum - 8)
	p.port.OutPort(picSlaveData, uint32(p.slaveMask), 1)
}

// EOI sends the non-specific end-of-interrupt command. A line on the slave
// needs the command sent to both controllers, since the master's own
// in-service bit for the cascade line is never cleared otherwise.
func (p *LegacyPIC) EOI(irqNum uint8) {
	if irqNum >= 8 {
		p.port.OutPort(picSlaveCommand, picEOI, 1)
	}
	p.port.OutPort(picMasterCommand, picEOI, 1)
}

// Masked reports whether irqNum is currently masked at its owning controller.
func (p *LegacyPIC) Masked(irqNum uint8) bool {
	if irqNum < 8 {
		return p.masterMask&(1<<irqNum) != 0
	}
	return p.slaveMask&(1<<(irqNum-8)) != 0
}

var _ arch.InterruptController = (*LegacyPIC)(nil)

// LocalAPIC models the second of the two alternative arch.InterruptController
// backends (spec §4.15): a single per-CPU controller with one mask bit per
// line and one EOI register. A real local APIC's registers are memory-mapped
// at a fixed physical address rather than port-mapped, which sits outside
// the port-I/O-only seam arch.Arch exposes (spec §9 "Assembly seams"); this
// type tracks the same state a memory-mapped write would produce so
// kernel/irq's call sequence into it is identical regardless of which
// controller backs it. EOI ignores its argument because a real local APIC's
// EOI register acknowledges whatever vector is highest in the in-service
// register, not the one named by the write.
type LocalAPIC struct {
	masked   uint16
	eoiCount int
}

// NewLocalAPIC returns a LocalAPIC with every line masked.
func NewLocalAPIC() *LocalAPIC {
	return &LocalAPIC{masked: 0xffff}
}

func (a *LocalAPIC) Mask(irqNum uint8)   { a.masked |= 1 << irqNum }
func (a *LocalAPIC) Unmask(irqNum uint8) { a.masked &^= 1 << irqNum }
func (a *LocalAPIC) EOI(uint8)           { a.eoiCount++ }

// Masked reports whether irqNum is currently masked.
func (a *LocalAPIC) Masked(irqNum uint8) bool { return a.masked&(1<<irqNum) != 0 }

// EOICount reports how many EOI writes have been issued, for tests that
// need to confirm one happened without caring which vector it named.
func (a *LocalAPIC) EOICount() int { return a.eoiCount }

var _ arch.InterruptController = (*LocalAPIC)(nil)
