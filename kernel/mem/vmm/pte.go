package vmm

import "github.com/HTRMC/Graphene-Kernel/kernel/mem/pmm"

// PageTableEntryFlag is a bit in a page table entry.
type PageTableEntryFlag uint64

// Page table entry flags (spec §4.2/§4.3 map to the standard amd64 layout).
const (
	FlagPresent PageTableEntryFlag = 1 << 0
	FlagRW      PageTableEntryFlag = 1 << 1
	FlagUser    PageTableEntryFlag = 1 << 2
	FlagGuard   PageTableEntryFlag = 1 << 9 // OS-available bit, marks guard pages
	FlagNX      PageTableEntryFlag = 1 << 63
)

// HasFlags reports whether f's bits are all set in the flag value.
func (f PageTableEntryFlag) HasFlags(g PageTableEntryFlag) bool {
	return f&g == g
}

// pteAddrMask covers the physical-frame-address bits of an entry (bits
// 12-51).
const pteAddrMask = 0x000ffffffffff000

type pageTableEntry uint64

func (e pageTableEntry) HasFlags(f PageTableEntryFlag) bool {
	return uint64(e)&uint64(f) == uint64(f)
}

func (e *pageTableEntry) SetFlags(f PageTableEntryFlag) { *e |= pageTableEntry(f) }

func (e *pageTableEntry) ClearFlags(f PageTableEntryFlag) { *e &^= pageTableEntry(f) }

func (e pageTableEntry) Frame() pmm.Frame {
	return pmm.FromAddress(uintptr(uint64(e) & pteAddrMask))
}

func (e *pageTableEntry) SetFrame(f pmm.Frame) {
	*e = (*e &^ pteAddrMask) | pageTableEntry(uint64(f.Address())&pteAddrMask)
}
