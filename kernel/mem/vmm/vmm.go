// Package vmm implements the page-table engine and address-space manager
// (spec §4.2, §4.3): a 4-level x86-64 page table walker and a per-process
// region tracker that enforces W^X at region-add time.
//
// The teacher (kernel/mem/vmm) drives page tables through recursive virtual
// mappings and unsafe.Pointer casts over real physical memory, because it
// runs freestanding before a Go allocator exists. This core is hosted:
// page-table frames are simulated bytes owned by a pmm.Allocator, so the
// walker reads and writes 8-byte little-endian entries with encoding/binary
// instead of unsafe pointer arithmetic, and root activation/TLB
// invalidation goes through arch.Arch rather than assembly stubs.
package vmm

import (
	"encoding/binary"

	"github.com/HTRMC/Graphene-Kernel/kernel"
	"github.com/HTRMC/Graphene-Kernel/kernel/mem"
	"github.com/HTRMC/Graphene-Kernel/kernel/mem/pmm"
)

// Page describes a virtual memory page index (grounded on the teacher's
// kernel/mem/vmm/page.go).
type Page uintptr

// Address returns the virtual address at the start of the page.
func (p Page) Address() uintptr { return uintptr(p) << mem.PageShift }

// PageFromAddress returns the Page containing virtAddr, rounding down if it
// is not page-aligned.
func PageFromAddress(virtAddr uintptr) Page {
	return Page(mem.AlignDown(virtAddr) >> mem.PageShift)
}

const pageLevels = 4

// pageLevelShifts holds the bit offset of the index for each of the four
// paging levels (PML4, PDPT, PD, PT), matching the standard amd64 4-level
// scheme.
var pageLevelShifts = [pageLevels]uint{39, 30, 21, 12}

const pageLevelIndexMask = 0x1FF

func pageIndex(page Page, level int) int {
	return int((uintptr(page) << mem.PageShift) >> pageLevelShifts[level] & pageLevelIndexMask)
}

var (
	errNotMapped = &kernel.Error{Module: "vmm", Message: "address not mapped"}
)

// ErrNotMapped is returned by Translate, GetFlags and UpdateFlags for a
// virtual address with no mapping at the leaf level. Unmap treats such an
// address as a no-op and returns nil.
var ErrNotMapped = errNotMapped

// ErrAlreadyMapped is returned by Map when the leaf page already has a
// mapping; use MapForce to overwrite it regardless (spec §4.2 "map returns
// AlreadyMapped if the leaf is already present").
var ErrAlreadyMapped = &kernel.Error{Module: "vmm", Message: "page already mapped"}

func readEntry(b []byte, idx int) pageTableEntry {
	return pageTableEntry(binary.LittleEndian.Uint64(b[idx*8 : idx*8+8]))
}

func writeEntry(b []byte, idx int, e pageTableEntry) {
	binary.LittleEndian.PutUint64(b[idx*8:idx*8+8], uint64(e))
}

func zeroFrame(alloc *pmm.Allocator, f pmm.Frame) {
	b := alloc.FrameBytes(f)
	for i := range b {
		b[i] = 0
	}
}
