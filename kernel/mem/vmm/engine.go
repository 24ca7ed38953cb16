package vmm

import (
	"github.com/HTRMC/Graphene-Kernel/kernel"
	"github.com/HTRMC/Graphene-Kernel/kernel/arch"
	"github.com/HTRMC/Graphene-Kernel/kernel/mem/pmm"
)

// Engine walks and mutates 4-level x86-64 page tables backed by a
// pmm.Allocator's simulated physical memory. It has no notion of "the
// active" address space; callers pass the root frame of whichever address
// space they are operating on, generalizing the teacher's PageDirectoryTable
// (which distinguished the active PDT via a recursive mapping trick) to a
// plain data-driven walk.
type Engine struct {
	alloc      *pmm.Allocator
	arch       arch.Arch
	kernelRoot pmm.Frame
}

// NewEngine builds an Engine that allocates intermediate page-table frames
// from alloc and invalidates TLB entries through a. Every successful leaf
// change is followed by a single-address InvalidatePage (spec §4.2); a full
// flush only happens when a caller switches CR3 itself via
// arch.Arch.LoadPageTableRoot, which the engine never calls on the caller's
// behalf.
func NewEngine(alloc *pmm.Allocator, a arch.Arch) *Engine {
	return &Engine{alloc: alloc, arch: a, kernelRoot: pmm.InvalidFrame}
}

// SetKernelRoot designates root as the reference address space whose upper
// (kernel) half is copied into every new address space root by
// NewAddressSpaceRoot, implementing spec §4.3's "copies kernel upper half".
func (e *Engine) SetKernelRoot(root pmm.Frame) { e.kernelRoot = root }

// NewAddressSpaceRoot allocates and zeroes a new top-level page table,
// then copies the upper half (indices 256-511, the canonical kernel range)
// from the reference kernel root if one has been set.
func (e *Engine) NewAddressSpaceRoot() (pmm.Frame, *kernel.Error) {
	root, err := e.alloc.AllocFrame()
	if err != nil {
		return pmm.InvalidFrame, err
	}
	zeroFrame(e.alloc, root)

	if e.kernelRoot.IsValid() {
		kb := e.alloc.FrameBytes(e.kernelRoot)
		rb := e.alloc.FrameBytes(root)
		for idx := 256; idx < 512; idx++ {
			writeEntry(rb, idx, readEntry(kb, idx))
		}
	}
	return root, nil
}

// Map installs a mapping from page to frame in the address space rooted at
// root, allocating any missing intermediate tables along the way. It fails
// with ErrAlreadyMapped if page already has a leaf mapping; use MapForce to
// overwrite one on purpose (spec §4.2 "map" vs "map_force").
func (e *Engine) Map(root pmm.Frame, page Page, frame pmm.Frame, flags PageTableEntryFlag) *kernel.Error {
	if table, ok := e.walkToLeafTable(root, page); ok {
		idx := pageIndex(page, pageLevels-1)
		if readEntry(e.alloc.FrameBytes(table), idx).HasFlags(FlagPresent) {
			return ErrAlreadyMapped
		}
	}
	return e.mapLeaf(root, page, frame, flags)
}

// MapForce installs a mapping from page to frame regardless of whether page
// already has one, overwriting any existing leaf entry (spec §4.2
// "map_force").
func (e *Engine) MapForce(root pmm.Frame, page Page, frame pmm.Frame, flags PageTableEntryFlag) *kernel.Error {
	return e.mapLeaf(root, page, frame, flags)
}

func (e *Engine) mapLeaf(root pmm.Frame, page Page, frame pmm.Frame, flags PageTableEntryFlag) *kernel.Error {
	table := root
	for level := 0; level < pageLevels-1; level++ {
		idx := pageIndex(page, level)
		b := e.alloc.FrameBytes(table)
		entry := readEntry(b, idx)
		if !entry.HasFlags(FlagPresent) {
			next, err := e.alloc.AllocFrame()
			if err != nil {
				return err
			}
			zeroFrame(e.alloc, next)
			entry = 0
			entry.SetFlags(FlagPresent | FlagRW | FlagUser)
			entry.SetFrame(next)
			writeEntry(b, idx, entry)
		}
		table = entry.Frame()
	}

	idx := pageIndex(page, pageLevels-1)
	b := e.alloc.FrameBytes(table)
	var entry pageTableEntry
	entry.SetFlags(flags | FlagPresent)
	entry.SetFrame(frame)
	writeEntry(b, idx, entry)
	e.arch.InvalidatePage(page.Address())
	return nil
}

// MapRange maps frames[i] at the page (startPage + i) for each i, per spec
// §4.2 "map_range". A failure partway through unmaps everything this call
// already mapped, leaving the range untouched from the caller's perspective.
func (e *Engine) MapRange(root pmm.Frame, startPage Page, frames []pmm.Frame, flags PageTableEntryFlag) *kernel.Error {
	for i, f := range frames {
		page := Page(uintptr(startPage) + uintptr(i))
		if err := e.Map(root, page, f, flags); err != nil {
			for j := 0; j < i; j++ {
				e.Unmap(root, Page(uintptr(startPage)+uintptr(j)))
			}
			return err
		}
	}
	return nil
}

// Unmap clears the leaf mapping for page. Unmapping an address with no
// mapping is a no-op (spec §4.2 edge case).
func (e *Engine) Unmap(root pmm.Frame, page Page) *kernel.Error {
	table, ok := e.walkToLeafTable(root, page)
	if !ok {
		return nil
	}
	idx := pageIndex(page, pageLevels-1)
	b := e.alloc.FrameBytes(table)
	if !readEntry(b, idx).HasFlags(FlagPresent) {
		return nil
	}
	writeEntry(b, idx, 0)
	e.arch.InvalidatePage(page.Address())
	return nil
}

// UnmapRange unmaps count consecutive pages starting at startPage, per spec
// §4.2 "unmap_range". Each page follows Unmap's own no-op-on-unmapped edge
// case.
func (e *Engine) UnmapRange(root pmm.Frame, startPage Page, count int) *kernel.Error {
	for i := 0; i < count; i++ {
		if err := e.Unmap(root, Page(uintptr(startPage)+uintptr(i))); err != nil {
			return err
		}
	}
	return nil
}

// GetFlags returns the flags on page's leaf mapping, or ErrNotMapped if it
// has none (spec §4.2 "get_flags").
func (e *Engine) GetFlags(root pmm.Frame, page Page) (PageTableEntryFlag, *kernel.Error) {
	table, ok := e.walkToLeafTable(root, page)
	if !ok {
		return 0, ErrNotMapped
	}
	idx := pageIndex(page, pageLevels-1)
	entry := readEntry(e.alloc.FrameBytes(table), idx)
	if !entry.HasFlags(FlagPresent) {
		return 0, ErrNotMapped
	}
	return PageTableEntryFlag(entry) &^ PageTableEntryFlag(pteAddrMask), nil
}

// UpdateFlags replaces the flags on page's existing leaf mapping without
// touching the frame it points at, or returns ErrNotMapped if page has no
// mapping to update (spec §4.2 "update_flags").
func (e *Engine) UpdateFlags(root pmm.Frame, page Page, flags PageTableEntryFlag) *kernel.Error {
	table, ok := e.walkToLeafTable(root, page)
	if !ok {
		return ErrNotMapped
	}
	idx := pageIndex(page, pageLevels-1)
	b := e.alloc.FrameBytes(table)
	entry := readEntry(b, idx)
	if !entry.HasFlags(FlagPresent) {
		return ErrNotMapped
	}
	var updated pageTableEntry
	updated.SetFlags(flags | FlagPresent)
	updated.SetFrame(entry.Frame())
	writeEntry(b, idx, updated)
	e.arch.InvalidatePage(page.Address())
	return nil
}

// Translate returns the physical address mapped for virtAddr, or
// ErrNotMapped if no mapping exists at the leaf level (spec §4.2 edge case).
func (e *Engine) Translate(root pmm.Frame, virtAddr uintptr) (uintptr, *kernel.Error) {
	page := PageFromAddress(virtAddr)
	table, ok := e.walkToLeafTable(root, page)
	if !ok {
		return 0, ErrNotMapped
	}
	idx := pageIndex(page, pageLevels-1)
	entry := readEntry(e.alloc.FrameBytes(table), idx)
	if !entry.HasFlags(FlagPresent) {
		return 0, ErrNotMapped
	}
	offset := virtAddr & (1<<pageLevelShifts[pageLevels-1] - 1)
	return entry.Frame().Address() + offset, nil
}

// walkToLeafTable walks the first pageLevels-1 levels without allocating,
// returning the frame of the table holding the leaf entry for page.
func (e *Engine) walkToLeafTable(root pmm.Frame, page Page) (pmm.Frame, bool) {
	table := root
	for level := 0; level < pageLevels-1; level++ {
		idx := pageIndex(page, level)
		entry := readEntry(e.alloc.FrameBytes(table), idx)
		if !entry.HasFlags(FlagPresent) {
			return 0, false
		}
		table = entry.Frame()
	}
	return table, true
}

// Destroy frees every intermediate page-table frame reachable only from
// root's user half (PML4 indices 0-255), then frees root itself. It does
// not free the frames mapped by leaf entries: those are owned by the memory
// objects the caller's regions reference, not by the page-table engine.
//
// The source documents this as a bounded leak (intermediate tables survive
// until process destruction); this implementation resolves it fully instead,
// per the "freeing intermediate page tables" design decision.
func (e *Engine) Destroy(root pmm.Frame) {
	b := e.alloc.FrameBytes(root)
	for idx := 0; idx < 256; idx++ {
		entry := readEntry(b, idx)
		if entry.HasFlags(FlagPresent) {
			e.freeSubtree(entry.Frame(), 1)
		}
	}
	e.alloc.FreeFrame(root)
}

func (e *Engine) freeSubtree(frame pmm.Frame, level int) {
	if level == pageLevels-1 {
		e.alloc.FreeFrame(frame)
		return
	}
	b := e.alloc.FrameBytes(frame)
	for idx := 0; idx < 512; idx++ {
		entry := readEntry(b, idx)
		if entry.HasFlags(FlagPresent) {
			e.freeSubtree(entry.Frame(), level+1)
		}
	}
	e.alloc.FreeFrame(frame)
}
