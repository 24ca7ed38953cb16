package vmm

import (
	"github.com/HTRMC/Graphene-Kernel/kernel"
	"github.com/HTRMC/Graphene-Kernel/kernel/mem"
	"github.com/HTRMC/Graphene-Kernel/kernel/mem/pmm"
)

// RegionFlag is a permission or attribute bit on a tracked region (spec §3
// "Address space").
type RegionFlag uint8

// Region flags.
const (
	RegionRead RegionFlag = 1 << iota
	RegionWrite
	RegionExecute
	RegionUser
	RegionGuard
	RegionShared
)

// Has reports whether f includes all bits of want.
func (f RegionFlag) Has(want RegionFlag) bool { return f&want == want }

// Region layout constants (spec §6 "Address layout").
const (
	UserBase        uintptr = 0x0000_0000_0040_0000
	UserTop         uintptr = 0x0000_7FFF_FFFF_FFFF
	UserStackTop    uintptr = 0x0000_7FFF_FFF0_0000
	DefaultStackLen uintptr = 64 * 1024
	KernelBase      uintptr = 0xFFFF_FFFF_8000_0000
)

var (
	// ErrWriteExecute is returned when a region or mapping request sets
	// both RegionWrite and RegionExecute (spec §4.3 "W^X is enforced at
	// region-add time").
	ErrWriteExecute = &kernel.Error{Module: "vmm", Message: "region may not be both writable and executable"}
	// ErrRegionOverlap is returned when a new region overlaps an existing one.
	ErrRegionOverlap = &kernel.Error{Module: "vmm", Message: "region overlaps an existing region"}
	// ErrOutOfRange is returned when a user region falls outside [UserBase, UserTop).
	ErrOutOfRange = &kernel.Error{Module: "vmm", Message: "region outside the permitted address range"}
	// ErrNoSuchRegion is returned by operations addressing a region that does not exist.
	ErrNoSuchRegion = &kernel.Error{Module: "vmm", Message: "no region at that address"}
)

// Region is a tracked [Start, Start+Length) window of an address space.
type Region struct {
	Start  uintptr
	Length uintptr
	Flags  RegionFlag
	Frames []pmm.Frame
}

// End returns the exclusive end address of the region.
func (r Region) End() uintptr { return r.Start + r.Length }

func (r Region) overlaps(start, length uintptr) bool {
	end := start + length
	return start < r.End() && r.Start < end
}

func (r Region) contains(addr uintptr) bool { return addr >= r.Start && addr < r.End() }

// AddressSpace owns a page-table root and the set of regions mapped within
// it, enforcing W^X at region-add time (spec §4.3).
type AddressSpace struct {
	engine  *Engine
	alloc   *pmm.Allocator
	root    pmm.Frame
	regions []Region
}

// NewAddressSpace allocates a fresh page-table root (with the kernel upper
// half copied in) and an empty region set, implementing
// "create_address_space" from spec §4.3.
func NewAddressSpace(engine *Engine, alloc *pmm.Allocator) (*AddressSpace, *kernel.Error) {
	root, err := engine.NewAddressSpaceRoot()
	if err != nil {
		return nil, err
	}
	return &AddressSpace{engine: engine, alloc: alloc, root: root}, nil
}

// Root returns the physical address of the top-level page table.
func (as *AddressSpace) Root() pmm.Frame { return as.root }

// Regions returns the address space's tracked regions.
func (as *AddressSpace) Regions() []Region { return as.regions }

func regionRangeValid(start, length uintptr, flags RegionFlag) *kernel.Error {
	if flags.Has(RegionWrite) && flags.Has(RegionExecute) {
		return ErrWriteExecute
	}
	if flags.Has(RegionUser) {
		if start < UserBase || start+length > UserTop {
			return ErrOutOfRange
		}
	}
	return nil
}

func (as *AddressSpace) checkOverlap(start, length uintptr) *kernel.Error {
	for _, r := range as.regions {
		if r.overlaps(start, length) {
			return ErrRegionOverlap
		}
	}
	return nil
}

func pteFlagsFor(flags RegionFlag) PageTableEntryFlag {
	var f PageTableEntryFlag = FlagPresent
	if flags.Has(RegionWrite) {
		f |= FlagRW
	}
	if flags.Has(RegionUser) {
		f |= FlagUser
	}
	if !flags.Has(RegionExecute) {
		f |= FlagNX
	}
	if flags.Has(RegionGuard) {
		f |= FlagGuard
	}
	return f
}

// MapRegion registers a region backed by the caller-supplied physical
// frames and maps each page, per spec §4.3 "map_region". Any per-page
// mapping failure rolls the whole region back.
func (as *AddressSpace) MapRegion(start uintptr, flags RegionFlag, frames []pmm.Frame) *kernel.Error {
	length := uintptr(len(frames)) * uintptr(mem.PageSize)
	if err := regionRangeValid(start, length, flags); err != nil {
		return err
	}
	if err := as.checkOverlap(start, length); err != nil {
		return err
	}

	if err := as.engine.MapRange(as.root, PageFromAddress(start), frames, pteFlagsFor(flags)); err != nil {
		return err
	}

	as.regions = append(as.regions, Region{Start: start, Length: length, Flags: flags, Frames: append([]pmm.Frame(nil), frames...)})
	return nil
}

// MapRegionAlloc allocates and zeroes pageCount fresh frames and maps them
// at start, per spec §4.3 "map_region_alloc".
func (as *AddressSpace) MapRegionAlloc(start uintptr, pageCount int, flags RegionFlag) *kernel.Error {
	frames := make([]pmm.Frame, 0, pageCount)
	for i := 0; i < pageCount; i++ {
		f, err := as.alloc.AllocFrame()
		if err != nil {
			for _, af := range frames {
				as.alloc.FreeFrame(af)
			}
			return err
		}
		zeroFrame(as.alloc, f)
		frames = append(frames, f)
	}

	if err := as.MapRegion(start, flags, frames); err != nil {
		for _, af := range frames {
			as.alloc.FreeFrame(af)
		}
		return err
	}
	return nil
}

// Protect re-applies a new set of protection flags to an already-mapped
// region's existing pages, without touching content or backing frames
// (spec §4.12 "Loading": every PT_LOAD page is mapped writable to receive
// its file data, then remapped to its final flags once copying is done).
// This is exactly the engine's update_flags operation applied page by page,
// not a re-map: the frame each page points at never changes.
func (as *AddressSpace) Protect(start uintptr, flags RegionFlag) *kernel.Error {
	for i := range as.regions {
		r := &as.regions[i]
		if r.Start != start {
			continue
		}
		if err := regionRangeValid(start, r.Length, flags); err != nil {
			return err
		}
		pteFlags := pteFlagsFor(flags)
		for p := range r.Frames {
			page := PageFromAddress(start + uintptr(p)*uintptr(mem.PageSize))
			if err := as.engine.UpdateFlags(as.root, page, pteFlags); err != nil {
				return err
			}
		}
		r.Flags = flags
		return nil
	}
	return ErrNoSuchRegion
}

// UnmapRegion unmaps and removes the region starting at start, freeing its
// backing frames, per spec §4.3 "unmap_region".
func (as *AddressSpace) UnmapRegion(start uintptr) *kernel.Error {
	for i, r := range as.regions {
		if r.Start != start {
			continue
		}
		pageCount := int(r.Length / uintptr(mem.PageSize))
		as.engine.UnmapRange(as.root, PageFromAddress(start), pageCount)
		for _, f := range r.Frames {
			as.alloc.FreeFrame(f)
		}
		as.regions = append(as.regions[:i], as.regions[i+1:]...)
		return nil
	}
	return ErrNoSuchRegion
}

// RegionContaining returns the region containing addr, if any.
func (as *AddressSpace) RegionContaining(addr uintptr) (Region, bool) {
	for _, r := range as.regions {
		if r.contains(addr) {
			return r, true
		}
	}
	return Region{}, false
}

// FaultError mirrors the error bits a page-fault trap frame reports (spec
// §4.3 "Fault policy").
type FaultError struct {
	User    bool
	Write   bool
	Execute bool
}

// HandlePageFault decides whether a fault at vaddr with the given error bits
// is remediable, per spec §4.3 "Fault policy". This core performs no demand
// paging, so an otherwise-legal fault is always real (returns false).
func (as *AddressSpace) HandlePageFault(vaddr uintptr, faultErr FaultError) bool {
	region, ok := as.RegionContaining(vaddr)
	if !ok {
		return false
	}
	if faultErr.User && !region.Flags.Has(RegionUser) {
		return false
	}
	if faultErr.Write && !region.Flags.Has(RegionWrite) {
		return false
	}
	if faultErr.Execute && !region.Flags.Has(RegionExecute) {
		return false
	}
	if region.Flags.Has(RegionGuard) {
		return false
	}
	return false
}

// Translate resolves a virtual address to a physical address through this
// address space's page tables.
func (as *AddressSpace) Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	return as.engine.Translate(as.root, virtAddr)
}

// Destroy frees all user-region backing frames plus the root and every
// intermediate table reachable only from this address space (spec §4.3
// "destroy_address_space", resolved fully per the design decision on
// intermediate page-table freeing).
func (as *AddressSpace) Destroy() {
	for _, r := range as.regions {
		for _, f := range r.Frames {
			as.alloc.FreeFrame(f)
		}
	}
	as.regions = nil
	as.engine.Destroy(as.root)
}
