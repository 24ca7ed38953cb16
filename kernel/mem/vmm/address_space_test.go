package vmm

import (
	"testing"

	"github.com/HTRMC/Graphene-Kernel/kernel/arch"
)

func newTestAddressSpace(t *testing.T) *AddressSpace {
	t.Helper()
	alloc := testAllocator(t)
	engine := NewEngine(alloc, arch.NewSim())
	as, err := NewAddressSpace(engine, alloc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return as
}

func TestMapRegionAllocAndTranslate(t *testing.T) {
	as := newTestAddressSpace(t)

	if err := as.MapRegionAlloc(UserBase, 2, RegionRead|RegionWrite|RegionUser); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := as.Translate(UserBase); err != nil {
		t.Fatalf("expected mapped address to translate, got error: %v", err)
	}
	if _, err := as.Translate(UserBase + 0x1000); err != nil {
		t.Fatalf("expected second page to translate, got error: %v", err)
	}

	region, ok := as.RegionContaining(UserBase + 0x10)
	if !ok {
		t.Fatal("expected a region to contain the mapped address")
	}
	if region.Length != 2*0x1000 {
		t.Fatalf("expected region length 0x2000, got %#x", region.Length)
	}
}

func TestMapRegionRejectsWriteExecute(t *testing.T) {
	as := newTestAddressSpace(t)

	err := as.MapRegionAlloc(UserBase, 1, RegionRead|RegionWrite|RegionExecute|RegionUser)
	if err != ErrWriteExecute {
		t.Fatalf("expected ErrWriteExecute, got %v", err)
	}
	if len(as.Regions()) != 0 {
		t.Fatal("expected no region to be created")
	}
}

func TestMapRegionRejectsOutOfRange(t *testing.T) {
	as := newTestAddressSpace(t)

	err := as.MapRegionAlloc(UserTop, 1, RegionRead|RegionUser)
	if err != ErrOutOfRange {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
}

func TestMapRegionRejectsOverlap(t *testing.T) {
	as := newTestAddressSpace(t)

	if err := as.MapRegionAlloc(UserBase, 2, RegionRead|RegionUser); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := as.MapRegionAlloc(UserBase+0x1000, 1, RegionRead|RegionUser)
	if err != ErrRegionOverlap {
		t.Fatalf("expected ErrRegionOverlap, got %v", err)
	}
}

func TestProtectChangesFlagsWithoutRemapping(t *testing.T) {
	as := newTestAddressSpace(t)

	if err := as.MapRegionAlloc(UserBase, 1, RegionRead|RegionWrite|RegionUser); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := as.Protect(UserBase, RegionRead|RegionExecute|RegionUser); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	region, ok := as.RegionContaining(UserBase)
	if !ok {
		t.Fatal("expected the region to still be tracked")
	}
	if region.Flags.Has(RegionWrite) {
		t.Fatal("expected write permission to be dropped")
	}
	if !region.Flags.Has(RegionExecute) {
		t.Fatal("expected execute permission to be set")
	}
	if _, err := as.Translate(UserBase); err != nil {
		t.Fatalf("expected the page to remain mapped after protect: %v", err)
	}
}

func TestProtectRejectsWriteExecute(t *testing.T) {
	as := newTestAddressSpace(t)
	as.MapRegionAlloc(UserBase, 1, RegionRead|RegionUser)

	if err := as.Protect(UserBase, RegionRead|RegionWrite|RegionExecute|RegionUser); err != ErrWriteExecute {
		t.Fatalf("expected ErrWriteExecute, got %v", err)
	}
}

func TestUnmapRegionRestoresPriorState(t *testing.T) {
	as := newTestAddressSpace(t)

	if err := as.MapRegionAlloc(UserBase, 1, RegionRead|RegionWrite|RegionUser); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := as.UnmapRegion(UserBase); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(as.Regions()) != 0 {
		t.Fatal("expected no regions to remain after unmap")
	}
	if _, err := as.Translate(UserBase); err != ErrNotMapped {
		t.Fatalf("expected ErrNotMapped after unmap, got %v", err)
	}

	// mem_map followed by mem_unmap of the same range should allow an
	// identical map_region call to succeed again.
	if err := as.MapRegionAlloc(UserBase, 1, RegionRead|RegionWrite|RegionUser); err != nil {
		t.Fatalf("unexpected error remapping after unmap: %v", err)
	}
}

func TestUnmapRegionNoSuchRegion(t *testing.T) {
	as := newTestAddressSpace(t)

	if err := as.UnmapRegion(UserBase); err != ErrNoSuchRegion {
		t.Fatalf("expected ErrNoSuchRegion, got %v", err)
	}
}

func TestHandlePageFaultUnknownRegion(t *testing.T) {
	as := newTestAddressSpace(t)

	if as.HandlePageFault(UserBase, FaultError{User: true, Write: true}) {
		t.Fatal("expected fault outside any region to be unhandled")
	}
}

func TestHandlePageFaultPermissionMismatch(t *testing.T) {
	as := newTestAddressSpace(t)
	if err := as.MapRegionAlloc(UserBase, 1, RegionRead|RegionUser); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if as.HandlePageFault(UserBase, FaultError{User: true, Write: true}) {
		t.Fatal("expected write fault against a read-only region to be unhandled")
	}
}
