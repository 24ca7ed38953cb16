package vmm

import "testing"

func TestValidateAcceptsZeroLength(t *testing.T) {
	as := newTestAddressSpace(t)
	if err := as.Validate(UserBase, 0, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRejectsUnmappedRange(t *testing.T) {
	as := newTestAddressSpace(t)
	if err := as.Validate(UserBase, 0x10, false); err != ErrNotMapped {
		t.Fatalf("expected ErrNotMapped, got %v", err)
	}
}

func TestValidateRejectsWriteAgainstReadOnlyRegion(t *testing.T) {
	as := newTestAddressSpace(t)
	if err := as.MapRegionAlloc(UserBase, 1, RegionRead|RegionUser); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := as.Validate(UserBase, 0x10, true); err != ErrPermission {
		t.Fatalf("expected ErrPermission, got %v", err)
	}
	if err := as.Validate(UserBase, 0x10, false); err != nil {
		t.Fatalf("unexpected error for a read-only validate: %v", err)
	}
}

func TestValidateRejectsWraparound(t *testing.T) {
	as := newTestAddressSpace(t)
	if err := as.Validate(UserTop-4, 0x10, false); err != ErrBufferRange {
		t.Fatalf("expected ErrBufferRange, got %v", err)
	}
}

func TestCopyRoundTripsAcrossPageBoundary(t *testing.T) {
	as := newTestAddressSpace(t)
	if err := as.MapRegionAlloc(UserBase, 2, RegionRead|RegionWrite|RegionUser); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	src := make([]byte, 8)
	for i := range src {
		src[i] = byte(i + 1)
	}
	// Write straddling the boundary between the two mapped pages.
	ptr := UserBase + 0x1000 - 4
	if err := as.CopyToUser(ptr, src); err != nil {
		t.Fatalf("unexpected error copying to user: %v", err)
	}

	dst := make([]byte, 8)
	if err := as.CopyFromUser(dst, ptr); err != nil {
		t.Fatalf("unexpected error copying from user: %v", err)
	}
	for i := range src {
		if dst[i] != src[i] {
			t.Fatalf("byte %d: expected %#x, got %#x", i, src[i], dst[i])
		}
	}
}

func TestCopyToUserFailsAgainstReadOnlyRegion(t *testing.T) {
	as := newTestAddressSpace(t)
	if err := as.MapRegionAlloc(UserBase, 1, RegionRead|RegionUser); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := as.CopyToUser(UserBase, []byte{1, 2, 3}); err != ErrPermission {
		t.Fatalf("expected ErrPermission, got %v", err)
	}
}
