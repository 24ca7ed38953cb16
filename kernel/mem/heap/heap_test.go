package heap

import (
	"testing"

	"github.com/HTRMC/Graphene-Kernel/kernel/boot"
	"github.com/HTRMC/Graphene-Kernel/kernel/mem/pmm"
)

func testHeap(t *testing.T) *Heap {
	t.Helper()
	info := boot.Info{
		MemoryMap: []boot.MemoryRegion{
			{PhysAddr: 0, Length: 0x100000, Type: boot.RegionReserved},
			{PhysAddr: 0x100000, Length: 0x8000000 - 0x100000, Type: boot.RegionUsable},
		},
	}
	a, err := pmm.New(info)
	if err != nil {
		t.Fatalf("unexpected error building allocator: %v", err)
	}
	return New(a)
}

func TestAllocSmallRoundsToClass(t *testing.T) {
	h := testHeap(t)

	a, err := h.Alloc(10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(a.Bytes) != 10 {
		t.Fatalf("expected logical size 10, got %d", len(a.Bytes))
	}
	if a.class != 0 {
		t.Fatalf("expected class 0 (size 16) for a 10-byte request, got %d", a.class)
	}

	a.Bytes[0] = 0xAB
	if a.Bytes[0] != 0xAB {
		t.Fatal("expected write to persist")
	}
}

func TestAllocSmallReusesFreedChunk(t *testing.T) {
	h := testHeap(t)

	a, err := h.Alloc(32)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	addr := a.addr
	h.Free(a)

	b, err := h.Alloc(32)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.addr != addr {
		t.Fatalf("expected the freed chunk to be reused, got a different address")
	}
}

func TestAllocSmallGrowsClass(t *testing.T) {
	h := testHeap(t)

	// A page (4096) carved into 16-byte chunks yields 256 entries; forcing
	// a 257th allocation must claim a second frame.
	var allocs []*Allocation
	for i := 0; i < 257; i++ {
		a, err := h.Alloc(16)
		if err != nil {
			t.Fatalf("unexpected error at allocation %d: %v", i, err)
		}
		allocs = append(allocs, a)
	}

	seen := map[uintptr]bool{}
	for _, a := range allocs {
		if seen[a.addr] {
			t.Fatal("expected every small allocation to have a distinct address")
		}
		seen[a.addr] = true
	}
}

func TestAllocLargeHeaderAndCoalesce(t *testing.T) {
	h := testHeap(t)

	a, err := h.Alloc(4096)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(a.Bytes) != 4096 {
		t.Fatalf("expected 4096 payload bytes, got %d", len(a.Bytes))
	}
	if a.class != -1 {
		t.Fatalf("expected a large allocation, got class %d", a.class)
	}

	b, err := h.Alloc(4096)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	h.Free(a)
	h.Free(b)

	// Freeing both large blocks should coalesce them into (at most) one
	// free region, since large allocations are carved from a single
	// contiguous multi-frame run whenever the free list can't satisfy them.
	if len(h.largeFree) > 1 {
		t.Fatalf("expected coalescing to keep the free list small, got %d entries", len(h.largeFree))
	}
}

func TestFreeInvalidPointerIsNoOp(t *testing.T) {
	h := testHeap(t)

	a, err := h.Alloc(4096)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h.Free(a)
	// Double free must not corrupt the free list or panic.
	h.Free(a)

	if len(h.largeFree) == 0 {
		t.Fatal("expected the first free to have registered a free block")
	}
}

func TestReallocGrowsAndCopies(t *testing.T) {
	h := testHeap(t)

	a, err := h.Alloc(16)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	copy(a.Bytes, []byte("hello"))

	b, err := h.Realloc(a, 64)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(b.Bytes[:5]) != "hello" {
		t.Fatalf("expected data to survive realloc, got %q", b.Bytes[:5])
	}
}

func TestReallocShrinksInPlace(t *testing.T) {
	h := testHeap(t)

	a, err := h.Alloc(4096)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	addr := a.addr

	b, err := h.Realloc(a, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.addr != addr {
		t.Fatal("expected shrinking to stay in place")
	}
	if len(b.Bytes) != 100 {
		t.Fatalf("expected logical size 100, got %d", len(b.Bytes))
	}
}
