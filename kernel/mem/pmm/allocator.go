package pmm

import (
	"github.com/HTRMC/Graphene-Kernel/kernel"
	"github.com/HTRMC/Graphene-Kernel/kernel/boot"
	"github.com/HTRMC/Graphene-Kernel/kernel/mem"
)

var (
	// ErrOutOfMemory is returned when no frame (or no contiguous run of
	// frames) satisfies an allocation request. Allocation failure is
	// never a panic (spec §4.1 "Failure mode").
	ErrOutOfMemory = &kernel.Error{Module: "pmm", Message: "out of physical memory"}

	errNoUsableMemory  = &kernel.Error{Module: "pmm", Message: "boot memory map contains no usable region"}
	errInvalidArgument = &kernel.Error{Module: "pmm", Message: "invalid argument"}
)

// Allocator is a bitmap-tracked physical frame allocator. One bit per 4 KiB
// of the highest physical address observed in the boot memory map tracks
// whether that frame is in use.
//
// Allocator also owns the simulated physical memory backing store: since
// this core runs hosted rather than mapping real RAM, every Frame this
// allocator hands out is backed by a byte range of that store, addressable
// via FrameBytes.
type Allocator struct {
	hhdmOffset  uintptr
	backing     []byte
	bitmap      []uint64
	totalFrames uint64
	freeFrames  uint64
	hint        uint64
}

// New builds an Allocator from a decoded boot descriptor, per spec §4.1
// Policy: mark the whole bitmap used, then mark usable/bootloader-
// reclaimable regions free, minus the page-aligned bytes the bitmap itself
// occupies (reserved from the first such region encountered).
func New(info boot.Info) (*Allocator, *kernel.Error) {
	highest := uint64(info.HighestAddress())
	if highest == 0 {
		return nil, errNoUsableMemory
	}

	totalFrames := highest / uint64(mem.PageSize)
	a := &Allocator{
		hhdmOffset:  info.HHDMOffset,
		backing:     make([]byte, highest),
		bitmap:      make([]uint64, (totalFrames+63)/64),
		totalFrames: totalFrames,
	}

	for i := range a.bitmap {
		a.bitmap[i] = ^uint64(0)
	}

	bitmapBytes := mem.Size(len(a.bitmap) * 8)
	bitmapFrames := uint64(bitmapBytes.Pages())

	reservedBitmap := false
	for _, r := range info.MemoryMap {
		if !isUsable(r.Type) {
			continue
		}

		start := frameCeil(uint64(r.PhysAddr))
		end := frameFloor(uint64(r.End()))
		if !reservedBitmap {
			start += bitmapFrames
			reservedBitmap = true
		}
		for f := start; f < end; f++ {
			a.markFree(Frame(f))
		}
	}
	if !reservedBitmap {
		return nil, errNoUsableMemory
	}

	return a, nil
}

func isUsable(t boot.RegionType) bool {
	return t == boot.RegionUsable || t == boot.RegionBootloaderReclaimable
}

func frameCeil(addr uint64) uint64  { return (addr + uint64(mem.PageSize) - 1) / uint64(mem.PageSize) }
func frameFloor(addr uint64) uint64 { return addr / uint64(mem.PageSize) }

func (a *Allocator) bit(f Frame) (word int, mask uint64) {
	return int(f / 64), 1 << (uint64(f) % 64)
}

func (a *Allocator) isUsed(f Frame) bool {
	word, mask := a.bit(f)
	return a.bitmap[word]&mask != 0
}

func (a *Allocator) markUsed(f Frame) {
	word, mask := a.bit(f)
	if a.bitmap[word]&mask == 0 {
		a.bitmap[word] |= mask
		a.freeFrames--
	}
}

func (a *Allocator) markFree(f Frame) {
	word, mask := a.bit(f)
	if a.bitmap[word]&mask != 0 {
		a.bitmap[word] &^= mask
		a.freeFrames++
	}
}

// TotalFrames returns the number of frames tracked by the bitmap.
func (a *Allocator) TotalFrames() uint64 { return a.totalFrames }

// FreeFrames returns the number of currently unallocated frames.
func (a *Allocator) FreeFrames() uint64 { return a.freeFrames }

// UsedFrames returns the number of currently allocated frames.
func (a *Allocator) UsedFrames() uint64 { return a.totalFrames - a.freeFrames }

// AllocFrame reserves and returns a single free frame, or ErrOutOfMemory.
// Scanning starts at a rolling hint so that a freed frame is not immediately
// re-handed-out ahead of frames that have been free for longer.
func (a *Allocator) AllocFrame() (Frame, *kernel.Error) {
	if f, ok := a.findFree(a.hint); ok {
		a.markUsed(f)
		a.hint = uint64(f) + 1
		return f, nil
	}
	if f, ok := a.findFree(0); ok {
		a.markUsed(f)
		a.hint = uint64(f) + 1
		return f, nil
	}
	return InvalidFrame, ErrOutOfMemory
}

func (a *Allocator) findFree(from uint64) (Frame, bool) {
	for i := from; i < a.totalFrames; i++ {
		if !a.isUsed(Frame(i)) {
			return Frame(i), true
		}
	}
	return 0, false
}

// AllocFrames reserves n contiguous frames using a sliding window scan and
// returns the first frame of the run. AllocFrames(1) is equivalent to
// AllocFrame.
func (a *Allocator) AllocFrames(n uint64) (Frame, *kernel.Error) {
	if n == 0 {
		return InvalidFrame, errInvalidArgument
	}
	if n == 1 {
		return a.AllocFrame()
	}

	var runStart, runLen uint64
	for i := uint64(0); i < a.totalFrames; i++ {
		if a.isUsed(Frame(i)) {
			runLen = 0
			continue
		}
		if runLen == 0 {
			runStart = i
		}
		runLen++
		if runLen == n {
			for f := runStart; f < runStart+n; f++ {
				a.markUsed(Frame(f))
			}
			return Frame(runStart), nil
		}
	}
	return InvalidFrame, ErrOutOfMemory
}

// FreeFrame releases a single frame. Freeing an already-free frame is a no-op.
func (a *Allocator) FreeFrame(f Frame) {
	if uint64(f) >= a.totalFrames {
		return
	}
	a.markFree(f)
}

// FreeFrameRun releases n frames starting at f.
func (a *Allocator) FreeFrameRun(f Frame, n uint64) {
	for i := uint64(0); i < n; i++ {
		a.FreeFrame(Frame(uint64(f) + i))
	}
}

// PhysToVirt converts a physical address to a kernel-reachable virtual
// address via the bootloader's higher-half direct map.
func (a *Allocator) PhysToVirt(phys uintptr) uintptr { return phys + a.hhdmOffset }

// VirtToPhys is the inverse of PhysToVirt.
func (a *Allocator) VirtToPhys(virt uintptr) uintptr { return virt - a.hhdmOffset }

// FrameBytes returns the simulated physical memory backing the given frame.
// Callers may read or write the returned slice in place of a real
// memory-mapped pointer dereference.
func (a *Allocator) FrameBytes(f Frame) []byte {
	start := f.Address()
	return a.backing[start : start+uintptr(mem.PageSize)]
}

// BytesAt returns length bytes of simulated physical memory starting at
// addr, for callers (such as kernel/mem/heap) that allocate a physically
// contiguous run of frames via AllocFrames and need a single flat view
// across the whole run.
func (a *Allocator) BytesAt(addr uintptr, length int) []byte {
	return a.backing[addr : addr+uintptr(length)]
}
