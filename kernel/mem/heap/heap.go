// Package heap implements the kernel dynamic-memory allocator (spec §4.4):
// fixed-size slab classes for small allocations and an address-sorted,
// coalescing first-fit free list backed by physical frames for large ones.
package heap

import (
	"encoding/binary"

	"github.com/HTRMC/Graphene-Kernel/kernel"
	"github.com/HTRMC/Graphene-Kernel/kernel/mem"
	"github.com/HTRMC/Graphene-Kernel/kernel/mem/pmm"
)

// classSizes are the slab classes small allocations round up to (spec §4.4).
var classSizes = [...]int{16, 32, 64, 128, 256, 512, 1024, 2048}

// LargeThreshold is the boundary above which an allocation is served by the
// large-block free list instead of a slab class.
const LargeThreshold = 2048

const largeHeaderSize = 16

const (
	magicAlloc uint64 = 0x4C4C41 // "ALL"
	magicFree  uint64 = 0x455246 // "FRE"
)

var (
	// ErrOutOfMemory is returned when the backing frame allocator cannot
	// satisfy a grow request.
	ErrOutOfMemory = &kernel.Error{Module: "heap", Message: "out of memory"}
	// ErrInvalidPointer names a large allocation whose header does not
	// carry the expected magic value. Free ignores such a pointer silently
	// and Realloc does not check the header, so neither returns it.
	ErrInvalidPointer = &kernel.Error{Module: "heap", Message: "invalid or already-freed pointer"}
)

// Allocation is the handle Alloc hands back: the payload bytes plus enough
// bookkeeping (physical address, size class) for Free/Realloc to locate the
// block again without requiring pointer arithmetic on raw memory.
type Allocation struct {
	Bytes []byte
	addr  uintptr
	class int // index into classSizes, or -1 for a large allocation
}

type largeBlock struct {
	addr   uintptr
	length uintptr
}

// Heap is a slab-and-free-list allocator backed by a physical frame
// allocator. Frames claimed to grow a slab class or to satisfy a large
// allocation are never returned to the frame allocator; the heap only grows.
type Heap struct {
	alloc      *pmm.Allocator
	classFree  [len(classSizes)][]uintptr
	largeFree  []largeBlock
}

// New builds an empty Heap over alloc.
func New(alloc *pmm.Allocator) *Heap {
	return &Heap{alloc: alloc}
}

func classFor(size int) (int, bool) {
	for i, s := range classSizes {
		if size <= s {
			return i, true
		}
	}
	return -1, false
}

// Alloc reserves size bytes, per spec §4.4 "alloc(size, align) → ptr | ∅".
// Alignment beyond the natural alignment of the chosen class/frame is not
// separately modeled; every class size and the page size are already
// powers of two, which satisfies every alignment this core requests.
func (h *Heap) Alloc(size int) (*Allocation, *kernel.Error) {
	if size <= LargeThreshold {
		return h.allocSmall(size)
	}
	return h.allocLarge(size)
}

func (h *Heap) allocSmall(size int) (*Allocation, *kernel.Error) {
	class, ok := classFor(size)
	if !ok {
		return h.allocLarge(size)
	}
	if len(h.classFree[class]) == 0 {
		if err := h.growClass(class); err != nil {
			return nil, err
		}
	}
	free := h.classFree[class]
	addr := free[len(free)-1]
	h.classFree[class] = free[:len(free)-1]

	classSize := classSizes[class]
	return &Allocation{Bytes: h.alloc.BytesAt(addr, classSize)[:size], addr: addr, class: class}, nil
}

// growClass claims a single frame and carves it into page/size entries,
// per spec §4.4 "Algorithm".
func (h *Heap) growClass(class int) *kernel.Error {
	frame, err := h.alloc.AllocFrame()
	if err != nil {
		return ErrOutOfMemory
	}
	classSize := classSizes[class]
	base := frame.Address()
	count := int(mem.PageSize) / classSize
	for i := 0; i < count; i++ {
		h.classFree[class] = append(h.classFree[class], base+uintptr(i*classSize))
	}
	return nil
}

func (h *Heap) allocLarge(size int) (*Allocation, *kernel.Error) {
	need := uintptr(largeHeaderSize + size)

	for i, blk := range h.largeFree {
		if blk.length >= need {
			addr := blk.addr
			remaining := blk.length - need
			if remaining == 0 {
				h.largeFree = append(h.largeFree[:i], h.largeFree[i+1:]...)
			} else {
				h.largeFree[i] = largeBlock{addr: addr + need, length: remaining}
			}
			return h.commitLarge(addr, size), nil
		}
	}

	pages := mem.Size(need).Pages()
	start, err := h.alloc.AllocFrames(uint64(pages))
	if err != nil {
		return nil, ErrOutOfMemory
	}
	addr := start.Address()
	total := uintptr(pages) * uintptr(mem.PageSize)
	if leftover := total - need; leftover > 0 {
		h.insertLargeFree(largeBlock{addr: addr + need, length: leftover})
	}
	return h.commitLarge(addr, size), nil
}

func (h *Heap) commitLarge(addr uintptr, size int) *Allocation {
	header := h.alloc.BytesAt(addr, largeHeaderSize)
	binary.LittleEndian.PutUint64(header[0:8], uint64(size))
	binary.LittleEndian.PutUint64(header[8:16], magicAlloc)
	payload := h.alloc.BytesAt(addr+largeHeaderSize, size)
	return &Allocation{Bytes: payload, addr: addr, class: -1}
}

// Free releases a. Freeing a slab allocation returns its chunk to the
// class free list; freeing a large allocation validates the header magic
// (silently ignoring an already-freed or corrupt pointer, per spec §4.4),
// marks it freed, and coalesces with address-adjacent free blocks.
func (h *Heap) Free(a *Allocation) {
	if a == nil {
		return
	}
	if a.class >= 0 {
		h.classFree[a.class] = append(h.classFree[a.class], a.addr)
		return
	}

	header := h.alloc.BytesAt(a.addr, largeHeaderSize)
	if binary.LittleEndian.Uint64(header[8:16]) != magicAlloc {
		return
	}
	size := binary.LittleEndian.Uint64(header[0:8])
	binary.LittleEndian.PutUint64(header[8:16], magicFree)

	h.insertLargeFree(largeBlock{addr: a.addr, length: uintptr(largeHeaderSize) + uintptr(size)})
}

// insertLargeFree inserts blk into the address-sorted free list, coalescing
// with the immediately preceding and following blocks if they are
// address-adjacent (spec §4.4: "adjacent-address blocks coalesce in a
// single pass").
func (h *Heap) insertLargeFree(blk largeBlock) {
	i := 0
	for ; i < len(h.largeFree); i++ {
		if h.largeFree[i].addr > blk.addr {
			break
		}
	}

	if i > 0 && h.largeFree[i-1].addr+h.largeFree[i-1].length == blk.addr {
		h.largeFree[i-1].length += blk.length
		blk = h.largeFree[i-1]
		i--
		h.largeFree = append(h.largeFree[:i], h.largeFree[i+1:]...)
	}
	if i < len(h.largeFree) && blk.addr+blk.length == h.largeFree[i].addr {
		blk.length += h.largeFree[i].length
		h.largeFree = append(h.largeFree[:i], h.largeFree[i+1:]...)
	}

	h.largeFree = append(h.largeFree, largeBlock{})
	copy(h.largeFree[i+1:], h.largeFree[i:])
	h.largeFree[i] = blk
}

// Realloc resizes a to newSize, per spec §4.4 "Reallocation is
// alloc-copy-free; shrinking is in-place only."
func (h *Heap) Realloc(a *Allocation, newSize int) (*Allocation, *kernel.Error) {
	if newSize <= len(a.Bytes) {
		a.Bytes = a.Bytes[:newSize]
		if a.class < 0 {
			header := h.alloc.BytesAt(a.addr, largeHeaderSize)
			binary.LittleEndian.PutUint64(header[0:8], uint64(newSize))
		}
		return a, nil
	}

	next, err := h.Alloc(newSize)
	if err != nil {
		return nil, err
	}
	copy(next.Bytes, a.Bytes)
	h.Free(a)
	return next, nil
}
