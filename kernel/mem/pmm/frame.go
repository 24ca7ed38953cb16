// Package pmm implements the physical frame allocator (spec §4.1): a
// bitmap-tracked 4 KiB frame allocator over the boot memory map, exposing
// single- and contiguous-frame alloc/free plus phys<->virt translation
// through the bootloader's higher-half direct map.
package pmm

import (
	"math"

	"github.com/HTRMC/Graphene-Kernel/kernel/mem"
)

// Frame identifies a physical page by its frame number (physical address >> PageShift).
type Frame uint64

// InvalidFrame is returned by allocation methods that fail to reserve a frame.
const InvalidFrame = Frame(math.MaxUint64)

// IsValid reports whether f is a real, allocated frame.
func (f Frame) IsValid() bool { return f != InvalidFrame }

// Address returns the physical address of the frame.
func (f Frame) Address() uintptr { return uintptr(f) << mem.PageShift }

// FromAddress returns the Frame containing the given physical address,
// rounding down if addr is not page-aligned.
func FromAddress(addr uintptr) Frame { return Frame(addr >> mem.PageShift) }
