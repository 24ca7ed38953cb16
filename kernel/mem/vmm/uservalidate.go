package vmm

import (
	"github.com/HTRMC/Graphene-Kernel/kernel"
	"github.com/HTRMC/Graphene-Kernel/kernel/mem"
)

var (
	// ErrBufferRange is returned by Validate for a zero-crossing (wrap
	// around the address space) or otherwise malformed [ptr, ptr+len) range.
	ErrBufferRange = &kernel.Error{Module: "vmm", Message: "buffer range wraps or overflows"}
	// ErrPermission is returned by Validate when a page in range is mapped
	// but lacks the write permission a write-capable access requires.
	ErrPermission = &kernel.Error{Module: "vmm", Message: "buffer page lacks required permission"}
)

// Validate implements spec §4.8 "User-buffer validation": zero-length
// buffers are accepted trivially; an out-of-range or wrap-around [ptr,
// ptr+len) range is rejected; otherwise every page in the range must belong
// to a user region, with a write-permission check when needsWrite is set.
func (as *AddressSpace) Validate(ptr, length uintptr, needsWrite bool) *kernel.Error {
	if length == 0 {
		return nil
	}
	end := ptr + length
	if end < ptr || end > UserTop {
		return ErrBufferRange
	}

	for addr := mem.AlignDown(ptr); addr < end; addr += uintptr(mem.PageSize) {
		region, ok := as.RegionContaining(addr)
		if !ok || !region.Flags.Has(RegionUser) {
			return ErrNotMapped
		}
		if needsWrite && !region.Flags.Has(RegionWrite) {
			return ErrPermission
		}
	}
	return nil
}

// CopyFromUser validates [ptr, ptr+len(dst)) for reading, then copies it
// into dst through the kernel's simulated physical backing store (spec
// §4.8: "perform a byte-wise transfer using the kernel's higher-half direct
// map").
func (as *AddressSpace) CopyFromUser(dst []byte, ptr uintptr) *kernel.Error {
	if err := as.Validate(ptr, uintptr(len(dst)), false); err != nil {
		return err
	}
	return as.copyUser(dst, ptr, false)
}

// CopyToUser validates [ptr, ptr+len(src)) for writing, then copies src into it.
func (as *AddressSpace) CopyToUser(ptr uintptr, src []byte) *kernel.Error {
	if err := as.Validate(ptr, uintptr(len(src)), true); err != nil {
		return err
	}
	return as.copyUser(src, ptr, true)
}

// copyUser walks buf one page-fragment at a time, translating each fragment's
// virtual address independently since consecutive user pages need not be
// backed by contiguous physical frames.
func (as *AddressSpace) copyUser(buf []byte, ptr uintptr, toUser bool) *kernel.Error {
	remaining := buf
	addr := ptr
	for len(remaining) > 0 {
		pageOff := addr & (uintptr(mem.PageSize) - 1)
		chunk := uintptr(mem.PageSize) - pageOff
		if chunk > uintptr(len(remaining)) {
			chunk = uintptr(len(remaining))
		}
		phys, err := as.Translate(addr)
		if err != nil {
			return err
		}
		physBytes := as.alloc.BytesAt(phys, int(chunk))
		if toUser {
			copy(physBytes, remaining[:chunk])
		} else {
			copy(remaining[:chunk], physBytes)
		}
		addr += chunk
		remaining = remaining[chunk:]
	}
	return nil
}
