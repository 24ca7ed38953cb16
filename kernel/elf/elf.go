// Package elf implements the ELF64 loader (spec §4.12): header and program
// header validation against the closed set this core accepts, and a
// two-phase page loader that maps each PT_LOAD segment writable to receive
// its file bytes before remapping it to its final, possibly read-only and
// executable, protection.
//
// The teacher has no ELF loader of its own (it boots a single freestanding
// kernel image handed to it by the bootloader), so the header layout and
// constant set here are grounded on the standard library's debug/elf
// instead: the same encoding/binary approach kernel/mem/vmm uses to decode
// page-table entries in place of unsafe.Pointer casts is used here to
// decode ELF64 structures out of a module's raw bytes.
package elf

import (
	"debug/elf"
	"encoding/binary"

	"github.com/HTRMC/Graphene-Kernel/kernel"
	"github.com/HTRMC/Graphene-Kernel/kernel/mem"
	"github.com/HTRMC/Graphene-Kernel/kernel/mem/pmm"
	"github.com/HTRMC/Graphene-Kernel/kernel/mem/vmm"
)

const (
	ehdrSize = 64
	phdrSize = 56
)

var (
	// ErrBadMagic is returned when the file does not open with 0x7F 'E' 'L' 'F'.
	ErrBadMagic = &kernel.Error{Module: "elf", Message: "bad ELF magic"}
	// ErrBadClass is returned for anything but a 64-bit object.
	ErrBadClass = &kernel.Error{Module: "elf", Message: "not a 64-bit ELF object"}
	// ErrBadEncoding is returned for anything but little-endian.
	ErrBadEncoding = &kernel.Error{Module: "elf", Message: "not a little-endian ELF object"}
	// ErrBadType is returned for an e_type outside {ET_EXEC, ET_DYN}.
	ErrBadType = &kernel.Error{Module: "elf", Message: "unsupported ELF type"}
	// ErrBadMachine is returned when e_machine is not x86-64.
	ErrBadMachine = &kernel.Error{Module: "elf", Message: "unsupported ELF machine"}
	// ErrBadVersion is returned when e_version is not EV_CURRENT.
	ErrBadVersion = &kernel.Error{Module: "elf", Message: "unsupported ELF version"}
	// ErrTruncated is returned when the file is too short to hold the
	// header it claims, or a program header table overruns the file.
	ErrTruncated = &kernel.Error{Module: "elf", Message: "truncated ELF file"}
	// ErrNoProgramHeaders is returned when e_phnum is zero.
	ErrNoProgramHeaders = &kernel.Error{Module: "elf", Message: "ELF file has no program headers"}
	// ErrSegmentOutOfFile is returned when a PT_LOAD segment's file range
	// falls outside the file.
	ErrSegmentOutOfFile = &kernel.Error{Module: "elf", Message: "PT_LOAD segment out of file bounds"}
	// ErrSegmentOutOfUser is returned when a PT_LOAD segment's virtual
	// range falls outside user space.
	ErrSegmentOutOfUser = &kernel.Error{Module: "elf", Message: "PT_LOAD segment outside user address space"}
	// ErrWriteExecute is returned when a PT_LOAD segment requests both W and X.
	ErrWriteExecute = &kernel.Error{Module: "elf", Message: "PT_LOAD segment may not be both writable and executable"}
)

// ProgramHeader is the subset of an Elf64_Phdr this core inspects.
type ProgramHeader struct {
	Type   elf.ProgType
	Flags  elf.ProgFlag
	Offset uint64
	Vaddr  uint64
	Filesz uint64
	Memsz  uint64
}

// Image is a validated, decoded ELF64 object ready for Load.
type Image struct {
	Entry   uint64
	Data    []byte
	Program []ProgramHeader
}

// Parse validates an ELF64 header and program header table against the
// closed set spec §4.12 "Validation" accepts, and returns the decoded
// Image on success.
func Parse(data []byte) (*Image, *kernel.Error) {
	if len(data) < ehdrSize {
		return nil, ErrTruncated
	}
	if data[0] != 0x7F || data[1] != 'E' || data[2] != 'L' || data[3] != 'F' {
		return nil, ErrBadMagic
	}
	if elf.Class(data[4]) != elf.ELFCLASS64 {
		return nil, ErrBadClass
	}
	if elf.Data(data[5]) != elf.ELFDATA2LSB {
		return nil, ErrBadEncoding
	}
	if elf.Version(data[6]) != elf.EV_CURRENT {
		return nil, ErrBadVersion
	}

	eType := elf.Type(binary.LittleEndian.Uint16(data[16:18]))
	if eType != elf.ET_EXEC && eType != elf.ET_DYN {
		return nil, ErrBadType
	}
	if elf.Machine(binary.LittleEndian.Uint16(data[18:20])) != elf.EM_X86_64 {
		return nil, ErrBadMachine
	}
	if elf.Version(binary.LittleEndian.Uint32(data[20:24])) != elf.EV_CURRENT {
		return nil, ErrBadVersion
	}

	entry := binary.LittleEndian.Uint64(data[24:32])
	phoff := binary.LittleEndian.Uint64(data[32:40])
	phnum := binary.LittleEndian.Uint16(data[56:58])

	if phnum == 0 {
		return nil, ErrNoProgramHeaders
	}
	tableEnd := phoff + uint64(phnum)*uint64(phdrSize)
	if phoff > uint64(len(data)) || tableEnd > uint64(len(data)) {
		return nil, ErrTruncated
	}

	img := &Image{Entry: entry, Data: data, Program: make([]ProgramHeader, 0, phnum)}
	for i := uint16(0); i < phnum; i++ {
		base := phoff + uint64(i)*uint64(phdrSize)
		ph := ProgramHeader{
			Type:   elf.ProgType(binary.LittleEndian.Uint32(data[base : base+4])),
			Flags:  elf.ProgFlag(binary.LittleEndian.Uint32(data[base+4 : base+8])),
			Offset: binary.LittleEndian.Uint64(data[base+8 : base+16]),
			Vaddr:  binary.LittleEndian.Uint64(data[base+16 : base+24]),
			Filesz: binary.LittleEndian.Uint64(data[base+32 : base+40]),
			Memsz:  binary.LittleEndian.Uint64(data[base+40 : base+48]),
		}
		if ph.Type != elf.PT_LOAD {
			img.Program = append(img.Program, ph)
			continue
		}
		if err := validateLoadSegment(ph, uint64(len(data))); err != nil {
			return nil, err
		}
		img.Program = append(img.Program, ph)
	}
	return img, nil
}

func validateLoadSegment(ph ProgramHeader, fileLen uint64) *kernel.Error {
	if ph.Offset > fileLen || ph.Offset+ph.Filesz > fileLen {
		return ErrSegmentOutOfFile
	}
	if ph.Filesz > ph.Memsz {
		return ErrSegmentOutOfFile
	}
	start := uintptr(ph.Vaddr)
	end := start + uintptr(ph.Memsz)
	if start < vmm.UserBase || end > vmm.UserTop {
		return ErrSegmentOutOfUser
	}
	if ph.Flags&elf.PF_W != 0 && ph.Flags&elf.PF_X != 0 {
		return ErrWriteExecute
	}
	return nil
}

func regionFlagsFor(f elf.ProgFlag) vmm.RegionFlag {
	flags := vmm.RegionUser
	if f&elf.PF_R != 0 {
		flags |= vmm.RegionRead
	}
	if f&elf.PF_W != 0 {
		flags |= vmm.RegionWrite
	}
	if f&elf.PF_X != 0 {
		flags |= vmm.RegionExecute
	}
	return flags
}

// LoadResult carries the three values spec §4.12 "Loading" says a load
// produces.
type LoadResult struct {
	EntryPoint uintptr
	Lowest     uintptr
	Highest    uintptr
}

// Load maps every PT_LOAD segment of img into as, per spec §4.12
// "Loading": each page is allocated, mapped temporarily writable, zeroed,
// and filled from the overlapping file range; once a segment's pages are
// all copied, read-execute (no-write) segments are remapped to their final
// protection.
func Load(as *vmm.AddressSpace, alloc *pmm.Allocator, img *Image) (LoadResult, *kernel.Error) {
	var result LoadResult
	haveRange := false

	for _, ph := range img.Program {
		if ph.Type != elf.PT_LOAD || ph.Memsz == 0 {
			continue
		}

		segStart := mem.AlignDown(uintptr(ph.Vaddr))
		segEnd := mem.AlignUp(uintptr(ph.Vaddr) + uintptr(ph.Memsz))
		pageCount := int((segEnd - segStart) / uintptr(mem.PageSize))

		writableFlags := vmm.RegionRead | vmm.RegionWrite | vmm.RegionUser
		if err := as.MapRegionAlloc(segStart, pageCount, writableFlags); err != nil {
			return LoadResult{}, err
		}

		region, _ := as.RegionContaining(segStart)
		for i, frame := range region.Frames {
			pageAddr := segStart + uintptr(i)*uintptr(mem.PageSize)
			dst := alloc.FrameBytes(frame)
			copyFileRange(dst, pageAddr, ph, img.Data)
		}

		// Every page was mapped writable to receive its file data
		// regardless of the segment's real protection; drop write now
		// that copying is complete for any segment not meant to stay
		// writable (spec §4.12 "Loading").
		finalFlags := regionFlagsFor(ph.Flags)
		if !finalFlags.Has(vmm.RegionWrite) {
			if err := as.Protect(segStart, finalFlags); err != nil {
				return LoadResult{}, err
			}
		}

		if !haveRange || segStart < result.Lowest {
			result.Lowest = segStart
		}
		if segEnd > result.Highest {
			result.Highest = segEnd
		}
		haveRange = true
	}

	result.EntryPoint = uintptr(img.Entry)
	return result, nil
}

// copyFileRange fills one already-zeroed destination page with whatever
// portion of ph's file bytes (p_offset .. p_offset+p_filesz) overlaps the
// page at pageAddr.
func copyFileRange(dst []byte, pageAddr uintptr, ph ProgramHeader, file []byte) {
	segFileStart := uintptr(ph.Vaddr)
	segFileEnd := segFileStart + uintptr(ph.Filesz)
	pageEnd := pageAddr + uintptr(mem.PageSize)

	overlapStart := segFileStart
	if pageAddr > overlapStart {
		overlapStart = pageAddr
	}
	overlapEnd := segFileEnd
	if pageEnd < overlapEnd {
		overlapEnd = pageEnd
	}
	if overlapStart >= overlapEnd {
		return
	}

	fileOff := ph.Offset + uint64(overlapStart-segFileStart)
	dstOff := overlapStart - pageAddr
	n := overlapEnd - overlapStart
	copy(dst[dstOff:dstOff+n], file[fileOff:fileOff+uint64(n)])
}
