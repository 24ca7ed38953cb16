package elf

import (
	"github.com/HTRMC/Graphene-Kernel/kernel"
	"github.com/HTRMC/Graphene-Kernel/kernel/boot"
	"github.com/HTRMC/Graphene-Kernel/kernel/mem"
	"github.com/HTRMC/Graphene-Kernel/kernel/mem/vmm"
	"github.com/HTRMC/Graphene-Kernel/kernel/proc"
)

// defaultNice and defaultQuantum size the main thread of every
// module-loaded process; a real process_create path would take these from
// its caller, but a bootloader-loaded module has no caller.
const (
	defaultNice    int8   = 0
	defaultQuantum uint64 = 10
)

// LoadModule parses and loads a bootloader-supplied module (spec §6
// "Bootloader contract": "optional loadable modules") into a fresh process:
// a new address space with the image's PT_LOAD segments mapped per
// Load, a user stack, and one ready main thread pointed at the image's
// entry point.
func LoadModule(m *proc.Manager, mod boot.Module) (*proc.Process, *kernel.Error) {
	img, err := Parse(mod.Data)
	if err != nil {
		return nil, err
	}

	p, err := m.NewProcess(mod.Name, nil, 0)
	if err != nil {
		return nil, err
	}

	result, err := Load(p.AddressSpace, m.Allocator(), img)
	if err != nil {
		m.DestroyProcess(p, -1)
		return nil, err
	}

	stackPages := int(vmm.DefaultStackLen / uintptr(mem.PageSize))
	stackBase := vmm.UserStackTop - vmm.DefaultStackLen
	if err := p.AddressSpace.MapRegionAlloc(stackBase, stackPages, vmm.RegionRead|vmm.RegionWrite|vmm.RegionUser); err != nil {
		m.DestroyProcess(p, -1)
		return nil, err
	}

	t, err := m.NewThread(p, result.EntryPoint, 0, defaultNice, defaultQuantum)
	if err != nil {
		m.DestroyProcess(p, -1)
		return nil, err
	}
	t.UserSP = vmm.UserStackTop

	return p, nil
}
