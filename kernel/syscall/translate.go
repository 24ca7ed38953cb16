package syscall

import (
	"github.com/HTRMC/Graphene-Kernel/kernel"
	"github.com/HTRMC/Graphene-Kernel/kernel/capability"
	"github.com/HTRMC/Graphene-Kernel/kernel/ipc"
	"github.com/HTRMC/Graphene-Kernel/kernel/irq"
	"github.com/HTRMC/Graphene-Kernel/kernel/mem/heap"
	"github.com/HTRMC/Graphene-Kernel/kernel/mem/pmm"
	"github.com/HTRMC/Graphene-Kernel/kernel/mem/vmm"
	"github.com/HTRMC/Graphene-Kernel/kernel/proc"
)

// translate funnels a subsystem's tagged *kernel.Error to the stable ABI
// enumeration exactly once, at the syscall boundary (spec §7). Every
// subsystem's package-level sentinel errors are matched by pointer
// identity; anything unrecognized (a subsystem this table hasn't been
// taught about yet) maps conservatively to invalid_argument.
func translate(err *kernel.Error) Errno {
	if err == nil {
		return Success
	}
	switch err {
	case capability.ErrSlotOutOfRange, capability.ErrSlotEmpty, capability.ErrStale:
		return ErrInvalidCapability
	case capability.ErrTypeMismatch:
		return ErrTypeMismatch
	case capability.ErrMissingRights:
		return ErrPermissionDenied
	case capability.ErrTableFull:
		return ErrTableFull

	case vmm.ErrRegionOverlap, vmm.ErrOutOfRange, vmm.ErrBufferRange, vmm.ErrNotMapped:
		return ErrInvalidArgument
	case vmm.ErrWriteExecute, vmm.ErrPermission:
		return ErrPermissionDenied
	case vmm.ErrNoSuchRegion:
		return ErrNotFound

	case pmm.ErrOutOfMemory, heap.ErrOutOfMemory:
		return ErrOutOfMemory

	case ipc.ErrEndpointClosed:
		return ErrNotFound
	case ipc.ErrQueueFull:
		return ErrWouldBlock
	case ipc.ErrCapTransferDenied:
		return ErrPermissionDenied

	case irq.ErrLineOutOfRange, irq.ErrLineExists, irq.ErrLineEmpty:
		return ErrInvalidArgument

	case proc.ErrThreadLimit:
		return ErrTableFull
	case proc.ErrNoKernelProcess:
		return ErrNotFound

	default:
		return ErrInvalidArgument
	}
}
