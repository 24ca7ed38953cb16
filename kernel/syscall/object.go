package syscall

import "github.com/HTRMC/Graphene-Kernel/kernel/obj"

// MemoryObject is the capability target behind the syscall table's "memory"
// capability class (spec §6: mem_map's "memory·{R,W,X as requested}" and
// process_create's image_cap): a rights-gated blob of bytes. Read/Write/
// Execute rights on the owning capability gate which mem_map flag
// combinations it may back; for an image_cap, Data holds the ELF64 image
// process_create loads.
type MemoryObject struct {
	Hdr  obj.Header
	Data []byte
}

// NewMemoryObject wraps data as a capability-referenceable memory object.
func NewMemoryObject(data []byte) *MemoryObject {
	return &MemoryObject{Hdr: obj.Header{Type: obj.TypeMemory}, Data: data}
}

// Header satisfies capability.Object.
func (m *MemoryObject) Header() *obj.Header { return &m.Hdr }

// IOPortRange is the capability target behind io_port_read/io_port_write's
// "ioport" capability class (spec §6): an inclusive [Base, End] range of
// port numbers the holder may access, gated by the Read/Write rights on the
// capability referencing it.
type IOPortRange struct {
	Hdr  obj.Header
	Base uint16
	End  uint16
}

// NewIOPortRange returns an IOPortRange covering [base, end].
func NewIOPortRange(base, end uint16) *IOPortRange {
	return &IOPortRange{Hdr: obj.Header{Type: obj.TypeIoPort}, Base: base, End: end}
}

// Header satisfies capability.Object.
func (p *IOPortRange) Header() *obj.Header { return &p.Hdr }

// Contains reports whether port falls within the range.
func (p *IOPortRange) Contains(port uint16) bool { return port >= p.Base && port <= p.End }
