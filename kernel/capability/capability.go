// Package capability implements the per-process capability table (spec §3
// "Capability table", §4.5): a dense array of slots tying an object
// reference to a rights mask and a generation, validated against the
// referenced object's own generation on every lookup.
package capability

import (
	"github.com/HTRMC/Graphene-Kernel/kernel"
	"github.com/HTRMC/Graphene-Kernel/kernel/obj"
)

// Rights is a bitmask of operations a capability permits.
type Rights uint8

// Rights bits (spec §3 "Capability table").
const (
	Read Rights = 1 << iota
	Write
	Execute
	Send
	Handle
	Grant
)

// Has reports whether r includes every bit of want.
func (r Rights) Has(want Rights) bool { return r&want == want }

// Table capacity, a design parameter (spec §9 "Pool sizing": "1024 cap
// slots per process").
const Capacity = 1024

var (
	// ErrSlotOutOfRange is returned for a slot index outside [0, Capacity).
	ErrSlotOutOfRange = &kernel.Error{Module: "capability", Message: "slot out of range"}
	// ErrSlotEmpty is returned when a slot has no capability installed.
	ErrSlotEmpty = &kernel.Error{Module: "capability", Message: "slot is empty"}
	// ErrStale is returned when a capability's generation no longer matches its object.
	ErrStale = &kernel.Error{Module: "capability", Message: "capability is stale"}
	// ErrTypeMismatch is returned when a lookup requests a type the capability does not have.
	ErrTypeMismatch = &kernel.Error{Module: "capability", Message: "object type mismatch"}
	// ErrMissingRights is returned when a lookup requires rights the capability lacks.
	ErrMissingRights = &kernel.Error{Module: "capability", Message: "missing required rights"}
	// ErrTableFull is returned by Insert when every slot is occupied.
	ErrTableFull = &kernel.Error{Module: "capability", Message: "capability table full"}
)

// Object is the minimal surface a capability's target must expose: a
// pointer to its own generation/liveness header for validation. There is no
// release callback; dropping a capability only unrefs that header.
type Object interface {
	Header() *obj.Header
}

// slot is one entry of the dense capability array.
type slot struct {
	used       bool
	objType    obj.Type
	rights     Rights
	generation uint32
	object     Object
}

// Table is a dense, fixed-capacity array of capability slots plus a
// used-slot bitmap and a next-free-slot hint (spec §3).
type Table struct {
	slots [Capacity]slot
	hint  int
}

// New returns an empty capability table.
func New() *Table { return &Table{} }

func inRange(idx int) bool { return idx >= 0 && idx < Capacity }

// Insert stores a new capability referencing obj with the given rights in
// the first free slot found scanning from the table's next-free hint
// (wrapping around), refs the object, and returns the slot index.
func (t *Table) Insert(o Object, rights Rights) (int, *kernel.Error) {
	for i := 0; i < Capacity; i++ {
		idx := (t.hint + i) % Capacity
		if !t.slots[idx].used {
			h := o.Header()
			t.slots[idx] = slot{
				used:       true,
				objType:    h.Type,
				rights:     rights,
				generation: h.Generation,
				object:     o,
			}
			h.Ref()
			t.hint = idx + 1
			return idx, nil
		}
	}
	return -1, ErrTableFull
}

// isValid reports whether the slot's capability still validates against its
// object: not destroyed, refcount held, generation matches (spec §4.5
// invariant a and Lookup's validity check).
func (s *slot) isValid() bool {
	if !s.used {
		return false
	}
	h := s.object.Header()
	return h.IsLive() && h.Refcount > 0 && h.GenerationMatches(s.generation)
}

// Lookup validates slot and returns its object, per spec §4.5 "Lookup":
// range check, used check, validity check, optional type check, then rights
// check. Type mismatch and missing rights are distinct errors.
func (t *Table) Lookup(slotIdx int, wantType obj.Type, required Rights) (Object, *kernel.Error) {
	if !inRange(slotIdx) {
		return nil, ErrSlotOutOfRange
	}
	s := &t.slots[slotIdx]
	if !s.used {
		return nil, ErrSlotEmpty
	}
	if !s.isValid() {
		return nil, ErrStale
	}
	if wantType != obj.TypeNone && s.objType != wantType {
		return nil, ErrTypeMismatch
	}
	if !s.rights.Has(required) {
		return nil, ErrMissingRights
	}
	return s.object, nil
}

// Copy installs a new capability at dst's next free slot (see Insert) that
// references the same object as src's slotIdx, masking rights down —
// never up (spec §4.5 invariant b: "copy(src, dst, mask) stores src.rights
// ∧ mask").
func (t *Table) Copy(slotIdx int, dst *Table, mask Rights) (int, *kernel.Error) {
	if !inRange(slotIdx) {
		return -1, ErrSlotOutOfRange
	}
	s := &t.slots[slotIdx]
	if !s.used {
		return -1, ErrSlotEmpty
	}
	if !s.isValid() {
		return -1, ErrStale
	}
	return dst.Insert(s.object, s.rights&mask)
}

// Delete unrefs the object at slotIdx and clears the slot, without
// affecting the object's liveness for other capabilities referencing it
// (spec §4.5 invariant c: "each delete unrefs").
func (t *Table) Delete(slotIdx int) *kernel.Error {
	if !inRange(slotIdx) {
		return ErrSlotOutOfRange
	}
	s := &t.slots[slotIdx]
	if !s.used {
		return ErrSlotEmpty
	}
	s.object.Header().Unref()
	*s = slot{}
	return nil
}

// Revoke invalidates the object at slotIdx (generation bump + destroyed),
// unrefs it, and clears the slot. Any other capability table referencing
// the same object now fails Lookup because the stored generation no longer
// matches (spec §4.5 "Revocation").
func (t *Table) Revoke(slotIdx int) *kernel.Error {
	if !inRange(slotIdx) {
		return ErrSlotOutOfRange
	}
	s := &t.slots[slotIdx]
	if !s.used {
		return ErrSlotEmpty
	}
	s.object.Header().Invalidate()
	s.object.Header().Unref()
	*s = slot{}
	return nil
}

// Grant transfers the capability at slotIdx into dst's next free slot,
// requiring the source capability to carry the Grant right (spec §4.9
// "Capability transfer": "must have Grant right, else transfer aborts").
// The full source rights mask carries over; IPC message-level grant_mask
// narrowing is not part of this API surface.
func (t *Table) Grant(slotIdx int, dst *Table) (int, *kernel.Error) {
	if _, err := t.Lookup(slotIdx, obj.TypeNone, Grant); err != nil {
		return -1, err
	}
	return t.Copy(slotIdx, dst, ^Rights(0))
}

// Info returns the object type and rights mask stored at slotIdx, without
// requiring any particular right (spec §6 "cap_info | slot | — | type +
// rights").
func (t *Table) Info(slotIdx int) (obj.Type, Rights, *kernel.Error) {
	if !inRange(slotIdx) {
		return obj.TypeNone, 0, ErrSlotOutOfRange
	}
	s := &t.slots[slotIdx]
	if !s.used {
		return obj.TypeNone, 0, ErrSlotEmpty
	}
	if !s.isValid() {
		return obj.TypeNone, 0, ErrStale
	}
	return s.objType, s.rights, nil
}

// InUse reports whether slotIdx currently holds a capability.
func (t *Table) InUse(slotIdx int) bool {
	if !inRange(slotIdx) {
		return false
	}
	return t.slots[slotIdx].used
}
