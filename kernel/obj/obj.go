// Package obj implements the kernel object model (spec §3, §4.5): a
// closed-set type tag, refcount and generation on every kernel object, and a
// generic fixed-capacity pool that every finite object kind is allocated
// from.
package obj

// Type identifies the kind of a kernel object. The set is closed; capability
// lookups that request a specific Type reject anything else with a distinct
// error from a missing-rights failure (spec §4.5 invariant d).
type Type uint8

// The closed set of object types (spec §3 "Object header").
const (
	TypeNone Type = iota
	TypeMemory
	TypeThread
	TypeProcess
	TypeEndpoint
	TypeChannel
	TypeIrq
	TypeIoPort
	TypeDeviceMMIO
)

// String renders t for logging.
func (t Type) String() string {
	switch t {
	case TypeNone:
		return "none"
	case TypeMemory:
		return "memory"
	case TypeThread:
		return "thread"
	case TypeProcess:
		return "process"
	case TypeEndpoint:
		return "ipc_endpoint"
	case TypeChannel:
		return "ipc_channel"
	case TypeIrq:
		return "irq"
	case TypeIoPort:
		return "ioport"
	case TypeDeviceMMIO:
		return "device_mmio"
	default:
		return "unknown"
	}
}

// Header is embedded at the start of every kernel object. A capability
// remains valid iff the referenced object's Destroyed is false and the
// capability's generation equals the object's generation (spec §3 "Object
// header" invariant).
type Header struct {
	Type      Type
	Refcount  uint32
	Generation uint32
	Destroyed bool
}

// Ref increments the object's refcount. Reclaim only happens when the
// refcount returns to zero (spec §3 invariant: "Refcount reaching zero is
// the only path to reclaim").
func (h *Header) Ref() { h.Refcount++ }

// Unref decrements the object's refcount and reports whether it reached
// zero, at which point the caller is responsible for reclaiming the object.
func (h *Header) Unref() bool {
	if h.Refcount == 0 {
		return true
	}
	h.Refcount--
	return h.Refcount == 0
}

// Invalidate bumps the generation (saturating-wrap, per spec §3) and marks
// the object destroyed. Every capability referencing the object at a stale
// generation now fails lookup.
func (h *Header) Invalidate() {
	if h.Generation == ^uint32(0) {
		h.Generation = 0
	} else {
		h.Generation++
	}
	h.Destroyed = true
}

// IsLive reports whether the object has not been destroyed. It does not
// check a generation; GenerationMatches does that separately.
func (h *Header) IsLive() bool { return !h.Destroyed }

// GenerationMatches reports whether gen is the object's current generation.
func (h *Header) GenerationMatches(gen uint32) bool { return h.Generation == gen }
