package obj

import "testing"

func TestHeaderRefcount(t *testing.T) {
	h := &Header{Type: TypeThread}

	h.Ref()
	h.Ref()
	if h.Unref() {
		t.Fatal("expected Unref to report non-zero refcount")
	}
	if !h.Unref() {
		t.Fatal("expected Unref to report zero refcount on last release")
	}
}

func TestHeaderInvalidate(t *testing.T) {
	h := &Header{Type: TypeEndpoint, Generation: 5}

	h.Invalidate()

	if !h.Destroyed {
		t.Fatal("expected Destroyed to be set")
	}
	if h.Generation != 6 {
		t.Fatalf("expected generation to bump to 6, got %d", h.Generation)
	}
	if h.IsLive() {
		t.Fatal("expected IsLive to be false after Invalidate")
	}
}

func TestHeaderGenerationWraps(t *testing.T) {
	h := &Header{Generation: ^uint32(0)}

	h.Invalidate()

	if h.Generation != 0 {
		t.Fatalf("expected generation to saturating-wrap to 0, got %d", h.Generation)
	}
}

func TestHeaderGenerationMatches(t *testing.T) {
	h := &Header{Generation: 3}

	if !h.GenerationMatches(3) {
		t.Fatal("expected generation 3 to match")
	}
	if h.GenerationMatches(4) {
		t.Fatal("expected generation 4 not to match")
	}
}

func TestTypeString(t *testing.T) {
	cases := map[Type]string{
		TypeNone:       "none",
		TypeMemory:     "memory",
		TypeThread:     "thread",
		TypeProcess:    "process",
		TypeEndpoint:   "ipc_endpoint",
		TypeChannel:    "ipc_channel",
		TypeIrq:        "irq",
		TypeIoPort:     "ioport",
		TypeDeviceMMIO: "device_mmio",
	}
	for typ, want := range cases {
		if got := typ.String(); got != want {
			t.Errorf("Type(%d).String() = %q, want %q", typ, got, want)
		}
	}
}
