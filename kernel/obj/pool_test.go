package obj

import "testing"

func TestPoolAcquireRelease(t *testing.T) {
	p := NewPool[int](4)

	if got, want := p.Capacity(), 4; got != want {
		t.Fatalf("expected capacity %d, got %d", want, got)
	}

	slot, v, err := p.Acquire()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	*v = 42
	if got := *p.At(slot); got != 42 {
		t.Fatalf("expected stored value 42, got %d", got)
	}
	if !p.InUseAt(slot) {
		t.Fatal("expected slot to be marked in-use")
	}

	p.Release(slot)
	if p.InUseAt(slot) {
		t.Fatal("expected slot to be marked free after release")
	}
	// Releasing twice is a no-op, not an error.
	p.Release(slot)
}

func TestPoolExhaustion(t *testing.T) {
	p := NewPool[int](2)

	if _, _, err := p.Acquire(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, _, err := p.Acquire(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, _, err := p.Acquire(); err != ErrPoolExhausted {
		t.Fatalf("expected ErrPoolExhausted, got %v", err)
	}

	if got, want := p.InUse(), 2; got != want {
		t.Fatalf("expected 2 slots in use, got %d", got)
	}
}

func TestPoolReuseAfterRelease(t *testing.T) {
	p := NewPool[int](1)

	slot, _, err := p.Acquire()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p.Release(slot)

	slot2, _, err := p.Acquire()
	if err != nil {
		t.Fatalf("unexpected error after release: %v", err)
	}
	if slot2 != slot {
		t.Fatalf("expected the freed slot %d to be reused, got %d", slot, slot2)
	}
}
