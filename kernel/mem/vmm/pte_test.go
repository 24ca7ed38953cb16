package vmm

import (
	"testing"

	"github.com/HTRMC/Graphene-Kernel/kernel/mem/pmm"
)

func TestPageTableEntryFrameRoundTrip(t *testing.T) {
	var e pageTableEntry
	f := pmm.Frame(0x123)

	e.SetFrame(f)
	e.SetFlags(FlagPresent | FlagRW)

	if got := e.Frame(); got != f {
		t.Fatalf("expected frame %#x, got %#x", f, got)
	}
	if !e.HasFlags(FlagPresent) || !e.HasFlags(FlagRW) {
		t.Fatal("expected Present and RW flags to be set")
	}
	if e.HasFlags(FlagUser) {
		t.Fatal("did not expect User flag to be set")
	}
}

func TestPageTableEntryClearFlags(t *testing.T) {
	var e pageTableEntry
	e.SetFlags(FlagPresent | FlagRW | FlagUser)
	e.ClearFlags(FlagRW)

	if e.HasFlags(FlagRW) {
		t.Fatal("expected RW flag to be cleared")
	}
	if !e.HasFlags(FlagPresent) || !e.HasFlags(FlagUser) {
		t.Fatal("expected Present and User flags to remain set")
	}
}
