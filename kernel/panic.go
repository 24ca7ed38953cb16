package kernel

import (
	"github.com/HTRMC/Graphene-Kernel/kernel/arch"
	"github.com/HTRMC/Graphene-Kernel/kernel/kfmt/early"
)

// Panicker implements the kernel-mode fatal-fault policy of spec §7: log the
// cause to the boot console, then halt the CPU. Calls to Panic never return
// on a real backend. Panicker is owned by the Kernel value that created it —
// unlike the teacher's package-level cpuHaltFn indirection, there is no
// global here, so two Kernel instances in the same test binary never share
// halt state.
type Panicker struct {
	Log  *early.Logger
	Arch arch.Arch
}

// NewPanicker returns a Panicker bound to the given console logger and arch backend.
func NewPanicker(log *early.Logger, a arch.Arch) *Panicker {
	return &Panicker{Log: log, Arch: a}
}

var errRuntimePanic = &Error{Module: "rt", Message: "unknown cause"}

// Panic outputs the supplied error (if not nil) to the console and halts the
// CPU.
func (p *Panicker) Panic(e interface{}) {
	var err *Error

	switch t := e.(type) {
	case *Error:
		err = t
	case string:
		p.panicString(t)
		return
	case error:
		err = &Error{Module: errRuntimePanic.Module, Message: t.Error()}
	case nil:
		err = nil
	default:
		err = errRuntimePanic
	}

	p.Log.Printf("\n-----------------------------------\n")
	if err != nil {
		p.Log.Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
	}
	p.Log.Printf("*** kernel panic: system halted ***")
	p.Log.Printf("\n-----------------------------------\n")

	p.Arch.DisableInterrupts()
	p.Arch.Halt()
}

func (p *Panicker) panicString(msg string) {
	p.Panic(&Error{Module: errRuntimePanic.Module, Message: msg})
}
