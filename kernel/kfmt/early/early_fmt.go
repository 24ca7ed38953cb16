// Package early provides the kernel's boot-time formatter. The original
// motivation for a hand-rolled, allocation-free printf (avoiding the Go
// allocator before it is bootstrapped on bare metal) does not apply to this
// hosted core, so Logger is a thin wrapper around fmt.Fprintf; the package
// keeps the teacher's shape — a small Logger bound to a console rather than a
// package-level global — so that every subsystem logs the same way.
package early

import (
	"fmt"
	"io"
)

// Logger writes formatted boot/diagnostic messages to a console. Unlike a
// package-level global, a Logger is owned by the Kernel value that created
// it, so tests never share console state across kernel instances.
type Logger struct {
	w io.Writer
}

// New returns a Logger that writes to w.
func New(w io.Writer) *Logger {
	return &Logger{w: w}
}

// Printf formats according to a format specifier and writes to the
// underlying console. Write errors are discarded: a boot console has no
// recovery path if it cannot accept output.
func (l *Logger) Printf(format string, args ...interface{}) {
	if l == nil || l.w == nil {
		return
	}
	fmt.Fprintf(l.w, format, args...)
}
