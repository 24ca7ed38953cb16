// Package syscall implements the syscall ABI dispatcher (spec §4.11, §6): a
// numbered switch over the closed request set, translating every
// subsystem's tagged errors to the stable ABI error enumeration exactly
// once, at this boundary (spec §7).
//
// The teacher has no user-mode syscall surface of its own (it never leaves
// ring 0), so the dispatch loop's shape — a numeric switch resolving the
// current process, validating arguments, delegating to a subsystem, and
// funneling every error kind to one small closed enum — is grounded on the
// same "resolve, validate, delegate, translate" structure kernel/ipc's Send
// and Recv already use internally, generalized here to a per-request table.
package syscall

// Errno is the stable, ABI-visible result code (spec §6 "Error enumeration
// (stable)"). Success is 0 or a non-negative count; every failure is one of
// the fixed negative values below.
type Errno int64

// The closed syscall error enumeration (spec §6).
const (
	Success              Errno = 0
	ErrInvalidSyscall    Errno = -1
	ErrInvalidCapability Errno = -2
	ErrPermissionDenied  Errno = -3
	ErrInvalidArgument   Errno = -4
	ErrOutOfMemory       Errno = -5
	ErrWouldBlock        Errno = -6
	ErrNotFound          Errno = -7
	ErrNotImplemented    Errno = -8
	ErrTypeMismatch      Errno = -9
	ErrTableFull         Errno = -10
)
