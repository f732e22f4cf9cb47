// Package kernelerr defines the closed set of error values a kernel
// syscall can report in arg0, per the error kinds enumerated for the
// core's syscall layer.
package kernelerr

import "errors"

var (
	// OutOfMemory is returned when a capability-slab allocation fails
	// during message copy or object construction.
	OutOfMemory = errors.New("kernel: out of memory")

	// Cancelled is returned to a caller whose IPC or signal wait was
	// cancelled out from under it.
	Cancelled = errors.New("kernel: operation cancelled")

	// InvalidArg covers a capability-id not found in the caller's PD, a
	// bad thread/PD/object reference, or a restricted syscall issued by
	// a non-core caller.
	InvalidArg = errors.New("kernel: invalid argument")

	// Dead is returned when an operation targets an object whose
	// identity reference is stale.
	Dead = errors.New("kernel: object is dead")

	// WouldBlock is not a true error: it reports that the caller has
	// been parked in an AWAITS_* state.
	WouldBlock = errors.New("kernel: would block")

	// Fatal marks misuse that terminates the calling thread outright
	// (_die in the original kernel).
	Fatal = errors.New("kernel: fatal misuse")
)

// Is reports whether err is, or wraps, target.
func Is(err, target error) bool { return errors.Is(err, target) }
