// Package archif defines the narrow collaborator interface the core
// consumes from architecture-specific code: TLB/cache maintenance, IPI
// delivery, and a one-shot microsecond timer. Genode's base-hw core
// hand-inlines these as `arch::` assembly; here they are a Go
// interface so the kernel stays architecture-agnostic and testable
// against a fake.
package archif

import "time"

// PDHandle identifies a protection domain to the architecture backend
// without pulling the kernel package into this one (which would
// create an import cycle, since kernel depends on archif).
type PDHandle uint64

// Arch is the set of operations the core needs from the platform it
// runs on. A real backend (not provided by this module: the platform
// boundary is an external collaborator per the spec) would program an
// MMU and interrupt controller; tests and the in-process simulator use
// fakearch.Arch.
type Arch interface {
	// FlushTLBPID invalidates the TLB range [addr, addr+size) for the
	// address space identified by pd, on the calling CPU.
	FlushTLBPID(pd PDHandle, addr, size uint64)

	// InvalidateICache invalidates the instruction cache on the
	// calling CPU.
	InvalidateICache()

	// TriggerIPI raises an inter-processor interrupt on cpu.
	TriggerIPI(cpu int)

	// WaitForInterrupt parks the calling CPU in a low-power wait until
	// the next interrupt (used by the idle context).
	WaitForInterrupt()
}

// Timer is a one-shot, microsecond-resolution timer owned by a single
// CPU.
type Timer interface {
	// Arm schedules a one-shot expiry after d, replacing any
	// previously armed expiry. c receives exactly one value when the
	// timer fires.
	Arm(d time.Duration) <-chan struct{}

	// Now returns the timer's notion of elapsed microseconds since an
	// arbitrary epoch, used for `time` and timeout bookkeeping.
	Now() uint64
}
