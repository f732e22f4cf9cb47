//go:build linux

// Package hostarch optionally pins a simulated CPU's goroutine to a
// real host core, grounded on the teacher pack's own
// golang.org/x/sys/unix.CPUSet affinity helper (aktau-perflock's
// internal/cpuset). It is unrelated to the archif.Arch/Timer
// interfaces the kernel package actually depends on for TLB/IPI/timer
// behavior -- those stay fully simulated -- this only changes which
// host thread a CPU's goroutine runs on.
package hostarch

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// PinCurrentOSThread locks the calling goroutine to its current OS
// thread and restricts that thread's scheduling affinity to exactly
// cpu. Intended to be called once, at the top of a per-simulated-CPU
// goroutine, before it enters its run loop.
func PinCurrentOSThread(cpu int) error {
	runtime.LockOSThread()
	var set unix.CPUSet
	set.Set(cpu)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		runtime.UnlockOSThread()
		return fmt.Errorf("hostarch: pin to cpu %d: %w", cpu, err)
	}
	return nil
}
