package kernel

import (
	"context"
	"sync"
	"time"

	"hwkernel/internal/archif"

	"github.com/sirupsen/logrus"
)

// CPU binds one Scheduler to the arch backend and the cross-CPU work
// inbox that targets it, and drives the head_timeout -> re-select ->
// re-arm loop that is the original's interrupt-driven main loop,
// expressed here as one goroutine per simulated CPU (spec.md §5).
type CPU struct {
	id int

	sched     *Scheduler
	idleShare *Share

	arch  archif.Arch
	timer archif.Timer
	work  *WorkQueue

	log *logrus.Entry
}

// NewCPU constructs CPU id with its own scheduler and idle share. quotaUS
// is the scheduler's round quota, fillUS its fill-ring slice.
func NewCPU(id int, quotaUS, fillUS uint32, arch archif.Arch, timer archif.Timer, log *logrus.Entry) *CPU {
	idle := NewShare("idle", Priority(0), 0)
	return &CPU{
		id:        id,
		sched:     NewScheduler(idle, quotaUS, fillUS),
		idleShare: idle,
		arch:      arch,
		timer:     timer,
		work:      newWorkQueue(),
		log:       log.WithField("cpu", id),
	}
}

func (c *CPU) ID() int              { return c.id }
func (c *CPU) Scheduler() *Scheduler { return c.sched }

// Head returns the thread the scheduler currently wants running on
// this CPU, or nil when the idle share is head.
func (c *CPU) Head() *Thread {
	sh := c.sched.Head()
	if sh == c.idleShare {
		return nil
	}
	return sh.Owner()
}

// EnqueueWork hands w to this CPU's inbox and reports whether the
// caller must actually trigger an IPI to wake it — already-pending
// work never needs a second interrupt.
func (c *CPU) EnqueueWork(w *CrossCpuWork) bool {
	c.work.push(w)
	return c.work.needsIPI()
}

// DrainWork runs every cross-CPU work item queued for this CPU,
// applying it through the arch backend, and acknowledges each one.
// Must be called with the kernel's big lock held.
func (c *CPU) DrainWork() {
	for _, w := range c.work.drain() {
		switch w.kind {
		case WorkFlushTLB:
			c.arch.FlushTLBPID(archif.PDHandle(w.pd.Handle().Index), w.addr, w.size)
		case WorkDestroyThread:
			c.arch.InvalidateICache()
		}
		w.ackCPU(c.id)
	}
}

// HandleFault records an MMU exception on t and parks it awaiting a
// pager-issued restart, mirroring the original's pause/inspect/resume
// handshake rather than routing faults through the signal subsystem.
func (c *CPU) HandleFault(sched *Scheduler, t *Thread, f Fault) {
	t.lastFault = f
	t.hasFault = true
	t.becomeInactive(sched, AwaitsRestart)
}

// Run is this CPU's main loop: wait for the current head's time
// slice to elapse or an IPI to arrive, then re-account and re-select
// under the kernel's single big lock. It returns when ctx is done.
func (c *CPU) Run(ctx context.Context, lock *sync.Mutex, ipi <-chan struct{}) {
	for {
		lock.Lock()
		quota := c.sched.HeadQuota()
		head := c.Head()
		lock.Unlock()

		if head != nil {
			c.log.WithField("thread", head.Label()).Debug("scheduling")
		}

		timeout := c.timer.Arm(time.Duration(quota) * time.Microsecond)

		select {
		case <-ctx.Done():
			return
		case <-timeout:
			lock.Lock()
			c.sched.HeadConsumed(quota)
			c.sched.HeadTimeout()
			c.DrainWork()
			c.sched.EndTurn()
			lock.Unlock()
		case <-ipi:
			lock.Lock()
			c.DrainWork()
			c.sched.EndTurn()
			lock.Unlock()
		}
	}
}
