package kernel

import "sync"

// WorkKind distinguishes the two cross-CPU work variants (spec.md
// §4.H): a TLB flush and a remote thread destroy. Only WorkFlushTLB
// items are issued, by UpdatePD; DeleteThread removes a thread from
// its CPU's scheduler directly under the big lock and issues no
// WorkDestroyThread item.
type WorkKind int

const (
	WorkFlushTLB WorkKind = iota
	WorkDestroyThread
)

// WorkState tracks a cross-CPU work item from issue to completion.
type WorkState int

const (
	WorkCreated WorkState = iota
	WorkPending
	WorkCompleted
)

// CrossCpuWork is a unit of work that must run on every CPU named in
// its target set before the issuing syscall can return, mirroring the
// original's broadcast-and-wait TLB shoot-down and remote
// thread-destroy operations.
type CrossCpuWork struct {
	mu sync.Mutex

	kind  WorkKind
	state WorkState

	// remaining is the set of CPU ids that still have to execute this
	// item; it empties as each CPU's IPI handler runs it.
	remaining map[int]bool

	pd   *Pd
	addr uint64
	size uint64

	target *Thread

	done chan struct{}
}

func newCrossCpuWork(kind WorkKind, cpuIDs []int) *CrossCpuWork {
	remaining := make(map[int]bool, len(cpuIDs))
	for _, id := range cpuIDs {
		remaining[id] = true
	}
	return &CrossCpuWork{kind: kind, state: WorkCreated, remaining: remaining, done: make(chan struct{})}
}

// ackCPU marks cpuID's share of the work complete. The final
// acknowledgement closes done, releasing whoever is waiting on Wait.
func (w *CrossCpuWork) ackCPU(cpuID int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == WorkCompleted {
		return
	}
	delete(w.remaining, cpuID)
	w.state = WorkPending
	if len(w.remaining) == 0 {
		w.state = WorkCompleted
		close(w.done)
	}
}

// Wait blocks the issuing goroutine until every targeted CPU has
// acknowledged. Safe to call before any CPU has started: an empty
// target set completes immediately.
func (w *CrossCpuWork) Wait() {
	w.mu.Lock()
	empty := len(w.remaining) == 0
	w.mu.Unlock()
	if empty {
		return
	}
	<-w.done
}

// WorkQueue is one CPU's inbox of cross-CPU work items delivered by
// IPI. inFlight de-dups IPIs the way the original avoids re-triggering
// an interrupt a target CPU hasn't yet drained: TriggerIPI is only
// issued for a CPU that does not already have one outstanding.
type WorkQueue struct {
	mu       sync.Mutex
	items    []*CrossCpuWork
	inFlight bool
}

func newWorkQueue() *WorkQueue { return &WorkQueue{} }

func (q *WorkQueue) push(w *CrossCpuWork) {
	q.mu.Lock()
	q.items = append(q.items, w)
	q.mu.Unlock()
}

// drain removes and returns every item queued so far, clearing
// inFlight so a subsequent push will trigger a fresh IPI.
func (q *WorkQueue) drain() []*CrossCpuWork {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	q.inFlight = false
	return items
}

// needsIPI reports whether this push is the one that must trigger an
// interrupt, latching inFlight until the target CPU drains.
func (q *WorkQueue) needsIPI() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.inFlight {
		return false
	}
	q.inFlight = true
	return true
}

// IRQTrigger is a user IRQ's sensing mode.
type IRQTrigger int

const (
	IRQLevel IRQTrigger = iota
	IRQEdge
)

// IRQPolarity is a user IRQ's active sense.
type IRQPolarity int

const (
	IRQHigh IRQPolarity = iota
	IRQLow
)

// UserIRQ binds a physical interrupt line to a signal context
// (spec.md §4.H). The masking invariant is load-bearing: the line
// stays masked from the moment it fires until the handler explicitly
// acks it, so a level-triggered line that a slow handler hasn't
// serviced yet cannot storm the kernel with repeat deliveries.
type UserIRQ struct {
	handle   Handle
	number   int
	trigger  IRQTrigger
	polarity IRQPolarity
	ctx      *SignalContext
	enabled  bool
}

func newUserIRQ(handle Handle, number int, trigger IRQTrigger, polarity IRQPolarity, ctx *SignalContext) *UserIRQ {
	return &UserIRQ{handle: handle, number: number, trigger: trigger, polarity: polarity, ctx: ctx, enabled: true}
}

func (i *UserIRQ) Handle() Handle { return i.handle }
func (i *UserIRQ) Number() int    { return i.number }
func (i *UserIRQ) Enabled() bool  { return i.enabled }

// fire masks the line and submits one occurrence to its context. A
// masked line that fires again before being acked is simply dropped
// at the arch layer, never queued twice here.
func (i *UserIRQ) fire() {
	if !i.enabled {
		return
	}
	i.enabled = false
	i.ctx.submit(1)
}

// ack unmasks the line once its handler has serviced the delivery.
func (i *UserIRQ) ack() { i.enabled = true }
