package kernel

import "hwkernel/internal/config"

// State is a thread's position in the syscall/exception state machine
// (spec.md §4.E).
type State int

const (
	AwaitsStart State = iota
	Active
	AwaitsIPC
	AwaitsRestart
	AwaitsSignal
	AwaitsSignalContextKill
	Dead
)

func (s State) String() string {
	switch s {
	case AwaitsStart:
		return "AWAITS_START"
	case Active:
		return "ACTIVE"
	case AwaitsIPC:
		return "AWAITS_IPC"
	case AwaitsRestart:
		return "AWAITS_RESTART"
	case AwaitsSignal:
		return "AWAITS_SIGNAL"
	case AwaitsSignalContextKill:
		return "AWAITS_SIGNAL_CONTEXT_KILL"
	case Dead:
		return "DEAD"
	default:
		return "?"
	}
}

// FaultType classifies an MMU exception.
type FaultType int

const (
	FaultWrite FaultType = iota
	FaultExec
	FaultPageMissing
	FaultUnknown
)

// Fault is written to the pager's UTCB on an MMU exception.
type Fault struct {
	InstructionPointer uint64
	FaultAddress       uint64
	Type               FaultType
}

// Utcb is the per-thread, page-sized message buffer used for syscalls,
// IPC, and signal delivery.
type Utcb struct {
	caps        [config.MaxCapsPerMsg]CapID
	capCount    int
	payload     []byte
	destination CapID
}

func newUtcb() *Utcb { return &Utcb{payload: make([]byte, 0, 4096)} }

func (u *Utcb) CapCount() int     { return u.capCount }
func (u *Utcb) CapGet(i int) CapID {
	if i < 0 || i >= u.capCount {
		return CapIDInvalid
	}
	return u.caps[i]
}
func (u *Utcb) CapAdd(id CapID) {
	if u.capCount < len(u.caps) {
		u.caps[u.capCount] = id
		u.capCount++
	}
}
func (u *Utcb) ResetCaps()           { u.capCount = 0 }
func (u *Utcb) Destination() CapID    { return u.destination }
func (u *Utcb) SetDestination(c CapID) { u.destination = c }
func (u *Utcb) SetPayload(b []byte) {
	u.payload = append(u.payload[:0], b...)
}
func (u *Utcb) Payload() []byte { return u.payload }

// Timeout is a thread's single timeout slot: when it expires the
// kernel submits one signal to a caller-nominated context. The caller
// must re-arm explicitly.
type Timeout struct {
	ctx   *SignalContext
	armed bool
	stop  func()
}

// Thread is the kernel's user-visible execution-context abstraction
// and the syscall entry point (spec.md §4.E), a direct port of
// Genode's Kernel::Thread state machine.
type Thread struct {
	handle Handle
	label  string

	share *Share
	pd    *Pd
	utcb  *Utcb
	ipc   *IPCNode

	state  State
	paused bool
	core   bool

	pager               *Thread
	lastFault           Fault
	hasFault            bool
	signalContextKiller *SignalContext
	cancelNextAwaitOnce bool

	timeout Timeout

	cpu *CPU

	// rcvCapSlotsReserved is not updated by any kernel path: the
	// reservation ahead of an inbound IPC copy (spec.md §4.C) is
	// charged directly to the PD's capSlabUsed by translateCaps.
	rcvCapSlotsReserved int

	retval int64
}

func newThread(handle Handle, label string, prio Priority, quotaUS uint32, core bool) *Thread {
	t := &Thread{
		handle: handle,
		label:  label,
		share:  NewShare(label, prio, quotaUS),
		utcb:   newUtcb(),
		state:  AwaitsStart,
		core:   core,
	}
	t.share.setOwner(t)
	t.ipc = newIPCNode(t)
	return t
}

func (t *Thread) Handle() Handle  { return t.handle }
func (t *Thread) Label() string   { return t.label }
func (t *Thread) State() State    { return t.state }
func (t *Thread) Share() *Share   { return t.share }
func (t *Thread) PD() *Pd         { return t.pd }
func (t *Thread) Utcb() *Utcb     { return t.utcb }
func (t *Thread) IsCore() bool    { return t.core }
func (t *Thread) Paused() bool    { return t.paused }
func (t *Thread) SetRetval(v int64) { t.retval = v }
func (t *Thread) Retval() int64   { return t.retval }

// ownShareActive reports whether this thread's own scheduling share
// is currently the one carrying its execution (as opposed to having
// donated it away, or being an inactive helper further down a helping
// chain). Mirrors Cpu_job::own_share_active in the original.
func (t *Thread) ownShareActive() bool {
	return t.state == Active && !t.paused
}

// becomeActive activates the thread and, unless it is paused, its own
// scheduling share and every share it is owed through IPC helping.
func (t *Thread) becomeActive(sched *Scheduler) {
	if t.state != Active && !t.paused {
		t.activateUsedShares(sched)
	}
	t.state = Active
}

// becomeInactive deactivates the thread's used shares (unless
// paused, in which case they are already inactive) and moves it to s.
func (t *Thread) becomeInactive(sched *Scheduler, s State) {
	if t.state == Active && !t.paused {
		t.deactivateUsedShares(sched)
	}
	t.state = s
}

// activateUsedShares readies this thread's own share, then
// transitively every thread helping it via a SEND_HELPING IPC chain
// (spec.md §4.F helping).
func (t *Thread) activateUsedShares(sched *Scheduler) {
	if !t.share.ready {
		sched.Ready(t.share)
	}
	if t.ipc != nil {
		t.ipc.forEachHelper(func(h *Thread) { h.activateUsedShares(sched) })
	}
}

func (t *Thread) deactivateUsedShares(sched *Scheduler) {
	if t.share.ready {
		sched.Unready(t.share)
	}
	if t.ipc != nil {
		t.ipc.forEachHelper(func(h *Thread) { h.deactivateUsedShares(sched) })
	}
}

// die forcibly kills the thread: a fatal syscall misuse terminates the
// caller rather than propagating further (spec.md §7).
func (t *Thread) die(sched *Scheduler) {
	t.becomeInactive(sched, Dead)
}

// pause stops the thread's own share from consuming CPU time without
// changing its logical state, used by the debug pause/resume pair.
func (t *Thread) pause(sched *Scheduler) {
	if t.state == Active && !t.paused {
		t.deactivateUsedShares(sched)
	}
	t.paused = true
}

func (t *Thread) resume(sched *Scheduler) {
	if t.state == Active && t.paused {
		t.activateUsedShares(sched)
	}
	t.paused = false
}

// restart moves a thread in AWAITS_RESTART back to ACTIVE, reporting
// whether it actually did so (a thread already ACTIVE is left alone).
func (t *Thread) restart(sched *Scheduler) bool {
	if t.state != AwaitsRestart {
		return false
	}
	t.becomeActive(sched)
	return true
}

// requireCore enforces spec.md §4.E's access control: most syscalls
// are restricted to core threads.
func (t *Thread) requireCore() bool { return t.core }
