package kernel

// SignalContext is one submittable signal source, identified by a
// 32-bit imprint chosen by its creator (spec.md §4.G). Each submit
// call queues its own delivery rather than merging into whatever is
// already in flight: the context serializes strictly one undelivered
// occurrence at a time, so N submits before anyone acknowledges cause
// N separate wake-ups, each gated by its own ack_signal (property 8).
type SignalContext struct {
	handle   Handle
	receiver *SignalReceiver
	imprint  uint32

	// pending holds one entry per submit call not yet delivered to a
	// handler, each entry the count that call carried.
	pending []uint32

	// delivered is true while one entry has been handed to a waiter
	// and is awaiting its ack_signal.
	delivered bool

	// killer is the thread blocked in kill_signal_context, released
	// only once pending is empty and nothing is delivered.
	killer *Thread

	destroyed bool
}

func newSignalContext(handle Handle, r *SignalReceiver, imprint uint32) *SignalContext {
	return &SignalContext{handle: handle, receiver: r, imprint: imprint}
}

func (c *SignalContext) Handle() Handle  { return c.handle }
func (c *SignalContext) Imprint() uint32 { return c.imprint }

// SignalReceiver fans in a set of contexts toward at most one blocked
// waiter thread at a time (spec.md §4.G).
type SignalReceiver struct {
	handle   Handle
	contexts []*SignalContext
	waiter   *Thread
}

func newSignalReceiver(handle Handle) *SignalReceiver {
	return &SignalReceiver{handle: handle}
}

func (r *SignalReceiver) Handle() Handle { return r.handle }

func (r *SignalReceiver) addContext(c *SignalContext) { r.contexts = append(r.contexts, c) }

func (r *SignalReceiver) removeContext(c *SignalContext) {
	for i, x := range r.contexts {
		if x == c {
			r.contexts = append(r.contexts[:i], r.contexts[i+1:]...)
			return
		}
	}
}

// submit queues one more occurrence of c. It does not attempt
// delivery itself — that happens the next time a waiter is available,
// via the receiver's deliverIfWaiting.
func (c *SignalContext) submit(n uint32) {
	if c.destroyed {
		return
	}
	c.pending = append(c.pending, n)
}

func (c *SignalContext) deliverable() bool { return !c.delivered && len(c.pending) > 0 }

// deliverIfWaiting hands the oldest undelivered entry of the first
// deliverable context to r's waiter, if both exist. Returns the
// context delivered to, or nil.
func (r *SignalReceiver) deliverIfWaiting(sched *Scheduler) *SignalContext {
	if r.waiter == nil {
		return nil
	}
	for _, c := range r.contexts {
		if !c.deliverable() {
			continue
		}
		n := c.pending[0]
		c.pending = c.pending[1:]
		c.delivered = true

		w := r.waiter
		r.waiter = nil
		w.utcb.SetDestination(CapID(c.handle.Index))
		w.SetRetval(int64(n))
		w.becomeActive(sched)
		return c
	}
	return nil
}

// pendingSignal reports whether any of r's contexts has an
// undelivered occurrence queued, for the non-blocking pending_signal
// poll.
func (r *SignalReceiver) pendingSignal() bool {
	for _, c := range r.contexts {
		if c.deliverable() {
			return true
		}
	}
	return false
}

// ack acknowledges the in-flight delivery of c. If more occurrences
// are still queued it immediately offers the next one to the
// receiver's waiter (if any); once both pending and delivered are
// clear, a blocked kill_signal_context is released.
func (c *SignalContext) ack(sched *Scheduler) {
	c.delivered = false
	if len(c.pending) > 0 {
		c.receiver.deliverIfWaiting(sched)
		return
	}
	if c.killer != nil {
		k := c.killer
		c.killer = nil
		c.destroyed = true
		c.receiver.removeContext(c)
		k.becomeActive(sched)
	}
}

// kill begins destruction of c. If any submit is still undelivered or
// delivered-but-unacked, the caller blocks in
// AWAITS_SIGNAL_CONTEXT_KILL until every one of them has been
// individually acknowledged; otherwise destruction completes
// immediately and kill reports true.
func (c *SignalContext) kill(sched *Scheduler, caller *Thread) bool {
	if c.delivered || len(c.pending) > 0 {
		c.killer = caller
		caller.becomeInactive(sched, AwaitsSignalContextKill)
		return false
	}
	c.destroyed = true
	c.receiver.removeContext(c)
	return true
}

// cancelNextAwaitSignal arms a one-shot flag so that t's next
// await_signal returns immediately with retval -1 and no signal; the
// flag is consumed by that await_signal. If t is already blocked in
// AWAITS_SIGNAL, it is woken now with retval -1 instead.
func (t *Thread) cancelNextAwaitSignal(sched *Scheduler) {
	if t.state == AwaitsSignal {
		t.becomeActive(sched)
		t.SetRetval(-1)
		return
	}
	t.cancelNextAwaitOnce = true
}
