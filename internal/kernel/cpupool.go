package kernel

import (
	"context"
	"errors"
	"sync"
	"time"

	"hwkernel/internal/archif/fakearch"
	"hwkernel/internal/archif/hostarch"
	"hwkernel/internal/config"
	"hwkernel/internal/kernelerr"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// maxInFlightCrossCPUWork bounds how many broadcast-and-wait work items
// (the TLB flushes UpdatePD issues) may be outstanding across all
// CPUs at once. A core under a tight update_pd loop would otherwise
// queue an unbounded number of pending IPI rounds; this throttles the
// issuer instead of the receiving CPUs.
const maxInFlightCrossCPUWork = 8

func durationFromUS(us uint32) time.Duration { return time.Duration(us) * time.Microsecond }

// ipiRedeliveryBudget bounds how long TriggerIPI retries a wakeup
// send before giving up on a target CPU that never drains its
// previous wakeup.
const ipiRedeliveryBudget = 10 * time.Millisecond

var errIPIChannelBusy = errors.New("kernelarch: ipi channel still holds an undrained wakeup")

// kernelArch layers IPI delivery to a CPU's own wake channel on top of
// fakearch.Arch's call recording, so a real TriggerIPI actually moves
// a goroutine rather than just logging that it would have.
type kernelArch struct {
	*fakearch.Arch
	ipi []chan struct{}
	log *logrus.Entry
}

// TriggerIPI retries the non-blocking wakeup send with exponential
// backoff: the channel is buffered to depth 1, so a full channel means
// the target CPU hasn't yet consumed its previous wakeup. A brief
// retry window absorbs the case where that CPU is mid-trap and about
// to drain it; if the budget is exhausted the CPU is treated as stuck
// and the condition is logged rather than silently dropped.
func (a *kernelArch) TriggerIPI(cpu int) {
	a.Arch.TriggerIPI(cpu)
	if cpu < 0 || cpu >= len(a.ipi) {
		return
	}
	send := func() error {
		select {
		case a.ipi[cpu] <- struct{}{}:
			return nil
		default:
			return errIPIChannelBusy
		}
	}
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = ipiRedeliveryBudget
	if err := backoff.Retry(send, b); err != nil && a.log != nil {
		a.log.WithField("cpu", cpu).Warn("ipi redelivery exhausted its retry budget; target cpu appears stuck")
	}
}

// Kernel is the single explicitly-constructed context value that owns
// every arena, every CPU, and the big lock serializing all mutation
// of kernel state (spec.md §5, §9). It is the receiver for every
// syscall the core exposes.
type Kernel struct {
	mu  sync.Mutex
	cfg config.Config
	log *logrus.Entry

	cpus []*CPU
	arch *kernelArch

	threads   *Arena[Thread]
	pds       *Arena[Pd]
	receivers *Arena[SignalReceiver]
	contexts  *Arena[SignalContext]
	irqs      *Arena[UserIRQ]

	corePd *Pd

	// printCharLimiter gates the debug print_char syscall: a thread
	// spinning on print_char shouldn't be able to flood the core
	// console or starve the log sink, the same concern gVisor's
	// noisy debug paths are rate-limited against.
	printCharLimiter *rate.Limiter

	// workSem throttles the number of cross-CPU work items (the TLB
	// flushes issued by beginPDFlush) awaiting IPI acknowledgement at
	// any one time, independent of how many CPUs each item targets.
	workSem *semaphore.Weighted

	cancel context.CancelFunc
	eg     *errgroup.Group
}

// NewKernel builds a kernel with cfg.NumCPUs CPUs, each running its
// own scheduler, sharing one fake arch backend wired so TriggerIPI
// actually wakes the targeted CPU's goroutine.
func NewKernel(cfg config.Config, log *logrus.Entry) *Kernel {
	k := &Kernel{
		cfg:       cfg,
		log:       log,
		threads:   NewArena[Thread](KindThread),
		pds:       NewArena[Pd](KindPD),
		receivers: NewArena[SignalReceiver](KindSignalReceiver),
		contexts:  NewArena[SignalContext](KindSignalContext),
		irqs:      NewArena[UserIRQ](KindIRQ),
		printCharLimiter: rate.NewLimiter(rate.Limit(1000), 200),
		workSem:          semaphore.NewWeighted(maxInFlightCrossCPUWork),
	}

	ipi := make([]chan struct{}, cfg.NumCPUs)
	for i := range ipi {
		ipi[i] = make(chan struct{}, 1)
	}
	k.arch = &kernelArch{Arch: fakearch.New(), ipi: ipi, log: log}

	for i := 0; i < cfg.NumCPUs; i++ {
		timer := fakearch.NewTimer()
		k.cpus = append(k.cpus, NewCPU(i, cfg.RoundQuotaUS, cfg.FillSliceUS, k.arch, timer, log))
	}

	corePd := newPd(Handle{}, "core", 0, NewDonation(cfg.CapSlabBytes))
	corePd.core = true
	corePd.handle = k.pds.Alloc(corePd)
	k.corePd = corePd

	return k
}

// Start launches one goroutine per CPU, each running its
// timeout/re-select loop, under ctx.
func (k *Kernel) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	k.cancel = cancel
	eg, ctx := errgroup.WithContext(ctx)
	k.eg = eg
	for _, c := range k.cpus {
		c := c
		eg.Go(func() error {
			if k.cfg.PinToHostCPUs {
				if err := hostarch.PinCurrentOSThread(c.id); err != nil {
					k.log.WithError(err).WithField("cpu", c.id).Warn("pinning simulated CPU to host core")
				}
			}
			c.Run(ctx, &k.mu, k.arch.ipi[c.id])
			return nil
		})
	}
}

// Stop cancels every CPU's loop and waits for them to exit.
func (k *Kernel) Stop() error {
	if k.cancel != nil {
		k.cancel()
	}
	if k.eg != nil {
		return k.eg.Wait()
	}
	return nil
}

func (k *Kernel) CorePd() *Pd { return k.corePd }

// CPU returns the id'th simulated CPU, for driver/debug code that
// wants to observe scheduler state directly rather than going through
// a syscall. Panics on an out-of-range id, mirroring an indexing bug
// in the caller rather than a kernel-level error condition.
func (k *Kernel) CPU(id int) *CPU { return k.cpus[id] }

// ThreadByHandle exposes thread lookup to callers outside the
// package (the scheduler-test driver, the control-socket daemon) that
// need the *Thread behind a Handle returned from NewThread/StartThread
// without threading a syscall for every inspection.
func (k *Kernel) ThreadByHandle(h Handle) (*Thread, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.thread(h)
}

func (k *Kernel) thread(h Handle) (*Thread, error) {
	t, ok := k.threads.Get(h)
	if !ok {
		return nil, kernelerr.Dead
	}
	return t, nil
}

func (k *Kernel) pd(h Handle) (*Pd, error) {
	p, ok := k.pds.Get(h)
	if !ok {
		return nil, kernelerr.Dead
	}
	return p, nil
}

func (k *Kernel) cpuFor(t *Thread) *CPU {
	if t.cpu != nil {
		return t.cpu
	}
	return k.cpus[0]
}

func requireCore(caller *Thread) error {
	if caller != nil && !caller.requireCore() {
		return kernelerr.InvalidArg
	}
	return nil
}

// ---- Protection domains (spec.md §4.D) ----

// NewPD constructs a protection domain with donation bytes available
// to its capability slab. Restricted to core callers.
func (k *Kernel) NewPD(caller *Thread, label string, pageTableRoot uint64, donationBytes uint32) (Handle, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := requireCore(caller); err != nil {
		return Handle{}, err
	}
	var h Handle
	pd := newPd(Handle{}, label, pageTableRoot, NewDonation(donationBytes))
	h = k.pds.Alloc(pd)
	pd.handle = h
	return h, nil
}

func (k *Kernel) DeletePD(caller *Thread, h Handle) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := requireCore(caller); err != nil {
		return err
	}
	if !k.pds.Free(h) {
		return kernelerr.InvalidArg
	}
	return nil
}

// UpdatePD broadcasts a full-address-space TLB flush to every CPU a
// thread of pd has been started on, and blocks until all have
// acknowledged (spec.md §4.H cross-CPU work).
func (k *Kernel) UpdatePD(caller *Thread, h Handle) error {
	w, err := k.beginPDFlush(caller, h)
	if err != nil {
		return err
	}
	w.Wait()
	return nil
}

// beginPDFlush does the locked part of UpdatePD -- validating the
// caller and broadcasting the flush work to every participant CPU --
// and returns the work item for the caller to wait on, without
// blocking itself. Split out so tests can drive the drain side
// directly instead of racing a background UpdatePD call.
func (k *Kernel) beginPDFlush(caller *Thread, h Handle) (*CrossCpuWork, error) {
	if err := k.workSem.Acquire(context.Background(), 1); err != nil {
		return nil, err
	}

	k.mu.Lock()
	if err := requireCore(caller); err != nil {
		k.mu.Unlock()
		k.workSem.Release(1)
		return nil, err
	}
	pd, err := k.pd(h)
	if err != nil {
		k.mu.Unlock()
		k.workSem.Release(1)
		return nil, err
	}
	participants := pd.participants()
	w := newCrossCpuWork(WorkFlushTLB, participants)
	w.pd = pd
	var toSignal []int
	for _, id := range participants {
		if k.cpus[id].EnqueueWork(w) {
			toSignal = append(toSignal, id)
		}
	}
	k.mu.Unlock()

	for _, id := range toSignal {
		k.arch.TriggerIPI(id)
	}
	go func() {
		w.Wait()
		k.workSem.Release(1)
	}()
	return w, nil
}

// DrainCPU runs any cross-CPU work queued for CPU id. In production
// this happens inside that CPU's own goroutine in response to the IPI
// archif.Arch.TriggerIPI delivered; exposed directly for the test
// driver and for tests that don't run the CPU loop goroutines.
func (k *Kernel) DrainCPU(id int) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if id >= 0 && id < len(k.cpus) {
		k.cpus[id].DrainWork()
	}
}

func (k *Kernel) SetPager(caller *Thread, target, pager Handle) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := requireCore(caller); err != nil {
		return err
	}
	t, err := k.thread(target)
	if err != nil {
		return err
	}
	p, err := k.thread(pager)
	if err != nil {
		return err
	}
	t.pager = p
	return nil
}

// ---- Threads (spec.md §4.E) ----

func (k *Kernel) NewThread(caller *Thread, label string, prio Priority, quotaUS uint32, pdHandle Handle, core bool) (Handle, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := requireCore(caller); err != nil {
		return Handle{}, err
	}
	pd, err := k.pd(pdHandle)
	if err != nil {
		return Handle{}, err
	}
	t := newThread(Handle{}, label, prio, quotaUS, core)
	h := k.threads.Alloc(t)
	t.handle = h
	t.pd = pd
	return h, nil
}

func (k *Kernel) DeleteThread(caller *Thread, h Handle) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := requireCore(caller); err != nil {
		return err
	}
	t, err := k.thread(h)
	if err != nil {
		return err
	}
	sched := k.cpuFor(t).Scheduler()
	if t.share.Ready() {
		sched.Unready(t.share)
	}
	if t.share.Quota() != 0 {
		sched.Remove(t.share)
	}
	t.die(sched)
	k.threads.Free(h)
	return nil
}

// StartThread assigns t to a CPU, inserts its share, and moves t into
// ACTIVE, readying its share on that CPU's scheduler.
func (k *Kernel) StartThread(caller *Thread, h Handle, cpuID int) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := requireCore(caller); err != nil {
		return err
	}
	t, err := k.thread(h)
	if err != nil {
		return err
	}
	if cpuID < 0 || cpuID >= len(k.cpus) {
		return kernelerr.InvalidArg
	}
	t.cpu = k.cpus[cpuID]
	sched := t.cpu.Scheduler()
	if t.share.Quota() != 0 {
		sched.Insert(t.share)
	}
	if t.pd != nil {
		t.pd.addParticipant(cpuID)
	}
	t.becomeActive(sched)
	return nil
}

func (k *Kernel) PauseThread(caller *Thread, h Handle) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	t, err := k.thread(h)
	if err != nil {
		return err
	}
	t.pause(k.cpuFor(t).Scheduler())
	return nil
}

func (k *Kernel) ResumeThread(caller *Thread, h Handle) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	t, err := k.thread(h)
	if err != nil {
		return err
	}
	t.resume(k.cpuFor(t).Scheduler())
	return nil
}

// YieldThread retires the caller's current slice early, a voluntary
// give-up of the rest of its claim or fill.
func (k *Kernel) YieldThread(caller *Thread) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if caller == nil {
		return kernelerr.InvalidArg
	}
	k.cpuFor(caller).Scheduler().HeadYields()
	return nil
}

func (k *Kernel) GetThreadID(caller *Thread, h Handle) (Handle, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	t, err := k.thread(h)
	if err != nil {
		return Handle{}, err
	}
	return t.handle, nil
}

func (k *Kernel) ReadThreadState(caller *Thread, h Handle) (Fault, bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	t, err := k.thread(h)
	if err != nil {
		return Fault{}, false, err
	}
	return t.lastFault, t.hasFault, nil
}

func (k *Kernel) WriteThreadState(caller *Thread, h Handle, retval int64) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	t, err := k.thread(h)
	if err != nil {
		return err
	}
	t.retval = retval
	t.hasFault = false
	return nil
}

func (k *Kernel) RestartThread(caller *Thread, h Handle) (bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	t, err := k.thread(h)
	if err != nil {
		return false, err
	}
	return t.restart(k.cpuFor(t).Scheduler()), nil
}

func (k *Kernel) ThreadQuota(caller *Thread, h Handle, quotaUS uint32) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := requireCore(caller); err != nil {
		return err
	}
	t, err := k.thread(h)
	if err != nil {
		return err
	}
	k.cpuFor(t).Scheduler().Quota(t.share, quotaUS)
	return nil
}

// ---- Synchronous IPC (spec.md §4.F) ----

// translateCaps copies capCount capabilities from src's UTCB into
// dst's, reserving the destination PD's slab before translating any
// of them so a shortfall never leaves a half-translated message
// (spec.md §4.C).
func translateCaps(srcPd, dstPd *Pd, src, dst *Utcb) error {
	n := src.CapCount()
	if !dstPd.reserveCapSlots(n) {
		return kernelerr.OutOfMemory
	}
	dst.ResetCaps()
	for i := 0; i < n; i++ {
		capid := src.CapGet(i)
		ref, ok := srcPd.caps.Find(capid)
		if !ok {
			dst.CapAdd(CapIDInvalid)
			dstPd.releaseCapSlot()
			continue
		}
		identity := ref.Identity()
		if existing, ok := dstPd.caps.FindByIdentity(identity); ok {
			dstPd.releaseCapSlot()
			dst.CapAdd(existing.CapID())
			continue
		}
		newRef := dstPd.caps.Insert(func(id CapID) *IdentityRef {
			r := &IdentityRef{identity: identity, pd: dstPd, capid: id, inUTCB: true}
			identity.addRef(r)
			return r
		})
		dst.CapAdd(newRef.CapID())
	}
	return nil
}

// SendRequestAndWait queues caller on dest's request queue (its UTCB
// is copied to dest when the request is delivered) and blocks the
// caller awaiting a reply. With help set, caller donates
// its CPU share to dest (and transitively to whatever dest itself is
// helping) for as long as dest has no active share of its own.
func (k *Kernel) SendRequestAndWait(caller *Thread, dest Handle, help bool) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	d, err := k.thread(dest)
	if err != nil {
		return err
	}
	sched := k.cpuFor(caller).Scheduler()

	if help {
		caller.ipc.role = SendHelping
		caller.ipc.callee = d
		d.ipc.addHelper(caller)
	} else {
		caller.ipc.role = SendNonHelping
		caller.ipc.callee = d
	}

	d.ipc.enqueueRequest(caller)
	caller.becomeInactive(sched, AwaitsIPC)

	if d.state == AwaitsIPC && d.ipc.role == AwaitsRequest {
		k.deliverNextRequest(d)
	}
	return nil
}

// deliverNextRequest hands the oldest queued request to server d,
// translating capabilities and waking d with the caller now known as
// its current partner.
func (k *Kernel) deliverNextRequest(d *Thread) {
	c := d.ipc.dequeueRequest()
	if c == nil {
		return
	}
	if err := translateCaps(c.pd, d.pd, c.utcb, d.utcb); err != nil {
		d.SetRetval(-1)
	}
	d.utcb.SetPayload(c.utcb.Payload())
	d.utcb.SetDestination(CapID(c.handle.Index))
	d.ipc.replyTo = c
	d.ipc.role = PrepareReply
	d.becomeActive(k.cpuFor(d).Scheduler())
}

// WaitForRequest parks caller awaiting its next inbound request; if
// one is already queued it is delivered immediately.
func (k *Kernel) WaitForRequest(caller *Thread) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	caller.ipc.role = AwaitsRequest
	sched := k.cpuFor(caller).Scheduler()
	caller.becomeInactive(sched, AwaitsIPC)
	if len(caller.ipc.queue) > 0 {
		k.deliverNextRequest(caller)
	}
	return nil
}

// Reply copies caller's reply payload back to whichever client it is
// currently preparing a reply for, wakes that client, and releases
// any helping relationship the exchange established.
func (k *Kernel) Reply(caller *Thread) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	client := caller.ipc.replyTo
	if client == nil || caller.ipc.role != PrepareReply {
		return kernelerr.InvalidArg
	}
	if err := translateCaps(caller.pd, client.pd, caller.utcb, client.utcb); err != nil {
		client.SetRetval(-1)
	} else {
		client.utcb.SetPayload(caller.utcb.Payload())
	}

	if client.ipc.role == SendHelping {
		caller.ipc.removeHelper(client)
	}
	client.ipc.callee = nil
	// client may itself be mid-PREPARE_REPLY for a further client
	// (the nested-helping case): its own reply obligation, tracked
	// separately in replyTo, outlives this send regardless of the role
	// its own outbound send last left it in.
	if client.ipc.replyTo != nil {
		client.ipc.role = PrepareReply
	} else {
		client.ipc.role = Inactive
	}
	caller.ipc.role = Inactive
	caller.ipc.replyTo = nil

	sched := k.cpuFor(client).Scheduler()
	client.becomeActive(sched)
	return nil
}

// SendReplyMsg behaves like Reply but additionally lets the caller
// immediately re-enter AWAITS_REQUEST instead of needing a separate
// wait_for_request round-trip, matching the original's combined
// syscall.
func (k *Kernel) SendReplyMsg(caller *Thread, awaitNext bool) error {
	if err := k.Reply(caller); err != nil {
		return err
	}
	if awaitNext {
		return k.WaitForRequest(caller)
	}
	return nil
}

// CancelBlocking drops caller from its callee's request queue and
// helper list and clears its IPC role and partners. It does not change
// caller's thread state or retval, and DeleteThread does not call it.
func (k *Kernel) CancelBlocking(caller *Thread) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if callee := caller.ipc.callee; callee != nil {
		callee.ipc.removeFromQueue(caller)
		callee.ipc.removeHelper(caller)
	}
	caller.ipc.role = Inactive
	caller.ipc.callee = nil
	caller.ipc.replyTo = nil
}

// ---- Signals (spec.md §4.G) ----

func (k *Kernel) NewSignalReceiver(caller *Thread) (Handle, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	r := newSignalReceiver(Handle{})
	h := k.receivers.Alloc(r)
	r.handle = h
	return h, nil
}

func (k *Kernel) NewSignalContext(caller *Thread, receiver Handle, imprint uint32) (Handle, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	r, ok := k.receivers.Get(receiver)
	if !ok {
		return Handle{}, kernelerr.Dead
	}
	c := newSignalContext(Handle{}, r, imprint)
	h := k.contexts.Alloc(c)
	c.handle = h
	r.addContext(c)
	return h, nil
}

func (k *Kernel) KillSignalContext(caller *Thread, ctxHandle Handle) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	c, ok := k.contexts.Get(ctxHandle)
	if !ok {
		return kernelerr.Dead
	}
	sched := k.cpuFor(caller).Scheduler()
	if done := c.kill(sched, caller); !done {
		return nil
	}
	k.contexts.Free(ctxHandle)
	return nil
}

func (k *Kernel) SubmitSignal(caller *Thread, ctxHandle Handle, n uint32) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	c, ok := k.contexts.Get(ctxHandle)
	if !ok {
		return kernelerr.Dead
	}
	c.submit(n)
	if c.receiver.waiter != nil {
		c.receiver.deliverIfWaiting(k.cpuFor(c.receiver.waiter).Scheduler())
	}
	return nil
}

func (k *Kernel) AwaitSignal(caller *Thread, receiver Handle) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	r, ok := k.receivers.Get(receiver)
	if !ok {
		return kernelerr.Dead
	}
	if caller.cancelNextAwaitOnce {
		caller.cancelNextAwaitOnce = false
		caller.SetRetval(-1)
		return nil
	}
	sched := k.cpuFor(caller).Scheduler()
	r.waiter = caller
	caller.becomeInactive(sched, AwaitsSignal)
	if r.pendingSignal() {
		r.deliverIfWaiting(sched)
	}
	return nil
}

func (k *Kernel) PendingSignal(caller *Thread, receiver Handle) (bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	r, ok := k.receivers.Get(receiver)
	if !ok {
		return false, kernelerr.Dead
	}
	return r.pendingSignal(), nil
}

func (k *Kernel) AckSignal(caller *Thread, ctxHandle Handle) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	c, ok := k.contexts.Get(ctxHandle)
	if !ok {
		return kernelerr.Dead
	}
	c.ack(k.cpuFor(caller).Scheduler())
	if c.destroyed {
		k.contexts.Free(ctxHandle)
	}
	return nil
}

func (k *Kernel) CancelNextAwaitSignal(caller *Thread) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	caller.cancelNextAwaitSignal(k.cpuFor(caller).Scheduler())
	return nil
}

// ---- Timeouts and the clock (spec.md §4.E, §4.H) ----

func (k *Kernel) SetTimeout(caller *Thread, us uint32, ctxHandle Handle) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	c, ok := k.contexts.Get(ctxHandle)
	if !ok {
		return kernelerr.Dead
	}
	if caller.timeout.stop != nil {
		caller.timeout.stop()
	}
	caller.timeout.ctx = c
	caller.timeout.armed = true
	timer := k.cpuFor(caller).timer
	fired := timer.Arm(durationFromUS(us))
	stopped := make(chan struct{})
	caller.timeout.stop = func() { close(stopped) }
	go func() {
		select {
		case <-fired:
			k.mu.Lock()
			if caller.timeout.armed && caller.timeout.ctx == c {
				caller.timeout.armed = false
				c.submit(1)
			}
			k.mu.Unlock()
		case <-stopped:
		}
	}()
	return nil
}

func (k *Kernel) TimeoutMaxUS() uint32 { return k.cfg.RoundQuotaUS }

func (k *Kernel) Time(caller *Thread) uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.cpuFor(caller).timer.Now()
}

// ---- User IRQs (spec.md §4.H) ----

func (k *Kernel) NewIRQ(caller *Thread, number int, trig IRQTrigger, pol IRQPolarity, ctxHandle Handle) (Handle, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := requireCore(caller); err != nil {
		return Handle{}, err
	}
	c, ok := k.contexts.Get(ctxHandle)
	if !ok {
		return Handle{}, kernelerr.Dead
	}
	irq := newUserIRQ(Handle{}, number, trig, pol, c)
	h := k.irqs.Alloc(irq)
	irq.handle = h
	return h, nil
}

func (k *Kernel) DeleteIRQ(caller *Thread, h Handle) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := requireCore(caller); err != nil {
		return err
	}
	if !k.irqs.Free(h) {
		return kernelerr.InvalidArg
	}
	return nil
}

func (k *Kernel) AckIRQ(caller *Thread, h Handle) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	irq, ok := k.irqs.Get(h)
	if !ok {
		return kernelerr.Dead
	}
	irq.ack()
	return nil
}

// FireIRQ simulates the arch backend signalling line number; exported
// for the test driver and for a future real interrupt-controller
// backend to call.
func (k *Kernel) FireIRQ(h Handle) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	irq, ok := k.irqs.Get(h)
	if !ok {
		return kernelerr.Dead
	}
	irq.fire()
	return nil
}

// ---- Debug/core-console and capability bookkeeping (spec.md §4.C) ----

// PrintChar appends one byte to the core console, dropping it silently
// once the caller exceeds printCharLimiter's budget rather than
// letting a spinning thread flood the log sink.
func (k *Kernel) PrintChar(c byte) {
	if !k.printCharLimiter.Allow() {
		return
	}
	k.log.WithField("core-console", true).Debug(string(rune(c)))
}

// AckCap drops caller's own reference to a capability without
// necessarily destroying the underlying object (spec.md §4.C).
func (k *Kernel) AckCap(caller *Thread, id CapID) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if caller.pd == nil {
		return kernelerr.InvalidArg
	}
	ref, ok := caller.pd.caps.Find(id)
	if !ok {
		return kernelerr.InvalidArg
	}
	ref.identity.removeRef(ref)
	return nil
}

func (k *Kernel) DeleteCap(caller *Thread, id CapID) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if caller.pd == nil {
		return kernelerr.InvalidArg
	}
	ref, ok := caller.pd.caps.Remove(id)
	if !ok {
		return kernelerr.InvalidArg
	}
	ref.identity.removeRef(ref)
	caller.pd.releaseCapSlot()
	return nil
}

// InvalidateTLB issues the same whole-PD flush broadcast as UpdatePD
// and waits for it. addr and size are not forwarded: every participant
// CPU's FlushTLBPID call receives address 0 and size 0.
func (k *Kernel) InvalidateTLB(caller *Thread, pdHandle Handle, addr, size uint64) error {
	return k.UpdatePD(caller, pdHandle)
}
