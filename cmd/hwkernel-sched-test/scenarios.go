package main

import (
	"context"
	"fmt"

	"hwkernel/internal/config"
	"hwkernel/internal/kernel"
)

// scenario is one seed scenario from the spec's testable-properties
// section: a self-contained script against a fresh Scheduler or
// Kernel, printing what it observed at each checkpoint. It returns an
// error the first time an observation disagrees with the scenario's
// stated outcome.
type scenario struct {
	name string
	doc  string
	run  func(*reporter) error
}

// reporter collects the checkpoint lines a scenario prints, so `run`
// can show them even when the run ultimately fails.
type reporter struct {
	lines []string
}

func (r *reporter) logf(format string, a ...any) {
	r.lines = append(r.lines, fmt.Sprintf(format, a...))
}

var scenarios = []scenario{
	{"S1", "idle round: no shares ready, head stays idle for 9 timeouts", s1IdleRound},
	{"S2", "single claim + filler: claim slice, idle while unready, claim again on re-ready", s2SingleClaimPlusFiller},
	{"S3", "priority inversion guard: highest-priority ready claim wins head", s3PriorityInversionGuard},
	{"S4", "IPC helping: callee becomes head while caller donates its share", s4IPCHelping},
	{"S5", "TLB shoot-down: update_pd blocks until every participant CPU acks", s5TLBShootdown},
	{"S6", "signal kill ordering: kill blocks until the whole backlog is acked", s6SignalKillOrdering},
}

func s1IdleRound(r *reporter) error {
	idle := kernel.NewShare("idle", config.PrioMin, 0)
	sched := kernel.NewScheduler(idle, 1000, 100)
	want := uint32(900)
	for i := 0; i < 9; i++ {
		sched.HeadConsumed(100)
		sched.HeadTimeout()
		sched.EndTurn()
		if head := sched.Head(); head != idle {
			return fmt.Errorf("timeout %d: head = %s, want idle", i, head.Label())
		}
		residual := sched.Residual()
		if residual != want {
			return fmt.Errorf("timeout %d: residual = %d, want %d", i, residual, want)
		}
		r.logf("timeout %d: head=idle residual=%d", i, residual)
		want -= 100
	}
	return nil
}

func s2SingleClaimPlusFiller(r *reporter) error {
	idle := kernel.NewShare("idle", config.PrioMin, 0)
	sched := kernel.NewScheduler(idle, 1000, 100)
	a := kernel.NewShare("A", 2, 230)
	sched.Insert(a)

	sched.Ready(a)
	if head := sched.Head(); head != a {
		return fmt.Errorf("after ready: head != A")
	}
	if q := sched.HeadQuota(); q != 230 {
		return fmt.Errorf("after ready: head quota = %d, want 230", q)
	}
	r.logf("A ready: head=A slice=%d", sched.HeadQuota())

	sched.Unready(a)
	if head := sched.Head(); head != idle {
		return fmt.Errorf("after unready: head = %s, want idle", head.Label())
	}
	r.logf("A unready: head=idle")

	sched.Ready(a)
	r.logf("A ready again: head=A slice=%d (claim remainder)", sched.HeadQuota())
	return nil
}

func s3PriorityInversionGuard(r *reporter) error {
	sched := kernel.NewScheduler(kernel.NewShare("idle", config.PrioMin, 0), 1000, 100)
	a := kernel.NewShare("A", 2, 230)
	b := kernel.NewShare("B", 0, 170)
	c := kernel.NewShare("C", 3, 110)
	sched.Insert(a)
	sched.Insert(b)
	sched.Insert(c)

	sched.Ready(a)
	sched.Ready(b)
	sched.Ready(c)

	head := sched.Head()
	if head == nil || head.Label() != "C" {
		label := "<nil>"
		if head != nil {
			label = head.Label()
		}
		return fmt.Errorf("head = %s, want C (highest priority)", label)
	}
	r.logf("A,B,C ready: head=%s", head.Label())
	return nil
}

func s4IPCHelping(r *reporter) error {
	k := kernel.NewKernel(config.Default(), kernel.NewLogger(quietLevel))
	core := k.CorePd()

	t1h, err := k.NewThread(nil, "T1", 1, 0, core.Handle(), false)
	if err != nil {
		return fmt.Errorf("new T1: %w", err)
	}
	t2h, err := k.NewThread(nil, "T2", 3, 100, core.Handle(), false)
	if err != nil {
		return fmt.Errorf("new T2: %w", err)
	}
	if err := k.StartThread(nil, t1h, 0); err != nil {
		return fmt.Errorf("start T1: %w", err)
	}
	if err := k.StartThread(nil, t2h, 0); err != nil {
		return fmt.Errorf("start T2: %w", err)
	}
	t2, err := k.ThreadByHandle(t2h)
	if err != nil {
		return err
	}
	if err := k.WaitForRequest(t2); err != nil {
		return fmt.Errorf("T2 await_request: %w", err)
	}
	t1, err := k.ThreadByHandle(t1h)
	if err != nil {
		return err
	}
	if err := k.SendRequestAndWait(t1, t2h, true); err != nil {
		return fmt.Errorf("T1 send_request_and_wait(help=true): %w", err)
	}
	if head := k.CPU(0).Scheduler().Head(); head == nil || head.Owner() != t2 {
		return fmt.Errorf("head is not T2 while T1 helps it")
	}
	r.logf("T1 sends-with-help to T2: head=T2, T1 awaits reply")
	if err := k.Reply(t2); err != nil {
		return fmt.Errorf("T2 reply: %w", err)
	}
	if t1.State() != kernel.Active {
		return fmt.Errorf("T1 state after reply = %s, want ACTIVE", t1.State())
	}
	r.logf("T2 replies: T1 ACTIVE again")
	return nil
}

func s5TLBShootdown(r *reporter) error {
	cfg := config.Default()
	cfg.NumCPUs = 2
	k := kernel.NewKernel(cfg, kernel.NewLogger(quietLevel))

	core := k.CorePd()
	callerH, err := k.NewThread(nil, "core-caller", 3, 0, core.Handle(), true)
	if err != nil {
		return err
	}
	caller, err := k.ThreadByHandle(callerH)
	if err != nil {
		return err
	}
	if err := k.StartThread(nil, callerH, 0); err != nil {
		return err
	}

	pHandle, err := k.NewPD(caller, "P", 0x1000, 4096)
	if err != nil {
		return err
	}

	for cpu, label := range map[int]string{0: "on-cpu0", 1: "on-cpu1"} {
		th, err := k.NewThread(nil, label, 2, 0, pHandle, false)
		if err != nil {
			return err
		}
		if err := k.StartThread(nil, th, cpu); err != nil {
			return err
		}
	}

	k.Start(context.Background())
	defer k.Stop()
	if err := k.UpdatePD(caller, pHandle); err != nil {
		return fmt.Errorf("update_pd: %w", err)
	}
	r.logf("update_pd(P): both participant CPUs acked, caller resumed")
	return nil
}

func s6SignalKillOrdering(r *reporter) error {
	k := kernel.NewKernel(config.Default(), kernel.NewLogger(quietLevel))
	core := k.CorePd()

	receiverH, err := k.NewThread(nil, "receiver", 2, 0, core.Handle(), false)
	if err != nil {
		return err
	}
	killerH, err := k.NewThread(nil, "killer", 2, 0, core.Handle(), false)
	if err != nil {
		return err
	}
	if err := k.StartThread(nil, receiverH, 0); err != nil {
		return err
	}
	if err := k.StartThread(nil, killerH, 0); err != nil {
		return err
	}
	receiver, err := k.ThreadByHandle(receiverH)
	if err != nil {
		return err
	}
	killer, err := k.ThreadByHandle(killerH)
	if err != nil {
		return err
	}

	rh, err := k.NewSignalReceiver(nil)
	if err != nil {
		return err
	}
	ch, err := k.NewSignalContext(nil, rh, 7)
	if err != nil {
		return err
	}

	if err := k.SubmitSignal(nil, ch, 1); err != nil {
		return err
	}
	if err := k.SubmitSignal(nil, ch, 1); err != nil {
		return err
	}
	if err := k.AwaitSignal(receiver, rh); err != nil {
		return err
	}
	r.logf("submitted twice, delivered once")

	if err := k.KillSignalContext(killer, ch); err != nil {
		return err
	}
	if killer.State() != kernel.AwaitsSignalContextKill {
		return fmt.Errorf("killer state = %s, want blocked", killer.State())
	}
	r.logf("kill_signal_context blocks with one ack outstanding")

	if err := k.AckSignal(receiver, ch); err != nil {
		return err
	}
	if killer.State() != kernel.AwaitsSignalContextKill {
		return fmt.Errorf("killer released after only one ack")
	}
	r.logf("first ack_signal: kill still blocked")

	if err := k.AwaitSignal(receiver, rh); err != nil {
		return err
	}
	if err := k.AckSignal(receiver, ch); err != nil {
		return err
	}
	if killer.State() != kernel.Active {
		return fmt.Errorf("killer state after second ack = %s, want ACTIVE", killer.State())
	}
	r.logf("second ack_signal: kill completes, killer ACTIVE")
	return nil
}
