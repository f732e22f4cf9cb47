package kernel

import (
	"testing"

	"hwkernel/internal/config"

	"github.com/sirupsen/logrus"
)

func newTestKernel(t *testing.T) *Kernel {
	t.Helper()
	log := NewLogger(logrus.ErrorLevel)
	return NewKernel(config.Default(), log)
}

func mustThread(t *testing.T, k *Kernel, label string, prio Priority, quota uint32, pd Handle) *Thread {
	t.Helper()
	h, err := k.NewThread(nil, label, prio, quota, pd, false)
	if err != nil {
		t.Fatalf("NewThread(%s): %v", label, err)
	}
	th, err := k.thread(h)
	if err != nil {
		t.Fatalf("thread(%s): %v", label, err)
	}
	return th
}

// Property 6: IPC round-trip. A send_request_and_wait followed by
// reply returns the client to ACTIVE with the payload intact.
func TestIPCRoundTrip(t *testing.T) {
	k := newTestKernel(t)

	pdA, err := k.NewPD(nil, "pdA", 0, 4096)
	if err != nil {
		t.Fatalf("NewPD pdA: %v", err)
	}
	pdB, err := k.NewPD(nil, "pdB", 0, 4096)
	if err != nil {
		t.Fatalf("NewPD pdB: %v", err)
	}

	client := mustThread(t, k, "client", 2, 0, pdA)
	server := mustThread(t, k, "server", 2, 0, pdB)

	if err := k.StartThread(nil, client.Handle(), 0); err != nil {
		t.Fatalf("StartThread client: %v", err)
	}
	if err := k.StartThread(nil, server.Handle(), 0); err != nil {
		t.Fatalf("StartThread server: %v", err)
	}

	if err := k.WaitForRequest(server); err != nil {
		t.Fatalf("WaitForRequest: %v", err)
	}
	if server.State() != AwaitsIPC {
		t.Fatalf("server state = %s, want AWAITS_IPC", server.State())
	}

	client.utcb.SetPayload([]byte("hello"))
	if err := k.SendRequestAndWait(client, server.Handle(), false); err != nil {
		t.Fatalf("SendRequestAndWait: %v", err)
	}

	if client.State() != AwaitsIPC {
		t.Fatalf("client state = %s, want AWAITS_IPC", client.State())
	}
	if server.State() != Active {
		t.Fatalf("server state = %s, want ACTIVE", server.State())
	}
	if string(server.utcb.Payload()) != "hello" {
		t.Fatalf("server payload = %q, want %q", server.utcb.Payload(), "hello")
	}

	server.utcb.SetPayload([]byte("world"))
	if err := k.Reply(server); err != nil {
		t.Fatalf("Reply: %v", err)
	}

	if client.State() != Active {
		t.Fatalf("client state after reply = %s, want ACTIVE", client.State())
	}
	if string(client.utcb.Payload()) != "world" {
		t.Fatalf("client payload after reply = %q, want %q", client.utcb.Payload(), "world")
	}
}

// Property 7: capability translation idempotence. Sending the same
// capability id twice from the same sender to the same receiver
// produces the same receiver-side id.
func TestCapabilityTranslationIdempotence(t *testing.T) {
	k := newTestKernel(t)

	pdA, _ := k.NewPD(nil, "pdA", 0, 4096)
	pdB, _ := k.NewPD(nil, "pdB", 0, 4096)
	a, _ := k.pd(pdA)
	b, _ := k.pd(pdB)

	identity := newIdentity(KindPD, pdA, a)
	ref := a.caps.Insert(func(id CapID) *IdentityRef {
		r := &IdentityRef{identity: identity, pd: a, capid: id}
		identity.addRef(r)
		return r
	})

	src := newUtcb()
	src.CapAdd(ref.CapID())
	dst1 := newUtcb()
	if err := translateCaps(a, b, src, dst1); err != nil {
		t.Fatalf("translateCaps #1: %v", err)
	}
	first := dst1.CapGet(0)

	dst2 := newUtcb()
	if err := translateCaps(a, b, src, dst2); err != nil {
		t.Fatalf("translateCaps #2: %v", err)
	}
	second := dst2.CapGet(0)

	if first != second {
		t.Fatalf("receiver-side id changed across sends: %d != %d", first, second)
	}
	if b.caps.Len() != 1 {
		t.Fatalf("receiver cap tree has %d entries, want 1 (reused reference)", b.caps.Len())
	}
}

// S4 IPC helping: T1(p=1,q=0) sends-with-help to T2(p=3,q=100). T2 is
// observed as head while T1 is blocked; upon reply T1 returns to
// ACTIVE (property 11, helping transitivity collapsed to one hop).
func TestIPCHelpingS4(t *testing.T) {
	k := newTestKernel(t)
	core := k.CorePd()

	t1 := mustThread(t, k, "T1", 1, 0, core.Handle())
	t2 := mustThread(t, k, "T2", 3, 100, core.Handle())

	if err := k.StartThread(nil, t1.Handle(), 0); err != nil {
		t.Fatalf("start T1: %v", err)
	}
	if err := k.StartThread(nil, t2.Handle(), 0); err != nil {
		t.Fatalf("start T2: %v", err)
	}

	if err := k.WaitForRequest(t2); err != nil {
		t.Fatalf("WaitForRequest T2: %v", err)
	}

	if err := k.SendRequestAndWait(t1, t2.Handle(), true); err != nil {
		t.Fatalf("SendRequestAndWait T1->T2: %v", err)
	}

	sched := k.cpuFor(t2).Scheduler()
	if head := sched.Head(); head != t2.share {
		label := "<nil>"
		if head != nil {
			label = head.Label()
		}
		t.Fatalf("head = %s, want T2 while T1 helps it", label)
	}
	if t1.State() != AwaitsIPC {
		t.Fatalf("T1 state = %s, want AWAITS_IPC", t1.State())
	}

	if err := k.Reply(t2); err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if t1.State() != Active {
		t.Fatalf("T1 state after reply = %s, want ACTIVE", t1.State())
	}
}

// Property 11, literal three-hop form: T1 sends-with-help to T2,
// which -- while still owing T1 a reply -- itself sends-with-help to
// T3. T3's eventual reply must reach T2, and T2's own reply must then
// still reach T1: the nested send must not clobber T2's pending-reply
// obligation to T1.
func TestIPCHelpingTransitivePropertyEleven(t *testing.T) {
	k := newTestKernel(t)
	core := k.CorePd()

	t1 := mustThread(t, k, "T1", 1, 0, core.Handle())
	t2 := mustThread(t, k, "T2", 2, 0, core.Handle())
	t3 := mustThread(t, k, "T3", 3, 100, core.Handle())

	for _, th := range []*Thread{t1, t2, t3} {
		if err := k.StartThread(nil, th.Handle(), 0); err != nil {
			t.Fatalf("start %s: %v", th.Label(), err)
		}
	}

	if err := k.WaitForRequest(t3); err != nil {
		t.Fatalf("WaitForRequest T3: %v", err)
	}
	if err := k.WaitForRequest(t2); err != nil {
		t.Fatalf("WaitForRequest T2: %v", err)
	}

	if err := k.SendRequestAndWait(t1, t2.Handle(), true); err != nil {
		t.Fatalf("SendRequestAndWait T1->T2: %v", err)
	}
	if t2.State() != Active {
		t.Fatalf("T2 state = %s, want ACTIVE (delivered T1's request)", t2.State())
	}

	if err := k.SendRequestAndWait(t2, t3.Handle(), true); err != nil {
		t.Fatalf("SendRequestAndWait T2->T3: %v", err)
	}

	sched := k.cpuFor(t3).Scheduler()
	if head := sched.Head(); head != t3.share {
		label := "<nil>"
		if head != nil {
			label = head.Label()
		}
		t.Fatalf("head = %s, want T3 while T1 and T2 help it", label)
	}
	if t1.State() != AwaitsIPC {
		t.Fatalf("T1 state = %s, want AWAITS_IPC", t1.State())
	}
	if t2.State() != AwaitsIPC {
		t.Fatalf("T2 state = %s, want AWAITS_IPC", t2.State())
	}

	if err := k.Reply(t3); err != nil {
		t.Fatalf("Reply T3->T2: %v", err)
	}
	if t2.State() != Active {
		t.Fatalf("T2 state after T3's reply = %s, want ACTIVE", t2.State())
	}
	if t1.State() != AwaitsIPC {
		t.Fatalf("T1 state = %s, want still AWAITS_IPC (T2 hasn't replied yet)", t1.State())
	}

	if err := k.Reply(t2); err != nil {
		t.Fatalf("Reply T2->T1: %v", err)
	}
	if t1.State() != Active {
		t.Fatalf("T1 state after T2's reply = %s, want ACTIVE", t1.State())
	}
}
