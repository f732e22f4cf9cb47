package kernel

import "testing"

// Property 8: signal serialization per context. Two submit calls on
// the same context cause exactly two handler wake-ups, each gated by
// its own ack_signal.
func TestSignalSerializationPerContext(t *testing.T) {
	k := newTestKernel(t)
	core := k.CorePd()

	receiverThread := mustThread(t, k, "receiver", 2, 0, core.Handle())
	if err := k.StartThread(nil, receiverThread.Handle(), 0); err != nil {
		t.Fatalf("start receiver: %v", err)
	}

	rh, err := k.NewSignalReceiver(nil)
	if err != nil {
		t.Fatalf("NewSignalReceiver: %v", err)
	}
	ch, err := k.NewSignalContext(nil, rh, 0xC0FFEE)
	if err != nil {
		t.Fatalf("NewSignalContext: %v", err)
	}

	if err := k.SubmitSignal(nil, ch, 1); err != nil {
		t.Fatalf("submit #1: %v", err)
	}
	if err := k.SubmitSignal(nil, ch, 1); err != nil {
		t.Fatalf("submit #2: %v", err)
	}

	if err := k.AwaitSignal(receiverThread, rh); err != nil {
		t.Fatalf("await #1: %v", err)
	}
	if receiverThread.State() != Active {
		t.Fatalf("receiver state after first delivery = %s, want ACTIVE", receiverThread.State())
	}
	if receiverThread.Retval() != 1 {
		t.Fatalf("first delivery count = %d, want 1", receiverThread.Retval())
	}

	ctx, _ := k.contexts.Get(ch)
	if !ctx.delivered {
		t.Fatalf("context not marked delivered after first wake-up")
	}

	if err := k.AckSignal(receiverThread, ch); err != nil {
		t.Fatalf("ack #1: %v", err)
	}

	if err := k.AwaitSignal(receiverThread, rh); err != nil {
		t.Fatalf("await #2: %v", err)
	}
	if receiverThread.State() != Active {
		t.Fatalf("receiver state after second delivery = %s, want ACTIVE", receiverThread.State())
	}
	if receiverThread.Retval() != 1 {
		t.Fatalf("second delivery count = %d, want 1", receiverThread.Retval())
	}

	if err := k.AckSignal(receiverThread, ch); err != nil {
		t.Fatalf("ack #2: %v", err)
	}
	if len(ctx.pending) != 0 || ctx.delivered {
		t.Fatalf("context still has outstanding state after two acks")
	}
}

// S6 Signal kill: submit X twice, deliver once, call
// kill_signal_context(X) -- kill blocks until two ack_signal(X) calls
// have arrived (property 9, kill ordering).
func TestSignalKillOrderingS6(t *testing.T) {
	k := newTestKernel(t)
	core := k.CorePd()

	receiverThread := mustThread(t, k, "receiver", 2, 0, core.Handle())
	killerThread := mustThread(t, k, "killer", 2, 0, core.Handle())
	if err := k.StartThread(nil, receiverThread.Handle(), 0); err != nil {
		t.Fatalf("start receiver: %v", err)
	}
	if err := k.StartThread(nil, killerThread.Handle(), 0); err != nil {
		t.Fatalf("start killer: %v", err)
	}

	rh, _ := k.NewSignalReceiver(nil)
	ch, err := k.NewSignalContext(nil, rh, 7)
	if err != nil {
		t.Fatalf("NewSignalContext: %v", err)
	}

	if err := k.SubmitSignal(nil, ch, 1); err != nil {
		t.Fatalf("submit #1: %v", err)
	}
	if err := k.SubmitSignal(nil, ch, 1); err != nil {
		t.Fatalf("submit #2: %v", err)
	}

	if err := k.AwaitSignal(receiverThread, rh); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	if err := k.KillSignalContext(killerThread, ch); err != nil {
		t.Fatalf("kill: %v", err)
	}
	if killerThread.State() != AwaitsSignalContextKill {
		t.Fatalf("killer state = %s, want AWAITS_SIGNAL_CONTEXT_KILL", killerThread.State())
	}
	if _, ok := k.contexts.Get(ch); !ok {
		t.Fatalf("context destroyed before any ack")
	}

	if err := k.AckSignal(receiverThread, ch); err != nil {
		t.Fatalf("ack #1: %v", err)
	}
	if killerThread.State() != AwaitsSignalContextKill {
		t.Fatalf("killer released after only one ack; want still blocked")
	}
	if _, ok := k.contexts.Get(ch); !ok {
		t.Fatalf("context destroyed after only one ack")
	}

	if err := k.AwaitSignal(receiverThread, rh); err != nil {
		t.Fatalf("deliver #2: %v", err)
	}
	if err := k.AckSignal(receiverThread, ch); err != nil {
		t.Fatalf("ack #2: %v", err)
	}

	if killerThread.State() != Active {
		t.Fatalf("killer state after second ack = %s, want ACTIVE", killerThread.State())
	}
	if _, ok := k.contexts.Get(ch); ok {
		t.Fatalf("context still alive after kill completed")
	}
}
