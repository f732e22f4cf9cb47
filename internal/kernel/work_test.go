package kernel

import (
	"testing"

	"hwkernel/internal/config"

	"github.com/sirupsen/logrus"
)

// S5 TLB shoot-down / Property 10 TLB coherence: two CPUs each host a
// thread of PD P; a core thread on CPU0 calls update_pd(P); once every
// participant CPU has drained its work queue, the caller's update_pd
// call returns and every one of them has invalidated the affected TLB
// range.
func TestTLBShootdownS5(t *testing.T) {
	cfg := config.Default()
	cfg.NumCPUs = 2
	k := NewKernel(cfg, NewLogger(logrus.ErrorLevel))

	core := k.CorePd()
	coreCaller, err := k.NewThread(nil, "core-caller", 3, 0, core.Handle(), true)
	if err != nil {
		t.Fatalf("NewThread core-caller: %v", err)
	}
	callerThread, _ := k.thread(coreCaller)
	if err := k.StartThread(nil, coreCaller, 0); err != nil {
		t.Fatalf("start core-caller: %v", err)
	}

	pHandle, err := k.NewPD(callerThread, "P", 0x1000, 4096)
	if err != nil {
		t.Fatalf("NewPD: %v", err)
	}
	p, _ := k.pd(pHandle)

	t0 := mustThread(t, k, "on-cpu0", 2, 0, pHandle)
	t1 := mustThread(t, k, "on-cpu1", 2, 0, pHandle)
	if err := k.StartThread(nil, t0.Handle(), 0); err != nil {
		t.Fatalf("start t0: %v", err)
	}
	if err := k.StartThread(nil, t1.Handle(), 1); err != nil {
		t.Fatalf("start t1: %v", err)
	}

	if got := p.participants(); len(got) != 2 {
		t.Fatalf("participants = %v, want both CPU 0 and 1", got)
	}

	w, err := k.beginPDFlush(callerThread, pHandle)
	if err != nil {
		t.Fatalf("beginPDFlush: %v", err)
	}
	k.DrainCPU(0)
	k.DrainCPU(1)
	w.Wait()

	if len(k.arch.Flushes) != 2 {
		t.Fatalf("flush count = %d, want 2 (one per participant CPU)", len(k.arch.Flushes))
	}
}
