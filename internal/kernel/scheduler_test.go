package kernel

import "testing"

// The helpers below intentionally mirror the Genode original's
// check_effect/check_time/check_timeout/check_share functions
// (repos/base-hw/src/test/cpu_scheduler/kernel/test.cc) rather than a
// generic Go assertion library: the seed scenarios in spec.md §8 are
// lifted directly from that file's scripted sequences.

func wantEffect(t *testing.T, s *Scheduler, want TurnEffect) {
	t.Helper()
	if got := s.EndTurn(); got != want {
		t.Fatalf("turn effect = %s, want %s", got, want)
	}
}

func wantTime(t *testing.T, s *Scheduler, want uint32) {
	t.Helper()
	if got := s.RoundQuota() - s.Residual(); got != want {
		t.Fatalf("time = %d, want %d", got, want)
	}
}

func wantQuota(t *testing.T, s *Scheduler, want uint32) {
	t.Helper()
	if got := s.HeadQuota(); got != want {
		t.Fatalf("head quota = %d, want %d", got, want)
	}
}

func wantShare(t *testing.T, s *Scheduler, want *Share) {
	t.Helper()
	if got := s.Head(); got != want {
		gotLabel := "<nil>"
		if got != nil {
			gotLabel = got.Label()
		}
		t.Fatalf("head = %s, want %s", gotLabel, want.Label())
	}
}

func turnTimeout(t *testing.T, s *Scheduler, time, quota uint32) {
	t.Helper()
	wantEffect(t, s, TurnTimeout)
	wantQuota(t, s, quota)
	wantTime(t, s, time)
}

func turnShare(t *testing.T, s *Scheduler, time, quota uint32, share *Share) {
	t.Helper()
	wantEffect(t, s, TurnShare)
	wantShare(t, s, share)
	wantQuota(t, s, quota)
	wantTime(t, s, time)
}

func turnNone(t *testing.T, s *Scheduler) {
	t.Helper()
	wantEffect(t, s, TurnNone)
}

// S1 Idle round: no shares; for each of 9 head-timeout events with
// slice 100, head remains idle; residual decreases monotonically
// 1000 -> 100.
func TestSchedulerS1IdleRound(t *testing.T) {
	idle := NewShare("idle", 0, 0)
	s := NewScheduler(idle, 1000, 100)

	for i := 0; i < 9; i++ {
		s.HeadConsumed(100)
		s.HeadTimeout()
		turnTimeout(t, s, uint32(100*(i+1)), 100)
	}
}

// S2 Single claim + filler: share A(prio=2, quota=230) inserted and
// made ready at time 74 -- head becomes A with slice 230; at time 274
// A marked unready -- head becomes idle; at time 410 A ready again --
// head A slice 30 (claim remainder).
func TestSchedulerS2SingleClaimPlusFiller(t *testing.T) {
	idle := NewShare("idle", 0, 0)
	s := NewScheduler(idle, 1000, 100)
	a := NewShare("A", 2, 230)

	s.Insert(a)

	s.HeadConsumed(74)
	s.HeadTimeout()
	turnTimeout(t, s, 74, 100)

	s.Ready(a)
	turnShare(t, s, 74, 230, a)

	s.HeadConsumed(200)
	s.HeadTimeout()
	turnTimeout(t, s, 274, 30)

	s.Unready(a)
	turnShare(t, s, 274, 100, idle)

	s.HeadConsumed(100)
	s.HeadTimeout()
	turnTimeout(t, s, 374, 100)

	s.HeadConsumed(36)
	s.HeadTimeout()
	turnTimeout(t, s, 410, 100)

	s.Ready(a)
	turnShare(t, s, 410, 30, a)
}

// S3 Priority inversion guard: at time 100 three claims
// A(p=2,q=230), B(p=0,q=170), C(p=3,q=110) all ready; head must be C.
func TestSchedulerS3PriorityInversionGuard(t *testing.T) {
	idle := NewShare("idle", 0, 0)
	s := NewScheduler(idle, 1000, 100)

	a := NewShare("A", 2, 230)
	b := NewShare("B", 0, 170)
	c := NewShare("C", 3, 110)

	s.Insert(a)
	s.Insert(b)
	s.Insert(c)

	s.HeadConsumed(100)
	s.HeadTimeout()
	turnTimeout(t, s, 100, 100)

	s.Ready(a)
	turnShare(t, s, 100, 230, a)

	s.Ready(b)
	turnNone(t, s)

	s.Ready(c)
	turnShare(t, s, 100, 110, c)

	if got := s.Head(); got != c {
		t.Fatalf("head = %s, want C", got.Label())
	}
}

// Property 2: priority dominance. A higher-priority ready claim is
// always chosen as head over a lower-priority one.
func TestSchedulerPriorityDominance(t *testing.T) {
	idle := NewShare("idle", 0, 0)
	s := NewScheduler(idle, 1000, 100)

	lo := NewShare("lo", 1, 100)
	hi := NewShare("hi", 3, 100)

	s.Insert(lo)
	s.Insert(hi)
	s.Ready(lo)
	s.EndTurn()
	if s.Head() != lo {
		t.Fatalf("head = %s, want lo", s.Head().Label())
	}

	s.Ready(hi)
	s.EndTurn()
	if s.Head() != hi {
		t.Fatalf("head = %s, want hi (priority dominance violated)", s.Head().Label())
	}
}

// Property 4: no unnecessary preemption on insert. Readying a second
// claim of the same priority, behind a head that still has claim,
// must not preempt that head.
func TestSchedulerNoUnnecessaryPreemptionOnInsert(t *testing.T) {
	idle := NewShare("idle", 0, 0)
	s := NewScheduler(idle, 1000, 100)

	a := NewShare("A", 2, 100)
	b := NewShare("B", 2, 100)

	s.Insert(a)
	s.Insert(b)

	s.Ready(a)
	s.EndTurn()
	if s.Head() != a {
		t.Fatalf("head = %s, want A", s.Head().Label())
	}

	s.Ready(b)
	turnNone(t, s)
	if s.Head() != a {
		t.Fatalf("head = %s, want A (unnecessary preemption)", s.Head().Label())
	}
}

// Property 5: idle is always a valid choice. With no ready share,
// idle is head and receives a full fill slice.
func TestSchedulerIdleAlwaysValidChoice(t *testing.T) {
	idle := NewShare("idle", 0, 0)
	s := NewScheduler(idle, 1000, 100)

	if s.Head() != idle {
		t.Fatalf("initial head = %s, want idle", s.Head().Label())
	}
	if s.HeadQuota() != 100 {
		t.Fatalf("idle quota = %d, want full fill slice 100", s.HeadQuota())
	}
}

// Property 3: fill fairness. Among ready shares with no remaining
// claim, head time is distributed round-robin in fill-slice quanta.
func TestSchedulerFillFairness(t *testing.T) {
	idle := NewShare("idle", 0, 0)
	s := NewScheduler(idle, 1000, 100)

	a := NewShare("A", 1, 0)
	b := NewShare("B", 1, 0)

	s.Insert(a)
	s.Insert(b)
	s.Ready(a)
	s.Ready(b)
	s.EndTurn()

	if s.Head() != a {
		t.Fatalf("head = %s, want A first in fill ring", s.Head().Label())
	}

	s.HeadConsumed(100)
	s.HeadTimeout()
	if s.Head() != b {
		t.Fatalf("head = %s, want B after A's fill slice expires", s.Head().Label())
	}

	s.HeadConsumed(100)
	s.HeadTimeout()
	if s.Head() != a {
		t.Fatalf("head = %s, want A again (round-robin)", s.Head().Label())
	}
}

// Property 1 (abridged): proportional share over a round. A single
// claim with quota <= round quota receives at least its quota's worth
// of head time before the round resets.
func TestSchedulerProportionalShareOverRound(t *testing.T) {
	idle := NewShare("idle", 0, 0)
	s := NewScheduler(idle, 1000, 100)
	a := NewShare("A", 2, 300)

	s.Insert(a)
	s.Ready(a)
	s.EndTurn()

	if s.Head() != a || s.HeadQuota() != 300 {
		t.Fatalf("head = %s quota %d, want A 300", s.Head().Label(), s.HeadQuota())
	}

	s.HeadConsumed(300)
	s.HeadTimeout()
	// Claim exhausted for this round; falls back to fill/idle, never
	// exceeding its quota before the round resets.
	if s.Head() == a && s.HeadClaims() {
		t.Fatalf("claim share exceeded its quota before round reset")
	}
}
