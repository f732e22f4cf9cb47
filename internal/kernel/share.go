package kernel

// Priority is a CPU share's scheduling priority band, in
// [PrioMin, PrioMax] inclusive (higher is more important).
type Priority int

// Share is the scheduler-visible record for one runnable entity
// (thread, VM, or idle context). It carries no behavior of its own —
// every operation on it is driven by Scheduler — and embeds the
// intrusive list links the original's Claim_list/Fill_list used,
// expressed here as plain pointers since a Share's owner (its Thread
// or the CPU's idle context) keeps it alive for as long as it can be
// linked into a scheduler list.
type Share struct {
	priority Priority
	quota    uint32 // quota microseconds per round; 0 means "no claim"
	claim    uint32 // residual claim for the current round
	fill     uint32 // residual fill for the current round-robin slot

	ready       bool
	readyRemote bool

	// claimNext/claimPrev link this share into whichever of the
	// per-priority ready/unready claim lists currently holds it.
	claimNext, claimPrev *Share
	inClaimList          bool

	// fillNext/fillPrev link this share into the single fill ring.
	fillNext, fillPrev *Share
	inFillList         bool

	// debugCyclesPayed/debugCyclesExecuted mirror the original's
	// scattered accounting counters. They are not contracts (spec.md
	// §9 Open Questions) and never influence a scheduling decision.
	debugCyclesPayed    uint64
	debugCyclesExecuted uint64

	label string // debug identifier, analogous to print_label()

	// owner is the thread this share belongs to, nil for a CPU's idle
	// share. The scheduler itself never reads it; it's how a CPU maps
	// Scheduler.Head() back to the thread it should actually run.
	owner *Thread
}

// NewShare constructs a share at the given priority and quota. A
// zero quota share never participates in the claim bands; it is
// always a fill-only (or idle) participant.
func NewShare(label string, prio Priority, quotaUS uint32) *Share {
	return &Share{label: label, priority: prio, quota: quotaUS}
}

func (s *Share) Label() string     { return s.label }
func (s *Share) Priority() Priority { return s.priority }
func (s *Share) Quota() uint32     { return s.quota }
func (s *Share) Claim() uint32     { return s.claim }
func (s *Share) Fill() uint32      { return s.fill }
func (s *Share) Ready() bool       { return s.ready }
func (s *Share) Owner() *Thread    { return s.owner }
func (s *Share) setOwner(t *Thread) { s.owner = t }

func (s *Share) debugPayed(cycles uint64)    { s.debugCyclesPayed += cycles }
func (s *Share) debugExecuted(cycles uint64) { s.debugCyclesExecuted += cycles }
