package kernel

// Pd is a protection domain: an address space plus a capability
// space, shared by every thread that joins it. The core only
// activates a page table a Pd is handed at construction — virtual
// memory allocation policy is explicitly out of scope (spec.md §1
// Non-goals).
type Pd struct {
	handle Handle
	label  string

	pageTableRoot uint64
	donation      *Donation

	caps         *CapTree
	capSlabUsed  uint32
	capSlabLimit uint32

	// tlbParticipants tracks the CPUs a thread of this PD has been
	// started on, so update_pd knows which CPUs must be asked to
	// invalidate their TLB. Entries are not removed when such a thread
	// stops or is deleted.
	tlbParticipants map[int]bool

	core bool
}

func newPd(handle Handle, label string, pageTableRoot uint64, donation *Donation) *Pd {
	return &Pd{
		handle:          handle,
		label:           label,
		pageTableRoot:   pageTableRoot,
		donation:        donation,
		caps:            NewCapTree(),
		capSlabLimit:    donation.Bytes(),
		tlbParticipants: make(map[int]bool),
	}
}

func (p *Pd) Handle() Handle { return p.handle }
func (p *Pd) IsCore() bool   { return p.core }

// reserveCapSlots optimistically charges n capability-reference units
// against the slab in one shot, so a mid-copy shortfall during IPC
// capability translation is detected before any capability is
// actually translated (spec.md §4.C: "allocated before the copy to
// avoid partial-failure").
func (p *Pd) reserveCapSlots(n int) bool {
	need := uint32(n) * capRefUnitBytes
	if p.capSlabUsed+need > p.capSlabLimit {
		return false
	}
	p.capSlabUsed += need
	return true
}

// releaseCapSlot returns one unused reservation to the slab.
func (p *Pd) releaseCapSlot() {
	if p.capSlabUsed >= capRefUnitBytes {
		p.capSlabUsed -= capRefUnitBytes
	}
}

// addParticipant records that cpuID now schedules a thread of this PD.
func (p *Pd) addParticipant(cpuID int) { p.tlbParticipants[cpuID] = true }

// removeParticipant forgets that cpuID schedules a thread of this PD.
func (p *Pd) removeParticipant(cpuID int) { delete(p.tlbParticipants, cpuID) }

// participants returns the CPU ids that must be asked to invalidate
// their TLB on an update_pd.
func (p *Pd) participants() []int {
	ids := make([]int, 0, len(p.tlbParticipants))
	for id := range p.tlbParticipants {
		ids = append(ids, id)
	}
	return ids
}
