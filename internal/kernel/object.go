package kernel

// capRefUnitBytes is the accounting unit charged against a PD's
// capability slab for each IdentityRef it holds, standing in for
// sizeof(Object_identity_reference) in the original allocator.
const capRefUnitBytes = 64

// Donation represents memory a caller has handed to the kernel to
// construct an object in. The core never reclaims it on destruction —
// that remains the caller's responsibility (spec.md §5) — so Donation
// here is purely an accounting record, not a real allocator: it lets
// callers size a PD's capability slab and lets the kernel refuse
// construction once a PD's budget is exhausted, without the kernel
// ever owning a general-purpose heap of its own.
type Donation struct {
	bytes uint32
}

// NewDonation records a caller's memory grant of the given size.
func NewDonation(bytes uint32) *Donation { return &Donation{bytes: bytes} }

func (d *Donation) Bytes() uint32 { return d.bytes }
