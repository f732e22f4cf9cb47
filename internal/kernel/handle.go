package kernel

import "fmt"

// Kind tags the variant a Handle refers to, standing in for the
// original's cyclic C++ pointers between thread, IPC node, scheduler
// share, CPU and PD: a Handle is a (kind, index, generation) triple
// instead of a raw pointer, so a stale reference is detectable rather
// than a dangling pointer.
type Kind uint8

const (
	KindThread Kind = iota + 1
	KindPD
	KindSignalReceiver
	KindSignalContext
	KindWorkItem
	KindIRQ
)

func (k Kind) String() string {
	switch k {
	case KindThread:
		return "thread"
	case KindPD:
		return "pd"
	case KindSignalReceiver:
		return "signal-receiver"
	case KindSignalContext:
		return "signal-context"
	case KindWorkItem:
		return "work-item"
	case KindIRQ:
		return "irq"
	default:
		return "unknown"
	}
}

// Handle is a generation-checked reference to a kernel object. The
// zero Handle never refers to a live object.
type Handle struct {
	Kind  Kind
	Index uint32
	Gen   uint32
}

func (h Handle) String() string {
	return fmt.Sprintf("%s#%d/%d", h.Kind, h.Index, h.Gen)
}

// Valid reports whether h could possibly name an object (a non-zero
// generation); it does not check liveness against an arena.
func (h Handle) Valid() bool { return h.Gen != 0 }

type slot[T any] struct {
	obj   *T
	gen   uint32
	alive bool
}

// Arena owns every live object of one kind and hands out
// generation-checked handles to them. It replaces the cyclic pointer
// graph of the original with a single allocation authority per kind;
// the kernel's "big kernel lock" already serializes all access, so
// Arena itself is not internally synchronized.
type Arena[T any] struct {
	kind  Kind
	slots []slot[T]
	free  []uint32
}

// NewArena constructs an empty arena for objects tagged kind.
func NewArena[T any](kind Kind) *Arena[T] {
	return &Arena[T]{kind: kind}
}

// Alloc installs obj (constructed by the caller from donated memory)
// and returns its handle.
func (a *Arena[T]) Alloc(obj *T) Handle {
	if n := len(a.free); n > 0 {
		idx := a.free[n-1]
		a.free = a.free[:n-1]
		s := &a.slots[idx]
		s.obj = obj
		s.alive = true
		return Handle{Kind: a.kind, Index: idx, Gen: s.gen}
	}
	idx := uint32(len(a.slots))
	a.slots = append(a.slots, slot[T]{obj: obj, gen: 1, alive: true})
	return Handle{Kind: a.kind, Index: idx, Gen: 1}
}

// Get resolves h to its live object, or reports false if h has been
// freed or superseded by a later generation.
func (a *Arena[T]) Get(h Handle) (*T, bool) {
	if h.Kind != a.kind || int(h.Index) >= len(a.slots) {
		return nil, false
	}
	s := &a.slots[h.Index]
	if !s.alive || s.gen != h.Gen {
		return nil, false
	}
	return s.obj, true
}

// Free invalidates h's slot, bumping its generation so stale handles
// are rejected by Get, and returns it to the free list for reuse.
func (a *Arena[T]) Free(h Handle) bool {
	if h.Kind != a.kind || int(h.Index) >= len(a.slots) {
		return false
	}
	s := &a.slots[h.Index]
	if !s.alive || s.gen != h.Gen {
		return false
	}
	s.alive = false
	s.obj = nil
	s.gen++
	a.free = append(a.free, h.Index)
	return true
}

// Len reports the number of live objects.
func (a *Arena[T]) Len() int {
	n := 0
	for _, s := range a.slots {
		if s.alive {
			n++
		}
	}
	return n
}
