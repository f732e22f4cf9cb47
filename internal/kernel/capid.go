package kernel

import (
	"github.com/google/btree"
)

// CapID is a PD-local capability identifier, unique within one PD's
// capability tree.
type CapID uint32

// CapIDInvalid is the sentinel written into a UTCB slot when no
// capability was translated.
const CapIDInvalid CapID = 0

// Identity is a kernel object's stable, cross-PD identity. Every
// kernel object owns exactly one Identity; every PD that references
// the object does so through an IdentityRef pointing back at it.
// Destroying the object invalidates every IdentityRef that points to
// it (their Dead flag is set), without necessarily freeing the
// IdentityRef value itself — mirroring the spec's "removing the last
// reference... deletes the reference but not necessarily the object;
// destroying an object invalidates all references to it."
type Identity struct {
	kind    Kind
	handle  Handle
	object  any // the typed kernel object (*Thread, *Pd, *SignalReceiver, ...)
	dead    bool
	refs    []*IdentityRef
}

func newIdentity(kind Kind, handle Handle, object any) *Identity {
	return &Identity{kind: kind, handle: handle, object: object}
}

// Kill marks the identity dead; every PD's reference to it now reports
// Dead() and Object returns false for it, though the IdentityRef
// entries stay in their capability trees (Find still returns them under
// their capid), the way the original separates "reference deleted"
// from "object destroyed."
func (id *Identity) Kill() { id.dead = true }

func (id *Identity) addRef(r *IdentityRef) { id.refs = append(id.refs, r) }

func (id *Identity) removeRef(r *IdentityRef) {
	for i, x := range id.refs {
		if x == r {
			id.refs = append(id.refs[:i], id.refs[i+1:]...)
			return
		}
	}
}

// IdentityRef is one PD's reference to an Identity: a PD-local capid,
// the identity it names, and whether it is currently installed in a
// UTCB capability slot (relevant to the "unused slots after copy are
// freed" IPC rule).
type IdentityRef struct {
	identity *Identity
	pd       *Pd
	capid    CapID
	inUTCB   bool
}

func (r *IdentityRef) Identity() *Identity { return r.identity }
func (r *IdentityRef) CapID() CapID        { return r.capid }
func (r *IdentityRef) Dead() bool          { return r.identity == nil || r.identity.dead }

// Object returns the identity's typed object if it is alive and, when
// T is non-empty, matches the requested type — the "typed object
// pointer with a type check against a stored type tag" lookup.
func Object[T any](r *IdentityRef) (T, bool) {
	var zero T
	if r == nil || r.Dead() {
		return zero, false
	}
	t, ok := r.identity.object.(T)
	return t, ok
}

type capEntry struct {
	id  CapID
	ref *IdentityRef
}

func capLess(a, b capEntry) bool { return a.id < b.id }

// CapTree is a PD's capability tree: an ordered index from PD-local
// capability-ids to identity references, backed by a B-tree so
// capability dumps (a debug/accounting aid) can walk ids in order
// without a separate sort pass, the way a production capability-space
// directory would.
type CapTree struct {
	tree *btree.BTreeG[capEntry]
	next CapID
}

func NewCapTree() *CapTree {
	return &CapTree{tree: btree.NewG(32, capLess), next: 1}
}

// Find performs an exact-match lookup; a missing or CapIDInvalid id
// reports (nil, false).
func (c *CapTree) Find(id CapID) (*IdentityRef, bool) {
	if id == CapIDInvalid {
		return nil, false
	}
	e, ok := c.tree.Get(capEntry{id: id})
	if !ok {
		return nil, false
	}
	return e.ref, true
}

// Insert installs ref under a freshly allocated capid and returns it.
func (c *CapTree) Insert(mk func(id CapID) *IdentityRef) *IdentityRef {
	id := c.next
	c.next++
	ref := mk(id)
	c.tree.ReplaceOrInsert(capEntry{id: id, ref: ref})
	return ref
}

// FindByIdentity returns this tree's existing reference to identity,
// if one was already installed — used by IPC capability translation
// so re-sending the same capability reuses the receiver's existing
// reference instead of minting a second one for the same identity.
func (c *CapTree) FindByIdentity(identity *Identity) (*IdentityRef, bool) {
	var found *IdentityRef
	c.tree.Ascend(func(e capEntry) bool {
		if e.ref.identity == identity {
			found = e.ref
			return false
		}
		return true
	})
	return found, found != nil
}

// Remove deletes id's entry from the tree. It does not touch the
// referenced Identity (whether the backing object is destroyed is the
// object's own lifetime, not the tree's).
func (c *CapTree) Remove(id CapID) (*IdentityRef, bool) {
	e, ok := c.tree.Delete(capEntry{id: id})
	if !ok {
		return nil, false
	}
	return e.ref, true
}

// Ascend walks every entry in capid order, for capability-space dumps.
func (c *CapTree) Ascend(f func(CapID, *IdentityRef) bool) {
	c.tree.Ascend(func(e capEntry) bool { return f(e.id, e.ref) })
}

func (c *CapTree) Len() int { return c.tree.Len() }
