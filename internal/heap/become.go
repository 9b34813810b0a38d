package heap

import (
	"github.com/pkg/errors"

	"soupvm/internal/oop"
)

// Become swaps the identities of paired elements of old and new
// (spec §4.1.5). Unlike Scavenge/MarkSweep, which never need a
// forwarding pointer because handle-table residency is metadata-only,
// Become is a genuine identity change between two distinct live
// objects, so it does use the forwarding-corpse machinery the handle
// table otherwise avoids: each forwarder's header aux slot is set to
// AuxForwardingTarget, every existing reference is walked and rewritten
// to the forwardee, and the forwarder handle is left as a dead corpse
// for the next collection to reclaim.
func (h *Heap) Become(oldArr, newArr []oop.Oop) error {
	if len(oldArr) != len(newArr) {
		return errors.Errorf("heap: become arrays have mismatched length (%d vs %d)", len(oldArr), len(newArr))
	}
	for i := range oldArr {
		if !oldArr[i].IsHeap() || !newArr[i].IsHeap() {
			return errors.Errorf("heap: become element %d is not a heap object", i)
		}
	}

	// Set up every forwarding corpse before rewriting any reference, so
	// that a reference discovered mid-walk which itself points through
	// an earlier pair's forwardee still resolves correctly.
	for i := range oldArr {
		oldOop, newOop := oldArr[i], newArr[i]
		oldObj := h.Deref(oldOop)
		newObj := h.Deref(newOop)

		// Preserve identity hash: the forwardee receives the forwarder's
		// hash (spec §4.1.5).
		oldHash := h.IdentityHash(oldOop)
		newObj.Hdr().Aux = oop.AuxSlot{Kind: oop.AuxIdentityHash, Hash: oldHash}

		h.rewriteClassInstances(oldOop, newOop)

		oldObj.Hdr().Aux = oop.AuxSlot{Kind: oop.AuxForwardingTarget, Forward: newOop}
	}

	resolve := func(o oop.Oop) oop.Oop {
		for o.IsHeap() {
			idx := o.HandleIndex()
			if idx >= uint64(len(h.handles)) || !h.handles[idx].alive {
				break
			}
			aux := h.handles[idx].obj.Hdr().Aux
			if !aux.IsForwarded() {
				break
			}
			o = aux.Forward
		}
		return o
	}

	// Walk every live object's slots plus roots and the class table,
	// rewriting any reference that currently points through a forwarding
	// corpse (spec §4.1.5's "all roots, both semispaces, all old regions,
	// and the class table are walked"; in this handle-table design that
	// is simply every live handle, since storage isn't addressed by
	// semispace/region position).
	for idx := range h.handles {
		slot := &h.handles[idx]
		if !slot.alive {
			continue
		}
		for i, s := range slot.obj.Slots() {
			if r := resolve(s); r != s {
				slot.obj.SetSlot(i, r)
			}
		}
	}
	for _, r := range h.gcRoots() {
		if n := resolve(*r); n != *r {
			*r = n
		}
	}
	for cid, c := range h.classTable {
		if n := resolve(c); n != c {
			h.classTable[cid] = n
		}
	}

	h.rebuildRememberedSet()
	h.OrdinaryCache.Flush()
	h.NSCache.Flush()

	if h.log != nil {
		h.log.WithField("pairs", len(oldArr)).Debug("become complete")
	}
	return nil
}

// rewriteClassInstances implements spec §4.1.5's class-id rewrite pass
// and invariant I2: when oldOop is itself a Class or Metaclass object
// governing some class id, every existing instance of that class id is
// relabeled to the class id newOop will govern (registering newOop into
// the class table first if it doesn't already govern one), and the old
// class id is retired.
//
// A class-shaped object here is never a distinct concrete Go type:
// internal/snapshot/clusters.go's instanceCluster is the sole producer
// of Behavior/Class/Metaclass/AbstractMixin shapes, and it always
// produces a plain *objects.Instance read through the AsBehavior/
// AsClass view helpers (internal/objects/views.go). So "does oldOop
// govern a class id" isn't a field read off oldOop's own struct; it's
// answered the way the class table itself answers it elsewhere
// (RegisterClass/ClassObject): a class id's sole witness is
// h.classTable[cid] == oldOop.
func (h *Heap) rewriteClassInstances(oldOop, newOop oop.Oop) {
	oldCid, ok := h.governedClassID(oldOop)
	if !ok {
		return
	}

	newCid, ok := h.governedClassID(newOop)
	if !ok {
		newCid = h.RegisterClass(newOop)
	}

	for idx := range h.handles {
		slot := &h.handles[idx]
		if slot.alive && slot.obj.Hdr().ClassID == oldCid {
			slot.obj.Hdr().ClassID = newCid
		}
	}

	h.classTable[oldCid] = oop.Nil
	h.classFree = append(h.classFree, oldCid)
}

// governedClassID reverse-looks-up the class table for the id target
// governs, i.e. the cid such that h.classTable[cid] == target. Both
// oldOop and newOop are already known to be heap objects (Become's
// caller rejects anything else), so a match can never be the table's
// oop.Nil padding for an unregistered slot.
func (h *Heap) governedClassID(target oop.Oop) (oop.ClassID, bool) {
	for cid, classOop := range h.classTable {
		if classOop == target {
			return oop.ClassID(cid), true
		}
	}
	return 0, false
}
