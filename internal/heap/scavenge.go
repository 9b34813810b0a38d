package heap

import "soupvm/internal/oop"

// Scavenge runs a young-generation collection: root scan, transitive
// trace of the young set, tenuring of objects that have survived
// ageThreshold prior scavenges, ephemeron rounds, weak-array clearing,
// and class-table cleanup (spec §4.1.3). Because this heap's objects
// live at stable handle-table indices (see the package doc comment),
// "copying" a survivor is a metadata update rather than a byte copy, and
// no forwarding pointers are needed mid-scavenge.
func (h *Heap) Scavenge() {
	if h.log != nil {
		h.log.Debug("scavenge begin")
	}

	survivors := make(map[uint64]bool)
	var worklist []uint64

	visit := func(o oop.Oop) {
		if !o.IsHeap() {
			return
		}
		idx := o.HandleIndex()
		if idx >= uint64(len(h.handles)) || !h.handles[idx].alive {
			return
		}
		if h.handles[idx].space != SpaceNew {
			return
		}
		if survivors[idx] {
			return
		}
		survivors[idx] = true
		worklist = append(worklist, idx)
	}

	for _, r := range h.gcRoots() {
		visit(*r)
	}
	// The remembered set doubles as old-to-new roots (spec §4.1.3 step 2).
	for _, idx := range h.remembered {
		if !h.handles[idx].alive {
			continue
		}
		for _, s := range h.handles[idx].obj.Slots() {
			visit(s)
		}
	}

	for i := 0; i < len(worklist); i++ {
		idx := worklist[i]
		for _, s := range h.handles[idx].obj.Slots() {
			visit(s)
		}
	}

	h.processEphemerons(visit, survivors)
	// Draining after ephemeron rounds may have marked more objects
	// reachable via a value/finalizer slot; finish the transitive trace.
	for i := 0; i < len(worklist); i++ {
		idx := worklist[i]
		for _, s := range h.handles[idx].obj.Slots() {
			visit(s)
		}
	}

	h.processWeakArrays(survivors)

	// Promote survivors that have aged past the tenure threshold; free
	// everything else in young space.
	tenuredBytes := 0
	survivingYoungBytes := 0
	promoted := make(map[uint64]bool)
	for idx := range h.handles {
		slot := &h.handles[idx]
		if !slot.alive || slot.space != SpaceNew {
			continue
		}
		if !survivors[uint64(idx)] {
			slot.alive = false
			slot.obj = nil
			h.freeIDs = append(h.freeIDs, uint64(idx))
			continue
		}
		slot.age++
		if slot.age > ageThreshold {
			slot.space = SpaceOld
			h.oldUsed += slot.size
			tenuredBytes += slot.size
			promoted[uint64(idx)] = true
		} else {
			survivingYoungBytes += slot.size
		}
	}

	// Every live Oop caches its referent's space bit inline (spec §3.1);
	// a promotion must update every copy of that bit, not just the
	// handle table's own bookkeeping, or a stale copy would keep reading
	// as new-space forever.
	h.rewriteSpaceBits(promoted)

	h.processClassTable(survivors)

	h.young.Reset()
	h.young.Bump(survivingYoungBytes)

	if survivingYoungBytes > h.young.Capacity()/3 && h.young.Capacity() < h.cfg.YoungMaxCapacity {
		newCap := h.young.Capacity() * 2
		if newCap > h.cfg.YoungMaxCapacity {
			newCap = h.cfg.YoungMaxCapacity
		}
		if err := h.young.Grow(newCap); err != nil && h.log != nil {
			h.log.WithError(err).Warn("heap: young-space growth failed")
		} else {
			h.young.Bump(survivingYoungBytes)
		}
	}

	// Rebuild the remembered set from scratch: a promoted object may now
	// contain young-space children (invariant I3), while an old object
	// remembered before this scavenge may have lost its last young child
	// (its children were promoted too) and can drop off the set.
	h.rebuildRememberedSet()

	h.OrdinaryCache.Flush()
	h.NSCache.Flush()

	if h.log != nil {
		h.log.WithField("tenured_bytes", tenuredBytes).Debug("scavenge end")
	}
}

// rewriteSpaceBits updates every live reference to a just-promoted
// handle so its cached space bit reads old-space, matching oop.Oop's
// documented contract that the bit tracks residency without a table
// lookup. Mirrors Become's reference-rewrite pass, but flips a bit
// rather than following a forwarding corpse.
func (h *Heap) rewriteSpaceBits(promoted map[uint64]bool) {
	if len(promoted) == 0 {
		return
	}
	fix := func(o oop.Oop) (oop.Oop, bool) {
		if o.IsHeap() && promoted[o.HandleIndex()] && !o.InOldSpace() {
			return o.WithSpace(true), true
		}
		return o, false
	}
	for idx := range h.handles {
		slot := &h.handles[idx]
		if !slot.alive {
			continue
		}
		for i, s := range slot.obj.Slots() {
			if n, changed := fix(s); changed {
				slot.obj.SetSlot(i, n)
			}
		}
	}
	for _, r := range h.gcRoots() {
		if n, changed := fix(*r); changed {
			*r = n
		}
	}
	for cid, c := range h.classTable {
		if n, changed := fix(c); changed {
			h.classTable[cid] = n
		}
	}
}

// rebuildRememberedSet recomputes the remembered set and each old-space
// object's Remembered bit from current slot contents. Called after a
// scavenge, when promotion can both introduce new old-to-new references
// (a promoted object keeping a young survivor) and retire old ones (a
// remembered object's young children were themselves promoted).
func (h *Heap) rebuildRememberedSet() {
	h.remembered = h.remembered[:0]
	for idx := range h.handles {
		slot := &h.handles[idx]
		if !slot.alive || slot.space != SpaceOld {
			continue
		}
		remembered := false
		for _, s := range slot.obj.Slots() {
			if s.IsHeap() {
				si := s.HandleIndex()
				if si < uint64(len(h.handles)) && h.handles[si].alive && h.handles[si].space == SpaceNew {
					remembered = true
					break
				}
			}
		}
		slot.obj.Hdr().Remembered = remembered
		if remembered {
			h.remembered = append(h.remembered, uint64(idx))
		}
	}
}

// processEphemerons implements spec §4.1.3 step 5: discharge an
// ephemeron only once its key is reachable, possibly re-enqueueing
// others whose key becomes reachable transitively; mourn the rest.
func (h *Heap) processEphemerons(visit func(oop.Oop), survivors map[uint64]bool) {
	pending := make([]uint64, 0, len(h.ephemeronHandles))
	for _, idx := range h.ephemeronHandles {
		if h.handles[idx].alive {
			pending = append(pending, idx)
		}
	}

	keyReachable := func(k oop.Oop) bool {
		if k.IsSmi() {
			return true
		}
		if !k.IsHeap() {
			return false
		}
		ki := k.HandleIndex()
		if ki >= uint64(len(h.handles)) || !h.handles[ki].alive {
			return false
		}
		if h.handles[ki].space == SpaceOld {
			return true
		}
		return survivors[ki]
	}

	for {
		progressed := false
		var still []uint64
		for _, idx := range pending {
			e := h.handles[idx].obj
			key := e.Slots()[0]
			if keyReachable(key) {
				for _, s := range e.Slots()[1:] {
					visit(s)
				}
				progressed = true
			} else {
				still = append(still, idx)
			}
		}
		pending = still
		if !progressed || len(pending) == 0 {
			break
		}
	}

	for _, idx := range pending {
		mourn(h.handles[idx].obj, h.NilOop)
	}
}

// mourn clears an ephemeron's three slots via its SetSlot method,
// matching spec §4.1.3 step 5's "key, value, finalizer are set to nil".
func mourn(obj interface {
	SetSlot(int, oop.Oop)
}, nilOop oop.Oop) {
	obj.SetSlot(0, nilOop)
	obj.SetSlot(1, nilOop)
	obj.SetSlot(2, nilOop)
}

// processWeakArrays implements spec §4.1.3 step 6: clear any slot whose
// target did not survive.
func (h *Heap) processWeakArrays(survivors map[uint64]bool) {
	for _, idx := range h.weakHandles {
		if !h.handles[idx].alive {
			continue
		}
		obj := h.handles[idx].obj
		slots := obj.Slots()
		for i, s := range slots {
			if !s.IsHeap() {
				continue
			}
			si := s.HandleIndex()
			if si >= uint64(len(h.handles)) || !h.handles[si].alive {
				obj.SetSlot(i, h.NilOop)
				continue
			}
			if h.handles[si].space == SpaceNew && !survivors[si] {
				obj.SetSlot(i, h.NilOop)
			}
		}
	}
}

// processClassTable implements spec §4.1.3 step 7: class-table slots
// whose class did not survive are returned to the class-id free list.
func (h *Heap) processClassTable(survivors map[uint64]bool) {
	for cid, classOop := range h.classTable {
		if !classOop.IsHeap() {
			continue
		}
		idx := classOop.HandleIndex()
		if idx >= uint64(len(h.handles)) || !h.handles[idx].alive {
			continue
		}
		if h.handles[idx].space == SpaceNew && !survivors[idx] {
			h.classTable[cid] = oop.Nil
			h.classFree = append(h.classFree, oop.ClassID(cid))
		}
	}
}
