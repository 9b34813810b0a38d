package heap

import (
	"soupvm/internal/freelist"
	"soupvm/internal/oop"
)

// MarkSweep runs a full old-space collection (spec §4.1.4), triggered
// from allocateOld when old-space usage crosses the dynamic limit
// maintained in h.oldLimit. Unlike Scavenge, this traces every live
// object (young and old) because old-space liveness can only be
// recomputed from a full root scan; the young generation is then
// swept exactly the same way as old space rather than run through a
// second, separate scavenge.
func (h *Heap) MarkSweep() {
	if h.log != nil {
		h.log.Debug("mark-sweep begin")
	}

	marked := make(map[uint64]bool, len(h.handles))
	var worklist []uint64
	// needsRemembered collects old-space objects discovered, during
	// marking, to still hold a reference into new space.
	needsRemembered := make(map[uint64]bool)

	visit := func(o oop.Oop) {
		if !o.IsHeap() {
			return
		}
		idx := o.HandleIndex()
		if idx >= uint64(len(h.handles)) || !h.handles[idx].alive {
			return
		}
		if marked[idx] {
			return
		}
		marked[idx] = true
		worklist = append(worklist, idx)
	}

	for _, r := range h.gcRoots() {
		visit(*r)
	}

	markSlots := func(idx uint64) {
		slot := &h.handles[idx]
		for _, s := range slot.obj.Slots() {
			visit(s)
			if slot.space == SpaceOld && s.IsHeap() {
				si := s.HandleIndex()
				if si < uint64(len(h.handles)) && h.handles[si].alive && h.handles[si].space == SpaceNew {
					needsRemembered[idx] = true
				}
			}
		}
	}

	for i := 0; i < len(worklist); i++ {
		markSlots(worklist[i])
	}

	// survivors, for the shared ephemeron/weak-array helpers, is every
	// marked handle id regardless of generation: a full mark treats
	// young and old identically.
	survivors := make(map[uint64]bool, len(marked))
	for idx := range marked {
		survivors[idx] = true
	}

	h.processEphemerons(func(o oop.Oop) {
		visit(o)
		for i := 0; i < len(worklist); i++ {
			markSlots(worklist[i])
		}
	}, survivors)
	for i := 0; i < len(worklist); i++ {
		markSlots(worklist[i])
	}
	for idx := range marked {
		survivors[idx] = true
	}

	h.processWeakArrays(survivors)
	h.processClassTable(survivors)

	freedBytes := 0
	liveOldBytes := 0
	for idx := range h.handles {
		slot := &h.handles[idx]
		if !slot.alive {
			continue
		}
		if marked[uint64(idx)] {
			if slot.space == SpaceOld {
				liveOldBytes += slot.size
				slot.obj.Hdr().Remembered = needsRemembered[uint64(idx)]
			}
			continue
		}
		slot.alive = false
		slot.obj = nil
		if slot.space == SpaceOld {
			// Old-space handle ids are recycled exclusively through the
			// free list (allocateOld's Allocate path writes h.handles[e.Handle]
			// directly); adding them to freeIDs too would let two live
			// allocations claim the same slot.
			freedBytes += slot.size
			h.freeList.Free(freelist.Entry{Handle: uint64(idx), Size: slot.size})
		} else {
			h.freeIDs = append(h.freeIDs, uint64(idx))
		}
	}

	h.oldUsed = liveOldBytes
	h.rebuildRememberedSet()

	// Recompute the dynamic old-space growth limit (spec §4.1.4 step 6).
	minGrowth := h.cfg.RegionSize * 2
	growth := h.oldUsed / 2
	if growth < minGrowth {
		growth = minGrowth
	}
	h.oldLimit = h.oldUsed + growth

	// Shrink the remembered-set backing array if it is using less than a
	// quarter of its capacity.
	if cap(h.remembered) > 64 && len(h.remembered)*4 < cap(h.remembered) {
		shrunk := make([]uint64, len(h.remembered))
		copy(shrunk, h.remembered)
		h.remembered = shrunk
	}

	h.OrdinaryCache.Flush()
	h.NSCache.Flush()

	if h.log != nil {
		h.log.WithField("freed_bytes", freedBytes).WithField("old_limit", h.oldLimit).Debug("mark-sweep end")
	}
}
