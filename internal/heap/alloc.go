package heap

import (
	"soupvm/internal/objects"
	"soupvm/internal/oop"
	"soupvm/internal/vmem"
)

func alignSize(n int) int {
	const align = 16
	return (n + align - 1) &^ (align - 1)
}

// Allocate implements the allocation contract of spec §4.1.2: small
// objects bump-allocate in young space; overflow triggers a scavenge and
// a second overflow (or an object at/above the large-object threshold,
// or Snapshot mode) goes to old space.
func (h *Heap) Allocate(cid oop.ClassID, obj objects.Object, size int) oop.Oop {
	size = alignSize(size)

	if h.mode == ModeSnapshot {
		return h.allocateOld(cid, obj, size)
	}
	if size >= h.cfg.LargeObjectThreshold {
		return h.allocateOld(cid, obj, size)
	}
	if _, ok := h.young.Bump(size); ok {
		return h.registerHandle(cid, obj, size, SpaceNew)
	}

	h.Scavenge()

	if size >= h.cfg.LargeObjectThreshold {
		return h.allocateOld(cid, obj, size)
	}
	if _, ok := h.young.Bump(size); ok {
		return h.registerHandle(cid, obj, size, SpaceNew)
	}
	// Second overflow: falls into old space (spec §4.1.2).
	return h.allocateOld(cid, obj, size)
}

// allocateOld allocates from the old-space free list, falling back to
// growing a fresh region, possibly triggering a mark-sweep first if the
// dynamic old-space limit (spec §4.1.4) has been crossed.
func (h *Heap) allocateOld(cid oop.ClassID, obj objects.Object, size int) oop.Oop {
	if h.mode == ModeNormal && h.oldUsed+size > h.oldLimit {
		h.MarkSweep()
	}

	if e, ok := h.freeList.Allocate(size); ok {
		// Reuse a recycled handle slot's id with fresh contents.
		h.handles[e.Handle] = handleSlot{obj: obj, alive: true, space: SpaceOld, size: size}
		obj.Hdr().ClassID = cid
		h.oldUsed += size
		return oop.MakeHeapRef(e.Handle, true)
	}

	regionSize := h.cfg.RegionSize
	oversize := size >= h.cfg.LargeObjectThreshold
	if oversize {
		regionSize = size
	}
	region, err := vmem.NewRegion(regionSize, oversize)
	if err != nil {
		h.log.WithError(err).Fatal("heap: failed to allocate old-space region")
	}
	h.oldRegions = append(h.oldRegions, region)
	region.Bump(size)

	h.oldUsed += size
	return h.registerHandle(cid, obj, size, SpaceOld)
}

// AllocateWeakArray allocates a WeakArray and threads it onto the
// heap's weak list so Scavenge/MarkSweep's processWeakArrays visits it
// (spec §3.4, §4.1.3 step 6).
func (h *Heap) AllocateWeakArray(w *objects.WeakArray, size int) oop.Oop {
	o := h.Allocate(oop.ClassIDWeakArray, w, size)
	w.SetOnList(true)
	h.weakHandles = append(h.weakHandles, o.HandleIndex())
	return o
}

// AllocateEphemeron allocates an Ephemeron and threads it onto the
// heap's ephemeron list so Scavenge/MarkSweep's processEphemerons
// visits it (spec §3.4, §4.1.3 step 5).
func (h *Heap) AllocateEphemeron(e *objects.Ephemeron, size int) oop.Oop {
	o := h.Allocate(oop.ClassIDEphemeron, e, size)
	e.SetOnList(true)
	h.ephemeronHandles = append(h.ephemeronHandles, o.HandleIndex())
	return o
}

// WriteBarrier implements spec §4.1.6: when an old-space object is about
// to hold a reference into new space, it is appended to the remembered
// set exactly once, idempotent via the Remembered bit.
func (h *Heap) WriteBarrier(container, value oop.Oop) {
	if !value.IsHeap() || !container.IsHeap() {
		return
	}
	cIdx := container.HandleIndex()
	cSlot := &h.handles[cIdx]
	if cSlot.space != SpaceOld {
		return
	}
	vSlot := &h.handles[value.HandleIndex()]
	if vSlot.space != SpaceNew {
		return
	}
	if cSlot.obj.Hdr().Remembered {
		return
	}
	cSlot.obj.Hdr().Remembered = true
	h.remembered = append(h.remembered, cIdx)
}

// Store writes value into container's i'th traced slot and runs the
// write barrier. barrier=false bypasses it for initialization writes or
// when the caller has proven value is immediate or old (spec §4.1.6).
func (h *Heap) Store(container oop.Oop, i int, value oop.Oop, barrier bool) {
	h.Deref(container).SetSlot(i, value)
	if barrier {
		h.WriteBarrier(container, value)
	}
}

// RegisterClass installs a class object at a fresh (or recycled) class
// id and returns it. Used for ordinary classes created after boot;
// built-in kinds are bound directly via BindBuiltinClass.
func (h *Heap) RegisterClass(classOop oop.Oop) oop.ClassID {
	var cid oop.ClassID
	if n := len(h.classFree); n > 0 {
		cid = h.classFree[n-1]
		h.classFree = h.classFree[:n-1]
		h.classTable[cid] = classOop
	} else {
		cid = oop.ClassID(len(h.classTable))
		h.classTable = append(h.classTable, classOop)
	}
	return cid
}

// ReserveClassID reserves a class-table slot (bound to oop.Nil for now)
// without yet knowing the class object that will occupy it, mirroring
// original_source/vm/snapshot.cc's AllocateClassId/RegisterClass split:
// a RegularObjectCluster's node pass needs a class id for its freshly
// allocated instances' headers before the cluster's own class
// reference has been read in the later edges pass.
func (h *Heap) ReserveClassID() oop.ClassID {
	return h.RegisterClass(oop.Nil)
}

// BindBuiltinClass registers the fixed class-id -> class binding the
// deserializer performs after loading a snapshot (spec §4.2).
func (h *Heap) BindBuiltinClass(cid oop.ClassID, classOop oop.Oop) {
	for int(cid) >= len(h.classTable) {
		h.classTable = append(h.classTable, oop.Nil)
	}
	h.classTable[cid] = classOop
}

// ClassObject returns the class object bound to cid.
func (h *Heap) ClassObject(cid oop.ClassID) oop.Oop {
	if int(cid) >= len(h.classTable) {
		return oop.Nil
	}
	return h.classTable[cid]
}
