// Package heap implements allocation, the generational scavenger, the
// old-space mark-sweep collector, ephemeron/weak processing, the class
// table, and Become (spec §4.1). It is the teacher's malloc.go family
// (arena growth, allocate-or-replenish hierarchy) retargeted from raw
// address arithmetic to a handle-table indirection, because a memory-
// safe host language cannot move arbitrary Go struct fields under a
// caller's feet the way a C collector moves raw bytes; DESIGN.md records
// this as the resolution of the spec's own "pick one Heap design and
// document it" open question.
//
// Concretely: every heap object lives at a stable handle-table index for
// its whole life. Oop values cache a new/old-space bit for the address-
// free-distinction spec §3.1 asks for, but the table entry is the
// authoritative source of truth for residency; "moving" an object during
// a scavenge or a promotion is a metadata update (slot.space flips), not
// a byte copy. This removes the need for scavenge-time forwarding
// pointers entirely (no live reference is ever invalidated), while
// Become — which swaps two *different* objects' identities outright —
// still uses the forwarding-corpse machinery spec §4.1.5 describes,
// because that really is an identity change, not a relocation.
package heap

import (
	"github.com/sirupsen/logrus"

	"soupvm/internal/freelist"
	"soupvm/internal/lookupcache"
	"soupvm/internal/objects"
	"soupvm/internal/oop"
	"soupvm/internal/vmem"
)

// Space is which generation a handle currently lives in.
type Space uint8

const (
	SpaceNew Space = iota
	SpaceOld
)

// AllocMode selects the allocator discipline of spec §4.1.2.
type AllocMode uint8

const (
	// ModeNormal is the ordinary allocator: young bump, scavenge on
	// overflow, old space on a second overflow or for large objects.
	ModeNormal AllocMode = iota
	// ModeSnapshot directs allocation straight into old space without
	// ever invoking GC, so a snapshot load completes deterministically.
	ModeSnapshot
)

// ageThreshold is how many scavenges a young object must survive before
// it is tenured into old space (spec §4.1.3 step 3's "age threshold").
const ageThreshold = 1

// RootSource lets other packages (chiefly the interpreter's stack and
// handle scopes) register GC roots without heap depending on them.
type RootSource interface {
	GCRoots() []*oop.Oop
}

type handleSlot struct {
	obj   objects.Object
	alive bool
	space Space
	age   uint8
	size  int
}

// Config holds the tunables spec §4.1.1 names.
type Config struct {
	YoungInitialCapacity int
	YoungMaxCapacity     int
	RegionSize           int
	LargeObjectThreshold int
}

// DefaultConfig matches spec §4.1.1's literal numbers.
func DefaultConfig() Config {
	return Config{
		YoungInitialCapacity: 1 << 20,  // ~1MB
		YoungMaxCapacity:     2 << 20,  // ~2MB
		RegionSize:           256 << 10, // 256KB
		LargeObjectThreshold: 32 << 10,  // 32KB
	}
}

// Heap is one isolate's heap: young semispace accounting, old-space
// region list (accounted via the freelist package), the class table,
// the remembered set, and both lookup caches (which the heap owns
// because only the heap knows when to flush them).
type Heap struct {
	cfg Config
	log *logrus.Entry

	handles []handleSlot
	freeIDs []uint64

	young     *vmem.Semispace
	oldRegions []*vmem.Region
	oldUsed    int
	oldLimit   int
	freeList   *freelist.List

	classTable []oop.Oop
	classFree  []oop.ClassID

	remembered []uint64 // handle ids with the Remembered bit set

	weakHandles      []uint64
	ephemeronHandles []uint64

	OrdinaryCache *lookupcache.OrdinaryCache
	NSCache       *lookupcache.NSCache

	scopes []*HandleScope
	roots  []RootSource

	mode AllocMode

	nextHashCounter uint32
	salt            uint32

	// NilOop is the canonical nil value once the ObjectStore is loaded;
	// ephemeron mourning and weak-array clearing need it. Until the
	// deserializer sets it, it defaults to oop.Nil.
	NilOop oop.Oop
}

// New constructs a heap with a fresh young semispace reservation.
func New(cfg Config, salt uint32, log *logrus.Entry) (*Heap, error) {
	young, err := vmem.NewSemispace(cfg.YoungInitialCapacity)
	if err != nil {
		return nil, err
	}
	h := &Heap{
		cfg:      cfg,
		log:      log,
		young:    young,
		freeList: freelist.NewList(),
		classTable: make([]oop.Oop, oop.ClassIDFloor, 256),
		OrdinaryCache: lookupcache.NewOrdinaryCache(),
		NSCache:       lookupcache.NewNSCache(),
		mode:          ModeNormal,
		salt:          salt,
		oldLimit:      cfg.RegionSize * 2,
	}
	return h, nil
}

// SetMode switches between Normal and Snapshot allocation discipline
// (spec §4.1.2, §4.2's "switch the bump allocator back from old-space
// (snapshot mode) to young-space (normal mode)").
func (h *Heap) SetMode(m AllocMode) { h.mode = m }

// AddRootSource registers an external GC root provider (the interpreter
// stack, in practice).
func (h *Heap) AddRootSource(r RootSource) { h.roots = append(h.roots, r) }

// HandleScope registers stack-resident pointer-to-pointer handles with
// the heap so a safepoint (any allocation) can rewrite them in place
// (spec §4.1.2).
type HandleScope struct {
	heap *Heap
	ptrs []*oop.Oop
}

// NewHandleScope opens a new handle scope. Callers must Close it,
// mirroring the scoped-resource discipline of spec §5.
func (h *Heap) NewHandleScope() *HandleScope {
	s := &HandleScope{heap: h}
	h.scopes = append(h.scopes, s)
	return s
}

// Register adds a pointer to a local Oop variable to the scope; the GC
// will overwrite *p in place if the object it refers to is rewritten
// (promoted, or swapped by Become). Callers must reload locals from the
// handle after any safepoint, per spec §4.1.2.
func (s *HandleScope) Register(p *oop.Oop) { s.ptrs = append(s.ptrs, p) }

// Close deregisters the scope's handles.
func (s *HandleScope) Close() {
	for i, sc := range s.heap.scopes {
		if sc == s {
			s.heap.scopes = append(s.heap.scopes[:i], s.heap.scopes[i+1:]...)
			return
		}
	}
}

func (s *HandleScope) GCRoots() []*oop.Oop { return s.ptrs }

func (h *Heap) gcRoots() []*oop.Oop {
	var out []*oop.Oop
	for _, s := range h.scopes {
		out = append(out, s.ptrs...)
	}
	for _, r := range h.roots {
		out = append(out, r.GCRoots()...)
	}
	return out
}

// Deref resolves a heap-reference Oop to its concrete object. Panics if
// o is a Smi or refers to a dead handle (a use-after-free bug in the
// caller, since live references always keep their handle alive).
func (h *Heap) Deref(o oop.Oop) objects.Object {
	if !o.IsHeap() {
		panic("heap: Deref of a non-heap Oop")
	}
	idx := o.HandleIndex()
	if idx >= uint64(len(h.handles)) || !h.handles[idx].alive {
		panic("heap: Deref of a dead or out-of-range handle")
	}
	// A stale reference that Become's rewrite pass missed (an external
	// host pointer not registered as a RootSource, say) still resolves
	// correctly rather than handing back a forwarding corpse.
	if aux := h.handles[idx].obj.Hdr().Aux; aux.IsForwarded() {
		return h.Deref(aux.Forward)
	}
	return h.handles[idx].obj
}

// ClassIDOf returns the live class id of the object o refers to, or
// oop.ClassIDSmallInteger if o is a Smi (a Smi has no header, so its
// class id is the fixed SmallInteger id rather than one read from a
// header).
func (h *Heap) ClassIDOf(o oop.Oop) oop.ClassID {
	if o.IsSmi() {
		return oop.ClassIDSmallInteger
	}
	return h.Deref(o).Hdr().ClassID
}

// registerHandle installs a freshly allocated object into the handle
// table and returns its tagged Oop.
func (h *Heap) registerHandle(cid oop.ClassID, obj objects.Object, size int, space Space) oop.Oop {
	obj.Hdr().ClassID = cid
	var idx uint64
	if n := len(h.freeIDs); n > 0 {
		idx = h.freeIDs[n-1]
		h.freeIDs = h.freeIDs[:n-1]
		h.handles[idx] = handleSlot{obj: obj, alive: true, space: space, size: size}
	} else {
		idx = uint64(len(h.handles))
		h.handles = append(h.handles, handleSlot{obj: obj, alive: true, space: space, size: size})
	}
	return oop.MakeHeapRef(idx, space == SpaceOld)
}

// NextIdentityHash assigns a fresh identity hash, seeded from the
// isolate's salt XORed with a monotonic counter (spec §3.4's
// ObjectStore-adjacent hashing story; original_source/vm/object.cc
// IdentityHash, per SPEC_FULL.md §4).
func (h *Heap) NextIdentityHash() uint32 {
	h.nextHashCounter++
	return h.nextHashCounter ^ h.salt
}

// IdentityHash returns o's identity hash, assigning one on first use if
// the aux slot is currently unassigned (spec §3.2).
func (h *Heap) IdentityHash(o oop.Oop) uint32 {
	if o.IsSmi() {
		return uint32(o.SmiValue())
	}
	obj := h.Deref(o)
	hdr := obj.Hdr()
	if hdr.Aux.Kind == oop.AuxUnassignedHash {
		hdr.Aux = oop.AuxSlot{Kind: oop.AuxIdentityHash, Hash: h.NextIdentityHash()}
	}
	return hdr.Aux.Hash
}
