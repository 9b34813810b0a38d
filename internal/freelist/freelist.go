package freelist

// Entry is one free chunk: a handle-table index (see internal/heap) and
// the byte size it was freed at. The free list never touches heap
// objects directly — it only tracks recycled handle slots, the same way
// mcentral.go's spans track recycled object slots without knowing what
// was stored in them.
type Entry struct {
	Handle uint64
	Size   int
}

// List is the segregated free list for old space: one singly-linked
// list per size class (mirroring mcentral.go's per-sizeclass
// nonempty/empty span lists, collapsed to a single free chain per class
// since this VM frees directly to old space rather than through a
// per-thread mcache), plus one overflow list for allocations at or above
// maxSmallSize.
type List struct {
	classes  [numSizeClasses][]Entry
	overflow []Entry
}

// NewList constructs an empty free list.
func NewList() *List { return &List{} }

// Free adds a recycled chunk back to the appropriate class or the
// overflow list.
func (l *List) Free(e Entry) {
	class := SizeToClass(e.Size)
	if class < 0 {
		l.overflow = append(l.overflow, e)
		return
	}
	l.classes[class] = append(l.classes[class], e)
}

// Allocate pops a chunk of at least the requested size, preferring the
// exact-fit size class and falling back to the overflow list for large
// requests. ok is false if nothing fits.
func (l *List) Allocate(size int) (Entry, bool) {
	class := SizeToClass(size)
	if class >= 0 && len(l.classes[class]) > 0 {
		n := len(l.classes[class])
		e := l.classes[class][n-1]
		l.classes[class] = l.classes[class][:n-1]
		return e, true
	}
	for i, e := range l.overflow {
		if e.Size >= size {
			l.overflow = append(l.overflow[:i], l.overflow[i+1:]...)
			return e, true
		}
	}
	return Entry{}, false
}

// Len reports the total number of free entries across every class and
// the overflow list, used by mark-sweep's "shrink if under-utilized"
// check (spec §4.1.4 step 6).
func (l *List) Len() int {
	n := len(l.overflow)
	for _, c := range l.classes {
		n += len(c)
	}
	return n
}

// Clear empties the free list, done at the start of a mark-sweep pass
// before the sweep re-populates it (spec §4.1.4 step 5: "coalescing
// unmarked runs into free-list-element stubs").
func (l *List) Clear() {
	for i := range l.classes {
		l.classes[i] = nil
	}
	l.overflow = nil
}
