package vmem

// Region is one fixed-size (or, for oversized objects, single-object)
// old-space region (spec §4.1.1). Old space is a singly-linked list of
// these; the list itself lives in the heap package, which needs to
// thread regions together by object ownership, not by raw memory.
type Region struct {
	mapping  *Mapping
	capacity int
	used     int
	oversize bool // true for a dedicated single-object region
}

// NewRegion reserves a region of the given byte capacity. oversize marks
// a region created to hold a single object at or above the
// large-allocation threshold (spec §4.1.1).
func NewRegion(capacity int, oversize bool) (*Region, error) {
	m, err := Reserve(capacity, ReadWrite)
	if err != nil {
		return nil, err
	}
	return &Region{mapping: m, capacity: capacity, oversize: oversize}, nil
}

func (r *Region) Capacity() int { return r.capacity }
func (r *Region) Used() int     { return r.used }
func (r *Region) Oversize() bool { return r.oversize }

// Bump reserves n bytes from the region's cursor.
func (r *Region) Bump(n int) (offset int, ok bool) {
	if r.used+n > r.capacity {
		return 0, false
	}
	offset = r.used
	r.used += n
	return offset, true
}

// Free releases a region's backing mapping. Mark-sweep does not call it:
// dead old-space objects go back to the free list and regions are kept.
func (r *Region) Free() error { return r.mapping.Release() }
