package vmem

// Semispace is one half of the young-space Cheney heap (spec §4.1.1):
// a single bump-allocated mapping. The heap package is responsible for
// object shapes; Semispace only tracks the backing bytes and the bump
// cursor, mirroring malloc.go's "arena_used" bump-pointer bookkeeping.
type Semispace struct {
	mapping  *Mapping
	capacity int
	used     int
}

// NewSemispace reserves a fresh semispace of the given byte capacity.
func NewSemispace(capacity int) (*Semispace, error) {
	m, err := Reserve(capacity, ReadWrite)
	if err != nil {
		return nil, err
	}
	return &Semispace{mapping: m, capacity: capacity}, nil
}

// Capacity returns the semispace's committed byte capacity.
func (s *Semispace) Capacity() int { return s.capacity }

// Used returns how many bytes are currently bump-allocated.
func (s *Semispace) Used() int { return s.used }

// Bump reserves n bytes from the cursor, returning the byte offset, or
// ok=false if the semispace is full (spec §4.1.2: "overflow triggers a
// scavenge").
func (s *Semispace) Bump(n int) (offset int, ok bool) {
	if s.used+n > s.capacity {
		return 0, false
	}
	offset = s.used
	s.used += n
	return offset, true
}

// Reset rewinds the bump cursor to zero, done on every scavenge flip
// (spec §4.1.3 step 1).
func (s *Semispace) Reset() { s.used = 0 }

// Grow replaces the backing mapping with a larger one, used when the
// young space's geometric growth policy (spec §4.1.1) kicks in. Existing
// object payloads are not preserved at the vmem layer — the heap package
// only consults Semispace for capacity accounting around a scavenge,
// during which objects are already being copied elsewhere.
func (s *Semispace) Grow(newCapacity int) error {
	if err := s.mapping.Release(); err != nil {
		return err
	}
	m, err := Reserve(newCapacity, ReadWrite)
	if err != nil {
		return err
	}
	s.mapping = m
	s.capacity = newCapacity
	s.used = 0
	return nil
}

// Release frees the semispace's backing mapping.
func (s *Semispace) Release() error { return s.mapping.Release() }
