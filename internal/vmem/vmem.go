// Package vmem provides the virtual-memory-backed semispace and region
// abstraction spec §4.1.1 calls for: raw backing memory with
// read/write/no-access control. It is the one concrete implementation of
// the "host OS abstraction" spec §1 otherwise declares out of scope,
// needed here only so the rest of the heap has real memory to scavenge
// and mark-sweep across (DESIGN.md).
package vmem

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Protection mirrors the three access modes spec §4.1.1 names.
type Protection int

const (
	NoAccess Protection = iota
	ReadOnly
	ReadWrite
)

func (p Protection) flags() int {
	switch p {
	case NoAccess:
		return unix.PROT_NONE
	case ReadOnly:
		return unix.PROT_READ
	default:
		return unix.PROT_READ | unix.PROT_WRITE
	}
}

// Mapping is a single anonymous mmap'd region. Its Bytes() slice is
// valid until Release is called.
type Mapping struct {
	data []byte
}

// Reserve maps n bytes of anonymous memory with the given initial
// protection, mirroring the teacher's sysReserve/sysMap/SysFault family
// in malloc.go (DESIGN.md: internal/vmem).
func Reserve(n int, prot Protection) (*Mapping, error) {
	if n <= 0 {
		return nil, errors.New("vmem: reserve size must be positive")
	}
	data, err := unix.Mmap(-1, 0, n, prot.flags(), unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, errors.Wrap(err, "vmem: mmap")
	}
	return &Mapping{data: data}, nil
}

// Bytes exposes the mapping's backing storage.
func (m *Mapping) Bytes() []byte { return m.data }

// Protect changes the mapping's access mode (spec §4.1.1's
// read/write/no-access control), e.g. to guard the far end of a
// semispace past its committed capacity.
func (m *Mapping) Protect(prot Protection) error {
	if err := unix.Mprotect(m.data, prot.flags()); err != nil {
		return errors.Wrap(err, "vmem: mprotect")
	}
	return nil
}

// Release unmaps the region. Every Mapping must have a matched Release,
// mirroring the "scoped resources" discipline spec §5 requires of every
// region/semispace/stack buffer.
func (m *Mapping) Release() error {
	if m.data == nil {
		return nil
	}
	err := unix.Munmap(m.data)
	m.data = nil
	if err != nil {
		return errors.Wrap(err, "vmem: munmap")
	}
	return nil
}
