package snapshot

import (
	"io"

	"github.com/pkg/errors"

	"soupvm/internal/heap"
	"soupvm/internal/objects"
	"soupvm/internal/oop"
)

// deserializer holds the state threaded through a single Deserialize
// call: the byte reader, the heap clusters allocate into, and the
// 1-origin reference table every ref index in the stream resolves
// against (spec §4.2, §6.1; original_source/vm/snapshot.cc's
// Deserializer::refs_).
type deserializer struct {
	r       *Reader
	heap    *heap.Heap
	refs    []oop.Oop // refs[0] is unused; real refs start at index 1
	nextRef int
}

// registerRef appends o as the next ref, matching the cluster's node
// pass allocation order to the ref numbering the edges pass expects.
func (d *deserializer) registerRef(o oop.Oop) {
	if d.nextRef == len(d.refs) {
		d.refs = append(d.refs, o)
	} else {
		d.refs[d.nextRef] = o
	}
	d.nextRef++
}

// readRef reads a ULEB128 ref id and resolves it against the table.
// Ref 0 is the canonical nil reference (spec §6.1).
func (d *deserializer) readRef() (oop.Oop, error) {
	id, err := d.r.ReadULEB128()
	if err != nil {
		return oop.Nil, errors.Wrap(err, "snapshot: read ref")
	}
	if id == 0 {
		return d.heap.NilOop, nil
	}
	if int(id) >= len(d.refs) {
		return oop.Nil, errors.Errorf("snapshot: ref %d out of range", id)
	}
	return d.refs[id], nil
}

// Deserialize loads a clustered snapshot image into h, following
// original_source/vm/snapshot.cc's Deserializer::Deserialize: header,
// then every cluster's node pass, then every cluster's edge pass (so
// no cluster needs a forward reference to an object a later cluster
// hasn't allocated yet), then the root ObjectStore reference, then the
// fixed built-in class-id bindings, then a switch back to normal
// allocation mode.
//
// The caller is responsible for calling h.SetMode(heap.ModeSnapshot)
// beforehand; Deserialize switches it back to heap.ModeNormal once
// loading completes.
func Deserialize(h *heap.Heap, r io.Reader) (*objects.ObjectStore, error) {
	rd := NewReader(r)
	if err := rd.readHeader(); err != nil {
		return nil, err
	}

	numClusters, err := rd.ReadULEB128()
	if err != nil {
		return nil, errors.Wrap(err, "snapshot: cluster count")
	}
	_, err = rd.ReadULEB128() // total node count, advisory only here
	if err != nil {
		return nil, errors.Wrap(err, "snapshot: node count")
	}

	d := &deserializer{r: rd, heap: h, refs: make([]oop.Oop, 1, 1024), nextRef: 1}

	clusters := make([]cluster, 0, numClusters)
	for i := uint64(0); i < numClusters; i++ {
		c, err := readCluster(d)
		if err != nil {
			return nil, errors.Wrapf(err, "snapshot: cluster %d nodes", i)
		}
		if err := c.readNodes(d); err != nil {
			return nil, errors.Wrapf(err, "snapshot: cluster %d nodes", i)
		}
		clusters = append(clusters, c)
	}

	for i, c := range clusters {
		if err := c.readEdges(d); err != nil {
			return nil, errors.Wrapf(err, "snapshot: cluster %d edges", i)
		}
	}

	rootRef, err := d.readRef()
	if err != nil {
		return nil, errors.Wrap(err, "snapshot: root ref")
	}
	rootInst, ok := h.Deref(rootRef).(*objects.Instance)
	if !ok {
		return nil, errors.New("snapshot: root object is not a regular instance")
	}

	store := &objects.ObjectStore{ClassesByKind: make(map[oop.ClassID]oop.Oop)}
	for i, v := range rootInst.Elements {
		store.SetSlot(i, v)
	}

	h.NilOop = store.Nil

	// original_source/vm/snapshot.cc: after the root is resolved, the
	// deserializer binds the fixed built-in kinds by class id from the
	// ObjectStore's own class-by-kind table, then switches the
	// allocator back to normal (non-snapshot) mode.
	for cid, classOop := range store.ClassesByKind {
		h.BindBuiltinClass(cid, classOop)
	}

	h.SetMode(heap.ModeNormal)

	return store, nil
}
