package snapshot

import (
	"github.com/pkg/errors"

	"soupvm/internal/objects"
	"soupvm/internal/oop"
)

// Cluster tag values for the built-in (negative-format) cluster kinds,
// named exactly as original_source/vm/snapshot.cc's anonymous enum.
const (
	clusterInteger      = -1
	clusterLargeInteger = -2
	clusterFloat        = -3
	clusterString       = -4
	clusterByteArray    = -5
	clusterArray        = -6
	clusterWeakArray    = -7
	clusterClosure      = -8
	clusterActivation   = -9
	clusterEphemeron    = -10
)

// cluster is implemented by every cluster kind: a first pass that
// allocates ref_stop-ref_start objects and registers their refs, and a
// second pass (run only after every cluster's nodes are read) that
// fills in the edges.
type cluster interface {
	readNodes(d *deserializer) error
	readEdges(d *deserializer) error
}

// instanceCluster is the general case (format >= 0): num_objects
// generic Instances of the given slot count, with a trailing class
// reference read once, after all node passes, in readEdges (spec
// §4.2's "named instance slots"; original_source RegularObjectCluster).
type instanceCluster struct {
	format   int
	cid      oop.ClassID // oop.ClassIDIllegal means "allocate a fresh one"
	refStart int
}

func (c *instanceCluster) readNodes(d *deserializer) error {
	n, err := d.r.ReadULEB128()
	if err != nil {
		return err
	}
	if c.cid == oop.ClassIDIllegal {
		c.cid = d.heap.ReserveClassID()
	}
	c.refStart = d.nextRef
	for i := uint64(0); i < n; i++ {
		inst := &objects.Instance{Elements: make([]oop.Oop, c.format)}
		o := d.heap.Allocate(c.cid, inst, 16+8*c.format)
		d.registerRef(o)
	}
	return nil
}

func (c *instanceCluster) readEdges(d *deserializer) error {
	clsRef, err := d.readRef()
	if err != nil {
		return err
	}
	d.heap.BindBuiltinClass(c.cid, clsRef)

	for i := c.refStart; i < d.nextRef; i++ {
		inst := d.heap.Deref(d.refs[i]).(*objects.Instance)
		for j := 0; j < c.format; j++ {
			ref, err := d.readRef()
			if err != nil {
				return err
			}
			inst.SetSlot(j, ref)
		}
	}
	return nil
}

// ephemeronCluster allocates objects.Ephemeron values (not generic
// Instances) so they thread onto the heap's ephemeron list the way
// AllocateEphemeron requires, while still reading a trailing class
// reference in the edges pass exactly like a RegularObjectCluster
// (original_source/vm/snapshot.cc dispatches kEphemeronCluster to
// `new RegularObjectCluster(3, kEphemeronCid)`, but a Go Ephemeron is
// its own struct, not a 3-slot Instance).
type ephemeronCluster struct{ refStart int }

func (c *ephemeronCluster) readNodes(d *deserializer) error {
	n, err := d.r.ReadULEB128()
	if err != nil {
		return err
	}
	c.refStart = d.nextRef
	for i := uint64(0); i < n; i++ {
		e := &objects.Ephemeron{}
		o := d.heap.AllocateEphemeron(e, 48)
		d.registerRef(o)
	}
	return nil
}

func (c *ephemeronCluster) readEdges(d *deserializer) error {
	clsRef, err := d.readRef()
	if err != nil {
		return err
	}
	d.heap.BindBuiltinClass(oop.ClassIDEphemeron, clsRef)

	for i := c.refStart; i < d.nextRef; i++ {
		e := d.heap.Deref(d.refs[i]).(*objects.Ephemeron)
		for j := 0; j < 3; j++ {
			ref, err := d.readRef()
			if err != nil {
				return err
			}
			e.SetSlot(j, ref)
		}
	}
	return nil
}

// byteArrayCluster reads num_objects byte arrays, each a size prefix
// followed by that many inline bytes (spec §6.1).
type byteArrayCluster struct{ refStart int }

func (c *byteArrayCluster) readNodes(d *deserializer) error {
	n, err := d.r.ReadULEB128()
	if err != nil {
		return err
	}
	c.refStart = d.nextRef
	for i := uint64(0); i < n; i++ {
		size, err := d.r.ReadULEB128()
		if err != nil {
			return err
		}
		buf, err := d.r.ReadBytes(int(size))
		if err != nil {
			return err
		}
		o := d.heap.Allocate(oop.ClassIDByteArray, &objects.ByteArray{Bytes: buf}, 16+int(size))
		d.registerRef(o)
	}
	return nil
}

func (c *byteArrayCluster) readEdges(d *deserializer) error { return nil }

// stringCluster reads two back-to-back sub-clusters, non-canonical
// then canonical (spec §4.2, §6.1).
type stringCluster struct{ refStart int }

func (c *stringCluster) readNodes(d *deserializer) error {
	c.refStart = d.nextRef
	if err := c.readOne(d, false); err != nil {
		return err
	}
	return c.readOne(d, true)
}

func (c *stringCluster) readOne(d *deserializer, canonical bool) error {
	n, err := d.r.ReadULEB128()
	if err != nil {
		return err
	}
	for i := uint64(0); i < n; i++ {
		size, err := d.r.ReadULEB128()
		if err != nil {
			return err
		}
		buf, err := d.r.ReadBytes(int(size))
		if err != nil {
			return err
		}
		s := &objects.String{Bytes: buf}
		o := d.heap.Allocate(oop.ClassIDString, s, 16+int(size))
		s.Hdr().Canonical = canonical
		d.registerRef(o)
	}
	return nil
}

func (c *stringCluster) readEdges(d *deserializer) error { return nil }

// arrayCluster and weakArrayCluster share the same node/edge shape:
// num_objects, each with a size, then (in the edges pass) that many
// element references.
type arrayCluster struct {
	refStart int
	weak     bool
}

func (c *arrayCluster) readNodes(d *deserializer) error {
	n, err := d.r.ReadULEB128()
	if err != nil {
		return err
	}
	c.refStart = d.nextRef
	for i := uint64(0); i < n; i++ {
		size, err := d.r.ReadULEB128()
		if err != nil {
			return err
		}
		var o oop.Oop
		if c.weak {
			w := &objects.WeakArray{Elements: make([]oop.Oop, size)}
			o = d.heap.AllocateWeakArray(w, 16+8*int(size))
		} else {
			a := &objects.Array{Elements: make([]oop.Oop, size)}
			o = d.heap.Allocate(oop.ClassIDArray, a, 16+8*int(size))
		}
		d.registerRef(o)
	}
	return nil
}

func (c *arrayCluster) readEdges(d *deserializer) error {
	for i := c.refStart; i < d.nextRef; i++ {
		obj := d.heap.Deref(d.refs[i])
		slots := obj.Slots()
		for j := range slots {
			ref, err := d.readRef()
			if err != nil {
				return err
			}
			obj.SetSlot(j, ref)
		}
	}
	return nil
}

// closureCluster reads num_objects closures; the node pass allocates
// placeholders (the defining activation, bci and arg-count aren't
// known until the edges pass), the edges pass fills defining
// activation / initial bci / num args / copied values (spec §3.4,
// original_source ClosureCluster).
type closureCluster struct {
	refStart int
	copied   []int32
}

func (c *closureCluster) readNodes(d *deserializer) error {
	n, err := d.r.ReadULEB128()
	if err != nil {
		return err
	}
	c.refStart = d.nextRef
	c.copied = make([]int32, n)
	for i := uint64(0); i < n; i++ {
		size, err := d.r.ReadULEB128()
		if err != nil {
			return err
		}
		c.copied[i] = int32(size)
		cl := &objects.Closure{Copied: make([]oop.Oop, size)}
		o := d.heap.Allocate(oop.ClassIDClosure, cl, 32+8*int(size))
		d.registerRef(o)
	}
	return nil
}

func (c *closureCluster) readEdges(d *deserializer) error {
	for i := c.refStart; i < d.nextRef; i++ {
		cl := d.heap.Deref(d.refs[i]).(*objects.Closure)
		home, err := d.readRef()
		if err != nil {
			return err
		}
		bci, err := d.readRef()
		if err != nil {
			return err
		}
		numArgs, err := d.readRef()
		if err != nil {
			return err
		}
		cl.Home = home
		if bci.IsSmi() {
			cl.InitialBCI = int32(bci.SmiValue())
		}
		if numArgs.IsSmi() {
			cl.NumArgs = int32(numArgs.SmiValue())
		}
		for j := range cl.Copied {
			ref, err := d.readRef()
			if err != nil {
				return err
			}
			cl.Copied[j] = ref
		}
	}
	return nil
}

// activationCluster mirrors original_source ActivationCluster: sender,
// bci, method, closure, receiver, a stack-depth count, then that many
// temps (the remainder of the fixed MaxTemps array is filled with
// SmallInteger 0).
type activationCluster struct{ refStart int }

func (c *activationCluster) readNodes(d *deserializer) error {
	n, err := d.r.ReadULEB128()
	if err != nil {
		return err
	}
	c.refStart = d.nextRef
	for i := uint64(0); i < n; i++ {
		a := &objects.Activation{}
		o := d.heap.Allocate(oop.ClassIDActivation, a, 16+8*(4+objects.MaxTemps))
		d.registerRef(o)
	}
	return nil
}

func (c *activationCluster) readEdges(d *deserializer) error {
	for i := c.refStart; i < d.nextRef; i++ {
		a := d.heap.Deref(d.refs[i]).(*objects.Activation)
		var err error
		if a.Sender, err = d.readRef(); err != nil {
			return err
		}
		bci, err := d.readRef()
		if err != nil {
			return err
		}
		if bci.IsSmi() {
			a.BCI = int32(bci.SmiValue())
		}
		if a.Method, err = d.readRef(); err != nil {
			return err
		}
		if a.Closure, err = d.readRef(); err != nil {
			return err
		}
		if a.Receiver, err = d.readRef(); err != nil {
			return err
		}
		depth, err := d.r.ReadULEB128()
		if err != nil {
			return err
		}
		if int(depth) > objects.MaxTemps {
			return errors.Errorf("snapshot: activation stack depth %d exceeds max-temps", depth)
		}
		a.StackDepth = int32(depth)
		for j := 0; j < int(depth); j++ {
			t, err := d.readRef()
			if err != nil {
				return err
			}
			a.Temps[j] = t
		}
		for j := int(depth); j < objects.MaxTemps; j++ {
			a.Temps[j] = oop.MakeSmi(0)
		}
	}
	return nil
}

// integerCluster reads num_objects SLEB128 values; Smi-range values
// become immediates, the rest boxed MediumIntegers (spec §6.1).
type integerCluster struct{}

func (c *integerCluster) readNodes(d *deserializer) error {
	n, err := d.r.ReadULEB128()
	if err != nil {
		return err
	}
	for i := uint64(0); i < n; i++ {
		v, err := d.r.ReadSLEB128()
		if err != nil {
			return err
		}
		if oop.IsSmiRange(v) {
			d.registerRef(oop.MakeSmi(v))
		} else {
			o := d.heap.Allocate(oop.ClassIDMediumInteger, &objects.MediumInteger{Value: v}, 16)
			d.registerRef(o)
		}
	}
	return nil
}

func (c *integerCluster) readEdges(d *deserializer) error { return nil }

// largeIntegerCluster reads a sign byte, a byte count, then that many
// raw little-endian bytes packed into objects.DigitBits-wide digits
// (spec §6.1, original_source LargeIntegerCluster).
type largeIntegerCluster struct{}

func (c *largeIntegerCluster) readNodes(d *deserializer) error {
	n, err := d.r.ReadULEB128()
	if err != nil {
		return err
	}
	const digitBytes = objects.DigitBits / 8
	for i := uint64(0); i < n; i++ {
		sign, err := d.r.ReadByteExact()
		if err != nil {
			return err
		}
		nbytes, err := d.r.ReadULEB128()
		if err != nil {
			return err
		}
		raw, err := d.r.ReadBytes(int(nbytes))
		if err != nil {
			return err
		}
		numDigits := (len(raw) + digitBytes - 1) / digitBytes
		digits := make([]uint32, numDigits)
		for j := 0; j < len(raw); j++ {
			digits[j/digitBytes] |= uint32(raw[j]) << (8 * uint(j%digitBytes))
		}
		li := &objects.LargeInteger{Negative: sign != 0, Digits: digits}
		o := d.heap.Allocate(oop.ClassIDLargeInteger, li, 16+4*numDigits)
		d.registerRef(o)
	}
	return nil
}

func (c *largeIntegerCluster) readEdges(d *deserializer) error { return nil }

// floatCluster reads num_objects native-endian IEEE-754 doubles.
type floatCluster struct{}

func (c *floatCluster) readNodes(d *deserializer) error {
	n, err := d.r.ReadULEB128()
	if err != nil {
		return err
	}
	for i := uint64(0); i < n; i++ {
		v, err := d.r.ReadFloat64()
		if err != nil {
			return err
		}
		o := d.heap.Allocate(oop.ClassIDFloat, &objects.Float{Value: v}, 16)
		d.registerRef(o)
	}
	return nil
}

func (c *floatCluster) readEdges(d *deserializer) error { return nil }

// readCluster dispatches on the SLEB128 format tag (spec §6.1;
// original_source Deserializer::ReadCluster).
func readCluster(d *deserializer) (cluster, error) {
	format, err := d.r.ReadSLEB128()
	if err != nil {
		return nil, err
	}
	if format >= 0 {
		return &instanceCluster{format: int(format), cid: oop.ClassIDIllegal}, nil
	}
	switch format {
	case clusterByteArray:
		return &byteArrayCluster{}, nil
	case clusterString:
		return &stringCluster{}, nil
	case clusterArray:
		return &arrayCluster{}, nil
	case clusterWeakArray:
		return &arrayCluster{weak: true}, nil
	case clusterEphemeron:
		return &ephemeronCluster{}, nil
	case clusterClosure:
		return &closureCluster{}, nil
	case clusterActivation:
		return &activationCluster{}, nil
	case clusterInteger:
		return &integerCluster{}, nil
	case clusterLargeInteger:
		return &largeIntegerCluster{}, nil
	case clusterFloat:
		return &floatCluster{}, nil
	default:
		return nil, errors.Errorf("snapshot: unknown cluster format %d", format)
	}
}
