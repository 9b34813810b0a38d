package interp

import (
	"github.com/sirupsen/logrus"

	"soupvm/internal/heap"
	"soupvm/internal/objects"
	"soupvm/internal/oop"
)

// PrimitiveInvoker is the dependency-inverted hook into
// internal/primitive: interp cannot import primitive directly (the
// primitive table needs to manipulate an *Interp's stack), so
// internal/isolate wires a concrete implementation in after both
// packages exist.
type PrimitiveInvoker interface {
	// Invoke runs primitive number prim against the top numArgs+1 stack
	// values (receiver plus args). It reports whether the primitive
	// succeeded; on success it has already adjusted the stack itself
	// (interpreter.cc: Activate's `if (Primitives::Invoke(...))`
	// fallthrough-on-failure contract).
	Invoke(prim int, numArgs int, in *Interp) bool
	// IsUnwindProtect / IsSimulationRoot identify the two marker
	// primitives NonLocalReturn's dynamic-chain walk must stop at
	// rather than silently skip over (interpreter.cc NonLocalReturn;
	// DESIGN.md Open Question #2).
	IsUnwindProtect(prim int) bool
	IsSimulationRoot(prim int) bool
}

// Interp is one isolate's interpreter: its raw value stack plus the
// three registers (sp, fp, ip) interpreter.cc keeps as C++ locals
// across one call to Interpret. Unlike the original, ip is always a
// plain bytecode-index integer, never a raw pointer into the bytecode
// array, so it carries none of the original's GC-safety baggage around
// saving/restoring it across safepoints (see frame.go's package doc
// and DESIGN.md).
type Interp struct {
	Heap  *heap.Heap
	Store *objects.ObjectStore
	log   *logrus.Entry

	Primitives PrimitiveInvoker

	stack []oop.Oop
	base  int // highest valid index; constant (interpreter.cc: stack_base_)
	limit int // lowest index a frame push may use before StackOverflow
	sp    int
	fp    int // -1 means "no frame yet" (decodeFP(baseFPMarker) == -1)
	ip    int

	extA, extB int64

	// messageClassID lazily reserves a class id for synthesized Message
	// instances the DNU protocol allocates, mirroring
	// original_source/vm/heap.cc Heap::AllocateMessage's
	// allocate-on-first-use pattern.
	messageClassID oop.ClassID

	// interruptRequested models the checked_stack_limit_ == -1 isolate
	// interrupt sentinel without overloading the stack-limit field
	// itself (see StackOverflow in activate.go).
	interruptRequested bool
}

// New constructs an interpreter with a fresh stack and registers it as
// a GC root source on h.
func New(h *heap.Heap, store *objects.ObjectStore, log *logrus.Entry) *Interp {
	in := &Interp{
		Heap:  h,
		Store: store,
		log:   log,
		stack: make([]oop.Oop, stackSlots),
		fp:    -1,

		messageClassID: oop.ClassIDIllegal,
	}
	in.base = len(in.stack) - 1
	in.limit = overflowMargin
	in.sp = in.base + 1 // empty: nothing pushed yet
	h.AddRootSource(in)
	return in
}

// GCRoots reports every live stack slot (spec §4.4.1's stack is
// scanned in its entirety, [sp, base]) so the scavenger can rewrite
// cached space bits and Become can rewrite swapped identities in
// place.
func (in *Interp) GCRoots() []*oop.Oop {
	if in.sp > in.base {
		return nil
	}
	roots := make([]*oop.Oop, 0, in.base-in.sp+1)
	for i := in.sp; i <= in.base; i++ {
		roots = append(roots, &in.stack[i])
	}
	return roots
}

func (in *Interp) fatal(format string, args ...interface{}) {
	in.log.Fatalf(format, args...)
}

// --- stack primitives (interpreter.cc Push/Pop/PopNAndPush/Stack/
// StackPut/Grow/Drop/StackDepth, translated index-for-index) ---

func (in *Interp) push(v oop.Oop) {
	in.sp--
	in.stack[in.sp] = v
}

func (in *Interp) pop() oop.Oop {
	v := in.stack[in.sp]
	in.sp++
	return v
}

// popNAndPush pops n values and pushes v in their place. n == 0 is a
// plain push (net stack growth of one), matching the original's single
// formula rather than special-casing it.
func (in *Interp) popNAndPush(n int, v oop.Oop) {
	in.sp += n - 1
	in.stack[in.sp] = v
}

func (in *Interp) stackAt(depth int) oop.Oop       { return in.stack[in.sp+depth] }
func (in *Interp) stackPut(depth int, v oop.Oop)    { in.stack[in.sp+depth] = v }
func (in *Interp) grow(n int)                       { in.sp -= n }
func (in *Interp) drop(n int)                       { in.sp += n }
func (in *Interp) stackDepth() int                  { return frameNumLocals(in.fp, in.sp) }

// --- bytecode fetch ---

func (in *Interp) currentBytecode() []byte {
	return in.methodBytecode(in.frameMethod(in.fp))
}

func (in *Interp) fetchByte() byte {
	b := in.currentBytecode()[in.ip]
	in.ip++
	return b
}

// --- method/class views, resting on the Instance+view-helper pattern
// internal/snapshot's instanceCluster actually produces: Behavior,
// Class, Metaclass, AbstractMixin, and Method are read as plain
// *objects.Instance values through objects.AsBehavior/AsClass/AsMixin/
// AsMethodHeader/AsMethodRefs rather than through any dedicated
// concrete struct (see internal/objects/views.go) ---

func (in *Interp) instanceOf(o oop.Oop) *objects.Instance {
	return in.Heap.Deref(o).(*objects.Instance)
}

func (in *Interp) methodRefs(methodOop oop.Oop) objects.MethodSlotRefs {
	return objects.AsMethodRefs(in.instanceOf(methodOop))
}

func (in *Interp) methodHeader(methodOop oop.Oop) (access objects.AccessLevel, primitive uint16, numArgs, numTemps int32) {
	return objects.AsMethodHeader(in.instanceOf(methodOop))
}

func (in *Interp) methodBytecode(methodOop oop.Oop) []byte {
	ref := in.methodRefs(methodOop).Bytecode
	return in.Heap.Deref(ref).(*objects.ByteArray).Bytes
}

func (in *Interp) methodLiterals(methodOop oop.Oop) []oop.Oop {
	ref := in.methodRefs(methodOop).Literals
	return in.Heap.Deref(ref).(*objects.Array).Elements
}

func (in *Interp) methodMixin(methodOop oop.Oop) oop.Oop {
	return in.methodRefs(methodOop).Mixin
}

func (in *Interp) behaviorOf(classOop oop.Oop) objects.Behavior {
	return objects.AsBehavior(in.instanceOf(classOop))
}

func (in *Interp) mixinOf(mixinOop oop.Oop) objects.AbstractMixin {
	return objects.AsMixin(in.instanceOf(mixinOop))
}

// classOf returns the class object o belongs to, uniformly for Smis
// (whose class id is always ClassIDSmallInteger) and heap objects
// (interpreter.cc: Object::Klass, generalized from a dedicated
// per-kind accessor to one table lookup since every kind's class id
// already lives in oop.ClassID form).
func (in *Interp) classOf(o oop.Oop) oop.Oop {
	return in.Heap.ClassObject(in.Heap.ClassIDOf(o))
}
