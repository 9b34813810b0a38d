// Package objects defines the concrete heap-object shapes of spec §3.4:
// the fixed set of kinds the heap, GC, and interpreter all need to know
// about by name, as opposed to ordinary user-defined instances (which
// the interpreter only ever touches through their Behavior).
package objects

import "soupvm/internal/oop"

// MaxTemps bounds an Activation's inline temp array (spec §3.4: "large
// enough to hold the language's max-temps invariant, approx 35 slots").
const MaxTemps = 35

// Object is implemented by every concrete heap-object shape. It exposes
// the embedded Header so the heap and GC can manipulate mark/remembered/
// canonical bits and the aux slot uniformly, and Slots for generic
// tracing (GC scanning) without each GC routine needing a type switch
// per shape.
type Object interface {
	Hdr() *oop.Header
	// Slots returns the object's traced reference fields, in a stable
	// order, for GC scanning and for Become's root-rewrite pass. Objects
	// with no traced fields (ByteArray, String, Float, MediumInteger,
	// LargeInteger) return nil.
	Slots() []oop.Oop
	// SetSlot rewrites the i'th traced reference field, used by the
	// scavenger's copy-forward pass and by Become's pointer-fixup pass.
	SetSlot(i int, v oop.Oop)
}

// Base carries the header every heap object has.
type Base struct {
	H oop.Header
}

func (b *Base) Hdr() *oop.Header { return &b.H }

// MediumInteger is a boxed 64-bit signed integer (spec §3.4).
type MediumInteger struct {
	Base
	Value int64
}

func (m *MediumInteger) Slots() []oop.Oop        { return nil }
func (m *MediumInteger) SetSlot(int, oop.Oop)     { panic("objects: MediumInteger has no slots") }

// LargeInteger is sign + digit array, little-endian in a target-dependent
// digit width (spec §3.4). DigitBits fixes that width at 32 for this
// implementation so the wire format (spec §6.1) has an unambiguous
// digit size regardless of host word size.
const DigitBits = 32

type LargeInteger struct {
	Base
	Negative bool
	Digits   []uint32 // little-endian digits, capacity may exceed len
}

func (l *LargeInteger) Slots() []oop.Oop    { return nil }
func (l *LargeInteger) SetSlot(int, oop.Oop) { panic("objects: LargeInteger has no slots") }

// Normalize trims trailing zero digits and clears the sign of a zero
// value, mirroring original_source/vm/large_integer.cc's shrink-back
// behavior after arithmetic narrows a result.
func (l *LargeInteger) Normalize() {
	n := len(l.Digits)
	for n > 0 && l.Digits[n-1] == 0 {
		n--
	}
	l.Digits = l.Digits[:n]
	if n == 0 {
		l.Negative = false
	}
}

// Float is a boxed IEEE-754 double (spec §3.4).
type Float struct {
	Base
	Value float64
}

func (f *Float) Slots() []oop.Oop    { return nil }
func (f *Float) SetSlot(int, oop.Oop) { panic("objects: Float has no slots") }

// ByteArray is a size slot plus inline bytes (spec §3.4).
type ByteArray struct {
	Base
	Bytes []byte
}

func (b *ByteArray) Slots() []oop.Oop    { return nil }
func (b *ByteArray) SetSlot(int, oop.Oop) { panic("objects: ByteArray has no slots") }

// String additionally participates in canonicalization and hashing
// (spec §3.4, I5); canonical status lives in the shared Header.Canonical
// bit so the heap's interning logic doesn't need a String-specific path.
type String struct {
	Base
	Bytes []byte
	hash  uint32
	hashSet bool
}

func (s *String) Slots() []oop.Oop    { return nil }
func (s *String) SetSlot(int, oop.Oop) { panic("objects: String has no slots") }

// CachedHash returns a previously computed content hash, if any.
func (s *String) CachedHash() (uint32, bool) { return s.hash, s.hashSet }

// SetCachedHash records a computed content hash (spec L3: stable across
// GC and Become).
func (s *String) SetCachedHash(h uint32) { s.hash, s.hashSet = h, true }

// Instance is the generic regular-object shape: a fixed number of
// traced reference slots and nothing else, matching
// original_source/vm/snapshot.cc's RegularObjectCluster (every
// snapshot-loaded object that isn't one of the other fixed kinds —
// ordinary user instances, but also Behavior/Class/Metaclass/Method/
// AbstractMixin themselves, which the original VM also represents as
// plain regular objects accessed by convention rather than by a
// distinct C++ type). internal/interp and internal/primitive read and
// write such objects through the AsBehavior/AsMethodHeader/
// AsMethodRefs view helpers in views.go rather than through a dedicated deserialized type for each
// bootstrap shape.
type Instance struct {
	Base
	Elements []oop.Oop
}

func (i *Instance) Slots() []oop.Oop        { return i.Elements }
func (i *Instance) SetSlot(idx int, v oop.Oop) { i.Elements[idx] = v }

// Array is a size slot plus inline object slots (spec §3.4).
type Array struct {
	Base
	Elements []oop.Oop
}

func (a *Array) Slots() []oop.Oop       { return a.Elements }
func (a *Array) SetSlot(i int, v oop.Oop) { a.Elements[i] = v }

// WeakArray additionally carries an intrusive, GC-private next pointer
// threading all live weak arrays together during a collection (spec
// §3.4, §9 Design Notes on ephemeron/weak lists). GCNext is a handle
// index, not traced, and is not visited by normal scanning.
type WeakArray struct {
	Base
	Elements []oop.Oop
	GCNext   uint64
	onList   bool
}

func (w *WeakArray) Slots() []oop.Oop       { return w.Elements }
func (w *WeakArray) SetSlot(i int, v oop.Oop) { w.Elements[i] = v }
func (w *WeakArray) OnList() bool             { return w.onList }
func (w *WeakArray) SetOnList(v bool)         { w.onList = v }

// Ephemeron carries three strong-or-weak slots plus the same kind of
// GC-private next pointer as WeakArray (spec §3.4).
type Ephemeron struct {
	Base
	Key, Value, Finalizer oop.Oop
	GCNext                uint64
	onList                bool
}

func (e *Ephemeron) Slots() []oop.Oop {
	return []oop.Oop{e.Key, e.Value, e.Finalizer}
}
func (e *Ephemeron) SetSlot(i int, v oop.Oop) {
	switch i {
	case 0:
		e.Key = v
	case 1:
		e.Value = v
	case 2:
		e.Finalizer = v
	default:
		panic("objects: Ephemeron has 3 slots")
	}
}
func (e *Ephemeron) OnList() bool     { return e.onList }
func (e *Ephemeron) SetOnList(v bool) { e.onList = v }

// Mourn sets key, value, and finalizer to nilOop when no progress is
// possible in an ephemeron round (spec §4.1.3 step 5).
func (e *Ephemeron) Mourn(nilOop oop.Oop) {
	e.Key, e.Value, e.Finalizer = nilOop, nilOop, nilOop
}

// Closure is a defining activation, initial bytecode index, declared
// argument count, copied-free-variable count, and the inline copied
// values (spec §3.4, §4.4.5).
type Closure struct {
	Base
	Home       oop.Oop // defining Activation
	InitialBCI int32
	NumArgs    int32
	Copied     []oop.Oop
}

func (c *Closure) Slots() []oop.Oop {
	s := make([]oop.Oop, 0, 1+len(c.Copied))
	s = append(s, c.Home)
	s = append(s, c.Copied...)
	return s
}
func (c *Closure) SetSlot(i int, v oop.Oop) {
	if i == 0 {
		c.Home = v
		return
	}
	c.Copied[i-1] = v
}

// Activation mirrors a reified interpreter frame (spec §3.4, §4.4.7).
// Closure is nil for plain method activations. Temps is sized to
// MaxTemps regardless of the method's declared temp count, matching the
// fixed-length inline array the spec calls for (bytecode validation, not
// this struct, is responsible for rejecting temp counts above MaxTemps —
// see spec B2).
type Activation struct {
	Base
	Sender     oop.Oop
	BCI        int32
	Method     oop.Oop
	Closure    oop.Oop
	Receiver   oop.Oop
	StackDepth int32
	Temps      [MaxTemps]oop.Oop

	// livingSenderFP, when non-zero, is the frame pointer this
	// activation was reified from, used by HasLivingFrame (spec
	// §4.4.7) to test whether a live frame still backs it.
	livingSenderFP int
	hasFrame       bool
}

func (a *Activation) Slots() []oop.Oop {
	s := make([]oop.Oop, 0, 4+MaxTemps)
	s = append(s, a.Sender, a.Method, a.Closure, a.Receiver)
	s = append(s, a.Temps[:]...)
	return s
}
func (a *Activation) SetSlot(i int, v oop.Oop) {
	switch {
	case i == 0:
		a.Sender = v
	case i == 1:
		a.Method = v
	case i == 2:
		a.Closure = v
	case i == 3:
		a.Receiver = v
	case i-4 < MaxTemps:
		a.Temps[i-4] = v
	default:
		panic("objects: Activation slot out of range")
	}
}

// MarkLive records the frame pointer an Activation was most recently
// reified from (spec §4.4.7's HasLivingFrame).
func (a *Activation) MarkLive(fp int) { a.livingSenderFP = fp; a.hasFrame = true }

// MarkDead zeroes sender/bci to signal an intermediate activation died
// during a non-local return (spec §4.4.6).
func (a *Activation) MarkDead(nilOop oop.Oop) {
	a.Sender = nilOop
	a.BCI = 0
	a.hasFrame = false
}

func (a *Activation) LivingSenderFP() (int, bool) { return a.livingSenderFP, a.hasFrame }
