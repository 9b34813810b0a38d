package objects

import "soupvm/internal/oop"

// The wire shapes below are conventions, not structural types the
// deserializer checks: the snapshot format (spec §4.2, §6.1) has no
// notion of "this regular object is a Behavior" separate from "this
// regular object happens to have 5 slots in the order Behavior.Slots()
// uses." internal/interp consults these only once it already knows,
// from the class-id/selector protocol, that a given Oop is meant to be
// read as one.

// behaviorSuperclass etc. name Instance.Elements offsets for the
// Behavior wire shape (superclass, methods, mixin, enclosing, name).
const (
	behaviorSuperclass = 0
	behaviorMethods    = 1
	behaviorMixin      = 2
	behaviorEnclosing  = 3
	behaviorName       = 4
	classSubclasses    = 5
)

// AsBehavior reads i's slots as the Behavior wire shape.
func AsBehavior(i *Instance) Behavior {
	b := Behavior{
		Superclass: i.Elements[behaviorSuperclass],
		Methods:    i.Elements[behaviorMethods],
		Mixin:      i.Elements[behaviorMixin],
		Enclosing:  i.Elements[behaviorEnclosing],
		Name:       i.Elements[behaviorName],
		ClassID:    i.Hdr().ClassID,
	}
	b.H = i.H
	return b
}

// AsClass additionally reads the Subclasses slot a Class carries
// beyond the plain Behavior shape.
func AsClass(i *Instance) Class {
	return Class{Behavior: AsBehavior(i), Subclasses: i.Elements[classSubclasses]}
}

// WriteBehavior copies b's fields back into i's slots in the Behavior
// wire-shape order, used when a primitive mutates a class reflectively.
func WriteBehavior(i *Instance, b Behavior) {
	i.Elements[behaviorSuperclass] = b.Superclass
	i.Elements[behaviorMethods] = b.Methods
	i.Elements[behaviorMixin] = b.Mixin
	i.Elements[behaviorEnclosing] = b.Enclosing
	i.Elements[behaviorName] = b.Name
}

// AsMixin reads i's slots as the AbstractMixin wire shape (name,
// methods, enclosing mixin), the same 3-slot order AbstractMixin.Slots()
// produces.
func AsMixin(i *Instance) AbstractMixin {
	m := AbstractMixin{
		Name:      i.Elements[0],
		Methods:   i.Elements[1],
		Enclosing: i.Elements[2],
	}
	m.H = i.H
	return m
}

// Method wire-shape offsets: packed header, literals, bytecode (a
// ByteArray reference), mixin, selector, source.
const (
	methodPackedHeader = 0
	methodLiterals     = 1
	methodBytecodeRef  = 2
	methodMixin        = 3
	methodSelector     = 4
	methodSource       = 5
)

// AccessLevel is the public/protected/private tri-state spec §1 and §4.4
// need for method-lookup access control.
type AccessLevel uint8

const (
	AccessPublic AccessLevel = iota
	AccessProtected
	AccessPrivate
)

// AsMethodHeader unpacks only the fields that live directly in i's
// packed-header slot, without resolving the literals/bytecode
// references (those require a heap to dereference).
func AsMethodHeader(i *Instance) (access AccessLevel, primitive uint16, numArgs, numTemps int32) {
	packed := i.Elements[methodPackedHeader].SmiValue()
	return UnpackPackedHeader(packed)
}

// UnpackPackedHeader decodes the packed-SmallInteger method header a
// snapshot image stores directly: bits [0:2)=access level, bits
// [2:12)=primitive number (0-1023; bit 8 set = inst-var getter, bit 9
// set = setter), bits [12:20)=argument count, bits [20:28)=temp count.
func UnpackPackedHeader(packed int64) (access AccessLevel, primitive uint16, numArgs, numTemps int32) {
	access = AccessLevel(packed & 0x3)
	primitive = uint16((packed >> 2) & 0x3ff)
	numArgs = int32((packed >> 12) & 0xff)
	numTemps = int32((packed >> 20) & 0xff)
	return
}

// MethodSlotRefs names i's Elements slots by the Method wire shape, for
// callers that have already resolved a Method-shaped Instance and want
// to read its Literals/Bytecode/Mixin/Selector/Source references.
type MethodSlotRefs struct {
	Literals, Bytecode, Mixin, Selector, Source oop.Oop
}

func AsMethodRefs(i *Instance) MethodSlotRefs {
	return MethodSlotRefs{
		Literals: i.Elements[methodLiterals],
		Bytecode: i.Elements[methodBytecodeRef],
		Mixin:    i.Elements[methodMixin],
		Selector: i.Elements[methodSelector],
		Source:   i.Elements[methodSource],
	}
}
