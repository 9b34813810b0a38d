package objects

import (
	"testing"

	"github.com/stretchr/testify/require"

	"soupvm/internal/oop"
)

func TestAsBehaviorReadsWireShape(t *testing.T) {
	superclass := oop.MakeSmi(1)
	methods := oop.MakeSmi(2)
	mixin := oop.MakeSmi(3)
	enclosing := oop.MakeSmi(4)
	name := oop.MakeSmi(5)

	i := &Instance{Elements: []oop.Oop{superclass, methods, mixin, enclosing, name}}
	i.Hdr().ClassID = oop.ClassID(77)

	b := AsBehavior(i)
	require.Equal(t, superclass, b.Superclass)
	require.Equal(t, methods, b.Methods)
	require.Equal(t, mixin, b.Mixin)
	require.Equal(t, enclosing, b.Enclosing)
	require.Equal(t, name, b.Name)
	require.Equal(t, oop.ClassID(77), b.ClassID)
}

func TestAsClassAddsSubclassesSlot(t *testing.T) {
	i := &Instance{Elements: []oop.Oop{
		oop.MakeSmi(1), oop.MakeSmi(2), oop.MakeSmi(3), oop.MakeSmi(4), oop.MakeSmi(5),
		oop.MakeSmi(99),
	}}
	c := AsClass(i)
	require.Equal(t, oop.MakeSmi(99), c.Subclasses)
	require.Equal(t, oop.MakeSmi(1), c.Superclass)
}

func TestWriteBehaviorRoundTrips(t *testing.T) {
	i := &Instance{Elements: make([]oop.Oop, 5)}
	b := Behavior{
		Superclass: oop.MakeSmi(10),
		Methods:    oop.MakeSmi(20),
		Mixin:      oop.MakeSmi(30),
		Enclosing:  oop.MakeSmi(40),
		Name:       oop.MakeSmi(50),
	}
	WriteBehavior(i, b)

	got := AsBehavior(i)
	require.Equal(t, b.Superclass, got.Superclass)
	require.Equal(t, b.Methods, got.Methods)
	require.Equal(t, b.Mixin, got.Mixin)
	require.Equal(t, b.Enclosing, got.Enclosing)
	require.Equal(t, b.Name, got.Name)
}

func TestAsMixinReadsWireShape(t *testing.T) {
	i := &Instance{Elements: []oop.Oop{oop.MakeSmi(1), oop.MakeSmi(2), oop.MakeSmi(3)}}
	m := AsMixin(i)
	require.Equal(t, oop.MakeSmi(1), m.Name)
	require.Equal(t, oop.MakeSmi(2), m.Methods)
	require.Equal(t, oop.MakeSmi(3), m.Enclosing)
}

// packHeader builds the packed-SmallInteger method header exactly the
// way UnpackPackedHeader's doc comment lays the bits out, for round-trip
// fixtures (no product code ever constructs one: packed headers arrive
// pre-encoded in a snapshot image and are only ever decoded).
func packHeader(access AccessLevel, primitive uint16, numArgs, numTemps int32) int64 {
	return int64(access) | int64(primitive)<<2 | int64(numArgs)<<12 | int64(numTemps)<<20
}

func TestAsMethodHeaderUnpacksPackedHeader(t *testing.T) {
	packed := packHeader(AccessProtected, 7, 2, 3)

	i := &Instance{Elements: []oop.Oop{oop.MakeSmi(packed)}}
	access, primitive, numArgs, numTemps := AsMethodHeader(i)
	require.Equal(t, AccessProtected, access)
	require.Equal(t, uint16(7), primitive)
	require.Equal(t, int32(2), numArgs)
	require.Equal(t, int32(3), numTemps)
}

func TestAsMethodRefsReadsRemainingSlots(t *testing.T) {
	literals := oop.MakeSmi(1)
	bytecode := oop.MakeSmi(2)
	mixin := oop.MakeSmi(3)
	selector := oop.MakeSmi(4)
	source := oop.MakeSmi(5)

	i := &Instance{Elements: []oop.Oop{oop.MakeSmi(0), literals, bytecode, mixin, selector, source}}
	refs := AsMethodRefs(i)
	require.Equal(t, literals, refs.Literals)
	require.Equal(t, bytecode, refs.Bytecode)
	require.Equal(t, mixin, refs.Mixin)
	require.Equal(t, selector, refs.Selector)
	require.Equal(t, source, refs.Source)
}

func TestPackedHeaderRoundTripsAllAccessLevels(t *testing.T) {
	for _, access := range []AccessLevel{AccessPublic, AccessProtected, AccessPrivate} {
		packed := packHeader(access, 511, 15, 31)
		gotAccess, gotPrim, gotArgs, gotTemps := UnpackPackedHeader(packed)
		require.Equal(t, access, gotAccess)
		require.Equal(t, uint16(511), gotPrim)
		require.Equal(t, int32(15), gotArgs)
		require.Equal(t, int32(31), gotTemps)
	}
}
