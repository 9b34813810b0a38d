package primitive

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"soupvm/internal/heap"
	"soupvm/internal/interp"
	"soupvm/internal/objects"
	"soupvm/internal/oop"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// newTestInterp builds a minimal isolate-free *interp.Interp: a real
// heap and a bare ObjectStore with just nil and the two boolean
// singletons allocated, enough for every numeric/object primitive under test here
// (none of them reach through Store.CommonSelectors or the class
// table).
func newTestInterp(t *testing.T) *interp.Interp {
	t.Helper()
	h, err := heap.New(heap.DefaultConfig(), 1, testLog())
	require.NoError(t, err)

	store := &objects.ObjectStore{ClassesByKind: make(map[oop.ClassID]oop.Oop)}
	store.Nil = h.Allocate(oop.ClassIDIllegal, &objects.Array{}, 16)
	store.False = h.Allocate(oop.ClassIDIllegal, &objects.Array{}, 16)
	store.True = h.Allocate(oop.ClassIDIllegal, &objects.Array{}, 16)

	return interp.New(h, store, testLog())
}

func TestSmallIntegerAdd(t *testing.T) {
	in := newTestInterp(t)
	tbl := New()

	in.Push(oop.MakeSmi(2))
	in.Push(oop.MakeSmi(3))
	ok := tbl.Invoke(PrimSmallIntegerAdd, 1, in)
	require.True(t, ok)
	require.Equal(t, oop.MakeSmi(5), in.Pop())
}

func TestSmallIntegerAddOverflowFails(t *testing.T) {
	in := newTestInterp(t)
	tbl := New()

	in.Push(oop.MakeSmi(oop.MaxSmi))
	in.Push(oop.MakeSmi(1))
	ok := tbl.Invoke(PrimSmallIntegerAdd, 1, in)
	require.False(t, ok)
	// A failing primitive must leave the stack untouched.
	require.Equal(t, oop.MakeSmi(1), in.Pop())
	require.Equal(t, oop.MakeSmi(oop.MaxSmi), in.Pop())
}

func TestSmallIntegerDivByZeroFails(t *testing.T) {
	in := newTestInterp(t)
	tbl := New()

	in.Push(oop.MakeSmi(7))
	in.Push(oop.MakeSmi(0))
	ok := tbl.Invoke(PrimSmallIntegerDiv, 1, in)
	require.False(t, ok)
}

func TestSmallIntegerLessAnswersRealBoolean(t *testing.T) {
	in := newTestInterp(t)
	tbl := New()

	in.Push(oop.MakeSmi(1))
	in.Push(oop.MakeSmi(2))
	ok := tbl.Invoke(PrimSmallIntegerLess, 1, in)
	require.True(t, ok)
	result := in.Pop()
	// Must be the ObjectStore's True singleton, never a raw Smi(1).
	require.Equal(t, in.Store.True, result)
	require.NotEqual(t, oop.MakeSmi(1), result)
}

func TestSmallIntegerEqualAnswersFalseSingleton(t *testing.T) {
	in := newTestInterp(t)
	tbl := New()

	in.Push(oop.MakeSmi(1))
	in.Push(oop.MakeSmi(2))
	ok := tbl.Invoke(PrimSmallIntegerEqual, 1, in)
	require.True(t, ok)
	require.Equal(t, in.Store.False, in.Pop())
}

func TestFloatArithmeticRoundTrips(t *testing.T) {
	in := newTestInterp(t)
	tbl := New()

	in.Push(pushFloat(in, 1.5))
	in.Push(pushFloat(in, 2.25))
	ok := tbl.Invoke(PrimFloatAdd, 1, in)
	require.True(t, ok)

	result := in.Pop()
	f, isFloat := in.Heap.Deref(result).(*objects.Float)
	require.True(t, isFloat)
	require.InDelta(t, 3.75, f.Value, 1e-9)
}

func TestFloatAcceptsSmiOperand(t *testing.T) {
	in := newTestInterp(t)
	tbl := New()

	in.Push(pushFloat(in, 1.5))
	in.Push(oop.MakeSmi(2))
	ok := tbl.Invoke(PrimFloatMul, 1, in)
	require.True(t, ok)

	f := in.Heap.Deref(in.Pop()).(*objects.Float)
	require.InDelta(t, 3.0, f.Value, 1e-9)
}

func TestFloatDivByZeroFails(t *testing.T) {
	in := newTestInterp(t)
	tbl := New()

	in.Push(pushFloat(in, 1.0))
	in.Push(pushFloat(in, 0.0))
	ok := tbl.Invoke(PrimFloatDiv, 1, in)
	require.False(t, ok)
}

// mustLarge forces v into a real LargeInteger object (never a Smi),
// regardless of whether it would fit, so the add/sub primitives are
// exercised against the actual digit-vector path rather than silently
// testing Smi arithmetic instead.
func mustLarge(t *testing.T, in *interp.Interp, v int64) oop.Oop {
	t.Helper()
	neg := v < 0
	mag := v
	if neg {
		mag = -v
	}
	li := &objects.LargeInteger{Negative: neg, Digits: []uint32{uint32(mag), uint32(mag >> 32)}}
	li.Normalize()
	return in.Heap.Allocate(oop.ClassIDLargeInteger, li, 32)
}

func asInt64(t *testing.T, in *interp.Interp, o oop.Oop) int64 {
	t.Helper()
	if o.IsSmi() {
		return o.SmiValue()
	}
	li, ok := in.Heap.Deref(o).(*objects.LargeInteger)
	require.True(t, ok)
	var v int64
	for i := len(li.Digits) - 1; i >= 0; i-- {
		v = v<<32 | int64(li.Digits[i])
	}
	if li.Negative {
		v = -v
	}
	return v
}

func TestLargeIntegerAddRoundTripsThroughDigits(t *testing.T) {
	in := newTestInterp(t)
	tbl := New()

	lhs := mustLarge(t, in, 1<<40)
	rhs := mustLarge(t, in, 2)

	in.Push(lhs)
	in.Push(rhs)
	ok := tbl.Invoke(PrimLargeIntegerAdd, 1, in)
	require.True(t, ok)

	result := in.Pop()
	require.Equal(t, int64(1<<40+2), asInt64(t, in, result))
}

func TestLargeIntegerSubDemotesToSmiWhenInRange(t *testing.T) {
	in := newTestInterp(t)
	tbl := New()

	lhs := mustLarge(t, in, 1<<40)
	rhs := mustLarge(t, in, 1<<40)

	in.Push(lhs)
	in.Push(rhs)
	ok := tbl.Invoke(PrimLargeIntegerSub, 1, in)
	require.True(t, ok)

	result := in.Pop()
	require.True(t, result.IsSmi())
	require.Equal(t, int64(0), result.SmiValue())
}

func TestObjectIdentityPrimitives(t *testing.T) {
	in := newTestInterp(t)
	tbl := New()

	in.Push(oop.MakeSmi(9))
	in.Push(oop.MakeSmi(9))
	ok := tbl.Invoke(PrimObjectIdentical, 1, in)
	require.True(t, ok)
	require.Equal(t, in.Store.True, in.Pop())
}

func TestObjectBasicAtAndAtPut(t *testing.T) {
	in := newTestInterp(t)
	tbl := New()

	arr := &objects.Array{Elements: []oop.Oop{oop.MakeSmi(1), oop.MakeSmi(2)}}
	receiver := in.Heap.Allocate(oop.ClassIDArray, arr, 16+16)

	in.Push(receiver)
	in.Push(oop.MakeSmi(1))
	ok := tbl.Invoke(PrimObjectBasicAt, 2, in)
	require.True(t, ok)
	require.Equal(t, oop.MakeSmi(1), in.Pop())

	in.Push(receiver)
	in.Push(oop.MakeSmi(2))
	in.Push(oop.MakeSmi(42))
	ok = tbl.Invoke(PrimObjectBasicAtPut, 2, in)
	require.True(t, ok)
	require.Equal(t, oop.MakeSmi(42), in.Pop())
	require.Equal(t, oop.MakeSmi(42), arr.Elements[1])
}

func TestObjectBasicAtOutOfRangeFails(t *testing.T) {
	in := newTestInterp(t)
	tbl := New()

	arr := &objects.Array{Elements: []oop.Oop{oop.MakeSmi(1)}}
	receiver := in.Heap.Allocate(oop.ClassIDArray, arr, 16)

	in.Push(receiver)
	in.Push(oop.MakeSmi(5))
	ok := tbl.Invoke(PrimObjectBasicAt, 1, in)
	require.False(t, ok)
}

func TestUnwindProtectAndSimulationRootMarkers(t *testing.T) {
	tbl := New()
	require.True(t, tbl.IsUnwindProtect(UnwindProtectPrimitive))
	require.False(t, tbl.IsUnwindProtect(SimulationRootPrimitive))
	require.True(t, tbl.IsSimulationRoot(SimulationRootPrimitive))
	require.False(t, tbl.IsSimulationRoot(PrimClosureValue))
}

func TestUnregisteredPrimitiveFails(t *testing.T) {
	tbl := New()
	in := newTestInterp(t)
	require.False(t, tbl.Invoke(999, 0, in))
}
