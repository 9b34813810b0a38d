package heap

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"soupvm/internal/objects"
	"soupvm/internal/oop"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func newTestHeap(t *testing.T) *Heap {
	t.Helper()
	h, err := New(DefaultConfig(), 1, testLog())
	require.NoError(t, err)
	return h
}

func allocArray(t *testing.T, h *Heap, n int) oop.Oop {
	t.Helper()
	a := &objects.Array{Elements: make([]oop.Oop, n)}
	for i := range a.Elements {
		a.Elements[i] = oop.Nil
	}
	return h.Allocate(oop.ClassIDArray, a, 16+8*n)
}

func TestAllocateReturnsHeapOop(t *testing.T) {
	h := newTestHeap(t)
	o := allocArray(t, h, 2)
	require.True(t, o.IsHeap())
	require.False(t, o.InOldSpace())
	require.Equal(t, oop.ClassIDArray, h.ClassIDOf(o))
}

func TestScavengeReclaimsUnreachable(t *testing.T) {
	h := newTestHeap(t)
	root := oop.Nil
	scope := h.NewHandleScope()
	scope.Register(&root)
	defer scope.Close()

	root = allocArray(t, h, 1)
	garbage := allocArray(t, h, 1)

	h.Scavenge()

	require.True(t, root.IsHeap())
	// root survived; one scavenge only ages it (promotion needs a second
	// one past ageThreshold), and either way it must still deref.
	require.NotPanics(t, func() { h.Deref(root) })
	// garbage was unreachable, so its handle was freed.
	require.Panics(t, func() { h.Deref(garbage) })
}

func TestScavengeRebuildsRememberedSet(t *testing.T) {
	h := newTestHeap(t)
	root := oop.Nil
	scope := h.NewHandleScope()
	scope.Register(&root)
	defer scope.Close()

	root = allocArray(t, h, 1)
	h.Scavenge() // first pass: root survives with age 1, still young
	h.Scavenge() // second pass: root.age now exceeds threshold, tenured

	require.True(t, root.InOldSpace())

	child := allocArray(t, h, 1)
	h.Store(root, 0, child, true)
	require.True(t, h.Deref(root).Hdr().Remembered)

	h.Scavenge()
	// child should have survived via the remembered-set root and,
	// since it's still referenced by the (now old) root, stay correctly
	// tracked in the remembered set if it's still in young space.
	newChild := h.Deref(root).Slots()[0]
	require.True(t, newChild.IsHeap())
	require.False(t, newChild.InOldSpace())
	require.True(t, h.Deref(root).Hdr().Remembered)
}

func TestBecomeSwapsIdentity(t *testing.T) {
	h := newTestHeap(t)
	oldArr := allocArray(t, h, 1)
	newArr := allocArray(t, h, 3)

	ref := oop.Nil
	scope := h.NewHandleScope()
	scope.Register(&ref)
	defer scope.Close()
	ref = oldArr

	err := h.Become([]oop.Oop{oldArr}, []oop.Oop{newArr})
	require.NoError(t, err)

	require.Equal(t, newArr, ref)
	require.Len(t, h.Deref(ref).Slots(), 3)
}

func TestBecomeRejectsMismatchedLengths(t *testing.T) {
	h := newTestHeap(t)
	a := allocArray(t, h, 1)
	err := h.Become([]oop.Oop{a}, nil)
	require.Error(t, err)
}

func TestBecomeRejectsNonHeapElements(t *testing.T) {
	h := newTestHeap(t)
	a := allocArray(t, h, 1)
	err := h.Become([]oop.Oop{a}, []oop.Oop{oop.MakeSmi(3)})
	require.Error(t, err)
}

func TestMarkSweepFreesUnreachableOldObjects(t *testing.T) {
	h := newTestHeap(t)
	h.SetMode(ModeSnapshot)
	live := allocArray(t, h, 1)
	_ = allocArray(t, h, 1) // unreachable garbage, old space
	h.SetMode(ModeNormal)

	root := oop.Nil
	scope := h.NewHandleScope()
	scope.Register(&root)
	defer scope.Close()
	root = live

	before := h.freeList.Len()
	h.MarkSweep()
	after := h.freeList.Len()

	require.Greater(t, after, before)
	require.NotPanics(t, func() { h.Deref(root) })
}

func TestIdentityHashAssignedOnce(t *testing.T) {
	h := newTestHeap(t)
	o := allocArray(t, h, 1)
	first := h.IdentityHash(o)
	second := h.IdentityHash(o)
	require.Equal(t, first, second)
}
