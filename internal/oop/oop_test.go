package oop

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSmiRoundTrip(t *testing.T) {
	for _, v := range []int64{0, 1, -1, MaxSmi, MinSmi, 42, -42} {
		o := MakeSmi(v)
		require.True(t, o.IsSmi())
		require.False(t, o.IsHeap())
		require.Equal(t, v, o.SmiValue())
	}
}

func TestSmiOutOfRangePanics(t *testing.T) {
	require.Panics(t, func() { MakeSmi(MaxSmi + 1) })
	require.Panics(t, func() { MakeSmi(MinSmi - 1) })
}

func TestHeapRefSpaceBit(t *testing.T) {
	r := MakeHeapRef(7, false)
	require.True(t, r.IsHeap())
	require.False(t, r.InOldSpace())
	require.Equal(t, uint64(7), r.HandleIndex())

	promoted := r.WithSpace(true)
	require.True(t, promoted.InOldSpace())
	require.Equal(t, uint64(7), promoted.HandleIndex())
}

func TestAssertHostWordSizePassesOnThisHost(t *testing.T) {
	// The test binary itself only runs on a 64-bit host, so this is a
	// genuine exercise of the check rather than a tautology: it would
	// fail loudly if WordBits and math/bits.UintSize ever drifted apart.
	require.NotPanics(t, AssertHostWordSize)
}

func TestHeaderPackedWord(t *testing.T) {
	h := &Header{Mark: true, Canonical: true, SizeUnits: 4, ClassID: ClassIDString}
	w := h.PackedWord()
	require.NotZero(t, w&1, "mark bit set")
	require.Zero(t, w&(1<<1), "remembered bit clear")
	require.NotZero(t, w&(1<<2), "canonical bit set")
}

func TestAuxSlotForwarding(t *testing.T) {
	a := AuxSlot{Kind: AuxForwardingTarget, Forward: MakeHeapRef(3, true)}
	require.True(t, a.IsForwarded())
	other := AuxSlot{Kind: AuxIdentityHash, Hash: 99}
	require.False(t, other.IsForwarded())
}
