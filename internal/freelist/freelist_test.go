package freelist

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSizeToClassMonotonic(t *testing.T) {
	prevSize := 0
	for n := 1; n < maxSmallSize; n += 37 {
		class := SizeToClass(n)
		require.GreaterOrEqual(t, class, 0)
		size := ClassSize(class)
		require.GreaterOrEqual(t, size, n)
		require.GreaterOrEqual(t, size, prevSize)
		prevSize = size
	}
}

func TestSizeToClassOverflow(t *testing.T) {
	require.Equal(t, -1, SizeToClass(maxSmallSize))
	require.Equal(t, -1, SizeToClass(maxSmallSize+1))
}

func TestListFreeAndAllocateSameClass(t *testing.T) {
	l := NewList()
	l.Free(Entry{Handle: 1, Size: 64})
	e, ok := l.Allocate(60)
	require.True(t, ok)
	require.Equal(t, uint64(1), e.Handle)

	_, ok = l.Allocate(60)
	require.False(t, ok)
}

func TestListOverflow(t *testing.T) {
	l := NewList()
	l.Free(Entry{Handle: 2, Size: maxSmallSize + 1000})
	require.Equal(t, 1, l.Len())
	e, ok := l.Allocate(maxSmallSize + 500)
	require.True(t, ok)
	require.Equal(t, uint64(2), e.Handle)
	require.Equal(t, 0, l.Len())
}

func TestListClear(t *testing.T) {
	l := NewList()
	l.Free(Entry{Handle: 3, Size: 100})
	l.Free(Entry{Handle: 4, Size: maxSmallSize + 10})
	require.Equal(t, 2, l.Len())
	l.Clear()
	require.Equal(t, 0, l.Len())
}
