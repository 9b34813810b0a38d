package lookupcache

import (
	"testing"

	"github.com/stretchr/testify/require"
	"soupvm/internal/oop"
)

func TestOrdinaryCacheHitAfterInsert(t *testing.T) {
	c := NewOrdinaryCache()
	cid := oop.ClassID(42)
	sel := oop.MakeSmi(7)
	method := oop.MakeSmi(99)

	_, ok := c.Lookup(cid, sel)
	require.False(t, ok)

	c.Insert(cid, sel, method)
	got, ok := c.Lookup(cid, sel)
	require.True(t, ok)
	require.Equal(t, method, got)
}

func TestOrdinaryCacheFlush(t *testing.T) {
	c := NewOrdinaryCache()
	cid := oop.ClassID(1)
	sel := oop.MakeSmi(1)
	c.Insert(cid, sel, oop.MakeSmi(2))
	c.Flush()
	_, ok := c.Lookup(cid, sel)
	require.False(t, ok)
}

func TestNSCacheDistinguishesRule(t *testing.T) {
	c := NewNSCache()
	cid := oop.ClassID(5)
	sel := oop.MakeSmi(3)
	caller := oop.MakeSmi(11)

	c.Insert(cid, sel, caller, RuleSelf, 0, false, oop.MakeSmi(100))
	c.Insert(cid, sel, caller, RuleSuper, 0, true, oop.MakeSmi(200))

	m, absent, ok := c.Lookup(cid, sel, caller, RuleSelf, 0)
	require.True(t, ok)
	require.False(t, absent)
	require.Equal(t, oop.MakeSmi(100), m)

	m, absent, ok = c.Lookup(cid, sel, caller, RuleSuper, 0)
	require.True(t, ok)
	require.True(t, absent)
	require.Equal(t, oop.MakeSmi(200), m)
}

func TestNSCacheOuterDepth(t *testing.T) {
	c := NewNSCache()
	cid := oop.ClassID(9)
	sel := oop.MakeSmi(1)
	caller := oop.MakeSmi(1)

	c.Insert(cid, sel, caller, RuleOuter, 1, false, oop.MakeSmi(1))
	c.Insert(cid, sel, caller, RuleOuter, 2, false, oop.MakeSmi(2))

	m, _, ok := c.Lookup(cid, sel, caller, RuleOuter, 2)
	require.True(t, ok)
	require.Equal(t, oop.MakeSmi(2), m)
}
