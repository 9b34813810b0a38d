// Package lookupcache implements the two open-addressed method lookup
// caches of spec §4.3, grounded on the teacher's iface.go itab cache:
// the same "hash once, probe, and on a miss compute and insert" shape,
// generalized from itab's single-probe-plus-lock design to a fixed
// two-probe, no-eviction-beyond-overwrite table (DESIGN.md).
package lookupcache

import "soupvm/internal/oop"

// size is the number of slots in each table. A power of two so probe
// indices can be masked rather than modulo'd.
const size = 1024
const mask = size - 1

// alignmentLog2 matches freelist.Alignment's log2, used to shift
// selector/caller-method oops before hashing the same way the teacher's
// getitab shifts type hashes, so that consecutive selector literals
// (which cluster at small offsets) don't collide on the low bits.
const alignmentLog2 = 4

// Rule distinguishes self/super/implicit-receiver/outer-N lookups for
// the NS cache (spec §4.3).
type Rule uint8

const (
	RuleSelf Rule = iota
	RuleSuper
	RuleImplicitReceiver
	RuleOuter // OuterDepth holds the numeric depth
)

func hash2(h uint64) uint64 { return h >> 3 }

// ordinaryEntry is one slot of the ordinary cache: (class id, selector)
// -> method.
type ordinaryEntry struct {
	valid    bool
	classID  oop.ClassID
	selector oop.Oop
	method   oop.Oop
}

// OrdinaryCache caches non-NS sends keyed by (receiver class id,
// selector) (spec §4.3).
type OrdinaryCache struct {
	entries [size]ordinaryEntry
}

func NewOrdinaryCache() *OrdinaryCache { return &OrdinaryCache{} }

func ordinaryHash(cid oop.ClassID, selector oop.Oop) uint64 {
	return uint64(cid) ^ (uint64(selector) >> alignmentLog2)
}

// Lookup returns the cached method for (cid, selector), if present.
func (c *OrdinaryCache) Lookup(cid oop.ClassID, selector oop.Oop) (oop.Oop, bool) {
	h := ordinaryHash(cid, selector)
	for _, idx := range [2]uint64{h & mask, hash2(h) & mask} {
		e := &c.entries[idx]
		if e.valid && e.classID == cid && e.selector == selector {
			return e.method, true
		}
	}
	return oop.Nil, false
}

// Insert records a resolved (cid, selector) -> method binding, probing
// the first slot and falling back to the second probe's slot if the
// first is occupied, matching spec §4.3's "insertion falls back to the
// first probe when neither is free; no eviction beyond overwrite."
func (c *OrdinaryCache) Insert(cid oop.ClassID, selector, method oop.Oop) {
	h := ordinaryHash(cid, selector)
	p1, p2 := h&mask, hash2(h)&mask
	slot := p1
	if c.entries[p1].valid && !c.entries[p2].valid {
		slot = p2
	}
	c.entries[slot] = ordinaryEntry{valid: true, classID: cid, selector: selector, method: method}
}

// Flush clears every entry, invoked from the GC epilogue and from Become
// (spec §9 Design Notes: "a single flush point ... do not attempt
// per-entry invalidation").
func (c *OrdinaryCache) Flush() { *c = OrdinaryCache{} }

// nsKey is the composite key of an NS cache entry.
type nsKey struct {
	classID      oop.ClassID
	selector     oop.Oop
	callerMethod oop.Oop
	rule         Rule
	outerDepth   int32
}

// nsEntry additionally records whether the effective receiver is not
// the frame's own receiver (spec §4.3's "absent-receiver?").
type nsEntry struct {
	valid          bool
	key            nsKey
	absentReceiver bool
	method         oop.Oop
}

// NSCache caches self/super/implicit-receiver/outer sends (spec §4.3).
type NSCache struct {
	entries [size]nsEntry
}

func NewNSCache() *NSCache { return &NSCache{} }

func nsHash(k nsKey) uint64 {
	h := uint64(k.classID) ^ (uint64(k.selector) >> alignmentLog2)
	h ^= (uint64(k.callerMethod) >> alignmentLog2) ^ uint64(k.rule) ^ uint64(uint32(k.outerDepth))
	return h
}

// Lookup returns the cached method and absent-receiver flag for the
// given key.
func (c *NSCache) Lookup(cid oop.ClassID, selector, callerMethod oop.Oop, rule Rule, outerDepth int32) (method oop.Oop, absentReceiver, ok bool) {
	k := nsKey{cid, selector, callerMethod, rule, outerDepth}
	h := nsHash(k)
	for _, idx := range [2]uint64{h & mask, hash2(h) & mask} {
		e := &c.entries[idx]
		if e.valid && e.key == k {
			return e.method, e.absentReceiver, true
		}
	}
	return oop.Nil, false, false
}

// Insert records a resolved NS-send binding (spec §4.4.3: "every miss
// path records a cache entry on the way back with the specific
// receiver/caller/rule that was resolved").
func (c *NSCache) Insert(cid oop.ClassID, selector, callerMethod oop.Oop, rule Rule, outerDepth int32, absentReceiver bool, method oop.Oop) {
	k := nsKey{cid, selector, callerMethod, rule, outerDepth}
	h := nsHash(k)
	p1, p2 := h&mask, hash2(h)&mask
	slot := p1
	if c.entries[p1].valid && !c.entries[p2].valid {
		slot = p2
	}
	c.entries[slot] = nsEntry{valid: true, key: k, absentReceiver: absentReceiver, method: method}
}

// Flush clears every NS cache entry.
func (c *NSCache) Flush() { *c = NSCache{} }
