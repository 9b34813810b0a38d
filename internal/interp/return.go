package interp

import (
	"soupvm/internal/objects"
	"soupvm/internal/oop"
)

// localReturn implements interpreter.cc LocalReturn: the ordinary,
// fast return path for a non-closure (or already-local) frame.
func (in *Interp) localReturn(result oop.Oop) {
	savedFPOop := in.frameSavedFP(in.fp)
	if isBaseFPMarker(savedFPOop) {
		in.localBaseReturn(result)
		return
	}
	in.ip = in.frameSavedIP(in.fp)
	in.sp = in.frameSavedSP(in.fp)
	in.fp = decodeFP(savedFPOop)
	in.push(result)
}

// localBaseReturn handles a return landing on the base frame: the
// caller has already returned once before (or never had a live raw
// frame at all), so the whole stack is flushed and a fresh base frame
// is rebuilt one level up, at the flushed top's sender (interpreter.cc
// LocalBaseReturn).
func (in *Interp) localBaseReturn(result oop.Oop) {
	top := in.flushAllFrames()
	topAct := in.Heap.Deref(top).(*objects.Activation)
	sender := topAct.Sender
	if _, ok := in.Heap.Deref(sender).(*objects.Activation); !ok {
		in.createBaseFrame(top)
		in.sendCannotReturn(result)
		return
	}
	topAct.MarkDead(in.Heap.NilOop)
	in.createBaseFrame(sender)
	in.push(result)
}

// nonLocalReturn implements interpreter.cc NonLocalReturn: returns
// through a closure to its lexically-enclosing home method activation,
// taking a fast path when the home is still reachable on the live
// dynamic fp chain, and a slow (flush-and-walk) path otherwise --
// including the cases where an unwind-protect or simulation-root
// primitive activation must intercept the return instead of being
// silently skipped.
func (in *Interp) nonLocalReturn(result oop.Oop) {
	closureOop := in.frameTemp(in.fp, -1)
	closure := in.Heap.Deref(closureOop).(*objects.Closure)
	homeOop := closure.Home
	home := in.Heap.Deref(homeOop).(*objects.Activation)
	for home.Closure != in.Heap.NilOop {
		outer := in.Heap.Deref(home.Closure).(*objects.Closure)
		homeOop = outer.Home
		home = in.Heap.Deref(homeOop).(*objects.Activation)
	}

	fpOop := in.frameSavedFP(in.fp)
	for !isBaseFPMarker(fpOop) {
		fp := decodeFP(fpOop)
		if in.frameActivation(fp) == homeOop {
			savedFPOop := in.frameSavedFP(fp)
			if !isBaseFPMarker(savedFPOop) {
				in.ip = in.frameSavedIP(fp)
				in.sp = in.frameSavedSP(fp)
				in.fp = decodeFP(savedFPOop)
				in.push(result)
				return
			}
			break
		}
		_, primitive, _, _ := in.methodHeader(in.frameMethod(fp))
		if in.Primitives != nil && (in.Primitives.IsUnwindProtect(int(primitive)) || in.Primitives.IsSimulationRoot(int(primitive))) {
			break
		}
		fpOop = in.frameSavedFP(fp)
	}

	top := in.flushAllFrames()
	topAct := in.Heap.Deref(top).(*objects.Activation)

	cur := topAct.Sender
	for cur != homeOop {
		act, ok := in.Heap.Deref(cur).(*objects.Activation)
		if !ok {
			in.createBaseFrame(top)
			in.sendCannotReturn(result)
			return
		}
		_, primitive, _, _ := in.methodHeader(act.Method)
		if in.Primitives != nil && in.Primitives.IsUnwindProtect(int(primitive)) {
			in.createBaseFrame(top)
			in.sendAboutToReturnThrough(result, cur)
			return
		}
		if in.Primitives != nil && in.Primitives.IsSimulationRoot(int(primitive)) {
			in.createBaseFrame(top)
			in.sendCannotReturn(result)
			return
		}
		cur = act.Sender
	}

	homeAct := in.Heap.Deref(homeOop).(*objects.Activation)
	sender := homeAct.Sender
	if _, ok := in.Heap.Deref(sender).(*objects.Activation); !ok {
		in.createBaseFrame(top)
		in.sendCannotReturn(result)
		return
	}

	// Zap every activation from top through home (Squeak's behavior,
	// not the Blue Book's "only zap the topmost"), stopping before
	// home's own sender.
	cur2 := top
	for cur2 != sender {
		act := in.Heap.Deref(cur2).(*objects.Activation)
		next := act.Sender
		act.MarkDead(in.Heap.NilOop)
		cur2 = next
	}

	in.createBaseFrame(sender)
	in.push(result)
}

// methodReturn implements interpreter.cc MethodReturn: groups ordinary
// and non-local returns under one bytecode, dispatching on whether the
// current frame is a closure.
func (in *Interp) methodReturn(result oop.Oop) {
	if flagsIsClosure(in.frameFlags(in.fp)) {
		in.nonLocalReturn(result)
	} else {
		in.localReturn(result)
	}
}
