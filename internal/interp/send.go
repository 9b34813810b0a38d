package interp

import (
	"soupvm/internal/lookupcache"
	"soupvm/internal/objects"
	"soupvm/internal/oop"
)

// methodAt linear-scans klass's own methods Array for selector,
// matching interpreter.cc MethodAt (selectors are canonical strings,
// so Oop equality is identity equality).
func (in *Interp) methodAt(klass, selector oop.Oop) (oop.Oop, bool) {
	b := in.behaviorOf(klass)
	methods := in.Heap.Deref(b.Methods).(*objects.Array)
	for _, m := range methods.Elements {
		if in.methodRefs(m).Selector == selector {
			return m, true
		}
	}
	return oop.Nil, false
}

// methodAtChain walks klass and its superclasses looking for selector
// (used by the canned #doesNotUnderstand:/#cannotReturn:/
// #aboutToReturnThrough:/#nonBooleanReceiver sends, each of which must
// be found somewhere up the chain rather than only on the exact
// class).
func (in *Interp) methodAtChain(klass, selector oop.Oop) (oop.Oop, bool) {
	for klass != in.Heap.NilOop && klass != oop.Nil {
		if m, ok := in.methodAt(klass, selector); ok {
			return m, true
		}
		klass = in.behaviorOf(klass).Superclass
	}
	return oop.Nil, false
}

// findApplicationOf walks up klass's superclass chain for the class
// whose mixin is mixin (interpreter.cc FindApplicationOf), fatal if
// the chain runs out (a corrupt image/bytecode, per DESIGN.md's
// integrity-violations-are-fatal policy).
func (in *Interp) findApplicationOf(mixin, klass oop.Oop) oop.Oop {
	app := in.findApplicationOfOrNil(mixin, klass)
	if app == oop.Nil {
		in.fatal("interp: mixin application of %v not found in %v", mixin, klass)
	}
	return app
}

func (in *Interp) findApplicationOfOrNil(mixin, klass oop.Oop) oop.Oop {
	cur := klass
	for cur != in.Heap.NilOop && cur != oop.Nil {
		if in.behaviorOf(cur).Mixin == mixin {
			return cur
		}
		cur = in.behaviorOf(cur).Superclass
	}
	return oop.Nil
}

// commonSend implements interpreter.cc CommonSend: the quick-send
// bytecode space (80-111) indexes a shared (selector, arity) table
// rather than looking the selector up in the current method's own
// literals.
func (in *Interp) commonSend(offset int) {
	arr := in.Heap.Deref(in.Store.CommonSelectors).(*objects.Array)
	selector := arr.Elements[offset*2]
	arity := int(arr.Elements[offset*2+1].SmiValue())
	in.ordinarySendSelector(selector, arity)
}

// ordinarySend reads an explicit-receiver send's selector out of the
// current method's literals and dispatches it.
func (in *Interp) ordinarySend(selectorIndex, numArgs int) {
	in.ordinarySendSelector(in.selectorAt(selectorIndex), numArgs)
}

func (in *Interp) ordinarySendSelector(selector oop.Oop, numArgs int) {
	receiver := in.stackAt(numArgs)
	cid := in.Heap.ClassIDOf(receiver)
	if method, ok := in.Heap.OrdinaryCache.Lookup(cid, selector); ok {
		in.activate(method, numArgs)
		return
	}
	in.ordinarySendMiss(selector, numArgs, receiver, cid)
}

// ordinarySendMiss walks the receiver's class chain looking for a
// public method (caching it on success), stopping at the first
// protected method it sees (which forces #doesNotUnderstand: rather
// than continuing past it), and silently stepping over private
// methods as though they were absent, exactly as an explicit-receiver
// send must (interpreter.cc OrdinarySendMiss).
func (in *Interp) ordinarySendMiss(selector oop.Oop, numArgs int, receiver oop.Oop, cid oop.ClassID) {
	receiverClass := in.Heap.ClassObject(cid)
	for klass := receiverClass; klass != in.Heap.NilOop && klass != oop.Nil; klass = in.behaviorOf(klass).Superclass {
		method, ok := in.methodAt(klass, selector)
		if !ok {
			continue
		}
		access, _, _, _ := in.methodHeader(method)
		switch access {
		case objects.AccessPublic:
			in.Heap.OrdinaryCache.Insert(cid, selector, method)
			in.activate(method, numArgs)
			return
		case objects.AccessProtected:
			in.dnuSend(selector, numArgs, receiver, klass, true)
			return
		}
	}
	in.dnuSend(selector, numArgs, receiver, receiverClass, true)
}

func (in *Interp) superSend(selectorIndex, numArgs int) {
	selector := in.selectorAt(selectorIndex)
	callerMethod := in.frameMethod(in.fp)
	receiver := in.stackAt(numArgs)
	cid := in.Heap.ClassIDOf(receiver)
	if method, absent, ok := in.Heap.NSCache.Lookup(cid, selector, callerMethod, lookupcache.RuleSuper, 0); ok {
		in.dispatchNSHit(method, absent, receiver, numArgs)
		return
	}
	in.superSendMiss(selector, numArgs, receiver, cid, callerMethod)
}

func (in *Interp) superSendMiss(selector oop.Oop, numArgs int, receiver oop.Oop, cid oop.ClassID, callerMethod oop.Oop) {
	methodMixin := in.methodMixin(callerMethod)
	receiverClass := in.Heap.ClassObject(cid)
	methodMixinApp := in.findApplicationOf(methodMixin, receiverClass)
	superclass := in.behaviorOf(methodMixinApp).Superclass
	in.protectedSend(selector, numArgs, receiver, superclass, lookupcache.RuleSuper, cid, callerMethod, 0)
}

func (in *Interp) implicitReceiverSend(selectorIndex, numArgs int) {
	selector := in.selectorAt(selectorIndex)
	callerMethod := in.frameMethod(in.fp)
	methodReceiver := in.frameReceiver(in.fp)
	cid := in.Heap.ClassIDOf(methodReceiver)
	if method, absent, ok := in.Heap.NSCache.Lookup(cid, selector, callerMethod, lookupcache.RuleImplicitReceiver, 0); ok {
		in.dispatchNSHit(method, absent, methodReceiver, numArgs)
		return
	}
	in.implicitReceiverSendMiss(selector, numArgs, callerMethod, methodReceiver, cid)
}

// implicitReceiverSendMiss walks outward through the method's mixin's
// enclosing-mixin chain looking for the first lexical scope that
// implements selector (interpreter.cc ImplicitReceiverSendMiss).
//
// Scoped simplification: this only follows AbstractMixin.Enclosing
// (syntactic nesting), not a runtime enclosing-object chain threaded
// through per-instance outer slots; a class nested more than one
// mixin-application deep inside another object (rather than only
// inside another class) falls back to ProtectedSend one level
// earlier than the original VM would. See DESIGN.md.
func (in *Interp) implicitReceiverSendMiss(selector oop.Oop, numArgs int, callerMethod, methodReceiver oop.Oop, cid oop.ClassID) {
	receiverClass := in.Heap.ClassObject(cid)
	candidateMixin := in.mixinOf(in.methodMixin(callerMethod)).Enclosing
	for candidateMixin != in.Heap.NilOop && candidateMixin != oop.Nil {
		if app := in.findApplicationOfOrNil(candidateMixin, receiverClass); app != oop.Nil {
			if _, ok := in.methodAt(app, selector); ok {
				in.lexicalSend(selector, numArgs, methodReceiver, candidateMixin, lookupcache.RuleImplicitReceiver, cid, callerMethod, 0)
				return
			}
		}
		candidateMixin = in.mixinOf(candidateMixin).Enclosing
	}
	in.protectedSend(selector, numArgs, methodReceiver, receiverClass, lookupcache.RuleImplicitReceiver, cid, callerMethod, 0)
}

func (in *Interp) outerSend(selectorIndex, numArgs, depth int) {
	selector := in.selectorAt(selectorIndex)
	callerMethod := in.frameMethod(in.fp)
	methodReceiver := in.frameReceiver(in.fp)
	cid := in.Heap.ClassIDOf(methodReceiver)
	if method, absent, ok := in.Heap.NSCache.Lookup(cid, selector, callerMethod, lookupcache.RuleOuter, int32(depth)); ok {
		in.dispatchNSHit(method, absent, methodReceiver, numArgs)
		return
	}
	in.outerSendMiss(selector, numArgs, depth, callerMethod, methodReceiver, cid)
}

func (in *Interp) outerSendMiss(selector oop.Oop, numArgs, depth int, callerMethod, methodReceiver oop.Oop, cid oop.ClassID) {
	receiverClass := in.Heap.ClassObject(cid)
	targetMixin := in.methodMixin(callerMethod)
	for i := 0; i < depth; i++ {
		app := in.findApplicationOf(targetMixin, receiverClass)
		targetMixin = in.mixinOf(app).Enclosing
	}
	in.lexicalSend(selector, numArgs, methodReceiver, targetMixin, lookupcache.RuleOuter, cid, callerMethod, int32(depth))
}

func (in *Interp) selfSend(selectorIndex, numArgs int) {
	selector := in.selectorAt(selectorIndex)
	callerMethod := in.frameMethod(in.fp)
	methodReceiver := in.frameReceiver(in.fp)
	cid := in.Heap.ClassIDOf(methodReceiver)
	if method, absent, ok := in.Heap.NSCache.Lookup(cid, selector, callerMethod, lookupcache.RuleSelf, 0); ok {
		in.dispatchNSHit(method, absent, methodReceiver, numArgs)
		return
	}
	in.lexicalSend(selector, numArgs, methodReceiver, in.methodMixin(callerMethod), lookupcache.RuleSelf, cid, callerMethod, 0)
}

// lexicalSend finds the mixin application of mixin on receiver's
// class, activating it directly (after an NS-cache insert) if private,
// otherwise handing off to ProtectedSend to walk further up
// (interpreter.cc LexicalSend).
func (in *Interp) lexicalSend(selector oop.Oop, numArgs int, receiver, mixin oop.Oop, rule lookupcache.Rule, cid oop.ClassID, callerMethod oop.Oop, outerDepth int32) {
	receiverClass := in.Heap.ClassObject(cid)
	mixinApp := in.findApplicationOf(mixin, receiverClass)
	if method, ok := in.methodAt(mixinApp, selector); ok {
		access, _, _, _ := in.methodHeader(method)
		if access == objects.AccessPrivate {
			in.Heap.NSCache.Insert(cid, selector, callerMethod, rule, outerDepth, true, method)
			in.activateAbsent(method, receiver, numArgs)
			return
		}
	}
	in.protectedSend(selector, numArgs, receiver, receiverClass, rule, cid, callerMethod, outerDepth)
}

// protectedSend walks startClass and its superclasses for the first
// non-private method, caches it, and activates it with an absent
// receiver; falls to #doesNotUnderstand: if none is found
// (interpreter.cc ProtectedSend).
func (in *Interp) protectedSend(selector oop.Oop, numArgs int, receiver, startClass oop.Oop, rule lookupcache.Rule, cid oop.ClassID, callerMethod oop.Oop, outerDepth int32) {
	for klass := startClass; klass != in.Heap.NilOop && klass != oop.Nil; klass = in.behaviorOf(klass).Superclass {
		method, ok := in.methodAt(klass, selector)
		if !ok {
			continue
		}
		access, _, _, _ := in.methodHeader(method)
		if access != objects.AccessPrivate {
			in.Heap.NSCache.Insert(cid, selector, callerMethod, rule, outerDepth, true, method)
			in.activateAbsent(method, receiver, numArgs)
			return
		}
	}
	in.dnuSend(selector, numArgs, receiver, startClass, false)
}

// dispatchNSHit applies an NS-cache hit the same way every self/super/
// outer/implicit-receiver send does.
func (in *Interp) dispatchNSHit(method oop.Oop, absentReceiver bool, receiver oop.Oop, numArgs int) {
	if absentReceiver {
		in.activateAbsent(method, receiver, numArgs)
		return
	}
	in.activate(method, numArgs)
}

// dnuSend packages the unhandled selector/arguments into a Message and
// sends #doesNotUnderstand: (interpreter.cc DNUSend). Fatal if no
// #doesNotUnderstand: implementation exists anywhere up lookupClass's
// chain -- recursing into DNU for DNU itself would never terminate.
func (in *Interp) dnuSend(selector oop.Oop, numArgs int, receiver, lookupClass oop.Oop, presentReceiver bool) {
	method, ok := in.methodAtChain(lookupClass, in.Store.DoesNotUnderstand)
	if !ok {
		in.fatal("interp: recursive #doesNotUnderstand:")
		return
	}

	args := make([]oop.Oop, numArgs)
	for i := 0; i < numArgs; i++ {
		args[i] = in.stackAt(numArgs - i - 1)
	}
	argsArr := &objects.Array{Elements: args}
	argsOop := in.Heap.Allocate(oop.ClassIDArray, argsArr, 16+8*numArgs)
	msg := in.allocateMessage(selector, argsOop)

	in.drop(numArgs)
	if !presentReceiver {
		in.push(receiver)
	}
	in.push(msg)
	in.activate(method, 1)
}

// sendCannotReturn, sendAboutToReturnThrough, and
// sendNonBooleanReceiver synthesize the three canned error sends
// interpreter.cc's return and branch machinery fall back to.

func (in *Interp) sendCannotReturn(result oop.Oop) {
	top := in.currentActivation()
	klass := in.Heap.ClassObject(in.Heap.ClassIDOf(top))
	method, ok := in.methodAtChain(klass, in.Store.CannotReturn)
	if !ok {
		in.fatal("interp: missing #cannotReturn:")
		return
	}
	in.push(top)
	in.push(result)
	in.activate(method, 1)
}

func (in *Interp) sendAboutToReturnThrough(result, unwind oop.Oop) {
	top := in.currentActivation()
	klass := in.Heap.ClassObject(in.Heap.ClassIDOf(top))
	method, ok := in.methodAtChain(klass, in.Store.AboutToReturnThrough)
	if !ok {
		in.fatal("interp: missing #aboutToReturnThrough:")
		return
	}
	in.push(top)
	in.push(result)
	in.push(unwind)
	in.activate(method, 2)
}

func (in *Interp) sendNonBooleanReceiver(nonBoolean oop.Oop) {
	top := in.currentActivation()
	klass := in.Heap.ClassObject(in.Heap.ClassIDOf(top))
	method, ok := in.methodAtChain(klass, in.Store.NonBooleanReceiver)
	if !ok {
		in.fatal("interp: missing #nonBooleanReceiver:")
		return
	}
	in.push(top)
	in.push(nonBoolean)
	in.activate(method, 1)
}

func (in *Interp) selectorAt(index int) oop.Oop {
	return in.methodLiterals(in.frameMethod(in.fp))[index]
}
