package interp

import (
	"soupvm/internal/objects"
	"soupvm/internal/oop"
)

// exitSignal is the panic/recover substitute for interpreter.cc's
// setjmp/longjmp Enter()/Exit() isolate-escape mechanism: Run (in
// dispatch.go) recovers exactly one exitSignal at its own call
// boundary, matching the original's "one setjmp per isolate turn"
// shape without needing a C-style escape primitive (DESIGN.md).
type exitSignal struct{ Reason string }

func (in *Interp) exit(reason string) { panic(exitSignal{Reason: reason}) }

// RequestInterrupt marks the next StackOverflow check as an isolate
// interrupt rather than a true overflow, mirroring
// interpreter.cc's checked_stack_limit_ == -1 sentinel (used by
// internal/isolate's InterruptAll, spec §6.4).
func (in *Interp) RequestInterrupt() { in.interruptRequested = true }

// activate implements interpreter.cc's Activate: inst-var get/set
// pseudo-primitives, real primitive dispatch, and otherwise a full
// frame push (interpreter.cc lines ~779-834).
func (in *Interp) activate(method oop.Oop, numArgs int) {
	_, primitive, _, numTemps := in.methodHeader(method)

	if primitive != 0 {
		const (
			instVarGetterBit = 1 << 8
			instVarSetterBit = 1 << 9
		)
		switch {
		case primitive&instVarGetterBit != 0:
			offset := int(primitive & 0xff)
			receiver := in.stackAt(0)
			value := in.Heap.Deref(receiver).Slots()[offset]
			in.popNAndPush(1, value)
			return
		case primitive&instVarSetterBit != 0:
			offset := int(primitive & 0xff)
			receiver := in.stackAt(1)
			value := in.stackAt(0)
			in.Heap.Store(receiver, offset, value, true)
			in.popNAndPush(2, receiver)
			return
		default:
			if in.Primitives != nil && in.Primitives.Invoke(int(primitive), numArgs, in) {
				return
			}
			// Primitive failed (or none wired): fall through to the
			// interpreted body below, exactly as Activate does.
		}
	}

	receiver := in.stackAt(numArgs)
	in.push(oop.MakeSmi(int64(in.ip)))
	in.push(encodeFP(in.fp))
	in.fp = in.sp
	in.push(MakeFlags(numArgs, false))
	in.push(method)
	in.push(oop.Nil) // activation: not yet reified
	in.push(receiver)
	in.ip = 0 // method bytecode index 0 is the method's entry point
	for i := int32(0); i < numTemps; i++ {
		in.push(oop.Nil)
	}

	if in.sp < in.limit {
		in.stackOverflow()
	}
}

// ActivateClosure is activateClosure's exported form, the hook
// internal/primitive's #value/#value:/#value:value:/... family calls
// through the PrimitiveInvoker boundary to invoke a closure (closures
// have no bytecode of their own that activates them; only a primitive
// send does).
func (in *Interp) ActivateClosure(numArgs int) { in.activateClosure(numArgs) }

// activateClosure implements interpreter.cc's ActivateClosure: the
// frame's method/receiver come from the closure's home activation, not
// the closure itself, and declared locals are not nil-filled here
// (closure bodies push their own temps via bytecode).
func (in *Interp) activateClosure(numArgs int) {
	closureOop := in.stackAt(numArgs)
	cl := in.Heap.Deref(closureOop).(*objects.Closure)
	home := in.Heap.Deref(cl.Home).(*objects.Activation)

	in.push(oop.MakeSmi(int64(in.ip)))
	in.push(encodeFP(in.fp))
	in.fp = in.sp
	in.push(MakeFlags(numArgs, true))
	in.push(home.Method)
	in.push(oop.Nil)
	in.push(home.Receiver)
	in.ip = int(cl.InitialBCI)
	for _, v := range cl.Copied {
		in.push(v)
	}

	if in.sp < in.limit {
		in.stackOverflow()
	}
}

// createBaseFrame rebuilds exactly one base frame from a reified
// Activation, the inverse of flushAllFrames (interpreter.cc
// CreateBaseFrame). Only ever called on a fully empty stack.
func (in *Interp) createBaseFrame(activationOop oop.Oop) {
	act := in.Heap.Deref(activationOop).(*objects.Activation)
	isClosure := act.Closure != in.Heap.NilOop

	var numArgs int
	if isClosure {
		cl := in.Heap.Deref(act.Closure).(*objects.Closure)
		numArgs = int(cl.NumArgs)
		in.push(act.Closure)
	} else {
		_, _, na, _ := in.methodHeader(act.Method)
		numArgs = int(na)
		in.push(act.Receiver)
	}
	for i := 0; i < numArgs; i++ {
		in.push(act.Temps[i])
	}

	in.push(act.Sender)
	in.push(baseFPMarker)
	in.fp = in.sp
	in.push(MakeFlags(numArgs, isClosure))
	in.push(act.Method)
	in.push(activationOop)
	in.push(act.Receiver)

	numTemps := int(act.StackDepth)
	for i := numArgs; i < numTemps; i++ {
		in.push(act.Temps[i])
	}
	act.StackDepth = int32(numArgs)

	in.ip = int(act.BCI)
	act.MarkLive(in.fp)
}

// stackOverflow mirrors interpreter.cc StackOverflow: an interrupt
// request masquerading as an overflow check escapes the isolate's
// current turn; a genuine overflow reclaims stack space by flushing
// every frame to reified Activations and rebuilding just the
// top one.
func (in *Interp) stackOverflow() {
	if in.interruptRequested {
		in.interruptRequested = false
		in.exit("interrupted")
	}
	top := in.flushAllFrames()
	in.createBaseFrame(top)
}

// insertAbsentReceiver splices receiver in below numArgs already-
// pushed arguments, as if it had been the explicit receiver of the
// send all along (interpreter.cc InsertAbsentReceiver), used when a
// self/super/outer/implicit-receiver send resolves to a method whose
// receiver wasn't already on the stack.
func (in *Interp) insertAbsentReceiver(receiver oop.Oop, numArgs int) {
	in.grow(1)
	for i := 0; i < numArgs; i++ {
		in.stackPut(i, in.stackAt(i+1))
	}
	in.stackPut(numArgs, receiver)
}

func (in *Interp) activateAbsent(method, receiver oop.Oop, numArgs int) {
	in.insertAbsentReceiver(receiver, numArgs)
	in.activate(method, numArgs)
}

// allocateMessage synthesizes the DNU argument-carrier object.
// ObjectStore has no dedicated Message-class slot (unlike the original
// VM's object_store()->Message()), so the class id is reserved lazily
// on first use, mirroring original_source/vm/heap.cc's
// Heap::AllocateMessage allocate-on-first-use pattern; DESIGN.md
// records the synthesized class object (nil superclass, no methods)
// as a deliberate simplification since nothing dispatches through it.
func (in *Interp) allocateMessage(selector, arguments oop.Oop) oop.Oop {
	if in.messageClassID == oop.ClassIDIllegal {
		cid := in.Heap.ReserveClassID()
		nilOop := in.Heap.NilOop
		synthetic := &objects.Instance{Elements: []oop.Oop{nilOop, nilOop, nilOop, nilOop, nilOop, nilOop}}
		clsOop := in.Heap.Allocate(cid, synthetic, 16+8*6)
		in.Heap.BindBuiltinClass(cid, clsOop)
		in.messageClassID = cid
	}
	msg := &objects.Instance{Elements: []oop.Oop{selector, arguments}}
	return in.Heap.Allocate(in.messageClassID, msg, 16+16)
}
