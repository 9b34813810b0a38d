package interp

import (
	"soupvm/internal/objects"
	"soupvm/internal/oop"
)

// ensureActivation lazily reifies the frame at fp into an Activation,
// caching it in the frame's own activation slot so repeated calls are
// idempotent (interpreter.cc EnsureActivation). Deliberately does not
// copy current temp/param values into the fresh Activation -- callers
// that need those call flushAllFrames instead.
func (in *Interp) ensureActivation(fp int) oop.Oop {
	if existing := in.frameActivation(fp); existing != oop.Nil {
		return existing
	}

	flags := in.frameFlags(fp)
	closure := in.Heap.NilOop
	if flagsIsClosure(flags) {
		closure = in.frameTemp(fp, -1)
	}

	act := &objects.Activation{
		Method:   in.frameMethod(fp),
		Closure:  closure,
		Receiver: in.frameReceiver(fp),
	}
	o := in.Heap.Allocate(oop.ClassIDActivation, act, 16+8*(4+objects.MaxTemps))
	act.MarkLive(fp)
	in.frameActivationPut(fp, o)
	return o
}

// flushAllFrames reifies every live frame into Activations and empties
// the raw stack entirely (interpreter.cc FlushAllFrames). The base
// frame's saved-IP slot is reinterpreted as the base sender Activation
// rather than a real BCI; unlike the original (which performs a raw
// pointer reinterpret-cast on that slot even during the base-frame
// iteration and only discards the bogus value afterward), this port
// simply skips the meaningless ip_ assignment on that last iteration,
// since the immediately following ip_ = 0 would discard it anyway.
func (in *Interp) flushAllFrames() oop.Oop {
	top := in.ensureActivation(in.fp)

	for in.fp != -1 {
		act := in.Heap.Deref(in.frameActivation(in.fp)).(*objects.Activation)
		savedFPOop := in.frameSavedFP(in.fp)
		base := isBaseFPMarker(savedFPOop)

		var sender oop.Oop
		if base {
			sender = in.frameBaseSender(in.fp)
		} else {
			sender = in.ensureActivation(decodeFP(savedFPOop))
		}
		act.Sender = sender
		act.BCI = int32(in.ip)

		numArgs := flagsNumArgs(in.frameFlags(in.fp))
		numTemps := numArgs + frameNumLocals(in.fp, in.sp)
		for i := 0; i < numTemps; i++ {
			act.Temps[i] = in.frameTemp(in.fp, i)
		}
		act.StackDepth = int32(numTemps)

		savedSP := in.frameSavedSP(in.fp)
		if base {
			in.sp = savedSP
			in.fp = -1
		} else {
			in.ip = in.frameSavedIP(in.fp)
			in.sp = savedSP
			in.fp = decodeFP(savedFPOop)
		}
	}
	in.ip = 0
	return top
}

// hasLivingFrame reports whether activationOop still backs a live
// frame on the current dynamic chain, zapping it (sender/bci cleared)
// if not (interpreter.cc HasLivingFrame).
func (in *Interp) hasLivingFrame(activationOop oop.Oop) bool {
	act := in.Heap.Deref(activationOop).(*objects.Activation)
	if wantFP, has := act.LivingSenderFP(); has {
		for f := in.fp; f != -1; {
			if f == wantFP {
				if in.frameActivation(f) == activationOop {
					return true
				}
				break
			}
			savedFPOop := in.frameSavedFP(f)
			if isBaseFPMarker(savedFPOop) {
				break
			}
			f = decodeFP(savedFPOop)
		}
	}
	act.MarkDead(in.Heap.NilOop)
	return false
}

// currentActivation reifies (or returns the cached reification of) the
// currently executing frame (interpreter.cc CurrentActivation).
func (in *Interp) currentActivation() oop.Oop { return in.ensureActivation(in.fp) }
