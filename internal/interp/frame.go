// Package interp implements the bytecode interpreter: the raw value
// stack, frame layout, fetch-decode-execute loop, the ordinary/self/
// super/outer/implicit-receiver send protocol, closures, local and
// non-local return, and on-demand activation reification (spec §4.4).
//
// Grounded throughout on original_source/vm/interpreter.cc. That file
// addresses frames with a raw Object** pointer where increasing address
// means moving toward the stack's high end (the "base"); this port
// keeps the exact same direction convention with a []oop.Oop slice and
// plain int indices, so every pointer-arithmetic expression in the
// original translates index-for-index, offset-for-offset, with no sign
// flips to keep track of:
//
//	fp + 1  -> saved IP / base sender
//	fp + 0  -> saved FP / 0 (base-frame marker)
//	fp - 1  -> flags
//	fp - 2  -> method
//	fp - 3  -> activation (nil/0 until reified)
//	fp - 4  -> receiver
//	fp - 5.. -> temporaries, beyond declared args
//
// index 0 is the lowest address (stack_limit_); index base is the
// highest (stack_base_, constant for the lifetime of one Interp).
package interp

import "soupvm/internal/oop"

// stackSlots is the fixed interpreter stack size (spec §4.4.1).
const stackSlots = 1024

// overflowMargin reserves headroom above the raw limit so a frame push
// that is one or two words past the checked limit (DNU message
// packaging, SendCannotReturn's extra args) never actually underflows
// the slice before StackOverflow is noticed.
const overflowMargin = 32

// MakeFlags packs a frame's declared argument count and closure bit
// into the single SmallInteger the "flags" frame slot holds
// (interpreter.cc: MakeFlags/FlagsNumArgs/FlagsIsClosure).
func MakeFlags(numArgs int, isClosure bool) oop.Oop {
	v := int64(numArgs) << 1
	if isClosure {
		v |= 1
	}
	return oop.MakeSmi(v)
}

func flagsNumArgs(flags oop.Oop) int   { return int(flags.SmiValue() >> 1) }
func flagsIsClosure(flags oop.Oop) bool { return flags.SmiValue()&1 != 0 }

// baseFPMarker is the literal "no caller" sentinel stored in a base
// frame's saved-FP slot (interpreter.cc stores a raw null pointer
// there; the closest Go equivalent distinguishable from every real
// frame index is Smi(0), since encodeFP never produces that value for
// an actual index).
var baseFPMarker = oop.MakeSmi(0)

// encodeFP/decodeFP bias a real fp index by one before storing it as a
// SmallInteger, so that a legitimate fp of 0 (Smi(1)) never collides
// with baseFPMarker (Smi(0)).
func encodeFP(fp int) oop.Oop   { return oop.MakeSmi(int64(fp) + 1) }
func decodeFP(o oop.Oop) int    { return int(o.SmiValue()) - 1 }
func isBaseFPMarker(o oop.Oop) bool { return o == baseFPMarker }

// frameSavedIP reads the BCI the caller was at when it made this call
// (interpreter.cc: FrameSavedIP). Our ip is already a plain BCI
// integer rather than a raw bytecode pointer, so unlike the original
// there is no GC-unsafe-pointer swap dance around this slot: it always
// holds a plain Smi BCI and is always safely scannable (see DESIGN.md).
func (in *Interp) frameSavedIP(fp int) int { return int(in.stack[fp+1].SmiValue()) }

// frameSavedFP reads the caller's frame pointer, or reports it as the
// base-frame marker.
func (in *Interp) frameSavedFP(fp int) oop.Oop { return in.stack[fp+0] }

func (in *Interp) frameFlags(fp int) oop.Oop    { return in.stack[fp-1] }
func (in *Interp) frameMethod(fp int) oop.Oop   { return in.stack[fp-2] }
func (in *Interp) frameActivation(fp int) oop.Oop { return in.stack[fp-3] }
func (in *Interp) frameActivationPut(fp int, a oop.Oop) { in.stack[fp-3] = a }
func (in *Interp) frameReceiver(fp int) oop.Oop { return in.stack[fp-4] }

// frameTemp reads declared argument or local index (interpreter.cc:
// FrameTemp). Negative indices are a deliberate trick some callers
// exploit: index -1 always satisfies index < numArgs, landing on
// fp[1+numArgs-(-1)] = fp[2+numArgs], the message receiver/closure slot
// one word above the arguments -- used by NonLocalReturn and
// EnsureActivation to recover the closure without a dedicated slot.
func (in *Interp) frameTemp(fp int, index int) oop.Oop {
	numArgs := flagsNumArgs(in.frameFlags(fp))
	if index < numArgs {
		return in.stack[fp+1+numArgs-index]
	}
	return in.stack[fp-5-(index-numArgs)]
}

func (in *Interp) frameTempPut(fp int, index int, value oop.Oop) {
	numArgs := flagsNumArgs(in.frameFlags(fp))
	if index < numArgs {
		in.fatal("assignment to parameter")
		return
	}
	in.stack[fp-5-(index-numArgs)] = value
}

// frameSavedSP is the sp the caller had just before making this call
// (interpreter.cc: FrameSavedSP).
func (in *Interp) frameSavedSP(fp int) int {
	numArgs := flagsNumArgs(in.frameFlags(fp))
	return fp + 3 + numArgs
}

// frameNumLocals counts the temporaries pushed below the declared
// quad, given the current sp (interpreter.cc: FrameNumLocals).
func frameNumLocals(fp, sp int) int { return (fp - 4) - sp }

// frameBaseSender reinterprets the saved-IP slot of a base frame as the
// Activation its caller returns into, valid only when frameSavedFP
// reports the base-frame marker.
func (in *Interp) frameBaseSender(fp int) oop.Oop { return in.stack[fp+1] }
func (in *Interp) frameBaseSenderPut(fp int, a oop.Oop) { in.stack[fp+1] = a }
