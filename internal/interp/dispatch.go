package interp

import (
	"soupvm/internal/objects"
	"soupvm/internal/oop"
)

// Bytecode layout (spec §4.4.2), mirroring interpreter.cc's switch in
// shape: a dense low range of single-byte, no-operand pushes/stores,
// a quick-send range that either inlines a SmallInteger fast path or
// falls back to CommonSend, an ordinary/implicit-receiver send range
// encoding both the selector-literal index and argument count in the
// opcode itself, and a high "extended" range whose operand width is
// widened by the extA/extB prefix bytes.
const (
	bcPushTempMin   = 0   // 0-15: push temporary 0-15
	bcPushTempMax   = 15
	bcPushLitMin    = 16 // 16-31: push literal 0-15
	bcPushLitMax    = 31
	bcPushLitVarMin = 32 // 32-63: push literal variable 0-31
	bcPushLitVarMax = 63

	bcPushReceiver   = 64
	bcPushTrue       = 65
	bcPushFalse      = 66
	bcPushNil        = 67
	bcPushMinusOne   = 68
	bcPushZero       = 69
	bcPushOne        = 70
	bcPushTwo        = 71
	bcDup            = 72
	bcPop            = 73
	bcPushClosure    = 253
	bcOuterSendByte  = 254

	// Quick sends: inline SmallInteger fast paths, falling back to
	// CommonSend(offset) when either operand isn't a Smi.
	bcAdd        = 80
	bcSub        = 81
	bcLess       = 82
	bcGreater    = 83
	bcLessEq     = 84
	bcGreaterEq  = 85
	bcEq         = 86
	bcNotEq      = 87 // unconditional CommonSend (no inline fast path)
	bcMul        = 88 // unconditional CommonSend
	bcDiv        = 89 // unconditional CommonSend
	bcMod        = 90 // unconditional CommonSend (\\)
	bcAt         = 91
	bcAtPut      = 92
	bcSize       = 93
	bcBitAnd     = 94
	bcBitOr      = 95
	bcAtPoint    = 96 // unconditional CommonSend (@)
	bcBitShift   = 97 // unconditional CommonSend
	bcIntDiv     = 98 // unconditional CommonSend (//)
	bcCommonMin  = 99
	bcCommonMax  = 111

	bcOrdinarySendMin = 112
	bcOrdinarySendMax = 159
	bcImplicitMin     = 160
	bcImplicitMax     = 175

	bcPopIntoTempMin = 184
	bcPopIntoTempMax = 191

	bcMethodReturnReceiver = 216
	bcLocalReturnTop       = 217
	bcReturnTrue           = 218
	bcReturnFalse          = 219
	bcReturnNil            = 220

	bcExtA = 224
	bcExtB = 225

	bcPushTempExt      = 227
	bcPushLitExt       = 228
	bcPushLitVarExt    = 229
	bcStoreTempExt     = 230
	bcPopIntoTempExt   = 231
	bcPushInstVarExt   = 232
	bcStoreInstVarExt  = 233
	bcPopIntoInstVarExt = 234
	bcPushNewArray     = 235
	bcPushNewArrayWith = 236
	bcPushEnclosing    = 237

	bcSendExt      = 238
	bcSuperSendExt = 240
	bcSelfSendExt  = 241
	bcLexSendExt   = 245 // reserved; traps fatal (resolved purely at compile time upstream)

	bcJump       = 242
	bcJumpIfTrue = 243
	bcJumpIfFalse = 244

	bcPushRemoteTemp  = 250
	bcStoreRemoteTemp = 251
	bcPopRemoteTemp   = 252
)

// quickSendOffset maps a quick-send opcode to its CommonSelectors
// table offset (spec §4.4.2), used both by the inline fast paths (as
// the fallback) and by the unconditional-CommonSend opcodes.
func quickSendOffset(b byte) int { return int(b) - bcAdd }

// nextExtended folds in any pending extA/extB prefix accumulated by
// the caller, the same way interpreter.cc widens a byte operand by the
// prefix bytes seen since the last non-prefix bytecode, then clears
// the accumulators (they apply to exactly one following bytecode).
func (in *Interp) nextExtended(operand byte) int {
	v := int64(operand) + (in.extA << 8) + (in.extB << 8)
	in.extA, in.extB = 0, 0
	return int(v)
}

// Run drives the fetch-decode-execute loop until an exitSignal escapes
// it (interpreter.cc Interpret, wrapped in Go's panic/recover in place
// of setjmp/longjmp; see exitSignal's doc comment in activate.go).
func (in *Interp) Run() (reason string) {
	defer func() {
		if r := recover(); r != nil {
			if sig, ok := r.(exitSignal); ok {
				reason = sig.Reason
				return
			}
			panic(r)
		}
	}()

	for {
		in.dispatchOne()
	}
}

func (in *Interp) dispatchOne() {
	b := in.fetchByte()

	switch {
	case b >= bcPushTempMin && b <= bcPushTempMax:
		in.push(in.frameTemp(in.fp, int(b-bcPushTempMin)))
		return
	case b >= bcPushLitMin && b <= bcPushLitMax:
		in.push(in.methodLiterals(in.frameMethod(in.fp))[b-bcPushLitMin])
		return
	case b >= bcPushLitVarMin && b <= bcPushLitVarMax:
		in.pushLiteralVariable(int(b - bcPushLitVarMin))
		return
	case b >= bcCommonMin && b <= bcCommonMax:
		in.commonSend(int(b - bcCommonMin) + (bcCommonMin - bcAdd))
		return
	case b >= bcOrdinarySendMin && b <= bcOrdinarySendMax:
		in.decodeOrdinarySend(int(b - bcOrdinarySendMin))
		return
	case b >= bcImplicitMin && b <= bcImplicitMax:
		in.decodeImplicitSend(int(b - bcImplicitMin))
		return
	case b >= bcPopIntoTempMin && b <= bcPopIntoTempMax:
		in.frameTempPut(in.fp, int(b-bcPopIntoTempMin), in.pop())
		return
	}

	switch b {
	case bcPushReceiver:
		in.push(in.frameReceiver(in.fp))
	case bcPushTrue:
		in.push(in.Store.True)
	case bcPushFalse:
		in.push(in.Store.False)
	case bcPushNil:
		in.push(in.Store.Nil)
	case bcPushMinusOne:
		in.push(oop.MakeSmi(-1))
	case bcPushZero:
		in.push(oop.MakeSmi(0))
	case bcPushOne:
		in.push(oop.MakeSmi(1))
	case bcPushTwo:
		in.push(oop.MakeSmi(2))
	case bcDup:
		in.push(in.stackAt(0))
	case bcPop:
		in.pop()

	case bcAdd, bcSub, bcLess, bcGreater, bcLessEq, bcGreaterEq, bcEq, bcBitAnd, bcBitOr:
		in.inlineSmiOp(b)
	case bcAt:
		in.inlineAt()
	case bcAtPut:
		in.inlineAtPut()
	case bcSize:
		in.inlineSize()
	case bcNotEq, bcMul, bcDiv, bcMod, bcAtPoint, bcBitShift, bcIntDiv:
		in.commonSend(quickSendOffset(b))

	case bcMethodReturnReceiver:
		in.methodReturn(in.frameReceiver(in.fp))
	case bcLocalReturnTop:
		in.localReturn(in.pop())
	case bcReturnTrue:
		in.methodReturn(in.Store.True)
	case bcReturnFalse:
		in.methodReturn(in.Store.False)
	case bcReturnNil:
		in.methodReturn(in.Store.Nil)

	case bcExtA:
		in.extA = (in.extA << 8) + int64(in.fetchByte())
	case bcExtB:
		raw := in.fetchByte()
		// extB's operand is a signed byte: it widens negative
		// immediates (branch offsets, small negative literals)
		// rather than only ever widening upward.
		in.extB = (in.extB << 8) + int64(int8(raw))

	case bcPushTempExt:
		in.push(in.frameTemp(in.fp, in.nextExtended(in.fetchByte())))
	case bcPushLitExt:
		in.push(in.methodLiterals(in.frameMethod(in.fp))[in.nextExtended(in.fetchByte())])
	case bcPushLitVarExt:
		in.pushLiteralVariable(in.nextExtended(in.fetchByte()))
	case bcStoreTempExt:
		in.frameTempPut(in.fp, in.nextExtended(in.fetchByte()), in.stackAt(0))
	case bcPopIntoTempExt:
		in.frameTempPut(in.fp, in.nextExtended(in.fetchByte()), in.pop())
	case bcPushInstVarExt:
		in.pushInstVar(in.nextExtended(in.fetchByte()))
	case bcStoreInstVarExt:
		in.storeInstVar(in.nextExtended(in.fetchByte()), in.stackAt(0))
	case bcPopIntoInstVarExt:
		in.storeInstVar(in.nextExtended(in.fetchByte()), in.pop())
	case bcPushNewArray:
		in.pushNewArray(in.nextExtended(in.fetchByte()))
	case bcPushNewArrayWith:
		in.pushNewArrayWithElements(in.nextExtended(in.fetchByte()))
	case bcPushEnclosing:
		in.pushEnclosingObject(in.nextExtended(in.fetchByte()))

	case bcSendExt:
		in.decodeExtendedSend(ordinaryKind)
	case bcSuperSendExt:
		in.decodeExtendedSend(superKind)
	case bcSelfSendExt:
		in.decodeExtendedSend(selfKind)

	case bcJump:
		in.ip += in.nextExtended(in.fetchByte())
	case bcJumpIfTrue:
		in.decodeConditionalJump(in.Store.True)
	case bcJumpIfFalse:
		in.decodeConditionalJump(in.Store.False)

	case bcPushRemoteTemp:
		outer := int(in.fetchByte())
		index := in.nextExtended(in.fetchByte())
		in.push(in.remoteTemp(outer, index))
	case bcStoreRemoteTemp:
		outer := int(in.fetchByte())
		index := in.nextExtended(in.fetchByte())
		in.storeRemoteTemp(outer, index, in.stackAt(0))
	case bcPopRemoteTemp:
		outer := int(in.fetchByte())
		index := in.nextExtended(in.fetchByte())
		in.storeRemoteTemp(outer, index, in.pop())

	case bcPushClosure:
		in.decodePushClosure()
	case bcOuterSendByte:
		depth := in.nextExtended(in.fetchByte())
		selIdx := int(in.fetchByte())
		na := int(in.fetchByte())
		in.outerSend(selIdx, na, depth)

	default:
		in.fatal("interp: unimplemented or reserved bytecode %d", b)
	}
}

// inlineSmiOp implements the SmallInteger+SmallInteger fast path spec
// §4.4.2 describes for +,-,<,>,<=,>=,=,bitAnd:,bitOr:, falling back to
// CommonSend whenever either operand isn't a Smi (interpreter.cc: each
// of these bytecodes open-codes the check rather than calling through
// Primitives::Invoke).
func (in *Interp) inlineSmiOp(b byte) {
	rhs := in.stackAt(0)
	lhs := in.stackAt(1)
	if !lhs.IsSmi() || !rhs.IsSmi() {
		in.commonSend(quickSendOffset(b))
		return
	}
	l, r := lhs.SmiValue(), rhs.SmiValue()
	var result oop.Oop
	switch b {
	case bcAdd:
		sum := l + r
		if !oop.IsSmiRange(sum) {
			in.commonSend(quickSendOffset(b))
			return
		}
		result = oop.MakeSmi(sum)
	case bcSub:
		diff := l - r
		if !oop.IsSmiRange(diff) {
			in.commonSend(quickSendOffset(b))
			return
		}
		result = oop.MakeSmi(diff)
	case bcLess:
		result = in.boolOop(l < r)
	case bcGreater:
		result = in.boolOop(l > r)
	case bcLessEq:
		result = in.boolOop(l <= r)
	case bcGreaterEq:
		result = in.boolOop(l >= r)
	case bcEq:
		result = in.boolOop(l == r)
	case bcBitAnd:
		result = oop.MakeSmi(l & r)
	case bcBitOr:
		result = oop.MakeSmi(l | r)
	default:
		in.fatal("interp: inlineSmiOp called with non-arithmetic opcode %d", b)
		return
	}
	in.popNAndPush(2, result)
}

func (in *Interp) boolOop(v bool) oop.Oop {
	if v {
		return in.Store.True
	}
	return in.Store.False
}

// inlineAt/inlineAtPut/inlineSize fast-path Array/ByteArray/String
// access the same way interpreter.cc's quick-send handlers do,
// falling back to a real #at:/#at:put:/#size send for any other
// receiver kind.
func (in *Interp) inlineAt() {
	index := in.stackAt(0)
	receiver := in.stackAt(1)
	if !index.IsSmi() {
		in.commonSend(quickSendOffset(bcAt))
		return
	}
	i := int(index.SmiValue()) - 1
	switch obj := in.Heap.Deref(receiver).(type) {
	case *objects.Array:
		if i < 0 || i >= len(obj.Elements) {
			in.commonSend(quickSendOffset(bcAt))
			return
		}
		in.popNAndPush(2, obj.Elements[i])
	case *objects.ByteArray:
		if i < 0 || i >= len(obj.Bytes) {
			in.commonSend(quickSendOffset(bcAt))
			return
		}
		in.popNAndPush(2, oop.MakeSmi(int64(obj.Bytes[i])))
	case *objects.String:
		if i < 0 || i >= len(obj.Bytes) {
			in.commonSend(quickSendOffset(bcAt))
			return
		}
		in.popNAndPush(2, oop.MakeSmi(int64(obj.Bytes[i])))
	default:
		in.commonSend(quickSendOffset(bcAt))
	}
}

func (in *Interp) inlineAtPut() {
	value := in.stackAt(0)
	index := in.stackAt(1)
	receiver := in.stackAt(2)
	if !index.IsSmi() {
		in.commonSend(quickSendOffset(bcAtPut))
		return
	}
	i := int(index.SmiValue()) - 1
	switch obj := in.Heap.Deref(receiver).(type) {
	case *objects.Array:
		if i < 0 || i >= len(obj.Elements) {
			in.commonSend(quickSendOffset(bcAtPut))
			return
		}
		obj.Elements[i] = value
		in.Heap.WriteBarrier(receiver, value)
		in.popNAndPush(3, value)
	case *objects.ByteArray:
		if i < 0 || i >= len(obj.Bytes) || !value.IsSmi() {
			in.commonSend(quickSendOffset(bcAtPut))
			return
		}
		obj.Bytes[i] = byte(value.SmiValue())
		in.popNAndPush(3, value)
	default:
		in.commonSend(quickSendOffset(bcAtPut))
	}
}

func (in *Interp) inlineSize() {
	receiver := in.stackAt(0)
	switch obj := in.Heap.Deref(receiver).(type) {
	case *objects.Array:
		in.popNAndPush(1, oop.MakeSmi(int64(len(obj.Elements))))
	case *objects.ByteArray:
		in.popNAndPush(1, oop.MakeSmi(int64(len(obj.Bytes))))
	case *objects.String:
		in.popNAndPush(1, oop.MakeSmi(int64(len(obj.Bytes))))
	default:
		in.commonSend(quickSendOffset(bcSize))
	}
}

// decodeOrdinarySend/decodeImplicitSend unpack the (selector-literal
// index, argument count) pair the inline 112-175 opcode range encodes
// directly in the opcode byte, 4 argument counts (0-3) per 16
// selectors (spec §4.4.2).
func (in *Interp) decodeOrdinarySend(packed int) {
	in.ordinarySend(packed>>2, packed&3)
}

func (in *Interp) decodeImplicitSend(packed int) {
	in.implicitReceiverSend(packed>>2, packed&3)
}

type sendKind int

const (
	ordinaryKind sendKind = iota
	superKind
	selfKind
)

// decodeExtendedSend reads an explicit (selector-literal-index,
// arg-count) byte pair for the sends whose operands don't fit the
// 64-opcode inline range (interpreter.cc's extended send forms).
func (in *Interp) decodeExtendedSend(kind sendKind) {
	selIdx := in.nextExtended(in.fetchByte())
	numArgs := int(in.fetchByte())
	switch kind {
	case ordinaryKind:
		in.ordinarySend(selIdx, numArgs)
	case superKind:
		in.superSend(selIdx, numArgs)
	case selfKind:
		in.selfSend(selIdx, numArgs)
	}
}

func (in *Interp) decodeConditionalJump(branchOn oop.Oop) {
	offset := in.nextExtended(in.fetchByte())
	top := in.pop()
	switch top {
	case branchOn:
		in.ip += offset
	case in.Store.True, in.Store.False:
		// the other boolean: fall through without branching
	default:
		in.push(top)
		in.sendNonBooleanReceiver(top)
	}
}

func (in *Interp) pushLiteralVariable(index int) {
	assoc := in.methodLiterals(in.frameMethod(in.fp))[index]
	v := in.Heap.Deref(assoc).Slots()[1]
	in.push(v)
}

func (in *Interp) pushInstVar(offset int) {
	receiver := in.frameReceiver(in.fp)
	in.push(in.Heap.Deref(receiver).Slots()[offset])
}

func (in *Interp) storeInstVar(offset int, value oop.Oop) {
	receiver := in.frameReceiver(in.fp)
	in.Heap.Store(receiver, offset, value, true)
}

func (in *Interp) pushNewArray(size int) {
	elems := make([]oop.Oop, size)
	for i := range elems {
		elems[i] = in.Heap.NilOop
	}
	arr := &objects.Array{Elements: elems}
	in.push(in.Heap.Allocate(oop.ClassIDArray, arr, 16+8*size))
}

func (in *Interp) pushNewArrayWithElements(size int) {
	elems := make([]oop.Oop, size)
	for i := size - 1; i >= 0; i-- {
		elems[i] = in.pop()
	}
	arr := &objects.Array{Elements: elems}
	in.push(in.Heap.Allocate(oop.ClassIDArray, arr, 16+8*size))
}

// pushEnclosingObject pushes the index-th outer lexical object,
// walking the receiver's mixin-application chain (interpreter.cc's
// PushOuter support for classes nested depth levels deep): each step
// takes the enclosing object of the current mixin's application on the
// current object's class, then moves to the mixin's enclosing mixin.
func (in *Interp) pushEnclosingObject(depth int) {
	enclosing := in.frameReceiver(in.fp)
	mixin := in.methodMixin(in.frameMethod(in.fp))
	for i := 0; i < depth; i++ {
		app := in.findApplicationOf(mixin, in.classOf(enclosing))
		enclosing = in.behaviorOf(app).Enclosing
		mixin = in.mixinOf(mixin).Enclosing
	}
	in.push(enclosing)
}

// remoteTemp/storeRemoteTemp read/write a temp belonging to an outer
// (non-innermost) closure frame, walking outer closure chains by
// following Closure.Home (interpreter.cc's PushOuterTemp family).
func (in *Interp) remoteTemp(outer, index int) oop.Oop {
	closureOop := in.frameTemp(in.fp, -1)
	for i := 0; i < outer; i++ {
		cl := in.Heap.Deref(closureOop).(*objects.Closure)
		home := in.Heap.Deref(cl.Home).(*objects.Activation)
		closureOop = home.Closure
	}
	cl := in.Heap.Deref(closureOop).(*objects.Closure)
	if index < len(cl.Copied) {
		return cl.Copied[index]
	}
	home := in.Heap.Deref(cl.Home).(*objects.Activation)
	return home.Temps[index-len(cl.Copied)]
}

func (in *Interp) storeRemoteTemp(outer, index int, value oop.Oop) {
	closureOop := in.frameTemp(in.fp, -1)
	for i := 0; i < outer; i++ {
		cl := in.Heap.Deref(closureOop).(*objects.Closure)
		home := in.Heap.Deref(cl.Home).(*objects.Activation)
		closureOop = home.Closure
	}
	cl := in.Heap.Deref(closureOop).(*objects.Closure)
	if index < len(cl.Copied) {
		cl.Copied[index] = value
		in.Heap.WriteBarrier(closureOop, value)
		return
	}
	home := in.Heap.Deref(cl.Home).(*objects.Activation)
	home.Temps[index-len(cl.Copied)] = value
}

// decodePushClosure reads the closure literal descriptor (numArgs,
// numCopied, initial BCI) and captures numCopied values off the stack
// into a fresh Closure whose home is the current activation
// (interpreter.cc PushClosure).
func (in *Interp) decodePushClosure() {
	numArgs := int(in.fetchByte())
	numCopied := int(in.fetchByte())
	bciHi := int(in.fetchByte())
	bciLo := int(in.fetchByte())
	initialBCI := bciHi<<8 | bciLo

	copied := make([]oop.Oop, numCopied)
	for i := numCopied - 1; i >= 0; i-- {
		copied[i] = in.pop()
	}

	cl := &objects.Closure{
		Home:       in.currentActivation(),
		InitialBCI: int32(initialBCI),
		NumArgs:    int32(numArgs),
		Copied:     copied,
	}
	o := in.Heap.Allocate(oop.ClassIDClosure, cl, 16+8*(2+numCopied))
	in.push(o)
}
