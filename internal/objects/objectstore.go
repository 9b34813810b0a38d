package objects

import "soupvm/internal/oop"

// ObjectStore is the root record reached from the deserializer (spec
// §3.4, §4.2): nil/false/true, the message-loop receiver, the
// common-selector table, canned selectors used by VM-synthesized sends,
// and the built-in class objects by kind.
type ObjectStore struct {
	Base

	Nil   oop.Oop
	False oop.Oop
	True  oop.Oop

	MessageLoop oop.Oop

	// CommonSelectors backs the quick-send fast path of spec §4.4.2: a
	// fixed Array of selector Oops the decoder indexes directly instead
	// of doing a literal lookup per quick send.
	CommonSelectors oop.Oop

	// Canned selectors used by VM-synthesized sends (spec §3.4, §7).
	DoesNotUnderstand       oop.Oop
	CannotReturn            oop.Oop
	AboutToReturnThrough    oop.Oop
	NonBooleanReceiver      oop.Oop
	DispatchMessage         oop.Oop
	DispatchSignal          oop.Oop

	// ClassesByKind maps a builtin oop.ClassID to its Class object, so
	// the heap and deserializer can bind a fixed class id to a real
	// class without walking the generic class table (spec §4.2's
	// "registers well-known classes by fixed class-id").
	ClassesByKind map[oop.ClassID]oop.Oop
}

func (s *ObjectStore) Slots() []oop.Oop {
	out := []oop.Oop{
		s.Nil, s.False, s.True, s.MessageLoop, s.CommonSelectors,
		s.DoesNotUnderstand, s.CannotReturn, s.AboutToReturnThrough,
		s.NonBooleanReceiver, s.DispatchMessage, s.DispatchSignal,
	}
	for _, cid := range builtinKindOrder {
		out = append(out, s.ClassesByKind[cid])
	}
	return out
}

// builtinKindOrder fixes a stable iteration order over ClassesByKind so
// Slots()/SetSlot() agree on positional indices.
var builtinKindOrder = []oop.ClassID{
	oop.ClassIDSmallInteger, oop.ClassIDMediumInteger, oop.ClassIDLargeInteger,
	oop.ClassIDFloat, oop.ClassIDByteArray, oop.ClassIDString, oop.ClassIDArray,
	oop.ClassIDWeakArray, oop.ClassIDEphemeron, oop.ClassIDActivation,
	oop.ClassIDClosure,
}

func (s *ObjectStore) SetSlot(i int, v oop.Oop) {
	switch i {
	case 0:
		s.Nil = v
	case 1:
		s.False = v
	case 2:
		s.True = v
	case 3:
		s.MessageLoop = v
	case 4:
		s.CommonSelectors = v
	case 5:
		s.DoesNotUnderstand = v
	case 6:
		s.CannotReturn = v
	case 7:
		s.AboutToReturnThrough = v
	case 8:
		s.NonBooleanReceiver = v
	case 9:
		s.DispatchMessage = v
	case 10:
		s.DispatchSignal = v
	default:
		idx := i - 11
		if idx < 0 || idx >= len(builtinKindOrder) {
			panic("objects: ObjectStore slot out of range")
		}
		if s.ClassesByKind == nil {
			s.ClassesByKind = make(map[oop.ClassID]oop.Oop)
		}
		s.ClassesByKind[builtinKindOrder[idx]] = v
	}
}
