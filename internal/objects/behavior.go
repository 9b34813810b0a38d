package objects

import "soupvm/internal/oop"

// Behavior is the shared shape of Class and Metaclass: superclass,
// methods (an Array), mixin, enclosing object, class id, format (number
// of instance slots), and name (spec §3.4).
type Behavior struct {
	Base
	Superclass oop.Oop
	Methods    oop.Oop // Array of Method
	Mixin      oop.Oop
	Enclosing  oop.Oop
	ClassID    oop.ClassID
	Format     int32
	Name       oop.Oop
}

func (b *Behavior) Slots() []oop.Oop {
	return []oop.Oop{b.Superclass, b.Methods, b.Mixin, b.Enclosing, b.Name}
}
func (b *Behavior) SetSlot(i int, v oop.Oop) {
	switch i {
	case 0:
		b.Superclass = v
	case 1:
		b.Methods = v
	case 2:
		b.Mixin = v
	case 3:
		b.Enclosing = v
	case 4:
		b.Name = v
	default:
		panic("objects: Behavior has 5 slots")
	}
}

// Class additionally holds its (weakly held) subclasses (spec §3.4).
type Class struct {
	Behavior
	Subclasses oop.Oop // WeakArray
}

func (c *Class) Slots() []oop.Oop {
	return append(c.Behavior.Slots(), c.Subclasses)
}
func (c *Class) SetSlot(i int, v oop.Oop) {
	if i == 5 {
		c.Subclasses = v
		return
	}
	c.Behavior.SetSlot(i, v)
}

// Metaclass has no fields beyond Behavior (spec §3.4).
type Metaclass struct {
	Behavior
}

// AbstractMixin is a reusable bundle of methods plus the enclosing mixin
// chain used by outer/implicit-receiver lookup (spec §3.4, Glossary).
type AbstractMixin struct {
	Base
	Name      oop.Oop
	Methods   oop.Oop // Array of Method
	Enclosing oop.Oop // enclosing AbstractMixin, or nil
}

func (m *AbstractMixin) Slots() []oop.Oop { return []oop.Oop{m.Name, m.Methods, m.Enclosing} }
func (m *AbstractMixin) SetSlot(i int, v oop.Oop) {
	switch i {
	case 0:
		m.Name = v
	case 1:
		m.Methods = v
	case 2:
		m.Enclosing = v
	default:
		panic("objects: AbstractMixin has 3 slots")
	}
}
