package cpool

import "sync/atomic"

// tempResolvedKlassIndex marks an unresolved class entry that has not been
// given a resolved-klasses slot yet.
const tempResolvedKlassIndex = 0xFFFF

type klassRef struct{ k Klass }

// klassCell holds one resolved class. It is nil until resolution publishes
// a value, and only archiving clears it again.
type klassCell struct {
	p atomic.Pointer[klassRef]
}

func (c *klassCell) load() Klass {
	if r := c.p.Load(); r != nil {
		return r.k
	}
	return nil
}

func (c *klassCell) store(k Klass) {
	if k == nil {
		c.p.Store(nil)
		return
	}
	c.p.Store(&klassRef{k: k})
}

// publish stores k unless another klass is already there, and returns the
// klass the cell holds afterwards.
func (c *klassCell) publish(k Klass) Klass {
	r := &klassRef{k: k}
	for {
		if c.p.CompareAndSwap(nil, r) {
			return k
		}
		if cur := c.p.Load(); cur != nil {
			return cur.k
		}
	}
}

// KlassSlot is the payload of a class entry.
type KlassSlot struct {
	NameIndex          int
	ResolvedKlassIndex int
}

// KlassSlotAt returns the slot of a Class or UnresolvedClass entry.
func (cp *ConstantPool) KlassSlotAt(i int) KlassSlot {
	t := cp.TagAt(i)
	cp.mustTag(i, t.IsKlass() || t.IsUnresolvedKlass(), "Class")
	bits := cp.bitsAt(i)
	return KlassSlot{NameIndex: low(bits), ResolvedKlassIndex: high(bits)}
}

// ResolvedKlassesLength returns the size of the resolved klasses table.
func (cp *ConstantPool) ResolvedKlassesLength() int {
	return len(cp.klasses)
}

// AllocateResolvedKlasses sizes the resolved klasses table.
func (cp *ConstantPool) AllocateResolvedKlasses(n int) {
	if cp.klasses != nil {
		panic("resolved klasses already allocated")
	}
	if n >= tempResolvedKlassIndex {
		panic("too many class entries")
	}
	cp.klasses = make([]klassCell, n)
}

// InitializeUnresolvedKlasses converts the parse-time ClassIndex and
// StringIndex entries into their run-time forms and allocates one resolved
// klasses slot per class entry.
func (cp *ConstantPool) InitializeUnresolvedKlasses() {
	n := 0
	cp.Each(func(i int, t Tag) {
		switch t {
		case TagClassIndex:
			cp.UnresolvedKlassAtPut(i, cp.KlassIndexAt(i), n)
			n++
		case TagStringIndex:
			cp.UnresolvedStringAtPut(i, cp.SymbolAt(cp.StringIndexAt(i)))
		case TagClass, TagUnresolvedClass, TagUnresolvedClassInError:
			panic("class entries must be in ClassIndex form before initialization")
		}
	})
	cp.AllocateResolvedKlasses(n)
}

// ResolvedKlassAt returns the class published for entry i, or nil.
func (cp *ConstantPool) ResolvedKlassAt(i int) Klass {
	return cp.klasses[cp.KlassSlotAt(i).ResolvedKlassIndex].load()
}

// KlassAtPut installs an already-known class into entry i.
func (cp *ConstantPool) KlassAtPut(i int, k Klass) {
	if k == nil {
		panic("KlassAtPut: nil klass")
	}
	cp.klasses[cp.KlassSlotAt(i).ResolvedKlassIndex].store(k)
	cp.TagAtPut(i, TagClass)
}
