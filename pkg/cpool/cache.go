package cpool

import (
	"fmt"
	"sync/atomic"

	"github.com/daimatz/gocpool/pkg/bytecode"
)

// FieldEntry caches the resolution of one Fieldref.
type FieldEntry struct {
	CPIndex int
	holder  klassCell
}

// IsResolved reports whether the field's class has been linked.
func (e *FieldEntry) IsResolved() bool { return e.holder.load() != nil }

// Holder returns the resolved class of the field, or nil.
func (e *FieldEntry) Holder() Klass { return e.holder.load() }

// MethodEntry caches the resolution of one Methodref or
// InterfaceMethodref.
type MethodEntry struct {
	CPIndex int
	holder  klassCell
}

// IsResolved reports whether the method's class has been linked.
func (e *MethodEntry) IsResolved() bool { return e.holder.load() != nil }

// Holder returns the resolved class of the method, or nil.
func (e *MethodEntry) Holder() Klass { return e.holder.load() }

const (
	indyUnresolved uint32 = iota
	indyResolved
	indyFailed
)

// IndyEntry caches the resolution of one invokedynamic call site. The call
// site object lives in the resolved references at ReferencesIndex.
type IndyEntry struct {
	CPIndex         int
	ReferencesIndex int
	state           atomic.Uint32
}

// IsResolved reports whether the call site has been bound.
func (e *IndyEntry) IsResolved() bool { return e.state.Load() == indyResolved }

// ResolutionFailed reports whether binding the call site failed.
func (e *IndyEntry) ResolutionFailed() bool { return e.state.Load() == indyFailed }

// Cache is the per-pool resolution cache built when the class is rewritten.
type Cache struct {
	references   atomic.Pointer[References]
	referenceMap []uint16
	objectIndex  map[int]int
	fields       []FieldEntry
	methods      []MethodEntry
	indys        []IndyEntry
	fieldIndex   map[int]int
	methodIndex  map[int]int
}

func newCache(referenceMap []uint16) *Cache {
	c := &Cache{
		referenceMap: referenceMap,
		objectIndex:  make(map[int]int, len(referenceMap)),
		fieldIndex:   make(map[int]int),
		methodIndex:  make(map[int]int),
	}
	for obj, i := range referenceMap {
		c.objectIndex[int(i)] = obj
	}
	return c
}

// Rewrite builds the pool's cache. Every String, MethodHandle, MethodType and
// Dynamic entry gets a resolved-references slot, every field and method
// reference a cache entry, and each invokedynamic call site listed in
// indySites (by pool index, one per instruction) an indy entry whose call
// site is appended after the mapped slots.
func (cp *ConstantPool) Rewrite(indySites []int) *Cache {
	var refMap []uint16
	cp.Each(func(i int, t Tag) {
		switch t.NonErrorValue() {
		case TagString, TagMethodHandle, TagMethodType, TagDynamic:
			refMap = append(refMap, uint16(i))
		}
	})
	c := newCache(refMap)
	cp.Each(func(i int, t Tag) {
		switch {
		case t == TagFieldref:
			c.fieldIndex[i] = len(c.fields)
			c.fields = append(c.fields, FieldEntry{CPIndex: i})
		case t.IsFieldOrMethod():
			c.methodIndex[i] = len(c.methods)
			c.methods = append(c.methods, MethodEntry{CPIndex: i})
		}
	})
	c.indys = make([]IndyEntry, len(indySites))
	for n, site := range indySites {
		cp.mustTag(site, cp.TagAt(site).IsInvokeDynamic(), "InvokeDynamic")
		c.indys[n].CPIndex = site
		c.indys[n].ReferencesIndex = len(refMap) + n
	}
	c.references.Store(NewReferences(len(refMap) + len(indySites)))
	cp.cache = c
	return c
}

// FieldIndexOf returns the rewritten index of Fieldref i.
func (c *Cache) FieldIndexOf(i int) (int, bool) {
	n, ok := c.fieldIndex[i]
	return n, ok
}

// MethodIndexOf returns the rewritten index of Methodref or
// InterfaceMethodref i.
func (c *Cache) MethodIndexOf(i int) (int, bool) {
	n, ok := c.methodIndex[i]
	return n, ok
}

// FieldEntryAt returns field entry n.
func (c *Cache) FieldEntryAt(n int) *FieldEntry { return &c.fields[n] }

// MethodEntryAt returns method entry n.
func (c *Cache) MethodEntryAt(n int) *MethodEntry { return &c.methods[n] }

// IndyEntryAt returns indy entry n.
func (c *Cache) IndyEntryAt(n int) *IndyEntry { return &c.indys[n] }

// FieldEntriesLength returns the number of field entries.
func (c *Cache) FieldEntriesLength() int { return len(c.fields) }

// MethodEntriesLength returns the number of method entries.
func (c *Cache) MethodEntriesLength() int { return len(c.methods) }

// IndyEntriesLength returns the number of indy entries.
func (c *Cache) IndyEntriesLength() int { return len(c.indys) }

// ReferenceMapLength returns the number of pool entries with a
// resolved-references slot.
func (c *Cache) ReferenceMapLength() int { return len(c.referenceMap) }

// ToCPIndex translates the rewritten operand index of an instruction back
// to a pool index.
func (c *Cache) ToCPIndex(index int, op bytecode.Opcode) (int, error) {
	switch bytecode.FamilyOf(op) {
	case bytecode.FamilyInvokedynamic:
		if index < 0 || index >= len(c.indys) {
			return 0, fmt.Errorf("%w: indy index %d", ErrBadIndex, index)
		}
		return c.indys[index].CPIndex, nil
	case bytecode.FamilyField:
		if index < 0 || index >= len(c.fields) {
			return 0, fmt.Errorf("%w: field index %d", ErrBadIndex, index)
		}
		return c.fields[index].CPIndex, nil
	case bytecode.FamilyInvoke:
		if index < 0 || index >= len(c.methods) {
			return 0, fmt.Errorf("%w: method index %d", ErrBadIndex, index)
		}
		return c.methods[index].CPIndex, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrUnexpectedBytecode, op)
}

// IsResolved reports whether the cache entry an instruction refers to has
// been resolved.
func (c *Cache) IsResolved(index int, op bytecode.Opcode) (bool, error) {
	if _, err := c.ToCPIndex(index, op); err != nil {
		return false, err
	}
	switch bytecode.FamilyOf(op) {
	case bytecode.FamilyInvokedynamic:
		return c.indys[index].IsResolved(), nil
	case bytecode.FamilyField:
		return c.fields[index].IsResolved(), nil
	}
	return c.methods[index].IsResolved(), nil
}

func (cp *ConstantPool) toCPIndex(index int, op bytecode.Opcode) (int, error) {
	if cp.cache == nil {
		return 0, ErrNoCache
	}
	return cp.cache.ToCPIndex(index, op)
}

// NameAndTypeRefIndexAt returns the NameAndType of the entry an instruction
// refers to by rewritten index.
func (cp *ConstantPool) NameAndTypeRefIndexAt(index int, op bytecode.Opcode) (int, error) {
	i, err := cp.toCPIndex(index, op)
	if err != nil {
		return 0, err
	}
	return cp.UncachedNameAndTypeRefIndexAt(i), nil
}

// KlassRefIndexAt returns the class index of the member an instruction
// refers to by rewritten index.
func (cp *ConstantPool) KlassRefIndexAt(index int, op bytecode.Opcode) (int, error) {
	if bytecode.FamilyOf(op) == bytecode.FamilyInvokedynamic {
		return 0, fmt.Errorf("%w: an invokedynamic instruction does not have a klass", ErrUnexpectedBytecode)
	}
	i, err := cp.toCPIndex(index, op)
	if err != nil {
		return 0, err
	}
	return cp.UncachedKlassRefIndexAt(i), nil
}

// TagRefAt returns the tag of the entry an instruction refers to by
// rewritten index.
func (cp *ConstantPool) TagRefAt(index int, op bytecode.Opcode) (Tag, error) {
	i, err := cp.toCPIndex(index, op)
	if err != nil {
		return TagInvalid, err
	}
	return cp.TagAt(i), nil
}

// KlassRefAt resolves the class of the member an instruction refers to by
// rewritten index and records it in the cache entry.
func (cp *ConstantPool) KlassRefAt(index int, op bytecode.Opcode) (Klass, error) {
	ki, err := cp.KlassRefIndexAt(index, op)
	if err != nil {
		return nil, err
	}
	k, err := cp.KlassAt(ki)
	if err != nil {
		return nil, err
	}
	if bytecode.FamilyOf(op) == bytecode.FamilyField {
		cp.cache.fields[index].holder.store(k)
	} else {
		cp.cache.methods[index].holder.store(k)
	}
	return k, nil
}

// ResolveMemberRefAt resolves the class of the Fieldref, Methodref or
// InterfaceMethodref at pool index i.
func (cp *ConstantPool) ResolveMemberRefAt(i int) (Klass, error) {
	k, err := cp.KlassAt(cp.UncachedKlassRefIndexAt(i))
	if err != nil {
		return nil, err
	}
	if cp.cache != nil {
		if n, ok := cp.cache.fieldIndex[i]; ok {
			cp.cache.fields[n].holder.store(k)
		} else if n, ok := cp.cache.methodIndex[i]; ok {
			cp.cache.methods[n].holder.store(k)
		}
	}
	return k, nil
}

// HasAppendixAtIfLoaded reports whether an invokedynamic call site has been
// bound to a call site object. Other instructions carry no appendix.
func (cp *ConstantPool) HasAppendixAtIfLoaded(index int, op bytecode.Opcode) bool {
	if cp.cache == nil || bytecode.FamilyOf(op) != bytecode.FamilyInvokedynamic {
		return false
	}
	return index >= 0 && index < len(cp.cache.indys) && cp.cache.indys[index].IsResolved()
}

// AppendixAtIfLoaded returns the bound call site of an invokedynamic
// instruction, or nil.
func (cp *ConstantPool) AppendixAtIfLoaded(index int, op bytecode.Opcode) Object {
	if !cp.HasAppendixAtIfLoaded(index, op) {
		return nil
	}
	refs := cp.ResolvedReferences()
	if refs == nil {
		return nil
	}
	return refs.At(cp.cache.indys[index].ReferencesIndex)
}

// removeUnshareableInfo forgets per-run resolution state.
func (c *Cache) removeUnshareableInfo() {
	for i := range c.fields {
		c.fields[i].holder.store(nil)
	}
	for i := range c.methods {
		c.methods[i].holder.store(nil)
	}
	for i := range c.indys {
		c.indys[i].state.Store(indyUnresolved)
	}
}

// copyStructure duplicates the cache layout without any resolution state.
func (c *Cache) copyStructure() *Cache {
	d := newCache(append([]uint16(nil), c.referenceMap...))
	d.fields = make([]FieldEntry, len(c.fields))
	for i := range c.fields {
		d.fields[i].CPIndex = c.fields[i].CPIndex
		d.fieldIndex[c.fields[i].CPIndex] = i
	}
	d.methods = make([]MethodEntry, len(c.methods))
	for i := range c.methods {
		d.methods[i].CPIndex = c.methods[i].CPIndex
		d.methodIndex[c.methods[i].CPIndex] = i
	}
	d.indys = make([]IndyEntry, len(c.indys))
	for i := range c.indys {
		d.indys[i].CPIndex = c.indys[i].CPIndex
		d.indys[i].ReferencesIndex = c.indys[i].ReferencesIndex
	}
	return d
}
