package cpool

import "sync/atomic"

type objRef struct{ o Object }

// References is the resolved references table: heap objects produced by
// resolving strings, method handles, method types, dynamic constants and
// invokedynamic call sites. Each slot is written at most once.
type References struct {
	slots []atomic.Pointer[objRef]
}

// NewReferences allocates an empty table of n slots.
func NewReferences(n int) *References {
	return &References{slots: make([]atomic.Pointer[objRef], n)}
}

// Len returns the number of slots.
func (r *References) Len() int {
	return len(r.slots)
}

// At returns the object in slot i, nil when unresolved. A dynamic constant
// that resolved to null reads as NullSentinel.
func (r *References) At(i int) Object {
	if p := r.slots[i].Load(); p != nil {
		return p.o
	}
	return nil
}

// ReplaceIfNull installs o in slot i if the slot is empty. It returns nil
// when o was installed and the existing object otherwise; the caller then
// discards o and uses the returned value.
func (r *References) ReplaceIfNull(i int, o Object) Object {
	if o == nil {
		panic("ReplaceIfNull: nil object, use NullSentinel")
	}
	if r.slots[i].CompareAndSwap(nil, &objRef{o: o}) {
		return nil
	}
	return r.slots[i].Load().o
}

// Objects copies the current contents of the table.
func (r *References) Objects() []Object {
	objs := make([]Object, len(r.slots))
	for i := range r.slots {
		objs[i] = r.At(i)
	}
	return objs
}

func referencesFrom(objs []Object) *References {
	r := NewReferences(len(objs))
	for i, o := range objs {
		if o != nil {
			r.slots[i].Store(&objRef{o: o})
		}
	}
	return r
}

// ResolvedReferences returns the pool's resolved references, or nil when the
// pool has not been rewritten or has been archived.
func (cp *ConstantPool) ResolvedReferences() *References {
	if cp.cache == nil {
		return nil
	}
	return cp.cache.references.Load()
}

// ResolvedReferenceAt returns slot objIndex of the resolved references.
func (cp *ConstantPool) ResolvedReferenceAt(objIndex int) Object {
	return cp.ResolvedReferences().At(objIndex)
}

// CPToObjectIndex returns the resolved-references slot of pool entry i, or
// -1 when it has none.
func (cp *ConstantPool) CPToObjectIndex(i int) int {
	if cp.cache == nil {
		return -1
	}
	if obj, ok := cp.cache.objectIndex[i]; ok {
		return obj
	}
	return -1
}

// ObjectToCPIndex returns the pool entry cached in slot objIndex.
func (cp *ConstantPool) ObjectToCPIndex(objIndex int) int {
	return int(cp.cache.referenceMap[objIndex])
}
