package cpool

// SetOnStack marks whether some running frame still uses the pool. Shared
// pools stay on stack for good, so clearing the mark is ignored for them.
func (cp *ConstantPool) SetOnStack(value bool) {
	if value {
		cp.setFlag(flagOnStack)
		return
	}
	if cp.IsShared() {
		return
	}
	cp.clearFlag(flagOnStack)
}

// OnStack reports whether the pool is pinned by a running frame.
func (cp *ConstantPool) OnStack() bool {
	return cp.flags.Load()&flagOnStack != 0
}

// IsShared reports whether the pool came from an archive.
func (cp *ConstantPool) IsShared() bool {
	return cp.flags.Load()&flagShared != 0
}

// UnreferenceSymbols drops the references the Utf8 entries hold.
func (cp *ConstantPool) UnreferenceSymbols() {
	cp.Each(func(i int, t Tag) {
		if t.IsSymbol() {
			if s := cp.slots[i].sym.Swap(nil); s != nil {
				s.DecrementRefcount()
			}
		}
	})
}

// Release frees everything the pool owns: symbol references, recorded
// resolution errors and the side tables. A pool still on stack cannot be
// released.
func (cp *ConstantPool) Release() error {
	if cp.OnStack() {
		return ErrOnStack
	}
	if cp.tags == nil {
		return nil
	}
	cp.UnreferenceSymbols()
	if cp.rt != nil && cp.rt.Errors != nil {
		cp.rt.Errors.DeletePool(cp)
	}
	cp.tags = nil
	cp.slots = nil
	cp.operands = nil
	cp.klasses = nil
	cp.cache = nil
	cp.archivedReferences = nil
	return nil
}

// Released reports whether Release has run.
func (cp *ConstantPool) Released() bool {
	return cp.tags == nil
}
