package cpool

// compareTag folds the tags that describe the same constant in different
// resolution states onto one value.
func compareTag(t Tag) Tag {
	t = t.NonErrorValue()
	switch t {
	case TagClass, TagClassIndex:
		return TagUnresolvedClass
	case TagStringIndex:
		return TagString
	}
	return t
}

// CompareEntryTo reports whether entry i1 of cp and entry i2 of cp2
// describe the same constant. Symbols compare by identity and composite
// entries compare their parts recursively. Neither pool is modified.
func (cp *ConstantPool) CompareEntryTo(i1 int, cp2 *ConstantPool, i2 int) bool {
	t1 := compareTag(cp.TagAt(i1))
	t2 := compareTag(cp2.TagAt(i2))
	if t1 != t2 {
		return false
	}

	switch t1 {
	case TagUnresolvedClass:
		return cp.KlassNameAt(i1) == cp2.KlassNameAt(i2)

	case TagString:
		return cp.UnresolvedStringAt(i1) == cp2.UnresolvedStringAt(i2)

	case TagUtf8:
		return cp.SymbolAt(i1) == cp2.SymbolAt(i2)

	case TagInteger:
		return cp.IntAt(i1) == cp2.IntAt(i2)

	case TagFloat:
		return cp.FloatAt(i1) == cp2.FloatAt(i2)

	case TagLong:
		return cp.LongAt(i1) == cp2.LongAt(i2)

	case TagDouble:
		return cp.DoubleAt(i1) == cp2.DoubleAt(i2)

	case TagFieldref, TagMethodref, TagInterfaceMethodref:
		return cp.CompareEntryTo(cp.UncachedKlassRefIndexAt(i1), cp2, cp2.UncachedKlassRefIndexAt(i2)) &&
			cp.CompareEntryTo(cp.UncachedNameAndTypeRefIndexAt(i1), cp2, cp2.UncachedNameAndTypeRefIndexAt(i2))

	case TagNameAndType:
		return cp.CompareEntryTo(cp.NameRefIndexAt(i1), cp2, cp2.NameRefIndexAt(i2)) &&
			cp.CompareEntryTo(cp.SignatureRefIndexAt(i1), cp2, cp2.SignatureRefIndexAt(i2))

	case TagMethodType:
		return cp.CompareEntryTo(cp.MethodTypeIndexAt(i1), cp2, cp2.MethodTypeIndexAt(i2))

	case TagMethodHandle:
		return cp.MethodHandleRefKindAt(i1) == cp2.MethodHandleRefKindAt(i2) &&
			cp.CompareEntryTo(cp.MethodHandleIndexAt(i1), cp2, cp2.MethodHandleIndexAt(i2))

	case TagDynamic, TagInvokeDynamic:
		matchEntry := cp.CompareEntryTo(cp.BootstrapNameAndTypeRefIndexAt(i1), cp2, cp2.BootstrapNameAndTypeRefIndexAt(i2))
		matchOperand := cp.CompareOperandTo(cp.BootstrapMethodsAttributeIndex(i1), cp2, cp2.BootstrapMethodsAttributeIndex(i2))
		return matchEntry && matchOperand
	}

	// Invalid only appears as the second slot of a Long or Double.
	return false
}

// CompareOperandTo reports whether bootstrap specifier n1 of cp and n2 of
// cp2 have equal methods and equal argument lists.
func (cp *ConstantPool) CompareOperandTo(n1 int, cp2 *ConstantPool, n2 int) bool {
	if !cp.CompareEntryTo(cp.OperandBootstrapMethodRefIndexAt(n1), cp2, cp2.OperandBootstrapMethodRefIndexAt(n2)) {
		return false
	}
	argc := cp.OperandArgumentCountAt(n1)
	if argc != cp2.OperandArgumentCountAt(n2) {
		return false
	}
	for j := 0; j < argc; j++ {
		if !cp.CompareEntryTo(cp.OperandArgumentIndexAt(n1, j), cp2, cp2.OperandArgumentIndexAt(n2, j)) {
			return false
		}
	}
	return true
}

// FindMatchingEntry returns the first index of search whose entry equals
// entry pattern of cp, or 0 if there is none.
func (cp *ConstantPool) FindMatchingEntry(pattern int, search *ConstantPool) int {
	for i := 1; i < search.Length(); i++ {
		if cp.CompareEntryTo(pattern, search, i) {
			return i
		}
	}
	return 0
}

// FindMatchingOperand returns the first of the first searchLen specifiers
// of search equal to specifier pattern of cp, or -1 if there is none.
func (cp *ConstantPool) FindMatchingOperand(pattern int, search *ConstantPool, searchLen int) int {
	for n := 0; n < searchLen; n++ {
		if cp.CompareOperandTo(pattern, search, n) {
			return n
		}
	}
	return -1
}
