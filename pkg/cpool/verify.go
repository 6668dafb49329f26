package cpool

import (
	"errors"
	"fmt"
	"io"
)

// Verify checks the structural invariants of the pool: every index an entry
// refers to names an entry of the expected kind, two-slot entries are
// followed by an Invalid slot, resolved classes have a klass and bootstrap
// specifiers lie inside the operand array. It reports every violation.
func (cp *ConstantPool) Verify() error {
	var errs []error
	fail := func(err error, format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s", err, fmt.Sprintf(format, args...)))
	}
	ref := func(i, j int, ok func(Tag) bool, want string) {
		if !cp.IsValidIndex(j) {
			fail(ErrBadIndex, "#%d refers to #%d", i, j)
			return
		}
		if !ok(cp.TagAt(j)) {
			fail(ErrWrongTag, "#%d refers to #%d which is %s, want %s", i, j, cp.TagAt(j), want)
		}
	}
	isUtf8 := func(t Tag) bool { return t.IsSymbol() }
	isNAT := func(t Tag) bool { return t == TagNameAndType }
	isKlass := func(t Tag) bool { return t.IsKlassOrReference() }
	isField := func(t Tag) bool { return t == TagFieldref }
	isMethod := func(t Tag) bool { return t.IsMethod() || t.IsInterfaceMethod() }

	if cp.TagAt(0) != TagInvalid {
		fail(ErrWrongTag, "slot 0 is %s", cp.TagAt(0))
	}
	for i := 1; i < cp.Length(); i = cp.next(i) {
		t := cp.TagAt(i)
		if !t.Valid() {
			fail(ErrWrongTag, "#%d has illegal tag %d", i, uint8(t))
			continue
		}
		bits := cp.bitsAt(i)
		switch t {
		case TagLong, TagDouble:
			if i+1 >= cp.Length() {
				fail(ErrBadIndex, "%s at #%d has no second slot", t, i)
			} else if cp.TagAt(i+1) != TagInvalid {
				fail(ErrWrongTag, "second slot of %s at #%d is %s", t, i, cp.TagAt(i+1))
			}
		case TagUtf8:
			if cp.slots[i].sym.Load() == nil {
				fail(ErrWrongTag, "Utf8 at #%d has no symbol", i)
			}
		case TagString:
			if cp.slots[i].sym.Load() == nil {
				fail(ErrWrongTag, "String at #%d has no symbol", i)
			}
		case TagClassIndex, TagStringIndex:
			ref(i, low(bits), isUtf8, "Utf8")
		case TagClass, TagUnresolvedClass, TagUnresolvedClassInError:
			ref(i, low(bits), isUtf8, "Utf8")
			switch slot := high(bits); {
			case slot >= len(cp.klasses):
				fail(ErrBadIndex, "class #%d uses klass slot %d of %d", i, slot, len(cp.klasses))
			case t == TagClass && cp.klasses[slot].load() == nil:
				fail(ErrWrongTag, "class #%d is resolved without a klass", i)
			}
		case TagFieldref, TagMethodref, TagInterfaceMethodref:
			ref(i, low(bits), isKlass, "Class")
			ref(i, high(bits), isNAT, "NameAndType")
		case TagNameAndType:
			ref(i, low(bits), isUtf8, "Utf8")
			ref(i, high(bits), isUtf8, "Utf8")
		case TagMethodHandle, TagMethodHandleInError:
			switch kind := RefKind(low(bits)); {
			case kind < RefGetField || kind > RefInvokeInterface:
				fail(ErrWrongTag, "MethodHandle at #%d has reference kind %d", i, kind)
			case kind.IsField():
				ref(i, high(bits), isField, "Field")
			default:
				ref(i, high(bits), isMethod, "Method")
			}
		case TagMethodType, TagMethodTypeInError:
			ref(i, low(bits), isUtf8, "Utf8")
		case TagDynamic, TagDynamicInError, TagInvokeDynamic:
			if n := low(bits); n >= cp.OperandArrayLength() {
				fail(ErrBadIndex, "%s at #%d uses bootstrap specifier %d of %d", t, i, n, cp.OperandArrayLength())
			}
			ref(i, high(bits), isNAT, "NameAndType")
		}
	}
	errs = append(errs, cp.verifyOperands()...)
	return errors.Join(errs...)
}

func (cp *ConstantPool) verifyOperands() []error {
	var errs []error
	n := cp.OperandArrayLength()
	prev := 2*n - 1
	for k := 0; k < n; k++ {
		off := operandOffsetAt(cp.operands, k)
		if off <= prev || off+2 > len(cp.operands) {
			errs = append(errs, fmt.Errorf("%w: bootstrap specifier %d at offset %d", ErrBadIndex, k, off))
			return errs
		}
		end := off + 2 + int(cp.operands[off+1])
		if end > len(cp.operands) {
			errs = append(errs, fmt.Errorf("%w: bootstrap specifier %d overruns the operands", ErrBadIndex, k))
			return errs
		}
		if bsm := int(cp.operands[off]); !cp.IsValidIndex(bsm) || !cp.TagAt(bsm).IsMethodHandle() {
			errs = append(errs, fmt.Errorf("%w: bootstrap specifier %d names #%d as its method", ErrWrongTag, k, bsm))
		}
		for _, a := range cp.operands[off+2 : end] {
			if !cp.IsValidIndex(int(a)) || !isBootstrapArgument(cp.TagAt(int(a))) {
				errs = append(errs, fmt.Errorf("%w: bootstrap specifier %d argument #%d", ErrWrongTag, k, a))
			}
		}
		prev = off
	}
	return errs
}

func isBootstrapArgument(t Tag) bool {
	return t.IsLoadable() || t == TagClassIndex || t == TagStringIndex
}

// EntryString describes entry i in one line.
func (cp *ConstantPool) EntryString(i int) string {
	t := cp.TagAt(i)
	bits := cp.bitsAt(i)
	switch t {
	case TagInvalid:
		return ""
	case TagUtf8:
		return fmt.Sprintf("%q", cp.SymbolAt(i).String())
	case TagInteger:
		return fmt.Sprintf("%d", cp.IntAt(i))
	case TagFloat:
		return fmt.Sprintf("%g", cp.FloatAt(i))
	case TagLong:
		return fmt.Sprintf("%dl", cp.LongAt(i))
	case TagDouble:
		return fmt.Sprintf("%gd", cp.DoubleAt(i))
	case TagClass:
		return fmt.Sprintf("%s (resolved)", cp.KlassNameAt(i))
	case TagUnresolvedClass, TagUnresolvedClassInError, TagClassIndex:
		return cp.KlassNameAt(i).String()
	case TagString, TagStringIndex:
		return fmt.Sprintf("%q", cp.UnresolvedStringAt(i).String())
	case TagFieldref, TagMethodref, TagInterfaceMethodref:
		return fmt.Sprintf("klass=#%d name_and_type=#%d %s.%s:%s", low(bits), high(bits),
			cp.UncachedKlassRefNameAt(i), cp.UncachedNameRefAt(i), cp.UncachedSignatureRefAt(i))
	case TagNameAndType:
		return fmt.Sprintf("name=#%d signature=#%d", low(bits), high(bits))
	case TagMethodHandle, TagMethodHandleInError:
		return fmt.Sprintf("ref_kind=%d ref_index=#%d", low(bits), high(bits))
	case TagMethodType, TagMethodTypeInError:
		return fmt.Sprintf("signature=#%d %s", low(bits), cp.MethodTypeSignatureAt(i))
	case TagDynamic, TagDynamicInError, TagInvokeDynamic:
		return fmt.Sprintf("bsm=%d name_and_type=#%d %s:%s", low(bits), high(bits),
			cp.UncachedNameRefAt(i), cp.UncachedSignatureRefAt(i))
	}
	return fmt.Sprintf("bits=%#x", bits)
}

// Describe writes one line per entry followed by the bootstrap specifiers.
func (cp *ConstantPool) Describe(w io.Writer) error {
	if _, err := fmt.Fprintln(w, cp); err != nil {
		return err
	}
	var err error
	cp.Each(func(i int, t Tag) {
		if err == nil {
			_, err = fmt.Fprintf(w, "%5d : %-24s %s\n", i, t, cp.EntryString(i))
		}
	})
	if err != nil {
		return err
	}
	for n := 0; n < cp.OperandArrayLength(); n++ {
		s := cp.BootstrapSpecifierAt(n)
		if _, err := fmt.Fprintf(w, "  bsm %d: #%d %v\n", n, s.MethodRef, s.Args); err != nil {
			return err
		}
	}
	return nil
}
