package cpool

import (
	"fmt"

	"github.com/daimatz/gocpool/pkg/exception"
	"github.com/daimatz/gocpool/pkg/native"
)

// ResolveConstantAt resolves the loadable constant at pool index i, going
// through the resolved references when the entry has a slot there.
func (cp *ConstantPool) ResolveConstantAt(i int) (Object, error) {
	if !cp.IsValidIndex(i) {
		return nil, fmt.Errorf("%w: #%d", ErrBadIndex, i)
	}
	o, _, err := cp.resolveConstant(i, cp.CPToObjectIndex(i), false)
	return o, err
}

// ResolveCachedConstantAt resolves the constant cached in resolved
// references slot objIndex, as a rewritten ldc does.
func (cp *ConstantPool) ResolveCachedConstantAt(objIndex int) (Object, error) {
	refs := cp.ResolvedReferences()
	if refs == nil {
		return nil, ErrNoCache
	}
	if objIndex < 0 || objIndex >= len(cp.cache.referenceMap) {
		return nil, fmt.Errorf("%w: resolved reference %d", ErrBadIndex, objIndex)
	}
	o, _, err := cp.resolveConstant(cp.ObjectToCPIndex(objIndex), objIndex, false)
	return o, err
}

// FindCachedConstantAt returns the value of the constant at i if it is
// already resolved or can be produced without running any user code.
// found is false when resolution would be required.
func (cp *ConstantPool) FindCachedConstantAt(i int) (o Object, found bool, err error) {
	if !cp.IsValidIndex(i) {
		return nil, false, fmt.Errorf("%w: #%d", ErrBadIndex, i)
	}
	return cp.resolveConstant(i, cp.CPToObjectIndex(i), true)
}

func (cp *ConstantPool) resolveConstant(i, objIndex int, findOnly bool) (Object, bool, error) {
	var refs *References
	if objIndex >= 0 {
		if refs = cp.ResolvedReferences(); refs == nil {
			return nil, false, fmt.Errorf("%w: entry #%d", ErrNoCache, i)
		}
		if o := refs.At(objIndex); o != nil {
			if o == NullSentinel {
				o = nil
			}
			return o, true, nil
		}
	}

	tag := cp.TagAt(i)
	if findOnly {
		switch tag {
		case TagClass, TagString, TagInteger, TagFloat, TagLong, TagDouble:
		default:
			return nil, false, nil
		}
	}

	var (
		result Object
		err    error
	)
	switch tag {
	case TagUnresolvedClass, TagClass:
		var k Klass
		if k, err = cp.KlassAt(i); err == nil {
			result = k.Mirror()
		}
	case TagDynamic:
		result, err = cp.resolveDynamicConstant(i)
	case TagString:
		if objIndex < 0 {
			return nil, true, fmt.Errorf("%w: string #%d", ErrNoCache, i)
		}
		result, err = cp.stringAt(i, objIndex)
		return result, true, err
	case TagMethodHandle:
		result, err = cp.resolveMethodHandle(i)
	case TagMethodType:
		result, err = cp.resolveMethodType(i)
	case TagInteger:
		return native.IntegerValueOf(cp.IntAt(i)), true, nil
	case TagFloat:
		return native.FloatValueOf(cp.FloatAt(i)), true, nil
	case TagLong:
		return native.LongValueOf(cp.LongAt(i)), true, nil
	case TagDouble:
		return native.DoubleValueOf(cp.DoubleAt(i)), true, nil
	case TagUnresolvedClassInError, TagDynamicInError, TagMethodHandleInError, TagMethodTypeInError:
		return nil, true, cp.throwResolutionError(i)
	default:
		return nil, true, fmt.Errorf("%w: %s at #%d is not a loadable constant", ErrWrongTag, tag, i)
	}
	if err != nil {
		return nil, true, err
	}

	if objIndex >= 0 {
		// Racing threads may compute different objects; the first one
		// installed is the one everybody uses.
		candidate := result
		if candidate == nil {
			candidate = NullSentinel
		}
		if old := refs.ReplaceIfNull(objIndex, candidate); old != nil {
			if old == NullSentinel {
				old = nil
			}
			return old, true, nil
		}
	}
	return result, true, nil
}

func (cp *ConstantPool) resolveMethodHandle(i int) (Object, error) {
	refKind := cp.MethodHandleRefKindAt(i)
	refIndex := cp.MethodHandleIndexAt(i)
	calleeIndex := cp.MethodHandleKlassIndexAt(i)
	name := cp.MethodHandleNameRefAt(i)
	signature := cp.MethodHandleSignatureRefAt(i)
	mtag := cp.TagAt(refIndex)
	resolveLog.Debugf("resolve MethodHandle:%d [%d/%d/%d] %s.%s", refKind, i, refIndex, calleeIndex, name, signature)

	callee, err := cp.KlassAt(calleeIndex)
	if err != nil {
		return nil, cp.saveAndThrow(i, TagMethodHandle, err)
	}

	if (callee.IsInterface() && mtag.IsMethod()) || (!callee.IsInterface() && mtag.IsInterfaceMethod()) {
		is, want := "CONSTANT_InterfaceMethodRef", "CONSTANT_MethodRef"
		if callee.IsInterface() {
			is, want = want, is
		}
		err := exception.Newf(exception.ClassIncompatibleClassChangeError,
			"Inconsistent constant pool data in classfile for class %s. Method '%s%s' at index %d is %s and should be %s",
			callee.Name(), name, signature, i, is, want)
		return nil, cp.saveAndThrow(i, TagMethodHandle, err)
	}

	h, err := cp.rt.Dictionary.LinkMethodHandle(cp.holder, refKind, callee, name, signature)
	if err != nil {
		return nil, cp.saveAndThrow(i, TagMethodHandle, err)
	}
	return h, nil
}

func (cp *ConstantPool) resolveMethodType(i int) (Object, error) {
	signature := cp.MethodTypeSignatureAt(i)
	resolveLog.Debugf("resolve MethodType [%d/%d] %s", i, cp.MethodTypeIndexAt(i), signature)
	mt, err := cp.rt.Dictionary.FindMethodType(signature, cp.holder)
	if err != nil {
		return nil, cp.saveAndThrow(i, TagMethodType, err)
	}
	return mt, nil
}

// resolveDynamicConstant runs the bootstrap method of the Dynamic entry at
// i. A result of the wrong shape for a primitive-typed constant raises an
// InternalError that is not recorded; the next attempt runs the bootstrap
// method again.
func (cp *ConstantPool) resolveDynamicConstant(i int) (Object, error) {
	info := cp.BootstrapInfoAt(i)
	if err := exception.WrapDynamic(cp.rt.Dictionary.InvokeBootstrap(info)); err != nil {
		return nil, cp.saveAndThrow(i, TagDynamic, err)
	}
	result := info.Result()
	bt := native.BasicTypeOf(info.Signature.String())
	if !bt.IsReference() {
		var fail string
		switch {
		case result == nil:
			fail = "null result instead of box"
		case !bt.IsPrimitive():
			fail = "can only handle references and primitives"
		case !native.IsBoxOf(result, bt):
			fail = "primitive is not properly boxed"
		}
		if fail != "" {
			return nil, exception.New(exception.ClassInternalError, fail)
		}
	}
	resolveLog.Debugf("resolved %s", info)
	return result, nil
}

func (cp *ConstantPool) stringAt(i, objIndex int) (Object, error) {
	refs := cp.ResolvedReferences()
	if s := refs.At(objIndex); s != nil {
		return s, nil
	}
	s := cp.rt.Strings.Intern(cp.UnresolvedStringAt(i))
	if old := refs.ReplaceIfNull(objIndex, s); old != nil {
		return old, nil
	}
	return s, nil
}

// StringAt resolves the String entry at i into its interned string.
func (cp *ConstantPool) StringAt(i int) (Object, error) {
	cp.mustTag(i, cp.TagAt(i).IsString(), "String")
	obj := cp.CPToObjectIndex(i)
	if obj < 0 || cp.ResolvedReferences() == nil {
		return nil, fmt.Errorf("%w: string #%d", ErrNoCache, i)
	}
	return cp.stringAt(i, obj)
}

// UncachedStringAt interns the String entry at i without caching it.
func (cp *ConstantPool) UncachedStringAt(i int) Object {
	return cp.rt.Strings.Intern(cp.UnresolvedStringAt(i))
}

// ResolveStringConstants resolves every String entry.
func (cp *ConstantPool) ResolveStringConstants() error {
	var err error
	cp.Each(func(i int, t Tag) {
		if err == nil && t.IsString() {
			_, err = cp.StringAt(i)
		}
	})
	return err
}

// BasicTypeForConstantAt returns the type an ldc of entry i pushes.
// Entries that cannot be loaded report TVoid.
func (cp *ConstantPool) BasicTypeForConstantAt(i int) native.BasicType {
	switch t := cp.TagAt(i); {
	case t.IsDynamicConstant() || t.IsDynamicConstantInError():
		return native.BasicTypeOf(cp.UncachedSignatureRefAt(i).String())
	case t == TagInteger:
		return native.TInt
	case t == TagFloat:
		return native.TFloat
	case t == TagLong:
		return native.TLong
	case t == TagDouble:
		return native.TDouble
	case t.IsLoadable():
		return native.TObject
	}
	return native.TVoid
}

// ConstantTagAt returns the tag of entry i, reporting a Dynamic entry as
// the tag of the constant type it produces.
func (cp *ConstantPool) ConstantTagAt(i int) Tag {
	t := cp.TagAt(i)
	if !t.IsDynamicConstant() && !t.IsDynamicConstantInError() {
		return t
	}
	switch cp.BasicTypeForConstantAt(i) {
	case native.TBoolean, native.TByte, native.TChar, native.TShort, native.TInt:
		return TagInteger
	case native.TLong:
		return TagLong
	case native.TFloat:
		return TagFloat
	case native.TDouble:
		return TagDouble
	}
	return TagString
}
