package cpool

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTagPredicates(t *testing.T) {
	tests := []struct {
		tag       Tag
		width     int
		loadable  bool
		inError   bool
		bootstrap bool
	}{
		{TagUtf8, 1, false, false, false},
		{TagInteger, 1, true, false, false},
		{TagLong, 2, true, false, false},
		{TagDouble, 2, true, false, false},
		{TagClass, 1, true, false, false},
		{TagUnresolvedClass, 1, true, false, false},
		{TagUnresolvedClassInError, 1, true, true, false},
		{TagClassIndex, 1, false, false, false},
		{TagStringIndex, 1, false, false, false},
		{TagString, 1, true, false, false},
		{TagMethodref, 1, false, false, false},
		{TagMethodHandle, 1, true, false, false},
		{TagMethodHandleInError, 1, true, true, false},
		{TagMethodTypeInError, 1, true, true, false},
		{TagDynamic, 1, true, false, true},
		{TagDynamicInError, 1, true, true, true},
		{TagInvokeDynamic, 1, false, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.tag.String(), func(t *testing.T) {
			assert.Equal(t, tt.width, tt.tag.Width())
			assert.Equal(t, tt.loadable, tt.tag.IsLoadable())
			assert.Equal(t, tt.inError, tt.tag.IsInError())
			assert.Equal(t, tt.bootstrap, tt.tag.HasBootstrap())
			assert.True(t, tt.tag.Valid())
		})
	}
}

func TestErrorValueRoundTrip(t *testing.T) {
	for _, tag := range []Tag{TagUnresolvedClass, TagMethodHandle, TagMethodType, TagDynamic} {
		e := tag.ErrorValue()
		assert.True(t, e.IsInError(), tag.String())
		assert.Equal(t, tag, e.NonErrorValue())
	}
	assert.Equal(t, TagUtf8, TagUtf8.NonErrorValue())
	assert.Panics(t, func() { TagUtf8.ErrorValue() })
	assert.False(t, Tag(13).Valid())
	assert.Equal(t, "Illegal(200)", Tag(200).String())
}

func TestNewPool(t *testing.T) {
	cp := New(3)
	assert.Equal(t, 3, cp.Length())
	assert.Equal(t, TagInvalid, cp.TagAt(0))
	assert.False(t, cp.IsValidIndex(0))
	assert.True(t, cp.IsValidIndex(2))
	assert.False(t, cp.IsValidIndex(3))
	assert.Panics(t, func() { New(0) })
	assert.Panics(t, func() { New(0x10000) })
}

func TestEntriesReadBack(t *testing.T) {
	f := newFixture()
	cp := f.unresolved()

	assert.Equal(t, "Foo", cp.SymbolAt(idxFooName).String())
	assert.Equal(t, idxFooName, cp.KlassIndexAt(idxFoo))
	assert.Equal(t, idxHelloText, cp.StringIndexAt(idxHello))
	assert.Equal(t, "hello", cp.UnresolvedStringAt(idxHello).String())
	assert.Equal(t, int32(42), cp.IntAt(idxAnswerInt))
	assert.Equal(t, int64(7), cp.LongAt(idxSeven))
	assert.Equal(t, TagInvalid, cp.TagAt(idxSeven+1))
	assert.Equal(t, idxFoo, cp.UncachedKlassRefIndexAt(idxFooBar))
	assert.Equal(t, idxBarNAT, cp.UncachedNameAndTypeRefIndexAt(idxFooBar))
	assert.Equal(t, "bar", cp.UncachedNameRefAt(idxFooBar).String())
	assert.Equal(t, "()V", cp.UncachedSignatureRefAt(idxFooBar).String())
	assert.Equal(t, "Foo", cp.UncachedKlassRefNameAt(idxFooBar).String())
	assert.Equal(t, RefInvokeStatic, cp.MethodHandleRefKindAt(idxHandle))
	assert.Equal(t, idxFooBar, cp.MethodHandleIndexAt(idxHandle))
	assert.Equal(t, idxFoo, cp.MethodHandleKlassIndexAt(idxHandle))
	assert.Equal(t, "()V", cp.MethodTypeSignatureAt(idxMethodType).String())
	assert.Equal(t, 0, cp.BootstrapMethodsAttributeIndex(idxCondyInt))
	assert.Equal(t, idxHandle, cp.BootstrapMethodRefIndexAt(idxCondyInt))
	assert.Equal(t, 2, cp.BootstrapArgumentCountAt(idxCondyInt))
	assert.Equal(t, idxHello, cp.BootstrapArgumentIndexAt(idxCondyInt, 1))
	assert.Equal(t, 0, cp.BootstrapArgumentCountAt(idxCondyObj))
	assert.True(t, cp.HasDynamicConstant())

	cp.FloatAtPut(idxAnswerInt, 1.5)
	assert.Equal(t, float32(1.5), cp.FloatAt(idxAnswerInt))
	cp.DoubleAtPut(idxSeven, 2.25)
	assert.Equal(t, 2.25, cp.DoubleAt(idxSeven))

	assert.Panics(t, func() { cp.IntAt(idxFooName) })
	assert.Panics(t, func() { cp.SymbolAt(idxFoo) })
}

func TestEachSkipsSecondSlot(t *testing.T) {
	f := newFixture()
	cp := f.unresolved()
	var seen []int
	cp.Each(func(i int, _ Tag) { seen = append(seen, i) })
	assert.Contains(t, seen, idxSeven)
	assert.NotContains(t, seen, idxSeven+1)
	assert.Equal(t, poolLength-2, len(seen))
}

func TestInitializeUnresolvedKlasses(t *testing.T) {
	f := newFixture()
	cp := f.unresolved()
	cp.InitializeUnresolvedKlasses()

	assert.Equal(t, TagUnresolvedClass, cp.TagAt(idxFoo))
	assert.Equal(t, TagUnresolvedClass, cp.TagAt(idxObject))
	assert.Equal(t, 2, cp.ResolvedKlassesLength())
	assert.Equal(t, KlassSlot{NameIndex: idxFooName, ResolvedKlassIndex: 0}, cp.KlassSlotAt(idxFoo))
	assert.Equal(t, KlassSlot{NameIndex: idxObjectName, ResolvedKlassIndex: 1}, cp.KlassSlotAt(idxObject))
	assert.Equal(t, TagString, cp.TagAt(idxHello))
	assert.Same(t, cp.SymbolAt(idxHelloText), cp.UnresolvedStringAt(idxHello))
	assert.Equal(t, "Foo", cp.PrintableNameAt(idxFoo))
	assert.Equal(t, "hello", cp.PrintableNameAt(idxHello))
	assert.Equal(t, "", cp.PrintableNameAt(idxAnswerInt))
	assert.Nil(t, cp.ResolvedKlassAt(idxFoo))

	assert.Panics(t, func() { cp.InitializeUnresolvedKlasses() })
}

func TestGrow(t *testing.T) {
	f := newFixture()
	cp := f.pool(t)
	cp.Grow(poolLength + 3)
	assert.Equal(t, poolLength+3, cp.Length())
	assert.Equal(t, "Foo", cp.SymbolAt(idxFooName).String())
	assert.Equal(t, TagInvalid, cp.TagAt(poolLength+2))
	cp.Grow(2)
	assert.Equal(t, poolLength+3, cp.Length())
}

func TestVerifyReportsBrokenReferences(t *testing.T) {
	f := newFixture()
	cp := f.pool(t)
	cp.NameAndTypeAtPut(idxBarNAT, idxAnswerInt, idxVoidSig)
	cp.DynamicConstantAtPut(idxCondyObj, 9, idxObjNAT)

	err := cp.Verify()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWrongTag)
	assert.ErrorIs(t, err, ErrBadIndex)
	assert.Contains(t, err.Error(), "#7 refers to #9")
}

func TestDescribe(t *testing.T) {
	f := newFixture()
	cp := f.pool(t)
	var buf bytes.Buffer
	require.NoError(t, cp.Describe(&buf))
	out := buf.String()
	assert.Contains(t, out, "constant pool [25]/operands")
	assert.Contains(t, out, "for app/Holder")
	assert.Contains(t, out, `"hello"`)
	assert.Contains(t, out, "Foo.bar:()V")
	assert.Contains(t, out, "bsm 0: #14 [9 4]")
}
