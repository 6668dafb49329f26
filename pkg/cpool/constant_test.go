package cpool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daimatz/gocpool/pkg/exception"
	"github.com/daimatz/gocpool/pkg/native"
)

func TestResolveStringConcurrent(t *testing.T) {
	f := newFixture()
	cp := f.pool(t)

	var wg sync.WaitGroup
	start := make(chan struct{})
	got := make([]Object, 16)
	for n := range got {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			<-start
			o, err := cp.ResolveConstantAt(idxHello)
			assert.NoError(t, err)
			got[n] = o
		}(n)
	}
	close(start)
	wg.Wait()

	s, ok := got[0].(*testString)
	require.True(t, ok)
	assert.Equal(t, "hello", s.text)
	for _, o := range got {
		assert.Same(t, s, o)
	}
	obj := cp.CPToObjectIndex(idxHello)
	assert.Same(t, s, cp.ResolvedReferenceAt(obj))
	assert.Equal(t, idxHello, cp.ObjectToCPIndex(obj))

	interns := f.strings.interns.Load()
	again, err := cp.StringAt(idxHello)
	require.NoError(t, err)
	assert.Same(t, s, again)
	assert.Equal(t, interns, f.strings.interns.Load(), "cached string must not be interned again")
}

func TestResolveLiteralsAreNotCached(t *testing.T) {
	f := newFixture()
	cp := f.pool(t)

	tests := []struct {
		name  string
		index int
		want  Object
	}{
		{"integer", idxAnswerInt, native.IntegerValueOf(42)},
		{"long", idxSeven, native.LongValueOf(7)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, -1, cp.CPToObjectIndex(tt.index))
			a, err := cp.ResolveConstantAt(tt.index)
			require.NoError(t, err)
			b, err := cp.ResolveConstantAt(tt.index)
			require.NoError(t, err)
			assert.Equal(t, tt.want, a)
			assert.Equal(t, a, b)
			assert.NotSame(t, a, b)
		})
	}
}

func TestResolveClassConstant(t *testing.T) {
	f := newFixture()
	cp := f.pool(t)

	o, err := cp.ResolveConstantAt(idxObject)
	require.NoError(t, err)
	assert.Same(t, f.object.mirror, o)

	_, err = cp.ResolveConstantAt(idxFoo)
	requireThrowable(t, err, exception.ClassNoClassDefFoundError, "Foo")
	_, err = cp.ResolveConstantAt(idxFoo)
	requireThrowable(t, err, exception.ClassNoClassDefFoundError, "Foo")
}

func TestResolveConstantRejectsNonLoadable(t *testing.T) {
	f := newFixture()
	cp := f.pool(t)

	_, err := cp.ResolveConstantAt(idxFooBar)
	assert.ErrorIs(t, err, ErrWrongTag)
	_, err = cp.ResolveConstantAt(poolLength)
	assert.ErrorIs(t, err, ErrBadIndex)
	_, err = cp.ResolveCachedConstantAt(99)
	assert.ErrorIs(t, err, ErrBadIndex)
}

func TestResolveMethodHandleAndType(t *testing.T) {
	f := newFixture()
	foo := f.defineFoo()
	cp := f.pool(t)

	o, err := cp.ResolveConstantAt(idxHandle)
	require.NoError(t, err)
	h, ok := o.(*testHandle)
	require.True(t, ok)
	assert.Equal(t, &testHandle{RefInvokeStatic, foo, "bar", "()V"}, h)

	again, err := cp.ResolveCachedConstantAt(cp.CPToObjectIndex(idxHandle))
	require.NoError(t, err)
	assert.Same(t, h, again)

	mt, err := cp.ResolveConstantAt(idxMethodType)
	require.NoError(t, err)
	assert.Equal(t, &testMethodType{"()V"}, mt)
}

func TestMethodHandleFailureIsRecorded(t *testing.T) {
	f := newFixture()
	cp := f.pool(t)

	_, err := cp.ResolveConstantAt(idxHandle)
	requireThrowable(t, err, exception.ClassNoClassDefFoundError, "Foo")
	assert.Equal(t, TagMethodHandleInError, cp.TagAt(idxHandle))
	assert.Equal(t, TagUnresolvedClassInError, cp.TagAt(idxFoo))

	f.defineFoo()
	_, err = cp.ResolveConstantAt(idxHandle)
	requireThrowable(t, err, exception.ClassNoClassDefFoundError, "Foo")
	assert.Equal(t, native.TObject, cp.BasicTypeForConstantAt(idxHandle))
}

func TestMethodHandleInterfaceMismatch(t *testing.T) {
	f := newFixture()
	f.dict.define(f.syms, "Foo", appLoader, true)
	cp := f.pool(t)

	_, err := cp.ResolveConstantAt(idxHandle)
	th := requireThrowable(t, err, exception.ClassIncompatibleClassChangeError, "")
	assert.Contains(t, th.Message, "Method 'bar()V' at index 14 is CONSTANT_MethodRef and should be CONSTANT_InterfaceMethodRef")
	assert.Equal(t, TagMethodHandleInError, cp.TagAt(idxHandle))
}

func TestDynamicConstant(t *testing.T) {
	f := newFixture()
	f.defineFoo()
	cp := f.pool(t)
	f.dict.bootstrap = func(info *BootstrapInfo) error {
		if _, err := info.ResolveMethod(); err != nil {
			return err
		}
		args, err := info.ResolveArguments()
		if err != nil {
			return err
		}
		assert.Equal(t, native.IntegerValueOf(42), args[0])
		info.SetResult(native.IntegerValueOf(args[0].(*native.Integer).Value + 1))
		return nil
	}

	o, err := cp.ResolveConstantAt(idxCondyInt)
	require.NoError(t, err)
	assert.Equal(t, native.IntegerValueOf(43), o)
	again, err := cp.ResolveConstantAt(idxCondyInt)
	require.NoError(t, err)
	assert.Same(t, o, again)
	assert.Equal(t, int32(1), f.dict.bsmCalls.Load())

	assert.Equal(t, native.TInt, cp.BasicTypeForConstantAt(idxCondyInt))
	assert.Equal(t, TagInteger, cp.ConstantTagAt(idxCondyInt))
	assert.Equal(t, TagString, cp.ConstantTagAt(idxCondyObj))
	assert.Equal(t, TagUtf8, cp.ConstantTagAt(idxFooName))
}

func TestDynamicConstantBoxingFailureIsNotCached(t *testing.T) {
	tests := []struct {
		name   string
		result Object
		want   string
	}{
		{"null", nil, "null result instead of box"},
		{"wrong box", native.LongValueOf(1), "primitive is not properly boxed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			cp := f.pool(t)
			f.dict.bootstrap = func(info *BootstrapInfo) error {
				info.SetResult(tt.result)
				return nil
			}
			for n := int32(1); n <= 2; n++ {
				_, err := cp.ResolveConstantAt(idxCondyInt)
				requireThrowable(t, err, exception.ClassInternalError, tt.want)
				assert.Equal(t, n, f.dict.bsmCalls.Load())
			}
			assert.Equal(t, TagDynamic, cp.TagAt(idxCondyInt))
			assert.Zero(t, f.rt.Errors.Len())
		})
	}
}

func TestDynamicConstantNull(t *testing.T) {
	f := newFixture()
	cp := f.pool(t)
	f.dict.bootstrap = func(info *BootstrapInfo) error {
		info.SetResult(nil)
		return nil
	}

	for n := 0; n < 2; n++ {
		o, err := cp.ResolveConstantAt(idxCondyObj)
		require.NoError(t, err)
		assert.Nil(t, o)
	}
	assert.Equal(t, int32(1), f.dict.bsmCalls.Load())
	assert.Equal(t, NullSentinel, cp.ResolvedReferenceAt(cp.CPToObjectIndex(idxCondyObj)))

	o, found, err := cp.FindCachedConstantAt(idxCondyObj)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Nil(t, o)
}

func TestDynamicConstantLinkageFailure(t *testing.T) {
	f := newFixture()
	cp := f.pool(t)
	f.dict.bootstrap = func(*BootstrapInfo) error {
		return exception.New(exception.ClassIllegalArgumentException, "bad")
	}

	_, err := cp.ResolveConstantAt(idxCondyObj)
	th := requireThrowable(t, err, exception.ClassBootstrapMethodError, "")
	require.NotNil(t, th.Cause)
	assert.Equal(t, exception.ClassIllegalArgumentException, th.Cause.Class)
	assert.Equal(t, TagDynamicInError, cp.TagAt(idxCondyObj))

	f.dict.bootstrap = func(info *BootstrapInfo) error {
		info.SetResult(native.IntegerValueOf(1))
		return nil
	}
	_, err = cp.ResolveConstantAt(idxCondyObj)
	replayed := requireThrowable(t, err, exception.ClassBootstrapMethodError, th.Message)
	assert.True(t, th.Same(replayed))
	assert.Equal(t, int32(1), f.dict.bsmCalls.Load())
	assert.Equal(t, TagString, cp.ConstantTagAt(idxCondyObj))
	assert.Equal(t, native.TObject, cp.BasicTypeForConstantAt(idxCondyObj))
}

func TestDynamicConstantErrorPassesThrough(t *testing.T) {
	f := newFixture()
	cp := f.pool(t)
	f.dict.bootstrap = func(*BootstrapInfo) error {
		return exception.New(exception.ClassStackOverflowError, "")
	}

	_, err := cp.ResolveConstantAt(idxCondyObj)
	requireThrowable(t, err, exception.ClassStackOverflowError, "")
	assert.Equal(t, TagDynamic, cp.TagAt(idxCondyObj))
	assert.Zero(t, f.rt.Errors.Len())
}

func TestFindCachedConstantAt(t *testing.T) {
	f := newFixture()
	cp := f.pool(t)
	f.dict.bootstrap = func(info *BootstrapInfo) error {
		info.SetResult(native.IntegerValueOf(5))
		return nil
	}

	tests := []struct {
		name  string
		index int
		found bool
	}{
		{"integer", idxAnswerInt, true},
		{"string", idxHello, true},
		{"unresolved dynamic", idxCondyInt, false},
		{"unresolved method type", idxMethodType, false},
		{"class", idxObject, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, found, err := cp.FindCachedConstantAt(tt.index)
			require.NoError(t, err)
			assert.Equal(t, tt.found, found)
		})
	}
	assert.Zero(t, f.dict.bsmCalls.Load())

	_, err := cp.ResolveConstantAt(idxCondyInt)
	require.NoError(t, err)
	o, found, err := cp.FindCachedConstantAt(idxCondyInt)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, native.IntegerValueOf(5), o)
}

func TestResolveStringConstants(t *testing.T) {
	f := newFixture()
	cp := f.pool(t)
	require.NoError(t, cp.ResolveStringConstants())
	assert.NotNil(t, cp.ResolvedReferenceAt(cp.CPToObjectIndex(idxHello)))
	assert.Equal(t, &testString{"hello"}, cp.UncachedStringAt(idxHello))
}

func TestStringWithoutCache(t *testing.T) {
	f := newFixture()
	cp := f.unresolved()
	cp.InitializeUnresolvedKlasses()
	cp.Attach(f.holder, f.rt)

	_, err := cp.StringAt(idxHello)
	assert.ErrorIs(t, err, ErrNoCache)
	_, err = cp.ResolveConstantAt(idxHello)
	assert.ErrorIs(t, err, ErrNoCache)
}
