package cpool

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/daimatz/gocpool/pkg/exception"
	"github.com/daimatz/gocpool/pkg/symbol"
)

type testLoader struct {
	kind LoaderKind
	name string
}

func (l *testLoader) Kind() LoaderKind { return l.kind }
func (l *testLoader) Name() string     { return l.name }

var (
	bootLoader = &testLoader{LoaderBoot, "boot"}
	appLoader  = &testLoader{LoaderApp, "app"}
)

type testMirror struct{ k *testKlass }

type testKlass struct {
	name   *symbol.Symbol
	iface  bool
	loader Loader
	mirror *testMirror
}

func (k *testKlass) Name() *symbol.Symbol { return k.name }
func (k *testKlass) IsInterface() bool    { return k.iface }
func (k *testKlass) Loader() Loader       { return k.loader }
func (k *testKlass) Mirror() Object       { return k.mirror }

type testHandle struct {
	kind   RefKind
	callee Klass
	name   string
	sig    string
}

type testMethodType struct{ sig string }

type testCallSite struct{ name string }

type testString struct{ text string }

type testStrings struct {
	mu      sync.Mutex
	byText  map[string]*testString
	interns atomic.Int32
}

func (s *testStrings) Intern(sym *symbol.Symbol) Object {
	s.interns.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if js, ok := s.byText[sym.String()]; ok {
		return js
	}
	js := &testString{sym.String()}
	s.byText[sym.String()] = js
	return js
}

// testDictionary is a SystemDictionary over a fixed set of classes.
type testDictionary struct {
	mu        sync.Mutex
	classes   map[string]*testKlass
	failures  map[string]error
	denied    map[string]bool
	loads     atomic.Int32
	bootstrap func(info *BootstrapInfo) error
	bsmCalls  atomic.Int32
}

func (d *testDictionary) define(syms *symbol.Table, name string, loader Loader, iface bool) *testKlass {
	d.mu.Lock()
	defer d.mu.Unlock()
	k := &testKlass{name: syms.Intern(name), iface: iface, loader: loader}
	k.mirror = &testMirror{k}
	d.classes[name] = k
	return k
}

func (d *testDictionary) fail(name string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.failures, name)
		return
	}
	d.failures[name] = err
}

func (d *testDictionary) ResolveOrFail(name *symbol.Symbol, _ Loader) (Klass, error) {
	d.loads.Add(1)
	d.mu.Lock()
	defer d.mu.Unlock()
	if err, ok := d.failures[name.String()]; ok {
		return nil, err
	}
	k, ok := d.classes[name.String()]
	if !ok {
		return nil, exception.NoClassDefFound(name.String())
	}
	return k, nil
}

func (d *testDictionary) FindLoaded(name *symbol.Symbol, _ Loader) Klass {
	d.mu.Lock()
	defer d.mu.Unlock()
	if k, ok := d.classes[name.String()]; ok {
		return k
	}
	return nil
}

func (d *testDictionary) CheckAccess(_, k Klass) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.denied[k.Name().String()] {
		return exception.Newf(exception.ClassIllegalAccessError, "cannot access %s", k.Name())
	}
	return nil
}

func (d *testDictionary) LinkMethodHandle(_ Klass, refKind RefKind, callee Klass, name, signature *symbol.Symbol) (Object, error) {
	return &testHandle{refKind, callee, name.String(), signature.String()}, nil
}

func (d *testDictionary) FindMethodType(signature *symbol.Symbol, _ Klass) (Object, error) {
	return &testMethodType{signature.String()}, nil
}

func (d *testDictionary) InvokeBootstrap(info *BootstrapInfo) error {
	d.bsmCalls.Add(1)
	if d.bootstrap == nil {
		return exception.New(exception.ClassBootstrapMethodError, "no bootstrap")
	}
	return d.bootstrap(info)
}

func (d *testDictionary) lookup(name *symbol.Symbol) (Klass, error) {
	if k := d.FindLoaded(name, nil); k != nil {
		return k, nil
	}
	return nil, exception.NoClassDefFound(name.String())
}

type fixture struct {
	syms    *symbol.Table
	dict    *testDictionary
	strings *testStrings
	rt      *Runtime
	holder  *testKlass
	object  *testKlass
}

func newFixture() *fixture {
	f := &fixture{
		syms: symbol.NewTable(),
		dict: &testDictionary{
			classes:  make(map[string]*testKlass),
			failures: make(map[string]error),
			denied:   make(map[string]bool),
		},
		strings: &testStrings{byText: make(map[string]*testString)},
	}
	f.rt = &Runtime{Symbols: f.syms, Dictionary: f.dict, Strings: f.strings, Errors: NewErrorTable()}
	f.holder = f.dict.define(f.syms, "app/Holder", appLoader, false)
	f.object = f.dict.define(f.syms, "java/lang/Object", bootLoader, false)
	return f
}

// Indices of the entries of the pool built by fixture.pool.
const (
	idxFooName    = 1
	idxFoo        = 2
	idxHelloText  = 3
	idxHello      = 4
	idxBar        = 5
	idxVoidSig    = 6
	idxBarNAT     = 7
	idxFooBar     = 8
	idxAnswerInt  = 9
	idxSeven      = 10
	idxObjectName = 12
	idxObject     = 13
	idxHandle     = 14
	idxMethodType = 15
	idxIntSig     = 16
	idxAnswer     = 17
	idxAnswerNAT  = 18
	idxCondyInt   = 19
	idxIndy       = 20
	idxObjSig     = 21
	idxObj        = 22
	idxObjNAT     = 23
	idxCondyObj   = 24
	poolLength    = 25
)

// unresolved builds a pool in its parse-time form.
func (f *fixture) unresolved() *ConstantPool {
	cp := New(poolLength)
	utf8 := func(i int, s string) { cp.SymbolAtPut(i, f.syms.Intern(s)) }
	utf8(idxFooName, "Foo")
	cp.KlassIndexAtPut(idxFoo, idxFooName)
	utf8(idxHelloText, "hello")
	cp.StringIndexAtPut(idxHello, idxHelloText)
	utf8(idxBar, "bar")
	utf8(idxVoidSig, "()V")
	cp.NameAndTypeAtPut(idxBarNAT, idxBar, idxVoidSig)
	cp.MethodAtPut(idxFooBar, idxFoo, idxBarNAT)
	cp.IntAtPut(idxAnswerInt, 42)
	cp.LongAtPut(idxSeven, 7)
	utf8(idxObjectName, "java/lang/Object")
	cp.KlassIndexAtPut(idxObject, idxObjectName)
	cp.MethodHandleIndexAtPut(idxHandle, RefInvokeStatic, idxFooBar)
	cp.MethodTypeIndexAtPut(idxMethodType, idxVoidSig)
	utf8(idxIntSig, "I")
	utf8(idxAnswer, "answer")
	cp.NameAndTypeAtPut(idxAnswerNAT, idxAnswer, idxIntSig)
	cp.DynamicConstantAtPut(idxCondyInt, 0, idxAnswerNAT)
	cp.InvokeDynamicAtPut(idxIndy, 0, idxBarNAT)
	utf8(idxObjSig, "Ljava/lang/Object;")
	utf8(idxObj, "obj")
	cp.NameAndTypeAtPut(idxObjNAT, idxObj, idxObjSig)
	cp.DynamicConstantAtPut(idxCondyObj, 1, idxObjNAT)
	cp.SetOperands(BuildOperands([]BootstrapSpecifier{
		{MethodRef: idxHandle, Args: []int{idxAnswerInt, idxHello}},
		{MethodRef: idxHandle},
	}))
	cp.MajorVersion = 61
	return cp
}

// pool builds the run-time form of the fixture pool, attached and rewritten
// with one invokedynamic call site.
func (f *fixture) pool(t *testing.T) *ConstantPool {
	t.Helper()
	cp := f.unresolved()
	cp.InitializeUnresolvedKlasses()
	cp.Attach(f.holder, f.rt)
	cp.Rewrite([]int{idxIndy})
	require.NoError(t, cp.Verify())
	return cp
}

func (f *fixture) defineFoo() *testKlass {
	return f.dict.define(f.syms, "Foo", appLoader, false)
}

func requireThrowable(t *testing.T, err error, class, message string) *exception.Throwable {
	t.Helper()
	require.Error(t, err)
	th, ok := err.(*exception.Throwable)
	require.True(t, ok, "want a Throwable, got %T: %v", err, err)
	require.Equal(t, class, th.Class, fmt.Sprintf("throwable %v", th))
	if message != "" {
		require.Equal(t, message, th.Message)
	}
	return th
}
