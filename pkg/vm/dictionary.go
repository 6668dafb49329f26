package vm

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/tliron/commonlog"

	"github.com/daimatz/gocpool/pkg/classfile"
	"github.com/daimatz/gocpool/pkg/cpool"
	"github.com/daimatz/gocpool/pkg/exception"
	"github.com/daimatz/gocpool/pkg/symbol"
)

var dictionaryLog = commonlog.GetLogger("vm.dictionary")

// maxMajorVersion is the newest class file version the dictionary accepts
// (Java 21).
const maxMajorVersion = 65

// BootstrapCall is what a Go bootstrap function receives.
type BootstrapCall struct {
	Info   *cpool.BootstrapInfo
	Caller *InstanceKlass
	Method *MethodHandle
	Args   []cpool.Object
}

// BootstrapFunc implements a bootstrap method. For an invokedynamic call
// site it returns a *CallSite, or a *MethodHandle used as the call site
// target; for a dynamic constant it returns the constant, boxed when the
// constant is primitive.
type BootstrapFunc func(call *BootstrapCall) (cpool.Object, error)

type dictKey struct {
	loader ClassLoader
	name   string
}

// Dictionary loads, defines and links classes on behalf of constant pools.
// Classes are recorded under their defining loader and under every loader
// that initiated their loading.
type Dictionary struct {
	symbols *symbol.Table
	boot    ClassLoader
	rt      *cpool.Runtime

	mu         sync.RWMutex
	defined    map[dictKey]cpool.Klass
	initiated  map[dictKey]cpool.Klass
	bootstraps map[string]BootstrapFunc
}

// NewDictionary creates a dictionary whose nil loader means boot.
func NewDictionary(symbols *symbol.Table, boot ClassLoader) *Dictionary {
	return &Dictionary{
		symbols:    symbols,
		boot:       boot,
		defined:    make(map[dictKey]cpool.Klass),
		initiated:  make(map[dictKey]cpool.Klass),
		bootstraps: make(map[string]BootstrapFunc),
	}
}

// RegisterBootstrap installs fn as the implementation of the static method
// owner.name with the given descriptor.
func (d *Dictionary) RegisterBootstrap(owner, name, descriptor string, fn BootstrapFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bootstraps[owner+"."+name+":"+descriptor] = fn
}

func (d *Dictionary) classLoader(loader cpool.Loader) (ClassLoader, error) {
	if loader == nil {
		return d.boot, nil
	}
	cl, ok := loader.(ClassLoader)
	if !ok {
		return nil, exception.Newf(exception.ClassInternalError, "unsupported class loader %s", loader.Name())
	}
	return cl, nil
}

// ResolveOrFail loads name through loader.
func (d *Dictionary) ResolveOrFail(name *symbol.Symbol, loader cpool.Loader) (cpool.Klass, error) {
	cl, err := d.classLoader(loader)
	if err != nil {
		return nil, err
	}
	return d.resolve(name.String(), cl, nil)
}

// Resolve loads the class with the given binary name through loader.
func (d *Dictionary) Resolve(name string, loader ClassLoader) (cpool.Klass, error) {
	if loader == nil {
		loader = d.boot
	}
	return d.resolve(name, loader, nil)
}

// FindLoaded returns the class loader has already loaded under name.
func (d *Dictionary) FindLoaded(name *symbol.Symbol, loader cpool.Loader) cpool.Klass {
	cl, err := d.classLoader(loader)
	if err != nil {
		return nil
	}
	return d.lookup(dictKey{cl, name.String()})
}

func (d *Dictionary) lookup(key dictKey) cpool.Klass {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.initiated[key]
}

// Loaded returns every defined class, ordered by name.
func (d *Dictionary) Loaded() []cpool.Klass {
	d.mu.RLock()
	ks := make([]cpool.Klass, 0, len(d.defined))
	for _, k := range d.defined {
		ks = append(ks, k)
	}
	d.mu.RUnlock()
	slices.SortFunc(ks, func(a, b cpool.Klass) int {
		return strings.Compare(a.Name().String(), b.Name().String())
	})
	return ks
}

func (d *Dictionary) resolve(name string, loader ClassLoader, loading []string) (cpool.Klass, error) {
	if name == "" {
		return nil, exception.New(exception.ClassNoClassDefFoundError, "empty class name")
	}
	if k := d.lookup(dictKey{loader, name}); k != nil {
		return k, nil
	}
	if name[0] == '[' {
		return d.resolveArray(name, loader, loading)
	}
	if slices.Contains(loading, name) {
		return nil, exception.New(exception.ClassClassCircularityError, name)
	}

	data, definer, err := loader.LoadClass(name)
	if err != nil {
		dictionaryLog.Debugf("%s loader cannot load %s: %s", loader.Name(), name, err)
		if errors.Is(err, ErrClassNotFound) {
			return nil, exception.NoClassDefFound(name)
		}
		return nil, exception.New(exception.ClassNoClassDefFoundError, name).
			WithCause(exception.New(exception.ClassClassNotFoundException, err.Error()))
	}
	if k := d.lookup(dictKey{definer, name}); k != nil {
		return d.record(loader, k), nil
	}

	k, err := d.define(name, definer, data, append(loading, name))
	if err != nil {
		return nil, err
	}
	return d.record(loader, k), nil
}

// define parses data and links the class against its supertypes. Two
// goroutines may define the same class concurrently; the first to publish
// wins and the other pool is released.
func (d *Dictionary) define(name string, definer ClassLoader, data []byte, loading []string) (cpool.Klass, error) {
	cf, err := classfile.Parse(bytes.NewReader(data), d.symbols)
	if err != nil {
		return nil, exception.Newf(exception.ClassClassFormatError, "%s: %v", name, err)
	}
	release := func() { _ = cf.ConstantPool.Release() }

	actual, err := cf.ClassName()
	if err != nil || actual != name {
		release()
		return nil, exception.Newf(exception.ClassNoClassDefFoundError, "%s (wrong name: %s)", name, actual)
	}
	if cf.MajorVersion > maxMajorVersion {
		release()
		return nil, exception.Newf(exception.ClassUnsupportedClassVersionError,
			"%s has been compiled by a more recent version of the Java Runtime (class file version %d.%d)",
			name, cf.MajorVersion, cf.MinorVersion)
	}

	k := newInstanceKlass(d.symbols.Intern(name), definer, cf)
	if err := d.linkSupertypes(k, loading); err != nil {
		release()
		k.name.DecrementRefcount()
		return nil, err
	}

	cp := cf.ConstantPool
	cp.Attach(k, d.rt)
	cp.Rewrite(indySites(cp))

	key := dictKey{definer, name}
	d.mu.Lock()
	if won, ok := d.defined[key]; ok {
		d.mu.Unlock()
		release()
		k.name.DecrementRefcount()
		return won, nil
	}
	d.defined[key] = k
	d.initiated[key] = k
	d.mu.Unlock()

	dictionaryLog.Debugf("defined %s by %s loader", name, definer.Name())
	return k, nil
}

func (d *Dictionary) linkSupertypes(k *InstanceKlass, loading []string) error {
	cf := k.file
	if superName := cf.SuperClassName(); superName != "" {
		super, err := d.resolve(superName, k.loader, loading)
		if err != nil {
			return err
		}
		sk, ok := super.(*InstanceKlass)
		if !ok || sk.IsInterface() {
			return exception.Newf(exception.ClassIncompatibleClassChangeError,
				"class %s has interface %s as super class", k.name, superName)
		}
		if err := d.CheckAccess(k, sk); err != nil {
			return err
		}
		k.super = sk
	} else if k.name.String() != "java/lang/Object" {
		return exception.Newf(exception.ClassClassFormatError, "%s has no super class", k.name)
	}

	names, err := cf.InterfaceNames()
	if err != nil {
		return exception.Newf(exception.ClassClassFormatError, "%s: %v", k.name, err)
	}
	for _, n := range names {
		iface, err := d.resolve(n, k.loader, loading)
		if err != nil {
			return err
		}
		ik, ok := iface.(*InstanceKlass)
		if !ok || !ik.IsInterface() {
			return exception.Newf(exception.ClassIncompatibleClassChangeError,
				"class %s can not implement %s, because it is not an interface", k.name, n)
		}
		k.interfaces = append(k.interfaces, ik)
	}
	return nil
}

func (d *Dictionary) resolveArray(name string, loader ClassLoader, loading []string) (cpool.Klass, error) {
	elem := name[1:]
	var element cpool.Klass
	defining := d.boot
	switch {
	case elem == "":
		return nil, exception.NoClassDefFound(name)
	case elem[0] == '[':
		e, err := d.resolveArray(elem, loader, loading)
		if err != nil {
			return nil, err
		}
		element = e
	case elem[0] == 'L' && strings.HasSuffix(elem, ";") && len(elem) > 2:
		e, err := d.resolve(elem[1:len(elem)-1], loader, loading)
		if err != nil {
			return nil, err
		}
		element = e
	case len(elem) == 1 && strings.ContainsRune("BCDFIJSZ", rune(elem[0])):
	default:
		return nil, exception.NoClassDefFound(name)
	}
	if element != nil {
		if cl, ok := element.Loader().(ClassLoader); ok {
			defining = cl
		}
	}

	key := dictKey{defining, name}
	d.mu.Lock()
	k, ok := d.defined[key]
	if !ok {
		k = newArrayKlass(d.symbols.Intern(name), element, defining)
		d.defined[key] = k
		d.initiated[key] = k
	}
	d.mu.Unlock()
	return d.record(loader, k), nil
}

func (d *Dictionary) record(initiating ClassLoader, k cpool.Klass) cpool.Klass {
	key := dictKey{initiating, k.Name().String()}
	d.mu.Lock()
	defer d.mu.Unlock()
	if prev, ok := d.initiated[key]; ok {
		return prev
	}
	d.initiated[key] = k
	return k
}

// remove forgets k under every loader.
func (d *Dictionary) remove(k cpool.Klass) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, v := range d.defined {
		if v == k {
			delete(d.defined, key)
		}
	}
	for key, v := range d.initiated {
		if v == k {
			delete(d.initiated, key)
		}
	}
}

// indySites lists one call site per InvokeDynamic entry.
func indySites(cp *cpool.ConstantPool) []int {
	var sites []int
	cp.Each(func(i int, t cpool.Tag) {
		if t == cpool.TagInvokeDynamic {
			sites = append(sites, i)
		}
	})
	return sites
}

// CheckAccess reports whether accessor may refer to k: public classes are
// accessible to everyone, others only within their run-time package.
func (d *Dictionary) CheckAccess(accessor, k cpool.Klass) error {
	if a, ok := k.(*ArrayKlass); ok {
		if a.element == nil {
			return nil
		}
		return d.CheckAccess(accessor, a.element)
	}
	ik, ok := k.(*InstanceKlass)
	if !ok || accessor == nil || ik.IsPublic() {
		return nil
	}
	if accessor.Loader() == k.Loader() && packageOf(accessor.Name().String()) == ik.Package() {
		return nil
	}
	return exception.Newf(exception.ClassIllegalAccessError,
		"failed to access class %s from class %s", k.Name(), accessor.Name())
}

// LinkMethodHandle looks the member up in callee and returns a direct
// method handle to it.
func (d *Dictionary) LinkMethodHandle(holder cpool.Klass, refKind cpool.RefKind, callee cpool.Klass, name, signature *symbol.Symbol) (cpool.Object, error) {
	ik, ok := callee.(*InstanceKlass)
	if !ok {
		return nil, exception.Newf(exception.ClassIncompatibleClassChangeError,
			"%s is not a class or interface", callee.Name())
	}
	n, sig := name.String(), signature.String()
	member := fmt.Sprintf("%s.%s%s", callee.Name(), n, sig)

	var (
		owner  *InstanceKlass
		access uint16
	)
	if refKind.IsField() {
		var f *classfile.FieldInfo
		if owner, f = ik.FindField(n, sig); f == nil {
			return nil, exception.New(exception.ClassNoSuchFieldError, n)
		}
		access = f.AccessFlags
		if (access&classfile.AccStatic != 0) != refKind.IsStatic() {
			return nil, exception.Newf(exception.ClassIncompatibleClassChangeError,
				"Expected %s field %s.%s", staticness(refKind), callee.Name(), n)
		}
	} else {
		switch {
		case refKind == cpool.RefInvokeInterface && !ik.IsInterface():
			return nil, exception.Newf(exception.ClassIncompatibleClassChangeError,
				"Found class %s, but interface was expected", callee.Name())
		case refKind == cpool.RefInvokeVirtual && ik.IsInterface():
			return nil, exception.Newf(exception.ClassIncompatibleClassChangeError,
				"Found interface %s, but class was expected", callee.Name())
		case (refKind == cpool.RefNewInvokeSpecial) != (n == "<init>"):
			return nil, exception.New(exception.ClassNoSuchMethodError, member)
		}
		var m *classfile.MethodInfo
		if owner, m = ik.FindMethod(n, sig); m == nil {
			return nil, exception.New(exception.ClassNoSuchMethodError, member)
		}
		access = m.AccessFlags
		if refKind != cpool.RefNewInvokeSpecial && (access&classfile.AccStatic != 0) != refKind.IsStatic() {
			return nil, exception.Newf(exception.ClassIncompatibleClassChangeError,
				"Expected %s method %s", staticness(refKind), member)
		}
	}
	if access&classfile.AccPrivate != 0 && cpool.Klass(owner) != holder {
		return nil, exception.Newf(exception.ClassIllegalAccessError,
			"class %s tried to access private member %s", holder.Name(), member)
	}

	dictionaryLog.Debugf("linked %s %s for %s", refKind, member, holder.Name())
	return &MethodHandle{Kind: refKind, Holder: owner, Name: n, Descriptor: sig}, nil
}

func staticness(k cpool.RefKind) string {
	if k.IsStatic() {
		return "static"
	}
	return "non-static"
}

// FindMethodType resolves every class signature names through the loader
// of holder.
func (d *Dictionary) FindMethodType(signature *symbol.Symbol, holder cpool.Klass) (cpool.Object, error) {
	sig := signature.String()
	params, ret, err := parseMethodDescriptor(sig)
	if err != nil {
		return nil, exception.New(exception.ClassClassFormatError, err.Error())
	}
	loader := d.boot
	if holder != nil {
		if cl, ok := holder.Loader().(ClassLoader); ok {
			loader = cl
		}
	}
	mt := &MethodType{Descriptor: sig}
	for _, t := range append(params, ret) {
		name, ok := referencedClass(t)
		if !ok {
			continue
		}
		k, err := d.resolve(name, loader, nil)
		if err != nil {
			return nil, err
		}
		mt.Classes = append(mt.Classes, k)
	}
	return mt, nil
}

// InvokeBootstrap resolves the bootstrap method and its static arguments,
// then runs the registered Go implementation.
func (d *Dictionary) InvokeBootstrap(info *cpool.BootstrapInfo) error {
	bsm, err := info.ResolveMethod()
	if err != nil {
		return err
	}
	mh, ok := bsm.(*MethodHandle)
	if !ok {
		return exception.Newf(exception.ClassBootstrapMethodError, "bootstrap method %v is not a method handle", bsm)
	}
	d.mu.RLock()
	fn := d.bootstraps[mh.Key()]
	d.mu.RUnlock()
	if fn == nil {
		return exception.Newf(exception.ClassBootstrapMethodError, "no bootstrap method registered for %s", mh.Key())
	}
	args, err := info.ResolveArguments()
	if err != nil {
		return err
	}

	caller, _ := info.Pool().Holder().(*InstanceKlass)
	result, err := fn(&BootstrapCall{Info: info, Caller: caller, Method: mh, Args: args})
	if err != nil {
		return err
	}
	if !info.IsDynamicConstant() {
		switch r := result.(type) {
		case nil, *CallSite:
		case *MethodHandle:
			result = &CallSite{Name: info.Name.String(), Type: info.Signature.String(), Target: r}
		default:
			return exception.Newf(exception.ClassBootstrapMethodError,
				"call site bootstrap %s returned %T", mh.Key(), result)
		}
	}
	dictionaryLog.Debugf("bootstrap %s produced %v", info, result)
	info.SetResult(result)
	return nil
}
