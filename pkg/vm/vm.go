package vm

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"slices"
	"sync"

	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"

	"github.com/daimatz/gocpool/pkg/classfile"
	"github.com/daimatz/gocpool/pkg/cpool"
	"github.com/daimatz/gocpool/pkg/exception"
	"github.com/daimatz/gocpool/pkg/symbol"
)

var vmLog = commonlog.GetLogger("vm")

// maxFrameDepth is the maximum number of nested method calls.
const maxFrameDepth = 1024

// VM wires the class-loading subsystem and the string and error tables
// into the runtime constant pools resolve against, and runs bytecode that
// refers to them.
type VM struct {
	Symbols    *symbol.Table
	Dictionary *Dictionary
	Strings    *StringTable
	Errors     *cpool.ErrorTable
	Loader     ClassLoader

	runtime *cpool.Runtime

	mu     sync.Mutex
	frames []*Frame
	active map[*cpool.ConstantPool]int // running frames per pool
}

// NewVM creates a VM that loads classes through loader by default. Boot is
// the loader pools of boot classes resolve against; a nil loader means boot.
func NewVM(boot, loader ClassLoader) *VM {
	if loader == nil {
		loader = boot
	}
	symbols := symbol.NewTable()
	vm := &VM{
		Symbols:    symbols,
		Dictionary: NewDictionary(symbols, boot),
		Strings:    NewStringTable(),
		Errors:     cpool.NewErrorTable(),
		Loader:     loader,
		active:     make(map[*cpool.ConstantPool]int),
	}
	vm.runtime = &cpool.Runtime{
		Symbols:    vm.Symbols,
		Dictionary: vm.Dictionary,
		Strings:    vm.Strings,
		Errors:     vm.Errors,
	}
	vm.Dictionary.rt = vm.runtime
	return vm
}

// Runtime returns the collaborators every pool of this VM is attached to.
func (vm *VM) Runtime() *cpool.Runtime { return vm.runtime }

// LoadClass loads name through the VM's default loader.
func (vm *VM) LoadClass(name string) (*InstanceKlass, error) {
	k, err := vm.Dictionary.Resolve(name, vm.Loader)
	if err != nil {
		return nil, err
	}
	ik, ok := k.(*InstanceKlass)
	if !ok {
		return nil, fmt.Errorf("%s is an array class", name)
	}
	return ik, nil
}

// Invoke runs the static method name with the given descriptor.
func (vm *VM) Invoke(k *InstanceKlass, name, descriptor string, args ...Value) (Value, error) {
	owner, method := k.FindMethod(name, descriptor)
	if method == nil {
		return Value{}, fmt.Errorf("method %s.%s%s not found", k.Name(), name, descriptor)
	}
	return vm.executeMethod(owner, method, args, 0)
}

// executeMethod executes a method with the given arguments and returns its return value.
func (vm *VM) executeMethod(class *InstanceKlass, method *classfile.MethodInfo, args []Value, depth int) (Value, error) {
	if method.Code == nil {
		return Value{}, fmt.Errorf("method %s has no Code attribute", method.Name)
	}
	if depth > maxFrameDepth {
		return Value{}, exception.Newf(exception.ClassStackOverflowError, "frame depth exceeded %d", maxFrameDepth)
	}

	frame := NewFrame(class, method)
	vm.pushFrame(frame)
	defer vm.popFrame(frame)

	// Set arguments into local variables
	for i, arg := range args {
		frame.SetLocal(i, arg)
	}

	// Execution loop
	for frame.PC < len(frame.Code) {
		opcode := frame.Code[frame.PC]
		frame.PC++

		retVal, hasReturn, err := vm.executeInstruction(frame, opcode, depth)
		if err != nil {
			return Value{}, err
		}
		if hasReturn {
			return retVal, nil
		}
	}

	// Fell off the end of the method (implicit return for void methods)
	return Value{}, nil
}

// pushFrame registers f and pins its pool until the last frame using it
// is popped.
func (vm *VM) pushFrame(f *Frame) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.frames = append(vm.frames, f)
	cp := f.Pool()
	vm.active[cp]++
	cp.SetOnStack(true)
}

func (vm *VM) popFrame(f *Frame) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if i := slices.Index(vm.frames, f); i >= 0 {
		vm.frames = slices.Delete(vm.frames, i, i+1)
	}
	cp := f.Pool()
	if vm.active[cp]--; vm.active[cp] <= 0 {
		delete(vm.active, cp)
		cp.SetOnStack(false)
	}
}

// Frames returns the frames currently executing.
func (vm *VM) Frames() []*Frame {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return slices.Clone(vm.frames)
}

// MarkOnStack recomputes which pools are in use: the pools of running
// frames are marked, every other loaded pool is unmarked.
func (vm *VM) MarkOnStack() {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	for _, k := range vm.Dictionary.Loaded() {
		if ik, ok := k.(*InstanceKlass); ok {
			cp := ik.ConstantPool()
			cp.SetOnStack(vm.active[cp] > 0)
		}
	}
}

// Unload releases the constant pool of k and forgets the class. A pool
// used by a running frame, or otherwise marked on stack, is kept and
// cpool.ErrOnStack is returned.
func (vm *VM) Unload(k *InstanceKlass) error {
	vm.mu.Lock()
	cp := k.ConstantPool()
	err := cpool.ErrOnStack
	if vm.active[cp] == 0 {
		err = cp.Release()
	}
	vm.mu.Unlock()
	if err != nil {
		return fmt.Errorf("unloading %s: %w", k.Name(), err)
	}
	vm.Dictionary.remove(k)
	vmLog.Debugf("unloaded %s", k.Name())
	return nil
}

// EntryResult is the outcome of resolving one constant pool entry or one
// invokedynamic call site.
type EntryResult struct {
	Index int
	Tag   cpool.Tag
	Value cpool.Object
	Err   error
}

// ResolveReport lists the outcome of ResolveAll, ordered by index.
type ResolveReport struct {
	Entries   []EntryResult
	CallSites []EntryResult // Index is the indy index
}

// Failed counts the entries and call sites that failed to resolve.
func (r *ResolveReport) Failed() int {
	n := 0
	for _, e := range slices.Concat(r.Entries, r.CallSites) {
		if e.Err != nil {
			n++
		}
	}
	return n
}

// ResolveAll resolves every class, member reference, string, method handle,
// method type and dynamic constant of k's pool, and every invokedynamic call
// site, using up to workers goroutines. A Java-level failure is reported in
// its EntryResult; any other error stops the run.
func (vm *VM) ResolveAll(ctx context.Context, k *InstanceKlass, workers int) (*ResolveReport, error) {
	cp := k.ConstantPool()
	var indices []int
	cp.Each(func(i int, t cpool.Tag) {
		switch t.NonErrorValue() {
		case cpool.TagUnresolvedClass, cpool.TagClass, cpool.TagString,
			cpool.TagFieldref, cpool.TagMethodref, cpool.TagInterfaceMethodref,
			cpool.TagMethodHandle, cpool.TagMethodType, cpool.TagDynamic:
			indices = append(indices, i)
		}
	})
	sites := 0
	if c := cp.Cache(); c != nil {
		sites = c.IndyEntriesLength()
	}

	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	report := &ResolveReport{
		Entries:   make([]EntryResult, len(indices)),
		CallSites: make([]EntryResult, sites),
	}
	for n, i := range indices {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			tag := cp.TagAt(i)
			o, err := resolveEntry(cp, i, tag)
			if err != nil && !isThrowable(err) {
				return fmt.Errorf("resolving #%d of %s: %w", i, k.Name(), err)
			}
			report.Entries[n] = EntryResult{Index: i, Tag: tag, Value: o, Err: err}
			return nil
		})
	}
	for n := 0; n < sites; n++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			o, err := cp.ResolveInvokeDynamic(n)
			if err != nil && !isThrowable(err) {
				return fmt.Errorf("resolving call site %d of %s: %w", n, k.Name(), err)
			}
			report.CallSites[n] = EntryResult{Index: n, Tag: cpool.TagInvokeDynamic, Value: o, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	vmLog.Infof("resolved %d entries and %d call sites of %s (%d failed)",
		len(indices), sites, k.Name(), report.Failed())
	return report, nil
}

func resolveEntry(cp *cpool.ConstantPool, i int, tag cpool.Tag) (cpool.Object, error) {
	switch {
	case tag.IsFieldOrMethod():
		return cp.ResolveMemberRefAt(i)
	case tag.IsKlassOrReference() || tag.IsUnresolvedKlassInError():
		return cp.KlassAt(i)
	}
	return cp.ResolveConstantAt(i)
}

func isThrowable(err error) bool {
	var t *exception.Throwable
	return errors.As(err, &t)
}
