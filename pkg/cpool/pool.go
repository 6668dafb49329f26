// Package cpool implements the run-time constant pool: the tagged entry
// store of a loaded class together with the lock-free protocol that resolves
// its symbolic references into classes, strings, method handles and other
// heap objects.
//
// Tags and resolved values are published with sync/atomic. A reader that
// observes a resolved tag is guaranteed to observe the value stored before
// the tag, because every klass store happens before the tag CAS that
// publishes it.
package cpool

import (
	"fmt"
	"sync/atomic"

	"github.com/daimatz/gocpool/pkg/symbol"
)

// Object is a reference into the managed heap.
type Object = any

type nullObject struct{ _ byte }

// NullSentinel is cached in place of a dynamic constant that resolved to
// null, so that "resolved to null" differs from "not yet resolved".
var NullSentinel Object = &nullObject{}

// LoaderKind classifies the loader that defined a class.
type LoaderKind int

const (
	LoaderBoot LoaderKind = iota
	LoaderPlatform
	LoaderApp
	LoaderCustom
)

func (k LoaderKind) String() string {
	switch k {
	case LoaderBoot:
		return "boot"
	case LoaderPlatform:
		return "plat"
	case LoaderApp:
		return "app"
	}
	return "unreg"
}

// Builtin reports whether the loader is one of the three JDK loaders.
func (k LoaderKind) Builtin() bool {
	return k == LoaderBoot || k == LoaderPlatform || k == LoaderApp
}

// Loader is a class loader.
type Loader interface {
	Kind() LoaderKind
	Name() string
}

// Klass is a loaded class as seen by the pool.
type Klass interface {
	Name() *symbol.Symbol
	IsInterface() bool
	Loader() Loader
	Mirror() Object
}

// SystemDictionary is the class-loading and linking subsystem.
type SystemDictionary interface {
	// ResolveOrFail loads name through loader or returns the Throwable
	// explaining why it could not.
	ResolveOrFail(name *symbol.Symbol, loader Loader) (Klass, error)
	// FindLoaded returns name if loader has already loaded it.
	FindLoaded(name *symbol.Symbol, loader Loader) Klass
	// CheckAccess reports whether accessor may refer to k.
	CheckAccess(accessor, k Klass) error
	LinkMethodHandle(holder Klass, refKind RefKind, callee Klass, name, signature *symbol.Symbol) (Object, error)
	FindMethodType(signature *symbol.Symbol, holder Klass) (Object, error)
	// InvokeBootstrap runs the bootstrap method described by info and stores
	// its result with info.SetResult.
	InvokeBootstrap(info *BootstrapInfo) error
}

// StringTable interns Java strings.
type StringTable interface {
	Intern(s *symbol.Symbol) Object
}

// Runtime bundles the collaborators a pool resolves against.
type Runtime struct {
	Symbols    *symbol.Table
	Dictionary SystemDictionary
	Strings    StringTable
	Errors     *ErrorTable
}

const (
	flagOnStack uint32 = 1 << iota
	flagShared
	flagHasDynamicConstant
	flagHasPreresolution
)

// slot is one entry's payload. Constant values and packed index pairs live
// in bits; Utf8 and String entries keep their symbol in sym.
type slot struct {
	bits atomic.Uint64
	sym  atomic.Pointer[symbol.Symbol]
}

// ConstantPool is the run-time constant pool of one class.
type ConstantPool struct {
	tags     []atomic.Uint32
	slots    []slot
	operands []uint16
	klasses  []klassCell
	cache    *Cache
	holder   Klass
	rt       *Runtime
	flags    atomic.Uint32

	MajorVersion uint16
	MinorVersion uint16

	// resolvedReferenceLength is recorded when the pool is archived and the
	// references are detached; -1 otherwise.
	resolvedReferenceLength int
	archivedReferences      []Object
}

// New allocates a pool with length entries, all Invalid.
func New(length int) *ConstantPool {
	if length < 1 || length > 0xFFFF {
		panic(fmt.Sprintf("constant pool length %d out of range", length))
	}
	return &ConstantPool{
		tags:                    make([]atomic.Uint32, length),
		slots:                   make([]slot, length),
		resolvedReferenceLength: -1,
	}
}

// Length returns the number of index slots, including slot 0.
func (cp *ConstantPool) Length() int {
	return len(cp.tags)
}

// Attach installs the class owning the pool and the runtime it resolves
// against.
func (cp *ConstantPool) Attach(holder Klass, rt *Runtime) {
	cp.holder = holder
	cp.rt = rt
}

// Holder returns the class owning the pool.
func (cp *ConstantPool) Holder() Klass {
	return cp.holder
}

// Runtime returns the runtime the pool resolves against.
func (cp *ConstantPool) Runtime() *Runtime {
	return cp.rt
}

// Cache returns the pool's cache, or nil before Rewrite.
func (cp *ConstantPool) Cache() *Cache {
	return cp.cache
}

// Operands returns the raw operand array. Callers must not modify it.
func (cp *ConstantPool) Operands() []uint16 {
	return cp.operands
}

// SetOperands installs the operand array.
func (cp *ConstantPool) SetOperands(ops []uint16) {
	cp.operands = ops
}

// HasDynamicConstant reports whether the pool holds any Dynamic entry.
func (cp *ConstantPool) HasDynamicConstant() bool {
	return cp.flags.Load()&flagHasDynamicConstant != 0
}

// HasPreresolution reports whether entries were resolved ahead of time.
func (cp *ConstantPool) HasPreresolution() bool {
	return cp.flags.Load()&flagHasPreresolution != 0
}

// SetHasPreresolution marks the pool as carrying pre-resolved entries.
func (cp *ConstantPool) SetHasPreresolution() {
	cp.setFlag(flagHasPreresolution)
}

func (cp *ConstantPool) setFlag(f uint32) {
	for {
		old := cp.flags.Load()
		if old&f != 0 || cp.flags.CompareAndSwap(old, old|f) {
			return
		}
	}
}

func (cp *ConstantPool) clearFlag(f uint32) {
	for {
		old := cp.flags.Load()
		if old&f == 0 || cp.flags.CompareAndSwap(old, old&^f) {
			return
		}
	}
}

// IsValidIndex reports whether i names an entry (slot 0 does not).
func (cp *ConstantPool) IsValidIndex(i int) bool {
	return i > 0 && i < len(cp.tags)
}

// TagAt returns the tag at i.
func (cp *ConstantPool) TagAt(i int) Tag {
	return Tag(cp.tags[i].Load())
}

// TagAtPut stores a tag without touching the payload.
func (cp *ConstantPool) TagAtPut(i int, t Tag) {
	cp.tags[i].Store(uint32(t))
}

// casTag swaps the tag at i from old to new and returns the tag that was
// there, whether or not the swap happened.
func (cp *ConstantPool) casTag(i int, old, new Tag) Tag {
	for {
		if cp.tags[i].CompareAndSwap(uint32(old), uint32(new)) {
			return old
		}
		if cur := Tag(cp.tags[i].Load()); cur != old {
			return cur
		}
	}
}

// next returns the index of the entry following i.
func (cp *ConstantPool) next(i int) int {
	return i + cp.TagAt(i).Width()
}

// Each calls fn for every entry in index order, skipping the second slot of
// Long and Double entries.
func (cp *ConstantPool) Each(fn func(i int, t Tag)) {
	for i := 1; i < len(cp.tags); i = cp.next(i) {
		fn(i, cp.TagAt(i))
	}
}

func (cp *ConstantPool) mustTag(i int, ok bool, want string) {
	if !ok {
		panic(fmt.Sprintf("constant pool entry #%d is %s, want %s", i, cp.TagAt(i), want))
	}
}

// Grow extends the entry store to length, keeping existing entries. New
// slots are Invalid. It must not race with readers.
func (cp *ConstantPool) Grow(length int) {
	if length <= len(cp.tags) {
		return
	}
	tags := make([]atomic.Uint32, length)
	slots := make([]slot, length)
	for i := range cp.tags {
		tags[i].Store(cp.tags[i].Load())
		slots[i].bits.Store(cp.slots[i].bits.Load())
		slots[i].sym.Store(cp.slots[i].sym.Load())
	}
	cp.tags = tags
	cp.slots = slots
}

// String describes the pool in one line.
func (cp *ConstantPool) String() string {
	s := fmt.Sprintf("constant pool [%d]", cp.Length())
	if cp.HasPreresolution() {
		s += "/preresolution"
	}
	if cp.operands != nil {
		s += fmt.Sprintf("/operands[%d]", len(cp.operands))
	}
	if cp.holder != nil {
		s += " for " + cp.holder.Name().String()
	}
	return s
}
