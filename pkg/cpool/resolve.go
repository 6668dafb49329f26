package cpool

import (
	"github.com/tliron/commonlog"
)

var resolveLog = commonlog.GetLogger("cpool.resolve")

func (cp *ConstantPool) loader() Loader {
	if cp.holder == nil {
		return nil
	}
	return cp.holder.Loader()
}

func (cp *ConstantPool) verifyResolve(k Klass) error {
	if cp.holder == nil {
		return nil
	}
	return cp.rt.Dictionary.CheckAccess(cp.holder, k)
}

// KlassAt resolves the class entry at i. Concurrent callers may each load
// the class, but all of them return the class that was published first, and
// a failure is recorded so that later calls replay it.
func (cp *ConstantPool) KlassAt(i int) (Klass, error) {
	kslot := cp.KlassSlotAt(i)
	cell := &cp.klasses[kslot.ResolvedKlassIndex]

	switch cp.TagAt(i) {
	case TagClass:
		k := cell.load()
		if k == nil {
			panic("resolved class entry without a klass")
		}
		return k, nil
	case TagUnresolvedClassInError:
		return nil, cp.throwResolutionError(i)
	}

	name := cp.SymbolAt(kslot.NameIndex)
	k, err := cp.rt.Dictionary.ResolveOrFail(name, cp.loader())
	if err == nil {
		err = cp.verifyResolve(k)
	}
	if err != nil {
		if err := cp.saveAndThrow(i, TagUnresolvedClass, err); err != nil {
			return nil, err
		}
		k := cell.load()
		if k == nil {
			panic("class entry resolved concurrently without a klass")
		}
		return k, nil
	}

	resolveLog.Debugf("%s %s (%s)", cp.holderName(), k.Name(), loaderKindOf(k))

	// The klass must be visible before the tag says it is resolved.
	k = cell.publish(k)
	if cp.casTag(i, TagUnresolvedClass, TagClass) == TagUnresolvedClassInError {
		cell.store(nil)
		return nil, cp.throwResolutionError(i)
	}
	return k, nil
}

// KlassAtIfLoaded returns the class of entry i without loading anything or
// recording errors. It returns nil when the class is not loaded, the entry
// is in error or the access check fails.
func (cp *ConstantPool) KlassAtIfLoaded(i int) Klass {
	kslot := cp.KlassSlotAt(i)
	switch cp.TagAt(i) {
	case TagClass:
		return cp.klasses[kslot.ResolvedKlassIndex].load()
	case TagUnresolvedClassInError:
		return nil
	}
	k := cp.rt.Dictionary.FindLoaded(cp.SymbolAt(kslot.NameIndex), cp.loader())
	if k == nil {
		return nil
	}
	if err := cp.verifyResolve(k); err != nil {
		return nil
	}
	return k
}

func (cp *ConstantPool) holderName() string {
	if cp.holder == nil {
		return "<no holder>"
	}
	return cp.holder.Name().String()
}

func loaderKindOf(k Klass) LoaderKind {
	if l := k.Loader(); l != nil {
		return l.Kind()
	}
	return LoaderBoot
}
