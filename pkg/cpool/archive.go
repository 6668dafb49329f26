package cpool

import (
	"github.com/tliron/commonlog"
)

var archiveLog = commonlog.GetLogger("cpool.archive")

// DeterminismFunc decides whether the resolution of entry cpIndex of cp to
// k would resolve the same way in every run. For invokedynamic call sites k
// is nil.
type DeterminismFunc func(cp *ConstantPool, cpIndex int, k Klass) bool

// ArchivePolicy controls what Archive keeps.
type ArchivePolicy struct {
	IsResolutionDeterministic DeterminismFunc
	// MaxStringLength excludes longer resolved strings; 0 means no limit.
	MaxStringLength int
	// ArchiveHeapObjects keeps resolved references as an object graph to be
	// installed at restore time instead of recreating an empty table.
	ArchiveHeapObjects bool
	// ArchiveMethodHandles keeps deterministic invokedynamic call sites.
	ArchiveMethodHandles bool
}

// DeterministicLoaders returns a DeterminismFunc accepting classes defined
// by one of kinds, for holders defined by a builtin loader.
func DeterministicLoaders(kinds ...LoaderKind) DeterminismFunc {
	return func(cp *ConstantPool, cpIndex int, k Klass) bool {
		if cp.holder == nil || !loaderKindOf(cp.holder).Builtin() {
			return false
		}
		if k == nil {
			return true
		}
		kind := loaderKindOf(k)
		for _, want := range kinds {
			if kind == want {
				return true
			}
		}
		return false
	}
}

// ArchiveStats counts what happened to the class entries of an archived
// pool.
type ArchiveStats struct {
	KlassEntries       int
	ArchivedKlasses    int
	RevertedKlasses    int
	RevertedErrors     int
	ArchivedReferences int
}

// Archive returns a shareable copy of cp. The copy keeps only resolved
// classes the policy deems deterministic, drops error states and per-run
// caches, and records the size of the resolved references so that restore
// can recreate them. cp itself is left untouched.
func (cp *ConstantPool) Archive(policy ArchivePolicy) (*ConstantPool, ArchiveStats) {
	refs := cp.PrepareResolvedReferencesForArchiving(policy)
	c := cp.deepCopy()
	stats := c.removeUnshareableInfo(policy, cp)
	if policy.ArchiveHeapObjects && refs != nil {
		c.archivedReferences = refs
		for _, o := range refs {
			if o != nil {
				stats.ArchivedReferences++
			}
		}
	}
	return c, stats
}

func (cp *ConstantPool) deepCopy() *ConstantPool {
	c := New(cp.Length())
	for i := range cp.tags {
		t := cp.TagAt(i)
		c.slots[i].bits.Store(cp.slots[i].bits.Load())
		c.slots[i].sym.Store(cp.slots[i].sym.Load())
		if t.IsSymbol() {
			c.slots[i].sym.Load().IncrementRefcount()
		}
		c.TagAtPut(i, t)
	}
	c.operands = append([]uint16(nil), cp.operands...)
	if cp.klasses != nil {
		c.klasses = make([]klassCell, len(cp.klasses))
		for i := range cp.klasses {
			c.klasses[i].store(cp.klasses[i].load())
		}
	}
	if cp.cache != nil {
		c.cache = cp.cache.copyStructure()
		if refs := cp.ResolvedReferences(); refs != nil {
			c.cache.references.Store(referencesFrom(refs.Objects()))
		}
	}
	c.holder = cp.holder
	c.rt = cp.rt
	c.flags.Store(cp.flags.Load() &^ flagOnStack)
	c.MajorVersion = cp.MajorVersion
	c.MinorVersion = cp.MinorVersion
	c.resolvedReferenceLength = cp.resolvedReferenceLength
	return c
}

// RemoveUnshareableInfo turns cp into its shareable form in place. src is
// the pool cp was copied from, consulted by the determinism predicate; pass
// cp itself when archiving in place.
func (cp *ConstantPool) RemoveUnshareableInfo(policy ArchivePolicy, src *ConstantPool) ArchiveStats {
	return cp.removeUnshareableInfo(policy, src)
}

func (cp *ConstantPool) removeUnshareableInfo(policy ArchivePolicy, src *ConstantPool) ArchiveStats {
	// Shared pools are never reclaimed, so they stay on stack for good.
	cp.setFlag(flagOnStack | flagShared)
	if cp.cache != nil {
		n := 0
		if refs := cp.ResolvedReferences(); refs != nil {
			n = refs.Len()
		}
		cp.resolvedReferenceLength = n
		cp.cache.references.Store(nil)
	}
	stats := cp.removeUnshareableEntries(policy, src)
	if cp.cache != nil {
		cp.cache.removeUnshareableInfo()
	}
	return stats
}

func (cp *ConstantPool) removeUnshareableEntries(policy ArchivePolicy, src *ConstantPool) ArchiveStats {
	archiveLog.Infof("archiving CP entries for %s", cp.holderName())
	var stats ArchiveStats
	cp.Each(func(i int, t Tag) {
		switch t {
		case TagUnresolvedClass:
			stats.KlassEntries++
		case TagUnresolvedClassInError:
			cp.TagAtPut(i, TagUnresolvedClass)
			stats.KlassEntries++
			stats.RevertedErrors++
		case TagMethodHandleInError, TagMethodTypeInError, TagDynamicInError:
			cp.TagAtPut(i, t.NonErrorValue())
			stats.RevertedErrors++
		case TagClass:
			stats.KlassEntries++
			if cp.removeResolvedKlassIfNonDeterministic(i, policy, src) {
				stats.ArchivedKlasses++
			} else {
				stats.RevertedKlasses++
			}
		}
	})
	return stats
}

func (cp *ConstantPool) removeResolvedKlassIfNonDeterministic(i int, policy ArchivePolicy, src *ConstantPool) bool {
	k := cp.ResolvedKlassAt(i)
	canArchive := k != nil && policy.IsResolutionDeterministic != nil &&
		policy.IsResolutionDeterministic(src, i, k)
	if !canArchive {
		// Tag first so no reader sees Class with an empty slot.
		cp.TagAtPut(i, TagUnresolvedClass)
		cp.klasses[cp.KlassSlotAt(i).ResolvedKlassIndex].store(nil)
		archiveLog.Debugf("reverted klass CP entry [%3d]: %s %s => %s", i, cp.holderName(), cp.holderKind(), cp.KlassNameAt(i))
		return false
	}
	archiveLog.Debugf("archived klass CP entry [%3d]: %s %s => %s %s", i, cp.holderName(), cp.holderKind(), k.Name(), loaderKindOf(k))
	return true
}

func (cp *ConstantPool) holderKind() LoaderKind {
	if cp.holder == nil {
		return LoaderCustom
	}
	return loaderKindOf(cp.holder)
}

// PrepareResolvedReferencesForArchiving returns the resolved references
// worth persisting: strings no longer than the policy allows and, when
// method handles are archived, deterministic call sites together with their
// bootstrap methods. Everything else reads as nil. It returns nil for pools
// without resolved references or held by a non-builtin loader.
func (cp *ConstantPool) PrepareResolvedReferencesForArchiving(policy ArchivePolicy) []Object {
	refs := cp.ResolvedReferences()
	if refs == nil || cp.holder == nil || !loaderKindOf(cp.holder).Builtin() {
		return nil
	}
	keep := make([]bool, refs.Len())
	if policy.ArchiveMethodHandles && policy.IsResolutionDeterministic != nil {
		for n := range cp.cache.indys {
			e := &cp.cache.indys[n]
			if !e.IsResolved() || !policy.IsResolutionDeterministic(cp, e.CPIndex, nil) {
				continue
			}
			keep[e.ReferencesIndex] = true
			if bsm := cp.CPToObjectIndex(cp.BootstrapMethodRefIndexAt(e.CPIndex)); bsm >= 0 {
				keep[bsm] = true
			}
		}
	}

	mapped := len(cp.cache.referenceMap)
	out := make([]Object, refs.Len())
	for n := range out {
		o := refs.At(n)
		if o == nil {
			continue
		}
		if n < mapped {
			if i := cp.ObjectToCPIndex(n); cp.TagAt(i).IsString() {
				if policy.MaxStringLength == 0 || cp.UnresolvedStringAt(i).Len() <= policy.MaxStringLength {
					out[n] = o
				}
				continue
			}
		}
		if keep[n] {
			out[n] = o
		}
	}
	return out
}

// ResolvedReferenceLength returns the recorded size of the resolved
// references of an archived pool, or -1.
func (cp *ConstantPool) ResolvedReferenceLength() int {
	return cp.resolvedReferenceLength
}

// ArchivedReferences returns the object graph kept by Archive.
func (cp *ConstantPool) ArchivedReferences() []Object {
	return cp.archivedReferences
}

// RestoreUnshareableInfo recreates the per-run state of an archived pool:
// the resolved references come from the archived objects if there are any,
// else from a fresh table of the recorded length. It does nothing if the
// references already exist.
func (cp *ConstantPool) RestoreUnshareableInfo() {
	if cp.cache == nil || cp.cache.references.Load() != nil {
		return
	}
	switch {
	case cp.archivedReferences != nil:
		cp.cache.references.Store(referencesFrom(cp.archivedReferences))
		cp.archivedReferences = nil
	case cp.resolvedReferenceLength > 0:
		cp.cache.references.Store(NewReferences(cp.resolvedReferenceLength))
	}
	// Archived call sites are bound again.
	if refs := cp.cache.references.Load(); refs != nil {
		for n := range cp.cache.indys {
			e := &cp.cache.indys[n]
			if refs.At(e.ReferencesIndex) != nil {
				e.state.Store(indyResolved)
			}
		}
	}
}
