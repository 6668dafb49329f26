package cpool

import (
	"github.com/tliron/commonlog"
)

var mergeLog = commonlog.GetLogger("cpool.merge")

// CopyCPTo copies entries start..end (inclusive) of cp into to starting at
// toIndex, then appends cp's operands to to's. to must be long enough.
func (cp *ConstantPool) CopyCPTo(start, end int, to *ConstantPool, toIndex int) {
	dst := toIndex
	for src := start; src <= end; {
		cp.CopyEntryTo(src, to, dst)
		w := cp.TagAt(src).Width()
		src += w
		dst += w
	}
	CopyOperands(cp, to)
	mergeLog.Debugf("copied entries %d..%d to %d..%d, %d bootstrap specifiers", start, end, toIndex, dst-1, to.OperandArrayLength())
}

// CopyEntryTo copies entry i of cp to entry toIndex of to. Class entries
// arrive in ClassIndex form whatever their state so the destination starts
// unresolved; copied Utf8 symbols gain a reference; bootstrap specifier
// indices are moved past the specifiers to already holds.
func (cp *ConstantPool) CopyEntryTo(i int, to *ConstantPool, toIndex int) {
	switch t := cp.TagAt(i); t {
	case TagClassIndex:
		to.KlassIndexAtPut(toIndex, cp.KlassIndexAt(i))

	case TagClass, TagUnresolvedClass, TagUnresolvedClassInError:
		to.KlassIndexAtPut(toIndex, cp.KlassSlotAt(i).NameIndex)

	case TagDouble:
		to.DoubleAtPut(toIndex, cp.DoubleAt(i))

	case TagLong:
		to.LongAtPut(toIndex, cp.LongAt(i))

	case TagFloat:
		to.FloatAtPut(toIndex, cp.FloatAt(i))

	case TagInteger:
		to.IntAtPut(toIndex, cp.IntAt(i))

	case TagFieldref:
		to.FieldAtPut(toIndex, cp.UncachedKlassRefIndexAt(i), cp.UncachedNameAndTypeRefIndexAt(i))

	case TagMethodref:
		to.MethodAtPut(toIndex, cp.UncachedKlassRefIndexAt(i), cp.UncachedNameAndTypeRefIndexAt(i))

	case TagInterfaceMethodref:
		to.InterfaceMethodAtPut(toIndex, cp.UncachedKlassRefIndexAt(i), cp.UncachedNameAndTypeRefIndexAt(i))

	case TagNameAndType:
		to.NameAndTypeAtPut(toIndex, cp.NameRefIndexAt(i), cp.SignatureRefIndexAt(i))

	case TagStringIndex:
		to.StringIndexAtPut(toIndex, cp.StringIndexAt(i))

	case TagString:
		to.UnresolvedStringAtPut(toIndex, cp.UnresolvedStringAt(i))

	case TagUtf8:
		s := cp.SymbolAt(i)
		s.IncrementRefcount()
		to.SymbolAtPut(toIndex, s)

	case TagMethodType, TagMethodTypeInError:
		to.MethodTypeIndexAtPut(toIndex, cp.MethodTypeIndexAt(i))

	case TagMethodHandle, TagMethodHandleInError:
		to.MethodHandleIndexAtPut(toIndex, cp.MethodHandleRefKindAt(i), cp.MethodHandleIndexAt(i))

	case TagDynamic, TagDynamicInError:
		bsm := cp.BootstrapMethodsAttributeIndex(i) + to.OperandArrayLength()
		to.DynamicConstantAtPut(toIndex, bsm, cp.BootstrapNameAndTypeRefIndexAt(i))

	case TagInvokeDynamic:
		bsm := cp.BootstrapMethodsAttributeIndex(i) + to.OperandArrayLength()
		to.InvokeDynamicAtPut(toIndex, bsm, cp.BootstrapNameAndTypeRefIndexAt(i))

	default:
		cp.mustTag(i, false, "a copyable entry")
	}
}
