package cpool

import (
	"math"
	"strconv"

	"github.com/daimatz/gocpool/pkg/symbol"
)

// RefKind is a method handle's reference kind.
type RefKind uint8

const (
	RefGetField         RefKind = 1
	RefGetStatic        RefKind = 2
	RefPutField         RefKind = 3
	RefPutStatic        RefKind = 4
	RefInvokeVirtual    RefKind = 5
	RefInvokeStatic     RefKind = 6
	RefInvokeSpecial    RefKind = 7
	RefNewInvokeSpecial RefKind = 8
	RefInvokeInterface  RefKind = 9
)

// IsField reports the four field reference kinds.
func (k RefKind) IsField() bool { return k >= RefGetField && k <= RefPutStatic }

// IsStatic reports getStatic, putStatic and invokeStatic.
func (k RefKind) IsStatic() bool {
	return k == RefGetStatic || k == RefPutStatic || k == RefInvokeStatic
}

var refKindNames = [...]string{
	RefGetField:         "getField",
	RefGetStatic:        "getStatic",
	RefPutField:         "putField",
	RefPutStatic:        "putStatic",
	RefInvokeVirtual:    "invokeVirtual",
	RefInvokeStatic:     "invokeStatic",
	RefInvokeSpecial:    "invokeSpecial",
	RefNewInvokeSpecial: "newInvokeSpecial",
	RefInvokeInterface:  "invokeInterface",
}

func (k RefKind) String() string {
	if int(k) < len(refKindNames) && refKindNames[k] != "" {
		return refKindNames[k]
	}
	return "refKind(" + strconv.Itoa(int(k)) + ")"
}

func pack(lo, hi int) uint64 {
	return uint64(uint16(lo)) | uint64(uint16(hi))<<16
}

func low(bits uint64) int  { return int(uint16(bits)) }
func high(bits uint64) int { return int(uint16(bits >> 16)) }

func (cp *ConstantPool) put(i int, t Tag, bits uint64) {
	cp.slots[i].sym.Store(nil)
	cp.slots[i].bits.Store(bits)
	cp.TagAtPut(i, t)
}

func (cp *ConstantPool) bitsAt(i int) uint64 {
	return cp.slots[i].bits.Load()
}

// SymbolAtPut stores a Utf8 entry. The pool takes over the caller's
// reference to sym.
func (cp *ConstantPool) SymbolAtPut(i int, sym *symbol.Symbol) {
	cp.slots[i].bits.Store(0)
	cp.slots[i].sym.Store(sym)
	cp.TagAtPut(i, TagUtf8)
}

// SymbolAt returns the symbol of a Utf8 entry.
func (cp *ConstantPool) SymbolAt(i int) *symbol.Symbol {
	cp.mustTag(i, cp.TagAt(i).IsSymbol(), "Utf8")
	return cp.slots[i].sym.Load()
}

// IntAtPut stores an Integer entry.
func (cp *ConstantPool) IntAtPut(i int, v int32) {
	cp.put(i, TagInteger, uint64(uint32(v)))
}

// IntAt returns an Integer entry.
func (cp *ConstantPool) IntAt(i int) int32 {
	cp.mustTag(i, cp.TagAt(i) == TagInteger, "Integer")
	return int32(uint32(cp.bitsAt(i)))
}

// FloatAtPut stores a Float entry.
func (cp *ConstantPool) FloatAtPut(i int, v float32) {
	cp.put(i, TagFloat, uint64(math.Float32bits(v)))
}

// FloatAt returns a Float entry.
func (cp *ConstantPool) FloatAt(i int) float32 {
	cp.mustTag(i, cp.TagAt(i) == TagFloat, "Float")
	return math.Float32frombits(uint32(cp.bitsAt(i)))
}

// LongAtPut stores a Long entry and marks the following slot Invalid.
func (cp *ConstantPool) LongAtPut(i int, v int64) {
	cp.put(i, TagLong, uint64(v))
	cp.put(i+1, TagInvalid, 0)
}

// LongAt returns a Long entry.
func (cp *ConstantPool) LongAt(i int) int64 {
	cp.mustTag(i, cp.TagAt(i) == TagLong, "Long")
	return int64(cp.bitsAt(i))
}

// DoubleAtPut stores a Double entry and marks the following slot Invalid.
func (cp *ConstantPool) DoubleAtPut(i int, v float64) {
	cp.put(i, TagDouble, math.Float64bits(v))
	cp.put(i+1, TagInvalid, 0)
}

// DoubleAt returns a Double entry.
func (cp *ConstantPool) DoubleAt(i int) float64 {
	cp.mustTag(i, cp.TagAt(i) == TagDouble, "Double")
	return math.Float64frombits(cp.bitsAt(i))
}

// KlassIndexAtPut stores a parse-time class entry naming the Utf8 at
// nameIndex.
func (cp *ConstantPool) KlassIndexAtPut(i, nameIndex int) {
	cp.put(i, TagClassIndex, pack(nameIndex, 0))
}

// KlassIndexAt returns the name index of a parse-time class entry.
func (cp *ConstantPool) KlassIndexAt(i int) int {
	cp.mustTag(i, cp.TagAt(i) == TagClassIndex, "ClassIndex")
	return low(cp.bitsAt(i))
}

// UnresolvedKlassAtPut stores an unresolved class entry bound to a slot in
// the resolved klasses table.
func (cp *ConstantPool) UnresolvedKlassAtPut(i, nameIndex, resolvedKlassIndex int) {
	cp.put(i, TagUnresolvedClass, pack(nameIndex, resolvedKlassIndex))
}

// StringIndexAtPut stores a parse-time string entry naming the Utf8 at
// utf8Index.
func (cp *ConstantPool) StringIndexAtPut(i, utf8Index int) {
	cp.put(i, TagStringIndex, pack(utf8Index, 0))
}

// StringIndexAt returns the Utf8 index of a parse-time string entry.
func (cp *ConstantPool) StringIndexAt(i int) int {
	cp.mustTag(i, cp.TagAt(i) == TagStringIndex, "StringIndex")
	return low(cp.bitsAt(i))
}

// UnresolvedStringAtPut stores a String entry. The pool does not take a
// reference: the symbol is owned by the Utf8 entry it came from.
func (cp *ConstantPool) UnresolvedStringAtPut(i int, sym *symbol.Symbol) {
	cp.slots[i].bits.Store(0)
	cp.slots[i].sym.Store(sym)
	cp.TagAtPut(i, TagString)
}

// UnresolvedStringAt returns the symbol of a String entry, resolved or not.
func (cp *ConstantPool) UnresolvedStringAt(i int) *symbol.Symbol {
	switch t := cp.TagAt(i); t {
	case TagString:
		return cp.slots[i].sym.Load()
	case TagStringIndex:
		return cp.SymbolAt(low(cp.bitsAt(i)))
	}
	cp.mustTag(i, false, "String")
	return nil
}

// FieldAtPut stores a Fieldref entry.
func (cp *ConstantPool) FieldAtPut(i, classIndex, natIndex int) {
	cp.put(i, TagFieldref, pack(classIndex, natIndex))
}

// MethodAtPut stores a Methodref entry.
func (cp *ConstantPool) MethodAtPut(i, classIndex, natIndex int) {
	cp.put(i, TagMethodref, pack(classIndex, natIndex))
}

// InterfaceMethodAtPut stores an InterfaceMethodref entry.
func (cp *ConstantPool) InterfaceMethodAtPut(i, classIndex, natIndex int) {
	cp.put(i, TagInterfaceMethodref, pack(classIndex, natIndex))
}

// NameAndTypeAtPut stores a NameAndType entry.
func (cp *ConstantPool) NameAndTypeAtPut(i, nameIndex, signatureIndex int) {
	cp.put(i, TagNameAndType, pack(nameIndex, signatureIndex))
}

// MethodHandleIndexAtPut stores a MethodHandle entry.
func (cp *ConstantPool) MethodHandleIndexAtPut(i int, refKind RefKind, refIndex int) {
	cp.put(i, TagMethodHandle, pack(int(refKind), refIndex))
}

// MethodTypeIndexAtPut stores a MethodType entry.
func (cp *ConstantPool) MethodTypeIndexAtPut(i, signatureIndex int) {
	cp.put(i, TagMethodType, pack(signatureIndex, 0))
}

// DynamicConstantAtPut stores a Dynamic entry referring to bootstrap
// specifier bsmIndex in the operand table.
func (cp *ConstantPool) DynamicConstantAtPut(i, bsmIndex, natIndex int) {
	cp.put(i, TagDynamic, pack(bsmIndex, natIndex))
	cp.setFlag(flagHasDynamicConstant)
}

// InvokeDynamicAtPut stores an InvokeDynamic entry.
func (cp *ConstantPool) InvokeDynamicAtPut(i, bsmIndex, natIndex int) {
	cp.put(i, TagInvokeDynamic, pack(bsmIndex, natIndex))
}

// KlassNameIndexAt returns the Utf8 index naming a class entry in any of
// its states.
func (cp *ConstantPool) KlassNameIndexAt(i int) int {
	cp.mustTag(i, cp.TagAt(i).IsKlassOrReference(), "Class")
	return low(cp.bitsAt(i))
}

// KlassNameAt returns the name of a class entry.
func (cp *ConstantPool) KlassNameAt(i int) *symbol.Symbol {
	return cp.SymbolAt(cp.KlassNameIndexAt(i))
}

// UncachedKlassRefIndexAt returns the class index of a member reference.
func (cp *ConstantPool) UncachedKlassRefIndexAt(i int) int {
	cp.mustTag(i, cp.TagAt(i).IsFieldOrMethod(), "Fieldref or Methodref")
	return low(cp.bitsAt(i))
}

// UncachedNameAndTypeRefIndexAt returns the NameAndType index of a member
// reference, Dynamic or InvokeDynamic entry.
func (cp *ConstantPool) UncachedNameAndTypeRefIndexAt(i int) int {
	t := cp.TagAt(i)
	cp.mustTag(i, t.IsFieldOrMethod() || t.HasBootstrap(), "member reference")
	return high(cp.bitsAt(i))
}

func (cp *ConstantPool) nameAndTypeAt(i int) uint64 {
	cp.mustTag(i, cp.TagAt(i) == TagNameAndType, "NameAndType")
	return cp.bitsAt(i)
}

// NameRefIndexAt returns the name index of the NameAndType at natIndex.
func (cp *ConstantPool) NameRefIndexAt(natIndex int) int {
	return low(cp.nameAndTypeAt(natIndex))
}

// SignatureRefIndexAt returns the descriptor index of the NameAndType at
// natIndex.
func (cp *ConstantPool) SignatureRefIndexAt(natIndex int) int {
	return high(cp.nameAndTypeAt(natIndex))
}

// UncachedNameRefAt returns the member name of a member reference, Dynamic
// or InvokeDynamic entry.
func (cp *ConstantPool) UncachedNameRefAt(i int) *symbol.Symbol {
	return cp.SymbolAt(cp.NameRefIndexAt(cp.UncachedNameAndTypeRefIndexAt(i)))
}

// UncachedSignatureRefAt returns the descriptor of a member reference,
// Dynamic or InvokeDynamic entry.
func (cp *ConstantPool) UncachedSignatureRefAt(i int) *symbol.Symbol {
	return cp.SymbolAt(cp.SignatureRefIndexAt(cp.UncachedNameAndTypeRefIndexAt(i)))
}

// UncachedKlassRefNameAt returns the class name of a member reference
// without resolving it.
func (cp *ConstantPool) UncachedKlassRefNameAt(i int) *symbol.Symbol {
	return cp.KlassNameAt(cp.UncachedKlassRefIndexAt(i))
}

// MethodHandleRefKindAt returns the reference kind of a MethodHandle entry.
func (cp *ConstantPool) MethodHandleRefKindAt(i int) RefKind {
	cp.mustTag(i, cp.TagAt(i).IsMethodHandle(), "MethodHandle")
	return RefKind(low(cp.bitsAt(i)))
}

// MethodHandleIndexAt returns the member reference of a MethodHandle entry.
func (cp *ConstantPool) MethodHandleIndexAt(i int) int {
	cp.mustTag(i, cp.TagAt(i).IsMethodHandle(), "MethodHandle")
	return high(cp.bitsAt(i))
}

// MethodHandleKlassIndexAt returns the class index of the member a
// MethodHandle refers to.
func (cp *ConstantPool) MethodHandleKlassIndexAt(i int) int {
	return cp.UncachedKlassRefIndexAt(cp.MethodHandleIndexAt(i))
}

// MethodHandleNameRefAt returns the name of the member a MethodHandle
// refers to.
func (cp *ConstantPool) MethodHandleNameRefAt(i int) *symbol.Symbol {
	return cp.UncachedNameRefAt(cp.MethodHandleIndexAt(i))
}

// MethodHandleSignatureRefAt returns the descriptor of the member a
// MethodHandle refers to.
func (cp *ConstantPool) MethodHandleSignatureRefAt(i int) *symbol.Symbol {
	return cp.UncachedSignatureRefAt(cp.MethodHandleIndexAt(i))
}

// MethodTypeIndexAt returns the descriptor index of a MethodType entry.
func (cp *ConstantPool) MethodTypeIndexAt(i int) int {
	cp.mustTag(i, cp.TagAt(i).IsMethodType(), "MethodType")
	return low(cp.bitsAt(i))
}

// MethodTypeSignatureAt returns the descriptor of a MethodType entry.
func (cp *ConstantPool) MethodTypeSignatureAt(i int) *symbol.Symbol {
	return cp.SymbolAt(cp.MethodTypeIndexAt(i))
}

// BootstrapMethodsAttributeIndex returns the operand-table record a Dynamic
// or InvokeDynamic entry refers to.
func (cp *ConstantPool) BootstrapMethodsAttributeIndex(i int) int {
	cp.mustTag(i, cp.TagAt(i).HasBootstrap(), "Dynamic or InvokeDynamic")
	return low(cp.bitsAt(i))
}

// BootstrapNameAndTypeRefIndexAt returns the NameAndType of a Dynamic or
// InvokeDynamic entry.
func (cp *ConstantPool) BootstrapNameAndTypeRefIndexAt(i int) int {
	cp.mustTag(i, cp.TagAt(i).HasBootstrap(), "Dynamic or InvokeDynamic")
	return high(cp.bitsAt(i))
}

// BootstrapMethodRefIndexAt returns the MethodHandle index of the bootstrap
// method of a Dynamic or InvokeDynamic entry.
func (cp *ConstantPool) BootstrapMethodRefIndexAt(i int) int {
	return cp.OperandBootstrapMethodRefIndexAt(cp.BootstrapMethodsAttributeIndex(i))
}

// BootstrapArgumentCountAt returns the number of static arguments of a
// Dynamic or InvokeDynamic entry.
func (cp *ConstantPool) BootstrapArgumentCountAt(i int) int {
	return cp.OperandArgumentCountAt(cp.BootstrapMethodsAttributeIndex(i))
}

// BootstrapArgumentIndexAt returns the pool index of static argument j.
func (cp *ConstantPool) BootstrapArgumentIndexAt(i, j int) int {
	return cp.OperandArgumentIndexAt(cp.BootstrapMethodsAttributeIndex(i), j)
}

// PrintableNameAt returns the text of a string, class or Utf8 entry, and ""
// for anything else.
func (cp *ConstantPool) PrintableNameAt(i int) string {
	t := cp.TagAt(i)
	switch {
	case t.IsString() || t == TagStringIndex:
		return cp.UnresolvedStringAt(i).String()
	case t.IsKlassOrReference():
		return cp.KlassNameAt(i).String()
	case t.IsSymbol():
		return cp.SymbolAt(i).String()
	}
	return ""
}
