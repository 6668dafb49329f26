package cpool

import "fmt"

// The operand array starts with one u4 offset per bootstrap specifier,
// stored as two u16 (low half first). Each offset locates a record
// [bootstrap method index, argument count, argument indices...].

// BootstrapSpecifier is one record of the operand table.
type BootstrapSpecifier struct {
	MethodRef int
	Args      []int
}

// BuildOperands lays out specs as an operand array.
func BuildOperands(specs []BootstrapSpecifier) []uint16 {
	if len(specs) == 0 {
		return nil
	}
	size := 2 * len(specs)
	for _, s := range specs {
		size += 2 + len(s.Args)
	}
	ops := make([]uint16, size)
	offset := 2 * len(specs)
	for n, s := range specs {
		operandOffsetAtPut(ops, n, offset)
		ops[offset] = uint16(s.MethodRef)
		ops[offset+1] = uint16(len(s.Args))
		for j, a := range s.Args {
			ops[offset+2+j] = uint16(a)
		}
		offset += 2 + len(s.Args)
	}
	return ops
}

// OperandArrayLength returns the number of bootstrap specifiers in ops.
func OperandArrayLength(ops []uint16) int {
	if len(ops) == 0 {
		return 0
	}
	return operandOffsetAt(ops, 0) / 2
}

func operandOffsetAt(ops []uint16, n int) int {
	return int(uint32(ops[2*n]) | uint32(ops[2*n+1])<<16)
}

func operandOffsetAtPut(ops []uint16, n, offset int) {
	ops[2*n] = uint16(offset)
	ops[2*n+1] = uint16(offset >> 16)
}

// OperandArrayLength returns the number of bootstrap specifiers.
func (cp *ConstantPool) OperandArrayLength() int {
	return OperandArrayLength(cp.operands)
}

// OperandOffsetAt returns where specifier n starts.
func (cp *ConstantPool) OperandOffsetAt(n int) int {
	if n < 0 || n >= cp.OperandArrayLength() {
		panic(fmt.Sprintf("bootstrap specifier %d out of range [0, %d)", n, cp.OperandArrayLength()))
	}
	return operandOffsetAt(cp.operands, n)
}

// OperandBootstrapMethodRefIndexAt returns the MethodHandle index of
// specifier n.
func (cp *ConstantPool) OperandBootstrapMethodRefIndexAt(n int) int {
	return int(cp.operands[cp.OperandOffsetAt(n)])
}

// OperandArgumentCountAt returns the argument count of specifier n.
func (cp *ConstantPool) OperandArgumentCountAt(n int) int {
	return int(cp.operands[cp.OperandOffsetAt(n)+1])
}

// OperandArgumentIndexAt returns argument j of specifier n.
func (cp *ConstantPool) OperandArgumentIndexAt(n, j int) int {
	if j < 0 || j >= cp.OperandArgumentCountAt(n) {
		panic(fmt.Sprintf("bootstrap argument %d out of range for specifier %d", j, n))
	}
	return int(cp.operands[cp.OperandOffsetAt(n)+2+j])
}

// OperandNextOffsetAt returns the offset just past specifier n.
func (cp *ConstantPool) OperandNextOffsetAt(n int) int {
	return cp.OperandOffsetAt(n) + 2 + cp.OperandArgumentCountAt(n)
}

// BootstrapSpecifierAt returns a copy of specifier n.
func (cp *ConstantPool) BootstrapSpecifierAt(n int) BootstrapSpecifier {
	s := BootstrapSpecifier{
		MethodRef: cp.OperandBootstrapMethodRefIndexAt(n),
		Args:      make([]int, cp.OperandArgumentCountAt(n)),
	}
	for j := range s.Args {
		s.Args[j] = cp.OperandArgumentIndexAt(n, j)
	}
	return s
}

// ResizeOperands reallocates the operand array with deltaLen more
// specifiers and deltaSize more u16 elements. Existing offsets move by the
// growth of the offset header; record data is copied unchanged. It must not
// run concurrently with readers of the operands.
func (cp *ConstantPool) ResizeOperands(deltaLen, deltaSize int) {
	oldLen := cp.OperandArrayLength()
	newLen := oldLen + deltaLen
	minLen := newLen
	if deltaLen > 0 {
		minLen = oldLen
	}
	oldSize := len(cp.operands)
	newSize := oldSize + deltaSize
	minSize := newSize
	if deltaSize > 0 {
		minSize = oldSize
	}

	ops := make([]uint16, newSize)
	for n := 0; n < minLen; n++ {
		operandOffsetAtPut(ops, n, operandOffsetAt(cp.operands, n)+2*deltaLen)
	}
	copy(ops[2*newLen:], cp.operands[2*oldLen:2*oldLen+minSize-2*minLen])
	cp.operands = ops
}

// ExtendOperands makes room for ext's specifiers after the pool's own. The
// new specifiers are then written in order with PutOperandAt.
func (cp *ConstantPool) ExtendOperands(ext *ConstantPool) {
	deltaLen := ext.OperandArrayLength()
	if deltaLen == 0 {
		return
	}
	deltaSize := len(ext.operands)
	if cp.OperandArrayLength() == 0 {
		ops := make([]uint16, deltaSize)
		operandOffsetAtPut(ops, 0, 2*deltaLen)
		cp.operands = ops
		return
	}
	cp.ResizeOperands(deltaLen, deltaSize)
}

// PutOperandAt writes specifier n right after specifier n-1. The array must
// have room for it, see ExtendOperands.
func (cp *ConstantPool) PutOperandAt(n int, spec BootstrapSpecifier) {
	offset := 2 * cp.OperandArrayLength()
	if n > 0 {
		offset = cp.OperandNextOffsetAt(n - 1)
	}
	if offset+2+len(spec.Args) > len(cp.operands) {
		panic(fmt.Sprintf("no room for bootstrap specifier %d", n))
	}
	operandOffsetAtPut(cp.operands, n, offset)
	cp.operands[offset] = uint16(spec.MethodRef)
	cp.operands[offset+1] = uint16(len(spec.Args))
	for j, a := range spec.Args {
		cp.operands[offset+2+j] = uint16(a)
	}
}

// ShrinkOperands drops every specifier from newLen on.
func (cp *ConstantPool) ShrinkOperands(newLen int) {
	oldLen := cp.OperandArrayLength()
	if newLen == oldLen {
		return
	}
	if newLen > oldLen {
		panic("ShrinkOperands: new length is larger")
	}
	if newLen == 0 {
		cp.operands = nil
		return
	}
	freeBase := cp.OperandNextOffsetAt(newLen - 1)
	deltaLen := newLen - oldLen
	deltaSize := 2*deltaLen + freeBase - len(cp.operands)
	cp.ResizeOperands(deltaLen, deltaSize)
}

// CopyOperands appends from's specifiers to to's. The combined array is
// to's header, from's header, to's records, from's records; every appended
// offset moves past to's whole original array.
func CopyOperands(from, to *ConstantPool) {
	fromLen := from.OperandArrayLength()
	if fromLen == 0 {
		return
	}
	oldLen := to.OperandArrayLength()
	if oldLen == 0 {
		to.operands = append([]uint16(nil), from.operands...)
		return
	}
	oldSize := len(to.operands)
	fromSize := len(from.operands)
	oldOff := 2 * oldLen
	fromOff := 2 * fromLen

	ops := make([]uint16, 0, oldSize+fromSize)
	ops = append(ops, to.operands[:oldOff]...)
	ops = append(ops, from.operands[:fromOff]...)
	ops = append(ops, to.operands[oldOff:]...)
	ops = append(ops, from.operands[fromOff:]...)

	for n := 0; n < oldLen; n++ {
		operandOffsetAtPut(ops, n, operandOffsetAt(ops, n)+fromOff)
	}
	for n := 0; n < fromLen; n++ {
		operandOffsetAtPut(ops, oldLen+n, operandOffsetAt(ops, oldLen+n)+oldSize)
	}
	to.operands = ops
}
