package vm

import (
	"fmt"

	"github.com/daimatz/gocpool/pkg/bytecode"
	"github.com/daimatz/gocpool/pkg/classfile"
	"github.com/daimatz/gocpool/pkg/cpool"
	"github.com/daimatz/gocpool/pkg/native"
)

// ValueType represents the type of a Value on the stack or in local variables.
type ValueType int

const (
	TypeInt ValueType = iota
	TypeLong
	TypeFloat
	TypeDouble
	TypeRef
	TypeNull
)

// Value represents a value on the operand stack or in local variables.
// Long and double values take a single slot.
type Value struct {
	Type   ValueType
	Int    int32
	Long   int64
	Float  float32
	Double float64
	Ref    interface{}
}

// IntValue creates an integer Value.
func IntValue(v int32) Value {
	return Value{Type: TypeInt, Int: v}
}

// LongValue creates a long Value.
func LongValue(v int64) Value {
	return Value{Type: TypeLong, Long: v}
}

// FloatValue creates a float Value.
func FloatValue(v float32) Value {
	return Value{Type: TypeFloat, Float: v}
}

// DoubleValue creates a double Value.
func DoubleValue(v float64) Value {
	return Value{Type: TypeDouble, Double: v}
}

// RefValue creates a reference Value. A nil ref is the null reference.
func RefValue(ref interface{}) Value {
	if ref == nil {
		return NullValue()
	}
	return Value{Type: TypeRef, Ref: ref}
}

// NullValue creates a null reference Value.
func NullValue() Value {
	return Value{Type: TypeNull}
}

// Frame represents a stack frame for method execution.
type Frame struct {
	LocalVars    []Value
	OperandStack []Value
	SP           int
	Code         []byte
	PC           int
	Class        *InstanceKlass
	Method       *classfile.MethodInfo
}

// NewFrame creates a frame for running method of class.
func NewFrame(class *InstanceKlass, method *classfile.MethodInfo) *Frame {
	return &Frame{
		LocalVars:    make([]Value, method.Code.MaxLocals),
		OperandStack: make([]Value, method.Code.MaxStack),
		SP:           0,
		Code:         method.Code.Code,
		PC:           0,
		Class:        class,
		Method:       method,
	}
}

// Pool returns the constant pool the frame's code refers to.
func (f *Frame) Pool() *cpool.ConstantPool { return f.Class.ConstantPool() }

// Push pushes a value onto the operand stack.
func (f *Frame) Push(v Value) {
	if f.SP >= len(f.OperandStack) {
		panic(fmt.Sprintf("operand stack overflow: SP=%d, max=%d", f.SP, len(f.OperandStack)))
	}
	f.OperandStack[f.SP] = v
	f.SP++
}

// Pop pops a value from the operand stack.
func (f *Frame) Pop() Value {
	if f.SP <= 0 {
		panic("operand stack underflow: SP=0")
	}
	f.SP--
	return f.OperandStack[f.SP]
}

// GetLocal returns the value at the given local variable index.
func (f *Frame) GetLocal(index int) Value {
	if index < 0 || index >= len(f.LocalVars) {
		panic(fmt.Sprintf("local variable index out of range: index=%d, max=%d", index, len(f.LocalVars)))
	}
	return f.LocalVars[index]
}

// SetLocal sets the value at the given local variable index.
func (f *Frame) SetLocal(index int, v Value) {
	if index < 0 || index >= len(f.LocalVars) {
		panic(fmt.Sprintf("local variable index out of range: index=%d, max=%d", index, len(f.LocalVars)))
	}
	f.LocalVars[index] = v
}

// ReadU8 reads a uint8 operand and advances PC.
func (f *Frame) ReadU8() uint8 {
	val := f.Code[f.PC]
	f.PC++
	return val
}

// ReadI8 reads an int8 operand and advances PC.
func (f *Frame) ReadI8() int8 {
	val := int8(f.Code[f.PC])
	f.PC++
	return val
}

// ReadU16 reads a uint16 operand (big-endian) and advances PC by 2.
func (f *Frame) ReadU16() uint16 {
	val := uint16(f.Code[f.PC])<<8 | uint16(f.Code[f.PC+1])
	f.PC += 2
	return val
}

// ReadI16 reads an int16 operand (big-endian) and advances PC by 2.
func (f *Frame) ReadI16() int16 {
	val := int16(f.Code[f.PC])<<8 | int16(f.Code[f.PC+1])
	f.PC += 2
	return val
}

// ExecuteLdc pushes the constant named by an ldc, ldc_w or ldc2_w
// instruction, or by their rewritten fast_aldc forms whose operand indexes
// the resolved references. PC points at the operand.
func (f *Frame) ExecuteLdc(op bytecode.Opcode) error {
	var index int
	switch op {
	case bytecode.OpLdc, bytecode.OpFastAldc:
		index = int(f.ReadU8())
	case bytecode.OpLdcW, bytecode.OpLdc2W, bytecode.OpFastAldcW:
		index = int(f.ReadU16())
	default:
		return fmt.Errorf("%w: %s is not a constant load", cpool.ErrUnexpectedBytecode, op)
	}

	cp := f.Pool()
	if op == bytecode.OpFastAldc || op == bytecode.OpFastAldcW {
		o, err := cp.ResolveCachedConstantAt(index)
		if err != nil {
			return err
		}
		f.Push(objectValue(o, cp.BasicTypeForConstantAt(cp.ObjectToCPIndex(index))))
		return nil
	}

	if !cp.IsValidIndex(index) {
		return fmt.Errorf("%s: %w: #%d", op, cpool.ErrBadIndex, index)
	}
	bt := cp.BasicTypeForConstantAt(index)
	if wide := bt == native.TLong || bt == native.TDouble; wide != (op == bytecode.OpLdc2W) {
		return fmt.Errorf("%w: %s of %s constant #%d", cpool.ErrUnexpectedBytecode, op, cp.TagAt(index), index)
	}

	switch cp.TagAt(index) {
	case cpool.TagInteger:
		f.Push(IntValue(cp.IntAt(index)))
	case cpool.TagFloat:
		f.Push(FloatValue(cp.FloatAt(index)))
	case cpool.TagLong:
		f.Push(LongValue(cp.LongAt(index)))
	case cpool.TagDouble:
		f.Push(DoubleValue(cp.DoubleAt(index)))
	default:
		o, err := cp.ResolveConstantAt(index)
		if err != nil {
			return err
		}
		f.Push(objectValue(o, bt))
	}
	return nil
}

// objectValue converts a resolved constant of basic type bt to a stack
// value, unboxing primitives.
func objectValue(o cpool.Object, bt native.BasicType) Value {
	if !bt.IsPrimitive() {
		return RefValue(o)
	}
	switch b := o.(type) {
	case *native.Integer:
		return IntValue(b.Value)
	case *native.Long:
		return LongValue(b.Value)
	case *native.Float:
		return FloatValue(b.Value)
	case *native.Double:
		return DoubleValue(b.Value)
	case *native.Boolean:
		if b.Value {
			return IntValue(1)
		}
		return IntValue(0)
	case *native.Byte:
		return IntValue(int32(b.Value))
	case *native.Char:
		return IntValue(int32(b.Value))
	case *native.Short:
		return IntValue(int32(b.Value))
	}
	return RefValue(o)
}

// MarkOnStack pins the constant pool of every frame so that it survives
// class unloading while the frames run.
func MarkOnStack(frames []*Frame) {
	for _, f := range frames {
		f.Pool().SetOnStack(true)
	}
}
