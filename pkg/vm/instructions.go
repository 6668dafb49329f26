package vm

import (
	"fmt"

	"github.com/daimatz/gocpool/pkg/bytecode"
	"github.com/daimatz/gocpool/pkg/classfile"
	"github.com/daimatz/gocpool/pkg/cpool"
	"github.com/daimatz/gocpool/pkg/exception"
)

// Opcodes that do not refer to the constant pool. Those that do are in
// package bytecode.
const (
	OpNop         = 0x00
	OpAconstNull  = 0x01
	OpIconstM1    = 0x02
	OpIconst0     = 0x03
	OpIconst1     = 0x04
	OpIconst2     = 0x05
	OpIconst3     = 0x06
	OpIconst4     = 0x07
	OpIconst5     = 0x08
	OpBipush      = 0x10
	OpSipush      = 0x11
	OpIload0      = 0x1A
	OpIload1      = 0x1B
	OpIload2      = 0x1C
	OpIload3      = 0x1D
	OpAload0      = 0x2A
	OpAload1      = 0x2B
	OpAload2      = 0x2C
	OpAload3      = 0x2D
	OpIstore0     = 0x3B
	OpIstore1     = 0x3C
	OpIstore2     = 0x3D
	OpIstore3     = 0x3E
	OpAstore0     = 0x4B
	OpAstore1     = 0x4C
	OpAstore2     = 0x4D
	OpAstore3     = 0x4E
	OpPop         = 0x57
	OpDup         = 0x59
	OpIadd        = 0x60
	OpIreturn     = 0xAC
	OpLreturn     = 0xAD
	OpFreturn     = 0xAE
	OpDreturn     = 0xAF
	OpAreturn     = 0xB0
	OpReturn      = 0xB1
	OpArraylength = 0xBE
)

// executeInstruction executes a single bytecode instruction.
// Returns (returnValue, hasReturn, error).
func (vm *VM) executeInstruction(frame *Frame, opcode byte, depth int) (Value, bool, error) {
	switch opcode {
	case OpNop:
		// do nothing

	// --- Constant load instructions ---
	case OpAconstNull:
		frame.Push(NullValue())

	case OpIconstM1, OpIconst0, OpIconst1, OpIconst2, OpIconst3, OpIconst4, OpIconst5:
		frame.Push(IntValue(int32(opcode) - OpIconst0))

	case OpBipush:
		val := frame.ReadI8()
		frame.Push(IntValue(int32(val)))

	case OpSipush:
		val := frame.ReadI16()
		frame.Push(IntValue(int32(val)))

	case byte(bytecode.OpLdc), byte(bytecode.OpLdcW), byte(bytecode.OpLdc2W),
		byte(bytecode.OpFastAldc), byte(bytecode.OpFastAldcW):
		return Value{}, false, frame.ExecuteLdc(bytecode.Opcode(opcode))

	// --- Local variable instructions ---
	case OpIload0, OpIload1, OpIload2, OpIload3:
		frame.Push(frame.GetLocal(int(opcode - OpIload0)))
	case OpAload0, OpAload1, OpAload2, OpAload3:
		frame.Push(frame.GetLocal(int(opcode - OpAload0)))
	case OpIstore0, OpIstore1, OpIstore2, OpIstore3:
		frame.SetLocal(int(opcode-OpIstore0), frame.Pop())
	case OpAstore0, OpAstore1, OpAstore2, OpAstore3:
		frame.SetLocal(int(opcode-OpAstore0), frame.Pop())

	// --- Stack instructions ---
	case OpPop:
		frame.Pop()
	case OpDup:
		v := frame.Pop()
		frame.Push(v)
		frame.Push(v)

	case OpIadd:
		b, a := frame.Pop(), frame.Pop()
		frame.Push(IntValue(a.Int + b.Int))

	// --- Return instructions ---
	case OpIreturn, OpLreturn, OpFreturn, OpDreturn, OpAreturn:
		return frame.Pop(), true, nil
	case OpReturn:
		return Value{}, true, nil

	// --- Constant pool instructions ---
	case byte(bytecode.OpGetstatic):
		return vm.executeGetstatic(frame)
	case byte(bytecode.OpPutstatic):
		return vm.executePutstatic(frame)
	case byte(bytecode.OpInvokestatic):
		return vm.executeInvokestatic(frame, depth)
	case byte(bytecode.OpInvokedynamic):
		return vm.executeInvokedynamic(frame, depth)
	case byte(bytecode.OpNew):
		return vm.executeNew(frame)
	case byte(bytecode.OpAnewarray):
		return vm.executeAnewarray(frame)
	case byte(bytecode.OpCheckcast), byte(bytecode.OpInstanceof):
		return vm.executeTypeCheck(frame, bytecode.Opcode(opcode))

	case OpArraylength:
		ref := frame.Pop()
		arr, ok := ref.Ref.(*JArray)
		if !ok {
			return Value{}, false, exception.New(exception.ClassNullPointerException, "arraylength")
		}
		frame.Push(IntValue(int32(len(arr.Elements))))

	default:
		return Value{}, false, fmt.Errorf("unsupported opcode 0x%02x at pc=%d", opcode, frame.PC-1)
	}
	return Value{}, false, nil
}

// memberRef resolves the class and reads the name and descriptor of the
// field or method a getstatic, putstatic or invoke instruction refers to,
// going through the rewritten cache index.
func (vm *VM) memberRef(frame *Frame, op bytecode.Opcode) (*InstanceKlass, string, string, error) {
	cp := frame.Pool()
	index := int(frame.ReadU16())
	var (
		n  int
		ok bool
	)
	if bytecode.FamilyOf(op) == bytecode.FamilyField {
		n, ok = cp.Cache().FieldIndexOf(index)
	} else {
		n, ok = cp.Cache().MethodIndexOf(index)
	}
	if !ok {
		return nil, "", "", fmt.Errorf("%s: %w: #%d is %s", op, cpool.ErrBadIndex, index, cp.TagAt(index))
	}

	k, err := cp.KlassRefAt(n, op)
	if err != nil {
		return nil, "", "", err
	}
	ik, ok := k.(*InstanceKlass)
	if !ok {
		return nil, "", "", exception.Newf(exception.ClassIncompatibleClassChangeError, "%s has no members", k.Name())
	}
	nat, err := cp.NameAndTypeRefIndexAt(n, op)
	if err != nil {
		return nil, "", "", err
	}
	name := cp.SymbolAt(cp.NameRefIndexAt(nat)).String()
	desc := cp.SymbolAt(cp.SignatureRefIndexAt(nat)).String()
	return ik, name, desc, nil
}

func (vm *VM) staticField(frame *Frame, op bytecode.Opcode) (*InstanceKlass, string, string, error) {
	k, name, desc, err := vm.memberRef(frame, op)
	if err != nil {
		return nil, "", "", err
	}
	owner, f := k.FindField(name, desc)
	if f == nil {
		return nil, "", "", exception.New(exception.ClassNoSuchFieldError, name)
	}
	if f.AccessFlags&classfile.AccStatic == 0 {
		return nil, "", "", exception.Newf(exception.ClassIncompatibleClassChangeError, "Expected static field %s.%s", k.Name(), name)
	}
	return owner, name, desc, nil
}

// executeGetstatic handles the getstatic instruction.
func (vm *VM) executeGetstatic(frame *Frame) (Value, bool, error) {
	owner, name, desc, err := vm.staticField(frame, bytecode.OpGetstatic)
	if err != nil {
		return Value{}, false, err
	}
	frame.Push(owner.GetStatic(name, desc))
	return Value{}, false, nil
}

// executePutstatic handles the putstatic instruction.
func (vm *VM) executePutstatic(frame *Frame) (Value, bool, error) {
	owner, name, desc, err := vm.staticField(frame, bytecode.OpPutstatic)
	if err != nil {
		return Value{}, false, err
	}
	owner.PutStatic(name, desc, frame.Pop())
	return Value{}, false, nil
}

// popArgs pops the arguments of a call with the given descriptor.
func popArgs(frame *Frame, descriptor string) ([]Value, string, error) {
	params, ret, err := parseMethodDescriptor(descriptor)
	if err != nil {
		return nil, "", err
	}
	args := make([]Value, len(params))
	for i := len(params) - 1; i >= 0; i-- {
		args[i] = frame.Pop()
	}
	return args, ret, nil
}

// executeInvokestatic handles the invokestatic instruction.
func (vm *VM) executeInvokestatic(frame *Frame, depth int) (Value, bool, error) {
	k, name, desc, err := vm.memberRef(frame, bytecode.OpInvokestatic)
	if err != nil {
		return Value{}, false, err
	}
	owner, method := k.FindMethod(name, desc)
	if method == nil {
		return Value{}, false, exception.Newf(exception.ClassNoSuchMethodError, "%s.%s%s", k.Name(), name, desc)
	}
	if method.AccessFlags&classfile.AccStatic == 0 {
		return Value{}, false, exception.Newf(exception.ClassIncompatibleClassChangeError, "Expected static method %s.%s%s", k.Name(), name, desc)
	}

	args, ret, err := popArgs(frame, desc)
	if err != nil {
		return Value{}, false, err
	}
	retVal, err := vm.executeMethod(owner, method, args, depth+1)
	if err != nil {
		return Value{}, false, err
	}
	if ret != "V" {
		frame.Push(retVal)
	}
	return Value{}, false, nil
}

// executeInvokedynamic links the call site on first execution and calls its
// target.
func (vm *VM) executeInvokedynamic(frame *Frame, depth int) (Value, bool, error) {
	cp := frame.Pool()
	index := int(frame.ReadU16())
	frame.ReadU16() // two zero bytes

	cache := cp.Cache()
	indy := -1
	for n := 0; n < cache.IndyEntriesLength(); n++ {
		if cache.IndyEntryAt(n).CPIndex == index {
			indy = n
			break
		}
	}
	if indy < 0 {
		return Value{}, false, fmt.Errorf("invokedynamic: %w: #%d has no call site", cpool.ErrBadIndex, index)
	}
	site, err := cp.ResolveInvokeDynamic(indy)
	if err != nil {
		return Value{}, false, err
	}
	cs, ok := site.(*CallSite)
	if !ok {
		return Value{}, false, fmt.Errorf("invokedynamic: call site is %T", site)
	}

	args, ret, err := popArgs(frame, cp.UncachedSignatureRefAt(index).String())
	if err != nil {
		return Value{}, false, err
	}
	var retVal Value
	switch target := cs.Target.(type) {
	case NativeMethod:
		retVal, err = target(args)
	case *MethodHandle:
		if target.Kind != cpool.RefInvokeStatic {
			return Value{}, false, fmt.Errorf("invokedynamic: unsupported target %s", target)
		}
		owner, method := target.Holder.FindMethod(target.Name, target.Descriptor)
		if method == nil || method.Code == nil {
			return Value{}, false, exception.Newf(exception.ClassNoSuchMethodError, "%s", target.Key())
		}
		retVal, err = vm.executeMethod(owner, method, args, depth+1)
	default:
		return Value{}, false, fmt.Errorf("invokedynamic: unsupported target %T", cs.Target)
	}
	if err != nil {
		return Value{}, false, err
	}
	if ret != "V" {
		frame.Push(retVal)
	}
	return Value{}, false, nil
}

// executeNew handles the new instruction.
func (vm *VM) executeNew(frame *Frame) (Value, bool, error) {
	index := frame.ReadU16()
	k, err := frame.Pool().KlassAt(int(index))
	if err != nil {
		return Value{}, false, err
	}
	ik, ok := k.(*InstanceKlass)
	if !ok || ik.IsInterface() || ik.file.AccessFlags&classfile.AccAbstract != 0 {
		return Value{}, false, exception.New(exception.ClassInstantiationError, k.Name().String())
	}
	frame.Push(RefValue(&JObject{Class: ik, Fields: make(map[string]Value)}))
	return Value{}, false, nil
}

// executeAnewarray handles the anewarray instruction.
func (vm *VM) executeAnewarray(frame *Frame) (Value, bool, error) {
	index := frame.ReadU16()
	element, err := frame.Pool().KlassAt(int(index))
	if err != nil {
		return Value{}, false, err
	}
	count := frame.Pop()
	if count.Int < 0 {
		return Value{}, false, exception.Newf(exception.ClassNegativeArraySizeException, "%d", count.Int)
	}

	name := element.Name().String()
	if _, isArray := element.(*ArrayKlass); !isArray {
		name = "L" + name + ";"
	}
	k, err := vm.Dictionary.Resolve("["+name, frame.Class.ClassLoader())
	if err != nil {
		return Value{}, false, err
	}
	elements := make([]Value, count.Int)
	for i := range elements {
		elements[i] = NullValue()
	}
	frame.Push(RefValue(&JArray{Class: k.(*ArrayKlass), Elements: elements}))
	return Value{}, false, nil
}

// executeTypeCheck handles checkcast and instanceof.
func (vm *VM) executeTypeCheck(frame *Frame, op bytecode.Opcode) (Value, bool, error) {
	index := frame.ReadU16()
	k, err := frame.Pool().KlassAt(int(index))
	if err != nil {
		return Value{}, false, err
	}
	ref := frame.Pop()

	var class cpool.Klass
	switch o := ref.Ref.(type) {
	case *JObject:
		class = o.Class
	case *JArray:
		class = o.Class
	}
	ok := ref.Type != TypeNull && class != nil && isAssignable(class, k)

	if op == bytecode.OpInstanceof {
		if ok {
			frame.Push(IntValue(1))
		} else {
			frame.Push(IntValue(0))
		}
		return Value{}, false, nil
	}
	if ref.Type != TypeNull && !ok {
		return Value{}, false, exception.Newf(exception.ClassClassCastException, "%v cannot be cast to %s", ref.Ref, k.Name())
	}
	frame.Push(ref)
	return Value{}, false, nil
}
