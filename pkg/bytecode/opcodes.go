// Package bytecode lists the JVM opcodes whose operands index the constant
// pool, either directly or through a rewritten cache index.
package bytecode

// Opcode is a JVM instruction byte.
type Opcode uint8

// Opcodes
const (
	OpLdc             Opcode = 0x12
	OpLdcW            Opcode = 0x13
	OpLdc2W           Opcode = 0x14
	OpGetstatic       Opcode = 0xB2
	OpPutstatic       Opcode = 0xB3
	OpGetfield        Opcode = 0xB4
	OpPutfield        Opcode = 0xB5
	OpInvokevirtual   Opcode = 0xB6
	OpInvokespecial   Opcode = 0xB7
	OpInvokestatic    Opcode = 0xB8
	OpInvokeinterface Opcode = 0xB9
	OpInvokedynamic   Opcode = 0xBA
	OpNew             Opcode = 0xBB
	OpAnewarray       Opcode = 0xBD
	OpCheckcast       Opcode = 0xC0
	OpInstanceof      Opcode = 0xC1
	OpMultianewarray  Opcode = 0xC5

	// Rewritten forms used once the pool has a cache.
	OpFastAldc         Opcode = 0xCB
	OpFastAldcW        Opcode = 0xCC
	OpFastInvokevfinal Opcode = 0xE2
	OpInvokehandle     Opcode = 0xE9
)

// Family groups opcodes by how their operand maps back to the constant pool.
type Family int

const (
	FamilyOther Family = iota
	FamilyField
	FamilyInvoke
	FamilyInvokedynamic
)

// FamilyOf classifies op.
func FamilyOf(op Opcode) Family {
	switch op {
	case OpGetstatic, OpPutstatic, OpGetfield, OpPutfield:
		return FamilyField
	case OpInvokevirtual, OpInvokespecial, OpInvokestatic, OpInvokeinterface,
		OpInvokehandle, OpFastInvokevfinal:
		return FamilyInvoke
	case OpInvokedynamic:
		return FamilyInvokedynamic
	}
	return FamilyOther
}

var names = map[Opcode]string{
	OpLdc:              "ldc",
	OpLdcW:             "ldc_w",
	OpLdc2W:            "ldc2_w",
	OpGetstatic:        "getstatic",
	OpPutstatic:        "putstatic",
	OpGetfield:         "getfield",
	OpPutfield:         "putfield",
	OpInvokevirtual:    "invokevirtual",
	OpInvokespecial:    "invokespecial",
	OpInvokestatic:     "invokestatic",
	OpInvokeinterface:  "invokeinterface",
	OpInvokedynamic:    "invokedynamic",
	OpNew:              "new",
	OpAnewarray:        "anewarray",
	OpCheckcast:        "checkcast",
	OpInstanceof:       "instanceof",
	OpMultianewarray:   "multianewarray",
	OpFastAldc:         "fast_aldc",
	OpFastAldcW:        "fast_aldc_w",
	OpFastInvokevfinal: "fast_invokevfinal",
	OpInvokehandle:     "invokehandle",
}

func (op Opcode) String() string {
	if n, ok := names[op]; ok {
		return n
	}
	return "unknown"
}
