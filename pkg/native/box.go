// Package native holds the Go representations of boxed Java primitives.
package native

// BasicType is a JVM basic type, identified by its descriptor character.
type BasicType byte

const (
	TBoolean BasicType = 'Z'
	TByte    BasicType = 'B'
	TChar    BasicType = 'C'
	TShort   BasicType = 'S'
	TInt     BasicType = 'I'
	TLong    BasicType = 'J'
	TFloat   BasicType = 'F'
	TDouble  BasicType = 'D'
	TVoid    BasicType = 'V'
	TObject  BasicType = 'L'
	TArray   BasicType = '['
)

// IsPrimitive reports whether t is one of the eight Java primitive types.
func (t BasicType) IsPrimitive() bool {
	switch t {
	case TBoolean, TByte, TChar, TShort, TInt, TLong, TFloat, TDouble:
		return true
	}
	return false
}

// IsReference reports whether values of t are heap references.
func (t BasicType) IsReference() bool {
	return t == TObject || t == TArray
}

// BasicTypeOf returns the basic type of a field descriptor or of a method
// descriptor's return type.
func BasicTypeOf(descriptor string) BasicType {
	if descriptor == "" {
		return TVoid
	}
	if descriptor[0] == '(' {
		for i := 0; i < len(descriptor); i++ {
			if descriptor[i] == ')' {
				return BasicTypeOf(descriptor[i+1:])
			}
		}
		return TVoid
	}
	return BasicType(descriptor[0])
}

// Integer represents a java.lang.Integer.
type Integer struct {
	Value int32
}

// Float represents a java.lang.Float.
type Float struct {
	Value float32
}

// Long represents a java.lang.Long.
type Long struct {
	Value int64
}

// Double represents a java.lang.Double.
type Double struct {
	Value float64
}

// Boolean represents a java.lang.Boolean.
type Boolean struct {
	Value bool
}

// Byte represents a java.lang.Byte.
type Byte struct {
	Value int8
}

// Char represents a java.lang.Character.
type Char struct {
	Value uint16
}

// Short represents a java.lang.Short.
type Short struct {
	Value int16
}

// IntegerValueOf creates an Integer (boxing).
func IntegerValueOf(v int32) *Integer {
	return &Integer{Value: v}
}

// FloatValueOf creates a Float.
func FloatValueOf(v float32) *Float {
	return &Float{Value: v}
}

// LongValueOf creates a Long.
func LongValueOf(v int64) *Long {
	return &Long{Value: v}
}

// DoubleValueOf creates a Double.
func DoubleValueOf(v float64) *Double {
	return &Double{Value: v}
}

// IsBoxOf reports whether obj is the box class for primitive type t.
func IsBoxOf(obj any, t BasicType) bool {
	switch obj.(type) {
	case *Integer:
		return t == TInt
	case *Float:
		return t == TFloat
	case *Long:
		return t == TLong
	case *Double:
		return t == TDouble
	case *Boolean:
		return t == TBoolean
	case *Byte:
		return t == TByte
	case *Char:
		return t == TChar
	case *Short:
		return t == TShort
	}
	return false
}
