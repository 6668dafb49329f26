package cpool

import "fmt"

// Tag identifies an entry's kind and resolution state. Values below 100 are
// the class-file tags; the rest exist only at run time.
type Tag uint8

// Constant pool tags
const (
	TagInvalid            Tag = 0
	TagUtf8               Tag = 1
	TagUnicode            Tag = 2
	TagInteger            Tag = 3
	TagFloat              Tag = 4
	TagLong               Tag = 5
	TagDouble             Tag = 6
	TagClass              Tag = 7
	TagString             Tag = 8
	TagFieldref           Tag = 9
	TagMethodref          Tag = 10
	TagInterfaceMethodref Tag = 11
	TagNameAndType        Tag = 12
	TagMethodHandle       Tag = 15
	TagMethodType         Tag = 16
	TagDynamic            Tag = 17
	TagInvokeDynamic      Tag = 18

	TagUnresolvedClass        Tag = 100
	TagClassIndex             Tag = 101
	TagStringIndex            Tag = 102
	TagUnresolvedClassInError Tag = 103
	TagMethodHandleInError    Tag = 104
	TagMethodTypeInError      Tag = 105
	TagDynamicInError         Tag = 106
)

var tagNames = map[Tag]string{
	TagInvalid:                "Invalid",
	TagUtf8:                   "Utf8",
	TagUnicode:                "Unicode",
	TagInteger:                "Integer",
	TagFloat:                  "Float",
	TagLong:                   "Long",
	TagDouble:                 "Double",
	TagClass:                  "Class",
	TagString:                 "String",
	TagFieldref:               "Field",
	TagMethodref:              "Method",
	TagInterfaceMethodref:     "InterfaceMethod",
	TagNameAndType:            "NameAndType",
	TagMethodHandle:           "MethodHandle",
	TagMethodType:             "MethodType",
	TagDynamic:                "Dynamic",
	TagInvokeDynamic:          "InvokeDynamic",
	TagUnresolvedClass:        "Unresolved Class",
	TagClassIndex:             "Unresolved Class Index",
	TagStringIndex:            "Unresolved String Index",
	TagUnresolvedClassInError: "Unresolved Class Error",
	TagMethodHandleInError:    "MethodHandle Error",
	TagMethodTypeInError:      "MethodType Error",
	TagDynamicInError:         "Dynamic Error",
}

func (t Tag) String() string {
	if n, ok := tagNames[t]; ok {
		return n
	}
	return fmt.Sprintf("Illegal(%d)", uint8(t))
}

// Valid reports whether t is a tag the pool can hold.
func (t Tag) Valid() bool {
	_, ok := tagNames[t]
	return ok && t != TagUnicode
}

// Width is the number of index slots an entry with this tag occupies.
func (t Tag) Width() int {
	if t == TagLong || t == TagDouble {
		return 2
	}
	return 1
}

// IsKlass reports a resolved class entry.
func (t Tag) IsKlass() bool { return t == TagClass }

// IsUnresolvedKlass reports an unresolved class entry, failed or not.
func (t Tag) IsUnresolvedKlass() bool {
	return t == TagUnresolvedClass || t == TagUnresolvedClassInError
}

// IsUnresolvedKlassInError reports a class entry whose resolution failed.
func (t Tag) IsUnresolvedKlassInError() bool { return t == TagUnresolvedClassInError }

// IsKlassOrReference reports any class-referencing form, including the
// parse-time ClassIndex form.
func (t Tag) IsKlassOrReference() bool {
	return t.IsKlass() || t.IsUnresolvedKlass() || t == TagClassIndex
}

// IsSymbol reports an entry holding a symbol it owns.
func (t Tag) IsSymbol() bool { return t == TagUtf8 }

// IsString reports a String entry (holding its unresolved symbol).
func (t Tag) IsString() bool { return t == TagString }

// IsFieldOrMethod reports a member reference.
func (t Tag) IsFieldOrMethod() bool {
	return t == TagFieldref || t == TagMethodref || t == TagInterfaceMethodref
}

// IsMethod reports a class method reference.
func (t Tag) IsMethod() bool { return t == TagMethodref }

// IsInterfaceMethod reports an interface method reference.
func (t Tag) IsInterfaceMethod() bool { return t == TagInterfaceMethodref }

// IsMethodHandle reports a method handle entry, failed or not.
func (t Tag) IsMethodHandle() bool {
	return t == TagMethodHandle || t == TagMethodHandleInError
}

// IsMethodType reports a method type entry, failed or not.
func (t Tag) IsMethodType() bool {
	return t == TagMethodType || t == TagMethodTypeInError
}

// IsDynamicConstant reports a dynamically-computed constant.
func (t Tag) IsDynamicConstant() bool { return t == TagDynamic }

// IsDynamicConstantInError reports a failed dynamically-computed constant.
func (t Tag) IsDynamicConstantInError() bool { return t == TagDynamicInError }

// IsInvokeDynamic reports an invokedynamic call-site specifier.
func (t Tag) IsInvokeDynamic() bool { return t == TagInvokeDynamic }

// HasBootstrap reports entries that reference the operand table.
func (t Tag) HasBootstrap() bool {
	return t == TagDynamic || t == TagDynamicInError || t == TagInvokeDynamic
}

// IsInError reports one of the error variants.
func (t Tag) IsInError() bool {
	switch t {
	case TagUnresolvedClassInError, TagMethodHandleInError, TagMethodTypeInError, TagDynamicInError:
		return true
	}
	return false
}

// IsLoadable reports entries an ldc may push.
func (t Tag) IsLoadable() bool {
	switch t {
	case TagInteger, TagFloat, TagLong, TagDouble, TagClass, TagUnresolvedClass,
		TagUnresolvedClassInError, TagString, TagMethodHandle, TagMethodHandleInError,
		TagMethodType, TagMethodTypeInError, TagDynamic, TagDynamicInError:
		return true
	}
	return false
}

// ErrorValue maps a resolvable tag to its error variant.
func (t Tag) ErrorValue() Tag {
	switch t {
	case TagUnresolvedClass:
		return TagUnresolvedClassInError
	case TagMethodHandle:
		return TagMethodHandleInError
	case TagMethodType:
		return TagMethodTypeInError
	case TagDynamic:
		return TagDynamicInError
	}
	panic(fmt.Sprintf("tag %s has no error variant", t))
}

// NonErrorValue maps an error variant back to its regular tag; other tags
// are returned unchanged.
func (t Tag) NonErrorValue() Tag {
	switch t {
	case TagUnresolvedClassInError:
		return TagUnresolvedClass
	case TagMethodHandleInError:
		return TagMethodHandle
	case TagMethodTypeInError:
		return TagMethodType
	case TagDynamicInError:
		return TagDynamic
	}
	return t
}
