package classfile

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/daimatz/gocpool/pkg/cpool"
	"github.com/daimatz/gocpool/pkg/symbol"
)

// ParseConstantPool reads count-1 entries from r into a pool in its
// parse-time form: class and string entries are left as ClassIndex and
// StringIndex, and every Utf8 entry owns a reference to its symbol. On
// error the symbol references taken so far are dropped.
func ParseConstantPool(r io.Reader, count uint16, symbols *symbol.Table) (*cpool.ConstantPool, error) {
	if count == 0 {
		return nil, fmt.Errorf("constant pool count is 0")
	}
	cp := cpool.New(int(count))
	if err := readConstantPool(r, cp, symbols); err != nil {
		cp.UnreferenceSymbols()
		return nil, err
	}
	return cp, nil
}

func readConstantPool(r io.Reader, cp *cpool.ConstantPool, symbols *symbol.Table) error {
	count := cp.Length()
	// index 0 is unused (constant pool is 1-indexed)
	for i := 1; i < count; i++ {
		var tag uint8
		if err := binary.Read(r, binary.BigEndian, &tag); err != nil {
			return fmt.Errorf("reading constant pool tag at index %d: %w", i, err)
		}

		switch cpool.Tag(tag) {
		case cpool.TagUtf8:
			var length uint16
			if err := binary.Read(r, binary.BigEndian, &length); err != nil {
				return fmt.Errorf("reading Utf8 length at index %d: %w", i, err)
			}
			bytes := make([]byte, length)
			if _, err := io.ReadFull(r, bytes); err != nil {
				return fmt.Errorf("reading Utf8 bytes at index %d: %w", i, err)
			}
			cp.SymbolAtPut(i, symbols.Intern(string(bytes)))

		case cpool.TagInteger:
			var val int32
			if err := binary.Read(r, binary.BigEndian, &val); err != nil {
				return fmt.Errorf("reading Integer at index %d: %w", i, err)
			}
			cp.IntAtPut(i, val)

		case cpool.TagFloat:
			var val float32
			if err := binary.Read(r, binary.BigEndian, &val); err != nil {
				return fmt.Errorf("reading Float at index %d: %w", i, err)
			}
			cp.FloatAtPut(i, val)

		case cpool.TagLong, cpool.TagDouble:
			if i+1 >= count {
				return fmt.Errorf("%s at index %d has no second slot", cpool.Tag(tag), i)
			}
			var val uint64
			if err := binary.Read(r, binary.BigEndian, &val); err != nil {
				return fmt.Errorf("reading %s at index %d: %w", cpool.Tag(tag), i, err)
			}
			if cpool.Tag(tag) == cpool.TagLong {
				cp.LongAtPut(i, int64(val))
			} else {
				cp.DoubleAtPut(i, math.Float64frombits(val))
			}
			i++ // long and double take 2 slots

		case cpool.TagClass:
			nameIndex, err := readIndex(r, "Class", i)
			if err != nil {
				return err
			}
			cp.KlassIndexAtPut(i, nameIndex)

		case cpool.TagString:
			stringIndex, err := readIndex(r, "String", i)
			if err != nil {
				return err
			}
			cp.StringIndexAtPut(i, stringIndex)

		case cpool.TagFieldref, cpool.TagMethodref, cpool.TagInterfaceMethodref:
			classIndex, natIndex, err := readIndexPair(r, cpool.Tag(tag).String(), i)
			if err != nil {
				return err
			}
			switch cpool.Tag(tag) {
			case cpool.TagFieldref:
				cp.FieldAtPut(i, classIndex, natIndex)
			case cpool.TagMethodref:
				cp.MethodAtPut(i, classIndex, natIndex)
			default:
				cp.InterfaceMethodAtPut(i, classIndex, natIndex)
			}

		case cpool.TagNameAndType:
			nameIndex, descIndex, err := readIndexPair(r, "NameAndType", i)
			if err != nil {
				return err
			}
			cp.NameAndTypeAtPut(i, nameIndex, descIndex)

		case cpool.TagMethodHandle:
			var kind uint8
			if err := binary.Read(r, binary.BigEndian, &kind); err != nil {
				return fmt.Errorf("reading MethodHandle reference_kind at index %d: %w", i, err)
			}
			refIndex, err := readIndex(r, "MethodHandle", i)
			if err != nil {
				return err
			}
			cp.MethodHandleIndexAtPut(i, cpool.RefKind(kind), refIndex)

		case cpool.TagMethodType:
			descIndex, err := readIndex(r, "MethodType", i)
			if err != nil {
				return err
			}
			cp.MethodTypeIndexAtPut(i, descIndex)

		case cpool.TagDynamic, cpool.TagInvokeDynamic:
			bsmIndex, natIndex, err := readIndexPair(r, cpool.Tag(tag).String(), i)
			if err != nil {
				return err
			}
			if cpool.Tag(tag) == cpool.TagDynamic {
				cp.DynamicConstantAtPut(i, bsmIndex, natIndex)
			} else {
				cp.InvokeDynamicAtPut(i, bsmIndex, natIndex)
			}

		default:
			return fmt.Errorf("unknown constant pool tag %d at index %d", tag, i)
		}
	}
	return nil
}

func readIndex(r io.Reader, kind string, i int) (int, error) {
	var idx uint16
	if err := binary.Read(r, binary.BigEndian, &idx); err != nil {
		return 0, fmt.Errorf("reading %s at index %d: %w", kind, i, err)
	}
	return int(idx), nil
}

func readIndexPair(r io.Reader, kind string, i int) (int, int, error) {
	var pair [2]uint16
	if err := binary.Read(r, binary.BigEndian, &pair); err != nil {
		return 0, 0, fmt.Errorf("reading %s at index %d: %w", kind, i, err)
	}
	return int(pair[0]), int(pair[1]), nil
}

// GetUtf8 returns the Utf8 string at the given constant pool index.
func GetUtf8(cp *cpool.ConstantPool, index uint16) (string, error) {
	i := int(index)
	if !cp.IsValidIndex(i) {
		return "", fmt.Errorf("invalid constant pool index %d", index)
	}
	if t := cp.TagAt(i); !t.IsSymbol() {
		return "", fmt.Errorf("constant pool index %d is not Utf8 (tag=%s)", index, t)
	}
	return cp.SymbolAt(i).String(), nil
}

// GetClassName returns the class name referenced by a CONSTANT_Class entry,
// in any of its resolution states.
func GetClassName(cp *cpool.ConstantPool, classIndex uint16) (string, error) {
	i := int(classIndex)
	if !cp.IsValidIndex(i) {
		return "", fmt.Errorf("invalid constant pool index %d", classIndex)
	}
	if t := cp.TagAt(i); !t.IsKlassOrReference() {
		return "", fmt.Errorf("constant pool index %d is not Class (tag=%s)", classIndex, t)
	}
	return GetUtf8(cp, uint16(cp.KlassNameIndexAt(i)))
}
