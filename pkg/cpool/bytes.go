package cpool

import (
	"encoding/binary"
	"fmt"

	"github.com/daimatz/gocpool/pkg/symbol"
)

// SymbolHash maps a symbol to the pool index it was first seen at.
type SymbolHash map[*symbol.Symbol]int

func (h SymbolHash) addIfAbsent(s *symbol.Symbol, i int) {
	if _, ok := h[s]; !ok {
		h[s] = i
	}
}

// EntrySize returns the class-file size in bytes of entry i.
func (cp *ConstantPool) EntrySize(i int) int {
	switch cp.TagAt(i) {
	case TagInvalid, TagUnicode:
		return 1
	case TagUtf8:
		return 3 + cp.SymbolAt(i).Len()
	case TagClass, TagString, TagClassIndex, TagUnresolvedClass, TagUnresolvedClassInError,
		TagStringIndex, TagMethodType, TagMethodTypeInError:
		return 3
	case TagMethodHandle, TagMethodHandleInError:
		return 4
	case TagInteger, TagFloat, TagFieldref, TagMethodref, TagInterfaceMethodref, TagNameAndType,
		TagDynamic, TagDynamicInError, TagInvokeDynamic:
		return 5
	case TagLong, TagDouble:
		return 9
	}
	panic(fmt.Sprintf("EntrySize: bad tag %s at #%d", cp.TagAt(i), i))
}

// HashEntriesTo records every Utf8 symbol in symmap and every class name in
// classmap, and returns the byte size of the whole pool.
func (cp *ConstantPool) HashEntriesTo(symmap, classmap SymbolHash) int {
	size := 0
	cp.Each(func(i int, t Tag) {
		size += cp.EntrySize(i)
		switch t {
		case TagUtf8:
			symmap.addIfAbsent(cp.SymbolAt(i), i)
		case TagClass, TagUnresolvedClass, TagUnresolvedClassInError:
			classmap.addIfAbsent(cp.KlassNameAt(i), i)
		}
	})
	return size
}

// CopyCPoolBytes writes the pool in class-file layout into out, which must
// hold at least size bytes, and returns the number of bytes written.
// Resolved classes and strings are written in their symbolic form, using
// symmap to find the Utf8 entry of each name.
func (cp *ConstantPool) CopyCPoolBytes(size int, symmap SymbolHash, out []byte) (int, error) {
	if len(out) < size {
		return 0, fmt.Errorf("output buffer of %d bytes is smaller than %d", len(out), size)
	}
	n := 0
	for i := 1; i < cp.Length(); i = cp.next(i) {
		t := cp.TagAt(i)
		es := cp.EntrySize(i)
		if n+es > size {
			return n, fmt.Errorf("pool needs more than %d bytes at #%d", size, i)
		}
		b := out[n : n+es]
		b[0] = byte(t)
		switch t {
		case TagInvalid:
		case TagUtf8:
			s := cp.SymbolAt(i).String()
			binary.BigEndian.PutUint16(b[1:], uint16(len(s)))
			copy(b[3:], s)
		case TagInteger, TagFloat:
			binary.BigEndian.PutUint32(b[1:], uint32(cp.bitsAt(i)))
		case TagLong, TagDouble:
			binary.BigEndian.PutUint64(b[1:], cp.bitsAt(i))
		case TagClass, TagUnresolvedClass, TagUnresolvedClassInError:
			b[0] = byte(TagClass)
			idx, ok := symmap[cp.KlassNameAt(i)]
			if !ok {
				return n, fmt.Errorf("no Utf8 entry for class name %q at #%d", cp.KlassNameAt(i), i)
			}
			binary.BigEndian.PutUint16(b[1:], uint16(idx))
		case TagString:
			idx, ok := symmap[cp.UnresolvedStringAt(i)]
			if !ok {
				return n, fmt.Errorf("no Utf8 entry for string %q at #%d", cp.UnresolvedStringAt(i), i)
			}
			binary.BigEndian.PutUint16(b[1:], uint16(idx))
		case TagFieldref, TagMethodref, TagInterfaceMethodref, TagNameAndType,
			TagDynamic, TagDynamicInError, TagInvokeDynamic:
			if t == TagDynamicInError {
				b[0] = byte(TagDynamic)
			}
			bits := cp.bitsAt(i)
			binary.BigEndian.PutUint16(b[1:], uint16(low(bits)))
			binary.BigEndian.PutUint16(b[3:], uint16(high(bits)))
		case TagClassIndex:
			b[0] = byte(TagClass)
			binary.BigEndian.PutUint16(b[1:], uint16(cp.KlassIndexAt(i)))
		case TagStringIndex:
			b[0] = byte(TagString)
			binary.BigEndian.PutUint16(b[1:], uint16(cp.StringIndexAt(i)))
		case TagMethodHandle, TagMethodHandleInError:
			b[0] = byte(TagMethodHandle)
			b[1] = byte(cp.MethodHandleRefKindAt(i))
			binary.BigEndian.PutUint16(b[2:], uint16(cp.MethodHandleIndexAt(i)))
		case TagMethodType, TagMethodTypeInError:
			b[0] = byte(TagMethodType)
			binary.BigEndian.PutUint16(b[1:], uint16(cp.MethodTypeIndexAt(i)))
		default:
			return n, fmt.Errorf("%w: %s at #%d cannot be serialized", ErrWrongTag, t, i)
		}
		n += es
	}
	if n != size {
		return n, fmt.Errorf("wrote %d bytes, expected %d", n, size)
	}
	return n, nil
}

// Bytes serializes the pool in class-file layout, without the leading
// constant_pool_count.
func (cp *ConstantPool) Bytes() ([]byte, error) {
	symmap, classmap := SymbolHash{}, SymbolHash{}
	size := cp.HashEntriesTo(symmap, classmap)
	out := make([]byte, size)
	if _, err := cp.CopyCPoolBytes(size, symmap, out); err != nil {
		return nil, err
	}
	return out, nil
}
