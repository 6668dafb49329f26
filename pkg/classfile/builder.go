package classfile

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/daimatz/gocpool/pkg/cpool"
)

// Builder assembles a class file in memory. Constant pool entries are
// appended in call order; Utf8, Class and String entries are shared by
// value. The index of every added entry is returned so that later entries
// and methods can refer to it.
type Builder struct {
	pool       bytes.Buffer
	next       int
	shared     map[string]int
	bootstrap  []cpool.BootstrapSpecifier
	access     uint16
	this       int
	super      int
	interfaces []int
	fields     []builderMember
	methods    []builderMember
	major      uint16
}

type builderMember struct {
	access    uint16
	name      int
	desc      int
	code      []byte
	maxStack  uint16
	maxLocals uint16
}

// NewBuilder starts a public class named name extending super. An empty
// super builds a root class.
func NewBuilder(name, super string) *Builder {
	b := &Builder{next: 1, shared: make(map[string]int), access: AccPublic | AccSuper, major: 61}
	b.this = b.Class(name)
	if super != "" {
		b.super = b.Class(super)
	}
	return b
}

// SetAccess replaces the class access flags.
func (b *Builder) SetAccess(flags uint16) *Builder {
	b.access = flags
	return b
}

// SetMajorVersion sets the class file major version (default 61).
func (b *Builder) SetMajorVersion(v uint16) *Builder {
	b.major = v
	return b
}

func (b *Builder) add(tag cpool.Tag, payload ...any) int {
	i := b.next
	b.pool.WriteByte(byte(tag))
	for _, p := range payload {
		_ = binary.Write(&b.pool, binary.BigEndian, p)
	}
	b.next += tag.Width()
	if b.next > 0xFFFF {
		panic("constant pool too large")
	}
	return i
}

func (b *Builder) addShared(key string, add func() int) int {
	if i, ok := b.shared[key]; ok {
		return i
	}
	i := add()
	b.shared[key] = i
	return i
}

// Utf8 adds a Utf8 entry.
func (b *Builder) Utf8(s string) int {
	return b.addShared("u:"+s, func() int {
		i := b.add(cpool.TagUtf8, uint16(len(s)))
		b.pool.WriteString(s)
		return i
	})
}

// Class adds a Class entry naming name.
func (b *Builder) Class(name string) int {
	return b.addShared("c:"+name, func() int {
		utf8 := b.Utf8(name)
		return b.add(cpool.TagClass, uint16(utf8))
	})
}

// String adds a String entry.
func (b *Builder) String(s string) int {
	return b.addShared("s:"+s, func() int {
		utf8 := b.Utf8(s)
		return b.add(cpool.TagString, uint16(utf8))
	})
}

// Integer adds an Integer entry.
func (b *Builder) Integer(v int32) int { return b.add(cpool.TagInteger, v) }

// Float adds a Float entry.
func (b *Builder) Float(v float32) int { return b.add(cpool.TagFloat, math.Float32bits(v)) }

// Long adds a Long entry, which takes two slots.
func (b *Builder) Long(v int64) int { return b.add(cpool.TagLong, v) }

// Double adds a Double entry, which takes two slots.
func (b *Builder) Double(v float64) int { return b.add(cpool.TagDouble, math.Float64bits(v)) }

// NameAndType adds a NameAndType entry.
func (b *Builder) NameAndType(name, desc string) int {
	n, d := b.Utf8(name), b.Utf8(desc)
	return b.add(cpool.TagNameAndType, uint16(n), uint16(d))
}

func (b *Builder) memberRef(tag cpool.Tag, class, name, desc string) int {
	c := b.Class(class)
	nat := b.NameAndType(name, desc)
	return b.add(tag, uint16(c), uint16(nat))
}

// Fieldref adds a Fieldref entry.
func (b *Builder) Fieldref(class, name, desc string) int {
	return b.memberRef(cpool.TagFieldref, class, name, desc)
}

// Methodref adds a Methodref entry.
func (b *Builder) Methodref(class, name, desc string) int {
	return b.memberRef(cpool.TagMethodref, class, name, desc)
}

// InterfaceMethodref adds an InterfaceMethodref entry.
func (b *Builder) InterfaceMethodref(class, name, desc string) int {
	return b.memberRef(cpool.TagInterfaceMethodref, class, name, desc)
}

// MethodHandle adds a MethodHandle entry referring to the member ref at ref.
func (b *Builder) MethodHandle(kind cpool.RefKind, ref int) int {
	return b.add(cpool.TagMethodHandle, uint8(kind), uint16(ref))
}

// MethodType adds a MethodType entry.
func (b *Builder) MethodType(desc string) int {
	d := b.Utf8(desc)
	return b.add(cpool.TagMethodType, uint16(d))
}

// Bootstrap adds a BootstrapMethods record and returns its index.
func (b *Builder) Bootstrap(handle int, args ...int) int {
	b.bootstrap = append(b.bootstrap, cpool.BootstrapSpecifier{MethodRef: handle, Args: args})
	return len(b.bootstrap) - 1
}

// Dynamic adds a Dynamic entry using bootstrap record bsm.
func (b *Builder) Dynamic(bsm int, name, desc string) int {
	nat := b.NameAndType(name, desc)
	return b.add(cpool.TagDynamic, uint16(bsm), uint16(nat))
}

// InvokeDynamic adds an InvokeDynamic entry using bootstrap record bsm.
func (b *Builder) InvokeDynamic(bsm int, name, desc string) int {
	nat := b.NameAndType(name, desc)
	return b.add(cpool.TagInvokeDynamic, uint16(bsm), uint16(nat))
}

// AddInterface declares that the class implements name.
func (b *Builder) AddInterface(name string) *Builder {
	b.interfaces = append(b.interfaces, b.Class(name))
	return b
}

// AddField declares a field.
func (b *Builder) AddField(access uint16, name, desc string) *Builder {
	b.fields = append(b.fields, builderMember{access: access, name: b.Utf8(name), desc: b.Utf8(desc)})
	return b
}

// AddMethod declares a method. A nil code declares it without a Code
// attribute.
func (b *Builder) AddMethod(access uint16, name, desc string, maxStack, maxLocals uint16, code []byte) *Builder {
	b.methods = append(b.methods, builderMember{
		access:    access,
		name:      b.Utf8(name),
		desc:      b.Utf8(desc),
		code:      code,
		maxStack:  maxStack,
		maxLocals: maxLocals,
	})
	return b
}

// Bytes returns the class file.
func (b *Builder) Bytes() []byte {
	codeName, bsmName := 0, 0
	for _, m := range b.methods {
		if m.code != nil {
			codeName = b.Utf8("Code")
			break
		}
	}
	if len(b.bootstrap) > 0 {
		bsmName = b.Utf8("BootstrapMethods")
	}

	var out bytes.Buffer
	w := func(v any) { _ = binary.Write(&out, binary.BigEndian, v) }
	w(uint32(classMagic))
	w(uint16(0))
	w(b.major)
	w(uint16(b.next))
	out.Write(b.pool.Bytes())
	w(b.access)
	w(uint16(b.this))
	w(uint16(b.super))
	w(uint16(len(b.interfaces)))
	for _, i := range b.interfaces {
		w(uint16(i))
	}

	w(uint16(len(b.fields)))
	for _, f := range b.fields {
		w(f.access)
		w(uint16(f.name))
		w(uint16(f.desc))
		w(uint16(0))
	}

	w(uint16(len(b.methods)))
	for _, m := range b.methods {
		w(m.access)
		w(uint16(m.name))
		w(uint16(m.desc))
		if m.code == nil {
			w(uint16(0))
			continue
		}
		w(uint16(1))
		w(uint16(codeName))
		// max_stack, max_locals, code_length, code, empty exception and
		// attribute tables
		w(uint32(2 + 2 + 4 + len(m.code) + 2 + 2))
		w(m.maxStack)
		w(m.maxLocals)
		w(uint32(len(m.code)))
		out.Write(m.code)
		w(uint16(0))
		w(uint16(0))
	}

	if len(b.bootstrap) == 0 {
		w(uint16(0))
		return out.Bytes()
	}
	var bsm bytes.Buffer
	_ = binary.Write(&bsm, binary.BigEndian, uint16(len(b.bootstrap)))
	for _, s := range b.bootstrap {
		_ = binary.Write(&bsm, binary.BigEndian, uint16(s.MethodRef))
		_ = binary.Write(&bsm, binary.BigEndian, uint16(len(s.Args)))
		for _, a := range s.Args {
			_ = binary.Write(&bsm, binary.BigEndian, uint16(a))
		}
	}
	w(uint16(1))
	w(uint16(bsmName))
	w(uint32(bsm.Len()))
	out.Write(bsm.Bytes())
	return out.Bytes()
}

// Len returns the constant_pool_count the class file will carry so far.
func (b *Builder) Len() int { return b.next }
