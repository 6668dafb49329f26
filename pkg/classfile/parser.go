package classfile

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/daimatz/gocpool/pkg/cpool"
	"github.com/daimatz/gocpool/pkg/symbol"
)

const classMagic = 0xCAFEBABE

// ParseFile opens and parses a .class file from the given path.
func ParseFile(path string, symbols *symbol.Table) (*ClassFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(bufio.NewReader(f), symbols)
}

// Parse reads a .class file from the given reader and returns a ClassFile.
// Its constant pool is verified and initialized: class entries are
// unresolved and the BootstrapMethods attribute is installed as the
// operand array. Symbols are interned in symbols.
func Parse(r io.Reader, symbols *symbol.Table) (*ClassFile, error) {
	cf := &ClassFile{}

	// Magic number
	var magic uint32
	if err := binary.Read(r, binary.BigEndian, &magic); err != nil {
		return nil, fmt.Errorf("reading magic number: %w", err)
	}
	if magic != classMagic {
		return nil, fmt.Errorf("invalid magic number: 0x%X (expected 0xCAFEBABE)", magic)
	}

	// Version
	if err := binary.Read(r, binary.BigEndian, &cf.MinorVersion); err != nil {
		return nil, fmt.Errorf("reading minor version: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &cf.MajorVersion); err != nil {
		return nil, fmt.Errorf("reading major version: %w", err)
	}

	// Constant pool
	var cpCount uint16
	if err := binary.Read(r, binary.BigEndian, &cpCount); err != nil {
		return nil, fmt.Errorf("reading constant pool count: %w", err)
	}
	pool, err := ParseConstantPool(r, cpCount, symbols)
	if err != nil {
		return nil, fmt.Errorf("parsing constant pool: %w", err)
	}
	pool.MajorVersion = cf.MajorVersion
	pool.MinorVersion = cf.MinorVersion
	cf.ConstantPool = pool

	if err := cf.parseBody(r); err != nil {
		pool.UnreferenceSymbols()
		return nil, err
	}
	return cf, nil
}

func (cf *ClassFile) parseBody(r io.Reader) error {
	// Access flags, this_class, super_class
	if err := binary.Read(r, binary.BigEndian, &cf.AccessFlags); err != nil {
		return fmt.Errorf("reading access flags: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &cf.ThisClass); err != nil {
		return fmt.Errorf("reading this_class: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &cf.SuperClass); err != nil {
		return fmt.Errorf("reading super_class: %w", err)
	}

	// Interfaces
	var interfacesCount uint16
	if err := binary.Read(r, binary.BigEndian, &interfacesCount); err != nil {
		return fmt.Errorf("reading interfaces count: %w", err)
	}
	cf.Interfaces = make([]uint16, interfacesCount)
	for i := uint16(0); i < interfacesCount; i++ {
		if err := binary.Read(r, binary.BigEndian, &cf.Interfaces[i]); err != nil {
			return fmt.Errorf("reading interface %d: %w", i, err)
		}
	}

	// Fields
	var err error
	var fieldsCount uint16
	if err := binary.Read(r, binary.BigEndian, &fieldsCount); err != nil {
		return fmt.Errorf("reading fields count: %w", err)
	}
	cf.Fields, err = parseFields(r, cf.ConstantPool, fieldsCount)
	if err != nil {
		return fmt.Errorf("parsing fields: %w", err)
	}

	// Methods
	var methodsCount uint16
	if err := binary.Read(r, binary.BigEndian, &methodsCount); err != nil {
		return fmt.Errorf("reading methods count: %w", err)
	}
	cf.Methods, err = parseMethods(r, cf.ConstantPool, methodsCount)
	if err != nil {
		return fmt.Errorf("parsing methods: %w", err)
	}

	// Class-level attributes (BootstrapMethods becomes the operand array)
	if err := cf.parseClassAttributes(r); err != nil {
		return fmt.Errorf("parsing class attributes: %w", err)
	}

	if err := cf.ConstantPool.Verify(); err != nil {
		return fmt.Errorf("malformed constant pool: %w", err)
	}
	if _, err := cf.ClassName(); err != nil {
		return fmt.Errorf("resolving this_class: %w", err)
	}
	cf.ConstantPool.InitializeUnresolvedKlasses()
	return nil
}

// memberHeader is the fixed part of a field_info or method_info.
type memberHeader struct {
	AccessFlags     uint16
	NameIndex       uint16
	DescriptorIndex uint16
	AttributesCount uint16
}

type member struct {
	access     uint16
	name, desc string
	attrs      []AttributeInfo
}

func parseMember(r io.Reader, pool *cpool.ConstantPool) (member, error) {
	var h memberHeader
	if err := binary.Read(r, binary.BigEndian, &h); err != nil {
		return member{}, fmt.Errorf("reading header: %w", err)
	}
	name, err := GetUtf8(pool, h.NameIndex)
	if err != nil {
		return member{}, fmt.Errorf("name: %w", err)
	}
	desc, err := GetUtf8(pool, h.DescriptorIndex)
	if err != nil {
		return member{}, fmt.Errorf("descriptor of %s: %w", name, err)
	}
	attrs, err := parseAttributeInfos(r, pool, h.AttributesCount)
	if err != nil {
		return member{}, fmt.Errorf("attributes of %s: %w", name, err)
	}
	return member{access: h.AccessFlags, name: name, desc: desc, attrs: attrs}, nil
}

func parseFields(r io.Reader, pool *cpool.ConstantPool, count uint16) ([]FieldInfo, error) {
	fields := make([]FieldInfo, 0, count)
	for i := range count {
		m, err := parseMember(r, pool)
		if err != nil {
			return nil, fmt.Errorf("field %d: %w", i, err)
		}
		fields = append(fields, FieldInfo{AccessFlags: m.access, Name: m.name, Descriptor: m.desc, Attributes: m.attrs})
	}
	return fields, nil
}

func parseMethods(r io.Reader, pool *cpool.ConstantPool, count uint16) ([]MethodInfo, error) {
	methods := make([]MethodInfo, 0, count)
	for i := range count {
		m, err := parseMember(r, pool)
		if err != nil {
			return nil, fmt.Errorf("method %d: %w", i, err)
		}
		mi := MethodInfo{AccessFlags: m.access, Name: m.name, Descriptor: m.desc, Attributes: m.attrs}
		if ci := slices.IndexFunc(m.attrs, func(a AttributeInfo) bool { return a.Name == "Code" }); ci >= 0 {
			if mi.Code, err = parseCodeAttribute(m.attrs[ci].Data); err != nil {
				return nil, fmt.Errorf("Code attribute of %s%s: %w", m.name, m.desc, err)
			}
		}
		methods = append(methods, mi)
	}
	return methods, nil
}

func parseAttributeInfos(r io.Reader, pool *cpool.ConstantPool, count uint16) ([]AttributeInfo, error) {
	attrs := make([]AttributeInfo, count)
	for i := uint16(0); i < count; i++ {
		var nameIndex uint16
		if err := binary.Read(r, binary.BigEndian, &nameIndex); err != nil {
			return nil, fmt.Errorf("reading attribute %d name index: %w", i, err)
		}
		var length uint32
		if err := binary.Read(r, binary.BigEndian, &length); err != nil {
			return nil, fmt.Errorf("reading attribute %d length: %w", i, err)
		}
		data := make([]byte, length)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, fmt.Errorf("reading attribute %d data: %w", i, err)
		}

		name, err := GetUtf8(pool, nameIndex)
		if err != nil {
			return nil, fmt.Errorf("resolving attribute %d name: %w", i, err)
		}

		attrs[i] = AttributeInfo{Name: name, Data: data}
	}
	return attrs, nil
}

func parseCodeAttribute(data []byte) (*CodeAttribute, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("Code attribute too short: %d bytes", len(data))
	}

	maxStack := binary.BigEndian.Uint16(data[0:2])
	maxLocals := binary.BigEndian.Uint16(data[2:4])
	codeLength := binary.BigEndian.Uint32(data[4:8])

	if len(data) < 8+int(codeLength) {
		return nil, fmt.Errorf("Code attribute data too short for code_length %d", codeLength)
	}

	code := make([]byte, codeLength)
	copy(code, data[8:8+codeLength])

	// Parse exception table
	offset := 8 + int(codeLength)
	var handlers []ExceptionHandler
	if offset+2 <= len(data) {
		exTableLen := binary.BigEndian.Uint16(data[offset : offset+2])
		offset += 2
		handlers = make([]ExceptionHandler, exTableLen)
		for i := uint16(0); i < exTableLen; i++ {
			if offset+8 > len(data) {
				break
			}
			handlers[i] = ExceptionHandler{
				StartPC:   binary.BigEndian.Uint16(data[offset : offset+2]),
				EndPC:     binary.BigEndian.Uint16(data[offset+2 : offset+4]),
				HandlerPC: binary.BigEndian.Uint16(data[offset+4 : offset+6]),
				CatchType: binary.BigEndian.Uint16(data[offset+6 : offset+8]),
			}
			offset += 8
		}
	}

	return &CodeAttribute{
		MaxStack:          maxStack,
		MaxLocals:         maxLocals,
		Code:              code,
		ExceptionHandlers: handlers,
	}, nil
}

func (cf *ClassFile) parseClassAttributes(r io.Reader) error {
	var count uint16
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return err
	}
	attrs, err := parseAttributeInfos(r, cf.ConstantPool, count)
	if err != nil {
		return err
	}
	cf.Attributes = attrs
	for _, attr := range attrs {
		if attr.Name == "BootstrapMethods" {
			specs, err := parseBootstrapMethods(attr.Data)
			if err != nil {
				return fmt.Errorf("parsing BootstrapMethods: %w", err)
			}
			cf.ConstantPool.SetOperands(cpool.BuildOperands(specs))
		}
	}
	return nil
}

func parseBootstrapMethods(data []byte) ([]cpool.BootstrapSpecifier, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("BootstrapMethods data too short")
	}
	numMethods := binary.BigEndian.Uint16(data[0:2])
	offset := 2
	methods := make([]cpool.BootstrapSpecifier, numMethods)
	for i := uint16(0); i < numMethods; i++ {
		if offset+4 > len(data) {
			return nil, fmt.Errorf("BootstrapMethods truncated at method %d", i)
		}
		methodRef := binary.BigEndian.Uint16(data[offset : offset+2])
		numArgs := binary.BigEndian.Uint16(data[offset+2 : offset+4])
		offset += 4
		args := make([]int, numArgs)
		for j := uint16(0); j < numArgs; j++ {
			if offset+2 > len(data) {
				return nil, fmt.Errorf("BootstrapMethods truncated at arg %d of method %d", j, i)
			}
			args[j] = int(binary.BigEndian.Uint16(data[offset : offset+2]))
			offset += 2
		}
		methods[i] = cpool.BootstrapSpecifier{MethodRef: int(methodRef), Args: args}
	}
	return methods, nil
}
