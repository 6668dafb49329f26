package vm

import (
	"strings"
	"sync"

	"github.com/daimatz/gocpool/pkg/classfile"
	"github.com/daimatz/gocpool/pkg/cpool"
	"github.com/daimatz/gocpool/pkg/symbol"
)

// InstanceKlass is a class or interface defined from a class file.
type InstanceKlass struct {
	name       *symbol.Symbol
	loader     ClassLoader
	file       *classfile.ClassFile
	super      *InstanceKlass
	interfaces []*InstanceKlass
	mirror     *Mirror

	mu      sync.Mutex
	statics map[string]Value
}

func newInstanceKlass(name *symbol.Symbol, loader ClassLoader, cf *classfile.ClassFile) *InstanceKlass {
	k := &InstanceKlass{name: name, loader: loader, file: cf}
	k.mirror = &Mirror{Klass: k}
	return k
}

func (k *InstanceKlass) Name() *symbol.Symbol { return k.name }
func (k *InstanceKlass) IsInterface() bool    { return k.file.IsInterface() }
func (k *InstanceKlass) Mirror() cpool.Object { return k.mirror }

func (k *InstanceKlass) Loader() cpool.Loader {
	if k.loader == nil {
		return nil
	}
	return k.loader
}

// ClassLoader returns the defining loader.
func (k *InstanceKlass) ClassLoader() ClassLoader { return k.loader }

// ClassFile returns the parsed class file the class was defined from.
func (k *InstanceKlass) ClassFile() *classfile.ClassFile { return k.file }

// ConstantPool returns the run-time constant pool of the class.
func (k *InstanceKlass) ConstantPool() *cpool.ConstantPool { return k.file.ConstantPool }

// Super returns the superclass, or nil for java/lang/Object.
func (k *InstanceKlass) Super() *InstanceKlass { return k.super }

// Interfaces returns the directly implemented interfaces.
func (k *InstanceKlass) Interfaces() []*InstanceKlass { return k.interfaces }

// IsPublic reports whether the class is declared public.
func (k *InstanceKlass) IsPublic() bool { return k.file.AccessFlags&classfile.AccPublic != 0 }

// Package returns the binary package name, "" for the unnamed package.
func (k *InstanceKlass) Package() string { return packageOf(k.name.String()) }

// FindMethod looks name and descriptor up in the class, then its
// superclasses, then its superinterfaces.
func (k *InstanceKlass) FindMethod(name, descriptor string) (*InstanceKlass, *classfile.MethodInfo) {
	for c := k; c != nil; c = c.super {
		if m := c.file.FindMethod(name, descriptor); m != nil {
			return c, m
		}
	}
	for c := k; c != nil; c = c.super {
		for _, iface := range c.interfaces {
			if owner, m := iface.FindMethod(name, descriptor); m != nil {
				return owner, m
			}
		}
	}
	return nil, nil
}

// FindField looks a field up in the class, its superinterfaces and then its
// superclasses, in field resolution order.
func (k *InstanceKlass) FindField(name, descriptor string) (*InstanceKlass, *classfile.FieldInfo) {
	if f := k.file.FindField(name, descriptor); f != nil {
		return k, f
	}
	for _, iface := range k.interfaces {
		if owner, f := iface.FindField(name, descriptor); f != nil {
			return owner, f
		}
	}
	if k.super != nil {
		return k.super.FindField(name, descriptor)
	}
	return nil, nil
}

// GetStatic returns the value of a static field, the zero value of its
// type until it is first stored.
func (k *InstanceKlass) GetStatic(name, descriptor string) Value {
	k.mu.Lock()
	defer k.mu.Unlock()
	if v, ok := k.statics[name+":"+descriptor]; ok {
		return v
	}
	return zeroValue(descriptor)
}

// PutStatic stores the value of a static field.
func (k *InstanceKlass) PutStatic(name, descriptor string, v Value) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.statics == nil {
		k.statics = make(map[string]Value)
	}
	k.statics[name+":"+descriptor] = v
}

func (k *InstanceKlass) String() string { return k.name.String() }

// ArrayKlass is an array class. Element is nil for arrays of primitives.
type ArrayKlass struct {
	name    *symbol.Symbol
	element cpool.Klass
	loader  ClassLoader
	mirror  *Mirror
}

func newArrayKlass(name *symbol.Symbol, element cpool.Klass, loader ClassLoader) *ArrayKlass {
	k := &ArrayKlass{name: name, element: element, loader: loader}
	k.mirror = &Mirror{Klass: k}
	return k
}

func (k *ArrayKlass) Name() *symbol.Symbol { return k.name }
func (k *ArrayKlass) IsInterface() bool    { return false }
func (k *ArrayKlass) Mirror() cpool.Object { return k.mirror }

func (k *ArrayKlass) Loader() cpool.Loader {
	if k.loader == nil {
		return nil
	}
	return k.loader
}

// Element returns the component class, or nil for a primitive component.
func (k *ArrayKlass) Element() cpool.Klass { return k.element }

func (k *ArrayKlass) String() string { return k.name.String() }

func packageOf(name string) string {
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		return name[:i]
	}
	return ""
}

func zeroValue(descriptor string) Value {
	switch descriptor {
	case "J":
		return LongValue(0)
	case "F":
		return FloatValue(0)
	case "D":
		return DoubleValue(0)
	case "B", "C", "I", "S", "Z":
		return IntValue(0)
	}
	return NullValue()
}

// isAssignable reports whether values of class from may be stored in a
// variable of class to.
func isAssignable(from, to cpool.Klass) bool {
	if from == to || to.Name().String() == "java/lang/Object" {
		return true
	}
	switch f := from.(type) {
	case *InstanceKlass:
		for c := f; c != nil; c = c.super {
			if cpool.Klass(c) == to {
				return true
			}
			for _, iface := range c.interfaces {
				if isAssignable(iface, to) {
					return true
				}
			}
		}
	case *ArrayKlass:
		switch to.Name().String() {
		case "java/lang/Cloneable", "java/io/Serializable":
			return true
		}
		if t, ok := to.(*ArrayKlass); ok && f.element != nil && t.element != nil {
			return isAssignable(f.element, t.element)
		}
	}
	return false
}
