package vm

import (
	"fmt"

	"github.com/daimatz/gocpool/pkg/cpool"
)

// JObject represents a JVM object instance.
type JObject struct {
	Class  *InstanceKlass
	Fields map[string]Value
}

func (o *JObject) String() string { return o.Class.Name().String() }

// JArray represents a JVM reference array.
type JArray struct {
	Class    *ArrayKlass
	Elements []Value
}

func (a *JArray) String() string { return fmt.Sprintf("%s[%d]", a.Class.Name(), len(a.Elements)) }

// NativeMethod is a call site target implemented in Go.
type NativeMethod func(args []Value) (Value, error)

// Mirror is the java.lang.Class instance of a loaded class.
type Mirror struct {
	Klass cpool.Klass
}

func (m *Mirror) String() string { return "class " + m.Klass.Name().String() }

// JString is an interned java.lang.String.
type JString struct {
	Value string
}

func (s *JString) String() string { return s.Value }

// MethodHandle is a direct method handle to a field or method.
type MethodHandle struct {
	Kind       cpool.RefKind
	Holder     *InstanceKlass // class the member was found in
	Name       string
	Descriptor string
}

// Key identifies the target member as "owner.name:descriptor".
func (h *MethodHandle) Key() string {
	return fmt.Sprintf("%s.%s:%s", h.Holder.Name(), h.Name, h.Descriptor)
}

func (h *MethodHandle) String() string {
	return fmt.Sprintf("MethodHandle(%s %s)", h.Kind, h.Key())
}

// MethodType is a resolved method descriptor. Classes holds the classes the
// descriptor names, in order of appearance.
type MethodType struct {
	Descriptor string
	Classes    []cpool.Klass
}

func (t *MethodType) String() string { return "MethodType" + t.Descriptor }

// CallSite is an invokedynamic call site linked by a bootstrap method.
type CallSite struct {
	Name   string
	Type   string
	Target cpool.Object
}

func (s *CallSite) String() string {
	return fmt.Sprintf("CallSite(%s%s -> %v)", s.Name, s.Type, s.Target)
}
