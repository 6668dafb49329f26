package vm

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daimatz/gocpool/pkg/classfile"
	"github.com/daimatz/gocpool/pkg/cpool"
	"github.com/daimatz/gocpool/pkg/symbol"
)

func TestStringTableInterns(t *testing.T) {
	st := NewStringTable()
	symbols := symbol.NewTable()

	a := st.Intern(symbols.Intern("hello"))
	b := st.InternString("hello")
	assert.Same(t, a, b)
	assert.NotSame(t, a, st.InternString("world"))
	assert.Equal(t, 2, st.Len())

	const n = 32
	got := make([]*JString, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got[i] = st.InternString("shared")
		}()
	}
	wg.Wait()
	for _, s := range got {
		assert.Same(t, got[0], s)
	}
	assert.Equal(t, 3, st.Len())
}

func TestObjectStrings(t *testing.T) {
	w := newTestWorld(t)
	w.add(classfile.NewBuilder("app/A", "java/lang/Object"), "app/A")
	a := w.load(t, "app/A")
	arr, err := w.vm.Dictionary.Resolve("[Lapp/A;", w.app)
	require.NoError(t, err)

	mh := &MethodHandle{Kind: cpool.RefInvokeStatic, Holder: a, Name: "f", Descriptor: "()V"}
	tests := []struct {
		name string
		obj  interface{ String() string }
		want string
	}{
		{"mirror", a.Mirror().(*Mirror), "class app/A"},
		{"array mirror", arr.Mirror().(*Mirror), "class [Lapp/A;"},
		{"object", &JObject{Class: a}, "app/A"},
		{"array", &JArray{Class: arr.(*ArrayKlass), Elements: make([]Value, 2)}, "[Lapp/A;[2]"},
		{"method handle", mh, "MethodHandle(invokeStatic app/A.f:()V)"},
		{"method type", &MethodType{Descriptor: "(I)V"}, "MethodType(I)V"},
		{"call site", &CallSite{Name: "run", Type: "()V", Target: mh}, "CallSite(run()V -> MethodHandle(invokeStatic app/A.f:()V))"},
		{"string", &JString{Value: "hi"}, "hi"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.obj.String())
		})
	}
}

func TestIsAssignable(t *testing.T) {
	w := newTestWorld(t)
	w.add(classfile.NewBuilder("app/Base", "java/lang/Object").AddInterface("java/lang/Runnable"), "app/Base")
	w.add(classfile.NewBuilder("app/Sub", "app/Base"), "app/Sub")
	base, sub := w.load(t, "app/Base"), w.load(t, "app/Sub")
	resolve := func(name string) cpool.Klass {
		k, err := w.vm.Dictionary.Resolve(name, w.app)
		require.NoError(t, err)
		return k
	}

	tests := []struct {
		from, to cpool.Klass
		want     bool
	}{
		{sub, base, true},
		{sub, resolve("java/lang/Runnable"), true},
		{sub, resolve("java/lang/Object"), true},
		{base, sub, false},
		{resolve("[Lapp/Sub;"), resolve("[Lapp/Base;"), true},
		{resolve("[Lapp/Base;"), resolve("[Lapp/Sub;"), false},
		{resolve("[I"), resolve("java/lang/Object"), true},
		{resolve("[I"), resolve("[J"), false},
		{base, resolve("java/lang/String"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isAssignable(tt.from, tt.to), "%s -> %s", tt.from.Name(), tt.to.Name())
	}
}

func TestParseMethodDescriptor(t *testing.T) {
	tests := []struct {
		desc    string
		params  []string
		ret     string
		wantErr bool
	}{
		{desc: "()V", ret: "V"},
		{desc: "(IJ)D", params: []string{"I", "J"}, ret: "D"},
		{desc: "([[Ljava/lang/String;Lapp/A;Z)[I", params: []string{"[[Ljava/lang/String;", "Lapp/A;", "Z"}, ret: "[I"},
		{desc: "(I", wantErr: true},
		{desc: "I)V", wantErr: true},
		{desc: "(Q)V", wantErr: true},
		{desc: "(Lapp/A)V", wantErr: true},
		{desc: "()II", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			params, ret, err := parseMethodDescriptor(tt.desc)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.params, params)
			assert.Equal(t, tt.ret, ret)
		})
	}
}
