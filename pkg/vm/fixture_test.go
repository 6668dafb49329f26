package vm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/daimatz/gocpool/pkg/bytecode"
	"github.com/daimatz/gocpool/pkg/classfile"
	"github.com/daimatz/gocpool/pkg/cpool"
	"github.com/daimatz/gocpool/pkg/exception"
	"github.com/daimatz/gocpool/pkg/native"
)

const (
	bsmName = "bsm"
	bsmDesc = "(Ljava/lang/invoke/MethodHandles$Lookup;Ljava/lang/String;Ljava/lang/Object;)Ljava/lang/Object;"
)

// testWorld is a VM whose boot loader serves a few java/lang classes and
// whose app loader serves the classes a test adds.
type testWorld struct {
	vm   *VM
	boot *MemoryClassLoader
	app  *MemoryClassLoader
}

func newTestWorld(t *testing.T) *testWorld {
	t.Helper()
	boot := NewMemoryClassLoader(cpool.LoaderBoot, "boot", nil)
	boot.Add("java/lang/Object", classfile.NewBuilder("java/lang/Object", "").Bytes())
	boot.Add("java/lang/String", classfile.NewBuilder("java/lang/String", "java/lang/Object").
		SetAccess(classfile.AccPublic|classfile.AccFinal|classfile.AccSuper).Bytes())
	boot.Add("java/lang/Runnable", classfile.NewBuilder("java/lang/Runnable", "java/lang/Object").
		SetAccess(classfile.AccPublic|classfile.AccInterface|classfile.AccAbstract).Bytes())
	app := NewMemoryClassLoader(cpool.LoaderApp, "app", boot)
	return &testWorld{vm: NewVM(boot, app), boot: boot, app: app}
}

func (w *testWorld) add(b *classfile.Builder, name string) {
	w.app.Add(name, b.Bytes())
}

func (w *testWorld) load(t *testing.T, name string) *InstanceKlass {
	t.Helper()
	k, err := w.vm.LoadClass(name)
	require.NoError(t, err)
	return k
}

func u16(i int) []byte { return []byte{byte(i >> 8), byte(i)} }

func code(parts ...any) []byte {
	var out []byte
	for _, p := range parts {
		switch v := p.(type) {
		case byte:
			out = append(out, v)
		case int:
			out = append(out, byte(v))
		case bytecode.Opcode:
			out = append(out, byte(v))
		case []byte:
			out = append(out, v...)
		}
	}
	return out
}

// mainIndices are the pool indices of the app/Main class built by
// buildMain.
type mainIndices struct {
	answer, hello, seven, half, point, missing, hidden int
	condy, condyLong, condyBsmMissing, counter, add    int
	indy, mh, mt, pointMethod, missingField            int
}

// buildMain builds app/Main, which exercises every kind of constant pool
// reference from bytecode.
func buildMain() (*classfile.Builder, mainIndices) {
	b := classfile.NewBuilder("app/Main", "java/lang/Object")
	var ix mainIndices
	ix.answer = b.Integer(42)
	ix.hello = b.String("hello")
	ix.seven = b.Long(7)
	ix.half = b.Double(0.5)
	ix.point = b.Class("app/Point")
	ix.missing = b.Class("app/Missing")
	ix.hidden = b.Class("other/Hidden")
	ix.mh = b.MethodHandle(cpool.RefInvokeStatic, b.Methodref("app/Main", bsmName, bsmDesc))
	ix.mt = b.MethodType("(Lapp/Point;[Ljava/lang/String;I)V")
	withArgs := b.Bootstrap(ix.mh, ix.answer, ix.hello)
	noArgs := b.Bootstrap(ix.mh)
	unregistered := b.Bootstrap(b.MethodHandle(cpool.RefInvokeStatic, b.Methodref("app/Main", "unregistered", bsmDesc)))
	ix.condy = b.Dynamic(withArgs, "answer", "I")
	ix.condyLong = b.Dynamic(noArgs, "big", "J")
	ix.condyBsmMissing = b.Dynamic(unregistered, "nothing", "Ljava/lang/Object;")
	ix.indy = b.InvokeDynamic(noArgs, "run", "(I)I")
	ix.counter = b.Fieldref("app/Main", "counter", "I")
	ix.add = b.Methodref("app/Main", "add", "(II)I")
	ix.pointMethod = b.Methodref("app/Point", "size", "()I")
	ix.missingField = b.Fieldref("app/Main", "absent", "I")

	ldc := bytecode.OpLdc
	b.AddField(classfile.AccStatic, "counter", "I")
	b.AddMethod(classfile.AccPublic|classfile.AccStatic, bsmName, bsmDesc, 0, 0, nil)
	b.AddMethod(classfile.AccPublic|classfile.AccStatic, "unregistered", bsmDesc, 0, 0, nil)
	b.AddMethod(classfile.AccPublic|classfile.AccStatic, "answer", "()I", 1, 0, code(ldc, ix.answer, OpIreturn))
	b.AddMethod(classfile.AccPublic|classfile.AccStatic, "greet", "()Ljava/lang/String;", 1, 0, code(bytecode.OpLdcW, u16(ix.hello), OpAreturn))
	b.AddMethod(classfile.AccPublic|classfile.AccStatic, "seven", "()J", 1, 0, code(bytecode.OpLdc2W, u16(ix.seven), OpLreturn))
	b.AddMethod(classfile.AccPublic|classfile.AccStatic, "half", "()D", 1, 0, code(bytecode.OpLdc2W, u16(ix.half), OpDreturn))
	b.AddMethod(classfile.AccPublic|classfile.AccStatic, "pointClass", "()Ljava/lang/Class;", 1, 0, code(ldc, ix.point, OpAreturn))
	b.AddMethod(classfile.AccPublic|classfile.AccStatic, "missingClass", "()Ljava/lang/Class;", 1, 0, code(ldc, ix.missing, OpAreturn))
	b.AddMethod(classfile.AccPublic|classfile.AccStatic, "hiddenClass", "()Ljava/lang/Class;", 1, 0, code(ldc, ix.hidden, OpAreturn))
	b.AddMethod(classfile.AccPublic|classfile.AccStatic, "condy", "()I", 1, 0, code(ldc, ix.condy, OpIreturn))
	b.AddMethod(classfile.AccPublic|classfile.AccStatic, "condyLong", "()J", 1, 0, code(bytecode.OpLdc2W, u16(ix.condyLong), OpLreturn))
	b.AddMethod(classfile.AccPublic|classfile.AccStatic, "condyUnregistered", "()Ljava/lang/Object;", 1, 0, code(ldc, ix.condyBsmMissing, OpAreturn))
	b.AddMethod(classfile.AccPublic|classfile.AccStatic, "wideLong", "()J", 1, 0, code(ldc, ix.seven, OpLreturn))
	b.AddMethod(classfile.AccPublic|classfile.AccStatic, "narrowInt", "()I", 1, 0, code(bytecode.OpLdc2W, u16(ix.answer), OpIreturn))
	b.AddMethod(classfile.AccPublic|classfile.AccStatic, "handle", "()Ljava/lang/Object;", 1, 0, code(ldc, ix.mh, OpAreturn))
	b.AddMethod(classfile.AccPublic|classfile.AccStatic, "methodType", "()Ljava/lang/Object;", 1, 0, code(ldc, ix.mt, OpAreturn))
	b.AddMethod(classfile.AccPublic|classfile.AccStatic, "add", "(II)I", 2, 2, code(OpIload0, OpIload1, OpIadd, OpIreturn))
	b.AddMethod(classfile.AccPublic|classfile.AccStatic, "callAdd", "()I", 2, 0,
		code(OpIconst2, OpIconst3, bytecode.OpInvokestatic, u16(ix.add), OpIreturn))
	b.AddMethod(classfile.AccPublic|classfile.AccStatic, "bump", "()I", 2, 0,
		code(OpIconst5, bytecode.OpPutstatic, u16(ix.counter), bytecode.OpGetstatic, u16(ix.counter), OpIreturn))
	b.AddMethod(classfile.AccPublic|classfile.AccStatic, "absent", "()I", 1, 0,
		code(bytecode.OpGetstatic, u16(ix.missingField), OpIreturn))
	b.AddMethod(classfile.AccPublic|classfile.AccStatic, "dynamic", "(I)I", 2, 1,
		code(OpIload0, bytecode.OpInvokedynamic, u16(ix.indy), 0, 0, OpIreturn))
	b.AddMethod(classfile.AccPublic|classfile.AccStatic, "newPoint", "()Ljava/lang/Object;", 2, 0,
		code(bytecode.OpNew, u16(ix.point), OpDup, bytecode.OpCheckcast, u16(ix.point), OpPop, OpAreturn))
	b.AddMethod(classfile.AccPublic|classfile.AccStatic, "isString", "()I", 2, 0,
		code(bytecode.OpNew, u16(ix.point), bytecode.OpInstanceof, u16(b.Class("java/lang/String")), OpIreturn))
	b.AddMethod(classfile.AccPublic|classfile.AccStatic, "castString", "()Ljava/lang/Object;", 2, 0,
		code(bytecode.OpNew, u16(ix.point), bytecode.OpCheckcast, u16(b.Class("java/lang/String")), OpAreturn))
	b.AddMethod(classfile.AccPublic|classfile.AccStatic, "points", "()I", 2, 0,
		code(OpIconst3, bytecode.OpAnewarray, u16(ix.point), OpArraylength, OpIreturn))
	b.AddMethod(classfile.AccPublic|classfile.AccStatic, "newRunnable", "()Ljava/lang/Object;", 2, 0,
		code(bytecode.OpNew, u16(b.Class("java/lang/Runnable")), OpAreturn))
	return b, ix
}

// newMainWorld loads app/Main, app/Point and a package-private
// other/Hidden, with the bootstrap method of app/Main implemented by bsm.
func newMainWorld(t *testing.T, bsm BootstrapFunc) (*testWorld, *InstanceKlass, mainIndices) {
	t.Helper()
	w := newTestWorld(t)
	b, ix := buildMain()
	w.add(b, "app/Main")
	w.add(classfile.NewBuilder("app/Point", "java/lang/Object").
		AddMethod(classfile.AccPublic, "size", "()I", 1, 1, code(OpIconst2, OpIreturn)), "app/Point")
	w.add(classfile.NewBuilder("other/Hidden", "java/lang/Object").SetAccess(classfile.AccSuper), "other/Hidden")
	if bsm != nil {
		w.vm.Dictionary.RegisterBootstrap("app/Main", bsmName, bsmDesc, bsm)
	}
	return w, w.load(t, "app/Main"), ix
}

// answerBootstrap boxes 42 for dynamic constants of type I, 1<<40 for type
// J and links call sites to a native method adding one.
func answerBootstrap(call *BootstrapCall) (cpool.Object, error) {
	if !call.Info.IsDynamicConstant() {
		return &CallSite{
			Name: call.Info.Name.String(),
			Type: call.Info.Signature.String(),
			Target: NativeMethod(func(args []Value) (Value, error) {
				return IntValue(args[0].Int + 1), nil
			}),
		}, nil
	}
	switch call.Info.Signature.String() {
	case "J":
		return native.LongValueOf(1 << 40), nil
	case "I":
		return native.IntegerValueOf(42), nil
	}
	return nil, nil
}

func requireThrowable(t *testing.T, err error, class string) *exception.Throwable {
	t.Helper()
	require.Error(t, err)
	th, ok := exception.As(err)
	require.True(t, ok, "want a Throwable, got %T: %v", err, err)
	require.Equal(t, class, th.Class, "throwable %v", th)
	return th
}
