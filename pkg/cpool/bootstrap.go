package cpool

import (
	"fmt"
	"strings"

	"github.com/daimatz/gocpool/pkg/exception"
	"github.com/daimatz/gocpool/pkg/symbol"
)

// BootstrapInfo describes one bootstrap method invocation, for a dynamic
// constant or an invokedynamic call site.
type BootstrapInfo struct {
	pool *ConstantPool

	Index     int // pool index of the Dynamic or InvokeDynamic entry
	IndyIndex int // -1 for a dynamic constant
	BSMIndex  int // pool index of the bootstrap MethodHandle
	Name      *symbol.Symbol
	Signature *symbol.Symbol
	ArgCount  int

	result    Object
	hasResult bool
}

// BootstrapInfoAt describes the bootstrap invocation of the Dynamic or
// InvokeDynamic entry at i.
func (cp *ConstantPool) BootstrapInfoAt(i int) *BootstrapInfo {
	return cp.bootstrapInfo(i, -1)
}

func (cp *ConstantPool) bootstrapInfo(i, indyIndex int) *BootstrapInfo {
	return &BootstrapInfo{
		pool:      cp,
		Index:     i,
		IndyIndex: indyIndex,
		BSMIndex:  cp.BootstrapMethodRefIndexAt(i),
		Name:      cp.UncachedNameRefAt(i),
		Signature: cp.UncachedSignatureRefAt(i),
		ArgCount:  cp.BootstrapArgumentCountAt(i),
	}
}

// Pool returns the pool the invocation belongs to.
func (b *BootstrapInfo) Pool() *ConstantPool { return b.pool }

// IsDynamicConstant reports whether the invocation computes a constant.
func (b *BootstrapInfo) IsDynamicConstant() bool { return b.IndyIndex < 0 }

// ResolveMethod resolves the bootstrap method handle. Its failure is
// recorded on the MethodHandle entry, not on the entry being bootstrapped.
func (b *BootstrapInfo) ResolveMethod() (Object, error) {
	return b.pool.ResolveConstantAt(b.BSMIndex)
}

// ArgumentIndex returns the pool index of static argument j.
func (b *BootstrapInfo) ArgumentIndex(j int) int {
	return b.pool.BootstrapArgumentIndexAt(b.Index, j)
}

// ResolveArguments resolves every static argument.
func (b *BootstrapInfo) ResolveArguments() ([]Object, error) {
	args := make([]Object, b.ArgCount)
	if err := b.pool.CopyBootstrapArgumentsAt(b.Index, 0, b.ArgCount, args, 0, true, nil); err != nil {
		return nil, err
	}
	return args, nil
}

// SetResult records what the bootstrap method produced.
func (b *BootstrapInfo) SetResult(o Object) {
	b.result = o
	b.hasResult = true
}

// Result returns the value recorded by SetResult.
func (b *BootstrapInfo) Result() Object { return b.result }

// HasResult reports whether SetResult was called.
func (b *BootstrapInfo) HasResult() bool { return b.hasResult }

func (b *BootstrapInfo) String() string {
	var sb strings.Builder
	if b.IsDynamicConstant() {
		fmt.Fprintf(&sb, "condy #%d", b.Index)
	} else {
		fmt.Fprintf(&sb, "indy #%d/%d", b.Index, b.IndyIndex)
	}
	fmt.Fprintf(&sb, " %s%s bsm=#%d", b.Name, b.Signature, b.BSMIndex)
	for j := 0; j < b.ArgCount; j++ {
		if j == 0 {
			sb.WriteString(" args={")
		} else {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "#%d", b.ArgumentIndex(j))
	}
	if b.ArgCount > 0 {
		sb.WriteString("}")
	}
	return sb.String()
}

func errBadBSMArgumentAccess() error {
	return exception.New(exception.ClassLinkageError, "bad BSM argument access")
}

// CopyBootstrapArgumentsAt stores static arguments start..end-1 of the
// Dynamic or InvokeDynamic entry at i into dst starting at pos. With
// mustResolve unset, arguments that are not yet resolved are replaced by
// ifNotAvailable instead of being resolved. Any out-of-range request fails
// with a LinkageError.
func (cp *ConstantPool) CopyBootstrapArgumentsAt(i, start, end int, dst []Object, pos int, mustResolve bool, ifNotAvailable Object) error {
	limit := pos + end - start
	if !cp.IsValidIndex(i) || !cp.TagAt(i).HasBootstrap() ||
		start < 0 || start > end || end > cp.BootstrapArgumentCountAt(i) ||
		pos < 0 || pos > limit || dst == nil || limit > len(dst) {
		return errBadBSMArgumentAccess()
	}
	n := pos
	for j := start; j < end; j++ {
		arg := cp.BootstrapArgumentIndexAt(i, j)
		var (
			o   Object
			err error
		)
		if mustResolve {
			o, err = cp.ResolveConstantAt(arg)
		} else {
			var found bool
			o, found, err = cp.FindCachedConstantAt(arg)
			if err == nil && !found {
				o = ifNotAvailable
			}
		}
		if err != nil {
			return err
		}
		dst[n] = o
		n++
	}
	return nil
}

// ResolveInvokeDynamic binds invokedynamic call site indyIndex, running its
// bootstrap method on first use. Linkage failures are recorded under the
// call site and replayed by every later attempt.
func (cp *ConstantPool) ResolveInvokeDynamic(indyIndex int) (Object, error) {
	if cp.cache == nil {
		return nil, ErrNoCache
	}
	if indyIndex < 0 || indyIndex >= len(cp.cache.indys) {
		return nil, fmt.Errorf("%w: indy index %d", ErrBadIndex, indyIndex)
	}
	e := &cp.cache.indys[indyIndex]
	refs := cp.ResolvedReferences()
	if refs == nil {
		return nil, ErrNoCache
	}
	key := encodeIndyIndex(indyIndex)
	switch e.state.Load() {
	case indyResolved:
		return refs.At(e.ReferencesIndex), nil
	case indyFailed:
		return nil, cp.throwResolutionError(key)
	}

	info := cp.bootstrapInfo(e.CPIndex, indyIndex)
	err := exception.WrapDynamic(cp.rt.Dictionary.InvokeBootstrap(info))
	if err == nil && info.Result() == nil {
		err = exception.New(exception.ClassBootstrapMethodError, "call site initialization produced null")
	}
	if err != nil {
		if !exception.IsLinkageError(err) {
			return nil, err
		}
		cp.recordResolutionError(key, e.CPIndex, TagInvokeDynamic, err.(*exception.Throwable))
		if e.state.CompareAndSwap(indyUnresolved, indyFailed) || e.state.Load() == indyFailed {
			return nil, cp.committedError(key, err)
		}
		return refs.At(e.ReferencesIndex), nil
	}

	site := info.Result()
	if old := refs.ReplaceIfNull(e.ReferencesIndex, site); old != nil {
		site = old
	}
	if !e.state.CompareAndSwap(indyUnresolved, indyResolved) && e.state.Load() == indyFailed {
		return nil, cp.throwResolutionError(key)
	}
	return site, nil
}
