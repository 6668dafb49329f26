package symbol

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntern(t *testing.T) {
	tbl := NewTable()
	a := tbl.Intern("java/lang/Object")
	b := tbl.Intern("java/lang/Object")
	assert.Same(t, a, b)
	assert.Equal(t, int32(2), a.Refcount())
	assert.Equal(t, "java/lang/Object", a.String())
	assert.Equal(t, 16, a.Len())

	got, ok := tbl.Lookup("java/lang/Object")
	require.True(t, ok)
	assert.Same(t, a, got)
	assert.Equal(t, int32(2), a.Refcount(), "lookup takes no reference")

	_, ok = tbl.Lookup("missing")
	assert.False(t, ok)
	assert.Equal(t, "<nil>", (*Symbol)(nil).String())
	assert.Equal(t, 3, tbl.Intern("λ").Len())
}

func TestInternAcrossChunks(t *testing.T) {
	tbl := NewTable()
	syms := make([]*Symbol, chunkSize*2+1)
	for i := range syms {
		syms[i] = tbl.Intern(fmt.Sprintf("s%d", i))
	}
	for i, s := range syms {
		assert.Equal(t, fmt.Sprintf("s%d", i), s.String())
	}
	assert.Equal(t, len(syms), tbl.Len())
}

func TestConcurrentIntern(t *testing.T) {
	tbl := NewTable()
	const n = 64
	got := make([]*Symbol, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got[i] = tbl.Intern("shared")
		}()
	}
	wg.Wait()
	for _, s := range got {
		assert.Same(t, got[0], s)
	}
	assert.Equal(t, int32(n), got[0].Refcount())
}

func TestPermanent(t *testing.T) {
	tbl := NewTable()
	p := tbl.NewPermanent("<init>")
	assert.True(t, p.Permanent())
	p.DecrementRefcount()
	p.IncrementRefcount()
	assert.Equal(t, int32(0), p.Refcount())
	assert.Same(t, p, tbl.NewPermanent("<init>"))
}

func TestPurge(t *testing.T) {
	tbl := NewTable()
	keep := tbl.Intern("keep")
	drop := tbl.Intern("drop")
	tbl.NewPermanent("perm")

	drop.DecrementRefcount()
	assert.Equal(t, 1, tbl.Purge())
	assert.Equal(t, 2, tbl.Len())
	_, ok := tbl.Lookup("drop")
	assert.False(t, ok)
	assert.Same(t, keep, tbl.Intern("keep"))
	assert.NotSame(t, drop, tbl.Intern("drop"))
}

func TestRefcountUnderflowPanics(t *testing.T) {
	s := NewTable().Intern("x")
	s.DecrementRefcount()
	assert.Panics(t, s.DecrementRefcount)
}
