package cpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBytesLayout(t *testing.T) {
	f := newFixture()
	cp := f.pool(t)

	out, err := cp.Bytes()
	require.NoError(t, err)
	size := 0
	cp.Each(func(i int, _ Tag) { size += cp.EntrySize(i) })
	assert.Len(t, out, size)

	assert.Equal(t, []byte{1, 0, 3, 'F', 'o', 'o', 7, 0, 1}, out[:9])

	symmap, classmap := SymbolHash{}, SymbolHash{}
	assert.Equal(t, size, cp.HashEntriesTo(symmap, classmap))
	assert.Equal(t, idxFooName, symmap[cp.SymbolAt(idxFooName)])
	assert.Equal(t, map[string]int{"Foo": idxFoo, "java/lang/Object": idxObject}, names(classmap))
}

func names(h SymbolHash) map[string]int {
	m := make(map[string]int, len(h))
	for s, i := range h {
		m[s.String()] = i
	}
	return m
}

func TestBytesIgnoreResolutionState(t *testing.T) {
	f := newFixture()
	want, err := f.unresolved().Bytes()
	require.NoError(t, err)

	cp := f.pool(t)
	_, err = cp.KlassAt(idxObject)
	require.NoError(t, err)
	_, err = cp.ResolveConstantAt(idxHello)
	require.NoError(t, err)
	_, err = cp.ResolveConstantAt(idxHandle)
	require.Error(t, err)
	require.Equal(t, TagMethodHandleInError, cp.TagAt(idxHandle))

	got, err := cp.Bytes()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestCopyCPoolBytesBufferTooSmall(t *testing.T) {
	f := newFixture()
	cp := f.pool(t)
	symmap, classmap := SymbolHash{}, SymbolHash{}
	size := cp.HashEntriesTo(symmap, classmap)

	_, err := cp.CopyCPoolBytes(size, symmap, make([]byte, size-1))
	assert.Error(t, err)
	n, err := cp.CopyCPoolBytes(size-1, symmap, make([]byte, size))
	assert.Error(t, err)
	assert.Less(t, n, size)
}
