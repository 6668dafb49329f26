package cpool

import (
	"testing"

	"github.com/cespare/xxhash/v2"
	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daimatz/gocpool/pkg/exception"
	"github.com/daimatz/gocpool/pkg/symbol"
)

func archivedFixture(t *testing.T, policy ArchivePolicy) (*fixture, *ConstantPool) {
	t.Helper()
	f := newFixture()
	f.defineFoo()
	cp := f.pool(t)
	for _, i := range []int{idxFoo, idxObject} {
		_, err := cp.KlassAt(i)
		require.NoError(t, err)
	}
	_, err := cp.ResolveConstantAt(idxHello)
	require.NoError(t, err)
	a, _ := cp.Archive(policy)
	return f, a
}

func TestSnapshotRoundTrip(t *testing.T) {
	f, a := archivedFixture(t, bootOnly)
	data, err := a.EncodeSnapshot()
	require.NoError(t, err)

	b, err := DecodeSnapshot(data, f.rt, f.dict.lookup)
	require.NoError(t, err)
	require.NoError(t, b.Verify())
	assert.Equal(t, a.Length(), b.Length())
	a.Each(func(i int, _ Tag) {
		assert.True(t, a.CompareEntryTo(i, b, i), "entry #%d", i)
	})
	assert.Same(t, f.holder, b.Holder())
	assert.Equal(t, uint16(61), b.MajorVersion)
	assert.Equal(t, a.Operands(), b.Operands())
	assert.True(t, b.IsShared())
	assert.True(t, b.OnStack())

	assert.Equal(t, TagClass, b.TagAt(idxObject))
	assert.Same(t, f.object, b.ResolvedKlassAt(idxObject))
	assert.Equal(t, TagUnresolvedClass, b.TagAt(idxFoo))

	require.NotNil(t, b.Cache())
	assert.Equal(t, a.Cache().ReferenceMapLength(), b.Cache().ReferenceMapLength())
	assert.Equal(t, idxIndy, b.Cache().IndyEntryAt(0).CPIndex)
	assert.Equal(t, 6, b.ResolvedReferenceLength())

	again, err := b.EncodeSnapshot()
	require.NoError(t, err)
	assert.Equal(t, data, again)

	b.RestoreUnshareableInfo()
	require.NotNil(t, b.ResolvedReferences())
	assert.Equal(t, 6, b.ResolvedReferences().Len())
	k, err := b.KlassAt(idxFoo)
	require.NoError(t, err)
	assert.Equal(t, "Foo", k.Name().String())
}

func TestSnapshotArchivedStrings(t *testing.T) {
	policy := bootOnly
	policy.ArchiveHeapObjects = true
	f, a := archivedFixture(t, policy)
	data, err := a.EncodeSnapshot()
	require.NoError(t, err)

	b, err := DecodeSnapshot(data, f.rt, f.dict.lookup)
	require.NoError(t, err)
	obj := b.CPToObjectIndex(idxHello)
	require.Len(t, b.ArchivedReferences(), 6)
	assert.Equal(t, &testString{"hello"}, b.ArchivedReferences()[obj])

	b.RestoreUnshareableInfo()
	s, err := b.StringAt(idxHello)
	require.NoError(t, err)
	assert.Same(t, b.ResolvedReferenceAt(obj), s)
}

func TestSnapshotUnboundKlassStaysUnresolved(t *testing.T) {
	f, a := archivedFixture(t, bootOnly)
	data, err := a.EncodeSnapshot()
	require.NoError(t, err)

	lookup := func(name *symbol.Symbol) (Klass, error) {
		if name.String() == "java/lang/Object" {
			return nil, exception.NoClassDefFound(name.String())
		}
		return f.dict.lookup(name)
	}
	b, err := DecodeSnapshot(data, f.rt, lookup)
	require.NoError(t, err)
	assert.Equal(t, TagUnresolvedClass, b.TagAt(idxObject))
	assert.Nil(t, b.ResolvedKlassAt(idxObject))
}

func TestSnapshotUnknownHolder(t *testing.T) {
	f, a := archivedFixture(t, bootOnly)
	data, err := a.EncodeSnapshot()
	require.NoError(t, err)

	_, err = DecodeSnapshot(data, f.rt, func(name *symbol.Symbol) (Klass, error) {
		if name.String() == "app/Holder" {
			return nil, exception.NoClassDefFound(name.String())
		}
		return f.dict.lookup(name)
	})
	assert.ErrorContains(t, err, "holder app/Holder")
}

func TestSnapshotCorruption(t *testing.T) {
	f, a := archivedFixture(t, bootOnly)
	data, err := a.EncodeSnapshot()
	require.NoError(t, err)

	tamper := func(change func(env *snapshotEnvelope)) []byte {
		var env snapshotEnvelope
		require.NoError(t, cbor.Unmarshal(data, &env))
		change(&env)
		out, err := cbor.Marshal(&env)
		require.NoError(t, err)
		return out
	}

	tests := []struct {
		name   string
		data   []byte
		target error
		text   string
	}{
		{"flipped body byte", tamper(func(env *snapshotEnvelope) { env.Body[len(env.Body)/2] ^= 0xFF }), ErrSnapshotChecksum, ""},
		{"wrong checksum", tamper(func(env *snapshotEnvelope) { env.Checksum++ }), ErrSnapshotChecksum, ""},
		{"future version", tamper(func(env *snapshotEnvelope) { env.Version = snapshotVersion + 1 }), nil, "unsupported version"},
		{"not cbor", []byte{0xFF, 0x00}, nil, "unmarshal envelope"},
		{"class names missing entry", sealBody(t, snapshotBody{
			Entries:         []snapshotEntry{{}, {Tag: uint32(TagClass), Bits: pack(5, 0)}},
			ResolvedKlasses: 1,
		}), ErrBadIndex, "inconsistent body"},
		{"class names an integer", sealBody(t, snapshotBody{
			Entries:         []snapshotEntry{{}, {Tag: uint32(TagInteger), Bits: 7}, {Tag: uint32(TagClass), Bits: pack(1, 0)}},
			ResolvedKlasses: 1,
		}), ErrWrongTag, "inconsistent body"},
		{"methodref without name and type", sealBody(t, snapshotBody{
			Entries: []snapshotEntry{{}, {Tag: uint32(TagUtf8), Text: "a/B"}, {Tag: uint32(TagUnresolvedClass), Bits: pack(1, 0)},
				{Tag: uint32(TagMethodref), Bits: pack(2, 9)}},
			ResolvedKlasses: 1,
		}), ErrBadIndex, "inconsistent body"},
		{"field cache entry on a Utf8", sealBody(t, snapshotBody{
			Entries: []snapshotEntry{{}, {Tag: uint32(TagUtf8), Text: "x"}},
			Cache:   &snapshotCache{Fields: []int{1}},
		}), ErrWrongTag, "inconsistent cache"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeSnapshot(tt.data, f.rt, f.dict.lookup)
			require.Error(t, err)
			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
			}
			if tt.text != "" {
				assert.ErrorContains(t, err, tt.text)
			}
		})
	}
}

func TestSnapshotOfLivePoolNormalizesErrors(t *testing.T) {
	f := newFixture()
	cp := f.pool(t)
	_, err := cp.ResolveConstantAt(idxHandle)
	require.Error(t, err)

	data, err := cp.EncodeSnapshot()
	require.NoError(t, err)
	b, err := DecodeSnapshot(data, f.rt, f.dict.lookup)
	require.NoError(t, err)
	assert.Equal(t, TagUnresolvedClass, b.TagAt(idxFoo))
	assert.Equal(t, TagMethodHandle, b.TagAt(idxHandle))
	assert.False(t, b.IsShared())
}

// sealBody encodes body inside a well-formed envelope.
func sealBody(t *testing.T, body snapshotBody) []byte {
	t.Helper()
	raw, err := snapshotEncMode.Marshal(&body)
	require.NoError(t, err)
	out, err := snapshotEncMode.Marshal(&snapshotEnvelope{
		Version:  snapshotVersion,
		Checksum: xxhash.Sum64(raw),
		Body:     raw,
	})
	require.NoError(t, err)
	return out
}

func TestSnapshotRejectedBodyReleasesSymbols(t *testing.T) {
	f := newFixture()
	data := sealBody(t, snapshotBody{
		Entries:         []snapshotEntry{{}, {Tag: uint32(TagUtf8), Text: "only/in/snapshot"}, {Tag: uint32(TagClass), Bits: pack(9, 0)}},
		ResolvedKlasses: 1,
	})

	_, err := DecodeSnapshot(data, f.rt, f.dict.lookup)
	require.Error(t, err)
	sym, ok := f.syms.Lookup("only/in/snapshot")
	require.True(t, ok)
	assert.Equal(t, int32(0), sym.Refcount())
}
