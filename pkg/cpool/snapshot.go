package cpool

import (
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/fxamacker/cbor/v2"

	"github.com/daimatz/gocpool/pkg/symbol"
)

var snapshotEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("cpool: failed to create CBOR enc mode: %v", err))
	}
	snapshotEncMode = em
}

// snapshotVersion is bumped whenever the body layout changes.
const snapshotVersion = 1

type snapshotEnvelope struct {
	Version  int    `cbor:"1,keyasint"`
	Checksum uint64 `cbor:"2,keyasint"`
	Body     []byte `cbor:"3,keyasint"`
}

type snapshotEntry struct {
	Tag  uint32 `cbor:"1,keyasint"`
	Bits uint64 `cbor:"2,keyasint,omitempty"`
	Text string `cbor:"3,keyasint,omitempty"`
}

type snapshotIndy struct {
	CPIndex         int `cbor:"1,keyasint"`
	ReferencesIndex int `cbor:"2,keyasint"`
}

type snapshotCache struct {
	ReferenceMap []uint16       `cbor:"1,keyasint,omitempty"`
	Fields       []int          `cbor:"2,keyasint,omitempty"`
	Methods      []int          `cbor:"3,keyasint,omitempty"`
	Indys        []snapshotIndy `cbor:"4,keyasint,omitempty"`
}

type snapshotBody struct {
	Holder          string          `cbor:"1,keyasint,omitempty"`
	MajorVersion    uint16          `cbor:"2,keyasint"`
	MinorVersion    uint16          `cbor:"3,keyasint"`
	Flags           uint32          `cbor:"4,keyasint"`
	Entries         []snapshotEntry `cbor:"5,keyasint"`
	Operands        []uint16        `cbor:"6,keyasint,omitempty"`
	ResolvedKlasses int             `cbor:"7,keyasint"`
	Cache           *snapshotCache  `cbor:"8,keyasint,omitempty"`
	ReferenceLength int             `cbor:"9,keyasint"`
	// ArchivedStrings lists the resolved-references slots holding an
	// archived string, re-interned at decode time.
	ArchivedStrings []int `cbor:"10,keyasint,omitempty"`
}

// EncodeSnapshot serializes the shareable content of cp, normally the result
// of Archive. Resolved classes are recorded by name and error states by
// their non-error tag; archived strings are kept by slot. The body is
// encoded canonically so that equal pools produce equal bytes.
func (cp *ConstantPool) EncodeSnapshot() ([]byte, error) {
	body := snapshotBody{
		MajorVersion:    cp.MajorVersion,
		MinorVersion:    cp.MinorVersion,
		Flags:           cp.flags.Load() &^ flagOnStack,
		Entries:         make([]snapshotEntry, cp.Length()),
		Operands:        cp.operands,
		ResolvedKlasses: len(cp.klasses),
		ReferenceLength: cp.resolvedReferenceLength,
	}
	if cp.holder != nil {
		body.Holder = cp.holder.Name().String()
	}

	symmap := SymbolHash{}
	cp.Each(func(i int, t Tag) {
		if t.IsSymbol() {
			symmap.addIfAbsent(cp.SymbolAt(i), i)
		}
	})
	for i := 1; i < cp.Length(); i++ {
		t := cp.TagAt(i)
		e := snapshotEntry{Tag: uint32(t.NonErrorValue())}
		switch t {
		case TagUtf8:
			e.Text = cp.SymbolAt(i).String()
		case TagString:
			utf8, ok := symmap[cp.UnresolvedStringAt(i)]
			if !ok {
				return nil, fmt.Errorf("snapshot: no Utf8 entry for string #%d", i)
			}
			e.Bits = uint64(utf8)
		case TagUnresolvedClassInError:
			e.Tag = uint32(TagUnresolvedClass)
			e.Bits = cp.bitsAt(i)
		default:
			e.Bits = cp.bitsAt(i)
		}
		body.Entries[i] = e
	}

	if c := cp.cache; c != nil {
		sc := &snapshotCache{ReferenceMap: c.referenceMap}
		for n := range c.fields {
			sc.Fields = append(sc.Fields, c.fields[n].CPIndex)
		}
		for n := range c.methods {
			sc.Methods = append(sc.Methods, c.methods[n].CPIndex)
		}
		for n := range c.indys {
			sc.Indys = append(sc.Indys, snapshotIndy{c.indys[n].CPIndex, c.indys[n].ReferencesIndex})
		}
		body.Cache = sc
		for n, o := range cp.archivedReferences {
			if o != nil && n < len(c.referenceMap) && cp.TagAt(int(c.referenceMap[n])).IsString() {
				body.ArchivedStrings = append(body.ArchivedStrings, n)
			}
		}
	}

	raw, err := snapshotEncMode.Marshal(&body)
	if err != nil {
		return nil, fmt.Errorf("snapshot: marshal body: %w", err)
	}
	return snapshotEncMode.Marshal(&snapshotEnvelope{
		Version:  snapshotVersion,
		Checksum: xxhash.Sum64(raw),
		Body:     raw,
	})
}

// KlassLookup finds an already loaded class by name while decoding a
// snapshot.
type KlassLookup func(name *symbol.Symbol) (Klass, error)

// DecodeSnapshot rebuilds a shared pool from data. Resolved class entries
// are bound through lookup; an entry whose class cannot be found is
// reverted to unresolved. The holder is looked up the same way. The result
// still needs RestoreUnshareableInfo before use. A body that does not pass
// Verify is rejected before any class is looked up.
func DecodeSnapshot(data []byte, rt *Runtime, lookup KlassLookup) (_ *ConstantPool, err error) {
	var env snapshotEnvelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("snapshot: unmarshal envelope: %w", err)
	}
	if env.Version != snapshotVersion {
		return nil, fmt.Errorf("snapshot: unsupported version %d", env.Version)
	}
	if xxhash.Sum64(env.Body) != env.Checksum {
		return nil, ErrSnapshotChecksum
	}
	var body snapshotBody
	if err := cbor.Unmarshal(env.Body, &body); err != nil {
		return nil, fmt.Errorf("snapshot: unmarshal body: %w", err)
	}
	if len(body.Entries) < 1 {
		return nil, fmt.Errorf("snapshot: empty entry table")
	}

	cp := New(len(body.Entries))
	cp.MajorVersion = body.MajorVersion
	cp.MinorVersion = body.MinorVersion
	cp.operands = body.Operands
	cp.resolvedReferenceLength = body.ReferenceLength
	defer func() {
		if err != nil {
			cp.UnreferenceSymbols()
		}
	}()

	for i, e := range body.Entries {
		if Tag(e.Tag) == TagUtf8 {
			cp.SymbolAtPut(i, rt.Symbols.Intern(e.Text))
		}
	}
	var resolved []int
	for i, e := range body.Entries {
		t := Tag(e.Tag)
		if e.Tag > 0xFF || !t.Valid() {
			return nil, fmt.Errorf("snapshot: bad tag %d at #%d", e.Tag, i)
		}
		switch t {
		case TagUtf8:
		case TagString:
			utf8 := int(e.Bits)
			if !cp.IsValidIndex(utf8) || cp.TagAt(utf8) != TagUtf8 {
				return nil, fmt.Errorf("snapshot: string #%d names #%d, not a Utf8", i, utf8)
			}
			cp.UnresolvedStringAtPut(i, cp.SymbolAt(utf8))
		case TagClass, TagUnresolvedClass:
			if high(e.Bits) >= body.ResolvedKlasses {
				return nil, fmt.Errorf("snapshot: class #%d has no resolved klass slot", i)
			}
			cp.put(i, TagUnresolvedClass, e.Bits)
			if t == TagClass {
				resolved = append(resolved, i)
			}
		default:
			cp.put(i, t, e.Bits)
		}
	}
	if body.ResolvedKlasses > 0 {
		cp.AllocateResolvedKlasses(body.ResolvedKlasses)
	}
	cp.flags.Store(body.Flags | flagOnStack)

	if body.Cache != nil {
		c := newCache(body.Cache.ReferenceMap)
		for _, i := range body.Cache.Fields {
			c.fieldIndex[i] = len(c.fields)
			c.fields = append(c.fields, FieldEntry{CPIndex: i})
		}
		for _, i := range body.Cache.Methods {
			c.methodIndex[i] = len(c.methods)
			c.methods = append(c.methods, MethodEntry{CPIndex: i})
		}
		c.indys = make([]IndyEntry, len(body.Cache.Indys))
		for n, e := range body.Cache.Indys {
			c.indys[n].CPIndex = e.CPIndex
			c.indys[n].ReferencesIndex = e.ReferencesIndex
		}
		cp.cache = c
	}

	if err := cp.Verify(); err != nil {
		return nil, fmt.Errorf("snapshot: inconsistent body: %w", err)
	}
	if err := cp.verifyCache(); err != nil {
		return nil, fmt.Errorf("snapshot: inconsistent cache: %w", err)
	}

	var holder Klass
	if body.Holder != "" {
		name := rt.Symbols.Intern(body.Holder)
		h, err := lookup(name)
		name.DecrementRefcount()
		if err != nil {
			return nil, fmt.Errorf("snapshot: holder %s: %w", body.Holder, err)
		}
		holder = h
	}
	cp.Attach(holder, rt)

	for _, i := range resolved {
		name := cp.KlassNameAt(i)
		k, err := lookup(name)
		if err != nil || k == nil {
			archiveLog.Debugf("restore: cannot bind klass CP entry [%3d] %s, left unresolved", i, name)
			continue
		}
		cp.KlassAtPut(i, k)
	}

	if len(body.ArchivedStrings) > 0 && cp.cache != nil && body.ReferenceLength > 0 {
		refs := make([]Object, body.ReferenceLength)
		for _, n := range body.ArchivedStrings {
			if n < 0 || n >= len(cp.cache.referenceMap) || n >= len(refs) {
				return nil, fmt.Errorf("snapshot: archived string slot %d out of range", n)
			}
			if t := cp.TagAt(cp.ObjectToCPIndex(n)); t != TagString {
				return nil, fmt.Errorf("snapshot: archived string slot %d maps to %s", n, t)
			}
			refs[n] = rt.Strings.Intern(cp.UnresolvedStringAt(cp.ObjectToCPIndex(n)))
		}
		cp.archivedReferences = refs
	}
	return cp, nil
}

// verifyCache checks that every cache entry names a pool entry of the kind
// it caches.
func (cp *ConstantPool) verifyCache() error {
	c := cp.cache
	if c == nil {
		return nil
	}
	check := func(kind string, i int, ok func(Tag) bool) error {
		if !cp.IsValidIndex(i) {
			return fmt.Errorf("%w: %s entry refers to #%d", ErrBadIndex, kind, i)
		}
		if t := cp.TagAt(i); !ok(t) {
			return fmt.Errorf("%w: %s entry refers to #%d which is %s", ErrWrongTag, kind, i, t)
		}
		return nil
	}
	var errs []error
	for _, i := range c.referenceMap {
		errs = append(errs, check("reference", int(i), func(t Tag) bool { return t.IsLoadable() }))
	}
	for n := range c.fields {
		f := &c.fields[n]
		errs = append(errs, check("field", f.CPIndex, func(t Tag) bool { return t == TagFieldref }))
	}
	for n := range c.methods {
		m := &c.methods[n]
		errs = append(errs, check("method", m.CPIndex, func(t Tag) bool { return t.IsMethod() || t.IsInterfaceMethod() }))
	}
	for n := range c.indys {
		e := &c.indys[n]
		errs = append(errs, check("indy", e.CPIndex, func(t Tag) bool { return t == TagInvokeDynamic }))
		if e.ReferencesIndex < 0 || e.ReferencesIndex >= len(c.referenceMap)+len(c.indys) {
			errs = append(errs, fmt.Errorf("%w: indy appendix slot %d", ErrBadIndex, e.ReferencesIndex))
		}
	}
	return errors.Join(errs...)
}
