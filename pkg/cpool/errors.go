package cpool

import (
	"errors"
	"slices"
	"sync"

	"github.com/daimatz/gocpool/pkg/exception"
)

var (
	ErrBadIndex           = errors.New("constant pool index out of range")
	ErrWrongTag           = errors.New("unexpected constant pool tag")
	ErrOnStack            = errors.New("constant pool is still on stack")
	ErrNoCache            = errors.New("constant pool has no resolved references")
	ErrSnapshotChecksum   = errors.New("snapshot checksum mismatch")
	ErrUnexpectedBytecode = errors.New("unexpected bytecode for rewritten index")
)

// ResolutionError is what the error table remembers about a failed
// resolution: enough to throw an identical error again.
type ResolutionError struct {
	Class   string
	Message string
	Causes  []Cause // outermost first
}

// Cause is one link of a recorded cause chain.
type Cause struct {
	Class   string
	Message string
}

// causesOf flattens the cause chain of t, stopping at a cycle.
func causesOf(t *exception.Throwable) []Cause {
	var causes []Cause
	seen := map[*exception.Throwable]bool{t: true}
	for c := t.Cause; c != nil && !seen[c]; c = c.Cause {
		seen[c] = true
		causes = append(causes, Cause{Class: c.Class, Message: c.Message})
	}
	return causes
}

// Throwable rebuilds the recorded error.
func (e ResolutionError) Throwable() *exception.Throwable {
	t := exception.New(e.Class, e.Message)
	link := t
	for _, c := range e.Causes {
		link.Cause = exception.New(c.Class, c.Message)
		link = link.Cause
	}
	return t
}

// matches reports whether t is the error e was recorded from.
func (e ResolutionError) matches(t *exception.Throwable) bool {
	return t.Class == e.Class && t.Message == e.Message && slices.Equal(causesOf(t), e.Causes)
}

type errorKey struct {
	pool  *ConstantPool
	index int
}

// ErrorTable records resolution failures per (pool, index). Invokedynamic
// call sites are keyed by their encoded indy index, see encodeIndyIndex.
type ErrorTable struct {
	mu      sync.RWMutex
	entries map[errorKey]ResolutionError
}

// NewErrorTable creates an empty table.
func NewErrorTable() *ErrorTable {
	return &ErrorTable{entries: make(map[errorKey]ResolutionError)}
}

// Add records e unless an error is already recorded for the key. It reports
// whether e was stored.
func (t *ErrorTable) Add(cp *ConstantPool, index int, e ResolutionError) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := errorKey{cp, index}
	if _, ok := t.entries[k]; ok {
		return false
	}
	t.entries[k] = e
	return true
}

// Find returns the error recorded for the key.
func (t *ErrorTable) Find(cp *ConstantPool, index int) (ResolutionError, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[errorKey{cp, index}]
	return e, ok
}

// DeletePool drops every entry recorded for cp and returns how many there
// were.
func (t *ErrorTable) DeletePool(cp *ConstantPool) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for k := range t.entries {
		if k.pool == cp {
			delete(t.entries, k)
			n++
		}
	}
	return n
}

// Len returns the number of recorded errors.
func (t *ErrorTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// encodeIndyIndex maps an indy index into the key space of the error table
// without colliding with pool indices.
func encodeIndyIndex(indyIndex int) int {
	return -1 - indyIndex
}

// exceptionMessage picks the message recorded for a failure at i: the
// throwable's own message, else a description of the entry.
func (cp *ConstantPool) exceptionMessage(i int, tag Tag, t *exception.Throwable) string {
	if t.Message != "" {
		return t.Message
	}
	switch tag {
	case TagUnresolvedClass:
		return cp.KlassNameAt(i).String()
	case TagMethodHandle:
		return cp.MethodHandleNameRefAt(i).String()
	case TagMethodType:
		return cp.MethodTypeSignatureAt(i).String()
	case TagDynamic, TagInvokeDynamic:
		return cp.UncachedNameRefAt(i).String()
	}
	return ""
}

func (cp *ConstantPool) recordResolutionError(key, i int, tag Tag, t *exception.Throwable) {
	e := ResolutionError{Class: t.Class, Message: cp.exceptionMessage(i, tag, t), Causes: causesOf(t)}
	cp.rt.Errors.Add(cp, key, e)
}

// throwResolutionError replays the error recorded for key.
func (cp *ConstantPool) throwResolutionError(key int) error {
	e, ok := cp.rt.Errors.Find(cp, key)
	if !ok {
		return exception.Newf(exception.ClassInternalError, "no resolution error recorded for %d", key)
	}
	return e.Throwable()
}

// committedError returns err if it is the error recorded for key, else the
// recorded one, so that every caller observes the first committed failure.
func (cp *ConstantPool) committedError(key int, err error) error {
	e, ok := cp.rt.Errors.Find(cp, key)
	if !ok {
		return err
	}
	if t, isThrowable := err.(*exception.Throwable); isThrowable && e.matches(t) {
		return err
	}
	return e.Throwable()
}

// saveAndThrow handles a failed resolution of entry i whose tag was tag.
// Linkage errors are recorded and the tag moved to its error variant; any
// other error is returned untouched and leaves the entry resolvable. A nil
// return means a racing thread resolved the class entry and the failure
// must be forgotten.
func (cp *ConstantPool) saveAndThrow(i int, tag Tag, err error) error {
	if !exception.IsLinkageError(err) {
		return err
	}
	errTag := tag.ErrorValue()
	if cp.TagAt(i) == errTag {
		return cp.throwResolutionError(i)
	}
	cp.recordResolutionError(i, i, tag, err.(*exception.Throwable))
	old := cp.casTag(i, tag, errTag)
	switch {
	case old == tag || old == errTag:
		return cp.committedError(i, err)
	case old.IsKlass():
		resolveLog.Debugf("dropping %s for #%d: class resolved concurrently", err, i)
		return nil
	}
	return err
}
