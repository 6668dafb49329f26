package vm

import (
	"sync"

	"github.com/daimatz/gocpool/pkg/cpool"
	"github.com/daimatz/gocpool/pkg/symbol"
)

// StringTable interns java.lang.String instances by content.
type StringTable struct {
	mu      sync.RWMutex
	strings map[string]*JString
}

// NewStringTable creates an empty StringTable.
func NewStringTable() *StringTable {
	return &StringTable{strings: make(map[string]*JString)}
}

// Intern returns the canonical string with the text of s.
func (t *StringTable) Intern(s *symbol.Symbol) cpool.Object {
	return t.InternString(s.String())
}

// InternString returns the canonical string with the given text.
func (t *StringTable) InternString(text string) *JString {
	// Fast path: read lock for the common case of an already-interned string.
	t.mu.RLock()
	js, ok := t.strings[text]
	t.mu.RUnlock()
	if ok {
		return js
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if js, ok := t.strings[text]; ok {
		return js
	}
	js = &JString{Value: text}
	t.strings[text] = js
	return js
}

// Len returns the number of interned strings.
func (t *StringTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.strings)
}
