// Package symbol implements the reference-counted symbol table shared by
// constant pools. Symbols are interned: two symbols with the same text are
// the same pointer, so callers compare them with ==.
package symbol

import (
	"fmt"
	"sync/atomic"
)

// Symbol is an immutable interned string with an explicit reference count.
type Symbol struct {
	text      string
	refcount  atomic.Int32
	permanent bool
}

// String returns the symbol's text.
func (s *Symbol) String() string {
	if s == nil {
		return "<nil>"
	}
	return s.text
}

// Len returns the UTF-8 byte length of the symbol.
func (s *Symbol) Len() int {
	return len(s.text)
}

// Permanent reports whether the symbol ignores reference counting.
func (s *Symbol) Permanent() bool {
	return s.permanent
}

// Refcount returns the current reference count.
func (s *Symbol) Refcount() int32 {
	return s.refcount.Load()
}

// IncrementRefcount records a new owner of the symbol.
func (s *Symbol) IncrementRefcount() {
	if s.permanent {
		return
	}
	s.refcount.Add(1)
}

// DecrementRefcount releases one owner of the symbol.
func (s *Symbol) DecrementRefcount() {
	if s.permanent {
		return
	}
	if n := s.refcount.Add(-1); n < 0 {
		panic(fmt.Sprintf("symbol %q: refcount underflow (%d)", s.text, n))
	}
}
