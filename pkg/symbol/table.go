package symbol

import "sync"

// chunkSize is the number of symbols allocated together in one arena chunk.
const chunkSize = 256

// Table interns symbol text. Symbols are carved out of fixed-size chunks so
// that a pointer handed out by Intern stays valid for the table's lifetime.
type Table struct {
	mu     sync.RWMutex
	byText map[string]*Symbol
	chunk  *[chunkSize]Symbol
	next   int
}

// NewTable creates an empty symbol table.
func NewTable() *Table {
	return &Table{byText: make(map[string]*Symbol)}
}

// Intern returns the symbol for text with its refcount incremented; the caller
// owns the new reference.
func (t *Table) Intern(text string) *Symbol {
	t.mu.RLock()
	if s, ok := t.byText[text]; ok {
		s.IncrementRefcount()
		t.mu.RUnlock()
		return s
	}
	t.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	// Double-check after acquiring the write lock.
	if s, ok := t.byText[text]; ok {
		s.IncrementRefcount()
		return s
	}
	s := t.alloc(text, false)
	s.refcount.Store(1)
	t.byText[text] = s
	return s
}

// NewPermanent interns text as a symbol that is never reclaimed.
func (t *Table) NewPermanent(text string) *Symbol {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.byText[text]; ok {
		return s
	}
	s := t.alloc(text, true)
	t.byText[text] = s
	return s
}

// Lookup returns the symbol for text without taking a reference.
func (t *Table) Lookup(text string) (*Symbol, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.byText[text]
	return s, ok
}

// Len returns the number of live symbols.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byText)
}

// Purge unlinks every non-permanent symbol whose refcount dropped to zero and
// returns how many were removed. Arena chunks are not reused.
func (t *Table) Purge() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for text, s := range t.byText {
		if !s.permanent && s.refcount.Load() == 0 {
			delete(t.byText, text)
			n++
		}
	}
	return n
}

// alloc must be called with mu held.
func (t *Table) alloc(text string, permanent bool) *Symbol {
	if t.chunk == nil || t.next == chunkSize {
		t.chunk = new([chunkSize]Symbol)
		t.next = 0
	}
	s := &t.chunk[t.next]
	t.next++
	s.text = text
	s.permanent = permanent
	return s
}
