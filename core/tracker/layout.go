package tracker

import "github.com/holiman/uint256"

type layoutEntry struct {
	slot *uint256.Int
	name string
}

// Layout is a compiler-emitted storage layout: declared slot to variable
// name. It is optional input; its absence degrades slot attribution to the
// heuristic fallback, it never disables analysis.
type Layout struct {
	entries map[string]layoutEntry
}

// NewLayout returns an empty layout.
func NewLayout() *Layout {
	return &Layout{entries: make(map[string]layoutEntry)}
}

// Add declares a variable at the given slot.
func (l *Layout) Add(slot *uint256.Int, name string) {
	l.entries[Slot{U: slot}.Key()] = layoutEntry{slot: slot, name: name}
}

// NameOf returns the declared variable name at the slot, if any.
func (l *Layout) NameOf(s Slot) (string, bool) {
	if l == nil || s.Symbolic {
		return "", false
	}
	e, ok := l.entries[s.Key()]
	return e.name, ok
}

// Declared reports whether the slot carries a declared variable.
func (l *Layout) Declared(s Slot) bool {
	_, ok := l.NameOf(s)
	return ok
}

// Each calls fn for every declared slot. Iteration order is unspecified.
func (l *Layout) Each(fn func(Slot, string)) {
	if l == nil {
		return
	}
	for _, e := range l.entries {
		fn(Slot{U: e.slot}, e.name)
	}
}

// Len returns the number of declared slots.
func (l *Layout) Len() int {
	if l == nil {
		return 0
	}
	return len(l.entries)
}
