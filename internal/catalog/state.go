package catalog

import (
	"slices"
	"strings"
)

// State is an immutable snapshot of the catalog. Each cycle receives a State
// and returns the next one; nothing holds the catalog in package-level state.
type State struct {
	entries []Entry
}

// NewState normalizes entries into a State (one entry per ID, sorted by ID).
func NewState(entries []Entry) State {
	return State{entries: Merge(entries, nil)}
}

// Entries returns a copy of the ordered entries.
func (s State) Entries() []Entry {
	if len(s.entries) == 0 {
		return []Entry{}
	}
	return slices.Clone(s.entries)
}

// Len reports the number of entries.
func (s State) Len() int {
	return len(s.entries)
}

// Merge returns the State obtained by merging fresh entries into s.
func (s State) Merge(fresh []Entry) State {
	return State{entries: Merge(s.entries, fresh)}
}

// Lookup finds the entry for id.
func (s State) Lookup(id string) (Entry, bool) {
	i, found := slices.BinarySearchFunc(s.entries, id, func(e Entry, target string) int {
		return strings.Compare(e.ID, target)
	})
	if !found {
		return Entry{}, false
	}
	return s.entries[i], true
}
