package hana

// SourceMapEntry ties one emitted AST node to the bytecode range it
// produced, per §3.7.
type SourceMapEntry struct {
	Source   Range
	Bytecode Range
	FileID   int
}

// SourceMap is the insertion-ordered list from §3.7: nested nodes'
// entries appear after their parent's, and lookup returns the last
// (most specific) entry whose bytecode range contains the index.
type SourceMap struct {
	entries []SourceMapEntry
}

func (m *SourceMap) Add(e SourceMapEntry) { m.entries = append(m.entries, e) }

// Lookup implements §4.2's "last entry containing bc_index" rule.
func (m *SourceMap) Lookup(bcIndex int) (SourceMapEntry, bool) {
	var found SourceMapEntry
	ok := false
	for _, e := range m.entries {
		if bcIndex >= e.Bytecode.Start && bcIndex < e.Bytecode.End {
			found = e
			ok = true
		}
	}
	return found, ok
}
