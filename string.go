package hana

// HanaString is a mutable string, per §3.5. sharedID is the intern id
// a string pushed by PushStrInterned was created from, or -1; buf is
// always the string's own copy of its bytes (PushStrInterned copies
// the interned payload), so it never aliases the intern table.
type HanaString struct {
	buf      []byte
	sharedID int
	interns  *InternTable
}

func newHanaString(s string) *HanaString {
	return &HanaString{buf: []byte(s), sharedID: -1}
}

func (s *HanaString) String() string { return string(s.buf) }
func (s *HanaString) Bytes() []byte  { return s.buf }
func (s *HanaString) Len() int       { return len(s.buf) }

// own runs before an in-place mutation: for a string created from an
// interned id it clones the buffer once and clears sharedID, so the
// mutated string no longer reports that id.
func (s *HanaString) own() {
	if s.sharedID >= 0 {
		cp := make([]byte, len(s.buf))
		copy(cp, s.buf)
		s.buf = cp
		s.sharedID = -1
	}
}

func (s *HanaString) Append(other string) {
	s.own()
	s.buf = append(s.buf, other...)
}

func (s *HanaString) trace(func(*gcNode)) {}
func (s *HanaString) finalize()           {}
