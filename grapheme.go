package hana

import "github.com/rivo/uniseg"

// Graphemes splits s into user-perceived characters rather than raw
// codepoints, per §3.5/§4.3: string indexing (IndexGet) and iteration
// (ForIn) both walk grapheme clusters so that e.g. a flag emoji or an
// accented letter built from combining marks counts as one element,
// not two or three. Exported for internal/hanalib's string methods
// (length, split) to stay consistent with the core's own notion of a
// character.
func Graphemes(s string) []string {
	var out []string
	g := uniseg.NewGraphemes(s)
	for g.Next() {
		out = append(out, g.Str())
	}
	return out
}
