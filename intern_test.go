package hana

import "testing"

// TestInternTableStableIDs covers §8 invariant 5: repeated insertions
// of the same payload return the same id, and distinct payloads never
// collide.
func TestInternTableStableIDs(t *testing.T) {
	tbl := NewInternTable()

	id1 := tbl.GetOrInsert("hello")
	id2 := tbl.GetOrInsert("world")
	id3 := tbl.GetOrInsert("hello")

	if id1 != id3 {
		t.Fatalf("expected repeated insertion of the same string to return the same id, got %d and %d", id1, id3)
	}
	if id1 == id2 {
		t.Fatalf("expected distinct strings to get distinct ids, both got %d", id1)
	}

	payload, ok := tbl.Lookup(id1)
	if !ok || payload != "hello" {
		t.Fatalf("expected Lookup(%d) to return %q, got %q (ok=%v)", id1, "hello", payload, ok)
	}
	payload, ok = tbl.Lookup(id2)
	if !ok || payload != "world" {
		t.Fatalf("expected Lookup(%d) to return %q, got %q (ok=%v)", id2, "world", payload, ok)
	}
}

func TestInternTableEligibility(t *testing.T) {
	tbl := NewInternTable()

	if tbl.Eligible("a") {
		t.Fatal("expected a single-character string to be ineligible for interning")
	}
	if !tbl.Eligible("ab") {
		t.Fatal("expected a 2-character string to be eligible")
	}
	longEnough := make([]byte, internMaxLen)
	for i := range longEnough {
		longEnough[i] = 'x'
	}
	if !tbl.Eligible(string(longEnough)) {
		t.Fatal("expected a string at the max length to still be eligible")
	}
	tooLong := append(longEnough, 'x')
	if tbl.Eligible(string(tooLong)) {
		t.Fatal("expected a string past the max length to be ineligible")
	}
}

func TestInternTableLookupUnknownID(t *testing.T) {
	tbl := NewInternTable()
	tbl.GetOrInsert("onlyentry")

	if _, ok := tbl.Lookup(42); ok {
		t.Fatal("expected Lookup of an id that was never inserted to report ok=false")
	}
}
