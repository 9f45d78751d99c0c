package hana

import "testing"

func TestArrayPopShrinksLength(t *testing.T) {
	a := NewArray([]Value{IntValue(1), IntValue(2), IntValue(3)})

	last := a.Pop()
	if last.AsInt() != 3 {
		t.Fatalf("expected Pop to return the last element 3, got %d", last.AsInt())
	}
	if a.Len() != 2 {
		t.Fatalf("expected Len() to shrink to 2 after Pop, got %d", a.Len())
	}

	a.Pop()
	a.Pop()
	if a.Len() != 0 {
		t.Fatalf("expected empty array after popping every element, got Len()=%d", a.Len())
	}
}

func TestArrayAppendGrowsLength(t *testing.T) {
	a := NewArray(nil)
	a.Append(IntValue(10))
	a.Append(IntValue(20))

	if a.Len() != 2 {
		t.Fatalf("expected Len()==2, got %d", a.Len())
	}
	if a.Get(0).AsInt() != 10 || a.Get(1).AsInt() != 20 {
		t.Fatalf("unexpected array contents after Append")
	}
}
