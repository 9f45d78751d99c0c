package hana

import "testing"

// TestCallStackReturnsToZeroAfterNormalCalls guards the Call/Ret pairing
// invariant: every non-tail Call that pushes a frame must be matched by
// exactly one Ret popping it. A mismatch here would leave stale
// argument/env slots on the value stack and corrupt the final result,
// which this checks directly.
func TestCallStackReturnsToZeroAfterNormalCalls(t *testing.T) {
	vm, err := Run("", "<test>", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := vm.Run(); err != nil {
		t.Fatalf("vm.Run: %v", err)
	}

	src := `func c(n) return n*2 end
func b(n) return c(n)+1 end
func a(n) return b(n)+1 end
a(10)`
	result, err := vm.Eval(src)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if result.AsInt() != 22 {
		t.Fatalf("expected 22, got %d", result.AsInt())
	}
}

// TestStackOverflowOnDeepNonTailRecursion confirms enterFn's call-stack
// limit check actually fires for a recursion shape that cannot be
// tail-call optimized (the recursive call's result still has work done
// to it after it returns).
func TestStackOverflowOnDeepNonTailRecursion(t *testing.T) {
	vm, err := Run("", "<test>", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := vm.Run(); err != nil {
		t.Fatalf("vm.Run: %v", err)
	}

	// `+0` after the recursive call defeats tail-call elimination: the
	// RetCall path only applies when the call is itself in tail
	// position, and this one still has an addition pending.
	_, err = vm.Eval(`func deep(n) if n==0 then return 0 else return deep(n-1)+0 end
deep(100000)`)
	if err == nil {
		t.Fatal("expected a stack overflow error for unbounded non-tail recursion")
	}
	rerr, ok := err.(*RuntimeError)
	if !ok {
		t.Fatalf("expected *RuntimeError, got %T: %v", err, err)
	}
	if rerr.Code != ErrStackOverflow {
		t.Fatalf("expected ErrStackOverflow, got %v", rerr.Code)
	}
}

// TestRaiseUnwindsExactlyOneExframe exercises doRaise's "innermost
// match, then cut the exframe stack to that index" behavior: raising
// again from inside a handler whose own exframe was already removed
// must still find the next OUTER exframe rather than either losing it
// or matching a frame that should no longer be registered.
func TestRaiseUnwindsExactlyOneExframe(t *testing.T) {
	vm, err := Run("", "<test>", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := vm.Run(); err != nil {
		t.Fatalf("vm.Run: %v", err)
	}

	// $-prefixed names always go through ISetGlobal/IGetGlobal
	// regardless of nesting depth, so the case handlers (each compiled
	// as its own nested function) and the final bare expression all
	// read and write the same storage.
	src := `record E end
$result = 0
try
  try
    raise E()
  case E as e then
    raise E()
  end
case E as e then
  $result = 99
end
$result`
	result, err := vm.Eval(src)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if result.AsInt() != 99 {
		t.Fatalf("expected the re-raise to reach the outer handler and set 99, got %d", result.AsInt())
	}
}

// TestTryFrameSurvivesUnrelatedInnerException confirms that a raise
// caught by an inner case leaves the OUTER exframe completely intact
// (not consumed, not duplicated) for a later, independent raise to
// still find.
func TestTryFrameSurvivesUnrelatedInnerException(t *testing.T) {
	vm, err := Run("", "<test>", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := vm.Run(); err != nil {
		t.Fatalf("vm.Run: %v", err)
	}

	src := `record E end
record F end
$result = 0
try
  try
    raise F()
  case F as f then
    $result = $result + 1
  end
  raise E()
case E as e then
  $result = $result + 10
end
$result`
	result, err := vm.Eval(src)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if result.AsInt() != 11 {
		t.Fatalf("expected both handlers to run in order (1 then 10), got %d", result.AsInt())
	}
}

// TestNestedAssignmentShadowsOuterLocal exercises compileStoreTo's
// up-level assignment case: writing to a plain identifier captured
// from an enclosing function declares a fresh local in the inner
// function rather than mutating the outer slot or leaking a global.
// The outer binding must read back unchanged after the inner function
// returns.
func TestNestedAssignmentShadowsOuterLocal(t *testing.T) {
	vm, err := Run("", "<test>", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := vm.Run(); err != nil {
		t.Fatalf("vm.Run: %v", err)
	}

	src := `func outer()
  x = 1
  inner = fn()
    x = 2
    return x
  end
  $innerSaw = inner()
  return x
end
$outerSaw = outer()`
	_, err = vm.Eval(src)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}

	innerSaw, err := vm.Eval(`$innerSaw`)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if innerSaw.AsInt() != 2 {
		t.Fatalf("expected the inner closure to see its own shadowed x == 2, got %d", innerSaw.AsInt())
	}

	outerSaw, err := vm.Eval(`$outerSaw`)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if outerSaw.AsInt() != 1 {
		t.Fatalf("expected outer's x to be unaffected by the inner assignment, got %d", outerSaw.AsInt())
	}
}
