package hana

import "testing"

// TestMethodCallPassesReceiverAsFirstArg guards against the
// compileCallLike regression where a `x.name(args)` callee compiled
// generically, dropping the receiver entirely instead of passing it as
// the method's implicit first argument.
func TestMethodCallPassesReceiverAsFirstArg(t *testing.T) {
	var gotArgc int
	var gotSelf, gotArg Value

	vm, err := Run("", "<test>", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	vm.RegisterMethod(KArray, "tag", func(vm *VM, argc int) {
		args := vm.PopArgs(argc)
		gotArgc = argc
		gotSelf = args[0]
		gotArg = args[1]
		vm.Return(Nil)
	})
	if err := vm.Run(); err != nil {
		t.Fatalf("vm.Run: %v", err)
	}

	if _, err := vm.Eval(`[1,2,3].tag(9)`); err != nil {
		t.Fatalf("Eval: %v", err)
	}

	if gotArgc != 2 {
		t.Fatalf("expected argc==2 (receiver + 1 explicit arg), got %d", gotArgc)
	}
	if gotSelf.Kind() != KArray {
		t.Fatalf("expected the receiver array as the first argument, got kind %v", gotSelf.Kind())
	}
	if gotSelf.AsArray().Len() != 3 {
		t.Fatalf("expected the receiver to be the 3-element array, got len %d", gotSelf.AsArray().Len())
	}
	if gotArg.AsInt() != 9 {
		t.Fatalf("expected the explicit argument 9, got %d", gotArg.AsInt())
	}
}

// TestNamespaceCallHasNoImplicitReceiver guards the `x::name(args)`
// side of the same fix: a namespace call must NOT pass the receiver as
// an implicit argument.
func TestNamespaceCallHasNoImplicitReceiver(t *testing.T) {
	var gotArgc int

	vm, err := Run("", "<test>", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	ns, proto := vm.NewRec()
	proto.Set("greet", NativeFnValue(func(vm *VM, argc int) {
		args := vm.PopArgs(argc)
		gotArgc = argc
		vm.Return(args[0])
	}))
	vm.SetGlobal("NS", ns)
	if err := vm.Run(); err != nil {
		t.Fatalf("vm.Run: %v", err)
	}

	result, err := vm.Eval(`NS::greet(7)`)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if gotArgc != 1 {
		t.Fatalf("expected argc==1 (no implicit receiver), got %d", gotArgc)
	}
	if result.AsInt() != 7 {
		t.Fatalf("expected the explicit argument 7 back, got %d", result.AsInt())
	}
}
