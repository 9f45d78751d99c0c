package hana

// Register installs a native function as global name, matching
// spec.md §1's scope cut: core only needs "the ability to register
// native callables and to look up a small set of well-known prototype
// records" — everything else (the actual standard library) lives
// outside this package.
func (vm *VM) Register(name string, fn NativeFn) {
	vm.SetGlobal(name, NativeFnValue(fn))
}

// RegisterMethod installs fn as name on the prototype record backing
// kind, so `x.name(...)` resolves to it for every value of that kind
// (or every Record whose prototype chain doesn't shadow it).
func (vm *VM) RegisterMethod(kind Kind, name string, fn NativeFn) {
	vm.Prototype(kind).Set(name, NativeFnValue(fn))
}

// NewError allocates a Record usable with `raise`, chaining it to a
// well-known error prototype (InvalidArgumentError, IOError, ...) that
// a standard-library package created earlier with NewRec and installed
// as a global with SetGlobal.
// message is stored under the "message" key, matching the convention
// every error prototype's own `new` constructor would otherwise set
// up by hand.
func (vm *VM) NewError(proto *Record, message string) Value {
	rec := NewRecord()
	rec.Set(protoKey, recordValue(vm.heap.malloc(proto, 1)))
	node := vm.heap.malloc(newHanaString(message), len(message))
	rec.Set("message", strValue(node))
	return recordValue(vm.heap.malloc(rec, 1))
}

// Arg fetches argument index i (0-based, left to right) from the
// current top argc values on the stack without popping anything, for
// a native function that reads its arguments in place before popping
// exactly argc values and pushing one result, per NativeFn's contract.
// The natives in internal/hanalib use PopArgs instead.
func (vm *VM) Arg(argc, i int) Value {
	return vm.stack[len(vm.stack)-argc+i]
}

// PopArgs pops exactly argc values (the arguments a NativeFn was
// invoked with) and returns them left-to-right, ready for a native
// function to push back a single result.
func (vm *VM) PopArgs(argc int) []Value {
	args := make([]Value, argc)
	copy(args, vm.stack[len(vm.stack)-argc:])
	vm.stack = vm.stack[:len(vm.stack)-argc]
	return args
}

// Return is shorthand for pushing a NativeFn's single result value.
func (vm *VM) Return(v Value) { vm.push(v) }

// Raise lets a native function throw the way a script's own `raise`
// statement would: it searches active exception frames exactly as
// doRaise does, jumping to a matching handler and reporting true, or
// marking the VM's error state ErrUnhandledException and reporting
// false. A native function that raises must return immediately
// afterward without pushing a result — unwinding has already
// discarded whatever was on the stack beneath it.
func (vm *VM) Raise(v Value) bool {
	return vm.doRaise(v, vm.ip)
}

// NewStr allocates a heap string from s, for native functions that
// need to construct one to push as a result.
func (vm *VM) NewStr(s string) Value {
	return strValue(vm.heap.malloc(newHanaString(s), len(s)))
}

// NewArr allocates a heap array from items.
func (vm *VM) NewArr(items []Value) Value {
	return arrayValue(vm.heap.malloc(NewArray(items), len(items)+1))
}

// NewRec allocates an empty heap record.
func (vm *VM) NewRec() (Value, *Record) {
	rec := NewRecord()
	return recordValue(vm.heap.malloc(rec, 1)), rec
}
