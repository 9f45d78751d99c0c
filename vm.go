package hana

import "math"

// NativeFn is a host-provided callable, per §4.3: it receives the VM
// and the argument count the caller pushed, and is responsible for
// popping exactly those arguments off the value stack and pushing
// exactly one result (or setting an error and leaving the stack in a
// defined state).
type NativeFn func(vm *VM, argc int)

// pendingFrame carries the bookkeeping a Call/RetCall instruction
// hands off to the EnvNew that starts the callee's body, since the
// callee's total slot count (EnvNew's own operand) isn't known until
// EnvNew runs.
type pendingFrame struct {
	nargs  int
	parent *gcNode
	retip  int
}

// VM executes one Program's bytecode. Grounded on
// harumachine::vm::Vm and harumachine::inside (original_source),
// adapted to hana's own absolute-jump, name-table bytecode
// conventions instead of the original's mixed relative/absolute
// scheme.
type VM struct {
	prog    *Program
	heap    *Heap
	interns *InternTable
	cfg     *Config

	code []byte
	ip   int

	stack []Value

	globals map[string]Value

	frames []*gcNode // each wraps *Env; top is the active frame

	exframes           []*ExFrame
	exframeFallthrough *ExFrame
	nativeCallDepth    int

	pending *pendingFrame

	err      VMError
	errIP    int
	raised   *Record
	expected int
	got      int

	strProto    Value
	intProto    Value
	floatProto  Value
	arrayProto  Value
	recordProto Value // generic Record prototype sentinel, matched by `of`

	callStackLimit int

	loadedModules map[string]bool
	baseDir       string

	Stdout func(string)
}

// NewVM builds a VM ready to execute prog. cfg supplies the call
// stack limit and GC tuning; a nil cfg gets the defaults.
func NewVM(prog *Program, cfg *Config) *VM {
	if cfg == nil {
		cfg = NewConfig()
	}
	vm := &VM{
		prog:           prog,
		cfg:            cfg,
		interns:        prog.Interns,
		code:           prog.Code,
		globals:        map[string]Value{},
		callStackLimit: cfg.GetInt("vm.call_stack_size"),
		loadedModules:  map[string]bool{},
		Stdout:         func(string) {},
	}
	vm.heap = NewHeap(cfg.GetInt("vm.gc_initial_threshold"), cfg.GetInt("vm.gc_used_space_percent"))
	vm.heap.SetRootTracer(vm.traceRoots)

	vm.strProto = recordValue(vm.heap.malloc(NewRecord(), 1))
	vm.intProto = recordValue(vm.heap.malloc(NewRecord(), 1))
	vm.floatProto = recordValue(vm.heap.malloc(NewRecord(), 1))
	vm.arrayProto = recordValue(vm.heap.malloc(NewRecord(), 1))
	vm.recordProto = recordValue(vm.heap.malloc(NewRecord(), 1))

	return vm
}

// traceRoots is the GC root set: globals, the value stack, every
// active call frame's environment (whose own trace covers its slots
// and lexical parent chain), pending exception frames, and the
// well-known prototype records. Grounded on vm.rs's
// `GcTraceable::trace` for `Vm`.
func (vm *VM) traceRoots(push func(*gcNode)) {
	for _, v := range vm.stack {
		push(v.node())
	}
	for _, v := range vm.globals {
		push(v.node())
	}
	for _, f := range vm.frames {
		push(f)
	}
	for _, ef := range vm.exframes {
		ef.trace(push)
	}
	if vm.exframeFallthrough != nil {
		vm.exframeFallthrough.trace(push)
	}
	push(vm.strProto.node())
	push(vm.intProto.node())
	push(vm.floatProto.node())
	push(vm.arrayProto.node())
	push(vm.recordProto.node())
}

// ---- stack helpers ----

func (vm *VM) push(v Value) { vm.stack = append(vm.stack, v) }

func (vm *VM) pop() Value {
	n := len(vm.stack) - 1
	v := vm.stack[n]
	vm.stack = vm.stack[:n]
	return v
}

func (vm *VM) top() Value { return vm.stack[len(vm.stack)-1] }

func (vm *VM) peekAt(fromTop int) Value { return vm.stack[len(vm.stack)-1-fromTop] }

// removeAt deletes the value at absolute index idx, preserving the
// order of everything above it (used by Call to excise the callee
// from beneath its already-pushed arguments, and by MemberSet to
// excise the receiver while keeping the assigned value on top).
func (vm *VM) removeAt(idx int) {
	copy(vm.stack[idx:], vm.stack[idx+1:])
	vm.stack = vm.stack[:len(vm.stack)-1]
}

func (vm *VM) curEnv() *Env {
	return vm.frames[len(vm.frames)-1].body.(*Env)
}

// fail rewinds ip to the start of the failing instruction and records
// the error code, mirroring every inside.rs handler's `vm.ip = ip -
// N; vm.error = ...; return` idiom.
func (vm *VM) fail(code VMError, opStart int) {
	vm.err = code
	vm.errIP = opStart
}

// ---- decode helpers ----

func (vm *VM) u8() uint8 {
	v := vm.code[vm.ip]
	vm.ip++
	return v
}

func (vm *VM) u16() uint16 {
	v := uint16(vm.code[vm.ip])<<8 | uint16(vm.code[vm.ip+1])
	vm.ip += 2
	return v
}

func (vm *VM) u32() uint32 {
	v := uint32(vm.code[vm.ip])<<24 | uint32(vm.code[vm.ip+1])<<16 | uint32(vm.code[vm.ip+2])<<8 | uint32(vm.code[vm.ip+3])
	vm.ip += 4
	return v
}

func (vm *VM) u64() uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(vm.code[vm.ip+i])
	}
	vm.ip += 8
	return v
}

func (vm *VM) cstr() string {
	start := vm.ip
	for vm.code[vm.ip] != 0 {
		vm.ip++
	}
	s := string(vm.code[start:vm.ip])
	vm.ip++ // skip the terminating 0
	return s
}

// ---- run loop ----

// Run executes from the current ip until Halt, an unhandled error, or
// an unhandled raise. It returns a *RuntimeError describing any
// abnormal stop.
func (vm *VM) Run() error {
	return vm.execute(-1)
}

// execute runs the dispatch loop until Halt, a host-sentinel Ret, an
// unhandled error, or (when stopDepth is non-negative) until the call
// frame stack unwinds back to stopDepth. The last case is how
// CallValue reenters the loop for a single nested call without
// disturbing the frames the caller already had running.
func (vm *VM) execute(stopDepth int) error {
	for {
		opStart := vm.ip
		op := Op(vm.u8())

		switch op {
		case OpHalt:
			return nil

		case OpPush8:
			vm.push(IntValue(int64(int8(vm.u8()))))
		case OpPush16:
			vm.push(IntValue(int64(int16(vm.u16()))))
		case OpPush32:
			vm.push(IntValue(int64(int32(vm.u32()))))
		case OpPush64:
			vm.push(IntValue(int64(vm.u64())))
		case OpPushf64:
			vm.push(FloatValue(math.Float64frombits(vm.u64())))
		case OpPushNil:
			vm.push(Nil)
		case OpPushStr:
			s := vm.cstr()
			node := vm.heap.malloc(newHanaString(s), len(s))
			vm.push(strValue(node))
		case OpPushStrInterned:
			id := vm.u16()
			payload, _ := vm.interns.Lookup(id)
			hs := &HanaString{buf: []byte(payload), sharedID: int(id), interns: vm.interns}
			node := vm.heap.malloc(hs, len(payload))
			vm.push(strValue(node))

		case OpPop:
			vm.pop()
		case OpSwap:
			n := len(vm.stack)
			vm.stack[n-1], vm.stack[n-2] = vm.stack[n-2], vm.stack[n-1]

		case OpAdd, OpSub, OpMul, OpDiv, OpMod, OpBitwiseAnd, OpBitwiseOr, OpBitwiseXor,
			OpLt, OpLEq, OpGt, OpGEq, OpEq, OpNEq:
			if !vm.binOp(op, opStart) {
				return vm.runtimeErr()
			}
		case OpNegate:
			a := vm.pop()
			switch a.Kind() {
			case KInt:
				vm.push(IntValue(-a.AsInt()))
			case KFloat:
				vm.push(FloatValue(-a.AsFloat()))
			default:
				vm.fail(ErrInvalidOperands, opStart)
				return vm.runtimeErr()
			}
		case OpNot:
			a := vm.pop()
			vm.push(BoolValue(!a.Truthy()))

		case OpOf:
			proto := vm.pop()
			x := vm.pop()
			vm.push(BoolValue(vm.isOf(x, proto)))

		case OpEnvNew:
			slots := vm.u16()
			vm.doEnvNew(int(slots))

		case OpSetLocal:
			slot := vm.u16()
			vm.curEnv().slots[slot] = vm.top()
		case OpSetLocalFunctionDef:
			slot := vm.u16()
			v := vm.top()
			vm.curEnv().slots[slot] = v
			if v.Kind() == KFn {
				fn := v.AsFn()
				if fn.Parent != nil {
					fn.Parent.body.(*Env).slots[slot] = v
				}
			}
		case OpGetLocal:
			slot := vm.u16()
			vm.push(vm.curEnv().slots[slot])
		case OpGetLocalUp:
			slot := vm.u16()
			depth := vm.u16()
			up := vm.curEnv().Up(int(depth))
			if up == nil {
				vm.fail(ErrInvalidOperands, opStart)
				return vm.runtimeErr()
			}
			vm.push(up.slots[slot])

		case OpSetGlobal:
			id := vm.u16()
			vm.globals[vm.prog.Name(id)] = vm.top()
		case OpGetGlobal:
			id := vm.u16()
			v, ok := vm.globals[vm.prog.Name(id)]
			if !ok {
				vm.fail(ErrUndefinedGlobal, opStart)
				return vm.runtimeErr()
			}
			vm.push(v)

		case OpDefFunctionPush:
			nargs := vm.u16()
			end := vm.u16()
			var parent *gcNode
			if len(vm.frames) > 0 {
				parent = vm.frames[len(vm.frames)-1]
			}
			fn := &Function{IP: vm.ip, Nargs: int(nargs), Parent: parent}
			node := vm.heap.malloc(fn, 1)
			vm.push(fnValue(node))
			vm.ip = int(end)

		case OpJmp:
			vm.ip = int(vm.u16())
		case OpJmpLong:
			vm.ip = int(vm.u32())
		case OpJCond, OpJCondNoPop:
			var v Value
			if op == OpJCond {
				v = vm.pop()
			} else {
				v = vm.top()
			}
			target := vm.u16()
			if v.Truthy() {
				vm.ip = int(target)
			}
		case OpJNcond, OpJNcondNoPop:
			var v Value
			if op == OpJNcond {
				v = vm.pop()
			} else {
				v = vm.top()
			}
			target := vm.u16()
			if !v.Truthy() {
				vm.ip = int(target)
			}

		case OpCall, OpRetCall:
			argc := int(vm.u16())
			if !vm.doCall(argc, op == OpRetCall, opStart) {
				return vm.runtimeErr()
			}
		case OpRet:
			if !vm.doRet() {
				return nil
			}

		case OpDictNew:
			vm.push(recordValue(vm.heap.malloc(NewRecord(), 1)))
		case OpDictLoad:
			count := int(vm.u16())
			vm.doDictLoad(count)
		case OpArrayLoad:
			count := int(vm.u16())
			vm.doArrayLoad(count)

		case OpMemberGet, OpMemberGetNoPop:
			id := vm.u16()
			if !vm.doMemberGet(vm.prog.Name(id), op == OpMemberGetNoPop, opStart) {
				return vm.runtimeErr()
			}
		case OpMemberSet:
			id := vm.u16()
			if !vm.doMemberSet(vm.prog.Name(id), opStart) {
				return vm.runtimeErr()
			}

		case OpIndexGet, OpIndexGetNoPop:
			if !vm.doIndexGet(op == OpIndexGetNoPop, opStart) {
				return vm.runtimeErr()
			}
		case OpIndexSet:
			if !vm.doIndexSet(opStart) {
				return vm.runtimeErr()
			}

		case OpTry:
			count := int(vm.u16())
			vm.doTry(count)
		case OpExframePop:
			if len(vm.exframes) > 0 {
				vm.exframes = vm.exframes[:len(vm.exframes)-1]
			}
		case OpRaise:
			v := vm.pop()
			if !vm.doRaise(v, opStart) {
				if vm.nativeCallDepth != 0 || vm.exframeFallthrough != nil {
					return nil
				}
				return vm.runtimeErr()
			}
		case OpExframeRet:
			target := vm.u16()
			vm.doExframeRet(int(target))

		case OpForIn:
			end := vm.u16()
			if !vm.doForIn(int(end), opStart) {
				return vm.runtimeErr()
			}

		case OpUse:
			id := vm.u16()
			if !vm.doUse(vm.prog.Name(id), opStart) {
				return vm.runtimeErr()
			}

		default:
			vm.fail(ErrInvalidOperands, opStart)
			return vm.runtimeErr()
		}

		if vm.err != ErrNone {
			return vm.runtimeErr()
		}
		if stopDepth >= 0 && len(vm.frames) <= stopDepth {
			return nil
		}
	}
}

func (vm *VM) runtimeErr() error {
	if vm.err == ErrNone {
		return nil
	}
	span, ok := vm.prog.Locate(vm.errIP)
	return &RuntimeError{
		Code: vm.err, Raised: vm.raised, Expected: vm.expected, Got: vm.got,
		Span: span, HasSpan: ok,
	}
}

// ---- EnvNew / call frame entry ----

// doEnvNew builds the active frame's Env from the pending call info
// a Call/RetCall/top-level entry left behind, reserving slotCount
// slots and popping exactly pending.nargs values off the stack into
// the first slots.
//
// The reversed pop order (slot nargs-1 first) is required because the
// compiler pushes the callee and then its arguments left to right
// (§4.2 compileCallLike), leaving the last argument on top of the
// stack; popping top-to-bottom must therefore fill the last
// parameter's slot first.
func (vm *VM) doEnvNew(slotCount int) {
	pc := vm.pending
	vm.pending = nil
	if pc == nil {
		pc = &pendingFrame{retip: retIPHost}
	}
	env := newEnv(slotCount, pc.nargs, pc.parent, pc.retip)
	for i := pc.nargs - 1; i >= 0; i-- {
		env.slots[i] = vm.pop()
	}
	node := vm.heap.malloc(env, slotCount+1)
	vm.frames = append(vm.frames, node)
}

// ---- arithmetic / comparison ----

func (vm *VM) binOp(op Op, opStart int) bool {
	b := vm.pop()
	a := vm.pop()

	if op == OpEq {
		vm.push(BoolValue(a.Equals(b)))
		return true
	}
	if op == OpNEq {
		vm.push(BoolValue(!a.Equals(b)))
		return true
	}

	if a.Kind() == KStr && b.Kind() == KStr && op == OpAdd {
		node := vm.heap.malloc(newHanaString(a.AsStr().String()+b.AsStr().String()), a.AsStr().Len()+b.AsStr().Len())
		vm.push(strValue(node))
		return true
	}

	switch op {
	case OpLt, OpLEq, OpGt, OpGEq:
		if a.Kind() == KStr && b.Kind() == KStr {
			vm.push(BoolValue(compareStrings(op, a.AsStr().String(), b.AsStr().String())))
			return true
		}
	}

	if !isNumeric(a.Kind()) || !isNumeric(b.Kind()) {
		vm.fail(ErrInvalidOperands, opStart)
		return false
	}

	bothInt := a.Kind() == KInt && b.Kind() == KInt
	switch op {
	case OpBitwiseAnd, OpBitwiseOr, OpBitwiseXor:
		if !bothInt {
			vm.fail(ErrInvalidOperands, opStart)
			return false
		}
		switch op {
		case OpBitwiseAnd:
			vm.push(IntValue(a.AsInt() & b.AsInt()))
		case OpBitwiseOr:
			vm.push(IntValue(a.AsInt() | b.AsInt()))
		case OpBitwiseXor:
			vm.push(IntValue(a.AsInt() ^ b.AsInt()))
		}
		return true
	case OpLt, OpLEq, OpGt, OpGEq:
		af, bf := a.numericFloat(), b.numericFloat()
		switch op {
		case OpLt:
			vm.push(BoolValue(af < bf))
		case OpLEq:
			vm.push(BoolValue(af <= bf))
		case OpGt:
			vm.push(BoolValue(af > bf))
		case OpGEq:
			vm.push(BoolValue(af >= bf))
		}
		return true
	}

	if bothInt {
		ai, bi := a.AsInt(), b.AsInt()
		switch op {
		case OpAdd:
			vm.push(IntValue(ai + bi))
		case OpSub:
			vm.push(IntValue(ai - bi))
		case OpMul:
			vm.push(IntValue(ai * bi))
		case OpDiv:
			if bi == 0 {
				vm.fail(ErrDivideByZero, opStart)
				return false
			}
			vm.push(IntValue(ai / bi))
		case OpMod:
			if bi == 0 {
				vm.fail(ErrDivideByZero, opStart)
				return false
			}
			vm.push(IntValue(ai % bi))
		}
		return true
	}

	af, bf := a.numericFloat(), b.numericFloat()
	switch op {
	case OpAdd:
		vm.push(FloatValue(af + bf))
	case OpSub:
		vm.push(FloatValue(af - bf))
	case OpMul:
		vm.push(FloatValue(af * bf))
	case OpDiv:
		if bf == 0 {
			vm.fail(ErrDivideByZero, opStart)
			return false
		}
		vm.push(FloatValue(af / bf))
	case OpMod:
		if bf == 0 {
			vm.fail(ErrDivideByZero, opStart)
			return false
		}
		vm.push(FloatValue(math.Mod(af, bf)))
	}
	return true
}

func compareStrings(op Op, a, b string) bool {
	switch op {
	case OpLt:
		return a < b
	case OpLEq:
		return a <= b
	case OpGt:
		return a > b
	default:
		return a >= b
	}
}

// ---- well-known prototypes, exposed for a standard-library package ----

// RegisterPrototype replaces one of the five well-known prototype
// records (Str, Int, Float, Array, and the generic Record prototype
// matched by `of`) with rec, letting a native standard-library
// package hang methods off the primitive types without core
// depending on that package. kind must be one of KStr, KInt, KFloat,
// KArray, or KRecord.
func (vm *VM) RegisterPrototype(kind Kind, rec *Record) {
	node := vm.heap.malloc(rec, 1)
	v := recordValue(node)
	switch kind {
	case KStr:
		vm.strProto = v
	case KInt:
		vm.intProto = v
	case KFloat:
		vm.floatProto = v
	case KArray:
		vm.arrayProto = v
	case KRecord:
		vm.recordProto = v
	}
}

// Prototype returns the current well-known prototype record for kind.
func (vm *VM) Prototype(kind Kind) *Record {
	switch kind {
	case KStr:
		return vm.strProto.AsRecord()
	case KInt:
		return vm.intProto.AsRecord()
	case KFloat:
		return vm.floatProto.AsRecord()
	case KArray:
		return vm.arrayProto.AsRecord()
	case KRecord:
		return vm.recordProto.AsRecord()
	default:
		return nil
	}
}

// SetGlobal installs name as a global binding, the mechanism a
// standard-library package uses to expose top-level functions
// (`print`, `len`, ...) and error-record prototypes.
func (vm *VM) SetGlobal(name string, v Value) {
	vm.globals[name] = v
}

// ---- `of` / well-known prototypes ----

// protoFor returns the well-known prototype record backing v's kind,
// or v's own Prototype chain start when v is itself a Record.
func (vm *VM) protoFor(v Value) (Value, bool) {
	switch v.Kind() {
	case KStr:
		return vm.strProto, true
	case KInt:
		return vm.intProto, true
	case KFloat:
		return vm.floatProto, true
	case KArray:
		return vm.arrayProto, true
	case KRecord:
		return v, true
	default:
		return Nil, false
	}
}

func (vm *VM) isOf(x, proto Value) bool {
	if proto.Kind() != KRecord {
		return false
	}
	protoRec := proto.AsRecord()
	if x.Kind() == KRecord {
		return x.AsRecord().Of(protoRec, vm.recordProto.AsRecord())
	}
	p, ok := vm.protoFor(x)
	if !ok {
		return false
	}
	if p.node() == proto.node() {
		return true
	}
	return false
}

// ---- member / index access ----

func (vm *VM) doMemberGet(name string, noPop bool, opStart int) bool {
	var x Value
	if noPop {
		x = vm.top()
	} else {
		x = vm.pop()
	}

	if x.Kind() == KRecord {
		v, ok := x.AsRecord().Get(name)
		if !ok {
			vm.fail(ErrNotIndexable, opStart)
			return false
		}
		vm.push(v)
		return true
	}

	proto, ok := vm.protoFor(x)
	if !ok {
		vm.fail(ErrNotIndexable, opStart)
		return false
	}
	if name == protoKey {
		vm.push(proto)
		return true
	}
	v, ok := proto.AsRecord().Get(name)
	if !ok {
		vm.fail(ErrNotIndexable, opStart)
		return false
	}
	vm.push(v)
	return true
}

// doMemberSet implements `X.name = value`, consuming X while leaving
// value on top as the assignment expression's result, per §4.2's
// "every expression leaves exactly one value" convention (the
// original leaves nothing; hana's compiler always expects one, so the
// receiver alone is excised here instead of both operands).
func (vm *VM) doMemberSet(name string, opStart int) bool {
	n := len(vm.stack)
	value := vm.stack[n-1]
	target := vm.stack[n-2]
	if target.Kind() != KRecord {
		vm.fail(ErrNotIndexable, opStart)
		return false
	}
	target.AsRecord().Set(name, value)
	vm.removeAt(n - 2)
	return true
}

func normalizeIndex(i, length int) (int, bool) {
	if i < 0 {
		i += length
	}
	if i < 0 || i >= length {
		return 0, false
	}
	return i, true
}

func (vm *VM) doIndexGet(noPop bool, opStart int) bool {
	index := vm.pop()
	var x Value
	if noPop {
		x = vm.top()
	} else {
		x = vm.pop()
	}

	switch x.Kind() {
	case KArray:
		if index.Kind() != KInt {
			vm.fail(ErrInvalidOperands, opStart)
			return false
		}
		arr := x.AsArray()
		i, ok := normalizeIndex(int(index.AsInt()), arr.Len())
		if !ok {
			vm.fail(ErrNotIndexable, opStart)
			vm.expected = arr.Len()
			return false
		}
		vm.push(arr.Get(i))
		return true
	case KStr:
		if index.Kind() != KInt {
			vm.fail(ErrInvalidOperands, opStart)
			return false
		}
		clusters := graphemes(x.AsStr().String())
		i, ok := normalizeIndex(int(index.AsInt()), len(clusters))
		if !ok {
			vm.fail(ErrNotIndexable, opStart)
			vm.expected = len(clusters)
			return false
		}
		node := vm.heap.malloc(newHanaString(clusters[i]), len(clusters[i]))
		vm.push(strValue(node))
		return true
	case KRecord:
		if index.Kind() != KStr {
			vm.fail(ErrInvalidOperands, opStart)
			return false
		}
		v, ok := x.AsRecord().Get(index.AsStr().String())
		if !ok {
			vm.fail(ErrNotIndexable, opStart)
			return false
		}
		vm.push(v)
		return true
	default:
		vm.fail(ErrNotIndexable, opStart)
		return false
	}
}

func (vm *VM) doIndexSet(opStart int) bool {
	n := len(vm.stack)
	value := vm.stack[n-1]
	index := vm.stack[n-2]
	target := vm.stack[n-3]

	switch target.Kind() {
	case KArray:
		if index.Kind() != KInt {
			vm.fail(ErrInvalidOperands, opStart)
			return false
		}
		arr := target.AsArray()
		i, ok := normalizeIndex(int(index.AsInt()), arr.Len())
		if !ok {
			vm.fail(ErrNotIndexable, opStart)
			return false
		}
		arr.Set(i, value)
	case KRecord:
		if index.Kind() != KStr {
			vm.fail(ErrInvalidOperands, opStart)
			return false
		}
		target.AsRecord().Set(index.AsStr().String(), value)
	default:
		vm.fail(ErrNotIndexable, opStart)
		return false
	}

	vm.stack = append(vm.stack[:n-3], value)
	return true
}

// ---- literal loads ----

func (vm *VM) doArrayLoad(count int) {
	items := make([]Value, count)
	for i := count - 1; i >= 0; i-- {
		items[i] = vm.pop()
	}
	node := vm.heap.malloc(NewArray(items), count+1)
	vm.push(arrayValue(node))
}

func (vm *VM) doDictLoad(count int) {
	type pair struct {
		key string
		val Value
	}
	pairs := make([]pair, count)
	for i := count - 1; i >= 0; i-- {
		key := vm.pop()
		val := vm.pop()
		pairs[i] = pair{key: key.AsStr().String(), val: val}
	}
	rec := NewRecord()
	for _, p := range pairs {
		rec.Set(p.key, p.val)
	}
	node := vm.heap.malloc(rec, count+1)
	vm.push(recordValue(node))
}

// ---- calls ----

// doCall dispatches OpCall/OpRetCall. The callee sits beneath its
// already-pushed arguments (compileCallLike pushes Callee first, then
// each Arg left to right), so it is fetched by index and excised
// rather than popped off the top.
func (vm *VM) doCall(argc int, tail bool, opStart int) bool {
	calleeIdx := len(vm.stack) - argc - 1
	callee := vm.stack[calleeIdx]

	switch callee.Kind() {
	case KNativeFn:
		vm.removeAt(calleeIdx)
		return vm.invokeNative(callee.AsNative(), argc, opStart)

	case KRecord:
		ctorKey := "new"
		if tail {
			ctorKey = "constructor"
		}
		ctor, ok := callee.AsRecord().Get(ctorKey)
		if !ok {
			vm.fail(ErrNotCallable, opStart)
			return false
		}
		switch ctor.Kind() {
		case KNativeFn:
			vm.removeAt(calleeIdx)
			return vm.invokeNative(ctor.AsNative(), argc, opStart)
		case KFn:
			fn := ctor.AsFn()
			if argc+1 != fn.Nargs {
				vm.fail(ErrMismatchArguments, opStart)
				vm.expected = fn.Nargs
				vm.got = argc + 1
				return false
			}
			selfNode := vm.heap.malloc(NewRecord(), 1)
			selfNode.body.(*Record).Set(protoKey, callee)
			vm.removeAt(calleeIdx)
			vm.push(recordValue(selfNode))
			return vm.enterFn(fn, argc+1, tail, opStart)
		default:
			vm.fail(ErrNotCallable, opStart)
			return false
		}

	case KFn:
		fn := callee.AsFn()
		if argc != fn.Nargs {
			vm.fail(ErrMismatchArguments, opStart)
			vm.expected = fn.Nargs
			vm.got = argc
			return false
		}
		vm.removeAt(calleeIdx)
		return vm.enterFn(fn, argc, tail, opStart)

	default:
		vm.fail(ErrNotCallable, opStart)
		return false
	}
}

// enterFn pushes a pending frame for fn and jumps to its body's first
// instruction (its own spliced EnvNew). For a tail call
// (RetCall/constructor path) the current frame is reused instead of
// growing the call stack, implementing §4.3's tail-call optimization.
func (vm *VM) enterFn(fn *Function, nargs int, tail bool, opStart int) bool {
	if !tail {
		if len(vm.frames) >= vm.callStackLimit {
			vm.fail(ErrStackOverflow, opStart)
			return false
		}
		retip := retIPHost
		if len(vm.frames) > 0 {
			retip = vm.ip
		}
		vm.pending = &pendingFrame{nargs: nargs, parent: fn.Parent, retip: retip}
		vm.ip = fn.IP
		return true
	}

	// Tail call: the current frame's Env is replaced, not grown. It is
	// simplest to drop it and let the new EnvNew push a fresh one; the
	// retip carried forward is the ORIGINAL caller's, preserved from
	// the frame being replaced, so Ret still returns to the right
	// place no matter how many tail calls chain.
	var retip int
	if len(vm.frames) == 0 {
		retip = retIPHost
	} else {
		retip = vm.curEnv().retip
		vm.frames = vm.frames[:len(vm.frames)-1]
	}
	vm.pending = &pendingFrame{nargs: nargs, parent: fn.Parent, retip: retip}
	vm.ip = fn.IP
	return true
}

// doRet pops the active frame and resumes at its retip, or reports
// Run should stop if this was the host-entry frame. Return value sits
// on top of the stack throughout; callers read it after Run returns
// without popping it here, since a native caller (CallValue) is the
// one that finally consumes it.
func (vm *VM) doRet() bool {
	env := vm.curEnv()
	retip := env.retip
	vm.frames = vm.frames[:len(vm.frames)-1]
	if retip == retIPHost {
		return false
	}
	vm.ip = retip
	return true
}

// invokeNative runs a native callable, applying the native-call-depth
// / exframe-fallthrough propagation check from vm_call / inside.rs's
// Call handler: if a raise unwound past this call (or into it) while
// it ran, dispatch must not continue as if it returned normally.
func (vm *VM) invokeNative(fn NativeFn, argc int, opStart int) bool {
	vm.nativeCallDepth++
	fn(vm, argc)
	vm.nativeCallDepth--

	expectDepth := vm.nativeCallDepth
	if vm.exframeFallthrough != nil {
		expectDepth = vm.exframeFallthrough.nativeDepth
	}
	if expectDepth != vm.nativeCallDepth || vm.err != ErrNone {
		return false
	}
	return true
}

// CallValue is the native-to-script reentrancy surface native code
// uses to call back into hana (array map/filter/reduce, and so on),
// grounded on vm.rs's vm_call. args are pushed in their natural
// left-to-right order; the callee is pushed first, exactly as
// compileCallLike emits a call site, so doCall's normal
// callee-beneath-args handling applies unchanged.
func (vm *VM) CallValue(fn Value, args []Value) (Value, error) {
	vm.push(fn)
	for _, a := range args {
		vm.push(a)
	}

	savedIP := vm.ip
	savedFrameDepth := len(vm.frames)

	opStart := vm.ip
	if !vm.doCall(len(args), false, opStart) {
		return Nil, vm.runtimeErr()
	}

	if fn.Kind() != KNativeFn {
		if err := vm.execute(savedFrameDepth); err != nil {
			return Nil, err
		}
		vm.ip = savedIP
	}
	if vm.exframeFallthrough != nil {
		return Nil, vm.runtimeErr()
	}
	return vm.pop(), nil
}

// ---- exceptions ----

func (vm *VM) doTry(count int) {
	ef := newExFrame(len(vm.stack), len(vm.frames), vm.nativeCallDepth)
	pairs := make([]exHandler, count)
	for i := count - 1; i >= 0; i-- {
		proto := vm.pop()
		handler := vm.pop()
		var protoRec *Record
		var protoNode *gcNode
		if proto.Kind() == KRecord {
			protoRec = proto.AsRecord()
			protoNode = proto.node()
		}
		pairs[i] = exHandler{protoNode: protoNode, proto: protoRec, handler: handler}
	}
	ef.handlers = pairs
	vm.exframes = append(vm.exframes, ef)
}

// doRaise walks the exframe stack innermost-outward looking for a
// matching handler (a deliberate divergence from the original's
// outermost-first scan, recorded in the design notes), unwinds the
// stack/frame depth to where that frame was entered, and arranges for
// its handler to run via the exframe-fallthrough marker so native
// re-entrancy can detect the unwind in progress.
func (vm *VM) doRaise(raised Value, opStart int) bool {
	var raisedProto *Record
	if raised.Kind() == KRecord {
		raisedProto = raised.AsRecord().Prototype
	}

	for i := len(vm.exframes) - 1; i >= 0; i-- {
		ef := vm.exframes[i]
		handler, ok := ef.Match(raised, raisedProto)
		if !ok {
			continue
		}

		vm.exframes = vm.exframes[:i]
		vm.stack = vm.stack[:ef.stackLen]
		vm.frames = vm.frames[:ef.frameDepth]
		vm.exframeFallthrough = ef

		if handler.Kind() != KFn {
			vm.fail(ErrNotCallable, opStart)
			return false
		}
		fn := handler.AsFn()
		nargs := 0
		if fn.Nargs == 1 {
			nargs = 1
			vm.push(raised)
		}
		retip := vm.ip
		if len(vm.frames) == 0 {
			retip = retIPHost
		}
		vm.pending = &pendingFrame{nargs: nargs, parent: fn.Parent, retip: retip}
		vm.ip = fn.IP
		vm.exframeFallthrough = nil
		return true
	}

	vm.fail(ErrUnhandledException, opStart)
	vm.raised = raisedProto
	return false
}

// doExframeRet is the handler's normal-completion path: it discards
// the handler's own env/value the way Ret would, then jumps straight
// to afterTry instead of returning to wherever raise was called from.
func (vm *VM) doExframeRet(target int) {
	retval := vm.pop()
	vm.frames = vm.frames[:len(vm.frames)-1]
	vm.push(retval)
	vm.ip = target
}

// ---- for..in ----

// doForIn implements the three-state continuation protocol from
// inside.rs: TOS is either a fresh Str/Array (first iteration, pushes
// a [remaining, IteratorSentinel, element] triple or jumps to end if
// empty), or IteratorSentinel with the remaining array just beneath
// it (continuing iteration). Strings are split into grapheme
// clusters via uniseg rather than the original's codepoint split, for
// consistency with how indexing already treats strings elsewhere.
func (vm *VM) doForIn(end int, opStart int) bool {
	topVal := vm.top()

	switch topVal.Kind() {
	case KStr:
		clusters := graphemes(topVal.AsStr().String())
		vm.pop()
		if len(clusters) == 0 {
			vm.ip = end
			return true
		}
		rest := make([]Value, len(clusters)-1)
		for i, c := range clusters[1:] {
			node := vm.heap.malloc(newHanaString(c), len(c))
			rest[i] = strValue(node)
		}
		restNode := vm.heap.malloc(NewArray(rest), len(rest)+1)
		firstNode := vm.heap.malloc(newHanaString(clusters[0]), len(clusters[0]))
		vm.push(arrayValue(restNode))
		vm.push(IteratorSentinel)
		vm.push(strValue(firstNode))
		return true

	case KArray:
		arr := topVal.AsArray()
		vm.pop()
		if arr.Len() == 0 {
			vm.ip = end
			return true
		}
		items := arr.Items()
		rest := make([]Value, len(items)-1)
		copy(rest, items[1:])
		restNode := vm.heap.malloc(NewArray(rest), len(rest)+1)
		vm.push(arrayValue(restNode))
		vm.push(IteratorSentinel)
		vm.push(items[0])
		return true

	case KIterator:
		arrVal := vm.peekAt(1)
		if arrVal.Kind() != KArray {
			vm.fail(ErrNotIterable, opStart)
			return false
		}
		arr := arrVal.AsArray()
		if arr.Len() == 0 {
			vm.pop() // Iterator
			vm.pop() // array
			vm.ip = end
			return true
		}
		items := arr.Items()
		next := items[0]
		arrVal.AsArray().items = items[1:]
		vm.push(next)
		return true

	default:
		vm.fail(ErrNotIterable, opStart)
		return false
	}
}

// ---- graphemes ----

// graphemes splits s into its grapheme clusters.
func graphemes(s string) []string {
	return Graphemes(s)
}
