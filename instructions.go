package hana

// Instruction is implemented by every opcode emission the compiler
// produces. Adapted from the teacher's vm_instructions.go pattern: one
// small struct per opcode, each knowing its own encoded size and how
// to emit itself. ILabel is the teacher's forward-reference idiom:
// a zero-size pseudo-instruction that the assembler resolves to a
// concrete byte offset before any jump operand referencing it is
// encoded.
type Instruction interface {
	Name() string
	Size() int
	Loc() Range
	emit(buf *encoder, resolve func(ILabel) uint32)
}

type base_ struct{ sl Range }

func (b base_) Loc() Range { return b.sl }

// ---- labels ----

// ILabel marks a position in the instruction list that a jump refers
// to. It contributes zero bytes to the final stream; the assembler's
// first pass records its resolved offset.
type ILabel struct {
	base_
	ID int
}

func (ILabel) Name() string                      { return "label" }
func (ILabel) Size() int                          { return 0 }
func (ILabel) emit(*encoder, func(ILabel) uint32) {}

var globalLabelID int

func NewLabel() ILabel {
	globalLabelID++
	return ILabel{ID: globalLabelID}
}

// ---- misc ----

type IHalt struct{ base_ }

func (IHalt) Name() string { return "halt" }
func (IHalt) Size() int    { return 1 }
func (i IHalt) emit(b *encoder, _ func(ILabel) uint32) { b.u8(uint8(OpHalt)) }

type IPop struct{ base_ }

func (IPop) Name() string { return "pop" }
func (IPop) Size() int    { return 1 }
func (i IPop) emit(b *encoder, _ func(ILabel) uint32) { b.u8(uint8(OpPop)) }

type ISwap struct{ base_ }

func (ISwap) Name() string { return "swap" }
func (ISwap) Size() int    { return 1 }
func (i ISwap) emit(b *encoder, _ func(ILabel) uint32) { b.u8(uint8(OpSwap)) }

// ---- push constants ----

type IPush8 struct {
	base_
	V int8
}

func (IPush8) Name() string { return "push8" }
func (IPush8) Size() int    { return 2 }
func (i IPush8) emit(b *encoder, _ func(ILabel) uint32) {
	b.u8(uint8(OpPush8))
	b.u8(uint8(i.V))
}

type IPush16 struct {
	base_
	V int16
}

func (IPush16) Name() string { return "push16" }
func (IPush16) Size() int    { return 3 }
func (i IPush16) emit(b *encoder, _ func(ILabel) uint32) {
	b.u8(uint8(OpPush16))
	b.u16(uint16(i.V))
}

type IPush32 struct {
	base_
	V int32
}

func (IPush32) Name() string { return "push32" }
func (IPush32) Size() int    { return 5 }
func (i IPush32) emit(b *encoder, _ func(ILabel) uint32) {
	b.u8(uint8(OpPush32))
	b.u32(uint32(i.V))
}

type IPush64 struct {
	base_
	V int64
}

func (IPush64) Name() string { return "push64" }
func (IPush64) Size() int    { return 9 }
func (i IPush64) emit(b *encoder, _ func(ILabel) uint32) {
	b.u8(uint8(OpPush64))
	b.u64(uint64(i.V))
}

type IPushf64 struct {
	base_
	V float64
}

func (IPushf64) Name() string { return "pushf64" }
func (IPushf64) Size() int    { return 9 }
func (i IPushf64) emit(b *encoder, _ func(ILabel) uint32) {
	b.u8(uint8(OpPushf64))
	b.f64(i.V)
}

type IPushNil struct{ base_ }

func (IPushNil) Name() string { return "pushnil" }
func (IPushNil) Size() int    { return 1 }
func (i IPushNil) emit(b *encoder, _ func(ILabel) uint32) { b.u8(uint8(OpPushNil)) }

// IPushStr emits the bytes of a string literal inline, null
// terminated, for literals the intern table rejects (§4.2 emission
// rules). A literal containing a 0 byte is rejected by the compiler
// before this instruction is ever created.
type IPushStr struct {
	base_
	V string
}

func (i IPushStr) Name() string { return "pushstr" }
func (i IPushStr) Size() int    { return 1 + len(i.V) + 1 }
func (i IPushStr) emit(b *encoder, _ func(ILabel) uint32) {
	b.u8(uint8(OpPushStr))
	b.bytes([]byte(i.V))
	b.u8(0)
}

type IPushStrInterned struct {
	base_
	ID uint16
}

func (IPushStrInterned) Name() string { return "pushstrinterned" }
func (IPushStrInterned) Size() int    { return 3 }
func (i IPushStrInterned) emit(b *encoder, _ func(ILabel) uint32) {
	b.u8(uint8(OpPushStrInterned))
	b.u16(i.ID)
}

// ---- arithmetic / comparison ----

type binOp struct {
	base_
	op Op
}

func (i binOp) Name() string { return i.op.String() }
func (binOp) Size() int      { return 1 }
func (i binOp) emit(b *encoder, _ func(ILabel) uint32) { b.u8(uint8(i.op)) }

func IAdd(sl Range) Instruction         { return binOp{base_{sl}, OpAdd} }
func ISub(sl Range) Instruction         { return binOp{base_{sl}, OpSub} }
func IMul(sl Range) Instruction         { return binOp{base_{sl}, OpMul} }
func IDiv(sl Range) Instruction         { return binOp{base_{sl}, OpDiv} }
func IMod(sl Range) Instruction         { return binOp{base_{sl}, OpMod} }
func IBitwiseAnd(sl Range) Instruction  { return binOp{base_{sl}, OpBitwiseAnd} }
func IBitwiseOr(sl Range) Instruction   { return binOp{base_{sl}, OpBitwiseOr} }
func IBitwiseXor(sl Range) Instruction  { return binOp{base_{sl}, OpBitwiseXor} }
func INegate(sl Range) Instruction      { return binOp{base_{sl}, OpNegate} }
func INot(sl Range) Instruction         { return binOp{base_{sl}, OpNot} }
func ILt(sl Range) Instruction          { return binOp{base_{sl}, OpLt} }
func ILEq(sl Range) Instruction         { return binOp{base_{sl}, OpLEq} }
func IGt(sl Range) Instruction          { return binOp{base_{sl}, OpGt} }
func IGEq(sl Range) Instruction         { return binOp{base_{sl}, OpGEq} }
func IEq(sl Range) Instruction          { return binOp{base_{sl}, OpEq} }
func INEq(sl Range) Instruction         { return binOp{base_{sl}, OpNEq} }
func IOf(sl Range) Instruction          { return binOp{base_{sl}, OpOf} }
func IDictNew(sl Range) Instruction     { return binOp{base_{sl}, OpDictNew} }
func IIndexGet(sl Range) Instruction    { return binOp{base_{sl}, OpIndexGet} }
func IIndexGetNoPop(sl Range) Instruction { return binOp{base_{sl}, OpIndexGetNoPop} }
func IIndexSet(sl Range) Instruction    { return binOp{base_{sl}, OpIndexSet} }
func IRaise(sl Range) Instruction       { return binOp{base_{sl}, OpRaise} }
func IRet(sl Range) Instruction         { return binOp{base_{sl}, OpRet} }

// ---- u16-operand family (slots, counts, name ids) ----

type u16Op struct {
	base_
	op Op
	V  uint16
}

func (i u16Op) Name() string { return i.op.String() }
func (u16Op) Size() int      { return 3 }
func (i u16Op) emit(b *encoder, _ func(ILabel) uint32) {
	b.u8(uint8(i.op))
	b.u16(i.V)
}

func IEnvNew(sl Range, slots uint16) Instruction   { return u16Op{base_{sl}, OpEnvNew, slots} }
func ISetLocal(sl Range, slot uint16) Instruction  { return u16Op{base_{sl}, OpSetLocal, slot} }
func ISetLocalFunctionDef(sl Range, slot uint16) Instruction {
	return u16Op{base_{sl}, OpSetLocalFunctionDef, slot}
}
func IGetLocal(sl Range, slot uint16) Instruction { return u16Op{base_{sl}, OpGetLocal, slot} }
func ISetGlobal(sl Range, nameID uint16) Instruction { return u16Op{base_{sl}, OpSetGlobal, nameID} }
func IGetGlobal(sl Range, nameID uint16) Instruction { return u16Op{base_{sl}, OpGetGlobal, nameID} }
func ICall(sl Range, argc uint16) Instruction        { return u16Op{base_{sl}, OpCall, argc} }
func IRetCall(sl Range, argc uint16) Instruction     { return u16Op{base_{sl}, OpRetCall, argc} }
func IDictLoad(sl Range, count uint16) Instruction   { return u16Op{base_{sl}, OpDictLoad, count} }
func IArrayLoad(sl Range, count uint16) Instruction  { return u16Op{base_{sl}, OpArrayLoad, count} }
func IMemberGet(sl Range, nameID uint16) Instruction { return u16Op{base_{sl}, OpMemberGet, nameID} }
func IMemberGetNoPop(sl Range, nameID uint16) Instruction {
	return u16Op{base_{sl}, OpMemberGetNoPop, nameID}
}
func IMemberSet(sl Range, nameID uint16) Instruction { return u16Op{base_{sl}, OpMemberSet, nameID} }
func IUse(sl Range, pathID uint16) Instruction       { return u16Op{base_{sl}, OpUse, pathID} }

type IGetLocalUp struct {
	base_
	Slot  uint16
	Depth uint16
}

func (IGetLocalUp) Name() string { return "get_local_up" }
func (IGetLocalUp) Size() int    { return 5 }
func (i IGetLocalUp) emit(b *encoder, _ func(ILabel) uint32) {
	b.u8(uint8(OpGetLocalUp))
	b.u16(i.Slot)
	b.u16(i.Depth)
}

// DefFunctionPush <nargs u16><end-offset u16>: the end-offset jump
// target is resolved from a label (the instruction right after the
// skipped function body), not a literal, since the compiler doesn't
// know the body's length until it has been emitted.
type IDefFunctionPush struct {
	base_
	Nargs uint16
	End   ILabel
}

func (IDefFunctionPush) Name() string { return "def_function_push" }
func (IDefFunctionPush) Size() int    { return 5 }
func (i IDefFunctionPush) emit(b *encoder, resolve func(ILabel) uint32) {
	b.u8(uint8(OpDefFunctionPush))
	b.u16(i.Nargs)
	b.u16(uint16(resolve(i.End)))
}

// ---- jumps ----

type IJmp struct {
	base_
	Target ILabel
}

func (IJmp) Name() string { return "jmp" }
func (IJmp) Size() int    { return 3 }
func (i IJmp) emit(b *encoder, resolve func(ILabel) uint32) {
	b.u8(uint8(OpJmp))
	b.u16(uint16(resolve(i.Target)))
}

type IJmpLong struct {
	base_
	Target ILabel
}

func (IJmpLong) Name() string { return "jmp_long" }
func (IJmpLong) Size() int    { return 5 }
func (i IJmpLong) emit(b *encoder, resolve func(ILabel) uint32) {
	b.u8(uint8(OpJmpLong))
	b.u32(resolve(i.Target))
}

type jcondFamily struct {
	base_
	op     Op
	Target ILabel
}

func (i jcondFamily) Name() string { return i.op.String() }
func (jcondFamily) Size() int      { return 3 }
func (i jcondFamily) emit(b *encoder, resolve func(ILabel) uint32) {
	b.u8(uint8(i.op))
	b.u16(uint16(resolve(i.Target)))
}

func IJCond(sl Range, t ILabel) Instruction       { return jcondFamily{base_{sl}, OpJCond, t} }
func IJNcond(sl Range, t ILabel) Instruction      { return jcondFamily{base_{sl}, OpJNcond, t} }
func IJCondNoPop(sl Range, t ILabel) Instruction  { return jcondFamily{base_{sl}, OpJCondNoPop, t} }
func IJNcondNoPop(sl Range, t ILabel) Instruction { return jcondFamily{base_{sl}, OpJNcondNoPop, t} }
func IExframeRet(sl Range, t ILabel) Instruction  { return jcondFamily{base_{sl}, OpExframeRet, t} }
func IForIn(sl Range, t ILabel) Instruction       { return jcondFamily{base_{sl}, OpForIn, t} }

// ITry pops count (proto, handlerFn) pairs off the value stack and
// pushes a new ExFrame built from them, per §4.4.
func ITry(sl Range, count uint16) Instruction { return u16Op{base_{sl}, OpTry, count} }

// IExframePop discards the active ExFrame on normal (non-raised)
// completion of a try body.
type IExframePop struct{ base_ }

func (IExframePop) Name() string { return "exframe_pop" }
func (IExframePop) Size() int    { return 1 }
func (i IExframePop) emit(b *encoder, _ func(ILabel) uint32) { b.u8(uint8(OpExframePop)) }
