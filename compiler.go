package hana

import (
	"fmt"
	"strings"
)

// funcScope tracks the flat slot space of one function body. Per
// §3.3/§4.3, `begin...end` blocks do not introduce a new Env — only
// function bodies do — so locals declared anywhere in a function's
// body share one slot space, and shadowing simply reassigns a name to
// the same slot.
type funcScope struct {
	slots    map[string]int
	nextSlot int
}

type loopRecord struct {
	continueTarget ILabel
	breakTarget    ILabel
}

// Compiler turns an AST into an Instruction list, per §4.2. It also
// builds the chunk's source map as it goes: pc tracks the byte offset
// the next emitted instruction will land at (every Instruction's
// Size() is independent of where labels eventually resolve, so this
// can be tracked incrementally instead of in a second pass over
// instrs), and sm accumulates one SourceMapEntry per compiled AST node
// relative to this chunk's own start; the chunk's top-level compile
// function shifts sm by its splice base before merging it into the
// shared Program.SourceMap.
type Compiler struct {
	prog   *Program
	li     *LineIndex
	instrs []Instruction
	funcs  []*funcScope
	loops  []*loopRecord
	cfg    *Config

	pc     int
	sm     []SourceMapEntry
	fileID int
}

// NewCompiler builds a Compiler targeting prog. li is used both to
// turn Ranges into human-readable Spans for CompileError and as the
// LineIndex registered under fileID for later Program.Locate calls; li
// may be nil, in which case errors report byte cursors instead of
// line:col and source-map entries for this chunk carry no resolvable
// span.
func NewCompiler(prog *Program, cfg *Config, li *LineIndex, fileID int) *Compiler {
	if cfg == nil {
		cfg = NewConfig()
	}
	return &Compiler{prog: prog, cfg: cfg, li: li, fileID: fileID, funcs: []*funcScope{}}
}

// Compile compiles a full chunk to a ready-to-assemble Instruction
// list plus its source map. The top level is treated as an implicit
// zero-argument function: it gets the same leading EnvNew a `func`
// body does, sized to however many top-level locals the chunk
// declares, so the VM can enter it exactly like any other call frame
// instead of special-casing frame 0. Tail calls in top-level `return`s
// work the same way they do inside a `func`.
func Compile(prog *Program, chunk *Chunk, cfg *Config, li *LineIndex, fileID int) ([]Instruction, []SourceMapEntry, error) {
	c := NewCompiler(prog, cfg, li, fileID)
	c.pushFunc()
	bodyStart := len(c.instrs)
	bodyStartPC := c.pc
	for _, s := range chunk.Stmts {
		if err := c.compileStmt(s); err != nil {
			return nil, nil, err
		}
	}
	slotCount := c.curFunc().nextSlot
	c.popFunc()
	c.spliceEnvNewBeforeBody(bodyStart, bodyStartPC, IEnvNew(chunk.Rg, uint16(slotCount)))
	c.emit(IHalt{base_{chunk.Rg}})
	return c.instrs, c.sm, nil
}

func (c *Compiler) pushFunc() {
	c.funcs = append(c.funcs, &funcScope{slots: map[string]int{}})
}

func (c *Compiler) popFunc() *funcScope {
	f := c.funcs[len(c.funcs)-1]
	c.funcs = c.funcs[:len(c.funcs)-1]
	return f
}

func (c *Compiler) curFunc() *funcScope { return c.funcs[len(c.funcs)-1] }

func (c *Compiler) emit(i Instruction) {
	c.instrs = append(c.instrs, i)
	c.pc += i.Size()
}

// recordSM records one source-map entry covering [pcStart, c.pc) for
// n, inserted at smStart rather than appended, so a parent node's
// entry (whose wrapper recorded pcStart/smStart before recursing into
// children) ends up before its children's entries in c.sm — matching
// SourceMap.Lookup's last-match-wins rule, which needs the most
// specific (innermost) entry to be the later one.
func (c *Compiler) recordSM(n Node, pcStart, smStart int) {
	entry := SourceMapEntry{Source: n.Range(), Bytecode: Range{Start: pcStart, End: c.pc}, FileID: c.fileID}
	c.sm = append(c.sm, SourceMapEntry{})
	copy(c.sm[smStart+1:], c.sm[smStart:len(c.sm)-1])
	c.sm[smStart] = entry
}

// resolveVar finds name in the function-scope stack, returning
// (slot, depth, found). depth is the number of function boundaries
// walked to reach it, for GetLocalUp.
func (c *Compiler) resolveVar(name string) (int, int, bool) {
	for i := len(c.funcs) - 1; i >= 0; i-- {
		if slot, ok := c.funcs[i].slots[name]; ok {
			return slot, len(c.funcs) - 1 - i, true
		}
	}
	return 0, 0, false
}

func (c *Compiler) declareLocal(name string) int {
	f := c.curFunc()
	if slot, ok := f.slots[name]; ok {
		return slot
	}
	slot := f.nextSlot
	f.slots[name] = slot
	f.nextSlot++
	return slot
}

func (c *Compiler) errorf(n Node, format string, args ...any) error {
	return CompileError{Message: fmt.Sprintf(format, args...), Span: c.spanOf(n)}
}

func (c *Compiler) spanOf(n Node) Span {
	r := n.Range()
	if c.li != nil {
		return c.li.Span(r)
	}
	return Span{Start: Location{Cursor: r.Start}, End: Location{Cursor: r.End}}
}

// ---- statements ----

// compileStmt wraps compileStmtInner to record a source-map entry
// covering whatever bytecode n's compilation produced, per §3.7.
func (c *Compiler) compileStmt(n Node) error {
	pcStart := c.pc
	smStart := len(c.sm)
	if err := c.compileStmtInner(n); err != nil {
		return err
	}
	c.recordSM(n, pcStart, smStart)
	return nil
}

func (c *Compiler) compileStmtInner(n Node) error {
	switch s := n.(type) {
	case *BeginStmt:
		for _, st := range s.Stmts {
			if err := c.compileStmt(st); err != nil {
				return err
			}
		}
		return nil

	case *IfStmt:
		return c.compileIf(s)

	case *WhileStmt:
		return c.compileWhile(s)

	case *ForInStmt:
		return c.compileForIn(s)

	case *ContinueStmt:
		if len(c.loops) == 0 {
			return c.errorf(s, "continue outside a loop")
		}
		c.emit(IJmp{base_{s.Rg}, c.loops[len(c.loops)-1].continueTarget})
		return nil

	case *BreakStmt:
		if len(c.loops) == 0 {
			return c.errorf(s, "break outside a loop")
		}
		c.emit(IJmp{base_{s.Rg}, c.loops[len(c.loops)-1].breakTarget})
		return nil

	case *FuncDeclStmt:
		slot := c.declareLocal(s.Name)
		lit := &FuncLit{base: s.base, Name: s.Name, Params: s.Params, Body: s.Body}
		return c.compileFuncLitSelfBound(lit, slot)

	case *RecordDeclStmt:
		return c.compileRecordDecl(s)

	case *TryStmt:
		return c.compileTry(s)

	case *RaiseStmt:
		if err := c.compileExpr(s.X); err != nil {
			return err
		}
		c.emit(IRaise(s.Rg))
		return nil

	case *ReturnStmt:
		if !s.HasValue {
			c.emit(IPushNil{base_{s.Rg}})
			c.emit(IRet(s.Rg))
			return nil
		}
		return c.compileTailExpr(s.X)

	case *UseStmt:
		id := c.prog.NameID(s.Path)
		c.emit(IUse(s.Rg, id))
		return nil

	case *ExprStmt:
		if err := c.compileExpr(s.X); err != nil {
			return err
		}
		c.emit(IPop{base_{s.Rg}})
		return nil

	default:
		return c.errorf(n, "unhandled statement %T", n)
	}
}

func (c *Compiler) compileIf(s *IfStmt) error {
	if err := c.compileExpr(s.Cond); err != nil {
		return err
	}
	elseLabel := NewLabel()
	endLabel := NewLabel()
	c.emit(IJNcond(s.Rg, elseLabel))
	if err := c.compileStmt(s.Then); err != nil {
		return err
	}
	c.emit(IJmp{base_{s.Rg}, endLabel})
	c.emit(elseLabel)
	if s.Else != nil {
		if err := c.compileStmt(s.Else); err != nil {
			return err
		}
	}
	c.emit(endLabel)
	return nil
}

func (c *Compiler) compileWhile(s *WhileStmt) error {
	condLabel := NewLabel()
	endLabel := NewLabel()
	c.emit(condLabel)
	if err := c.compileExpr(s.Cond); err != nil {
		return err
	}
	c.emit(IJNcond(s.Rg, endLabel))
	c.loops = append(c.loops, &loopRecord{continueTarget: condLabel, breakTarget: endLabel})
	err := c.compileStmt(s.Body)
	c.loops = c.loops[:len(c.loops)-1]
	if err != nil {
		return err
	}
	c.emit(IJmp{base_{s.Rg}, condLabel})
	c.emit(endLabel)
	return nil
}

// compileForIn follows §4.2's emission recipe exactly: `expr, next:
// ForIn <end>, SetLocal id, Pop, body, Jmp next, end:`.
func (c *Compiler) compileForIn(s *ForInStmt) error {
	if err := c.compileExpr(s.Iterable); err != nil {
		return err
	}
	nextLabel := NewLabel()
	endLabel := NewLabel()
	c.emit(nextLabel)
	c.emit(IForIn(s.Rg, endLabel))
	slot := c.declareLocal(s.Var)
	c.emit(ISetLocal(s.Rg, uint16(slot)))
	c.emit(IPop{base_{s.Rg}})
	c.loops = append(c.loops, &loopRecord{continueTarget: nextLabel, breakTarget: endLabel})
	err := c.compileStmt(s.Body)
	c.loops = c.loops[:len(c.loops)-1]
	if err != nil {
		return err
	}
	c.emit(IJmp{base_{s.Rg}, nextLabel})
	c.emit(endLabel)
	return nil
}

// compileTailExpr implements §4.2's tail-call detection: a call, or a
// ternary whose branches are each (recursively) in tail position,
// compiles to RetCall instead of Call+Ret.
func (c *Compiler) compileTailExpr(n Node) error {
	if !c.cfg.GetBool("compiler.tail_calls") {
		if err := c.compileExpr(n); err != nil {
			return err
		}
		c.emit(IRet(n.Range()))
		return nil
	}
	switch e := n.(type) {
	case *CallExpr:
		return c.compileCallLike(e, true)
	case *TernaryExpr:
		if err := c.compileExpr(e.Cond); err != nil {
			return err
		}
		elseLabel := NewLabel()
		c.emit(IJNcond(e.Rg, elseLabel))
		if err := c.compileTailExpr(e.Then); err != nil {
			return err
		}
		c.emit(elseLabel)
		return c.compileTailExpr(e.Else)
	default:
		if err := c.compileExpr(n); err != nil {
			return err
		}
		c.emit(IRet(n.Range()))
		return nil
	}
}

// compileRecordDecl emits a record literal the same way an anonymous
// RecordLit expression does, then binds it to a local, per the `of`
// prototype-declaration sugar in §4.2. A record with no explicit
// `new`/`constructor` field gets a synthetic `new` that takes just
// the implicit receiver and returns it, so `E()` on a bare `record E end` allocates
// an empty instance instead of tripping the record-with-no-constructor
// error (§8 scenario 4 calls `E()` on exactly such a record and relies
// on this working).
func (c *Compiler) compileRecordDecl(s *RecordDeclStmt) error {
	fields := s.Fields
	hasCtor := false
	for _, f := range fields {
		if f.Key == "new" || f.Key == "constructor" {
			hasCtor = true
			break
		}
	}
	if !hasCtor {
		fields = append(fields, RecordField{
			Key: "new",
			Value: &FuncLit{base: s.base, Params: []string{"self"}, Body: []Node{
				&ReturnStmt{base: s.base, X: &Ident{base: s.base, Name: "self"}, HasValue: true},
			}},
		})
	}

	for _, f := range fields {
		if err := c.compileExpr(f.Value); err != nil {
			return err
		}
		c.pushStringLiteral(s.Rg, f.Key)
	}
	c.emit(IDictLoad(s.Rg, uint16(len(fields))))
	slot := c.declareLocal(s.Name)
	c.emit(ISetLocal(s.Rg, uint16(slot)))
	return nil
}

// compileTry compiles each case to a skipped-over handler function
// (DefFunctionPush) followed by its prototype expression, then emits
// Try<N> to build the ExFrame from those N (fn, proto) pairs, the
// guarded body, and a trailing ExframePop for the normal-completion
// path. A handler that runs falls through to afterTry via
// ExframeRet instead of an ordinary Ret, so it never re-executes the
// guarded body.
func (c *Compiler) compileTry(s *TryStmt) error {
	afterTry := NewLabel()

	for _, cs := range s.Cases {
		nargs := uint16(0)
		if cs.HasAs {
			nargs = 1
		}
		handlerEnd := NewLabel()
		c.emit(IDefFunctionPush{base_{s.Rg}, nargs, handlerEnd})

		c.pushFunc()
		if cs.HasAs {
			c.declareLocal(cs.As)
		}
		bodyStart := len(c.instrs)
		bodyStartPC := c.pc
		for _, st := range cs.Body {
			if err := c.compileStmt(st); err != nil {
				return err
			}
		}
		if !endsInReturn(cs.Body) {
			c.emit(IPushNil{base_{s.Rg}})
		}
		c.emit(IExframeRet(s.Rg, afterTry))
		slotCount := c.curFunc().nextSlot
		c.popFunc()
		c.spliceEnvNewBeforeBody(bodyStart, bodyStartPC, IEnvNew(s.Rg, uint16(slotCount)))

		c.emit(handlerEnd)
		if err := c.compileExpr(cs.Proto); err != nil {
			return err
		}
	}

	c.emit(ITry(s.Rg, uint16(len(s.Cases))))
	for _, st := range s.Body {
		if err := c.compileStmt(st); err != nil {
			return err
		}
	}
	c.emit(IExframePop{base_{s.Rg}})
	c.emit(afterTry)
	return nil
}

// ---- expressions (leave exactly one Value on the stack) ----

// compileExpr wraps compileExprInner to record a source-map entry
// covering whatever bytecode n's compilation produced, per §3.7.
func (c *Compiler) compileExpr(n Node) error {
	pcStart := c.pc
	smStart := len(c.sm)
	if err := c.compileExprInner(n); err != nil {
		return err
	}
	c.recordSM(n, pcStart, smStart)
	return nil
}

func (c *Compiler) compileExprInner(n Node) error {
	switch e := n.(type) {
	case *IntLit:
		c.pushInt(e.Rg, e.Value)
		return nil
	case *FloatLit:
		c.emit(IPushf64{base_{e.Rg}, e.Value})
		return nil
	case *StringLit:
		if strings.IndexByte(e.Value, 0) >= 0 {
			return c.errorf(e, "string literal contains a null byte")
		}
		c.pushStringLiteral(e.Rg, e.Value)
		return nil
	case *BoolLit:
		c.pushInt(e.Rg, boolToInt(e.Value))
		return nil
	case *NilLit:
		c.emit(IPushNil{base_{e.Rg}})
		return nil
	case *Ident:
		return c.compileIdentLoad(e)
	case *ArrayLit:
		for _, el := range e.Elems {
			if err := c.compileExpr(el); err != nil {
				return err
			}
		}
		c.emit(IArrayLoad(e.Rg, uint16(len(e.Elems))))
		return nil
	case *RecordLit:
		for i, v := range e.Vals {
			if err := c.compileExpr(v); err != nil {
				return err
			}
			c.pushStringLiteral(e.Rg, e.Keys[i])
		}
		c.emit(IDictLoad(e.Rg, uint16(len(e.Keys))))
		return nil
	case *FuncLit:
		return c.compileFuncLitSelfBound(e, -1)
	case *UnaryExpr:
		if err := c.compileExpr(e.X); err != nil {
			return err
		}
		if e.Op == "not" {
			c.emit(INot(e.Rg))
		} else {
			c.emit(INegate(e.Rg))
		}
		return nil
	case *OfExpr:
		if err := c.compileExpr(e.X); err != nil {
			return err
		}
		if err := c.compileExpr(e.Proto); err != nil {
			return err
		}
		c.emit(IOf(e.Rg))
		return nil
	case *BinaryExpr:
		return c.compileBinary(e)
	case *TernaryExpr:
		return c.compileTernaryExpr(e)
	case *AssignExpr:
		return c.compileAssign(e)
	case *CompoundAssignExpr:
		return c.compileCompoundAssign(e)
	case *CallExpr:
		return c.compileCallLike(e, false)
	case *MemberExpr:
		return c.compileMemberGet(e, false)
	case *IndexExpr:
		if err := c.compileExpr(e.X); err != nil {
			return err
		}
		if err := c.compileExpr(e.Index); err != nil {
			return err
		}
		c.emit(IIndexGet(e.Rg))
		return nil
	default:
		return c.errorf(n, "unhandled expression %T", n)
	}
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// pushInt chooses the smallest Push variant that can hold v, per
// §4.2.
func (c *Compiler) pushInt(sl Range, v int64) {
	switch {
	case v >= -128 && v <= 127:
		c.emit(IPush8{base_{sl}, int8(v)})
	case v >= -32768 && v <= 32767:
		c.emit(IPush16{base_{sl}, int16(v)})
	case v >= -2147483648 && v <= 2147483647:
		c.emit(IPush32{base_{sl}, int32(v)})
	default:
		c.emit(IPush64{base_{sl}, v})
	}
}

// pushStringLiteral implements §4.2's literal emission rule: an
// interned id when the table accepts the string, otherwise the raw
// bytes inline.
func (c *Compiler) pushStringLiteral(sl Range, s string) {
	if c.prog.Interns.Eligible(s) {
		id := c.prog.Interns.GetOrInsert(s)
		c.emit(IPushStrInterned{base_{sl}, id})
		return
	}
	c.emit(IPushStr{base_{sl}, s})
}

// compileIdentLoad resolves a name against the lexical function-scope
// stack; names that aren't found, and names starting with `$` (the
// reserved global sigil), always resolve to a global.
func (c *Compiler) compileIdentLoad(e *Ident) error {
	if len(e.Name) > 0 && e.Name[0] == '$' {
		id := c.prog.NameID(e.Name)
		c.emit(IGetGlobal(e.Rg, id))
		return nil
	}
	slot, depth, found := c.resolveVar(e.Name)
	if !found {
		id := c.prog.NameID(e.Name)
		c.emit(IGetGlobal(e.Rg, id))
		return nil
	}
	if depth == 0 {
		c.emit(IGetLocal(e.Rg, uint16(slot)))
		return nil
	}
	c.emit(IGetLocalUp{base_{e.Rg}, uint16(slot), uint16(depth)})
	return nil
}

var binOpcodes = map[string]func(Range) Instruction{
	"+": IAdd, "-": ISub, "*": IMul, "/": IDiv, "%": IMod,
	"&": IBitwiseAnd, "|": IBitwiseOr,
	"<": ILt, "<=": ILEq, ">": IGt, ">=": IGEq, "==": IEq, "!=": INEq,
}

func (c *Compiler) compileBinary(e *BinaryExpr) error {
	switch e.Op {
	case "and":
		if err := c.compileExpr(e.L); err != nil {
			return err
		}
		end := NewLabel()
		c.emit(IJNcondNoPop(e.Rg, end))
		c.emit(IPop{base_{e.Rg}})
		if err := c.compileExpr(e.R); err != nil {
			return err
		}
		c.emit(end)
		return nil
	case "or":
		if err := c.compileExpr(e.L); err != nil {
			return err
		}
		end := NewLabel()
		c.emit(IJCondNoPop(e.Rg, end))
		c.emit(IPop{base_{e.Rg}})
		if err := c.compileExpr(e.R); err != nil {
			return err
		}
		c.emit(end)
		return nil
	case "xor":
		if err := c.compileExpr(e.L); err != nil {
			return err
		}
		if err := c.compileExpr(e.R); err != nil {
			return err
		}
		c.emit(IBitwiseXor(e.Rg))
		return nil
	}
	if err := c.compileExpr(e.L); err != nil {
		return err
	}
	if err := c.compileExpr(e.R); err != nil {
		return err
	}
	ctor, ok := binOpcodes[e.Op]
	if !ok {
		return c.errorf(e, "unknown operator %s", e.Op)
	}
	c.emit(ctor(e.Rg))
	return nil
}

func (c *Compiler) compileTernaryExpr(e *TernaryExpr) error {
	if err := c.compileExpr(e.Cond); err != nil {
		return err
	}
	elseLabel := NewLabel()
	endLabel := NewLabel()
	c.emit(IJNcond(e.Rg, elseLabel))
	if err := c.compileExpr(e.Then); err != nil {
		return err
	}
	c.emit(IJmp{base_{e.Rg}, endLabel})
	c.emit(elseLabel)
	if err := c.compileExpr(e.Else); err != nil {
		return err
	}
	c.emit(endLabel)
	return nil
}

// compileAssign special-cases `name = func ... end` when name appears
// inside its own body, triggering SetLocalFunctionDef so the function
// can see itself through its own captured parent environment (§4.2's
// recursive self-binding rule).
func (c *Compiler) compileAssign(e *AssignExpr) error {
	if lit, ok := e.Value.(*FuncLit); ok {
		if id, ok := e.Target.(*Ident); ok && isSelfRecursive(id, lit) {
			slot := c.declareLocal(id.Name)
			return c.compileFuncLitSelfBound(lit, slot)
		}
	}
	switch t := e.Target.(type) {
	case *MemberExpr:
		if err := c.compileExpr(t.X); err != nil {
			return err
		}
		if err := c.compileExpr(e.Value); err != nil {
			return err
		}
		id := c.prog.NameID(t.Name)
		c.emit(IMemberSet(e.Rg, id))
		return nil
	case *IndexExpr:
		if err := c.compileExpr(t.X); err != nil {
			return err
		}
		if err := c.compileExpr(t.Index); err != nil {
			return err
		}
		if err := c.compileExpr(e.Value); err != nil {
			return err
		}
		c.emit(IIndexSet(e.Rg))
		return nil
	}
	if err := c.compileExpr(e.Value); err != nil {
		return err
	}
	return c.compileStoreTo(e.Target, e.Rg)
}

// isSelfRecursive reports whether lit's body references id's name,
// the trigger for SetLocalFunctionDef per §4.2.
func isSelfRecursive(id *Ident, lit *FuncLit) bool {
	found := false
	var walk func(Node)
	walk = func(n Node) {
		if found || n == nil {
			return
		}
		if ref, ok := n.(*Ident); ok && ref.Name == id.Name {
			found = true
			return
		}
		walkChildren(n, walk)
	}
	for _, s := range lit.Body {
		walk(s)
	}
	return found
}

func (c *Compiler) compileStoreTo(target Node, sl Range) error {
	switch t := target.(type) {
	case *Ident:
		if len(t.Name) > 0 && t.Name[0] == '$' {
			id := c.prog.NameID(t.Name)
			c.emit(ISetGlobal(sl, id))
			return nil
		}
		slot, depth, found := c.resolveVar(t.Name)
		if !found {
			slot = c.declareLocal(t.Name)
			c.emit(ISetLocal(sl, uint16(slot)))
			return nil
		}
		if depth == 0 {
			c.emit(ISetLocal(sl, uint16(slot)))
			return nil
		}
		// Found in an enclosing function: there's no SetLocalUp, so
		// assignment can't mutate the captured upvalue in place.
		// Instead it shadows the name with a fresh local in the
		// current function, same as a first assignment to a brand
		// new name would. Grounded on compiler.rs's emit_set_var,
		// which re-declares via set_local whenever relascope != 0
		// rather than writing through to the outer scope.
		slot = c.declareLocal(t.Name)
		c.emit(ISetLocal(sl, uint16(slot)))
		return nil
	case *MemberExpr:
		if err := c.compileExpr(t.X); err != nil {
			return err
		}
		id := c.prog.NameID(t.Name)
		c.emit(ISwap{base_{sl}})
		c.emit(IMemberSet(sl, id))
		return nil
	case *IndexExpr:
		if err := c.compileExpr(t.X); err != nil {
			return err
		}
		if err := c.compileExpr(t.Index); err != nil {
			return err
		}
		c.emit(ISwap{base_{sl}})
		c.emit(IIndexSet(sl))
		return nil
	default:
		return c.errorf(target, "invalid assignment target")
	}
}

// compileCompoundAssign implements the `...GetNoPop` re-load pattern
// from §4.2: the current value is loaded without popping its
// container/index/receiver off the stack, so the store afterwards
// still has what it needs underneath the computed result.
func (c *Compiler) compileCompoundAssign(e *CompoundAssignExpr) error {
	ctor, ok := binOpcodes[e.Op]
	if !ok {
		return c.errorf(e, "invalid compound-assignment operator %s", e.Op)
	}
	switch t := e.Target.(type) {
	case *Ident:
		if err := c.compileIdentLoad(t); err != nil {
			return err
		}
		if err := c.compileExpr(e.Value); err != nil {
			return err
		}
		c.emit(ctor(e.Rg))
		return c.compileStoreTo(t, e.Rg)
	case *MemberExpr:
		if err := c.compileExpr(t.X); err != nil {
			return err
		}
		id := c.prog.NameID(t.Name)
		c.emit(IMemberGetNoPop(e.Rg, id))
		if err := c.compileExpr(e.Value); err != nil {
			return err
		}
		c.emit(ctor(e.Rg))
		c.emit(IMemberSet(e.Rg, id))
		return nil
	case *IndexExpr:
		if err := c.compileExpr(t.X); err != nil {
			return err
		}
		if err := c.compileExpr(t.Index); err != nil {
			return err
		}
		c.emit(IIndexGetNoPop(e.Rg))
		if err := c.compileExpr(e.Value); err != nil {
			return err
		}
		c.emit(ctor(e.Rg))
		c.emit(IIndexSet(e.Rg))
		return nil
	default:
		return c.errorf(e, "invalid compound-assignment target")
	}
}

func (c *Compiler) compileMemberGet(e *MemberExpr, noPop bool) error {
	if err := c.compileExpr(e.X); err != nil {
		return err
	}
	id := c.prog.NameID(e.Name)
	if noPop {
		c.emit(IMemberGetNoPop(e.Rg, id))
	} else {
		c.emit(IMemberGet(e.Rg, id))
	}
	return nil
}

// compileCallLike emits a call site. `x.name(args)` is a method call
// (the receiver is passed as the implicit first argument, grounded on
// ast.rs's CallExpr::_emit special-casing a MemExpr callee into
// MethodCall mode); `x::name(args)` is a plain namespaced lookup with
// no implicit receiver, per MemberExpr.Namespace. Everything else
// compiles its callee expression directly.
func (c *Compiler) compileCallLike(e *CallExpr, tail bool) error {
	argc := len(e.Args)

	if member, ok := e.Callee.(*MemberExpr); ok && !member.Namespace {
		// Stack ends up [method, receiver, arg1, ..., argN]: method
		// stays beneath every argument, matching doCall's
		// callee-beneath-args convention, with the receiver as the
		// native function's own first argument.
		if err := c.compileExpr(member.X); err != nil {
			return err
		}
		id := c.prog.NameID(member.Name)
		c.emit(IMemberGetNoPop(e.Rg, id))
		c.emit(ISwap{base_{e.Rg}})
		for _, a := range e.Args {
			if err := c.compileExpr(a); err != nil {
				return err
			}
		}
		argc++
	} else {
		if err := c.compileExpr(e.Callee); err != nil {
			return err
		}
		for _, a := range e.Args {
			if err := c.compileExpr(a); err != nil {
				return err
			}
		}
	}

	if tail && c.cfg.GetBool("compiler.tail_calls") {
		c.emit(IRetCall(e.Rg, uint16(argc)))
	} else {
		c.emit(ICall(e.Rg, uint16(argc)))
		if tail {
			c.emit(IRet(e.Rg))
		}
	}
	return nil
}

// compileFuncLitSelfBound emits DefFunctionPush<nargs,end>, an
// EnvNew sized to the function's final slot count spliced at the
// front of its body, the body itself, and a default PushNil;Ret
// terminator, per §4.2. When selfSlot >= 0 it additionally emits
// SetLocalFunctionDef instead of SetLocal for the binding slot, so a
// recursive function can see itself through its own captured parent
// environment.
func (c *Compiler) compileFuncLitSelfBound(lit *FuncLit, selfSlot int) error {
	end := NewLabel()
	c.emit(IDefFunctionPush{base_{lit.Rg}, uint16(len(lit.Params)), end})

	c.pushFunc()
	for _, p := range lit.Params {
		c.declareLocal(p)
	}
	bodyStart := len(c.instrs)
	bodyStartPC := c.pc
	for _, s := range lit.Body {
		if err := c.compileStmt(s); err != nil {
			return err
		}
	}
	if !endsInReturn(lit.Body) {
		c.emit(IPushNil{base_{lit.Rg}})
		c.emit(IRet(lit.Rg))
	}
	slotCount := c.curFunc().nextSlot
	c.popFunc()

	c.spliceEnvNewBeforeBody(bodyStart, bodyStartPC, IEnvNew(lit.Rg, uint16(slotCount)))
	c.emit(end)
	if selfSlot >= 0 {
		c.emit(ISetLocalFunctionDef(lit.Rg, uint16(selfSlot)))
	}
	return nil
}

// spliceEnvNewBeforeBody inserts envNew at bodyStart, since the
// compiler only learns a function's total slot count after compiling
// its whole body, but EnvNew must run before the body reads any
// local. bodyStartPC is the byte pc the compiler had already reached
// at that same point; every source-map entry recorded since (i.e. the
// whole body just compiled) needs its range shifted by envNew's size,
// and c.pc itself needs the same shift so instructions emitted after
// the splice keep recording correct ranges.
func (c *Compiler) spliceEnvNewBeforeBody(bodyStart, bodyStartPC int, envNew Instruction) {
	c.instrs = append(c.instrs, nil)
	copy(c.instrs[bodyStart+1:], c.instrs[bodyStart:len(c.instrs)-1])
	c.instrs[bodyStart] = envNew

	delta := envNew.Size()
	for i := range c.sm {
		if c.sm[i].Bytecode.Start >= bodyStartPC {
			c.sm[i].Bytecode.Start += delta
			c.sm[i].Bytecode.End += delta
		}
	}
	c.pc += delta
}

func endsInReturn(body []Node) bool {
	if len(body) == 0 {
		return false
	}
	_, ok := body[len(body)-1].(*ReturnStmt)
	return ok
}

// walkChildren visits the immediate child expression/statement nodes
// of n, used only by isSelfRecursive's reference scan.
func walkChildren(n Node, visit func(Node)) {
	switch t := n.(type) {
	case *BeginStmt:
		for _, s := range t.Stmts {
			visit(s)
		}
	case *IfStmt:
		visit(t.Cond)
		visit(t.Then)
		if t.Else != nil {
			visit(t.Else)
		}
	case *WhileStmt:
		visit(t.Cond)
		visit(t.Body)
	case *ForInStmt:
		visit(t.Iterable)
		visit(t.Body)
	case *ReturnStmt:
		if t.HasValue {
			visit(t.X)
		}
	case *ExprStmt:
		visit(t.X)
	case *RaiseStmt:
		visit(t.X)
	case *CallExpr:
		visit(t.Callee)
		for _, a := range t.Args {
			visit(a)
		}
	case *BinaryExpr:
		visit(t.L)
		visit(t.R)
	case *UnaryExpr:
		visit(t.X)
	case *TernaryExpr:
		visit(t.Cond)
		visit(t.Then)
		visit(t.Else)
	case *AssignExpr:
		visit(t.Value)
	case *CompoundAssignExpr:
		visit(t.Value)
	case *MemberExpr:
		visit(t.X)
	case *IndexExpr:
		visit(t.X)
		visit(t.Index)
	case *OfExpr:
		visit(t.X)
		visit(t.Proto)
	case *ArrayLit:
		for _, e := range t.Elems {
			visit(e)
		}
	}
}
