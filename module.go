package hana

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/encoding/unicode"
)

// validateUTF8 rejects module/source files that aren't valid UTF-8,
// surfaced to the host as Utf8DecodingError (§7) rather than letting
// the parser fail on a confusing byte later.
func validateUTF8(data []byte, path string) error {
	decoded, err := unicode.UTF8.NewDecoder().Bytes(data)
	if err != nil || !bytes.Equal(decoded, data) {
		return Utf8DecodingError{Path: path}
	}
	return nil
}

// resolveModulePath turns a `use` path into a filesystem path to
// read, per §5's three-way rule: `./x` is resolved relative to the
// importing file's directory, `/x` is an absolute path, and a bare
// name is searched for across HANA_PATH's colon-separated entries.
// A path with no extension gets `.hana` appended once a candidate
// location is chosen.
func (vm *VM) resolveModulePath(path string) (string, bool) {
	withExt := func(p string) string {
		if filepath.Ext(p) == "" {
			return p + ".hana"
		}
		return p
	}

	switch {
	case strings.HasPrefix(path, "./") || strings.HasPrefix(path, "../"):
		dir := vm.baseDir
		if dir == "" {
			dir = "."
		}
		p := withExt(filepath.Join(dir, path))
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
		return "", false

	case strings.HasPrefix(path, "/"):
		p := withExt(path)
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
		return "", false

	default:
		search := os.Getenv("HANA_PATH")
		if search == "" {
			return "", false
		}
		for _, dir := range strings.Split(search, ":") {
			p := withExt(filepath.Join(dir, path))
			if _, err := os.Stat(p); err == nil {
				return p, true
			}
		}
		return "", false
	}
}

// compileModuleChunk compiles chunk as a module body sharing prog's
// name/intern tables, the same way Compile does for a standalone
// chunk's top level, but without the trailing Halt: a module's code
// is spliced into the running program and falls through to a raw
// jump back to the `use` site, not a halt.
func compileModuleChunk(prog *Program, chunk *Chunk, cfg *Config, li *LineIndex, fileID int) ([]Instruction, []SourceMapEntry, error) {
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
	return c.instrs, c.sm, nil
}

// compileEvalChunk is compileModuleChunk's counterpart for Eval: every
// statement but the last compiles and pops as usual, but if the last
// statement is a bare expression statement, its value is left on the
// stack instead of popped, so Eval's caller (a script's own `eval`, or
// the REPL) gets the expression's value back. Grounded on
// original_source/src/main.rs's `gencode` closure, which special-cases
// exactly this in its REPL driver.
func compileEvalChunk(prog *Program, chunk *Chunk, cfg *Config, li *LineIndex, fileID int) ([]Instruction, []SourceMapEntry, error) {
	c := NewCompiler(prog, cfg, li, fileID)
	c.pushFunc()
	bodyStart := len(c.instrs)
	bodyStartPC := c.pc

	for i, s := range chunk.Stmts {
		if i == len(chunk.Stmts)-1 {
			if last, ok := s.(*ExprStmt); ok {
				if err := c.compileExpr(last.X); err != nil {
					return nil, nil, err
				}
				break
			}
		}
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

// doUse implements the `use` statement (§5): resolve path, load and
// compile the module once (repeat imports of an already-loaded path
// are a no-op, per §8 invariant), append its bytecode after whatever
// has run so far, and continue dispatch there; the appended code ends
// with a raw absolute jump back to the instruction right after this
// `use`, which is already sitting in vm.ip by the time doUse runs.
func (vm *VM) doUse(path string, opStart int) bool {
	returnIP := vm.ip

	resolved, ok := vm.resolveModulePath(path)
	if !ok {
		vm.fail(ErrModuleNotFound, opStart)
		return false
	}
	if vm.loadedModules[resolved] {
		return true
	}
	vm.loadedModules[resolved] = true

	data, err := os.ReadFile(resolved)
	if err != nil {
		vm.fail(ErrModuleNotFound, opStart)
		return false
	}
	if uerr := validateUTF8(data, resolved); uerr != nil {
		vm.fail(ErrModuleNotFound, opStart)
		return false
	}

	chunk, perr := Parse(string(data), resolved)
	if perr != nil {
		vm.fail(ErrModuleNotFound, opStart)
		return false
	}

	li := NewLineIndex(data)
	fileID := vm.prog.registerFile(resolved, li)
	instrs, sm, cerr := compileModuleChunk(vm.prog, chunk, vm.cfg, li, fileID)
	if cerr != nil {
		vm.fail(ErrModuleNotFound, opStart)
		return false
	}

	base := uint32(len(vm.prog.Code))
	moduleBytes, aerr := AssembleAt(instrs, base)
	if aerr != nil {
		vm.fail(ErrModuleNotFound, opStart)
		return false
	}

	jumpBack := make([]byte, 5)
	jumpBack[0] = byte(OpJmpLong)
	binary.BigEndian.PutUint32(jumpBack[1:], uint32(returnIP))
	moduleBytes = append(moduleBytes, jumpBack...)

	vm.prog.mergeSourceMap(sm, int(base))
	vm.prog.Code = append(vm.prog.Code, moduleBytes...)
	vm.code = vm.prog.Code
	vm.ip = int(base)
	return true
}

// Eval compiles and runs src as if it were `use`d inline at the
// current position, returning whatever its last top-level expression
// statement leaves as a value. It snapshots and restores the stack,
// call frames, and exception state the way new_exec_ctx/
// restore_exec_ctx do in the original, so a script's own `eval` can't
// corrupt the caller's running state.
func (vm *VM) Eval(src string) (Value, error) {
	savedStack := vm.stack
	savedFrames := vm.frames
	savedExframes := vm.exframes
	savedFallthrough := vm.exframeFallthrough
	savedNativeDepth := vm.nativeCallDepth
	savedIP := vm.ip
	savedCode := vm.code

	for _, f := range savedFrames {
		retain(f)
	}
	for _, v := range savedStack {
		retain(v.node())
	}

	vm.stack = nil
	vm.frames = nil
	vm.exframes = nil
	vm.exframeFallthrough = nil

	chunk, perr := Parse(src, "<eval>")
	if perr != nil {
		vm.restoreEvalCtx(savedStack, savedFrames, savedExframes, savedFallthrough, savedNativeDepth, savedIP, savedCode)
		return Nil, perr
	}
	li := NewLineIndex([]byte(src))
	fileID := vm.prog.registerFile("<eval>", li)
	instrs, sm, cerr := compileEvalChunk(vm.prog, chunk, vm.cfg, li, fileID)
	if cerr != nil {
		vm.restoreEvalCtx(savedStack, savedFrames, savedExframes, savedFallthrough, savedNativeDepth, savedIP, savedCode)
		return Nil, cerr
	}

	base := uint32(len(vm.prog.Code))
	evalBytes, aerr := AssembleAt(instrs, base)
	if aerr != nil {
		vm.restoreEvalCtx(savedStack, savedFrames, savedExframes, savedFallthrough, savedNativeDepth, savedIP, savedCode)
		return Nil, aerr
	}
	vm.prog.mergeSourceMap(sm, int(base))
	vm.prog.Code = append(vm.prog.Code, evalBytes...)
	vm.code = vm.prog.Code
	vm.ip = int(base)

	runErr := vm.execute(-1)

	var result Value
	if len(vm.stack) > 0 {
		result = vm.top()
	} else {
		result = Nil
	}

	vm.restoreEvalCtx(savedStack, savedFrames, savedExframes, savedFallthrough, savedNativeDepth, savedIP, savedCode)
	return result, runErr
}

// restoreEvalCtx swaps the saved pre-eval state back in and releases
// the native-ref pin Eval took out on it, balancing the retain calls
// Eval made before clearing vm.stack/vm.frames for the nested run.
// Eval's own transient stack/frames (whatever is in vm.stack/vm.frames
// at call time, i.e. the eval script's leftovers) need no explicit
// release: once they're no longer reachable from any root, the next
// GC cycle reclaims them on its own.
func (vm *VM) restoreEvalCtx(stack []Value, frames []*gcNode, exframes []*ExFrame, fallthrough_ *ExFrame, nativeDepth int, ip int, code []byte) {
	vm.stack = stack
	vm.frames = frames
	vm.exframes = exframes
	vm.exframeFallthrough = fallthrough_
	vm.nativeCallDepth = nativeDepth
	vm.ip = ip
	vm.code = code

	for _, v := range vm.stack {
		release(v.node())
	}
	for _, f := range vm.frames {
		release(f)
	}
}
