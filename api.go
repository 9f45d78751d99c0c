package hana

import (
	"fmt"
	"os"
	"path/filepath"
)

// CompileSource parses and compiles src into a ready-to-run Program.
// file is used for error messages and as the base directory `use`
// resolves relative imports against.
func CompileSource(src, file string, cfg *Config) (*Program, error) {
	if cfg == nil {
		cfg = NewConfig()
	}

	chunk, err := Parse(src, file)
	if err != nil {
		return nil, err
	}

	interns := NewInternTable()
	prog := NewProgram(file, interns)

	li := NewLineIndex([]byte(src))
	fileID := prog.registerFile(file, li)
	instrs, sm, err := Compile(prog, chunk, cfg, li, fileID)
	if err != nil {
		return nil, err
	}

	code, err := Assemble(instrs)
	if err != nil {
		return nil, err
	}
	prog.Code = code
	prog.mergeSourceMap(sm, 0)

	return prog, nil
}

// NewVMFor builds a VM around prog, ready to run: the call stack's
// pending bottom frame is primed so the very first EnvNew the
// top-level chunk emits has somewhere to read its argument count
// from. Nothing beyond the core itself is registered — §1 scopes the
// actual standard library out as an external collaborator; callers
// (cmd/hana, tests) wire native globals
// onto the returned VM themselves before calling Run.
func NewVMFor(prog *Program, cfg *Config, file string) *VM {
	if cfg == nil {
		cfg = NewConfig()
	}
	vm := NewVM(prog, cfg)
	vm.baseDir = filepath.Dir(file)
	vm.pending = &pendingFrame{nargs: 0, parent: nil, retip: retIPHost}
	return vm
}

// Run compiles src and builds a VM ready to execute it; it does not
// run the VM itself, since the caller needs the chance to register
// native globals (print, array/string helpers, ...) first. Typical
// use: vm, err := hana.Run(...); hanalib.Register(vm); err = vm.Run().
func Run(src, file string, cfg *Config) (*VM, error) {
	prog, err := CompileSource(src, file, cfg)
	if err != nil {
		return nil, err
	}
	return NewVMFor(prog, cfg, file), nil
}

// RunFile reads path and behaves like Run.
func RunFile(path string, cfg *Config) (*VM, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := validateUTF8(data, path); err != nil {
		return nil, err
	}
	return Run(string(data), path, cfg)
}

// NewREPLVM builds a VM with an empty program, ready to have
// successive lines fed to it through Eval (the bare `bufio.Scanner`
// REPL, §6): each Eval call shares the same globals and prototypes,
// so globals (`$`-prefixed names and registered natives) set on one
// line are visible on the next. Each line compiles as its own chunk,
// so a plain top-level name assigned or declared there (`x = 1`,
// `func f() ... end`, `record R end`) is a local of that chunk and is
// not visible on later lines. As with Run,
// the caller registers native globals before the first Eval.
func NewREPLVM(cfg *Config) *VM {
	if cfg == nil {
		cfg = NewConfig()
	}
	interns := NewInternTable()
	prog := NewProgram("<repl>", interns)
	vm := NewVM(prog, cfg)
	vm.baseDir = "."
	return vm
}

// Backtrace renders a best-effort call stack, innermost first: each
// active frame's return instruction pointer, since the compiler does
// not yet stamp frames with a source symbol name (§7 calls this out
// as "if the compiler recorded one").
func (vm *VM) Backtrace() []string {
	out := make([]string, 0, len(vm.frames))
	for i := len(vm.frames) - 1; i >= 0; i-- {
		env := vm.frames[i].body.(*Env)
		if env.retip == retIPHost {
			out = append(out, "<host>")
			continue
		}
		out = append(out, fmt.Sprintf("ip=%d", env.retip))
	}
	return out
}
