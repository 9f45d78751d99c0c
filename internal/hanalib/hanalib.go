// Package hanalib is hana's native standard library: print/input/exit,
// array map/filter/reduce and friends, and string iteration helpers.
// It is an external collaborator per spec.md §1's scope cut — the core
// (package hana) never imports it; cmd/hana and tests wire it onto a
// VM explicitly with Register before running anything, the way the
// original's hanayo crate sits beside harumachine rather than inside
// it.
package hanalib

import (
	"bufio"
	"fmt"
	"os"

	"github.com/clarete/hana"
)

// Register installs every native global and prototype method this
// package provides onto vm: print/input/exit, the well-known error
// prototypes (§7), and Array/Str methods.
func Register(vm *hana.VM) {
	vm.Stdout = func(s string) { fmt.Print(s) }

	registerErrors(vm)
	registerIO(vm)
	registerArray(vm)
	registerString(vm)
}

// ---- errors (§7: "a raisable Record whose prototype is one of the
// well-known error records") ----

var (
	invalidArgumentProto *hana.Record
	ioProto              *hana.Record
	utf8Proto            *hana.Record
)

func registerErrors(vm *hana.VM) {
	invalidArgumentValue, invalidArgumentProto2 := vm.NewRec()
	ioValue, ioProto2 := vm.NewRec()
	utf8Value, utf8Proto2 := vm.NewRec()

	invalidArgumentProto = invalidArgumentProto2
	ioProto = ioProto2
	utf8Proto = utf8Proto2

	vm.SetGlobal("InvalidArgumentError", invalidArgumentValue)
	vm.SetGlobal("IOError", ioValue)
	vm.SetGlobal("Utf8DecodingError", utf8Value)
}

func raiseInvalidArgument(vm *hana.VM, message string) bool {
	return vm.Raise(vm.NewError(invalidArgumentProto, message))
}

// ---- io ----

var stdinReader = bufio.NewReader(os.Stdin)

func registerIO(vm *hana.VM) {
	// print writes every argument's string form with no separator and
	// no trailing newline, then returns nil — matching hanayo::io::print
	// (pop nargs values off the stack, std::print! each, flush).
	vm.Register("print", func(vm *hana.VM, argc int) {
		args := vm.PopArgs(argc)
		for _, a := range args {
			vm.Stdout(a.String())
		}
		vm.Return(hana.Nil)
	})

	vm.Register("input", func(vm *hana.VM, argc int) {
		vm.PopArgs(argc)
		line, err := stdinReader.ReadString('\n')
		if err != nil && line == "" {
			vm.Return(vm.NewStr(""))
			return
		}
		for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
			line = line[:len(line)-1]
		}
		vm.Return(vm.NewStr(line))
	})

	// eval compiles and runs s inline, returning whatever its last bare
	// expression statement evaluates to (Nil if it has none or the
	// compile/run fails) — matching hanayo::eval's "compile, jump in,
	// run to completion" shape, but surfacing the value like vm.Eval's
	// Go-level contract rather than a bare success/failure bool.
	vm.Register("eval", func(vm *hana.VM, argc int) {
		args := vm.PopArgs(argc)
		src := args[0].AsStr().String()
		result, err := vm.Eval(src)
		if err != nil {
			vm.Return(hana.Nil)
			return
		}
		vm.Return(result)
	})

	vm.Register("exit", func(vm *hana.VM, argc int) {
		args := vm.PopArgs(argc)
		code := 0
		if len(args) == 1 && args[0].Kind() == hana.KInt {
			code = int(args[0].AsInt())
		}
		os.Exit(code)
	})
}

// ---- array ----

func registerArray(vm *hana.VM) {
	vm.RegisterMethod(hana.KArray, "length", func(vm *hana.VM, argc int) {
		self := vm.PopArgs(argc)[0]
		vm.Return(hana.IntValue(int64(self.AsArray().Len())))
	})

	vm.RegisterMethod(hana.KArray, "push", func(vm *hana.VM, argc int) {
		args := vm.PopArgs(argc)
		args[0].AsArray().Append(args[1])
		vm.Return(hana.Nil)
	})

	vm.RegisterMethod(hana.KArray, "pop", func(vm *hana.VM, argc int) {
		self := vm.PopArgs(argc)[0]
		arr := self.AsArray()
		if arr.Len() == 0 {
			raiseInvalidArgument(vm, "pop on empty array")
			return
		}
		vm.Return(arr.Pop())
	})

	vm.RegisterMethod(hana.KArray, "index", func(vm *hana.VM, argc int) {
		args := vm.PopArgs(argc)
		arr, needle := args[0].AsArray(), args[1]
		for i := 0; i < arr.Len(); i++ {
			if arr.Get(i).Equals(needle) {
				vm.Return(hana.IntValue(int64(i)))
				return
			}
		}
		vm.Return(hana.IntValue(-1))
	})

	vm.RegisterMethod(hana.KArray, "join", func(vm *hana.VM, argc int) {
		args := vm.PopArgs(argc)
		arr, delim := args[0].AsArray(), args[1].AsStr().String()
		s := ""
		for i := 0; i < arr.Len(); i++ {
			if i > 0 {
				s += delim
			}
			s += arr.Get(i).String()
		}
		vm.Return(vm.NewStr(s))
	})

	// map/filter/reduce re-enter the VM via CallValue for every
	// element, grounded on hanayo::array::{map,filter,reduce}'s use of
	// vm.call; a failed callback (raised exception) aborts the whole
	// operation instead of silently skipping the element.
	vm.RegisterMethod(hana.KArray, "map", func(vm *hana.VM, argc int) {
		args := vm.PopArgs(argc)
		arr, fn := args[0].AsArray(), args[1]
		out := make([]hana.Value, 0, arr.Len())
		for i := 0; i < arr.Len(); i++ {
			v, err := vm.CallValue(fn, []hana.Value{arr.Get(i)})
			if err != nil {
				return
			}
			out = append(out, v)
		}
		vm.Return(vm.NewArr(out))
	})

	vm.RegisterMethod(hana.KArray, "filter", func(vm *hana.VM, argc int) {
		args := vm.PopArgs(argc)
		arr, fn := args[0].AsArray(), args[1]
		out := make([]hana.Value, 0, arr.Len())
		for i := 0; i < arr.Len(); i++ {
			v, err := vm.CallValue(fn, []hana.Value{arr.Get(i)})
			if err != nil {
				return
			}
			if v.Truthy() {
				out = append(out, arr.Get(i))
			}
		}
		vm.Return(vm.NewArr(out))
	})

	vm.RegisterMethod(hana.KArray, "reduce", func(vm *hana.VM, argc int) {
		args := vm.PopArgs(argc)
		arr, fn, acc := args[0].AsArray(), args[1], args[2]
		for i := 0; i < arr.Len(); i++ {
			v, err := vm.CallValue(fn, []hana.Value{acc, arr.Get(i)})
			if err != nil {
				return
			}
			acc = v
		}
		vm.Return(acc)
	})
}

// ---- string ----

func registerString(vm *hana.VM) {
	vm.RegisterMethod(hana.KStr, "length", func(vm *hana.VM, argc int) {
		self := vm.PopArgs(argc)[0]
		vm.Return(hana.IntValue(int64(len(hana.Graphemes(self.AsStr().String())))))
	})

	vm.RegisterMethod(hana.KStr, "bytesize", func(vm *hana.VM, argc int) {
		self := vm.PopArgs(argc)[0]
		vm.Return(hana.IntValue(int64(self.AsStr().Len())))
	})

	vm.RegisterMethod(hana.KStr, "startswith", func(vm *hana.VM, argc int) {
		args := vm.PopArgs(argc)
		s, prefix := args[0].AsStr().String(), args[1].AsStr().String()
		vm.Return(hana.BoolValue(len(s) >= len(prefix) && s[:len(prefix)] == prefix))
	})

	vm.RegisterMethod(hana.KStr, "endswith", func(vm *hana.VM, argc int) {
		args := vm.PopArgs(argc)
		s, suffix := args[0].AsStr().String(), args[1].AsStr().String()
		vm.Return(hana.BoolValue(len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix))
	})

	vm.RegisterMethod(hana.KStr, "split", func(vm *hana.VM, argc int) {
		args := vm.PopArgs(argc)
		s, sep := args[0].AsStr().String(), args[1].AsStr().String()
		parts := splitString(s, sep)
		items := make([]hana.Value, len(parts))
		for i, p := range parts {
			items[i] = vm.NewStr(p)
		}
		vm.Return(vm.NewArr(items))
	})
}

func splitString(s, sep string) []string {
	if sep == "" {
		return hana.Graphemes(s)
	}
	var out []string
	for {
		i := indexOf(s, sep)
		if i < 0 {
			out = append(out, s)
			return out
		}
		out = append(out, s[:i])
		s = s[i+len(sep):]
	}
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
