// Command hana runs hana scripts: compile and execute a file, a `-c`
// string, or a bare REPL when neither is given (§6).
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/clarete/hana"
	"github.com/clarete/hana/internal/hanalib"
	"github.com/spf13/cobra"
)

var (
	cmdSource     string
	bytecodeInput bool
	dumpBytecode  bool
	printAST      bool
)

func main() {
	root := &cobra.Command{
		Use:     "hana [filename]",
		Short:   "Run hana scripts",
		Version: "0.1.0",
		Args:    cobra.MaximumNArgs(1),
		RunE:    run,
	}

	root.Flags().StringVarP(&cmdSource, "cmd", "c", "", "execute the given source string instead of a file")
	root.Flags().BoolVarP(&bytecodeInput, "bytecode", "b", false, "treat the input file as raw bytecode")
	root.Flags().BoolVarP(&dumpBytecode, "dump-bytecode", "d", false, "emit compiled bytecode to stdout instead of executing")
	root.Flags().BoolVarP(&printAST, "print-ast", "p", false, "print the AST and stop")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	var (
		filename string
		hasFile  bool
	)
	if len(args) == 1 {
		filename = args[0]
		hasFile = true
	}

	switch {
	case cmdSource != "":
		runSource(cmdSource, "<cmd>")
	case hasFile:
		runFileArg(filename)
	default:
		repl()
	}
	return nil
}

func runFileArg(filename string) {
	var (
		data []byte
		err  error
	)
	if filename == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(filename)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "interpreter error: %s\n", err)
		os.Exit(1)
	}

	if bytecodeInput {
		prog, lerr := hana.LoadBytecode(data, filename)
		if lerr != nil {
			fmt.Fprintf(os.Stderr, "interpreter error: %s\n", lerr)
			os.Exit(1)
		}
		runBytecode(prog)
		return
	}

	runSource(string(data), filename)
}

func runSource(src, file string) {
	cfg := hana.NewConfig()

	if printAST {
		chunk, err := hana.Parse(src, file)
		if err != nil {
			reportErr(err)
			os.Exit(1)
		}
		fmt.Print(hana.DumpAST(chunk))
		return
	}

	if dumpBytecode {
		prog, err := hana.CompileSource(src, file, cfg)
		if err != nil {
			reportErr(err)
			os.Exit(1)
		}
		os.Stdout.Write(prog.Dump())
		return
	}

	vm, err := hana.Run(src, file, cfg)
	if err != nil {
		reportErr(err)
		os.Exit(1)
	}
	hanalib.Register(vm)
	if err := vm.Run(); err != nil {
		reportErr(err)
		reportBacktrace(vm)
	}
}

func runBytecode(prog *hana.Program) {
	cfg := hana.NewConfig()
	vm := hana.NewVMFor(prog, cfg, prog.File)
	hanalib.Register(vm)
	if err := vm.Run(); err != nil {
		reportErr(err)
		reportBacktrace(vm)
	}
}

func reportErr(err error) {
	fmt.Fprintf(os.Stderr, "interpreter error: %s\n", err)
}

func reportBacktrace(vm *hana.VM) {
	if vm == nil {
		return
	}
	for _, f := range vm.Backtrace() {
		fmt.Fprintf(os.Stderr, "  at %s\n", f)
	}
}

// repl starts the bare read-eval-print loop used when no file or
// -c source was given: a plain bufio.Scanner prompt, one line of
// source per iteration, matching the teacher's own interactive mode.
func repl() {
	cfg := hana.NewConfig()
	vm := hana.NewREPLVM(cfg)
	hanalib.Register(vm)

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			fmt.Print("> ")
			continue
		}

		result, err := vm.Eval(line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "interpreter error: %s\n", err)
		} else if !result.IsNil() {
			fmt.Println(result.String())
		}
		fmt.Print("> ")
	}
	fmt.Println()
}
