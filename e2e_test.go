package hana_test

import (
	"strings"
	"testing"

	"github.com/clarete/hana"
	"github.com/clarete/hana/internal/hanalib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runCapture builds a VM for src with the native stdlib registered,
// redirects Stdout to an in-memory buffer, runs it to completion, and
// returns everything printed.
func runCapture(t *testing.T, src string) (string, error) {
	t.Helper()
	vm, err := hana.Run(src, "<test>", hana.NewConfig())
	require.NoError(t, err)
	hanalib.Register(vm)
	var out strings.Builder
	vm.Stdout = func(s string) { out.WriteString(s) }
	runErr := vm.Run()
	return out.String(), runErr
}

func TestEndToEndScenarios(t *testing.T) {
	tests := []struct {
		name     string
		src      string
		expected string
	}{
		{
			name:     "hello world",
			src:      "print('Hello World')\n",
			expected: "Hello World",
		},
		{
			name:     "closure capture",
			src:      "func adder(x)\n return fn(y) return x+y end end\n print(adder(5)(3))",
			expected: "8",
		},
		{
			// if/else bodies are single statements in this grammar (no
			// trailing `end` of their own), so only the enclosing
			// `func ... end` needs a terminator.
			name:     "deep tail recursion",
			src:      "func loop(n) if n==0 then return 0 else return loop(n-1) end\n print(loop(100000))",
			expected: "0",
		},
		{
			name:     "prototype matching try/raise/case",
			src:      "record E end\n try raise E() case E as e then print('caught') end",
			expected: "caught",
		},
		{
			// for-in's `then` branch is a single statement with no
			// terminator of its own.
			name:     "for-in over array",
			src:      "for i in [10,20,30] then print(i)",
			expected: "102030",
		},
		{
			// ...so a `begin...end` block holds more than one.
			name: "for-in with break and continue",
			src: `for i in [1,2,3,4,5] then begin
 if i==2 then continue
 if i==4 then break
 print(i)
end`,
			expected: "13",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := runCapture(t, tt.src)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, out)
		})
	}
}

func TestArrayMapFilterReduce(t *testing.T) {
	vm, err := hana.Run("", "<test>", hana.NewConfig())
	require.NoError(t, err)
	hanalib.Register(vm)
	require.NoError(t, vm.Run())

	result, err := vm.Eval(`[1,2,3,4].map(fn(x) return x*x end).filter(fn(x) return x>4 end).reduce(fn(a,x) return a+x end, 0)`)
	require.NoError(t, err)
	assert.Equal(t, int64(25), result.AsInt())
}

func TestShortCircuit(t *testing.T) {
	vm, err := hana.Run("", "<test>", hana.NewConfig())
	require.NoError(t, err)
	hanalib.Register(vm)
	require.NoError(t, vm.Run())

	result, err := vm.Eval(`(0 and error_global) or 42`)
	require.NoError(t, err)
	assert.Equal(t, int64(42), result.AsInt())
}

func TestEvalBuiltin(t *testing.T) {
	vm, err := hana.Run("", "<test>", hana.NewConfig())
	require.NoError(t, err)
	hanalib.Register(vm)
	require.NoError(t, vm.Run())

	result, err := vm.Eval(`eval('1+2')`)
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.AsInt())
}
