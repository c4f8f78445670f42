package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tetratelabs/stitch/internal/testing/binaryencoding"
	"github.com/tetratelabs/stitch/internal/wasm"
)

const i32 = wasm.ValueTypeI32

var (
	i32i32_i32 = wasm.NewFunctionType([]wasm.ValueType{i32, i32}, []wasm.ValueType{i32})
	i32_v      = wasm.NewFunctionType([]wasm.ValueType{i32}, nil)
	v_v        = wasm.NewFunctionType(nil, nil)
	memoryMax  = uint32(2)
)

// calc exports "add" and "div", plus "main" which prints 42 via the spectest import.
var calc = &wasm.Module{
	TypeSection:     []*wasm.FunctionType{i32i32_i32, i32_v, v_v},
	ImportSection:   []*wasm.Import{{Type: wasm.ExternTypeFunc, Module: "spectest", Name: "print_i32", DescFunc: 1}},
	FunctionSection: []wasm.Index{0, 0, 2},
	MemorySection:   []*wasm.MemoryType{{Min: 1, Max: &memoryMax}},
	CodeSection: []*wasm.Code{
		{Body: []byte{wasm.OpcodeLocalGet, 0, wasm.OpcodeLocalGet, 1, wasm.OpcodeI32Add, wasm.OpcodeEnd}},
		{Body: []byte{wasm.OpcodeLocalGet, 0, wasm.OpcodeLocalGet, 1, wasm.OpcodeI32DivS, wasm.OpcodeEnd}},
		{Body: []byte{wasm.OpcodeI32Const, 42, wasm.OpcodeCall, 0, wasm.OpcodeEnd}},
	},
	ExportSection: []*wasm.Export{
		{Type: wasm.ExternTypeFunc, Name: "add", Index: 1},
		{Type: wasm.ExternTypeFunc, Name: "div", Index: 2},
		{Type: wasm.ExternTypeFunc, Name: "main", Index: 3},
		{Type: wasm.ExternTypeMemory, Name: "memory", Index: 0},
	},
	NameSection: &wasm.NameSection{ModuleName: "calc"},
}

func writeWasm(t *testing.T, m *wasm.Module) string {
	wasmPath := filepath.Join(t.TempDir(), "test.wasm")
	require.NoError(t, os.WriteFile(wasmPath, binaryencoding.EncodeModule(m), 0o600))
	return wasmPath
}

func TestRun(t *testing.T) {
	wasmPath := writeWasm(t, calc)

	tests := []struct {
		name   string
		args   []string
		stdOut string
	}{
		{name: "add", args: []string{"add", "2", "3"}, stdOut: "5\n"},
		{name: "add hex", args: []string{"add", "0x10", "-1"}, stdOut: "15\n"},
		{name: "add negative", args: []string{"add", "-2", "-3"}, stdOut: "-5\n"},
		{name: "add unsigned wraps", args: []string{"add", "4294967295", "1"}, stdOut: "0\n"},
		{name: "div", args: []string{"div", "7", "2"}, stdOut: "3\n"},
		{name: "spectest import", args: []string{"main"}, stdOut: "42 : i32\n"},
		{name: "no _start", args: nil, stdOut: ""},
	}
	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			exitCode, stdOut, stdErr := runMain(t, append([]string{"run", wasmPath}, tc.args...))
			require.Equal(t, 0, exitCode, stdErr)
			require.Equal(t, tc.stdOut, stdOut)
			require.Empty(t, stdErr)
		})
	}
}

func TestRun_Errors(t *testing.T) {
	wasmPath := writeWasm(t, calc)
	notWasmPath := filepath.Join(t.TempDir(), "bears.wasm")
	require.NoError(t, os.WriteFile(notWasmPath, []byte("pooh"), 0o600))

	tests := []struct {
		name    string
		args    []string
		message string
	}{
		{name: "missing path", args: []string{"run"}, message: "requires at least 1 arg(s), only received 0"},
		{name: "missing file", args: []string{"run", filepath.Join(t.TempDir(), "missing.wasm")}, message: "error reading wasm binary"},
		{name: "not wasm", args: []string{"run", notWasmPath}, message: "error compiling wasm binary"},
		{name: "unknown function", args: []string{"run", wasmPath, "sub"}, message: `function "sub" not exported`},
		{name: "arg count", args: []string{"run", wasmPath, "add", "1"}, message: "error calling add: expected 2 args, but was 1"},
		{name: "bad arg", args: []string{"run", wasmPath, "add", "1", "two"}, message: `error calling add: arg[1]: invalid 32-bit integer "two"`},
		{name: "flag after path is an arg", args: []string{"run", wasmPath, "add", "--metrics", "1"}, message: `error calling add: arg[0]: invalid 32-bit integer "--metrics"`},
		{name: "trap", args: []string{"run", wasmPath, "div", "1", "0"}, message: "error calling div: wasm error: integer divide by zero"},
	}
	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			exitCode, stdOut, stdErr := runMain(t, tc.args)
			require.Equal(t, 1, exitCode)
			require.Empty(t, stdOut)
			require.Contains(t, stdErr, tc.message)
		})
	}
}

func TestRun_Metrics(t *testing.T) {
	wasmPath := writeWasm(t, calc)

	exitCode, stdOut, stdErr := runMain(t, []string{"run", "--metrics", wasmPath, "add", "1", "1"})
	require.Equal(t, 0, exitCode, stdErr)
	require.Equal(t, "2\n", stdOut)
	require.Contains(t, stdErr, "stitch_modules_compiled_total 1")
	require.Contains(t, stdErr, "stitch_functions_compiled_total 1")
	require.Contains(t, stdErr, "stitch_instances_created_total 1")
}

func TestRun_Debug(t *testing.T) {
	wasmPath := writeWasm(t, calc)

	exitCode, _, stdErr := runMain(t, []string{"run", "--debug", wasmPath, "add", "1", "1"})
	require.Equal(t, 0, exitCode, stdErr)
	require.Contains(t, stdErr, "module decoded")
	require.Contains(t, stdErr, "function compiled")
}

func TestInspect(t *testing.T) {
	wasmPath := writeWasm(t, calc)

	exitCode, stdOut, stdErr := runMain(t, []string{"inspect", wasmPath})
	require.Equal(t, 0, exitCode, stdErr)
	require.Equal(t, `module: calc
imports:
  spectest.print_i32: func (i32) -> ()
exports:
  add: func (i32, i32) -> i32
  div: func (i32, i32) -> i32
  main: func () -> ()
  memory: memory {min: 1, max: 2}
`, stdOut)
}

func TestHelp(t *testing.T) {
	exitCode, stdOut, _ := runMain(t, []string{"-h"})
	require.Equal(t, 0, exitCode)
	require.Contains(t, stdOut, "stitch runs and inspects WebAssembly modules")
}

func runMain(t *testing.T, args []string) (int, string, string) {
	t.Helper()
	stdOut, stdErr := &bytes.Buffer{}, &bytes.Buffer{}
	exitCode := doMain(args, stdOut, stdErr)
	return exitCode, stdOut.String(), stdErr.String()
}
