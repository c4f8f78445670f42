package stitch_test

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/tetratelabs/stitch"
	"github.com/tetratelabs/stitch/internal/testing/binaryencoding"
	"github.com/tetratelabs/stitch/internal/wasm"
)

var i32i32_i32 = wasm.NewFunctionType([]wasm.ValueType{wasm.ValueTypeI32, wasm.ValueTypeI32}, []wasm.ValueType{wasm.ValueTypeI32})

// mathWasm is the module "math", exporting "add" and "div" of signature (i32, i32) -> i32.
var mathWasm = binaryencoding.EncodeModule(&wasm.Module{
	TypeSection:     []*wasm.FunctionType{i32i32_i32},
	FunctionSection: []wasm.Index{0, 0},
	CodeSection: []*wasm.Code{
		{Body: []byte{wasm.OpcodeLocalGet, 0, wasm.OpcodeLocalGet, 1, wasm.OpcodeI32Add, wasm.OpcodeEnd}},
		{Body: []byte{wasm.OpcodeLocalGet, 0, wasm.OpcodeLocalGet, 1, wasm.OpcodeI32DivS, wasm.OpcodeEnd}},
	},
	ExportSection: []*wasm.Export{
		{Type: wasm.ExternTypeFunc, Name: "add", Index: 0},
		{Type: wasm.ExternTypeFunc, Name: "div", Index: 1},
	},
	NameSection: &wasm.NameSection{ModuleName: "math"},
})

// This is an example of how to use WebAssembly via adding two numbers.
func Example() {
	engine := stitch.NewEngine()

	mod, err := engine.CompileModule(mathWasm)
	if err != nil {
		log.Panicln(err)
	}

	// Entities of an instance live in the store until it is dropped.
	store := stitch.NewStore(engine)
	inst, err := mod.Instantiate(store, nil)
	if err != nil {
		log.Panicln(err)
	}

	add, _ := inst.Func("add")
	results := make([]stitch.Val, 1)
	if err = add.Call(store, []stitch.Val{stitch.ValI32(1), stitch.ValI32(2)}, results); err != nil {
		log.Panicln(err)
	}

	fmt.Printf("%s: 1 + 2 = %d\n", mod.Name(), results[0].I32())

	// Output:
	// math: 1 + 2 = 3
}

// This shows how a trap is returned from Func.Call, leaving the store usable.
func Example_trap() {
	engine := stitch.NewEngine()
	mod, err := engine.CompileModule(mathWasm)
	if err != nil {
		log.Panicln(err)
	}
	store := stitch.NewStore(engine)
	inst, err := mod.Instantiate(store, nil)
	if err != nil {
		log.Panicln(err)
	}

	div, _ := inst.Func("div")
	results := make([]stitch.Val, 1)
	err = div.Call(store, []stitch.Val{stitch.ValI32(1), stitch.ValI32(0)}, results)
	fmt.Println(errors.Is(err, stitch.ErrIntegerDivideByZero))
	fmt.Println(strings.Split(err.Error(), "\n")[0])

	err = div.Call(store, []stitch.Val{stitch.ValI32(9), stitch.ValI32(3)}, results)
	fmt.Println(err, results[0].I32())

	// Output:
	// true
	// wasm error: integer divide by zero
	// <nil> 3
}

// This shows how to import a Go function into a module.
func ExampleWrapFunc() {
	engine := stitch.NewEngine()
	store := stitch.NewStore(engine)

	// (module (import "env" "mul" (func $mul (param i32 i32) (result i32)))
	//   (func (export "square") (param i32) (result i32) local.get 0 local.get 0 call $mul))
	bin := binaryencoding.EncodeModule(&wasm.Module{
		TypeSection: []*wasm.FunctionType{
			i32i32_i32,
			wasm.NewFunctionType([]wasm.ValueType{wasm.ValueTypeI32}, []wasm.ValueType{wasm.ValueTypeI32}),
		},
		ImportSection:   []*wasm.Import{{Type: wasm.ExternTypeFunc, Module: "env", Name: "mul", DescFunc: 0}},
		FunctionSection: []wasm.Index{1},
		CodeSection: []*wasm.Code{
			{Body: []byte{wasm.OpcodeLocalGet, 0, wasm.OpcodeLocalGet, 0, wasm.OpcodeCall, 0, wasm.OpcodeEnd}},
		},
		ExportSection: []*wasm.Export{{Type: wasm.ExternTypeFunc, Name: "square", Index: 1}},
	})

	mul, err := stitch.WrapFunc(store, func(a, b int32) int32 { return a * b })
	if err != nil {
		log.Panicln(err)
	}
	mod, err := engine.CompileModule(bin)
	if err != nil {
		log.Panicln(err)
	}
	inst, err := mod.Instantiate(store, stitch.NewImports().Define("env", "mul", mul))
	if err != nil {
		log.Panicln(err)
	}

	square, _ := inst.Func("square")
	results := make([]stitch.Val, 1)
	if err = square.Call(store, []stitch.Val{stitch.ValI32(12)}, results); err != nil {
		log.Panicln(err)
	}
	fmt.Println(results[0].I32())

	// Output:
	// 144
}
