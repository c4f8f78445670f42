package main

import (
	"fmt"
	"io"

	"github.com/tetratelabs/stitch"
)

// spectestImports defines the "spectest" host module of the WebAssembly test suite. The print functions write each
// argument to w on its own line, ex. "42 : i32".
func spectestImports(store *stitch.Store, w io.Writer) (*stitch.Imports, error) {
	imports := stitch.NewImports()
	printVal := func(v stitch.Val) {
		fmt.Fprintf(w, "%s : %s\n", formatVal(v), v.Type())
	}

	funcs := map[string]any{
		"print":         func() {},
		"print_i32":     func(v int32) { printVal(stitch.ValI32(v)) },
		"print_i64":     func(v int64) { printVal(stitch.ValI64(v)) },
		"print_f32":     func(v float32) { printVal(stitch.ValF32(v)) },
		"print_f64":     func(v float64) { printVal(stitch.ValF64(v)) },
		"print_i32_f32": func(a int32, b float32) { printVal(stitch.ValI32(a)); printVal(stitch.ValF32(b)) },
		"print_f64_f64": func(a, b float64) { printVal(stitch.ValF64(a)); printVal(stitch.ValF64(b)) },
	}
	for name, fn := range funcs {
		f, err := stitch.WrapFunc(store, fn)
		if err != nil {
			return nil, err
		}
		imports.Define("spectest", name, f)
	}

	globals := map[string]stitch.Val{
		"global_i32": stitch.ValI32(666),
		"global_i64": stitch.ValI64(666),
		"global_f32": stitch.ValF32(666.6),
		"global_f64": stitch.ValF64(666.6),
	}
	for name, v := range globals {
		g, err := stitch.NewGlobal(store, stitch.GlobalType{Val: v.Type()}, v)
		if err != nil {
			return nil, err
		}
		imports.Define("spectest", name, g)
	}

	tableMax, memoryMax := uint32(20), uint32(2)
	table, err := stitch.NewTable(store, stitch.TableType{Elem: stitch.ValTypeFuncref, Min: 10, Max: &tableMax},
		stitch.DefaultVal(stitch.ValTypeFuncref))
	if err != nil {
		return nil, err
	}
	memory, err := stitch.NewMemory(store, stitch.MemoryType{Min: 1, Max: &memoryMax})
	if err != nil {
		return nil, err
	}
	return imports.Define("spectest", "table", table).Define("spectest", "memory", memory), nil
}
