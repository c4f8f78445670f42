package stitch

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tetratelabs/stitch/internal/testing/binaryencoding"
	"github.com/tetratelabs/stitch/internal/wasm"
)

const (
	i32 = wasm.ValueTypeI32
	i64 = wasm.ValueTypeI64
	f64 = wasm.ValueTypeF64
)

var (
	v_v        = wasm.NewFunctionType(nil, nil)
	v_i32      = wasm.NewFunctionType(nil, []wasm.ValueType{i32})
	i32_i32    = wasm.NewFunctionType([]wasm.ValueType{i32}, []wasm.ValueType{i32})
	i32i32_i32 = wasm.NewFunctionType([]wasm.ValueType{i32, i32}, []wasm.ValueType{i32})
	i32i32_v   = wasm.NewFunctionType([]wasm.ValueType{i32, i32}, nil)
)

func compileModule(t *testing.T, e *Engine, m *wasm.Module) *Module {
	mod, err := e.CompileModule(binaryencoding.EncodeModule(m))
	require.NoError(t, err)
	return mod
}

func instantiateModule(t *testing.T, store *Store, m *wasm.Module, imports *Imports) *Instance {
	inst, err := compileModule(t, store.Engine(), m).Instantiate(store, imports)
	require.NoError(t, err)
	return inst
}

func exportedFunc(t *testing.T, inst *Instance, name string) Func {
	f, ok := inst.Func(name)
	require.True(t, ok, "%s is not an exported func", name)
	return f
}

func call1(t *testing.T, store *Store, f Func, args ...Val) Val {
	results := make([]Val, 1)
	require.NoError(t, f.Call(store, args, results))
	return results[0]
}

func TestAdd(t *testing.T) {
	store := NewStore(NewEngine())
	inst := instantiateModule(t, store, &wasm.Module{
		TypeSection:     []*wasm.FunctionType{i32i32_i32},
		FunctionSection: []wasm.Index{0},
		CodeSection: []*wasm.Code{{Body: []byte{
			wasm.OpcodeLocalGet, 0, wasm.OpcodeLocalGet, 1, wasm.OpcodeI32Add, wasm.OpcodeEnd,
		}}},
		ExportSection: []*wasm.Export{{Type: wasm.ExternTypeFunc, Name: "add", Index: 0}},
	}, nil)
	add := exportedFunc(t, inst, "add")
	require.Equal(t, "(i32, i32) -> i32", add.Type(store).String())

	tests := []struct {
		name     string
		a, b     int32
		expected int32
	}{
		{name: "small", a: 2, b: 3, expected: 5},
		{name: "wraps", a: math.MaxInt32, b: 1, expected: math.MinInt32},
		{name: "negative", a: -2, b: -3, expected: -5},
	}
	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, ValI32(tc.expected), call1(t, store, add, ValI32(tc.a), ValI32(tc.b)))
			require.Zero(t, store.StackDepth())
		})
	}
}

func TestHostImport(t *testing.T) {
	store := NewStore(NewEngine())
	add, err := WrapFunc(store, func(a, b int32) int32 { return a + b })
	require.NoError(t, err)
	require.Equal(t, "(i32, i32) -> i32", add.Type(store).String())

	inst := instantiateModule(t, store, &wasm.Module{
		TypeSection:     []*wasm.FunctionType{i32i32_i32, v_i32},
		ImportSection:   []*wasm.Import{{Type: wasm.ExternTypeFunc, Module: "env", Name: "add", DescFunc: 0}},
		FunctionSection: []wasm.Index{1},
		CodeSection: []*wasm.Code{{Body: []byte{
			wasm.OpcodeI32Const, 40, wasm.OpcodeI32Const, 2, wasm.OpcodeCall, 0, wasm.OpcodeEnd,
		}}},
		ExportSection: []*wasm.Export{{Type: wasm.ExternTypeFunc, Name: "run", Index: 1}},
	}, NewImports().Define("env", "add", add))

	require.Equal(t, ValI32(42), call1(t, store, exportedFunc(t, inst, "run")))
}

func TestTrapThenCall(t *testing.T) {
	store := NewStore(NewEngine())
	inst := instantiateModule(t, store, &wasm.Module{
		TypeSection:     []*wasm.FunctionType{v_i32},
		FunctionSection: []wasm.Index{0, 0},
		CodeSection: []*wasm.Code{
			{Body: []byte{wasm.OpcodeI32Const, 1, wasm.OpcodeI32Const, 0, wasm.OpcodeI32DivS, wasm.OpcodeEnd}},
			{Body: []byte{wasm.OpcodeI32Const, 7, wasm.OpcodeEnd}},
		},
		ExportSection: []*wasm.Export{
			{Type: wasm.ExternTypeFunc, Name: "div", Index: 0},
			{Type: wasm.ExternTypeFunc, Name: "seven", Index: 1},
		},
	}, nil)

	err := exportedFunc(t, inst, "div").Call(store, nil, make([]Val, 1))
	require.ErrorIs(t, err, ErrIntegerDivideByZero)
	var trap *Trap
	require.True(t, errors.As(err, &trap))
	require.Equal(t, "integer divide by zero", trap.Kind())
	require.Equal(t, []string{"div() -> i32"}, trap.StackTrace)
	require.Equal(t, "wasm error: integer divide by zero\nwasm stack trace:\n\tdiv() -> i32", err.Error())
	require.Zero(t, store.StackDepth())

	require.Equal(t, ValI32(7), call1(t, store, exportedFunc(t, inst, "seven")))
}

func TestMemoryGrowReadWrite(t *testing.T) {
	two := uint32(2)
	store := NewStore(NewEngine())
	inst := instantiateModule(t, store, &wasm.Module{
		TypeSection:     []*wasm.FunctionType{v_i32, i32i32_v, i32_i32},
		FunctionSection: []wasm.Index{0, 1, 2, 2},
		MemorySection:   []*wasm.MemoryType{{Min: 1, Max: &two}},
		CodeSection: []*wasm.Code{
			{Body: []byte{wasm.OpcodeMemorySize, 0, wasm.OpcodeEnd}},
			{Body: []byte{wasm.OpcodeLocalGet, 0, wasm.OpcodeLocalGet, 1, wasm.OpcodeI32Store, 2, 0, wasm.OpcodeEnd}},
			{Body: []byte{wasm.OpcodeLocalGet, 0, wasm.OpcodeI32Load, 2, 0, wasm.OpcodeEnd}},
			{Body: []byte{wasm.OpcodeLocalGet, 0, wasm.OpcodeMemoryGrow, 0, wasm.OpcodeEnd}},
		},
		ExportSection: []*wasm.Export{
			{Type: wasm.ExternTypeFunc, Name: "size", Index: 0},
			{Type: wasm.ExternTypeFunc, Name: "store", Index: 1},
			{Type: wasm.ExternTypeFunc, Name: "load", Index: 2},
			{Type: wasm.ExternTypeFunc, Name: "grow", Index: 3},
			{Type: wasm.ExternTypeMemory, Name: "mem", Index: 0},
		},
	}, nil)
	mem, ok := inst.Memory("mem")
	require.True(t, ok)
	require.Equal(t, MemoryType{Min: 1, Max: &two}, mem.Type(store))

	require.NoError(t, mem.Write(store, 0x1000, []byte{0xDE, 0xAD, 0xBE, 0xEF}))
	buf := make([]byte, 4)
	require.NoError(t, mem.Read(store, 0x1000, buf))
	require.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, buf)
	// little-endian
	require.Equal(t, ValI32(int32(-272716322)), call1(t, store, exportedFunc(t, inst, "load"), ValI32(0x1000)))

	require.NoError(t, exportedFunc(t, inst, "store").Call(store, []Val{ValI32(8), ValI32(0x01020304)}, nil))
	require.NoError(t, mem.Read(store, 8, buf))
	require.Equal(t, []byte{4, 3, 2, 1}, buf)

	grow := exportedFunc(t, inst, "grow")
	require.Equal(t, ValI32(1), call1(t, store, grow, ValI32(1)))
	require.Equal(t, ValI32(2), call1(t, store, exportedFunc(t, inst, "size")))
	require.Equal(t, ValI32(-1), call1(t, store, grow, ValI32(1)))
	require.Equal(t, uint32(2), mem.Size(store))
	require.Equal(t, uint64(2*65536), mem.DataSize(store))

	_, err := mem.Grow(store, 1)
	require.ErrorIs(t, err, ErrGrowLimit)
	require.Equal(t, uint32(2), mem.Size(store))

	// the last page is reachable, one past it is not
	require.NoError(t, mem.Write(store, 2*65536-4, buf))
	err = mem.Write(store, 2*65536-3, buf)
	require.ErrorIs(t, err, ErrOutOfBoundsMemoryAccess)
	err = exportedFunc(t, inst, "load").Call(store, []Val{ValI32(2*65536 - 3)}, make([]Val, 1))
	require.ErrorIs(t, err, ErrOutOfBoundsMemoryAccess)
}

func TestCallIndirect(t *testing.T) {
	store := NewStore(NewEngine())
	inst := instantiateModule(t, store, &wasm.Module{
		TypeSection:     []*wasm.FunctionType{i32_i32, v_i32, i32i32_i32},
		FunctionSection: []wasm.Index{0, 1, 2},
		CodeSection: []*wasm.Code{
			{Body: []byte{wasm.OpcodeLocalGet, 0, wasm.OpcodeI32Const, 1, wasm.OpcodeI32Add, wasm.OpcodeEnd}},
			{Body: []byte{wasm.OpcodeI32Const, 7, wasm.OpcodeEnd}},
			// call_indirect (type 0) with the first param as argument and the second as table index
			{Body: []byte{
				wasm.OpcodeLocalGet, 0, wasm.OpcodeLocalGet, 1,
				wasm.OpcodeCallIndirect, 0, 0,
				wasm.OpcodeEnd,
			}},
		},
		TableSection: []*wasm.TableType{{ElemType: wasm.RefTypeFuncref, Limits: wasm.LimitsType{Min: 3}}},
		ElementSection: []*wasm.ElementSegment{{
			Mode:       wasm.ElementModeActive,
			OffsetExpr: &wasm.ConstantExpression{Opcode: wasm.OpcodeI32Const, Data: []byte{0}},
			Type:       wasm.RefTypeFuncref,
			Init: []wasm.ConstantExpression{
				{Opcode: wasm.OpcodeRefFunc, Data: []byte{0}},
				{Opcode: wasm.OpcodeRefFunc, Data: []byte{1}},
			},
		}},
		ExportSection: []*wasm.Export{
			{Type: wasm.ExternTypeFunc, Name: "dispatch", Index: 2},
			{Type: wasm.ExternTypeTable, Name: "table", Index: 0},
		},
	}, nil)
	dispatch := exportedFunc(t, inst, "dispatch")
	require.Equal(t, ValI32(11), call1(t, store, dispatch, ValI32(10), ValI32(0)))

	tests := []struct {
		name        string
		index       int32
		expectedErr error
	}{
		{name: "type mismatch", index: 1, expectedErr: ErrIndirectCallTypeMismatch},
		{name: "null", index: 2, expectedErr: ErrUninitializedElement},
		{name: "out of bounds", index: 3, expectedErr: ErrInvalidTableAccess},
	}
	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			err := dispatch.Call(store, []Val{ValI32(10), ValI32(tc.index)}, make([]Val, 1))
			require.ErrorIs(t, err, tc.expectedErr)
			require.Zero(t, store.StackDepth())
		})
	}

	t.Run("host set element", func(t *testing.T) {
		table, ok := inst.Table("table")
		require.True(t, ok)
		f, ok := inst.Func("dispatch")
		require.True(t, ok)
		inc, err := table.Get(store, 0)
		require.NoError(t, err)
		require.NoError(t, table.Set(store, 2, inc))
		require.Equal(t, ValI32(11), call1(t, store, f, ValI32(10), ValI32(2)))
	})
}

func TestCompileAtMostOnce(t *testing.T) {
	e := NewEngine()
	store := NewStore(e)
	inst := instantiateModule(t, store, &wasm.Module{
		TypeSection:     []*wasm.FunctionType{i32_i32},
		FunctionSection: []wasm.Index{0},
		CodeSection: []*wasm.Code{{Body: []byte{
			wasm.OpcodeLocalGet, 0, wasm.OpcodeI32Const, 1, wasm.OpcodeI32Add, wasm.OpcodeEnd,
		}}},
		ExportSection: []*wasm.Export{{Type: wasm.ExternTypeFunc, Name: "inc", Index: 0}},
	}, nil)
	inc := exportedFunc(t, inst, "inc")
	require.Zero(t, inc.CompileCount(store))

	results := make([]Val, 1)
	for i := int32(0); i < 1000; i++ {
		require.NoError(t, inc.Call(store, []Val{ValI32(i)}, results))
		require.Equal(t, ValI32(i+1), results[0])
	}
	require.Equal(t, uint32(1), inc.CompileCount(store))

	require.NoError(t, inc.Compile(store))
	require.Equal(t, uint32(1), inc.CompileCount(store))
}

func TestCompileAheadOfCall(t *testing.T) {
	store := NewStore(NewEngine())
	inst := instantiateModule(t, store, &wasm.Module{
		TypeSection:     []*wasm.FunctionType{v_i32},
		FunctionSection: []wasm.Index{0, 0},
		CodeSection: []*wasm.Code{
			{Body: []byte{wasm.OpcodeI32Const, 1, wasm.OpcodeEnd}},
			{Body: []byte{wasm.OpcodeI64Const, 1, wasm.OpcodeEnd}}, // invalid: i64 result
		},
		ExportSection: []*wasm.Export{
			{Type: wasm.ExternTypeFunc, Name: "ok", Index: 0},
			{Type: wasm.ExternTypeFunc, Name: "bad", Index: 1},
		},
	}, nil)

	ok := exportedFunc(t, inst, "ok")
	require.NoError(t, ok.Compile(store))
	require.Equal(t, uint32(1), ok.CompileCount(store))

	bad := exportedFunc(t, inst, "bad")
	err := bad.Compile(store)
	var verr *ValidateError
	require.True(t, errors.As(err, &verr))
	require.Equal(t, "bad", verr.Func)
	require.Zero(t, bad.CompileCount(store))

	// the body stays uncompiled, so the next attempt fails the same way
	require.EqualError(t, bad.Call(store, nil, make([]Val, 1)), err.Error())
}

func TestReentrantCall(t *testing.T) {
	store := NewStore(NewEngine())
	var inst *Instance
	depths := map[string]int{}
	reenter, err := WrapFunc(store, func(c *Caller, x int32) (int32, error) {
		depths["host"] = c.Store().StackDepth()
		double, _ := inst.Func("double")
		results := make([]Val, 1)
		if err := double.Call(c.Store(), []Val{ValI32(x)}, results); err != nil {
			return 0, err
		}
		return results[0].I32(), nil
	})
	require.NoError(t, err)

	inst = instantiateModule(t, store, &wasm.Module{
		TypeSection:     []*wasm.FunctionType{i32_i32},
		ImportSection:   []*wasm.Import{{Type: wasm.ExternTypeFunc, Module: "env", Name: "reenter", DescFunc: 0}},
		FunctionSection: []wasm.Index{0, 0},
		CodeSection: []*wasm.Code{
			{Body: []byte{wasm.OpcodeLocalGet, 0, wasm.OpcodeLocalGet, 0, wasm.OpcodeI32Add, wasm.OpcodeEnd}},
			{Body: []byte{
				wasm.OpcodeLocalGet, 0, wasm.OpcodeCall, 0, wasm.OpcodeI32Const, 1, wasm.OpcodeI32Add, wasm.OpcodeEnd,
			}},
		},
		ExportSection: []*wasm.Export{
			{Type: wasm.ExternTypeFunc, Name: "double", Index: 1},
			{Type: wasm.ExternTypeFunc, Name: "run", Index: 2},
		},
	}, NewImports().Define("env", "reenter", reenter))

	require.Equal(t, ValI32(21), call1(t, store, exportedFunc(t, inst, "run"), ValI32(10)))
	require.NotZero(t, depths["host"])
	require.Zero(t, store.StackDepth())
}

func TestHostErrorPropagates(t *testing.T) {
	hostErr := errors.New("boom")
	store := NewStore(NewEngine())
	fail, err := WrapFunc(store, func() error { return hostErr })
	require.NoError(t, err)

	inst := instantiateModule(t, store, &wasm.Module{
		TypeSection:     []*wasm.FunctionType{v_v},
		ImportSection:   []*wasm.Import{{Type: wasm.ExternTypeFunc, Module: "env", Name: "fail", DescFunc: 0}},
		FunctionSection: []wasm.Index{0},
		CodeSection:     []*wasm.Code{{Body: []byte{wasm.OpcodeCall, 0, wasm.OpcodeEnd}}},
		ExportSection:   []*wasm.Export{{Type: wasm.ExternTypeFunc, Name: "run", Index: 1}},
	}, NewImports().Define("env", "fail", fail))

	run := exportedFunc(t, inst, "run")
	for i := 0; i < 2; i++ {
		require.Equal(t, hostErr, run.Call(store, nil, nil))
		require.Zero(t, store.StackDepth())
	}
}

func TestStackOverflowRecovers(t *testing.T) {
	e, err := NewEngineWithConfig(NewEngineConfig().WithMaxStackSlots(1000))
	require.NoError(t, err)
	store := NewStore(e)
	inst := instantiateModule(t, store, &wasm.Module{
		TypeSection:     []*wasm.FunctionType{v_v, v_i32},
		FunctionSection: []wasm.Index{0, 1},
		CodeSection: []*wasm.Code{
			{Body: []byte{wasm.OpcodeCall, 0, wasm.OpcodeEnd}},
			{Body: []byte{wasm.OpcodeI32Const, 3, wasm.OpcodeEnd}},
		},
		ExportSection: []*wasm.Export{
			{Type: wasm.ExternTypeFunc, Name: "recurse", Index: 0},
			{Type: wasm.ExternTypeFunc, Name: "three", Index: 1},
		},
	}, nil)

	err = exportedFunc(t, inst, "recurse").Call(store, nil, nil)
	require.ErrorIs(t, err, ErrStackOverflow)
	require.Zero(t, store.StackDepth())
	require.Equal(t, ValI32(3), call1(t, store, exportedFunc(t, inst, "three")))
}

func TestHandleOfAnotherStore(t *testing.T) {
	e := NewEngine()
	s1, s2 := NewStore(e), NewStore(e)
	f, err := WrapFunc(s1, func() {})
	require.NoError(t, err)

	expected := fmt.Sprintf("handle of store %d used with store %d", s1.s.ID(), s2.s.ID())
	require.PanicsWithValue(t, expected, func() { f.Type(s2) })
	require.PanicsWithValue(t, expected, func() { _ = f.Call(s2, nil, nil) })

	g, err := NewGlobal(s2, GlobalType{Val: ValTypeFuncref, Mutable: true}, DefaultVal(ValTypeFuncref))
	require.NoError(t, err)
	require.PanicsWithValue(t, expected, func() { _ = g.Set(s2, ValFuncRef(NewFuncRef(f))) })

	// a null reference belongs to no store
	require.NoError(t, g.Set(s2, ValFuncRef(FuncRef{})))
}

func TestFuncCall_Errors(t *testing.T) {
	store := NewStore(NewEngine())
	add, err := WrapFunc(store, func(a, b int32) int32 { return a + b })
	require.NoError(t, err)
	name := add.Name(store)

	tests := []struct {
		name        string
		args        []Val
		results     []Val
		expectedErr error
		expectedMsg string
	}{
		{
			name:        "too few args",
			args:        []Val{ValI32(1)},
			results:     make([]Val, 1),
			expectedErr: ErrParamCountMismatch,
			expectedMsg: "param count mismatch: expected 2, but was 1",
		},
		{
			name:        "too many results",
			args:        []Val{ValI32(1), ValI32(2)},
			results:     make([]Val, 2),
			expectedErr: ErrResultCountMismatch,
			expectedMsg: "result count mismatch: expected 1, but was 2",
		},
		{
			name:        "wrong arg type",
			args:        []Val{ValI32(1), ValI64(2)},
			results:     make([]Val, 1),
			expectedErr: ErrParamTypeMismatch,
			expectedMsg: "param type mismatch: param[1] expected i32, but was i64",
		},
	}
	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			err := add.Call(store, tc.args, tc.results)
			require.ErrorIs(t, err, tc.expectedErr)
			var ferr *FuncError
			require.True(t, errors.As(err, &ferr))
			require.Equal(t, name, ferr.Func)
			require.EqualError(t, err, name+": "+tc.expectedMsg)
		})
	}
}
