package stitch

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tetratelabs/stitch/internal/wasm"
)

func TestTable_SetGet(t *testing.T) {
	store := NewStore(NewEngine())
	max := uint32(4)
	table, err := NewTable(store, TableType{Elem: ValTypeExternref, Min: 2, Max: &max}, DefaultVal(ValTypeExternref))
	require.NoError(t, err)
	require.Equal(t, TableType{Elem: ValTypeExternref, Min: 2, Max: &max}, table.Type(store))
	require.Equal(t, uint32(2), table.Size(store))

	a, b := NewExternRef(store, "a"), NewExternRef(store, 2)
	tests := []struct {
		name  string
		index uint32
		val   Val
	}{
		{name: "first", index: 0, val: ValExternRef(a)},
		{name: "last", index: 1, val: ValExternRef(b)},
		{name: "null", index: 0, val: ValExternRef(ExternRef{})},
	}
	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			require.NoError(t, table.Set(store, tc.index, tc.val))
			v, err := table.Get(store, tc.index)
			require.NoError(t, err)
			require.Equal(t, tc.val, v)
		})
	}

	v, err := table.Get(store, 1)
	require.NoError(t, err)
	require.Equal(t, 2, v.ExternRef().Downcast(store))

	_, err = table.Get(store, 2)
	require.ErrorIs(t, err, ErrInvalidTableAccess)
	require.ErrorIs(t, table.Set(store, 2, ValExternRef(a)), ErrInvalidTableAccess)
	require.ErrorIs(t, table.Set(store, 0, ValI32(1)), ErrValTypeMismatch)
}

func TestTable_Grow(t *testing.T) {
	store := NewStore(NewEngine())
	max := uint32(3)
	table, err := NewTable(store, TableType{Elem: ValTypeFuncref, Min: 1, Max: &max}, DefaultVal(ValTypeFuncref))
	require.NoError(t, err)
	f, err := WrapFunc(store, func() {})
	require.NoError(t, err)

	prev, err := table.Grow(store, 2, ValFuncRef(NewFuncRef(f)))
	require.NoError(t, err)
	require.Equal(t, uint32(1), prev)
	require.Equal(t, uint32(3), table.Size(store))
	v, err := table.Get(store, 2)
	require.NoError(t, err)
	got, ok := v.FuncRef().Func()
	require.True(t, ok)
	require.Equal(t, f, got)

	_, err = table.Grow(store, 1, DefaultVal(ValTypeFuncref))
	require.ErrorIs(t, err, ErrGrowLimit)
	require.Equal(t, uint32(3), table.Size(store))

	_, err = table.Grow(store, 0, DefaultVal(ValTypeExternref))
	require.ErrorIs(t, err, ErrValTypeMismatch)
}

func TestNewTable_Errors(t *testing.T) {
	store := NewStore(NewEngine())
	one := uint32(1)
	tests := []struct {
		name        string
		tt          TableType
		init        Val
		expectedErr string
	}{
		{
			name:        "numeric element type",
			tt:          TableType{Elem: ValTypeI32},
			init:        ValI32(0),
			expectedErr: "invalid table element type: i32",
		},
		{
			name:        "init type",
			tt:          TableType{Elem: ValTypeFuncref},
			init:        DefaultVal(ValTypeExternref),
			expectedErr: "value type mismatch: expected funcref, but was externref",
		},
		{
			name:        "min over max",
			tt:          TableType{Elem: ValTypeFuncref, Min: 2, Max: &one},
			init:        DefaultVal(ValTypeFuncref),
			expectedErr: "table min 2 exceeds max 1",
		},
	}
	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewTable(store, tc.tt, tc.init)
			require.EqualError(t, err, tc.expectedErr)
		})
	}
}

func TestMemory_Grow(t *testing.T) {
	three := uint32(3)
	tests := []struct {
		name         string
		mt           MemoryType
		engineMax    uint32
		delta        uint32
		expectedPrev uint32
		expectedErr  bool
	}{
		{name: "zero", mt: MemoryType{Min: 1}, engineMax: 4, delta: 0, expectedPrev: 1},
		{name: "within max", mt: MemoryType{Min: 1, Max: &three}, engineMax: 4, delta: 2, expectedPrev: 1},
		{name: "past max", mt: MemoryType{Min: 1, Max: &three}, engineMax: 4, delta: 3, expectedErr: true},
		{name: "engine limit", mt: MemoryType{Min: 1}, engineMax: 4, delta: 3, expectedPrev: 1},
		{name: "past engine limit", mt: MemoryType{Min: 1}, engineMax: 4, delta: 4, expectedErr: true},
		{name: "max over engine limit", mt: MemoryType{Min: 1, Max: &three}, engineMax: 2, delta: 2, expectedErr: true},
	}
	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			e, err := NewEngineWithConfig(NewEngineConfig().WithMemoryMaxPages(tc.engineMax))
			require.NoError(t, err)
			store := NewStore(e)
			mem, err := NewMemory(store, tc.mt)
			require.NoError(t, err)

			before := mem.Size(store)
			prev, err := mem.Grow(store, tc.delta)
			if tc.expectedErr {
				require.ErrorIs(t, err, ErrGrowLimit)
				require.Equal(t, before, mem.Size(store))
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.expectedPrev, prev)
			require.Equal(t, before+tc.delta, mem.Size(store))
			require.Equal(t, uint64(before+tc.delta)*65536, mem.DataSize(store))
		})
	}
}

func TestNewMemory_Errors(t *testing.T) {
	e, err := NewEngineWithConfig(NewEngineConfig().WithMemoryMaxPages(2))
	require.NoError(t, err)
	store := NewStore(e)
	one := uint32(1)

	_, err = NewMemory(store, MemoryType{Min: 3})
	require.EqualError(t, err, "memory min 3 pages exceeds the limit of 2 pages")
	_, err = NewMemory(store, MemoryType{Min: 2, Max: &one})
	require.EqualError(t, err, "memory min 2 exceeds max 1")
}

func TestGlobal(t *testing.T) {
	store := NewStore(NewEngine())

	mutable, err := NewGlobal(store, GlobalType{Val: ValTypeF64, Mutable: true}, ValF64(1.5))
	require.NoError(t, err)
	require.Equal(t, GlobalType{Val: ValTypeF64, Mutable: true}, mutable.Type(store))
	require.Equal(t, ValF64(1.5), mutable.Get(store))
	require.NoError(t, mutable.Set(store, ValF64(-2)))
	require.Equal(t, ValF64(-2), mutable.Get(store))
	require.ErrorIs(t, mutable.Set(store, ValI64(2)), ErrValTypeMismatch)

	immutable, err := NewGlobal(store, GlobalType{Val: ValTypeI64}, ValI64(7))
	require.NoError(t, err)
	require.ErrorIs(t, immutable.Set(store, ValI64(8)), ErrImmutableGlobal)
	require.Equal(t, ValI64(7), immutable.Get(store))

	_, err = NewGlobal(store, GlobalType{Val: ValTypeI32}, ValI64(1))
	require.ErrorIs(t, err, ErrValTypeMismatch)
}

func TestGlobal_ImportedByWasm(t *testing.T) {
	store := NewStore(NewEngine())
	g, err := NewGlobal(store, GlobalType{Val: ValTypeI32, Mutable: true}, ValI32(1))
	require.NoError(t, err)

	inst := instantiateModule(t, store, &wasm.Module{
		TypeSection: []*wasm.FunctionType{v_i32},
		ImportSection: []*wasm.Import{{
			Type: wasm.ExternTypeGlobal, Module: "env", Name: "counter",
			DescGlobal: &wasm.GlobalType{ValType: i32, Mutable: true},
		}},
		FunctionSection: []wasm.Index{0},
		// counter += 1; return counter
		CodeSection: []*wasm.Code{{Body: []byte{
			wasm.OpcodeGlobalGet, 0, wasm.OpcodeI32Const, 1, wasm.OpcodeI32Add, wasm.OpcodeGlobalSet, 0,
			wasm.OpcodeGlobalGet, 0, wasm.OpcodeEnd,
		}}},
		ExportSection: []*wasm.Export{{Type: wasm.ExternTypeFunc, Name: "next", Index: 0}},
	}, NewImports().Define("env", "counter", g))

	next := exportedFunc(t, inst, "next")
	require.Equal(t, ValI32(2), call1(t, store, next))
	require.NoError(t, g.Set(store, ValI32(10)))
	require.Equal(t, ValI32(11), call1(t, store, next))
	require.Equal(t, ValI32(11), g.Get(store))
}

func TestExternRef_RoundTrip(t *testing.T) {
	store := NewStore(NewEngine())
	type payload struct{ name string }
	p := &payload{name: "p"}

	isNull := wasm.NewFunctionType([]wasm.ValueType{wasm.ValueTypeExternref}, []wasm.ValueType{i32})
	identity := wasm.NewFunctionType([]wasm.ValueType{wasm.ValueTypeExternref}, []wasm.ValueType{wasm.ValueTypeExternref})
	inst := instantiateModule(t, store, &wasm.Module{
		TypeSection:     []*wasm.FunctionType{identity, isNull},
		FunctionSection: []wasm.Index{0, 1},
		CodeSection: []*wasm.Code{
			{Body: []byte{wasm.OpcodeLocalGet, 0, wasm.OpcodeEnd}},
			{Body: []byte{wasm.OpcodeLocalGet, 0, wasm.OpcodeRefIsNull, wasm.OpcodeEnd}},
		},
		ExportSection: []*wasm.Export{
			{Type: wasm.ExternTypeFunc, Name: "identity", Index: 0},
			{Type: wasm.ExternTypeFunc, Name: "is_null", Index: 1},
		},
	}, nil)

	ref := NewExternRef(store, p)
	out := call1(t, store, exportedFunc(t, inst, "identity"), ValExternRef(ref))
	require.Equal(t, ValTypeExternref, out.Type())
	require.Same(t, p, out.ExternRef().Downcast(store))

	require.Equal(t, ValI32(0), call1(t, store, exportedFunc(t, inst, "is_null"), ValExternRef(ref)))
	require.Equal(t, ValI32(1), call1(t, store, exportedFunc(t, inst, "is_null"), DefaultVal(ValTypeExternref)))

	null := call1(t, store, exportedFunc(t, inst, "identity"), DefaultVal(ValTypeExternref))
	require.True(t, null.ExternRef().IsNull())
	require.Nil(t, null.ExternRef().Downcast(store))
}

func TestInstantiate_LinkErrors(t *testing.T) {
	e := NewEngine()
	store, other := NewStore(e), NewStore(e)
	mod := compileModule(t, e, &wasm.Module{
		TypeSection:   []*wasm.FunctionType{i32_i32},
		ImportSection: []*wasm.Import{{Type: wasm.ExternTypeFunc, Module: "env", Name: "f", DescFunc: 0}},
	})
	matching, err := WrapFunc(store, func(x int32) int32 { return x })
	require.NoError(t, err)
	wrongType, err := WrapFunc(store, func(x int64) int64 { return x })
	require.NoError(t, err)
	otherStore, err := WrapFunc(other, func(x int32) int32 { return x })
	require.NoError(t, err)
	mem, err := NewMemory(store, MemoryType{Min: 1})
	require.NoError(t, err)

	tests := []struct {
		name        string
		imports     *Imports
		expectedErr error
		expectedMsg string
	}{
		{
			name:        "nil imports",
			imports:     nil,
			expectedErr: ErrImportNotFound,
			expectedMsg: `link error on import "env"."f": unknown import`,
		},
		{
			name:        "wrong name",
			imports:     NewImports().Define("env", "g", matching),
			expectedErr: ErrImportNotFound,
			expectedMsg: `link error on import "env"."f": unknown import`,
		},
		{
			name:        "wrong kind",
			imports:     NewImports().Define("env", "f", mem),
			expectedErr: ErrImportMismatch,
			expectedMsg: `link error on import "env"."f": incompatible import type: expected func, but was memory`,
		},
		{
			name:        "wrong signature",
			imports:     NewImports().Define("env", "f", wrongType),
			expectedErr: ErrImportMismatch,
			expectedMsg: `link error on import "env"."f": incompatible import type: signature mismatch: (i32) -> i32 != (i64) -> i64`,
		},
		{
			name:        "other store",
			imports:     NewImports().Define("env", "f", otherStore),
			expectedErr: ErrImportStore,
			expectedMsg: `link error on import "env"."f": import belongs to a different store`,
		},
	}
	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			_, err := mod.Instantiate(store, tc.imports)
			require.ErrorIs(t, err, tc.expectedErr)
			var lerr *LinkError
			require.True(t, errors.As(err, &lerr))
			require.EqualError(t, err, tc.expectedMsg)
		})
	}

	_, err = mod.Instantiate(store, NewImports().Define("env", "f", matching))
	require.NoError(t, err)
}

func TestInstantiate_SegmentOutOfBounds(t *testing.T) {
	store := NewStore(NewEngine())
	mod := compileModule(t, store.Engine(), &wasm.Module{
		MemorySection: []*wasm.MemoryType{{Min: 0}},
		DataSection: []*wasm.DataSegment{{
			Mode:             wasm.DataModeActive,
			OffsetExpression: &wasm.ConstantExpression{Opcode: wasm.OpcodeI32Const, Data: []byte{0}},
			Init:             []byte{1},
		}},
	})
	_, err := mod.Instantiate(store, nil)
	require.ErrorIs(t, err, ErrOutOfBoundsMemoryAccess)
}

func TestInstantiate_StartTraps(t *testing.T) {
	store := NewStore(NewEngine())
	start := wasm.Index(0)
	mod := compileModule(t, store.Engine(), &wasm.Module{
		TypeSection:     []*wasm.FunctionType{v_v},
		FunctionSection: []wasm.Index{0},
		CodeSection:     []*wasm.Code{{Body: []byte{wasm.OpcodeUnreachable, wasm.OpcodeEnd}}},
		StartSection:    &start,
	})
	_, err := mod.Instantiate(store, nil)
	require.ErrorIs(t, err, ErrUnreachable)
	require.Zero(t, store.StackDepth())
}

func TestModule_ImportsExports(t *testing.T) {
	two := uint32(2)
	store := NewStore(NewEngine())
	mod := compileModule(t, store.Engine(), &wasm.Module{
		TypeSection: []*wasm.FunctionType{i32_i32, v_v},
		ImportSection: []*wasm.Import{
			{Type: wasm.ExternTypeFunc, Module: "env", Name: "f", DescFunc: 0},
			{Type: wasm.ExternTypeMemory, Module: "env", Name: "mem", DescMem: &wasm.MemoryType{Min: 1, Max: &two}},
			{Type: wasm.ExternTypeGlobal, Module: "env", Name: "g", DescGlobal: &wasm.GlobalType{ValType: i64}},
		},
		FunctionSection: []wasm.Index{1},
		CodeSection:     []*wasm.Code{{Body: []byte{wasm.OpcodeEnd}}},
		TableSection:    []*wasm.TableType{{ElemType: wasm.RefTypeExternref, Limits: wasm.LimitsType{Min: 1}}},
		ExportSection: []*wasm.Export{
			{Type: wasm.ExternTypeFunc, Name: "run", Index: 1},
			{Type: wasm.ExternTypeFunc, Name: "f", Index: 0},
			{Type: wasm.ExternTypeTable, Name: "t", Index: 0},
			{Type: wasm.ExternTypeMemory, Name: "mem", Index: 0},
			{Type: wasm.ExternTypeGlobal, Name: "g", Index: 0},
		},
	})

	var imports []string
	for _, im := range mod.Imports() {
		imports = append(imports, im.Module+"."+im.Name+": "+im.Type.String())
	}
	require.Equal(t, []string{
		"env.f: func (i32) -> i32",
		"env.mem: memory {min: 1, max: 2}",
		"env.g: global i64",
	}, imports)

	var exports []string
	for _, ex := range mod.Exports() {
		exports = append(exports, ex.Name+": "+ex.Type.String())
	}
	require.Equal(t, []string{
		"run: func () -> ()",
		"f: func (i32) -> i32",
		"t: table externref {min: 1}",
		"mem: memory {min: 1, max: 2}",
		"g: global i64",
	}, exports)
}

func TestInstance_Exports(t *testing.T) {
	store := NewStore(NewEngine())
	inst := instantiateModule(t, store, &wasm.Module{
		TypeSection:     []*wasm.FunctionType{v_v},
		FunctionSection: []wasm.Index{0},
		CodeSection:     []*wasm.Code{{Body: []byte{wasm.OpcodeEnd}}},
		MemorySection:   []*wasm.MemoryType{{Min: 1}},
		ExportSection: []*wasm.Export{
			{Type: wasm.ExternTypeMemory, Name: "mem", Index: 0},
			{Type: wasm.ExternTypeFunc, Name: "run", Index: 0},
		},
	}, nil)
	require.Equal(t, []string{"mem", "run"}, inst.Exports())
	require.Same(t, store, inst.Store())

	e, ok := inst.Export("run")
	require.True(t, ok)
	require.Equal(t, ExternKindFunc, e.Kind())

	_, ok = inst.Export("missing")
	require.False(t, ok)
	_, ok = inst.Func("mem")
	require.False(t, ok)
	_, ok = inst.Memory("run")
	require.False(t, ok)
	_, ok = inst.Global("run")
	require.False(t, ok)
	_, ok = inst.Table("run")
	require.False(t, ok)
}
