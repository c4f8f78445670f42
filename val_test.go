package stitch

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFuncTypeFromValType(t *testing.T) {
	tests := []struct {
		name     string
		input    *ValType
		expected []ValType
	}{
		{name: "nil", input: nil, expected: []ValType{}},
		{name: "i32", input: valTypePtr(ValTypeI32), expected: []ValType{ValTypeI32}},
		{name: "f64", input: valTypePtr(ValTypeF64), expected: []ValType{ValTypeF64}},
		{name: "externref", input: valTypePtr(ValTypeExternref), expected: []ValType{ValTypeExternref}},
	}
	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			ft := FuncTypeFromValType(tc.input)
			require.Empty(t, ft.Params())
			require.Equal(t, tc.expected, ft.Results())
		})
	}
}

func valTypePtr(t ValType) *ValType {
	return &t
}

func TestFuncType(t *testing.T) {
	a := NewFuncType([]ValType{ValTypeI32, ValTypeI64}, []ValType{ValTypeF32})
	b := NewFuncType([]ValType{ValTypeI32, ValTypeI64}, []ValType{ValTypeF32})
	c := NewFuncType([]ValType{ValTypeI32}, []ValType{ValTypeI64, ValTypeF32})
	require.True(t, a.Equal(b))
	require.False(t, a.Equal(c))
	require.Equal(t, "(i32, i64) -> f32", a.String())
	require.Equal(t, "(i32) -> (i64, f32)", c.String())

	var zero FuncType
	require.True(t, zero.Equal(NewFuncType(nil, nil)))
	require.Equal(t, "() -> ()", zero.String())
}

func TestFuncType_InternedPerStore(t *testing.T) {
	store := NewStore(NewEngine())
	f1, err := WrapFunc(store, func(int32) int64 { return 0 })
	require.NoError(t, err)
	f2 := NewHostFunc(store, NewFuncType([]ValType{ValTypeI32}, []ValType{ValTypeI64}), func(*Caller, []Val, []Val) error {
		return nil
	})
	fi1, fi2 := store.s.Function(f1.h), store.s.Function(f2.h)
	require.Equal(t, fi1.TypeID, fi2.TypeID)
	require.True(t, f1.Type(store).Equal(f2.Type(store)))
}

func TestVal(t *testing.T) {
	tests := []struct {
		name         string
		val          Val
		expectedType ValType
		expectedStr  string
	}{
		{name: "i32", val: ValI32(-1), expectedType: ValTypeI32, expectedStr: "i32(-1)"},
		{name: "i64", val: ValI64(math.MinInt64), expectedType: ValTypeI64, expectedStr: "i64(-9223372036854775808)"},
		{name: "f32", val: ValF32(1.5), expectedType: ValTypeF32, expectedStr: "f32(1.5)"},
		{name: "f64", val: ValF64(-0.25), expectedType: ValTypeF64, expectedStr: "f64(-0.25)"},
		{name: "null funcref", val: ValFuncRef(FuncRef{}), expectedType: ValTypeFuncref, expectedStr: "funcref(null)"},
		{name: "null externref", val: DefaultVal(ValTypeExternref), expectedType: ValTypeExternref, expectedStr: "externref(null)"},
	}
	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expectedType, tc.val.Type())
			require.Equal(t, tc.expectedStr, tc.val.String())
		})
	}

	require.Equal(t, int32(-1), ValI32(-1).I32())
	require.Equal(t, int64(math.MinInt64), ValI64(math.MinInt64).I64())
	require.Equal(t, float32(1.5), ValF32(1.5).F32())
	require.Equal(t, -0.25, ValF64(-0.25).F64())
	require.True(t, math.IsNaN(ValF64(math.NaN()).F64()))
}

func TestDefaultVal(t *testing.T) {
	for _, vt := range []ValType{ValTypeI32, ValTypeI64, ValTypeF32, ValTypeF64} {
		v := DefaultVal(vt)
		require.Equal(t, vt, v.Type())
		require.Zero(t, v.I64())
	}
	require.True(t, DefaultVal(ValTypeFuncref).FuncRef().IsNull())
	require.True(t, DefaultVal(ValTypeExternref).ExternRef().IsNull())
}

func TestValType(t *testing.T) {
	tests := []struct {
		vt       ValType
		name     string
		isRef    bool
		regIndex int
	}{
		{vt: ValTypeI32, name: "i32", regIndex: 0},
		{vt: ValTypeI64, name: "i64", regIndex: 0},
		{vt: ValTypeF32, name: "f32", regIndex: 1},
		{vt: ValTypeF64, name: "f64", regIndex: 1},
		{vt: ValTypeFuncref, name: "funcref", isRef: true, regIndex: 0},
		{vt: ValTypeExternref, name: "externref", isRef: true, regIndex: 0},
	}
	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.name, tc.vt.String())
			require.Equal(t, tc.isRef, tc.vt.IsRef())
			require.Equal(t, tc.regIndex, tc.vt.RegIdx())
		})
	}
}
