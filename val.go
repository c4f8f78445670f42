package stitch

import (
	"fmt"
	"math"

	"github.com/tetratelabs/stitch/internal/wasm"
)

// ValType is the type of a Val, using the binary encoding of the value type.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-valtype
type ValType byte

const (
	ValTypeI32       = ValType(wasm.ValueTypeI32)
	ValTypeI64       = ValType(wasm.ValueTypeI64)
	ValTypeF32       = ValType(wasm.ValueTypeF32)
	ValTypeF64       = ValType(wasm.ValueTypeF64)
	ValTypeFuncref   = ValType(wasm.ValueTypeFuncref)
	ValTypeExternref = ValType(wasm.ValueTypeExternref)
)

// RefType is a ValType usable as a table element type: ValTypeFuncref or ValTypeExternref.
type RefType = ValType

// String returns the name of the type in the text format, ex. "i32".
func (t ValType) String() string {
	return wasm.ValueTypeName(wasm.ValueType(t))
}

// IsRef returns true for ValTypeFuncref and ValTypeExternref.
func (t ValType) IsRef() bool {
	return wasm.IsRefType(wasm.ValueType(t))
}

// RegIdx is the register of a call frame which holds values of this type: zero for integers and references, one for
// floats.
func (t ValType) RegIdx() int {
	return wasm.RegIdx(wasm.ValueType(t))
}

func toValTypes(ts []wasm.ValueType) []ValType {
	ret := make([]ValType, len(ts))
	for i, t := range ts {
		ret[i] = ValType(t)
	}
	return ret
}

func fromValTypes(ts []ValType) []wasm.ValueType {
	ret := make([]wasm.ValueType, len(ts))
	for i, t := range ts {
		ret[i] = wasm.ValueType(t)
	}
	return ret
}

// Val is a value of any ValType. The zero value is invalid: use DefaultVal or one of the constructors.
//
// A non-null reference belongs to the Store which created its entity.
type Val struct {
	typ  ValType
	bits uint64
	// store is the owner of a non-null reference.
	store wasm.StoreID
}

func ValI32(v int32) Val {
	return Val{typ: ValTypeI32, bits: uint64(uint32(v))}
}

func ValI64(v int64) Val {
	return Val{typ: ValTypeI64, bits: uint64(v)}
}

func ValF32(v float32) Val {
	return Val{typ: ValTypeF32, bits: uint64(math.Float32bits(v))}
}

func ValF64(v float64) Val {
	return Val{typ: ValTypeF64, bits: math.Float64bits(v)}
}

func ValFuncRef(r FuncRef) Val {
	if !r.valid {
		return Val{typ: ValTypeFuncref}
	}
	h := r.fn.h
	return Val{typ: ValTypeFuncref, bits: wasm.FunctionReference(h.Unguard()), store: h.Store}
}

func ValExternRef(r ExternRef) Val {
	if !r.valid {
		return Val{typ: ValTypeExternref}
	}
	return Val{typ: ValTypeExternref, bits: wasm.ExternReference(r.h.Unguard()), store: r.h.Store}
}

// DefaultVal returns the zero value of t: zero for numbers and null for references. Locals, globals and table
// elements start from this value.
func DefaultVal(t ValType) Val {
	return Val{typ: t}
}

func (v Val) Type() ValType {
	return v.typ
}

// I32 returns the payload of an i32. The result is undefined for other types.
func (v Val) I32() int32 {
	return int32(v.bits)
}

func (v Val) I64() int64 {
	return int64(v.bits)
}

func (v Val) F32() float32 {
	return math.Float32frombits(uint32(v.bits))
}

func (v Val) F64() float64 {
	return math.Float64frombits(v.bits)
}

// FuncRef returns the payload of a funcref, which may be null.
func (v Val) FuncRef() FuncRef {
	if v.typ != ValTypeFuncref || v.bits == wasm.NullReference {
		return FuncRef{}
	}
	addr := wasm.FunctionAddress(wasm.ReferenceAddress(v.bits))
	return FuncRef{fn: Func{h: addr.Guard(v.store)}, valid: true}
}

// ExternRef returns the payload of an externref, which may be null.
func (v Val) ExternRef() ExternRef {
	if v.typ != ValTypeExternref || v.bits == wasm.NullReference {
		return ExternRef{}
	}
	addr := wasm.ExternAddress(wasm.ReferenceAddress(v.bits))
	return ExternRef{h: addr.Guard(v.store), valid: true}
}

// String implements fmt.Stringer
func (v Val) String() string {
	switch v.typ {
	case ValTypeI32:
		return fmt.Sprintf("i32(%d)", v.I32())
	case ValTypeI64:
		return fmt.Sprintf("i64(%d)", v.I64())
	case ValTypeF32:
		return fmt.Sprintf("f32(%v)", v.F32())
	case ValTypeF64:
		return fmt.Sprintf("f64(%v)", v.F64())
	case ValTypeFuncref, ValTypeExternref:
		if v.bits == wasm.NullReference {
			return v.typ.String() + "(null)"
		}
		return fmt.Sprintf("%s(%d)", v.typ, wasm.ReferenceAddress(v.bits))
	}
	return "invalid"
}

// raw returns the slot encoding of v in store s. A non-null reference of another store panics like a handle would.
func (v Val) raw(s *wasm.Store) uint64 {
	if v.typ.IsRef() && v.bits != wasm.NullReference && v.store != s.ID() {
		panic(fmt.Sprintf("handle of store %d used with store %d", v.store, s.ID()))
	}
	return v.bits
}

// valFromRaw decodes a slot of type t read from the store identified by id.
func valFromRaw(id wasm.StoreID, t ValType, raw uint64) Val {
	v := Val{typ: t, bits: raw}
	if t.IsRef() && raw != wasm.NullReference {
		v.store = id
	}
	return v
}

// FuncType is a function signature. The zero value is "() -> ()".
type FuncType struct {
	t *wasm.FunctionType
}

func NewFuncType(params, results []ValType) FuncType {
	return FuncType{t: wasm.NewFunctionType(fromValTypes(params), fromValTypes(results))}
}

// FuncTypeFromValType returns the signature of a block type: "() -> ()" for nil, otherwise "() -> t".
func FuncTypeFromValType(t *ValType) FuncType {
	if t == nil {
		return FuncType{t: wasm.FunctionTypeFromValueType(nil)}
	}
	vt := wasm.ValueType(*t)
	return FuncType{t: wasm.FunctionTypeFromValueType(&vt)}
}

func (f FuncType) internal() *wasm.FunctionType {
	if f.t == nil {
		return wasm.FunctionTypeFromValueType(nil)
	}
	return f.t
}

func (f FuncType) Params() []ValType {
	return toValTypes(f.internal().Params())
}

func (f FuncType) Results() []ValType {
	return toValTypes(f.internal().Results())
}

// Equal returns true when both have the same params and results.
func (f FuncType) Equal(o FuncType) bool {
	return f.internal().Equal(o.internal())
}

// String returns the signature in the text format, ex. "(i32, i32) -> i32"
func (f FuncType) String() string {
	return f.internal().String()
}

// TableType is the element type and size limits of a table.
type TableType struct {
	Elem RefType
	Min  uint32
	// Max is the maximum size, or nil when unbounded.
	Max *uint32
}

func tableTypeOf(tt *wasm.TableType) TableType {
	return TableType{Elem: ValType(tt.ElemType), Min: tt.Limits.Min, Max: tt.Limits.Max}
}

// MemoryType is the size limits of a memory, in 64KiB pages.
type MemoryType struct {
	Min uint32
	// Max is the maximum size, or nil to use the limit of the Engine.
	Max *uint32
}

func memoryTypeOf(mt *wasm.MemoryType) MemoryType {
	return MemoryType{Min: mt.Min, Max: mt.Max}
}

// GlobalType is the value type and mutability of a global.
type GlobalType struct {
	Val     ValType
	Mutable bool
}

func globalTypeOf(gt *wasm.GlobalType) GlobalType {
	return GlobalType{Val: ValType(gt.ValType), Mutable: gt.Mutable}
}
