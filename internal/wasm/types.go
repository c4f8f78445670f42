package wasm

import (
	"fmt"
	"strings"
)

// ValueType is the binary encoding of a type such as i32
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-valtype
//
// Note: This is a type alias as it is easier to encode and decode in the binary format.
type ValueType = byte

const (
	ValueTypeI32       ValueType = 0x7f
	ValueTypeI64       ValueType = 0x7e
	ValueTypeF32       ValueType = 0x7d
	ValueTypeF64       ValueType = 0x7c
	ValueTypeFuncref   ValueType = 0x70
	ValueTypeExternref ValueType = 0x6f
)

// RefType is the subset of ValueType usable as a table element type.
type RefType = ValueType

const (
	RefTypeFuncref   = ValueTypeFuncref
	RefTypeExternref = ValueTypeExternref
)

// ValueTypeName returns the type name of the given ValueType as a string.
// These type names match the names used in the WebAssembly text format.
//
// Note: This returns "unknown", if an undefined ValueType value is passed.
func ValueTypeName(t ValueType) string {
	switch t {
	case ValueTypeI32:
		return "i32"
	case ValueTypeI64:
		return "i64"
	case ValueTypeF32:
		return "f32"
	case ValueTypeF64:
		return "f64"
	case ValueTypeFuncref:
		return "funcref"
	case ValueTypeExternref:
		return "externref"
	}
	return "unknown"
}

// IsValueType returns true if b is the encoding of a ValueType.
func IsValueType(b byte) bool {
	switch b {
	case ValueTypeI32, ValueTypeI64, ValueTypeF32, ValueTypeF64, ValueTypeFuncref, ValueTypeExternref:
		return true
	}
	return false
}

// IsRefType returns true for funcref and externref.
func IsRefType(t ValueType) bool {
	return t == ValueTypeFuncref || t == ValueTypeExternref
}

// RegIdx pairs a value type with one of the two registers of a call frame: integer and reference types use register
// zero, floating point types use register one.
func RegIdx(t ValueType) int {
	switch t {
	case ValueTypeF32, ValueTypeF64:
		return 1
	}
	return 0
}

// FunctionType is a possibly empty function signature.
//
// Params and results are held in one slice split at numParams.
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#function-types%E2%91%A0
type FunctionType struct {
	types     []ValueType
	numParams int
}

// NewFunctionType copies params and results into a new FunctionType.
func NewFunctionType(params, results []ValueType) *FunctionType {
	types := make([]ValueType, 0, len(params)+len(results))
	types = append(types, params...)
	types = append(types, results...)
	return &FunctionType{types: types, numParams: len(params)}
}

// Params are the possibly empty sequence of value types accepted by a function with this signature.
func (t *FunctionType) Params() []ValueType {
	return t.types[:t.numParams:t.numParams]
}

// Results are the possibly empty sequence of value types returned by a function with this signature.
func (t *FunctionType) Results() []ValueType {
	return t.types[t.numParams:len(t.types):len(t.types)]
}

// Equal returns true if both types have the same params and results.
func (t *FunctionType) Equal(o *FunctionType) bool {
	if t == o {
		return true
	}
	if t.numParams != o.numParams || len(t.types) != len(o.types) {
		return false
	}
	for i, v := range t.types {
		if o.types[i] != v {
			return false
		}
	}
	return true
}

// CallFrameSize is the number of slots a call to a function of this type needs below the callee's locals: room for
// params or results, whichever is larger, plus the CallFrameHeaderSize header.
func (t *FunctionType) CallFrameSize() int {
	return t.ParamResultSlots() + CallFrameHeaderSize
}

// ParamResultSlots is max(len(params), len(results)).
func (t *FunctionType) ParamResultSlots() int {
	r := len(t.types) - t.numParams
	if t.numParams > r {
		return t.numParams
	}
	return r
}

// key is the structural encoding used to intern the type.
func (t *FunctionType) key() string {
	var b strings.Builder
	b.Grow(len(t.types) + 1)
	b.Write(t.types[:t.numParams])
	b.WriteByte(0)
	b.Write(t.types[t.numParams:])
	return b.String()
}

// String returns the signature in the text format, ex. "(i32, i32) -> i32"
func (t *FunctionType) String() string {
	var b strings.Builder
	b.WriteByte('(')
	for i, p := range t.Params() {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(ValueTypeName(p))
	}
	b.WriteString(") -> ")
	results := t.Results()
	if len(results) != 1 {
		b.WriteByte('(')
	}
	for i, r := range results {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(ValueTypeName(r))
	}
	if len(results) != 1 {
		b.WriteByte(')')
	}
	return b.String()
}

// CallFrameHeaderSize is the number of slots between the params/results of a frame and its locals: the return pc,
// the caller's frame pointer, the caller's function and the caller's instance.
const CallFrameHeaderSize = 4

var (
	blockTypeEmpty     = NewFunctionType(nil, nil)
	blockTypeI32       = NewFunctionType(nil, []ValueType{ValueTypeI32})
	blockTypeI64       = NewFunctionType(nil, []ValueType{ValueTypeI64})
	blockTypeF32       = NewFunctionType(nil, []ValueType{ValueTypeF32})
	blockTypeF64       = NewFunctionType(nil, []ValueType{ValueTypeF64})
	blockTypeFuncref   = NewFunctionType(nil, []ValueType{ValueTypeFuncref})
	blockTypeExternref = NewFunctionType(nil, []ValueType{ValueTypeExternref})
)

// FunctionTypeFromValueType returns the pseudo-signature of a block with no params and at most one result: nil
// yields () -> () and a value type t yields () -> (t). The results are shared and must not be modified.
func FunctionTypeFromValueType(t *ValueType) *FunctionType {
	if t == nil {
		return blockTypeEmpty
	}
	switch *t {
	case ValueTypeI32:
		return blockTypeI32
	case ValueTypeI64:
		return blockTypeI64
	case ValueTypeF32:
		return blockTypeF32
	case ValueTypeF64:
		return blockTypeF64
	case ValueTypeFuncref:
		return blockTypeFuncref
	case ValueTypeExternref:
		return blockTypeExternref
	}
	panic(fmt.Errorf("BUG: unknown value type %#x", *t))
}

// LimitsType are the bounds of a table or memory.
type LimitsType struct {
	Min uint32
	Max *uint32
}

// subtypeOf implements limit matching for imports: the actual limits must be at least as strict as the expected.
func (l *LimitsType) subtypeOf(expected *LimitsType) bool {
	if l.Min < expected.Min {
		return false
	}
	if expected.Max == nil {
		return true
	}
	return l.Max != nil && *l.Max <= *expected.Max
}

func (l *LimitsType) String() string {
	if l.Max == nil {
		return fmt.Sprintf("{min: %d}", l.Min)
	}
	return fmt.Sprintf("{min: %d, max: %d}", l.Min, *l.Max)
}

// MemoryType is the limits of a memory, in pages.
type MemoryType = LimitsType

// TableType is the element type and limits of a table.
type TableType struct {
	ElemType RefType
	Limits   LimitsType
}

// GlobalType is the value type and mutability of a global.
type GlobalType struct {
	ValType ValueType
	Mutable bool
}

func (g *GlobalType) String() string {
	if g.Mutable {
		return "(mut " + ValueTypeName(g.ValType) + ")"
	}
	return ValueTypeName(g.ValType)
}

// ExternType classifies imports and exports with their respective types.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#external-types%E2%91%A0
type ExternType = byte

const (
	ExternTypeFunc   ExternType = 0x00
	ExternTypeTable  ExternType = 0x01
	ExternTypeMemory ExternType = 0x02
	ExternTypeGlobal ExternType = 0x03
)

// ExternTypeName returns the name of the WebAssembly Text Format field of the given type.
func ExternTypeName(et ExternType) string {
	switch et {
	case ExternTypeFunc:
		return "func"
	case ExternTypeTable:
		return "table"
	case ExternTypeMemory:
		return "memory"
	case ExternTypeGlobal:
		return "global"
	}
	return fmt.Sprintf("%#x", et)
}
