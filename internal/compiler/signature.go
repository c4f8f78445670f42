package compiler

import (
	"github.com/tetratelabs/stitch/internal/wasm"
)

// signature is the operand and result types of a numeric instruction.
type signature struct {
	in     []wasm.ValueType
	out    wasm.ValueType
	binary bool
}

var (
	i32, i64, f32, f64 = wasm.ValueTypeI32, wasm.ValueTypeI64, wasm.ValueTypeF32, wasm.ValueTypeF64

	signatureI32_I32     = &signature{in: []wasm.ValueType{i32}, out: i32}
	signatureI32I32_I32  = &signature{in: []wasm.ValueType{i32, i32}, out: i32, binary: true}
	signatureI64_I32     = &signature{in: []wasm.ValueType{i64}, out: i32}
	signatureI64I64_I32  = &signature{in: []wasm.ValueType{i64, i64}, out: i32, binary: true}
	signatureF32F32_I32  = &signature{in: []wasm.ValueType{f32, f32}, out: i32, binary: true}
	signatureF64F64_I32  = &signature{in: []wasm.ValueType{f64, f64}, out: i32, binary: true}
	signatureI64_I64     = &signature{in: []wasm.ValueType{i64}, out: i64}
	signatureI64I64_I64  = &signature{in: []wasm.ValueType{i64, i64}, out: i64, binary: true}
	signatureF32_F32     = &signature{in: []wasm.ValueType{f32}, out: f32}
	signatureF32F32_F32  = &signature{in: []wasm.ValueType{f32, f32}, out: f32, binary: true}
	signatureF64_F64     = &signature{in: []wasm.ValueType{f64}, out: f64}
	signatureF64F64_F64  = &signature{in: []wasm.ValueType{f64, f64}, out: f64, binary: true}
	signatureF32_I32     = &signature{in: []wasm.ValueType{f32}, out: i32}
	signatureF64_I32     = &signature{in: []wasm.ValueType{f64}, out: i32}
	signatureI32_I64     = &signature{in: []wasm.ValueType{i32}, out: i64}
	signatureF32_I64     = &signature{in: []wasm.ValueType{f32}, out: i64}
	signatureF64_I64     = &signature{in: []wasm.ValueType{f64}, out: i64}
	signatureI32_F32     = &signature{in: []wasm.ValueType{i32}, out: f32}
	signatureI64_F32     = &signature{in: []wasm.ValueType{i64}, out: f32}
	signatureF64_F32     = &signature{in: []wasm.ValueType{f64}, out: f32}
	signatureI32_F64     = &signature{in: []wasm.ValueType{i32}, out: f64}
	signatureI64_F64     = &signature{in: []wasm.ValueType{i64}, out: f64}
	signatureF32_F64     = &signature{in: []wasm.ValueType{f32}, out: f64}
)

// numericSignatures are the signatures of the one byte numeric instructions, indexed by opcode.
var numericSignatures [256]*signature

// truncSatSignatures are the signatures of the saturating truncations, indexed by their misc opcode.
var truncSatSignatures = [...]*signature{
	wasm.OpcodeMiscI32TruncSatF32S: signatureF32_I32,
	wasm.OpcodeMiscI32TruncSatF32U: signatureF32_I32,
	wasm.OpcodeMiscI32TruncSatF64S: signatureF64_I32,
	wasm.OpcodeMiscI32TruncSatF64U: signatureF64_I32,
	wasm.OpcodeMiscI64TruncSatF32S: signatureF32_I64,
	wasm.OpcodeMiscI64TruncSatF32U: signatureF32_I64,
	wasm.OpcodeMiscI64TruncSatF64S: signatureF64_I64,
	wasm.OpcodeMiscI64TruncSatF64U: signatureF64_I64,
}

func init() {
	set := func(from, to wasm.Opcode, s *signature) {
		for op := int(from); op <= int(to); op++ {
			numericSignatures[op] = s
		}
	}
	set(wasm.OpcodeI32Eqz, wasm.OpcodeI32Eqz, signatureI32_I32)
	set(wasm.OpcodeI32Eq, wasm.OpcodeI32GeU, signatureI32I32_I32)
	set(wasm.OpcodeI64Eqz, wasm.OpcodeI64Eqz, signatureI64_I32)
	set(wasm.OpcodeI64Eq, wasm.OpcodeI64GeU, signatureI64I64_I32)
	set(wasm.OpcodeF32Eq, wasm.OpcodeF32Ge, signatureF32F32_I32)
	set(wasm.OpcodeF64Eq, wasm.OpcodeF64Ge, signatureF64F64_I32)
	set(wasm.OpcodeI32Clz, wasm.OpcodeI32Popcnt, signatureI32_I32)
	set(wasm.OpcodeI32Add, wasm.OpcodeI32Rotr, signatureI32I32_I32)
	set(wasm.OpcodeI64Clz, wasm.OpcodeI64Popcnt, signatureI64_I64)
	set(wasm.OpcodeI64Add, wasm.OpcodeI64Rotr, signatureI64I64_I64)
	set(wasm.OpcodeF32Abs, wasm.OpcodeF32Sqrt, signatureF32_F32)
	set(wasm.OpcodeF32Add, wasm.OpcodeF32Copysign, signatureF32F32_F32)
	set(wasm.OpcodeF64Abs, wasm.OpcodeF64Sqrt, signatureF64_F64)
	set(wasm.OpcodeF64Add, wasm.OpcodeF64Copysign, signatureF64F64_F64)
	set(wasm.OpcodeI32WrapI64, wasm.OpcodeI32WrapI64, signatureI64_I32)
	set(wasm.OpcodeI32TruncF32S, wasm.OpcodeI32TruncF32U, signatureF32_I32)
	set(wasm.OpcodeI32TruncF64S, wasm.OpcodeI32TruncF64U, signatureF64_I32)
	set(wasm.OpcodeI64ExtendI32S, wasm.OpcodeI64ExtendI32U, signatureI32_I64)
	set(wasm.OpcodeI64TruncF32S, wasm.OpcodeI64TruncF32U, signatureF32_I64)
	set(wasm.OpcodeI64TruncF64S, wasm.OpcodeI64TruncF64U, signatureF64_I64)
	set(wasm.OpcodeF32ConvertI32S, wasm.OpcodeF32ConvertI32U, signatureI32_F32)
	set(wasm.OpcodeF32ConvertI64S, wasm.OpcodeF32ConvertI64U, signatureI64_F32)
	set(wasm.OpcodeF32DemoteF64, wasm.OpcodeF32DemoteF64, signatureF64_F32)
	set(wasm.OpcodeF64ConvertI32S, wasm.OpcodeF64ConvertI32U, signatureI32_F64)
	set(wasm.OpcodeF64ConvertI64S, wasm.OpcodeF64ConvertI64U, signatureI64_F64)
	set(wasm.OpcodeF64PromoteF32, wasm.OpcodeF64PromoteF32, signatureF32_F64)
	set(wasm.OpcodeI32ReinterpretF32, wasm.OpcodeI32ReinterpretF32, signatureF32_I32)
	set(wasm.OpcodeI64ReinterpretF64, wasm.OpcodeI64ReinterpretF64, signatureF64_I64)
	set(wasm.OpcodeF32ReinterpretI32, wasm.OpcodeF32ReinterpretI32, signatureI32_F32)
	set(wasm.OpcodeF64ReinterpretI64, wasm.OpcodeF64ReinterpretI64, signatureI64_F64)
	set(wasm.OpcodeI32Extend8S, wasm.OpcodeI32Extend16S, signatureI32_I32)
	set(wasm.OpcodeI64Extend8S, wasm.OpcodeI64Extend32S, signatureI64_I64)
}

// memoryAccess is the value type and natural alignment of a load or store.
type memoryAccess struct {
	valueType wasm.ValueType
	// alignment is the log2 of the access size in bytes.
	alignment uint32
	store     bool
}

// memoryAccesses are indexed by opcode minus wasm.OpcodeI32Load.
var memoryAccesses = [...]memoryAccess{
	wasm.OpcodeI32Load - wasm.OpcodeI32Load:    {i32, 2, false},
	wasm.OpcodeI64Load - wasm.OpcodeI32Load:    {i64, 3, false},
	wasm.OpcodeF32Load - wasm.OpcodeI32Load:    {f32, 2, false},
	wasm.OpcodeF64Load - wasm.OpcodeI32Load:    {f64, 3, false},
	wasm.OpcodeI32Load8S - wasm.OpcodeI32Load:  {i32, 0, false},
	wasm.OpcodeI32Load8U - wasm.OpcodeI32Load:  {i32, 0, false},
	wasm.OpcodeI32Load16S - wasm.OpcodeI32Load: {i32, 1, false},
	wasm.OpcodeI32Load16U - wasm.OpcodeI32Load: {i32, 1, false},
	wasm.OpcodeI64Load8S - wasm.OpcodeI32Load:  {i64, 0, false},
	wasm.OpcodeI64Load8U - wasm.OpcodeI32Load:  {i64, 0, false},
	wasm.OpcodeI64Load16S - wasm.OpcodeI32Load: {i64, 1, false},
	wasm.OpcodeI64Load16U - wasm.OpcodeI32Load: {i64, 1, false},
	wasm.OpcodeI64Load32S - wasm.OpcodeI32Load: {i64, 2, false},
	wasm.OpcodeI64Load32U - wasm.OpcodeI32Load: {i64, 2, false},
	wasm.OpcodeI32Store - wasm.OpcodeI32Load:   {i32, 2, true},
	wasm.OpcodeI64Store - wasm.OpcodeI32Load:   {i64, 3, true},
	wasm.OpcodeF32Store - wasm.OpcodeI32Load:   {f32, 2, true},
	wasm.OpcodeF64Store - wasm.OpcodeI32Load:   {f64, 3, true},
	wasm.OpcodeI32Store8 - wasm.OpcodeI32Load:  {i32, 0, true},
	wasm.OpcodeI32Store16 - wasm.OpcodeI32Load: {i32, 1, true},
	wasm.OpcodeI64Store8 - wasm.OpcodeI32Load:  {i64, 0, true},
	wasm.OpcodeI64Store16 - wasm.OpcodeI32Load: {i64, 1, true},
	wasm.OpcodeI64Store32 - wasm.OpcodeI32Load: {i64, 2, true},
}
