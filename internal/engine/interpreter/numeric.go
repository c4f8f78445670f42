package interpreter

import (
	"fmt"
	"math"
	"math/bits"

	"github.com/tetratelabs/stitch/internal/compiler"
	"github.com/tetratelabs/stitch/internal/moremath"
	"github.com/tetratelabs/stitch/internal/wasm"
	"github.com/tetratelabs/stitch/internal/wasmruntime"
)

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func asF32(v uint64) float32 {
	return math.Float32frombits(uint32(v))
}

func asF64(v uint64) float64 {
	return math.Float64frombits(v)
}

// f32Result is the slot of a float32 arithmetic result, with NaN canonicalized.
func f32Result(v float32) uint64 {
	return uint64(math.Float32bits(moremath.CanonicalizeF32(v)))
}

// f64Result is the slot of a float64 arithmetic result, with NaN canonicalized.
func f64Result(v float64) uint64 {
	return math.Float64bits(moremath.CanonicalizeF64(v))
}

const (
	f32SignBit = uint64(1) << 31
	f64SignBit = uint64(1) << 63
)

// numeric executes the instruction op whose operands are slots A and B of frame, writing slot C.
func numeric(op wasm.Opcode, o *compiler.Op, frame []uint64) {
	x, y := frame[o.A], frame[o.B]
	var r uint64
	switch op {
	case wasm.OpcodeI32Eqz:
		r = b2u(uint32(x) == 0)
	case wasm.OpcodeI32Eq:
		r = b2u(uint32(x) == uint32(y))
	case wasm.OpcodeI32Ne:
		r = b2u(uint32(x) != uint32(y))
	case wasm.OpcodeI32LtS:
		r = b2u(int32(x) < int32(y))
	case wasm.OpcodeI32LtU:
		r = b2u(uint32(x) < uint32(y))
	case wasm.OpcodeI32GtS:
		r = b2u(int32(x) > int32(y))
	case wasm.OpcodeI32GtU:
		r = b2u(uint32(x) > uint32(y))
	case wasm.OpcodeI32LeS:
		r = b2u(int32(x) <= int32(y))
	case wasm.OpcodeI32LeU:
		r = b2u(uint32(x) <= uint32(y))
	case wasm.OpcodeI32GeS:
		r = b2u(int32(x) >= int32(y))
	case wasm.OpcodeI32GeU:
		r = b2u(uint32(x) >= uint32(y))

	case wasm.OpcodeI64Eqz:
		r = b2u(x == 0)
	case wasm.OpcodeI64Eq:
		r = b2u(x == y)
	case wasm.OpcodeI64Ne:
		r = b2u(x != y)
	case wasm.OpcodeI64LtS:
		r = b2u(int64(x) < int64(y))
	case wasm.OpcodeI64LtU:
		r = b2u(x < y)
	case wasm.OpcodeI64GtS:
		r = b2u(int64(x) > int64(y))
	case wasm.OpcodeI64GtU:
		r = b2u(x > y)
	case wasm.OpcodeI64LeS:
		r = b2u(int64(x) <= int64(y))
	case wasm.OpcodeI64LeU:
		r = b2u(x <= y)
	case wasm.OpcodeI64GeS:
		r = b2u(int64(x) >= int64(y))
	case wasm.OpcodeI64GeU:
		r = b2u(x >= y)

	case wasm.OpcodeF32Eq:
		r = b2u(asF32(x) == asF32(y))
	case wasm.OpcodeF32Ne:
		r = b2u(asF32(x) != asF32(y))
	case wasm.OpcodeF32Lt:
		r = b2u(asF32(x) < asF32(y))
	case wasm.OpcodeF32Gt:
		r = b2u(asF32(x) > asF32(y))
	case wasm.OpcodeF32Le:
		r = b2u(asF32(x) <= asF32(y))
	case wasm.OpcodeF32Ge:
		r = b2u(asF32(x) >= asF32(y))

	case wasm.OpcodeF64Eq:
		r = b2u(asF64(x) == asF64(y))
	case wasm.OpcodeF64Ne:
		r = b2u(asF64(x) != asF64(y))
	case wasm.OpcodeF64Lt:
		r = b2u(asF64(x) < asF64(y))
	case wasm.OpcodeF64Gt:
		r = b2u(asF64(x) > asF64(y))
	case wasm.OpcodeF64Le:
		r = b2u(asF64(x) <= asF64(y))
	case wasm.OpcodeF64Ge:
		r = b2u(asF64(x) >= asF64(y))

	case wasm.OpcodeI32Clz:
		r = uint64(bits.LeadingZeros32(uint32(x)))
	case wasm.OpcodeI32Ctz:
		r = uint64(bits.TrailingZeros32(uint32(x)))
	case wasm.OpcodeI32Popcnt:
		r = uint64(bits.OnesCount32(uint32(x)))
	case wasm.OpcodeI32Add:
		r = uint64(uint32(x) + uint32(y))
	case wasm.OpcodeI32Sub:
		r = uint64(uint32(x) - uint32(y))
	case wasm.OpcodeI32Mul:
		r = uint64(uint32(x) * uint32(y))
	case wasm.OpcodeI32DivS:
		a, b := int32(x), int32(y)
		if b == 0 {
			panic(wasmruntime.ErrRuntimeIntegerDivideByZero)
		} else if a == math.MinInt32 && b == -1 {
			panic(wasmruntime.ErrRuntimeIntegerOverflow)
		}
		r = uint64(uint32(a / b))
	case wasm.OpcodeI32DivU:
		if uint32(y) == 0 {
			panic(wasmruntime.ErrRuntimeIntegerDivideByZero)
		}
		r = uint64(uint32(x) / uint32(y))
	case wasm.OpcodeI32RemS:
		a, b := int32(x), int32(y)
		if b == 0 {
			panic(wasmruntime.ErrRuntimeIntegerDivideByZero)
		}
		r = uint64(uint32(a % b))
	case wasm.OpcodeI32RemU:
		if uint32(y) == 0 {
			panic(wasmruntime.ErrRuntimeIntegerDivideByZero)
		}
		r = uint64(uint32(x) % uint32(y))
	case wasm.OpcodeI32And:
		r = uint64(uint32(x) & uint32(y))
	case wasm.OpcodeI32Or:
		r = uint64(uint32(x) | uint32(y))
	case wasm.OpcodeI32Xor:
		r = uint64(uint32(x) ^ uint32(y))
	case wasm.OpcodeI32Shl:
		r = uint64(uint32(x) << (uint32(y) % 32))
	case wasm.OpcodeI32ShrS:
		r = uint64(uint32(int32(x) >> (uint32(y) % 32)))
	case wasm.OpcodeI32ShrU:
		r = uint64(uint32(x) >> (uint32(y) % 32))
	case wasm.OpcodeI32Rotl:
		r = uint64(bits.RotateLeft32(uint32(x), int(uint32(y)%32)))
	case wasm.OpcodeI32Rotr:
		r = uint64(bits.RotateLeft32(uint32(x), -int(uint32(y)%32)))

	case wasm.OpcodeI64Clz:
		r = uint64(bits.LeadingZeros64(x))
	case wasm.OpcodeI64Ctz:
		r = uint64(bits.TrailingZeros64(x))
	case wasm.OpcodeI64Popcnt:
		r = uint64(bits.OnesCount64(x))
	case wasm.OpcodeI64Add:
		r = x + y
	case wasm.OpcodeI64Sub:
		r = x - y
	case wasm.OpcodeI64Mul:
		r = x * y
	case wasm.OpcodeI64DivS:
		a, b := int64(x), int64(y)
		if b == 0 {
			panic(wasmruntime.ErrRuntimeIntegerDivideByZero)
		} else if a == math.MinInt64 && b == -1 {
			panic(wasmruntime.ErrRuntimeIntegerOverflow)
		}
		r = uint64(a / b)
	case wasm.OpcodeI64DivU:
		if y == 0 {
			panic(wasmruntime.ErrRuntimeIntegerDivideByZero)
		}
		r = x / y
	case wasm.OpcodeI64RemS:
		a, b := int64(x), int64(y)
		if b == 0 {
			panic(wasmruntime.ErrRuntimeIntegerDivideByZero)
		}
		r = uint64(a % b)
	case wasm.OpcodeI64RemU:
		if y == 0 {
			panic(wasmruntime.ErrRuntimeIntegerDivideByZero)
		}
		r = x % y
	case wasm.OpcodeI64And:
		r = x & y
	case wasm.OpcodeI64Or:
		r = x | y
	case wasm.OpcodeI64Xor:
		r = x ^ y
	case wasm.OpcodeI64Shl:
		r = x << (y % 64)
	case wasm.OpcodeI64ShrS:
		r = uint64(int64(x) >> (y % 64))
	case wasm.OpcodeI64ShrU:
		r = x >> (y % 64)
	case wasm.OpcodeI64Rotl:
		r = bits.RotateLeft64(x, int(y%64))
	case wasm.OpcodeI64Rotr:
		r = bits.RotateLeft64(x, -int(y%64))

	// abs, neg and copysign only touch the sign bit, so NaN payloads pass through.
	case wasm.OpcodeF32Abs:
		r = uint64(uint32(x)) &^ f32SignBit
	case wasm.OpcodeF32Neg:
		r = uint64(uint32(x)) ^ f32SignBit
	case wasm.OpcodeF32Ceil:
		r = f32Result(float32(math.Ceil(float64(asF32(x)))))
	case wasm.OpcodeF32Floor:
		r = f32Result(float32(math.Floor(float64(asF32(x)))))
	case wasm.OpcodeF32Trunc:
		r = f32Result(float32(math.Trunc(float64(asF32(x)))))
	case wasm.OpcodeF32Nearest:
		r = f32Result(moremath.WasmCompatNearestF32(asF32(x)))
	case wasm.OpcodeF32Sqrt:
		r = f32Result(float32(math.Sqrt(float64(asF32(x)))))
	case wasm.OpcodeF32Add:
		r = f32Result(asF32(x) + asF32(y))
	case wasm.OpcodeF32Sub:
		r = f32Result(asF32(x) - asF32(y))
	case wasm.OpcodeF32Mul:
		r = f32Result(asF32(x) * asF32(y))
	case wasm.OpcodeF32Div:
		r = f32Result(asF32(x) / asF32(y))
	case wasm.OpcodeF32Min:
		r = f32Result(moremath.WasmCompatMin32(asF32(x), asF32(y)))
	case wasm.OpcodeF32Max:
		r = f32Result(moremath.WasmCompatMax32(asF32(x), asF32(y)))
	case wasm.OpcodeF32Copysign:
		r = uint64(uint32(x))&^f32SignBit | uint64(uint32(y))&f32SignBit

	case wasm.OpcodeF64Abs:
		r = x &^ f64SignBit
	case wasm.OpcodeF64Neg:
		r = x ^ f64SignBit
	case wasm.OpcodeF64Ceil:
		r = f64Result(math.Ceil(asF64(x)))
	case wasm.OpcodeF64Floor:
		r = f64Result(math.Floor(asF64(x)))
	case wasm.OpcodeF64Trunc:
		r = f64Result(math.Trunc(asF64(x)))
	case wasm.OpcodeF64Nearest:
		r = f64Result(moremath.WasmCompatNearestF64(asF64(x)))
	case wasm.OpcodeF64Sqrt:
		r = f64Result(math.Sqrt(asF64(x)))
	case wasm.OpcodeF64Add:
		r = f64Result(asF64(x) + asF64(y))
	case wasm.OpcodeF64Sub:
		r = f64Result(asF64(x) - asF64(y))
	case wasm.OpcodeF64Mul:
		r = f64Result(asF64(x) * asF64(y))
	case wasm.OpcodeF64Div:
		r = f64Result(asF64(x) / asF64(y))
	case wasm.OpcodeF64Min:
		r = f64Result(moremath.WasmCompatMin(asF64(x), asF64(y)))
	case wasm.OpcodeF64Max:
		r = f64Result(moremath.WasmCompatMax(asF64(x), asF64(y)))
	case wasm.OpcodeF64Copysign:
		r = x&^f64SignBit | y&f64SignBit

	case wasm.OpcodeI32WrapI64:
		r = uint64(uint32(x))
	case wasm.OpcodeI32TruncF32S:
		r = truncI32S(float64(asF32(x)))
	case wasm.OpcodeI32TruncF32U:
		r = truncI32U(float64(asF32(x)))
	case wasm.OpcodeI32TruncF64S:
		r = truncI32S(asF64(x))
	case wasm.OpcodeI32TruncF64U:
		r = truncI32U(asF64(x))
	case wasm.OpcodeI64ExtendI32S:
		r = uint64(int64(int32(x)))
	case wasm.OpcodeI64ExtendI32U:
		r = uint64(uint32(x))
	case wasm.OpcodeI64TruncF32S:
		r = truncI64S(float64(asF32(x)))
	case wasm.OpcodeI64TruncF32U:
		r = truncI64U(float64(asF32(x)))
	case wasm.OpcodeI64TruncF64S:
		r = truncI64S(asF64(x))
	case wasm.OpcodeI64TruncF64U:
		r = truncI64U(asF64(x))
	case wasm.OpcodeF32ConvertI32S:
		r = uint64(math.Float32bits(float32(int32(x))))
	case wasm.OpcodeF32ConvertI32U:
		r = uint64(math.Float32bits(float32(uint32(x))))
	case wasm.OpcodeF32ConvertI64S:
		r = uint64(math.Float32bits(float32(int64(x))))
	case wasm.OpcodeF32ConvertI64U:
		r = uint64(math.Float32bits(float32(x)))
	case wasm.OpcodeF32DemoteF64:
		r = f32Result(float32(asF64(x)))
	case wasm.OpcodeF64ConvertI32S:
		r = math.Float64bits(float64(int32(x)))
	case wasm.OpcodeF64ConvertI32U:
		r = math.Float64bits(float64(uint32(x)))
	case wasm.OpcodeF64ConvertI64S:
		r = math.Float64bits(float64(int64(x)))
	case wasm.OpcodeF64ConvertI64U:
		r = math.Float64bits(float64(x))
	case wasm.OpcodeF64PromoteF32:
		r = f64Result(float64(asF32(x)))

	case wasm.OpcodeI32Extend8S:
		r = uint64(uint32(int32(int8(x))))
	case wasm.OpcodeI32Extend16S:
		r = uint64(uint32(int32(int16(x))))
	case wasm.OpcodeI64Extend8S:
		r = uint64(int64(int8(x)))
	case wasm.OpcodeI64Extend16S:
		r = uint64(int64(int16(x)))
	case wasm.OpcodeI64Extend32S:
		r = uint64(int64(int32(x)))
	case wasm.OpcodeRefIsNull:
		r = b2u(x == wasm.NullReference)
	default:
		panic(fmt.Sprintf("BUG: invalid numeric instruction %s", wasm.InstructionName(op)))
	}
	frame[o.C] = r
}

// truncSat executes the saturating truncation op on slot A of frame, writing slot C.
func truncSat(op wasm.OpcodeMisc, o *compiler.Op, frame []uint64) {
	x := frame[o.A]
	var r uint64
	switch op {
	case wasm.OpcodeMiscI32TruncSatF32S:
		r = truncSatI32S(float64(asF32(x)))
	case wasm.OpcodeMiscI32TruncSatF32U:
		r = truncSatI32U(float64(asF32(x)))
	case wasm.OpcodeMiscI32TruncSatF64S:
		r = truncSatI32S(asF64(x))
	case wasm.OpcodeMiscI32TruncSatF64U:
		r = truncSatI32U(asF64(x))
	case wasm.OpcodeMiscI64TruncSatF32S:
		r = truncSatI64S(float64(asF32(x)))
	case wasm.OpcodeMiscI64TruncSatF32U:
		r = truncSatI64U(float64(asF32(x)))
	case wasm.OpcodeMiscI64TruncSatF64S:
		r = truncSatI64S(asF64(x))
	case wasm.OpcodeMiscI64TruncSatF64U:
		r = truncSatI64U(asF64(x))
	}
	frame[o.C] = r
}

// The trapping truncations work on float64, which represents every float32 exactly.

func truncI32S(v float64) uint64 {
	v = math.Trunc(v)
	if math.IsNaN(v) { // NaN cannot be compared with themselves, so we have to use IsNaN
		panic(wasmruntime.ErrRuntimeInvalidConversionToInteger)
	} else if v < math.MinInt32 || v > math.MaxInt32 {
		panic(wasmruntime.ErrRuntimeIntegerOverflow)
	}
	return uint64(uint32(int32(v)))
}

func truncI32U(v float64) uint64 {
	v = math.Trunc(v)
	if math.IsNaN(v) {
		panic(wasmruntime.ErrRuntimeInvalidConversionToInteger)
	} else if v < 0 || v > math.MaxUint32 {
		panic(wasmruntime.ErrRuntimeIntegerOverflow)
	}
	return uint64(uint32(v))
}

func truncI64S(v float64) uint64 {
	v = math.Trunc(v)
	if math.IsNaN(v) {
		panic(wasmruntime.ErrRuntimeInvalidConversionToInteger)
	} else if v < math.MinInt64 || v >= math.MaxInt64 {
		// Note: math.MaxInt64 is rounded up to math.MaxInt64+1 in 64-bit float representation,
		// and that's why we use '>=' not '>' to check overflow.
		panic(wasmruntime.ErrRuntimeIntegerOverflow)
	}
	return uint64(int64(v))
}

func truncI64U(v float64) uint64 {
	v = math.Trunc(v)
	if math.IsNaN(v) {
		panic(wasmruntime.ErrRuntimeInvalidConversionToInteger)
	} else if v < 0 || v >= math.MaxUint64 {
		panic(wasmruntime.ErrRuntimeIntegerOverflow)
	}
	return uint64(v)
}

func truncSatI32S(v float64) uint64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < math.MinInt32:
		return 1 << 31
	case v > math.MaxInt32:
		return math.MaxInt32
	}
	return uint64(uint32(int32(v)))
}

func truncSatI32U(v float64) uint64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > math.MaxUint32:
		return math.MaxUint32
	}
	return uint64(uint32(v))
}

func truncSatI64S(v float64) uint64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < math.MinInt64:
		return 1 << 63
	case v >= math.MaxInt64:
		return math.MaxInt64
	}
	return uint64(int64(v))
}

func truncSatI64U(v float64) uint64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v >= math.MaxUint64:
		return math.MaxUint64
	}
	return uint64(v)
}
