package moremath

import "math"

const (
	// F32CanonicalNaNBits is the bit pattern of the canonical 32-bit NaN: sign clear, quiet bit set, zero payload.
	F32CanonicalNaNBits = uint32(0x7fc0_0000)
	// F64CanonicalNaNBits is the bit pattern of the canonical 64-bit NaN: sign clear, quiet bit set, zero payload.
	F64CanonicalNaNBits = uint64(0x7ff8_0000_0000_0000)
)

// math.Min doen't comply with the Wasm spec, so we borrow from the original
// with a change that either one of NaN results in NaN even if another is -Inf.
// https://github.com/golang/go/blob/1d20a362d0ca4898d77865e314ef6f73582daef0/src/math/dim.go#L74-L91
func WasmCompatMin(x, y float64) float64 {
	switch {
	case math.IsNaN(x) || math.IsNaN(y):
		return math.Float64frombits(F64CanonicalNaNBits)
	case math.IsInf(x, -1) || math.IsInf(y, -1):
		return math.Inf(-1)
	case x == 0 && x == y:
		if math.Signbit(x) {
			return x
		}
		return y
	}
	if x < y {
		return x
	}
	return y
}

// math.Max doen't comply with the Wasm spec, so we borrow from the original
// with a change that either one of NaN results in NaN even if another is Inf.
// https://github.com/golang/go/blob/1d20a362d0ca4898d77865e314ef6f73582daef0/src/math/dim.go#L42-L59
func WasmCompatMax(x, y float64) float64 {
	switch {
	case math.IsNaN(x) || math.IsNaN(y):
		return math.Float64frombits(F64CanonicalNaNBits)
	case math.IsInf(x, 1) || math.IsInf(y, 1):
		return math.Inf(1)

	case x == 0 && x == y:
		if math.Signbit(x) {
			return y
		}
		return x
	}
	if x > y {
		return x
	}
	return y
}

// WasmCompatMin32 is WasmCompatMin for 32-bit floats.
func WasmCompatMin32(x, y float32) float32 {
	return CanonicalizeF32(float32(WasmCompatMin(float64(x), float64(y))))
}

// WasmCompatMax32 is WasmCompatMax for 32-bit floats.
func WasmCompatMax32(x, y float32) float32 {
	return CanonicalizeF32(float32(WasmCompatMax(float64(x), float64(y))))
}

// WasmCompatNearestF32 rounds to the nearest integer, ties to even. Unlike math.Round, -4.5 becomes -4.
func WasmCompatNearestF32(f float32) float32 {
	return float32(math.RoundToEven(float64(f)))
}

// WasmCompatNearestF64 rounds to the nearest integer, ties to even. Unlike math.Round, -4.5 becomes -4.
func WasmCompatNearestF64(f float64) float64 {
	return math.RoundToEven(f)
}

// CanonicalizeF32 replaces any NaN with the canonical NaN.
func CanonicalizeF32(f float32) float32 {
	if f != f {
		return math.Float32frombits(F32CanonicalNaNBits)
	}
	return f
}

// CanonicalizeF64 replaces any NaN with the canonical NaN.
func CanonicalizeF64(f float64) float64 {
	if f != f {
		return math.Float64frombits(F64CanonicalNaNBits)
	}
	return f
}
