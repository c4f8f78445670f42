package binaryencoding

import (
	"github.com/tetratelabs/stitch/internal/leb128"
	"github.com/tetratelabs/stitch/internal/wasm"
)

// EncodeLimitsType returns the `limitsType` (min, max) encoded in WebAssembly 1.0 (20191205) Binary Format.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#limits%E2%91%A6
func EncodeLimitsType(l *wasm.LimitsType) []byte {
	if l.Max == nil {
		return append([]byte{0x00}, leb128.EncodeUint32(l.Min)...)
	}
	return append(append([]byte{0x01}, leb128.EncodeUint32(l.Min)...), leb128.EncodeUint32(*l.Max)...)
}

// EncodeMemoryType returns the wasm.MemoryType encoded in WebAssembly 1.0 (20191205) Binary Format.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-memory
func EncodeMemoryType(m *wasm.MemoryType) []byte {
	return EncodeLimitsType(m)
}

// EncodeTableType returns the wasm.TableType encoded in WebAssembly 1.0 (20191205) Binary Format.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-table
func EncodeTableType(t *wasm.TableType) []byte {
	return append([]byte{t.ElemType}, EncodeLimitsType(&t.Limits)...)
}

// EncodeGlobalType returns the wasm.GlobalType encoded in WebAssembly 1.0 (20191205) Binary Format.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-globaltype
func EncodeGlobalType(g *wasm.GlobalType) []byte {
	var mutable byte
	if g.Mutable {
		mutable = 1
	}
	return []byte{g.ValType, mutable}
}

func encodeGlobal(g *wasm.Global) []byte {
	return append(EncodeGlobalType(g.Type), encodeConstantExpression(g.Init)...)
}
