package binaryencoding

import (
	"github.com/tetratelabs/stitch/internal/leb128"
	"github.com/tetratelabs/stitch/internal/wasm"
)

// EncodeValTypes encodes a vector of value types.
func EncodeValTypes(vt []wasm.ValueType) []byte {
	count := leb128.EncodeUint32(uint32(len(vt)))
	return append(count, vt...)
}
