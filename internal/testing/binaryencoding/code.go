package binaryencoding

import (
	"github.com/tetratelabs/stitch/internal/leb128"
	"github.com/tetratelabs/stitch/internal/wasm"
)

// encodeCode returns the wasm.Code encoded in WebAssembly 1.0 (20191205) Binary Format.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-code
func encodeCode(c *wasm.Code) []byte {
	// local blocks compress locals while preserving index order by grouping locals of the same type.
	// https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#code-section%E2%91%A0
	var localBlockCount uint32
	var localBlocks []byte
	for i := 0; i < len(c.LocalTypes); {
		vt := c.LocalTypes[i]
		j := i
		for j < len(c.LocalTypes) && c.LocalTypes[j] == vt {
			j++
		}
		localBlocks = append(localBlocks, leb128.EncodeUint32(uint32(j-i))...)
		localBlocks = append(localBlocks, vt)
		localBlockCount++
		i = j
	}
	code := append(leb128.EncodeUint32(localBlockCount), localBlocks...)
	code = append(code, c.Body...)
	return encodeSizePrefixed(code)
}
