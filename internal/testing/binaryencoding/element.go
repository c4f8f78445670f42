package binaryencoding

import (
	"github.com/tetratelabs/stitch/internal/leb128"
	"github.com/tetratelabs/stitch/internal/wasm"
)

// encodeElement returns the wasm.ElementSegment encoded with the most compact of the eight element segment
// encodings that can represent it.
//
// See https://www.w3.org/TR/2022/WD-wasm-core-2-20220419/binary/modules.html#element-section
func encodeElement(e *wasm.ElementSegment) (ret []byte) {
	funcIndices := e.Type == wasm.RefTypeFuncref
	for i := range e.Init {
		if e.Init[i].Opcode != wasm.OpcodeRefFunc {
			funcIndices = false
		}
	}

	var prefix uint32
	switch e.Mode {
	case wasm.ElementModePassive:
		prefix = 1
	case wasm.ElementModeDeclarative:
		prefix = 3
	default:
		if e.TableIndex != 0 || e.Type != wasm.RefTypeFuncref {
			prefix = 2
		}
	}
	if !funcIndices {
		prefix |= 4
	}

	ret = leb128.EncodeUint32(prefix)
	if prefix&2 != 0 && e.Mode == wasm.ElementModeActive {
		ret = append(ret, leb128.EncodeUint32(e.TableIndex)...)
	}
	if e.Mode == wasm.ElementModeActive {
		ret = append(ret, encodeConstantExpression(e.OffsetExpr)...)
	}
	implicitType := prefix == 0 || prefix == 4
	if !implicitType {
		if funcIndices {
			ret = append(ret, 0x0) // elemkind funcref
		} else {
			ret = append(ret, e.Type)
		}
	}
	return append(ret, encodeVector(len(e.Init), func(i int) []byte {
		if funcIndices {
			return e.Init[i].Data
		}
		return encodeConstantExpression(&e.Init[i])
	})...)
}
