package binaryencoding

import (
	"github.com/tetratelabs/stitch/internal/leb128"
	"github.com/tetratelabs/stitch/internal/wasm"
)

func encodeDataSegment(d *wasm.DataSegment) (ret []byte) {
	switch {
	case d.Mode == wasm.DataModePassive:
		ret = append(ret, 0x1)
	case d.MemoryIndex == 0:
		ret = append(ret, 0x0)
		ret = append(ret, encodeConstantExpression(d.OffsetExpression)...)
	default:
		ret = append(ret, 0x2)
		ret = append(ret, leb128.EncodeUint32(d.MemoryIndex)...)
		ret = append(ret, encodeConstantExpression(d.OffsetExpression)...)
	}
	return append(ret, encodeSizePrefixed(d.Init)...)
}
