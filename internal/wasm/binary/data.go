package binary

import (
	"fmt"

	"github.com/tetratelabs/stitch/internal/wasm"
)

// Data segment prefixes.
//
// See https://www.w3.org/TR/2022/WD-wasm-core-2-20220419/binary/modules.html#data-section
const (
	dataSegmentPrefixActive                = 0x0
	dataSegmentPrefixPassive               = 0x1
	dataSegmentPrefixActiveWithMemoryIndex = 0x2
)

func decodeDataSegment(r *reader, features wasm.Features) (*wasm.DataSegment, error) {
	prefix, err := r.readU32()
	if err != nil {
		return nil, fmt.Errorf("read data segment prefix: %w", err)
	}
	if prefix != dataSegmentPrefixActive {
		if err = features.Require(wasm.FeatureBulkMemoryOperations); err != nil {
			return nil, r.errorf("non-zero prefix for data segment is invalid as %w", err)
		}
	}

	ret := &wasm.DataSegment{}
	switch prefix {
	case dataSegmentPrefixActive, dataSegmentPrefixActiveWithMemoryIndex:
		if prefix == dataSegmentPrefixActiveWithMemoryIndex {
			if ret.MemoryIndex, err = r.readU32(); err != nil {
				return nil, fmt.Errorf("read memory index: %w", err)
			}
		}
		if ret.OffsetExpression, err = decodeConstantExpression(r, features); err != nil {
			return nil, fmt.Errorf("read offset expression: %w", err)
		}
	case dataSegmentPrefixPassive:
		ret.Mode = wasm.DataModePassive
	default:
		return nil, r.errorf("invalid data segment prefix: %#x", prefix)
	}

	if ret.Init, err = r.readBytes(); err != nil {
		return nil, fmt.Errorf("read bytes for init: %w", err)
	}
	return ret, nil
}
