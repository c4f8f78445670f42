package binary

import (
	"github.com/tetratelabs/stitch/internal/wasm"
)

// decodeLimitsType returns the limits decoded with the WebAssembly 1.0 (20191205) Binary Format.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#limits%E2%91%A6
func decodeLimitsType(r *reader) (wasm.LimitsType, error) {
	flag, err := r.readByte()
	if err != nil {
		return wasm.LimitsType{}, err
	}
	switch flag {
	case 0x00:
		min, err := r.readU32()
		if err != nil {
			return wasm.LimitsType{}, err
		}
		return wasm.LimitsType{Min: min}, nil
	case 0x01:
		min, err := r.readU32()
		if err != nil {
			return wasm.LimitsType{}, err
		}
		max, err := r.readU32()
		if err != nil {
			return wasm.LimitsType{}, err
		}
		return wasm.LimitsType{Min: min, Max: &max}, nil
	}
	return wasm.LimitsType{}, r.errorf("%w for limits: %#x not in (0x00, 0x01)", ErrInvalidByte, flag)
}
