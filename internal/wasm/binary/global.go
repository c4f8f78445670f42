package binary

import (
	"fmt"

	"github.com/tetratelabs/stitch/internal/wasm"
)

// decodeGlobalType returns the wasm.GlobalType decoded with the WebAssembly 1.0 (20191205) Binary Format.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-globaltype
func decodeGlobalType(r *reader, features wasm.Features) (*wasm.GlobalType, error) {
	vt, err := decodeValueType(r, features)
	if err != nil {
		return nil, fmt.Errorf("read value type: %w", err)
	}
	mut, err := r.readByte()
	if err != nil {
		return nil, fmt.Errorf("read mutablity: %w", err)
	}
	ret := &wasm.GlobalType{ValType: vt}
	switch mut {
	case 0x00:
	case 0x01:
		ret.Mutable = true
	default:
		return nil, r.errorf("%w for mutability: %#x != 0x00 or 0x01", ErrInvalidByte, mut)
	}
	return ret, nil
}

func decodeGlobal(r *reader, features wasm.Features) (*wasm.Global, error) {
	gt, err := decodeGlobalType(r, features)
	if err != nil {
		return nil, err
	}
	init, err := decodeConstantExpression(r, features)
	if err != nil {
		return nil, err
	}
	return &wasm.Global{Type: gt, Init: init}, nil
}
