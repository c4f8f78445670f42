package binary

import (
	"fmt"

	"github.com/tetratelabs/stitch/internal/wasm"
)

// decodeConstantExpression reads a single constant instruction terminated by end. Types and indices are checked by
// wasm.Module Validate.
func decodeConstantExpression(r *reader, features wasm.Features) (*wasm.ConstantExpression, error) {
	opcode, err := r.readByte()
	if err != nil {
		return nil, fmt.Errorf("read opcode: %w", err)
	}

	start := r.pos
	switch opcode {
	case wasm.OpcodeI32Const:
		_, err = r.readS32()
	case wasm.OpcodeI64Const:
		_, err = r.readS64()
	case wasm.OpcodeF32Const:
		_, err = r.take(4)
	case wasm.OpcodeF64Const:
		_, err = r.take(8)
	case wasm.OpcodeGlobalGet:
		_, err = r.readU32()
	case wasm.OpcodeRefNull:
		if err = features.Require(wasm.FeatureReferenceTypes); err != nil {
			return nil, r.errorf("ref.null is not supported as %w", err)
		}
		_, err = decodeRefType(r, features)
	case wasm.OpcodeRefFunc:
		if err = features.Require(wasm.FeatureReferenceTypes); err != nil {
			return nil, r.errorf("ref.func is not supported as %w", err)
		}
		_, err = r.readU32()
	default:
		return nil, r.errorf("%w for const expression opcode: %#x", ErrInvalidByte, opcode)
	}
	if err != nil {
		return nil, fmt.Errorf("read value: %w", err)
	}
	data := r.buf[start:r.pos:r.pos]

	end, err := r.readByte()
	if err != nil {
		return nil, fmt.Errorf("look for end opcode: %w", err)
	}
	if end != wasm.OpcodeEnd {
		return nil, r.errorf("constant expression has been not terminated")
	}
	return &wasm.ConstantExpression{Opcode: opcode, Data: data}, nil
}
