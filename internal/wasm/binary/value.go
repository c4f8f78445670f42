package binary

import (
	"fmt"

	"github.com/tetratelabs/stitch/internal/wasm"
)

// decodeValueType reads a value type, rejecting reference types unless enabled.
func decodeValueType(r *reader, features wasm.Features) (wasm.ValueType, error) {
	b, err := r.readByte()
	if err != nil {
		return 0, err
	}
	switch b {
	case wasm.ValueTypeI32, wasm.ValueTypeI64, wasm.ValueTypeF32, wasm.ValueTypeF64:
		return b, nil
	case wasm.ValueTypeExternref:
		if err = features.Require(wasm.FeatureReferenceTypes); err != nil {
			return 0, r.errorf("externref value type: %w", err)
		}
		return b, nil
	case wasm.ValueTypeFuncref:
		return b, nil
	}
	return 0, r.errorf("%w: invalid value type: %#x", ErrInvalidByte, b)
}

func decodeRefType(r *reader, features wasm.Features) (wasm.RefType, error) {
	b, err := r.readByte()
	if err != nil {
		return 0, err
	}
	switch b {
	case wasm.RefTypeFuncref:
		return b, nil
	case wasm.RefTypeExternref:
		if err = features.Require(wasm.FeatureReferenceTypes); err != nil {
			return 0, r.errorf("externref: %w", err)
		}
		return b, nil
	}
	return 0, r.errorf("%w: invalid reference type: %#x", ErrInvalidByte, b)
}

func decodeValueTypes(r *reader, features wasm.Features) ([]wasm.ValueType, error) {
	var ret []wasm.ValueType
	_, err := r.readVec(func(uint32) error {
		t, err := decodeValueType(r, features)
		if err != nil {
			return err
		}
		ret = append(ret, t)
		return nil
	})
	return ret, err
}

// decodeFunctionType reads a functype: 0x60 followed by the param and result vectors.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-functype
func decodeFunctionType(r *reader, features wasm.Features) (*wasm.FunctionType, error) {
	b, err := r.readByte()
	if err != nil {
		return nil, fmt.Errorf("read leading byte: %w", err)
	}
	if b != 0x60 {
		return nil, r.errorf("%w: %#x != 0x60", ErrInvalidByte, b)
	}
	params, err := decodeValueTypes(r, features)
	if err != nil {
		return nil, fmt.Errorf("could not read parameter types: %w", err)
	}
	results, err := decodeValueTypes(r, features)
	if err != nil {
		return nil, fmt.Errorf("could not read result types: %w", err)
	}
	return wasm.NewFunctionType(params, results), nil
}
