package binary

import (
	"fmt"

	"github.com/tetratelabs/stitch/internal/wasm"
)

// decodeTableType returns the wasm.TableType decoded with the WebAssembly 1.0 (20191205) Binary Format.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-table
func decodeTableType(r *reader, features wasm.Features) (*wasm.TableType, error) {
	elemType, err := decodeRefType(r, features)
	if err != nil {
		return nil, fmt.Errorf("read element type: %w", err)
	}
	limits, err := decodeLimitsType(r)
	if err != nil {
		return nil, fmt.Errorf("read limits: %w", err)
	}
	return &wasm.TableType{ElemType: elemType, Limits: limits}, nil
}
