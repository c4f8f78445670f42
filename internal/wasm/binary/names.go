package binary

import (
	"github.com/tetratelabs/stitch/internal/wasm"
)

const (
	// subsectionIDModuleName contains only the module name.
	subsectionIDModuleName = uint8(0)
	// subsectionIDFunctionNames is a map of indices to function names, in ascending order by function index
	subsectionIDFunctionNames = uint8(1)
	// subsectionIDLocalNames contain a map of function indices to a map of local indices to their names, in ascending
	// order by function and local index
	subsectionIDLocalNames = uint8(2)
)

// decodeNameSection decodes the data of a custom section named "name". A malformed name section is not an error of
// the module: the caller drops it.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-namesec
func decodeNameSection(r *reader) (*wasm.NameSection, error) {
	result := &wasm.NameSection{}
	for r.remaining() > 0 {
		id, err := r.readByte()
		if err != nil {
			return nil, err
		}
		size, err := r.readU32()
		if err != nil {
			return nil, err
		}
		sub, err := r.sub(size)
		if err != nil {
			return nil, err
		}
		switch id {
		case subsectionIDModuleName:
			if result.ModuleName, err = sub.readName(); err != nil {
				return nil, err
			}
		case subsectionIDFunctionNames:
			if result.FunctionNames, err = decodeNameMap(sub); err != nil {
				return nil, err
			}
		case subsectionIDLocalNames:
			if result.LocalNames, err = decodeIndirectNameMap(sub); err != nil {
				return nil, err
			}
		default:
			continue // unknown subsections are skipped
		}
		if err = sub.ensureEnd("name subsection"); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func decodeNameMap(r *reader) (wasm.NameMap, error) {
	var result wasm.NameMap
	_, err := r.readVec(func(uint32) error {
		idx, err := r.readU32()
		if err != nil {
			return err
		}
		name, err := r.readName()
		if err != nil {
			return err
		}
		result = append(result, &wasm.NameAssoc{Index: idx, Name: name})
		return nil
	})
	return result, err
}

func decodeIndirectNameMap(r *reader) (wasm.IndirectNameMap, error) {
	var result wasm.IndirectNameMap
	_, err := r.readVec(func(uint32) error {
		idx, err := r.readU32()
		if err != nil {
			return err
		}
		nm, err := decodeNameMap(r)
		if err != nil {
			return err
		}
		result = append(result, &wasm.NameMapAssoc{Index: idx, NameMap: nm})
		return nil
	})
	return result, err
}
