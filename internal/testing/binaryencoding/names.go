package binaryencoding

import (
	"github.com/tetratelabs/stitch/internal/leb128"
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

// EncodeNameSectionData serializes the data for the "name" key in wasm.SectionIDCustom according to the
// standard:
//
// Note: The result can be nil because this does not encode empty subsections
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-namesec
func EncodeNameSectionData(n *wasm.NameSection) (data []byte) {
	if n.ModuleName != "" {
		data = append(data, encodeNameSubsection(subsectionIDModuleName, encodeSizePrefixed([]byte(n.ModuleName)))...)
	}
	if len(n.FunctionNames) > 0 {
		data = append(data, encodeNameSubsection(subsectionIDFunctionNames, encodeNameMap(n.FunctionNames))...)
	}
	if len(n.LocalNames) > 0 {
		data = append(data, encodeNameSubsection(subsectionIDLocalNames, encodeVector(len(n.LocalNames), func(i int) []byte {
			na := n.LocalNames[i]
			return append(leb128.EncodeUint32(na.Index), encodeNameMap(na.NameMap)...)
		}))...)
	}
	return
}

func encodeNameMap(m wasm.NameMap) []byte {
	return encodeVector(len(m), func(i int) []byte {
		return append(leb128.EncodeUint32(m[i].Index), encodeSizePrefixed([]byte(m[i].Name))...)
	})
}

// encodeNameSubsection returns a buffer encoding the given subsection
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#subsections%E2%91%A0
func encodeNameSubsection(subsectionID uint8, content []byte) []byte {
	return append([]byte{subsectionID}, encodeSizePrefixed(content)...)
}
