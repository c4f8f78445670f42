// Package binaryencoding encodes a wasm.Module in the binary format. It exists to build test modules, so it panics on
// modules it cannot represent instead of returning an error.
package binaryencoding

import (
	"github.com/tetratelabs/stitch/internal/leb128"
	"github.com/tetratelabs/stitch/internal/wasm"
)

// Magic is the 4 byte preamble (literally "\0asm") of the binary format
var Magic = []byte{0x00, 0x61, 0x73, 0x6D}

// version is format version and doesn't change between known specification versions
var version = []byte{0x01, 0x00, 0x00, 0x00}

// EncodeModule implements the WebAssembly 1.0 (20191205) Binary Format.
//
// Note: If saving to a file, the conventional extension is wasm
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-format%E2%91%A0
func EncodeModule(m *wasm.Module) (bytes []byte) {
	bytes = append(Magic, version...)
	if len(m.TypeSection) > 0 {
		bytes = append(bytes, encodeTypeSection(m.TypeSection)...)
	}
	if len(m.ImportSection) > 0 {
		bytes = append(bytes, encodeImportSection(m.ImportSection)...)
	}
	if len(m.FunctionSection) > 0 {
		bytes = append(bytes, encodeFunctionSection(m.FunctionSection)...)
	}
	if len(m.TableSection) > 0 {
		bytes = append(bytes, encodeTableSection(m.TableSection)...)
	}
	if len(m.MemorySection) > 0 {
		bytes = append(bytes, encodeMemorySection(m.MemorySection)...)
	}
	if len(m.GlobalSection) > 0 {
		bytes = append(bytes, encodeGlobalSection(m.GlobalSection)...)
	}
	if len(m.ExportSection) > 0 {
		bytes = append(bytes, encodeExportSection(m.ExportSection)...)
	}
	if m.StartSection != nil {
		bytes = append(bytes, encodeSection(wasm.SectionIDStart, leb128.EncodeUint32(*m.StartSection))...)
	}
	if len(m.ElementSection) > 0 {
		bytes = append(bytes, encodeElementSection(m.ElementSection)...)
	}
	if m.DataCountSection != nil {
		bytes = append(bytes, encodeSection(wasm.SectionIDDataCount, leb128.EncodeUint32(*m.DataCountSection))...)
	}
	if len(m.CodeSection) > 0 {
		bytes = append(bytes, encodeCodeSection(m.CodeSection)...)
	}
	if len(m.DataSection) > 0 {
		bytes = append(bytes, encodeDataSection(m.DataSection)...)
	}
	if m.NameSection != nil {
		nameSection := append(encodeSizePrefixed([]byte("name")), EncodeNameSectionData(m.NameSection)...)
		bytes = append(bytes, encodeSection(wasm.SectionIDCustom, nameSection)...)
	}
	return
}

// encodeSection encodes the sectionID, the size of its contents in bytes, followed by the contents.
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#sections%E2%91%A0
func encodeSection(sectionID wasm.SectionID, contents []byte) []byte {
	return append([]byte{sectionID}, encodeSizePrefixed(contents)...)
}

// encodeSizePrefixed encodes the data with its length in LEB128 before it.
func encodeSizePrefixed(data []byte) []byte {
	size := leb128.EncodeUint32(uint32(len(data)))
	return append(size, data...)
}

// encodeVector encodes count followed by the concatenation of each item.
func encodeVector(count int, item func(i int) []byte) []byte {
	contents := leb128.EncodeUint32(uint32(count))
	for i := 0; i < count; i++ {
		contents = append(contents, item(i)...)
	}
	return contents
}

func encodeTypeSection(types []*wasm.FunctionType) []byte {
	return encodeSection(wasm.SectionIDType, encodeVector(len(types), func(i int) []byte {
		return EncodeFunctionType(types[i])
	}))
}

func encodeImportSection(imports []*wasm.Import) []byte {
	return encodeSection(wasm.SectionIDImport, encodeVector(len(imports), func(i int) []byte {
		return EncodeImport(imports[i])
	}))
}

func encodeFunctionSection(typeIndices []wasm.Index) []byte {
	return encodeSection(wasm.SectionIDFunction, encodeVector(len(typeIndices), func(i int) []byte {
		return leb128.EncodeUint32(typeIndices[i])
	}))
}

func encodeTableSection(tables []*wasm.TableType) []byte {
	return encodeSection(wasm.SectionIDTable, encodeVector(len(tables), func(i int) []byte {
		return EncodeTableType(tables[i])
	}))
}

func encodeMemorySection(memories []*wasm.MemoryType) []byte {
	return encodeSection(wasm.SectionIDMemory, encodeVector(len(memories), func(i int) []byte {
		return EncodeMemoryType(memories[i])
	}))
}

func encodeGlobalSection(globals []*wasm.Global) []byte {
	return encodeSection(wasm.SectionIDGlobal, encodeVector(len(globals), func(i int) []byte {
		return encodeGlobal(globals[i])
	}))
}

func encodeExportSection(exports []*wasm.Export) []byte {
	return encodeSection(wasm.SectionIDExport, encodeVector(len(exports), func(i int) []byte {
		return encodeExport(exports[i])
	}))
}

func encodeElementSection(elements []*wasm.ElementSegment) []byte {
	return encodeSection(wasm.SectionIDElement, encodeVector(len(elements), func(i int) []byte {
		return encodeElement(elements[i])
	}))
}

func encodeCodeSection(code []*wasm.Code) []byte {
	return encodeSection(wasm.SectionIDCode, encodeVector(len(code), func(i int) []byte {
		return encodeCode(code[i])
	}))
}

func encodeDataSection(data []*wasm.DataSegment) []byte {
	return encodeSection(wasm.SectionIDData, encodeVector(len(data), func(i int) []byte {
		return encodeDataSegment(data[i])
	}))
}
