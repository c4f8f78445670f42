package wasm

import (
	"fmt"
)

// Module is a WebAssembly binary representation.
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#modules%E2%91%A8
//
// Differences from the specification:
// * NameSection is the only decoded custom section.
// * Function bodies are kept as bytes until they are compiled.
type Module struct {
	// TypeSection contains the unique FunctionType of functions imported or defined in this module.
	//
	// Note: In the Binary Format, this is SectionIDType.
	TypeSection []*FunctionType

	// ImportSection contains imported functions, tables, memories or globals required for instantiation.
	//
	// Note: there are no unique constraints relating to the two-level namespace of Import.Module and Import.Name.
	ImportSection []*Import

	// FunctionSection contains the index in TypeSection of each function defined in this module.
	//
	// Note: The function Index namespace begins with imported functions and ends with those defined in this module.
	// For example, if there are two imported functions and one defined in this module, the function Index 3 is defined
	// in this module at FunctionSection[0].
	FunctionSection []Index

	// TableSection contains each table defined in this module. The table index namespace begins with imports.
	TableSection []*TableType

	// MemorySection contains each memory defined in this module. At most one memory may be imported or defined.
	MemorySection []*MemoryType

	// GlobalSection contains each global defined in this module.
	//
	// Global indexes are offset by any imported globals because the global index space begins with imports, followed by
	// ones defined in this module.
	GlobalSection []*Global

	// ExportSection contains each export in the order defined. Names are unique.
	ExportSection []*Export

	// StartSection is the index of a function to call before returning from instantiation.
	//
	// Note: The index here is not the position in the FunctionSection, rather in the function index namespace, which
	// begins with imported functions.
	StartSection *Index

	ElementSection []*ElementSegment

	// CodeSection is index-correlated with FunctionSection and contains each function's locals and body.
	CodeSection []*Code

	DataSection []*DataSegment

	// DataCountSection is the declared number of data segments, required by memory.init and data.drop.
	DataCountSection *uint32

	// NameSection is set when the SectionIDCustom "name" was successfully decoded from the binary format.
	NameSection *NameSection

	// declaredFunctionRefs are the functions ref.func may reference in a body: those in element segments, exports
	// or global initializers. Set by Validate.
	declaredFunctionRefs map[Index]struct{}
}

// Index is the offset in an index namespace, not necessarily an absolute position in a Module section. This is because
// index namespaces are often preceded by a corresponding type in the Module.ImportSection.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-index
type Index = uint32

// Import is the binary representation of an import indicated by Type
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-import
type Import struct {
	Type ExternType
	// Module is the possibly empty primary namespace of this import
	Module string
	// Name is the possibly empty secondary namespace of this import
	Name string
	// DescFunc is the index in Module.TypeSection when Type equals ExternTypeFunc
	DescFunc Index
	// DescTable is the inlined TableType when Type equals ExternTypeTable
	DescTable *TableType
	// DescMem is the inlined MemoryType when Type equals ExternTypeMemory
	DescMem *MemoryType
	// DescGlobal is the inlined GlobalType when Type equals ExternTypeGlobal
	DescGlobal *GlobalType
}

type Global struct {
	Type *GlobalType
	Init *ConstantExpression
}

// ConstantExpression is a single instruction terminated by end, as used in initializers. Data holds the encoded
// immediate of Opcode.
type ConstantExpression struct {
	Opcode Opcode
	Data   []byte
}

// Export is the binary representation of an export indicated by Type
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-export
type Export struct {
	Type ExternType
	// Name is what the host refers to this definition as.
	Name string
	// Index is the index of the definition to export, the index namespace is by Type
	Index Index
}

// ElementMode is how an ElementSegment is applied.
type ElementMode = byte

const (
	// ElementModeActive is copied into a table at instantiation.
	ElementModeActive ElementMode = iota
	// ElementModePassive is only available to table.init.
	ElementModePassive
	// ElementModeDeclarative only forward-declares references for ref.func.
	ElementModeDeclarative
)

// ElementSegment are initialization instructions for a TableInstance
//
// See https://www.w3.org/TR/2022/WD-wasm-core-2-20220419/syntax/modules.html#element-segments
type ElementSegment struct {
	Mode ElementMode
	// TableIndex is the table an active segment initializes.
	TableIndex Index
	// OffsetExpr is the position in the table of an active segment.
	OffsetExpr *ConstantExpression
	// Type is the reference type of Init.
	Type RefType
	// Init are the references, each a ref.func, ref.null or global.get constant expression.
	Init []ConstantExpression
}

// Code is an entry in the Module.CodeSection containing the locals and body of the function.
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-code
type Code struct {
	// LocalTypes are any function-scoped variables in insertion order.
	LocalTypes []ValueType
	// Body is a sequence of expressions ending in OpcodeEnd
	Body []byte
	// BodyOffset is the offset of Body in the module binary.
	BodyOffset uint64
}

// DataMode is how a DataSegment is applied.
type DataMode = byte

const (
	DataModeActive DataMode = iota
	DataModePassive
)

type DataSegment struct {
	Mode             DataMode
	MemoryIndex      Index
	OffsetExpression *ConstantExpression
	Init             []byte
}

// NameSection represent the known custom name subsections defined in the WebAssembly Binary Format
//
// Note: This can be nil if no names were decoded for any reason including configuration.
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#name-section%E2%91%A0
type NameSection struct {
	// ModuleName is the symbolic identifier for a module. Ex. math
	ModuleName string

	// FunctionNames is an association of a function index to its symbolic identifier. Ex. add
	//
	// The key (idx) is in the function namespace, where module defined functions are preceded by imported ones.
	FunctionNames NameMap

	// LocalNames contains symbolic names for function parameters or locals that have one.
	LocalNames IndirectNameMap
}

// NameMap associates an index with any associated names.
//
// Note: NameMap is unique by NameAssoc.Index, but NameAssoc.Name needn't be unique.
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-namemap
type NameMap []*NameAssoc

type NameAssoc struct {
	Index Index
	Name  string
}

// IndirectNameMap associates an index with an association of names.
type IndirectNameMap []*NameMapAssoc

type NameMapAssoc struct {
	Index   Index
	NameMap NameMap
}

// ImportCount returns the count of imports of the given type.
func (m *Module) ImportCount(et ExternType) (res uint32) {
	for _, im := range m.ImportSection {
		if im.Type == et {
			res++
		}
	}
	return
}

// TypeOfFunction returns the type of the function at funcIdx in the function index namespace, or nil.
func (m *Module) TypeOfFunction(funcIdx Index) *FunctionType {
	typeSectionLength := uint32(len(m.TypeSection))
	funcImportCount := Index(0)
	for _, im := range m.ImportSection {
		if im.Type != ExternTypeFunc {
			continue
		}
		if funcIdx == funcImportCount {
			if im.DescFunc >= typeSectionLength {
				return nil
			}
			return m.TypeSection[im.DescFunc]
		}
		funcImportCount++
	}
	funcSectionIdx := funcIdx - funcImportCount
	if funcSectionIdx >= uint32(len(m.FunctionSection)) {
		return nil
	}
	typeIdx := m.FunctionSection[funcSectionIdx]
	if typeIdx >= typeSectionLength {
		return nil
	}
	return m.TypeSection[typeIdx]
}

// FunctionName returns the name of the function at funcIdx from the name section, or its index when unnamed.
func (m *Module) FunctionName(funcIdx Index) string {
	if m.NameSection != nil {
		for _, n := range m.NameSection.FunctionNames {
			if n.Index == funcIdx {
				return n.Name
			}
		}
	}
	for _, e := range m.ExportSection {
		if e.Type == ExternTypeFunc && e.Index == funcIdx {
			return e.Name
		}
	}
	return fmt.Sprintf("$%d", funcIdx)
}

// ModuleName returns the name from the name section, or the empty string.
func (m *Module) ModuleName() string {
	if m.NameSection != nil {
		return m.NameSection.ModuleName
	}
	return ""
}

// IsFunctionDeclared returns true when ref.func may reference funcIdx from a function body.
func (m *Module) IsFunctionDeclared(funcIdx Index) bool {
	_, ok := m.declaredFunctionRefs[funcIdx]
	return ok
}

// allDeclarations returns all declarations for functions, globals, memories and tables in a module including imported ones.
func (m *Module) allDeclarations() (functions []Index, globals []*GlobalType, memories []*MemoryType, tables []*TableType) {
	for _, imp := range m.ImportSection {
		switch imp.Type {
		case ExternTypeFunc:
			functions = append(functions, imp.DescFunc)
		case ExternTypeGlobal:
			globals = append(globals, imp.DescGlobal)
		case ExternTypeMemory:
			memories = append(memories, imp.DescMem)
		case ExternTypeTable:
			tables = append(tables, imp.DescTable)
		}
	}

	functions = append(functions, m.FunctionSection...)
	for _, g := range m.GlobalSection {
		globals = append(globals, g.Type)
	}
	memories = append(memories, m.MemorySection...)
	tables = append(tables, m.TableSection...)
	return
}

// SectionID identifies the sections of a Module in the WebAssembly 1.0 (MVP) Binary Format.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#sections%E2%91%A0
type SectionID = byte

const (
	// SectionIDCustom includes the standard defined NameSection and possibly others not defined in the standard.
	SectionIDCustom SectionID = iota
	SectionIDType
	SectionIDImport
	SectionIDFunction
	SectionIDTable
	SectionIDMemory
	SectionIDGlobal
	SectionIDExport
	SectionIDStart
	SectionIDElement
	SectionIDCode
	SectionIDData
	// SectionIDDataCount is ordered between SectionIDElement and SectionIDCode despite its ID.
	SectionIDDataCount
)

// SectionIDName returns the canonical name of a module section.
func SectionIDName(sectionID SectionID) string {
	switch sectionID {
	case SectionIDCustom:
		return "custom"
	case SectionIDType:
		return "type"
	case SectionIDImport:
		return "import"
	case SectionIDFunction:
		return "function"
	case SectionIDTable:
		return "table"
	case SectionIDMemory:
		return "memory"
	case SectionIDGlobal:
		return "global"
	case SectionIDExport:
		return "export"
	case SectionIDStart:
		return "start"
	case SectionIDElement:
		return "element"
	case SectionIDCode:
		return "code"
	case SectionIDData:
		return "data"
	case SectionIDDataCount:
		return "data_count"
	}
	return "unknown"
}
