package wasm

// ModuleInstance represents instantiated wasm module: the store addresses of its index spaces.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#module-instances%E2%91%A0
type ModuleInstance struct {
	Name   string
	Source *Module

	// Types are the interned identities of Source.TypeSection, index-correlated.
	Types     []FunctionTypeID
	Functions []FunctionAddress
	Tables    []TableAddress
	Memories  []MemoryAddress
	Globals   []GlobalAddress

	// ElementSegments are the resolved references of each element segment. Active and declarative segments and
	// those dropped by elem.drop are nil.
	ElementSegments [][]Reference
	// DataSegments are the bytes of each data segment. Active segments and those dropped by data.drop are nil.
	DataSegments [][]byte

	Exports map[string]*ExportInstance
	// ExportNames are the keys of Exports in the order of the export section.
	ExportNames []string
}

// ExportInstance is an export resolved to a store address.
type ExportInstance struct {
	Type    ExternType
	Address uint32
}

// Extern is an entity of a store offered to satisfy an import.
type Extern struct {
	Type    ExternType
	Store   StoreID
	Address uint32
}

// ExternOf returns the Extern of an export of an instance in this store.
func (s *Store) ExternOf(e *ExportInstance) Extern {
	return Extern{Type: e.Type, Store: s.id, Address: e.Address}
}
