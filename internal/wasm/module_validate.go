package wasm

import (
	"errors"
	"fmt"

	"github.com/tetratelabs/stitch/internal/leb128"
)

// MaximumFunctionIndex is the largest function index a module may define.
const MaximumFunctionIndex = uint32(1 << 27)

// Validate checks the module-level constraints that can be checked before instantiation: index spaces, limits,
// export uniqueness, the start signature, constant expressions and the data count. Function bodies are validated
// lazily by the compiler.
//
// memoryLimitPages is the most pages a memory may start with.
func (m *Module) Validate(features Features, memoryLimitPages uint32) error {
	if err := m.validate(features, memoryLimitPages); err != nil {
		return &ValidateError{Err: err}
	}
	return nil
}

func (m *Module) validate(features Features, memoryLimitPages uint32) error {
	for i, t := range m.TypeSection {
		if len(t.Results()) > 1 {
			if err := features.Require(FeatureMultiValue); err != nil {
				return fmt.Errorf("type[%d] has multiple results: %w", i, err)
			}
		}
	}

	functions, globals, memories, tables := m.allDeclarations()
	if len(functions) > int(MaximumFunctionIndex) {
		return fmt.Errorf("too many functions in a module")
	}
	for i, typeIdx := range functions {
		if typeIdx >= uint32(len(m.TypeSection)) {
			return fmt.Errorf("function[%d] has an invalid type index %d", i, typeIdx)
		}
	}
	if len(m.FunctionSection) != len(m.CodeSection) {
		return fmt.Errorf("function and code section have inconsistent lengths: %d != %d", len(m.FunctionSection), len(m.CodeSection))
	}

	if err := m.validateImports(features); err != nil {
		return err
	}
	if err := validateTables(features, tables); err != nil {
		return err
	}
	if err := validateMemories(memories, memoryLimitPages); err != nil {
		return err
	}

	funcCount := uint32(len(functions))
	importedGlobals := m.ImportCount(ExternTypeGlobal)
	for i, g := range m.GlobalSection {
		t, err := m.constExprType(g.Init, globals, importedGlobals, funcCount)
		if err != nil {
			return fmt.Errorf("global[%d]: %w", i, err)
		}
		if t != g.Type.ValType {
			return fmt.Errorf("global[%d]: type mismatch: %s != %s", i, ValueTypeName(t), ValueTypeName(g.Type.ValType))
		}
	}

	if err := m.validateExports(features, funcCount, uint32(len(tables)), uint32(len(memories)), globals); err != nil {
		return err
	}

	if m.StartSection != nil {
		idx := *m.StartSection
		if idx >= funcCount {
			return fmt.Errorf("invalid start function: func[%d] out of range", idx)
		}
		if ft := m.TypeOfFunction(idx); len(ft.Params()) != 0 || len(ft.Results()) != 0 {
			return fmt.Errorf("invalid start function: func[%d] has type %s", idx, ft)
		}
	}

	if err := m.validateElements(tables, globals, importedGlobals, funcCount); err != nil {
		return err
	}
	if err := m.validateData(memories, globals, importedGlobals, funcCount); err != nil {
		return err
	}

	m.declaredFunctionRefs = m.collectDeclaredFunctionRefs()
	return nil
}

func (m *Module) validateImports(features Features) error {
	for i, im := range m.ImportSection {
		switch im.Type {
		case ExternTypeGlobal:
			if im.DescGlobal.Mutable {
				if err := features.Require(FeatureMutableGlobal); err != nil {
					return fmt.Errorf("import[%d] global: %w", i, err)
				}
			}
		case ExternTypeTable:
			if im.DescTable.ElemType != RefTypeFuncref {
				if err := features.Require(FeatureReferenceTypes); err != nil {
					return fmt.Errorf("import[%d] table: %w", i, err)
				}
			}
		}
	}
	return nil
}

func validateTables(features Features, tables []*TableType) error {
	if len(tables) > 1 {
		if err := features.Require(FeatureReferenceTypes); err != nil {
			return fmt.Errorf("multiple tables: %w", err)
		}
	}
	for i, t := range tables {
		if t.Limits.Max != nil && t.Limits.Min > *t.Limits.Max {
			return fmt.Errorf("table[%d] size minimum must not be greater than maximum", i)
		}
		if t.Limits.Min > MaximumTableSize {
			return fmt.Errorf("table[%d] min %d exceeds the limit of %d elements", i, t.Limits.Min, MaximumTableSize)
		}
	}
	return nil
}

func validateMemories(memories []*MemoryType, memoryLimitPages uint32) error {
	if len(memories) > 1 {
		return errors.New("multiple memories")
	}
	for _, mem := range memories {
		if mem.Min > MemoryLimitPages {
			return fmt.Errorf("memory size must be at most %d pages (%s)", MemoryLimitPages, PagesToUnitOfBytes(MemoryLimitPages))
		}
		if mem.Max != nil {
			if *mem.Max > MemoryLimitPages {
				return fmt.Errorf("memory size must be at most %d pages (%s)", MemoryLimitPages, PagesToUnitOfBytes(MemoryLimitPages))
			}
			if mem.Min > *mem.Max {
				return errors.New("memory size minimum must not be greater than maximum")
			}
		}
		if mem.Min > memoryLimitPages {
			return fmt.Errorf("memory min %d pages (%s) over limit of %d pages (%s)",
				mem.Min, PagesToUnitOfBytes(mem.Min), memoryLimitPages, PagesToUnitOfBytes(memoryLimitPages))
		}
	}
	return nil
}

func (m *Module) validateExports(features Features, funcCount, tableCount, memoryCount uint32, globals []*GlobalType) error {
	names := make(map[string]struct{}, len(m.ExportSection))
	for _, e := range m.ExportSection {
		if _, ok := names[e.Name]; ok {
			return fmt.Errorf("duplicate export name %q", e.Name)
		}
		names[e.Name] = struct{}{}

		var count uint32
		switch e.Type {
		case ExternTypeFunc:
			count = funcCount
		case ExternTypeTable:
			count = tableCount
		case ExternTypeMemory:
			count = memoryCount
		case ExternTypeGlobal:
			count = uint32(len(globals))
		}
		if e.Index >= count {
			return fmt.Errorf("unknown %s %d for export %q", ExternTypeName(e.Type), e.Index, e.Name)
		}
		if e.Type == ExternTypeGlobal && globals[e.Index].Mutable {
			if err := features.Require(FeatureMutableGlobal); err != nil {
				return fmt.Errorf("export %q: %w", e.Name, err)
			}
		}
	}
	return nil
}

func (m *Module) validateElements(tables []*TableType, globals []*GlobalType, importedGlobals, funcCount uint32) error {
	for i, elem := range m.ElementSection {
		for j := range elem.Init {
			t, err := m.constExprType(&elem.Init[j], globals, importedGlobals, funcCount)
			if err != nil {
				return fmt.Errorf("element[%d].init[%d]: %w", i, j, err)
			}
			if t != elem.Type {
				return fmt.Errorf("element[%d].init[%d]: type mismatch: %s != %s", i, j, ValueTypeName(t), ValueTypeName(elem.Type))
			}
		}
		if elem.Mode != ElementModeActive {
			continue
		}
		if elem.TableIndex >= uint32(len(tables)) {
			return fmt.Errorf("element[%d]: unknown table %d", i, elem.TableIndex)
		}
		if tt := tables[elem.TableIndex].ElemType; tt != elem.Type {
			return fmt.Errorf("element[%d]: type mismatch: table of %s initialized with %s", i, ValueTypeName(tt), ValueTypeName(elem.Type))
		}
		t, err := m.constExprType(elem.OffsetExpr, globals, importedGlobals, funcCount)
		if err != nil {
			return fmt.Errorf("element[%d] offset: %w", i, err)
		}
		if t != ValueTypeI32 {
			return fmt.Errorf("element[%d] offset: type mismatch: %s != i32", i, ValueTypeName(t))
		}
	}
	return nil
}

func (m *Module) validateData(memories []*MemoryType, globals []*GlobalType, importedGlobals, funcCount uint32) error {
	if m.DataCountSection != nil && *m.DataCountSection != uint32(len(m.DataSection)) {
		return fmt.Errorf("data count section (%d) doesn't match the length of data section (%d)",
			*m.DataCountSection, len(m.DataSection))
	}
	for i, d := range m.DataSection {
		if d.Mode != DataModeActive {
			continue
		}
		if d.MemoryIndex >= uint32(len(memories)) {
			return fmt.Errorf("data[%d]: unknown memory %d", i, d.MemoryIndex)
		}
		t, err := m.constExprType(d.OffsetExpression, globals, importedGlobals, funcCount)
		if err != nil {
			return fmt.Errorf("data[%d] offset: %w", i, err)
		}
		if t != ValueTypeI32 {
			return fmt.Errorf("data[%d] offset: type mismatch: %s != i32", i, ValueTypeName(t))
		}
	}
	return nil
}

func (m *Module) collectDeclaredFunctionRefs() map[Index]struct{} {
	refs := map[Index]struct{}{}
	add := func(expr *ConstantExpression) {
		if expr.Opcode == OpcodeRefFunc {
			idx, _, _ := leb128.LoadUint32(expr.Data)
			refs[idx] = struct{}{}
		}
	}
	for _, elem := range m.ElementSection {
		for j := range elem.Init {
			add(&elem.Init[j])
		}
	}
	for _, g := range m.GlobalSection {
		add(g.Init)
	}
	for _, e := range m.ExportSection {
		if e.Type == ExternTypeFunc {
			refs[e.Index] = struct{}{}
		}
	}
	return refs
}
