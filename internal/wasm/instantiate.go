package wasm

import (
	"fmt"

	"github.com/tetratelabs/stitch/internal/wasmruntime"
)

// ImportResolver returns the extern defined for the import (module, name).
type ImportResolver func(module, name string) (Extern, bool)

// Instantiate links m against the externs returned by resolve and allocates its entities in this store. The module
// must have passed Module.Validate.
//
// On failure no instance is returned. Entities allocated before the failure stay in the store, unreachable.
func (s *Store) Instantiate(m *Module, name string, resolve ImportResolver) (*ModuleInstance, InstanceHandle, error) {
	inst := &ModuleInstance{
		Name:    name,
		Source:  m,
		Types:   make([]FunctionTypeID, len(m.TypeSection)),
		Exports: make(map[string]*ExportInstance, len(m.ExportSection)),
	}
	for i, t := range m.TypeSection {
		inst.Types[i] = s.InternType(t)
	}

	if err := s.resolveImports(m, inst, resolve); err != nil {
		return nil, InstanceHandle{}, err
	}

	handle := s.addInstance(inst)
	for i, typeIdx := range m.FunctionSection {
		code := m.CodeSection[i]
		idx := Index(len(inst.Functions))
		f := &FunctionInstance{
			Type:      m.TypeSection[typeIdx],
			DebugName: debugName(name, m, idx),
			Module:    handle.Unguard(),
			Index:     idx,
			Code:      &UncompiledCode{LocalTypes: code.LocalTypes, Body: code.Body, BodyOffset: code.BodyOffset},
		}
		inst.Functions = append(inst.Functions, s.AddFunction(f).Unguard())
	}
	for _, tt := range m.TableSection {
		inst.Tables = append(inst.Tables, s.AddTable(NewTableInstance(tt, NullReference)).Unguard())
	}
	for _, mt := range m.MemorySection {
		inst.Memories = append(inst.Memories, s.AddMemory(NewMemoryInstance(mt, s.MemoryLimitPages)).Unguard())
	}
	for _, g := range m.GlobalSection {
		gi := &GlobalInstance{Type: *g.Type, Val: s.evalConstExpr(inst, g.Init)}
		inst.Globals = append(inst.Globals, s.AddGlobal(gi).Unguard())
	}

	if err := s.applySegments(m, inst); err != nil {
		return nil, InstanceHandle{}, err
	}

	for _, e := range m.ExportSection {
		var addr uint32
		switch e.Type {
		case ExternTypeFunc:
			addr = uint32(inst.Functions[e.Index])
		case ExternTypeTable:
			addr = uint32(inst.Tables[e.Index])
		case ExternTypeMemory:
			addr = uint32(inst.Memories[e.Index])
		case ExternTypeGlobal:
			addr = uint32(inst.Globals[e.Index])
		}
		inst.Exports[e.Name] = &ExportInstance{Type: e.Type, Address: addr}
		inst.ExportNames = append(inst.ExportNames, e.Name)
	}

	if m.StartSection != nil {
		start := s.FunctionAt(inst.Functions[*m.StartSection])
		if _, err := s.Engine.Call(s, start, nil); err != nil {
			return nil, InstanceHandle{}, err
		}
	}
	return inst, handle, nil
}

func debugName(moduleName string, m *Module, funcIdx Index) string {
	if moduleName == "" {
		moduleName = m.ModuleName()
	}
	if moduleName == "" {
		return m.FunctionName(funcIdx)
	}
	return moduleName + "." + m.FunctionName(funcIdx)
}

func (s *Store) resolveImports(m *Module, inst *ModuleInstance, resolve ImportResolver) error {
	for _, im := range m.ImportSection {
		ext, ok := resolve(im.Module, im.Name)
		if !ok {
			return &LinkError{Module: im.Module, Name: im.Name, Err: ErrImportNotFound}
		}
		if ext.Store != s.id {
			return &LinkError{Module: im.Module, Name: im.Name, Err: ErrImportStore}
		}
		if ext.Type != im.Type {
			return &LinkError{Module: im.Module, Name: im.Name, Err: fmt.Errorf("%w: expected %s, but was %s",
				ErrImportMismatch, ExternTypeName(im.Type), ExternTypeName(ext.Type))}
		}
		if err := s.checkImportType(im, inst, ext.Address); err != nil {
			return &LinkError{Module: im.Module, Name: im.Name, Err: fmt.Errorf("%w: %v", ErrImportMismatch, err)}
		}
		switch im.Type {
		case ExternTypeFunc:
			inst.Functions = append(inst.Functions, FunctionAddress(ext.Address))
		case ExternTypeTable:
			inst.Tables = append(inst.Tables, TableAddress(ext.Address))
		case ExternTypeMemory:
			inst.Memories = append(inst.Memories, MemoryAddress(ext.Address))
		case ExternTypeGlobal:
			inst.Globals = append(inst.Globals, GlobalAddress(ext.Address))
		}
	}
	return nil
}

func (s *Store) checkImportType(im *Import, inst *ModuleInstance, addr uint32) error {
	switch im.Type {
	case ExternTypeFunc:
		f := s.functions.at(FunctionAddress(addr))
		if f.TypeID != inst.Types[im.DescFunc] {
			return fmt.Errorf("signature mismatch: %s != %s", s.TypeOf(inst.Types[im.DescFunc]), f.Type)
		}
	case ExternTypeTable:
		t := s.tables.at(TableAddress(addr))
		if t.Type.ElemType != im.DescTable.ElemType {
			return fmt.Errorf("element type mismatch: %s != %s",
				ValueTypeName(im.DescTable.ElemType), ValueTypeName(t.Type.ElemType))
		}
		actual := &LimitsType{Min: t.Size(), Max: t.Type.Limits.Max}
		if !actual.subtypeOf(&im.DescTable.Limits) {
			return fmt.Errorf("limits mismatch: %s not within %s", actual, &im.DescTable.Limits)
		}
	case ExternTypeMemory:
		mem := s.memories.at(MemoryAddress(addr))
		actual := &LimitsType{Min: mem.PageSize(), Max: mem.Type.Max}
		if !actual.subtypeOf(im.DescMem) {
			return fmt.Errorf("limits mismatch: %s not within %s", actual, im.DescMem)
		}
	case ExternTypeGlobal:
		g := s.globals.at(GlobalAddress(addr))
		if g.Type != *im.DescGlobal {
			return fmt.Errorf("global type mismatch: %s != %s", im.DescGlobal, &g.Type)
		}
	}
	return nil
}

// applySegments initializes tables from active element segments, then memories from active data segments. Segments
// are applied in order, so a failing segment leaves the writes of the previous ones in place.
func (s *Store) applySegments(m *Module, inst *ModuleInstance) error {
	inst.ElementSegments = make([][]Reference, len(m.ElementSection))
	for i, elem := range m.ElementSection {
		refs := make([]Reference, len(elem.Init))
		for j := range elem.Init {
			refs[j] = s.evalConstExpr(inst, &elem.Init[j])
		}
		switch elem.Mode {
		case ElementModePassive:
			inst.ElementSegments[i] = refs
		case ElementModeActive:
			offset := uint64(uint32(s.evalConstExpr(inst, elem.OffsetExpr)))
			table := s.tables.at(inst.Tables[elem.TableIndex])
			if offset+uint64(len(refs)) > uint64(table.Size()) {
				return &Trap{Err: wasmruntime.ErrRuntimeInvalidTableAccess}
			}
			copy(table.References[offset:], refs)
		}
	}

	inst.DataSegments = make([][]byte, len(m.DataSection))
	for i, d := range m.DataSection {
		if d.Mode == DataModePassive {
			inst.DataSegments[i] = d.Init
			continue
		}
		offset := uint64(uint32(s.evalConstExpr(inst, d.OffsetExpression)))
		mem := s.memories.at(inst.Memories[d.MemoryIndex])
		if !mem.Write(offset, d.Init) {
			return &Trap{Err: wasmruntime.ErrRuntimeOutOfBoundsMemoryAccess}
		}
	}
	return nil
}
