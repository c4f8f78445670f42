package stitch

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/tetratelabs/stitch/internal/wasm"
)

// Module is a decoded and validated module, ready to be instantiated in any Store of its Engine.
//
// A Module is immutable and may be shared by goroutines.
type Module struct {
	engine *Engine
	m      *wasm.Module
}

func newModule(e *Engine, m *wasm.Module) *Module {
	return &Module{engine: e, m: m}
}

// Engine returns the engine which compiled the module. Only stores of this engine can instantiate it.
func (m *Module) Engine() *Engine {
	return m.engine
}

// Name is the module name from the custom name section, or the empty string.
func (m *Module) Name() string {
	return m.m.ModuleName()
}

// ExternType is the type of an import or export. Only the field for Kind is set.
type ExternType struct {
	Kind   ExternKind
	Func   FuncType
	Table  TableType
	Memory MemoryType
	Global GlobalType
}

// String returns the type in the text format, ex. "func (i32) -> i32" or "memory {min: 1}".
func (t ExternType) String() string {
	switch t.Kind {
	case ExternKindFunc:
		return "func " + t.Func.String()
	case ExternKindTable:
		lt := wasm.LimitsType{Min: t.Table.Min, Max: t.Table.Max}
		return fmt.Sprintf("table %s %s", t.Table.Elem, &lt)
	case ExternKindMemory:
		lt := wasm.LimitsType{Min: t.Memory.Min, Max: t.Memory.Max}
		return "memory " + lt.String()
	case ExternKindGlobal:
		gt := wasm.GlobalType{ValType: wasm.ValueType(t.Global.Val), Mutable: t.Global.Mutable}
		return "global " + gt.String()
	}
	return t.Kind.String()
}

// ImportType describes an import of a module.
type ImportType struct {
	Module, Name string
	Type         ExternType
}

// ExportType describes an export of a module.
type ExportType struct {
	Name string
	Type ExternType
}

// Imports lists the imports in the order of the import section.
func (m *Module) Imports() []ImportType {
	ret := make([]ImportType, 0, len(m.m.ImportSection))
	funcIdx := wasm.Index(0)
	for _, im := range m.m.ImportSection {
		it := ImportType{Module: im.Module, Name: im.Name, Type: ExternType{Kind: ExternKind(im.Type)}}
		switch im.Type {
		case wasm.ExternTypeFunc:
			it.Type.Func = FuncType{t: m.m.TypeOfFunction(funcIdx)}
			funcIdx++
		case wasm.ExternTypeTable:
			it.Type.Table = tableTypeOf(im.DescTable)
		case wasm.ExternTypeMemory:
			it.Type.Memory = memoryTypeOf(im.DescMem)
		case wasm.ExternTypeGlobal:
			it.Type.Global = globalTypeOf(im.DescGlobal)
		}
		ret = append(ret, it)
	}
	return ret
}

// Exports lists the exports in the order of the export section.
func (m *Module) Exports() []ExportType {
	functions, globals, memories, tables := m.declarations()
	ret := make([]ExportType, 0, len(m.m.ExportSection))
	for _, e := range m.m.ExportSection {
		et := ExportType{Name: e.Name, Type: ExternType{Kind: ExternKind(e.Type)}}
		switch e.Type {
		case wasm.ExternTypeFunc:
			et.Type.Func = FuncType{t: functions[e.Index]}
		case wasm.ExternTypeTable:
			et.Type.Table = tableTypeOf(tables[e.Index])
		case wasm.ExternTypeMemory:
			et.Type.Memory = memoryTypeOf(memories[e.Index])
		case wasm.ExternTypeGlobal:
			et.Type.Global = globalTypeOf(globals[e.Index])
		}
		ret = append(ret, et)
	}
	return ret
}

// declarations returns the index spaces of the module, imports first.
func (m *Module) declarations() (functions []*wasm.FunctionType, globals []*wasm.GlobalType, memories []*wasm.MemoryType, tables []*wasm.TableType) {
	for _, im := range m.m.ImportSection {
		switch im.Type {
		case wasm.ExternTypeFunc:
			functions = append(functions, m.m.TypeSection[im.DescFunc])
		case wasm.ExternTypeTable:
			tables = append(tables, im.DescTable)
		case wasm.ExternTypeMemory:
			memories = append(memories, im.DescMem)
		case wasm.ExternTypeGlobal:
			globals = append(globals, im.DescGlobal)
		}
	}
	for _, typeIdx := range m.m.FunctionSection {
		functions = append(functions, m.m.TypeSection[typeIdx])
	}
	for _, g := range m.m.GlobalSection {
		globals = append(globals, g.Type)
	}
	memories = append(memories, m.m.MemorySection...)
	tables = append(tables, m.m.TableSection...)
	return
}

// Imports are the externs offered to Module.Instantiate, by module and name.
type Imports struct {
	defs map[importKey]Extern
}

type importKey struct {
	module, name string
}

func NewImports() *Imports {
	return &Imports{defs: map[importKey]Extern{}}
}

// Define offers e for the import (module, name), replacing any previous definition.
func (i *Imports) Define(module, name string, e Extern) *Imports {
	i.defs[importKey{module, name}] = e
	return i
}

func (i *Imports) resolve(module, name string) (wasm.Extern, bool) {
	if i == nil {
		return wasm.Extern{}, false
	}
	e, ok := i.defs[importKey{module, name}]
	if !ok {
		return wasm.Extern{}, false
	}
	return e.extern(), true
}

// Instantiate links the module against imports, which may be nil when the module has none, and allocates its
// entities in store. Active element and data segments are applied, then the start function runs.
//
// Errors are a *LinkError for a missing or incompatible import, a *Trap when a segment is out of bounds or the
// start function traps, or what a host function called by the start function returned.
func (m *Module) Instantiate(store *Store, imports *Imports) (*Instance, error) {
	if store.engine != m.engine {
		return nil, fmt.Errorf("module of another engine")
	}
	inst, h, err := store.s.Instantiate(m.m, m.m.ModuleName(), imports.resolve)
	if err != nil {
		return nil, m.engine.observe(err)
	}
	m.engine.metrics.instancesCreated.Inc()
	m.engine.logger.Debug("module instantiated", zap.String("module", inst.Name),
		zap.Int("functions", len(inst.Functions)), zap.Strings("exports", inst.ExportNames))
	return &Instance{store: store, h: h}, nil
}
