package stitch

import (
	"github.com/tetratelabs/stitch/internal/wasm"
)

// Instance is an instantiated module: its exports, bound to the Store it was instantiated in.
type Instance struct {
	store *Store
	h     wasm.InstanceHandle
}

// Export returns the extern exported as name, or false if there is none.
func (i *Instance) Export(name string) (Extern, bool) {
	inst := i.store.s.Instance(i.h)
	e, ok := inst.Exports[name]
	if !ok {
		return nil, false
	}
	id := i.store.s.ID()
	switch e.Type {
	case wasm.ExternTypeFunc:
		return Func{h: wasm.FunctionAddress(e.Address).Guard(id)}, true
	case wasm.ExternTypeTable:
		return Table{h: wasm.TableAddress(e.Address).Guard(id)}, true
	case wasm.ExternTypeMemory:
		return Memory{h: wasm.MemoryAddress(e.Address).Guard(id)}, true
	case wasm.ExternTypeGlobal:
		return Global{h: wasm.GlobalAddress(e.Address).Guard(id)}, true
	}
	return nil, false
}

// Func returns the function exported as name, or false if there is none or it is another kind.
func (i *Instance) Func(name string) (Func, bool) {
	e, _ := i.Export(name)
	f, ok := e.(Func)
	return f, ok
}

func (i *Instance) Table(name string) (Table, bool) {
	e, _ := i.Export(name)
	t, ok := e.(Table)
	return t, ok
}

func (i *Instance) Memory(name string) (Memory, bool) {
	e, _ := i.Export(name)
	m, ok := e.(Memory)
	return m, ok
}

func (i *Instance) Global(name string) (Global, bool) {
	e, _ := i.Export(name)
	g, ok := e.(Global)
	return g, ok
}

// Exports returns the export names in the order of the export section.
func (i *Instance) Exports() []string {
	names := i.store.s.Instance(i.h).ExportNames
	ret := make([]string, len(names))
	copy(ret, names)
	return ret
}

// Store returns the store the instance was instantiated in.
func (i *Instance) Store() *Store {
	return i.store
}
