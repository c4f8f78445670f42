package wasm

// Engine compiles and runs functions of a Store. This is implemented by the interpreter.
type Engine interface {
	// Compile validates the body of f and returns its executable form.
	Compile(s *Store, f *FunctionInstance, code *UncompiledCode) (*CompiledCode, error)

	// Call invokes f with the given raw params and returns its raw results. Traps are returned as *Trap; errors
	// returned by host functions are returned unchanged.
	Call(s *Store, f *FunctionInstance, params []uint64) ([]uint64, error)
}

// Store is the runtime representation of "instantiated" Wasm module and objects. It owns every function, table,
// memory, global and extern reference created in it, plus the interned function types and the guest stack. Nothing
// is freed before the Store is dropped.
//
// A Store must only be used by one goroutine at a time.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#store%E2%91%A0
type Store struct {
	id StoreID

	// Engine compiles and runs the functions of this store.
	Engine Engine

	// EnabledFeatures are the features compiled function bodies may use.
	EnabledFeatures Features

	// MemoryLimitPages caps the growth of memories which declare no max.
	MemoryLimitPages uint32

	// Stack is shared by every call on this store, including re-entrant calls from host functions.
	Stack *Stack

	// OnCompile, if set, is called after each function compiles.
	OnCompile func(f *FunctionInstance, c *CompiledCode)

	functions arena[FunctionInstance]
	tables    arena[TableInstance]
	memories  arena[MemoryInstance]
	globals   arena[GlobalInstance]
	externs   arena[ExternInstance]
	instances arena[ModuleInstance]
	types     typeInterner
}

// NewStore returns a Store with a fresh identity.
func NewStore(engine Engine, features Features, memoryLimitPages uint32, maxStackSlots int) *Store {
	return &Store{
		id:               nextStoreID(),
		Engine:           engine,
		EnabledFeatures:  features,
		MemoryLimitPages: memoryLimitPages,
		Stack:            NewStack(maxStackSlots),
	}
}

// ID is the identity stamped into every handle of this store.
func (s *Store) ID() StoreID {
	return s.id
}

// InternType returns the interned identity of t in this store.
func (s *Store) InternType(t *FunctionType) FunctionTypeID {
	return s.types.intern(t)
}

// TypeOf returns the type interned as id.
func (s *Store) TypeOf(id FunctionTypeID) *FunctionType {
	return s.types.lookup(id)
}

// AddFunction allocates f, interning its type.
func (s *Store) AddFunction(f *FunctionInstance) FunctionHandle {
	f.TypeID = s.InternType(f.Type)
	h := s.functions.add(s.id, f)
	f.Address = h.Unguard()
	return h
}

// NewHostFunction allocates a host function of type t.
func (s *Store) NewHostFunction(t *FunctionType, debugName string, fn HostFunction) FunctionHandle {
	return s.AddFunction(&FunctionInstance{Type: t, DebugName: debugName, Host: fn})
}

func (s *Store) Function(h FunctionHandle) *FunctionInstance {
	return s.functions.get(s.id, h)
}

func (s *Store) FunctionAt(a FunctionAddress) *FunctionInstance {
	return s.functions.at(a)
}

func (s *Store) AddTable(t *TableInstance) TableHandle {
	return s.tables.add(s.id, t)
}

func (s *Store) Table(h TableHandle) *TableInstance {
	return s.tables.get(s.id, h)
}

func (s *Store) TableAt(a TableAddress) *TableInstance {
	return s.tables.at(a)
}

func (s *Store) AddMemory(m *MemoryInstance) MemoryHandle {
	return s.memories.add(s.id, m)
}

func (s *Store) Memory(h MemoryHandle) *MemoryInstance {
	return s.memories.get(s.id, h)
}

func (s *Store) MemoryAt(a MemoryAddress) *MemoryInstance {
	return s.memories.at(a)
}

func (s *Store) AddGlobal(g *GlobalInstance) GlobalHandle {
	return s.globals.add(s.id, g)
}

func (s *Store) Global(h GlobalHandle) *GlobalInstance {
	return s.globals.get(s.id, h)
}

func (s *Store) GlobalAt(a GlobalAddress) *GlobalInstance {
	return s.globals.at(a)
}

func (s *Store) AddExtern(e *ExternInstance) ExternHandle {
	return s.externs.add(s.id, e)
}

func (s *Store) Extern(h ExternHandle) *ExternInstance {
	return s.externs.get(s.id, h)
}

func (s *Store) ExternAt(a ExternAddress) *ExternInstance {
	return s.externs.at(a)
}

func (s *Store) Instance(h InstanceHandle) *ModuleInstance {
	return s.instances.get(s.id, h)
}

func (s *Store) InstanceAt(a InstanceAddress) *ModuleInstance {
	return s.instances.at(a)
}

func (s *Store) addInstance(inst *ModuleInstance) InstanceHandle {
	return s.instances.add(s.id, inst)
}
