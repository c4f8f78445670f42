package stitch

import (
	"fmt"

	"github.com/tetratelabs/stitch/internal/wasm"
	"github.com/tetratelabs/stitch/internal/wasmruntime"
)

// ExternKind is the kind of an Extern, using the binary encoding of import and export descriptors.
type ExternKind byte

const (
	ExternKindFunc   = ExternKind(wasm.ExternTypeFunc)
	ExternKindTable  = ExternKind(wasm.ExternTypeTable)
	ExternKindMemory = ExternKind(wasm.ExternTypeMemory)
	ExternKindGlobal = ExternKind(wasm.ExternTypeGlobal)
)

// String returns the name of the kind in the text format, ex. "func".
func (k ExternKind) String() string {
	return wasm.ExternTypeName(wasm.ExternType(k))
}

// Extern is an entity which can be imported or exported: Func, Table, Memory or Global.
type Extern interface {
	Kind() ExternKind

	extern() wasm.Extern
}

// Func is a handle to a function of a Store: either defined by a module or by the host.
type Func struct {
	h wasm.FunctionHandle
}

func (Func) Kind() ExternKind { return ExternKindFunc }

func (f Func) extern() wasm.Extern {
	return wasm.Extern{Type: wasm.ExternTypeFunc, Store: f.h.Store, Address: f.h.Index}
}

// Type returns the signature of the function.
func (f Func) Type(store *Store) FuncType {
	return FuncType{t: store.s.Function(f.h).Type}
}

// Name returns the name used in stack traces, ex. "math.add".
func (f Func) Name(store *Store) string {
	return store.s.Function(f.h).DebugName
}

// Call invokes the function with args, writing its results into results, which must have the length of the result
// types. A Wasm function is compiled on its first call.
//
// Errors are a *FuncError when args or results do not match the signature, a *ValidateError when the body is
// invalid, a *Trap when the guest traps, or what a host function returned, unchanged.
func (f Func) Call(store *Store, args []Val, results []Val) error {
	fn := store.s.Function(f.h)
	params, resultTypes := fn.Type.Params(), fn.Type.Results()
	if len(args) != len(params) {
		return &FuncError{Func: fn.DebugName,
			Err: fmt.Errorf("%w: expected %d, but was %d", ErrParamCountMismatch, len(params), len(args))}
	}
	if len(results) != len(resultTypes) {
		return &FuncError{Func: fn.DebugName,
			Err: fmt.Errorf("%w: expected %d, but was %d", ErrResultCountMismatch, len(resultTypes), len(results))}
	}
	raw := make([]uint64, len(args))
	for i, a := range args {
		if a.typ != ValType(params[i]) {
			return &FuncError{Func: fn.DebugName, Err: fmt.Errorf("%w: param[%d] expected %s, but was %s",
				ErrParamTypeMismatch, i, ValType(params[i]), a.typ)}
		}
		raw[i] = a.raw(store.s)
	}

	out, err := store.s.Engine.Call(store.s, fn, raw)
	if err != nil {
		return store.engine.observe(err)
	}
	id := store.s.ID()
	for i, t := range resultTypes {
		results[i] = valFromRaw(id, ValType(t), out[i])
	}
	return nil
}

// Compile validates and compiles the body of a Wasm function ahead of its first call. This is a no-op for host
// functions and for functions already compiled.
func (f Func) Compile(store *Store) error {
	fn := store.s.Function(f.h)
	if fn.IsHost() {
		return nil
	}
	_, err := store.s.CompileFunction(fn)
	return err
}

// CompileCount is how many times the body of the function was compiled: zero before the first call, then one.
func (f Func) CompileCount(store *Store) uint32 {
	return store.s.Function(f.h).CompileCount
}

// FuncRef is a nullable reference to a Func. The zero value is null.
type FuncRef struct {
	fn    Func
	valid bool
}

func NewFuncRef(f Func) FuncRef {
	return FuncRef{fn: f, valid: true}
}

// Func returns the referenced function, or false if null.
func (r FuncRef) Func() (Func, bool) {
	return r.fn, r.valid
}

func (r FuncRef) IsNull() bool {
	return !r.valid
}

// ExternRef is a nullable reference to a host value. The zero value is null.
type ExternRef struct {
	h     wasm.ExternHandle
	valid bool
}

// NewExternRef allocates v in the store, returning a reference Wasm code can hold opaquely.
func NewExternRef(store *Store, v any) ExternRef {
	return ExternRef{h: store.s.AddExtern(&wasm.ExternInstance{Value: v}), valid: true}
}

// Downcast returns the host value, or nil if the reference is null.
func (r ExternRef) Downcast(store *Store) any {
	if !r.valid {
		return nil
	}
	return store.s.Extern(r.h).Value
}

func (r ExternRef) IsNull() bool {
	return !r.valid
}

// Table is a handle to a table of references of a Store.
type Table struct {
	h wasm.TableHandle
}

func (Table) Kind() ExternKind { return ExternKindTable }

func (t Table) extern() wasm.Extern {
	return wasm.Extern{Type: wasm.ExternTypeTable, Store: t.h.Store, Address: t.h.Index}
}

// NewTable allocates a table of tt.Min elements set to init, which must have the element type.
func NewTable(store *Store, tt TableType, init Val) (Table, error) {
	if !tt.Elem.IsRef() {
		return Table{}, fmt.Errorf("invalid table element type: %s", tt.Elem)
	}
	if init.typ != tt.Elem {
		return Table{}, fmt.Errorf("%w: expected %s, but was %s", ErrValTypeMismatch, tt.Elem, init.typ)
	}
	if tt.Min > wasm.MaximumTableSize {
		return Table{}, fmt.Errorf("table min %d exceeds %d", tt.Min, wasm.MaximumTableSize)
	}
	if tt.Max != nil && *tt.Max < tt.Min {
		return Table{}, fmt.Errorf("table min %d exceeds max %d", tt.Min, *tt.Max)
	}
	internal := &wasm.TableType{ElemType: wasm.RefType(tt.Elem), Limits: wasm.LimitsType{Min: tt.Min, Max: tt.Max}}
	return Table{h: store.s.AddTable(wasm.NewTableInstance(internal, init.raw(store.s)))}, nil
}

// Type returns the element type and declared limits of the table.
func (t Table) Type(store *Store) TableType {
	return tableTypeOf(&store.s.Table(t.h).Type)
}

// Size returns the number of elements.
func (t Table) Size(store *Store) uint32 {
	return store.s.Table(t.h).Size()
}

// Grow appends delta elements set to init and returns the previous size. Nothing changes on error.
func (t Table) Grow(store *Store, delta uint32, init Val) (uint32, error) {
	ti := store.s.Table(t.h)
	if err := checkRef(ti.Type.ElemType, init); err != nil {
		return 0, err
	}
	prev, ok := ti.Grow(delta, init.raw(store.s))
	if !ok {
		return 0, fmt.Errorf("%w: table of %d elements grown by %d", ErrGrowLimit, ti.Size(), delta)
	}
	return prev, nil
}

// Get returns the element at i, or a *Trap when i is out of bounds.
func (t Table) Get(store *Store, i uint32) (Val, error) {
	ti := store.s.Table(t.h)
	if i >= ti.Size() {
		return Val{}, &Trap{Err: wasmruntime.ErrRuntimeInvalidTableAccess}
	}
	return valFromRaw(store.s.ID(), ValType(ti.Type.ElemType), ti.References[i]), nil
}

// Set assigns the element at i. It returns a *Trap when i is out of bounds.
func (t Table) Set(store *Store, i uint32, v Val) error {
	ti := store.s.Table(t.h)
	if err := checkRef(ti.Type.ElemType, v); err != nil {
		return err
	}
	if i >= ti.Size() {
		return &Trap{Err: wasmruntime.ErrRuntimeInvalidTableAccess}
	}
	ti.References[i] = v.raw(store.s)
	return nil
}

func checkRef(elem wasm.RefType, v Val) error {
	if v.typ != ValType(elem) {
		return fmt.Errorf("%w: expected %s, but was %s", ErrValTypeMismatch, ValType(elem), v.typ)
	}
	return nil
}

// Memory is a handle to a linear memory of a Store.
type Memory struct {
	h wasm.MemoryHandle
}

func (Memory) Kind() ExternKind { return ExternKindMemory }

func (m Memory) extern() wasm.Extern {
	return wasm.Extern{Type: wasm.ExternTypeMemory, Store: m.h.Store, Address: m.h.Index}
}

// NewMemory allocates mt.Min zeroed pages. Growth is capped by mt.Max and the memory limit of the engine.
func NewMemory(store *Store, mt MemoryType) (Memory, error) {
	limit := store.engine.config.memoryMaxPages
	if mt.Min > limit {
		return Memory{}, fmt.Errorf("memory min %d pages exceeds the limit of %d pages", mt.Min, limit)
	}
	if mt.Max != nil && *mt.Max < mt.Min {
		return Memory{}, fmt.Errorf("memory min %d exceeds max %d", mt.Min, *mt.Max)
	}
	internal := &wasm.MemoryType{Min: mt.Min, Max: mt.Max}
	return Memory{h: store.s.AddMemory(wasm.NewMemoryInstance(internal, limit))}, nil
}

// Type returns the declared limits of the memory.
func (m Memory) Type(store *Store) MemoryType {
	return memoryTypeOf(&store.s.Memory(m.h).Type)
}

// Size returns the size in pages.
func (m Memory) Size(store *Store) uint32 {
	return store.s.Memory(m.h).PageSize()
}

// DataSize returns the size in bytes.
func (m Memory) DataSize(store *Store) uint64 {
	return store.s.Memory(m.h).Size()
}

// Grow adds delta zeroed pages and returns the previous size in pages. Nothing changes on error.
func (m Memory) Grow(store *Store, delta uint32) (uint32, error) {
	mi := store.s.Memory(m.h)
	prev, ok := mi.Grow(delta)
	if !ok {
		return 0, fmt.Errorf("%w: memory of %d pages grown by %d, max %d", ErrGrowLimit, mi.PageSize(), delta, mi.Max)
	}
	return prev, nil
}

// Read copies len(buf) bytes at offset into buf. It returns a *Trap, and reads nothing, when the range is out of
// bounds.
func (m Memory) Read(store *Store, offset uint64, buf []byte) error {
	b, ok := store.s.Memory(m.h).Read(offset, uint64(len(buf)))
	if !ok {
		return &Trap{Err: wasmruntime.ErrRuntimeOutOfBoundsMemoryAccess}
	}
	copy(buf, b)
	return nil
}

// Write copies buf to offset. It returns a *Trap, and writes nothing, when the range is out of bounds.
func (m Memory) Write(store *Store, offset uint64, buf []byte) error {
	if !store.s.Memory(m.h).Write(offset, buf) {
		return &Trap{Err: wasmruntime.ErrRuntimeOutOfBoundsMemoryAccess}
	}
	return nil
}

// Global is a handle to a global of a Store.
type Global struct {
	h wasm.GlobalHandle
}

func (Global) Kind() ExternKind { return ExternKindGlobal }

func (g Global) extern() wasm.Extern {
	return wasm.Extern{Type: wasm.ExternTypeGlobal, Store: g.h.Store, Address: g.h.Index}
}

// NewGlobal allocates a global of type gt set to v, which must have the value type.
func NewGlobal(store *Store, gt GlobalType, v Val) (Global, error) {
	if v.typ != gt.Val {
		return Global{}, fmt.Errorf("%w: expected %s, but was %s", ErrValTypeMismatch, gt.Val, v.typ)
	}
	gi := &wasm.GlobalInstance{
		Type: wasm.GlobalType{ValType: wasm.ValueType(gt.Val), Mutable: gt.Mutable},
		Val:  v.raw(store.s),
	}
	return Global{h: store.s.AddGlobal(gi)}, nil
}

func (g Global) Type(store *Store) GlobalType {
	return globalTypeOf(&store.s.Global(g.h).Type)
}

func (g Global) Get(store *Store) Val {
	gi := store.s.Global(g.h)
	return valFromRaw(store.s.ID(), ValType(gi.Type.ValType), gi.Val)
}

// Set assigns v, which must have the value type, to a mutable global.
func (g Global) Set(store *Store, v Val) error {
	gi := store.s.Global(g.h)
	if !gi.Type.Mutable {
		return ErrImmutableGlobal
	}
	if v.typ != ValType(gi.Type.ValType) {
		return fmt.Errorf("%w: expected %s, but was %s", ErrValTypeMismatch, ValType(gi.Type.ValType), v.typ)
	}
	gi.Val = v.raw(store.s)
	return nil
}
