package wasm

import "fmt"

// HostFunction is the trampoline of a function defined by the host. Params are read from slots [0, len(params)) of
// the window and results are written to slots [0, len(results)).
type HostFunction func(s *Store, w StackWindow) error

// FunctionInstance is a function in a Store: either defined by a module (Code is set) or by the host (Host is set).
type FunctionInstance struct {
	// Type is the signature, interned in the owning Store as TypeID.
	Type   *FunctionType
	TypeID FunctionTypeID

	// Address is the position of this function in the owning Store.
	Address FunctionAddress

	// DebugName is used in stack traces, ex. "math.add".
	DebugName string

	// Module is the instance that defined this function. Unset for host functions.
	Module InstanceAddress

	// Index is the position of this function in the index namespace of Module.
	Index Index

	// Code is the state of a module-defined function: *UncompiledCode, compiling or *CompiledCode.
	Code CodeState

	// CompileCount is how many times Code moved to *CompiledCode.
	CompileCount uint32

	Host HostFunction
}

// IsHost returns true when the function is implemented by the host.
func (f *FunctionInstance) IsHost() bool {
	return f.Host != nil
}

// CodeState is the sum of the states a module-defined function goes through: *UncompiledCode, then the compiling
// sentinel while the compiler runs, then *CompiledCode.
type CodeState interface {
	isCodeState()
}

// UncompiledCode is the body of a function as decoded, before validation.
type UncompiledCode struct {
	// LocalTypes are the declared locals, not including params.
	LocalTypes []ValueType
	// Body is a sequence of instructions ending in OpcodeEnd.
	Body []byte
	// BodyOffset is the position of Body in the module binary, used in error messages.
	BodyOffset uint64
}

// CompiledCode is the output of Engine.Compile.
type CompiledCode struct {
	// Body is the engine-specific executable form, ex. the op stream of the interpreter.
	Body interface{}
	// FrameSize is the number of slots a call needs, starting at the frame pointer.
	FrameSize uint32
	// LocalCount is params plus declared locals.
	LocalCount uint32
}

type compilingCode struct{}

func (*UncompiledCode) isCodeState() {}
func (*CompiledCode) isCodeState()   {}
func (compilingCode) isCodeState()   {}

// Compiling marks a function whose compilation is in progress.
var Compiling CodeState = compilingCode{}

// CompileFunction moves f to *CompiledCode, compiling at most once. A failed compilation leaves f uncompiled, even
// when the engine panics.
func (s *Store) CompileFunction(f *FunctionInstance) (*CompiledCode, error) {
	switch c := f.Code.(type) {
	case *CompiledCode:
		return c, nil
	case compilingCode:
		panic("function is already being compiled")
	case *UncompiledCode:
		f.Code = Compiling
		defer func() {
			if f.Code == Compiling {
				f.Code = c
			}
		}()
		compiled, err := s.Engine.Compile(s, f, c)
		if err != nil {
			return nil, err
		}
		f.Code = compiled
		f.CompileCount++
		if s.OnCompile != nil {
			s.OnCompile(f, compiled)
		}
		return compiled, nil
	}
	return nil, fmt.Errorf("%s is a host function", f.DebugName)
}
