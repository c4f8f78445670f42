package stitch

import (
	"errors"
	"fmt"

	"github.com/tetratelabs/stitch/internal/wasm"
	"github.com/tetratelabs/stitch/internal/wasmruntime"
)

type (
	// DecodeError is returned by Engine.CompileModule for malformed binaries.
	DecodeError = wasm.DecodeError
	// ValidateError is returned by Engine.CompileModule for invalid modules, and by the first call of a function
	// whose body is invalid.
	ValidateError = wasm.ValidateError
	// LinkError is returned by Module.Instantiate when an import is missing or has the wrong type.
	LinkError = wasm.LinkError
	// Trap is an execution error raised by the guest. Use errors.Is with ErrIntegerDivideByZero and friends to
	// check its kind.
	Trap = wasm.Trap
)

// Trap kinds, matched with errors.Is.
var (
	ErrIntegerDivideByZero            error = wasmruntime.ErrRuntimeIntegerDivideByZero
	ErrIntegerOverflow                error = wasmruntime.ErrRuntimeIntegerOverflow
	ErrInvalidConversionToInteger     error = wasmruntime.ErrRuntimeInvalidConversionToInteger
	ErrUnreachable                    error = wasmruntime.ErrRuntimeUnreachable
	ErrOutOfBoundsMemoryAccess        error = wasmruntime.ErrRuntimeOutOfBoundsMemoryAccess
	ErrInvalidTableAccess             error = wasmruntime.ErrRuntimeInvalidTableAccess
	ErrIndirectCallTypeMismatch       error = wasmruntime.ErrRuntimeIndirectCallTypeMismatch
	ErrUninitializedElement           error = wasmruntime.ErrRuntimeUninitializedElement
	ErrStackOverflow                  error = wasmruntime.ErrRuntimeStackOverflow
	ErrImportNotFound                       = wasm.ErrImportNotFound
	ErrImportMismatch                       = wasm.ErrImportMismatch
	ErrImportStore                          = wasm.ErrImportStore
)

var (
	// ErrParamCountMismatch is wrapped in a FuncError when a call passes the wrong number of arguments.
	ErrParamCountMismatch = errors.New("param count mismatch")
	// ErrResultCountMismatch is wrapped in a FuncError when a call reserves the wrong number of results.
	ErrResultCountMismatch = errors.New("result count mismatch")
	// ErrParamTypeMismatch is wrapped in a FuncError when an argument has the wrong type.
	ErrParamTypeMismatch = errors.New("param type mismatch")
	// ErrResultTypeMismatch is wrapped in a FuncError when a host function returns a result of the wrong type.
	ErrResultTypeMismatch = errors.New("result type mismatch")

	// ErrValTypeMismatch is returned when a Val of the wrong type is stored in a table or global.
	ErrValTypeMismatch = errors.New("value type mismatch")
	// ErrImmutableGlobal is returned by Global.Set on an immutable global.
	ErrImmutableGlobal = errors.New("global is immutable")
	// ErrGrowLimit is returned when growing a memory or table past its maximum.
	ErrGrowLimit = errors.New("grow exceeds the maximum size")
)

// FuncError is returned by Func.Call when the arguments or results do not match the function's type.
type FuncError struct {
	// Func is the debug name of the function, ex. "math.add".
	Func string
	Err  error
}

func (e *FuncError) Error() string {
	return fmt.Sprintf("%s: %v", e.Func, e.Err)
}

func (e *FuncError) Unwrap() error {
	return e.Err
}
