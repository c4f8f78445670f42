// Package wasmruntime contains the errors raised by the interpreter while executing Wasm functions.
package wasmruntime

// Error is returned by the interpreter during the execution of Wasm functions, and it indicates that the
// guest raised a trap. The Wasm virtual machine's state is left consistent and further calls are permitted.
type Error struct {
	s string
}

func New(text string) *Error {
	return &Error{s: text}
}

// Error implements error.
func (e *Error) Error() string {
	return e.s
}

var (
	// ErrRuntimeStackOverflow indicates that there are too many function calls or the guest stack ran out of
	// slots, and the interpreter terminated the execution.
	ErrRuntimeStackOverflow = New("stack overflow")
	// ErrRuntimeInvalidConversionToInteger indicates the Wasm function tries to
	// convert NaN floating point value to integers during trunc variant instructions.
	ErrRuntimeInvalidConversionToInteger = New("invalid conversion to integer")
	// ErrRuntimeIntegerOverflow indicates that an integer arithmetic resulted in
	// overflow value. For example, when the program tried to truncate a float value
	// which doesn't fit in the range of target integer.
	ErrRuntimeIntegerOverflow = New("integer overflow")
	// ErrRuntimeIntegerDivideByZero indicates that an integer div or rem instructions
	// was executed with 0 as the divisor.
	ErrRuntimeIntegerDivideByZero = New("integer divide by zero")
	// ErrRuntimeUnreachable means "unreachable" instruction was executed by the program.
	ErrRuntimeUnreachable = New("unreachable")
	// ErrRuntimeOutOfBoundsMemoryAccess indicates that the program tried to access the
	// region beyond the linear memory.
	ErrRuntimeOutOfBoundsMemoryAccess = New("out of bounds memory access")
	// ErrRuntimeInvalidTableAccess means the offset into the table was out of bounds.
	ErrRuntimeInvalidTableAccess = New("invalid table access")
	// ErrRuntimeUninitializedElement means the table entry read by call_indirect was null.
	ErrRuntimeUninitializedElement = New("uninitialized element")
	// ErrRuntimeIndirectCallTypeMismatch indicates that the type check failed during call_indirect.
	ErrRuntimeIndirectCallTypeMismatch = New("indirect call type mismatch")
)

// All lists every runtime error, in a stable order.
var All = []*Error{
	ErrRuntimeIntegerDivideByZero,
	ErrRuntimeIntegerOverflow,
	ErrRuntimeInvalidConversionToInteger,
	ErrRuntimeUnreachable,
	ErrRuntimeOutOfBoundsMemoryAccess,
	ErrRuntimeInvalidTableAccess,
	ErrRuntimeIndirectCallTypeMismatch,
	ErrRuntimeUninitializedElement,
	ErrRuntimeStackOverflow,
}
