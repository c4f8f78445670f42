package wasm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tetratelabs/stitch/internal/wasmruntime"
)

// DecodeError is returned when a binary is malformed: truncated input, an unknown tag, an oversized LEB128 or a
// section out of order.
type DecodeError struct {
	// Offset is the position in the binary the error was detected at.
	Offset uint64
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode error at offset %#x: %v", e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ValidateError is returned when a module or a function body is well-formed but invalid, such as an operand type
// mismatch or an unknown index.
type ValidateError struct {
	// Func is the debug name of the function whose body failed, or empty for module-level validation.
	Func string
	// Offset is the position of the failing instruction in the module binary.
	Offset uint64
	Err    error
}

func (e *ValidateError) Error() string {
	if e.Func == "" {
		return fmt.Sprintf("invalid module: %v", e.Err)
	}
	return fmt.Sprintf("invalid function %s at offset %#x: %v", e.Func, e.Offset, e.Err)
}

func (e *ValidateError) Unwrap() error {
	return e.Err
}

var (
	// ErrImportNotFound is wrapped by a LinkError when no extern was defined for an import.
	ErrImportNotFound = errors.New("unknown import")
	// ErrImportMismatch is wrapped by a LinkError when the extern defined for an import is not assignable to it.
	ErrImportMismatch = errors.New("incompatible import type")
	// ErrImportStore is wrapped by a LinkError when the extern defined for an import belongs to another Store.
	ErrImportStore = errors.New("import belongs to a different store")
)

// LinkError is returned when the imports given to instantiation do not satisfy the module.
type LinkError struct {
	Module, Name string
	Err          error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("link error on import %q.%q: %v", e.Module, e.Name, e.Err)
}

func (e *LinkError) Unwrap() error {
	return e.Err
}

// Trap is an execution error raised by the guest. It unwraps to one of the wasmruntime errors.
type Trap struct {
	Err *wasmruntime.Error
	// StackTrace are the guest frames active when the trap was raised, innermost first.
	StackTrace []string
}

func (e *Trap) Error() string {
	var b strings.Builder
	b.WriteString("wasm error: ")
	b.WriteString(e.Err.Error())
	if len(e.StackTrace) > 0 {
		b.WriteString("\nwasm stack trace:")
		for _, f := range e.StackTrace {
			b.WriteString("\n\t")
			b.WriteString(f)
		}
	}
	return b.String()
}

func (e *Trap) Unwrap() error {
	return e.Err
}

// Kind is the message of the trap without the stack trace, ex. "integer divide by zero".
func (e *Trap) Kind() string {
	return e.Err.Error()
}
