package wasm

import (
	"encoding/binary"
	"fmt"

	"github.com/tetratelabs/stitch/internal/leb128"
)

// constExprType validates expr against the declarations of the module and returns the type it produces.
func (m *Module) constExprType(expr *ConstantExpression, globals []*GlobalType, importedGlobals uint32, funcCount uint32) (ValueType, error) {
	switch expr.Opcode {
	case OpcodeI32Const:
		if _, _, err := leb128.LoadInt32(expr.Data); err != nil {
			return 0, fmt.Errorf("read i32: %w", err)
		}
		return ValueTypeI32, nil
	case OpcodeI64Const:
		if _, _, err := leb128.LoadInt64(expr.Data); err != nil {
			return 0, fmt.Errorf("read i64: %w", err)
		}
		return ValueTypeI64, nil
	case OpcodeF32Const:
		if len(expr.Data) != 4 {
			return 0, fmt.Errorf("read f32: invalid length %d", len(expr.Data))
		}
		return ValueTypeF32, nil
	case OpcodeF64Const:
		if len(expr.Data) != 8 {
			return 0, fmt.Errorf("read f64: invalid length %d", len(expr.Data))
		}
		return ValueTypeF64, nil
	case OpcodeRefNull:
		if len(expr.Data) != 1 || !IsRefType(expr.Data[0]) {
			return 0, fmt.Errorf("invalid type for ref.null")
		}
		return expr.Data[0], nil
	case OpcodeRefFunc:
		idx, _, err := leb128.LoadUint32(expr.Data)
		if err != nil {
			return 0, fmt.Errorf("read ref.func index: %w", err)
		}
		if idx >= funcCount {
			return 0, fmt.Errorf("ref.func index out of range [%d] with length %d", idx, funcCount)
		}
		return ValueTypeFuncref, nil
	case OpcodeGlobalGet:
		idx, _, err := leb128.LoadUint32(expr.Data)
		if err != nil {
			return 0, fmt.Errorf("read global.get index: %w", err)
		}
		if idx >= importedGlobals {
			return 0, fmt.Errorf("global.get index out of range [%d] with imported globals %d", idx, importedGlobals)
		}
		if globals[idx].Mutable {
			return 0, fmt.Errorf("global.get of mutable global %d in a constant expression", idx)
		}
		return globals[idx].ValType, nil
	}
	return 0, fmt.Errorf("invalid opcode for const expression: %#x", expr.Opcode)
}

// evalConstExpr returns the value of a validated constant expression in the context of inst.
func (s *Store) evalConstExpr(inst *ModuleInstance, expr *ConstantExpression) uint64 {
	switch expr.Opcode {
	case OpcodeI32Const:
		v, _, _ := leb128.LoadInt32(expr.Data)
		return uint64(uint32(v))
	case OpcodeI64Const:
		v, _, _ := leb128.LoadInt64(expr.Data)
		return uint64(v)
	case OpcodeF32Const:
		return uint64(binary.LittleEndian.Uint32(expr.Data))
	case OpcodeF64Const:
		return binary.LittleEndian.Uint64(expr.Data)
	case OpcodeRefFunc:
		idx, _, _ := leb128.LoadUint32(expr.Data)
		return FunctionReference(inst.Functions[idx])
	case OpcodeGlobalGet:
		idx, _, _ := leb128.LoadUint32(expr.Data)
		return s.globals.at(inst.Globals[idx]).Val
	}
	return NullReference
}
