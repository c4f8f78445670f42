package wasm

import (
	"fmt"
	"math"
)

// GlobalInstance represents a global in a store. Val holds the raw bits of the value.
type GlobalInstance struct {
	Type GlobalType
	Val  uint64
}

// String implements fmt.Stringer
func (g *GlobalInstance) String() string {
	switch g.Type.ValType {
	case ValueTypeI32:
		return fmt.Sprintf("global(%d)", int32(g.Val))
	case ValueTypeI64:
		return fmt.Sprintf("global(%d)", int64(g.Val))
	case ValueTypeF32:
		return fmt.Sprintf("global(%f)", math.Float32frombits(uint32(g.Val)))
	case ValueTypeF64:
		return fmt.Sprintf("global(%f)", math.Float64frombits(g.Val))
	case ValueTypeFuncref, ValueTypeExternref:
		if g.Val == NullReference {
			return "global(null)"
		}
		return fmt.Sprintf("global(%s %d)", ValueTypeName(g.Type.ValType), ReferenceAddress(g.Val))
	default:
		panic(fmt.Errorf("BUG: unknown value type %X", g.Type.ValType))
	}
}

// ExternInstance is the host value behind an externref.
type ExternInstance struct {
	Value interface{}
}
