package binary

import (
	"fmt"

	"github.com/tetratelabs/stitch/internal/wasm"
)

// Element segment flags. Bit 0 is set for passive or declarative segments, bit 1 for an explicit table index (active)
// or declarative (otherwise), bit 2 for constant expression initializers.
//
// See https://www.w3.org/TR/2022/WD-wasm-core-2-20220419/binary/modules.html#element-section
const (
	elementFlagPassiveOrDeclarative = 1 << iota
	elementFlagTableIndexOrDeclarative
	elementFlagExpressions
)

func ensureElementKindFuncRef(r *reader) error {
	elemKind, err := r.readByte()
	if err != nil {
		return fmt.Errorf("read element kind: %w", err)
	}
	if elemKind != 0x0 { // ElemKind is fixed to 0x0 now
		return r.errorf("element kind must be zero but was %#x", elemKind)
	}
	return nil
}

// decodeElementInitValueVector reads a vector of function indices as ref.func expressions.
func decodeElementInitValueVector(r *reader) ([]wasm.ConstantExpression, error) {
	var vec []wasm.ConstantExpression
	_, err := r.readVec(func(uint32) error {
		start := r.pos
		if _, err := r.readU32(); err != nil {
			return fmt.Errorf("read function index: %w", err)
		}
		vec = append(vec, wasm.ConstantExpression{Opcode: wasm.OpcodeRefFunc, Data: r.buf[start:r.pos:r.pos]})
		return nil
	})
	return vec, err
}

func decodeElementConstExprVector(r *reader, features wasm.Features) ([]wasm.ConstantExpression, error) {
	var vec []wasm.ConstantExpression
	_, err := r.readVec(func(uint32) error {
		expr, err := decodeConstantExpression(r, features)
		if err != nil {
			return err
		}
		switch expr.Opcode {
		case wasm.OpcodeRefFunc, wasm.OpcodeRefNull, wasm.OpcodeGlobalGet:
		default:
			return r.errorf("const expr must be either ref.null, ref.func or global.get but was %s", wasm.InstructionName(expr.Opcode))
		}
		vec = append(vec, *expr)
		return nil
	})
	return vec, err
}

func decodeElementSegment(r *reader, features wasm.Features) (*wasm.ElementSegment, error) {
	prefix, err := r.readU32()
	if err != nil {
		return nil, fmt.Errorf("read element prefix: %w", err)
	}
	if prefix > 7 {
		return nil, r.errorf("invalid element segment prefix: %#x", prefix)
	}
	if prefix != 0 {
		if err = features.Require(wasm.FeatureBulkMemoryOperations); err != nil {
			return nil, r.errorf("non-zero prefix for element segment is invalid as %w", err)
		}
	}

	seg := &wasm.ElementSegment{Type: wasm.RefTypeFuncref}
	switch {
	case prefix&elementFlagPassiveOrDeclarative == 0:
		seg.Mode = wasm.ElementModeActive
	case prefix&elementFlagTableIndexOrDeclarative == 0:
		seg.Mode = wasm.ElementModePassive
	default:
		seg.Mode = wasm.ElementModeDeclarative
	}

	if seg.Mode == wasm.ElementModeActive {
		if prefix&elementFlagTableIndexOrDeclarative != 0 {
			if seg.TableIndex, err = r.readU32(); err != nil {
				return nil, fmt.Errorf("read table index: %w", err)
			}
			if seg.TableIndex != 0 {
				if err = features.Require(wasm.FeatureReferenceTypes); err != nil {
					return nil, r.errorf("table index must be zero but was %d: %w", seg.TableIndex, err)
				}
			}
		}
		if seg.OffsetExpr, err = decodeConstantExpression(r, features); err != nil {
			return nil, fmt.Errorf("read expr for offset: %w", err)
		}
	}

	// Prefixes 0 and 4 have an implicit element type of funcref.
	implicitType := seg.Mode == wasm.ElementModeActive && prefix&elementFlagTableIndexOrDeclarative == 0
	if prefix&elementFlagExpressions == 0 {
		if !implicitType {
			if err = ensureElementKindFuncRef(r); err != nil {
				return nil, err
			}
		}
		seg.Init, err = decodeElementInitValueVector(r)
	} else {
		if !implicitType {
			if seg.Type, err = decodeRefType(r, features); err != nil {
				return nil, fmt.Errorf("read element ref type: %w", err)
			}
		}
		seg.Init, err = decodeElementConstExprVector(r, features)
	}
	if err != nil {
		return nil, err
	}
	return seg, nil
}
