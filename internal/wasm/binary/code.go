package binary

import (
	"fmt"

	"github.com/tetratelabs/stitch/internal/wasm"
)

// maximumLocals bounds the declared locals of a function body, which are allocated eagerly.
const maximumLocals = 1 << 20

// decodeCode reads a function body: its size, its local declarations and the raw instructions. The instructions are
// validated when the function is first compiled.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-code
func decodeCode(r *reader, features wasm.Features) (*wasm.Code, error) {
	size, err := r.readU32()
	if err != nil {
		return nil, fmt.Errorf("get the size of code: %w", err)
	}
	body, err := r.sub(size)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	type localDecl struct {
		count uint32
		t     wasm.ValueType
	}
	var decls []localDecl
	var total uint64
	if _, err = body.readVec(func(uint32) error {
		n, err := body.readU32()
		if err != nil {
			return fmt.Errorf("read n of locals: %w", err)
		}
		if total += uint64(n); total > maximumLocals {
			return body.errorf("too many locals: %d", total)
		}
		t, err := decodeValueType(body, features)
		if err != nil {
			return fmt.Errorf("read type of local: %w", err)
		}
		decls = append(decls, localDecl{count: n, t: t})
		return nil
	}); err != nil {
		return nil, err
	}

	var localTypes []wasm.ValueType
	if total > 0 {
		localTypes = make([]wasm.ValueType, 0, total)
	}
	for _, d := range decls {
		for i := uint32(0); i < d.count; i++ {
			localTypes = append(localTypes, d.t)
		}
	}

	offset := body.offset()
	instructions, _ := body.take(body.remaining())
	if len(instructions) == 0 || instructions[len(instructions)-1] != wasm.OpcodeEnd {
		return nil, &offsetError{offset: offset, err: fmt.Errorf("expr not ending with end")}
	}
	return &wasm.Code{LocalTypes: localTypes, Body: instructions, BodyOffset: offset}, nil
}
