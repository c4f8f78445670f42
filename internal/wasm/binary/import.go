package binary

import (
	"fmt"

	"github.com/tetratelabs/stitch/internal/wasm"
)

func decodeImport(r *reader, features wasm.Features, memoryLimitPages uint32) (i *wasm.Import, err error) {
	i = &wasm.Import{}
	if i.Module, err = r.readName(); err != nil {
		return nil, fmt.Errorf("import module: %w", err)
	}
	if i.Name, err = r.readName(); err != nil {
		return nil, fmt.Errorf("import name: %w", err)
	}
	if i.Type, err = r.readByte(); err != nil {
		return nil, fmt.Errorf("error decoding import kind: %w", err)
	}
	switch i.Type {
	case wasm.ExternTypeFunc:
		if i.DescFunc, err = r.readU32(); err != nil {
			return nil, fmt.Errorf("error decoding import func typeindex: %w", err)
		}
	case wasm.ExternTypeTable:
		if i.DescTable, err = decodeTableType(r, features); err != nil {
			return nil, fmt.Errorf("error decoding import table desc: %w", err)
		}
	case wasm.ExternTypeMemory:
		if i.DescMem, err = decodeMemoryType(r, memoryLimitPages); err != nil {
			return nil, fmt.Errorf("error decoding import mem desc: %w", err)
		}
	case wasm.ExternTypeGlobal:
		if i.DescGlobal, err = decodeGlobalType(r, features); err != nil {
			return nil, fmt.Errorf("error decoding import global desc: %w", err)
		}
	default:
		return nil, r.errorf("%w: invalid byte for importdesc: %#x", ErrInvalidByte, i.Type)
	}
	return
}
