package binary

import (
	"fmt"

	"github.com/tetratelabs/stitch/internal/wasm"
)

func decodeExport(r *reader) (i *wasm.Export, err error) {
	i = &wasm.Export{}
	if i.Name, err = r.readName(); err != nil {
		return nil, fmt.Errorf("export name: %w", err)
	}
	if i.Type, err = r.readByte(); err != nil {
		return nil, fmt.Errorf("error decoding export kind: %w", err)
	}
	switch i.Type {
	case wasm.ExternTypeFunc, wasm.ExternTypeTable, wasm.ExternTypeMemory, wasm.ExternTypeGlobal:
		if i.Index, err = r.readU32(); err != nil {
			return nil, fmt.Errorf("error decoding export index: %w", err)
		}
	default:
		return nil, r.errorf("%w: invalid byte for exportdesc: %#x", ErrInvalidByte, i.Type)
	}
	return
}
