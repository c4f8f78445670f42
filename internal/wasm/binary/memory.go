package binary

import (
	"fmt"

	"github.com/tetratelabs/stitch/internal/wasm"
)

// decodeMemoryType returns the wasm.MemoryType decoded with the WebAssembly 1.0 (20191205) Binary Format.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-memory
func decodeMemoryType(r *reader, memoryLimitPages uint32) (*wasm.MemoryType, error) {
	start := r.offset()
	limits, err := decodeLimitsType(r)
	if err != nil {
		return nil, err
	}
	if limits.Min > wasm.MemoryLimitPages {
		return nil, &offsetError{offset: start, err: fmt.Errorf("min %d pages (%s) over limit of %d pages (%s)",
			limits.Min, wasm.PagesToUnitOfBytes(limits.Min), wasm.MemoryLimitPages, wasm.PagesToUnitOfBytes(wasm.MemoryLimitPages))}
	}
	if limits.Max != nil && *limits.Max > wasm.MemoryLimitPages {
		return nil, &offsetError{offset: start, err: fmt.Errorf("max %d pages (%s) over limit of %d pages (%s)",
			*limits.Max, wasm.PagesToUnitOfBytes(*limits.Max), wasm.MemoryLimitPages, wasm.PagesToUnitOfBytes(wasm.MemoryLimitPages))}
	}
	if limits.Min > memoryLimitPages {
		return nil, &offsetError{offset: start, err: fmt.Errorf("min %d pages (%s) outside range of %d pages (%s)",
			limits.Min, wasm.PagesToUnitOfBytes(limits.Min), memoryLimitPages, wasm.PagesToUnitOfBytes(memoryLimitPages))}
	}
	return &limits, nil
}
