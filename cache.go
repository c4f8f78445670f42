package stitch

import (
	"crypto/sha256"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/tetratelabs/stitch/internal/wasm"
)

// moduleKey is the SHA-256 digest of a module binary.
type moduleKey = [sha256.Size]byte

// moduleCache keeps decoded and validated modules by the digest of their binary. A decoded module is never mutated
// after validation, so one entry is shared by every Module compiled from the same bytes.
//
// A nil *moduleCache is a disabled cache.
type moduleCache struct {
	lru *lru.Cache[moduleKey, *wasm.Module]
}

func newModuleCache(size int) (*moduleCache, error) {
	if size == 0 {
		return nil, nil
	}
	c, err := lru.New[moduleKey, *wasm.Module](size)
	if err != nil {
		return nil, err
	}
	return &moduleCache{lru: c}, nil
}

func (c *moduleCache) get(key moduleKey) (*wasm.Module, bool) {
	if c == nil {
		return nil, false
	}
	return c.lru.Get(key)
}

func (c *moduleCache) add(key moduleKey, m *wasm.Module) {
	if c != nil {
		c.lru.Add(key, m)
	}
}

func (c *moduleCache) len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}
