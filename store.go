package stitch

import (
	"github.com/tetratelabs/stitch/internal/wasm"
)

// Store owns every function, table, memory, global and extern reference created in it, plus the guest stack its
// calls run on. Handles such as Func are only valid with the Store that created them: using one with another Store
// panics.
//
// A Store must only be used by one goroutine at a time. Nothing allocated in a Store is released before the Store is
// garbage collected.
type Store struct {
	engine *Engine
	s      *wasm.Store
}

// NewStore returns an empty Store running on the engine e.
func NewStore(e *Engine) *Store {
	s := wasm.NewStore(e.interp, e.config.enabledFeatures, e.config.memoryMaxPages, e.config.maxStackSlots)
	s.OnCompile = e.onCompile
	return &Store{engine: e, s: s}
}

// Engine returns the engine this store was created with.
func (s *Store) Engine() *Engine {
	return s.engine
}

// StackDepth is the number of guest stack slots in use, zero unless a call is in progress.
func (s *Store) StackDepth() int {
	return s.s.Stack.Depth()
}
