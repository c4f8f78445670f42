package wasm

import (
	"fmt"
	"sync/atomic"
)

// StoreID identifies a Store. IDs are unique within the process.
type StoreID uint64

var lastStoreID atomic.Uint64

func nextStoreID() StoreID {
	return StoreID(lastStoreID.Add(1))
}

// Handle is a reference to an entity of type T owned by the Store identified by Store. Every dereference checks the
// identity, so a Handle can never reach into another Store's arena.
type Handle[T any] struct {
	Store StoreID
	Index uint32
}

// Unguard drops the store identity, for use where the Store is known statically.
func (h Handle[T]) Unguard() UnguardedHandle[T] {
	return UnguardedHandle[T](h.Index)
}

// UnguardedHandle is the arena index of an entity without its Store identity.
type UnguardedHandle[T any] uint32

// Guard reattaches a store identity to the index.
func (u UnguardedHandle[T]) Guard(id StoreID) Handle[T] {
	return Handle[T]{Store: id, Index: uint32(u)}
}

type (
	FunctionHandle  = Handle[FunctionInstance]
	TableHandle     = Handle[TableInstance]
	MemoryHandle    = Handle[MemoryInstance]
	GlobalHandle    = Handle[GlobalInstance]
	ExternHandle    = Handle[ExternInstance]
	InstanceHandle  = Handle[ModuleInstance]
	FunctionAddress = UnguardedHandle[FunctionInstance]
	TableAddress    = UnguardedHandle[TableInstance]
	MemoryAddress   = UnguardedHandle[MemoryInstance]
	GlobalAddress   = UnguardedHandle[GlobalInstance]
	ExternAddress   = UnguardedHandle[ExternInstance]
	InstanceAddress = UnguardedHandle[ModuleInstance]
)

// arena holds the entities of one kind for a Store. Nothing is removed before the Store is dropped.
type arena[T any] struct {
	items []*T
}

func (a *arena[T]) add(id StoreID, v *T) Handle[T] {
	a.items = append(a.items, v)
	return Handle[T]{Store: id, Index: uint32(len(a.items) - 1)}
}

func (a *arena[T]) get(id StoreID, h Handle[T]) *T {
	if h.Store != id {
		panic(fmt.Sprintf("handle of store %d used with store %d", h.Store, id))
	}
	return a.items[h.Index]
}

func (a *arena[T]) at(u UnguardedHandle[T]) *T {
	return a.items[u]
}
