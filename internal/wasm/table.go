package wasm

// Reference is the slot encoding of a funcref or externref: zero is null, otherwise the store address plus one.
type Reference = uint64

// NullReference is the encoding of ref.null of any reference type.
const NullReference Reference = 0

// FunctionReference encodes the function at address f.
func FunctionReference(f FunctionAddress) Reference {
	return Reference(f) + 1
}

// ExternReference encodes the extern at address e.
func ExternReference(e ExternAddress) Reference {
	return Reference(e) + 1
}

// ReferenceAddress decodes a non-null reference into the address of its entity.
func ReferenceAddress(r Reference) uint32 {
	return uint32(r - 1)
}

// MaximumTableSize is the most elements a table may hold regardless of its declared max.
const MaximumTableSize = uint32(1 << 27)

// TableInstance represents a table of references in a store.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#table-instances%E2%91%A0
type TableInstance struct {
	Type       TableType
	References []Reference
}

// NewTableInstance allocates Min elements set to init.
func NewTableInstance(tt *TableType, init Reference) *TableInstance {
	refs := make([]Reference, tt.Limits.Min)
	if init != NullReference {
		for i := range refs {
			refs[i] = init
		}
	}
	return &TableInstance{Type: *tt, References: refs}
}

// Size returns the number of elements.
func (t *TableInstance) Size() uint32 {
	return uint32(len(t.References))
}

// Grow appends delta elements set to init and returns the previous size. ok is false, and nothing changes, when the
// result would exceed the table's max.
func (t *TableInstance) Grow(delta uint32, init Reference) (previous uint32, ok bool) {
	previous = t.Size()
	max := uint64(MaximumTableSize)
	if t.Type.Limits.Max != nil && uint64(*t.Type.Limits.Max) < max {
		max = uint64(*t.Type.Limits.Max)
	}
	if uint64(previous)+uint64(delta) > max {
		return 0, false
	}
	for i := uint32(0); i < delta; i++ {
		t.References = append(t.References, init)
	}
	return previous, true
}
