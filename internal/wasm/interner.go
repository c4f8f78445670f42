package wasm

// FunctionTypeID is the interned identity of a FunctionType within a Store. Two types with the same ID are
// structurally equal.
type FunctionTypeID uint32

// typeInterner is a hash-cons table of function types keyed by their structural encoding.
type typeInterner struct {
	ids   map[string]FunctionTypeID
	types []*FunctionType
}

func (in *typeInterner) intern(t *FunctionType) FunctionTypeID {
	key := t.key()
	if id, ok := in.ids[key]; ok {
		return id
	}
	if in.ids == nil {
		in.ids = map[string]FunctionTypeID{}
	}
	id := FunctionTypeID(len(in.types))
	in.ids[key] = id
	in.types = append(in.types, t)
	return id
}

func (in *typeInterner) lookup(id FunctionTypeID) *FunctionType {
	return in.types[id]
}
