package wasm

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	// MemoryPageSize is the unit of memory length in WebAssembly,
	// and is defined as 2^16 = 65536.
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#memory-instances%E2%91%A0
	MemoryPageSize = uint32(65536)
	// MemoryLimitPages is maximum number of pages defined (2^16).
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#grow-mem
	MemoryLimitPages = uint32(65536)
	// MemoryPageSizeInBits satisfies the relation: "1 << MemoryPageSizeInBits == MemoryPageSize".
	MemoryPageSizeInBits = 16
)

// MemoryInstance represents a memory instance in a store.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#memory-instances%E2%91%A0.
type MemoryInstance struct {
	Buffer []byte
	// Type is the declared type. Type.Max may be nil.
	Type MemoryType
	// Max is the effective page ceiling: the declared max, capped by the engine's memory limit.
	Max uint32
}

// NewMemoryInstance allocates Min pages of zeroed memory. limitPages caps growth when the type declares no max.
func NewMemoryInstance(mt *MemoryType, limitPages uint32) *MemoryInstance {
	max := limitPages
	if mt.Max != nil && *mt.Max < max {
		max = *mt.Max
	}
	return &MemoryInstance{
		Buffer: make([]byte, MemoryPagesToBytesNum(mt.Min)),
		Type:   *mt,
		Max:    max,
	}
}

// Size returns the length in bytes. It is 1<<32 for a memory of MemoryLimitPages.
func (m *MemoryInstance) Size() uint64 {
	return uint64(len(m.Buffer))
}

// hasSize returns true if Len is sufficient for sizeInBytes at the given offset.
func (m *MemoryInstance) hasSize(offset uint64, sizeInBytes uint64) bool {
	return offset+sizeInBytes <= uint64(len(m.Buffer)) // uint64 prevents overflow on add
}

// ReadByte reads a single byte at offset.
func (m *MemoryInstance) ReadByte(offset uint64) (byte, bool) {
	if !m.hasSize(offset, 1) {
		return 0, false
	}
	return m.Buffer[offset], true
}

// ReadUint16Le reads a little-endian uint16 at offset.
func (m *MemoryInstance) ReadUint16Le(offset uint64) (uint16, bool) {
	if !m.hasSize(offset, 2) {
		return 0, false
	}
	return binary.LittleEndian.Uint16(m.Buffer[offset:]), true
}

// ReadUint32Le reads a little-endian uint32 at offset.
func (m *MemoryInstance) ReadUint32Le(offset uint64) (uint32, bool) {
	if !m.hasSize(offset, 4) {
		return 0, false
	}
	return binary.LittleEndian.Uint32(m.Buffer[offset:]), true
}

// ReadUint64Le reads a little-endian uint64 at offset.
func (m *MemoryInstance) ReadUint64Le(offset uint64) (uint64, bool) {
	if !m.hasSize(offset, 8) {
		return 0, false
	}
	return binary.LittleEndian.Uint64(m.Buffer[offset:]), true
}

// Read returns a view of byteCount bytes at offset. The view is invalidated by Grow.
func (m *MemoryInstance) Read(offset uint64, byteCount uint64) ([]byte, bool) {
	if !m.hasSize(offset, byteCount) {
		return nil, false
	}
	return m.Buffer[offset : offset+byteCount : offset+byteCount], true
}

// WriteByte writes a single byte at offset.
func (m *MemoryInstance) WriteByte(offset uint64, v byte) bool {
	if !m.hasSize(offset, 1) {
		return false
	}
	m.Buffer[offset] = v
	return true
}

// WriteUint16Le writes v little-endian at offset.
func (m *MemoryInstance) WriteUint16Le(offset uint64, v uint16) bool {
	if !m.hasSize(offset, 2) {
		return false
	}
	binary.LittleEndian.PutUint16(m.Buffer[offset:], v)
	return true
}

// WriteUint32Le writes v little-endian at offset.
func (m *MemoryInstance) WriteUint32Le(offset uint64, v uint32) bool {
	if !m.hasSize(offset, 4) {
		return false
	}
	binary.LittleEndian.PutUint32(m.Buffer[offset:], v)
	return true
}

// WriteUint64Le writes v little-endian at offset.
func (m *MemoryInstance) WriteUint64Le(offset uint64, v uint64) bool {
	if !m.hasSize(offset, 8) {
		return false
	}
	binary.LittleEndian.PutUint64(m.Buffer[offset:], v)
	return true
}

// Write copies val to offset.
func (m *MemoryInstance) Write(offset uint64, val []byte) bool {
	if !m.hasSize(offset, uint64(len(val))) {
		return false
	}
	copy(m.Buffer[offset:], val)
	return true
}

// MemoryPagesToBytesNum converts the given pages into the number of bytes contained in these pages.
func MemoryPagesToBytesNum(pages uint32) (bytesNum uint64) {
	return uint64(pages) << MemoryPageSizeInBits
}

// memoryBytesNumToPages converts the given number of bytes into the number of pages.
func memoryBytesNumToPages(bytesNum uint64) (pages uint32) {
	return uint32(bytesNum >> MemoryPageSizeInBits)
}

// Grow extends the memory buffer by delta pages and returns the previous page count.
// The logic here is described in https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#grow-mem.
//
// ok is false, and nothing changes, when the result would exceed Max.
func (m *MemoryInstance) Grow(delta uint32) (previous uint32, ok bool) {
	currentPages := m.PageSize()
	if uint64(currentPages)+uint64(delta) > uint64(m.Max) {
		return 0, false
	}
	if delta > 0 {
		m.Buffer = append(m.Buffer, make([]byte, MemoryPagesToBytesNum(delta))...)
	}
	return currentPages, true
}

// PageSize returns the current memory buffer size in pages.
func (m *MemoryInstance) PageSize() uint32 {
	return memoryBytesNumToPages(uint64(len(m.Buffer)))
}

// GrowResult is the value memory.grow pushes: the previous size or -1 as an unsigned 32-bit integer.
func GrowResult(previous uint32, ok bool) uint32 {
	if !ok {
		return math.MaxUint32 // = -1 in signed 32-bit integer.
	}
	return previous
}

// PagesToUnitOfBytes converts the pages to a human-readable form similar to what's specified. Ex. 1 -> "64 Ki"
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#memory-instances%E2%91%A0
func PagesToUnitOfBytes(pages uint32) string {
	k := uint64(pages) * 64
	if k < 1024 {
		return fmt.Sprintf("%d Ki", k)
	}
	m := k / 1024
	if m < 1024 {
		return fmt.Sprintf("%d Mi", m)
	}
	g := m / 1024
	if g < 1024 {
		return fmt.Sprintf("%d Gi", g)
	}
	return fmt.Sprintf("%d Ti", g/1024)
}
