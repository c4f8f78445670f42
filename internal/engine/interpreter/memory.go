package interpreter

import (
	"fmt"
	"math"

	"github.com/tetratelabs/stitch/internal/compiler"
	"github.com/tetratelabs/stitch/internal/wasm"
	"github.com/tetratelabs/stitch/internal/wasmruntime"
)

func outOfBounds() {
	panic(wasmruntime.ErrRuntimeOutOfBoundsMemoryAccess)
}

// memoryAccess executes a load, a store, memory.size or memory.grow.
func memoryAccess(op wasm.Opcode, o *compiler.Op, frame []uint64, mem *wasm.MemoryInstance) {
	switch op {
	case wasm.OpcodeMemorySize:
		frame[o.C] = uint64(mem.PageSize())
		return
	case wasm.OpcodeMemoryGrow:
		frame[o.C] = uint64(wasm.GrowResult(mem.Grow(uint32(frame[o.A]))))
		return
	}

	ea := uint64(uint32(frame[o.A])) + o.U
	switch op {
	case wasm.OpcodeI32Load, wasm.OpcodeF32Load:
		v, ok := mem.ReadUint32Le(ea)
		if !ok {
			outOfBounds()
		}
		frame[o.C] = uint64(v)
	case wasm.OpcodeI64Load, wasm.OpcodeF64Load:
		v, ok := mem.ReadUint64Le(ea)
		if !ok {
			outOfBounds()
		}
		frame[o.C] = v
	case wasm.OpcodeI32Load8S, wasm.OpcodeI32Load8U, wasm.OpcodeI64Load8S, wasm.OpcodeI64Load8U:
		v, ok := mem.ReadByte(ea)
		if !ok {
			outOfBounds()
		}
		switch op {
		case wasm.OpcodeI32Load8S:
			frame[o.C] = uint64(uint32(int32(int8(v))))
		case wasm.OpcodeI64Load8S:
			frame[o.C] = uint64(int64(int8(v)))
		default:
			frame[o.C] = uint64(v)
		}
	case wasm.OpcodeI32Load16S, wasm.OpcodeI32Load16U, wasm.OpcodeI64Load16S, wasm.OpcodeI64Load16U:
		v, ok := mem.ReadUint16Le(ea)
		if !ok {
			outOfBounds()
		}
		switch op {
		case wasm.OpcodeI32Load16S:
			frame[o.C] = uint64(uint32(int32(int16(v))))
		case wasm.OpcodeI64Load16S:
			frame[o.C] = uint64(int64(int16(v)))
		default:
			frame[o.C] = uint64(v)
		}
	case wasm.OpcodeI64Load32S, wasm.OpcodeI64Load32U:
		v, ok := mem.ReadUint32Le(ea)
		if !ok {
			outOfBounds()
		}
		if op == wasm.OpcodeI64Load32S {
			frame[o.C] = uint64(int64(int32(v)))
		} else {
			frame[o.C] = uint64(v)
		}
	case wasm.OpcodeI32Store, wasm.OpcodeF32Store, wasm.OpcodeI64Store32:
		if !mem.WriteUint32Le(ea, uint32(frame[o.B])) {
			outOfBounds()
		}
	case wasm.OpcodeI64Store, wasm.OpcodeF64Store:
		if !mem.WriteUint64Le(ea, frame[o.B]) {
			outOfBounds()
		}
	case wasm.OpcodeI32Store8, wasm.OpcodeI64Store8:
		if !mem.WriteByte(ea, byte(frame[o.B])) {
			outOfBounds()
		}
	case wasm.OpcodeI32Store16, wasm.OpcodeI64Store16:
		if !mem.WriteUint16Le(ea, uint16(frame[o.B])) {
			outOfBounds()
		}
	default:
		panic(fmt.Sprintf("BUG: invalid memory instruction %s", wasm.InstructionName(op)))
	}
}

func (ce *callEngine) tableAccess(op wasm.Opcode, o *compiler.Op, frame []uint64) {
	table := ce.store.TableAt(wasm.TableAddress(o.U))
	i := uint32(frame[o.A])
	if i >= table.Size() {
		panic(wasmruntime.ErrRuntimeInvalidTableAccess)
	}
	if op == wasm.OpcodeTableGet {
		frame[o.C] = table.References[i]
	} else {
		table.References[i] = frame[o.B]
	}
}

// inBounds returns true when [offset, offset+n) is within length. The sum cannot overflow as both are 32-bit.
func inBounds(offset, n uint32, length int) bool {
	return uint64(offset)+uint64(n) <= uint64(length)
}

// misc executes an instruction prefixed by wasm.OpcodeMiscPrefix: saturating truncations, bulk memory and table
// instructions.
func (ce *callEngine) misc(op wasm.OpcodeMisc, o *compiler.Op, frame []uint64, inst *wasm.ModuleInstance, mem *wasm.MemoryInstance) {
	if op <= wasm.OpcodeMiscI64TruncSatF64U {
		truncSat(op, o, frame)
		return
	}

	s := ce.store
	switch op {
	case wasm.OpcodeMiscMemoryInit:
		d, src, n := uint32(frame[o.A]), uint32(frame[o.B]), uint32(frame[o.C])
		data := inst.DataSegments[o.U]
		if !inBounds(src, n, len(data)) || !inBounds(d, n, len(mem.Buffer)) {
			outOfBounds()
		}
		copy(mem.Buffer[d:], data[src:src+n])
	case wasm.OpcodeMiscDataDrop:
		inst.DataSegments[o.U] = nil
	case wasm.OpcodeMiscMemoryCopy:
		d, src, n := uint32(frame[o.A]), uint32(frame[o.B]), uint32(frame[o.C])
		if !inBounds(src, n, len(mem.Buffer)) || !inBounds(d, n, len(mem.Buffer)) {
			outOfBounds()
		}
		copy(mem.Buffer[d:d+n], mem.Buffer[src:src+n])
	case wasm.OpcodeMiscMemoryFill:
		d, v, n := uint32(frame[o.A]), byte(frame[o.B]), uint32(frame[o.C])
		if !inBounds(d, n, len(mem.Buffer)) {
			outOfBounds()
		}
		buf := mem.Buffer[d : d+n]
		for i := range buf {
			buf[i] = v
		}
	case wasm.OpcodeMiscTableInit:
		d, src, n := uint32(frame[o.A]), uint32(frame[o.B]), uint32(frame[o.C])
		table := s.TableAt(wasm.TableAddress(o.U))
		elems := inst.ElementSegments[o.D]
		if !inBounds(src, n, len(elems)) || !inBounds(d, n, len(table.References)) {
			panic(wasmruntime.ErrRuntimeInvalidTableAccess)
		}
		copy(table.References[d:], elems[src:src+n])
	case wasm.OpcodeMiscElemDrop:
		inst.ElementSegments[o.D] = nil
	case wasm.OpcodeMiscTableCopy:
		d, src, n := uint32(frame[o.A]), uint32(frame[o.B]), uint32(frame[o.C])
		dst, from := s.TableAt(wasm.TableAddress(o.U)), s.TableAt(wasm.TableAddress(o.D))
		if !inBounds(src, n, len(from.References)) || !inBounds(d, n, len(dst.References)) {
			panic(wasmruntime.ErrRuntimeInvalidTableAccess)
		}
		copy(dst.References[d:d+n], from.References[src:src+n])
	case wasm.OpcodeMiscTableGrow:
		table := s.TableAt(wasm.TableAddress(o.U))
		init, delta := frame[o.A], uint32(frame[o.B])
		prev, ok := table.Grow(delta, init)
		if !ok {
			frame[o.C] = math.MaxUint32 // = -1 in signed 32-bit integer.
		} else {
			frame[o.C] = uint64(prev)
		}
	case wasm.OpcodeMiscTableSize:
		frame[o.C] = uint64(s.TableAt(wasm.TableAddress(o.U)).Size())
	case wasm.OpcodeMiscTableFill:
		i, v, n := uint32(frame[o.A]), frame[o.B], uint32(frame[o.C])
		table := s.TableAt(wasm.TableAddress(o.U))
		if !inBounds(i, n, len(table.References)) {
			panic(wasmruntime.ErrRuntimeInvalidTableAccess)
		}
		refs := table.References[i : i+n]
		for j := range refs {
			refs[j] = v
		}
	default:
		panic(fmt.Sprintf("BUG: invalid misc instruction %s", wasm.MiscInstructionName(op)))
	}
}
