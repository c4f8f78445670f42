// Package compiler validates function bodies and lowers them to a stream of slot-indexed ops in one forward pass.
package compiler

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/tetratelabs/stitch/internal/leb128"
	"github.com/tetratelabs/stitch/internal/wasm"
)

// unknownType is the type of operands popped from the polymorphic stack of unreachable code. It matches any type.
const unknownType wasm.ValueType = 0

type controlFrameKind byte

const (
	controlFrameKindFunction controlFrameKind = iota
	controlFrameKindBlock
	controlFrameKindLoop
	controlFrameKindIf
	controlFrameKindElse
)

// fixup is a forward jump whose target is patched when its frame ends. target is the index into Op.Targets, or -1
// for Op.U.
type fixup struct {
	op, target int
}

type controlFrame struct {
	kind      controlFrameKind
	blockType *wasm.FunctionType
	// height is the operand depth below the params of the block.
	height int
	// unreachable is set after an instruction which never falls through.
	unreachable bool
	// dead is set when the frame was entered from unreachable code: nothing inside it is emitted.
	dead bool
	// startPC is where branches to a loop jump.
	startPC uint64
	// fixups are the jumps to the end of the block.
	fixups []fixup
	// ifOp is the conditional jump of an if, patched at else or end. -1 when not emitted.
	ifOp int
}

// labelTypes are the types of the values a branch to this frame carries.
func (f *controlFrame) labelTypes() []wasm.ValueType {
	if f.kind == controlFrameKindLoop {
		return f.blockType.Params()
	}
	return f.blockType.Results()
}

type compiler struct {
	store    *wasm.Store
	inst     *wasm.ModuleInstance
	module   *wasm.Module
	f        *wasm.FunctionInstance
	features wasm.Features

	body []byte
	pc   int

	locals      []wasm.ValueType
	paramCount  uint32
	localBase   uint32
	operandBase uint32

	stack    []wasm.ValueType
	maxDepth int
	controls []*controlFrame
	ops      []Op
}

// Compile validates the body of the module-defined function f and lowers it. Errors are *wasm.ValidateError
// carrying the offset of the failing instruction.
func Compile(s *wasm.Store, f *wasm.FunctionInstance, code *wasm.UncompiledCode) (*Body, error) {
	inst := s.InstanceAt(f.Module)
	params := f.Type.Params()
	c := &compiler{
		store:      s,
		inst:       inst,
		module:     inst.Source,
		f:          f,
		features:   s.EnabledFeatures,
		body:       code.Body,
		paramCount: uint32(len(params)),
	}
	c.locals = make([]wasm.ValueType, 0, len(params)+len(code.LocalTypes))
	c.locals = append(c.locals, params...)
	c.locals = append(c.locals, code.LocalTypes...)
	c.localBase = uint32(f.Type.ParamResultSlots() + wasm.CallFrameHeaderSize)
	c.operandBase = c.localBase + uint32(len(code.LocalTypes))
	c.controls = []*controlFrame{{kind: controlFrameKindFunction, blockType: f.Type, ifOp: -1}}

	for len(c.controls) > 0 {
		start := c.pc
		var err error
		if c.pc >= len(c.body) {
			err = errors.New("unexpected end of function body")
		} else {
			err = c.next()
		}
		if err != nil {
			return nil, &wasm.ValidateError{Func: f.DebugName, Offset: code.BodyOffset + uint64(start), Err: err}
		}
	}
	if c.pc != len(c.body) {
		return nil, &wasm.ValidateError{Func: f.DebugName, Offset: code.BodyOffset + uint64(c.pc),
			Err: errors.New("instructions after the end of function body")}
	}

	body := &Body{
		Ops:        c.ops,
		Instance:   inst,
		LocalBase:  c.localBase,
		LocalCount: uint32(len(code.LocalTypes)),
		FrameSize:  c.operandBase + uint32(c.maxDepth),
	}
	if len(inst.Memories) > 0 {
		body.Memory = s.MemoryAt(inst.Memories[0])
	}
	return body, nil
}

func (c *compiler) top() *controlFrame {
	return c.controls[len(c.controls)-1]
}

// live is false in code which can never execute.
func (c *compiler) live() bool {
	f := c.top()
	return !f.unreachable && !f.dead
}

func (c *compiler) emit(op Op) int {
	if !c.live() {
		return -1
	}
	c.ops = append(c.ops, op)
	return len(c.ops) - 1
}

func (c *compiler) markUnreachable() {
	f := c.top()
	f.unreachable = true
	c.stack = c.stack[:f.height]
}

// slot returns the frame slot of the operand at depth.
func (c *compiler) slot(depth int) uint32 {
	return c.operandBase + uint32(depth)
}

// topSlot returns the frame slot of the n-th operand from the top, starting at one.
func (c *compiler) topSlot(n int) uint32 {
	return c.slot(len(c.stack) - n)
}

func (c *compiler) localSlot(idx uint32) uint32 {
	if idx < c.paramCount {
		return idx
	}
	return c.localBase + idx - c.paramCount
}

func (c *compiler) push(t wasm.ValueType) {
	c.stack = append(c.stack, t)
	if len(c.stack) > c.maxDepth {
		c.maxDepth = len(c.stack)
	}
}

func (c *compiler) pushTypes(ts []wasm.ValueType) {
	for _, t := range ts {
		c.push(t)
	}
}

func (c *compiler) pop() (wasm.ValueType, error) {
	f := c.top()
	if len(c.stack) == f.height {
		if f.unreachable {
			return unknownType, nil
		}
		return 0, errors.New("type mismatch: operand stack is empty")
	}
	t := c.stack[len(c.stack)-1]
	c.stack = c.stack[:len(c.stack)-1]
	return t, nil
}

func (c *compiler) popExpect(expected wasm.ValueType) (wasm.ValueType, error) {
	t, err := c.pop()
	if err != nil {
		return 0, err
	}
	if t != expected && t != unknownType && expected != unknownType {
		return 0, fmt.Errorf("type mismatch: expected %s, but was %s", wasm.ValueTypeName(expected), wasm.ValueTypeName(t))
	}
	return t, nil
}

func (c *compiler) popTypes(ts []wasm.ValueType) error {
	for i := len(ts) - 1; i >= 0; i-- {
		if _, err := c.popExpect(ts[i]); err != nil {
			return err
		}
	}
	return nil
}

// checkTypes verifies the top of the stack matches ts without consuming it.
func (c *compiler) checkTypes(ts []wasm.ValueType) error {
	saved := c.stack
	err := c.popTypes(ts)
	c.stack = saved
	return err
}

func (c *compiler) popRef() (wasm.ValueType, error) {
	t, err := c.pop()
	if err != nil {
		return 0, err
	}
	if t != unknownType && !wasm.IsRefType(t) {
		return 0, fmt.Errorf("type mismatch: expected reference type, but was %s", wasm.ValueTypeName(t))
	}
	return t, nil
}

func (c *compiler) readByte() (byte, error) {
	if c.pc >= len(c.body) {
		return 0, errors.New("unexpected end of function body")
	}
	b := c.body[c.pc]
	c.pc++
	return b, nil
}

func (c *compiler) readZeroByte(what string) error {
	b, err := c.readByte()
	if err != nil {
		return fmt.Errorf("read %s: %w", what, err)
	}
	if b != 0 {
		return fmt.Errorf("%s must be zero but was %#x", what, b)
	}
	return nil
}

func (c *compiler) readU32(what string) (uint32, error) {
	v, n, err := leb128.LoadUint32(c.body[c.pc:])
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", what, err)
	}
	c.pc += int(n)
	return v, nil
}

func (c *compiler) readBytes(n int, what string) ([]byte, error) {
	if len(c.body)-c.pc < n {
		return nil, fmt.Errorf("read %s: unexpected end of function body", what)
	}
	b := c.body[c.pc : c.pc+n]
	c.pc += n
	return b, nil
}

func (c *compiler) requireFeature(feature wasm.Features, instruction string) error {
	if err := c.features.Require(feature); err != nil {
		return fmt.Errorf("%s invalid as %w", instruction, err)
	}
	return nil
}

func (c *compiler) readBlockType() (*wasm.FunctionType, error) {
	if c.pc >= len(c.body) {
		return nil, errors.New("read block type: unexpected end of function body")
	}
	b := c.body[c.pc]
	switch {
	case b == 0x40:
		c.pc++
		return wasm.FunctionTypeFromValueType(nil), nil
	case wasm.IsValueType(b):
		c.pc++
		if wasm.IsRefType(b) {
			if err := c.requireFeature(wasm.FeatureReferenceTypes, "block of "+wasm.ValueTypeName(b)); err != nil {
				return nil, err
			}
		}
		return wasm.FunctionTypeFromValueType(&b), nil
	}
	idx, n, err := leb128.LoadInt33AsInt64(c.body[c.pc:])
	if err != nil {
		return nil, fmt.Errorf("read block type: %w", err)
	}
	c.pc += int(n)
	if idx < 0 || idx >= int64(len(c.module.TypeSection)) {
		return nil, fmt.Errorf("invalid block type: %d", idx)
	}
	if err = c.requireFeature(wasm.FeatureMultiValue, "block with function type"); err != nil {
		return nil, err
	}
	return c.module.TypeSection[idx], nil
}

// enterBlock pops the params of a new frame, which are pushed back once the frame is on the control stack.
func (c *compiler) enterBlock(kind controlFrameKind, bt *wasm.FunctionType) (*controlFrame, error) {
	if err := c.popTypes(bt.Params()); err != nil {
		return nil, err
	}
	parent := c.top()
	f := &controlFrame{
		kind:      kind,
		blockType: bt,
		height:    len(c.stack),
		dead:      parent.dead || parent.unreachable,
		startPC:   uint64(len(c.ops)),
		ifOp:      -1,
	}
	c.controls = append(c.controls, f)
	c.pushTypes(bt.Params())
	return f, nil
}

func (c *compiler) label(depth uint32) (*controlFrame, error) {
	if int(depth) >= len(c.controls) {
		return nil, fmt.Errorf("unknown label %d", depth)
	}
	return c.controls[len(c.controls)-1-int(depth)], nil
}

// branchTarget returns the pc a branch to f jumps to and records a fixup when it is not known yet.
func (c *compiler) branchTarget(f *controlFrame, op, target int) uint64 {
	if f.kind == controlFrameKindLoop {
		return f.startPC
	}
	if op >= 0 {
		f.fixups = append(f.fixups, fixup{op: op, target: target})
	}
	return 0
}

func (c *compiler) patch(f *controlFrame, pc uint64) {
	for _, fx := range f.fixups {
		if fx.target < 0 {
			c.ops[fx.op].U = pc
		} else {
			c.ops[fx.op].Targets[fx.target].PC = pc
		}
	}
	f.fixups = nil
}

// next validates and lowers one instruction.
func (c *compiler) next() error {
	op := c.body[c.pc]
	c.pc++

	switch op {
	case wasm.OpcodeUnreachable:
		c.emit(Op{Kind: OpUnreachable})
		c.markUnreachable()
	case wasm.OpcodeNop:
	case wasm.OpcodeBlock, wasm.OpcodeLoop:
		bt, err := c.readBlockType()
		if err != nil {
			return err
		}
		kind := controlFrameKindBlock
		if op == wasm.OpcodeLoop {
			kind = controlFrameKindLoop
		}
		_, err = c.enterBlock(kind, bt)
		return err
	case wasm.OpcodeIf:
		bt, err := c.readBlockType()
		if err != nil {
			return err
		}
		cond := c.topSlot(1)
		if _, err = c.popExpect(wasm.ValueTypeI32); err != nil {
			return err
		}
		ifOp := c.emit(Op{Kind: OpBrIfZero, A: cond})
		f, err := c.enterBlock(controlFrameKindIf, bt)
		if err != nil {
			return err
		}
		f.ifOp = ifOp
	case wasm.OpcodeElse:
		return c.handleElse()
	case wasm.OpcodeEnd:
		return c.handleEnd()
	case wasm.OpcodeBr:
		depth, err := c.readU32("label")
		if err != nil {
			return err
		}
		f, err := c.label(depth)
		if err != nil {
			return err
		}
		types := f.labelTypes()
		if err = c.checkTypes(types); err != nil {
			return err
		}
		src := c.topSlot(len(types))
		if f.kind == controlFrameKindFunction {
			c.emit(Op{Kind: OpReturn, A: src, C: uint32(len(types))})
		} else {
			idx := c.emit(Op{Kind: OpBr, A: src, B: c.slot(f.height), C: uint32(len(types))})
			if idx >= 0 {
				c.ops[idx].U = c.branchTarget(f, idx, -1)
			}
		}
		c.markUnreachable()
	case wasm.OpcodeBrIf:
		depth, err := c.readU32("label")
		if err != nil {
			return err
		}
		f, err := c.label(depth)
		if err != nil {
			return err
		}
		cond := c.topSlot(1)
		if _, err = c.popExpect(wasm.ValueTypeI32); err != nil {
			return err
		}
		types := f.labelTypes()
		if err = c.popTypes(types); err != nil {
			return err
		}
		src := c.slot(len(c.stack))
		c.pushTypes(types)
		idx := c.emit(Op{Kind: OpBrIf, A: src, B: c.slot(f.height), C: uint32(len(types)), D: cond})
		if idx >= 0 {
			c.ops[idx].U = c.branchTarget(f, idx, -1)
		}
	case wasm.OpcodeBrTable:
		return c.handleBrTable()
	case wasm.OpcodeReturn:
		results := c.f.Type.Results()
		src := c.topSlot(len(results))
		if err := c.popTypes(results); err != nil {
			return err
		}
		c.emit(Op{Kind: OpReturn, A: src, C: uint32(len(results))})
		c.markUnreachable()
	case wasm.OpcodeCall:
		idx, err := c.readU32("function index")
		if err != nil {
			return err
		}
		if idx >= uint32(len(c.inst.Functions)) {
			return fmt.Errorf("unknown function %d", idx)
		}
		addr := c.inst.Functions[idx]
		callee := c.store.FunctionAt(addr)
		if err = c.popTypes(callee.Type.Params()); err != nil {
			return err
		}
		c.emit(Op{Kind: OpCall, A: c.slot(len(c.stack)), B: uint32(callee.TypeID), U: uint64(addr)})
		c.pushTypes(callee.Type.Results())
	case wasm.OpcodeCallIndirect:
		return c.handleCallIndirect()
	case wasm.OpcodeDrop:
		_, err := c.pop()
		return err
	case wasm.OpcodeSelect, wasm.OpcodeTypedSelect:
		return c.handleSelect(op)
	case wasm.OpcodeLocalGet, wasm.OpcodeLocalSet, wasm.OpcodeLocalTee:
		idx, err := c.readU32("local index")
		if err != nil {
			return err
		}
		if idx >= uint32(len(c.locals)) {
			return fmt.Errorf("unknown local %d", idx)
		}
		t := c.locals[idx]
		local := c.localSlot(idx)
		switch op {
		case wasm.OpcodeLocalGet:
			c.push(t)
			c.emit(Op{Kind: OpCopy, A: local, C: c.topSlot(1)})
		case wasm.OpcodeLocalSet:
			src := c.topSlot(1)
			if _, err = c.popExpect(t); err != nil {
				return err
			}
			c.emit(Op{Kind: OpCopy, A: src, C: local})
		default:
			if _, err = c.popExpect(t); err != nil {
				return err
			}
			c.push(t)
			c.emit(Op{Kind: OpCopy, A: c.topSlot(1), C: local})
		}
	case wasm.OpcodeGlobalGet, wasm.OpcodeGlobalSet:
		idx, err := c.readU32("global index")
		if err != nil {
			return err
		}
		if idx >= uint32(len(c.inst.Globals)) {
			return fmt.Errorf("unknown global %d", idx)
		}
		addr := c.inst.Globals[idx]
		gt := c.store.GlobalAt(addr).Type
		if op == wasm.OpcodeGlobalGet {
			c.push(gt.ValType)
			c.emit(Op{Kind: OpGlobalGet, C: c.topSlot(1), U: uint64(addr)})
			return nil
		}
		if !gt.Mutable {
			return fmt.Errorf("global.set on immutable global %d", idx)
		}
		src := c.topSlot(1)
		if _, err = c.popExpect(gt.ValType); err != nil {
			return err
		}
		c.emit(Op{Kind: OpGlobalSet, A: src, U: uint64(addr)})
	case wasm.OpcodeTableGet, wasm.OpcodeTableSet:
		if err := c.requireFeature(wasm.FeatureReferenceTypes, wasm.InstructionName(op)); err != nil {
			return err
		}
		addr, tt, err := c.readTable()
		if err != nil {
			return err
		}
		if op == wasm.OpcodeTableGet {
			idx := c.topSlot(1)
			if _, err = c.popExpect(wasm.ValueTypeI32); err != nil {
				return err
			}
			c.push(tt.ElemType)
			c.emit(Op{Kind: OpKind(op), A: idx, C: idx, U: uint64(addr)})
			return nil
		}
		val, idx := c.topSlot(1), c.topSlot(2)
		if _, err = c.popExpect(tt.ElemType); err != nil {
			return err
		}
		if _, err = c.popExpect(wasm.ValueTypeI32); err != nil {
			return err
		}
		c.emit(Op{Kind: OpKind(op), A: idx, B: val, U: uint64(addr)})
	case wasm.OpcodeMemorySize, wasm.OpcodeMemoryGrow:
		if err := c.requireMemory(); err != nil {
			return err
		}
		if err := c.readZeroByte("memory index"); err != nil {
			return err
		}
		if op == wasm.OpcodeMemorySize {
			c.push(wasm.ValueTypeI32)
			c.emit(Op{Kind: OpKind(op), C: c.topSlot(1)})
			return nil
		}
		delta := c.topSlot(1)
		if _, err := c.popExpect(wasm.ValueTypeI32); err != nil {
			return err
		}
		c.push(wasm.ValueTypeI32)
		c.emit(Op{Kind: OpKind(op), A: delta, C: delta})
	case wasm.OpcodeI32Const:
		v, n, err := leb128.LoadInt32(c.body[c.pc:])
		if err != nil {
			return fmt.Errorf("read i32 immediate: %w", err)
		}
		c.pc += int(n)
		c.push(wasm.ValueTypeI32)
		c.emit(Op{Kind: OpConst, C: c.topSlot(1), U: uint64(uint32(v))})
	case wasm.OpcodeI64Const:
		v, n, err := leb128.LoadInt64(c.body[c.pc:])
		if err != nil {
			return fmt.Errorf("read i64 immediate: %w", err)
		}
		c.pc += int(n)
		c.push(wasm.ValueTypeI64)
		c.emit(Op{Kind: OpConst, C: c.topSlot(1), U: uint64(v)})
	case wasm.OpcodeF32Const:
		b, err := c.readBytes(4, "f32 immediate")
		if err != nil {
			return err
		}
		c.push(wasm.ValueTypeF32)
		c.emit(Op{Kind: OpConst, C: c.topSlot(1), U: uint64(binary.LittleEndian.Uint32(b))})
	case wasm.OpcodeF64Const:
		b, err := c.readBytes(8, "f64 immediate")
		if err != nil {
			return err
		}
		c.push(wasm.ValueTypeF64)
		c.emit(Op{Kind: OpConst, C: c.topSlot(1), U: binary.LittleEndian.Uint64(b)})
	case wasm.OpcodeRefNull:
		if err := c.requireFeature(wasm.FeatureReferenceTypes, "ref.null"); err != nil {
			return err
		}
		t, err := c.readByte()
		if err != nil {
			return fmt.Errorf("read reference type: %w", err)
		}
		if !wasm.IsRefType(t) {
			return fmt.Errorf("invalid reference type %#x", t)
		}
		c.push(t)
		c.emit(Op{Kind: OpConst, C: c.topSlot(1), U: uint64(wasm.NullReference)})
	case wasm.OpcodeRefIsNull:
		if err := c.requireFeature(wasm.FeatureReferenceTypes, "ref.is_null"); err != nil {
			return err
		}
		ref := c.topSlot(1)
		if _, err := c.popRef(); err != nil {
			return err
		}
		c.push(wasm.ValueTypeI32)
		c.emit(Op{Kind: OpKind(op), A: ref, C: ref})
	case wasm.OpcodeRefFunc:
		if err := c.requireFeature(wasm.FeatureReferenceTypes, "ref.func"); err != nil {
			return err
		}
		idx, err := c.readU32("function index")
		if err != nil {
			return err
		}
		if idx >= uint32(len(c.inst.Functions)) {
			return fmt.Errorf("unknown function %d", idx)
		}
		if !c.module.IsFunctionDeclared(idx) {
			return fmt.Errorf("undeclared function reference %d", idx)
		}
		c.push(wasm.ValueTypeFuncref)
		c.emit(Op{Kind: OpConst, C: c.topSlot(1), U: uint64(wasm.FunctionReference(c.inst.Functions[idx]))})
	case wasm.OpcodeMiscPrefix:
		return c.handleMisc()
	default:
		switch {
		case op >= wasm.OpcodeI32Load && op <= wasm.OpcodeI64Store32:
			return c.handleMemoryAccess(op)
		case numericSignatures[op] != nil:
			if op >= wasm.OpcodeI32Extend8S && op <= wasm.OpcodeI64Extend32S {
				if err := c.requireFeature(wasm.FeatureSignExtensionOps, wasm.InstructionName(op)); err != nil {
					return err
				}
			}
			return c.handleNumeric(OpKind(op), numericSignatures[op], isReinterpret(op))
		}
		return fmt.Errorf("invalid instruction %#x", op)
	}
	return nil
}

func isReinterpret(op wasm.Opcode) bool {
	switch op {
	case wasm.OpcodeI32ReinterpretF32, wasm.OpcodeI64ReinterpretF64,
		wasm.OpcodeF32ReinterpretI32, wasm.OpcodeF64ReinterpretI64:
		return true
	}
	return false
}

// handleNumeric lowers an instruction of a fixed signature. The result is written over the first operand.
// Reinterpretations keep the bits in place and emit nothing.
func (c *compiler) handleNumeric(kind OpKind, sig *signature, noop bool) error {
	a := c.topSlot(len(sig.in))
	var b uint32
	if sig.binary {
		b = c.topSlot(1)
	}
	if err := c.popTypes(sig.in); err != nil {
		return err
	}
	c.push(sig.out)
	if !noop {
		c.emit(Op{Kind: kind, A: a, B: b, C: a})
	}
	return nil
}

func (c *compiler) handleElse() error {
	f := c.top()
	if f.kind != controlFrameKindIf {
		return errors.New("else must follow if")
	}
	if err := c.popTypes(f.blockType.Results()); err != nil {
		return err
	}
	if len(c.stack) != f.height {
		return errors.New("type mismatch: values remaining on stack at end of if")
	}
	if idx := c.emit(Op{Kind: OpBr}); idx >= 0 {
		f.fixups = append(f.fixups, fixup{op: idx, target: -1})
	}
	if f.ifOp >= 0 {
		c.ops[f.ifOp].U = uint64(len(c.ops))
		f.ifOp = -1
	}
	f.kind = controlFrameKindElse
	f.unreachable = false
	c.pushTypes(f.blockType.Params())
	return nil
}

func (c *compiler) handleEnd() error {
	f := c.top()
	results := f.blockType.Results()
	if err := c.popTypes(results); err != nil {
		return err
	}
	if len(c.stack) != f.height {
		return errors.New("type mismatch: values remaining on stack at end of block")
	}
	if f.kind == controlFrameKindIf && !sameTypes(f.blockType.Params(), results) {
		return errors.New("type mismatch: if without else must not change the stack")
	}

	if f.kind == controlFrameKindFunction {
		if !f.dead && (!f.unreachable || len(f.fixups) > 0) {
			c.ops = append(c.ops, Op{Kind: OpReturn, A: c.slot(f.height), C: uint32(len(results))})
			c.patch(f, uint64(len(c.ops)-1))
		}
		c.controls = c.controls[:0]
		return nil
	}

	end := uint64(len(c.ops))
	if f.ifOp >= 0 {
		c.ops[f.ifOp].U = end
	}
	c.patch(f, end)
	c.controls = c.controls[:len(c.controls)-1]
	c.pushTypes(results)
	return nil
}

func sameTypes(a, b []wasm.ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (c *compiler) handleBrTable() error {
	count, err := c.readU32("label count")
	if err != nil {
		return err
	}
	if uint64(count) > uint64(len(c.body)-c.pc) {
		return fmt.Errorf("too many labels in br_table: %d", count)
	}
	depths := make([]uint32, count+1)
	for i := range depths {
		if depths[i], err = c.readU32("label"); err != nil {
			return err
		}
	}
	index := c.topSlot(1)
	if _, err = c.popExpect(wasm.ValueTypeI32); err != nil {
		return err
	}

	defaultFrame, err := c.label(depths[count])
	if err != nil {
		return err
	}
	arity := len(defaultFrame.labelTypes())
	src := c.topSlot(arity)
	frames := make([]*controlFrame, len(depths))
	for i, d := range depths {
		if frames[i], err = c.label(d); err != nil {
			return err
		}
		types := frames[i].labelTypes()
		if len(types) != arity {
			return fmt.Errorf("type mismatch: br_table targets have %d and %d values", arity, len(types))
		}
		if err = c.checkTypes(types); err != nil {
			return err
		}
	}

	if idx := c.emit(Op{Kind: OpBrTable, A: index, B: src, C: uint32(arity)}); idx >= 0 {
		targets := make([]Target, len(frames))
		for i, f := range frames {
			targets[i] = Target{PC: c.branchTarget(f, idx, i), Dst: c.slot(f.height)}
		}
		c.ops[idx].Targets = targets
	}
	c.markUnreachable()
	return nil
}

func (c *compiler) handleCallIndirect() error {
	typeIdx, err := c.readU32("type index")
	if err != nil {
		return err
	}
	if typeIdx >= uint32(len(c.module.TypeSection)) {
		return fmt.Errorf("unknown type %d", typeIdx)
	}
	tableIdx, err := c.readU32("table index")
	if err != nil {
		return err
	}
	if tableIdx != 0 {
		if err = c.requireFeature(wasm.FeatureReferenceTypes, "call_indirect on a non-zero table"); err != nil {
			return err
		}
	}
	if tableIdx >= uint32(len(c.inst.Tables)) {
		return fmt.Errorf("unknown table %d", tableIdx)
	}
	addr := c.inst.Tables[tableIdx]
	if et := c.store.TableAt(addr).Type.ElemType; et != wasm.RefTypeFuncref {
		return fmt.Errorf("call_indirect on a table of %s", wasm.ValueTypeName(et))
	}

	ft := c.module.TypeSection[typeIdx]
	index := c.topSlot(1)
	if _, err = c.popExpect(wasm.ValueTypeI32); err != nil {
		return err
	}
	if err = c.popTypes(ft.Params()); err != nil {
		return err
	}
	c.emit(Op{Kind: OpCallIndirect, A: c.slot(len(c.stack)), B: index, C: uint32(c.inst.Types[typeIdx]), U: uint64(addr)})
	c.pushTypes(ft.Results())
	return nil
}

func (c *compiler) handleSelect(op wasm.Opcode) error {
	var typed wasm.ValueType
	if op == wasm.OpcodeTypedSelect {
		if err := c.requireFeature(wasm.FeatureReferenceTypes, "typed select"); err != nil {
			return err
		}
		n, err := c.readU32("select type count")
		if err != nil {
			return err
		}
		if n != 1 {
			return fmt.Errorf("typed select must have exactly one result but had %d", n)
		}
		if typed, err = c.readByte(); err != nil {
			return fmt.Errorf("read select type: %w", err)
		}
		if !wasm.IsValueType(typed) {
			return fmt.Errorf("invalid select type %#x", typed)
		}
	}

	cond, v2, v1 := c.topSlot(1), c.topSlot(2), c.topSlot(3)
	if _, err := c.popExpect(wasm.ValueTypeI32); err != nil {
		return err
	}
	t2, err := c.popExpect(typed)
	if err != nil {
		return err
	}
	t1, err := c.popExpect(typed)
	if err != nil {
		return err
	}

	result := typed
	if op == wasm.OpcodeSelect {
		if wasm.IsRefType(t1) || wasm.IsRefType(t2) {
			return errors.New("type mismatch: select of reference types requires a type annotation")
		}
		if t1 != t2 && t1 != unknownType && t2 != unknownType {
			return fmt.Errorf("type mismatch: select of %s and %s", wasm.ValueTypeName(t1), wasm.ValueTypeName(t2))
		}
		result = t1
		if result == unknownType {
			result = t2
		}
	}
	c.push(result)
	c.emit(Op{Kind: OpSelect, A: v1, B: v2, C: cond})
	return nil
}

func (c *compiler) requireMemory() error {
	if len(c.inst.Memories) == 0 {
		return errors.New("unknown memory 0")
	}
	return nil
}

func (c *compiler) handleMemoryAccess(op wasm.Opcode) error {
	if err := c.requireMemory(); err != nil {
		return err
	}
	access := memoryAccesses[op-wasm.OpcodeI32Load]
	align, err := c.readU32("memory alignment")
	if err != nil {
		return err
	}
	if align > access.alignment {
		return fmt.Errorf("alignment must not be larger than natural: %d > %d", align, access.alignment)
	}
	offset, err := c.readU32("memory offset")
	if err != nil {
		return err
	}

	if access.store {
		val, addr := c.topSlot(1), c.topSlot(2)
		if _, err = c.popExpect(access.valueType); err != nil {
			return err
		}
		if _, err = c.popExpect(wasm.ValueTypeI32); err != nil {
			return err
		}
		c.emit(Op{Kind: OpKind(op), A: addr, B: val, U: uint64(offset)})
		return nil
	}
	addr := c.topSlot(1)
	if _, err = c.popExpect(wasm.ValueTypeI32); err != nil {
		return err
	}
	c.push(access.valueType)
	c.emit(Op{Kind: OpKind(op), A: addr, C: addr, U: uint64(offset)})
	return nil
}

func (c *compiler) readTable() (wasm.TableAddress, *wasm.TableType, error) {
	idx, err := c.readU32("table index")
	if err != nil {
		return 0, nil, err
	}
	if idx >= uint32(len(c.inst.Tables)) {
		return 0, nil, fmt.Errorf("unknown table %d", idx)
	}
	addr := c.inst.Tables[idx]
	return addr, &c.store.TableAt(addr).Type, nil
}

func (c *compiler) readElementIndex() (uint32, error) {
	idx, err := c.readU32("element segment index")
	if err != nil {
		return 0, err
	}
	if idx >= uint32(len(c.module.ElementSection)) {
		return 0, fmt.Errorf("unknown element segment %d", idx)
	}
	return idx, nil
}

func (c *compiler) readDataIndex() (uint32, error) {
	idx, err := c.readU32("data segment index")
	if err != nil {
		return 0, err
	}
	if c.module.DataCountSection == nil {
		return 0, errors.New("data count section is required")
	}
	if idx >= *c.module.DataCountSection {
		return 0, fmt.Errorf("unknown data segment %d", idx)
	}
	return idx, nil
}

// popI32s pops n i32 operands and returns their slots, deepest first.
func (c *compiler) popI32s(n int) ([]uint32, error) {
	slots := make([]uint32, n)
	for i := range slots {
		slots[i] = c.topSlot(n - i)
	}
	for i := 0; i < n; i++ {
		if _, err := c.popExpect(wasm.ValueTypeI32); err != nil {
			return nil, err
		}
	}
	return slots, nil
}

func (c *compiler) handleMisc() error {
	sub, err := c.readU32("misc opcode")
	if err != nil {
		return err
	}
	if sub > uint32(wasm.OpcodeMiscTableFill) {
		return fmt.Errorf("invalid misc instruction %#x", sub)
	}
	op := wasm.OpcodeMisc(sub)
	kind := Misc(op)
	name := wasm.MiscInstructionName(op)

	switch op {
	case wasm.OpcodeMiscMemoryInit, wasm.OpcodeMiscDataDrop, wasm.OpcodeMiscMemoryCopy, wasm.OpcodeMiscMemoryFill,
		wasm.OpcodeMiscTableInit, wasm.OpcodeMiscElemDrop, wasm.OpcodeMiscTableCopy:
		if err = c.requireFeature(wasm.FeatureBulkMemoryOperations, name); err != nil {
			return err
		}
	case wasm.OpcodeMiscTableGrow, wasm.OpcodeMiscTableSize, wasm.OpcodeMiscTableFill:
		if err = c.requireFeature(wasm.FeatureReferenceTypes, name); err != nil {
			return err
		}
	default:
		if err = c.requireFeature(wasm.FeatureNonTrappingFloatToIntConversion, name); err != nil {
			return err
		}
		return c.handleNumeric(kind, truncSatSignatures[op], false)
	}

	switch op {
	case wasm.OpcodeMiscMemoryInit:
		idx, err := c.readDataIndex()
		if err != nil {
			return err
		}
		if err = c.requireMemory(); err != nil {
			return err
		}
		if err = c.readZeroByte("memory index"); err != nil {
			return err
		}
		s, err := c.popI32s(3)
		if err != nil {
			return err
		}
		c.emit(Op{Kind: kind, A: s[0], B: s[1], C: s[2], U: uint64(idx)})
	case wasm.OpcodeMiscDataDrop:
		idx, err := c.readDataIndex()
		if err != nil {
			return err
		}
		c.emit(Op{Kind: kind, U: uint64(idx)})
	case wasm.OpcodeMiscMemoryCopy, wasm.OpcodeMiscMemoryFill:
		if err = c.requireMemory(); err != nil {
			return err
		}
		if err = c.readZeroByte("memory index"); err != nil {
			return err
		}
		if op == wasm.OpcodeMiscMemoryCopy {
			if err = c.readZeroByte("memory index"); err != nil {
				return err
			}
		}
		s, err := c.popI32s(3)
		if err != nil {
			return err
		}
		c.emit(Op{Kind: kind, A: s[0], B: s[1], C: s[2]})
	case wasm.OpcodeMiscTableInit:
		elemIdx, err := c.readElementIndex()
		if err != nil {
			return err
		}
		addr, tt, err := c.readTable()
		if err != nil {
			return err
		}
		if et := c.module.ElementSection[elemIdx].Type; et != tt.ElemType {
			return fmt.Errorf("type mismatch: table of %s initialized with %s",
				wasm.ValueTypeName(tt.ElemType), wasm.ValueTypeName(et))
		}
		s, err := c.popI32s(3)
		if err != nil {
			return err
		}
		c.emit(Op{Kind: kind, A: s[0], B: s[1], C: s[2], D: elemIdx, U: uint64(addr)})
	case wasm.OpcodeMiscElemDrop:
		elemIdx, err := c.readElementIndex()
		if err != nil {
			return err
		}
		c.emit(Op{Kind: kind, D: elemIdx})
	case wasm.OpcodeMiscTableCopy:
		dst, dt, err := c.readTable()
		if err != nil {
			return err
		}
		src, st, err := c.readTable()
		if err != nil {
			return err
		}
		if dt.ElemType != st.ElemType {
			return fmt.Errorf("type mismatch: table of %s copied from %s",
				wasm.ValueTypeName(dt.ElemType), wasm.ValueTypeName(st.ElemType))
		}
		s, err := c.popI32s(3)
		if err != nil {
			return err
		}
		c.emit(Op{Kind: kind, A: s[0], B: s[1], C: s[2], D: uint32(src), U: uint64(dst)})
	case wasm.OpcodeMiscTableGrow:
		addr, tt, err := c.readTable()
		if err != nil {
			return err
		}
		delta, init := c.topSlot(1), c.topSlot(2)
		if _, err = c.popExpect(wasm.ValueTypeI32); err != nil {
			return err
		}
		if _, err = c.popExpect(tt.ElemType); err != nil {
			return err
		}
		c.push(wasm.ValueTypeI32)
		c.emit(Op{Kind: kind, A: init, B: delta, C: init, U: uint64(addr)})
	case wasm.OpcodeMiscTableSize:
		addr, _, err := c.readTable()
		if err != nil {
			return err
		}
		c.push(wasm.ValueTypeI32)
		c.emit(Op{Kind: kind, C: c.topSlot(1), U: uint64(addr)})
	case wasm.OpcodeMiscTableFill:
		addr, tt, err := c.readTable()
		if err != nil {
			return err
		}
		n, val, i := c.topSlot(1), c.topSlot(2), c.topSlot(3)
		if _, err = c.popExpect(wasm.ValueTypeI32); err != nil {
			return err
		}
		if _, err = c.popExpect(tt.ElemType); err != nil {
			return err
		}
		if _, err = c.popExpect(wasm.ValueTypeI32); err != nil {
			return err
		}
		c.emit(Op{Kind: kind, A: i, B: val, C: n, U: uint64(addr)})
	}
	return nil
}
