// Package interpreter executes the ops of internal/compiler on the guest stack of a wasm.Store.
package interpreter

import (
	"fmt"
	"math"

	"github.com/tetratelabs/stitch/internal/compiler"
	"github.com/tetratelabs/stitch/internal/wasm"
	"github.com/tetratelabs/stitch/internal/wasmruntime"
)

// Slots of the call frame header, relative to the end of the params/results area.
const (
	headerReturnPC = iota
	headerCallerFP
	headerCallerFunction
	headerCallerInstance
)

// entryFrame is the caller function recorded in the header of the first frame of an Engine.Call.
const entryFrame = math.MaxUint64

// maxStackTraceFrames caps the frames recorded in a trap, ex. on a stack overflow of a recursive function.
const maxStackTraceFrames = 128

// engine implements wasm.Engine. It holds no state: compiled code lives in the functions and the guest stack in
// the Store.
type engine struct{}

func NewEngine() wasm.Engine {
	return engine{}
}

// Compile implements wasm.Engine.Compile
func (engine) Compile(s *wasm.Store, f *wasm.FunctionInstance, code *wasm.UncompiledCode) (*wasm.CompiledCode, error) {
	body, err := compiler.Compile(s, f, code)
	if err != nil {
		return nil, err
	}
	return &wasm.CompiledCode{
		Body:       body,
		FrameSize:  body.FrameSize,
		LocalCount: uint32(len(f.Type.Params())) + body.LocalCount,
	}, nil
}

// Call implements wasm.Engine.Call
//
// Traps raised anywhere below this call, including in host functions, are recovered here. A re-entrant Call from a
// host function recovers its own traps, so the error seen by the outer Call is what the host function returned.
func (engine) Call(s *wasm.Store, f *wasm.FunctionInstance, params []uint64) (results []uint64, err error) {
	if len(params) != len(f.Type.Params()) {
		return nil, fmt.Errorf("expected %d params, but passed %d", len(f.Type.Params()), len(params))
	}

	stack := s.Stack
	guard := stack.Guard()
	defer guard.Release()

	ce := &callEngine{store: s, stack: stack}
	defer func() {
		if v := recover(); v != nil {
			rerr, ok := v.(*wasmruntime.Error)
			if !ok {
				panic(v)
			}
			results, err = nil, &wasm.Trap{Err: rerr, StackTrace: ce.stackTrace()}
		}
	}()

	fp := guard.Base()
	if f.IsHost() {
		stack.Reserve(fp + f.Type.CallFrameSize())
		copy(stack.Slots()[fp:], params)
		if err = ce.callHost(f, fp); err != nil {
			return nil, err
		}
	} else {
		code, cerr := s.CompileFunction(f)
		if cerr != nil {
			return nil, cerr
		}
		body := code.Body.(*compiler.Body)
		slots := stack.Reserve(fp + int(body.FrameSize))
		copy(slots[fp:], params)
		slots[fp+f.Type.ParamResultSlots()+headerCallerFunction] = entryFrame
		if err = ce.run(f, body, fp); err != nil {
			return nil, err
		}
	}

	results = make([]uint64, len(f.Type.Results()))
	copy(results, stack.Slots()[fp:])
	return results, nil
}

// callEngine is the state of one Engine.Call. fn and fp track the innermost Wasm frame so a trap can walk the
// frame headers back to the entry frame.
type callEngine struct {
	store *wasm.Store
	stack *wasm.Stack

	fn *wasm.FunctionInstance
	fp int
	// host is the host function running, if any.
	host *wasm.FunctionInstance
}

func (ce *callEngine) callHost(f *wasm.FunctionInstance, fp int) error {
	ce.stack.Reserve(fp + f.Type.CallFrameSize())
	ce.host = f
	err := f.Host(ce.store, wasm.NewStackWindow(ce.stack, fp))
	ce.host = nil
	return err
}

func frameName(f *wasm.FunctionInstance) string {
	return f.DebugName + f.Type.String()
}

// stackTrace lists the active frames, innermost first.
func (ce *callEngine) stackTrace() []string {
	var trace []string
	if ce.host != nil {
		trace = append(trace, frameName(ce.host))
	}
	slots := ce.stack.Slots()
	for f, fp := ce.fn, ce.fp; f != nil; {
		if len(trace) == maxStackTraceFrames {
			trace = append(trace, "...")
			break
		}
		trace = append(trace, frameName(f))
		hdr := fp + f.Type.ParamResultSlots()
		caller := slots[hdr+headerCallerFunction]
		if caller == entryFrame {
			break
		}
		fp = int(slots[hdr+headerCallerFP])
		f = ce.store.FunctionAt(wasm.FunctionAddress(caller))
	}
	return trace
}

func (ce *callEngine) resolveIndirect(op *compiler.Op, frame []uint64) *wasm.FunctionInstance {
	table := ce.store.TableAt(wasm.TableAddress(op.U))
	i := uint32(frame[op.B])
	if i >= table.Size() {
		panic(wasmruntime.ErrRuntimeInvalidTableAccess)
	}
	ref := table.References[i]
	if ref == wasm.NullReference {
		panic(wasmruntime.ErrRuntimeUninitializedElement)
	}
	callee := ce.store.FunctionAt(wasm.FunctionAddress(wasm.ReferenceAddress(ref)))
	if callee.TypeID != wasm.FunctionTypeID(op.C) {
		panic(wasmruntime.ErrRuntimeIndirectCallTypeMismatch)
	}
	return callee
}

// run executes f, whose frame starts at fp and whose params are in place, until it returns to the entry frame.
// Calls between Wasm functions switch frames inside this loop.
func (ce *callEngine) run(f *wasm.FunctionInstance, body *compiler.Body, fp int) error {
	s, stack := ce.store, ce.stack
	slots := stack.Slots()
	frame := slots[fp:]
	ops, mem := body.Ops, body.Memory
	ce.fn, ce.fp = f, fp

	for pc := 0; ; {
		op := &ops[pc]
		switch op.Kind {
		case compiler.OpUnreachable:
			panic(wasmruntime.ErrRuntimeUnreachable)
		case compiler.OpConst:
			frame[op.C] = op.U
		case compiler.OpCopy:
			frame[op.C] = frame[op.A]
		case compiler.OpSelect:
			if uint32(frame[op.C]) == 0 {
				frame[op.A] = frame[op.B]
			}
		case compiler.OpBr:
			copy(frame[op.B:op.B+op.C], frame[op.A:op.A+op.C])
			pc = int(op.U)
			continue
		case compiler.OpBrIf:
			if uint32(frame[op.D]) != 0 {
				copy(frame[op.B:op.B+op.C], frame[op.A:op.A+op.C])
				pc = int(op.U)
				continue
			}
		case compiler.OpBrIfZero:
			if uint32(frame[op.A]) == 0 {
				pc = int(op.U)
				continue
			}
		case compiler.OpBrTable:
			i := uint64(uint32(frame[op.A]))
			if last := uint64(len(op.Targets) - 1); i > last {
				i = last
			}
			t := &op.Targets[i]
			copy(frame[t.Dst:t.Dst+op.C], frame[op.B:op.B+op.C])
			pc = int(t.PC)
			continue
		case compiler.OpReturn:
			copy(frame[:op.C], frame[op.A:op.A+op.C])
			hdr := fp + f.Type.ParamResultSlots()
			caller := slots[hdr+headerCallerFunction]
			if caller == entryFrame {
				return nil
			}
			pc = int(slots[hdr+headerReturnPC])
			fp = int(slots[hdr+headerCallerFP])
			f = s.FunctionAt(wasm.FunctionAddress(caller))
			body = f.Code.(*wasm.CompiledCode).Body.(*compiler.Body)
			ops, mem = body.Ops, body.Memory
			slots = stack.Reserve(fp + int(body.FrameSize))
			frame = slots[fp:]
			ce.fn, ce.fp = f, fp
			continue
		case compiler.OpCall, compiler.OpCallIndirect:
			var callee *wasm.FunctionInstance
			if op.Kind == compiler.OpCall {
				callee = s.FunctionAt(wasm.FunctionAddress(op.U))
			} else {
				callee = ce.resolveIndirect(op, frame)
			}
			base := fp + int(op.A)
			if callee.IsHost() {
				if err := ce.callHost(callee, base); err != nil {
					return err
				}
				slots = stack.Reserve(fp + int(body.FrameSize))
				frame = slots[fp:]
				break
			}
			code, err := s.CompileFunction(callee)
			if err != nil {
				return err
			}
			calleeBody := code.Body.(*compiler.Body)
			slots = stack.Reserve(base + int(calleeBody.FrameSize))
			hdr := base + callee.Type.ParamResultSlots()
			slots[hdr+headerReturnPC] = uint64(pc + 1)
			slots[hdr+headerCallerFP] = uint64(fp)
			slots[hdr+headerCallerFunction] = uint64(f.Address)
			slots[hdr+headerCallerInstance] = uint64(f.Module)
			locals := base + int(calleeBody.LocalBase)
			clear(slots[locals : locals+int(calleeBody.LocalCount)])

			f, body, fp = callee, calleeBody, base
			ops, mem = body.Ops, body.Memory
			frame = slots[fp:]
			ce.fn, ce.fp = f, fp
			pc = 0
			continue
		case compiler.OpGlobalGet:
			frame[op.C] = s.GlobalAt(wasm.GlobalAddress(op.U)).Val
		case compiler.OpGlobalSet:
			s.GlobalAt(wasm.GlobalAddress(op.U)).Val = frame[op.A]
		default:
			switch {
			case op.Kind >= compiler.OpKindMisc:
				ce.misc(wasm.OpcodeMisc(op.Kind-compiler.OpKindMisc), op, frame, body.Instance, mem)
			case op.Kind >= compiler.OpKind(wasm.OpcodeI32Load) && op.Kind <= compiler.OpKind(wasm.OpcodeMemoryGrow):
				memoryAccess(wasm.Opcode(op.Kind), op, frame, mem)
			case op.Kind == compiler.OpKind(wasm.OpcodeTableGet) || op.Kind == compiler.OpKind(wasm.OpcodeTableSet):
				ce.tableAccess(wasm.Opcode(op.Kind), op, frame)
			default:
				numeric(wasm.Opcode(op.Kind), op, frame)
			}
		}
		pc++
	}
}
