package compiler

import (
	"fmt"
	"strings"

	"github.com/tetratelabs/stitch/internal/wasm"
)

// OpKind identifies an Op. Numeric, memory and reference instructions keep their wasm opcode as kind: one byte
// opcodes are below 0x100 and the 0xfc prefixed ones are OpKindMisc plus their second byte. Kinds above
// OpKindControl are the control and variable operations of the slot machine.
type OpKind uint16

// OpKindMisc is added to the second byte of instructions prefixed by wasm.OpcodeMiscPrefix.
const OpKindMisc OpKind = 0x100

// OpKindControl is the first kind which has no wasm opcode.
const OpKindControl OpKind = 0x200

const (
	// OpUnreachable traps.
	OpUnreachable OpKind = OpKindControl + iota
	// OpConst writes U to slot C.
	OpConst
	// OpCopy copies slot A to slot C.
	OpCopy
	// OpSelect copies slot B to slot A when slot C is zero.
	OpSelect
	// OpBr copies C slots from A to B, then jumps to U.
	OpBr
	// OpBrIf does OpBr when slot D is not zero.
	OpBrIf
	// OpBrIfZero jumps to U when slot A is zero. This is the conditional jump of if.
	OpBrIfZero
	// OpBrTable copies C slots from B to the destination of Targets[slot A], or of the last target when out of
	// range, then jumps to its PC.
	OpBrTable
	// OpReturn copies C slots from A to slot zero and returns to the caller.
	OpReturn
	// OpCall calls the function at store address U whose frame starts at slot A.
	OpCall
	// OpCallIndirect calls the function referenced by table U at the index in slot B, whose frame starts at slot A.
	// The function's type must be the interned type C.
	OpCallIndirect
	// OpGlobalGet copies the global at store address U to slot C.
	OpGlobalGet
	// OpGlobalSet copies slot A to the global at store address U.
	OpGlobalSet
)

// Op is one instruction of a compiled body. A, B, C and D are frame slots unless documented otherwise by the kind.
//
// Numeric instructions read slot A (and B when binary) and write slot C. Loads read the address in slot A and write
// slot C, stores read the address in slot A and the value in slot B; U is the offset of the memory argument. Table
// instructions carry the store address of the table in U, and table.copy the source table in D.
type Op struct {
	Kind       OpKind
	A, B, C, D uint32
	U          uint64
	Targets    []Target
}

// Target is a branch destination of OpBrTable.
type Target struct {
	// PC is the index of the Op to continue at.
	PC uint64
	// Dst is the first slot the label values are copied to.
	Dst uint32
}

// Misc returns the kind of the instruction prefixed by wasm.OpcodeMiscPrefix.
func Misc(op wasm.OpcodeMisc) OpKind {
	return OpKindMisc + OpKind(op)
}

var controlNames = [...]string{
	OpUnreachable - OpKindControl:  "unreachable",
	OpConst - OpKindControl:        "const",
	OpCopy - OpKindControl:         "copy",
	OpSelect - OpKindControl:       "select",
	OpBr - OpKindControl:           "br",
	OpBrIf - OpKindControl:         "br_if",
	OpBrIfZero - OpKindControl:     "br_if_zero",
	OpBrTable - OpKindControl:      "br_table",
	OpReturn - OpKindControl:       "return",
	OpCall - OpKindControl:         "call",
	OpCallIndirect - OpKindControl: "call_indirect",
	OpGlobalGet - OpKindControl:    "global.get",
	OpGlobalSet - OpKindControl:    "global.set",
}

// String returns the wasm name of the instruction, or the name of the control operation.
func (k OpKind) String() string {
	switch {
	case k >= OpKindControl:
		if i := int(k - OpKindControl); i < len(controlNames) {
			return controlNames[i]
		}
		return fmt.Sprintf("unknown(%#x)", uint16(k))
	case k >= OpKindMisc:
		return wasm.MiscInstructionName(wasm.OpcodeMisc(k - OpKindMisc))
	}
	return wasm.InstructionName(wasm.Opcode(k))
}

// String formats the op with its operands, ex. "i32.add 4 5 -> 4".
func (o *Op) String() string {
	var b strings.Builder
	b.WriteString(o.Kind.String())
	switch o.Kind {
	case OpConst:
		fmt.Fprintf(&b, " %#x -> %d", o.U, o.C)
	case OpCopy:
		fmt.Fprintf(&b, " %d -> %d", o.A, o.C)
	case OpBr:
		fmt.Fprintf(&b, " @%d [%d:%d] -> %d", o.U, o.A, o.A+o.C, o.B)
	case OpBrIf:
		fmt.Fprintf(&b, " %d @%d [%d:%d] -> %d", o.D, o.U, o.A, o.A+o.C, o.B)
	case OpBrIfZero:
		fmt.Fprintf(&b, " %d @%d", o.A, o.U)
	case OpBrTable:
		fmt.Fprintf(&b, " %d [%d:%d]", o.A, o.B, o.B+o.C)
		for _, t := range o.Targets {
			fmt.Fprintf(&b, " @%d->%d", t.PC, t.Dst)
		}
	case OpReturn:
		fmt.Fprintf(&b, " [%d:%d]", o.A, o.A+o.C)
	case OpCall:
		fmt.Fprintf(&b, " func[%d] frame %d", o.U, o.A)
	case OpCallIndirect:
		fmt.Fprintf(&b, " table[%d] %d type %d frame %d", o.U, o.B, o.C, o.A)
	case OpGlobalGet:
		fmt.Fprintf(&b, " global[%d] -> %d", o.U, o.C)
	case OpGlobalSet:
		fmt.Fprintf(&b, " %d -> global[%d]", o.A, o.U)
	default:
		fmt.Fprintf(&b, " %d %d %d %d %#x", o.A, o.B, o.C, o.D, o.U)
	}
	return b.String()
}

// Body is the compiled form of a function, the payload of wasm.CompiledCode.
type Body struct {
	Ops []Op

	// Instance is the module instance which defines the function.
	Instance *wasm.ModuleInstance
	// Memory is the memory of Instance, or nil.
	Memory *wasm.MemoryInstance

	// LocalBase is the slot of the first declared local, after the params and the call frame header.
	LocalBase uint32
	// LocalCount is the count of declared locals, which are zeroed on entry.
	LocalCount uint32
	// FrameSize is the count of slots from the frame pointer the function may use.
	FrameSize uint32
}

// String lists the ops, one per line.
func (b *Body) String() string {
	var sb strings.Builder
	for i := range b.Ops {
		fmt.Fprintf(&sb, "%04d %s\n", i, b.Ops[i].String())
	}
	return sb.String()
}
