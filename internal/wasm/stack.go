package wasm

import "github.com/tetratelabs/stitch/internal/wasmruntime"

const (
	// DefaultMaxStackSlots is the default ceiling of Stack, in slots.
	DefaultMaxStackSlots = 1 << 20

	initialStackSlots = 1 << 10
)

// Stack is the guest stack shared by every call on a Store. Slots hold the raw bits of a value: integers, floats
// and references alike.
//
// The slab is reallocated when it grows, so callers must not retain Slots across anything that may call Reserve.
type Stack struct {
	slots []uint64
	top   int
	max   int
}

// NewStack returns a Stack that traps with wasmruntime.ErrRuntimeStackOverflow past maxSlots slots.
func NewStack(maxSlots int) *Stack {
	if maxSlots <= 0 {
		maxSlots = DefaultMaxStackSlots
	}
	return &Stack{max: maxSlots}
}

// Depth is the number of slots in use.
func (s *Stack) Depth() int {
	return s.top
}

// Slots returns the current slab. Only indices below Depth are meaningful.
func (s *Stack) Slots() []uint64 {
	return s.slots
}

// Reserve sets the depth to top, growing the slab as needed and zeroing the newly used slots. This panics with
// wasmruntime.ErrRuntimeStackOverflow when top exceeds the ceiling.
func (s *Stack) Reserve(top int) []uint64 {
	if top > len(s.slots) {
		s.grow(top)
	}
	if top > s.top {
		clear(s.slots[s.top:top])
	}
	s.top = top
	return s.slots
}

// Shrink lowers the depth to top without touching the slab.
func (s *Stack) Shrink(top int) {
	s.top = top
}

func (s *Stack) grow(need int) {
	if need > s.max {
		panic(wasmruntime.ErrRuntimeStackOverflow)
	}
	n := 2 * len(s.slots)
	if n < initialStackSlots {
		n = initialStackSlots
	}
	if n < need {
		n = need
	}
	if n > s.max {
		n = s.max
	}
	slots := make([]uint64, n)
	copy(slots, s.slots[:s.top])
	s.slots = slots
}

// Guard records the current depth. Release it with defer so the depth is restored on every exit path.
func (s *Stack) Guard() StackGuard {
	return StackGuard{stack: s, top: s.top}
}

// StackGuard is a scoped acquisition of a Stack.
type StackGuard struct {
	stack *Stack
	top   int
}

// Base is the depth when the guard was taken: the first slot owned by the guarded call.
func (g StackGuard) Base() int {
	return g.top
}

// Release truncates the stack back to where it was when the guard was taken.
func (g StackGuard) Release() {
	g.stack.top = g.top
}

// StackWindow is a view of the slots of one host function call, starting at the call's frame pointer. It reads
// through the Stack on every access so it stays valid when a nested call grows the slab.
type StackWindow struct {
	stack *Stack
	base  int
}

// NewStackWindow returns a window whose slot zero is the stack slot at base.
func NewStackWindow(s *Stack, base int) StackWindow {
	return StackWindow{stack: s, base: base}
}

// Get returns slot i of the window.
func (w StackWindow) Get(i int) uint64 {
	return w.stack.slots[w.base+i]
}

// Set assigns slot i of the window.
func (w StackWindow) Set(i int, v uint64) {
	w.stack.slots[w.base+i] = v
}
