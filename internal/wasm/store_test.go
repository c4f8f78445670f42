package wasm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tetratelabs/stitch/internal/wasmruntime"
)

// fakeEngine compiles every body to an empty CompiledCode and runs host functions directly.
type fakeEngine struct {
	compileErr error
	compiled   int
	onCompile  func(s *Store, f *FunctionInstance)
}

func (e *fakeEngine) Compile(s *Store, f *FunctionInstance, code *UncompiledCode) (*CompiledCode, error) {
	if e.onCompile != nil {
		e.onCompile(s, f)
	}
	if e.compileErr != nil {
		return nil, e.compileErr
	}
	e.compiled++
	return &CompiledCode{FrameSize: uint32(len(code.LocalTypes)), LocalCount: uint32(len(code.LocalTypes))}, nil
}

func (e *fakeEngine) Call(s *Store, f *FunctionInstance, params []uint64) ([]uint64, error) {
	if f.IsHost() {
		g := s.Stack.Guard()
		defer g.Release()
		base := g.Base()
		s.Stack.Reserve(base + f.Type.ParamResultSlots())
		w := NewStackWindow(s.Stack, base)
		for i, p := range params {
			w.Set(i, p)
		}
		if err := f.Host(s, w); err != nil {
			return nil, err
		}
		results := make([]uint64, len(f.Type.Results()))
		for i := range results {
			results[i] = w.Get(i)
		}
		return results, nil
	}
	if _, err := s.CompileFunction(f); err != nil {
		return nil, err
	}
	return nil, nil
}

func newTestStore() (*Store, *fakeEngine) {
	e := &fakeEngine{}
	return NewStore(e, FeaturesSupported, MemoryLimitPages, 0), e
}

func TestStore_ID(t *testing.T) {
	s1, _ := newTestStore()
	s2, _ := newTestStore()
	require.NotEqual(t, s1.ID(), s2.ID())
}

func TestStore_HandleFromOtherStorePanics(t *testing.T) {
	s1, _ := newTestStore()
	s2, _ := newTestStore()

	g := s1.AddGlobal(&GlobalInstance{Type: GlobalType{ValType: ValueTypeI32}, Val: 1})
	require.Equal(t, s1.ID(), g.Store)
	require.Equal(t, uint64(1), s1.Global(g).Val)

	// Allocate in s2 so the index is valid there too, which must not matter.
	s2.AddGlobal(&GlobalInstance{Type: GlobalType{ValType: ValueTypeI32}})
	require.Panics(t, func() { s2.Global(g) })

	h := s1.NewHostFunction(NewFunctionType(nil, nil), "host.noop", func(*Store, StackWindow) error { return nil })
	require.Panics(t, func() { s2.Function(h) })

	// Re-guarding with the owning store is the only way back.
	require.Equal(t, h, h.Unguard().Guard(s1.ID()))
	require.Panics(t, func() { s1.Function(h.Unguard().Guard(s2.ID())) })
}

func TestStore_InternType(t *testing.T) {
	s, _ := newTestStore()
	a := s.InternType(NewFunctionType([]ValueType{ValueTypeI32, ValueTypeI32}, []ValueType{ValueTypeI32}))
	b := s.InternType(NewFunctionType([]ValueType{ValueTypeI32, ValueTypeI32}, []ValueType{ValueTypeI32}))
	c := s.InternType(NewFunctionType([]ValueType{ValueTypeI32}, []ValueType{ValueTypeI32, ValueTypeI32}))
	d := s.InternType(NewFunctionType(nil, nil))
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
	require.NotEqual(t, a, d)
	require.NotEqual(t, c, d)
	require.Equal(t, "(i32, i32) -> i32", s.TypeOf(a).String())
}

func TestStore_CompileFunction(t *testing.T) {
	t.Run("at most once", func(t *testing.T) {
		s, e := newTestStore()
		var hooked int
		s.OnCompile = func(*FunctionInstance, *CompiledCode) { hooked++ }
		f := &FunctionInstance{Type: NewFunctionType(nil, nil), Code: &UncompiledCode{Body: []byte{OpcodeEnd}}}
		s.AddFunction(f)
		for i := 0; i < 10; i++ {
			c, err := s.CompileFunction(f)
			require.NoError(t, err)
			require.NotNil(t, c)
		}
		require.Equal(t, 1, e.compiled)
		require.Equal(t, uint32(1), f.CompileCount)
		require.Equal(t, 1, hooked)
	})

	t.Run("error restores uncompiled", func(t *testing.T) {
		s, e := newTestStore()
		e.compileErr = errors.New("invalid")
		code := &UncompiledCode{Body: []byte{OpcodeEnd}}
		f := &FunctionInstance{Type: NewFunctionType(nil, nil), Code: code}
		_, err := s.CompileFunction(f)
		require.EqualError(t, err, "invalid")
		require.Same(t, code, f.Code)
		require.Zero(t, f.CompileCount)
	})

	t.Run("panic restores uncompiled", func(t *testing.T) {
		s, e := newTestStore()
		e.onCompile = func(*Store, *FunctionInstance) { panic("boom") }
		code := &UncompiledCode{Body: []byte{OpcodeEnd}}
		f := &FunctionInstance{Type: NewFunctionType(nil, nil), Code: code}
		require.PanicsWithValue(t, "boom", func() { _, _ = s.CompileFunction(f) })
		require.Same(t, code, f.Code)
	})

	t.Run("re-entrant compile panics", func(t *testing.T) {
		s, e := newTestStore()
		code := &UncompiledCode{Body: []byte{OpcodeEnd}}
		f := &FunctionInstance{Type: NewFunctionType(nil, nil), Code: code}
		e.onCompile = func(s *Store, f *FunctionInstance) { _, _ = s.CompileFunction(f) }
		require.PanicsWithValue(t, "function is already being compiled", func() { _, _ = s.CompileFunction(f) })
		require.Same(t, code, f.Code)
	})

	t.Run("host function", func(t *testing.T) {
		s, _ := newTestStore()
		h := s.NewHostFunction(NewFunctionType(nil, nil), "host.noop", func(*Store, StackWindow) error { return nil })
		_, err := s.CompileFunction(s.Function(h))
		require.EqualError(t, err, "host.noop is a host function")
	})
}

func TestStack_Guard(t *testing.T) {
	st := NewStack(16)
	g := st.Guard()
	slots := st.Reserve(10)
	require.Equal(t, 10, st.Depth())
	slots[9] = 42

	inner := st.Guard()
	require.Equal(t, 10, inner.Base())
	st.Reserve(14)
	inner.Release()
	require.Equal(t, 10, st.Depth())
	require.Equal(t, uint64(42), st.Slots()[9])

	g.Release()
	require.Zero(t, st.Depth())
}

func TestStack_Reserve(t *testing.T) {
	st := NewStack(4096)
	slots := st.Reserve(8)
	slots[7] = 1
	st.Shrink(4)
	// Reserving again zeroes slots above the previous depth.
	slots = st.Reserve(8)
	require.Zero(t, slots[7])

	// Growth keeps the live slots.
	slots[3] = 7
	slots = st.Reserve(3000)
	require.Equal(t, uint64(7), slots[3])
	require.GreaterOrEqual(t, len(st.Slots()), 3000)
}

func TestStack_Overflow(t *testing.T) {
	st := NewStack(initialStackSlots)
	st.Reserve(initialStackSlots)
	require.PanicsWithValue(t, wasmruntime.ErrRuntimeStackOverflow, func() { st.Reserve(initialStackSlots + 1) })
	require.Equal(t, initialStackSlots, st.Depth())
}

func TestStackWindow(t *testing.T) {
	st := NewStack(0)
	st.Reserve(4)
	w := NewStackWindow(st, 2)
	w.Set(1, 99)
	// Growing the slab does not invalidate the window.
	st.Reserve(5000)
	require.Equal(t, uint64(99), w.Get(1))
	require.Equal(t, uint64(99), st.Slots()[3])
}
