package stitch

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/tetratelabs/stitch/internal/testing/binaryencoding"
	"github.com/tetratelabs/stitch/internal/wasm"
)

// constModule exports "get" returning v, so modules of different v have different bytes.
func constModule(v byte) *wasm.Module {
	return &wasm.Module{
		TypeSection:     []*wasm.FunctionType{v_i32},
		FunctionSection: []wasm.Index{0},
		CodeSection:     []*wasm.Code{{Body: []byte{wasm.OpcodeI32Const, v, wasm.OpcodeEnd}}},
		ExportSection:   []*wasm.Export{{Type: wasm.ExternTypeFunc, Name: "get", Index: 0}},
	}
}

func TestEngineConfig(t *testing.T) {
	base := NewEngineConfig()
	small := base.WithMemoryMaxPages(16)
	require.Equal(t, wasm.MemoryLimitPages, base.memoryMaxPages)
	require.Equal(t, uint32(16), small.memoryMaxPages)

	tests := []struct {
		name     string
		input    *EngineConfig
		expected *EngineConfig
	}{
		{
			name:     "defaults",
			input:    NewEngineConfig(),
			expected: engineConfigDefaults,
		},
		{
			name:  "WithMaxStackSlots",
			input: NewEngineConfig().WithMaxStackSlots(100),
			expected: &EngineConfig{
				enabledFeatures: wasm.FeaturesSupported,
				memoryMaxPages:  wasm.MemoryLimitPages,
				maxStackSlots:   100,
				moduleCacheSize: DefaultModuleCacheSize,
			},
		},
		{
			name:     "WithMaxStackSlots zero is default",
			input:    NewEngineConfig().WithMaxStackSlots(100).WithMaxStackSlots(0),
			expected: engineConfigDefaults,
		},
		{
			name:  "WithModuleCacheSize negative disables",
			input: NewEngineConfig().WithModuleCacheSize(-1),
			expected: &EngineConfig{
				enabledFeatures: wasm.FeaturesSupported,
				memoryMaxPages:  wasm.MemoryLimitPages,
				maxStackSlots:   wasm.DefaultMaxStackSlots,
			},
		},
	}
	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, tc.input)
		})
	}
}

func TestCompileModule_Errors(t *testing.T) {
	e := NewEngine()

	_, err := e.CompileModule(nil)
	require.EqualError(t, err, "binary == nil")

	_, err = e.CompileModule([]byte{0x00, 0x61, 0x73})
	var derr *DecodeError
	require.True(t, errors.As(err, &derr), "%v", err)

	bin := binaryencoding.EncodeModule(&wasm.Module{
		MemorySection: []*wasm.MemoryType{{Min: 1}, {Min: 1}},
	})
	_, err = e.CompileModule(bin)
	var verr *ValidateError
	require.True(t, errors.As(err, &verr), "%v", err)
	require.Empty(t, verr.Func)
}

func TestCompileModule_Cache(t *testing.T) {
	t.Run("hit", func(t *testing.T) {
		e := NewEngine()
		bin := binaryencoding.EncodeModule(constModule(5))
		m1, err := e.CompileModule(bin)
		require.NoError(t, err)
		m2, err := e.CompileModule(bin)
		require.NoError(t, err)
		require.Same(t, m1.m, m2.m)
		require.Equal(t, 1, e.cache.len())
		require.Equal(t, 1.0, testutil.ToFloat64(e.metrics.modulesCompiled))
	})

	t.Run("disabled", func(t *testing.T) {
		e, err := NewEngineWithConfig(NewEngineConfig().WithModuleCacheSize(0))
		require.NoError(t, err)
		bin := binaryencoding.EncodeModule(constModule(5))
		m1, err := e.CompileModule(bin)
		require.NoError(t, err)
		m2, err := e.CompileModule(bin)
		require.NoError(t, err)
		require.NotSame(t, m1.m, m2.m)
		require.Zero(t, e.cache.len())
		require.Equal(t, 2.0, testutil.ToFloat64(e.metrics.modulesCompiled))
	})

	t.Run("evicts least recently used", func(t *testing.T) {
		e, err := NewEngineWithConfig(NewEngineConfig().WithModuleCacheSize(1))
		require.NoError(t, err)
		for _, v := range []byte{1, 2, 1} {
			_, err := e.CompileModule(binaryencoding.EncodeModule(constModule(v)))
			require.NoError(t, err)
		}
		require.Equal(t, 1, e.cache.len())
		require.Equal(t, 3.0, testutil.ToFloat64(e.metrics.modulesCompiled))
	})

	t.Run("input is copied", func(t *testing.T) {
		e := NewEngine()
		bin := binaryencoding.EncodeModule(constModule(9))
		mod, err := e.CompileModule(bin)
		require.NoError(t, err)
		for i := range bin {
			bin[i] = 0
		}

		store := NewStore(e)
		inst, err := mod.Instantiate(store, nil)
		require.NoError(t, err)
		f, _ := inst.Func("get")
		require.Equal(t, ValI32(9), call1(t, store, f))
	})
}

func TestModule_Name(t *testing.T) {
	m := constModule(1)
	m.NameSection = &wasm.NameSection{ModuleName: "math"}
	e := NewEngine()
	mod := compileModule(t, e, m)
	require.Equal(t, "math", mod.Name())

	store := NewStore(e)
	inst, err := mod.Instantiate(store, nil)
	require.NoError(t, err)
	f, _ := inst.Func("get")
	require.Equal(t, "math.get", f.Name(store))
}

func TestInstantiate_OtherEngine(t *testing.T) {
	mod := compileModule(t, NewEngine(), constModule(1))
	_, err := mod.Instantiate(NewStore(NewEngine()), nil)
	require.EqualError(t, err, "module of another engine")
}

func TestEngine_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	e, err := NewEngineWithConfig(NewEngineConfig().WithMetricsRegisterer(reg))
	require.NoError(t, err)

	store := NewStore(e)
	inst := instantiateModule(t, store, &wasm.Module{
		TypeSection:     []*wasm.FunctionType{v_i32},
		FunctionSection: []wasm.Index{0, 0},
		CodeSection: []*wasm.Code{
			{Body: []byte{wasm.OpcodeI32Const, 1, wasm.OpcodeI32Const, 0, wasm.OpcodeI32DivU, wasm.OpcodeEnd}},
			{Body: []byte{wasm.OpcodeUnreachable, wasm.OpcodeEnd}},
		},
		ExportSection: []*wasm.Export{
			{Type: wasm.ExternTypeFunc, Name: "div", Index: 0},
			{Type: wasm.ExternTypeFunc, Name: "unreachable", Index: 1},
		},
	}, nil)
	for i := 0; i < 2; i++ {
		require.Error(t, exportedFunc(t, inst, "div").Call(store, nil, make([]Val, 1)))
	}
	require.Error(t, exportedFunc(t, inst, "unreachable").Call(store, nil, make([]Val, 1)))

	require.Equal(t, 1.0, testutil.ToFloat64(e.metrics.modulesCompiled))
	require.Equal(t, 1.0, testutil.ToFloat64(e.metrics.instancesCreated))
	require.Equal(t, 2.0, testutil.ToFloat64(e.metrics.functionsCompiled))
	require.Equal(t, 2.0, testutil.ToFloat64(e.metrics.traps.WithLabelValues("integer divide by zero")))
	require.Equal(t, 1.0, testutil.ToFloat64(e.metrics.traps.WithLabelValues("unreachable")))

	count, err := testutil.GatherAndCount(reg, "stitch_traps_total", "stitch_modules_compiled_total")
	require.NoError(t, err)
	require.Equal(t, 3, count)

	// the counters of one engine per registerer
	_, err = NewEngineWithConfig(NewEngineConfig().WithMetricsRegisterer(reg))
	var are prometheus.AlreadyRegisteredError
	require.True(t, errors.As(err, &are), "%v", err)
}

func TestEngine_Logger(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	e, err := NewEngineWithConfig(NewEngineConfig().WithLogger(zap.New(core)))
	require.NoError(t, err)

	store := NewStore(e)
	bin := binaryencoding.EncodeModule(constModule(3))
	_, err = e.CompileModule(bin)
	require.NoError(t, err)
	mod, err := e.CompileModule(bin)
	require.NoError(t, err)
	inst, err := mod.Instantiate(store, nil)
	require.NoError(t, err)
	require.Equal(t, ValI32(3), call1(t, store, exportedFunc(t, inst, "get")))

	require.Equal(t, 1, logs.FilterMessage("module decoded").Len())
	require.Equal(t, 1, logs.FilterMessage("module cache hit").Len())
	require.Equal(t, 1, logs.FilterMessage("module instantiated").Len())

	compiled := logs.FilterMessage("function compiled").All()
	require.Equal(t, 1, len(compiled))
	fields := compiled[0].ContextMap()
	require.Equal(t, "get", fields["func"])
	require.Equal(t, int64(2), fields["ops"])
	require.Equal(t, uint32(6), fields["frame_size"])
}

func TestLogger(t *testing.T) {
	defer SetLogger(nil)

	core, logs := observer.New(zap.DebugLevel)
	SetLogger(zap.New(core))
	e := NewEngine()
	_, err := e.CompileModule(binaryencoding.EncodeModule(constModule(1)))
	require.NoError(t, err)
	require.Equal(t, 1, logs.FilterMessage("module decoded").Len())

	SetLogger(nil)
	require.NotNil(t, Logger())
}
