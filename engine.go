package stitch

import (
	"crypto/sha256"
	"errors"

	"go.uber.org/zap"

	"github.com/tetratelabs/stitch/internal/compiler"
	"github.com/tetratelabs/stitch/internal/engine/interpreter"
	"github.com/tetratelabs/stitch/internal/wasm"
	"github.com/tetratelabs/stitch/internal/wasm/binary"
)

// Engine decodes and validates modules, and runs the functions of the stores created from it.
//
// An Engine may be shared by goroutines. The Stores created from it may not.
type Engine struct {
	config  *EngineConfig
	interp  wasm.Engine
	cache   *moduleCache
	logger  *zap.Logger
	metrics *metrics
}

// NewEngine returns an engine with the defaults of NewEngineConfig.
func NewEngine() *Engine {
	e, err := NewEngineWithConfig(NewEngineConfig())
	if err != nil { // only possible with a registerer
		panic(err)
	}
	return e
}

// NewEngineWithConfig returns an engine with the given configuration. This errs when the metrics cannot be
// registered, ex. when another engine already registered them with the same registerer.
func NewEngineWithConfig(config *EngineConfig) (*Engine, error) {
	cache, err := newModuleCache(config.moduleCacheSize)
	if err != nil {
		return nil, err
	}
	m, err := newMetrics(config.registerer)
	if err != nil {
		return nil, err
	}
	l := config.logger
	if l == nil {
		l = Logger()
	}
	return &Engine{
		config:  config.clone(),
		interp:  interpreter.NewEngine(),
		cache:   cache,
		logger:  l,
		metrics: m,
	}, nil
}

// CompileModule decodes and validates a module in the binary format. Function bodies are validated when they are
// first called.
//
// The binary is copied, so the caller may reuse it. Modules decoded from identical bytes share their decoded form.
func (e *Engine) CompileModule(bin []byte) (*Module, error) {
	if bin == nil {
		return nil, errors.New("binary == nil")
	}
	key := sha256.Sum256(bin)
	if m, ok := e.cache.get(key); ok {
		e.logger.Debug("module cache hit", zap.String("module", m.ModuleName()), zap.Int("size", len(bin)))
		return newModule(e, m), nil
	}

	source := make([]byte, len(bin))
	copy(source, bin)
	m, err := binary.DecodeModule(source, e.config.enabledFeatures, e.config.memoryMaxPages)
	if err != nil {
		return nil, err
	}
	if err = m.Validate(e.config.enabledFeatures, e.config.memoryMaxPages); err != nil {
		return nil, err
	}
	e.cache.add(key, m)
	e.metrics.modulesCompiled.Inc()
	e.logger.Debug("module decoded", zap.String("module", m.ModuleName()), zap.Int("size", len(bin)),
		zap.Int("functions", len(m.FunctionSection)))
	return newModule(e, m), nil
}

// onCompile is the wasm.Store hook run after each function compiles.
func (e *Engine) onCompile(f *wasm.FunctionInstance, c *wasm.CompiledCode) {
	e.metrics.functionsCompiled.Inc()
	if ce := e.logger.Check(zap.DebugLevel, "function compiled"); ce != nil {
		ce.Write(zap.String("func", f.DebugName),
			zap.Int("ops", len(c.Body.(*compiler.Body).Ops)),
			zap.Uint32("frame_size", c.FrameSize))
	}
}

// observe records err if it is a trap, and returns it unchanged.
func (e *Engine) observe(err error) error {
	var trap *Trap
	if errors.As(err, &trap) {
		kind := trap.Kind()
		e.metrics.traps.WithLabelValues(kind).Inc()
		e.logger.Debug("trap", zap.String("kind", kind), zap.Strings("stack", trap.StackTrace))
	}
	return err
}
