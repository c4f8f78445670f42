package stitch

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/tetratelabs/stitch/internal/wasm"
)

// DefaultModuleCacheSize is the number of decoded modules an Engine keeps unless configured otherwise.
const DefaultModuleCacheSize = 32

// EngineConfig controls engine behavior, with the default implementation as NewEngineConfig
//
// Each With method returns a copy, so a config can be shared as a base of others:
//
//	base := stitch.NewEngineConfig().WithMemoryMaxPages(16)
//	small := base.WithMaxStackSlots(1 << 12)
type EngineConfig struct {
	enabledFeatures wasm.Features
	memoryMaxPages  uint32
	maxStackSlots   int
	moduleCacheSize int
	logger          *zap.Logger
	registerer      prometheus.Registerer
}

// engineConfigDefaults helps avoid copy/pasting the wrong defaults.
var engineConfigDefaults = &EngineConfig{
	enabledFeatures: wasm.FeaturesSupported,
	memoryMaxPages:  wasm.MemoryLimitPages,
	maxStackSlots:   wasm.DefaultMaxStackSlots,
	moduleCacheSize: DefaultModuleCacheSize,
}

// NewEngineConfig returns the defaults: every supported feature, 65536 memory pages, a stack of 1<<20 slots and a
// module cache of DefaultModuleCacheSize entries.
func NewEngineConfig() *EngineConfig {
	return engineConfigDefaults.clone()
}

// clone ensures all fields are copied even if nil.
func (c *EngineConfig) clone() *EngineConfig {
	ret := *c
	return &ret
}

// WithMemoryMaxPages reduces the maximum number of pages a memory can grow to from 65536 pages (4GiB) to a lower
// value.
//
// Notes:
//   - A memory which declares no max may grow up to this value.
//   - A module whose memory declares a larger min fails Engine.CompileModule.
//   - Any "memory.grow" past this value returns -1.
func (c *EngineConfig) WithMemoryMaxPages(memoryMaxPages uint32) *EngineConfig {
	ret := c.clone()
	ret.memoryMaxPages = memoryMaxPages
	return ret
}

// WithMaxStackSlots sets the ceiling of the guest stack of each Store, in 64-bit slots. Calls which need more trap
// with ErrStackOverflow. Zero or less restores the default of 1<<20.
func (c *EngineConfig) WithMaxStackSlots(maxStackSlots int) *EngineConfig {
	ret := c.clone()
	if maxStackSlots <= 0 {
		maxStackSlots = wasm.DefaultMaxStackSlots
	}
	ret.maxStackSlots = maxStackSlots
	return ret
}

// WithModuleCacheSize sets how many decoded modules Engine.CompileModule keeps, keyed by the digest of their
// binary. Zero disables the cache.
func (c *EngineConfig) WithModuleCacheSize(size int) *EngineConfig {
	ret := c.clone()
	if size < 0 {
		size = 0
	}
	ret.moduleCacheSize = size
	return ret
}

// WithLogger sets the logger of the engine. Defaults to the package Logger.
func (c *EngineConfig) WithLogger(l *zap.Logger) *EngineConfig {
	ret := c.clone()
	ret.logger = l
	return ret
}

// WithMetricsRegisterer registers the counters of the engine with reg. Without it, the counters are not exported.
func (c *EngineConfig) WithMetricsRegisterer(reg prometheus.Registerer) *EngineConfig {
	ret := c.clone()
	ret.registerer = reg
	return ret
}
