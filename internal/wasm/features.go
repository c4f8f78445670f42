package wasm

import (
	"fmt"
	"strings"
)

// Features are the currently enabled features.
//
// Note: This is a bit flag until we have too many (>64). Flags are asserted by the decoder and the compiler.
type Features uint64

const (
	// FeatureBulkMemoryOperations decides if parsing should succeed on memory.init, memory.copy, memory.fill,
	// table.init, table.copy, elem.drop and data.drop, as well as passive segments and the data count section.
	FeatureBulkMemoryOperations Features = 1 << iota
	// FeatureMultiValue decides if parsing should succeed on function and block types with more than one result.
	FeatureMultiValue
	// FeatureMutableGlobal decides if parsing should succeed on mutable globals in imports or exports.
	FeatureMutableGlobal
	// FeatureNonTrappingFloatToIntConversion decides if parsing should succeed on the *.trunc_sat_* operators.
	FeatureNonTrappingFloatToIntConversion
	// FeatureReferenceTypes decides if parsing should succeed on funcref and externref values, select t, the
	// ref.* and table.* instructions, and more than one table.
	FeatureReferenceTypes
	// FeatureSignExtensionOps decides if parsing should succeed on the *.extend*_s operators.
	FeatureSignExtensionOps
)

// Features20191205 include those finished in WebAssembly 1.0 (20191205).
const Features20191205 = FeatureMutableGlobal

// FeaturesSupported are every feature this runtime implements, and the default for new engines.
const FeaturesSupported = FeatureBulkMemoryOperations | FeatureMultiValue | FeatureMutableGlobal |
	FeatureNonTrappingFloatToIntConversion | FeatureReferenceTypes | FeatureSignExtensionOps

// Set assigns the value for the given feature.
func (f Features) Set(feature Features, val bool) Features {
	if val {
		return f | feature
	}
	return f &^ feature
}

// Get returns the value of the given feature.
func (f Features) Get(feature Features) bool {
	return f&feature != 0
}

// Require fails with a configuration error if the given feature is not enabled
func (f Features) Require(feature Features) error {
	if f&feature == 0 {
		return fmt.Errorf("feature %q is disabled", feature)
	}
	return nil
}

// String implements fmt.Stringer by returning each enabled feature.
func (f Features) String() string {
	var builder strings.Builder
	for i := 0; i <= 63; i++ {
		target := Features(1 << i)
		if f.Get(target) {
			if name := featureName(target); name != "" {
				if builder.Len() > 0 {
					builder.WriteByte('|')
				}
				builder.WriteString(name)
			}
		}
	}
	return builder.String()
}

func featureName(f Features) string {
	switch f {
	case FeatureBulkMemoryOperations:
		return "bulk-memory-operations"
	case FeatureMultiValue:
		return "multi-value"
	case FeatureMutableGlobal:
		return "mutable-global"
	case FeatureNonTrappingFloatToIntConversion:
		return "nontrapping-float-to-int-conversion"
	case FeatureReferenceTypes:
		return "reference-types"
	case FeatureSignExtensionOps:
		return "sign-extension-ops"
	}
	return ""
}
