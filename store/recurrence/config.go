package recurrence

import (
	"time"
)

// ExpandConfig holds configuration options for the expansion engine
type ExpandConfig struct {
	// Cache configuration
	CacheEnabled bool
	CacheConfig  CacheConfig

	// MaxScan bounds the occurrences examined per series by open-ended
	// queries such as the next occurrence after a point in time.
	MaxScan int
}

// DefaultExpandConfig provides sensible defaults for production use
var DefaultExpandConfig = ExpandConfig{
	CacheEnabled: true,
	CacheConfig:  DefaultCacheConfig,
	MaxScan:      10000,
}

// LowMemoryConfig is optimized for memory-constrained environments
var LowMemoryConfig = ExpandConfig{
	CacheEnabled: true,
	CacheConfig: CacheConfig{
		TTL:        5 * time.Minute,
		MaxEntries: 100,
	},
	MaxScan: 5000,
}

// DisabledCacheConfig turns off caching entirely
var DisabledCacheConfig = ExpandConfig{
	CacheEnabled: false,
	MaxScan:      10000,
}
